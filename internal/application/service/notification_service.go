package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/garyjia/procurement-approval/internal/application/dispatcher"
	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/event"
)

// NotificationService tells approvers when a record starts waiting on them
type NotificationService interface {
	// Subscribe registers the event handlers on d
	Subscribe(d dispatcher.Dispatcher)

	HandleStepActivated(ctx context.Context, evt *event.Event) error
	HandleDelegated(ctx context.Context, evt *event.Event) error

	// RemindPending re-notifies approvers of records created before cutoff
	// and not reminded since. It returns the number of records reminded.
	RemindPending(ctx context.Context, cutoff time.Time, limit int) (int, error)
}

type notificationServiceImpl struct {
	records     port.ApprovalRecordRepository
	runs        port.ApprovalRunRepository
	reminders   port.ReminderRepository
	directory   port.UserDirectory
	definitions port.WorkflowReader
	projector   port.EntityProjector
	notifier    port.Notifier
	linkBase    string
	logger      Logger
}

// NewNotificationService creates a new NotificationService. linkBase prefixes
// record links in messages and may be empty.
func NewNotificationService(
	records port.ApprovalRecordRepository,
	runs port.ApprovalRunRepository,
	reminders port.ReminderRepository,
	directory port.UserDirectory,
	definitions port.WorkflowReader,
	projector port.EntityProjector,
	notifier port.Notifier,
	linkBase string,
	logger Logger,
) NotificationService {
	return &notificationServiceImpl{
		records:     records,
		runs:        runs,
		reminders:   reminders,
		directory:   directory,
		definitions: definitions,
		projector:   projector,
		notifier:    notifier,
		linkBase:    linkBase,
		logger:      logger,
	}
}

func (s *notificationServiceImpl) Subscribe(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeStepActivated, "notify_step_activated", s.HandleStepActivated)
	d.SubscribeNamed(event.TypeDelegated, "notify_delegate", s.HandleDelegated)
}

// HandleStepActivated notifies every holder of the step's role
func (s *notificationServiceImpl) HandleStepActivated(ctx context.Context, evt *event.Event) error {
	role := evt.GetPayloadString(event.KeyApproverRole)
	users, err := s.directory.UsersWithRole(ctx, role)
	if err != nil {
		return fmt.Errorf("list users with role %s: %w", role, err)
	}

	msg := s.message(ctx, evt.Ref(), evt.RecordID,
		"Approval required",
		fmt.Sprintf("Step %q is waiting for your decision.", evt.GetPayloadString(event.KeyStepName)))
	return s.send(ctx, users, msg, evt.RecordID)
}

// HandleDelegated notifies the new delegate
func (s *notificationServiceImpl) HandleDelegated(ctx context.Context, evt *event.Event) error {
	delegateID := evt.GetPayloadInt(event.KeyDelegateTo)
	delegate, err := s.directory.GetUser(ctx, delegateID)
	if err != nil {
		return fmt.Errorf("load delegate %d: %w", delegateID, err)
	}

	msg := s.message(ctx, evt.Ref(), evt.RecordID,
		"Approval delegated to you",
		fmt.Sprintf("You may now decide step %q.", evt.GetPayloadString(event.KeyStepName)))
	return s.send(ctx, []*entity.User{delegate}, msg, evt.RecordID)
}

func (s *notificationServiceImpl) RemindPending(ctx context.Context, cutoff time.Time, limit int) (int, error) {
	stale, err := s.records.ListStalePending(ctx, cutoff, limit)
	if err != nil {
		return 0, fmt.Errorf("list stale approvals: %w", err)
	}

	reminded := 0
	var errs []error
	for _, rec := range stale {
		if err := s.remind(ctx, rec); err != nil {
			s.logger.Error("Failed to send reminder", "record_id", rec.ID, "error", err)
			errs = append(errs, err)
			if markErr := s.reminders.MarkFailed(ctx, rec.ID, time.Now(), err); markErr != nil {
				errs = append(errs, markErr)
			}
			continue
		}
		reminded++
	}

	if reminded > 0 {
		s.logger.Info("Approval reminders sent", "count", reminded, "candidates", len(stale))
	}
	return reminded, errors.Join(errs...)
}

func (s *notificationServiceImpl) remind(ctx context.Context, rec *entity.ApprovalRecord) error {
	run, err := s.runs.GetByID(ctx, rec.RunID)
	if err != nil {
		return err
	}
	wf, err := s.definitions.GetWorkflow(ctx, run.WorkflowID)
	if err != nil {
		return err
	}
	step, ok := wf.StepByID(rec.StepID)
	if !ok {
		return fmt.Errorf("record %d references unknown step %d", rec.ID, rec.StepID)
	}

	recipients, err := s.directory.UsersWithRole(ctx, step.ApproverRole)
	if err != nil {
		return err
	}
	if rec.DelegateTo != nil {
		delegate, err := s.directory.GetUser(ctx, *rec.DelegateTo)
		if err != nil {
			return err
		}
		recipients = append(recipients, delegate)
	}

	msg := s.message(ctx, rec.Ref(), rec.ID,
		"Reminder: approval pending",
		fmt.Sprintf("Step %q has been waiting since %s.", step.StepName, rec.CreatedAt.Format(time.RFC1123)))
	if err := s.send(ctx, recipients, msg, rec.ID); err != nil {
		return err
	}
	return s.reminders.MarkSent(ctx, rec.ID, time.Now())
}

// message builds the text shared by all notifications about one record
func (s *notificationServiceImpl) message(ctx context.Context, ref entity.EntityRef, recordID int64, title, body string) port.Message {
	subject := ref.String()
	if summary, err := s.projector.Summary(ctx, ref); err == nil {
		subject = fmt.Sprintf("%s %q (budget %.2f)", ref.Type, summary.Title, summary.Budget)
	}

	msg := port.Message{
		Title: title,
		Body:  fmt.Sprintf("%s\n%s", subject, body),
	}
	if s.linkBase != "" {
		msg.Link = fmt.Sprintf("%s/approvals/%d", s.linkBase, recordID)
	}
	return msg
}

// send delivers msg to each distinct user; one failed recipient does not stop the rest
func (s *notificationServiceImpl) send(ctx context.Context, users []*entity.User, msg port.Message, recordID int64) error {
	seen := make(map[int64]bool, len(users))
	var errs []error
	for _, u := range users {
		if seen[u.ID] {
			continue
		}
		seen[u.ID] = true

		if err := s.notifier.Notify(ctx, u, msg); err != nil {
			s.logger.Error("Failed to notify approver", "user_id", u.ID, "record_id", recordID, "error", err)
			errs = append(errs, fmt.Errorf("notify user %d: %w", u.ID, err))
		}
	}

	s.logger.Info("Approvers notified", "record_id", recordID, "recipients", len(seen), "title", msg.Title)
	return errors.Join(errs...)
}
