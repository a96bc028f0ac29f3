package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procurement-approval/internal/application/dispatcher"
	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/application/service"
	appworkflow "github.com/garyjia/procurement-approval/internal/application/workflow"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/testinfra"
)

type sentMessage struct {
	userID int64
	msg    port.Message
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[int64]bool
}

func (n *recordingNotifier) Notify(ctx context.Context, recipient *entity.User, msg port.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.failFor[recipient.ID] {
		return errors.New("bot not in chat")
	}
	n.sent = append(n.sent, sentMessage{userID: recipient.ID, msg: msg})
	return nil
}

func (n *recordingNotifier) recipients() []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]int64, len(n.sent))
	for i, s := range n.sent {
		ids[i] = s.userID
	}
	return ids
}

func newNotifications(s *testinfra.Stack, n port.Notifier) service.NotificationService {
	return service.NewNotificationService(
		s.Records, s.Runs, s.Reminders, s.Users, s.Definitions, s.Projector,
		n, "https://procure.example.com", testinfra.NopLogger{},
	)
}

func TestNotifyOnStepActivationAndDelegation(t *testing.T) {
	ctx := context.Background()
	d := dispatcher.NewDispatcher()
	s := testinfra.NewStack(t, appworkflow.WithDispatcher(d))
	manager := s.AddUser(t, "Dana", "DEPT_MANAGER")
	manager2 := s.AddUser(t, "Lee", "DEPT_MANAGER")
	deputy := s.AddUser(t, "Alex", "ANALYST")
	s.AddUser(t, "Sam", "FINANCE_DIR")

	notifier := &recordingNotifier{}
	newNotifications(s, notifier).Subscribe(d)

	wf := testinfra.Sequential("Single", [2]string{"Dept Review", "DEPT_MANAGER"})
	wf.Steps[0].AllowDelegation = true
	s.AddWorkflow(t, wf)
	ref := s.AddEntity(t, entity.EntityTypeEOI, "Cleaning", 150)

	res, err := s.Engine.Start(ctx, ref, nil)
	require.NoError(t, err)
	_, err = s.Engine.Delegate(ctx, res.Records[0].ID, manager, deputy.ID)
	require.NoError(t, err)
	require.NoError(t, d.Close())

	assert.ElementsMatch(t, []int64{manager.ID, manager2.ID, deputy.ID}, notifier.recipients())
	for _, sent := range notifier.sent {
		assert.Contains(t, sent.msg.Body, `"Cleaning"`)
		assert.Contains(t, sent.msg.Body, "Dept Review")
		assert.Equal(t, "https://procure.example.com/approvals/1", sent.msg.Link)
	}
}

func TestNotifyContinuesPastFailedRecipient(t *testing.T) {
	ctx := context.Background()
	s := testinfra.NewStack(t)
	manager := s.AddUser(t, "Dana", "DEPT_MANAGER")
	manager2 := s.AddUser(t, "Lee", "DEPT_MANAGER")

	s.AddWorkflow(t, testinfra.Sequential("Single", [2]string{"Dept Review", "DEPT_MANAGER"}))
	ref := s.AddEntity(t, entity.EntityTypeEOI, "Cleaning", 150)
	res, err := s.Engine.Start(ctx, ref, nil)
	require.NoError(t, err)

	notifier := &recordingNotifier{failFor: map[int64]bool{manager.ID: true}}
	svc := newNotifications(s, notifier)

	n, err := svc.RemindPending(ctx, time.Now().Add(time.Minute), 10)
	assert.Error(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, []int64{manager2.ID}, notifier.recipients())

	_, err = s.Reminders.Get(ctx, res.Records[0].ID)
	assert.Error(t, err, "a failed reminder is not recorded as sent")

	attempt, err := s.Reminders.LastAttempt(ctx, res.Records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, attempt.Failures)
	require.NotNil(t, attempt.LastError)
	assert.Contains(t, *attempt.LastError, "bot not in chat")

	// still due, so the next pass retries it
	_, err = svc.RemindPending(ctx, time.Now().Add(time.Minute), 10)
	assert.Error(t, err)
	attempt, err = s.Reminders.LastAttempt(ctx, res.Records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, attempt.Failures)
}

func TestFailingReminderDoesNotStarveOthers(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-2 * time.Hour)
	s := testinfra.NewStack(t, appworkflow.WithClock(func() time.Time { return past }))
	manager := s.AddUser(t, "Dana", "DEPT_MANAGER")
	s.AddUser(t, "Sam", "FINANCE_DIR")

	dept := s.AddWorkflow(t, testinfra.Sequential("Dept", [2]string{"Dept Review", "DEPT_MANAGER"}))
	first, err := s.Engine.Start(ctx, s.AddEntity(t, entity.EntityTypeEOI, "Unreachable", 10), nil)
	require.NoError(t, err)

	notifier := &recordingNotifier{failFor: map[int64]bool{manager.ID: true}}
	svc := newNotifications(s, notifier)
	cutoff := time.Now().Add(-time.Hour)

	_, err = svc.RemindPending(ctx, cutoff, 1)
	assert.Error(t, err)

	s.AddWorkflow(t, testinfra.Sequential("Finance", [2]string{"Finance", "FINANCE_DIR"}))
	require.NoError(t, s.Definitions.SetActive(ctx, dept.ID, false))
	second, err := s.Engine.Start(ctx, s.AddEntity(t, entity.EntityTypeRequisition, "Reachable", 10), nil)
	require.NoError(t, err)

	n, err := svc.RemindPending(ctx, cutoff, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = s.Reminders.Get(ctx, second.Records[0].ID)
	assert.NoError(t, err)
	_, err = s.Reminders.Get(ctx, first.Records[0].ID)
	assert.Error(t, err)
}

func TestRemindPending(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-2 * time.Hour)
	s := testinfra.NewStack(t, appworkflow.WithClock(func() time.Time { return past }))
	manager := s.AddUser(t, "Dana", "DEPT_MANAGER")

	s.AddWorkflow(t, testinfra.Sequential("Two step",
		[2]string{"Dept Review", "DEPT_MANAGER"},
		[2]string{"Finance", "FINANCE_DIR"},
	))
	stale := s.AddEntity(t, entity.EntityTypeEOI, "Stale", 10)
	res, err := s.Engine.Start(ctx, stale, nil)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	svc := newNotifications(s, notifier)
	cutoff := time.Now().Add(-time.Hour)

	n, err := svc.RemindPending(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []int64{manager.ID}, notifier.recipients())
	assert.Equal(t, "Reminder: approval pending", notifier.sent[0].msg.Title)

	reminder, err := s.Reminders.Get(ctx, res.Records[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 1, reminder.SentCount)

	// reminded after the cutoff, so not again
	n, err = svc.RemindPending(ctx, cutoff, 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// resolved runs drop out
	_, err = s.Engine.Reject(ctx, res.Records[0].ID, manager, strPtr("no"))
	require.NoError(t, err)
	n, err = svc.RemindPending(ctx, time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}
