package port

import (
	"context"

	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

// EntityHandle is a loaded governed entity whose approval fields can be rewritten
type EntityHandle interface {
	Ref() entity.EntityRef
	Summary() *entity.EntitySummary
	SetStatus(status entity.EntityStatus)
	SetCurrentStep(step *string)
	Save(ctx context.Context) error
}

// EntityStore loads governed entities of one type
type EntityStore interface {
	Type() entity.EntityType
	Load(ctx context.Context, id int64) (EntityHandle, error)
}

// EntityProjector writes approval outcomes onto governed entities and reads their summaries
type EntityProjector interface {
	// Project sets the entity's status and current step label. Failures are
	// returned as *workflow.ProjectionError.
	Project(ctx context.Context, ref entity.EntityRef, status entity.EntityStatus, currentStep *string) error

	// Summary returns the display view of the entity
	Summary(ctx context.Context, ref entity.EntityRef) (*entity.EntitySummary, error)
}

// Message is a notification addressed to one user
type Message struct {
	Title string
	Body  string
	Link  string
}

// Notifier delivers messages to approvers
type Notifier interface {
	Notify(ctx context.Context, recipient *entity.User, msg Message) error
}
