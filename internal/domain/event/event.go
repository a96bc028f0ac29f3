package event

import (
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/procurement-approval/internal/domain/entity"
)

// Payload keys shared by publishers and subscribers
const (
	KeyStepID       = "step_id"
	KeyStepName     = "step_name"
	KeyApproverRole = "approver_role"
	KeyActorID      = "actor_id"
	KeyDelegateTo   = "delegate_to"
	KeyComments     = "comments"
	KeyOutcome      = "outcome"
	KeyWorkflowID   = "workflow_id"
)

// Event is an approval fact published after its transaction has committed
type Event struct {
	ID            string                 `json:"id"`
	Type          Type                   `json:"type"`
	RecordID      int64                  `json:"record_id,omitempty"`
	RunID         int64                  `json:"run_id"`
	EntityType    entity.EntityType      `json:"entity_type"`
	EntityID      int64                  `json:"entity_id"`
	Payload       map[string]interface{} `json:"payload"`
	Timestamp     time.Time              `json:"timestamp"`
	CorrelationID string                 `json:"correlation_id"`
}

// NewEvent creates a new domain event with auto-generated ID and timestamp
func NewEvent(eventType Type, runID, recordID int64, ref entity.EntityRef, payload map[string]interface{}) *Event {
	return NewEventWithCorrelation(eventType, runID, recordID, ref, payload, uuid.NewString())
}

// NewEventWithCorrelation creates an event linked to a correlation chain, so
// every event produced by one engine call can be traced together.
func NewEventWithCorrelation(eventType Type, runID, recordID int64, ref entity.EntityRef, payload map[string]interface{}, correlationID string) *Event {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		RecordID:      recordID,
		RunID:         runID,
		EntityType:    ref.Type,
		EntityID:      ref.ID,
		Payload:       payload,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
	}
}

// Ref returns the governed entity the event is about
func (e *Event) Ref() entity.EntityRef {
	return entity.EntityRef{Type: e.EntityType, ID: e.EntityID}
}

// WithPayload returns a new Event with an added payload key-value pair (immutable operation)
func (e *Event) WithPayload(key string, value interface{}) *Event {
	newPayload := make(map[string]interface{}, len(e.Payload)+1)
	for k, v := range e.Payload {
		newPayload[k] = v
	}
	newPayload[key] = value

	c := *e
	c.Payload = newPayload
	return &c
}

// GetPayloadString retrieves a string value from the payload
func (e *Event) GetPayloadString(key string) string {
	if val, ok := e.Payload[key]; ok {
		if str, ok := val.(string); ok {
			return str
		}
	}
	return ""
}

// GetPayloadInt retrieves an int64 value from the payload
func (e *Event) GetPayloadInt(key string) int64 {
	if val, ok := e.Payload[key]; ok {
		switch v := val.(type) {
		case int64:
			return v
		case int:
			return int64(v)
		case float64:
			return int64(v)
		}
	}
	return 0
}
