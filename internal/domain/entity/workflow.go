package entity

import (
	"fmt"
	"sort"
	"time"
)

// WorkflowDefinition is a named approval workflow applicable to entities whose
// value falls within [MinAmount, MaxAmount]. A nil bound is open-ended.
type WorkflowDefinition struct {
	ID        int64            `json:"id"`
	Name      string           `json:"name"`
	Type      WorkflowType     `json:"type"`
	IsActive  bool             `json:"is_active"`
	MinAmount *float64         `json:"min_amount,omitempty"`
	MaxAmount *float64         `json:"max_amount,omitempty"`
	Steps     []StepDefinition `json:"steps"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// StepDefinition is one approval step of a workflow.
// IsMandatory only matters for parallel workflows.
type StepDefinition struct {
	ID              int64  `json:"id"`
	WorkflowID      int64  `json:"workflow_id"`
	StepNumber      int    `json:"step_number"`
	StepName        string `json:"step_name"`
	ApproverRole    string `json:"approver_role"`
	IsMandatory     bool   `json:"is_mandatory"`
	AllowDelegation bool   `json:"allow_delegation"`
}

// Covers reports whether amount falls inside the workflow's amount range.
func (w *WorkflowDefinition) Covers(amount float64) bool {
	if w.MinAmount != nil && amount < *w.MinAmount {
		return false
	}
	if w.MaxAmount != nil && amount > *w.MaxAmount {
		return false
	}
	return true
}

// StepByID returns the step with the given ID.
func (w *WorkflowDefinition) StepByID(stepID int64) (*StepDefinition, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// FirstStep returns the step with the lowest step number.
func (w *WorkflowDefinition) FirstStep() (*StepDefinition, bool) {
	var first *StepDefinition
	for i := range w.Steps {
		if first == nil || w.Steps[i].StepNumber < first.StepNumber {
			first = &w.Steps[i]
		}
	}
	return first, first != nil
}

// NextStep returns the step with the smallest step number greater than current.
func (w *WorkflowDefinition) NextStep(current int) (*StepDefinition, bool) {
	var next *StepDefinition
	for i := range w.Steps {
		s := &w.Steps[i]
		if s.StepNumber <= current {
			continue
		}
		if next == nil || s.StepNumber < next.StepNumber {
			next = s
		}
	}
	return next, next != nil
}

// MandatoryStepCount returns the number of mandatory steps.
func (w *WorkflowDefinition) MandatoryStepCount() int {
	n := 0
	for _, s := range w.Steps {
		if s.IsMandatory {
			n++
		}
	}
	return n
}

// Clone returns a deep copy so cached definitions are never shared mutably.
func (w *WorkflowDefinition) Clone() *WorkflowDefinition {
	if w == nil {
		return nil
	}
	c := *w
	if w.MinAmount != nil {
		v := *w.MinAmount
		c.MinAmount = &v
	}
	if w.MaxAmount != nil {
		v := *w.MaxAmount
		c.MaxAmount = &v
	}
	c.Steps = append([]StepDefinition(nil), w.Steps...)
	return &c
}

// Validate checks the definition before it is stored. Step numbers must be
// dense and strictly increasing from 1; Steps is sorted in place.
func (w *WorkflowDefinition) Validate() error {
	if w.Name == "" {
		return fmt.Errorf("workflow name is required")
	}
	if !w.Type.IsValid() {
		return fmt.Errorf("invalid workflow type: %q", w.Type)
	}
	if w.MinAmount != nil && w.MaxAmount != nil && *w.MinAmount > *w.MaxAmount {
		return fmt.Errorf("min_amount %.2f exceeds max_amount %.2f", *w.MinAmount, *w.MaxAmount)
	}
	if len(w.Steps) == 0 {
		return fmt.Errorf("workflow %q has no steps", w.Name)
	}

	sort.SliceStable(w.Steps, func(i, j int) bool {
		return w.Steps[i].StepNumber < w.Steps[j].StepNumber
	})
	for i, s := range w.Steps {
		if s.StepNumber != i+1 {
			return fmt.Errorf("workflow %q: step numbers must be dense from 1, got %d at position %d", w.Name, s.StepNumber, i+1)
		}
		if s.StepName == "" {
			return fmt.Errorf("workflow %q: step %d has no name", w.Name, s.StepNumber)
		}
		if s.ApproverRole == "" {
			return fmt.Errorf("workflow %q: step %d has no approver role", w.Name, s.StepNumber)
		}
	}

	if w.Type == WorkflowTypeParallel && w.MandatoryStepCount() == 0 {
		return fmt.Errorf("parallel workflow %q needs at least one mandatory step", w.Name)
	}
	return nil
}
