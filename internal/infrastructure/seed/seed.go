// Package seed loads users, workflow definitions and sample entities from YAML.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/garyjia/procurement-approval/internal/application/port"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/workflow"
)

// File is the root of a seed document
type File struct {
	Users     []User     `yaml:"users"`
	Workflows []Workflow `yaml:"workflows"`
	Entities  []Entity   `yaml:"entities"`
}

// User is a directory entry. IDs are explicit so X-User-ID values stay stable.
type User struct {
	ID         int64  `yaml:"id"`
	Name       string `yaml:"name"`
	Role       string `yaml:"role"`
	LarkOpenID string `yaml:"lark_open_id"`
}

// Workflow is a workflow definition with its steps in order
type Workflow struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"`
	Active    *bool    `yaml:"active"`
	MinAmount *float64 `yaml:"min_amount"`
	MaxAmount *float64 `yaml:"max_amount"`
	Steps     []Step   `yaml:"steps"`
}

// Step is one approval step; Mandatory defaults to true
type Step struct {
	Name            string `yaml:"name"`
	Role            string `yaml:"role"`
	Mandatory       *bool  `yaml:"mandatory"`
	AllowDelegation bool   `yaml:"allow_delegation"`
}

// Entity is a governed entity created in pending state
type Entity struct {
	Type     string  `yaml:"type"`
	Title    string  `yaml:"title"`
	Budget   float64 `yaml:"budget"`
	Deadline string  `yaml:"deadline"`
}

// EntityCreator stores governed entities of one type
type EntityCreator interface {
	Type() entity.EntityType
	Count(ctx context.Context) (int, error)
	Create(ctx context.Context, s *entity.EntitySummary) error
}

// WorkflowRegistrar registers workflow definitions
type WorkflowRegistrar interface {
	List(ctx context.Context) ([]*entity.WorkflowDefinition, error)
	Register(ctx context.Context, wf *entity.WorkflowDefinition) error
}

// Result counts what a Load created
type Result struct {
	Users     int
	Workflows int
	Entities  int
}

// Loader applies seed files. Loading twice is harmless: users are upserted by
// ID, workflows are skipped by name and entities are only added to empty tables.
type Loader struct {
	users     port.UserDirectory
	workflows WorkflowRegistrar
	entities  map[entity.EntityType]EntityCreator
	logger    *zap.Logger
}

// NewLoader creates a Loader
func NewLoader(users port.UserDirectory, workflows WorkflowRegistrar, logger *zap.Logger, entities ...EntityCreator) *Loader {
	l := &Loader{
		users:     users,
		workflows: workflows,
		entities:  make(map[entity.EntityType]EntityCreator, len(entities)),
		logger:    logger,
	}
	for _, e := range entities {
		l.entities[e.Type()] = e
	}
	return l
}

// Parse decodes a seed document, rejecting unknown fields
func Parse(r io.Reader) (*File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return &f, nil
		}
		return nil, fmt.Errorf("failed to parse seed file: %w", err)
	}
	return &f, nil
}

// LoadFile parses and applies the seed file at path
func (l *Loader) LoadFile(ctx context.Context, path string) (*Result, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open seed file: %w", err)
	}
	defer fh.Close()

	f, err := Parse(fh)
	if err != nil {
		return nil, err
	}
	return l.Load(ctx, f)
}

// Load applies f
func (l *Loader) Load(ctx context.Context, f *File) (*Result, error) {
	res := &Result{}

	for _, u := range f.Users {
		user := &entity.User{ID: u.ID, Name: u.Name, Role: u.Role, LarkOpenID: u.LarkOpenID}
		if err := l.users.Upsert(ctx, user); err != nil {
			return res, fmt.Errorf("seed user %q: %w", u.Name, err)
		}
		res.Users++
	}

	existing, err := l.workflows.List(ctx)
	if err != nil {
		return res, err
	}
	names := make(map[string]bool, len(existing))
	for _, wf := range existing {
		names[wf.Name] = true
	}
	for _, w := range f.Workflows {
		if names[w.Name] {
			continue
		}
		if err := l.workflows.Register(ctx, w.definition()); err != nil {
			return res, fmt.Errorf("seed workflow %q: %w", w.Name, err)
		}
		names[w.Name] = true
		res.Workflows++
	}

	n, err := l.loadEntities(ctx, f.Entities)
	res.Entities = n
	if err != nil {
		return res, err
	}

	l.logger.Info("Seed data loaded",
		zap.Int("users", res.Users),
		zap.Int("workflows", res.Workflows),
		zap.Int("entities", res.Entities))
	return res, nil
}

func (l *Loader) loadEntities(ctx context.Context, entities []Entity) (int, error) {
	empty := make(map[entity.EntityType]bool)
	created := 0
	for _, e := range entities {
		store, ok := l.entities[entity.EntityType(e.Type)]
		if !ok {
			return created, fmt.Errorf("seed entity %q: type %q: %w", e.Title, e.Type, workflow.ErrNotFound)
		}

		isEmpty, checked := empty[store.Type()]
		if !checked {
			count, err := store.Count(ctx)
			if err != nil {
				return created, err
			}
			isEmpty = count == 0
			empty[store.Type()] = isEmpty
		}
		if !isEmpty {
			continue
		}

		summary := &entity.EntitySummary{Title: e.Title, Budget: e.Budget}
		if e.Deadline != "" {
			deadline, err := time.Parse(time.DateOnly, e.Deadline)
			if err != nil {
				return created, fmt.Errorf("seed entity %q: deadline: %w", e.Title, err)
			}
			summary.Deadline = &deadline
		}
		if err := store.Create(ctx, summary); err != nil {
			return created, fmt.Errorf("seed entity %q: %w", e.Title, err)
		}
		created++
	}
	return created, nil
}

func (w Workflow) definition() *entity.WorkflowDefinition {
	wf := &entity.WorkflowDefinition{
		Name:      w.Name,
		Type:      entity.WorkflowType(w.Type),
		IsActive:  w.Active == nil || *w.Active,
		MinAmount: w.MinAmount,
		MaxAmount: w.MaxAmount,
	}
	for i, s := range w.Steps {
		wf.Steps = append(wf.Steps, entity.StepDefinition{
			StepNumber:      i + 1,
			StepName:        s.Name,
			ApproverRole:    s.Role,
			IsMandatory:     s.Mandatory == nil || *s.Mandatory,
			AllowDelegation: s.AllowDelegation,
		})
	}
	return wf
}
