package seed_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/infrastructure/seed"
	"github.com/garyjia/procurement-approval/internal/testinfra"
)

func newLoader(s *testinfra.Stack) *seed.Loader {
	return seed.NewLoader(s.Users, s.Definitions, zap.NewNop(),
		s.Entities[entity.EntityTypeEOI],
		s.Entities[entity.EntityTypeRequisition],
		s.Entities[entity.EntityTypeVendorSubmission],
	)
}

func TestLoadShippedSeedFile(t *testing.T) {
	s := testinfra.NewStack(t)
	ctx := context.Background()

	res, err := newLoader(s).LoadFile(ctx, filepath.Join("..", "..", "..", "configs", "seed.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 5, res.Users)
	assert.Equal(t, 2, res.Workflows)
	assert.Equal(t, 3, res.Entities)

	finance, err := s.Users.GetUser(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "FINANCE_DIR", finance.Role)

	wf, err := s.Definitions.FindApplicable(ctx, 180000)
	require.NoError(t, err)
	assert.Equal(t, entity.WorkflowTypeParallel, wf.Type)
	require.Len(t, wf.Steps, 3)
	assert.True(t, wf.Steps[0].AllowDelegation)
	assert.False(t, wf.Steps[2].IsMandatory)

	// every seeded entity can start a run
	for _, ref := range []entity.EntityRef{
		{Type: entity.EntityTypeEOI, ID: 1},
		{Type: entity.EntityTypeRequisition, ID: 1},
		{Type: entity.EntityTypeVendorSubmission, ID: 1},
	} {
		_, err := s.Engine.Start(ctx, ref, nil)
		assert.NoError(t, err, ref.String())
	}
}

func TestLoadIsRepeatable(t *testing.T) {
	s := testinfra.NewStack(t)
	ctx := context.Background()
	doc := `
users:
  - {id: 7, name: Dana, role: DEPT_MANAGER}
workflows:
  - name: Only
    type: SEQUENTIAL
    steps:
      - {name: Review, role: DEPT_MANAGER}
entities:
  - {type: eoi, title: Desks, budget: 800, deadline: 2026-11-30}
`
	f, err := seed.Parse(strings.NewReader(doc))
	require.NoError(t, err)

	loader := newLoader(s)
	first, err := loader.Load(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Workflows)
	assert.Equal(t, 1, first.Entities)

	second, err := loader.Load(ctx, f)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Users)
	assert.Zero(t, second.Workflows)
	assert.Zero(t, second.Entities)

	e := s.Entity(t, entity.EntityRef{Type: entity.EntityTypeEOI, ID: 1})
	require.NotNil(t, e.Deadline)
	assert.Equal(t, "2026-11-30", e.Deadline.Format("2006-01-02"))
}

func TestParseErrors(t *testing.T) {
	_, err := seed.Parse(strings.NewReader("users:\n  - {id: 1, nmae: typo}\n"))
	assert.Error(t, err)

	f, err := seed.Parse(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Users)
}

func TestLoadRejectsUnknownEntityType(t *testing.T) {
	s := testinfra.NewStack(t)
	f := &seed.File{Entities: []seed.Entity{{Type: "invoice", Title: "X"}}}

	_, err := newLoader(s).Load(context.Background(), f)
	assert.Error(t, err)
}

func TestLoadFileMissing(t *testing.T) {
	s := testinfra.NewStack(t)
	_, err := newLoader(s).LoadFile(context.Background(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
