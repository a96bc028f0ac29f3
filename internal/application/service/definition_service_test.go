package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/workflow"
	"github.com/garyjia/procurement-approval/internal/testinfra"
)

func TestDefinitionServiceRegisterAndRead(t *testing.T) {
	ctx := context.Background()
	s := testinfra.NewStack(t)

	wf := s.AddWorkflow(t, testinfra.Sequential("Standard",
		[2]string{"Dept Review", "DEPT_MANAGER"},
		[2]string{"Finance", "FINANCE_DIR"},
	))
	require.NotZero(t, wf.ID)

	got, err := s.Definitions.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "Standard", got.Name)
	require.Len(t, got.Steps, 2)

	// callers get private copies of cached definitions
	got.Steps[0].StepName = "mutated"
	again, err := s.Definitions.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, "Dept Review", again.Steps[0].StepName)

	next, ok, err := s.Definitions.NextStep(ctx, wf.ID, 1)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Finance", next.StepName)

	_, ok, err = s.Definitions.NextStep(ctx, wf.ID, 2)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Definitions.GetWorkflow(ctx, 999)
	assert.ErrorIs(t, err, workflow.ErrNotFound)
}

func TestDefinitionServiceRejectsInvalidDefinitions(t *testing.T) {
	ctx := context.Background()
	s := testinfra.NewStack(t)

	gap := testinfra.Sequential("Gap", [2]string{"One", "A"}, [2]string{"Two", "B"})
	gap.Steps[1].StepNumber = 3
	assert.ErrorIs(t, s.Definitions.Register(ctx, gap), workflow.ErrInvalidInput)

	optional := testinfra.Parallel("Optional only", testinfra.ParallelStep{Name: "C", Role: "LEGAL"})
	assert.ErrorIs(t, s.Definitions.Register(ctx, optional), workflow.ErrInvalidInput)

	list, err := s.Definitions.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestDefinitionServiceActivationInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	s := testinfra.NewStack(t)
	wf := s.AddWorkflow(t, testinfra.Sequential("Only", [2]string{"Review", "DEPT_MANAGER"}))

	found, err := s.Definitions.FindApplicable(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, wf.ID, found.ID)

	require.NoError(t, s.Definitions.SetActive(ctx, wf.ID, false))
	_, err = s.Definitions.FindApplicable(ctx, 10)
	assert.ErrorIs(t, err, workflow.ErrNoApplicableWorkflow)

	require.NoError(t, s.Definitions.SetActive(ctx, wf.ID, true))
	_, err = s.Definitions.FindApplicable(ctx, 10)
	assert.NoError(t, err)

	assert.ErrorIs(t, s.Definitions.SetActive(ctx, 999, true), workflow.ErrNotFound)
}

func TestDefinitionServiceReplaceSteps(t *testing.T) {
	ctx := context.Background()
	s := testinfra.NewStack(t)
	wf := s.AddWorkflow(t, testinfra.Sequential("Editable", [2]string{"Review", "DEPT_MANAGER"}))

	// warm the cache before replacing
	_, err := s.Definitions.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)

	steps := testinfra.Sequential("", [2]string{"Review", "DEPT_MANAGER"}, [2]string{"Sign-off", "CFO"}).Steps
	require.NoError(t, s.Definitions.ReplaceSteps(ctx, wf.ID, steps))

	got, err := s.Definitions.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "CFO", got.Steps[1].ApproverRole)

	ref := s.AddEntity(t, entity.EntityTypeEOI, "Pens", 5)
	_, err = s.Engine.Start(ctx, ref, nil)
	require.NoError(t, err)

	err = s.Definitions.ReplaceSteps(ctx, wf.ID, steps[:1])
	assert.ErrorIs(t, err, workflow.ErrWorkflowInUse)

	got, err = s.Definitions.GetWorkflow(ctx, wf.ID)
	require.NoError(t, err)
	assert.Len(t, got.Steps, 2)
}
