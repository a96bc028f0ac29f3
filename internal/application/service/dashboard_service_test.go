package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procurement-approval/internal/application/service"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/testinfra"
)

func strPtr(s string) *string { return &s }

func newDashboard(s *testinfra.Stack) service.DashboardService {
	return service.NewDashboardService(s.Records, s.Runs, s.Definitions, s.Projector, testinfra.NopLogger{})
}

func TestPendingForApprover(t *testing.T) {
	ctx := context.Background()
	s := testinfra.NewStack(t)
	manager := s.AddUser(t, "Dana", "DEPT_MANAGER")
	finance := s.AddUser(t, "Sam", "FINANCE_DIR")

	wf := testinfra.Sequential("Two step",
		[2]string{"Dept Review", "DEPT_MANAGER"},
		[2]string{"Finance", "FINANCE_DIR"},
	)
	s.AddWorkflow(t, wf)
	first := s.AddEntity(t, entity.EntityTypeEOI, "Cleaning", 100)
	second := s.AddEntity(t, entity.EntityTypeRequisition, "Laptops", 200)

	r1, err := s.Engine.Start(ctx, first, nil)
	require.NoError(t, err)
	_, err = s.Engine.Start(ctx, second, nil)
	require.NoError(t, err)

	dashboard := newDashboard(s)

	items, err := dashboard.PendingForApprover(ctx, manager)
	require.NoError(t, err)
	require.Len(t, items, 2)
	// newest first
	assert.Equal(t, second, items[0].Record.Ref())
	assert.Equal(t, first, items[1].Record.Ref())

	item := items[1]
	assert.Equal(t, "Two step", item.WorkflowName)
	assert.Equal(t, entity.WorkflowTypeSequential, item.WorkflowType)
	assert.Equal(t, "Dept Review", item.Step.StepName)
	require.NotNil(t, item.Entity)
	assert.Equal(t, "Cleaning", item.Entity.Title)
	assert.False(t, item.AsDelegate)
	require.Len(t, item.Timeline, 2)
	assert.Equal(t, string(entity.RecordStatusPending), item.Timeline[0].Status)
	assert.Equal(t, service.StepNotStarted, item.Timeline[1].Status)

	items, err = dashboard.PendingForApprover(ctx, finance)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = s.Engine.Approve(ctx, r1.Records[0].ID, manager, strPtr("fine"))
	require.NoError(t, err)

	items, err = dashboard.PendingForApprover(ctx, finance)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Finance", items[0].Step.StepName)
	assert.Equal(t, string(entity.RecordStatusApproved), items[0].Timeline[0].Status)
	assert.Equal(t, manager.ID, *items[0].Timeline[0].ApproverID)
	assert.Equal(t, "fine", *items[0].Timeline[0].Comments)

	items, err = dashboard.PendingForApprover(ctx, manager)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestPendingForDelegate(t *testing.T) {
	ctx := context.Background()
	s := testinfra.NewStack(t)
	manager := s.AddUser(t, "Dana", "DEPT_MANAGER")
	deputy := s.AddUser(t, "Alex", "ANALYST")

	wf := testinfra.Sequential("Single", [2]string{"Dept Review", "DEPT_MANAGER"})
	wf.Steps[0].AllowDelegation = true
	s.AddWorkflow(t, wf)
	ref := s.AddEntity(t, entity.EntityTypeEOI, "Cleaning", 100)
	res, err := s.Engine.Start(ctx, ref, nil)
	require.NoError(t, err)

	dashboard := newDashboard(s)
	items, err := dashboard.PendingForApprover(ctx, deputy)
	require.NoError(t, err)
	assert.Empty(t, items)

	_, err = s.Engine.Delegate(ctx, res.Records[0].ID, manager, deputy.ID)
	require.NoError(t, err)

	items, err = dashboard.PendingForApprover(ctx, deputy)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.True(t, items[0].AsDelegate)

	_, err = s.Engine.Approve(ctx, res.Records[0].ID, deputy, nil)
	require.NoError(t, err)

	items, err = dashboard.PendingForApprover(ctx, deputy)
	require.NoError(t, err)
	assert.Empty(t, items)

	done, err := dashboard.CompletedByApprover(ctx, deputy)
	require.NoError(t, err)
	require.Len(t, done, 1)
	assert.Equal(t, entity.RecordStatusApproved, done[0].Record.Status)

	// the delegating manager did not decide it
	done, err = dashboard.CompletedByApprover(ctx, manager)
	require.NoError(t, err)
	assert.Empty(t, done)
}

func TestPendingHidesResolvedRuns(t *testing.T) {
	ctx := context.Background()
	s := testinfra.NewStack(t)
	manager := s.AddUser(t, "Dana", "DEPT_MANAGER")
	finance := s.AddUser(t, "Sam", "FINANCE_DIR")
	legal := s.AddUser(t, "Kim", "LEGAL")

	s.AddWorkflow(t, testinfra.Parallel("Committee",
		testinfra.ParallelStep{Name: "A", Role: "DEPT_MANAGER", Mandatory: true},
		testinfra.ParallelStep{Name: "C", Role: "LEGAL"},
	))
	ref := s.AddEntity(t, entity.EntityTypeEOI, "Consulting", 100)
	res, err := s.Engine.Start(ctx, ref, nil)
	require.NoError(t, err)

	dashboard := newDashboard(s)
	items, err := dashboard.PendingForApprover(ctx, legal)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.False(t, items[0].Timeline[1].IsMandatory)

	_, err = s.Engine.Reject(ctx, res.Records[0].ID, manager, strPtr("duplicate"))
	require.NoError(t, err)

	items, err = dashboard.PendingForApprover(ctx, legal)
	require.NoError(t, err)
	assert.Empty(t, items)

	items, err = dashboard.PendingForApprover(ctx, finance)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestCompletedByApproverOrdering(t *testing.T) {
	ctx := context.Background()
	s := testinfra.NewStack(t)
	manager := s.AddUser(t, "Dana", "DEPT_MANAGER")

	s.AddWorkflow(t, testinfra.Sequential("Single", [2]string{"Dept Review", "DEPT_MANAGER"}))
	var recordIDs []int64
	for _, title := range []string{"One", "Two", "Three"} {
		ref := s.AddEntity(t, entity.EntityTypeEOI, title, 10)
		res, err := s.Engine.Start(ctx, ref, nil)
		require.NoError(t, err)
		recordIDs = append(recordIDs, res.Records[0].ID)
	}

	_, err := s.Engine.Approve(ctx, recordIDs[0], manager, nil)
	require.NoError(t, err)
	_, err = s.Engine.Reject(ctx, recordIDs[2], manager, strPtr("late"))
	require.NoError(t, err)

	done, err := newDashboard(s).CompletedByApprover(ctx, manager)
	require.NoError(t, err)
	require.Len(t, done, 2)
	assert.Equal(t, recordIDs[2], done[0].Record.ID)
	assert.Equal(t, entity.RecordStatusRejected, done[0].Record.Status)
	assert.Equal(t, "Three", done[0].Entity.Title)
	assert.Equal(t, recordIDs[0], done[1].Record.ID)
	assert.Equal(t, "Single", done[1].WorkflowName)
}
