package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/procurement-approval/internal/application/service"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	apihttp "github.com/garyjia/procurement-approval/internal/interfaces/http"
	"github.com/garyjia/procurement-approval/internal/testinfra"
)

type apiFixture struct {
	*testinfra.Stack
	server *apihttp.Server

	manager  *entity.User
	finance  *entity.User
	legal    *entity.User
	outsider *entity.User
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	s := testinfra.NewStack(t)
	dashboard := service.NewDashboardService(s.Records, s.Runs, s.Definitions, s.Projector, testinfra.NopLogger{})
	health := func(ctx context.Context) apihttp.HealthReport {
		if err := s.DB.PingContext(ctx); err != nil {
			return apihttp.HealthReport{Healthy: false, Components: map[string]string{"database": err.Error()}}
		}
		return apihttp.HealthReport{Healthy: true, Components: map[string]string{"database": "ok"}}
	}

	return &apiFixture{
		Stack: s,
		server: apihttp.NewServer(apihttp.DefaultServerConfig(), s.Engine, dashboard, s.Definitions,
			s.Users, health, "test", testinfra.NopLogger{}),
		manager:  s.AddUser(t, "Dana", "DEPT_MANAGER"),
		finance:  s.AddUser(t, "Sam", "FINANCE_DIR"),
		legal:    s.AddUser(t, "Kim", "LEGAL"),
		outsider: s.AddUser(t, "Pat", "VENDOR"),
	}
}

type envelope struct {
	Success bool               `json:"success"`
	Data    json.RawMessage    `json:"data"`
	Error   *apihttp.ErrorBody `json:"error"`
}

func (f *apiFixture) do(t *testing.T, method, path string, user *entity.User, body interface{}) (*httptest.ResponseRecorder, envelope) {
	t.Helper()
	var buf bytes.Buffer
	switch b := body.(type) {
	case nil:
	case string:
		buf.WriteString(b)
	default:
		require.NoError(t, json.NewEncoder(&buf).Encode(b))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != nil {
		req.Header.Set(apihttp.UserIDHeader, strconv.FormatInt(user.ID, 10))
	}
	w := httptest.NewRecorder()
	f.server.Router().ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w, env
}

// submit starts a run on a fresh EOI and returns the first pending record id
func (f *apiFixture) submit(t *testing.T, budget float64) (entity.EntityRef, int64) {
	t.Helper()
	ref := f.AddEntity(t, entity.EntityTypeEOI, "Office fit-out", budget)
	w, env := f.do(t, http.MethodPost, "/api/entities/eoi/"+strconv.FormatInt(ref.ID, 10)+"/submit", f.manager, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var started struct {
		Records []entity.ApprovalRecord `json:"records"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &started))
	require.NotEmpty(t, started.Records)
	return ref, started.Records[0].ID
}

func approvalPath(id int64, action string) string {
	p := "/api/approvals/" + strconv.FormatInt(id, 10)
	if action != "" {
		p += "/" + action
	}
	return p
}

func twoStep() *entity.WorkflowDefinition {
	wf := testinfra.Sequential("Standard",
		[2]string{"Dept Review", "DEPT_MANAGER"},
		[2]string{"Finance", "FINANCE_DIR"},
	)
	wf.Steps[0].AllowDelegation = true
	return wf
}

func TestHealthCheck(t *testing.T) {
	f := newAPIFixture(t)

	w, _ := f.do(t, http.MethodGet, "/health", nil, nil)
	require.Equal(t, http.StatusOK, w.Code)

	var resp apihttp.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, "ok", resp.Components["database"])
}

func TestActorRequired(t *testing.T) {
	f := newAPIFixture(t)

	w, env := f.do(t, http.MethodGet, "/api/approvals/pending", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	require.NotNil(t, env.Error)
	assert.Equal(t, "common.unauthenticated", env.Error.Code)

	w, _ = f.do(t, http.MethodGet, "/api/approvals/pending", &entity.User{ID: 9999}, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestApproveFlow(t *testing.T) {
	f := newAPIFixture(t)
	f.AddWorkflow(t, twoStep())
	ref, recID := f.submit(t, 1000)

	// pending queue of the manager holds the record
	w, env := f.do(t, http.MethodGet, "/api/approvals/pending", f.manager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []service.PendingItem
	require.NoError(t, json.Unmarshal(env.Data, &pending))
	require.Len(t, pending, 1)
	assert.Equal(t, recID, pending[0].Record.ID)

	w, env = f.do(t, http.MethodPost, approvalPath(recID, "approve"), f.manager, map[string]string{"comments": "fine"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)

	var result struct {
		Record     entity.ApprovalRecord  `json:"record"`
		NextRecord *entity.ApprovalRecord `json:"next_record"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &result))
	assert.Equal(t, entity.RecordStatusApproved, result.Record.Status)
	require.NotNil(t, result.NextRecord)

	// second approval of the same record conflicts
	w, env = f.do(t, http.MethodPost, approvalPath(recID, "approve"), f.manager, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "approval.invalid_state", env.Error.Code)

	// finance approves with an empty body
	w, _ = f.do(t, http.MethodPost, approvalPath(result.NextRecord.ID, "approve"), f.finance, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, entity.EntityStatusApproved, f.Entity(t, ref).Status)

	w, env = f.do(t, http.MethodGet, "/api/approvals/completed", f.manager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var completed []service.CompletedItem
	require.NoError(t, json.Unmarshal(env.Data, &completed))
	require.Len(t, completed, 1)
	assert.Equal(t, recID, completed[0].Record.ID)

	w, env = f.do(t, http.MethodGet, "/api/entities/eoi/"+strconv.FormatInt(ref.ID, 10)+"/approvals", f.outsider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var history []entity.ApprovalRecord
	require.NoError(t, json.Unmarshal(env.Data, &history))
	assert.Len(t, history, 2)
}

func TestRejectValidation(t *testing.T) {
	f := newAPIFixture(t)
	f.AddWorkflow(t, twoStep())
	ref, recID := f.submit(t, 1000)

	w, env := f.do(t, http.MethodPost, approvalPath(recID, "reject"), f.manager, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request.body_not_found", env.Error.Code)

	w, env = f.do(t, http.MethodPost, approvalPath(recID, "reject"), f.manager, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request.validation_failed", env.Error.Code)
	assert.Contains(t, env.Error.Details, "comments is required")

	w, env = f.do(t, http.MethodPost, approvalPath(recID, "reject"), f.manager, `{"comments":`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "bad_request.invalid_body_format", env.Error.Code)

	long := make([]byte, entity.MaxCommentLength+1)
	for i := range long {
		long[i] = 'x'
	}
	w, _ = f.do(t, http.MethodPost, approvalPath(recID, "reject"), f.manager, map[string]string{"comments": string(long)})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = f.do(t, http.MethodPost, approvalPath(recID, "reject"), f.manager, map[string]string{"comments": "over budget"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, entity.EntityStatusRejected, f.Entity(t, ref).Status)
}

func TestErrorStatuses(t *testing.T) {
	f := newAPIFixture(t)
	f.AddWorkflow(t, twoStep())
	_, recID := f.submit(t, 1000)

	tests := []struct {
		name   string
		method string
		path   string
		user   *entity.User
		body   interface{}
		status int
		code   string
	}{
		{"wrong role", http.MethodPost, approvalPath(recID, "approve"), f.finance, nil, http.StatusForbidden, "approval.unauthorized"},
		{"unknown record", http.MethodPost, approvalPath(9999, "approve"), f.manager, nil, http.StatusNotFound, "common.record_not_found"},
		{"bad id", http.MethodGet, "/api/approvals/abc", f.manager, nil, http.StatusBadRequest, "bad_request.invalid_input"},
		{"delegate missing target", http.MethodPost, approvalPath(recID, "delegate"), f.manager, map[string]int{}, http.StatusBadRequest, "bad_request.validation_failed"},
		{"self delegation", http.MethodPost, approvalPath(recID, "delegate"), f.manager, map[string]int64{"delegate_to": f.manager.ID}, http.StatusBadRequest, "bad_request.invalid_input"},
		{"unknown entity type", http.MethodPost, "/api/entities/invoice/1/submit", f.manager, nil, http.StatusNotFound, "common.record_not_found"},
		{"negative amount", http.MethodPost, "/api/entities/eoi/1/submit", f.manager, map[string]float64{"amount": -5}, http.StatusBadRequest, "bad_request.validation_failed"},
		{"unknown workflow", http.MethodGet, "/api/workflows/9999", f.manager, nil, http.StatusNotFound, "common.record_not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, env := f.do(t, tt.method, tt.path, tt.user, tt.body)
			assert.Equal(t, tt.status, w.Code, w.Body.String())
			require.NotNil(t, env.Error)
			assert.False(t, env.Success)
			assert.Equal(t, tt.code, env.Error.Code)
		})
	}
}

func TestNoApplicableWorkflow(t *testing.T) {
	f := newAPIFixture(t)
	wf := twoStep()
	wf.MaxAmount = new(float64)
	*wf.MaxAmount = 100
	f.AddWorkflow(t, wf)

	ref := f.AddEntity(t, entity.EntityTypeRequisition, "Servers", 50000)
	w, env := f.do(t, http.MethodPost, "/api/entities/requisition/"+strconv.FormatInt(ref.ID, 10)+"/submit", f.manager, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "workflow.not_applicable", env.Error.Code)
}

func TestDelegationOverHTTP(t *testing.T) {
	f := newAPIFixture(t)
	f.AddWorkflow(t, twoStep())
	_, recID := f.submit(t, 1000)

	w, env := f.do(t, http.MethodGet, approvalPath(recID, "delegates"), f.manager, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var delegates []entity.User
	require.NoError(t, json.Unmarshal(env.Data, &delegates))
	assert.Empty(t, delegates, "the manager is the only holder of the role")

	w, _ = f.do(t, http.MethodPost, approvalPath(recID, "delegate"), f.manager, map[string]int64{"delegate_to": f.legal.ID})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w, env = f.do(t, http.MethodGet, "/api/approvals/pending", f.legal, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var pending []service.PendingItem
	require.NoError(t, json.Unmarshal(env.Data, &pending))
	require.Len(t, pending, 1)
	assert.True(t, pending[0].AsDelegate)

	w, _ = f.do(t, http.MethodPost, approvalPath(recID, "approve"), f.legal, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	// the finance step forbids delegation
	w, env = f.do(t, http.MethodGet, "/api/approvals/pending", f.finance, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &pending))
	require.Len(t, pending, 1)

	w, env = f.do(t, http.MethodPost, approvalPath(pending[0].Record.ID, "delegate"), f.finance, map[string]int64{"delegate_to": f.legal.ID})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "approval.delegation_not_allowed", env.Error.Code)
}

func TestWorkflowEndpoints(t *testing.T) {
	f := newAPIFixture(t)
	wf := f.AddWorkflow(t, twoStep())

	w, env := f.do(t, http.MethodGet, "/api/workflows", f.outsider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []entity.WorkflowDefinition
	require.NoError(t, json.Unmarshal(env.Data, &list))
	require.Len(t, list, 1)
	assert.Equal(t, "Standard", list[0].Name)

	w, env = f.do(t, http.MethodGet, "/api/workflows/"+strconv.FormatInt(wf.ID, 10), f.outsider, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var got entity.WorkflowDefinition
	require.NoError(t, json.Unmarshal(env.Data, &got))
	assert.Len(t, got.Steps, 2)
}
