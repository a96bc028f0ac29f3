package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/garyjia/procurement-approval/internal/application/service"
	appworkflow "github.com/garyjia/procurement-approval/internal/application/workflow"
	"github.com/garyjia/procurement-approval/internal/domain/entity"
	"github.com/garyjia/procurement-approval/internal/domain/workflow"
	"github.com/garyjia/procurement-approval/pkg/utils"
)

// HealthReport is the outcome of a health probe
type HealthReport struct {
	Healthy    bool              `json:"healthy"`
	Components map[string]string `json:"components,omitempty"`
}

// HealthFunc probes the backing services
type HealthFunc func(ctx context.Context) HealthReport

// Handlers contains all HTTP request handlers
type Handlers struct {
	engine      appworkflow.Engine
	dashboard   service.DashboardService
	definitions service.DefinitionService
	health      HealthFunc
	version     string
	validate    *validator.Validate
	logger      Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	engine appworkflow.Engine,
	dashboard service.DashboardService,
	definitions service.DefinitionService,
	health HealthFunc,
	version string,
	logger Logger,
) *Handlers {
	return &Handlers{
		engine:      engine,
		dashboard:   dashboard,
		definitions: definitions,
		health:      health,
		version:     version,
		validate:    utils.NewValidator(),
		logger:      logger,
	}
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Version    string            `json:"version"`
	Components map[string]string `json:"components,omitempty"`
}

// ApproveRequest is the optional body of an approval
type ApproveRequest struct {
	Comments *string `json:"comments" validate:"omitempty,max=500"`
}

// RejectRequest is the body of a rejection
type RejectRequest struct {
	Comments *string `json:"comments" validate:"required,max=500"`
}

// DelegateRequest names the user receiving the delegation
type DelegateRequest struct {
	DelegateTo int64 `json:"delegate_to" validate:"required,gt=0"`
}

// SubmitRequest starts a run; without an amount the entity budget selects the workflow
type SubmitRequest struct {
	Amount *float64 `json:"amount" validate:"omitempty,gte=0"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	report := HealthReport{Healthy: true}
	if h.health != nil {
		report = h.health(c.Request.Context())
	}

	resp := HealthResponse{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Version:    h.version,
		Components: report.Components,
	}
	status := http.StatusOK
	if !report.Healthy {
		resp.Status = "unhealthy"
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

// Approve handles POST /api/approvals/:id/approve
func (h *Handlers) Approve(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req ApproveRequest
	if !h.bind(c, &req, true) {
		return
	}

	result, err := h.engine.Approve(c.Request.Context(), id, actor(c), req.Comments)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok200(c, result)
}

// Reject handles POST /api/approvals/:id/reject
func (h *Handlers) Reject(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req RejectRequest
	if !h.bind(c, &req, false) {
		return
	}

	result, err := h.engine.Reject(c.Request.Context(), id, actor(c), req.Comments)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok200(c, result)
}

// Delegate handles POST /api/approvals/:id/delegate
func (h *Handlers) Delegate(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	var req DelegateRequest
	if !h.bind(c, &req, false) {
		return
	}

	result, err := h.engine.Delegate(c.Request.Context(), id, actor(c), req.DelegateTo)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok200(c, result)
}

// EligibleDelegates handles GET /api/approvals/:id/delegates
func (h *Handlers) EligibleDelegates(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	users, err := h.engine.EligibleDelegates(c.Request.Context(), id, actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok200(c, users)
}

// GetRecord handles GET /api/approvals/:id
func (h *Handlers) GetRecord(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	rec, err := h.engine.GetRecord(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok200(c, rec)
}

// Pending handles GET /api/approvals/pending
func (h *Handlers) Pending(c *gin.Context) {
	items, err := h.dashboard.PendingForApprover(c.Request.Context(), actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok200(c, items)
}

// Completed handles GET /api/approvals/completed
func (h *Handlers) Completed(c *gin.Context) {
	items, err := h.dashboard.CompletedByApprover(c.Request.Context(), actor(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok200(c, items)
}

// Submit handles POST /api/entities/:type/:id/submit
func (h *Handlers) Submit(c *gin.Context) {
	ref, ok := h.entityRef(c)
	if !ok {
		return
	}
	var req SubmitRequest
	if !h.bind(c, &req, true) {
		return
	}

	result, err := h.engine.Start(c.Request.Context(), ref, req.Amount)
	if err != nil {
		_ = c.Error(err)
		return
	}
	h.logger.Info("Approval run started", "entity", ref.String(), "run_id", result.Run.ID, "submitted_by", actor(c).ID)
	c.JSON(http.StatusCreated, Response{Success: true, Data: result})
}

// EntityHistory handles GET /api/entities/:type/:id/approvals
func (h *Handlers) EntityHistory(c *gin.Context) {
	ref, ok := h.entityRef(c)
	if !ok {
		return
	}
	records, err := h.engine.History(c.Request.Context(), ref)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok200(c, records)
}

// ListWorkflows handles GET /api/workflows
func (h *Handlers) ListWorkflows(c *gin.Context) {
	workflows, err := h.definitions.List(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok200(c, workflows)
}

// GetWorkflow handles GET /api/workflows/:id
func (h *Handlers) GetWorkflow(c *gin.Context) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return
	}
	wf, err := h.definitions.GetWorkflow(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	ok200(c, wf)
}

// bind decodes and validates the JSON body. An empty body is accepted when optional.
func (h *Handlers) bind(c *gin.Context, req interface{}, optional bool) bool {
	if err := c.ShouldBindBodyWith(req, binding.JSON); err != nil {
		if !(optional && errors.Is(err, io.EOF)) {
			_ = c.Error(err)
			return false
		}
	}
	if err := h.validate.Struct(req); err != nil {
		_ = c.Error(err)
		return false
	}
	return true
}

func (h *Handlers) pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		_ = c.Error(fmt.Errorf("%s %q: %w", name, c.Param(name), workflow.ErrInvalidInput))
		return 0, false
	}
	return id, true
}

func (h *Handlers) entityRef(c *gin.Context) (entity.EntityRef, bool) {
	id, ok := h.pathID(c, "id")
	if !ok {
		return entity.EntityRef{}, false
	}
	return entity.EntityRef{Type: entity.EntityType(c.Param("type")), ID: id}, true
}

func ok200(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func isNotFound(err error) bool {
	return errors.Is(err, workflow.ErrNotFound)
}
