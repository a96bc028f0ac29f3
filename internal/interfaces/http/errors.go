package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/garyjia/procurement-approval/internal/domain/workflow"
	"github.com/garyjia/procurement-approval/pkg/utils"
)

// ErrUnauthenticated is returned when the request carries no known user
var ErrUnauthenticated = errors.New("unauthenticated")

// ErrorBody is the error part of a failed response
type ErrorBody struct {
	Code    string   `json:"code"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
}

// Response is the envelope of every JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

type errorMapping struct {
	target  error
	status  int
	code    string
	message string
}

// checked in order; ErrInvalidTransition wraps ErrInvalidState so it needs no entry
var errorMappings = []errorMapping{
	{ErrUnauthenticated, http.StatusUnauthorized, "common.unauthenticated", "unauthenticated"},
	{workflow.ErrUnauthorized, http.StatusForbidden, "approval.unauthorized", "not authorized to act on this approval step"},
	{workflow.ErrDelegationNotAllowed, http.StatusBadRequest, "approval.delegation_not_allowed", "delegation not allowed for this step"},
	{workflow.ErrNotFound, http.StatusNotFound, "common.record_not_found", "record not found"},
	{workflow.ErrInvalidState, http.StatusConflict, "approval.invalid_state", "approval is no longer actionable"},
	{workflow.ErrWorkflowInUse, http.StatusConflict, "workflow.in_use", "workflow is referenced by approval runs"},
	{workflow.ErrNoApplicableWorkflow, http.StatusUnprocessableEntity, "workflow.not_applicable", "no active workflow covers this amount"},
	{workflow.ErrInvalidInput, http.StatusBadRequest, "bad_request.invalid_input", "invalid input"},
}

// ErrorHandling turns panics and the last handler error into a JSON error response
func ErrorHandling(logger Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if ret := recover(); ret != nil {
				err, ok := ret.(error)
				if !ok {
					err = fmt.Errorf("%v", ret)
				}
				logger.Error("Recovered from panic", "path", c.Request.URL.Path, "error", err)
				HandleError(c, err)
				return
			}
			if err := c.Errors.Last(); err != nil {
				HandleError(c, err.Err)
			}
		}()
		c.Next()
	}
}

// HandleError writes the response for err and aborts the chain
func HandleError(c *gin.Context, err error) {
	status, body := classify(err)
	c.AbortWithStatusJSON(status, Response{Success: false, Error: body})
}

func classify(err error) (int, *ErrorBody) {
	var projErr *workflow.ProjectionError
	if errors.As(err, &projErr) {
		return http.StatusInternalServerError, &ErrorBody{
			Code:    "approval.projection_failed",
			Message: fmt.Sprintf("could not update %s %d", projErr.EntityType, projErr.EntityID),
		}
	}

	if errors.Is(err, io.EOF) {
		return http.StatusBadRequest, &ErrorBody{Code: "bad_request.body_not_found", Message: "body not found"}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) || errors.Is(err, io.ErrUnexpectedEOF) {
		return http.StatusBadRequest, &ErrorBody{Code: "bad_request.invalid_body_format", Message: "invalid body format", Details: []string{err.Error()}}
	}
	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		return http.StatusBadRequest, &ErrorBody{Code: "bad_request.validation_failed", Message: "validation failed", Details: utils.ValidationMessages(err)}
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			return m.status, &ErrorBody{Code: m.code, Message: m.message, Details: []string{err.Error()}}
		}
	}

	return http.StatusInternalServerError, &ErrorBody{Code: "common.internal_server_error", Message: "internal server error"}
}
