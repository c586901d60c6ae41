package server

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/perdura/perdura/internal/engine"
	"github.com/perdura/perdura/pkg/api"
)

var (
	ErrInvalidJSON   = errors.New("invalid JSON payload")
	ErrListWorkflows = errors.New("failed to list workflows")
	ErrGetWorkflow   = errors.New("failed to get workflow")
)

const defaultResultWait = 30 * time.Second

var invalidWorkflowIDChars = regexp.MustCompile(`[^a-zA-Z0-9_.\-+ ]`)

func (s *Server) listWorkflows(c *gin.Context) {
	digests, err := s.engine.ListWorkflows(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrListWorkflows, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.WorkflowsListResponse{
		Workflows: digests,
		Count:     len(digests),
	})
}

func (s *Server) startWorkflow(c *gin.Context) {
	var req api.StartWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}
	if req.Name == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "Workflow name is required",
			Status: http.StatusBadRequest,
		})
		return
	}

	id, err := s.engine.StartWorkflow(c.Request.Context(),
		&engine.StartOptions{
			Input: req.Input,
			ID:    sanitizeWorkflowID(req.ID),
			Name:  req.Name,
		},
	)
	if err == nil {
		c.JSON(http.StatusCreated, api.WorkflowStartedResponse{
			WorkflowID: id,
		})
		return
	}

	switch {
	case errors.Is(err, engine.ErrWorkflowExists):
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusConflict,
		})
	case errors.Is(err, engine.ErrWorkflowNotRegistered):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusNotFound,
		})
	default:
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
	}
}

func (s *Server) getWorkflow(c *gin.Context) {
	id := api.WorkflowID(c.Param("workflowID"))

	st, err := s.engine.GetWorkflowState(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, api.WorkflowStatusResponse{
			Output:           st.Output,
			ID:               st.ID,
			Name:             st.Name,
			Status:           st.Status,
			Error:            st.Error,
			Queue:            st.Queue,
			RecoveryAttempts: st.RecoveryAttempts,
			CreatedAt:        st.CreatedAt,
			CompletedAt:      st.CompletedAt,
		})
		return
	}

	if errors.Is(err, engine.ErrWorkflowNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), id),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  fmt.Sprintf("%s: %v", ErrGetWorkflow, err),
		Status: http.StatusInternalServerError,
	})
}

func (s *Server) getResult(c *gin.Context) {
	id := api.WorkflowID(c.Param("workflowID"))

	wait := defaultResultWait
	if raw := c.Query("timeout"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, api.ErrorResponse{
				Error:  fmt.Sprintf("invalid timeout: %v", err),
				Status: http.StatusBadRequest,
			})
			return
		}
		wait = parsed
	}

	out, err := s.engine.GetResult(c.Request.Context(), id, wait)
	if err == nil {
		c.JSON(http.StatusOK, api.WorkflowResultResponse{
			Output: out,
			Status: api.WorkflowSuccess,
		})
		return
	}

	switch {
	case errors.Is(err, engine.ErrWorkflowNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), id),
			Status: http.StatusNotFound,
		})
	case errors.Is(err, engine.ErrResultTimeout):
		c.JSON(http.StatusRequestTimeout, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusRequestTimeout,
		})
	default:
		status := api.WorkflowError
		cancelled := new(api.CancelledError)
		if errors.As(err, &cancelled) {
			status = api.WorkflowCancelled
		}
		c.JSON(http.StatusOK, api.WorkflowResultResponse{
			Status: status,
			Error:  err.Error(),
		})
	}
}

func (s *Server) cancelWorkflow(c *gin.Context) {
	id := api.WorkflowID(c.Param("workflowID"))

	err := s.engine.CancelWorkflow(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, api.MessageResponse{
			Message: "cancellation requested",
		})
		return
	}

	switch {
	case errors.Is(err, engine.ErrWorkflowNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), id),
			Status: http.StatusNotFound,
		})
	case errors.Is(err, engine.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusConflict,
		})
	default:
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
	}
}

func (s *Server) resumeWorkflow(c *gin.Context) {
	id := api.WorkflowID(c.Param("workflowID"))

	err := s.engine.ResumeWorkflow(c.Request.Context(), id)
	if err == nil {
		c.JSON(http.StatusOK, api.MessageResponse{Message: "resumed"})
		return
	}

	switch {
	case errors.Is(err, engine.ErrWorkflowNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), id),
			Status: http.StatusNotFound,
		})
	case errors.Is(err, engine.ErrNotTerminal),
		errors.Is(err, engine.ErrWorkflowNotRegistered):
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusConflict,
		})
	default:
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
	}
}

func (s *Server) forkWorkflow(c *gin.Context) {
	id := api.WorkflowID(c.Param("workflowID"))

	var req api.ForkRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}

	forkID, err := s.engine.ForkWorkflow(
		c.Request.Context(), id, req.FromStep,
	)
	if err == nil {
		c.JSON(http.StatusCreated, api.WorkflowStartedResponse{
			WorkflowID: forkID,
		})
		return
	}

	switch {
	case errors.Is(err, engine.ErrWorkflowNotFound):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), id),
			Status: http.StatusNotFound,
		})
	case errors.Is(err, engine.ErrStepOutOfRange):
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
	default:
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
	}
}

func sanitizeWorkflowID(id api.WorkflowID) api.WorkflowID {
	lowered := strings.ToLower(string(id))
	sanitized := invalidWorkflowIDChars.ReplaceAllString(lowered, "")
	sanitized = strings.ReplaceAll(sanitized, " ", "-")
	return api.WorkflowID(strings.Trim(sanitized, "-"))
}
