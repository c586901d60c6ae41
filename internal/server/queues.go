package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/perdura/perdura/internal/engine"
	"github.com/perdura/perdura/pkg/api"
)

var ErrListQueues = errors.New("failed to list queues")

func (s *Server) listQueues(c *gin.Context) {
	infos, err := s.engine.QueueInfos(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrListQueues, err),
			Status: http.StatusInternalServerError,
		})
		return
	}

	c.JSON(http.StatusOK, api.QueuesListResponse{
		Queues: infos,
		Count:  len(infos),
	})
}

func (s *Server) enqueueWorkflow(c *gin.Context) {
	queue := api.QueueName(c.Param("queueName"))

	var req api.EnqueueRequest
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

	id, err := s.engine.Enqueue(c.Request.Context(),
		&engine.EnqueueOptions{
			Input:        req.Input,
			ID:           sanitizeWorkflowID(req.ID),
			Name:         req.Name,
			Queue:        queue,
			DedupKey:     req.DedupKey,
			PartitionKey: req.PartitionKey,
			Priority:     req.Priority,
		},
	)
	if err == nil {
		c.JSON(http.StatusCreated, api.WorkflowStartedResponse{
			WorkflowID: id,
		})
		return
	}

	switch {
	case errors.Is(err, engine.ErrQueueNotFound),
		errors.Is(err, engine.ErrWorkflowNotRegistered):
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusNotFound,
		})
	case errors.Is(err, engine.ErrWorkflowExists),
		errors.Is(err, engine.ErrDuplicateDedupKey):
		c.JSON(http.StatusConflict, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusConflict,
		})
	default:
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
	}
}
