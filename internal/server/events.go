package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/perdura/perdura/internal/engine"
	"github.com/perdura/perdura/pkg/api"
)

func (s *Server) setWorkflowEvent(c *gin.Context) {
	id := api.WorkflowID(c.Param("workflowID"))

	var req api.SetEventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}
	if req.Key == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "Event key is required",
			Status: http.StatusBadRequest,
		})
		return
	}

	err := s.engine.SetWorkflowEvent(
		c.Request.Context(), id, req.Key, req.Value,
	)
	if err == nil {
		c.JSON(http.StatusOK, api.MessageResponse{Message: "event set"})
		return
	}
	s.workflowError(c, id, err)
}

func (s *Server) getWorkflowEvent(c *gin.Context) {
	id := api.WorkflowID(c.Param("workflowID"))
	key := api.EventKey(c.Param("key"))

	value, ok, err := s.engine.GetWorkflowEvent(c.Request.Context(), id, key)
	if err != nil {
		s.workflowError(c, id, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("event not set: %s", key),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusOK, api.EventValueResponse{Value: value, Key: key})
}

func (s *Server) sendMessage(c *gin.Context) {
	id := api.WorkflowID(c.Param("workflowID"))

	var req api.SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %v", ErrInvalidJSON, err),
			Status: http.StatusBadRequest,
		})
		return
	}
	if req.Topic == "" {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "Message topic is required",
			Status: http.StatusBadRequest,
		})
		return
	}

	err := s.engine.SendMessage(
		c.Request.Context(), id, req.Topic, req.Message,
	)
	if err == nil {
		c.JSON(http.StatusOK, api.MessageResponse{Message: "message sent"})
		return
	}
	s.workflowError(c, id, err)
}

func (s *Server) workflowError(
	c *gin.Context, id api.WorkflowID, err error,
) {
	if errors.Is(err, engine.ErrWorkflowNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  fmt.Sprintf("%s: %s", err.Error(), id),
			Status: http.StatusNotFound,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, api.ErrorResponse{
		Error:  err.Error(),
		Status: http.StatusInternalServerError,
	})
}
