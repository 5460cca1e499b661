package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/weftworks/weft/internal/engine"
	"github.com/weftworks/weft/internal/store"
	"github.com/weftworks/weft/pkg/api"
	"github.com/weftworks/weft/pkg/log"
)

// startRun executes a workflow synchronously and returns the full result.
// Lifecycle events stream to connected WebSocket clients while the run is
// in flight
func (s *Server) startRun(c *gin.Context) {
	var req api.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "invalid run request: " + err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}
	if req.Workflow == nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  "workflow is required",
			Status: http.StatusBadRequest,
		})
		return
	}

	runID := uuid.NewString()
	records, err := s.engine.Execute(
		c.Request.Context(), req.Workflow, engine.ExecuteOptions{
			RunID:      runID,
			StartNode:  req.StartNode,
			TargetNode: req.TargetNode,
			Input:      req.Input,
			Env:        req.Env,
			Secrets:    req.Secrets,
			Events:     s.runEvents(runID),
		},
	)
	if err != nil {
		c.JSON(http.StatusBadRequest, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusBadRequest,
		})
		return
	}

	stats := store.ComputeStats(runID, req.Workflow, records)
	if s.store != nil {
		if _, err := s.store.SaveRun(
			c.Request.Context(), runID, req.Workflow, records,
		); err != nil {
			slog.Error("Failed to persist run",
				log.RunID(runID),
				log.Error(err))
		}
	}

	c.JSON(http.StatusOK, api.RunResponse{
		RunID:   runID,
		Stats:   stats,
		Records: api.ByLabel(req.Workflow, records),
	})
}

func (s *Server) getRun(c *gin.Context) {
	if s.store == nil {
		s.storeUnavailable(c)
		return
	}

	runID := c.Param("runID")
	run, err := s.store.GetRun(c.Request.Context(), runID)
	if errors.Is(err, store.ErrRunNotFound) {
		c.JSON(http.StatusNotFound, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusNotFound,
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, run)
}

func (s *Server) listRuns(c *gin.Context) {
	if s.store == nil {
		s.storeUnavailable(c)
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	runs, err := s.store.ListRuns(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, api.ErrorResponse{
			Error:  err.Error(),
			Status: http.StatusInternalServerError,
		})
		return
	}
	c.JSON(http.StatusOK, api.RunListResponse{
		Runs:  runs,
		Count: len(runs),
	})
}

func (s *Server) storeUnavailable(c *gin.Context) {
	c.JSON(http.StatusServiceUnavailable, api.ErrorResponse{
		Error:  "run store not configured",
		Status: http.StatusServiceUnavailable,
	})
}

// runEvents adapts the engine's lifecycle callbacks into events broadcast
// to WebSocket clients
func (s *Server) runEvents(runID string) *engine.Events {
	return &engine.Events{
		NodeStart: func(id api.NodeID) {
			s.broadcast(&api.Event{
				Type:   api.EventTypeNodeStarted,
				RunID:  runID,
				NodeID: id,
				Time:   time.Now(),
			})
		},
		NodeEnd: func(
			id api.NodeID, input, output any,
			dur time.Duration, logs []string,
		) {
			s.broadcast(&api.Event{
				Type:     api.EventTypeNodeCompleted,
				RunID:    runID,
				NodeID:   id,
				Data:     output,
				Duration: dur.Milliseconds(),
				Time:     time.Now(),
			})
		},
		EdgeTraverse: func(
			edgeID string, elapsed time.Duration, items int,
		) {
			s.broadcast(&api.Event{
				Type:     api.EventTypeEdgeTraversed,
				RunID:    runID,
				EdgeID:   edgeID,
				Duration: elapsed.Milliseconds(),
				Items:    items,
				Time:     time.Now(),
			})
		},
		WorkflowEnd: func() {
			s.broadcast(&api.Event{
				Type:  api.EventTypeWorkflowEnded,
				RunID: runID,
				Time:  time.Now(),
			})
		},
		ExecutionUpdate: func(byLabel map[string]*api.Record) {
			s.broadcast(&api.Event{
				Type:  api.EventTypeExecutionUpdate,
				RunID: runID,
				Data:  byLabel,
				Time:  time.Now(),
			})
		},
		Error: func(id api.NodeID, err error) {
			s.broadcast(&api.Event{
				Type:   api.EventTypeNodeError,
				RunID:  runID,
				NodeID: id,
				Error:  err.Error(),
				Time:   time.Now(),
			})
		},
	}
}
