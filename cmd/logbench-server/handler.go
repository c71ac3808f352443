package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"logbench/pkg/exp"
	"logbench/pkg/loadtest"
)

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
	RunID     string    `json:"run_id,omitempty"`
}

// StartRunRequest starts a run. Config replaces the server configuration when set.
type StartRunRequest struct {
	Config  *loadtest.Config `json:"config,omitempty"`
	Timeout int              `json:"timeout"` // in seconds, 0 for none
}

// StartRunResponse identifies the started run
type StartRunResponse struct {
	RunID     string    `json:"run_id"`
	Status    string    `json:"status"`
	StartTime time.Time `json:"start_time"`
}

// RunListResponse lists stored reports
type RunListResponse struct {
	Runs  []exp.Info `json:"runs"`
	Total int        `json:"total"`
}

// HealthResponse is returned by the health check
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    int       `json:"uptime"` // in seconds
	Version   string    `json:"version"`
}

// APIHandler serves the control API over a load test service
type APIHandler struct {
	service   *loadtest.Service
	logger    zerolog.Logger
	startTime time.Time
}

func (h *APIHandler) register(router gin.IRouter) {
	router.GET("/health", h.HealthCheck)
	router.GET("/config", h.GetConfig)
	router.GET("/status", h.GetStatus)

	runs := router.Group("/runs")
	runs.GET("", h.ListRuns)
	runs.POST("", h.StartRun)
	runs.POST("/stop", h.StopRun)
	runs.GET("/:id", h.GetRun)
	runs.POST("/:id/export", h.ExportRun)
}

// HealthCheck implements the health check endpoint
func (h *APIHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    int(time.Since(h.startTime).Seconds()),
		Version:   version,
	})
}

// GetConfig returns the configuration runs use by default
func (h *APIHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Config())
}

// GetStatus returns the state and progress of the current run
func (h *APIHandler) GetStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.service.Status())
}

// StartRun starts a run in the background
func (h *APIHandler) StartRun(c *gin.Context) {
	var request StartRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&request); err != nil {
			h.fail(c, http.StatusBadRequest, "invalid_request", err, "")
			return
		}
	}

	timeout := time.Duration(request.Timeout) * time.Second
	id, err := h.service.StartRun(c.Request.Context(), request.Config, timeout)
	if err != nil {
		if errors.Is(err, exp.ErrAlreadyRunning) {
			h.fail(c, http.StatusConflict, "run_in_progress", err, h.service.Status().ID)
			return
		}
		h.fail(c, http.StatusBadRequest, "invalid_config", err, "")
		return
	}

	c.JSON(http.StatusCreated, StartRunResponse{
		RunID:     id,
		Status:    exp.Running,
		StartTime: time.Now(),
	})
}

// StopRun cancels the current run and returns its partial report
func (h *APIHandler) StopRun(c *gin.Context) {
	id := h.service.Status().ID
	if err := h.service.StopRun(); err != nil {
		h.fail(c, http.StatusConflict, "not_running", err, "")
		return
	}

	report, err := h.service.Get(id)
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "report_unavailable", err, id)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ListRuns lists stored reports, most recent first
func (h *APIHandler) ListRuns(c *gin.Context) {
	infos, err := h.service.List()
	if err != nil {
		h.fail(c, http.StatusInternalServerError, "internal_error", err, "")
		return
	}
	c.JSON(http.StatusOK, RunListResponse{Runs: infos, Total: len(infos)})
}

// GetRun returns a stored report
func (h *APIHandler) GetRun(c *gin.Context) {
	id := c.Param("id")
	report, err := h.service.Get(id)
	if err != nil {
		h.fail(c, statusOf(err), "run_not_found", err, id)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ExportRun exports the metrics recorded during a stored run
func (h *APIHandler) ExportRun(c *gin.Context) {
	id := c.Param("id")
	result, err := h.service.Export(c.Request.Context(), id)
	if err != nil && result == nil {
		h.fail(c, statusOf(err), "export_failed", err, id)
		return
	}
	if err != nil {
		h.logger.Warn().Err(err).Str("run_id", id).Msg("Export completed with errors")
	}
	c.JSON(http.StatusOK, result)
}

func (h *APIHandler) fail(c *gin.Context, status int, kind string, err error, id string) {
	c.JSON(status, ErrorResponse{
		Error:     kind,
		Message:   err.Error(),
		Timestamp: time.Now(),
		RunID:     id,
	})
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, exp.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, exp.ErrInvalidID):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
