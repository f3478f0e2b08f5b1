// handlers_health.go - Health check handlers
package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// HealthHandlerImpl implements the HealthHandler interface
type HealthHandlerImpl struct {
	version string
	backend string
	queue   UploadQueue
	started time.Time
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(version, backendURL string, queue UploadQueue) HealthHandler {
	return &HealthHandlerImpl{
		version: version,
		backend: backendURL,
		queue:   queue,
		started: time.Now(),
	}
}

type queueHealth struct {
	Active  int `json:"active"`
	Limit   int `json:"limit"`
	Pending int `json:"pending"`
}

type healthResponse struct {
	Status  string       `json:"status"`
	Version string       `json:"version"`
	Backend string       `json:"backend"`
	Uptime  string       `json:"uptime"`
	Queue   *queueHealth `json:"queue,omitempty"`
}

// HandleHealth reports the version, the backend in use and the queue load
func (h *HealthHandlerImpl) HandleHealth(c echo.Context) error {
	resp := healthResponse{
		Status:  "ok",
		Version: h.version,
		Backend: h.backend,
		Uptime:  time.Since(h.started).Truncate(time.Second).String(),
	}
	if h.queue != nil {
		s := h.queue.Stats()
		resp.Queue = &queueHealth{Active: s.Active, Limit: s.Limit, Pending: s.Queued}
	}
	return c.JSON(http.StatusOK, resp)
}
