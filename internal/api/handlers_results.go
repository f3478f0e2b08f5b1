// handlers_results.go - Upload result handlers
package api

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ismart-scholar/workbench/internal/models"
)

const defaultHistoryLimit = 100

// ResultsHandlerImpl implements the ResultsHandler interface
type ResultsHandlerImpl struct {
	queue   UploadQueue
	history HistoryReader
}

// NewResultsHandler creates a results handler. history may be nil.
func NewResultsHandler(queue UploadQueue, history HistoryReader) ResultsHandler {
	return &ResultsHandlerImpl{queue: queue, history: history}
}

// newestFirst reverses the queue's arrival order.
func newestFirst(in []models.UploadResult) []models.UploadResult {
	out := make([]models.UploadResult, len(in))
	for i, r := range in {
		out[len(in)-1-i] = r
	}
	return out
}

// HandleResults returns successful results, most recent first
func (h *ResultsHandlerImpl) HandleResults(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"results": newestFirst(h.queue.Results()),
	})
}

// HandleResultsMsgpack returns results in MessagePack format
func (h *ResultsHandlerImpl) HandleResultsMsgpack(c echo.Context) error {
	data, err := msgpack.Marshal(map[string]interface{}{
		"results": newestFirst(h.queue.Results()),
	})
	if err != nil {
		return NewInternalError("failed to encode msgpack", err)
	}
	return c.Blob(http.StatusOK, "application/msgpack", data)
}

// HandleResultsHistory returns the persisted ledger of completed uploads
func (h *ResultsHandlerImpl) HandleResultsHistory(c echo.Context) error {
	if h.history == nil {
		return NewNotImplementedError("upload history requires the duckdb storage driver")
	}

	var projectID int64
	if v := c.QueryParam("projectId"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 0 {
			return NewValidationError("projectId")
		}
		projectID = id
	}
	limit := defaultHistoryLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return NewValidationError("limit")
		}
		limit = n
	}

	entries, err := h.history.History(c.Request().Context(), projectID, limit)
	if err != nil {
		return NewInternalError("failed to read history", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"entries": entries,
	})
}
