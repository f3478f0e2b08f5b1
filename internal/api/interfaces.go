// interfaces.go - Handler interface definitions for clean separation of concerns
package api

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/ismart-scholar/workbench/internal/models"
	"github.com/ismart-scholar/workbench/internal/source"
	"github.com/ismart-scholar/workbench/internal/storage"
	"github.com/ismart-scholar/workbench/internal/upload"
)

// UploadHandler handles the upload queue
type UploadHandler interface {
	HandleListUploads(c echo.Context) error
	HandleAddUploads(c echo.Context) error
	HandleCancelUpload(c echo.Context) error
	HandleRetryUpload(c echo.Context) error
	HandleRemoveUpload(c echo.Context) error
	HandleClearUploads(c echo.Context) error
}

// ResultsHandler serves collected upload results
type ResultsHandler interface {
	HandleResults(c echo.Context) error
	HandleResultsMsgpack(c echo.Context) error
	HandleResultsHistory(c echo.Context) error
}

// SessionHandler exposes the signed-in user and project selection
type SessionHandler interface {
	HandleGetSession(c echo.Context) error
	HandleSelectProject(c echo.Context) error
}

// EventsHandler streams bus events and queue snapshots
type EventsHandler interface {
	HandleEventStream(c echo.Context) error
	HandleEventSocket(c echo.Context) error
}

// HealthHandler handles health check operations
type HealthHandler interface {
	HandleHealth(c echo.Context) error
}

// UploadQueue is the part of *upload.Manager the handlers use.
// This allows mocking in tests
type UploadQueue interface {
	AddFiles(files []source.File) []upload.TaskView
	Tasks() []upload.TaskView
	Task(id string) (upload.TaskView, bool)
	Stats() upload.Stats
	Results() []models.UploadResult
	Cancel(id string) error
	Retry(id string) error
	Remove(id string) error
	ClearAll()
	Changes() <-chan struct{}
}

// SessionState is the part of *session.Session the handlers use.
type SessionState interface {
	User() (models.User, bool)
	Projects() []models.Project
	SelectedProject() (models.Project, bool)
	Select(id int64) error
}

// FileResolver turns references into files. *source.Resolver implements it.
type FileResolver interface {
	Resolve(ctx context.Context, refs []string) ([]source.File, error)
}

// HistoryReader is the results ledger. *storage.DuckStore implements it.
type HistoryReader interface {
	History(ctx context.Context, projectID int64, limit int) ([]storage.HistoryEntry, error)
}
