// handlers_upload.go - Upload queue handlers
package api

import (
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/ismart-scholar/workbench/internal/source"
	"github.com/ismart-scholar/workbench/internal/storage"
	"github.com/ismart-scholar/workbench/internal/upload"
)

// UploadHandlerImpl implements the UploadHandler interface
type UploadHandlerImpl struct {
	queue    UploadQueue
	staging  *storage.StagingStore
	resolver FileResolver
	logger   *logrus.Logger
}

// NewUploadHandler creates a new upload handler instance
func NewUploadHandler(queue UploadQueue, staging *storage.StagingStore, resolver FileResolver, logger *logrus.Logger) UploadHandler {
	return &UploadHandlerImpl{
		queue:    queue,
		staging:  staging,
		resolver: resolver,
		logger:   logger,
	}
}

type uploadListResponse struct {
	Tasks []upload.TaskView `json:"tasks"`
	Stats upload.Stats      `json:"stats"`
}

type addUploadsRequest struct {
	Refs []string `json:"refs"`
}

func (r *addUploadsRequest) validate() error {
	if len(r.Refs) == 0 {
		return NewValidationError("refs")
	}
	for _, ref := range r.Refs {
		if strings.TrimSpace(ref) == "" {
			return NewValidationError("refs")
		}
	}
	return nil
}

type addUploadsResponse struct {
	Added   []upload.TaskView `json:"added"`
	Skipped int               `json:"skipped"`
}

// HandleListUploads returns every task with counts by status
func (h *UploadHandlerImpl) HandleListUploads(c echo.Context) error {
	return c.JSON(http.StatusOK, uploadListResponse{
		Tasks: h.queue.Tasks(),
		Stats: h.queue.Stats(),
	})
}

// HandleAddUploads enqueues multipart "files" or a JSON list of refs
func (h *UploadHandlerImpl) HandleAddUploads(c echo.Context) error {
	var files []source.File
	var err error

	if strings.HasPrefix(c.Request().Header.Get(echo.HeaderContentType), echo.MIMEMultipartForm) {
		files, err = h.stageMultipart(c)
	} else {
		files, err = h.resolveRefs(c)
	}
	if err != nil {
		return err
	}

	added := h.queue.AddFiles(files)
	if added == nil {
		added = []upload.TaskView{}
	}
	h.logger.WithFields(logrus.Fields{
		"added":   len(added),
		"skipped": len(files) - len(added),
	}).Info("uploads enqueued")

	return c.JSON(http.StatusAccepted, addUploadsResponse{
		Added:   added,
		Skipped: len(files) - len(added),
	})
}

// stageMultipart saves every "files" part to the staging directory. The
// queue owns the staged copies from then on. If any part fails, the copies
// already made for this request are deleted.
func (h *UploadHandlerImpl) stageMultipart(c echo.Context) ([]source.File, error) {
	if h.staging == nil {
		return nil, NewServiceUnavailableError("staging directory is not configured")
	}
	form, err := c.MultipartForm()
	if err != nil {
		return nil, NewBadRequestError("invalid multipart body", err)
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		return nil, NewValidationError("files")
	}
	return h.stageParts(headers)
}

func (h *UploadHandlerImpl) stageParts(headers []*multipart.FileHeader) ([]source.File, error) {
	files := make([]source.File, 0, len(headers))
	fail := func(apiErr *APIError) ([]source.File, error) {
		for _, f := range files {
			if derr := f.(*storage.StagedUpload).Discard(); derr != nil {
				h.logger.WithError(derr).WithField("file", f.Name()).Warn("failed to delete staged file")
			}
		}
		return nil, apiErr
	}

	for _, fh := range headers {
		src, err := fh.Open()
		if err != nil {
			return fail(NewBadRequestError("failed to open uploaded file", err))
		}
		saved, err := h.staging.Save(fh.Filename, src)
		src.Close()
		if err != nil {
			return fail(NewInternalError("failed to stage file", err))
		}
		u, err := h.staging.Upload(saved.ID)
		if err != nil {
			return fail(NewInternalError("failed to stage file", err))
		}
		files = append(files, u)
	}
	return files, nil
}

func (h *UploadHandlerImpl) resolveRefs(c echo.Context) ([]source.File, error) {
	var req addUploadsRequest
	if err := c.Bind(&req); err != nil {
		return nil, NewBadRequestError("invalid JSON body", err)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}
	files, err := h.resolver.Resolve(c.Request().Context(), req.Refs)
	if err != nil {
		return nil, NewBadRequestError("could not resolve files", err)
	}
	return files, nil
}

// HandleCancelUpload aborts an in-flight upload
func (h *UploadHandlerImpl) HandleCancelUpload(c echo.Context) error {
	id := c.Param("id")
	if err := h.queue.Cancel(id); err != nil {
		return fromDomainError(err, id)
	}
	return h.respondTask(c, id)
}

// HandleRetryUpload requeues a finished, failed or canceled upload
func (h *UploadHandlerImpl) HandleRetryUpload(c echo.Context) error {
	id := c.Param("id")
	if err := h.queue.Retry(id); err != nil {
		return fromDomainError(err, id)
	}
	return h.respondTask(c, id)
}

// HandleRemoveUpload drops a task, aborting it if needed
func (h *UploadHandlerImpl) HandleRemoveUpload(c echo.Context) error {
	id := c.Param("id")
	if err := h.queue.Remove(id); err != nil {
		return fromDomainError(err, id)
	}
	return c.NoContent(http.StatusNoContent)
}

// HandleClearUploads aborts and drops every task
func (h *UploadHandlerImpl) HandleClearUploads(c echo.Context) error {
	h.queue.ClearAll()
	return c.NoContent(http.StatusNoContent)
}

func (h *UploadHandlerImpl) respondTask(c echo.Context, id string) error {
	v, ok := h.queue.Task(id)
	if !ok {
		return NewNotFoundError("upload", id)
	}
	return c.JSON(http.StatusOK, v)
}
