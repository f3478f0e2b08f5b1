package upload

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ismart-scholar/workbench/internal/models"
	"github.com/ismart-scholar/workbench/internal/source"
)

// Status represents the state of one upload task.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusUploading Status = "uploading"
	StatusDone      Status = "done"
	StatusError     Status = "error"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether s is a final state of an attempt.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusError || s == StatusCanceled
}

// Task messages shown to the user.
const (
	MsgAnalysisReady = "Analysis ready"
	MsgNoAnalysis    = "No analysis returned"
	MsgUnparsable    = "Could not parse server response"
	MsgCanceled      = "Canceled by user"
	MsgNoProject     = "No project selected"
)

func uploadFailedMsg(status int) string {
	return fmt.Sprintf("Upload failed (%d)", status)
}

func networkErrorMsg(err error) string {
	return fmt.Sprintf("Network error: %v", err)
}

// task is the mutable record owned by the Manager. It is only touched with
// the Manager's mutex held.
type task struct {
	id         string
	file       source.File
	progress   int
	status     Status
	message    string
	result     *models.UploadResult
	attempt    int
	projectID  int64
	createdAt  time.Time
	startedAt  time.Time
	finishedAt time.Time
	cancel     func()
}

func newTask(f source.File, now time.Time) *task {
	return &task{
		id:        fmt.Sprintf("%d-%s-%s", now.UnixMilli(), uuid.NewString()[:8], f.Name()),
		file:      f,
		status:    StatusQueued,
		createdAt: now,
	}
}

func dedupeKey(name string, size int64) string {
	return fmt.Sprintf("%s-%d", name, size)
}

// TaskView is an immutable snapshot of a task.
type TaskView struct {
	ID         string               `json:"id"`
	FileName   string               `json:"fileName"`
	Size       int64                `json:"size"`
	Progress   int                  `json:"progress"`
	Status     Status               `json:"status"`
	Message    string               `json:"message,omitempty"`
	Result     *models.UploadResult `json:"result,omitempty"`
	Attempt    int                  `json:"attempt"`
	ProjectID  int64                `json:"projectId,omitempty"`
	CreatedAt  time.Time            `json:"createdAt"`
	StartedAt  *time.Time           `json:"startedAt,omitempty"`
	FinishedAt *time.Time           `json:"finishedAt,omitempty"`
}

func (t *task) view() TaskView {
	v := TaskView{
		ID:        t.id,
		FileName:  t.file.Name(),
		Size:      t.file.Size(),
		Progress:  t.progress,
		Status:    t.status,
		Message:   t.message,
		Attempt:   t.attempt,
		ProjectID: t.projectID,
		CreatedAt: t.createdAt,
	}
	if t.result != nil {
		r := *t.result
		v.Result = &r
	}
	if !t.startedAt.IsZero() {
		s := t.startedAt
		v.StartedAt = &s
	}
	if !t.finishedAt.IsZero() {
		f := t.finishedAt
		v.FinishedAt = &f
	}
	return v
}

// Stats counts tasks by status.
type Stats struct {
	Queued    int `json:"queued"`
	Uploading int `json:"uploading"`
	Done      int `json:"done"`
	Error     int `json:"error"`
	Canceled  int `json:"canceled"`
	Active    int `json:"active"`
	Limit     int `json:"limit"`
}
