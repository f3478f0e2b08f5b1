package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ismart-scholar/workbench/internal/backend"
	"github.com/ismart-scholar/workbench/internal/config"
	"github.com/ismart-scholar/workbench/internal/events"
	"github.com/ismart-scholar/workbench/internal/logging"
	"github.com/ismart-scholar/workbench/internal/models"
	"github.com/ismart-scholar/workbench/internal/session"
	"github.com/ismart-scholar/workbench/internal/source"
	"github.com/ismart-scholar/workbench/internal/storage"
	"github.com/ismart-scholar/workbench/internal/upload"
)

// stubUploader finishes immediately unless the file name starts with "hold",
// in which case it waits for cancellation.
type stubUploader struct {
	mu    sync.Mutex
	names []string
}

func (u *stubUploader) UploadAndReview(ctx context.Context, projectID int64, name string, size int64, content io.Reader, onProgress backend.ProgressFunc) (*models.UploadResponse, error) {
	u.mu.Lock()
	u.names = append(u.names, name)
	u.mu.Unlock()
	if _, err := io.Copy(io.Discard, content); err != nil {
		return nil, err
	}
	if strings.HasPrefix(name, "hold") {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &models.UploadResponse{Results: models.ResultList{{FileName: name, PaperID: int64(len(name))}}}, nil
}

type stubHistory struct {
	projectID int64
	limit     int
}

func (h *stubHistory) History(_ context.Context, projectID int64, limit int) ([]storage.HistoryEntry, error) {
	h.projectID = projectID
	h.limit = limit
	return []storage.HistoryEntry{{ID: 1, ProjectID: 3, FileName: "a.pdf"}}, nil
}

type testEnv struct {
	e       *echo.Echo
	deps    *Dependencies
	queue   *upload.Manager
	session *session.Session
	bus     *events.Bus
	dir     string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	logger := logging.Discard()
	bus := events.NewBus(logger)

	sess := session.New(storage.NewMemoryStore(), bus, logger)
	require.NoError(t, sess.Load())
	require.NoError(t, sess.Select(3))

	queue, err := upload.NewManager(&stubUploader{}, sess, upload.Options{
		RetickDelay: time.Millisecond,
		Bus:         bus,
		Logger:      logger,
	})
	require.NoError(t, err)
	t.Cleanup(queue.Close)

	dir := t.TempDir()
	staging, err := storage.NewStagingStore(filepath.Join(dir, "staging"))
	require.NoError(t, err)

	deps := &Dependencies{
		Queue:      queue,
		Session:    sess,
		Staging:    staging,
		Resolver:   source.NewResolver(nil),
		Bus:        bus,
		Logger:     logger,
		Version:    "test",
		BackendURL: "http://backend.invalid",
	}
	return &testEnv{
		e:       NewServer(config.ServerConfig{BodyLimit: "10M"}, deps),
		deps:    deps,
		queue:   queue,
		session: sess,
		bus:     bus,
		dir:     dir,
	}
}

func (env *testEnv) writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(env.dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (env *testEnv) do(t *testing.T, method, target string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *testEnv) doJSON(t *testing.T, method, target string, v interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if v != nil {
		data, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(data)
	}
	return env.do(t, method, target, body, echo.MIMEApplicationJSON)
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	rec := env.do(t, http.MethodGet, "/api/health", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"ok"`)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)

	resp := decode[healthResponse](t, rec)
	assert.Equal(t, "http://backend.invalid", resp.Backend)
	require.NotNil(t, resp.Queue)
	assert.Equal(t, 3, resp.Queue.Limit)
	assert.Zero(t, resp.Queue.Active)
}

func TestAddUploadsFromRefs(t *testing.T) {
	env := newTestEnv(t)
	a := env.writeFile(t, "a.pdf", "aaaa")
	b := env.writeFile(t, "b.pdf", "bb")

	rec := env.doJSON(t, http.MethodPost, "/api/uploads", map[string][]string{"refs": {a, b}})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[addUploadsResponse](t, rec)
	assert.Len(t, resp.Added, 2)
	assert.Equal(t, 0, resp.Skipped)

	rec = env.doJSON(t, http.MethodPost, "/api/uploads", map[string][]string{"refs": {a}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	resp = decode[addUploadsResponse](t, rec)
	assert.Empty(t, resp.Added)
	assert.Equal(t, 1, resp.Skipped)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, env.queue.Wait(ctx))

	rec = env.do(t, http.MethodGet, "/api/uploads", nil, "")
	list := decode[uploadListResponse](t, rec)
	assert.Len(t, list.Tasks, 2)
	assert.Equal(t, 2, list.Stats.Done)
	assert.Equal(t, 3, list.Stats.Limit)
}

func TestAddUploadsValidation(t *testing.T) {
	env := newTestEnv(t)

	rec := env.doJSON(t, http.MethodPost, "/api/uploads", map[string][]string{"refs": {}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	apiErr := decode[APIError](t, rec)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)

	rec = env.doJSON(t, http.MethodPost, "/api/uploads", map[string][]string{"refs": {filepath.Join(env.dir, "missing.pdf")}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.doJSON(t, http.MethodPost, "/api/uploads", map[string][]string{"refs": {"s3://bucket/key.pdf"}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAddUploadsMultipart(t *testing.T) {
	env := newTestEnv(t)

	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for _, name := range []string{"one.pdf", "two.pdf"} {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		part.Write([]byte("content of " + name))
	}
	require.NoError(t, writer.Close())

	rec := env.do(t, http.MethodPost, "/api/uploads", body, writer.FormDataContentType())
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[addUploadsResponse](t, rec)
	require.Len(t, resp.Added, 2)
	assert.Equal(t, "one.pdf", resp.Added[0].FileName)
	assert.Equal(t, int64(len("content of one.pdf")), resp.Added[0].Size)

	staged := env.deps.Staging.List()
	assert.Len(t, staged, 2)
}

func multipartBody(t *testing.T, parts map[string]string, order ...string) (*bytes.Buffer, string) {
	t.Helper()
	body := new(bytes.Buffer)
	writer := multipart.NewWriter(body)
	for _, name := range order {
		part, err := writer.CreateFormFile("files", name)
		require.NoError(t, err)
		part.Write([]byte(parts[name]))
	}
	require.NoError(t, writer.Close())
	return body, writer.FormDataContentType()
}

func stagedOnDisk(t *testing.T, env *testEnv) int {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(env.dir, "staging"))
	require.NoError(t, err)
	return len(entries)
}

func TestStagedFilesFollowTheirTasks(t *testing.T) {
	env := newTestEnv(t)

	// the same file twice: the duplicate's staged copy is dropped at once
	parts := map[string]string{"one.pdf": "same bytes"}
	body, ct := multipartBody(t, parts, "one.pdf", "one.pdf")
	rec := env.do(t, http.MethodPost, "/api/uploads", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	resp := decode[addUploadsResponse](t, rec)
	require.Len(t, resp.Added, 1)
	assert.Equal(t, 1, resp.Skipped)
	assert.Len(t, env.deps.Staging.List(), 1)
	assert.Equal(t, 1, stagedOnDisk(t, env))

	// a finished task keeps its copy so it can be retried
	id := resp.Added[0].ID
	require.Eventually(t, func() bool {
		v, _ := env.queue.Task(id)
		return v.Status == upload.StatusDone
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, stagedOnDisk(t, env))

	rec = env.do(t, http.MethodDelete, "/api/uploads/"+id, nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Empty(t, env.deps.Staging.List())
	assert.Zero(t, stagedOnDisk(t, env))

	// clearing an in-flight upload drops its copy once the worker lets go
	body, ct = multipartBody(t, map[string]string{"hold-me.pdf": "x"}, "hold-me.pdf")
	rec = env.do(t, http.MethodPost, "/api/uploads", body, ct)
	require.Equal(t, http.StatusAccepted, rec.Code)
	held := decode[addUploadsResponse](t, rec).Added[0].ID
	require.Eventually(t, func() bool {
		v, _ := env.queue.Task(held)
		return v.Status == upload.StatusUploading
	}, 2*time.Second, 5*time.Millisecond)

	rec = env.do(t, http.MethodDelete, "/api/uploads", nil, "")
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Eventually(t, func() bool { return stagedOnDisk(t, env) == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Empty(t, env.deps.Staging.List())
}

func TestStagePartsCleansUpOnFailure(t *testing.T) {
	env := newTestEnv(t)

	body, ct := multipartBody(t, map[string]string{"good.pdf": "ok"}, "good.pdf")
	_, params, err := mime.ParseMediaType(ct)
	require.NoError(t, err)
	form, err := multipart.NewReader(body, params["boundary"]).ReadForm(1 << 20)
	require.NoError(t, err)
	defer form.RemoveAll()

	// a header with no content cannot be opened
	headers := append(form.File["files"], &multipart.FileHeader{Filename: "broken.pdf"})

	h := NewUploadHandler(env.queue, env.deps.Staging, env.deps.Resolver, env.deps.Logger).(*UploadHandlerImpl)
	files, err := h.stageParts(headers)
	assert.Nil(t, files)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)

	assert.Empty(t, env.deps.Staging.List())
	assert.Zero(t, stagedOnDisk(t, env))
	assert.Empty(t, env.queue.Tasks())
}

func TestQueueCommands(t *testing.T) {
	env := newTestEnv(t)
	held := env.writeFile(t, "hold.pdf", "h")

	rec := env.doJSON(t, http.MethodPost, "/api/uploads", map[string][]string{"refs": {held}})
	require.Equal(t, http.StatusAccepted, rec.Code)
	id := decode[addUploadsResponse](t, rec).Added[0].ID

	require.Eventually(t, func() bool {
		v, _ := env.queue.Task(id)
		return v.Status == upload.StatusUploading
	}, 2*time.Second, 5*time.Millisecond)

	rec = env.do(t, http.MethodPost, "/api/uploads/"+id+"/retry", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/uploads/nope/cancel", nil, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "nope")

	rec = env.do(t, http.MethodPost, "/api/uploads/"+id+"/cancel", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	require.Eventually(t, func() bool {
		v, _ := env.queue.Task(id)
		return v.Status == upload.StatusCanceled
	}, 2*time.Second, 5*time.Millisecond)

	rec = env.do(t, http.MethodPost, "/api/uploads/"+id+"/cancel", nil, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/uploads/"+id+"/retry", nil, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/api/uploads/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, ok := env.queue.Task(id)
	assert.False(t, ok)

	rec = env.do(t, http.MethodDelete, "/api/uploads", nil, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestResultsNewestFirst(t *testing.T) {
	env := newTestEnv(t)

	for _, name := range []string{"first.pdf", "second.pdf"} {
		path := env.writeFile(t, name, name)
		rec := env.doJSON(t, http.MethodPost, "/api/uploads", map[string][]string{"refs": {path}})
		require.Equal(t, http.StatusAccepted, rec.Code)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		require.NoError(t, env.queue.Wait(ctx))
		cancel()
	}

	rec := env.do(t, http.MethodGet, "/api/results", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[struct {
		Results []models.UploadResult `json:"results"`
	}](t, rec)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "second.pdf", resp.Results[0].FileName)
	assert.Equal(t, "first.pdf", resp.Results[1].FileName)

	rec = env.do(t, http.MethodGet, "/api/results/msgpack", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/msgpack", rec.Header().Get(echo.HeaderContentType))
	var packed struct {
		Results []models.UploadResult `msgpack:"results"`
	}
	require.NoError(t, msgpack.Unmarshal(rec.Body.Bytes(), &packed))
	require.Len(t, packed.Results, 2)
	assert.Equal(t, "second.pdf", packed.Results[0].FileName)
}

func TestResultsHistory(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/api/results/history", nil, "")
	assert.Equal(t, http.StatusNotImplemented, rec.Code)

	hist := &stubHistory{}
	h := NewResultsHandler(env.queue, hist)
	req := httptest.NewRequest(http.MethodGet, "/api/results/history?projectId=3&limit=5", nil)
	rec = httptest.NewRecorder()
	c := env.e.NewContext(req, rec)
	if assert.NoError(t, h.HandleResultsHistory(c)) {
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"fileName":"a.pdf"`)
	}
	assert.Equal(t, int64(3), hist.projectID)
	assert.Equal(t, 5, hist.limit)

	req = httptest.NewRequest(http.MethodGet, "/api/results/history?limit=-1", nil)
	c = env.e.NewContext(req, httptest.NewRecorder())
	err := h.HandleResultsHistory(c)
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
}

func TestSessionEndpoints(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.session.SetUser(models.User{UserID: 1, Email: "r@lab.org"}))
	require.NoError(t, env.session.SetProjects([]models.Project{{ProjectID: 3, ProjectName: "Thesis"}}))

	rec := env.do(t, http.MethodGet, "/api/session", nil, "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[sessionResponse](t, rec)
	assert.True(t, resp.LoggedIn)
	require.NotNil(t, resp.SelectedProject)
	assert.Equal(t, "Thesis", resp.SelectedProject.ProjectName)

	rec = env.doJSON(t, http.MethodPut, "/api/session/project", map[string]int64{"projectId": 8})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[sessionResponse](t, rec)
	require.NotNil(t, resp.SelectedProject)
	assert.Equal(t, session.PlaceholderProjectName, resp.SelectedProject.ProjectName)

	rec = env.doJSON(t, http.MethodPut, "/api/session/project", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestErrorHandlerMapsDomainErrors(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{upload.ErrTaskNotFound, http.StatusNotFound, "NOT_FOUND"},
		{upload.ErrNotRetryable, http.StatusConflict, "CONFLICT"},
		{fmt.Errorf("wrapped: %w", upload.ErrNotInFlight), http.StatusConflict, "CONFLICT"},
		{session.ErrNotLoggedIn, http.StatusUnauthorized, "UNAUTHORIZED"},
		{&backend.StatusError{Status: 500}, http.StatusBadGateway, "BACKEND_ERROR"},
		{echo.NewHTTPError(http.StatusMethodNotAllowed, "nope"), http.StatusMethodNotAllowed, "HTTP_ERROR"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	handler := ErrorHandler(logging.Discard())
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := httptest.NewRecorder()
			c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
			handler(tt.err, c)
			assert.Equal(t, tt.status, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.code)
		})
	}
}

func readSSE(t *testing.T, r *bufio.Reader) (string, StreamMessage) {
	t.Helper()
	var event string
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		switch {
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
		case strings.HasPrefix(line, "data: "):
			var msg StreamMessage
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &msg))
			return event, msg
		}
	}
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.e)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get(echo.HeaderContentType))

	r := bufio.NewReader(resp.Body)
	event, _ := readSSE(t, r)
	assert.Equal(t, MsgTypeConnected, event)
	event, msg := readSSE(t, r)
	assert.Equal(t, MsgTypeTasks, event)
	assert.Contains(t, string(msg.Payload), `"tasks":[]`)

	env.bus.Publish(events.Event{Name: events.ProjectsUpdated})
	for {
		event, msg = readSSE(t, r)
		if event == MsgTypeEvent {
			break
		}
	}
	assert.Equal(t, string(events.ProjectsUpdated), msg.ID)
}

func TestEventSocket(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(env.e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/ws/events"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer ws.Close()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))

	var msg StreamMessage
	require.NoError(t, ws.ReadJSON(&msg))
	assert.Equal(t, MsgTypeConnected, msg.Type)

	readUntil := func(typ string) StreamMessage {
		for {
			var m StreamMessage
			require.NoError(t, ws.ReadJSON(&m))
			if m.Type == typ {
				return m
			}
		}
	}

	readUntil(MsgTypeTasks)

	require.NoError(t, ws.WriteJSON(StreamMessage{Type: MsgTypePing, ID: "p1"}))
	pong := readUntil(MsgTypePong)
	assert.Equal(t, "p1", pong.ID)

	require.NoError(t, ws.WriteJSON(StreamMessage{Type: MsgTypeCancel, ID: "missing"}))
	errMsg := readUntil(MsgTypeError)
	assert.Contains(t, string(errMsg.Payload), "NOT_FOUND")
}
