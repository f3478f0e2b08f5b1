// fake_backend.go - Scriptable stand-in for the i-SMART REST backend
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ismart-scholar/workbench/internal/models"
)

// UploadBehavior scripts the response to an upload of one file name.
type UploadBehavior struct {
	Status int           // defaults to 200
	Body   string        // raw body; empty means a generated result
	Delay  time.Duration // wait before answering
	Block  chan struct{} // wait until closed (or the request is canceled)
}

// UploadedFile records one received upload.
type UploadedFile struct {
	ProjectID int64
	Name      string
	Size      int64
}

// FakeBackend is an echo app on an httptest server.
type FakeBackend struct {
	Server *httptest.Server

	mu               sync.Mutex
	users            map[string]fakeUser
	projects         map[int64]models.Project
	owners           map[int64]int64
	keywords         map[int64]models.KeywordData
	papers           map[int64][]models.Paper
	reviewed         map[int64][]models.ReviewedPaper
	reviews          map[int64]models.Review
	files            map[int64][]byte
	uploads          map[string]UploadBehavior
	uploaded         []UploadedFile
	ingestQueries    []string
	requests         []string
	nextID           int64
	legacyLiterature bool
	ingestDelay      time.Duration
	inFlight         int
	maxInFlight      int
}

type fakeUser struct {
	user     models.User
	password string
}

// NewFakeBackend starts a fake backend that is closed with the test.
func NewFakeBackend(t testing.TB) *FakeBackend {
	t.Helper()
	f := &FakeBackend{
		users:    make(map[string]fakeUser),
		projects: make(map[int64]models.Project),
		owners:   make(map[int64]int64),
		keywords: make(map[int64]models.KeywordData),
		papers:   make(map[int64][]models.Paper),
		reviewed: make(map[int64][]models.ReviewedPaper),
		reviews:  make(map[int64]models.Review),
		files:    make(map[int64][]byte),
		uploads:  make(map[string]UploadBehavior),
		nextID:   100,
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			f.mu.Lock()
			f.requests = append(f.requests, c.Request().Method+" "+c.Request().URL.Path)
			f.mu.Unlock()
			return next(c)
		}
	})
	f.routes(e)

	f.Server = httptest.NewServer(e)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the server root.
func (f *FakeBackend) URL() string {
	return f.Server.URL
}

func (f *FakeBackend) routes(e *echo.Echo) {
	e.POST("/auth/login", f.login)
	e.POST("/auth/signup", f.signup)
	e.GET("/projects/user/:uid", f.listProjects)
	e.POST("/projects/create", f.createProject)
	e.DELETE("/projects/:id", f.deleteProject)
	e.POST("/keyword/analyze", f.analyzeKeywords)
	e.GET("/keyword/fetch/:id", f.fetchKeywords)
	e.POST("/research/ingest/:id", f.ingest)
	e.GET("/papers/project/:id", f.listPapers)
	e.GET("/papers/recommended/:id", f.recommended)
	e.GET("/papers/detail/:id", f.paperDetail)
	e.GET("/literature/literature-review-fetch", f.reviewedPapers)
	e.GET("/literature/litertaure-reiew-rftech", f.reviewedPapersAlias)
	e.GET("/literature/review/:id", f.review)
	e.GET("/literature/project/:id/papers", f.projectLiterature)
	e.DELETE("/literature/paper/:id", f.deleteLiterature)
	e.GET("/literature/paper/:id/download", f.download)
	e.POST("/literature/project/:id/upload-and-review", f.upload)
}

// Scripting helpers

// AddUser registers an account that can log in.
func (f *FakeBackend) AddUser(u models.User, password string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.Email] = fakeUser{user: u, password: password}
}

// AddProject stores a project owned by userID.
func (f *FakeBackend) AddProject(userID int64, p models.Project) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[p.ProjectID] = p
	f.owners[p.ProjectID] = userID
}

// SetKeywords stores keyword data for a project.
func (f *FakeBackend) SetKeywords(projectID int64, kd models.KeywordData) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keywords[projectID] = kd
}

// AddPapers stores ingested papers for a project.
func (f *FakeBackend) AddPapers(projectID int64, papers ...models.Paper) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.papers[projectID] = append(f.papers[projectID], papers...)
}

// AddReviewed stores an uploaded, reviewed paper with its review and content.
func (f *FakeBackend) AddReviewed(p models.ReviewedPaper, r models.Review, content []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reviewed[p.ProjectID] = append(f.reviewed[p.ProjectID], p)
	r.PaperID = p.PaperID
	f.reviews[p.PaperID] = r
	f.files[p.PaperID] = content
}

// UseLegacyLiteratureRoute makes the primary review list route answer 404.
func (f *FakeBackend) UseLegacyLiteratureRoute() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.legacyLiterature = true
}

// SetIngestDelay makes ingestion take d.
func (f *FakeBackend) SetIngestDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingestDelay = d
}

// ScriptUpload sets the behaviour for uploads of name.
func (f *FakeBackend) ScriptUpload(name string, b UploadBehavior) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads[name] = b
}

// Uploaded returns the uploads received so far.
func (f *FakeBackend) Uploaded() []UploadedFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]UploadedFile(nil), f.uploaded...)
}

// MaxInFlight returns the highest number of concurrent uploads seen.
func (f *FakeBackend) MaxInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// Requests returns "METHOD /path" for every request received.
func (f *FakeBackend) Requests() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.requests...)
}

// IngestQueries returns the raw query strings of ingest calls.
func (f *FakeBackend) IngestQueries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.ingestQueries...)
}

// Handlers

func idParam(c echo.Context, name string) (int64, error) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusUnprocessableEntity, "invalid id")
	}
	return id, nil
}

func detail(c echo.Context, status int, msg string) error {
	return c.JSON(status, map[string]string{"detail": msg})
}

func (f *FakeBackend) login(c echo.Context) error {
	var creds models.Credentials
	if err := c.Bind(&creds); err != nil {
		return err
	}
	f.mu.Lock()
	u, ok := f.users[creds.Email]
	f.mu.Unlock()
	if !ok || u.password != creds.Password {
		return c.JSON(http.StatusUnauthorized, map[string]string{"message": "Invalid email or password"})
	}
	return c.JSON(http.StatusOK, models.LoginResponse{User: u.user, Message: "Login successful"})
}

func (f *FakeBackend) signup(c echo.Context) error {
	var req models.SignupRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.users[req.Email]; exists {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "Email already registered"})
	}
	f.nextID++
	f.users[req.Email] = fakeUser{
		user:     models.User{UserID: f.nextID, Name: req.Name, Email: req.Email, Affiliation: req.Affiliation},
		password: req.Password,
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "User created"})
}

func (f *FakeBackend) listProjects(c echo.Context) error {
	uid, err := idParam(c, "uid")
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []models.Project{}
	for id, owner := range f.owners {
		if owner == uid {
			out = append(out, f.projects[id])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProjectID < out[j].ProjectID })
	return c.JSON(http.StatusOK, out)
}

func (f *FakeBackend) createProject(c echo.Context) error {
	var req models.CreateProjectRequest
	if err := c.Bind(&req); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	p := models.Project{
		ProjectID:   f.nextID,
		ProjectName: req.ProjectName,
		ProjectDesc: req.ProjectDesc,
		CreatedAt:   time.Now().UTC().Format(time.RFC3339),
	}
	f.projects[p.ProjectID] = p
	f.owners[p.ProjectID] = req.UserID
	return c.JSON(http.StatusOK, p)
}

func (f *FakeBackend) deleteProject(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[id]; !ok {
		return detail(c, http.StatusNotFound, "Project not found")
	}
	delete(f.projects, id)
	delete(f.owners, id)
	return c.JSON(http.StatusOK, map[string]string{"message": "Project deleted"})
}

func (f *FakeBackend) analyzeKeywords(c echo.Context) error {
	pid, err := strconv.ParseInt(c.FormValue("project_id"), 10, 64)
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "project_id is required")
	}
	kd := models.KeywordData{
		Keywords:  []string{"prompt:" + c.FormValue("prompt")},
		Summaries: "analysis of " + models.LooseString(c.FormValue("prompt")),
	}
	if fh, err := c.FormFile("files"); err == nil {
		kd.Files = []map[string]any{{"file_name": fh.Filename, "size": fh.Size}}
	}
	f.SetKeywords(pid, kd)
	return c.JSON(http.StatusOK, models.KeywordAnalysis{Message: "Keywords extracted"})
}

func (f *FakeBackend) fetchKeywords(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	f.mu.Lock()
	kd, ok := f.keywords[id]
	f.mu.Unlock()
	if !ok {
		return c.JSON(http.StatusOK, map[string]string{"detail": "No data found for this project"})
	}
	return c.JSON(http.StatusOK, kd)
}

func (f *FakeBackend) ingest(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.ingestQueries = append(f.ingestQueries, c.Request().URL.RawQuery)
	delay := f.ingestDelay
	_, known := f.projects[id]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}
	if !known {
		return detail(c, http.StatusNotFound, "Project not found")
	}
	return c.JSON(http.StatusOK, map[string]any{"project_id": id, "inserted": 12, "skipped": 3})
}

func (f *FakeBackend) listPapers(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	f.mu.Lock()
	papers := append([]models.Paper{}, f.papers[id]...)
	f.mu.Unlock()
	sort.SliceStable(papers, func(i, j int) bool { return papers[i].CitationCount > papers[j].CitationCount })
	return c.JSON(http.StatusOK, models.PaperList{PaperCount: len(papers), Papers: papers})
}

func (f *FakeBackend) recommended(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	f.mu.Lock()
	papers := append([]models.Paper{}, f.papers[id]...)
	f.mu.Unlock()
	var recs []models.Paper
	for _, p := range papers {
		if p.Recommendation != "" {
			recs = append(recs, p)
		}
	}
	return c.JSON(http.StatusOK, models.RecommendedList{RecommendationCount: len(recs), RecommendedPapers: recs})
}

func (f *FakeBackend) paperDetail(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, papers := range f.papers {
		for _, p := range papers {
			if p.PaperID == id {
				return c.JSON(http.StatusOK, p)
			}
		}
	}
	return detail(c, http.StatusNotFound, "Paper not found")
}

func (f *FakeBackend) reviewedPapers(c echo.Context) error {
	f.mu.Lock()
	legacy := f.legacyLiterature
	f.mu.Unlock()
	if legacy {
		return detail(c, http.StatusNotFound, "Not Found")
	}
	return f.reviewedPapersAlias(c)
}

func (f *FakeBackend) reviewedPapersAlias(c echo.Context) error {
	pid, err := strconv.ParseInt(c.QueryParam("project_id"), 10, 64)
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "project_id is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.ReviewedPaper
	for _, p := range f.reviewed[pid] {
		if p.Analysis != nil {
			out = append(out, p)
		}
	}
	return c.JSON(http.StatusOK, models.ReviewedPaperList{PapersWithReviews: out})
}

func (f *FakeBackend) review(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	f.mu.Lock()
	r, ok := f.reviews[id]
	f.mu.Unlock()
	if !ok {
		return detail(c, http.StatusNotFound, "Review not found")
	}
	return c.JSON(http.StatusOK, r)
}

func (f *FakeBackend) projectLiterature(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return c.JSON(http.StatusOK, models.ProjectLiterature{Papers: append([]models.ReviewedPaper{}, f.reviewed[id]...)})
}

func (f *FakeBackend) deleteLiterature(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.reviews[id]; !ok {
		return detail(c, http.StatusNotFound, "Paper not found")
	}
	delete(f.reviews, id)
	delete(f.files, id)
	for pid, papers := range f.reviewed {
		kept := papers[:0]
		for _, p := range papers {
			if p.PaperID != id {
				kept = append(kept, p)
			}
		}
		f.reviewed[pid] = kept
	}
	return c.JSON(http.StatusOK, models.DeleteResponse{Message: "Paper deleted"})
}

func (f *FakeBackend) download(c echo.Context) error {
	id, err := idParam(c, "id")
	if err != nil {
		return err
	}
	f.mu.Lock()
	data, ok := f.files[id]
	f.mu.Unlock()
	if !ok {
		return detail(c, http.StatusNotFound, "File not found")
	}
	c.Response().Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="paper-%d.pdf"`, id))
	return c.Blob(http.StatusOK, "application/pdf", data)
}

func (f *FakeBackend) upload(c echo.Context) error {
	pid, err := idParam(c, "id")
	if err != nil {
		return err
	}
	fh, err := c.FormFile("files")
	if err != nil {
		return detail(c, http.StatusUnprocessableEntity, "files is required")
	}
	src, err := fh.Open()
	if err != nil {
		return err
	}
	size, _ := io.Copy(io.Discard, src)
	src.Close()

	f.mu.Lock()
	behavior := f.uploads[fh.Filename]
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.uploaded = append(f.uploaded, UploadedFile{ProjectID: pid, Name: fh.Filename, Size: size})
	f.nextID++
	paperID := f.nextID
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	ctx := c.Request().Context()
	if behavior.Block != nil {
		select {
		case <-behavior.Block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if behavior.Delay > 0 {
		select {
		case <-time.After(behavior.Delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	status := behavior.Status
	if status == 0 {
		status = http.StatusOK
	}
	if behavior.Body != "" {
		return c.Blob(status, echo.MIMEApplicationJSON, []byte(behavior.Body))
	}
	if status != http.StatusOK {
		return detail(c, status, "upload rejected")
	}

	result := models.UploadResult{
		FileName:   fh.Filename,
		PaperID:    paperID,
		AnalysisID: paperID + 1000,
		Metadata:   models.UploadMetadata{Title: models.LooseString("Title of " + fh.Filename)},
		Message:    "Uploaded and reviewed",
	}
	body, _ := json.Marshal(map[string]any{"results": []models.UploadResult{result}})
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, body)
}
