package backend

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ismart-scholar/workbench/internal/logging"
	"github.com/ismart-scholar/workbench/internal/models"
	"github.com/ismart-scholar/workbench/internal/testutil"
)

func newTestClient(t *testing.T) (*Client, *testutil.FakeBackend) {
	t.Helper()
	fake := testutil.NewFakeBackend(t)
	return New(fake.URL()+"/", 5*time.Second, logging.Discard()), fake
}

func TestLogin(t *testing.T) {
	c, fake := newTestClient(t)
	fake.AddUser(models.User{UserID: 7, Name: "Ada", Email: "ada@uni.edu"}, "secret")

	user, err := c.Login(context.Background(), "ada@uni.edu", "secret")
	require.NoError(t, err)
	assert.Equal(t, int64(7), user.UserID)

	_, err = c.Login(context.Background(), "ada@uni.edu", "wrong")
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusUnauthorized, se.Status)
	assert.Equal(t, "Invalid email or password", se.Detail)
}

func TestSignupThenLogin(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Signup(ctx, models.SignupRequest{Name: "Lin", Email: "lin@uni.edu", Password: "pw"}))
	assert.Error(t, c.Signup(ctx, models.SignupRequest{Name: "Lin", Email: "lin@uni.edu", Password: "pw"}))

	user, err := c.Login(ctx, "lin@uni.edu", "pw")
	require.NoError(t, err)
	assert.Equal(t, "Lin", user.Name)
}

func TestProjectLifecycle(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	fake.AddProject(1, models.Project{ProjectID: 5, ProjectName: "Existing"})

	created, err := c.CreateProject(ctx, 1, "Thesis", "  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultProjectDescription, created.ProjectDesc)

	projects, err := c.ListProjects(ctx, 1)
	require.NoError(t, err)
	require.Len(t, projects, 2)
	assert.Equal(t, "Existing", projects[0].ProjectName)

	require.NoError(t, c.DeleteProject(ctx, created.ProjectID))
	err = c.DeleteProject(ctx, created.ProjectID)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestKeywords(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	_, err := c.FetchKeywords(ctx, 3)
	assert.ErrorIs(t, err, ErrNoProjectData)

	_, err = c.AnalyzeKeywords(ctx, 1, 3, "graph neural networks", "brief.pdf", strings.NewReader("%PDF"))
	require.NoError(t, err)

	kd, err := c.FetchKeywords(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"prompt:graph neural networks"}, kd.Keywords)
	require.Len(t, kd.Files, 1)
	assert.Equal(t, "brief.pdf", kd.Files[0]["file_name"])
}

func TestStartIngestSendsDefaults(t *testing.T) {
	c, fake := newTestClient(t)
	fake.AddProject(1, models.Project{ProjectID: 9})

	opts := models.DefaultIngestOptions()
	opts.YearMin = 2015
	opts.NotifyUser = "ada@uni.edu"
	res, err := c.StartIngest(context.Background(), 9, opts)
	require.NoError(t, err)
	assert.JSONEq(t, `{"project_id":9,"inserted":12,"skipped":3}`, string(res))

	queries := fake.IngestQueries()
	require.Len(t, queries, 1)
	for _, want := range []string{
		"pages_per_keyword=5", "inter_batch_delay_ms=3000", "require_abstract=true",
		"authors_in_background=true", "openalex_enabled=true", "crossref_enabled=true",
		"year_min=2015", "notify_user=ada%40uni.edu",
	} {
		assert.Contains(t, queries[0], want)
	}
	assert.NotContains(t, queries[0], "min_citations")

	_, err = c.StartIngest(context.Background(), 404, opts)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestPapers(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()
	fake.AddPapers(2,
		models.Paper{PaperID: 1, Title: "Low", CitationCount: 3},
		models.Paper{PaperID: 2, Title: "High", CitationCount: 90, Recommendation: "strong"},
	)

	list, err := c.ListPapers(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, list.PaperCount)
	assert.Equal(t, "High", list.Papers[0].Title)

	recs, err := c.RecommendedPapers(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, 1, recs.RecommendationCount)

	paper, err := c.PaperDetail(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "Low", paper.Title)

	assert.Contains(t, fake.Requests(), "GET /papers/project/2")
}

func TestRecommendURLOverride(t *testing.T) {
	fake := testutil.NewFakeBackend(t)
	recs := testutil.NewFakeBackend(t)
	recs.AddPapers(4, models.Paper{PaperID: 8, Recommendation: "yes"})

	c := New(fake.URL(), time.Second, logging.Discard(), WithRecommendURL(recs.URL()))
	list, err := c.RecommendedPapers(context.Background(), 4)
	require.NoError(t, err)
	assert.Equal(t, 1, list.RecommendationCount)
	assert.Empty(t, fake.Requests())
}

func seedLiterature(fake *testutil.FakeBackend) {
	fake.AddReviewed(models.ReviewedPaper{
		PaperID: 10, ProjectID: 1, Title: "Older", FilePath: "/files/older.pdf",
		Analysis: &models.Analysis{AnalysisID: 1, CreatedAt: "2024-01-01T10:00:00"},
	}, models.Review{SummaryText: "old"}, []byte("older"))
	fake.AddReviewed(models.ReviewedPaper{
		PaperID: 11, ProjectID: 1, Title: "Newer", FilePath: "/files/newer.pdf",
		Analysis: &models.Analysis{AnalysisID: 2, CreatedAt: "2024-03-01T10:00:00"},
	}, models.Review{SummaryText: "new"}, []byte("newer-content"))
}

func TestReviewedPapersSortedNewestFirst(t *testing.T) {
	c, fake := newTestClient(t)
	seedLiterature(fake)

	papers, err := c.ReviewedPapers(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, papers, 2)
	assert.Equal(t, int64(11), papers[0].PaperID)
	assert.Equal(t, int64(10), papers[1].PaperID)
}

func TestReviewedPapersFallsBackToAlias(t *testing.T) {
	c, fake := newTestClient(t)
	seedLiterature(fake)
	fake.UseLegacyLiteratureRoute()

	papers, err := c.ReviewedPapers(context.Background(), 1)
	require.NoError(t, err)
	assert.Len(t, papers, 2)
	assert.Contains(t, fake.Requests(), "GET "+reviewedPapersAliasPath)
}

func TestLiteratureDetail(t *testing.T) {
	c, fake := newTestClient(t)
	seedLiterature(fake)

	detail, err := c.LiteratureDetail(context.Background(), 1, 11)
	require.NoError(t, err)
	assert.Equal(t, "new", detail.Review.SummaryText)
	assert.Equal(t, "/files/newer.pdf", detail.FilePath)

	_, err = c.LiteratureDetail(context.Background(), 1, 99)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestDownloadAndDelete(t *testing.T) {
	c, fake := newTestClient(t)
	seedLiterature(fake)
	ctx := context.Background()

	var buf bytes.Buffer
	name, n, err := c.DownloadLiteraturePaper(ctx, 11, &buf)
	require.NoError(t, err)
	assert.Equal(t, "paper-11.pdf", name)
	assert.Equal(t, int64(len("newer-content")), n)
	assert.Equal(t, "newer-content", buf.String())

	_, err = c.DeleteLiteraturePaper(ctx, 11)
	require.NoError(t, err)
	_, _, err = c.DownloadLiteraturePaper(ctx, 11, &buf)
	assert.True(t, IsStatus(err, http.StatusNotFound))
}

func TestUploadAndReview(t *testing.T) {
	c, fake := newTestClient(t)
	content := bytes.Repeat([]byte("x"), 64<<10)

	var last, total int64
	resp, err := c.UploadAndReview(context.Background(), 3, "paper.pdf", int64(len(content)), bytes.NewReader(content),
		func(sent, size int64) { last, total = sent, size })
	require.NoError(t, err)

	first, ok := resp.First()
	require.True(t, ok)
	assert.Equal(t, "paper.pdf", first.FileName)
	assert.Equal(t, int64(len(content)), last)
	assert.Equal(t, int64(len(content)), total)

	uploaded := fake.Uploaded()
	require.Len(t, uploaded, 1)
	assert.Equal(t, testutil.UploadedFile{ProjectID: 3, Name: "paper.pdf", Size: int64(len(content))}, uploaded[0])
}

func TestUploadAndReviewErrors(t *testing.T) {
	c, fake := newTestClient(t)
	fake.ScriptUpload("broken.pdf", testutil.UploadBehavior{Status: http.StatusInternalServerError})
	fake.ScriptUpload("garbled.pdf", testutil.UploadBehavior{Body: "<html>oops"})
	fake.ScriptUpload("created.pdf", testutil.UploadBehavior{Status: http.StatusCreated, Body: `{"results":[]}`})

	upload := func(name string) error {
		_, err := c.UploadAndReview(context.Background(), 1, name, 1, strings.NewReader("x"), nil)
		return err
	}

	var se *StatusError
	require.True(t, errors.As(upload("broken.pdf"), &se))
	assert.Equal(t, 500, se.Status)

	assert.ErrorIs(t, upload("garbled.pdf"), ErrDecode)
	assert.True(t, IsStatus(upload("created.pdf"), http.StatusCreated))
}

func TestTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, time.Second, logging.Discard())
	_, err := c.ListProjects(context.Background(), 1)
	require.Error(t, err)

	var se *StatusError
	assert.False(t, errors.As(err, &se))
	assert.False(t, errors.Is(err, ErrDecode))
}

func TestExtractDetail(t *testing.T) {
	tests := []struct {
		body string
		want string
	}{
		{`{"detail":"Project not found"}`, "Project not found"},
		{`{"message":"Login failed"}`, "Login failed"},
		{`{"detail":[{"loc":["query"],"msg":"bad"}]}`, `[{"loc":["query"],"msg":"bad"}]`},
		{`Internal Server Error`, "Internal Server Error"},
		{``, ""},
	}
	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			assert.Equal(t, tt.want, extractDetail([]byte(tt.body)))
		})
	}
}

func TestDownloadFilenameStaysInDirectory(t *testing.T) {
	tests := []struct {
		disposition string
		want        string
	}{
		{`attachment; filename="report.pdf"`, "report.pdf"},
		{`attachment; filename="../../../home/u/.bashrc"`, ".bashrc"},
		{`attachment; filename="/etc/passwd"`, "passwd"},
		{`attachment; filename="..\\..\\win.ini"`, "win.ini"},
		{`attachment; filename=".."`, ""},
		{`attachment; filename="/"`, ""},
		{`attachment; filename=""`, ""},
	}
	for _, tt := range tests {
		t.Run(tt.disposition, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Disposition", tt.disposition)
				w.Write([]byte("pdf"))
			}))
			defer srv.Close()

			c := New(srv.URL, time.Second, logging.Discard())
			var buf bytes.Buffer
			name, n, err := c.DownloadLiteraturePaper(context.Background(), 1, &buf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, name)
			assert.Equal(t, int64(3), n)
		})
	}
}
