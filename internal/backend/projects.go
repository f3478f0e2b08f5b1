package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/ismart-scholar/workbench/internal/models"
)

// DefaultProjectDescription is sent when a project is created without one.
const DefaultProjectDescription = "No description"

// ListProjects returns the projects owned by userID.
func (c *Client) ListProjects(ctx context.Context, userID int64) ([]models.Project, error) {
	var projects []models.Project
	err := c.makeRequest(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/projects/user/%d", userID),
		route:  "/projects/user/:id",
	}, &projects)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	return projects, nil
}

// CreateProject creates a project for userID.
func (c *Client) CreateProject(ctx context.Context, userID int64, name, desc string) (models.Project, error) {
	if strings.TrimSpace(desc) == "" {
		desc = DefaultProjectDescription
	}
	body, err := jsonBody(models.CreateProjectRequest{
		UserID:      userID,
		ProjectName: name,
		ProjectDesc: desc,
	})
	if err != nil {
		return models.Project{}, err
	}

	var project models.Project
	err = c.makeRequest(ctx, request{
		method:      http.MethodPost,
		path:        "/projects/create",
		route:       "/projects/create",
		body:        body,
		contentType: "application/json",
	}, &project)
	if err != nil {
		return models.Project{}, fmt.Errorf("failed to create project: %w", err)
	}
	return project, nil
}

// DeleteProject deletes a project.
func (c *Client) DeleteProject(ctx context.Context, projectID int64) error {
	err := c.makeRequest(ctx, request{
		method: http.MethodDelete,
		path:   fmt.Sprintf("/projects/%d", projectID),
		route:  "/projects/:id",
	}, nil)
	if err != nil {
		return fmt.Errorf("failed to delete project: %w", err)
	}
	return nil
}

// AnalyzeKeywords asks the backend to derive search keywords from a prompt and
// an optional document. doc may be nil.
func (c *Client) AnalyzeKeywords(ctx context.Context, userID, projectID int64, prompt, docName string, doc io.Reader) (models.KeywordAnalysis, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields := map[string]string{
		"user_id":    strconv.FormatInt(userID, 10),
		"project_id": strconv.FormatInt(projectID, 10),
		"prompt":     prompt,
	}
	for _, k := range []string{"user_id", "project_id", "prompt"} {
		if err := mw.WriteField(k, fields[k]); err != nil {
			return models.KeywordAnalysis{}, fmt.Errorf("writing form: %w", err)
		}
	}
	if doc != nil {
		part, err := mw.CreateFormFile("files", docName)
		if err != nil {
			return models.KeywordAnalysis{}, fmt.Errorf("writing form: %w", err)
		}
		if _, err := io.Copy(part, doc); err != nil {
			return models.KeywordAnalysis{}, fmt.Errorf("reading %s: %w", docName, err)
		}
	}
	if err := mw.Close(); err != nil {
		return models.KeywordAnalysis{}, fmt.Errorf("writing form: %w", err)
	}

	var out models.KeywordAnalysis
	err := c.makeRequest(ctx, request{
		method:      http.MethodPost,
		path:        "/keyword/analyze",
		route:       "/keyword/analyze",
		body:        &buf,
		contentType: mw.FormDataContentType(),
	}, &out)
	if err != nil {
		return models.KeywordAnalysis{}, fmt.Errorf("keyword analysis failed: %w", err)
	}
	return out, nil
}

// FetchKeywords returns the stored keyword state of a project. A response
// carrying only a detail message is reported as ErrNoProjectData.
func (c *Client) FetchKeywords(ctx context.Context, projectID int64) (models.KeywordData, error) {
	var data models.KeywordData
	err := c.makeRequest(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/keyword/fetch/%d", projectID),
		route:  "/keyword/fetch/:id",
	}, &data)
	if err != nil {
		return models.KeywordData{}, fmt.Errorf("failed to fetch keywords: %w", err)
	}
	if data.Detail != "" {
		return models.KeywordData{}, fmt.Errorf("%w: %s", ErrNoProjectData, data.Detail)
	}
	return data, nil
}

// StartIngest runs a literature ingestion for a project and returns the raw summary.
// The call blocks until the backend finishes.
func (c *Client) StartIngest(ctx context.Context, projectID int64, opts models.IngestOptions) (models.IngestResult, error) {
	resp, err := c.send(ctx, request{
		method: http.MethodPost,
		path:   fmt.Sprintf("/research/ingest/%d", projectID),
		route:  "/research/ingest/:id",
		query:  opts.Query(),
	})
	if err != nil {
		return nil, fmt.Errorf("ingest failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ingest failed: %w", newStatusError(resp))
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("ingest failed: reading body: %w", err)
	}
	if !json.Valid(raw) {
		return nil, &DecodeError{Route: "/research/ingest/:id", Err: fmt.Errorf("body is not JSON")}
	}
	return models.IngestResult(raw), nil
}
