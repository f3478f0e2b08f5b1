package backend

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ismart-scholar/workbench/internal/models"
)

// DefaultPaperLimit is the page size the paper list asks for.
const DefaultPaperLimit = 100

// ListPapers returns ingested papers sorted by citations, authors included.
func (c *Client) ListPapers(ctx context.Context, projectID int64, limit int) (models.PaperList, error) {
	if limit <= 0 {
		limit = DefaultPaperLimit
	}
	q := url.Values{}
	q.Set("limit", strconv.Itoa(limit))
	q.Set("sort_by", "citations")
	q.Set("order", "desc")
	q.Set("include_authors", "true")

	var list models.PaperList
	err := c.makeRequest(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/papers/project/%d", projectID),
		route:  "/papers/project/:id",
		query:  q,
	}, &list)
	if err != nil {
		return models.PaperList{}, fmt.Errorf("failed to list papers: %w", err)
	}
	return list, nil
}

// RecommendedPapers returns the recommendation list for a project.
func (c *Client) RecommendedPapers(ctx context.Context, projectID int64) (models.RecommendedList, error) {
	q := url.Values{}
	q.Set("limit", "200")

	var list models.RecommendedList
	err := c.makeRequest(ctx, request{
		method: http.MethodGet,
		base:   c.recommendURL,
		path:   fmt.Sprintf("/papers/recommended/%d", projectID),
		route:  "/papers/recommended/:id",
		query:  q,
	}, &list)
	if err != nil {
		return models.RecommendedList{}, fmt.Errorf("failed to load recommendations: %w", err)
	}
	return list, nil
}

// PaperDetail returns one ingested paper.
func (c *Client) PaperDetail(ctx context.Context, paperID int64) (models.Paper, error) {
	var paper models.Paper
	err := c.makeRequest(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/papers/detail/%d", paperID),
		route:  "/papers/detail/:id",
	}, &paper)
	if err != nil {
		return models.Paper{}, fmt.Errorf("failed to load paper: %w", err)
	}
	return paper, nil
}
