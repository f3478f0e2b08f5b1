package backend

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ismart-scholar/workbench/internal/models"
)

const (
	reviewedPapersPath      = "/literature/literature-review-fetch"
	reviewedPapersAliasPath = "/literature/litertaure-reiew-rftech"
)

// ReviewedPapers lists the uploaded papers of a project that have a review,
// newest analysis first. Older backends only serve the misspelled alias route,
// which is tried when the primary route answers 404 or 405.
func (c *Client) ReviewedPapers(ctx context.Context, projectID int64) ([]models.ReviewedPaper, error) {
	q := url.Values{}
	q.Set("project_id", strconv.FormatInt(projectID, 10))

	var list models.ReviewedPaperList
	err := c.makeRequest(ctx, request{
		method: http.MethodGet,
		path:   reviewedPapersPath,
		route:  reviewedPapersPath,
		query:  q,
	}, &list)
	if IsStatus(err, http.StatusNotFound, http.StatusMethodNotAllowed) {
		c.logger.WithField("project", projectID).Debug("review list route missing, trying alias")
		list = models.ReviewedPaperList{}
		err = c.makeRequest(ctx, request{
			method: http.MethodGet,
			path:   reviewedPapersAliasPath,
			route:  reviewedPapersAliasPath,
			query:  q,
		}, &list)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load reviewed papers: %w", err)
	}

	models.SortReviewedPapers(list.PapersWithReviews)
	return list.PapersWithReviews, nil
}

// Review returns the literature review of one uploaded paper.
func (c *Client) Review(ctx context.Context, paperID int64) (models.Review, error) {
	var review models.Review
	err := c.makeRequest(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/literature/review/%d", paperID),
		route:  "/literature/review/:id",
	}, &review)
	if err != nil {
		return models.Review{}, fmt.Errorf("failed to load review: %w", err)
	}
	return review, nil
}

// ProjectLiterature lists every uploaded paper of a project with its stored file path.
func (c *Client) ProjectLiterature(ctx context.Context, projectID int64) ([]models.ReviewedPaper, error) {
	var list models.ProjectLiterature
	err := c.makeRequest(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/literature/project/%d/papers", projectID),
		route:  "/literature/project/:id/papers",
	}, &list)
	if err != nil {
		return nil, fmt.Errorf("failed to load project literature: %w", err)
	}
	return list.Papers, nil
}

// LiteratureDetail loads a review and the paper's file path concurrently.
// A failed file path lookup is logged and leaves FilePath empty.
func (c *Client) LiteratureDetail(ctx context.Context, projectID, paperID int64) (models.LiteratureDetail, error) {
	var detail models.LiteratureDetail

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		review, err := c.Review(gctx, paperID)
		if err != nil {
			return err
		}
		detail.Review = review
		return nil
	})
	g.Go(func() error {
		papers, err := c.ProjectLiterature(gctx, projectID)
		if err != nil {
			c.logger.WithError(err).WithField("paper", paperID).Warn("could not fetch file path")
			return nil
		}
		for _, p := range papers {
			if p.PaperID == paperID {
				detail.FilePath = p.FilePath
				break
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return models.LiteratureDetail{}, err
	}
	return detail, nil
}

// DeleteLiteraturePaper removes an uploaded paper and its review.
func (c *Client) DeleteLiteraturePaper(ctx context.Context, paperID int64) (models.DeleteResponse, error) {
	var out models.DeleteResponse
	err := c.makeRequest(ctx, request{
		method: http.MethodDelete,
		path:   fmt.Sprintf("/literature/paper/%d", paperID),
		route:  "/literature/paper/:id",
	}, &out)
	if err != nil {
		return models.DeleteResponse{}, fmt.Errorf("failed to delete paper: %w", err)
	}
	return out, nil
}

// DownloadLiteraturePaper streams the original file of an uploaded paper into w
// and returns the server-suggested file name, if any.
func (c *Client) DownloadLiteraturePaper(ctx context.Context, paperID int64, w io.Writer) (string, int64, error) {
	resp, err := c.send(ctx, request{
		method: http.MethodGet,
		path:   fmt.Sprintf("/literature/paper/%d/download", paperID),
		route:  "/literature/paper/:id/download",
	})
	if err != nil {
		return "", 0, fmt.Errorf("download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", 0, fmt.Errorf("download failed: %w", newStatusError(resp))
	}

	var filename string
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			filename = safeFilename(params["filename"])
		}
	}

	n, err := io.Copy(w, resp.Body)
	if err != nil {
		return filename, n, fmt.Errorf("download failed after %d bytes: %w", n, err)
	}
	return filename, n, nil
}

// safeFilename reduces a server-suggested name to its last path element.
// Names that do not leave a usable file name come back empty.
func safeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	switch name {
	case "", ".", "..", "/":
		return ""
	}
	return name
}
