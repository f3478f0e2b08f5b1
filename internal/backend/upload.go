package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/ismart-scholar/workbench/internal/models"
)

// ProgressFunc receives the bytes of file content sent so far and the file size.
type ProgressFunc func(sent, total int64)

// UploadAndReview streams one file to the upload-and-review endpoint as the
// multipart field "files". Only 200 counts as success.
func (c *Client) UploadAndReview(ctx context.Context, projectID int64, name string, size int64, content io.Reader, onProgress ProgressFunc) (*models.UploadResponse, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	done := make(chan struct{})
	go func() {
		defer close(done)
		part, err := mw.CreateFormFile("files", name)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		src := &progressReader{r: content, total: size, onProgress: onProgress}
		if _, err := io.Copy(part, src); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()
	defer func() {
		pr.Close()
		<-done
	}()

	route := "/literature/project/:id/upload-and-review"
	resp, err := c.send(ctx, request{
		method:      http.MethodPost,
		path:        fmt.Sprintf("/literature/project/%d/upload-and-review", projectID),
		route:       route,
		body:        pr,
		contentType: mw.FormDataContentType(),
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, newStatusError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading upload response: %w", err)
	}
	var out models.UploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, &DecodeError{Route: route, Err: err}
	}
	return &out, nil
}

type progressReader struct {
	r          io.Reader
	sent       int64
	total      int64
	onProgress ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 && p.onProgress != nil {
		p.sent += int64(n)
		p.onProgress(p.sent, p.total)
	}
	return n, err
}
