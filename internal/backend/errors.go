package backend

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

var (
	// ErrDecode matches every DecodeError.
	ErrDecode = errors.New("could not decode backend response")
	// ErrNoProjectData is returned when the backend has no keyword data for a project yet.
	ErrNoProjectData = errors.New("no data for project")
)

// StatusError is a non-success HTTP response.
type StatusError struct {
	Status int
	Detail string
	Body   string
}

func (e *StatusError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("backend returned %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("backend returned %d %s", e.Status, http.StatusText(e.Status))
}

// DecodeError is a response body that could not be decoded.
type DecodeError struct {
	Route string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding %s response: %v", e.Route, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports DecodeError as ErrDecode.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// IsStatus reports whether err is a StatusError with one of codes.
func IsStatus(err error, codes ...int) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	for _, code := range codes {
		if se.Status == code {
			return true
		}
	}
	return false
}

func newStatusError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	io.Copy(io.Discard, resp.Body)
	return &StatusError{
		Status: resp.StatusCode,
		Detail: extractDetail(raw),
		Body:   string(raw),
	}
}

// extractDetail pulls a human message out of a FastAPI-style error body.
func extractDetail(raw []byte) string {
	var payload struct {
		Detail  json.RawMessage `json:"detail"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return strings.TrimSpace(string(raw))
	}
	if len(payload.Detail) > 0 && string(payload.Detail) != "null" {
		var s string
		if err := json.Unmarshal(payload.Detail, &s); err == nil {
			return s
		}
		return string(payload.Detail)
	}
	return payload.Message
}
