// Package models contains domain types shared by the i-SMART workbench packages.
package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// UploadResult is the analysis record the backend returns for one uploaded file.
type UploadResult struct {
	FileName   string         `json:"file_name" msgpack:"file_name" yaml:"file_name"`
	PaperID    int64          `json:"paper_id" msgpack:"paper_id" yaml:"paper_id"`
	AnalysisID int64          `json:"analysis_id" msgpack:"analysis_id" yaml:"analysis_id"`
	Metadata   UploadMetadata `json:"metadata" msgpack:"metadata" yaml:"metadata"`
	Message    string         `json:"message" msgpack:"message" yaml:"message"`
}

// UploadMetadata holds the bibliographic fields extracted from an upload.
// Any of them may be missing or null.
type UploadMetadata struct {
	Author LooseString `json:"author,omitempty" msgpack:"author,omitempty" yaml:"author,omitempty"`
	Title  LooseString `json:"title,omitempty" msgpack:"title,omitempty" yaml:"title,omitempty"`
	Year   LooseString `json:"year,omitempty" msgpack:"year,omitempty" yaml:"year,omitempty"`
}

// DisplayTitle returns the metadata title, falling back to the file name.
func (r UploadResult) DisplayTitle() string {
	if r.Metadata.Title != "" {
		return string(r.Metadata.Title)
	}
	return r.FileName
}

// UploadResponse is the body of upload-and-review.
type UploadResponse struct {
	Results ResultList `json:"results"`
}

// First returns the first result, if any.
func (r *UploadResponse) First() (UploadResult, bool) {
	if r == nil || len(r.Results) == 0 {
		return UploadResult{}, false
	}
	return r.Results[0], true
}

// ResultList decodes either a JSON array of results or a single result object.
type ResultList []UploadResult

// UnmarshalJSON implements json.Unmarshaler.
func (l *ResultList) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}

	switch trimmed[0] {
	case '[':
		var list []UploadResult
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return err
		}
		*l = list
	case '{':
		var single UploadResult
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return err
		}
		*l = ResultList{single}
	default:
		return fmt.Errorf("results: unexpected JSON value %q", truncate(trimmed, 32))
	}
	return nil
}

// LooseString accepts a JSON string, number, boolean or null.
// The backend is inconsistent about the type of fields like year.
type LooseString string

// UnmarshalJSON implements json.Unmarshaler.
func (s *LooseString) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*s = ""
		return nil
	}
	if trimmed[0] == '"' {
		var str string
		if err := json.Unmarshal(trimmed, &str); err != nil {
			return err
		}
		*s = LooseString(str)
		return nil
	}

	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err == nil {
		*s = LooseString(num.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(trimmed, &b); err == nil {
		*s = LooseString(strconv.FormatBool(b))
		return nil
	}
	return fmt.Errorf("unsupported JSON value %q", truncate(trimmed, 32))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
