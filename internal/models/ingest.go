package models

import (
	"encoding/json"
	"net/url"
	"strconv"
)

// IngestOptions are the tunables of a literature ingestion run.
// Zero values for optional filters mean "not set".
type IngestOptions struct {
	Limit               int
	PagesPerKeyword     int
	InterBatchDelayMs   int
	RequireAbstract     bool
	AuthorsInBackground bool
	OpenAlexEnabled     bool
	CrossrefEnabled     bool
	MinCitations        int
	YearMin             int
	YearMax             int
	QuartileIn          string
	NotifyUser          string
}

// DefaultIngestOptions returns the defaults the web client always sent.
func DefaultIngestOptions() IngestOptions {
	return IngestOptions{
		PagesPerKeyword:     5,
		InterBatchDelayMs:   3000,
		RequireAbstract:     true,
		AuthorsInBackground: true,
		OpenAlexEnabled:     true,
		CrossrefEnabled:     true,
	}
}

// Query encodes the options as ingest query parameters.
func (o IngestOptions) Query() url.Values {
	q := url.Values{}
	if o.Limit > 0 {
		q.Set("limit", strconv.Itoa(o.Limit))
	}
	q.Set("pages_per_keyword", strconv.Itoa(o.PagesPerKeyword))
	q.Set("inter_batch_delay_ms", strconv.Itoa(o.InterBatchDelayMs))
	q.Set("require_abstract", strconv.FormatBool(o.RequireAbstract))
	q.Set("authors_in_background", strconv.FormatBool(o.AuthorsInBackground))
	q.Set("openalex_enabled", strconv.FormatBool(o.OpenAlexEnabled))
	q.Set("crossref_enabled", strconv.FormatBool(o.CrossrefEnabled))
	if o.MinCitations > 0 {
		q.Set("min_citations", strconv.Itoa(o.MinCitations))
	}
	if o.YearMin > 0 {
		q.Set("year_min", strconv.Itoa(o.YearMin))
	}
	if o.YearMax > 0 {
		q.Set("year_max", strconv.Itoa(o.YearMax))
	}
	if o.QuartileIn != "" {
		q.Set("quartile_in", o.QuartileIn)
	}
	if o.NotifyUser != "" {
		q.Set("notify_user", o.NotifyUser)
	}
	return q
}

// IngestResult is the raw ingestion summary; its shape is owned by the backend.
type IngestResult json.RawMessage

// MarshalJSON implements json.Marshaler.
func (r IngestResult) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("null"), nil
	}
	return r, nil
}
