package models

import (
	"sort"
	"time"
)

// Analysis identifies the review attached to an uploaded paper.
type Analysis struct {
	AnalysisID int64  `json:"analysis_id"`
	CreatedAt  string `json:"created_at,omitempty"`
}

// ReviewedPaper is an uploaded paper that has a literature review.
type ReviewedPaper struct {
	PaperID         int64     `json:"paper_id"`
	ProjectID       int64     `json:"project_id"`
	Title           string    `json:"title"`
	PublicationYear int       `json:"publication_year,omitempty"`
	FileType        string    `json:"file_type,omitempty"`
	FilePath        string    `json:"file_path,omitempty"`
	Analysis        *Analysis `json:"analysis,omitempty"`
}

func (p ReviewedPaper) analysisTime() time.Time {
	if p.Analysis == nil || p.Analysis.CreatedAt == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, p.Analysis.CreatedAt); err == nil {
			return t
		}
	}
	return time.Time{}
}

// SortReviewedPapers orders papers newest analysis first, then by paper id descending.
func SortReviewedPapers(papers []ReviewedPaper) {
	sort.SliceStable(papers, func(i, j int) bool {
		ti, tj := papers[i].analysisTime(), papers[j].analysisTime()
		if !ti.Equal(tj) {
			return ti.After(tj)
		}
		return papers[i].PaperID > papers[j].PaperID
	})
}

// ReviewedPaperList is the literature-review-fetch response body.
type ReviewedPaperList struct {
	PapersWithReviews []ReviewedPaper `json:"papers_with_reviews"`
}

// ProjectLiterature is the /literature/project/{id}/papers response body.
type ProjectLiterature struct {
	Papers []ReviewedPaper `json:"papers"`
}

// Review is the literature review generated for one uploaded paper.
type Review struct {
	PaperID          int64    `json:"paper_id"`
	Title            string   `json:"title,omitempty"`
	SummaryText      string   `json:"summary_text,omitempty"`
	Strengths        []string `json:"strengths,omitempty"`
	Weaknesses       []string `json:"weaknesses,omitempty"`
	Gaps             []string `json:"gaps,omitempty"`
	PeerReviewed     *bool    `json:"peer_reviewed,omitempty"`
	CritiqueScore    *float64 `json:"critique_score,omitempty"`
	Tone             string   `json:"tone,omitempty"`
	SentimentScore   *float64 `json:"sentiment_score,omitempty"`
	SemanticPatterns []string `json:"semantic_patterns,omitempty"`
	CreatedAt        string   `json:"created_at,omitempty"`
	Message          string   `json:"message,omitempty"`
}

// LiteratureDetail combines a review with the stored file path of its paper.
type LiteratureDetail struct {
	Review   Review `json:"review"`
	FilePath string `json:"file_path,omitempty"`
}

// DeleteResponse is the body returned by delete endpoints.
type DeleteResponse struct {
	Message string `json:"message,omitempty"`
}
