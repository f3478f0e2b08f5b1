package models

// Author is a paper author as returned with include_authors=true.
type Author struct {
	Name        string `json:"name,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
}

// Paper is an ingested paper record.
type Paper struct {
	PaperID         int64       `json:"paper_id"`
	Title           string      `json:"title"`
	Abstract        string      `json:"abstract,omitempty"`
	Journal         string      `json:"journal,omitempty"`
	PublicationYear int         `json:"publication_year,omitempty"`
	CitationCount   int         `json:"citation_count,omitempty"`
	ImpactFactor    *float64    `json:"impact_factor,omitempty"`
	DOI             string      `json:"doi,omitempty"`
	Authors         []Author    `json:"authors,omitempty"`
	OAURL           string      `json:"oa_url,omitempty"`
	URL             string      `json:"url,omitempty"`
	FetchedFrom     string      `json:"fetched_from,omitempty"`
	IngestionDate   string      `json:"ingestion_date,omitempty"`
	Recommendation  LooseString `json:"recommendation,omitempty"`
}

// PaperList is the /papers/project response body.
type PaperList struct {
	PaperCount int     `json:"paper_count"`
	Papers     []Paper `json:"papers"`
}

// RecommendedList is the /papers/recommended response body.
type RecommendedList struct {
	RecommendationCount int     `json:"recommendation_count"`
	RecommendedPapers   []Paper `json:"recommended_papers"`
}
