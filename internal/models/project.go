package models

// User is the account record returned by /auth/login.
type User struct {
	UserID      int64  `json:"user_id" yaml:"user_id"`
	Name        string `json:"name,omitempty" yaml:"name,omitempty"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
	Affiliation string `json:"affiliation,omitempty" yaml:"affiliation,omitempty"`
}

// Credentials is the /auth/login request body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignupRequest is the /auth/signup request body.
type SignupRequest struct {
	Name        string `json:"name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	Affiliation string `json:"affiliation"`
}

// LoginResponse is the /auth/login response body.
type LoginResponse struct {
	User    User   `json:"user"`
	Message string `json:"message,omitempty"`
}

// Project is a research project owned by a user.
type Project struct {
	ProjectID   int64  `json:"project_id" yaml:"project_id"`
	ProjectName string `json:"project_name" yaml:"project_name"`
	ProjectDesc string `json:"project_desc,omitempty" yaml:"project_desc,omitempty"`
	CreatedAt   string `json:"created_at,omitempty" yaml:"created_at,omitempty"`
	RawQuery    string `json:"raw_query,omitempty" yaml:"raw_query,omitempty"`
}

// CreateProjectRequest is the /projects/create request body.
type CreateProjectRequest struct {
	UserID      int64  `json:"user_id"`
	ProjectName string `json:"project_name"`
	ProjectDesc string `json:"project_desc"`
}

// KeywordData is the keyword/summary state the backend keeps for a project.
type KeywordData struct {
	Keywords  []string         `json:"keywords,omitempty"`
	Summaries LooseString      `json:"summaries,omitempty"`
	Files     []map[string]any `json:"files,omitempty"`
	Project   *Project         `json:"project,omitempty"`
	Detail    string           `json:"detail,omitempty"`
}

// KeywordAnalysis is the /keyword/analyze response body.
type KeywordAnalysis struct {
	Message string `json:"message,omitempty"`
}
