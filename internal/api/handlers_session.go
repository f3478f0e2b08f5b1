// handlers_session.go - Session state handlers
package api

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ismart-scholar/workbench/internal/models"
)

// SessionHandlerImpl implements the SessionHandler interface
type SessionHandlerImpl struct {
	session SessionState
}

// NewSessionHandler creates a session handler
func NewSessionHandler(s SessionState) SessionHandler {
	return &SessionHandlerImpl{session: s}
}

type sessionResponse struct {
	LoggedIn        bool             `json:"loggedIn"`
	User            *models.User     `json:"user,omitempty"`
	Projects        []models.Project `json:"projects"`
	SelectedProject *models.Project  `json:"selectedProject,omitempty"`
}

type selectProjectRequest struct {
	ProjectID *int64 `json:"projectId"`
}

// HandleGetSession returns the signed-in user, cached projects and selection
func (h *SessionHandlerImpl) HandleGetSession(c echo.Context) error {
	resp := sessionResponse{Projects: h.session.Projects()}
	if resp.Projects == nil {
		resp.Projects = []models.Project{}
	}
	if u, ok := h.session.User(); ok {
		resp.LoggedIn = true
		resp.User = &u
	}
	if p, ok := h.session.SelectedProject(); ok {
		resp.SelectedProject = &p
	}
	return c.JSON(http.StatusOK, resp)
}

// HandleSelectProject changes the project new uploads go to. 0 clears it.
func (h *SessionHandlerImpl) HandleSelectProject(c echo.Context) error {
	var req selectProjectRequest
	if err := c.Bind(&req); err != nil {
		return NewBadRequestError("invalid JSON body", err)
	}
	if req.ProjectID == nil || *req.ProjectID < 0 {
		return NewValidationError("projectId")
	}
	if err := h.session.Select(*req.ProjectID); err != nil {
		return NewInternalError("failed to save selection", err)
	}
	return h.HandleGetSession(c)
}
