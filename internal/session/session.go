// Package session is the application state object: the signed-in user, the
// cached project list and the selected project, persisted through a storage.Store.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ismart-scholar/workbench/internal/events"
	"github.com/ismart-scholar/workbench/internal/models"
	"github.com/ismart-scholar/workbench/internal/storage"
)

// Persisted keys.
const (
	KeyUser              = "user"
	KeyProjects          = "projects"
	KeySelectedProjectID = "selectedProjectId"
)

// PlaceholderProjectName is used when the selected project is not in the cache.
const PlaceholderProjectName = "Selected Project"

var (
	ErrNotLoggedIn = errors.New("not logged in")
	ErrNoProject   = errors.New("no project selected")
)

// Session holds state shared by the CLI commands and the local API.
type Session struct {
	mu       sync.RWMutex
	store    storage.Store
	bus      *events.Bus
	logger   *logrus.Logger
	user     *models.User
	projects []models.Project
	selected int64
}

// New creates a Session over store. bus may be nil.
func New(store storage.Store, bus *events.Bus, logger *logrus.Logger) *Session {
	return &Session{store: store, bus: bus, logger: logger}
}

// Load reads persisted state. Unreadable entries are dropped with a warning
// so a corrupt value never locks the user out.
func (s *Session) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var user models.User
	ok, err := s.read(KeyUser, &user)
	if err != nil {
		return err
	}
	if ok {
		s.user = &user
	}

	var projects []models.Project
	if _, err := s.read(KeyProjects, &projects); err != nil {
		return err
	}
	s.projects = projects

	var selected int64
	if _, err := s.read(KeySelectedProjectID, &selected); err != nil {
		return err
	}
	s.selected = selected
	return nil
}

func (s *Session) read(key string, v any) (bool, error) {
	raw, ok, err := s.store.Get(key)
	if err != nil {
		return false, fmt.Errorf("reading %s: %w", key, err)
	}
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("discarding unreadable session value")
		return false, nil
	}
	return true, nil
}

func (s *Session) write(key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", key, err)
	}
	if err := s.store.Set(key, raw); err != nil {
		return fmt.Errorf("saving %s: %w", key, err)
	}
	return nil
}

func (s *Session) publish(ev events.Event) {
	if s.bus != nil {
		s.bus.Publish(ev)
	}
}

// User returns the signed-in user.
func (s *Session) User() (models.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return models.User{}, false
	}
	return *s.user, true
}

// RequireUser returns the signed-in user or ErrNotLoggedIn.
func (s *Session) RequireUser() (models.User, error) {
	u, ok := s.User()
	if !ok {
		return models.User{}, ErrNotLoggedIn
	}
	return u, nil
}

// LoggedIn reports whether a user record is stored.
func (s *Session) LoggedIn() bool {
	_, ok := s.User()
	return ok
}

// SetUser stores the signed-in user.
func (s *Session) SetUser(u models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.write(KeyUser, u); err != nil {
		return err
	}
	s.user = &u
	return nil
}

// Projects returns a copy of the cached project list.
func (s *Session) Projects() []models.Project {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Project(nil), s.projects...)
}

// SetProjects replaces the cached list and publishes projectsUpdated.
func (s *Session) SetProjects(projects []models.Project) error {
	s.mu.Lock()
	err := s.setProjectsLocked(append([]models.Project(nil), projects...))
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(events.Event{Name: events.ProjectsUpdated})
	return nil
}

// setProjectsLocked persists projects and caches them. s.mu must be held.
func (s *Session) setProjectsLocked(projects []models.Project) error {
	if err := s.write(KeyProjects, projects); err != nil {
		return err
	}
	s.projects = projects
	return nil
}

// AddProject appends or replaces p in the cache.
func (s *Session) AddProject(p models.Project) error {
	s.mu.Lock()
	projects := append([]models.Project(nil), s.projects...)
	replaced := false
	for i := range projects {
		if projects[i].ProjectID == p.ProjectID {
			projects[i] = p
			replaced = true
		}
	}
	if !replaced {
		projects = append(projects, p)
	}
	err := s.setProjectsLocked(projects)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	s.publish(events.Event{Name: events.ProjectsUpdated})
	return nil
}

// RemoveProject drops id from the cache and clears the selection if it pointed at id.
func (s *Session) RemoveProject(id int64) error {
	s.mu.Lock()
	kept := make([]models.Project, 0, len(s.projects))
	for _, p := range s.projects {
		if p.ProjectID != id {
			kept = append(kept, p)
		}
	}
	if err := s.setProjectsLocked(kept); err != nil {
		s.mu.Unlock()
		return err
	}
	deselected := s.selected != 0 && s.selected == id
	if deselected {
		if err := s.store.Delete(KeySelectedProjectID); err != nil {
			s.mu.Unlock()
			return err
		}
		s.selected = 0
	}
	s.mu.Unlock()

	s.publish(events.Event{Name: events.ProjectsUpdated})
	if deselected {
		s.publish(events.Event{Name: events.ProjectChanged})
	}
	return nil
}

// Select sets the current project and publishes projectChanged. Zero clears it.
func (s *Session) Select(id int64) error {
	s.mu.Lock()
	var err error
	if id == 0 {
		err = s.store.Delete(KeySelectedProjectID)
	} else {
		err = s.write(KeySelectedProjectID, id)
	}
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.selected = id
	s.mu.Unlock()

	s.publish(events.Event{Name: events.ProjectChanged, ProjectID: id})
	return nil
}

// SelectedProjectID returns the selected project id.
func (s *Session) SelectedProjectID() (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected, s.selected != 0
}

// RequireProject returns the selected project id or ErrNoProject.
func (s *Session) RequireProject() (int64, error) {
	id, ok := s.SelectedProjectID()
	if !ok {
		return 0, ErrNoProject
	}
	return id, nil
}

// SelectedProject returns the selected project from the cache, or a
// placeholder carrying only the id when the cache does not have it.
func (s *Session) SelectedProject() (models.Project, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.selected == 0 {
		return models.Project{}, false
	}
	for _, p := range s.projects {
		if p.ProjectID == s.selected {
			return p, true
		}
	}
	return models.Project{ProjectID: s.selected, ProjectName: PlaceholderProjectName}, true
}

// Logout clears every persisted key.
func (s *Session) Logout() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, key := range []string{KeyUser, KeyProjects, KeySelectedProjectID} {
		if err := s.store.Delete(key); err != nil {
			return fmt.Errorf("clearing %s: %w", key, err)
		}
	}
	s.user = nil
	s.projects = nil
	s.selected = 0
	return nil
}
