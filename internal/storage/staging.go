package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// StagedFile describes a file received by the local API and kept on disk
// until the upload queue has sent it.
type StagedFile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Size      int64     `json:"size"`
	StagedAt  time.Time `json:"stagedAt"`
	localPath string
}

// StagingStore keeps received files under a directory.
type StagingStore struct {
	mu    sync.RWMutex
	dir   string
	files map[string]*StagedFile
}

// NewStagingStore creates the staging directory if needed.
func NewStagingStore(dir string) (*StagingStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating staging directory: %w", err)
	}

	return &StagingStore{
		dir:   dir,
		files: make(map[string]*StagedFile),
	}, nil
}

// Save copies r into the staging directory.
func (s *StagingStore) Save(name string, r io.Reader) (*StagedFile, error) {
	id := uuid.New().String()
	path := filepath.Join(s.dir, id)

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("creating file: %w", err)
	}
	defer f.Close()

	size, err := io.Copy(f, r)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("writing file: %w", err)
	}

	staged := &StagedFile{
		ID:        id,
		Name:      filepath.Base(name),
		Size:      size,
		StagedAt:  time.Now(),
		localPath: path,
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[id] = staged

	return staged, nil
}

// Get retrieves staged file metadata by ID.
func (s *StagingStore) Get(id string) (*StagedFile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staged, ok := s.files[id]
	if !ok {
		return nil, fmt.Errorf("staged file not found: %s", id)
	}
	return staged, nil
}

// Path returns the on-disk location of a staged file.
func (s *StagingStore) Path(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	staged, ok := s.files[id]
	if !ok {
		return "", fmt.Errorf("staged file not found: %s", id)
	}
	return staged.localPath, nil
}

// List returns staged files, newest first.
func (s *StagingStore) List() []*StagedFile {
	s.mu.RLock()
	defer s.mu.RUnlock()

	list := make([]*StagedFile, 0, len(s.files))
	for _, f := range s.files {
		list = append(list, f)
	}
	sort.Slice(list, func(i, j int) bool {
		return list[i].StagedAt.After(list[j].StagedAt)
	})
	return list
}

// Delete removes a staged file.
func (s *StagingStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	staged, ok := s.files[id]
	if !ok {
		return fmt.Errorf("staged file not found: %s", id)
	}

	if err := os.Remove(staged.localPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting file: %w", err)
	}
	delete(s.files, id)
	return nil
}

// Cleanup deletes files in the staging directory that no staged entry owns
// and that are older than maxAge, such as leftovers from an earlier run.
// Tracked files are removed with the upload that uses them.
func (s *StagingStore) Cleanup(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	removed := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if _, tracked := s.files[entry.Name()]; tracked {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, entry.Name())); err == nil {
			removed++
		}
	}
	return removed
}

// Upload returns a staged file as an upload source. Discarding the source
// deletes the staged copy.
func (s *StagingStore) Upload(id string) (*StagedUpload, error) {
	staged, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	return &StagedUpload{store: s, file: staged}, nil
}

// StagedUpload is a staged file handed to the upload queue.
type StagedUpload struct {
	store *StagingStore
	file  *StagedFile
}

func (u *StagedUpload) Name() string { return u.file.Name }
func (u *StagedUpload) Size() int64  { return u.file.Size }
func (u *StagedUpload) ID() string   { return u.file.ID }

// Open opens the staged copy for reading.
func (u *StagedUpload) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(u.file.localPath)
}

// Discard deletes the staged copy. Discarding twice is harmless.
func (u *StagedUpload) Discard() error {
	err := u.store.Delete(u.file.ID)
	if err != nil && !u.store.has(u.file.ID) {
		return nil
	}
	return err
}

func (s *StagingStore) has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.files[id]
	return ok
}
