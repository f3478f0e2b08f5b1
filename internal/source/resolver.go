package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoObjectStore is returned for s3:// references when no endpoint is configured.
var ErrNoObjectStore = errors.New("s3 references need objects.endpoint to be configured")

// Resolver maps references to files.
type Resolver struct {
	objects ObjectReader
}

// NewResolver returns a Resolver. objects may be nil when s3:// is not used.
func NewResolver(objects ObjectReader) *Resolver {
	return &Resolver{objects: objects}
}

// Resolve returns one File per regular file named by refs. Directories
// contribute their regular files, non-recursively, in name order.
func (r *Resolver) Resolve(ctx context.Context, refs []string) ([]File, error) {
	var files []File
	for _, ref := range refs {
		if strings.HasPrefix(ref, "s3://") {
			if r.objects == nil {
				return nil, ErrNoObjectStore
			}
			f, err := newObjectFile(ctx, r.objects, ref)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
			continue
		}

		info, err := os.Stat(ref)
		if err != nil {
			return nil, fmt.Errorf("stat %s: %w", ref, err)
		}
		if !info.IsDir() {
			f, err := NewLocalFile(ref)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
			continue
		}

		entries, err := os.ReadDir(ref)
		if err != nil {
			return nil, fmt.Errorf("reading directory %s: %w", ref, err)
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, e := range entries {
			if !e.Type().IsRegular() {
				continue
			}
			f, err := NewLocalFile(filepath.Join(ref, e.Name()))
			if err != nil {
				return nil, err
			}
			files = append(files, f)
		}
	}
	return files, nil
}
