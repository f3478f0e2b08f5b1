// Package source turns user references (paths, directories, s3:// URLs) into
// files the upload queue can read.
package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// File is something the upload queue can send.
type File interface {
	Name() string
	Size() int64
	Open(ctx context.Context) (io.ReadCloser, error)
}

// LocalFile is a regular file on disk.
type LocalFile struct {
	path string
	name string
	size int64
}

// NewLocalFile stats path and returns a File for it.
func NewLocalFile(path string) (*LocalFile, error) {
	return NewNamedLocalFile(path, filepath.Base(path))
}

// NewNamedLocalFile is NewLocalFile with an explicit display name, used for
// staged files whose on-disk name is an id.
func NewNamedLocalFile(path, name string) (*LocalFile, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%s is not a regular file", path)
	}
	return &LocalFile{path: path, name: name, size: info.Size()}, nil
}

func (f *LocalFile) Name() string { return f.name }
func (f *LocalFile) Size() int64  { return f.size }
func (f *LocalFile) Path() string { return f.path }

// Open opens the file for reading.
func (f *LocalFile) Open(context.Context) (io.ReadCloser, error) {
	return os.Open(f.path)
}

// BytesFile is an in-memory File.
type BytesFile struct {
	name string
	data []byte
}

// NewBytesFile wraps data as a File called name.
func NewBytesFile(name string, data []byte) *BytesFile {
	return &BytesFile{name: name, data: data}
}

func (f *BytesFile) Name() string { return f.name }
func (f *BytesFile) Size() int64  { return int64(len(f.data)) }

// Open returns a reader over the data.
func (f *BytesFile) Open(context.Context) (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(f.data)), nil
}
