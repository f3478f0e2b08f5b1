package source

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/ismart-scholar/workbench/internal/config"
)

// ObjectReader is the slice of an object store that ObjectFile needs.
type ObjectReader interface {
	Stat(ctx context.Context, bucket, key string) (int64, error)
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
}

// MinioObjects reads objects through minio-go.
type MinioObjects struct {
	client *minio.Client
}

// NewMinioObjects connects to the S3-compatible endpoint in cfg.
func NewMinioObjects(cfg config.ObjectsConfig) (*MinioObjects, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init minio client: %w", err)
	}
	return &MinioObjects{client: client}, nil
}

func (m *MinioObjects) Stat(ctx context.Context, bucket, key string) (int64, error) {
	info, err := m.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

func (m *MinioObjects) Get(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	return m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
}

// ObjectFile is an object in an S3-compatible bucket.
type ObjectFile struct {
	store  ObjectReader
	bucket string
	key    string
	size   int64
}

// ParseObjectURL splits s3://bucket/key.
func ParseObjectURL(ref string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(ref, "s3://")
	if !ok {
		return "", "", fmt.Errorf("not an s3 url: %s", ref)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" || strings.HasSuffix(key, "/") {
		return "", "", fmt.Errorf("s3 url must name an object: %s", ref)
	}
	return bucket, key, nil
}

func newObjectFile(ctx context.Context, store ObjectReader, ref string) (*ObjectFile, error) {
	bucket, key, err := ParseObjectURL(ref)
	if err != nil {
		return nil, err
	}
	size, err := store.Stat(ctx, bucket, key)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", ref, err)
	}
	return &ObjectFile{store: store, bucket: bucket, key: key, size: size}, nil
}

func (f *ObjectFile) Name() string { return path.Base(f.key) }
func (f *ObjectFile) Size() int64  { return f.size }

// Open streams the object.
func (f *ObjectFile) Open(ctx context.Context) (io.ReadCloser, error) {
	return f.store.Get(ctx, f.bucket, f.key)
}
