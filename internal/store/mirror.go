package store

import (
	"context"
	"fmt"
	"path"
	"strings"

	"cloud.google.com/go/storage"

	"github.com/Lllllllleong/academicdocflow/internal/gcp"
)

// Mirror replicates workspace writes into a GCS bucket under a prefix, so a
// run's outputs survive the machine that produced them.
type Mirror struct {
	client *storage.Client
	bucket *storage.BucketHandle
	prefix string
}

// NewMirror parses a gs://bucket[/prefix] URL and returns a mirror writing
// beneath it.
func NewMirror(ctx context.Context, bucketURL string) (*Mirror, error) {
	rest, ok := strings.CutPrefix(bucketURL, "gs://")
	if !ok || rest == "" {
		return nil, fmt.Errorf("mirror location must be a gs://bucket[/prefix] URL, got %q", bucketURL)
	}
	bucketName, prefix, _ := strings.Cut(rest, "/")

	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &Mirror{
		client: client,
		bucket: client.Bucket(bucketName),
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

// WriteTextAtomically mirrors immutable content; re-mirroring an existing
// object is a no-op.
func (m *Mirror) WriteTextAtomically(ctx context.Context, rel, content string) error {
	return gcp.SaveToGCSAtomically(ctx, m.bucket, m.objectName(rel), content)
}

// UploadFile mirrors a file with last-write-wins semantics, for outputs that
// repair runs legitimately rewrite.
func (m *Mirror) UploadFile(ctx context.Context, rel, localPath string) error {
	return gcp.UploadFileToGCS(ctx, m.bucket, m.objectName(rel), localPath)
}

func (m *Mirror) Close() error { return m.client.Close() }

func (m *Mirror) objectName(rel string) string {
	if m.prefix == "" {
		return rel
	}
	return path.Join(m.prefix, rel)
}
