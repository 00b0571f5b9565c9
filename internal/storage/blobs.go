package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

const blobPrefix = "blobs/"

// BlobStore saves decoded provider images and hands back URLs served by the
// HTTP layer under publicBase.
type BlobStore struct {
	objects    Objects
	publicBase string
}

// NewBlobStore wraps objects. publicBase is the URL path the blobs handler is
// mounted on, e.g. "/v1/blobs".
func NewBlobStore(objects Objects, publicBase string) *BlobStore {
	return &BlobStore{objects: objects, publicBase: strings.TrimRight(publicBase, "/")}
}

// SaveBlob stores data under the task and returns its public URL.
func (b *BlobStore) SaveBlob(ctx context.Context, taskID string, data []byte, mime string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("storage: empty blob")
	}
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		taskID = "unassigned"
	}
	key := fmt.Sprintf("%s%s/%s%s", blobPrefix, taskID, uuid.NewString(), extensionFor(data, mime))
	stored, err := b.objects.Write(ctx, key, data)
	if err != nil {
		return "", err
	}
	return b.publicBase + "/" + strings.TrimPrefix(stored, blobPrefix), nil
}

// Open returns the blob addressed by name (the part after publicBase) and its
// detected content type.
func (b *BlobStore) Open(ctx context.Context, name string) ([]byte, string, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "/")
	if name == "" || strings.Contains(name, "..") {
		return nil, "", ErrObjectNotFound
	}
	data, err := b.objects.Read(ctx, blobPrefix+name)
	if err != nil {
		return nil, "", err
	}
	return data, mimetype.Detect(data).String(), nil
}

// Resolve maps a URL produced by SaveBlob back to its name, reporting false
// for URLs this store did not issue.
func (b *BlobStore) Resolve(url string) (string, bool) {
	prefix := b.publicBase + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	return strings.TrimPrefix(url, prefix), true
}

func extensionFor(data []byte, declared string) string {
	if m := mimetype.Lookup(strings.TrimSpace(declared)); m != nil && m.Extension() != "" {
		return m.Extension()
	}
	if ext := mimetype.Detect(data).Extension(); ext != "" {
		return ext
	}
	return ".bin"
}
