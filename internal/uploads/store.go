// Package uploads keeps the reference images users attach to tasks.
package uploads

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"imagebatch/internal/domain"
	"imagebatch/internal/providers/image"
	"imagebatch/internal/storage"
)

// MaxImageBytes bounds a single upload.
const MaxImageBytes = 10 << 20

var allowedMIME = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

// Store validates uploads, writes their bytes to an object store and keeps
// metadata in memory in upload order.
type Store struct {
	objects storage.Objects
	now     func() time.Time

	mu    sync.RWMutex
	order []string
	items map[string]record
}

type record struct {
	meta domain.UploadedImage
	key  string
}

// NewStore returns a Store writing into objects.
func NewStore(objects storage.Objects) *Store {
	return &Store{
		objects: objects,
		now:     time.Now,
		items:   make(map[string]record),
	}
}

// Save validates and stores one image. The content type is detected from the
// bytes; the declared one is ignored.
func (s *Store) Save(ctx context.Context, name string, data []byte) (domain.UploadedImage, error) {
	if len(data) == 0 {
		return domain.UploadedImage{}, domain.ErrUnsupportedImage
	}
	if len(data) > MaxImageBytes {
		return domain.UploadedImage{}, domain.ErrImageTooLarge
	}
	mime := mimetype.Detect(data).String()
	ext, ok := allowedMIME[mime]
	if !ok {
		return domain.UploadedImage{}, fmt.Errorf("%w: %s", domain.ErrUnsupportedImage, mime)
	}
	id := uuid.NewString()
	key, err := s.objects.Write(ctx, "uploads/"+id+ext, data)
	if err != nil {
		return domain.UploadedImage{}, fmt.Errorf("uploads: write: %w", err)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		name = id + ext
	}
	meta := domain.UploadedImage{ID: id, Name: name, MIME: mime, Size: len(data), CreatedAt: s.now()}

	s.mu.Lock()
	s.items[id] = record{meta: meta, key: key}
	s.order = append(s.order, id)
	s.mu.Unlock()
	return meta, nil
}

// List returns metadata in upload order.
func (s *Store) List() []domain.UploadedImage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.UploadedImage, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.items[id].meta)
	}
	return out
}

// IDs returns the upload ids in order. Prompt expansion maps attachment
// indices onto this slice.
func (s *Store) IDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.order...)
}

// Get returns metadata and bytes for one upload.
func (s *Store) Get(ctx context.Context, id string) (domain.UploadedImage, []byte, error) {
	s.mu.RLock()
	rec, ok := s.items[id]
	s.mu.RUnlock()
	if !ok {
		return domain.UploadedImage{}, nil, domain.ErrNotFound
	}
	data, err := s.objects.Read(ctx, rec.key)
	if err != nil {
		return domain.UploadedImage{}, nil, fmt.Errorf("uploads: read %s: %w", id, err)
	}
	return rec.meta, data, nil
}

// Delete removes an upload. Tasks that still reference it fail at dispatch.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	rec, ok := s.items[id]
	if ok {
		delete(s.items, id)
		for i, v := range s.order {
			if v == id {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()
	if !ok {
		return domain.ErrNotFound
	}
	return s.objects.Delete(ctx, rec.key)
}

// Clear removes every upload.
func (s *Store) Clear(ctx context.Context) error {
	s.mu.Lock()
	items := s.items
	s.items = make(map[string]record)
	s.order = nil
	s.mu.Unlock()
	for _, rec := range items {
		if err := s.objects.Delete(ctx, rec.key); err != nil {
			return err
		}
	}
	return nil
}

// Resolve loads the binaries for ids concurrently, preserving order. Any
// missing id fails the whole resolution.
func (s *Store) Resolve(ctx context.Context, ids []string) ([]image.Attachment, error) {
	out := make([]image.Attachment, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, id := range ids {
		g.Go(func() error {
			meta, data, err := s.Get(gctx, id)
			if err != nil {
				return fmt.Errorf("attachment %s: %w", id, err)
			}
			out[i] = image.Attachment{Name: meta.Name, MIME: meta.MIME, Data: data}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
