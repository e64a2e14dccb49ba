// Package memory stores captured images in-memory for development.
package memory

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/pagesnap/internal/assets"
	"github.com/JakeFAU/pagesnap/internal/id/uuid"
)

// Config tunes the in-memory store.
type Config struct {
	Folder         string
	BaseURL        string
	MaxUploadBytes int64
}

type entry struct {
	asset assets.MediaAsset
	data  []byte
}

// Store implements assets.Store over a map.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	cfg     Config
	ids     assets.IDGenerator
	now     func() time.Time
}

// New creates an empty store. ids may be nil.
func New(cfg Config, ids assets.IDGenerator) *Store {
	cfg.Folder = assets.Folder(cfg.Folder)
	if cfg.BaseURL == "" {
		cfg.BaseURL = "memory://"
	}
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = assets.DefaultMaxUploadBytes
	}
	if ids == nil {
		ids = uuid.New()
	}
	return &Store{
		entries: make(map[string]entry),
		cfg:     cfg,
		ids:     ids,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Upload copies data into the store.
func (s *Store) Upload(_ context.Context, data []byte, filename string, p assets.Provenance) (assets.MediaAsset, error) {
	if err := assets.CheckUpload(data, filename, s.cfg.MaxUploadBytes); err != nil {
		return assets.MediaAsset{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return assets.MediaAsset{}, assets.NewStoreError("upload", assets.ReasonStoreUnavailable, err)
	}

	url := fmt.Sprintf("%s/%s/%s/%s", strings.TrimRight(s.cfg.BaseURL, "/"), s.cfg.Folder, id, filename)
	asset := assets.MediaAsset{
		ID:         id,
		Name:       filename,
		URL:        url,
		PreviewURL: url,
		Size:       int64(len(data)),
		MimeType:   assets.MIMEType,
		Folder:     s.cfg.Folder,
		SourceURL:  p.SourceURL,
		Engine:     p.Engine,
		CapturedAt: p.CapturedAt,
		CreatedAt:  s.now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[id] = entry{asset: asset, data: append([]byte(nil), data...)}
	return asset, nil
}

// List yields a snapshot of the folder's assets in ID order.
func (s *Store) List(_ context.Context, folder string) iter.Seq2[assets.MediaAsset, error] {
	folder = assets.Folder(folder)
	return func(yield func(assets.MediaAsset, error) bool) {
		s.mu.RLock()
		matched := make([]assets.MediaAsset, 0, len(s.entries))
		for _, e := range s.entries {
			if e.asset.Folder == folder {
				matched = append(matched, e.asset)
			}
		}
		s.mu.RUnlock()

		slices.SortFunc(matched, func(a, b assets.MediaAsset) int {
			return strings.Compare(a.ID, b.ID)
		})
		for _, asset := range matched {
			if !yield(asset, nil) {
				return
			}
		}
	}
}

// Delete removes the asset with id.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return assets.NewStoreError("delete", assets.ReasonNotFound, fmt.Errorf("id %q", id))
	}
	delete(s.entries, id)
	return nil
}

// Object returns a copy of the stored bytes for id.
func (s *Store) Object(id string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), e.data...), true
}
