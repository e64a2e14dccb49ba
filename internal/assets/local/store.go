// Package local implements a filesystem-backed asset store.
//
// Each asset lives in its own directory, {base_dir}/{folder}/{id}/, holding
// the image under its generated filename plus an asset.json record.
package local

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/JakeFAU/pagesnap/internal/assets"
	"github.com/JakeFAU/pagesnap/internal/id/uuid"
)

const recordName = "asset.json"

// Config captures the parameters for the local filesystem store.
type Config struct {
	// BaseDir is the root directory where assets will be stored.
	BaseDir        string `mapstructure:"base_dir"`
	Folder         string `mapstructure:"folder"`
	PublicBaseURL  string `mapstructure:"public_base_url"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// Store writes assets to the local filesystem.
type Store struct {
	baseDir string
	cfg     Config
	ids     assets.IDGenerator
	now     func() time.Time
}

// New creates a filesystem store, creating BaseDir when missing and
// checking that it is writable. ids may be nil.
func New(cfg Config, ids assets.IDGenerator) (*Store, error) {
	if strings.TrimSpace(cfg.BaseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if mkErr := os.MkdirAll(cfg.BaseDir, 0o750); mkErr != nil {
			return nil, fmt.Errorf("create base directory: %w", mkErr)
		}
	case err != nil:
		return nil, fmt.Errorf("stat base directory: %w", err)
	case !info.IsDir():
		return nil, fmt.Errorf("base directory path is not a directory")
	}

	probe := filepath.Join(cfg.BaseDir, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("base directory is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up probe file: %w", err)
	}

	cfg.Folder = assets.Folder(cfg.Folder)
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = assets.DefaultMaxUploadBytes
	}
	if ids == nil {
		ids = uuid.New()
	}
	return &Store{
		baseDir: filepath.Clean(cfg.BaseDir),
		cfg:     cfg,
		ids:     ids,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// Upload writes the image and its record.
func (s *Store) Upload(_ context.Context, data []byte, filename string, p assets.Provenance) (assets.MediaAsset, error) {
	if err := assets.CheckUpload(data, filename, s.cfg.MaxUploadBytes); err != nil {
		return assets.MediaAsset{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return assets.MediaAsset{}, unavailable("upload", err)
	}

	dir, err := s.within(s.cfg.Folder, id)
	if err != nil {
		return assets.MediaAsset{}, unavailable("upload", err)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return assets.MediaAsset{}, unavailable("upload", fmt.Errorf("create asset directory: %w", err))
	}

	imagePath := filepath.Join(dir, filename)
	if err := os.WriteFile(imagePath, data, 0o600); err != nil {
		return assets.MediaAsset{}, unavailable("upload", fmt.Errorf("write image: %w", err))
	}

	link := s.link(s.cfg.Folder, id, filename, imagePath)
	asset := assets.MediaAsset{
		ID:         id,
		Name:       filename,
		URL:        link,
		PreviewURL: link,
		Size:       int64(len(data)),
		MimeType:   assets.MIMEType,
		Folder:     s.cfg.Folder,
		SourceURL:  p.SourceURL,
		Engine:     p.Engine,
		CapturedAt: p.CapturedAt,
		CreatedAt:  s.now(),
	}

	record, err := json.MarshalIndent(asset, "", "  ")
	if err != nil {
		return assets.MediaAsset{}, unavailable("upload", fmt.Errorf("encode record: %w", err))
	}
	if err := os.WriteFile(filepath.Join(dir, recordName), record, 0o600); err != nil {
		return assets.MediaAsset{}, unavailable("upload", fmt.Errorf("write record: %w", err))
	}
	return asset, nil
}

// List reads the records under folder in ID order.
func (s *Store) List(ctx context.Context, folder string) iter.Seq2[assets.MediaAsset, error] {
	folder = assets.Folder(folder)
	return func(yield func(assets.MediaAsset, error) bool) {
		root, err := s.within(folder)
		if err != nil {
			yield(assets.MediaAsset{}, unavailable("list", err))
			return
		}
		entries, err := os.ReadDir(root)
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		if err != nil {
			yield(assets.MediaAsset{}, unavailable("list", err))
			return
		}
		slices.SortFunc(entries, func(a, b os.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })

		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			if err := ctx.Err(); err != nil {
				yield(assets.MediaAsset{}, unavailable("list", err))
				return
			}
			asset, err := readRecord(filepath.Join(root, entry.Name(), recordName))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				err = unavailable("list", err)
			}
			if !yield(asset, err) {
				return
			}
		}
	}
}

// Delete removes the asset directory for id in any folder.
func (s *Store) Delete(_ context.Context, id string) error {
	if !validID(id) {
		return assets.NewStoreError("delete", assets.ReasonNotFound, fmt.Errorf("id %q", id))
	}
	dir, err := s.find(id)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return unavailable("delete", fmt.Errorf("remove asset: %w", err))
	}
	return nil
}

func (s *Store) find(id string) (string, error) {
	var found string
	err := filepath.WalkDir(s.baseDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && d.Name() == id && path != s.baseDir {
			if _, statErr := os.Stat(filepath.Join(path, recordName)); statErr == nil {
				found = path
				return fs.SkipAll
			}
		}
		return nil
	})
	if err != nil {
		return "", unavailable("delete", err)
	}
	if found == "" {
		return "", assets.NewStoreError("delete", assets.ReasonNotFound, fmt.Errorf("id %q", id))
	}
	return found, nil
}

// within joins parts under baseDir and rejects paths that escape it.
func (s *Store) within(parts ...string) (string, error) {
	full := filepath.Clean(filepath.Join(append([]string{s.baseDir}, parts...)...))
	if !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	return full, nil
}

func (s *Store) link(folder, id, filename, imagePath string) string {
	if s.cfg.PublicBaseURL == "" {
		return "file://" + imagePath
	}
	return strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + folder + "/" + id + "/" + url.PathEscape(filename)
}

func readRecord(path string) (assets.MediaAsset, error) {
	// #nosec G304 -- path is built from the store's own base directory.
	raw, err := os.ReadFile(path)
	if err != nil {
		return assets.MediaAsset{}, err
	}
	var asset assets.MediaAsset
	if err := json.Unmarshal(raw, &asset); err != nil {
		return assets.MediaAsset{}, fmt.Errorf("decode %s: %w", path, err)
	}
	return asset, nil
}

func validID(id string) bool {
	return id != "" && id != "." && id != ".." && !strings.ContainsAny(id, `/\`)
}

func unavailable(op string, err error) error {
	return assets.NewStoreError(op, assets.ReasonStoreUnavailable, err)
}
