// Package gcs provides an asset store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/JakeFAU/pagesnap/internal/assets"
)

// Config captures the parameters required to store assets in GCS.
type Config struct {
	Bucket         string
	Folder         string
	PublicBaseURL  string
	PreviewBaseURL string
	MaxUploadBytes int64
}

// Store writes assets to a configured GCS bucket. Objects are named
// {folder}/{filename}; the asset ID is the base64url-encoded object name.
type Store struct {
	client *storage.Client
	bucket *storage.BucketHandle
	cfg    Config
}

// NewClient opens a storage client using Application Default Credentials
// unless opts say otherwise.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*storage.Client, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return client, nil
}

// New creates a GCS-backed asset store.
func New(client *storage.Client, cfg Config) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	cfg.Folder = assets.Folder(cfg.Folder)
	if cfg.MaxUploadBytes == 0 {
		cfg.MaxUploadBytes = assets.DefaultMaxUploadBytes
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "https://storage.googleapis.com/" + cfg.Bucket
	}
	return &Store{
		client: client,
		bucket: client.Bucket(cfg.Bucket),
		cfg:    cfg,
	}, nil
}

// Upload writes the image with its provenance as object metadata.
func (s *Store) Upload(ctx context.Context, data []byte, filename string, p assets.Provenance) (assets.MediaAsset, error) {
	if err := assets.CheckUpload(data, filename, s.cfg.MaxUploadBytes); err != nil {
		return assets.MediaAsset{}, err
	}

	name := s.cfg.Folder + "/" + filename
	writer := s.bucket.Object(name).NewWriter(ctx)
	writer.ContentType = assets.MIMEType
	writer.Metadata = p.Metadata()

	if _, err := writer.Write(data); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return assets.MediaAsset{}, classify("upload", fmt.Errorf("write object: %w (close writer: %v)", err, closeErr))
		}
		return assets.MediaAsset{}, classify("upload", fmt.Errorf("write object: %w", err))
	}
	if err := writer.Close(); err != nil {
		return assets.MediaAsset{}, classify("upload", fmt.Errorf("close writer: %w", err))
	}

	attrs := writer.Attrs()
	if attrs == nil {
		attrs = &storage.ObjectAttrs{Name: name, Size: int64(len(data)), Metadata: writer.Metadata}
	}
	return s.asset(attrs), nil
}

// List walks the objects under folder.
func (s *Store) List(ctx context.Context, folder string) iter.Seq2[assets.MediaAsset, error] {
	prefix := assets.Folder(folder) + "/"
	return func(yield func(assets.MediaAsset, error) bool) {
		it := s.bucket.Objects(ctx, &storage.Query{Prefix: prefix})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				classified := classify("list", err)
				if errors.Is(classified, assets.ErrNotFound) {
					return
				}
				yield(assets.MediaAsset{}, classified)
				return
			}
			if strings.HasSuffix(attrs.Name, "/") {
				continue
			}
			if !yield(s.asset(attrs), nil) {
				return
			}
		}
	}
}

// Delete removes the object identified by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	name, err := DecodeID(id)
	if err != nil {
		return assets.NewStoreError("delete", assets.ReasonNotFound, err)
	}
	if err := s.bucket.Object(name).Delete(ctx); err != nil {
		return classify("delete", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) asset(attrs *storage.ObjectAttrs) assets.MediaAsset {
	p := assets.ProvenanceFromMetadata(attrs.Metadata)
	escaped := escapeObject(attrs.Name)
	link := strings.TrimRight(s.cfg.PublicBaseURL, "/") + "/" + escaped
	preview := link
	if s.cfg.PreviewBaseURL != "" {
		preview = strings.TrimRight(s.cfg.PreviewBaseURL, "/") + "/" + escaped
	}
	contentType := attrs.ContentType
	if contentType == "" {
		contentType = assets.MIMEType
	}
	return assets.MediaAsset{
		ID:         EncodeID(attrs.Name),
		Name:       path.Base(attrs.Name),
		URL:        link,
		PreviewURL: preview,
		Size:       attrs.Size,
		MimeType:   contentType,
		Folder:     path.Dir(attrs.Name),
		SourceURL:  p.SourceURL,
		Engine:     p.Engine,
		CapturedAt: p.CapturedAt,
		CreatedAt:  attrs.Created.UTC(),
	}
}

// EncodeID turns an object name into a URL-safe asset ID.
func EncodeID(object string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(object))
}

// DecodeID reverses EncodeID.
func DecodeID(id string) (string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(id)
	if err != nil || len(raw) == 0 {
		return "", fmt.Errorf("malformed asset id %q", id)
	}
	return string(raw), nil
}

func escapeObject(name string) string {
	parts := strings.Split(name, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

func classify(op string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) || errors.Is(err, storage.ErrBucketNotExist) {
		return assets.NewStoreError(op, assets.ReasonNotFound, err)
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusRequestEntityTooLarge:
			return assets.NewStoreError(op, assets.ReasonPayloadTooLarge, err)
		case http.StatusNotFound:
			return assets.NewStoreError(op, assets.ReasonNotFound, err)
		}
	}
	return assets.NewStoreError(op, assets.ReasonStoreUnavailable, err)
}
