// Package assets defines the persistence contract for captured images.
//
// A Store uploads PNG bytes together with their provenance, lists what was
// stored under a folder and deletes assets by ID. Backends live in the gcs,
// local and memory subpackages and classify their own failures into
// StoreError before returning.
package assets

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"
)

// Defaults shared by every backend.
const (
	DefaultFolder         = "screenshots"
	DefaultMaxUploadBytes = 20 << 20
	MIMEType              = "image/png"
)

// Metadata keys written alongside each asset.
const (
	MetaSourceURL        = "source_url"
	MetaCaptureTimestamp = "capture_timestamp"
	MetaEngine           = "engine"
)

// TimestampLayout is RFC 3339 with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// MediaAsset is the record of a stored image. It is created once by a
// backend on upload and never mutated.
type MediaAsset struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	PreviewURL string    `json:"preview_url"`
	Size       int64     `json:"size"`
	MimeType   string    `json:"mime_type"`
	Folder     string    `json:"folder"`
	SourceURL  string    `json:"source_url,omitempty"`
	Engine     string    `json:"engine,omitempty"`
	CapturedAt time.Time `json:"captured_at,omitzero"`
	CreatedAt  time.Time `json:"created_at"`
}

// Provenance describes where an image came from.
type Provenance struct {
	SourceURL  string
	CapturedAt time.Time
	Engine     string
}

// Metadata renders provenance as the string map stored with the asset.
func (p Provenance) Metadata() map[string]string {
	meta := map[string]string{}
	if p.SourceURL != "" {
		meta[MetaSourceURL] = p.SourceURL
	}
	if !p.CapturedAt.IsZero() {
		meta[MetaCaptureTimestamp] = p.CapturedAt.UTC().Format(TimestampLayout)
	}
	if p.Engine != "" {
		meta[MetaEngine] = p.Engine
	}
	return meta
}

// ProvenanceFromMetadata is the inverse of Provenance.Metadata. Unparseable
// timestamps are left zero.
func ProvenanceFromMetadata(meta map[string]string) Provenance {
	p := Provenance{
		SourceURL: meta[MetaSourceURL],
		Engine:    meta[MetaEngine],
	}
	if raw := meta[MetaCaptureTimestamp]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			p.CapturedAt = ts.UTC()
		}
	}
	return p
}

// Store persists captured images.
type Store interface {
	// Upload stores data under filename in the backend's configured folder.
	Upload(ctx context.Context, data []byte, filename string, p Provenance) (MediaAsset, error)
	// List yields the assets in folder. The sequence is lazy and single-use;
	// a missing folder yields nothing.
	List(ctx context.Context, folder string) iter.Seq2[MediaAsset, error]
	// Delete removes an asset by ID.
	Delete(ctx context.Context, id string) error
}

// IDGenerator produces asset IDs for backends that assign their own.
type IDGenerator interface {
	NewID() (string, error)
}

// Reason classifies a StoreError.
type Reason string

// Store failure reasons.
const (
	ReasonPayloadTooLarge  Reason = "payload_too_large"
	ReasonNotFound         Reason = "not_found"
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Sentinel errors matched by StoreError.Is.
var (
	ErrPayloadTooLarge  = errors.New("payload too large")
	ErrNotFound         = errors.New("asset not found")
	ErrStoreUnavailable = errors.New("store unavailable")
)

// StoreError reports a failed store operation.
type StoreError struct {
	Op     string
	Reason Reason
	Err    error
}

// NewStoreError builds a StoreError.
func NewStoreError(op string, reason Reason, err error) *StoreError {
	return &StoreError{Op: op, Reason: reason, Err: err}
}

func (e *StoreError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("asset %s: %s", e.Op, e.Reason)
	}
	return fmt.Sprintf("asset %s: %s: %v", e.Op, e.Reason, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for the error's reason.
func (e *StoreError) Is(target error) bool {
	switch target {
	case ErrPayloadTooLarge:
		return e.Reason == ReasonPayloadTooLarge
	case ErrNotFound:
		return e.Reason == ReasonNotFound
	case ErrStoreUnavailable:
		return e.Reason == ReasonStoreUnavailable
	}
	return false
}

// ReasonOf extracts the StoreError reason from err.
func ReasonOf(err error) (Reason, bool) {
	var se *StoreError
	if errors.As(err, &se) {
		return se.Reason, true
	}
	return "", false
}

// CheckUpload validates an upload before it reaches a backend.
func CheckUpload(data []byte, filename string, maxBytes int64) error {
	if strings.TrimSpace(filename) == "" {
		return NewStoreError("upload", ReasonStoreUnavailable, errors.New("filename is required"))
	}
	if strings.ContainsAny(filename, `/\`) {
		return NewStoreError("upload", ReasonStoreUnavailable, fmt.Errorf("filename %q must not contain path separators", filename))
	}
	if len(data) == 0 {
		return NewStoreError("upload", ReasonStoreUnavailable, errors.New("image is empty"))
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return NewStoreError("upload", ReasonPayloadTooLarge,
			fmt.Errorf("%d bytes exceeds limit of %d", len(data), maxBytes))
	}
	return nil
}

// Collect drains a List sequence. The first error stops collection.
func Collect(seq iter.Seq2[MediaAsset, error]) ([]MediaAsset, error) {
	out := []MediaAsset{}
	for asset, err := range seq {
		if err != nil {
			return nil, err
		}
		out = append(out, asset)
	}
	return out, nil
}

// Folder returns folder, or DefaultFolder when blank.
func Folder(folder string) string {
	folder = strings.Trim(strings.TrimSpace(folder), "/")
	if folder == "" {
		return DefaultFolder
	}
	return folder
}
