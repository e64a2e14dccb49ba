package capture

import (
	"context"
	"time"
)

// MIMEType is the content type of every capture produced by an engine.
const MIMEType = "image/png"

// Request is a single validated capture request.
type Request struct {
	URL     ValidURL
	Options Options
}

// Result is a complete image produced by one engine. The caller owns Image.
// PrimaryFailure is set when the fallback produced the image.
type Result struct {
	Image          []byte
	Engine         string
	PrimaryFailure error
}

// Engine renders a URL into a PNG.
type Engine interface {
	Name() string
	Capture(ctx context.Context, target ValidURL, opts Options) (Result, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
