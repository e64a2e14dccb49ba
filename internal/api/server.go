package api

import (
	"context"
	"encoding/json"
	"errors"
	"iter"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/assets"
	"github.com/JakeFAU/pagesnap/internal/capture"
	idgen "github.com/JakeFAU/pagesnap/internal/id/uuid"
	"github.com/JakeFAU/pagesnap/internal/metrics"
)

const maxRequestBodyBytes = 64 << 10

// Response messages.
const (
	msgMethodNotAllowed = "Method not allowed. Use POST instead."
	msgCaptureFailed    = "Failed to capture screenshot"
	msgTooLarge         = "Screenshot file too large"
	msgUploadFailed     = "Failed to upload screenshot"
	msgInvalidBody      = "Invalid JSON body"
)

// Screenshotter is the capture pipeline the API drives.
type Screenshotter interface {
	Capture(ctx context.Context, rawURL string, in capture.OptionsInput) (assets.MediaAsset, error)
	List(ctx context.Context, folder string) iter.Seq2[assets.MediaAsset, error]
	Delete(ctx context.Context, id string) error
}

// ReadinessCheck reports whether a dependency can serve traffic.
type ReadinessCheck func(ctx context.Context) error

// Options tunes the HTTP server.
type Options struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
	Readiness      map[string]ReadinessCheck
	// RequestIDs defaults to a UUIDv4 generator.
	RequestIDs RequestIDGenerator
}

// Server wires HTTP handlers to the capture pipeline.
type Server struct {
	router chi.Router
	shots  Screenshotter
	ready  map[string]ReadinessCheck
	logger *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(shots Screenshotter, opts Options, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 120 * time.Second
	}
	if opts.RequestIDs == nil {
		opts.RequestIDs = idgen.New()
	}
	s := &Server{
		shots:  shots,
		ready:  opts.Readiness,
		logger: logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware(opts.RequestIDs, logger))
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(timeoutMiddleware(opts.RequestTimeout))
		r.HandleFunc("/screenshot", s.methodNotAllowed)
		r.Post("/screenshot", s.captureScreenshot)
		r.Get("/screenshots", s.listScreenshots)
		r.Delete("/screenshots/{id}", s.deleteScreenshot)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	failures := map[string]string{}
	for name, check := range s.ready {
		if err := check(r.Context()); err != nil {
			failures[name] = err.Error()
		}
	}
	if len(failures) > 0 {
		writeJSON(w, s.logger, http.StatusServiceUnavailable, map[string]any{"status": "not ready", "failures": failures})
		return
	}
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ready"})
}

type screenshotRequest struct {
	URL     string                `json:"url"`
	Options *capture.OptionsInput `json:"options"`
}

type screenshotResponse struct {
	Success bool               `json:"success"`
	Media   *assets.MediaAsset `json:"media,omitempty"`
	Error   string             `json:"error,omitempty"`
	Details string             `json:"details,omitempty"`
}

type listResponse struct {
	Success bool                `json:"success"`
	Media   []assets.MediaAsset `json:"media"`
}

func (s *Server) captureScreenshot(w http.ResponseWriter, r *http.Request) {
	var req screenshotRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBodyBytes))
	if err := dec.Decode(&req); err != nil {
		s.writeFailure(w, http.StatusBadRequest, msgInvalidBody, "")
		return
	}
	var in capture.OptionsInput
	if req.Options != nil {
		in = *req.Options
	}

	asset, err := s.shots.Capture(r.Context(), req.URL, in)
	if err != nil {
		s.writeCaptureError(w, r, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, screenshotResponse{Success: true, Media: &asset})
}

func (s *Server) writeCaptureError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *capture.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeFailure(w, http.StatusBadRequest, verr.Message, "")
	case errors.Is(err, capture.ErrCaptureFailed):
		s.logger.Warn("screenshot capture failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		s.writeFailure(w, http.StatusBadGateway, msgCaptureFailed, err.Error())
	case errors.Is(err, assets.ErrPayloadTooLarge):
		s.writeFailure(w, http.StatusRequestEntityTooLarge, msgTooLarge, err.Error())
	default:
		s.logger.Error("screenshot upload failed", zap.String("request_id", requestID(r.Context())), zap.Error(err))
		s.writeFailure(w, http.StatusInternalServerError, msgUploadFailed, err.Error())
	}
}

func (s *Server) listScreenshots(w http.ResponseWriter, r *http.Request) {
	listed, err := assets.Collect(s.shots.List(r.Context(), r.URL.Query().Get("folder")))
	if err != nil {
		s.logger.Error("list screenshots", zap.Error(err))
		s.writeFailure(w, http.StatusInternalServerError, "Failed to fetch screenshots", err.Error())
		return
	}
	writeJSON(w, s.logger, http.StatusOK, listResponse{Success: true, Media: listed})
}

func (s *Server) deleteScreenshot(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.shots.Delete(r.Context(), id); err != nil {
		if errors.Is(err, assets.ErrNotFound) {
			s.writeFailure(w, http.StatusNotFound, "Screenshot not found", "")
			return
		}
		s.logger.Error("delete screenshot", zap.String("id", id), zap.Error(err))
		s.writeFailure(w, http.StatusInternalServerError, "Failed to delete screenshot", err.Error())
		return
	}
	writeJSON(w, s.logger, http.StatusOK, screenshotResponse{Success: true})
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", http.MethodPost)
	s.writeFailure(w, http.StatusMethodNotAllowed, msgMethodNotAllowed, "")
}

func (s *Server) writeFailure(w http.ResponseWriter, status int, msg, details string) {
	writeJSON(w, s.logger, status, screenshotResponse{Success: false, Error: msg, Details: details})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("write JSON failed", zap.Error(err))
	}
}
