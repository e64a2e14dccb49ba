// Package snapshot runs the full capture pipeline: validate the request,
// orchestrate the engines, name the image, store it, then log and announce
// the capture.
package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/assets"
	"github.com/JakeFAU/pagesnap/internal/capture"
	"github.com/JakeFAU/pagesnap/internal/metrics"
)

// CaptureRecord is one row of the capture log, written per orchestration.
type CaptureRecord struct {
	ID            string
	SourceURL     string
	Engine        string
	AssetID       string
	Succeeded     bool
	PrimaryError  string
	FallbackError string
	Duration      time.Duration
	CapturedAt    time.Time
}

// CapturedEvent is published after an image is stored.
type CapturedEvent struct {
	AssetID    string    `json:"asset_id"`
	Name       string    `json:"name"`
	URL        string    `json:"url"`
	SourceURL  string    `json:"source_url"`
	Engine     string    `json:"engine"`
	Size       int64     `json:"size"`
	CapturedAt time.Time `json:"captured_at"`
}

// Recorder persists capture log rows.
type Recorder interface {
	Record(ctx context.Context, rec CaptureRecord) error
}

// Publisher sends capture notifications.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte) (string, error)
}

// IDGenerator produces capture log IDs.
type IDGenerator interface {
	NewID() (string, error)
}

// Deps are the collaborators of a Service. Recorder and Publisher are
// optional.
type Deps struct {
	Orchestrator *capture.Orchestrator
	Store        assets.Store
	Clock        capture.Clock
	IDs          IDGenerator
	Recorder     Recorder
	Publisher    Publisher
	Topic        string
	Logger       *zap.Logger
}

// Service is the capture pipeline.
type Service struct {
	orchestrator *capture.Orchestrator
	store        assets.Store
	clock        capture.Clock
	ids          IDGenerator
	recorder     Recorder
	publisher    Publisher
	topic        string
	logger       *zap.Logger
}

// New validates deps and builds a Service.
func New(deps Deps) (*Service, error) {
	switch {
	case deps.Orchestrator == nil:
		return nil, errors.New("orchestrator is required")
	case deps.Store == nil:
		return nil, errors.New("asset store is required")
	case deps.Clock == nil:
		return nil, errors.New("clock is required")
	case deps.Recorder != nil && deps.IDs == nil:
		return nil, errors.New("id generator is required when a recorder is set")
	case deps.Publisher != nil && deps.Topic == "":
		return nil, errors.New("topic is required when a publisher is set")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		orchestrator: deps.Orchestrator,
		store:        deps.Store,
		clock:        deps.Clock,
		ids:          deps.IDs,
		recorder:     deps.Recorder,
		publisher:    deps.Publisher,
		topic:        deps.Topic,
		logger:       logger,
	}, nil
}

// Capture screenshots rawURL and stores the image. Validation failures are
// *capture.ValidationError, engine exhaustion is *capture.CaptureFailedError
// and persistence failures are *assets.StoreError.
func (s *Service) Capture(ctx context.Context, rawURL string, in capture.OptionsInput) (_ assets.MediaAsset, err error) {
	ctx, span := otel.Tracer("github.com/JakeFAU/pagesnap/internal/snapshot").Start(ctx, "snapshot.capture")
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "capture failed")
		}
		span.End()
	}()

	start := s.clock.Now()
	req, result, err := s.orchestrator.CaptureURL(ctx, rawURL, in)
	if err != nil {
		var failed *capture.CaptureFailedError
		if errors.As(err, &failed) {
			s.record(ctx, CaptureRecord{
				SourceURL:     req.URL.String(),
				PrimaryError:  errString(failed.Primary),
				FallbackError: errString(failed.Fallback),
				Duration:      s.clock.Now().Sub(start),
				CapturedAt:    start,
			})
		}
		return assets.MediaAsset{}, err
	}

	capturedAt := s.clock.Now()
	filename := capture.GenerateName(req.URL, capturedAt)
	asset, err := s.store.Upload(ctx, result.Image, filename, assets.Provenance{
		SourceURL:  req.URL.String(),
		CapturedAt: capturedAt,
		Engine:     result.Engine,
	})
	if err != nil {
		metrics.ObserveUpload(uploadOutcome(err), len(result.Image))
		s.logger.Error("store screenshot",
			zap.String("url", req.URL.String()),
			zap.String("filename", filename),
			zap.Error(err),
		)
		return assets.MediaAsset{}, err
	}
	metrics.ObserveUpload("success", len(result.Image))
	span.SetAttributes(
		attribute.String("capture.engine", result.Engine),
		attribute.String("asset.id", asset.ID),
	)

	s.record(ctx, CaptureRecord{
		SourceURL:    req.URL.String(),
		Engine:       result.Engine,
		AssetID:      asset.ID,
		Succeeded:    true,
		PrimaryError: errString(result.PrimaryFailure),
		Duration:     capturedAt.Sub(start),
		CapturedAt:   capturedAt,
	})
	s.publish(ctx, CapturedEvent{
		AssetID:    asset.ID,
		Name:       asset.Name,
		URL:        asset.URL,
		SourceURL:  req.URL.String(),
		Engine:     result.Engine,
		Size:       asset.Size,
		CapturedAt: capturedAt,
	})

	s.logger.Info("screenshot stored",
		zap.String("url", req.URL.String()),
		zap.String("engine", result.Engine),
		zap.String("asset_id", asset.ID),
		zap.Int64("bytes", asset.Size),
	)
	return asset, nil
}

// List returns the stored assets in folder.
func (s *Service) List(ctx context.Context, folder string) iter.Seq2[assets.MediaAsset, error] {
	return s.store.List(ctx, folder)
}

// Delete removes a stored asset.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("screenshot deleted", zap.String("asset_id", id))
	return nil
}

func (s *Service) record(ctx context.Context, rec CaptureRecord) {
	if s.recorder == nil {
		return
	}
	id, err := s.ids.NewID()
	if err != nil {
		s.logger.Warn("capture log id", zap.Error(err))
		return
	}
	rec.ID = id
	if err := s.recorder.Record(ctx, rec); err != nil {
		s.logger.Warn("capture log write failed",
			zap.String("url", rec.SourceURL),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, ev CapturedEvent) {
	if s.publisher == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		s.logger.Warn("encode capture event", zap.Error(err))
		return
	}
	msgID, err := s.publisher.Publish(ctx, s.topic, payload)
	if err != nil {
		s.logger.Warn("publish capture event failed",
			zap.String("topic", s.topic),
			zap.String("asset_id", ev.AssetID),
			zap.Error(err),
		)
		return
	}
	s.logger.Debug("capture event published",
		zap.String("topic", s.topic),
		zap.String("message_id", msgID),
	)
}

func uploadOutcome(err error) string {
	if reason, ok := assets.ReasonOf(err); ok {
		return string(reason)
	}
	return "error"
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprint(err)
}
