package capture

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/metrics"
)

// Orchestrator runs the primary engine and, only when it fails, the fallback.
type Orchestrator struct {
	primary  Engine
	fallback Engine
	defaults Options
	tracer   trace.Tracer
	logger   *zap.Logger
}

const tracerName = "github.com/JakeFAU/pagesnap/internal/capture"

// OrchestratorOption customizes an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithDefaultOptions sets the options used for fields a request leaves unset.
func WithDefaultOptions(defaults Options) OrchestratorOption {
	return func(o *Orchestrator) {
		o.defaults = defaults
	}
}

// WithTracerProvider sets where engine attempt spans go. The default is the
// global otel provider.
func WithTracerProvider(tp trace.TracerProvider) OrchestratorOption {
	return func(o *Orchestrator) {
		o.tracer = tp.Tracer(tracerName)
	}
}

// NewOrchestrator wires the two engines. fallback may be nil.
func NewOrchestrator(primary, fallback Engine, logger *zap.Logger, opts ...OrchestratorOption) (*Orchestrator, error) {
	if primary == nil {
		return nil, errors.New("primary engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &Orchestrator{
		primary:  primary,
		fallback: fallback,
		defaults: DefaultOptions(),
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// attempt is the outcome of one engine run.
type attempt struct {
	result Result
	err    error
}

func (a attempt) ok() bool {
	return a.err == nil
}

// CaptureURL validates raw and in, fills unset options from the
// orchestrator's defaults, and then orchestrates. Invalid input is returned as
// a *ValidationError before any engine runs.
func (o *Orchestrator) CaptureURL(ctx context.Context, raw string, in OptionsInput) (Request, Result, error) {
	target, err := ValidateURL(raw)
	if err != nil {
		return Request{}, Result{}, err
	}
	opts, err := in.Resolve(o.defaults)
	if err != nil {
		return Request{}, Result{}, err
	}
	req := Request{URL: target, Options: opts}
	result, err := o.Orchestrate(ctx, req)
	return req, result, err
}

// Orchestrate returns a complete image or a *CaptureFailedError carrying both
// engine errors. The fallback starts only after the primary has returned.
func (o *Orchestrator) Orchestrate(ctx context.Context, req Request) (Result, error) {
	if req.URL.IsZero() {
		return Result{}, &ValidationError{Reason: ReasonMalformedURL, Message: "Invalid URL format"}
	}

	primary := o.run(ctx, o.primary, req)
	if primary.ok() {
		return primary.result, nil
	}

	if o.fallback == nil {
		o.logger.Warn("primary engine failed and no fallback is configured",
			zap.String("url", req.URL.String()),
			zap.Error(primary.err),
		)
		return Result{}, &CaptureFailedError{Primary: primary.err}
	}

	o.logger.Info("primary engine failed, trying fallback",
		zap.String("url", req.URL.String()),
		zap.String("fallback", o.fallback.Name()),
		zap.Error(primary.err),
	)
	fallback := o.run(ctx, o.fallback, req)
	if fallback.ok() {
		result := fallback.result
		result.PrimaryFailure = primary.err
		return result, nil
	}

	o.logger.Error("all capture engines failed",
		zap.String("url", req.URL.String()),
		zap.NamedError("primary_error", primary.err),
		zap.NamedError("fallback_error", fallback.err),
	)
	return Result{}, &CaptureFailedError{Primary: primary.err, Fallback: fallback.err}
}

func (o *Orchestrator) run(ctx context.Context, engine Engine, req Request) attempt {
	ctx, span := o.tracer.Start(ctx, "capture."+engine.Name(), trace.WithAttributes(
		attribute.String("capture.engine", engine.Name()),
		attribute.String("url.host", req.URL.Hostname()),
		attribute.Bool("capture.full_page", req.Options.FullPage()),
	))
	defer span.End()

	start := time.Now()
	result, err := engine.Capture(ctx, req.URL, req.Options)
	if err == nil && len(result.Image) == 0 {
		err = NewEngineError(engine.Name(), ReasonCaptureFailed, errors.New("engine returned an empty image"))
	}
	elapsed := time.Since(start)

	if err != nil {
		reason := "unknown"
		if r, ok := EngineReasonOf(err); ok {
			reason = string(r)
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, reason)
		metrics.ObserveCapture(engine.Name(), reason, elapsed)
		return attempt{err: err}
	}

	if result.Engine == "" {
		result.Engine = engine.Name()
	}
	metrics.ObserveCapture(engine.Name(), "", elapsed)
	o.logger.Debug("capture succeeded",
		zap.String("engine", result.Engine),
		zap.String("url", req.URL.String()),
		zap.Int("bytes", len(result.Image)),
		zap.Duration("duration", elapsed),
	)
	return attempt{result: result}
}
