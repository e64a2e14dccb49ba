package capture

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
)

// spyEngine counts calls and returns a canned result or error.
type spyEngine struct {
	name   string
	result Result
	err    error
	calls  atomic.Int32
	onCall func()
}

func (s *spyEngine) Name() string { return s.name }

func (s *spyEngine) Capture(_ context.Context, _ ValidURL, _ Options) (Result, error) {
	s.calls.Add(1)
	if s.onCall != nil {
		s.onCall()
	}
	if s.err != nil {
		return Result{}, s.err
	}
	return s.result, nil
}

func newTestOrchestrator(t *testing.T, primary, fallback Engine) *Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(primary, fallback, zap.NewNop())
	require.NoError(t, err)
	return o
}

func TestNewOrchestratorRequiresPrimary(t *testing.T) {
	t.Parallel()

	_, err := NewOrchestrator(nil, nil, nil)
	require.Error(t, err)
}

func TestOrchestratorPrimarySuccessSkipsFallback(t *testing.T) {
	t.Parallel()

	primary := &spyEngine{name: "headless", result: Result{Image: []byte("primary-png")}}
	fallback := &spyEngine{name: "renderapi", result: Result{Image: []byte("fallback")}}
	o := newTestOrchestrator(t, primary, fallback)

	_, got, err := o.CaptureURL(context.Background(), "https://example.com", OptionsInput{})
	require.NoError(t, err)
	require.Equal(t, []byte("primary-png"), got.Image)
	require.Equal(t, "headless", got.Engine)
	require.EqualValues(t, 1, primary.calls.Load())
	require.EqualValues(t, 0, fallback.calls.Load())
}

func TestOrchestratorFallbackAfterPrimaryFailure(t *testing.T) {
	t.Parallel()

	primary := &spyEngine{
		name: "headless",
		err:  NewEngineError("headless", ReasonNavigationTimeout, context.DeadlineExceeded),
	}
	tenBytes := []byte("0123456789")
	fallback := &spyEngine{name: "renderapi", result: Result{Image: tenBytes}}
	o := newTestOrchestrator(t, primary, fallback)

	_, got, err := o.CaptureURL(context.Background(), "https://example.com", OptionsInput{})
	require.NoError(t, err)
	require.Len(t, got.Image, 10)
	require.Equal(t, tenBytes, got.Image)
	require.Equal(t, "renderapi", got.Engine)
	require.Equal(t, ReasonNavigationTimeout, mustReason(t, got.PrimaryFailure))
	require.EqualValues(t, 1, primary.calls.Load())
	require.EqualValues(t, 1, fallback.calls.Load())
}

func TestOrchestratorFallbackStartsAfterPrimaryReturns(t *testing.T) {
	t.Parallel()

	var primaryDone atomic.Bool
	primary := &spyEngine{name: "headless", err: NewEngineError("headless", ReasonLaunchFailed, nil)}
	primary.onCall = func() { primaryDone.Store(true) }
	fallback := &spyEngine{name: "renderapi", result: Result{Image: []byte("x")}}
	fallback.onCall = func() {
		require.True(t, primaryDone.Load(), "fallback ran before primary finished")
	}
	o := newTestOrchestrator(t, primary, fallback)

	_, _, err := o.CaptureURL(context.Background(), "https://example.com", OptionsInput{})
	require.NoError(t, err)
}

func TestOrchestratorBothFailCarriesBothReasons(t *testing.T) {
	t.Parallel()

	primaryErr := NewEngineError("headless", ReasonNavigationError, errors.New("net::ERR_NAME_NOT_RESOLVED"))
	fallbackErr := NewEngineError("renderapi", ReasonServiceError, errors.New("status 503"))
	o := newTestOrchestrator(t,
		&spyEngine{name: "headless", err: primaryErr},
		&spyEngine{name: "renderapi", err: fallbackErr},
	)

	_, _, err := o.CaptureURL(context.Background(), "https://example.com", OptionsInput{})
	require.ErrorIs(t, err, ErrCaptureFailed)
	require.ErrorIs(t, err, primaryErr)
	require.ErrorIs(t, err, fallbackErr)

	var failed *CaptureFailedError
	require.True(t, errors.As(err, &failed))
	primaryReason, ok := EngineReasonOf(failed.Primary)
	require.True(t, ok)
	require.Equal(t, ReasonNavigationError, primaryReason)
	fallbackReason, ok := EngineReasonOf(failed.Fallback)
	require.True(t, ok)
	require.Equal(t, ReasonServiceError, fallbackReason)
	require.Contains(t, err.Error(), "navigation_error")
	require.Contains(t, err.Error(), "service_error")
}

func TestOrchestratorInvalidURLNeverRunsEngines(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "not a url", "ftp://example.com", "http://"} {
		primary := &spyEngine{name: "headless", result: Result{Image: []byte("x")}}
		fallback := &spyEngine{name: "renderapi", result: Result{Image: []byte("y")}}
		o := newTestOrchestrator(t, primary, fallback)

		_, _, err := o.CaptureURL(context.Background(), raw, OptionsInput{})
		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr), raw)
		require.NotErrorIs(t, err, ErrCaptureFailed)
		require.EqualValues(t, 0, primary.calls.Load(), raw)
		require.EqualValues(t, 0, fallback.calls.Load(), raw)
	}
}

func TestOrchestratorInvalidOptionsNeverRunsEngines(t *testing.T) {
	t.Parallel()

	primary := &spyEngine{name: "headless", result: Result{Image: []byte("x")}}
	o := newTestOrchestrator(t, primary, nil)

	_, _, err := o.CaptureURL(context.Background(), "https://example.com", OptionsInput{Width: intPtr(0)})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	require.Equal(t, ReasonInvalidOptions, vErr.Reason)
	require.EqualValues(t, 0, primary.calls.Load())
}

func TestOrchestratorMissingCredentialFallback(t *testing.T) {
	t.Parallel()

	primary := &spyEngine{name: "headless", err: NewEngineError("headless", ReasonNavigationTimeout, nil)}
	fallback := &spyEngine{name: "renderapi", err: NewEngineError("renderapi", ReasonMissingCredential, nil)}
	o := newTestOrchestrator(t, primary, fallback)

	_, _, err := o.CaptureURL(context.Background(), "https://example.com", OptionsInput{})
	var failed *CaptureFailedError
	require.True(t, errors.As(err, &failed))
	reason, ok := EngineReasonOf(failed.Fallback)
	require.True(t, ok)
	require.Equal(t, ReasonMissingCredential, reason)
}

func TestOrchestratorEmptyImageCountsAsFailure(t *testing.T) {
	t.Parallel()

	primary := &spyEngine{name: "headless", result: Result{}}
	fallback := &spyEngine{name: "renderapi", result: Result{Image: []byte("ok")}}
	o := newTestOrchestrator(t, primary, fallback)

	_, got, err := o.CaptureURL(context.Background(), "https://example.com", OptionsInput{})
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), got.Image)
	require.EqualValues(t, 1, fallback.calls.Load())
}

func TestOrchestratorWithoutFallback(t *testing.T) {
	t.Parallel()

	primaryErr := NewEngineError("headless", ReasonCaptureFailed, errors.New("boom"))
	o := newTestOrchestrator(t, &spyEngine{name: "headless", err: primaryErr}, nil)

	_, _, err := o.CaptureURL(context.Background(), "https://example.com", OptionsInput{})
	require.ErrorIs(t, err, ErrCaptureFailed)
	require.ErrorIs(t, err, primaryErr)
	var failed *CaptureFailedError
	require.True(t, errors.As(err, &failed))
	require.Nil(t, failed.Fallback)
}

func TestOrchestrateRejectsZeroURL(t *testing.T) {
	t.Parallel()

	primary := &spyEngine{name: "headless", result: Result{Image: []byte("x")}}
	o := newTestOrchestrator(t, primary, nil)

	_, err := o.Orchestrate(context.Background(), Request{Options: DefaultOptions()})
	var vErr *ValidationError
	require.True(t, errors.As(err, &vErr))
	require.EqualValues(t, 0, primary.calls.Load())
}

func mustReason(t *testing.T, err error) EngineReason {
	t.Helper()
	reason, ok := EngineReasonOf(err)
	require.True(t, ok, "expected an engine error, got %v", err)
	return reason
}

// optionsEngine records the options it was called with.
type optionsEngine struct {
	got Options
}

func (e *optionsEngine) Name() string { return "headless" }

func (e *optionsEngine) Capture(_ context.Context, _ ValidURL, opts Options) (Result, error) {
	e.got = opts
	return Result{Image: []byte("png")}, nil
}

func TestOrchestratorAppliesConfiguredDefaults(t *testing.T) {
	t.Parallel()

	defaults, err := NewOptions(OptionsInput{Width: intPtr(1024), FullPage: boolPtr(false)})
	require.NoError(t, err)

	engine := &optionsEngine{}
	o, err := NewOrchestrator(engine, nil, zap.NewNop(), WithDefaultOptions(defaults))
	require.NoError(t, err)

	_, _, err = o.CaptureURL(context.Background(), "https://example.com", OptionsInput{Height: intPtr(500)})
	require.NoError(t, err)
	require.Equal(t, 1024, engine.got.Width())
	require.Equal(t, 500, engine.got.Height())
	require.False(t, engine.got.FullPage())
	require.Equal(t, DefaultQuality, engine.got.Quality())
}

func TestOrchestratorTracesEachAttempt(t *testing.T) {
	t.Parallel()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	primary := &spyEngine{name: "headless", err: NewEngineError("headless", ReasonNavigationTimeout, errors.New("slow"))}
	fallback := &spyEngine{name: "renderapi", result: Result{Image: []byte("png")}}
	o, err := NewOrchestrator(primary, fallback, zap.NewNop(), WithTracerProvider(tp))
	require.NoError(t, err)

	_, _, err = o.CaptureURL(context.Background(), "https://example.com", OptionsInput{})
	require.NoError(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, "capture.headless", spans[0].Name())
	require.Equal(t, codes.Error, spans[0].Status().Code)
	require.Equal(t, string(ReasonNavigationTimeout), spans[0].Status().Description)
	require.Equal(t, "capture.renderapi", spans[1].Name())
	require.Equal(t, codes.Unset, spans[1].Status().Code)
}
