package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/api"
	"github.com/JakeFAU/pagesnap/internal/assets"
	"github.com/JakeFAU/pagesnap/internal/capture"
)

type fakeService struct {
	captured   []capture.OptionsInput
	capturedAt []string
	asset      assets.MediaAsset
	captureErr error
	listed     []assets.MediaAsset
	listErr    error
	folders    []string
	deleted    []string
	deleteErr  error
}

func (f *fakeService) Capture(_ context.Context, rawURL string, in capture.OptionsInput) (assets.MediaAsset, error) {
	f.capturedAt = append(f.capturedAt, rawURL)
	f.captured = append(f.captured, in)
	return f.asset, f.captureErr
}

func (f *fakeService) List(_ context.Context, folder string) iter.Seq2[assets.MediaAsset, error] {
	f.folders = append(f.folders, folder)
	return func(yield func(assets.MediaAsset, error) bool) {
		for _, a := range f.listed {
			if !yield(a, nil) {
				return
			}
		}
		if f.listErr != nil {
			yield(assets.MediaAsset{}, f.listErr)
		}
	}
}

func (f *fakeService) Delete(_ context.Context, id string) error {
	f.deleted = append(f.deleted, id)
	return f.deleteErr
}

type fakeApp struct {
	svc    *fakeService
	runErr error
	ran    bool
	closed bool
}

func (a *fakeApp) Service() api.Screenshotter { return a.svc }
func (a *fakeApp) Logger() *zap.Logger        { return zap.NewNop() }

func (a *fakeApp) Run(context.Context) error {
	a.ran = true
	return a.runErr
}

func (a *fakeApp) Close(context.Context) error {
	a.closed = true
	return nil
}

// withFakeApp swaps the application factory for the duration of the test.
func withFakeApp(t *testing.T, app *fakeApp) *string {
	t.Helper()
	var gotPath string
	orig := newApp
	newApp = func(_ context.Context, cfgPath string) (App, error) {
		gotPath = cfgPath
		return app, nil
	}
	t.Cleanup(func() { newApp = orig })
	return &gotPath
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCaptureCommandPrintsAsset(t *testing.T) {
	app := &fakeApp{svc: &fakeService{asset: assets.MediaAsset{
		ID:   "asset-1",
		Name: "example-com-20240102-030405.png",
		URL:  "memory://screenshots/asset-1/example-com-20240102-030405.png",
	}}}
	cfgPath := withFakeApp(t, app)

	out, err := run(t, "capture", "example.com", "--width", "800", "--full-page=false", "--config", "pagesnap.yaml")
	require.NoError(t, err)

	var got assets.MediaAsset
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, "asset-1", got.ID)
	assert.Equal(t, "pagesnap.yaml", *cfgPath)
	assert.True(t, app.closed)

	require.Len(t, app.svc.captured, 1)
	assert.Equal(t, []string{"example.com"}, app.svc.capturedAt)
	in := app.svc.captured[0]
	require.NotNil(t, in.Width)
	assert.Equal(t, 800, *in.Width)
	require.NotNil(t, in.FullPage)
	assert.False(t, *in.FullPage)
	assert.Nil(t, in.Height, "unset flags leave defaults to the service")
	assert.Nil(t, in.Quality)
}

func TestCaptureCommandPropagatesFailure(t *testing.T) {
	app := &fakeApp{svc: &fakeService{captureErr: &capture.ValidationError{Reason: capture.ReasonEmptyInput, Message: "URL parameter is required"}}}
	withFakeApp(t, app)

	_, err := run(t, "capture", " ")
	require.Error(t, err)
	var verr *capture.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestCaptureCommandRequiresURL(t *testing.T) {
	withFakeApp(t, &fakeApp{svc: &fakeService{}})

	_, err := run(t, "capture")
	assert.Error(t, err)
}

func TestListCommand(t *testing.T) {
	svc := &fakeService{listed: []assets.MediaAsset{{ID: "a"}, {ID: "b"}}}
	withFakeApp(t, &fakeApp{svc: svc})

	out, err := run(t, "list", "--folder", "archive")
	require.NoError(t, err)

	dec := json.NewDecoder(bytes.NewBufferString(out))
	var ids []string
	for dec.More() {
		var a assets.MediaAsset
		require.NoError(t, dec.Decode(&a))
		ids = append(ids, a.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
	assert.Equal(t, []string{"archive"}, svc.folders)
}

func TestListCommandStopsOnError(t *testing.T) {
	svc := &fakeService{listed: []assets.MediaAsset{{ID: "a"}}, listErr: assets.ErrStoreUnavailable}
	withFakeApp(t, &fakeApp{svc: svc})

	_, err := run(t, "list")
	require.Error(t, err)
	assert.ErrorIs(t, err, assets.ErrStoreUnavailable)
}

func TestDeleteCommand(t *testing.T) {
	svc := &fakeService{}
	withFakeApp(t, &fakeApp{svc: svc})

	out, err := run(t, "delete", "asset-1")
	require.NoError(t, err)
	assert.Equal(t, "deleted asset-1\n", out)
	assert.Equal(t, []string{"asset-1"}, svc.deleted)
}

func TestDeleteCommandNotFound(t *testing.T) {
	withFakeApp(t, &fakeApp{svc: &fakeService{deleteErr: assets.ErrNotFound}})

	_, err := run(t, "delete", "missing")
	assert.ErrorIs(t, err, assets.ErrNotFound)
}

func TestServeCommand(t *testing.T) {
	app := &fakeApp{svc: &fakeService{}}
	withFakeApp(t, app)

	_, err := run(t, "serve")
	require.NoError(t, err)
	assert.True(t, app.ran)
	assert.True(t, app.closed)
}

func TestServeCommandIgnoresCancellation(t *testing.T) {
	withFakeApp(t, &fakeApp{svc: &fakeService{}, runErr: context.Canceled})

	_, err := run(t, "serve")
	assert.NoError(t, err)
}

func TestServeCommandReportsFailure(t *testing.T) {
	withFakeApp(t, &fakeApp{svc: &fakeService{}, runErr: errors.New("bind: address in use")})

	_, err := run(t, "serve")
	assert.ErrorContains(t, err, "address in use")
}

func TestFactoryFailureStopsCommand(t *testing.T) {
	orig := newApp
	newApp = func(context.Context, string) (App, error) { return nil, errors.New("boom") }
	t.Cleanup(func() { newApp = orig })

	_, err := run(t, "list")
	assert.ErrorContains(t, err, "failed to initialize application services")
}

func TestResolveAppWithoutApp(t *testing.T) {
	_, err := resolveApp(context.Background())
	assert.Error(t, err)
}
