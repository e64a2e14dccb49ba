// Package headless implements the primary capture engine: a scoped headless
// Chrome process driven through chromedp.
package headless

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/capture"
)

// EngineName labels results, errors and metrics from this engine.
const EngineName = "headless"

// DefaultUserAgent is a desktop Chrome user agent.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/118.0.0.0 Safari/537.36"

// Defaults applied by New when a Config field is zero.
const (
	DefaultNavigationTimeout = 30 * time.Second
	DefaultSettleDelay       = 2 * time.Second
	DefaultDeviceScale       = 2.0
)

// Config controls the behavior of the headless engine.
type Config struct {
	ExecPath          string
	UserAgent         string
	NavigationTimeout time.Duration
	SettleDelay       time.Duration
	DeviceScale       float64
}

// Engine implements capture.Engine with a fresh browser per capture.
type Engine struct {
	cfg    Config
	logger *zap.Logger
}

// New creates a headless engine. Chrome is not started until Capture.
func New(cfg Config, logger *zap.Logger) (*Engine, error) {
	if cfg.NavigationTimeout < 0 || cfg.SettleDelay < 0 {
		return nil, fmt.Errorf("navigation timeout and settle delay must be >= 0")
	}
	if cfg.DeviceScale < 0 {
		return nil, fmt.Errorf("device scale must be >= 0")
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.NavigationTimeout == 0 {
		cfg.NavigationTimeout = DefaultNavigationTimeout
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = DefaultSettleDelay
	}
	if cfg.DeviceScale == 0 {
		cfg.DeviceScale = DefaultDeviceScale
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Name implements capture.Engine.
func (e *Engine) Name() string {
	return EngineName
}

// Capture launches Chrome, renders target and returns a PNG. The browser is
// torn down before Capture returns, whatever the outcome.
func (e *Engine) Capture(ctx context.Context, target capture.ValidURL, opts capture.Options) (capture.Result, error) {
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, e.allocatorOptions()...)
	defer allocCancel()

	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	// The first Run starts the browser and opens the tab.
	if err := chromedp.Run(tabCtx); err != nil {
		return capture.Result{}, capture.NewEngineError(EngineName, capture.ReasonLaunchFailed, err)
	}

	if err := e.navigate(tabCtx, target, opts); err != nil {
		return capture.Result{}, err
	}

	if err := chromedp.Run(tabCtx, chromedp.Sleep(e.cfg.SettleDelay)); err != nil {
		return capture.Result{}, capture.NewEngineError(EngineName, capture.ReasonCaptureFailed,
			fmt.Errorf("settle delay: %w", err))
	}

	var image []byte
	if err := chromedp.Run(tabCtx, screenshotAction(opts.FullPage(), &image)); err != nil {
		return capture.Result{}, capture.NewEngineError(EngineName, capture.ReasonCaptureFailed, err)
	}

	e.logger.Debug("headless capture complete",
		zap.String("url", target.String()),
		zap.Int("bytes", len(image)),
		zap.Bool("full_page", opts.FullPage()),
	)
	return capture.Result{Image: image, Engine: EngineName}, nil
}

func (e *Engine) navigate(tabCtx context.Context, target capture.ValidURL, opts capture.Options) error {
	navCtx, cancel := context.WithTimeout(tabCtx, e.cfg.NavigationTimeout)
	defer cancel()

	watcher := newIdleWatcher()
	chromedp.ListenTarget(tabCtx, watcher.handle)

	actions := []chromedp.Action{
		e.pageSetupAction(opts),
		chromedp.Navigate(target.String()),
		waitNetworkIdleAction(watcher),
	}
	if err := chromedp.Run(navCtx, actions...); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(navCtx.Err(), context.DeadlineExceeded) {
			return capture.NewEngineError(EngineName, capture.ReasonNavigationTimeout,
				fmt.Errorf("navigation exceeded %s: %w", e.cfg.NavigationTimeout, err))
		}
		return capture.NewEngineError(EngineName, capture.ReasonNavigationError, err)
	}
	return nil
}

func (e *Engine) pageSetupAction(opts capture.Options) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := page.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable page domain: %w", err)
		}
		if err := page.SetLifecycleEventsEnabled(true).Do(ctx); err != nil {
			return fmt.Errorf("enable lifecycle events: %w", err)
		}
		if err := emulation.SetDeviceMetricsOverride(int64(opts.Width()), int64(opts.Height()), e.cfg.DeviceScale, false).
			Do(ctx); err != nil {
			return fmt.Errorf("set viewport: %w", err)
		}
		if err := emulation.SetUserAgentOverride(e.cfg.UserAgent).Do(ctx); err != nil {
			return fmt.Errorf("set user-agent: %w", err)
		}
		return nil
	})
}

// waitNetworkIdleAction blocks until the main frame's current loader reports
// networkAlmostIdle (at most two connections for 500ms).
func waitNetworkIdleAction(watcher *idleWatcher) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := page.GetFrameTree().Do(ctx)
		if err != nil {
			return fmt.Errorf("get frame tree: %w", err)
		}
		if tree == nil || tree.Frame == nil {
			return errors.New("main frame not available")
		}
		select {
		case <-watcher.wait(tree.Frame.LoaderID):
			return nil
		case <-ctx.Done():
			return fmt.Errorf("wait for network idle: %w", ctx.Err())
		}
	})
}

func screenshotAction(fullPage bool, out *[]byte) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		params := page.CaptureScreenshot().
			WithFormat(page.CaptureScreenshotFormatPng).
			WithFromSurface(true)
		if fullPage {
			_, _, _, _, _, contentSize, err := page.GetLayoutMetrics().Do(ctx)
			if err != nil {
				return fmt.Errorf("get layout metrics: %w", err)
			}
			if contentSize != nil {
				params = params.
					WithCaptureBeyondViewport(true).
					WithClip(&page.Viewport{
						X:      contentSize.X,
						Y:      contentSize.Y,
						Width:  math.Ceil(contentSize.Width),
						Height: math.Ceil(contentSize.Height),
						Scale:  1,
					})
			}
		}
		buf, err := params.Do(ctx)
		if err != nil {
			return fmt.Errorf("capture screenshot: %w", err)
		}
		*out = buf
		return nil
	})
}

// allocatorOptions disables the Chrome sandbox so the engine runs inside
// unprivileged containers. The sandbox is not relied on as a security boundary.
func (e *Engine) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.NoSandbox,
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.NoFirstRun,
		chromedp.Flag("no-zygote", true),
		chromedp.DisableGPU,
		chromedp.Flag("hide-scrollbars", true),
		chromedp.UserAgent(e.cfg.UserAgent),
	)
	if e.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(e.cfg.ExecPath))
	}
	return opts
}
