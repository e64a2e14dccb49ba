// Package renderapi implements the fallback capture engine backed by an
// external rendering service. The service is asked to render a page, replies
// with a content locator, and the image is then downloaded from that locator.
package renderapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagesnap/internal/capture"
)

// EngineName labels results, errors and metrics from this engine.
const EngineName = "renderapi"

// Defaults applied by New when a Config field is zero.
const (
	DefaultTimeout          = 60 * time.Second
	DefaultMaxDownloadBytes = 20 << 20
	DefaultDeviceScale      = 2.0
	DefaultUserAgent        = "pagesnap/1.0"

	maxSubmitResponseBytes = 1 << 20
)

// Config holds the rendering service settings. It is injected; the engine
// never reads the environment.
type Config struct {
	Endpoint         string
	APIKey           string
	Timeout          time.Duration
	MaxDownloadBytes int
	DeviceScale      float64
	UserAgent        string
}

// Engine implements capture.Engine against the rendering service.
type Engine struct {
	cfg       Config
	client    *http.Client
	transport http.RoundTripper
	logger    *zap.Logger
}

// renderRequest is the body POSTed to the rendering service.
type renderRequest struct {
	URL            string  `json:"url"`
	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	DeviceScale    float64 `json:"device_scale"`
	Format         string  `json:"format"`
	FullPage       bool    `json:"full_page"`
}

// renderResponse carries the content locator of the rendered image.
type renderResponse struct {
	URL string `json:"url"`
}

// New builds the fallback engine. transport may be nil. A blank Endpoint or
// APIKey is accepted; Capture then fails with a missing credential error.
func New(cfg Config, transport http.RoundTripper, logger *zap.Logger) (*Engine, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint != "" {
		u, err := url.Parse(cfg.Endpoint)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("render api endpoint %q must be an absolute http(s) URL", cfg.Endpoint)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxDownloadBytes <= 0 {
		cfg.MaxDownloadBytes = DefaultMaxDownloadBytes
	}
	if cfg.DeviceScale <= 0 {
		cfg.DeviceScale = DefaultDeviceScale
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if transport == nil {
		transport = newHTTPTransport()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:       cfg,
		client:    &http.Client{Transport: transport, Timeout: cfg.Timeout},
		transport: transport,
		logger:    logger,
	}, nil
}

// Name implements capture.Engine.
func (e *Engine) Name() string {
	return EngineName
}

// Capture submits a render job and downloads the resulting PNG.
func (e *Engine) Capture(ctx context.Context, target capture.ValidURL, opts capture.Options) (capture.Result, error) {
	if strings.TrimSpace(e.cfg.APIKey) == "" {
		return capture.Result{}, capture.NewEngineError(EngineName, capture.ReasonMissingCredential,
			errors.New("render api key is not configured"))
	}
	if e.cfg.Endpoint == "" {
		return capture.Result{}, capture.NewEngineError(EngineName, capture.ReasonMissingCredential,
			errors.New("render api endpoint is not configured"))
	}

	locator, err := e.submit(ctx, target, opts)
	if err != nil {
		return capture.Result{}, err
	}

	image, err := e.download(ctx, locator)
	if err != nil {
		return capture.Result{}, err
	}

	e.logger.Debug("render api capture complete",
		zap.String("url", target.String()),
		zap.String("locator", locator),
		zap.Int("bytes", len(image)),
	)
	return capture.Result{Image: image, Engine: EngineName}, nil
}

func (e *Engine) submit(ctx context.Context, target capture.ValidURL, opts capture.Options) (string, error) {
	payload, err := json.Marshal(renderRequest{
		URL:            target.String(),
		ViewportWidth:  opts.Width(),
		ViewportHeight: opts.Height(),
		DeviceScale:    e.cfg.DeviceScale,
		Format:         "png",
		FullPage:       opts.FullPage(),
	})
	if err != nil {
		return "", capture.NewEngineError(EngineName, capture.ReasonServiceError, fmt.Errorf("marshal request: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", capture.NewEngineError(EngineName, capture.ReasonServiceError, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", e.cfg.UserAgent)

	resp, err := e.client.Do(req)
	if err != nil {
		return "", capture.NewEngineError(EngineName, capture.ReasonServiceError, fmt.Errorf("submit render: %w", err))
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			e.logger.Warn("close render response body", zap.Error(cerr))
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxSubmitResponseBytes))
	if err != nil {
		return "", capture.NewEngineError(EngineName, capture.ReasonServiceError, fmt.Errorf("read render response: %w", err))
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", capture.NewEngineError(EngineName, capture.ReasonServiceError,
			fmt.Errorf("render service returned status %d: %s", resp.StatusCode, truncate(string(body), 256)))
	}

	var decoded renderResponse
	if err := json.Unmarshal(body, &decoded); err != nil {
		return "", capture.NewEngineError(EngineName, capture.ReasonMissingContentReference,
			fmt.Errorf("decode render response: %w", err))
	}
	locator := strings.TrimSpace(decoded.URL)
	if locator == "" {
		return "", capture.NewEngineError(EngineName, capture.ReasonMissingContentReference,
			errors.New("render response has no url"))
	}
	return locator, nil
}

func (e *Engine) download(ctx context.Context, locator string) ([]byte, error) {
	limit := e.cfg.MaxDownloadBytes
	// One byte past the limit so an oversized body is detectable instead of
	// being silently cut off.
	collector := colly.NewCollector(
		colly.StdlibContext(ctx),
		colly.AllowURLRevisit(),
		colly.MaxBodySize(limit+1),
		colly.UserAgent(e.cfg.UserAgent),
	)
	collector.SetRequestTimeout(e.cfg.Timeout)
	collector.WithTransport(e.transport)

	var (
		status   int
		body     []byte
		fetchErr error
	)
	collector.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	collector.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = err
	})

	err := collector.Visit(locator)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, capture.NewEngineError(EngineName, capture.ReasonDownloadFailed,
			fmt.Errorf("download canceled: %w", ctxErr))
	}
	if err == nil {
		err = fetchErr
	}
	if err != nil {
		if status != 0 {
			err = fmt.Errorf("download returned status %d: %w", status, err)
		}
		return nil, capture.NewEngineError(EngineName, capture.ReasonDownloadFailed, err)
	}

	if status < 200 || status > 299 {
		return nil, capture.NewEngineError(EngineName, capture.ReasonDownloadFailed,
			fmt.Errorf("download returned status %d", status))
	}
	if len(body) == 0 {
		return nil, capture.NewEngineError(EngineName, capture.ReasonDownloadFailed,
			errors.New("download returned an empty body"))
	}
	if len(body) > limit {
		return nil, capture.NewEngineError(EngineName, capture.ReasonDownloadFailed,
			fmt.Errorf("download exceeds %d bytes", limit))
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          20,
		IdleConnTimeout:       90 * time.Second,
	}
}
