// Package browser drives a hosted download page in Chrome/Chromium: it waits
// for the download button, clicks it and waits for the file to land.
package browser

import (
	"context"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/mdsohelmia/xtension-dl/pkg/logging"
	"go.uber.org/zap"
)

// Config holds browser configuration options.
type Config struct {
	ExecPath     string
	ProfilePath  string
	DownloadDir  string
	Selector     string
	Headless     bool
	Timeout      time.Duration
	PollInterval time.Duration
	PollAttempts int
}

// DefaultConfig returns default browser configuration.
func DefaultConfig() Config {
	return Config{
		Selector:     "#downloadBtn",
		Headless:     true,
		Timeout:      2 * time.Minute,
		PollInterval: 500 * time.Millisecond,
		PollAttempts: 20,
	}
}

// Context holds the browser contexts and cancel functions.
type Context struct {
	Ctx    context.Context
	cancel []context.CancelFunc
}

// New starts a browser under parent.
func New(parent context.Context, cfg Config, logger *zap.Logger) *Context {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.NoSandbox,
	)
	if cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.ExecPath))
	}
	if cfg.ProfilePath != "" {
		opts = append(opts, chromedp.UserDataDir(cfg.ProfilePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)

	sugar := logging.OrNop(logger).Named("chrome").Sugar()
	ctx, ctxCancel := chromedp.NewContext(allocCtx, chromedp.WithLogf(sugar.Debugf))

	cancels := []context.CancelFunc{ctxCancel, allocCancel}
	if cfg.Timeout > 0 {
		var timeoutCancel context.CancelFunc
		ctx, timeoutCancel = context.WithTimeout(ctx, cfg.Timeout)
		cancels = append([]context.CancelFunc{timeoutCancel}, cancels...)
	}

	return &Context{Ctx: ctx, cancel: cancels}
}

// Close closes all browser contexts.
func (c *Context) Close() {
	for _, cancel := range c.cancel {
		cancel()
	}
}

// ConfigureDownloads sets up the download directory for the browser.
func ConfigureDownloads(ctx context.Context, downloadDir string) error {
	return chromedp.Run(ctx,
		browser.SetDownloadBehavior(browser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(downloadDir).
			WithEventsEnabled(true),
	)
}
