package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/mdsohelmia/xtension-dl/pkg/logging"
	"github.com/mdsohelmia/xtension-dl/pkg/trigger"
	"go.uber.org/zap"
)

var ErrDownloadCanceled = errors.New("browser canceled the download")

// PageError is the message the page showed instead of starting a download.
type PageError struct {
	Message string
}

func (e *PageError) Error() string {
	return "page reported: " + e.Message
}

// jsString quotes s as a JavaScript string literal.
func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// readyScript reports whether an enabled element matches selector.
func readyScript(selector string) string {
	return fmt.Sprintf(`(() => { const el = document.querySelector(%s); return el !== null && !el.disabled; })()`,
		jsString(selector))
}

// errorScript returns the text of an error modal, or "".
const errorScript = `(() => {
	const el = document.querySelector('[data-state="error"] .message');
	return el ? el.textContent.trim() : "";
})()`

// download tracks one browser download by its events.
type download struct {
	mu       sync.Mutex
	filename string
	path     string
	done     chan error
	once     sync.Once
}

func (d *download) finish(err error) {
	d.once.Do(func() { d.done <- err })
}

func (d *download) handle(ev any) {
	switch e := ev.(type) {
	case *browser.EventDownloadWillBegin:
		d.mu.Lock()
		d.filename = e.SuggestedFilename
		d.mu.Unlock()
	case *browser.EventDownloadProgress:
		switch e.State {
		case browser.DownloadProgressStateCompleted:
			d.mu.Lock()
			d.path = e.FilePath
			d.mu.Unlock()
			d.finish(nil)
		case browser.DownloadProgressStateCanceled:
			d.finish(ErrDownloadCanceled)
		}
	}
}

func (d *download) result(dir string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.path != "" {
		return d.path
	}
	return filepath.Join(dir, d.filename)
}

// Clicker opens a download page and clicks its button like a visitor would.
type Clicker struct {
	cfg    Config
	logger *zap.Logger
}

func NewClicker(cfg Config, logger *zap.Logger) (*Clicker, error) {
	def := DefaultConfig()
	if cfg.Selector == "" {
		cfg.Selector = def.Selector
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	// chrome wants an absolute download path
	dir, err := filepath.Abs(cfg.DownloadDir)
	if err != nil {
		return nil, err
	}
	cfg.DownloadDir = dir
	return &Clicker{cfg: cfg, logger: logging.OrNop(logger).Named("browser")}, nil
}

// Click loads pageURL, waits for the button, clicks it and returns the path
// of the downloaded file.
func (c *Clicker) Click(ctx context.Context, pageURL string) (string, error) {
	bctx := New(ctx, c.cfg, c.logger)
	defer bctx.Close()
	ctx = bctx.Ctx

	dl := &download{done: make(chan error, 1)}
	chromedp.ListenBrowser(ctx, dl.handle)

	c.logger.Info("opening download page", zap.String("url", pageURL))
	if err := chromedp.Run(ctx, chromedp.Navigate(pageURL)); err != nil {
		return "", fmt.Errorf("navigate: %w", err)
	}

	if err := ConfigureDownloads(ctx, c.cfg.DownloadDir); err != nil {
		return "", fmt.Errorf("configure downloads: %w", err)
	}

	probe := func(ctx context.Context) bool {
		var ok bool
		if err := chromedp.Run(ctx, chromedp.Evaluate(readyScript(c.cfg.Selector), &ok)); err != nil {
			c.logger.Debug("probe failed", zap.Error(err))
			return false
		}
		return ok
	}
	if err := trigger.Await(ctx, probe, c.cfg.PollInterval, c.cfg.PollAttempts); err != nil {
		return "", fmt.Errorf("wait for %s: %w", c.cfg.Selector, err)
	}

	c.logger.Debug("download button ready, clicking", zap.String("selector", c.cfg.Selector))
	if err := chromedp.Run(ctx, chromedp.Click(c.cfg.Selector, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("click: %w", err)
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case err := <-dl.done:
			if err != nil {
				return "", err
			}
			path := dl.result(c.cfg.DownloadDir)
			c.logger.Info("download finished", zap.String("path", path))
			return path, nil
		case <-ticker.C:
			var msg string
			if err := chromedp.Run(ctx, chromedp.Evaluate(errorScript, &msg)); err == nil && msg != "" {
				return "", &PageError{Message: msg}
			}
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}
