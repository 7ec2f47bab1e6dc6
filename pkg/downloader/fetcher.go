package downloader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/inhies/go-bytesize"
	"github.com/mdsohelmia/xtension-dl/pkg/config"
	"go.uber.org/zap"
)

// Artifact describes a finished download.
type Artifact struct {
	URL  string
	Path string
	Size int64
}

// HumanSize formats Size for messages.
func (a Artifact) HumanSize() string {
	return bytesize.New(float64(a.Size)).String()
}

// Fetcher downloads issued URLs to disk, one Downloader per URL.
type Fetcher struct {
	base Config
	Hook Hook
}

// NewFetcher returns a Fetcher whose downloads start from base.
func NewFetcher(base Config) *Fetcher {
	return &Fetcher{base: base}
}

// FetcherFromConfig maps the application config onto downloader settings.
func FetcherFromConfig(cfg config.Config, logger *zap.Logger) *Fetcher {
	retries := cfg.RetryAttempts
	if retries == 0 {
		retries = -1
	}
	return NewFetcher(Config{
		Filename:       cfg.Filename,
		RootPath:       cfg.RootPath,
		ShowProgress:   cfg.ShowProgress,
		Overwrite:      cfg.Overwrite,
		Concurrency:    cfg.Concurrency,
		CopyBufferSize: cfg.CopyBufferSize,
		RetryWaitMin:   cfg.RetryWaitMin,
		RetryWaitMax:   cfg.RetryWaitMax,
		RetryMax:       retries,
		Logger:         logger,
		Debug:          cfg.Debug,
	})
}

// Check refuses early when the configured destination already exists and
// overwriting is off. Without a configured filename there is nothing to check
// until the URL is known.
func (f *Fetcher) Check(ctx context.Context) error {
	if f.base.Filename == "" || f.base.Overwrite {
		return nil
	}
	root := f.base.RootPath
	if root == "" {
		root = DefaultRootPath
	}
	path := filepath.Join(root, f.base.Filename)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrFileExists, path)
	}
	return nil
}

// Fetch downloads url and reports where it landed.
func (f *Fetcher) Fetch(ctx context.Context, url string) (Artifact, error) {
	cfg := f.base
	cfg.Url = url

	d, err := NewDownloader(ctx, &cfg)
	if err != nil {
		return Artifact{}, err
	}
	if f.Hook != nil {
		d.SetHook(f.Hook)
	}

	if err := d.Download(ctx); err != nil {
		return Artifact{}, err
	}

	a := Artifact{URL: d.GetOriginUrl(), Path: d.GetPath(), Size: d.GetFileSize()}
	if stat, err := os.Stat(a.Path); err == nil {
		a.Size = stat.Size()
	}
	return a, nil
}
