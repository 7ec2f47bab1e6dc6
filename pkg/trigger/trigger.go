// Package trigger runs the download flow: issue a signed URL, fetch it and
// tell the user how it went. A Trigger runs at most one flow at a time.
package trigger

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/mdsohelmia/xtension-dl/pkg/downloader"
	"github.com/mdsohelmia/xtension-dl/pkg/issuer"
	"github.com/mdsohelmia/xtension-dl/pkg/logging"
	"github.com/mdsohelmia/xtension-dl/pkg/notify"
	"go.uber.org/zap"
)

// ErrBusy is returned by Start while another flow is in flight.
var ErrBusy = errors.New("download already in progress")

// Issuer obtains a download URL.
type Issuer interface {
	Issue(ctx context.Context) (issuer.Grant, error)
}

// Fetcher turns a download URL into a saved artifact.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (downloader.Artifact, error)
}

// Checker is implemented by fetchers that can refuse a download before a URL
// is issued for it.
type Checker interface {
	Check(ctx context.Context) error
}

// Result describes a completed flow.
type Result struct {
	Grant    issuer.Grant
	Artifact downloader.Artifact
}

// Options tune a Trigger. Zero values are usable.
type Options struct {
	// Server names the remote host in error messages.
	Server string
	// Filename is the artifact name shown to the user.
	Filename string
	// SuccessDelay is waited before the success notice.
	SuccessDelay time.Duration
	Logger       *zap.Logger
}

type Trigger struct {
	issuer   Issuer
	fetcher  Fetcher
	notifier notify.Notifier
	opts     Options
	logger   *zap.Logger

	busy atomic.Bool
}

func New(is Issuer, f Fetcher, n notify.Notifier, opts Options) *Trigger {
	return &Trigger{
		issuer:   is,
		fetcher:  f,
		notifier: n,
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).Named("trigger"),
	}
}

// Busy reports whether a flow is in flight.
func (t *Trigger) Busy() bool {
	return t.busy.Load()
}

// Start runs one download flow with the trigger's notifier.
func (t *Trigger) Start(ctx context.Context) (Result, error) {
	return t.StartWith(ctx, t.notifier)
}

// StartWith runs one download flow reporting to n. It returns ErrBusy
// without side effects while another flow is running; otherwise the flow
// ends with exactly one Success or Failure notice.
func (t *Trigger) StartWith(ctx context.Context, n notify.Notifier) (Result, error) {
	if !t.busy.CompareAndSwap(false, true) {
		t.logger.Debug("already downloading")
		return Result{}, ErrBusy
	}
	defer t.busy.Store(false)

	t.logger.Info("starting download process")

	res, err := t.run(ctx, n)
	if err != nil {
		t.logger.Warn("download failed",
			zap.Stringer("kind", issuer.KindOf(err)),
			zap.Error(err))
		n.Failure(notify.Notice{
			Title:   "Download Failed",
			Message: issuer.Message(err, t.opts.Server),
		})
		return res, err
	}

	if t.opts.SuccessDelay > 0 {
		timer := time.NewTimer(t.opts.SuccessDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
		}
	}

	t.logger.Info("download complete",
		zap.String("path", res.Artifact.Path),
		zap.String("size", res.Artifact.HumanSize()))
	n.Success(t.successNotice(res))
	return res, nil
}

func (t *Trigger) run(ctx context.Context, n notify.Notifier) (Result, error) {
	n.Loading("Connecting to server...")

	// a refused destination must not spend an issued URL
	if c, ok := t.fetcher.(Checker); ok {
		if err := c.Check(ctx); err != nil {
			return Result{}, &issuer.Error{Kind: issuer.KindDownload, Err: err}
		}
	}

	grant, err := t.issuer.Issue(ctx)
	if err != nil {
		return Result{}, err
	}
	t.logger.Debug("download url issued", zap.String("url", grant.DownloadURL))

	n.Loading("Downloading file...")

	artifact, err := t.fetcher.Fetch(ctx, grant.DownloadURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Result{Grant: grant}, &issuer.Error{Kind: issuer.KindCanceled, Err: ctxErr}
		}
		return Result{Grant: grant}, &issuer.Error{Kind: issuer.KindDownload, Err: err}
	}

	return Result{Grant: grant, Artifact: artifact}, nil
}

func (t *Trigger) filename() string {
	if t.opts.Filename != "" {
		return t.opts.Filename
	}
	return "file"
}

func (t *Trigger) successNotice(res Result) notify.Notice {
	notice := notify.Notice{
		Title: "Download Successful!",
		Steps: notify.InstallSteps,
		Link:  res.Grant.DownloadURL,
		File:  res.Artifact.Path,
	}
	if res.Artifact.Path == "" {
		// the browser saves the file itself
		notice.Title = "Download Ready"
		notice.Message = "Your " + t.filename() + " download has started."
		notice.File = t.filename()
		return notice
	}
	notice.Message = "Your " + t.filename() + " file has been downloaded (" + res.Artifact.HumanSize() + ")."
	return notice
}
