package downloader

import (
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultRootPath       = "downloads"
	DefaultCopyBufferSize = 32 * 1024
	DefaultRetryMax       = 10
)

type Config struct {
	Url            string
	Filename       string // empty derives the name from the URL path
	RootPath       string
	ShowProgress   bool
	Overwrite      bool
	Concurrency    int
	CopyBufferSize int
	RetryWaitMin   time.Duration // Minimum time to wait
	RetryWaitMax   time.Duration // Maximum time to wait
	RetryMax       int           // Maximum number of retries, 0 uses DefaultRetryMax, negative disables
	Header         map[string]string
	HTTPClient     *http.Client // base transport client, optional
	ProgressWriter io.Writer    // progress bar output when ShowProgress, default stdout
	Logger         *zap.Logger
	Debug          bool
}
