package downloader

import (
	"net/http"

	"github.com/schollz/progressbar/v3"
)

// Hook observes every copied chunk. A non-nil return aborts the download.
type Hook func(resp *http.Response, progressbar *progressbar.ProgressBar, err error) error
