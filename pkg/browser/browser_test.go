package browser

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/chromedp/cdproto/browser"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadyScriptQuotesSelector(t *testing.T) {
	s := readyScript(`button[data-action="download"]`)
	assert.Contains(t, s, `document.querySelector("button[data-action=\"download\"]")`)
}

func TestNewClickerDefaults(t *testing.T) {
	c, err := NewClicker(Config{DownloadDir: "downloads"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "#downloadBtn", c.cfg.Selector)
	assert.Equal(t, DefaultConfig().PollInterval, c.cfg.PollInterval)
	assert.True(t, filepath.IsAbs(c.cfg.DownloadDir))
}

func TestDownloadEvents(t *testing.T) {
	d := &download{done: make(chan error, 1)}

	d.handle(&browser.EventDownloadWillBegin{GUID: "g", SuggestedFilename: "Xtension.crx"})
	d.handle(&browser.EventDownloadProgress{GUID: "g", State: browser.DownloadProgressStateInProgress})

	select {
	case <-d.done:
		t.Fatal("finished while in progress")
	default:
	}

	d.handle(&browser.EventDownloadProgress{GUID: "g", State: browser.DownloadProgressStateCompleted})
	require.NoError(t, <-d.done)
	assert.Equal(t, filepath.Join("/tmp/dl", "Xtension.crx"), d.result("/tmp/dl"))

	// later events are ignored
	d.handle(&browser.EventDownloadProgress{GUID: "g", State: browser.DownloadProgressStateCanceled})
	assert.Len(t, d.done, 0)
}

func TestDownloadCanceledEvent(t *testing.T) {
	d := &download{done: make(chan error, 1)}
	d.handle(&browser.EventDownloadProgress{State: browser.DownloadProgressStateCanceled})
	assert.ErrorIs(t, <-d.done, ErrDownloadCanceled)
}

func TestDetectBrowserFromPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell script stub")
	}
	for _, c := range candidates(runtime.GOOS) {
		if _, err := os.Stat(c); err == nil {
			t.Skipf("system browser present at %s", c)
		}
	}

	dir := t.TempDir()
	stub := filepath.Join(dir, "chromium")
	require.NoError(t, os.WriteFile(stub, []byte("#!/bin/sh\n"), 0o755))
	t.Setenv("PATH", dir)

	assert.Equal(t, stub, DetectBrowser())
}
