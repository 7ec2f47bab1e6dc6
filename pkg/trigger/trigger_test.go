package trigger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mdsohelmia/xtension-dl/pkg/config"
	"github.com/mdsohelmia/xtension-dl/pkg/downloader"
	"github.com/mdsohelmia/xtension-dl/pkg/issuer"
	"github.com/mdsohelmia/xtension-dl/pkg/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreAnyFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreAnyFunction("net/http.(*persistConn).writeLoop"),
	)
}

type fakeIssuer struct {
	calls   atomic.Int32
	grant   issuer.Grant
	err     error
	release chan struct{}
	entered chan struct{}
}

func (f *fakeIssuer) Issue(ctx context.Context) (issuer.Grant, error) {
	f.calls.Add(1)
	if f.entered != nil {
		close(f.entered)
	}
	if f.release != nil {
		<-f.release
	}
	return f.grant, f.err
}

type fakeFetcher struct {
	urls     []string
	err      error
	checkErr error
	onFetch  func()
}

func (f *fakeFetcher) Check(ctx context.Context) error {
	return f.checkErr
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) (downloader.Artifact, error) {
	f.urls = append(f.urls, url)
	if f.onFetch != nil {
		f.onFetch()
	}
	if f.err != nil {
		return downloader.Artifact{}, f.err
	}
	return downloader.Artifact{URL: url, Path: "downloads/Xtension.crx", Size: 2048}, nil
}

func TestStartSuccess(t *testing.T) {
	is := &fakeIssuer{grant: issuer.Grant{DownloadURL: "https://cdn.example.com/X"}}
	f := &fakeFetcher{}
	var rec notify.Recorder

	tr := New(is, f, &rec, Options{Server: "example.com", Filename: "Xtension.crx"})
	res, err := tr.Start(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"https://cdn.example.com/X"}, f.urls)
	assert.Equal(t, "downloads/Xtension.crx", res.Artifact.Path)
	assert.False(t, tr.Busy())

	ev, ok := rec.Last(notify.EventSuccess)
	require.True(t, ok)
	assert.Equal(t, "Download Successful!", ev.Notice.Title)
	assert.Contains(t, ev.Notice.Message, "Xtension.crx")
	assert.Equal(t, notify.InstallSteps, ev.Notice.Steps)

	_, failed := rec.Last(notify.EventFailure)
	assert.False(t, failed)
}

func TestStartIsNoOpWhileBusy(t *testing.T) {
	is := &fakeIssuer{
		grant:   issuer.Grant{DownloadURL: "https://cdn.example.com/X"},
		release: make(chan struct{}),
		entered: make(chan struct{}),
	}
	var rec notify.Recorder
	tr := New(is, &fakeFetcher{}, &rec, Options{})

	done := make(chan error)
	go func() {
		_, err := tr.Start(context.Background())
		done <- err
	}()

	<-is.entered
	assert.True(t, tr.Busy())

	before := len(rec.Events())
	_, err := tr.Start(context.Background())
	assert.True(t, errors.Is(err, ErrBusy))
	assert.Equal(t, int32(1), is.calls.Load())
	assert.Equal(t, before, len(rec.Events()))

	close(is.release)
	require.NoError(t, <-done)
	assert.False(t, tr.Busy())
}

func TestStartIssuerFailure(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		message string
	}{
		{
			name:    "status",
			err:     &issuer.Error{Kind: issuer.KindStatus, Status: 502, Msg: "Server error: 502 - Bad Gateway"},
			message: "502",
		},
		{
			name:    "rejected",
			err:     &issuer.Error{Kind: issuer.KindRejected, Msg: "E"},
			message: "E",
		},
		{
			name:    "connection",
			err:     issuer.Classify(errors.New("dial tcp: connection refused")),
			message: "Cannot connect to server: example.com",
		},
		{
			name:    "untyped",
			err:     errors.New("something odd"),
			message: "something odd",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeFetcher{}
			var rec notify.Recorder
			tr := New(&fakeIssuer{err: tt.err}, f, &rec, Options{Server: "example.com"})

			_, err := tr.Start(context.Background())
			require.Error(t, err)
			assert.False(t, tr.Busy())
			assert.Empty(t, f.urls)

			ev, ok := rec.Last(notify.EventFailure)
			require.True(t, ok)
			assert.Equal(t, "Download Failed", ev.Notice.Title)
			assert.Contains(t, ev.Notice.Message, tt.message)
		})
	}
}

func TestStartDownloadFailureIsNotSuccess(t *testing.T) {
	is := &fakeIssuer{grant: issuer.Grant{DownloadURL: "https://cdn.example.com/X"}}
	var rec notify.Recorder
	tr := New(is, &fakeFetcher{err: fmt.Errorf("disk full")}, &rec, Options{})

	_, err := tr.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, issuer.KindDownload, issuer.KindOf(err))

	_, ok := rec.Last(notify.EventSuccess)
	assert.False(t, ok)
	ev, ok := rec.Last(notify.EventFailure)
	require.True(t, ok)
	assert.Contains(t, ev.Notice.Message, "disk full")
	assert.False(t, tr.Busy())
}

func TestStartRefusedDestinationSkipsIssue(t *testing.T) {
	is := &fakeIssuer{grant: issuer.Grant{DownloadURL: "https://cdn.example.com/X"}}
	f := &fakeFetcher{checkErr: fmt.Errorf("%w: downloads/Xtension.crx", downloader.ErrFileExists)}
	var rec notify.Recorder
	tr := New(is, f, &rec, Options{})

	_, err := tr.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, downloader.ErrFileExists)
	assert.Equal(t, issuer.KindDownload, issuer.KindOf(err))
	assert.Equal(t, int32(0), is.calls.Load())
	assert.Empty(t, f.urls)

	ev, ok := rec.Last(notify.EventFailure)
	require.True(t, ok)
	assert.Contains(t, ev.Notice.Message, "file already exists")
	assert.False(t, tr.Busy())
}

func TestStartWaitsSuccessDelay(t *testing.T) {
	is := &fakeIssuer{grant: issuer.Grant{DownloadURL: "https://cdn.example.com/X"}}
	var rec notify.Recorder
	tr := New(is, &fakeFetcher{}, &rec, Options{SuccessDelay: 50 * time.Millisecond})

	start := time.Now()
	_, err := tr.Start(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)

	_, ok := rec.Last(notify.EventSuccess)
	assert.True(t, ok)
}

func TestStartSuccessDelayEndsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	is := &fakeIssuer{grant: issuer.Grant{DownloadURL: "https://cdn.example.com/X"}}
	f := &fakeFetcher{onFetch: cancel}
	var rec notify.Recorder
	tr := New(is, f, &rec, Options{SuccessDelay: time.Hour})

	done := make(chan error, 1)
	go func() {
		_, err := tr.Start(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("success delay ignored context cancellation")
	}

	_, ok := rec.Last(notify.EventSuccess)
	assert.True(t, ok)
	assert.False(t, tr.Busy())
}

func TestStartCanRetryAfterFailure(t *testing.T) {
	is := &fakeIssuer{err: &issuer.Error{Kind: issuer.KindStatus, Msg: "Server error: 500 - Internal Server Error"}}
	var rec notify.Recorder
	tr := New(is, &fakeFetcher{}, &rec, Options{})

	_, err := tr.Start(context.Background())
	require.Error(t, err)

	is.err = nil
	is.grant = issuer.Grant{DownloadURL: "https://cdn.example.com/X"}
	_, err = tr.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), is.calls.Load())
}

// TestStartEndToEnd wires the real issuer and downloader against a test server.
func TestStartEndToEnd(t *testing.T) {
	content := []byte("Cr24 extension payload")
	mux := http.NewServeMux()
	var srvURL string
	mux.HandleFunc("/api/generate-download-url", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"success": true, "downloadUrl": %q}`, srvURL+"/files/Xtension.crx?sig=1")
	})
	mux.HandleFunc("/files/Xtension.crx", func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "Xtension.crx", time.Time{}, bytes.NewReader(content))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	srvURL = srv.URL

	cfg := config.Default()
	cfg.ServerURL = srv.URL
	cfg.RequireHTTPS = false
	cfg.RootPath = t.TempDir()
	cfg.ShowProgress = false
	cfg.RetryAttempts = 0

	var rec notify.Recorder
	tr := New(issuer.New(cfg, nil), downloader.FetcherFromConfig(cfg, nil), &rec, Options{
		Server:   cfg.Host(),
		Filename: cfg.Filename,
	})

	res, err := tr.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(len(content)), res.Artifact.Size)

	_, ok := rec.Last(notify.EventSuccess)
	assert.True(t, ok)
}
