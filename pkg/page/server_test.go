package page

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mdsohelmia/xtension-dl/pkg/issuer"
	"github.com/mdsohelmia/xtension-dl/pkg/notify"
	"github.com/mdsohelmia/xtension-dl/pkg/trigger"
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

type stubIssuer struct {
	grant issuer.Grant
	err   error
}

func (s stubIssuer) Issue(ctx context.Context) (issuer.Grant, error) {
	return s.grant, s.err
}

// busyStarter always reports a flow in flight.
type busyStarter struct{}

func (busyStarter) StartWith(ctx context.Context, n notify.Notifier) (trigger.Result, error) {
	return trigger.Result{}, trigger.ErrBusy
}

func (busyStarter) Busy() bool { return true }

func newServer(is trigger.Issuer) *Server {
	tr := trigger.New(is, AnchorFetcher{}, nil, trigger.Options{Server: "example.com", Filename: "Xtension.crx"})
	return New(tr, Options{Filename: "Xtension.crx"})
}

func postForm(t *testing.T, h http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestIndex(t *testing.T) {
	s := newServer(stubIssuer{})
	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `id="downloadBtn"`)
	assert.Contains(t, body, `id="downloadModal" class="modal"`)
	assert.NotContains(t, body, "modal open")
}

func TestDownloadSuccessRendersAnchor(t *testing.T) {
	s := newServer(stubIssuer{grant: issuer.Grant{DownloadURL: "https://cdn.example.com/Xtension.crx?sig=1"}})

	rr := postForm(t, s.Handler(), "/download", url.Values{"action": {"download"}})
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, "modal open")
	assert.Contains(t, body, `href="https://cdn.example.com/Xtension.crx?sig=1"`)
	assert.Contains(t, body, `download="Xtension.crx"`)
	assert.Contains(t, body, "link.click()")
}

func TestDownloadFailureOffersRetry(t *testing.T) {
	s := newServer(stubIssuer{err: &issuer.Error{Kind: issuer.KindRejected, Msg: "quota exceeded"}})

	rr := postForm(t, s.Handler(), "/download", url.Values{"action": {"retry"}})
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, "quota exceeded")
	assert.Contains(t, body, `data-action="retry"`)
	assert.NotContains(t, body, "link.click()")
}

func TestDownloadClose(t *testing.T) {
	s := newServer(stubIssuer{})
	rr := postForm(t, s.Handler(), "/download", url.Values{"action": {"close"}})
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/", rr.Header().Get("Location"))
}

func TestDownloadUnknownAction(t *testing.T) {
	s := newServer(stubIssuer{})
	rr := postForm(t, s.Handler(), "/download", url.Values{"action": {"explode"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestDownloadWhileBusy(t *testing.T) {
	s := New(busyStarter{}, Options{Filename: "Xtension.crx"})
	rr := postForm(t, s.Handler(), "/download", url.Values{"action": {"download"}})
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.Contains(t, rr.Body.String(), "already in progress")
	assert.Contains(t, rr.Body.String(), "disabled")
}

func TestUnbound(t *testing.T) {
	s := newServer(stubIssuer{})
	s.Unbind()
	rr := postForm(t, s.Handler(), "/download", url.Values{"action": {"download"}})
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)

	s.Bind()
	s.Bind()
	rr = postForm(t, s.Handler(), "/api/download", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestBindUnbindConcurrently(t *testing.T) {
	s := newServer(stubIssuer{grant: issuer.Grant{DownloadURL: "https://cdn.example.com/X"}})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			s.Bind()
		}()
		go func() {
			defer wg.Done()
			s.Unbind()
		}()
	}
	wg.Wait()

	s.Bind()
	rr := postForm(t, s.Handler(), "/api/download", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	s.Unbind()
	s.Unbind()
	rr = postForm(t, s.Handler(), "/api/download", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestAPI(t *testing.T) {
	tests := []struct {
		name   string
		is     stubIssuer
		status int
		want   APIResponse
	}{
		{
			name:   "success",
			is:     stubIssuer{grant: issuer.Grant{DownloadURL: "https://cdn.example.com/X"}},
			status: http.StatusOK,
			want:   APIResponse{Success: true, DownloadURL: "https://cdn.example.com/X"},
		},
		{
			name:   "status",
			is:     stubIssuer{err: &issuer.Error{Kind: issuer.KindStatus, Status: 500, Msg: "Server error: 500 - Internal Server Error"}},
			status: http.StatusBadGateway,
			want:   APIResponse{Error: "Server error: 500 - Internal Server Error", Kind: "status"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := postForm(t, newServer(tt.is).Handler(), "/api/download", nil)
			require.Equal(t, tt.status, rr.Code)

			var got APIResponse
			require.NoError(t, json.NewDecoder(rr.Body).Decode(&got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServeReadyAndShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	s := newServer(stubIssuer{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.Serve(ctx, ln) }()

	select {
	case <-s.Ready():
	case <-time.After(5 * time.Second):
		t.Fatal("server never became ready")
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-done)
}
