package page

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/mdsohelmia/xtension-dl/pkg/downloader"
	"github.com/mdsohelmia/xtension-dl/pkg/issuer"
	"github.com/mdsohelmia/xtension-dl/pkg/logging"
	"github.com/mdsohelmia/xtension-dl/pkg/notify"
	"github.com/mdsohelmia/xtension-dl/pkg/trigger"
	"go.uber.org/zap"
)

// AnchorFetcher leaves saving to the visitor's browser: the success modal
// links the issued URL with a download attribute.
type AnchorFetcher struct{}

func (AnchorFetcher) Fetch(ctx context.Context, url string) (downloader.Artifact, error) {
	return downloader.Artifact{URL: url}, nil
}

// Starter runs the download flow reporting to a per-request notifier.
type Starter interface {
	StartWith(ctx context.Context, n notify.Notifier) (trigger.Result, error)
	Busy() bool
}

type Options struct {
	Filename string
	Logger   *zap.Logger
}

// APIResponse is returned by POST /api/download.
type APIResponse struct {
	Success     bool   `json:"success"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Error       string `json:"error,omitempty"`
	Kind        string `json:"kind,omitempty"`
}

type notifierKey struct{}

type Server struct {
	starter  Starter
	registry *trigger.Registry
	opts     Options
	logger   *zap.Logger
	ready    trigger.Ready

	mu     sync.Mutex
	unbind func()
}

// New binds the download button to starter.
func New(starter Starter, opts Options) *Server {
	s := &Server{
		starter:  starter,
		registry: trigger.NewRegistry(),
		opts:     opts,
		logger:   logging.OrNop(opts.Logger).Named("page"),
	}
	s.Bind()
	return s
}

// Bind (re)attaches the button handler. Rebinding replaces the previous
// handler.
func (s *Server) Bind() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unbind = s.registry.Bind(ButtonID, func(ctx context.Context) error {
		n, _ := ctx.Value(notifierKey{}).(notify.Notifier)
		if n == nil {
			n = &notify.Recorder{}
		}
		_, err := s.starter.StartWith(ctx, n)
		return err
	})
}

// Unbind detaches the button handler; clicks then fail with ErrUnbound.
func (s *Server) Unbind() {
	s.mu.Lock()
	unbind := s.unbind
	s.unbind = nil
	s.mu.Unlock()

	if unbind != nil {
		unbind()
	}
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready.Done()
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /download", s.handleDownload)
	mux.HandleFunc("POST /api/download", s.handleAPI)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	return mux
}

func (s *Server) render(w http.ResponseWriter, status int, data pageData) {
	data.Filename = s.opts.Filename
	data.ButtonID = ButtonID
	data.ModalID = ModalID
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		s.logger.Error("render page", zap.Error(err))
	}
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, http.StatusOK, pageData{Busy: s.starter.Busy()})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	action := r.FormValue("action")
	s.logger.Debug("button clicked", zap.String("action", action))

	switch action {
	case notify.ActionClose:
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	case notify.ActionDownload, notify.ActionRetry, "":
	default:
		http.Error(w, "unknown action", http.StatusBadRequest)
		return
	}

	modal := notify.NewModal(nil)
	err := s.registry.Dispatch(context.WithValue(r.Context(), notifierKey{}, notify.Notifier(modal)), ButtonID)

	switch {
	case errors.Is(err, trigger.ErrBusy):
		modal.Loading("A download is already in progress. Please wait.")
		s.render(w, http.StatusConflict, pageData{Modal: modal.HTML(), Busy: true})
	case errors.Is(err, trigger.ErrUnbound):
		http.Error(w, "download button is not ready", http.StatusServiceUnavailable)
	case err != nil:
		s.render(w, http.StatusOK, pageData{Modal: modal.HTML()})
	default:
		s.render(w, http.StatusOK, pageData{Modal: modal.HTML(), AutoStart: true})
	}
}

func (s *Server) handleAPI(w http.ResponseWriter, r *http.Request) {
	var rec notify.Recorder
	ctx := context.WithValue(r.Context(), notifierKey{}, notify.Notifier(&rec))

	err := s.registry.Dispatch(ctx, ButtonID)

	status := http.StatusOK
	body := APIResponse{Success: err == nil}
	switch {
	case errors.Is(err, trigger.ErrBusy):
		status = http.StatusConflict
		body.Error = err.Error()
	case errors.Is(err, trigger.ErrUnbound):
		status = http.StatusServiceUnavailable
		body.Error = err.Error()
	case err != nil:
		status = http.StatusBadGateway
		if ev, ok := rec.Last(notify.EventFailure); ok {
			body.Error = ev.Notice.Message
		} else {
			body.Error = err.Error()
		}
		body.Kind = issuer.KindOf(err).String()
	default:
		if ev, ok := rec.Last(notify.EventSuccess); ok {
			body.DownloadURL = ev.Notice.Link
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Serve accepts connections on ln until ctx ends, then shuts down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- srv.Serve(ln)
	}()
	s.ready.Fire()
	s.logger.Info("serving download page", zap.String("addr", ln.Addr().String()))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}
