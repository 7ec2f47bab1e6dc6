// Package issuer requests signed download URLs from the remote endpoint.
package issuer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/k0kubun/pp"
	"github.com/mdsohelmia/xtension-dl/pkg/config"
	"github.com/mdsohelmia/xtension-dl/pkg/logging"
	"go.uber.org/zap"
)

const maxResponseBytes = 1 << 20

// Request is the body posted to the endpoint.
type Request struct {
	Timestamp int64 `json:"timestamp"`
}

// Response is the body returned by the endpoint.
type Response struct {
	Success     bool   `json:"success"`
	DownloadURL string `json:"downloadUrl,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Grant is a successfully issued download URL.
type Grant struct {
	DownloadURL string
	IssuedAt    time.Time
}

// Client talks to the URL-issuing endpoint.
type Client struct {
	apiURL       string
	requireHTTPS bool
	debug        bool
	client       *retryablehttp.Client
	logger       *zap.Logger

	// Now stamps outgoing requests.
	Now func() time.Time
}

// New builds a Client from cfg. Retries and timeout come from cfg.
func New(cfg config.Config, logger *zap.Logger) *Client {
	logger = logging.OrNop(logger).Named("issuer")

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryAttempts
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.HTTPClient.Timeout = cfg.Timeout
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if cfg.Debug {
		rc.Logger = logging.RetryLogger(logger)
	} else {
		rc.Logger = nil
	}

	return &Client{
		apiURL:       cfg.APIURL(),
		requireHTTPS: cfg.RequireHTTPS,
		debug:        cfg.Debug,
		client:       rc,
		logger:       logger,
		Now:          time.Now,
	}
}

// SetHTTPClient replaces the transport client, keeping retry settings.
func (c *Client) SetHTTPClient(hc *http.Client) {
	timeout := c.client.HTTPClient.Timeout
	c.client.HTTPClient = hc
	if hc.Timeout == 0 {
		hc.Timeout = timeout
	}
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string {
	return c.apiURL
}

// Issue posts a timestamp to the endpoint and returns the download URL it
// grants. Every failure is an *Error.
func (c *Client) Issue(ctx context.Context) (Grant, error) {
	if c.requireHTTPS && !strings.HasPrefix(strings.ToLower(c.apiURL), "https://") {
		return Grant{}, &Error{Kind: KindInsecure, Msg: "refusing plain http endpoint " + c.apiURL}
	}

	now := c.Now()
	body, err := json.Marshal(Request{Timestamp: now.UnixMilli()})
	if err != nil {
		return Grant{}, &Error{Kind: KindUnknown, Err: err}
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return Grant{}, &Error{Kind: KindUnknown, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	c.logger.Debug("requesting download url", zap.String("url", c.apiURL))

	resp, err := c.client.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		return Grant{}, Classify(err)
	}
	defer resp.Body.Close()

	c.logger.Debug("server response status", zap.Int("status", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))
		return Grant{}, &Error{
			Kind:   KindStatus,
			Status: resp.StatusCode,
			Msg:    fmt.Sprintf("Server error: %d - %s", resp.StatusCode, http.StatusText(resp.StatusCode)),
		}
	}

	var r Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&r); err != nil {
		return Grant{}, &Error{Kind: KindMalformed, Msg: "Invalid server response", Err: err}
	}
	if c.debug {
		c.logger.Debug("server response", zap.String("body", pp.Sprint(r)))
	}

	if !r.Success || r.DownloadURL == "" {
		msg := r.Error
		if msg == "" {
			msg = "Invalid server response"
		}
		return Grant{}, &Error{Kind: KindRejected, Msg: msg}
	}

	u, err := url.Parse(r.DownloadURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Grant{}, &Error{Kind: KindMalformed, Msg: "Invalid download URL: " + r.DownloadURL, Err: err}
	}

	return Grant{DownloadURL: r.DownloadURL, IssuedAt: now}, nil
}
