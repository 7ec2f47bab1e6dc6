package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cast"
)

const (
	DefaultServerURL     = "https://77.90.51.74:8080"
	DefaultEndpoint      = "/api/generate-download-url"
	DefaultTimeout       = 20 * time.Second
	DefaultRetryAttempts = 2
	DefaultFilename      = "Xtension.crx"
	DefaultRootPath      = "downloads"
	DefaultPollInterval  = 500 * time.Millisecond
	DefaultPollAttempts  = 20
	DefaultNotifier      = "alert"

	// DefaultServeSuccessDelay gives the visitor's browser time to start the
	// download before the page reports success.
	DefaultServeSuccessDelay = 2 * time.Second
)

// Env variable names read by FromEnv.
const (
	EnvServerURL     = "XTENSION_SERVER_URL"
	EnvEndpoint      = "XTENSION_ENDPOINT"
	EnvTimeout       = "XTENSION_TIMEOUT"
	EnvRetryAttempts = "XTENSION_RETRY_ATTEMPTS"
	EnvFilename      = "XTENSION_FILENAME"
	EnvRootPath      = "XTENSION_ROOT_PATH"
	EnvConcurrency   = "XTENSION_CONCURRENCY"
	EnvRequireHTTPS  = "XTENSION_REQUIRE_HTTPS"
	EnvNotifier      = "XTENSION_NOTIFIER"
	EnvDebug         = "XTENSION_DEBUG"
	EnvOverwrite     = "XTENSION_OVERWRITE"
	EnvSuccessDelay  = "XTENSION_SUCCESS_DELAY"
)

var ErrInvalid = errors.New("invalid config")

// Notifiers lists the notification strategies a Config may name.
var Notifiers = []string{"alert", "modal"}

// Config describes where the download URL is issued and how the
// artifact is fetched and reported.
type Config struct {
	ServerURL     string
	Endpoint      string
	Timeout       time.Duration // per HTTP exchange, 0 disables
	RetryAttempts int           // retries after the first attempt
	RetryWaitMin  time.Duration // Minimum time to wait
	RetryWaitMax  time.Duration // Maximum time to wait

	Filename       string
	RootPath       string
	Concurrency    int
	CopyBufferSize int
	ShowProgress   bool
	Overwrite      bool

	RequireHTTPS bool
	PollInterval time.Duration
	PollAttempts int
	SuccessDelay time.Duration

	Notifier string
	Debug    bool
}

// Default returns the stock configuration.
func Default() Config {
	return Config{
		ServerURL:     DefaultServerURL,
		Endpoint:      DefaultEndpoint,
		Timeout:       DefaultTimeout,
		RetryAttempts: DefaultRetryAttempts,
		RetryWaitMin:  500 * time.Millisecond,
		RetryWaitMax:  5 * time.Second,
		Filename:      DefaultFilename,
		RootPath:      DefaultRootPath,
		ShowProgress:  true,
		RequireHTTPS:  true,
		PollInterval:  DefaultPollInterval,
		PollAttempts:  DefaultPollAttempts,
		Notifier:      DefaultNotifier,
	}
}

// FromEnv overlays XTENSION_* variables on base.
func FromEnv(base Config) (Config, error) {
	return fromLookup(base, os.LookupEnv)
}

func fromLookup(base Config, lookup func(string) (string, bool)) (Config, error) {
	c := base
	var err error

	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	dur := func(key string, dst *time.Duration) {
		v, ok := lookup(key)
		if !ok || v == "" || err != nil {
			return
		}
		d, e := cast.ToDurationE(v)
		if e != nil {
			err = fmt.Errorf("%s: %w", key, e)
			return
		}
		*dst = d
	}
	num := func(key string, dst *int) {
		v, ok := lookup(key)
		if !ok || v == "" || err != nil {
			return
		}
		n, e := cast.ToIntE(v)
		if e != nil {
			err = fmt.Errorf("%s: %w", key, e)
			return
		}
		*dst = n
	}
	flag := func(key string, dst *bool) {
		v, ok := lookup(key)
		if !ok || v == "" || err != nil {
			return
		}
		b, e := cast.ToBoolE(v)
		if e != nil {
			err = fmt.Errorf("%s: %w", key, e)
			return
		}
		*dst = b
	}

	str(EnvServerURL, &c.ServerURL)
	str(EnvEndpoint, &c.Endpoint)
	str(EnvFilename, &c.Filename)
	str(EnvRootPath, &c.RootPath)
	str(EnvNotifier, &c.Notifier)
	dur(EnvTimeout, &c.Timeout)
	dur(EnvSuccessDelay, &c.SuccessDelay)
	num(EnvRetryAttempts, &c.RetryAttempts)
	num(EnvConcurrency, &c.Concurrency)
	flag(EnvRequireHTTPS, &c.RequireHTTPS)
	flag(EnvDebug, &c.Debug)
	flag(EnvOverwrite, &c.Overwrite)

	if err != nil {
		return base, err
	}
	return c, nil
}

// Validate reports the first problem found in c.
func (c Config) Validate() error {
	if c.ServerURL == "" {
		return fmt.Errorf("%w: server url is empty", ErrInvalid)
	}
	u, err := url.Parse(c.ServerURL)
	if err != nil {
		return fmt.Errorf("%w: server url: %v", ErrInvalid, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: server url scheme %q is not http(s)", ErrInvalid, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: server url has no host", ErrInvalid)
	}
	if !strings.HasPrefix(c.Endpoint, "/") {
		return fmt.Errorf("%w: endpoint %q must start with /", ErrInvalid, c.Endpoint)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("%w: negative timeout", ErrInvalid)
	}
	if c.RetryAttempts < 0 {
		return fmt.Errorf("%w: negative retry attempts", ErrInvalid)
	}
	if c.Filename == "" || strings.ContainsAny(c.Filename, `/\`) {
		return fmt.Errorf("%w: filename %q", ErrInvalid, c.Filename)
	}
	if c.SuccessDelay < 0 {
		return fmt.Errorf("%w: negative success delay", ErrInvalid)
	}
	if c.PollAttempts < 0 || c.PollInterval < 0 {
		return fmt.Errorf("%w: negative poll schedule", ErrInvalid)
	}
	for _, n := range Notifiers {
		if c.Notifier == n {
			return nil
		}
	}
	return fmt.Errorf("%w: unknown notifier %q", ErrInvalid, c.Notifier)
}

// APIURL joins the server URL and endpoint.
func (c Config) APIURL() string {
	return strings.TrimRight(c.ServerURL, "/") + c.Endpoint
}

// Host returns the host:port part of the server URL, used in messages.
func (c Config) Host() string {
	u, err := url.Parse(c.ServerURL)
	if err != nil || u.Host == "" {
		return c.ServerURL
	}
	return u.Host
}
