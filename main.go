package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdsohelmia/xtension-dl/pkg/config"
	"github.com/mdsohelmia/xtension-dl/pkg/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// appVersion is set at build time via -ldflags="-X main.appVersion=x.x.x"
var appVersion = "dev"

var (
	// Global flags
	serverURL  string
	endpoint   string
	timeout    time.Duration
	retries    int
	outDir     string
	filename   string
	notifier   string
	debug      bool
	overwrite  bool
	noProgress bool
	noColor    bool
	allowHTTP  bool

	successDelay time.Duration

	cfg    config.Config
	logger *zap.Logger
)

// errReported marks failures the notifier already showed to the user.
var errReported = errors.New("download failed")

var rootCmd = &cobra.Command{
	Use:   "xtension",
	Short: "Request a signed download URL and fetch the Xtension package",
	Long: `xtension asks the download server for a signed URL, downloads the
extension package and reports how it went.

Run without a subcommand to download once.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runFetch,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&serverURL, "server", config.DefaultServerURL, "download server base URL")
	f.StringVar(&endpoint, "endpoint", config.DefaultEndpoint, "URL-issuing endpoint path")
	f.DurationVar(&timeout, "timeout", config.DefaultTimeout, "timeout for each HTTP exchange")
	f.IntVar(&retries, "retries", config.DefaultRetryAttempts, "retries after a failed request")
	f.StringVarP(&outDir, "out", "o", config.DefaultRootPath, "directory to save downloads")
	f.StringVar(&filename, "filename", config.DefaultFilename, "name of the saved file")
	f.StringVar(&notifier, "notifier", config.DefaultNotifier, "how to report results: alert or modal")
	f.BoolVar(&debug, "debug", false, "verbose logging")
	f.BoolVar(&overwrite, "overwrite", false, "replace an existing file")
	f.BoolVar(&noProgress, "no-progress", false, "hide the progress bar")
	f.BoolVar(&noColor, "no-color", false, "disable coloured output")
	f.BoolVar(&allowHTTP, "allow-http", false, "allow a plain http download server")
	f.DurationVar(&successDelay, "success-delay", 0, "wait before reporting success (serve defaults to 2s)")

	rootCmd.AddCommand(fetchCmd, serveCmd, clickCmd, versionCmd)
}

// setup resolves the config (defaults, then XTENSION_* env, then flags)
// and builds the logger.
func setup(cmd *cobra.Command, args []string) error {
	c, err := config.FromEnv(config.Default())
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("server") {
		c.ServerURL = serverURL
	}
	if flags.Changed("endpoint") {
		c.Endpoint = endpoint
	}
	if flags.Changed("timeout") {
		c.Timeout = timeout
	}
	if flags.Changed("retries") {
		c.RetryAttempts = retries
	}
	if flags.Changed("out") {
		c.RootPath = outDir
	}
	if flags.Changed("filename") {
		c.Filename = filename
	}
	if flags.Changed("notifier") {
		c.Notifier = notifier
	}
	if flags.Changed("debug") {
		c.Debug = debug
	}
	if flags.Changed("overwrite") {
		c.Overwrite = overwrite
	}
	if flags.Changed("success-delay") {
		c.SuccessDelay = successDelay
	}
	if noProgress {
		c.ShowProgress = false
	}
	if allowHTTP {
		c.RequireHTTPS = false
	}

	if err := c.Validate(); err != nil {
		return err
	}
	cfg = c

	logger, err = logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	return nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}
