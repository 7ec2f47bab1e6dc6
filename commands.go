package main

import (
	"fmt"
	"os"

	"github.com/k0kubun/pp"
	"github.com/mdsohelmia/xtension-dl/pkg/browser"
	"github.com/mdsohelmia/xtension-dl/pkg/config"
	"github.com/mdsohelmia/xtension-dl/pkg/downloader"
	"github.com/mdsohelmia/xtension-dl/pkg/issuer"
	"github.com/mdsohelmia/xtension-dl/pkg/notify"
	"github.com/mdsohelmia/xtension-dl/pkg/page"
	"github.com/mdsohelmia/xtension-dl/pkg/trigger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	serveAddr string

	browserExec     string
	browserSelector string
	browserHeadful  bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download the package once",
	RunE:  runFetch,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a download page whose button issues signed URLs",
	RunE:  runServe,
}

var clickCmd = &cobra.Command{
	Use:   "click [page-url]",
	Short: "Open a hosted download page in Chrome and click its download button",
	Args:  cobra.ExactArgs(1),
	RunE:  runClick,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version and exit",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "xtension version %s\n", appVersion)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")

	clickCmd.Flags().StringVar(&browserExec, "exec", "", "browser executable (auto-detect if empty)")
	clickCmd.Flags().StringVar(&browserSelector, "selector", browser.DefaultConfig().Selector, "download button selector")
	clickCmd.Flags().BoolVar(&browserHeadful, "headful", false, "show the browser window")
}

func triggerOptions() trigger.Options {
	return trigger.Options{
		Server:       cfg.Host(),
		Filename:     cfg.Filename,
		SuccessDelay: cfg.SuccessDelay,
		Logger:       logger,
	}
}

// serveTriggerOptions waits for the visitor's browser before reporting
// success unless a delay was configured explicitly.
func serveTriggerOptions(cmd *cobra.Command) trigger.Options {
	opts := triggerOptions()
	if !cmd.Flags().Changed("success-delay") && os.Getenv(config.EnvSuccessDelay) == "" {
		opts.SuccessDelay = config.DefaultServeSuccessDelay
	}
	return opts
}

func runFetch(cmd *cobra.Command, args []string) error {
	n, err := notify.New(cfg.Notifier, cmd.OutOrStdout(), noColor)
	if err != nil {
		return err
	}

	tr := trigger.New(
		issuer.New(cfg, logger),
		downloader.FetcherFromConfig(cfg, logger),
		n,
		triggerOptions(),
	)

	ctx, cancel := signalContext()
	defer cancel()

	logger.Debug("fetching", zap.String("url", cfg.APIURL()), zap.String("out", cfg.RootPath))
	res, err := tr.Start(ctx)
	if cfg.Debug {
		pp.Fprintln(os.Stderr, res)
	}
	if err != nil {
		return errReported
	}
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	// the visitor's browser saves the file, so nothing is written here
	tr := trigger.New(issuer.New(cfg, logger), page.AnchorFetcher{}, nil, serveTriggerOptions(cmd))
	srv := page.New(tr, page.Options{Filename: cfg.Filename, Logger: logger})

	ctx, cancel := signalContext()
	defer cancel()

	go func() {
		select {
		case <-srv.Ready():
			fmt.Fprintf(cmd.OutOrStdout(), "Download page ready on %s\n", serveAddr)
		case <-ctx.Done():
		}
	}()

	return srv.ListenAndServe(ctx, serveAddr)
}

func runClick(cmd *cobra.Command, args []string) error {
	bc := browser.DefaultConfig()
	bc.ExecPath = browserExec
	if bc.ExecPath == "" {
		bc.ExecPath = browser.DetectBrowser()
		if bc.ExecPath == "" {
			return fmt.Errorf("could not find Chrome/Chromium; pass --exec")
		}
		logger.Info("auto-detected browser", zap.String("path", bc.ExecPath))
	}
	bc.Selector = browserSelector
	bc.Headless = !browserHeadful
	bc.DownloadDir = cfg.RootPath
	bc.PollInterval = cfg.PollInterval
	bc.PollAttempts = cfg.PollAttempts

	if err := os.MkdirAll(cfg.RootPath, 0o755); err != nil {
		return err
	}

	clicker, err := browser.NewClicker(bc, logger)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	n, err := notify.New(cfg.Notifier, cmd.OutOrStdout(), noColor)
	if err != nil {
		return err
	}
	n.Loading("Opening " + args[0] + "...")

	path, err := clicker.Click(ctx, args[0])
	if err != nil {
		n.Failure(notify.Notice{Title: "Download Failed", Message: err.Error()})
		return errReported
	}
	n.Success(notify.Notice{
		Title:   "Download Successful!",
		Message: "Your " + cfg.Filename + " file has been downloaded.",
		Steps:   notify.InstallSteps,
		File:    path,
	})
	return nil
}
