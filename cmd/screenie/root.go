package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/adamskus05/screenie/internal/bulk"
	"github.com/adamskus05/screenie/internal/config"
	"github.com/adamskus05/screenie/internal/imageloader"
	"github.com/adamskus05/screenie/internal/logging"
	"github.com/adamskus05/screenie/internal/metrics"
	"github.com/adamskus05/screenie/internal/resources"
	"github.com/adamskus05/screenie/internal/snapshot"
	"github.com/adamskus05/screenie/internal/view"
	"github.com/adamskus05/screenie/pkg/client"
	"github.com/adamskus05/screenie/pkg/retry"
)

type rootFlags struct {
	server  string // Overrides SCREENIE_SERVER_URL
	verbose bool
	yes     bool // Answer yes to every confirmation
}

var flags rootFlags

var rootCmd = &cobra.Command{
	Use:           "screenie",
	Short:         "Screenshot server client",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.server, "server", "s", "", "Server URL (default $SCREENIE_SERVER_URL)")
	pf.BoolVarP(&flags.verbose, "verbose", "v", false, "Enable debug logging")
	pf.BoolVarP(&flags.yes, "yes", "y", false, "Do not ask for confirmation")
}

// app holds the wired components for one command invocation.
type app struct {
	cfg        *config.Config
	client     *client.Client
	store      *snapshot.Store
	cache      *resources.Cache
	loader     *imageloader.Loader
	controller *view.Controller
	term       *terminal
	metricsSrv *http.Server
}

// newApp loads configuration, sets up logging and wires the client core.
// A saved session for the same server is restored.
func newApp(cmd *cobra.Command) (*app, error) {
	if flags.server != "" {
		os.Setenv("SCREENIE_SERVER_URL", flags.server)
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if err := logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	if flags.verbose {
		logging.SetLevel("debug")
	}

	c, err := client.New(client.Config{
		BaseURL:     cfg.ServerURL,
		Timeout:     cfg.HTTPTimeout,
		RetryConfig: retry.DefaultConfig(),
	})
	if err != nil {
		return nil, err
	}

	if sf, err := client.LoadSession(cfg.SessionFile); err == nil {
		if err := c.ImportSession(sf); err != nil {
			logging.Debug("Ignoring saved session", logging.Err(err))
		} else {
			logging.Debug("Restored session",
				logging.String("username", sf.Username),
				logging.String("server", sf.Server))
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		logging.Warn("Failed to read session file", logging.String("path", cfg.SessionFile), logging.Err(err))
	}

	cache, err := resources.New(cfg.CacheDir)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	store := snapshot.New(c, cfg.SnapshotTTL)
	loader := imageloader.New(c.BaseURL(), c, cache, cfg.ThumbSize)
	t := newTerminal(cmd.OutOrStdout(), cmd.ErrOrStderr(), cmd.InOrStdin(), flags.yes)

	a := &app{
		cfg:    cfg,
		client: c,
		store:  store,
		cache:  cache,
		loader: loader,
		term:   t,
		controller: view.New(view.Deps{
			API:       c,
			Store:     store,
			Engine:    bulk.New(c, store, cfg.BatchSize),
			Loader:    loader,
			Renderer:  t,
			Confirmer: t,
		}),
	}
	a.startMetrics()
	return a, nil
}

func (a *app) startMetrics() {
	if a.cfg.MetricsAddr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	a.metricsSrv = &http.Server{
		Addr:              a.cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logging.Info("Metrics listening", logging.String("addr", a.cfg.MetricsAddr))
		if err := a.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error("Metrics server failed", logging.Err(err))
		}
	}()
}

// close releases every image handle and flushes the logger.
func (a *app) close() {
	if n := a.cache.ReleaseAll(); n > 0 {
		logging.Debug("Released image handles", logging.Int("count", n))
	}
	if err := a.cache.Close(); err != nil {
		logging.Warn("Failed to remove cache session", logging.Err(err))
	}
	if a.metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		a.metricsSrv.Shutdown(ctx)
		cancel()
	}
	logging.Sync()
}

// reportedError is an error the terminal has already shown to the user.
type reportedError struct{ err error }

func (e reportedError) Error() string { return e.err.Error() }
func (e reportedError) Unwrap() error { return e.err }

// reported marks controller errors, which are shown through the renderer.
func reported(err error) error {
	if err == nil {
		return nil
	}
	return reportedError{err: err}
}

// withApp wraps a command body with app setup and teardown.
func withApp(fn func(ctx context.Context, a *app, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd)
		if err != nil {
			return err
		}
		defer a.close()
		return fn(cmd.Context(), a, args)
	}
}
