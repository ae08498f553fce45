package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	_ "net/http/pprof" // Enable pprof
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/IdanVahab/Temi-Server/internal/config"
	"github.com/IdanVahab/Temi-Server/internal/journal"
	"github.com/IdanVahab/Temi-Server/internal/logger"
	"github.com/IdanVahab/Temi-Server/internal/metrics"
	"github.com/IdanVahab/Temi-Server/internal/recorder"
	"github.com/IdanVahab/Temi-Server/internal/server"
	"github.com/IdanVahab/Temi-Server/internal/session"
	"github.com/IdanVahab/Temi-Server/internal/webrtc"
)

var mainLog = logger.Module("Main")

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scenario server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().String("http", "", "HTTP server address")
	cmd.Flags().String("metrics", "", "Metrics server address (empty in config disables)")
	cmd.Flags().String("pprof", "", "pprof server address")
	cmd.Flags().String("journal", "", "SQLite event journal path")
	cmd.Flags().String("record-path", "", "Frame recording output directory")
	cmd.Flags().String("caption-url", "", "External captioner URL")
	cmd.Flags().Int("max-clients", 0, "Maximum WebRTC clients")
	cmd.Flags().Bool("log-color", true, "Enable colored log output")
	return cmd
}

// loadConfig reads the config file and applies command-line overrides, then
// installs the global logger.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("log-level") {
		cfg.Log.Level, _ = flags.GetString("log-level")
	}
	if flags.Changed("http") {
		cfg.Server.HTTPAddr, _ = flags.GetString("http")
	}
	if flags.Changed("metrics") {
		cfg.Server.MetricsAddr, _ = flags.GetString("metrics")
	}
	if flags.Changed("pprof") {
		cfg.Server.PprofAddr, _ = flags.GetString("pprof")
	}
	if flags.Changed("journal") {
		cfg.Journal.Path, _ = flags.GetString("journal")
	}
	if flags.Changed("record-path") {
		cfg.Record.Path, _ = flags.GetString("record-path")
	}
	if flags.Changed("caption-url") {
		cfg.Caption.URL, _ = flags.GetString("caption-url")
	}
	if flags.Changed("max-clients") {
		cfg.WebRTC.MaxClients, _ = flags.GetInt("max-clients")
	}
	if flags.Changed("log-color") {
		cfg.Log.Color, _ = flags.GetBool("log-color")
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	level, err := logger.ParseLevel(cfg.Log.Level)
	if err != nil {
		return config.Config{}, fmt.Errorf("invalid log level: %w", err)
	}
	logger.Init(level, os.Stderr, cfg.Log.Color)
	return cfg, nil
}

// app holds the running components of the server.
type app struct {
	metrics     *metrics.Metrics
	broadcaster *session.Broadcaster
	journal     *journal.Store
	recorder    *recorder.Recorder
	sessions    *session.Manager
	webrtc      *webrtc.Server
	httpServer  *http.Server
}

func newApp(ctx context.Context, cfg config.Config) (*app, error) {
	a := &app{metrics: metrics.New()}
	a.broadcaster = session.NewBroadcaster(a.metrics)

	opts := session.Options{
		Engine:          cfg.Engine.Scenario(),
		IdleTimeout:     cfg.Session.IdleTimeout,
		Broadcaster:     a.broadcaster,
		Metrics:         a.metrics,
		CaptionInterval: cfg.Caption.Interval,
	}
	deps := server.Deps{Broadcaster: a.broadcaster}

	if cfg.Journal.Path != "" {
		store, err := journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		a.journal = store
		opts.Journal = store
		deps.Events = store
	}
	if cfg.Record.Path != "" {
		a.recorder = recorder.NewRecorder(cfg.Record.Path)
		opts.Recorder = a.recorder
		deps.Recorder = a.recorder
	}
	if cfg.Caption.URL != "" {
		opts.Captioner = session.NewHTTPCaptioner(cfg.Caption.URL, cfg.Caption.Timeout)
		logger.Info("Caption", "Forwarding labels to %s every %v", cfg.Caption.URL, cfg.Caption.Interval)
	}

	a.sessions = session.NewManager(opts)
	a.webrtc = webrtc.NewServer(a.sessions, cfg.WebRTC.STUNServers, cfg.WebRTC.MaxClients)

	deps.Sessions = a.sessions
	deps.WebRTC = a.webrtc
	api := server.NewServer(server.DefaultConfig(), deps)
	a.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

func serve(ctx context.Context, cfg config.Config) error {
	mainLog.Info("Scenario server starting (version %s)", version)
	mainLog.Info("  HTTP server: %s", cfg.Server.HTTPAddr)
	mainLog.Info("  Metrics server: %s", cfg.Server.MetricsAddr)
	mainLog.Info("  pprof server: %s", cfg.Server.PprofAddr)
	mainLog.Info("  Journal: %s", cfg.Journal.Path)
	mainLog.Info("  Recording path: %s", cfg.Record.Path)

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}

	// Background loops stop on signal and on listener failure alike
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errCh := make(chan error, 1)

	if cfg.Server.PprofAddr != "" {
		go func() {
			mainLog.Info("Starting pprof server on %s", cfg.Server.PprofAddr)
			if err := http.ListenAndServe(cfg.Server.PprofAddr, nil); err != nil {
				mainLog.Warn("pprof server error: %v", err)
			}
		}()
	}

	var metricsServer *http.Server
	if cfg.Server.MetricsAddr != "" {
		metricsServer = a.metrics.NewServer(cfg.Server.MetricsAddr)
		go func() {
			mainLog.Info("Starting metrics server on %s", cfg.Server.MetricsAddr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				mainLog.Warn("Metrics server error: %v", err)
			}
		}()
	}

	go func() {
		mainLog.Info("Starting HTTP server on %s", cfg.Server.HTTPAddr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.sessions.RunReaper(ctx, cfg.Session.ReapInterval)
	}()

	mainLog.Info("Server started successfully")

	var runErr error
	select {
	case <-ctx.Done():
		mainLog.Info("Shutting down...")
	case runErr = <-errCh:
		mainLog.Error("%v", runErr)
	}

	cancel()
	if err := a.shutdown(metricsServer); err != nil {
		mainLog.Warn("Error during shutdown: %v", err)
	}
	wg.Wait()
	mainLog.Info("Server stopped")
	return runErr
}

// shutdown stops listeners first, then sessions and storage.
func (a *app) shutdown(metricsServer *http.Server) error {
	// Ends open SSE streams so Shutdown does not wait on them
	a.broadcaster.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := a.httpServer.Shutdown(ctx)
	if metricsServer != nil {
		if mErr := metricsServer.Shutdown(ctx); mErr != nil && err == nil {
			err = mErr
		}
	}

	_ = a.webrtc.Close()
	a.sessions.CloseAll()
	if a.recorder != nil {
		if rErr := a.recorder.Close(); rErr != nil && err == nil {
			err = rErr
		}
	}
	if a.journal != nil {
		if jErr := a.journal.Close(); jErr != nil && err == nil {
			err = jErr
		}
	}
	return err
}
