package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	otelapi "go.opentelemetry.io/otel"

	"github.com/blockflow/blockflow/bus"
	"github.com/blockflow/blockflow/engine"
	blockotel "github.com/blockflow/blockflow/otel"
	"github.com/blockflow/blockflow/runlog"
	"github.com/blockflow/blockflow/server"
	"github.com/blockflow/blockflow/sse"
	"github.com/blockflow/blockflow/store"
)

// NewServeCmd creates the "serve" subcommand.
func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the blockflow HTTP server",
		RunE:  runServe,
	}

	cmd.Flags().IntP("port", "p", 8080, "Listen port")
	cmd.Flags().String("host", "0.0.0.0", "Listen host")
	cmd.Flags().String("cors-origin", "*", "Allowed CORS origin")
	cmd.Flags().String("project-dir", ".", "Project directory (graphs, variables, run log)")
	cmd.Flags().String("app-db", "", "Path to the global database (default: ~/.blockflow/app.db)")
	cmd.Flags().String("plugins", "", "Directory of plugin manifests to register (default: <project-dir>/plugins)")
	cmd.Flags().String("otlp-endpoint", "", "OTLP trace collector endpoint (host:port); empty disables tracing export")
	cmd.Flags().String("tls-cert", "", "TLS certificate file")
	cmd.Flags().String("tls-key", "", "TLS key file")
	cmd.Flags().Duration("read-timeout", 30*time.Second, "HTTP read timeout")
	cmd.Flags().Duration("write-timeout", 60*time.Second, "HTTP write timeout")
	cmd.Flags().Int64("max-body", 1<<20, "Max request body size in bytes")
	cmd.Flags().Duration("schedule-poll", 5*time.Second, "Schedule poll interval")

	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	corsOrigin, _ := cmd.Flags().GetString("cors-origin")
	projectDir, _ := cmd.Flags().GetString("project-dir")
	otlpEndpoint, _ := cmd.Flags().GetString("otlp-endpoint")
	tlsCert, _ := cmd.Flags().GetString("tls-cert")
	tlsKey, _ := cmd.Flags().GetString("tls-key")
	readTimeout, _ := cmd.Flags().GetDuration("read-timeout")
	writeTimeout, _ := cmd.Flags().GetDuration("write-timeout")
	maxBody, _ := cmd.Flags().GetInt64("max-body")
	schedulePoll, _ := cmd.Flags().GetDuration("schedule-poll")

	logger := slog.Default()

	// --- Tracing export ---
	if otlpEndpoint != "" {
		shutdown, err := blockotel.SetupTracing(cmd.Context(), otlpEndpoint, "blockflow")
		if err != nil {
			return fmt.Errorf("setting up tracing: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = shutdown(shutdownCtx)
		}()
	}

	// --- Stores ---
	project, err := store.OpenProject(filepath.Join(projectDir, "blockflow.db"))
	if err != nil {
		return fmt.Errorf("opening project store: %w", err)
	}
	defer func() {
		_ = project.Close()
	}()

	appPath, err := resolveAppDBPath(cmd)
	if err != nil {
		return err
	}
	app, err := store.OpenApp(appPath)
	if err != nil {
		return fmt.Errorf("opening app store: %w", err)
	}
	defer func() {
		_ = app.Close()
	}()

	runLog, err := runlog.Open(filepath.Join(projectDir, "run.log"))
	if err != nil {
		return fmt.Errorf("opening run log: %w", err)
	}
	defer func() {
		_ = runLog.Close()
	}()

	// --- Plugins ---
	pluginDir, _ := cmd.Flags().GetString("plugins")
	if pluginDir == "" {
		pluginDir = filepath.Join(projectDir, "plugins")
	}
	if err := cmd.Flags().Set("plugins", pluginDir); err != nil {
		return err
	}
	reg, err := buildRegistry(cmd)
	if err != nil {
		return err
	}

	// --- Engine and event fan-out ---
	eb := bus.NewMemBus(bus.MemBusConfig{})
	defer func() {
		_ = eb.Close()
	}()

	tracing := blockotel.NewTracingHandler(otelapi.GetTracerProvider().Tracer("blockflow/engine"))
	metrics, err := blockotel.NewMetricsHandler(otelapi.GetMeterProvider().Meter("blockflow/engine"))
	if err != nil {
		return fmt.Errorf("initializing engine metrics: %w", err)
	}

	// node_status bursts are coalesced before they reach bus subscribers
	// (the SSE stream); run_state transitions pass through unthrottled.
	throttled := bus.NewThrottledHandler(eb.Publish, bus.ThrottleConfig{})
	defer throttled.Close()

	eng := engine.New(engine.Config{
		Plugins:    reg,
		Vars:       store.NewVars(project, app),
		Log:        runLog,
		Events:     engine.MultiEventHandler(tracing.Handle, metrics.Handle, throttled.Handle),
		Recorder:   project,
		ProjectDir: projectDir,
	})

	// --- HTTP server ---
	srv := server.NewServer(server.Config{
		Engine:     eng,
		Project:    project,
		App:        app,
		Registry:   reg,
		RunLog:     runLog,
		Events:     sse.NewHandler(eb),
		CORSOrigin: corsOrigin,
		MaxBody:    maxBody,
		Logger:     logger,
	})

	scheduler, err := server.NewScheduler(server.SchedulerConfig{
		Engine:       eng,
		Project:      project,
		Registry:     reg,
		PollInterval: schedulePoll,
		Logger:       logger,
	})
	if err != nil {
		return fmt.Errorf("creating scheduler: %w", err)
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = scheduler.Stop(stopCtx)
	}()

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      srv.Handler(),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(cmd.OutOrStdout(), "blockflow listening on %s\n", addr)
		if tlsCert != "" && tlsKey != "" {
			errCh <- httpServer.ListenAndServeTLS(tlsCert, tlsKey)
		} else {
			errCh <- httpServer.ListenAndServe()
		}
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(cmd.OutOrStdout(), "Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return exitError(exitRuntime, "shutdown error: %v", err)
		}
		return nil
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return exitError(exitRuntime, "server error: %v", err)
		}
		return nil
	}
}

func resolveAppDBPath(cmd *cobra.Command) (string, error) {
	appDB, _ := cmd.Flags().GetString("app-db")
	if appDB != "" {
		return appDB, nil
	}
	if env := os.Getenv("BLOCKFLOW_APP_DB"); env != "" {
		return env, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".blockflow", "app.db"), nil
}
