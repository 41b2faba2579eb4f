package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fentz26/tesd/internal/audit"
	"github.com/fentz26/tesd/internal/config"
	"github.com/fentz26/tesd/internal/connectors"
	"github.com/fentz26/tesd/internal/connectors/docker"
	"github.com/fentz26/tesd/internal/connectors/localexec"
	"github.com/fentz26/tesd/internal/controlplane"
	"github.com/fentz26/tesd/internal/logging"
	"github.com/fentz26/tesd/internal/models"
	"github.com/fentz26/tesd/internal/paging"
	"github.com/fentz26/tesd/internal/runner"
	"github.com/fentz26/tesd/internal/scheduler"
	"github.com/fentz26/tesd/internal/storage"
	"github.com/fentz26/tesd/internal/store"
	"github.com/fentz26/tesd/internal/tasklog"
	"github.com/spf13/cobra"
)

var (
	listenAddr    string
	connectorName string
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the tesd daemon",
	Long:  `Starts the tesd daemon which serves the TES API and runs queued tasks.`,
	RunE:  runDaemon,
}

func init() {
	daemonCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address for the API server (overrides server.listen)")
	daemonCmd.Flags().StringVar(&connectorName, "connector", "", "Executor backend: docker or localexec (overrides sandbox.connector)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if listenAddr != "" {
		cfg.Server.Listen = listenAddr
	}
	if connectorName != "" {
		cfg.Sandbox.Connector = connectorName
	}

	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	logger.Info("starting tesd daemon", "version", controlplane.Version, "connector", cfg.Sandbox.Connector)

	ctx := context.Background()
	s, err := store.Open(ctx, store.Config{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return err
	}
	defer s.Close()

	pager, err := paging.New(cfg.Paging.TokenSecret)
	if err != nil {
		return err
	}

	mux, err := buildStorage(cfg.Storage)
	if err != nil {
		return err
	}

	conn, err := buildConnector(cfg.Sandbox)
	if err != nil {
		return err
	}

	rec := audit.NewRecorder(s)
	logs := tasklog.New(s, mux, logger)
	run := runner.New(s, conn, logs, mux, rec, runner.Config{
		WorkDir:       cfg.Sandbox.WorkDir,
		MaxAttempts:   cfg.Sandbox.MaxAttempts,
		KeepWorkspace: cfg.Sandbox.KeepWorkspace,
	}, logger)

	sched := scheduler.New(s, run, rec, &scheduler.Config{
		GlobalMax:    cfg.Scheduler.GlobalMax,
		PollInterval: cfg.Scheduler.PollInterval,
		ByConnector:  cfg.Scheduler.ByConnector,
		ForceCancel:  cfg.Sandbox.ForceCancel,
	}, logger)

	info := models.ServiceInfo{
		Name:    cfg.Service.Name,
		Doc:     cfg.Service.Doc,
		Storage: mux.Locations(),
	}
	service := controlplane.NewService(s, rec, pager, sched, info, logger)
	server := controlplane.NewServer(service, cfg.Server.Listen, logger)

	sched.Start()
	defer sched.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		err := server.Start()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			logger.Error("server error", "error", err)
			return err
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}
	logger.Info("shutdown complete")
	return nil
}

// buildStorage registers the local filesystem backend and, when an endpoint
// is configured, the S3 backend.
func buildStorage(cfg config.StorageConfig) (*storage.Mux, error) {
	backends := []storage.Backend{storage.NewLocal(cfg.Local.AllowedDirs)}
	if cfg.S3.Endpoint != "" {
		s3, err := storage.NewS3(storage.S3Config{
			Endpoint:  cfg.S3.Endpoint,
			AccessKey: cfg.S3.AccessKey,
			SecretKey: cfg.S3.SecretKey,
			Region:    cfg.S3.Region,
			UseSSL:    cfg.S3.UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("s3 storage: %w", err)
		}
		backends = append(backends, s3)
	}
	return storage.NewMux(backends...), nil
}

func buildConnector(cfg config.SandboxConfig) (connectors.Connector, error) {
	switch cfg.Connector {
	case "localexec":
		return localexec.New(cfg.AllowedCommands, cfg.HostIP, cfg.TailBytes), nil
	case "docker":
		return docker.New(cfg.DockerBin, cfg.HostIP, cfg.TailBytes, cfg.ApplyResourceLimits)
	default:
		return nil, fmt.Errorf("unknown connector %q", cfg.Connector)
	}
}
