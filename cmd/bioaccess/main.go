// Command bioaccess runs the face-authentication service: the camera
// pipeline, the identity store, and the HTTP API with the live video
// feed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/reivaJAQM/bioaccess/pkg/auth"
	"github.com/reivaJAQM/bioaccess/pkg/camera"
	"github.com/reivaJAQM/bioaccess/pkg/config"
	"github.com/reivaJAQM/bioaccess/pkg/logging"
	"github.com/reivaJAQM/bioaccess/pkg/pipeline"
	"github.com/reivaJAQM/bioaccess/pkg/recognition"
	"github.com/reivaJAQM/bioaccess/pkg/storage"
	"github.com/reivaJAQM/bioaccess/pkg/web"
)

const version = "0.1.0"

func main() {
	configFile := flag.String("config", "", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not load config: %v\n", err)
	}
	cfg.ExpandPaths()

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to prepare directories: %v\n", err)
		os.Exit(1)
	}

	logLevel := cfg.Logging.Level
	if *debug {
		logLevel = "debug"
	}
	if err := logging.Init(logLevel, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Could not initialize file logging: %v\n", err)
	}

	logging.Infof("BioAccess v%s starting", version)

	if err := run(cfg); err != nil {
		logging.Fatalf("Fatal: %v", err)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.Load(path)
	}
	return config.LoadDefault()
}

func run(cfg *config.Config) error {
	store, err := storage.NewStore(cfg.Storage.DBFile, cfg.Storage.EncryptionEnabled)
	if err != nil {
		return fmt.Errorf("failed to initialize identity store: %w", err)
	}

	engine := recognition.NewDlibEngine()
	if err := engine.LoadModels(cfg.Recognition.ModelPath); err != nil {
		return fmt.Errorf("failed to load recognition models: %w", err)
	}
	defer engine.Close()

	cams := camera.NewManager(func() camera.Camera {
		return camera.NewFFmpegCamera(cfg.Camera.Width, cfg.Camera.Height, cfg.Camera.FPS)
	}, cfg.Camera.Device)
	defer cams.Release()

	probe := pipeline.NewProbeCell()
	pipe := pipeline.New(cams, engine, probe, pipeline.Options{
		DownscaleFactor: cfg.Recognition.DownscaleFactor,
		Mirror:          cfg.Camera.Mirror,
	})
	capture := pipeline.NewSupervisor(pipe)
	defer capture.Stop()

	authSvc := auth.NewService(store, probe, auth.Options{
		Tolerance:        cfg.Recognition.Tolerance,
		PendingTimeout:   time.Duration(cfg.Auth.PendingTimeoutSeconds) * time.Second,
		MaxProbeFailures: cfg.Auth.MaxProbeFailures,
	})
	defer authSvc.Close()

	srv := web.NewServer(cfg.Server.Host, cfg.Server.Port, authSvc, capture)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Infof("Received %s, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logging.Warnf("Server shutdown: %v", err)
	}

	return nil
}
