package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"voxsearch/internal/audio"
	"voxsearch/internal/config"
	"voxsearch/internal/endpoint"
	"voxsearch/internal/metrics"
	"voxsearch/internal/ports"
	"voxsearch/internal/providers/intent"
	"voxsearch/internal/providers/localstt"
	"voxsearch/internal/providers/realtime"
	"voxsearch/internal/providers/upload"
	"voxsearch/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.CaptureController
	Config     config.Config
	Logger     *slog.Logger
	Registry   *prometheus.Registry

	metricsServer   *http.Server
	metricsListener net.Listener
}

// Build wires all backend dependencies for the current runtime. An empty configPath falls back
// to VOXSEARCH_CONFIG and then to defaults.
func Build(configPath string, eventSink ports.EventSink, search ports.SearchState) (*Services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := NewLogger(cfg.Logging, os.Stderr)
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	localTier, err := localstt.NewTransport(localstt.Config{
		Command:  cfg.Local.Command,
		Language: cfg.Local.Language,
		Timeout:  config.Millis(cfg.Local.TimeoutMS),
	})
	if err != nil {
		return nil, fmt.Errorf("configure local recognizer: %w", err)
	}

	tiers := []ports.Transport{
		realtime.NewTransport(realtime.Config{
			APIBaseURL:  cfg.API.BaseURL,
			OpenTimeout: config.Millis(cfg.API.OpenTimeoutMS),
		}),
		upload.NewTransport(upload.Config{
			APIBaseURL: cfg.API.BaseURL,
			Timeout:    config.Millis(cfg.API.UploadTimeoutMS),
		}),
		localTier,
	}

	controller := usecase.NewCaptureController(
		audio.NewFFMPEGCapture(cfg.Audio.RecorderCommand),
		tiers,
		intent.NewClient(intent.Config{
			APIBaseURL: cfg.API.BaseURL,
			Timeout:    config.Millis(cfg.API.ExtractTimeoutMS),
		}),
		search,
		eventSink,
		m,
		logger,
		usecase.Config{
			Audio: ports.AudioConfig{
				CaptureRate: cfg.Audio.CaptureRate,
				InputFormat: cfg.Audio.InputFormat,
				InputDevice: cfg.Audio.InputDevice,
			},
			Endpoint: endpoint.Config{
				Threshold:       cfg.Endpoint.Threshold,
				MinDuration:     config.Millis(cfg.Endpoint.MinDurationMS),
				SilenceDuration: config.Millis(cfg.Endpoint.SilenceDurationMS),
				MaxDuration:     config.Millis(cfg.Endpoint.MaxDurationMS),
				SampleInterval:  config.Millis(cfg.Endpoint.SampleIntervalMS),
			},
			FinalizeTimeout: config.Millis(cfg.Session.FinalizeTimeoutMS),
			FrameQueueSize:  cfg.Session.FrameQueueSize,
			ChunkSize:       cfg.Audio.ChunkSize,
		},
	)

	services := &Services{
		Controller: controller,
		Config:     cfg,
		Logger:     logger,
		Registry:   registry,
	}

	if cfg.Metrics.Bind != "" {
		if err := services.serveMetrics(cfg.Metrics.Bind); err != nil {
			return nil, err
		}
	}

	for _, tier := range controller.TierAvailability() {
		logger.Info("transport tier",
			slog.String("tier", string(tier.Tier)),
			slog.String("mode", string(tier.Mode)),
			slog.Bool("available", tier.Available),
		)
	}

	return services, nil
}

func (s *Services) serveMetrics(bind string) error {
	listener, err := net.Listen("tcp", bind)
	if err != nil {
		return fmt.Errorf("listen for metrics on %s: %w", bind, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(s.Registry))
	s.metricsServer = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	s.metricsListener = listener

	s.Logger.Info("serving metrics", slog.String("address", listener.Addr().String()))
	go func() {
		if err := s.metricsServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error("metrics server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

// MetricsAddr is the address the metrics endpoint listens on, or "" when disabled.
func (s *Services) MetricsAddr() string {
	if s.metricsListener == nil {
		return ""
	}
	return s.metricsListener.Addr().String()
}

// Shutdown aborts any active session and stops the metrics endpoint.
func (s *Services) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.Controller.Abort(); err != nil && !errors.Is(err, usecase.ErrNoActiveSession) {
		errs = append(errs, err)
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewLogger builds the process logger from the logging section.
func NewLogger(cfg config.LoggingConfig, output io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
