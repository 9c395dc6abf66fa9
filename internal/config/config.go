package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config stores runtime configuration for the capture pipeline.
type Config struct {
	API      APIConfig      `yaml:"api"`
	Audio    AudioConfig    `yaml:"audio"`
	Endpoint EndpointConfig `yaml:"endpoint"`
	Session  SessionConfig  `yaml:"session"`
	Local    LocalConfig    `yaml:"local"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

type APIConfig struct {
	BaseURL          string `yaml:"base_url"`
	OpenTimeoutMS    int    `yaml:"open_timeout_ms"`
	UploadTimeoutMS  int    `yaml:"upload_timeout_ms"`
	ExtractTimeoutMS int    `yaml:"extract_timeout_ms"`
}

type AudioConfig struct {
	RecorderCommand string `yaml:"recorder_command"`
	InputFormat     string `yaml:"input_format"`
	InputDevice     string `yaml:"input_device"`
	CaptureRate     int    `yaml:"capture_rate"`
	ChunkSize       int    `yaml:"chunk_size"`
}

type EndpointConfig struct {
	Threshold         float64 `yaml:"threshold"`
	MinDurationMS     int     `yaml:"min_duration_ms"`
	SilenceDurationMS int     `yaml:"silence_duration_ms"`
	MaxDurationMS     int     `yaml:"max_duration_ms"`
	SampleIntervalMS  int     `yaml:"sample_interval_ms"`
}

type SessionConfig struct {
	FinalizeTimeoutMS int `yaml:"finalize_timeout_ms"`
	FrameQueueSize    int `yaml:"frame_queue_size"`
}

// LocalConfig configures the on-device recognizer. An empty command disables the tier.
type LocalConfig struct {
	Command   string `yaml:"command"`
	Language  string `yaml:"language"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig enables the Prometheus endpoint when Bind is set.
type MetricsConfig struct {
	Bind string `yaml:"bind"`
}

func Default() Config {
	return Config{
		API: APIConfig{
			BaseURL:          "http://localhost:8000/api",
			OpenTimeoutMS:    5000,
			UploadTimeoutMS:  30000,
			ExtractTimeoutMS: 10000,
		},
		Audio: AudioConfig{
			RecorderCommand: "ffmpeg",
			InputFormat:     "pulse",
			InputDevice:     "default",
			CaptureRate:     48000,
			ChunkSize:       4096,
		},
		Endpoint: EndpointConfig{
			Threshold:         0.02,
			MinDurationMS:     1000,
			SilenceDurationMS: 1500,
			MaxDurationMS:     15000,
			SampleIntervalMS:  50,
		},
		Session: SessionConfig{
			FinalizeTimeoutMS: 3000,
			FrameQueueSize:    32,
		},
		Local: LocalConfig{
			Language:  "en-US",
			TimeoutMS: 30000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load resolves configuration from defaults, an optional YAML file and environment variables,
// in that order. When path is empty VOXSEARCH_CONFIG is consulted; no file at all is fine.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		path = strings.TrimSpace(os.Getenv("VOXSEARCH_CONFIG"))
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.API.BaseURL = envOrDefault("VOXSEARCH_API_BASE", c.API.BaseURL)
	c.API.OpenTimeoutMS = envOrDefaultInt("VOXSEARCH_OPEN_TIMEOUT_MS", c.API.OpenTimeoutMS)
	c.API.UploadTimeoutMS = envOrDefaultInt("VOXSEARCH_UPLOAD_TIMEOUT_MS", c.API.UploadTimeoutMS)
	c.API.ExtractTimeoutMS = envOrDefaultInt("VOXSEARCH_EXTRACT_TIMEOUT_MS", c.API.ExtractTimeoutMS)

	c.Audio.RecorderCommand = envOrDefault("VOXSEARCH_FFMPEG_COMMAND", c.Audio.RecorderCommand)
	c.Audio.InputFormat = envOrDefault("VOXSEARCH_AUDIO_INPUT_FORMAT", c.Audio.InputFormat)
	c.Audio.InputDevice = envOrDefault("VOXSEARCH_AUDIO_INPUT_DEVICE", c.Audio.InputDevice)
	c.Audio.CaptureRate = envOrDefaultInt("VOXSEARCH_CAPTURE_RATE", c.Audio.CaptureRate)
	c.Audio.ChunkSize = envOrDefaultInt("VOXSEARCH_AUDIO_CHUNK_SIZE", c.Audio.ChunkSize)

	c.Endpoint.Threshold = envOrDefaultFloat("VOXSEARCH_ENDPOINT_THRESHOLD", c.Endpoint.Threshold)
	c.Endpoint.SilenceDurationMS = envOrDefaultInt("VOXSEARCH_ENDPOINT_SILENCE_MS", c.Endpoint.SilenceDurationMS)
	c.Endpoint.MaxDurationMS = envOrDefaultInt("VOXSEARCH_ENDPOINT_MAX_MS", c.Endpoint.MaxDurationMS)

	c.Session.FinalizeTimeoutMS = envOrDefaultInt("VOXSEARCH_FINALIZE_TIMEOUT_MS", c.Session.FinalizeTimeoutMS)

	c.Local.Command = envOrDefault("VOXSEARCH_LOCAL_COMMAND", c.Local.Command)
	c.Local.Language = envOrDefault("VOXSEARCH_LOCAL_LANGUAGE", c.Local.Language)

	c.Logging.Level = strings.ToLower(envOrDefault("VOXSEARCH_LOG_LEVEL", c.Logging.Level))
	c.Logging.Format = strings.ToLower(envOrDefault("VOXSEARCH_LOG_FORMAT", c.Logging.Format))

	c.Metrics.Bind = envOrDefault("VOXSEARCH_METRICS_BIND", c.Metrics.Bind)

	if c.Audio.ChunkSize < 256 {
		c.Audio.ChunkSize = 4096
	}
	if c.Session.FrameQueueSize <= 0 {
		c.Session.FrameQueueSize = 32
	}
}

// Validate rejects values the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.Audio.CaptureRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.capture_rate must be positive, got %d", c.Audio.CaptureRate))
	}
	if c.Endpoint.Threshold <= 0 || c.Endpoint.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("endpoint.threshold must be in (0, 1), got %v", c.Endpoint.Threshold))
	}
	if c.Endpoint.MinDurationMS < 0 || c.Endpoint.SilenceDurationMS <= 0 || c.Endpoint.SampleIntervalMS <= 0 {
		errs = append(errs, errors.New("endpoint durations must be positive"))
	}
	if c.Endpoint.MaxDurationMS < c.Endpoint.MinDurationMS {
		errs = append(errs, fmt.Errorf("endpoint.max_duration_ms (%d) is below min_duration_ms (%d)", c.Endpoint.MaxDurationMS, c.Endpoint.MinDurationMS))
	}
	if c.Session.FinalizeTimeoutMS <= 0 {
		errs = append(errs, errors.New("session.finalize_timeout_ms must be positive"))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format))
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q is not recognised", c.Logging.Level))
	}
	return errors.Join(errs...)
}

// Millis converts a millisecond setting into a duration.
func Millis(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envOrDefaultFloat(key string, fallback float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
