package config

import (
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/fmueller/voxserve/internal/logging"
	"github.com/fmueller/voxserve/internal/whisper"
)

const (
	DefaultHost            = "0.0.0.0"
	DefaultPort            = 8000
	DefaultLanguage        = "en"
	DefaultWorkers         = 1
	DefaultMaxUploadBytes  = 100 << 20
	DefaultIndexHTML       = "index.html"
	DefaultSilenceDBFS     = -65.0
	DefaultShutdownTimeout = 10 * time.Second
	DefaultLogLevel        = "info"

	// Device is reported by the health endpoint. Inference is CPU only.
	Device = "cpu"
)

// Config is the server configuration. Zero values are replaced with
// defaults by Validate.
type Config struct {
	Host                 string        `yaml:"host"`
	Port                 int           `yaml:"port"`
	Model                string        `yaml:"model"`
	ModelDir             string        `yaml:"model_dir"`
	AutoDownload         bool          `yaml:"auto_download"`
	Engine               string        `yaml:"engine"`
	Language             string        `yaml:"language"`
	Workers              int           `yaml:"workers"`
	Threads              int           `yaml:"threads"`
	FFmpeg               string        `yaml:"ffmpeg"`
	UploadDir            string        `yaml:"upload_dir"`
	MaxUploadBytes       int64         `yaml:"max_upload_bytes"`
	IndexHTML            string        `yaml:"index_html"`
	SilenceGate          bool          `yaml:"silence_gate"`
	SilenceThresholdDBFS float64       `yaml:"silence_threshold_dbfs"`
	ShutdownTimeout      time.Duration `yaml:"shutdown_timeout"`
	LogLevel             string        `yaml:"log_level"`
	LogJSON              bool          `yaml:"log_json"`
}

// Defaults returns the configuration used when nothing is overridden.
func Defaults() Config {
	return Config{
		Host:                 DefaultHost,
		Port:                 DefaultPort,
		Model:                whisper.DefaultModel,
		AutoDownload:         true,
		Engine:               whisper.EngineCLI,
		Language:             DefaultLanguage,
		Workers:              DefaultWorkers,
		MaxUploadBytes:       DefaultMaxUploadBytes,
		IndexHTML:            DefaultIndexHTML,
		SilenceThresholdDBFS: DefaultSilenceDBFS,
		ShutdownTimeout:      DefaultShutdownTimeout,
		LogLevel:             DefaultLogLevel,
	}
}

// Validate applies defaults to empty fields and rejects out-of-range values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		c.Host = DefaultHost
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("config: port must be between 1 and 65535, got %d", c.Port)
	}
	if strings.TrimSpace(c.Model) == "" {
		c.Model = whisper.DefaultModel
	}

	c.Engine = strings.ToLower(strings.TrimSpace(c.Engine))
	if c.Engine == "" {
		c.Engine = whisper.EngineCLI
	}
	if !slices.Contains(whisper.EngineKinds(), c.Engine) {
		return fmt.Errorf("config: unknown engine %q (known engines: %s)", c.Engine, strings.Join(whisper.EngineKinds(), ", "))
	}

	c.Language = strings.ToLower(strings.TrimSpace(c.Language))
	if c.Language == "" {
		c.Language = DefaultLanguage
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Workers < 0 {
		return fmt.Errorf("config: workers must be >= 1, got %d", c.Workers)
	}
	if c.Threads < 0 {
		return fmt.Errorf("config: threads must be >= 0, got %d", c.Threads)
	}
	if c.MaxUploadBytes == 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.MaxUploadBytes < 0 {
		return fmt.Errorf("config: max_upload_bytes must be positive, got %d", c.MaxUploadBytes)
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Addr is the listen address in host:port form.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
