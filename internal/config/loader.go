package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// PathEnv names an optional YAML config file.
const PathEnv = "VOXSERVE_CONFIG"

// Loader builds a Config from defaults, an optional YAML file and the
// environment, in that order. Tests can override Lookup and ReadFile.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Load reads the YAML file at path (or $VOXSERVE_CONFIG when path is empty),
// applies environment overrides and validates the result.
func (l Loader) Load(path string) (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Defaults()

	if strings.TrimSpace(path) == "" {
		if value, ok := l.Lookup(PathEnv); ok {
			path = strings.TrimSpace(value)
		}
	}
	if path != "" {
		if err := l.applyFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(l.Lookup, &cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (l Loader) applyFile(path string, cfg *Config) error {
	raw, err := l.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(raw))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode %s: %w", path, err)
	}
	return nil
}

func applyEnv(lookup func(string) (string, bool), cfg *Config) error {
	// PORT is the conventional variable set by hosting platforms.
	if err := overrideInt(lookup, "PORT", &cfg.Port); err != nil {
		return err
	}
	overrideString(lookup, "VOXSERVE_HOST", &cfg.Host)
	overrideString(lookup, "VOXSERVE_MODEL", &cfg.Model)
	overrideString(lookup, "VOXSERVE_MODEL_DIR", &cfg.ModelDir)
	overrideString(lookup, "VOXSERVE_ENGINE", &cfg.Engine)
	overrideString(lookup, "VOXSERVE_LANGUAGE", &cfg.Language)
	overrideString(lookup, "VOXSERVE_UPLOAD_DIR", &cfg.UploadDir)
	overrideString(lookup, "VOXSERVE_FFMPEG", &cfg.FFmpeg)
	overrideString(lookup, "VOXSERVE_LOG_LEVEL", &cfg.LogLevel)
	if err := overrideInt(lookup, "VOXSERVE_WORKERS", &cfg.Workers); err != nil {
		return err
	}
	if err := overrideInt(lookup, "VOXSERVE_THREADS", &cfg.Threads); err != nil {
		return err
	}
	if err := overrideBool(lookup, "VOXSERVE_AUTO_DOWNLOAD", &cfg.AutoDownload); err != nil {
		return err
	}
	if value, ok := lookupTrimmed(lookup, "VOXSERVE_MAX_UPLOAD_BYTES"); ok {
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("config: VOXSERVE_MAX_UPLOAD_BYTES: %w", err)
		}
		cfg.MaxUploadBytes = parsed
	}
	return nil
}

func lookupTrimmed(lookup func(string) (string, bool), key string) (string, bool) {
	value, ok := lookup(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookupTrimmed(lookup, key); ok {
		*target = value
	}
}

func overrideInt(lookup func(string) (string, bool), key string, target *int) error {
	value, ok := lookupTrimmed(lookup, key)
	if !ok {
		return nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = parsed
	return nil
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	value, ok := lookupTrimmed(lookup, key)
	if !ok {
		return nil
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = parsed
	return nil
}
