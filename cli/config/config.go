// Package config loads psdweb.yaml. Every value is optional and acts as a
// default for command flags; flags always win.
package config

import (
	"errors"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pithecene-io/psdweb/pipeline"
	"github.com/pithecene-io/psdweb/types"
)

// Config represents a psdweb.yaml file.
type Config struct {
	// Endpoint is the backend base URL.
	Endpoint string `yaml:"endpoint"`
	// Timeout bounds each backend request; zero means no timeout.
	Timeout Duration `yaml:"timeout"`
	// Headers are sent with every backend request.
	Headers  map[string]string `yaml:"headers,omitempty"`
	Upload   UploadConfig      `yaml:"upload"`
	Convert  ConvertConfig     `yaml:"convert"`
	Validate ValidateConfig    `yaml:"validate"`
	Storage  StorageConfig     `yaml:"storage"`
	Adapter  AdapterConfig     `yaml:"adapter"`
	Server   ServerConfig      `yaml:"server"`
}

// UploadConfig selects how documents reach the backend.
type UploadConfig struct {
	Mode        string `yaml:"mode"`
	ChunkSize   int    `yaml:"chunk_size"`
	InlineLimit int64  `yaml:"inline_limit"`
}

// ConvertConfig holds conversion defaults. Nil toggles keep the default
// (enabled).
type ConvertConfig struct {
	Framework     string `yaml:"framework"`
	Responsive    *bool  `yaml:"responsive,omitempty"`
	Semantic      *bool  `yaml:"semantic,omitempty"`
	Accessibility *bool  `yaml:"accessibility,omitempty"`
}

// ValidateConfig holds validation defaults.
type ValidateConfig struct {
	Enabled          *bool    `yaml:"enabled,omitempty"`
	Threshold        *float64 `yaml:"threshold,omitempty"`
	IncludeDiffImage bool     `yaml:"include_diff_image"`
}

// StorageConfig selects where artifacts and run history are written.
// An empty backend disables storage.
type StorageConfig struct {
	Backend     string `yaml:"backend"`
	Path        string `yaml:"path"`
	Region      string `yaml:"region"`
	Endpoint    string `yaml:"endpoint"`
	S3PathStyle bool   `yaml:"s3_path_style"`
}

// AdapterConfig holds notification adapter settings.
type AdapterConfig struct {
	Type    string            `yaml:"type"`
	URL     string            `yaml:"url"`
	Channel string            `yaml:"channel,omitempty"`
	Headers map[string]string `yaml:"headers,omitempty"`
	Timeout Duration          `yaml:"timeout,omitempty"`
	Retries *int              `yaml:"retries,omitempty"`
}

// ServerConfig configures psdweb serve.
type ServerConfig struct {
	Listen         string          `yaml:"listen"`
	BodyLimit      int             `yaml:"body_limit"`
	SessionTTL     Duration        `yaml:"session_ttl"`
	SessionStore   string          `yaml:"session_store"`
	RedisURL       string          `yaml:"redis_url"`
	RedisPrefix    string          `yaml:"redis_prefix"`
	MaxUploadSize  int64           `yaml:"max_upload_size"`
	AllowFilePaths bool            `yaml:"allow_file_paths"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the server's request limiter. Max 0 disables it.
type RateLimitConfig struct {
	Max        int      `yaml:"max"`
	Expiration Duration `yaml:"expiration"`
}

// Duration wraps time.Duration for YAML string parsing (e.g. "10s", "5m").
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses a duration string like "10s" or "5m30s".
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

// Settings returns the pipeline settings the config describes, starting
// from pipeline.DefaultSettings.
func (c *Config) Settings() (pipeline.Settings, error) {
	s := pipeline.DefaultSettings()

	mode, err := pipeline.ParseUploadMode(c.Upload.Mode)
	if err != nil {
		return s, err
	}
	s.Mode = mode
	if c.Upload.ChunkSize < 0 {
		return s, fmt.Errorf("upload.chunk_size must be > 0, got %d", c.Upload.ChunkSize)
	}
	if c.Upload.ChunkSize > 0 {
		s.ChunkSize = c.Upload.ChunkSize
	}
	if c.Upload.InlineLimit > 0 {
		s.InlineLimit = c.Upload.InlineLimit
	}

	if c.Convert.Framework != "" {
		fw, err := types.ParseFramework(c.Convert.Framework)
		if err != nil {
			return s, err
		}
		s.Convert.Framework = fw
	}
	setBool(&s.Convert.Responsive, c.Convert.Responsive)
	setBool(&s.Convert.Semantic, c.Convert.Semantic)
	setBool(&s.Convert.Accessibility, c.Convert.Accessibility)

	setBool(&s.Validate, c.Validate.Enabled)
	if c.Validate.Threshold != nil {
		s.Validation.Threshold = *c.Validate.Threshold
	}
	s.Validation.IncludeDiffImage = c.Validate.IncludeDiffImage
	if err := s.Validation.Validate(); err != nil {
		return s, fmt.Errorf("validate: %w", err)
	}
	return s, nil
}

// Check reports configuration errors that do not depend on flags.
func (c *Config) Check() error {
	var errs []error
	if _, err := c.Settings(); err != nil {
		errs = append(errs, err)
	}
	switch c.Storage.Backend {
	case "", "fs", "s3", "memory":
	default:
		errs = append(errs, fmt.Errorf("storage.backend must be fs, s3, or memory, got %q", c.Storage.Backend))
	}
	switch c.Adapter.Type {
	case "", "webhook", "redis":
	default:
		errs = append(errs, fmt.Errorf("adapter.type must be webhook or redis, got %q", c.Adapter.Type))
	}
	if c.Adapter.Type != "" && c.Adapter.URL == "" {
		errs = append(errs, fmt.Errorf("adapter.url is required for %s adapter", c.Adapter.Type))
	}
	switch c.Server.SessionStore {
	case "", "memory":
	case "redis":
		if c.Server.RedisURL == "" {
			errs = append(errs, errors.New("server.redis_url is required for the redis session store"))
		}
	default:
		errs = append(errs, fmt.Errorf("server.session_store must be memory or redis, got %q", c.Server.SessionStore))
	}
	return errors.Join(errs...)
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
