package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/psdweb/adapter"
	"github.com/pithecene-io/psdweb/adapter/redis"
	"github.com/pithecene-io/psdweb/adapter/webhook"
	"github.com/pithecene-io/psdweb/api"
	"github.com/pithecene-io/psdweb/artifact"
	"github.com/pithecene-io/psdweb/cli/config"
	"github.com/pithecene-io/psdweb/log"
	"github.com/pithecene-io/psdweb/metrics"
	"github.com/pithecene-io/psdweb/upload"
)

// Exit codes shared by every command.
const (
	exitSuccess       = 0
	exitPipelineError = 1
	exitInvalidInput  = 2
	exitUploadFailure = 3
)

// failureExitCode maps a run or upload error to an exit code. An upload
// that delivered every chunk and was then rejected on complete (e.g. an
// invalid signature) is a pipeline error, not an aborted upload.
func failureExitCode(err error) int {
	var uploadErr *upload.Error
	if !errors.As(err, &uploadErr) {
		return exitPipelineError
	}
	if uploadErr.Step == upload.StepComplete &&
		(errors.Is(uploadErr.Err, api.ErrRejected) || errors.Is(uploadErr.Err, api.ErrInvalidSignature)) {
		return exitPipelineError
	}
	return exitUploadFailure
}

// loadConfig reads --config when given, otherwise psdweb.yaml when present.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path := c.String("config"); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadOptional(config.DefaultPath)
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Check(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// parseHeaders turns key=value pairs into a header map.
func parseHeaders(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	headers := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid header %q (want key=value)", pair)
		}
		headers[key] = strings.TrimSpace(value)
	}
	return headers, nil
}

// newClient builds the backend client from flags, falling back to cfg.
func newClient(c *cli.Context, cfg *config.Config, collector *metrics.Collector, logger *log.Logger) (*api.Client, error) {
	endpoint := c.String("endpoint")
	if endpoint == "" {
		endpoint = cfg.Endpoint
	}
	if endpoint == "" {
		return nil, fmt.Errorf("no backend endpoint: set --endpoint, PSDWEB_ENDPOINT or endpoint in %s", config.DefaultPath)
	}

	timeout := cfg.Timeout.Duration
	if c.IsSet("timeout") {
		timeout = c.Duration("timeout")
	}

	headers, err := parseHeaders(c.StringSlice("header"))
	if err != nil {
		return nil, err
	}
	merged := make(map[string]string, len(cfg.Headers)+len(headers))
	for k, v := range cfg.Headers {
		merged[k] = v
	}
	for k, v := range headers {
		merged[k] = v
	}

	return api.New(api.Config{
		BaseURL: endpoint,
		Headers: merged,
		Timeout: timeout,
	}, api.WithCollector(collector), api.WithLogger(logger))
}

// storageConfig resolves the storage backend from flags and cfg.
// ok is false when storage is disabled.
func storageConfig(c *cli.Context, cfg *config.Config) (artifact.BackendConfig, bool) {
	bc := artifact.BackendConfig{
		Backend:      cfg.Storage.Backend,
		Path:         cfg.Storage.Path,
		Region:       cfg.Storage.Region,
		Endpoint:     cfg.Storage.Endpoint,
		UsePathStyle: cfg.Storage.S3PathStyle,
	}
	if v := c.String("storage-backend"); v != "" {
		bc.Backend = v
	}
	if v := c.String("storage-path"); v != "" {
		bc.Path = v
	}
	if v := c.String("storage-region"); v != "" {
		bc.Region = v
	}
	if v := c.String("storage-endpoint"); v != "" {
		bc.Endpoint = v
	}
	if bc.Backend == "" && bc.Path != "" {
		bc.Backend = artifact.BackendFS
	}
	return bc, bc.Backend != ""
}

// newAdapter builds the configured notification adapter; nil when none.
func newAdapter(cfg config.AdapterConfig) (adapter.Adapter, error) {
	retries := -1
	if cfg.Retries != nil {
		retries = *cfg.Retries
	}

	switch cfg.Type {
	case "":
		return nil, nil
	case "webhook":
		wc := webhook.Config{
			URL:     cfg.URL,
			Headers: cfg.Headers,
			Timeout: cfg.Timeout.Duration,
			Retries: webhook.DefaultRetries,
		}
		if retries >= 0 {
			wc.Retries = retries
		}
		return webhook.New(wc)
	case "redis":
		rc := redis.Config{
			URL:     cfg.URL,
			Channel: cfg.Channel,
			Timeout: cfg.Timeout.Duration,
			Retries: redis.DefaultRetries,
		}
		if retries >= 0 {
			rc.Retries = retries
		}
		return redis.New(rc)
	default:
		return nil, fmt.Errorf("unknown adapter type: %s (must be webhook or redis)", cfg.Type)
	}
}

// newLogger returns a JSON logger on the app's error writer, or a no-op
// logger when quiet.
func newLogger(c *cli.Context, rc log.RunContext, quiet bool) *log.Logger {
	if quiet {
		return log.Nop()
	}
	return log.NewLoggerWithWriter(rc, errWriter(c))
}

func errWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.ErrWriter != nil {
		return c.App.ErrWriter
	}
	return os.Stderr
}

func outWriter(c *cli.Context) io.Writer {
	if c.App != nil && c.App.Writer != nil {
		return c.App.Writer
	}
	return os.Stdout
}

// signalContext derives a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, func() {
		signal.Stop(sigCh)
		cancel()
	}
}
