package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/pithecene-io/psdweb/cli/config"
	"github.com/pithecene-io/psdweb/log"
	"github.com/pithecene-io/psdweb/server"
	"github.com/pithecene-io/psdweb/session"
)

// DefaultListen is the reference server's default address.
const DefaultListen = ":8080"

// shutdownTimeout bounds how long in-flight requests get on shutdown.
const shutdownTimeout = 10 * time.Second

// ServeCommand returns the serve command, which runs the reference backend.
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the reference backend server",
		Flags: []cli.Flag{
			ConfigFlag,
			&cli.StringFlag{
				Name:    "listen",
				Aliases: []string{"l"},
				Usage:   "Listen address (default :8080)",
				EnvVars: []string{"PSDWEB_LISTEN"},
			},
			&cli.IntFlag{
				Name:  "body-limit",
				Usage: "Maximum request body in bytes (default 4.5 MB)",
			},
			&cli.StringFlag{
				Name:  "session-store",
				Usage: "Upload session store: memory, redis",
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the redis session store",
				EnvVars: []string{"PSDWEB_REDIS_URL"},
			},
			&cli.StringFlag{
				Name:  "redis-prefix",
				Usage: "Key prefix for redis sessions",
			},
			&cli.DurationFlag{
				Name:  "session-ttl",
				Usage: "Upload session lifetime (default 15m)",
			},
			&cli.Int64Flag{
				Name:  "max-upload-size",
				Usage: "Largest accumulated upload in bytes (default 1 GiB)",
			},
			&cli.BoolFlag{
				Name:  "allow-file-paths",
				Usage: "Let parse-psd read filePath from local disk",
			},
			&cli.IntFlag{
				Name:  "rate-limit",
				Usage: "Requests per client per window (0 = unlimited)",
			},
			&cli.DurationFlag{
				Name:  "rate-window",
				Usage: "Rate limit window (default 1m)",
			},
			&cli.BoolFlag{
				Name:  "no-access-log",
				Usage: "Disable the access log",
			},
		},
		Action: serveAction,
	}
}

// serveOptions is the resolved server configuration.
type serveOptions struct {
	Listen       string
	SessionStore string
	RedisURL     string
	RedisPrefix  string
	Session      session.Config
	Server       server.Config
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	opts, err := resolveServeOptions(c, cfg)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	if c.Bool("no-access-log") {
		opts.Server.AccessLog = io.Discard
	} else {
		opts.Server.AccessLog = errWriter(c)
	}

	logger := newLogger(c, log.RunContext{Component: "server"}, false)
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signalContext(c.Context)
	defer cancel()

	store, err := newSessionStore(ctx, opts)
	if err != nil {
		return cli.Exit(err.Error(), exitInvalidInput)
	}
	defer func() { _ = store.Close() }()

	srv, err := server.New(store, nil, opts.Server, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Listen(opts.Listen) }()

	select {
	case err := <-errCh:
		if err != nil {
			return cli.Exit(fmt.Sprintf("server: %v", err), exitPipelineError)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down", nil)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return cli.Exit(fmt.Sprintf("shutdown: %v", err), exitPipelineError)
	}
	return nil
}

// resolveServeOptions layers serve flags over the config file.
func resolveServeOptions(c *cli.Context, cfg *config.Config) (serveOptions, error) {
	sc := cfg.Server
	opts := serveOptions{
		Listen:       sc.Listen,
		SessionStore: sc.SessionStore,
		RedisURL:     sc.RedisURL,
		RedisPrefix:  sc.RedisPrefix,
		Session: session.Config{
			TTL:     sc.SessionTTL.Duration,
			MaxSize: sc.MaxUploadSize,
		},
		Server: server.Config{
			BodyLimit:      sc.BodyLimit,
			AllowFilePaths: sc.AllowFilePaths,
			RateLimit: server.RateLimit{
				Max:        sc.RateLimit.Max,
				Expiration: sc.RateLimit.Expiration.Duration,
			},
		},
	}

	if v := c.String("listen"); v != "" {
		opts.Listen = v
	}
	if c.IsSet("body-limit") {
		opts.Server.BodyLimit = c.Int("body-limit")
	}
	if v := c.String("session-store"); v != "" {
		opts.SessionStore = v
	}
	if v := c.String("redis-url"); v != "" {
		opts.RedisURL = v
	}
	if v := c.String("redis-prefix"); v != "" {
		opts.RedisPrefix = v
	}
	if c.IsSet("session-ttl") {
		opts.Session.TTL = c.Duration("session-ttl")
	}
	if c.IsSet("max-upload-size") {
		opts.Session.MaxSize = c.Int64("max-upload-size")
	}
	if c.Bool("allow-file-paths") {
		opts.Server.AllowFilePaths = true
	}
	if c.IsSet("rate-limit") {
		opts.Server.RateLimit.Max = c.Int("rate-limit")
	}
	if c.IsSet("rate-window") {
		opts.Server.RateLimit.Expiration = c.Duration("rate-window")
	}

	if opts.Listen == "" {
		opts.Listen = DefaultListen
	}
	if opts.Server.BodyLimit < 0 {
		return opts, fmt.Errorf("body limit must be >= 0, got %d", opts.Server.BodyLimit)
	}
	if opts.Server.RateLimit.Max < 0 {
		return opts, fmt.Errorf("rate limit must be >= 0, got %d", opts.Server.RateLimit.Max)
	}
	switch opts.SessionStore {
	case "", "memory", "redis":
	default:
		return opts, fmt.Errorf("invalid session store: %s (must be memory or redis)", opts.SessionStore)
	}
	return opts, nil
}

// newSessionStore opens the configured store. A Redis store is pinged so
// a bad URL fails at startup rather than on the first upload.
func newSessionStore(ctx context.Context, opts serveOptions) (session.Store, error) {
	if opts.SessionStore != "redis" {
		return session.NewMemoryStore(opts.Session), nil
	}
	store, err := session.NewRedisStore(session.RedisConfig{
		Config:    opts.Session,
		URL:       opts.RedisURL,
		KeyPrefix: opts.RedisPrefix,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Ping(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("redis session store: %w", err)
	}
	return store, nil
}
