// Package server is the reference backend for the psdweb endpoints.
//
// It implements the chunked upload session protocol, a header-only parse
// endpoint, and convert/validate endpoints that delegate to an Engine. It
// runs on fiber with the same middleware stack a serverless deployment
// would put in front of these routes: CORS, rate limiting, access logs and
// a request body ceiling.
package server

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/pithecene-io/psdweb/api"
	"github.com/pithecene-io/psdweb/log"
	"github.com/pithecene-io/psdweb/session"
	"github.com/pithecene-io/psdweb/types"
)

// DefaultBodyLimit mirrors the 4.5 MB request ceiling of common serverless
// platforms.
const DefaultBodyLimit = 4_500_000

// DefaultAccessLogFormat is the fiber access log line format.
const DefaultAccessLogFormat = "${time} | ${status} | ${method} | ${path} | ${latency}\n"

// RateLimit configures the per-client request limiter.
type RateLimit struct {
	// Max requests per Expiration window. Zero disables the limiter.
	Max        int
	Expiration time.Duration
}

// Config configures the server.
type Config struct {
	// BodyLimit is the maximum request body in bytes (default 4.5 MB).
	BodyLimit int
	// RateLimit throttles clients; disabled when Max is zero.
	RateLimit RateLimit
	// AccessLog receives access log lines (default stderr). Set to
	// io.Discard to silence.
	AccessLog io.Writer
	// AllowFilePaths lets parse-psd read filePath from local disk.
	AllowFilePaths bool
}

// Server wires session storage and an Engine into a fiber app.
type Server struct {
	app    *fiber.App
	store  session.Store
	engine Engine
	cfg    Config
	logger *log.Logger
}

// New creates a server. A nil engine selects StubEngine and a nil logger
// discards application logs.
func New(store session.Store, engine Engine, cfg Config, logger *log.Logger) (*Server, error) {
	if store == nil {
		return nil, errors.New("server requires a session store")
	}
	if engine == nil {
		engine = StubEngine{}
	}
	if logger == nil {
		logger = log.Nop()
	}
	if cfg.BodyLimit <= 0 {
		cfg.BodyLimit = DefaultBodyLimit
	}
	if cfg.AccessLog == nil {
		cfg.AccessLog = os.Stderr
	}
	if cfg.RateLimit.Max > 0 && cfg.RateLimit.Expiration <= 0 {
		cfg.RateLimit.Expiration = time.Minute
	}

	s := &Server{
		store:  store,
		engine: engine,
		cfg:    cfg,
		logger: logger,
	}

	app := fiber.New(fiber.Config{
		AppName:               "psdweb " + types.Version,
		BodyLimit:             cfg.BodyLimit,
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	app.Use(recover.New())
	app.Use(cors.New())
	if cfg.RateLimit.Max > 0 {
		app.Use(limiter.New(limiter.Config{
			Expiration: cfg.RateLimit.Expiration,
			Max:        cfg.RateLimit.Max,
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(failure("RATE_LIMITED", "too many requests"))
			},
		}))
	}
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: DefaultAccessLogFormat,
		Output: cfg.AccessLog,
	}))

	app.Get("/healthz", s.health)
	app.Post(api.EndpointInit, s.initUpload)
	app.Post(api.EndpointAppend, s.appendChunk)
	app.Post(api.EndpointComplete, s.completeUpload)
	app.Post(api.EndpointParse, s.parse)
	app.Post(api.EndpointConvert, s.convert)
	app.Post(api.EndpointValidate, s.validate)

	s.app = app
	return s, nil
}

// App returns the underlying fiber app, e.g. for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("server listening", map[string]any{
		"addr":       addr,
		"body_limit": s.cfg.BodyLimit,
	})
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

// handleError turns fiber and panic errors into the JSON failure envelope.
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := fiber.StatusInternalServerError
	code := api.CodeInternal
	var fe *fiber.Error
	if errors.As(err, &fe) {
		status = fe.Code
		switch fe.Code {
		case fiber.StatusRequestEntityTooLarge:
			code = api.CodePayloadTooLarge
		case fiber.StatusNotFound, fiber.StatusMethodNotAllowed, fiber.StatusBadRequest:
			code = api.CodeInvalidRequest
		}
	}
	if status >= 500 {
		s.logger.Error("request failed", map[string]any{
			"path":  c.Path(),
			"error": err.Error(),
		})
	}
	return c.Status(status).JSON(failure(code, err.Error()))
}

func failure(code, message string) fiber.Map {
	return fiber.Map{
		"success": false,
		"error":   code,
		"message": message,
	}
}
