package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"golang.org/x/time/rate"

	"resume-gateway/internal/client"
	"resume-gateway/internal/config"
	"resume-gateway/internal/handler"
	"resume-gateway/internal/metrics"
	"resume-gateway/internal/middleware"
	"resume-gateway/internal/service"
	"resume-gateway/internal/supervisor"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli := parseCLI()

	var sup *supervisor.Supervisor
	app := fx.New(
		fx.Provide(
			func() *config.CLI { return cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			newLogger,
			newMetrics,
			newEcho,
			client.NewBackendClient,
			service.NewProxyService,
			supervisor.New,
			func(s *supervisor.Supervisor) handler.BackendStatus { return s },
			handler.NewProxyHandler,
			handler.NewWebSocketHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, warnConfigPermissions, startSupervisor, startServer),
		fx.Populate(&sup),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			l := &fxevent.SlogLogger{Logger: logger.With("component", "fx")}
			l.UseLogLevel(slog.LevelDebug)
			return l
		}),
	)

	startCtx, cancel := context.WithTimeout(context.Background(), app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		fmt.Fprintf(os.Stderr, "resume-gateway: %v\n", err)
		os.Exit(1)
	}

	// SIGINT and SIGTERM are treated alike: the received signal goes to the
	// backend, then the server and supervisor hooks unwind.
	sig := <-app.Wait()
	if sig.Signal != nil {
		sup.Stop(sig.Signal)
	}

	stopCtx, cancelStop := context.WithTimeout(context.Background(), app.StopTimeout())
	defer cancelStop()
	if err := app.Stop(stopCtx); err != nil {
		fmt.Fprintf(os.Stderr, "resume-gateway: shutdown: %v\n", err)
	}
	os.Exit(sig.ExitCode)
}

// parseCLI loads the .env file before parsing so its values reach both the
// env-backed flags and the backend child. A file named with --env-file is
// loaded afterwards and the arguments are parsed again.
func parseCLI() *config.CLI {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	dotenvErr := config.LoadDotenv(envFile)

	var cli config.CLI
	parser := kong.Must(&cli,
		kong.Name("resume-gateway"),
		kong.Description("Public gateway and process supervisor for the resume builder UI."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)
	parser.FatalIfErrorf(dotenvErr)

	_, err := parser.Parse(os.Args[1:])
	parser.FatalIfErrorf(err)

	if cli.EnvFile != envFile {
		parser.FatalIfErrorf(config.LoadDotenv(cli.EnvFile))
		_, err = parser.Parse(os.Args[1:])
		parser.FatalIfErrorf(err)
	}
	return &cli
}

func newLogger(cfg *config.Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		h = slog.NewTextHandler(os.Stdout, opts)
	default:
		h = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(h)
}

func newMetrics(cfg *config.Config) *metrics.Metrics {
	return metrics.New(cfg.Backend.UIPrefix)
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = handler.NewErrorHandler(cfg, logger)

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0): progressive UI responses and queue
	// sockets stay open for as long as the backend keeps producing.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(middleware.Recover(logger, cfg.Server.Development()))
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(middleware.MetricsMiddleware(m))

	if origins := cfg.Server.AllowedOrigins; len(origins) > 0 {
		e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins:     origins,
			AllowCredentials: !slices.Contains(origins, "*"),
		}))
		logger.Info("cors enabled", "origins", origins)
	}
	if cfg.Server.BodyMaxBytes > 0 {
		e.Use(echomw.BodyLimit(fmt.Sprintf("%dB", cfg.Server.BodyMaxBytes)))
	}
	e.Use(middleware.SecurityHeaders())

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	cfg.WarnPermissions(logger)
}

// startSupervisor launches the backend before the listener opens. A backend
// that cannot be spawned at boot aborts startup.
func startSupervisor(lc fx.Lifecycle, sup *supervisor.Supervisor, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			if err := sup.Start(); err != nil {
				return fmt.Errorf("start backend: %w", err)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			sup.Stop(syscall.SIGTERM)
			if err := sup.Wait(ctx); err != nil {
				logger.Warn("backend still running at shutdown", "err", err)
			}
			return nil
		},
	})
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			addr := cfg.Server.Addr()
			ln, err := net.Listen("tcp", addr)
			if err != nil {
				return fmt.Errorf("bind %s: %w", addr, err)
			}
			logger.Info("starting server",
				"addr", addr,
				"backend", cfg.Backend.Addr(),
				"ui_prefix", cfg.Backend.UIPrefix,
				"environment", cfg.Server.Environment,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
