package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/danthegoodman1/EchoNext/cache"
	"github.com/danthegoodman1/EchoNext/common"
	"github.com/danthegoodman1/EchoNext/gologger"
	"github.com/danthegoodman1/EchoNext/http_server"
	"github.com/danthegoodman1/EchoNext/internal"
	"github.com/danthegoodman1/EchoNext/mount"
	"github.com/danthegoodman1/EchoNext/routing"
	"github.com/danthegoodman1/EchoNext/tracing"
	"github.com/danthegoodman1/EchoNext/utils"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
)

var (
	logger = gologger.NewLogger()
)

type config struct {
	Port      int               `env:"PORT" envDefault:"3000"`
	Hostname  string            `env:"HOSTNAME"`
	Dir       string            `env:"NEXT_DIR"`
	Dev       *bool             `env:"NEXT_DEV"`
	AutoMount *bool             `env:"NEXT_AUTO_MOUNT"`
	Upstream  string            `env:"NEXT_UPSTREAM"`
	Command   []string          `env:"NEXT_COMMAND" envSeparator:" "`
	Debug     bool              `env:"NEXT_DEBUG"`
	Hosted    map[string]string `env:"NEXT_OPTIONS"`
	// Globs that always go to Next, e.g. /_next/**,/favicon.ico
	Passthrough []string `env:"NEXT_PASSTHROUGH"`
	AssetCache  bool     `env:"ASSET_CACHE"`
}

func main() {
	_ = godotenv.Load(".env")

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Fatal().Err(err).Msg("error parsing config")
	}

	logger.Info().Msg("starting EchoNext")
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := tracing.InitTracer(ctx, "echonext")
	if err != nil {
		logger.Fatal().Err(err).Msg("error in tracing.InitTracer")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Pre(http_server.RequestContext)
	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	next, err := mount.New(ctx, mount.Options{
		App:       e,
		Dir:       cfg.Dir,
		Dev:       cfg.Dev,
		AutoMount: cfg.AutoMount,
		Port:      cfg.Port,
		Hostname:  cfg.Hostname,
		Upstream:  cfg.Upstream,
		Command:   cfg.Command,
		Debug:     cfg.Debug,
		Hosted:    cfg.Hosted,
		Rules: lo.Map(cfg.Passthrough, func(pattern string, _ int) routing.Rule {
			return routing.Rule{Pattern: pattern}
		}),
		AssetCache: cfg.AssetCache,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("error in mount.New")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Int("port", cfg.Port).Msg("starting http server")
		return http_server.StartServers(e, cfg.Port)
	})
	g.Go(internal.StartMetricsServer)
	if utils.CacheEnabled {
		g.Go(cache.CreateGroupCache)
	}

	<-gctx.Done()
	logger.Warn().Msg("received shutdown signal!")

	// Give load balancers a moment to stop sending traffic
	time.Sleep(time.Second * time.Duration(utils.Env_SleepSeconds))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second*time.Duration(utils.Env_ShutdownTimeoutSeconds))
	defer cancel()
	if err := http_server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	}
	if err := internal.Shutdown(shutdownCtx); err != nil && !errors.Is(err, common.ErrNoServer) {
		logger.Error().Err(err).Msg("failed to shutdown internal server")
	}
	if err := cache.Shutdown(shutdownCtx); err != nil && !errors.Is(err, common.ErrNoServer) {
		logger.Error().Err(err).Msg("failed to shutdown groupcache server")
	}
	if err := next.Close(); err != nil {
		logger.Error().Err(err).Msg("failed to stop hosted framework")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown tracer")
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("error running services")
		os.Exit(1)
	}
	logger.Info().Msg("shutdown complete")
}
