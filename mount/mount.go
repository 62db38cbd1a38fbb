package mount

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/danthegoodman1/EchoNext/bridge"
	"github.com/danthegoodman1/EchoNext/cache"
	"github.com/danthegoodman1/EchoNext/gologger"
	"github.com/danthegoodman1/EchoNext/hosted"
	"github.com/danthegoodman1/EchoNext/internal"
	"github.com/danthegoodman1/EchoNext/routing"
	"github.com/danthegoodman1/EchoNext/utils"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	ContextKey = "echonext"
)

var (
	ErrNoApp = errors.New("no echo app")

	logger = gologger.NewLogger()
)

type (
	// Options configure New. Most of them are handed to the hosted framework.
	Options struct {
		// App is the echo instance that serves everything. Required.
		App *echo.Echo

		// Dir is the hosted app's directory, defaults to the working directory
		Dir string
		// Dev defaults to NODE_ENV != "production"
		Dev *bool
		// AutoMount renders through the hosted framework whatever echo has no route for.
		// Defaults to true.
		AutoMount *bool

		// Port echo listens on
		Port     int
		Hostname string
		Upstream string
		Command  []string
		Debug    bool
		// Hosted options are forwarded verbatim to the hosted framework
		Hosted map[string]string

		// Rules send matching paths to the hosted framework before echo routes them
		Rules []routing.Rule

		// AssetCache caches /_next/static/ responses in production
		AssetCache      bool
		AssetCacheBytes int64
		// AssetCacheGroup defaults to cache.AssetGroupName
		AssetCacheGroup string

		// Handler and Upgrader stand in for the hosted framework, it is not started when Handler
		// is set
		Handler  http.Handler
		Upgrader bridge.Upgrader
	}

	// Next is the hosted framework mounted on an echo app.
	Next struct {
		app       *echo.Echo
		Dir       string
		Dev       bool
		AutoMount bool

		bridge *bridge.Bridge
		hosted *hosted.Server
		rules  *routing.Table
		assets *cache.AssetCache
	}
)

// New starts the hosted framework and registers it on opts.App. Set any custom
// HTTPErrorHandler on the app before calling New, the not-found fallback wraps it.
func New(ctx context.Context, opts Options) (*Next, error) {
	if opts.App == nil {
		return nil, ErrNoApp
	}

	n := &Next{
		app:       opts.App,
		Dir:       opts.Dir,
		Dev:       lo.FromPtrOr(opts.Dev, os.Getenv("NODE_ENV") != "production"),
		AutoMount: lo.FromPtrOr(opts.AutoMount, true),
	}
	if n.Dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("error in os.Getwd: %w", err)
		}
		n.Dir = wd
	}

	var err error
	n.rules, err = routing.Compile(opts.Rules)
	if err != nil {
		return nil, fmt.Errorf("error in routing.Compile: %w", err)
	}

	handler, upgrader := opts.Handler, opts.Upgrader
	if handler == nil {
		n.hosted, err = hosted.Initialize(ctx, hosted.Config{
			Dir:      n.Dir,
			Dev:      n.Dev,
			Port:     opts.Port,
			Hostname: opts.Hostname,
			Upstream: opts.Upstream,
			Command:  opts.Command,
			Debug:    opts.Debug,
			Options:  opts.Hosted,
		})
		if err != nil {
			return nil, fmt.Errorf("error in hosted.Initialize: %w", err)
		}
		handler = n.hosted
		if upgrader == nil {
			upgrader = n.hosted
		}
	}

	app := opts.App
	n.bridge = &bridge.Bridge{
		Server: func() *http.Server {
			return app.Server
		},
		Handler:  handler,
		Upgrader: upgrader,
	}

	if opts.AssetCache && !n.Dev {
		n.assets = cache.NewAssetCache(
			lo.Ternary(opts.AssetCacheGroup != "", opts.AssetCacheGroup, cache.AssetGroupName),
			lo.Ternary(opts.AssetCacheBytes > 0, opts.AssetCacheBytes, utils.Env_AssetCacheMB<<20),
			0,
			n.fillAsset,
		)
	}

	n.register()
	logger.Info().Str("dir", n.Dir).Bool("dev", n.Dev).Bool("autoMount", n.AutoMount).Int("rules", n.rules.Len()).Msg("mounted hosted framework")
	return n, nil
}

func (n *Next) register() {
	n.app.Use(n.decorate)

	// Registered first so the upgrade wins over any pass-through rule
	if n.Dev {
		n.app.Pre(n.hotReload)
	}
	if n.rules.Len() > 0 {
		n.app.Pre(n.passthrough)
	}

	if n.AutoMount {
		prev := n.app.HTTPErrorHandler
		if prev == nil {
			prev = n.app.DefaultHTTPErrorHandler
		}
		n.app.HTTPErrorHandler = n.notFoundFallback(prev)
	}
}

// FromContext returns the Next registered on the app handling c, nil before echo's routing
// ran (in Pre middleware).
func FromContext(c echo.Context) *Next {
	n, _ := c.Get(ContextKey).(*Next)
	return n
}

func (n *Next) decorate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		c.Set(ContextKey, n)
		return next(c)
	}
}

// Render has the hosted framework render req, or path instead of the request path when it
// is not empty.
func (n *Next) Render(req *http.Request, path string) (*http.Response, error) {
	internal.Metric_Renders.WithLabelValues("direct").Inc()
	return n.render(req, path)
}

func (n *Next) render(req *http.Request, path string) (*http.Response, error) {
	res, err := n.bridge.Render(req, path)
	if err != nil {
		internal.Metric_RenderErrors.Inc()
		return nil, err
	}
	return res, nil
}

// RenderTo renders the request behind c and writes the result to c's response.
func (n *Next) RenderTo(c echo.Context, path string) error {
	internal.Metric_Renders.WithLabelValues("direct").Inc()
	return n.renderTo(c, path)
}

func (n *Next) renderTo(c echo.Context, path string) error {
	req := c.Request()
	markDelegated(c)

	if n.assets != nil && path == "" && cache.Cacheable(req) {
		entry, err := n.assets.Get(req.Context(), req.URL.RequestURI())
		if err == nil {
			return writeEntry(c, entry)
		}
		zerolog.Ctx(req.Context()).Warn().Err(err).Msg("asset cache miss failed, rendering directly")
	}

	res, err := n.render(req, path)
	if err != nil {
		return fmt.Errorf("error in render: %w", err)
	}
	if res == nil {
		return nil
	}
	return bridge.WriteResponse(c.Response(), res)
}

// Upgrade hands the upgrade request behind c to the hosted framework. A nil head is sent as
// an empty buffer.
func (n *Next) Upgrade(c echo.Context, head []byte) (bridge.UpgradeResult, error) {
	markDelegated(c)
	result, err := n.bridge.Upgrade(c.Response().Writer, c.Request(), head)
	internal.Metric_Upgrades.WithLabelValues(lo.Ternary(result.Upgraded, "upgraded", "refused")).Inc()
	return result, err
}

// Close stops the hosted framework if New started it.
func (n *Next) Close() error {
	if n.assets != nil {
		n.assets.Close()
	}
	if n.hosted != nil {
		return n.hosted.Close()
	}
	return nil
}

func (n *Next) hotReload(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !IsHotReload(c.Request()) {
			return next(c)
		}

		result, err := n.Upgrade(c, nil)
		if err != nil {
			zerolog.Ctx(c.Request().Context()).Error().Err(err).Msg("error upgrading hot reload connection")
		}
		if result.Upgraded {
			return nil
		}
		return c.NoContent(result.Status)
	}
}

func (n *Next) passthrough(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		r := c.Request()
		rule, ok := n.rules.Match(r.Context(), r.URL.Path)
		if !ok {
			return next(c)
		}
		internal.Metric_Renders.WithLabelValues("rule").Inc()
		return n.renderTo(c, rule.Rewrite)
	}
}

func (n *Next) notFoundFallback(prev echo.HTTPErrorHandler) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		logger := zerolog.Ctx(c.Request().Context())
		logger.Debug().Err(err).Str("path", c.Request().URL.Path).Msg("echo error")

		if IsNotFound(err) && !Delegated(c) && !c.Response().Committed {
			internal.Metric_Renders.WithLabelValues("not_found").Inc()
			rerr := n.renderTo(c, "")
			if rerr == nil {
				return
			}
			logger.Error().Err(rerr).Msg("error rendering not found fallback")
			err = rerr
		}
		prev(err, c)
	}
}

func (n *Next) fillAsset(ctx context.Context, requestURI string) (*cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURI, nil)
	if err != nil {
		return nil, fmt.Errorf("error in http.NewRequestWithContext: %w", err)
	}
	res, err := n.render(req, "")
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("error reading rendered asset: %w", err)
	}
	return &cache.Entry{
		Status: res.StatusCode,
		Header: res.Header,
		Body:   body,
	}, nil
}

func writeEntry(c echo.Context, entry *cache.Entry) error {
	for key, vals := range entry.Header {
		c.Response().Header().Del(key)
		for _, val := range vals {
			c.Response().Header().Add(key, val)
		}
	}
	c.Response().WriteHeader(entry.Status)
	_, err := c.Response().Write(entry.Body)
	return err
}
