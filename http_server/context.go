package http_server

import (
	"fmt"
	"time"

	"github.com/danthegoodman1/EchoNext/gologger"
	"github.com/danthegoodman1/EchoNext/internal"
	"github.com/danthegoodman1/EchoNext/tracing"
	"github.com/danthegoodman1/EchoNext/utils"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	RequestIDHeader = "X-Request-ID"
)

// RequestContext gives every request an ID, a context logger and a server span. Register it
// with Pre so it wraps the hot reload and pass-through middleware as well.
func RequestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		internal.Metric_OpenRequests.Inc()
		defer internal.Metric_OpenRequests.Dec()

		r := c.Request()
		created := time.Now()
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = utils.GenKSortedID("req_")
		}

		proto := r.Proto
		ctx := gologger.Ctx(r.Context())
		logger := zerolog.Ctx(ctx)

		if upgradeHeader := r.Header.Get("Upgrade"); upgradeHeader == "h2c" {
			// Mark h2c as HTTP/2.0
			logger.Debug().Msg(fmt.Sprint("Marking h2c as HTTP/2.0"))
			proto = "HTTP/2.0"
		}

		// Log context
		logger.UpdateContext(func(c zerolog.Context) zerolog.Context {
			return c.Str("host", r.Host).Bool("tls", r.TLS != nil).Str("requestID", reqID).Int64("requestLength", r.ContentLength).Str("proto", proto).Str("method", r.Method).Str("path", r.URL.Path)
		})

		ctx, span := tracing.Tracer.Start(ctx, "HTTPHandler", trace.WithSpanKind(trace.SpanKindServer))
		defer span.End()
		span.SetAttributes(attribute.String("requestID", reqID))
		span.SetAttributes(attribute.String("proto", proto))

		c.SetRequest(r.WithContext(ctx))
		c.Response().Header().Set(RequestIDHeader, reqID)
		if H3Enabled() {
			// Write HTTP/3 support header
			c.Response().Header().Set("Alt-Svc", fmt.Sprintf("h3=\":%s\"; ma=86400", utils.Env_TLSPort))
		}

		logger.Info().Msg("request")

		if err := next(c); err != nil {
			// Handle here so the logged status is the one the client gets
			c.Error(err)
		}

		span.SetAttributes(attribute.Int("status", c.Response().Status))
		logger.Info().Int("status", c.Response().Status).Int64("responseLength", c.Response().Size).Int64("ms", time.Since(created).Milliseconds()).Msg("response")
		return nil
	}
}
