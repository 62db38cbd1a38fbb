package hosted

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"

	"github.com/danthegoodman1/EchoNext/bridge"
	"github.com/danthegoodman1/EchoNext/tracing"
	"github.com/danthegoodman1/EchoNext/utils"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Hop-by-hop headers, these are for one connection only
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, span := tracing.Tracer.Start(r.Context(), "hostedRequest")
	defer span.End()
	logger := zerolog.Ctx(ctx)

	originReq, err := s.makeOriginRequest(ctx, r, false)
	if err != nil {
		respondServerError(ctx, span, w, http.StatusInternalServerError, err, "error in makeOriginRequest")
		return
	}

	originRes, err := s.doOriginRequest(ctx, originReq)
	if err != nil {
		respondServerError(ctx, span, w, http.StatusBadGateway, err, "error in doOriginRequest")
		return
	}

	for _, h := range hopHeaders {
		originRes.Header.Del(h)
	}
	if err := bridge.WriteResponse(w, originRes); err != nil {
		logger.Warn().Err(err).Msg("error copying hosted response body")
	}
}

// makeOriginRequest makes a clone of the incoming request aimed at the upstream, with forwarding headers added.
func (s *Server) makeOriginRequest(ctx context.Context, r *http.Request, upgrade bool) (*http.Request, error) {
	finalURL := s.upstream.String() + r.URL.RequestURI()
	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}
	originReq, err := http.NewRequestWithContext(ctx, r.Method, finalURL, body)
	if err != nil {
		return nil, err
	}
	originReq.ContentLength = r.ContentLength

	// Switch in the headers, but keep original Host
	originReq.Header = r.Header.Clone()
	if !upgrade {
		for _, h := range hopHeaders {
			originReq.Header.Del(h)
		}
	}

	if utils.Env_DevDisableHost {
		originReq.Host = ""
	} else {
		originReq.Host = r.Host
	}

	originReq.Header.Set("X-Forwarded-Proto", lo.Ternary(r.TLS != nil, "https", "http"))
	originReq.Header.Set("X-Forwarded-Host", r.Host)
	if s.cfg.Port > 0 {
		originReq.Header.Set("X-Forwarded-Port", strconv.Itoa(s.cfg.Port))
	}
	originReq.Header.Set("X-Forwarded-For", func(r *http.Request) string {
		incomingIP, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			incomingIP = r.RemoteAddr
		}
		if existing := r.Header.Get("X-Forwarded-For"); existing != "" {
			return existing + fmt.Sprintf(", %s", incomingIP)
		}
		return incomingIP
	}(r))

	// The hosted framework sees the path it should render, tell it what was asked for too
	if info := bridge.ConnInfoFromRequest(r); info != nil && info.Original.URL.RequestURI() != r.URL.RequestURI() {
		originReq.Header.Set("X-Original-Uri", info.Original.URL.RequestURI())
	}
	return originReq, nil
}

func (s *Server) doOriginRequest(ctx context.Context, req *http.Request) (*http.Response, error) {
	ctx, span := tracing.Tracer.Start(ctx, "originRequest")
	defer span.End()
	span.SetAttributes(attribute.String("url", req.URL.String()))
	res, err := s.client.Do(req)
	if res != nil {
		span.SetAttributes(attribute.Int("originResponseStatus", res.StatusCode))
	}
	return res, err
}

// handles writing the error, should always return after calling this. Has overrides for common errors
// like context.DeadlineExceeded
func respondServerError(ctx context.Context, span trace.Span, w http.ResponseWriter, status int, e error, msg string) {
	span.SetAttributes(attribute.Int("status", status))
	span.RecordError(e)
	logger := zerolog.Ctx(ctx)
	var err error
	if errors.Is(e, context.DeadlineExceeded) {
		logger.Warn().Err(e).Msg("request deadline exceeded")
		w.WriteHeader(http.StatusGatewayTimeout)
		_, err = fmt.Fprint(w, "upstream timeout")
	} else {
		logger.Error().Err(e).Msg(msg)
		w.WriteHeader(status)
		_, err = fmt.Fprint(w, "internal error")
	}
	if err != nil {
		logger.Error().Err(err).Msg("error writing internal error to HTTP request")
	}
}
