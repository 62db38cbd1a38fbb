package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/danthegoodman1/EchoNext/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
)

var (
	ErrServerNotInitialized = errors.New("server is not initialized")
	ErrInvalidPath          = errors.New("invalid path")
	ErrHandlerPanic         = errors.New("hosted handler panicked")
	ErrNoHandshake          = errors.New("upgrade handler returned without a handshake")
	ErrNoUpgrader           = errors.New("no upgrade handler")
	ErrSocketHijacked       = errors.New("socket already hijacked")
	ErrResponseFinished     = errors.New("response already finished")
)

type (
	// Upgrader is the hosted framework's upgrade entry point. Implementations call
	// sock.Accept or sock.Reject once they know the outcome of the handshake, and may keep
	// serving the connection afterwards.
	Upgrader interface {
		ServeUpgrade(r *http.Request, sock *Socket, head []byte) error
	}

	UpgraderFunc func(r *http.Request, sock *Socket, head []byte) error

	UpgradeResult struct {
		Upgraded bool
		// Status is 101 when upgraded, otherwise what the caller should answer with
		Status int
	}

	Bridge struct {
		// Server returns the transport server the requests arrive on. It must not return nil
		// once requests are flowing.
		Server   func() *http.Server
		Handler  http.Handler
		Upgrader Upgrader
	}
)

func (f UpgraderFunc) ServeUpgrade(r *http.Request, sock *Socket, head []byte) error {
	return f(r, sock, head)
}

// ConvertRequest builds the adapted request and response for one hand-off. reply receives
// the finished response. A nil server is a programming error and panics.
func ConvertRequest(req *http.Request, reply func(*http.Response), server *http.Server) (*http.Request, *ResponseWriter) {
	if server == nil {
		panic(ErrServerNotInitialized)
	}

	return convert(req.Context(), req, reply, server)
}

// convert builds the adapted pair on ctx, which must derive from req's context. The
// ConnInfo keeps req itself as the original.
func convert(ctx context.Context, req *http.Request, reply func(*http.Response), server *http.Server) (*http.Request, *ResponseWriter) {
	res := newResponseWriter(reply)
	info := &ConnInfo{
		Server:   server,
		Response: res,
		Original: req,
	}
	adapted := req.Clone(WithConnInfo(ctx, info))
	res.req = adapted
	return adapted, res
}

// SetPath replaces the path and query of r, so the hosted framework renders a different page
// than the URL asked for.
func SetPath(r *http.Request, path string) error {
	if !strings.HasPrefix(path, "/") {
		return fmt.Errorf("%w: %q must start with /", ErrInvalidPath, path)
	}
	u, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidPath, err)
	}
	r.URL.Path = u.Path
	r.URL.RawPath = u.RawPath
	r.URL.RawQuery = u.RawQuery
	r.RequestURI = u.RequestURI()
	return nil
}

func (b *Bridge) server() *http.Server {
	var s *http.Server
	if b.Server != nil {
		s = b.Server()
	}
	if s == nil {
		panic(ErrServerNotInitialized)
	}
	return s
}

// Render hands req to the hosted handler, with path overriding the request path when not
// empty. It returns once the handler finished or flushed.
func (b *Bridge) Render(req *http.Request, path string) (*http.Response, error) {
	ctx, span := tracing.Tracer.Start(req.Context(), "Render")
	defer span.End()
	logger := zerolog.Ctx(ctx)

	resc := make(chan *http.Response, 1)
	errc := make(chan error, 1)
	adapted, res := convert(ctx, req, func(r *http.Response) {
		resc <- r
	}, b.server())

	if path != "" {
		if err := SetPath(adapted, path); err != nil {
			return nil, err
		}
	}
	span.SetAttributes(attribute.String("path", adapted.URL.Path))
	span.SetAttributes(attribute.Bool("overridden", path != ""))

	go func() {
		defer func() {
			if p := recover(); p != nil {
				err := fmt.Errorf("%w: %v", ErrHandlerPanic, p)
				logger.Error().Err(err).Str("path", adapted.URL.Path).Msg("recovered hosted handler panic")
				res.finish(err)
				errc <- err
			}
		}()
		b.Handler.ServeHTTP(res, adapted)
		res.finish(nil)
	}()

	select {
	case r := <-resc:
		span.SetAttributes(attribute.Int("status", r.StatusCode))
		return r, nil
	case err := <-errc:
		// A panic after a flush still produced a response
		select {
		case r := <-resc:
			return r, nil
		default:
		}
		span.RecordError(err)
		return nil, err
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return nil, ctx.Err()
	}
}

// Upgrade hands an upgrade request to the hosted framework together with a socket wrapping
// w. A nil head is sent as an empty buffer. It returns when the upgrader reports the
// handshake outcome, the upgraded connection is then owned by the upgrader.
func (b *Bridge) Upgrade(w http.ResponseWriter, req *http.Request, head []byte) (UpgradeResult, error) {
	ctx, span := tracing.Tracer.Start(req.Context(), "Upgrade")
	defer span.End()
	logger := zerolog.Ctx(ctx)

	if b.Upgrader == nil {
		return UpgradeResult{Status: http.StatusNotImplemented}, ErrNoUpgrader
	}
	if head == nil {
		head = []byte{}
	}

	adapted, _ := convert(ctx, req, nil, b.server())
	sock := newSocket(w, ConnInfoFromRequest(adapted))

	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				err := fmt.Errorf("%w: %v", ErrHandlerPanic, p)
				logger.Error().Err(err).Str("path", adapted.URL.Path).Msg("recovered upgrade handler panic")
				done <- err
			}
		}()
		done <- b.Upgrader.ServeUpgrade(adapted, sock, head)
	}()

	select {
	case result := <-sock.handshake:
		span.SetAttributes(attribute.Bool("upgraded", result.Upgraded))
		span.SetAttributes(attribute.Int("status", result.Status))
		return result, nil
	case err := <-done:
		select {
		case result := <-sock.handshake:
			return result, err
		default:
		}
		if err == nil {
			err = ErrNoHandshake
		}
		span.RecordError(err)
		return UpgradeResult{Status: http.StatusBadGateway}, err
	case <-ctx.Done():
		span.RecordError(ctx.Err())
		return UpgradeResult{Status: http.StatusBadGateway}, ctx.Err()
	}
}
