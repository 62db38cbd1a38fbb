package hosted

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"github.com/danthegoodman1/EchoNext/bridge"
	"github.com/danthegoodman1/EchoNext/internal"
	"github.com/danthegoodman1/EchoNext/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// ServeUpgrade proxies an upgrade (the dev server's hot reload socket) to the upstream. The
// handshake is reported on sock as soon as the upstream answers, then bytes are copied both
// ways until either side hangs up.
func (s *Server) ServeUpgrade(r *http.Request, sock *bridge.Socket, head []byte) error {
	// The inbound request ends as soon as the handshake is reported, the connection outlives it
	ctx, span := tracing.Tracer.Start(context.WithoutCancel(r.Context()), "hostedUpgrade")
	defer span.End()
	logger := zerolog.Ctx(ctx)

	originReq, err := s.makeOriginRequest(ctx, r, true)
	if err != nil {
		sock.Reject(http.StatusInternalServerError)
		return fmt.Errorf("error in makeOriginRequest: %w", err)
	}

	originRes, err := s.doOriginRequest(ctx, originReq)
	if err != nil {
		sock.Reject(http.StatusBadGateway)
		return fmt.Errorf("error in doOriginRequest: %w", err)
	}

	if originRes.StatusCode != http.StatusSwitchingProtocols {
		originRes.Body.Close()
		logger.Debug().Int("status", originRes.StatusCode).Msg("upstream refused upgrade")
		sock.Reject(originRes.StatusCode)
		return nil
	}

	if !strings.EqualFold(r.Header.Get("Upgrade"), originRes.Header.Get("Upgrade")) {
		originRes.Body.Close()
		logger.Warn().Msg("mismatched upgrade headers")
		sock.Reject(http.StatusConflict)
		return nil
	}

	backConn, ok := originRes.Body.(io.ReadWriteCloser)
	if !ok {
		originRes.Body.Close()
		sock.Reject(http.StatusBadGateway)
		return fmt.Errorf("%w: response body to readwritecloser", ErrFailedToCast)
	}
	defer backConn.Close()

	conn, brw, err := sock.Hijack()
	if err != nil {
		sock.Reject(http.StatusInternalServerError)
		return fmt.Errorf("error in sock.Hijack: %w", err)
	}
	defer conn.Close()

	// **We now own the connection**

	originRes.Body = nil // res.Write only writes the headers; we have res.Body in backConn above
	if err := originRes.Write(brw); err != nil {
		sock.Reject(http.StatusBadGateway)
		return fmt.Errorf("error writing upgrade headers: %w", err)
	}
	if err := brw.Flush(); err != nil {
		sock.Reject(http.StatusBadGateway)
		return fmt.Errorf("error flushing upgrade headers: %w", err)
	}
	sock.Accept()
	span.SetAttributes(attribute.Bool("upgraded", true))

	if len(head) > 0 {
		if _, err := backConn.Write(head); err != nil {
			return fmt.Errorf("error writing head to upstream: %w", err)
		}
	}

	// Anything the client sent after its request is already sitting in brw
	spc := switchProtocolCopier{
		user: struct {
			io.Reader
			io.Writer
		}{brw.Reader, conn},
		backend: backConn,
	}

	internal.Metric_OpenUpgrades.Inc()
	defer internal.Metric_OpenUpgrades.Dec()

	g := errgroup.Group{}
	g.Go(func() error {
		defer backConn.Close()
		return spc.copyToBackend()
	})
	g.Go(func() error {
		defer conn.Close()
		return spc.copyFromBackend()
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, net.ErrClosed) {
		logger.Debug().Err(err).Msg("upgraded connection closed with error")
	} else {
		logger.Debug().Msg("upgraded connection hung up")
	}
	return nil
}
