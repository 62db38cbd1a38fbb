package http_server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"

	"github.com/danthegoodman1/EchoNext/gologger"
	"github.com/danthegoodman1/EchoNext/utils"
	"github.com/labstack/echo/v4"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/sync/errgroup"
)

var (
	globalLogger = gologger.NewLogger()
	httpServer   *http.Server
	tlsServer    *http.Server
	h3Server     *http3.Server
)

// H3Enabled reports whether StartServers will serve HTTP/3, which needs TLS
func H3Enabled() bool {
	return utils.Env_TLSCert != "" && utils.Env_TLSKey != ""
}

// StartServers serves e on port (HTTP/1.1 and h2c) through e.Server, so the hosted framework
// sees the same server the app runs on. With a certificate configured it also serves TLS
// (HTTP/1.1, HTTP/2) and HTTP/3 on utils.Env_TLSPort. Returns once the listeners are up.
func StartServers(e *echo.Echo, port int) error {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return fmt.Errorf("failed to listen on :%d: %w", port, err)
	}

	h2cServer := &http2.Server{}
	httpServer = e.Server
	httpServer.Addr = listener.Addr().String()
	httpServer.Handler = h2c.NewHandler(e, h2cServer)
	httpServer.ReadTimeout = 0
	httpServer.WriteTimeout = 0

	globalLogger.Debug().Msgf("listening on :%d (HTTP/1.1 and HTTP/2)", port)
	go serve("http", func() error { return httpServer.Serve(listener) })

	if !H3Enabled() {
		return nil
	}

	cert, err := tls.LoadX509KeyPair(utils.Env_TLSCert, utils.Env_TLSKey)
	if err != nil {
		return fmt.Errorf("error in tls.LoadX509KeyPair: %w", err)
	}
	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{"h2", "http/1.1", "h3", "h3-29"},
	}

	tlsServer = &http.Server{
		Addr:      ":" + utils.Env_TLSPort,
		Handler:   e,
		TLSConfig: tlsConfig,
	}
	// Configure the tlsServer to support HTTP/2
	if err := http2.ConfigureServer(tlsServer, nil); err != nil {
		return fmt.Errorf("error in http2.ConfigureServer: %w", err)
	}

	h3Server = &http3.Server{
		TLSConfig:  tlsConfig,
		Handler:    e,
		QUICConfig: &quic.Config{},
		Addr:       ":" + utils.Env_TLSPort,
	}

	globalLogger.Debug().Msgf("listening on :%s (HTTP/1.1 and HTTP/2 with TLS)", utils.Env_TLSPort)
	go serve("tls", func() error { return tlsServer.ListenAndServeTLS("", "") })
	globalLogger.Debug().Msgf("listening on :%s (HTTP/3)", utils.Env_TLSPort)
	go serve("h3", h3Server.ListenAndServe)
	return nil
}

func serve(name string, f func() error) {
	if err := f(); err != nil && err != http.ErrServerClosed {
		globalLogger.Error().Err(err).Str("server", name).Msg("server stopped")
	}
}

func Shutdown(ctx context.Context) error {
	g := errgroup.Group{}
	if httpServer != nil {
		g.Go(func() error {
			return httpServer.Shutdown(ctx)
		})
	}
	if tlsServer != nil {
		g.Go(func() error {
			return tlsServer.Shutdown(ctx)
		})
	}
	if h3Server != nil {
		g.Go(func() error {
			return h3Server.Shutdown(ctx)
		})
	}
	return g.Wait()
}
