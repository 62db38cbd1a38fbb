package internal

import (
	"context"
	"fmt"
	"net/http"

	"github.com/danthegoodman1/EchoNext/common"
	"github.com/danthegoodman1/EchoNext/gologger"
	"github.com/danthegoodman1/EchoNext/utils"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Env_InternalPort = utils.EnvOrDefault("METRICS_PORT", "8091")

	httpServer *http.Server
	logger     = gologger.NewLogger()
)

func StartMetricsServer() error {
	logger.Debug().Msgf("Starting internal http server on port %s", Env_InternalPort)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%s", Env_InternalPort),
		Handler: mux,
	}
	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func Shutdown(ctx context.Context) error {
	if httpServer != nil {
		logger.Debug().Msg("Shutting down internal server")
		return httpServer.Shutdown(ctx)
	}
	return common.ErrNoServer
}
