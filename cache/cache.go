package cache

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/danthegoodman1/EchoNext/common"
	"github.com/danthegoodman1/EchoNext/gologger"
	"github.com/danthegoodman1/EchoNext/utils"
	"github.com/mailgun/groupcache/v2"
)

var (
	Env_GroupCachePort = utils.EnvOrDefault("CACHE_PORT", "8092")

	httpServer *http.Server
	logger     = gologger.NewLogger()
)

// CreateGroupCache starts the peer pool so asset groups are shared between instances. Without
// it every group still works as a local cache.
func CreateGroupCache() error {
	logger.Debug().Msgf("creating group cache at %s", utils.CacheSelfAddr)

	// Pool keeps track of peers in our cluster and identifies which peer owns a key.
	pool := groupcache.NewHTTPPoolOpts(utils.CacheSelfAddr, &groupcache.HTTPPoolOptions{})

	// Add more peers to the cluster You MUST Ensure our instance is included in this list else
	// determining who owns the key accross the cluster will not be consistent, and the pool won't
	// be able to determine if our instance owns the key.
	pool.Set(utils.CachePeers...)

	httpServer = &http.Server{
		Addr:    listenAddr(utils.CacheSelfAddr),
		Handler: pool,
	}

	// Start an HTTP server to listen for peer requests from the groupcache
	err := httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func Shutdown(ctx context.Context) error {
	if httpServer != nil {
		logger.Debug().Msg("Shutting down groupcache server")
		return httpServer.Shutdown(ctx)
	}
	return common.ErrNoServer
}

// listenAddr turns http://x.x.x.x:yyyy into :yyyy
func listenAddr(selfAddr string) string {
	if u, err := url.Parse(selfAddr); err == nil && u.Port() != "" {
		return ":" + u.Port()
	}
	return fmt.Sprintf(":%s", Env_GroupCachePort)
}
