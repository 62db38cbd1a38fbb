package utils

import (
	"os"
	"strings"
)

var (
	Env_SleepSeconds           = MustEnvOrDefaultInt64("SHUTDOWN_SLEEP_SEC", 0)
	Env_ShutdownTimeoutSeconds = MustEnvOrDefaultInt64("SHUTDOWN_TIMEOUT_SEC", 1)

	// Optional TLS, also turns on HTTP/3
	Env_TLSCert = os.Getenv("TLS_CERT")
	Env_TLSKey  = os.Getenv("TLS_KEY")
	Env_TLSPort = EnvOrDefault("TLS_PORT", "443")

	CacheEnabled = os.Getenv("CACHE_ENABLED") == "1"
	// http://x:y,http://z:y,... MUST INCLUDE SELF! Only need to include self to cache as a single node
	CachePeers = strings.Split(os.Getenv("CACHE_PEERS"), ",")
	// http://x.x.x.x:yyyy
	CacheSelfAddr          = os.Getenv("CACHE_SELF_ADDR")
	Env_AssetCacheMB       = MustEnvOrDefaultInt64("ASSET_CACHE_MB", 64)
	Env_AssetCacheSeconds  = MustEnvOrDefaultInt64("ASSET_CACHE_SECONDS", 3600)
	Env_UpstreamWaitSec    = MustEnvOrDefaultInt64("UPSTREAM_WAIT_SEC", 60)
	Env_UpstreamTimeoutSec = MustEnvOrDefaultInt64("UPSTREAM_TIMEOUT_SEC", 0)

	// Disables setting the host header so the HTTP client sets it automatically, so forwarding localhost works with clients
	Env_DevDisableHost = os.Getenv("DEV_DISABLE_HOST") == "1"
)
