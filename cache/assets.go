package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/danthegoodman1/EchoNext/internal"
	"github.com/danthegoodman1/EchoNext/tracing"
	"github.com/danthegoodman1/EchoNext/utils"
	"github.com/mailgun/groupcache/v2"
	"go.opentelemetry.io/otel/attribute"
)

const (
	// StaticPrefix is where the hosted framework serves content-hashed build output
	StaticPrefix = "/_next/static/"

	// AssetGroupName is the default group name. Peers only share a group registered under the
	// same name on every instance.
	AssetGroupName = "next_assets"
)

var (
	ErrDecoding = errors.New("error decoding")
)

type (
	// Entry is a rendered response as stored in the cache
	Entry struct {
		Status int
		Header http.Header
		Body   []byte
	}

	// Filler renders the response for a request URI on a miss
	Filler func(ctx context.Context, requestURI string) (*Entry, error)

	AssetCache struct {
		group *groupcache.Group
		ttl   time.Duration
	}
)

// NewAssetCache registers a groupcache group. name must match across peers, and only one group
// per name may be registered in a process until Close.
func NewAssetCache(name string, cacheBytes int64, ttl time.Duration, fill Filler) *AssetCache {
	if ttl == 0 {
		ttl = time.Second * time.Duration(utils.Env_AssetCacheSeconds)
	}
	ac := &AssetCache{ttl: ttl}
	ac.group = groupcache.NewGroup(name, cacheBytes, groupcache.GetterFunc(
		func(ctx context.Context, key string, dest groupcache.Sink) error {
			ctx, span := tracing.Tracer.Start(ctx, "assetCacheFill")
			defer span.End()
			span.SetAttributes(attribute.String("key", key))

			entry, err := fill(ctx, key)
			if err != nil {
				return fmt.Errorf("error in fill: %w", err)
			}

			// serialize as JSON - optimize later
			jsonBytes, err := json.Marshal(entry)
			if err != nil {
				return fmt.Errorf("error in json.Marshal for entry: %w", err)
			}

			internal.Metric_AssetCacheFills.Inc()

			// Only successful build output is immutable, anything else is good for this lookup only
			expire := time.Now()
			if entry.Status == http.StatusOK {
				expire = expire.Add(ac.ttl)
			}
			return dest.SetBytes(jsonBytes, expire)
		},
	))
	return ac
}

// Cacheable reports whether a request may be answered from the asset cache.
func Cacheable(r *http.Request) bool {
	return r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, StaticPrefix) && r.Header.Get("Range") == ""
}

func (ac *AssetCache) Get(ctx context.Context, requestURI string) (*Entry, error) {
	internal.Metric_AssetCacheLookups.Inc()
	var b []byte
	err := ac.group.Get(ctx, requestURI, groupcache.AllocatingByteSliceSink(&b))
	if err != nil {
		return nil, fmt.Errorf("error getting from groupcache: %w", err)
	}

	var entry Entry
	err = json.Unmarshal(b, &entry)
	if err != nil {
		return nil, fmt.Errorf("error in json.Unmarshal: %w", errors.Join(ErrDecoding, err))
	}

	return &entry, nil
}

func (ac *AssetCache) Name() string {
	return ac.group.Name()
}

// Close removes the group from the process wide registry
func (ac *AssetCache) Close() {
	groupcache.DeregisterGroup(ac.group.Name())
}
