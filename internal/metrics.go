package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Metric_OpenRequests = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "open_requests",
		Help: "Requests currently being served by the echo app",
	})
	Metric_Renders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hosted_renders",
		Help: "Requests rendered by the hosted framework, by reason (not_found, rule, direct)",
	}, []string{"reason"})
	Metric_RenderErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hosted_render_errors",
		Help: "Renders that failed before a response was produced",
	})
	Metric_Upgrades = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hosted_upgrades",
		Help: "Upgrade handshakes handed to the hosted framework, by outcome",
	}, []string{"outcome"})
	Metric_OpenUpgrades = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hosted_open_upgrades",
		Help: "Upgraded connections currently proxied to the hosted framework",
	})
	Metric_AssetCacheFills = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_cache_fills",
		Help: "Asset cache misses that rendered through the hosted framework",
	})
	Metric_AssetCacheLookups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_cache_lookups",
		Help: "Total asset cache lookups, hits and fills",
	})
)
