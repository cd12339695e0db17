// Package metrics defines the Prometheus collectors exposed on the
// health/metrics HTTP surface.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds every collector the ingestion and backfill paths update.
type Metrics struct {
	MessagesIngestedTotal *prometheus.CounterVec
	RateLimitHitsTotal    *prometheus.CounterVec
	BackfillErrorsTotal   *prometheus.CounterVec
	BackfillChannelsDone  prometheus.Gauge
	GatewayReconnects     prometheus.Counter
	StaleClaimsRecovered  prometheus.Counter
}

// New creates and registers every collector against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		MessagesIngestedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "discord_indexer",
			Name:      "messages_ingested_total",
			Help:      "Total live gateway messages accepted by the store (duplicates included), by source; backfill inserts are not counted.",
		}, []string{"source"}),

		RateLimitHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "discord_indexer",
			Name:      "rate_limit_hits_total",
			Help:      "Total 429 responses observed, by route.",
		}, []string{"route"}),

		BackfillErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "discord_indexer",
			Name:      "backfill_errors_total",
			Help:      "Total backfill page fetches recorded as errors (transport failure, non-2xx, unreadable or non-array body), by channel.",
		}, []string{"channel_id"}),

		BackfillChannelsDone: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "discord_indexer",
			Name:      "backfill_channels_done",
			Help:      "Number of channels whose backfill reached done=true since this process started.",
		}),

		GatewayReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "discord_indexer",
			Name:      "gateway_reconnects_total",
			Help:      "Total gateway session restarts.",
		}),

		StaleClaimsRecovered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "discord_indexer",
			Name:      "stale_claims_recovered_total",
			Help:      "Total backfill claims recovered by the stale-claim sweeper.",
		}),
	}

	reg.MustRegister(
		m.MessagesIngestedTotal,
		m.RateLimitHitsTotal,
		m.BackfillErrorsTotal,
		m.BackfillChannelsDone,
		m.GatewayReconnects,
		m.StaleClaimsRecovered,
	)

	return m
}
