package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tierOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lyricsync",
		Name:      "resolve_tier_total",
		Help:      "Resolution attempts per tier and outcome",
	}, []string{"tier", "outcome"})

	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lyricsync",
		Name:      "cache_lookups_total",
		Help:      "Lyric cache lookups by result",
	}, []string{"result"})

	cacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lyricsync",
		Name:      "cache_evictions_total",
		Help:      "Lyric cache records removed by expiry",
	})

	tokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lyricsync",
		Name:      "credential_refresh_total",
		Help:      "OAuth token refresh requests by result",
	}, []string{"result"})

	pollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lyricsync",
		Name:      "poll_errors_total",
		Help:      "Failed player status polls",
	})

	snapshotsEmitted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "lyricsync",
		Name:      "snapshots_emitted_total",
		Help:      "Snapshots pushed to consumers",
	})

	breakerOpen = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lyricsync",
		Name:      "circuit_open",
		Help:      "1 when the tier's circuit breaker is open",
	}, []string{"tier"})
)

// RecordTier counts one tier attempt. Outcome is one of hit, miss, error, skipped, ambiguous.
func RecordTier(tier, outcome string) {
	tierOutcomes.WithLabelValues(tier, normalizeOutcome(outcome)).Inc()
}

func RecordCacheLookup(hit bool) {
	if hit {
		cacheLookups.WithLabelValues("hit").Inc()
		return
	}
	cacheLookups.WithLabelValues("miss").Inc()
}

func RecordEvictions(n int) {
	cacheEvictions.Add(float64(n))
}

func RecordRefresh(ok bool) {
	if ok {
		tokenRefreshes.WithLabelValues("success").Inc()
		return
	}
	tokenRefreshes.WithLabelValues("failure").Inc()
}

func RecordPollError() { pollErrors.Inc() }

func RecordSnapshot() { snapshotsEmitted.Inc() }

func SetBreakerOpen(tier string, open bool) {
	v := 0.0
	if open {
		v = 1
	}
	breakerOpen.WithLabelValues(tier).Set(v)
}

func normalizeOutcome(outcome string) string {
	switch o := strings.ToLower(strings.TrimSpace(outcome)); o {
	case "hit", "miss", "error", "skipped", "ambiguous":
		return o
	default:
		return "unknown"
	}
}
