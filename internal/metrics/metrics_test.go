package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordTierNormalizesOutcome(t *testing.T) {
	before := testutil.ToFloat64(tierOutcomes.WithLabelValues("lrclib", "unknown"))
	RecordTier("lrclib", "exploded")
	assert.Equal(t, before+1, testutil.ToFloat64(tierOutcomes.WithLabelValues("lrclib", "unknown")))

	before = testutil.ToFloat64(tierOutcomes.WithLabelValues("lrclib", "hit"))
	RecordTier("lrclib", " HIT ")
	assert.Equal(t, before+1, testutil.ToFloat64(tierOutcomes.WithLabelValues("lrclib", "hit")))
}

func TestBreakerGauge(t *testing.T) {
	SetBreakerOpen("search", true)
	assert.Equal(t, 1.0, testutil.ToFloat64(breakerOpen.WithLabelValues("search")))
	SetBreakerOpen("search", false)
	assert.Equal(t, 0.0, testutil.ToFloat64(breakerOpen.WithLabelValues("search")))
}
