package internaldefs

import (
	"strings"
	"testing"

	otpbroker "github.com/MrEthical07/otpbroker"
	"github.com/MrEthical07/otpbroker/internal/limiters"
	internalmetrics "github.com/MrEthical07/otpbroker/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEveryMetricHasOneDefinition(t *testing.T) {
	seen := map[otpbroker.MetricID]string{}
	for _, d := range CounterDefs {
		assert.NotContains(t, seen, d.ID, d.Name)
		assert.True(t, strings.HasPrefix(d.Name, "otpbroker_") && strings.HasSuffix(d.Name, "_total"), d.Name)
		seen[d.ID] = d.Name
	}
	for _, d := range RateLimitDefs {
		assert.NotContains(t, seen, d.ID, d.Purpose)
		seen[d.ID] = RateLimitedName + "{" + d.Purpose + "}"
	}
	for _, d := range HistogramDefs {
		assert.NotContains(t, seen, d.ID, d.Name)
		seen[d.ID] = d.Name
	}
	assert.Len(t, seen, int(internalmetrics.MetricIDCount))
}

func TestRateLimitDefsCoverEveryPurpose(t *testing.T) {
	require.Len(t, RateLimitDefs, len(limiters.Purposes))
	for i, p := range limiters.Purposes {
		assert.Equal(t, string(p), RateLimitDefs[i].Purpose)
	}

	id, ok := otpbroker.RateLimitedMetric("signin-exchange")
	require.True(t, ok)
	assert.Equal(t, otpbroker.MetricRateLimitedSignInExchange, id)

	_, ok = otpbroker.RateLimitedMetric("signin-token")
	assert.False(t, ok)
}

func TestBucketLayout(t *testing.T) {
	assert.Len(t, UpperBounds, internalmetrics.HistBucketCount-1)
	assert.Len(t, BucketLabels, internalmetrics.HistBucketCount)
	assert.Equal(t, "+Inf", BucketLabels[len(BucketLabels)-1])
	assert.Equal(t, [8]uint64{1, 3, 6, 10, 15, 21, 28, 36}, CumulativeBuckets(NormalizeBuckets([]uint64{1, 2, 3, 4, 5, 6, 7, 8})))
	assert.Equal(t, [8]uint64{2, 0, 0, 0, 0, 0, 0, 0}, NormalizeBuckets([]uint64{2}))
}
