// ABOUTME: Tests for chain usage metering persistence
// ABOUTME: Covers aggregation, error counting, and time window bounds

package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChainUsage_SaveAndAggregate(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")

	records := []struct {
		method  string
		success bool
	}{
		{"eth_blockNumber", true},
		{"eth_blockNumber", true},
		{"eth_getBalance", true},
		{"eth_call", false},
	}
	for _, r := range records {
		require.NoError(t, s.SaveChainUsage(ctx, &ChainUsage{
			OrgID:     org.ID,
			Method:    r.method,
			Success:   r.success,
			LatencyMS: 42,
		}))
	}

	stats, err := s.GetChainUsageStats(ctx, org.ID, UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(4), stats.RequestCount)
	assert.Equal(t, int64(1), stats.ErrorCount)
	assert.Equal(t, int64(2), stats.ByMethod["eth_blockNumber"])
	assert.Equal(t, int64(1), stats.ByMethod["eth_getBalance"])
	assert.Equal(t, int64(1), stats.ByMethod["eth_call"])
}

func TestChainUsage_OrgScoped(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	orgA := createTestOrg(t, s, "org-a")
	orgB := createTestOrg(t, s, "org-b")

	require.NoError(t, s.SaveChainUsage(ctx, &ChainUsage{
		OrgID: orgA.ID, Method: "eth_blockNumber", Success: true,
	}))

	stats, err := s.GetChainUsageStats(ctx, orgB.ID, UsageFilter{})
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.RequestCount)
	assert.Empty(t, stats.ByMethod)
}

func TestChainUsage_TimeWindow(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	org := createTestOrg(t, s, "acme")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		require.NoError(t, s.SaveChainUsage(ctx, &ChainUsage{
			OrgID:     org.ID,
			Method:    "eth_getLogs",
			Success:   true,
			CreatedAt: base.Add(time.Duration(i) * time.Hour),
		}))
	}

	since := base.Add(30 * time.Minute)
	until := base.Add(90 * time.Minute)
	stats, err := s.GetChainUsageStats(ctx, org.ID, UsageFilter{Since: &since, Until: &until})
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.RequestCount)
	assert.Equal(t, int64(1), stats.ByMethod["eth_getLogs"])
}
