package quota

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewUserGracePeriodAllowsUpload(t *testing.T) {
	cfg := DefaultConfig()
	m := NewManager(cfg)
	now := time.Now()

	result := m.CanUpload("user1", 50*1024*1024, now)
	assert.True(t, result.Allowed)
	assert.Nil(t, result.Denial)
}

func TestQuotaEnforcementWithoutContribution(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GracePeriod = 0
	m := NewManager(cfg)
	now := time.Now()

	m.CanUpload("user1", 0, now) // lazily create
	result := m.CanUpload("user1", 100*1024*1024, now.Add(time.Second))
	assert.False(t, result.Allowed)
	require.NotNil(t, result.Denial)

	m.RecordShardHosted("user1", 200*1024*1024, now)

	result = m.CanUpload("user1", 100*1024*1024, now.Add(2*time.Second))
	assert.True(t, result.Allowed)
}

func TestContributionRatio(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ContributionRatio = 1.5
	cfg.GracePeriod = 0
	m := NewManager(cfg)
	now := time.Now()

	m.RecordShardHosted("user1", 150*1024*1024, now)

	result := m.CanUpload("user1", 100*1024*1024, now.Add(time.Second))
	assert.True(t, result.Allowed, "150MB / 1.5 = 100MB should be allowed")

	result = m.CanUpload("user1", 101*1024*1024, now.Add(2*time.Second))
	assert.False(t, result.Allowed, "101MB > 100MB allowed should be denied")
}

func TestRecordDeletionSaturatesAtZero(t *testing.T) {
	m := NewManager(DefaultConfig())
	now := time.Now()

	m.RecordUpload("user1", 100, now)
	m.RecordDeletion("user1", 1000) // more than used

	summary := m.Summary("user1", now)
	assert.Equal(t, int64(0), summary.BytesUsed)
	assert.Equal(t, int64(0), summary.FilesCount)
}

func TestRecordShardRemovedSaturatesAtZero(t *testing.T) {
	m := NewManager(DefaultConfig())
	now := time.Now()

	m.RecordShardHosted("user1", 100, now)
	m.RecordShardRemoved("user1", 1000)

	summary := m.Summary("user1", now)
	assert.Equal(t, int64(0), summary.BytesContributed)
	assert.Equal(t, int64(0), summary.ShardsHosted)
}

func TestRecordDeletionOnUnknownUserIsNoop(t *testing.T) {
	m := NewManager(DefaultConfig())
	assert.NotPanics(t, func() {
		m.RecordDeletion("ghost", 10)
	})
}

func TestNetworkStatsAggregates(t *testing.T) {
	m := NewManager(DefaultConfig())
	now := time.Now()

	m.RecordUpload("user1", 100, now)
	m.RecordShardHosted("user1", 50, now)
	m.RecordUpload("user2", 200, now.Add(-25*time.Hour)) // inactive

	stats := m.NetworkStats(now)
	assert.Equal(t, int64(300), stats.TotalStorageUsed)
	assert.Equal(t, int64(50), stats.TotalStorageContributed)
	assert.Equal(t, int64(2), stats.TotalUsers)
	assert.Equal(t, int64(1), stats.ActiveUsers)
}

func TestSummaryReflectsGracePeriodTransition(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GracePeriod = time.Hour
	m := NewManager(cfg)
	now := time.Now()

	s1 := m.Summary("user1", now)
	assert.True(t, s1.InGracePeriod)

	s2 := m.Summary("user1", now.Add(2*time.Hour))
	assert.False(t, s2.InGracePeriod)
}
