// Package quota is the fairness admission oracle: it decides whether a
// user may upload more data based on how much they have contributed to
// the network, and tracks per-user and network-wide storage accounting.
package quota

import (
	"fmt"
	"sync"
	"time"
)

// Config is the fairness policy's tunable parameters.
type Config struct {
	MinContribution   int64
	MaxUsage          int64
	ContributionRatio float64
	GracePeriod       time.Duration
}

// DefaultConfig is the network's default fairness policy: 100MB
// minimum contribution, 100GB max usage, 1:1 ratio, 7-day grace period.
func DefaultConfig() Config {
	return Config{
		MinContribution:   100 * 1024 * 1024,
		MaxUsage:          100 * 1024 * 1024 * 1024,
		ContributionRatio: 1.0,
		GracePeriod:       7 * 24 * time.Hour,
	}
}

// UserQuota is one user's storage accounting.
type UserQuota struct {
	UserID           string
	BytesUsed        int64
	BytesContributed int64
	FilesCount       int64
	ShardsHosted     int64
	JoinedAt         time.Time
	LastActive       time.Time
	InGracePeriod    bool
}

func newUserQuota(userID string, now time.Time) *UserQuota {
	return &UserQuota{
		UserID:        userID,
		JoinedAt:      now,
		LastActive:    now,
		InGracePeriod: true,
	}
}

func (q *UserQuota) checkGracePeriod(cfg Config, now time.Time) {
	if q.InGracePeriod && now.Sub(q.JoinedAt) > cfg.GracePeriod {
		q.InGracePeriod = false
	}
}

// availableStorage returns the remaining bytes a user may upload,
// saturating at 0.
func (q *UserQuota) availableStorage(cfg Config) int64 {
	if q.InGracePeriod {
		return cfg.MinContribution
	}
	allowed := int64(float64(q.BytesContributed) / cfg.ContributionRatio)
	if allowed > cfg.MaxUsage {
		allowed = cfg.MaxUsage
	}
	return saturatingSub(allowed, q.BytesUsed)
}

func (q *UserQuota) canUpload(size int64, cfg Config) bool {
	return q.availableStorage(cfg) >= size
}

// UsagePercentage returns the user's quota usage as 0-100.
func (q *UserQuota) UsagePercentage(cfg Config) float64 {
	if q.BytesContributed == 0 && !q.InGracePeriod {
		return 100.0
	}
	var maxAllowed int64
	if q.InGracePeriod {
		maxAllowed = cfg.MinContribution
	} else {
		maxAllowed = int64(float64(q.BytesContributed) / cfg.ContributionRatio)
	}
	if maxAllowed == 0 {
		return 100.0
	}
	pct := float64(q.BytesUsed) / float64(maxAllowed) * 100.0
	if pct > 100.0 {
		pct = 100.0
	}
	return pct
}

func saturatingSub(a, b int64) int64 {
	if b > a {
		return 0
	}
	return a - b
}

// DenialReason is the structured reason returned when an upload is
// denied, carrying enough information for a client to show how much
// more contribution is needed.
type DenialReason struct {
	CurrentContribution int64
	NeededContribution  int64
	Message             string
}

// CheckResult is the outcome of CanUpload.
type CheckResult struct {
	Allowed bool
	Denial  *DenialReason
}

// Manager is the stateful quota admission oracle, keyed by user ID.
type Manager struct {
	mu     sync.Mutex
	cfg    Config
	quotas map[string]*UserQuota
	store  *Store
}

// NewManager returns an empty, in-memory-only manager under cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{cfg: cfg, quotas: make(map[string]*UserQuota)}
}

// NewManagerWithStore returns a manager backed by store, preloading
// every previously persisted user quota so a restarted node does not
// forget contribution history.
func NewManagerWithStore(cfg Config, store *Store) (*Manager, error) {
	quotas, err := store.LoadAll()
	if err != nil {
		return nil, fmt.Errorf("load persisted quotas: %w", err)
	}
	return &Manager{cfg: cfg, quotas: quotas, store: store}, nil
}

// persistLocked writes q's current state to the durable store, if one
// is attached. Failures are swallowed here: quota state always has an
// authoritative in-memory copy, and a transient disk error should not
// fail the caller's upload/hosting decision.
func (m *Manager) persistLocked(q *UserQuota) {
	if m.store == nil {
		return
	}
	_ = m.store.Upsert(q)
}

func (m *Manager) getOrCreateLocked(userID string, now time.Time) *UserQuota {
	q, ok := m.quotas[userID]
	if !ok {
		q = newUserQuota(userID, now)
		m.quotas[userID] = q
	}
	return q
}

func (m *Manager) neededContributionLocked(q *UserQuota, additional int64) int64 {
	totalNeeded := q.BytesUsed + additional
	contributionNeeded := int64(float64(totalNeeded) * m.cfg.ContributionRatio)
	return saturatingSub(contributionNeeded, q.BytesContributed)
}

// CanUpload lazily creates the user's quota, refreshes grace-period
// status, and decides whether size bytes may be uploaded.
func (m *Manager) CanUpload(userID string, size int64, now time.Time) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.getOrCreateLocked(userID, now)
	q.checkGracePeriod(m.cfg, now)

	if q.canUpload(size, m.cfg) {
		return CheckResult{Allowed: true}
	}

	needed := m.neededContributionLocked(q, size)
	return CheckResult{
		Allowed: false,
		Denial: &DenialReason{
			CurrentContribution: q.BytesContributed,
			NeededContribution:  needed,
			Message: fmt.Sprintf(
				"uploading %d bytes requires contributing %d more bytes to the network",
				size, needed),
		},
	}
}

// RecordUpload bumps bytes_used/files_count and touches last_active.
func (m *Manager) RecordUpload(userID string, size int64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.getOrCreateLocked(userID, now)
	q.BytesUsed += size
	q.FilesCount++
	q.LastActive = now
	m.persistLocked(q)
}

// RecordDeletion decrements bytes_used/files_count with saturating
// subtraction. No-op if the user has no quota record.
func (m *Manager) RecordDeletion(userID string, size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[userID]
	if !ok {
		return
	}
	q.BytesUsed = saturatingSub(q.BytesUsed, size)
	q.FilesCount = saturatingSub(q.FilesCount, 1)
	m.persistLocked(q)
}

// RecordShardHosted bumps bytes_contributed/shards_hosted, lazily
// creating the quota.
func (m *Manager) RecordShardHosted(userID string, shardSize int64, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.getOrCreateLocked(userID, now)
	q.BytesContributed += shardSize
	q.ShardsHosted++
	q.LastActive = now
	m.persistLocked(q)
}

// RecordShardRemoved decrements bytes_contributed/shards_hosted with
// saturating subtraction. No-op if the user has no quota record.
func (m *Manager) RecordShardRemoved(userID string, shardSize int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotas[userID]
	if !ok {
		return
	}
	q.BytesContributed = saturatingSub(q.BytesContributed, shardSize)
	q.ShardsHosted = saturatingSub(q.ShardsHosted, 1)
	m.persistLocked(q)
}

// NetworkStats is network-wide aggregate quota accounting.
type NetworkStats struct {
	TotalStorageUsed        int64
	TotalStorageContributed int64
	TotalUsers              int64
	ActiveUsers             int64
	AverageContribution     int64
}

// NetworkStats aggregates totals across every known user, and counts
// users active within the last 24 hours.
func (m *Manager) NetworkStats(now time.Time) NetworkStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	var stats NetworkStats
	for _, q := range m.quotas {
		stats.TotalStorageUsed += q.BytesUsed
		stats.TotalStorageContributed += q.BytesContributed
		stats.TotalUsers++
		if now.Sub(q.LastActive) < 24*time.Hour {
			stats.ActiveUsers++
		}
	}
	if stats.TotalUsers > 0 {
		stats.AverageContribution = stats.TotalStorageContributed / stats.TotalUsers
	}
	return stats
}

// Summary is a single user's quota summary, suitable for a UI.
type Summary struct {
	BytesUsed         int64
	BytesContributed  int64
	BytesAvailable    int64
	UsagePercentage   float64
	FilesCount        int64
	ShardsHosted      int64
	InGracePeriod     bool
	ContributionRatio float64
}

// Summary returns userID's quota summary, refreshing grace-period
// status first.
func (m *Manager) Summary(userID string, now time.Time) Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	q := m.getOrCreateLocked(userID, now)
	q.checkGracePeriod(m.cfg, now)

	return Summary{
		BytesUsed:         q.BytesUsed,
		BytesContributed:  q.BytesContributed,
		BytesAvailable:    q.availableStorage(m.cfg),
		UsagePercentage:   q.UsagePercentage(m.cfg),
		FilesCount:        q.FilesCount,
		ShardsHosted:      q.ShardsHosted,
		InGracePeriod:     q.InGracePeriod,
		ContributionRatio: m.cfg.ContributionRatio,
	}
}
