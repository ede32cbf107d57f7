// Package fragstore implements the local fragment store: a hosting
// peer's persisted table of ciphertext shards it has agreed to store,
// with deterministic on-disk paths, a real proof-of-storage
// verification path, and an atomically-persisted JSON index (write-temp
// then rename).
package fragstore

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"cloudp2p/internal/blake3hash"
	"cloudp2p/internal/errs"
)

// StoredFragment is one hosted shard's bookkeeping record.
type StoredFragment struct {
	FragmentID   string    `json:"fragment_id"`
	OwnerID      string    `json:"owner_id"`
	SizeBytes    int       `json:"size_bytes"`
	ContentHash  string    `json:"content_hash"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
	LocalPath    string    `json:"local_path"`
	AccessCount  int       `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
}

// Stats summarizes the store's contents.
type Stats struct {
	FragmentCount       int
	UsedBytes           int
	ExpiringWithin7Days int
	UniqueOwners        int
}

// Manager is a stateful, mutex-guarded store of hosted fragments,
// backed by a deterministic path-per-fragment layout and a single JSON
// index file persisted atomically on every mutation.
type Manager struct {
	mu        sync.Mutex
	baseDir   string
	maxBytes  int
	index     map[string]*StoredFragment
	usedBytes int
	indexPath string
}

// NewManager constructs a Manager rooted at baseDir with a maxBytes
// admission ceiling. Call Initialize before use.
func NewManager(baseDir string, maxBytes int) *Manager {
	return &Manager{
		baseDir:   baseDir,
		maxBytes:  maxBytes,
		index:     make(map[string]*StoredFragment),
		indexPath: filepath.Join(baseDir, "index.json"),
	}
}

// Initialize ensures the storage directory exists, loads index.json if
// present, and recomputes used_bytes from the loaded index.
func (m *Manager) Initialize() error {
	if err := os.MkdirAll(m.baseDir, 0o700); err != nil {
		return errs.Wrap(errs.CodeInternal, "create storage directory", err)
	}

	data, err := os.ReadFile(m.indexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.Wrap(errs.CodeInternal, "read fragment index", err)
	}

	var loaded map[string]*StoredFragment
	if err := json.Unmarshal(data, &loaded); err != nil {
		return errs.Wrap(errs.CodeInternal, "parse fragment index", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = loaded
	m.usedBytes = 0
	for _, f := range m.index {
		m.usedBytes += f.SizeBytes
	}
	return nil
}

func (m *Manager) fragmentPath(fragmentID string) string {
	prefix := fragmentID
	if len(prefix) > 2 {
		prefix = prefix[:2]
	}
	return filepath.Join(m.baseDir, "fragments", prefix, fragmentID)
}

// persistIndexLocked writes the index to disk atomically. Caller must
// hold m.mu.
func (m *Manager) persistIndexLocked() error {
	data, err := json.MarshalIndent(m.index, "", "  ")
	if err != nil {
		return errs.Wrap(errs.CodeInternal, "marshal fragment index", err)
	}
	tmp := m.indexPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.Wrap(errs.CodeInternal, "write fragment index temp file", err)
	}
	if err := os.Rename(tmp, m.indexPath); err != nil {
		return errs.Wrap(errs.CodeInternal, "rename fragment index temp file", err)
	}
	return nil
}

// StoreFragment admits and persists data under fragmentID. Re-storing
// the same fragmentID overwrites the prior record and file
// (idempotent).
func (m *Manager) StoreFragment(fragmentID, ownerID string, data []byte, expiresAt time.Time, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing := m.index[fragmentID]
	projected := m.usedBytes + len(data)
	if existing != nil {
		projected -= existing.SizeBytes
	}
	if projected > m.maxBytes {
		return errs.ErrInsufficientSpace
	}

	path := m.fragmentPath(fragmentID)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return errs.Wrap(errs.CodeInternal, "create fragment directory", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return errs.Wrap(errs.CodeInternal, "write fragment file", err)
	}

	if existing != nil {
		m.usedBytes -= existing.SizeBytes
	}
	rec := &StoredFragment{
		FragmentID:  fragmentID,
		OwnerID:     ownerID,
		SizeBytes:   len(data),
		ContentHash: blake3hash.Hash(data).Base58(),
		CreatedAt:   now,
		ExpiresAt:   expiresAt,
		LocalPath:   path,
	}
	m.index[fragmentID] = rec
	m.usedBytes += len(data)

	return m.persistIndexLocked()
}

// RetrieveFragment reads fragmentID's bytes, re-verifying content hash
// and bumping access bookkeeping. Expired fragments are deleted and
// reported as expired, distinct from a fragment that was never present;
// a fragment whose bytes fail the hash check is deleted as well.
func (m *Manager) RetrieveFragment(fragmentID string, now time.Time) ([]byte, error) {
	m.mu.Lock()
	rec, ok := m.index[fragmentID]
	if !ok {
		m.mu.Unlock()
		return nil, errs.ErrNotFound
	}
	if now.After(rec.ExpiresAt) {
		m.deleteLocked(fragmentID)
		_ = m.persistIndexLocked()
		m.mu.Unlock()
		return nil, errs.ErrExpired
	}
	path := rec.LocalPath
	m.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "read fragment file", err)
	}
	if blake3hash.Hash(data).Base58() != rec.ContentHash {
		m.mu.Lock()
		m.deleteLocked(fragmentID)
		_ = m.persistIndexLocked()
		m.mu.Unlock()
		return nil, errs.New(errs.CodeInternal, "fragment "+fragmentID+" failed integrity check")
	}

	m.mu.Lock()
	rec.AccessCount++
	rec.LastAccessed = now
	err = m.persistIndexLocked()
	m.mu.Unlock()
	if err != nil {
		return nil, err
	}

	return data, nil
}

func (m *Manager) deleteLocked(fragmentID string) {
	rec, ok := m.index[fragmentID]
	if !ok {
		return
	}
	os.Remove(rec.LocalPath)
	m.usedBytes -= rec.SizeBytes
	delete(m.index, fragmentID)
}

// DeleteFragment removes fragmentID's file and index entry.
func (m *Manager) DeleteFragment(fragmentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.index[fragmentID]; !ok {
		return errs.ErrNotFound
	}
	m.deleteLocked(fragmentID)
	return m.persistIndexLocked()
}

// ExtendFragment sets a new expiration for one fragment.
func (m *Manager) ExtendFragment(fragmentID string, newExpiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.index[fragmentID]
	if !ok {
		return errs.ErrNotFound
	}
	rec.ExpiresAt = newExpiresAt
	return m.persistIndexLocked()
}

// ExtendOwnerFragments bulk-renews every fragment owned by ownerID by
// days, driven by that owner's heartbeat.
func (m *Manager) ExtendOwnerFragments(ownerID string, days int, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	extended := 0
	for _, rec := range m.index {
		if rec.OwnerID != ownerID {
			continue
		}
		rec.ExpiresAt = rec.ExpiresAt.Add(time.Duration(days) * 24 * time.Hour)
		extended++
	}
	if extended == 0 {
		return 0, nil
	}
	return extended, m.persistIndexLocked()
}

// CleanupExpired removes every fragment whose ExpiresAt has passed.
func (m *Manager) CleanupExpired(now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for id, rec := range m.index {
		if now.After(rec.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.deleteLocked(id)
	}
	if len(expired) == 0 {
		return 0, nil
	}
	return len(expired), m.persistIndexLocked()
}

// ProveStorage returns ContentHash(stored_bytes || challenge), the
// proof-of-storage response a hosting peer gives for a
// StorageChallenge.
func (m *Manager) ProveStorage(fragmentID string, challenge []byte) (blake3hash.ContentHash, error) {
	m.mu.Lock()
	rec, ok := m.index[fragmentID]
	m.mu.Unlock()
	if !ok {
		return blake3hash.ContentHash{}, errs.ErrNotFound
	}

	data, err := os.ReadFile(rec.LocalPath)
	if err != nil {
		return blake3hash.ContentHash{}, errs.Wrap(errs.CodeInternal, "read fragment for proof", err)
	}
	return proveFromBytes(data, challenge), nil
}

func proveFromBytes(data, challenge []byte) blake3hash.ContentHash {
	buf := make([]byte, 0, len(data)+len(challenge))
	buf = append(buf, data...)
	buf = append(buf, challenge...)
	return blake3hash.Hash(buf)
}

// VerifyProof is the owner-side check: given the plaintext shard bytes
// the owner produced at prepare_upload time, and the challenge it
// issued, compute the expected proof and compare against what the
// hosting peer returned. A mismatch is conclusive evidence of data loss
// or corruption at the hosting peer.
func VerifyProof(ownedShardBytes, challenge []byte, proof blake3hash.ContentHash) bool {
	return proveFromBytes(ownedShardBytes, challenge) == proof
}

// GetStats returns aggregate store statistics.
func (m *Manager) GetStats(now time.Time) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	owners := make(map[string]struct{})
	stats := Stats{FragmentCount: len(m.index), UsedBytes: m.usedBytes}
	weekFromNow := now.Add(7 * 24 * time.Hour)
	for _, rec := range m.index {
		owners[rec.OwnerID] = struct{}{}
		if rec.ExpiresAt.Before(weekFromNow) {
			stats.ExpiringWithin7Days++
		}
	}
	stats.UniqueOwners = len(owners)
	return stats
}

// Capacity returns the admission ceiling this store was configured
// with.
func (m *Manager) Capacity() int {
	return m.maxBytes
}

// Get returns a copy of a fragment's bookkeeping record without reading
// its file contents, used by protocol handlers that need metadata only.
func (m *Manager) Get(fragmentID string) (StoredFragment, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.index[fragmentID]
	if !ok {
		return StoredFragment{}, false
	}
	return *rec, true
}
