package fragstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudp2p/internal/blake3hash"
	"cloudp2p/internal/errs"
)

func newTestManager(t *testing.T, maxBytes int) *Manager {
	t.Helper()
	dir := t.TempDir()
	m := NewManager(dir, maxBytes)
	require.NoError(t, m.Initialize())
	return m
}

func TestStoreAndRetrieveFragment(t *testing.T) {
	m := newTestManager(t, 1<<20)
	now := time.Now()

	data := []byte("fragment payload")
	require.NoError(t, m.StoreFragment("frag-1", "owner-1", data, now.Add(time.Hour), now))

	out, err := m.RetrieveFragment("frag-1", now)
	require.NoError(t, err)
	assert.Equal(t, data, out)

	rec, ok := m.Get("frag-1")
	require.True(t, ok)
	assert.Equal(t, 1, rec.AccessCount)
}

func TestStoreFragmentRejectsOverQuota(t *testing.T) {
	m := newTestManager(t, 10)
	now := time.Now()

	err := m.StoreFragment("frag-1", "owner-1", make([]byte, 100), now.Add(time.Hour), now)
	assert.Error(t, err)
}

func TestStoreFragmentIsIdempotentOnOverwrite(t *testing.T) {
	m := newTestManager(t, 1<<20)
	now := time.Now()

	require.NoError(t, m.StoreFragment("frag-1", "owner-1", []byte("v1"), now.Add(time.Hour), now))
	require.NoError(t, m.StoreFragment("frag-1", "owner-1", []byte("v2-longer"), now.Add(time.Hour), now))

	out, err := m.RetrieveFragment("frag-1", now)
	require.NoError(t, err)
	assert.Equal(t, []byte("v2-longer"), out)
}

func TestRetrieveExpiredFragmentFails(t *testing.T) {
	m := newTestManager(t, 1<<20)
	now := time.Now()

	require.NoError(t, m.StoreFragment("frag-1", "owner-1", []byte("data"), now.Add(-time.Minute), now))

	_, err := m.RetrieveFragment("frag-1", now)
	require.Error(t, err)
	assert.Equal(t, errs.CodeExpired, errs.GetCode(err))

	_, ok := m.Get("frag-1")
	assert.False(t, ok, "expired fragment should be removed from index")
}

func TestDeleteFragment(t *testing.T) {
	m := newTestManager(t, 1<<20)
	now := time.Now()
	require.NoError(t, m.StoreFragment("frag-1", "owner-1", []byte("data"), now.Add(time.Hour), now))

	require.NoError(t, m.DeleteFragment("frag-1"))
	_, ok := m.Get("frag-1")
	assert.False(t, ok)

	assert.Error(t, m.DeleteFragment("frag-1"))
}

func TestExtendOwnerFragments(t *testing.T) {
	m := newTestManager(t, 1<<20)
	now := time.Now()
	require.NoError(t, m.StoreFragment("frag-1", "owner-1", []byte("data"), now.Add(time.Hour), now))
	require.NoError(t, m.StoreFragment("frag-2", "owner-1", []byte("data2"), now.Add(time.Hour), now))
	require.NoError(t, m.StoreFragment("frag-3", "owner-2", []byte("data3"), now.Add(time.Hour), now))

	n, err := m.ExtendOwnerFragments("owner-1", 90, now)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rec, _ := m.Get("frag-1")
	assert.True(t, rec.ExpiresAt.After(now.Add(89*24*time.Hour)))

	rec3, _ := m.Get("frag-3")
	assert.True(t, rec3.ExpiresAt.Before(now.Add(2*time.Hour)))
}

func TestCleanupExpired(t *testing.T) {
	m := newTestManager(t, 1<<20)
	now := time.Now()
	require.NoError(t, m.StoreFragment("frag-old", "owner-1", []byte("a"), now.Add(-time.Minute), now))
	require.NoError(t, m.StoreFragment("frag-new", "owner-1", []byte("b"), now.Add(time.Hour), now))

	n, err := m.CleanupExpired(now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok := m.Get("frag-old")
	assert.False(t, ok)
	_, ok = m.Get("frag-new")
	assert.True(t, ok)
}

func TestProveStorageAndVerify(t *testing.T) {
	m := newTestManager(t, 1<<20)
	now := time.Now()
	data := []byte("shard bytes for proof")
	require.NoError(t, m.StoreFragment("frag-1", "owner-1", data, now.Add(time.Hour), now))

	challenge := []byte("random-challenge")
	proof, err := m.ProveStorage("frag-1", challenge)
	require.NoError(t, err)

	assert.True(t, VerifyProof(data, challenge, proof))
	assert.False(t, VerifyProof([]byte("wrong bytes"), challenge, proof))
}

func TestIndexPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	m1 := NewManager(dir, 1<<20)
	require.NoError(t, m1.Initialize())
	require.NoError(t, m1.StoreFragment("frag-1", "owner-1", []byte("data"), now.Add(time.Hour), now))

	m2 := NewManager(dir, 1<<20)
	require.NoError(t, m2.Initialize())

	rec, ok := m2.Get("frag-1")
	require.True(t, ok)
	assert.Equal(t, blake3hash.Hash([]byte("data")).Base58(), rec.ContentHash)

	assert.FileExists(t, filepath.Join(dir, "index.json"))
}

func TestGetStats(t *testing.T) {
	m := newTestManager(t, 1<<20)
	now := time.Now()
	require.NoError(t, m.StoreFragment("frag-1", "owner-1", []byte("aaaa"), now.Add(24*time.Hour), now))
	require.NoError(t, m.StoreFragment("frag-2", "owner-2", []byte("bbbb"), now.Add(30*24*time.Hour), now))

	stats := m.GetStats(now)
	assert.Equal(t, 2, stats.FragmentCount)
	assert.Equal(t, 8, stats.UsedBytes)
	assert.Equal(t, 2, stats.UniqueOwners)
	assert.Equal(t, 1, stats.ExpiringWithin7Days)
}
