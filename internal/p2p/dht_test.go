package p2p

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryDirectoryAnnounceAndProviders(t *testing.T) {
	d := NewMemoryDirectory()
	d.Announce("shard-1", []string{"peerA", "peerB"})
	d.Announce("shard-1", []string{"peerB", "peerC"})

	providers := d.Providers("shard-1")
	assert.ElementsMatch(t, []string{"peerA", "peerB", "peerC"}, providers)
}

func TestMemoryDirectoryForgetRemovesPeer(t *testing.T) {
	d := NewMemoryDirectory()
	d.Announce("shard-1", []string{"peerA", "peerB"})

	d.Forget("shard-1", "peerA")
	assert.ElementsMatch(t, []string{"peerB"}, d.Providers("shard-1"))
}

func TestMemoryDirectoryForgetLastPeerDropsKey(t *testing.T) {
	d := NewMemoryDirectory().(*memoryDirectory)
	d.Announce("shard-1", []string{"peerA"})
	d.Forget("shard-1", "peerA")

	d.mu.RLock()
	_, exists := d.table["shard-1"]
	d.mu.RUnlock()
	assert.False(t, exists)
}

func TestMemoryDirectoryUnknownShardReturnsEmpty(t *testing.T) {
	d := NewMemoryDirectory()
	assert.Empty(t, d.Providers("nonexistent"))
}
