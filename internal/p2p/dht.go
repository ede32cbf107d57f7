package p2p

import (
	"sync"
)

// ShardDirectory maps a shard ID to the set of peer IDs known to be
// storing it, behind an interface so a real Kademlia implementation (as
// go-libp2p-kad-dht provides) can stand in without callers changing.
type ShardDirectory interface {
	Announce(shardID string, peerIDs []string)
	Providers(shardID string) []string
	Forget(shardID, peerID string)
}

// memoryDirectory is an in-process ShardDirectory, adequate for a
// single bootstrap-free LAN swarm or as the local cache layer in
// front of a real DHT.
type memoryDirectory struct {
	mu    sync.RWMutex
	table map[string]map[string]struct{}
}

// NewMemoryDirectory returns an in-memory ShardDirectory.
func NewMemoryDirectory() ShardDirectory {
	return &memoryDirectory{table: make(map[string]map[string]struct{})}
}

func (d *memoryDirectory) Announce(shardID string, peerIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.table[shardID]
	if set == nil {
		set = make(map[string]struct{})
		d.table[shardID] = set
	}
	for _, p := range peerIDs {
		set[p] = struct{}{}
	}
}

func (d *memoryDirectory) Providers(shardID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	set := d.table[shardID]
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

func (d *memoryDirectory) Forget(shardID, peerID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	set := d.table[shardID]
	if set == nil {
		return
	}
	delete(set, peerID)
	if len(set) == 0 {
		delete(d.table, shardID)
	}
}
