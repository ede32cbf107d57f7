// Package peerregistry implements a scored, blacklist-aware table of
// known peers used to select storage destinations, with a mutex-guarded
// map and upsert/snapshot access pattern.
package peerregistry

import (
	"sort"
	"sync"
	"time"
)

// PeerInfo is one entry in the registry.
type PeerInfo struct {
	PeerID           string
	Addresses        []string
	StorageOffered   int64
	StorageAvailable int64
	Reliability      float64
	LatencyMS        float64
	LastSeen         time.Time
	BehindNAT        bool
	AgentVersion     string

	firstSeen time.Time
}

// Score returns the composite ranking score:
// 0.4*reliability + 0.3*(1 - min(latency_ms,1000)/1000) + 0.3*(available/offered).
func (p PeerInfo) Score() float64 {
	latencyTerm := p.LatencyMS
	if latencyTerm > 1000 {
		latencyTerm = 1000
	}
	availTerm := 0.0
	if p.StorageOffered > 0 {
		availTerm = float64(p.StorageAvailable) / float64(p.StorageOffered)
	}
	return 0.4*p.Reliability + 0.3*(1-latencyTerm/1000) + 0.3*availTerm
}

type blacklistEntry struct {
	expiresAt time.Time
}

// Registry is a mutex-guarded table of PeerInfo records.
type Registry struct {
	mu        sync.Mutex
	peers     map[string]*PeerInfo
	blacklist map[string]blacklistEntry
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		peers:     make(map[string]*PeerInfo),
		blacklist: make(map[string]blacklistEntry),
	}
}

// AddPeer upserts a peer record, stamping LastSeen = now. FirstSeen is
// preserved across upserts so select_storage_peers can break ties
// deterministically.
func (r *Registry) AddPeer(p PeerInfo, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p.LastSeen = now
	if existing, ok := r.peers[p.PeerID]; ok {
		p.firstSeen = existing.firstSeen
	} else {
		p.firstSeen = now
	}
	r.peers[p.PeerID] = &p
}

// UpdateReliability adjusts a peer's reliability by delta, clamped to
// [0,1]. If the resulting score drops below 0.1 the peer is
// auto-blacklisted for one hour.
func (r *Registry) UpdateReliability(peerID string, delta float64, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.peers[peerID]
	if !ok {
		return
	}
	p.Reliability += delta
	if p.Reliability < 0 {
		p.Reliability = 0
	}
	if p.Reliability > 1 {
		p.Reliability = 1
	}
	if p.Reliability < 0.1 {
		r.blacklist[peerID] = blacklistEntry{expiresAt: now.Add(time.Hour)}
	}
}

// BlacklistPeer blacklists peerID for the given duration.
func (r *Registry) BlacklistPeer(peerID string, duration time.Duration, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.blacklist[peerID] = blacklistEntry{expiresAt: now.Add(duration)}
}

func (r *Registry) isBlacklistedLocked(peerID string, now time.Time) bool {
	entry, ok := r.blacklist[peerID]
	if !ok {
		return false
	}
	return now.Before(entry.expiresAt)
}

// PruneStale removes peers whose LastSeen is older than maxAge and
// expired blacklist entries.
func (r *Registry) PruneStale(maxAge time.Duration, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, p := range r.peers {
		if now.Sub(p.LastSeen) > maxAge {
			delete(r.peers, id)
		}
	}
	for id, entry := range r.blacklist {
		if !now.Before(entry.expiresAt) {
			delete(r.blacklist, id)
		}
	}
}

// SelectStoragePeers returns up to count non-blacklisted peers with
// Reliability >= minReliability and StorageAvailable >= requiredBytes,
// sorted by composite score descending; ties are broken by first-seen
// (earlier wins), for determinism. LastSeen is not checked here, so a
// stale peer stays selectable until PruneStale removes it.
func (r *Registry) SelectStoragePeers(requiredBytes int64, count int, minReliability float64, now time.Time) []PeerInfo {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*PeerInfo
	for id, p := range r.peers {
		if r.isBlacklistedLocked(id, now) {
			continue
		}
		if p.Reliability < minReliability {
			continue
		}
		if p.StorageAvailable < requiredBytes {
			continue
		}
		candidates = append(candidates, p)
	}

	sort.Slice(candidates, func(i, j int) bool {
		si, sj := candidates[i].Score(), candidates[j].Score()
		if si != sj {
			return si > sj
		}
		return candidates[i].firstSeen.Before(candidates[j].firstSeen)
	})

	if len(candidates) > count {
		candidates = candidates[:count]
	}

	out := make([]PeerInfo, len(candidates))
	for i, p := range candidates {
		out[i] = *p
	}
	return out
}

// Get returns a copy of one peer's record.
func (r *Registry) Get(peerID string) (PeerInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[peerID]
	if !ok {
		return PeerInfo{}, false
	}
	return *p, true
}

// Len returns the number of known peers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.peers)
}
