// Package blake3hash implements the system's single content-addressing
// primitive: a 32-byte BLAKE3 digest, its hex/base58 codecs, an
// incremental hasher for streaming input, and a Merkle tree builder used
// to produce a single root hash over a file's shards.
package blake3hash

import (
	"encoding/hex"
	"errors"
	"io"

	"github.com/mr-tron/base58"
	"lukechampine.com/blake3"
)

// Size is the digest length in bytes.
const Size = 32

// ContentHash is a fixed-size BLAKE3 digest identifying a piece of content.
type ContentHash [Size]byte

// Hash returns the ContentHash of data.
func Hash(data []byte) ContentHash {
	var out ContentHash
	sum := blake3.Sum256(data)
	copy(out[:], sum[:])
	return out
}

// String renders the hash as lowercase hex.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// Base58 renders the hash as a base58 string, used for compact,
// URL-safe identifiers (shard IDs, fragment IDs).
func (h ContentHash) Base58() string {
	return base58.Encode(h[:])
}

// IsZero reports whether h is the all-zero hash (never a valid digest of
// real content, used as a sentinel for "not yet computed").
func (h ContentHash) IsZero() bool {
	return h == ContentHash{}
}

// FromHex parses a hex-encoded ContentHash.
func FromHex(s string) (ContentHash, error) {
	var out ContentHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != Size {
		return out, errors.New("blake3hash: wrong digest length")
	}
	copy(out[:], b)
	return out, nil
}

// FromBase58 parses a base58-encoded ContentHash.
func FromBase58(s string) (ContentHash, error) {
	var out ContentHash
	b, err := base58.Decode(s)
	if err != nil {
		return out, err
	}
	if len(b) != Size {
		return out, errors.New("blake3hash: wrong digest length")
	}
	copy(out[:], b)
	return out, nil
}

// IncrementalHasher wraps blake3's streaming hasher so callers can feed a
// file in chunks (e.g. while reading it off disk) without holding the
// whole thing in memory just to hash it.
type IncrementalHasher struct {
	h *blake3.Hasher
}

// NewIncremental returns a ready-to-use incremental hasher.
func NewIncremental() *IncrementalHasher {
	return &IncrementalHasher{h: blake3.New(Size, nil)}
}

// Write implements io.Writer.
func (ih *IncrementalHasher) Write(p []byte) (int, error) {
	return ih.h.Write(p)
}

// WriteFrom hashes all remaining bytes of r.
func (ih *IncrementalHasher) WriteFrom(r io.Reader) (int64, error) {
	return io.Copy(ih.h, r)
}

// Sum returns the digest of everything written so far.
func (ih *IncrementalHasher) Sum() ContentHash {
	var out ContentHash
	sum := ih.h.Sum(nil)
	copy(out[:], sum)
	return out
}

// MerkleTree is a binary Merkle tree over an ordered list of leaf
// hashes, used to produce one root commitment for a file's shards.
// Odd node counts at any level are handled by promoting the final node
// unchanged to the next level, rather than duplicating it — duplicating
// the last leaf makes two different shard lists collide on root hash
// when one has odd length, which this avoids.
type MerkleTree struct {
	levels [][]ContentHash
}

// BuildMerkleTree constructs a tree from leaf hashes. An empty leaf list
// produces a tree whose root is Hash(nil).
func BuildMerkleTree(leaves []ContentHash) *MerkleTree {
	if len(leaves) == 0 {
		root := Hash(nil)
		return &MerkleTree{levels: [][]ContentHash{{}, {root}}}
	}

	level := make([]ContentHash, len(leaves))
	copy(level, leaves)
	levels := [][]ContentHash{level}

	for len(level) > 1 {
		next := make([]ContentHash, 0, (len(level)+1)/2)
		for i := 0; i < len(level); i += 2 {
			if i+1 < len(level) {
				next = append(next, hashPair(level[i], level[i+1]))
			} else {
				next = append(next, level[i])
			}
		}
		levels = append(levels, next)
		level = next
	}

	return &MerkleTree{levels: levels}
}

func hashPair(a, b ContentHash) ContentHash {
	buf := make([]byte, 0, 2*Size)
	buf = append(buf, a[:]...)
	buf = append(buf, b[:]...)
	return Hash(buf)
}

// Root returns the tree's root commitment.
func (t *MerkleTree) Root() ContentHash {
	top := t.levels[len(t.levels)-1]
	return top[0]
}

// LeafCount returns the number of leaves the tree was built from.
func (t *MerkleTree) LeafCount() int {
	return len(t.levels[0])
}
