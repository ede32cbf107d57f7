// Package erasure implements Reed-Solomon (k data, m parity) erasure
// coding over GF(2^8), grounded on the zstore example's
// erasure_coding_service.go wiring of klauspost/reedsolomon, with shard
// integrity hashed via blake3hash.ContentHash instead of that example's
// CRC64.
package erasure

import (
	"strconv"

	"github.com/klauspost/reedsolomon"

	"cloudp2p/internal/blake3hash"
	"cloudp2p/internal/errs"
)

// Config is the (k, m) erasure parameterization. k is the number of data
// shards, m the number of parity shards. k,m >= 1 and k+m <= 256.
type Config struct {
	K int `json:"k"`
	M int `json:"m"`
}

// DefaultConfig returns the network's default split (k=10, m=4).
func DefaultConfig() Config {
	return Config{K: 10, M: 4}
}

// Validate checks the (k, m) bounds.
func (c Config) Validate() error {
	if c.K < 1 || c.M < 1 {
		return errs.New(errs.CodeInvalidRequest, "erasure config: k and m must be >= 1")
	}
	if c.K+c.M > 256 {
		return errs.New(errs.CodeInvalidRequest, "erasure config: k+m must be <= 256")
	}
	return nil
}

// Total returns k+m, the total shard count.
func (c Config) Total() int { return c.K + c.M }

// Shard is one data or parity shard of an erasure-encoded file.
type Shard struct {
	Index        int    `json:"index"`
	Data         []byte `json:"data"`
	IsParity     bool   `json:"is_parity"`
	OriginalSize int    `json:"original_size"`
}

// Hash returns the content hash of the shard's raw bytes, used as
// ShardLocation.hash.
func (s Shard) Hash() blake3hash.ContentHash {
	return blake3hash.Hash(s.Data)
}

func newEncoder(cfg Config) (reedsolomon.Encoder, error) {
	enc, err := reedsolomon.New(cfg.K, cfg.M)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "construct reed-solomon encoder", err)
	}
	return enc, nil
}

// Encode splits data across cfg.K data shards (zero-padded so every
// shard has equal length = ceil(len(data)/k)) and computes cfg.M parity
// shards, returning all k+m shards in index order.
func Encode(cfg Config, data []byte) ([]Shard, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	enc, err := newEncoder(cfg)
	if err != nil {
		return nil, err
	}

	shardSize := (len(data) + cfg.K - 1) / cfg.K
	if shardSize == 0 {
		shardSize = 1
	}

	raw := make([][]byte, cfg.Total())
	for i := range raw {
		raw[i] = make([]byte, shardSize)
	}
	for i := 0; i < len(data); i++ {
		raw[i/shardSize][i%shardSize] = data[i]
	}

	if err := enc.Encode(raw); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "erasure encode", err)
	}

	shards := make([]Shard, cfg.Total())
	for i, d := range raw {
		shards[i] = Shard{
			Index:        i,
			Data:         d,
			IsParity:     i >= cfg.K,
			OriginalSize: len(data),
		}
	}
	return shards, nil
}

// Decode reconstructs the original plaintext from a set of possibly
// partial shards. present[i].Data == nil means that shard is missing. At
// least cfg.K shards must be present or decode fails with
// InsufficientFragments (modeled as errs.CodeInvalidRequest with a
// message naming have/need, per §7's InsufficientFragments{have,need}).
// originalSize is the exact byte length to truncate the reconstructed
// data shards to.
func Decode(cfg Config, present []Shard, originalSize int) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(present) != cfg.Total() {
		return nil, errs.New(errs.CodeInvalidRequest, "decode: expected one slot per shard index, including missing ones as empty")
	}

	raw := make([][]byte, cfg.Total())
	have := 0
	for i, s := range present {
		if s.Data != nil {
			raw[i] = s.Data
			have++
		}
	}
	if have < cfg.K {
		return nil, errs.New(errs.CodeInvalidRequest,
			shardShortfallMessage(have, cfg.K))
	}

	enc, err := newEncoder(cfg)
	if err != nil {
		return nil, err
	}
	if err := enc.Reconstruct(raw); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "erasure reconstruct", err)
	}

	out := make([]byte, 0, originalSize)
	for i := 0; i < cfg.K; i++ {
		out = append(out, raw[i]...)
	}
	if originalSize < len(out) {
		out = out[:originalSize]
	}
	return out, nil
}

func shardShortfallMessage(have, need int) string {
	return "insufficient fragments: have=" + strconv.Itoa(have) + " need=" + strconv.Itoa(need)
}
