package erasure

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleData(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

func TestEncodeProducesKPlusMShards(t *testing.T) {
	cfg := DefaultConfig()
	data := sampleData(500)

	shards, err := Encode(cfg, data)
	require.NoError(t, err)
	assert.Len(t, shards, 14)

	for i, s := range shards {
		assert.Equal(t, i, s.Index)
		assert.Equal(t, i >= cfg.K, s.IsParity)
	}
	for i := 1; i < len(shards); i++ {
		assert.Len(t, shards[i].Data, len(shards[0].Data))
	}
}

func TestEncodeDecodeFullRoundTrip(t *testing.T) {
	cfg := DefaultConfig()
	data := sampleData(500)

	shards, err := Encode(cfg, data)
	require.NoError(t, err)

	out, err := Decode(cfg, shards, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecodeToleratesUpToMErasures(t *testing.T) {
	cfg := DefaultConfig()
	data := sampleData(500)

	shards, err := Encode(cfg, data)
	require.NoError(t, err)

	// Drop shards at indices 0,3,7,12 -- the literal seed scenario.
	dropped := []int{0, 3, 7, 12}
	present := make([]Shard, len(shards))
	copy(present, shards)
	for _, idx := range dropped {
		present[idx] = Shard{}
	}

	out, err := Decode(cfg, present, len(data))
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestDecodeFailsWithMoreThanMErasures(t *testing.T) {
	cfg := DefaultConfig()
	data := sampleData(500)

	shards, err := Encode(cfg, data)
	require.NoError(t, err)

	present := make([]Shard, len(shards))
	copy(present, shards)
	for _, idx := range []int{0, 1, 2, 3, 4} { // 5 erasures > m=4
		present[idx] = Shard{}
	}

	_, err = Decode(cfg, present, len(data))
	assert.Error(t, err)
}

func TestEncodeHandlesNonMultipleLength(t *testing.T) {
	cfg := Config{K: 3, M: 2}
	data := sampleData(10) // not a multiple of k

	shards, err := Encode(cfg, data)
	require.NoError(t, err)

	out, err := Decode(cfg, shards, len(data))
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, out))
}

func TestConfigValidateRejectsZero(t *testing.T) {
	assert.Error(t, Config{K: 0, M: 4}.Validate())
	assert.Error(t, Config{K: 4, M: 0}.Validate())
}

func TestConfigValidateRejectsOversizedTotal(t *testing.T) {
	assert.Error(t, Config{K: 200, M: 100}.Validate())
}

func TestShardHashStable(t *testing.T) {
	cfg := Config{K: 2, M: 1}
	shards, err := Encode(cfg, sampleData(20))
	require.NoError(t, err)

	h1 := shards[0].Hash()
	h2 := shards[0].Hash()
	assert.Equal(t, h1, h2)
}
