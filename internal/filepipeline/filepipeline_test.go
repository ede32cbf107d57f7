package filepipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudp2p/internal/cryptutil"
	"cloudp2p/internal/erasure"
)

func ownerKey() [cryptutil.KeySize]byte {
	var k [cryptutil.KeySize]byte
	for i := range k {
		k[i] = byte(2 * i)
	}
	return k
}

func TestPrepareUploadShardCount(t *testing.T) {
	data := make([]byte, 500)
	for i := range data {
		data[i] = 'x'
	}

	prepared, err := PrepareUpload(data, "notes.txt", "text/plain", "owner-1", ownerKey(), erasure.DefaultConfig(), time.Now())
	require.NoError(t, err)
	assert.Len(t, prepared.Metadata.Shards, 14)
	assert.Len(t, prepared.Shards, 14)
	for _, loc := range prepared.Metadata.Shards {
		assert.Empty(t, loc.Peers)
	}
}

func TestPrepareAndReconstructFullCycle(t *testing.T) {
	data := []byte("the quick brown fox jumps over the lazy dog, repeated for bulk. " +
		"the quick brown fox jumps over the lazy dog, repeated for bulk.")
	key := ownerKey()

	prepared, err := PrepareUpload(data, "fox.txt", "text/plain", "owner-1", key, erasure.DefaultConfig(), time.Now())
	require.NoError(t, err)

	shardBytes := make([][]byte, len(prepared.Shards))
	for i, s := range prepared.Shards {
		shardBytes[i] = s.Data
	}

	out, err := ReconstructFile(prepared.Metadata, shardBytes, key)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestReconstructWithMissingShards(t *testing.T) {
	data := make([]byte, 500)
	for i := range data {
		data[i] = byte(i)
	}
	key := ownerKey()

	prepared, err := PrepareUpload(data, "bin.dat", "application/octet-stream", "owner-1", key, erasure.DefaultConfig(), time.Now())
	require.NoError(t, err)

	shardBytes := make([][]byte, len(prepared.Shards))
	for i, s := range prepared.Shards {
		shardBytes[i] = s.Data
	}
	for _, idx := range []int{0, 3, 7, 12} {
		shardBytes[idx] = nil
	}

	out, err := ReconstructFile(prepared.Metadata, shardBytes, key)
	require.NoError(t, err)
	assert.Equal(t, data, out)
}

func TestReconstructFailsWithTooFewShards(t *testing.T) {
	data := []byte("short file")
	key := ownerKey()

	prepared, err := PrepareUpload(data, "short.txt", "text/plain", "owner-1", key, erasure.DefaultConfig(), time.Now())
	require.NoError(t, err)

	shardBytes := make([][]byte, len(prepared.Shards))
	for i, s := range prepared.Shards {
		shardBytes[i] = s.Data
	}
	for i := 0; i < 5; i++ { // drop 5 > m=4
		shardBytes[i] = nil
	}

	_, err = ReconstructFile(prepared.Metadata, shardBytes, key)
	assert.Error(t, err)
}

func TestFileManagerIndexAndSearch(t *testing.T) {
	fm := NewFileManager()
	now := time.Now()

	fm.Add(FileMetadata{FileID: "f1", Filename: "report.pdf", OwnerID: "owner-1", Tags: []string{"work"}, CreatedAt: now, Size: 100})
	fm.Add(FileMetadata{FileID: "f2", Filename: "photo.png", OwnerID: "owner-1", Tags: []string{"personal"}, CreatedAt: now.Add(time.Second), Size: 200})
	fm.Add(FileMetadata{FileID: "f3", Filename: "other.txt", OwnerID: "owner-2", CreatedAt: now, Size: 50})

	list := fm.List("owner-1")
	require.Len(t, list, 2)
	assert.Equal(t, "f2", list[0].FileID) // newest first

	assert.Equal(t, 300, fm.TotalStorageUsed("owner-1"))
	assert.Equal(t, 2, fm.FileCount("owner-1"))

	byName := fm.Search("owner-1", "report")
	require.Len(t, byName, 1)
	assert.Equal(t, "f1", byName[0].FileID)

	byTag := fm.Search("owner-1", "personal")
	require.Len(t, byTag, 1)
	assert.Equal(t, "f2", byTag[0].FileID)

	meta, ok := fm.Get("f1")
	require.True(t, ok)
	assert.Equal(t, "report.pdf", meta.Filename)

	fm.Remove("f1")
	_, ok = fm.Get("f1")
	assert.False(t, ok)
}

func TestFileManagerExportImportRoundTrip(t *testing.T) {
	fm := NewFileManager()
	fm.Add(FileMetadata{FileID: "f1", Filename: "a.txt", OwnerID: "owner-1", CreatedAt: time.Now()})

	data, err := fm.ExportIndex()
	require.NoError(t, err)

	fm2 := NewFileManager()
	require.NoError(t, fm2.ImportIndex(data))

	meta, ok := fm2.Get("f1")
	require.True(t, ok)
	assert.Equal(t, "a.txt", meta.Filename)
}
