package cryptutil

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() [KeySize]byte {
	var k [KeySize]byte
	for i := range k {
		k[i] = byte(i)
	}
	return k
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()
	plaintext := []byte("hello cloudp2p")

	sealed, err := Encrypt(key, plaintext)
	require.NoError(t, err)
	assert.True(t, len(sealed) >= NonceSize+TagSize)

	out, err := Decrypt(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	key := testKey()
	a, err := Encrypt(key, []byte("same plaintext"))
	require.NoError(t, err)
	b, err := Encrypt(key, []byte("same plaintext"))
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "nonce should differ between calls")
}

func TestDecryptFailsOnShortInput(t *testing.T) {
	key := testKey()
	_, err := Decrypt(key, []byte("short"))
	assert.Error(t, err)
}

func TestDecryptFailsOnTamperedCiphertext(t *testing.T) {
	key := testKey()
	sealed, err := Encrypt(key, []byte("do not tamper"))
	require.NoError(t, err)
	sealed[len(sealed)-1] ^= 0xFF

	_, err = Decrypt(key, sealed)
	assert.Error(t, err)
}

func TestChunkedEncryptDecryptRandomAccess(t *testing.T) {
	key := testKey()
	plaintext := bytes.Repeat([]byte{0xAB}, DefaultChunkSize*3+17)

	ecf, err := EncryptChunked(key, plaintext, DefaultChunkSize)
	require.NoError(t, err)
	assert.Equal(t, 4, ecf.ChunkCount())

	for i := 0; i < ecf.ChunkCount(); i++ {
		start := i * DefaultChunkSize
		end := start + DefaultChunkSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		chunk, err := ecf.DecryptChunk(key, i)
		require.NoError(t, err)
		assert.Equal(t, plaintext[start:end], chunk)
	}
}

func TestChunkedDecryptAllMatchesOriginal(t *testing.T) {
	key := testKey()
	plaintext := bytes.Repeat([]byte{0x01, 0x02, 0x03}, 10000)

	ecf, err := EncryptChunked(key, plaintext, 4096)
	require.NoError(t, err)

	out, err := ecf.DecryptAll(key)
	require.NoError(t, err)
	assert.Equal(t, plaintext, out)
}

func TestChunkedEmptyFile(t *testing.T) {
	key := testKey()
	ecf, err := EncryptChunked(key, nil, 4096)
	require.NoError(t, err)
	assert.Equal(t, 0, ecf.ChunkCount())
	assert.Equal(t, 0, ecf.OriginalSize)

	out, err := ecf.DecryptAll(key)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestDeriveFileKeyDeterministic(t *testing.T) {
	master := bytes.Repeat([]byte{0x99}, 32)
	a, err := DeriveFileKey(master, "file-123")
	require.NoError(t, err)
	b, err := DeriveFileKey(master, "file-123")
	require.NoError(t, err)
	assert.Equal(t, a, b)

	c, err := DeriveFileKey(master, "file-456")
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestDecryptChunkOutOfRange(t *testing.T) {
	key := testKey()
	ecf, err := EncryptChunked(key, []byte("abc"), 4096)
	require.NoError(t, err)

	_, err = ecf.DecryptChunk(key, 5)
	assert.Error(t, err)
}
