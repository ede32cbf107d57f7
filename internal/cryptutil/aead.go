// Package cryptutil implements the file-pipeline's authenticated
// encryption primitives: single-shot AES-256-GCM, chunked encryption for
// random-access reads, and HKDF-SHA256 key derivation. Ported from the
// teacher's crypto.go gcm()/hkdfBytes() helpers and generalized to the
// spec's parameterized salt/info derivation.
package cryptutil

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"

	"cloudp2p/internal/blake3hash"
	"cloudp2p/internal/errs"
)

const (
	KeySize   = 32
	NonceSize = 12
	TagSize   = 16

	// DefaultChunkSize is the plaintext chunk size used by chunked
	// encryption unless a caller overrides it.
	DefaultChunkSize = 64 * 1024
)

// DeriveKey runs HKDF-SHA256 with the given salt/info over ikm, returning
// an L-byte key. Used both for identity key derivation (C3) and for
// derive_file_key below.
func DeriveKey(ikm, salt, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, ikm, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "hkdf derive", err)
	}
	return out, nil
}

// DeriveFileKey computes derive_file_key(master, file_id) =
// HKDF-SHA256(salt=file_id, ikm=master, info="cloudp2p-file-key", L=32).
func DeriveFileKey(master []byte, fileID string) ([32]byte, error) {
	var out [32]byte
	key, err := DeriveKey(master, []byte(fileID), []byte("cloudp2p-file-key"), KeySize)
	if err != nil {
		return out, err
	}
	copy(out[:], key)
	return out, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "new aes cipher", err)
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under key with a fresh random nonce, returning
// nonce(12) ‖ ciphertext ‖ tag(16).
func Encrypt(key [KeySize]byte, plaintext []byte) ([]byte, error) {
	gcm, err := newGCM(key[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "read nonce", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt. Returns an errs.CodeInvalidRequest error
// ("DecryptionFailed" in spec terms) on short input or tag mismatch. The
// message says only which of the two happened; nothing about the tag
// state reaches the caller.
func Decrypt(key [KeySize]byte, sealed []byte) ([]byte, error) {
	if len(sealed) < NonceSize+TagSize {
		return nil, errs.New(errs.CodeInvalidRequest, "decryption failed: input too short")
	}
	gcm, err := newGCM(key[:])
	if err != nil {
		return nil, err
	}
	nonce, ct := sealed[:NonceSize], sealed[NonceSize:]
	pt, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidRequest, "decryption failed", err)
	}
	return pt, nil
}

// EncryptedChunkedFile is an ordered list of independently-encrypted
// chunks laid out in a flat buffer, so a random-access read of chunk i
// needs only that chunk's slice, not the whole file.
type EncryptedChunkedFile struct {
	ChunkOffsets []int  `json:"chunk_offsets"`
	Buffer       []byte `json:"buffer"`
	OriginalSize int    `json:"original_size"`
	ChunkSize    int    `json:"chunk_size"`
}

// ChunkCount returns ceil(original_size / chunk_size), or 0 for an empty
// file.
func (e *EncryptedChunkedFile) ChunkCount() int {
	return len(e.ChunkOffsets)
}

// EncryptChunked splits plaintext into chunkSize pieces (0 means use
// DefaultChunkSize), encrypts each independently under key, and records
// offsets into a flat buffer.
func EncryptChunked(key [KeySize]byte, plaintext []byte, chunkSize int) (*EncryptedChunkedFile, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	out := &EncryptedChunkedFile{
		OriginalSize: len(plaintext),
		ChunkSize:    chunkSize,
	}

	if len(plaintext) == 0 {
		out.Buffer = []byte{}
		return out, nil
	}

	for start := 0; start < len(plaintext); start += chunkSize {
		end := start + chunkSize
		if end > len(plaintext) {
			end = len(plaintext)
		}
		sealed, err := Encrypt(key, plaintext[start:end])
		if err != nil {
			return nil, err
		}
		out.ChunkOffsets = append(out.ChunkOffsets, len(out.Buffer))
		out.Buffer = append(out.Buffer, sealed...)
	}

	return out, nil
}

// chunkSlice returns the raw sealed bytes for chunk i.
func (e *EncryptedChunkedFile) chunkSlice(i int) ([]byte, error) {
	if i < 0 || i >= len(e.ChunkOffsets) {
		return nil, errs.New(errs.CodeInvalidRequest, "chunk index out of range")
	}
	start := e.ChunkOffsets[i]
	end := len(e.Buffer)
	if i+1 < len(e.ChunkOffsets) {
		end = e.ChunkOffsets[i+1]
	}
	return e.Buffer[start:end], nil
}

// DecryptChunk decrypts and returns the plaintext of chunk i only.
func (e *EncryptedChunkedFile) DecryptChunk(key [KeySize]byte, i int) ([]byte, error) {
	sealed, err := e.chunkSlice(i)
	if err != nil {
		return nil, err
	}
	return Decrypt(key, sealed)
}

// DecryptAll decrypts every chunk in order and concatenates them back
// into the original plaintext.
func (e *EncryptedChunkedFile) DecryptAll(key [KeySize]byte) ([]byte, error) {
	out := make([]byte, 0, e.OriginalSize)
	for i := 0; i < e.ChunkCount(); i++ {
		pt, err := e.DecryptChunk(key, i)
		if err != nil {
			return nil, err
		}
		out = append(out, pt...)
	}
	return out, nil
}

// ContentHashOf returns the content hash of the serialized encrypted
// file, used as FileMetadata's encrypted_hash field. Callers pass in
// the exact serialized bytes (see internal/filepipeline) so the hash is
// computed over whatever wire form is actually persisted.
func ContentHashOf(serialized []byte) blake3hash.ContentHash {
	return blake3hash.Hash(serialized)
}
