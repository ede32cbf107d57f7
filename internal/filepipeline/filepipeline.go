// Package filepipeline implements the read -> encrypt -> erasure-encode
// -> metadata path and its inverse, wiring blake3hash, cryptutil,
// identity, and erasure together into one upload/download pipeline.
package filepipeline

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"cloudp2p/internal/blake3hash"
	"cloudp2p/internal/cryptutil"
	"cloudp2p/internal/erasure"
	"cloudp2p/internal/errs"
)

// ShardLocation records where one erasure-coded shard of a file lives.
// It references peers only by node ID string, never by object, so the
// file index has no cycles back into the peer registry.
type ShardLocation struct {
	Index int `json:"index"`
	// ShardID is "<file_id>-shard-<NN>".
	ShardID string   `json:"shard_id"`
	Peers   []string `json:"peers"`
	Size    int      `json:"size"`
	Hash    string   `json:"hash"`
}

// FileMetadata is the immutable, content-addressed record produced by
// PrepareUpload and consumed by ReconstructFile.
type FileMetadata struct {
	FileID           string          `json:"file_id"`
	Filename         string          `json:"filename"`
	MimeType         string          `json:"mime_type"`
	Size             int             `json:"size"`
	EncryptedHash    string          `json:"encrypted_hash"`
	EncryptedSize    int             `json:"encrypted_size"`
	ErasureConfig    erasure.Config  `json:"erasure_config"`
	Shards           []ShardLocation `json:"shards"`
	OwnerID          string          `json:"owner_id"`
	EncryptedFileKey []byte          `json:"encrypted_file_key"`
	FolderID         string          `json:"folder_id,omitempty"`
	Tags             []string        `json:"tags,omitempty"`
	SharedWith       []string        `json:"shared_with,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	ModifiedAt       time.Time       `json:"modified_at"`
}

// PreparedFile bundles the metadata with the actual shard bytes ready
// to be handed to the network collaborator for placement.
type PreparedFile struct {
	Metadata FileMetadata
	Shards   []erasure.Shard
}

// GetShard returns the shard at index i, or false if out of range.
func (p *PreparedFile) GetShard(i int) (erasure.Shard, bool) {
	if i < 0 || i >= len(p.Shards) {
		return erasure.Shard{}, false
	}
	return p.Shards[i], true
}

func shardID(fileID string, index int) string {
	return fmt.Sprintf("%s-shard-%02d", fileID, index)
}

// PrepareUpload reads plaintext, encrypts it chunked, erasure-encodes
// the ciphertext, and assembles the FileMetadata + shard list. peers in
// each ShardLocation are left empty; the network collaborator fills
// them in after placement.
func PrepareUpload(plaintext []byte, filename, mimeType, ownerID string, ownerEncKey [cryptutil.KeySize]byte, cfg erasure.Config, now time.Time) (*PreparedFile, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	fileID := blake3hash.Hash(plaintext).Base58()

	var fileKey [cryptutil.KeySize]byte
	if _, err := rand.Read(fileKey[:]); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "generate file key", err)
	}

	ecf, err := cryptutil.EncryptChunked(fileKey, plaintext, cryptutil.DefaultChunkSize)
	if err != nil {
		return nil, err
	}
	serialized, err := cbor.Marshal(ecf)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "serialize encrypted chunked file", err)
	}

	shards, err := erasure.Encode(cfg, serialized)
	if err != nil {
		return nil, err
	}

	encryptedFileKey, err := cryptutil.Encrypt(ownerEncKey, fileKey[:])
	if err != nil {
		return nil, err
	}

	locations := make([]ShardLocation, len(shards))
	for i, s := range shards {
		locations[i] = ShardLocation{
			Index:   i,
			ShardID: shardID(fileID, i),
			Peers:   nil,
			Size:    len(s.Data),
			Hash:    s.Hash().Base58(),
		}
	}

	meta := FileMetadata{
		FileID:           fileID,
		Filename:         filename,
		MimeType:         mimeType,
		Size:             len(plaintext),
		EncryptedHash:    blake3hash.Hash(serialized).Base58(),
		EncryptedSize:    len(serialized),
		ErasureConfig:    cfg,
		Shards:           locations,
		OwnerID:          ownerID,
		EncryptedFileKey: encryptedFileKey,
		CreatedAt:        now,
		ModifiedAt:       now,
	}

	return &PreparedFile{Metadata: meta, Shards: shards}, nil
}

// ReconstructFile reverses PrepareUpload. optionalShardBytes must have
// exactly len(metadata.Shards) entries, nil for a missing shard.
func ReconstructFile(metadata FileMetadata, optionalShardBytes [][]byte, ownerEncKey [cryptutil.KeySize]byte) ([]byte, error) {
	if len(optionalShardBytes) != len(metadata.Shards) {
		return nil, errs.New(errs.CodeInvalidRequest, "reconstruct: shard slice count mismatch")
	}

	have := 0
	shards := make([]erasure.Shard, len(optionalShardBytes))
	for i, b := range optionalShardBytes {
		if b == nil {
			continue
		}
		loc := metadata.Shards[i]
		h := blake3hash.Hash(b).Base58()
		if h != loc.Hash {
			return nil, errs.New(errs.CodeInternal, "shard "+loc.ShardID+" failed integrity check")
		}
		shards[i] = erasure.Shard{Index: i, Data: b, IsParity: i >= metadata.ErasureConfig.K}
		have++
	}
	if have < metadata.ErasureConfig.K {
		return nil, errs.New(errs.CodeInvalidRequest, "reconstruct: insufficient shards present")
	}

	serialized, err := erasure.Decode(metadata.ErasureConfig, shards, metadata.EncryptedSize)
	if err != nil {
		return nil, err
	}

	var ecf cryptutil.EncryptedChunkedFile
	if err := cbor.Unmarshal(serialized, &ecf); err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "deserialize encrypted chunked file", err)
	}

	fileKeySealed := metadata.EncryptedFileKey
	fileKeyBytes, err := cryptutil.Decrypt(ownerEncKey, fileKeySealed)
	if err != nil {
		return nil, err
	}
	var fileKey [cryptutil.KeySize]byte
	copy(fileKey[:], fileKeyBytes)

	plaintext, err := ecf.DecryptAll(fileKey)
	if err != nil {
		return nil, err
	}

	if blake3hash.Hash(plaintext).Base58() != metadata.FileID {
		return nil, errs.New(errs.CodeInternal, "reconstructed plaintext failed integrity check")
	}

	return plaintext, nil
}
