// Package identity implements the node's identity and key hierarchy:
// mnemonic -> master seed -> signing key, encryption key, node ID, and
// the heartbeat liveness message signed with that identity.
package identity

import (
	"crypto/ed25519"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/unicode/norm"

	"cloudp2p/internal/cryptutil"
	"cloudp2p/internal/errs"
)

// SeedSize is the length in bytes of the BIP39-derived master seed.
const SeedSize = 64

// legalWordCounts are the only mnemonic lengths this implementation
// accepts; any other requested count is a hard error rather than a
// silent fallback.
var legalWordCounts = map[int]int{
	12: 128,
	15: 160,
	18: 192,
	21: 224,
	24: 256,
}

// GenerateMnemonic returns a fresh BIP39 mnemonic of exactly wordCount
// words. wordCount must be one of 12, 15, 18, 21, 24.
func GenerateMnemonic(wordCount int) (string, error) {
	bits, ok := legalWordCounts[wordCount]
	if !ok {
		return "", errs.New(errs.CodeInvalidRequest,
			fmt.Sprintf("illegal mnemonic word count %d, must be one of 12,15,18,21,24", wordCount))
	}
	entropy, err := bip39.NewEntropy(bits)
	if err != nil {
		return "", errs.Wrap(errs.CodeInternal, "generate entropy", err)
	}
	m, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", errs.Wrap(errs.CodeInternal, "build mnemonic", err)
	}
	return m, nil
}

// ValidateMnemonic checks that m is a well-formed BIP39 mnemonic: every
// word is in the wordlist and the embedded checksum is correct.
func ValidateMnemonic(m string) error {
	if !bip39.IsMnemonicValid(normalizeMnemonic(m)) {
		return errs.New(errs.CodeInvalidRequest, "invalid mnemonic")
	}
	return nil
}

// normalizeMnemonic applies NFKD normalization and collapses internal
// whitespace to a single space, matching BIP39's canonical form.
func normalizeMnemonic(m string) string {
	fields := strings.Fields(norm.NFKD.String(strings.TrimSpace(m)))
	return strings.Join(fields, " ")
}

// DeriveMasterSeed computes MasterSeed = PBKDF2-HMAC-SHA512(mnemonic,
// "mnemonic"+passphrase, 2048 rounds, 64 bytes), the BIP39-standard seed
// derivation. Calling pbkdf2 directly (rather than go-bip39's own seed
// function) keeps the salt and round count visible here rather than
// hidden behind a library default.
func DeriveMasterSeed(mnemonic, passphrase string) ([SeedSize]byte, error) {
	var out [SeedSize]byte
	if err := ValidateMnemonic(mnemonic); err != nil {
		return out, err
	}
	normalized := normalizeMnemonic(mnemonic)
	salt := []byte("mnemonic" + passphrase)
	seed := pbkdf2.Key([]byte(normalized), salt, 2048, SeedSize, sha512.New)
	copy(out[:], seed)
	return out, nil
}

// Identity is the derived key material for one node, held for the
// process lifetime.
type Identity struct {
	SigningKey    ed25519.PrivateKey
	PublicKey     ed25519.PublicKey
	EncryptionKey [cryptutil.KeySize]byte
	NodeID        [32]byte
}

// FromMnemonic derives a full Identity from (mnemonic, passphrase).
// Same inputs always yield the same Identity.
func FromMnemonic(mnemonic, passphrase string) (*Identity, error) {
	seed, err := DeriveMasterSeed(mnemonic, passphrase)
	if err != nil {
		return nil, err
	}
	return FromMasterSeed(seed)
}

// FromMasterSeed derives an Identity directly from an already-computed
// master seed, skipping mnemonic parsing. FromMnemonic calls it once
// the seed is derived.
func FromMasterSeed(seed [SeedSize]byte) (*Identity, error) {
	signingSeed, err := cryptutil.DeriveKey(seed[:], []byte("cloudp2p-signing"), []byte("ed25519-signing-key"), ed25519.SeedSize)
	if err != nil {
		return nil, err
	}
	encKey, err := cryptutil.DeriveKey(seed[:], []byte("cloudp2p-encryption"), []byte("aes-256-gcm-key"), cryptutil.KeySize)
	if err != nil {
		return nil, err
	}

	priv := ed25519.NewKeyFromSeed(signingSeed)
	pub := priv.Public().(ed25519.PublicKey)
	nodeID := sha256.Sum256(pub)

	id := &Identity{
		SigningKey: priv,
		PublicKey:  pub,
		NodeID:     nodeID,
	}
	copy(id.EncryptionKey[:], encKey)
	return id, nil
}

// PublicID returns the base58 encoding of the node ID, the network-
// visible identifier for this node.
func (id *Identity) PublicID() string {
	return base58.Encode(id.NodeID[:])
}

// Sign returns a 64-byte Ed25519 signature over m.
func (id *Identity) Sign(m []byte) []byte {
	return ed25519.Sign(id.SigningKey, m)
}

// Verify checks sig against m under pub. A signature of the wrong length
// returns false rather than an error.
func Verify(pub ed25519.PublicKey, m, sig []byte) bool {
	if len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, m, sig)
}

// NodeIDFromPubKey computes the node ID for an Ed25519 public key, the
// same one-way hash used to derive Identity.NodeID.
func NodeIDFromPubKey(pub ed25519.PublicKey) [32]byte {
	return sha256.Sum256(pub)
}

// PublicIDFromPubKey returns the base58 node ID derived from pub. Since
// node IDs are a one-way hash of the signing key, a request claiming a
// given node ID must carry its public key alongside; this is how the
// claim is checked against the key that produced it.
func PublicIDFromPubKey(pub ed25519.PublicKey) string {
	id := NodeIDFromPubKey(pub)
	return base58.Encode(id[:])
}

// Heartbeat is a signed liveness message proving a node is still online
// and still in control of its identity key, used to renew storage
// contracts.
type Heartbeat struct {
	NodeID    string
	Timestamp int64
	Signature []byte
}

func heartbeatCanonical(nodeID string, timestamp int64) []byte {
	return []byte("heartbeat:" + nodeID + ":" + strconv.FormatInt(timestamp, 10))
}

// GenerateHeartbeat builds and signs a heartbeat for id, stamped now.
func (id *Identity) GenerateHeartbeat(now time.Time) *Heartbeat {
	nodeID := id.PublicID()
	ts := now.Unix()
	return &Heartbeat{
		NodeID:    nodeID,
		Timestamp: ts,
		Signature: id.Sign(heartbeatCanonical(nodeID, ts)),
	}
}

// Verify reconstructs the canonical heartbeat string and checks the
// signature against pub.
func (h *Heartbeat) Verify(pub ed25519.PublicKey) bool {
	return Verify(pub, heartbeatCanonical(h.NodeID, h.Timestamp), h.Signature)
}

// IsRecent reports whether the heartbeat's timestamp is within window of
// now, in either direction.
func (h *Heartbeat) IsRecent(now time.Time, window time.Duration) bool {
	delta := now.Unix() - h.Timestamp
	if delta < 0 {
		delta = -delta
	}
	return time.Duration(delta)*time.Second < window
}
