package storageproto

import (
	"crypto/ed25519"
	"strconv"
	"strings"
	"time"

	"cloudp2p/internal/errs"
	"cloudp2p/internal/identity"
)

// StorageContract binds one owner and one storage peer to hosting one
// fragment for a bounded time. It is a proposal until both signatures
// are present and verify; only then is it committed.
type StorageContract struct {
	FragmentID       string    `json:"fragment_id"`
	OwnerID          string    `json:"owner_id"`
	StoragePeerID    string    `json:"storage_peer_id"`
	SizeBytes        int64     `json:"size_bytes"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	OwnerSignature   []byte    `json:"owner_signature,omitempty"`
	StorageSignature []byte    `json:"storage_signature,omitempty"`
}

// NewStorageContract builds an unsigned contract with expires_at = now
// + expirationDays*86400.
func NewStorageContract(fragmentID, ownerID, storagePeerID string, sizeBytes int64, expirationDays int, now time.Time) *StorageContract {
	return &StorageContract{
		FragmentID:    fragmentID,
		OwnerID:       ownerID,
		StoragePeerID: storagePeerID,
		SizeBytes:     sizeBytes,
		CreatedAt:     now,
		ExpiresAt:     now.Add(time.Duration(expirationDays) * 24 * time.Hour),
	}
}

// SigningData is the colon-joined string of the first six fields, the
// bytes both parties sign.
func (c *StorageContract) SigningData() []byte {
	return []byte(strings.Join([]string{
		c.FragmentID,
		c.OwnerID,
		c.StoragePeerID,
		strconv.FormatInt(c.SizeBytes, 10),
		strconv.FormatInt(c.CreatedAt.Unix(), 10),
		strconv.FormatInt(c.ExpiresAt.Unix(), 10),
	}, ":"))
}

// SignAsOwner has the owner sign the contract.
func (c *StorageContract) SignAsOwner(sign func([]byte) []byte) {
	c.OwnerSignature = sign(c.SigningData())
}

// CounterSignAsStoragePeer has the storage peer counter-sign. Called
// only after the storage peer has verified the owner signature and
// actually admitted the fragment (see internal/fragstore.StoreFragment).
func (c *StorageContract) CounterSignAsStoragePeer(sign func([]byte) []byte) {
	c.StorageSignature = sign(c.SigningData())
}

// IsCommitted reports whether both signatures are present and verify
// against the given public keys. A contract with only the owner's
// signature is a proposal, not yet binding on the storage peer.
func (c *StorageContract) IsCommitted(ownerPub, storagePeerPub ed25519.PublicKey) bool {
	if len(c.OwnerSignature) != ed25519.SignatureSize || len(c.StorageSignature) != ed25519.SignatureSize {
		return false
	}
	data := c.SigningData()
	return ed25519.Verify(ownerPub, data, c.OwnerSignature) &&
		ed25519.Verify(storagePeerPub, data, c.StorageSignature)
}

// IsExpired reports whether now is past ExpiresAt.
func (c *StorageContract) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}

// Extend pushes ExpiresAt forward by days, never backward (monotonic
// extension).
func (c *StorageContract) Extend(days int) {
	if days <= 0 {
		return
	}
	c.ExpiresAt = c.ExpiresAt.Add(time.Duration(days) * 24 * time.Hour)
}

// DaysUntilExpiration returns the whole number of days remaining,
// clamped to 0 for already-expired contracts.
func (c *StorageContract) DaysUntilExpiration(now time.Time) int {
	remaining := c.ExpiresAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	return int(remaining.Hours() / 24)
}

// VerifySigned checks that pubKey actually hashes to claimedID and that
// sig is a valid Ed25519 signature by that key over signingData. Every
// handler that acts on a claimed owner_id/requester_id must call this
// before mutating any state, since node_id = SHA256(pubkey) cannot be
// derived back to a key on its own.
func VerifySigned(claimedID string, pubKey, sig, signingData []byte) error {
	if len(pubKey) != ed25519.PublicKeySize {
		return errs.ErrInvalidSignature
	}
	if identity.PublicIDFromPubKey(pubKey) != claimedID {
		return errs.ErrPermissionDenied
	}
	if !identity.Verify(pubKey, signingData, sig) {
		return errs.ErrInvalidSignature
	}
	return nil
}

// ToErrorPayload maps a local error's errs.Code onto the wire ErrorCode
// taxonomy.
func ToErrorPayload(err error) ErrorPayload {
	code := errs.GetCode(err)
	wireCode := ErrorInternal
	switch code {
	case errs.CodeNotFound:
		wireCode = ErrorNotFound
	case errs.CodeInsufficientSpace:
		wireCode = ErrorInsufficientSpace
	case errs.CodeInvalidSignature:
		wireCode = ErrorInvalidSignature
	case errs.CodeExpired:
		wireCode = ErrorExpired
	case errs.CodePermissionDenied:
		wireCode = ErrorPermissionDenied
	case errs.CodeRateLimited:
		wireCode = ErrorRateLimited
	case errs.CodeInvalidRequest:
		wireCode = ErrorInvalidRequest
	}
	return ErrorPayload{Code: wireCode, Message: err.Error()}
}
