package storageproto

import (
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cloudp2p/internal/errs"
	"cloudp2p/internal/identity"
)

func TestEnvelopeRoundTrip(t *testing.T) {
	req := StoreRequest{
		FragmentID: "frag-1",
		OwnerID:    "owner-1",
		Data:       []byte("ciphertext"),
		ExpiresAt:  time.Now().Truncate(time.Second),
		OwnerSig:   []byte("sig-bytes"),
	}

	encoded, err := Encode(KindStoreRequest, req)
	require.NoError(t, err)

	env, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, KindStoreRequest, env.Kind)

	var decoded StoreRequest
	require.NoError(t, DecodePayload(env, &decoded))
	assert.Equal(t, req.FragmentID, decoded.FragmentID)
	assert.Equal(t, req.OwnerID, decoded.OwnerID)
	assert.Equal(t, req.Data, decoded.Data)
	assert.Equal(t, req.OwnerSig, decoded.OwnerSig)
}

func TestEnvelopeErrorResponse(t *testing.T) {
	payload := ErrorPayload{Code: ErrorNotFound, Message: "fragment not found"}
	encoded, err := Encode(KindErrorResponse, payload)
	require.NoError(t, err)

	env, err := DecodeEnvelope(encoded)
	require.NoError(t, err)
	assert.Equal(t, KindErrorResponse, env.Kind)

	var decoded ErrorPayload
	require.NoError(t, DecodePayload(env, &decoded))
	assert.Equal(t, ErrorNotFound, decoded.Code)
}

func TestStorageContractRequiresBothSignatures(t *testing.T) {
	ownerPub, ownerPriv, _ := ed25519.GenerateKey(nil)
	peerPub, peerPriv, _ := ed25519.GenerateKey(nil)

	now := time.Now()
	c := NewStorageContract("frag-1", "owner-1", "peer-1", 1024, 90, now)
	assert.False(t, c.IsCommitted(ownerPub, peerPub), "no signatures yet")

	c.SignAsOwner(func(m []byte) []byte { return ed25519.Sign(ownerPriv, m) })
	assert.False(t, c.IsCommitted(ownerPub, peerPub), "proposal: only owner signed")

	c.CounterSignAsStoragePeer(func(m []byte) []byte { return ed25519.Sign(peerPriv, m) })
	assert.True(t, c.IsCommitted(ownerPub, peerPub))
}

func TestStorageContractDefaultExpiration(t *testing.T) {
	now := time.Now()
	c := NewStorageContract("frag-1", "owner-1", "peer-1", 1024, 90, now)
	assert.False(t, c.IsExpired(now))
	assert.True(t, c.IsExpired(now.Add(91*24*time.Hour)))
	assert.Equal(t, 90, c.DaysUntilExpiration(now))
}

func TestStorageContractExtend(t *testing.T) {
	now := time.Now()
	c := NewStorageContract("frag-1", "owner-1", "peer-1", 1024, 90, now)
	original := c.ExpiresAt
	c.Extend(30)
	assert.Equal(t, original.Add(30*24*time.Hour), c.ExpiresAt)
}

func TestToErrorPayloadMapsCode(t *testing.T) {
	payload := ToErrorPayload(errs.ErrInsufficientSpace)
	assert.Equal(t, ErrorInsufficientSpace, payload.Code)
}

func TestVerifySignedAcceptsMatchingKeyAndSignature(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	claimedID := identity.PublicIDFromPubKey(pub)
	data := []byte("fragment-1:owner-1")
	sig := ed25519.Sign(priv, data)

	assert.NoError(t, VerifySigned(claimedID, pub, sig, data))
}

func TestVerifySignedRejectsKeyNotMatchingClaimedID(t *testing.T) {
	pub, priv, _ := ed25519.GenerateKey(nil)
	data := []byte("fragment-1:owner-1")
	sig := ed25519.Sign(priv, data)

	err := VerifySigned("some-other-node-id", pub, sig, data)
	assert.Equal(t, errs.CodePermissionDenied, errs.GetCode(err))
}

func TestVerifySignedRejectsForgedSignature(t *testing.T) {
	pub, _, _ := ed25519.GenerateKey(nil)
	_, otherPriv, _ := ed25519.GenerateKey(nil)
	claimedID := identity.PublicIDFromPubKey(pub)
	data := []byte("fragment-1:owner-1")
	forged := ed25519.Sign(otherPriv, data)

	err := VerifySigned(claimedID, pub, forged, data)
	assert.Equal(t, errs.CodeInvalidSignature, errs.GetCode(err))
}
