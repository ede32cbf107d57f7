// Package storageproto implements the closed storage-protocol
// request/response taxonomy, its CBOR tagged-union wire envelope, and
// StorageContract bilateral signing, using tagged structs with a Kind
// discriminant as the idiomatic Go substitute for a closed sum type.
package storageproto

import (
	"strconv"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"

	"cloudp2p/internal/errs"
)

// ErrorCode is the closed error-code taxonomy every error response
// carries.
type ErrorCode int

const (
	ErrorNone ErrorCode = iota
	ErrorNotFound
	ErrorInsufficientSpace
	ErrorInvalidSignature
	ErrorExpired
	ErrorPermissionDenied
	ErrorRateLimited
	ErrorInvalidRequest
	ErrorInternal
)

// ErrorPayload is the body of an Error response.
type ErrorPayload struct {
	Code    ErrorCode `cbor:"code"`
	Message string    `cbor:"message"`
}

// Kind discriminates the sum-type envelope.
type Kind uint8

const (
	KindStoreRequest Kind = iota + 1
	KindRetrieveRequest
	KindDeleteRequest
	KindHeartbeatRequest
	KindQueryAvailabilityRequest
	KindStorageChallengeRequest
	KindGetStorageInfoRequest

	KindStoredResponse
	KindDataResponse
	KindDeletedResponse
	KindHeartbeatAckResponse
	KindAvailabilityResponse
	KindStorageProofResponse
	KindStorageInfoResponse
	KindErrorResponse
)

// Envelope is the wire-level tagged union: Kind names which payload
// type Payload (CBOR-encoded) decodes to.
type Envelope struct {
	Kind    Kind   `cbor:"kind"`
	Payload []byte `cbor:"payload"`
}

// Encode wraps a payload value into a Kind-tagged Envelope and CBOR-
// encodes the whole thing.
func Encode(kind Kind, payload any) ([]byte, error) {
	inner, err := cbor.Marshal(payload)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "cbor marshal payload", err)
	}
	env := Envelope{Kind: kind, Payload: inner}
	out, err := cbor.Marshal(env)
	if err != nil {
		return nil, errs.Wrap(errs.CodeInternal, "cbor marshal envelope", err)
	}
	return out, nil
}

// DecodeEnvelope unwraps the outer Kind-tagged envelope only, leaving
// the caller to decode Payload into the concrete type matching Kind.
func DecodeEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := cbor.Unmarshal(data, &env); err != nil {
		return Envelope{}, errs.Wrap(errs.CodeInvalidRequest, "cbor unmarshal envelope", err)
	}
	return env, nil
}

// DecodePayload decodes env.Payload into out (a pointer to the concrete
// request/response struct matching env.Kind).
func DecodePayload(env Envelope, out any) error {
	if err := cbor.Unmarshal(env.Payload, out); err != nil {
		return errs.Wrap(errs.CodeInvalidRequest, "cbor unmarshal payload", err)
	}
	return nil
}

// Request payloads.

// OwnerPubKey carries the Ed25519 key the caller claims OwnerID hashes
// to, since node_id = SHA256(pubkey) cannot be reversed on the
// receiving end; handlers bind the two before trusting OwnerSig/Sig.
type StoreRequest struct {
	FragmentID  string    `cbor:"fragment_id"`
	OwnerID     string    `cbor:"owner_id"`
	OwnerPubKey []byte    `cbor:"owner_pub_key"`
	Data        []byte    `cbor:"data"`
	ExpiresAt   time.Time `cbor:"expires_at"`
	OwnerSig    []byte    `cbor:"owner_sig"`
}

type RetrieveRequest struct {
	FragmentID      string `cbor:"fragment_id"`
	RequesterID     string `cbor:"requester_id"`
	RequesterPubKey []byte `cbor:"requester_pub_key"`
	Sig             []byte `cbor:"sig"`
}

type DeleteRequest struct {
	FragmentID  string `cbor:"fragment_id"`
	OwnerID     string `cbor:"owner_id"`
	OwnerPubKey []byte `cbor:"owner_pub_key"`
	Sig         []byte `cbor:"sig"`
}

type HeartbeatRequest struct {
	OwnerID     string `cbor:"owner_id"`
	OwnerPubKey []byte `cbor:"owner_pub_key"`
	Timestamp   int64  `cbor:"timestamp"`
	Sig         []byte `cbor:"sig"`
}

type QueryAvailabilityRequest struct {
	RequiredBytes int64  `cbor:"required_bytes"`
	RequesterID   string `cbor:"requester_id"`
}

type StorageChallengeRequest struct {
	FragmentID  string `cbor:"fragment_id"`
	OwnerID     string `cbor:"owner_id"`
	OwnerPubKey []byte `cbor:"owner_pub_key"`
	Challenge   []byte `cbor:"challenge"`
	Sig         []byte `cbor:"sig"`
}

type GetStorageInfoRequest struct{}

// Response payloads.

type StoredResponse struct {
	FragmentID string `cbor:"fragment_id"`
	ReceiptSig []byte `cbor:"receipt_sig"`
}

type DataResponse struct {
	FragmentID string `cbor:"fragment_id"`
	Data       []byte `cbor:"data"`
	Hash       string `cbor:"hash"`
}

type DeletedResponse struct {
	FragmentID      string `cbor:"fragment_id"`
	ConfirmationSig []byte `cbor:"confirmation_sig"`
}

type HeartbeatAckResponse struct {
	NewExpiration time.Time `cbor:"new_expiration"`
}

type AvailabilityResponse struct {
	Available   int64   `cbor:"available"`
	Offered     int64   `cbor:"offered"`
	Reliability float64 `cbor:"reliability"`
}

type StorageProofResponse struct {
	FragmentID string `cbor:"fragment_id"`
	Proof      []byte `cbor:"proof"`
}

type StorageInfoResponse struct {
	Offered       int64 `cbor:"offered"`
	Used          int64 `cbor:"used"`
	FragmentCount int   `cbor:"fragment_count"`
	UptimeSeconds int64 `cbor:"uptime_seconds"`
}

// SigningData builds the canonical, colon-joined signing payload for a
// StoreRequest's owner signature: FragmentID, OwnerID, Data and
// ExpiresAt (Unix seconds), in that order. OwnerPubKey and the
// signature itself are not included.
func (r StoreRequest) SigningData() []byte {
	return []byte(strings.Join([]string{
		r.FragmentID, r.OwnerID, string(r.Data), strconv.FormatInt(r.ExpiresAt.Unix(), 10),
	}, ":"))
}

func (r RetrieveRequest) SigningData() []byte {
	return []byte(strings.Join([]string{r.FragmentID, r.RequesterID}, ":"))
}

func (r DeleteRequest) SigningData() []byte {
	return []byte(strings.Join([]string{r.FragmentID, r.OwnerID}, ":"))
}

func (r HeartbeatRequest) SigningData() []byte {
	return []byte(strings.Join([]string{r.OwnerID, strconv.FormatInt(r.Timestamp, 10)}, ":"))
}

func (r StorageChallengeRequest) SigningData() []byte {
	return []byte(strings.Join([]string{r.FragmentID, string(r.Challenge)}, ":"))
}
