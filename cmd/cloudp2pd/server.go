package main

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"cloudp2p/internal/errs"
	"cloudp2p/internal/filepipeline"
	"cloudp2p/internal/fragstore"
	"cloudp2p/internal/identity"
	"cloudp2p/internal/p2p"
	"cloudp2p/internal/peerregistry"
	"cloudp2p/internal/quota"
	"cloudp2p/internal/storageproto"
)

// Server ties together every component a running node needs and
// exposes them over two HTTP surfaces: PublicHandler serves peer-facing
// read-only endpoints, ControlHandler serves the loopback-only operator
// API (upload/download/status).
type Server struct {
	id      *identity.Identity
	files   *filepipeline.FileManager
	frags   *fragstore.Manager
	peers   *peerregistry.Registry
	quota   *quota.Manager
	node    *p2p.Node
	started time.Time
}

// writeJSON writes v as a JSON response body.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// HandleEnvelope dispatches one decoded storage-protocol request to the
// local fragment store / quota manager and returns the CBOR-encoded
// response envelope. It is wired as the p2p.StreamHandler for every
// inbound /cloudp2p/storage/1.0.0 stream.
func (s *Server) HandleEnvelope(from peer.ID, raw []byte) ([]byte, error) {
	env, err := storageproto.DecodeEnvelope(raw)
	if err != nil {
		return s.errorResponse(err)
	}

	switch env.Kind {
	case storageproto.KindStoreRequest:
		return s.handleStore(env)
	case storageproto.KindRetrieveRequest:
		return s.handleRetrieve(env)
	case storageproto.KindDeleteRequest:
		return s.handleDelete(env)
	case storageproto.KindHeartbeatRequest:
		return s.handleHeartbeat(env)
	case storageproto.KindQueryAvailabilityRequest:
		return s.handleQueryAvailability(env)
	case storageproto.KindStorageChallengeRequest:
		return s.handleChallenge(env)
	case storageproto.KindGetStorageInfoRequest:
		return s.handleGetStorageInfo()
	default:
		return s.errorResponse(errs.New(errs.CodeInvalidRequest, "unknown request kind"))
	}
}

func (s *Server) errorResponse(err error) ([]byte, error) {
	payload := storageproto.ToErrorPayload(err)
	return storageproto.Encode(storageproto.KindErrorResponse, payload)
}

// storeExpirationDays is the lifetime handleStore builds each contract
// with; the contract's ExpiresAt is then replaced by the expiry carried
// in the StoreRequest itself.
const storeExpirationDays = 90

func (s *Server) handleStore(env storageproto.Envelope) ([]byte, error) {
	var req storageproto.StoreRequest
	if err := storageproto.DecodePayload(env, &req); err != nil {
		return s.errorResponse(err)
	}
	if err := storageproto.VerifySigned(req.OwnerID, req.OwnerPubKey, req.OwnerSig, req.SigningData()); err != nil {
		return s.errorResponse(err)
	}

	// req.OwnerSig, already verified above against req.SigningData(), is
	// the owner's authorization for exactly this fragment/data/expiry; it
	// becomes the contract's owner signature. The storage peer's own
	// counter-signature is computed fresh, over the contract's own
	// canonical fields, once it actually admits the fragment.
	now := time.Now()
	contract := storageproto.NewStorageContract(req.FragmentID, req.OwnerID, s.id.PublicID(), int64(len(req.Data)), storeExpirationDays, now)
	contract.ExpiresAt = req.ExpiresAt
	contract.OwnerSignature = req.OwnerSig

	if err := s.frags.StoreFragment(req.FragmentID, req.OwnerID, req.Data, contract.ExpiresAt, now); err != nil {
		return s.errorResponse(err)
	}
	contract.CounterSignAsStoragePeer(s.id.Sign)
	s.quota.RecordShardHosted(req.OwnerID, int64(len(req.Data)), now)

	resp := storageproto.StoredResponse{
		FragmentID: req.FragmentID,
		ReceiptSig: contract.StorageSignature,
	}
	return storageproto.Encode(storageproto.KindStoredResponse, resp)
}

func (s *Server) handleRetrieve(env storageproto.Envelope) ([]byte, error) {
	var req storageproto.RetrieveRequest
	if err := storageproto.DecodePayload(env, &req); err != nil {
		return s.errorResponse(err)
	}
	if err := storageproto.VerifySigned(req.RequesterID, req.RequesterPubKey, req.Sig, req.SigningData()); err != nil {
		return s.errorResponse(err)
	}
	data, err := s.frags.RetrieveFragment(req.FragmentID, time.Now())
	if err != nil {
		return s.errorResponse(err)
	}
	resp := storageproto.DataResponse{FragmentID: req.FragmentID, Data: data}
	return storageproto.Encode(storageproto.KindDataResponse, resp)
}

func (s *Server) handleDelete(env storageproto.Envelope) ([]byte, error) {
	var req storageproto.DeleteRequest
	if err := storageproto.DecodePayload(env, &req); err != nil {
		return s.errorResponse(err)
	}
	if err := storageproto.VerifySigned(req.OwnerID, req.OwnerPubKey, req.Sig, req.SigningData()); err != nil {
		return s.errorResponse(err)
	}
	rec, ok := s.frags.Get(req.FragmentID)
	if !ok {
		return s.errorResponse(errs.ErrNotFound)
	}
	if rec.OwnerID != req.OwnerID {
		return s.errorResponse(errs.ErrPermissionDenied)
	}
	if err := s.frags.DeleteFragment(req.FragmentID); err != nil {
		return s.errorResponse(err)
	}
	resp := storageproto.DeletedResponse{FragmentID: req.FragmentID, ConfirmationSig: s.id.Sign([]byte(req.FragmentID))}
	return storageproto.Encode(storageproto.KindDeletedResponse, resp)
}

func (s *Server) handleHeartbeat(env storageproto.Envelope) ([]byte, error) {
	var req storageproto.HeartbeatRequest
	if err := storageproto.DecodePayload(env, &req); err != nil {
		return s.errorResponse(err)
	}
	if err := storageproto.VerifySigned(req.OwnerID, req.OwnerPubKey, req.Sig, req.SigningData()); err != nil {
		return s.errorResponse(err)
	}
	n, err := s.frags.ExtendOwnerFragments(req.OwnerID, 7, time.Now())
	if err != nil {
		return s.errorResponse(err)
	}
	newExpiration := time.Now().Add(7 * 24 * time.Hour)
	if n == 0 {
		newExpiration = time.Now()
	}
	resp := storageproto.HeartbeatAckResponse{NewExpiration: newExpiration}
	return storageproto.Encode(storageproto.KindHeartbeatAckResponse, resp)
}

func (s *Server) handleQueryAvailability(env storageproto.Envelope) ([]byte, error) {
	var req storageproto.QueryAvailabilityRequest
	if err := storageproto.DecodePayload(env, &req); err != nil {
		return s.errorResponse(err)
	}
	stats := s.frags.GetStats(time.Now())
	offered := int64(s.frags.Capacity())
	available := offered - int64(stats.UsedBytes)
	if available < 0 {
		available = 0
	}
	resp := storageproto.AvailabilityResponse{
		Available:   available,
		Offered:     offered,
		Reliability: 1.0,
	}
	return storageproto.Encode(storageproto.KindAvailabilityResponse, resp)
}

func (s *Server) handleChallenge(env storageproto.Envelope) ([]byte, error) {
	var req storageproto.StorageChallengeRequest
	if err := storageproto.DecodePayload(env, &req); err != nil {
		return s.errorResponse(err)
	}
	if err := storageproto.VerifySigned(req.OwnerID, req.OwnerPubKey, req.Sig, req.SigningData()); err != nil {
		return s.errorResponse(err)
	}
	rec, ok := s.frags.Get(req.FragmentID)
	if !ok {
		return s.errorResponse(errs.ErrNotFound)
	}
	if rec.OwnerID != req.OwnerID {
		return s.errorResponse(errs.ErrPermissionDenied)
	}
	proof, err := s.frags.ProveStorage(req.FragmentID, req.Challenge)
	if err != nil {
		return s.errorResponse(err)
	}
	resp := storageproto.StorageProofResponse{FragmentID: req.FragmentID, Proof: proof[:]}
	return storageproto.Encode(storageproto.KindStorageProofResponse, resp)
}

func (s *Server) handleGetStorageInfo() ([]byte, error) {
	stats := s.frags.GetStats(time.Now())
	resp := storageproto.StorageInfoResponse{
		Used:          int64(stats.UsedBytes),
		FragmentCount: stats.FragmentCount,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	}
	return storageproto.Encode(storageproto.KindStorageInfoResponse, resp)
}

// PublicHandler exposes peer-facing, read-only endpoints.
func (s *Server) PublicHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"node_id": s.id.PublicID(), "time": time.Now().UTC()})
	})

	mux.HandleFunc("/storage-info", func(w http.ResponseWriter, r *http.Request) {
		resp, err := s.handleGetStorageInfo()
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		env, _ := storageproto.DecodeEnvelope(resp)
		var info storageproto.StorageInfoResponse
		_ = storageproto.DecodePayload(env, &info)
		writeJSON(w, info)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.Printf("[public] %s %s", r.Method, r.URL.Path)
		mux.ServeHTTP(w, r)
	})
}

// ControlHandler exposes the loopback-only operator API.
func (s *Server) ControlHandler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{
			"node_id":    s.id.PublicID(),
			"peer_count": s.peers.Len(),
			"uptime_s":   int64(time.Since(s.started).Seconds()),
			"time":       time.Now().UTC(),
		})
	})

	mux.HandleFunc("/peers", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.peers.SelectStoragePeers(0, 1<<20, 0, time.Now()))
	})

	mux.HandleFunc("/quota/summary", func(w http.ResponseWriter, r *http.Request) {
		owner := r.URL.Query().Get("owner")
		if owner == "" {
			owner = s.id.PublicID()
		}
		writeJSON(w, s.quota.Summary(owner, time.Now()))
	})

	mux.HandleFunc("/quota/network", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.quota.NetworkStats(time.Now()))
	})

	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.files.List(s.id.PublicID()))
	})

	mux.HandleFunc("/upload", s.handleUpload)
	mux.HandleFunc("/download", s.handleDownload)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, _ := net.SplitHostPort(r.RemoteAddr)
		if host != "127.0.0.1" && host != "::1" {
			http.Error(w, "local-only", http.StatusForbidden)
			return
		}
		log.Printf("[control] %s %s", r.Method, r.URL.Path)
		mux.ServeHTTP(w, r)
	})
}

// connectedStoragePeer resolves a registry PeerInfo's ID into a libp2p
// peer.ID the node can dial over the storage stream protocol.
func connectedStoragePeer(ctx context.Context, node *p2p.Node, id string) (peer.ID, error) {
	return peer.Decode(id)
}
