package main

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"cloudp2p/internal/erasure"
	"cloudp2p/internal/errs"
	"cloudp2p/internal/filepipeline"
	"cloudp2p/internal/storageproto"
)

const maxUploadBytes = 256 << 20

// handleUpload accepts a multipart "file" field, prepares it (encrypt
// + erasure-encode), places each shard on a selected storage peer (or
// locally if no peers are available yet), and records the resulting
// metadata in the file index.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "use POST", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		http.Error(w, "parse form: "+err.Error(), http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	owner := s.id.PublicID()
	now := time.Now()

	check := s.quota.CanUpload(owner, int64(len(data)), now)
	if !check.Allowed {
		writeJSON(w, map[string]any{"status": "denied", "denial": check.Denial})
		return
	}

	prepared, err := filepipeline.PrepareUpload(data, header.Filename, mimeTypeOf(header), owner, s.id.EncryptionKey, erasure.DefaultConfig(), now)
	if err != nil {
		http.Error(w, "prepare upload: "+err.Error(), http.StatusInternalServerError)
		return
	}

	s.placeShards(r.Context(), prepared)

	s.files.Add(prepared.Metadata)
	s.quota.RecordUpload(owner, int64(len(data)), now)

	writeJSON(w, map[string]any{
		"status":  "ok",
		"file_id": prepared.Metadata.FileID,
		"shards":  len(prepared.Shards),
	})
}

func mimeTypeOf(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// placeShards sends every shard to a storage peer selected from the
// registry, falling back to the local fragment store when no suitable
// remote peer is available (the single-node bootstrap case).
func (s *Server) placeShards(ctx context.Context, prepared *filepipeline.PreparedFile) {
	now := time.Now()
	owner := s.id.PublicID()

	for i := range prepared.Metadata.Shards {
		loc := &prepared.Metadata.Shards[i]
		shard, ok := prepared.GetShard(i)
		if !ok {
			continue
		}

		candidates := s.peers.SelectStoragePeers(int64(len(shard.Data)), 1, 0.0, now)
		if len(candidates) == 0 {
			expires := now.Add(90 * 24 * time.Hour)
			if err := s.frags.StoreFragment(loc.ShardID, owner, shard.Data, expires, now); err == nil {
				loc.Peers = []string{owner}
			}
			continue
		}

		target := candidates[0]
		if s.storeRemote(ctx, target.PeerID, loc.ShardID, owner, shard.Data) {
			loc.Peers = []string{target.PeerID}
		}
	}
}

func (s *Server) storeRemote(ctx context.Context, peerID, fragmentID, owner string, data []byte) bool {
	if s.node == nil {
		return false
	}
	target, err := connectedStoragePeer(ctx, s.node, peerID)
	if err != nil {
		return false
	}

	req := storageproto.StoreRequest{
		FragmentID:  fragmentID,
		OwnerID:     owner,
		OwnerPubKey: s.id.PublicKey,
		Data:        data,
		ExpiresAt:   time.Now().Add(90 * 24 * time.Hour),
	}
	req.OwnerSig = s.id.Sign(req.SigningData())

	payload, err := storageproto.Encode(storageproto.KindStoreRequest, req)
	if err != nil {
		return false
	}

	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	resp, err := s.node.SendStorageRequest(reqCtx, target, payload)
	if err != nil {
		return false
	}
	env, err := storageproto.DecodeEnvelope(resp)
	if err != nil || env.Kind != storageproto.KindStoredResponse {
		return false
	}
	return true
}

// handleDownload reconstructs a file from its shards (remote or local)
// and streams the plaintext back.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	fileID := r.URL.Query().Get("file_id")
	if fileID == "" {
		http.Error(w, "missing ?file_id=", http.StatusBadRequest)
		return
	}
	meta, ok := s.files.Get(fileID)
	if !ok {
		http.Error(w, "file not found", http.StatusNotFound)
		return
	}

	shardBytes := make([][]byte, len(meta.Shards))
	for i, loc := range meta.Shards {
		shardBytes[i] = s.fetchShard(r.Context(), loc)
	}

	plaintext, err := filepipeline.ReconstructFile(meta, shardBytes, s.id.EncryptionKey)
	if err != nil {
		if errs.GetCode(err) == errs.CodeInvalidRequest {
			http.Error(w, err.Error(), http.StatusConflict)
		} else {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}

	w.Header().Set("Content-Type", meta.MimeType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+meta.Filename+`"`)
	_, _ = w.Write(plaintext)
}

func (s *Server) fetchShard(ctx context.Context, loc filepipeline.ShardLocation) []byte {
	owner := s.id.PublicID()
	if data, ok := s.localShard(loc, owner); ok {
		return data
	}
	for _, peerID := range loc.Peers {
		if data, ok := s.remoteShard(ctx, peerID, loc.ShardID); ok {
			return data
		}
	}
	return nil
}

func (s *Server) localShard(loc filepipeline.ShardLocation, owner string) ([]byte, bool) {
	for _, p := range loc.Peers {
		if p != owner {
			continue
		}
		data, err := s.frags.RetrieveFragment(loc.ShardID, time.Now())
		if err != nil {
			return nil, false
		}
		return data, true
	}
	return nil, false
}

func (s *Server) remoteShard(ctx context.Context, peerID, fragmentID string) ([]byte, bool) {
	if s.node == nil {
		return nil, false
	}
	target, err := connectedStoragePeer(ctx, s.node, peerID)
	if err != nil {
		return nil, false
	}

	req := storageproto.RetrieveRequest{
		FragmentID:      fragmentID,
		RequesterID:     s.id.PublicID(),
		RequesterPubKey: s.id.PublicKey,
	}
	req.Sig = s.id.Sign(req.SigningData())
	payload, err := storageproto.Encode(storageproto.KindRetrieveRequest, req)
	if err != nil {
		return nil, false
	}

	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	resp, err := s.node.SendStorageRequest(reqCtx, target, payload)
	if err != nil {
		return nil, false
	}
	env, err := storageproto.DecodeEnvelope(resp)
	if err != nil || env.Kind != storageproto.KindDataResponse {
		return nil, false
	}
	var dataResp storageproto.DataResponse
	if err := storageproto.DecodePayload(env, &dataResp); err != nil {
		return nil, false
	}
	return dataResp.Data, true
}
