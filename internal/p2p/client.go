package p2p

import (
	"context"
	"fmt"
	"io"

	"github.com/libp2p/go-libp2p/core/peer"
)

// SendStorageRequest opens a stream to target carrying the storage
// protocol, writes req (an already-CBOR-encoded envelope), closes the
// write side, and reads back the peer's full response.
func (n *Node) SendStorageRequest(ctx context.Context, target peer.ID, req []byte) ([]byte, error) {
	s, err := n.h.NewStream(ctx, target, StorageProtocolID)
	if err != nil {
		return nil, fmt.Errorf("open storage stream to %s: %w", target, err)
	}
	defer s.Close()

	if _, err := s.Write(req); err != nil {
		return nil, fmt.Errorf("write storage request: %w", err)
	}
	if err := s.CloseWrite(); err != nil {
		return nil, fmt.Errorf("close write side: %w", err)
	}

	resp, err := io.ReadAll(s)
	if err != nil {
		return nil, fmt.Errorf("read storage response: %w", err)
	}
	return resp, nil
}
