// Package p2p builds the libp2p host each node runs, wiring mDNS
// discovery, ping-based RTT sampling, and a single storage-protocol
// stream handler on top of it.
package p2p

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"

	"cloudp2p/internal/identity"
	"cloudp2p/internal/peerregistry"
)

// StorageProtocolID is the single stream protocol carrying the CBOR
// request/response envelope for the storage contract & fragment
// lifecycle.
const StorageProtocolID = "/cloudp2p/storage/1.0.0"

const mdnsTag = "cloudp2p-mdns"

func envPort(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if p, err := strconv.Atoi(v); err == nil && p > 0 && p < 65536 {
		return p
	}
	return def
}

// buildListenAddrs returns the TCP, QUIC-v1 and WebRTC multiaddrs a
// node listens on. QUIC and WebRTC must not share a UDP port.
func buildListenAddrs() []string {
	quicPort := envPort("CLOUDP2P_QUIC_PORT", 4003)
	wrtcPort := envPort("CLOUDP2P_WEBRTC_PORT", 4004)

	return []string{
		"/ip4/0.0.0.0/tcp/0",
		"/ip6/::/tcp/0",
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", quicPort),
		fmt.Sprintf("/ip6/::/udp/%d/quic-v1", quicPort),
		fmt.Sprintf("/ip4/0.0.0.0/udp/%d/webrtc", wrtcPort),
		fmt.Sprintf("/ip6/::/udp/%d/webrtc", wrtcPort),
	}
}

// StreamHandler processes a single decoded storage-protocol envelope
// and returns the envelope bytes to write back, if any.
type StreamHandler func(peer.ID, []byte) ([]byte, error)

// Node is a node's libp2p host together with the peer bookkeeping
// (RTT samples, discovery) layered on top of it.
type Node struct {
	h        host.Host
	selfID   *identity.Identity
	registry *peerregistry.Registry

	latMu sync.Mutex
	rtts  map[peer.ID]time.Duration

	handler    StreamHandler
	enableMDNS bool
}

type mdnsNotifee struct{ h host.Host }

func (m *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = m.h.Connect(ctx, info)
}

// New constructs the libp2p host, starts mDNS (if enabled), registers
// the storage stream handler and launches the background ping loop.
// id's Ed25519 signing key becomes the host's libp2p identity, so a
// node's storage-protocol peer ID is derived from the same mnemonic
// that produced its public ID.
func New(ctx context.Context, id *identity.Identity, registry *peerregistry.Registry, enableMDNS bool, handler StreamHandler) (*Node, error) {
	libPriv, err := crypto.UnmarshalEd25519PrivateKey(id.SigningKey)
	if err != nil {
		return nil, fmt.Errorf("unmarshal libp2p identity key: %w", err)
	}

	h, err := libp2p.New(
		libp2p.Identity(libPriv),
		libp2p.DefaultSecurity,
		libp2p.DefaultMuxers,
		libp2p.DefaultTransports,
		libp2p.ListenAddrStrings(buildListenAddrs()...),
	)
	if err != nil {
		return nil, fmt.Errorf("new libp2p host: %w", err)
	}

	n := &Node{
		h:          h,
		selfID:     id,
		registry:   registry,
		rtts:       map[peer.ID]time.Duration{},
		handler:    handler,
		enableMDNS: enableMDNS,
	}

	h.SetStreamHandler(StorageProtocolID, n.handleStream)

	if enableMDNS {
		svc := mdns.NewMdnsService(h, mdnsTag, &mdnsNotifee{h})
		if err := svc.Start(); err != nil {
			return nil, fmt.Errorf("start mdns: %w", err)
		}
	}

	go n.pingLoop(ctx)

	return n, nil
}

// Host exposes the underlying libp2p host for transport-level needs
// (dialing, address listing) that callers outside this package need.
func (n *Node) Host() host.Host { return n.h }

// PeerID returns this node's libp2p peer ID.
func (n *Node) PeerID() peer.ID { return n.h.ID() }

func (n *Node) handleStream(s network.Stream) {
	defer s.Close()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		nr, err := s.Read(chunk)
		if nr > 0 {
			buf = append(buf, chunk[:nr]...)
		}
		if err != nil {
			break
		}
	}
	if len(buf) == 0 {
		return
	}

	if n.handler == nil {
		return
	}
	resp, err := n.handler(s.Conn().RemotePeer(), buf)
	if err != nil || resp == nil {
		return
	}
	_, _ = s.Write(resp)
}

// pingLoop periodically pings every connected peer and feeds the
// resulting RTT into the latency map and, if present, the peer
// registry's LatencyMS field.
func (n *Node) pingLoop(ctx context.Context) {
	svc := ping.NewPingService(n.h)
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, pid := range n.h.Network().Peers() {
				n.pingOnce(ctx, svc, pid)
			}
		}
	}
}

func (n *Node) pingOnce(ctx context.Context, svc *ping.PingService, pid peer.ID) {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	ch := svc.Ping(pingCtx, pid)
	select {
	case res := <-ch:
		if res.Error != nil {
			return
		}
		n.latMu.Lock()
		n.rtts[pid] = res.RTT
		n.latMu.Unlock()

		if n.registry != nil {
			if p, ok := n.registry.Get(pid.String()); ok {
				p.LatencyMS = float64(res.RTT.Milliseconds())
				n.registry.AddPeer(p, time.Now())
			}
		}
	case <-pingCtx.Done():
	}
}

// NearestPeer returns the connected peer with the lowest observed RTT.
func (n *Node) NearestPeer() (peer.ID, time.Duration, bool) {
	n.latMu.Lock()
	defer n.latMu.Unlock()

	var best peer.ID
	var bestRTT time.Duration
	found := false
	for _, pid := range n.h.Network().Peers() {
		rtt, ok := n.rtts[pid]
		if !ok {
			continue
		}
		if !found || rtt < bestRTT {
			best, bestRTT, found = pid, rtt, true
		}
	}
	return best, bestRTT, found
}

// Connect dials a bootstrap peer given as a multiaddr string
// (including the /p2p/<id> suffix).
func (n *Node) Connect(ctx context.Context, addr string) error {
	info, err := peer.AddrInfoFromString(addr)
	if err != nil {
		return fmt.Errorf("parse bootstrap addr %q: %w", addr, err)
	}
	return n.h.Connect(ctx, *info)
}

// Close shuts down the host.
func (n *Node) Close() error {
	return n.h.Close()
}
