// Package transport defines the duplex frame-carrying collaborator the
// gateway depends on: a P2P transport with peer identity is out of scope
// for this module (spec: "the P2P transport... external collaborator,
// interface only") — Transport is the seam a host application implements
// against its real wire (QUIC, WebSocket, whatever carries frame bytes
// between agent and gateway).
package transport

import "context"

// Transport sends and receives raw frame bytes to/from identified peers.
// Frame construction, signing, and verification (pkg/frame) are layered
// on top; Transport itself is byte-oriented and peer-identity-aware only.
type Transport interface {
	// Recv blocks until a frame arrives, returning its sender's peer_id
	// and the raw frame bytes.
	Recv(ctx context.Context) (peerID string, raw []byte, err error)

	// Send delivers raw frame bytes to peerID.
	Send(ctx context.Context, peerID string, raw []byte) error
}
