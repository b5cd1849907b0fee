package aggregator

import (
	"context"

	"github.com/wavs-network/operator/internal/types"
)

// Transport is the P2P boundary the Aggregator dispatches to and accepts
// packets from. Its mechanics (discovery, gossip) are an external
// collaborator; this interface is the contract the Aggregator actually
// exercises: fire-and-forget broadcast of locally-produced packets, plus
// the catch-up exchange a reconnecting peer uses to resync. Remote packets
// flow back in through Aggregator.OnRemotePacket, not through this
// interface — a Transport calls into the Aggregator, not the reverse.
type Transport interface {
	// Broadcast disseminates a locally-produced packet to peer operators.
	Broadcast(ctx context.Context, p types.Packet) error

	// CatchupRequest asks peers for every packet they've seen for
	// eventsSince, used by a peer that was offline and needs to resync.
	CatchupRequest(ctx context.Context, since types.EventID) ([]types.Packet, error)
}

// NoopTransport discards every broadcast and returns no catch-up data; the
// correct choice for a single-operator deployment where there are no peers
// to reach.
type NoopTransport struct{}

func (NoopTransport) Broadcast(ctx context.Context, p types.Packet) error { return nil }

func (NoopTransport) CatchupRequest(ctx context.Context, since types.EventID) ([]types.Packet, error) {
	return nil, nil
}
