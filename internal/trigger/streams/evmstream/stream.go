// Package evmstream turns an evm.Client's push subscription into
// TriggerData ready for lookup-table resolution. Follows
// infrastructure/chain/listener_events_*.go's event-to-handler fan-out,
// generalized to emit a single normalized event shape instead of one
// per-contract-type handler.
package evmstream

import (
	"context"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/wavs-network/operator/internal/chain/evm"
	"github.com/wavs-network/operator/internal/logging"
	"github.com/wavs-network/operator/internal/types"
)

// Event is a normalized EVM log, handed upstream for lookup-table matching
// on (address, topic0).
type Event struct {
	Chain types.ChainKey
	Log   gethtypes.Log
}

// Stream subscribes to logs emitted by addresses (every log on the chain
// when addresses is empty, as the Trigger Manager passes it) and
// republishes them on out.
type Stream struct {
	chain     types.ChainKey
	client    *evm.Client
	addresses []common.Address
	logger    *logging.Logger
}

func New(chain types.ChainKey, client *evm.Client, addresses []common.Address, logger *logging.Logger) *Stream {
	return &Stream{chain: chain, client: client, addresses: addresses, logger: logger}
}

// Run subscribes and forwards logs to out until ctx is canceled. The
// underlying client owns reconnection; Run just adapts raw logs to Events.
func (s *Stream) Run(ctx context.Context, out chan<- Event) error {
	q := ethereum.FilterQuery{Addresses: s.addresses}
	logCh := make(chan gethtypes.Log, 256)
	if err := s.client.SubscribeLogs(ctx, q, logCh); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-logCh:
			if !ok {
				return nil
			}
			select {
			case out <- Event{Chain: s.chain, Log: l}:
			case <-ctx.Done():
				return nil
			}
		}
	}
}

// ToTriggerData adapts a matched log into the payload the Engine consumes.
func ToTriggerData(ev Event) types.TriggerData {
	topics := make([][]byte, len(ev.Log.Topics))
	for i, t := range ev.Log.Topics {
		topics[i] = t.Bytes()
	}
	return types.TriggerData{
		Kind:        types.TriggerDataEvmContractEvent,
		BlockNumber: ev.Log.BlockNumber,
		LogIndex:    uint64(ev.Log.Index),
		TxHash:      ev.Log.TxHash.Hex(),
		Topics:      topics,
		Data:        ev.Log.Data,
	}
}

// Topic0 returns the hex-encoded primary topic used to key the lookup
// table, or "" if the log is anonymous.
func Topic0(ev Event) string {
	if len(ev.Log.Topics) == 0 {
		return ""
	}
	return ev.Log.Topics[0].Hex()
}

// Address returns the checksum address the log was emitted from, used to
// key the lookup table.
func Address(ev Event) string {
	return ev.Log.Address.Hex()
}
