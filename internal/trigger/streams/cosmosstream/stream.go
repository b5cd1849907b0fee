// Package cosmosstream adapts a cosmos.Client's block-polling callback into
// the same Event/TriggerData shape evmstream produces, so the Trigger
// Manager's merge loop treats both chain families uniformly.
package cosmosstream

import (
	"context"

	"github.com/wavs-network/operator/internal/chain/cosmos"
	"github.com/wavs-network/operator/internal/logging"
	"github.com/wavs-network/operator/internal/types"
)

// Event is a normalized Cosmos ABCI event.
type Event struct {
	Chain types.ChainKey
	Block cosmos.BlockEvent
}

type Stream struct {
	chain  types.ChainKey
	client *cosmos.Client
	logger *logging.Logger
}

func New(chain types.ChainKey, client *cosmos.Client, logger *logging.Logger) *Stream {
	return &Stream{chain: chain, client: client, logger: logger}
}

// Run polls until ctx is canceled, forwarding every ABCI event to out.
func (s *Stream) Run(ctx context.Context, out chan<- Event) error {
	return s.client.PollNewBlocks(ctx, func(be cosmos.BlockEvent) {
		select {
		case out <- Event{Chain: s.chain, Block: be}:
		case <-ctx.Done():
		}
	})
}

func ToTriggerData(ev Event) types.TriggerData {
	return types.TriggerData{
		Kind:        types.TriggerDataCosmosContractEvent,
		BlockHeight: ev.Block.Height,
		TxHash:      ev.Block.TxHash,
		Attributes:  ev.Block.Attributes,
	}
}

// EventType returns the attribute-mapped event type used to key the lookup
// table. Cosmos events carry no contract address in the ABCI event itself;
// the "_contract_address" attribute (wasmd convention) stands in for it.
func EventType(ev Event) string {
	return ev.Block.EventType
}

func ContractAddress(ev Event) string {
	return ev.Block.Attributes["_contract_address"]
}
