// Package cosmos polls a Tendermint/CometBFT RPC endpoint for new blocks and
// their events. Follows infrastructure/chain/listener_core.go's poll loop
// (ticker, lastBlock cursor, per-block transaction fan-out), retargeted from
// Neo N3's GetBlock/GetApplicationLog pair onto CometBFT's
// Status/BlockResults RPC calls.
package cosmos

import (
	"context"
	"sync"
	"time"

	rpchttp "github.com/cometbft/cometbft/rpc/client/http"
	coretypes "github.com/cometbft/cometbft/rpc/core/types"
	werrors "github.com/wavs-network/operator/internal/errors"
)

// BlockEvent is one ABCI event emitted by a transaction in a polled block.
type BlockEvent struct {
	Height     uint64
	TxHash     string
	EventType  string
	Attributes map[string]string
}

// Client polls a CometBFT RPC node block by block.
type Client struct {
	mu           sync.RWMutex
	rpc          *rpchttp.HTTP
	pollInterval time.Duration
	lastHeight   uint64
}

// NewClient dials rpcURL (e.g. "https://rpc.osmosis.zone:443").
func NewClient(rpcURL string, startHeight uint64, pollInterval time.Duration) (*Client, error) {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	c, err := rpchttp.New(rpcURL, "/websocket")
	if err != nil {
		return nil, werrors.Wrap(werrors.KindTriggerConnection, "dial cometbft rpc", err)
	}
	return &Client{rpc: c, pollInterval: pollInterval, lastHeight: startHeight}, nil
}

// LatestHeight returns the node's current block height, used by the
// block-interval trigger stream.
func (c *Client) LatestHeight(ctx context.Context) (uint64, error) {
	status, err := c.rpc.Status(ctx)
	if err != nil {
		return 0, werrors.Wrap(werrors.KindTriggerConnection, "status", err)
	}
	return uint64(status.SyncInfo.LatestBlockHeight), nil
}

// PollNewBlocks runs until ctx is canceled, invoking onEvent for each ABCI
// event found in every block since the last call.
func (c *Client) PollNewBlocks(ctx context.Context, onEvent func(BlockEvent)) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.processNewBlocks(ctx, onEvent); err != nil {
				// transient RPC hiccups don't kill the poll loop; the caller's
				// supervisor decides whether repeated failures are fatal.
				continue
			}
		}
	}
}

func (c *Client) processNewBlocks(ctx context.Context, onEvent func(BlockEvent)) error {
	latest, err := c.LatestHeight(ctx)
	if err != nil {
		return err
	}

	c.mu.RLock()
	last := c.lastHeight
	c.mu.RUnlock()

	for h := last + 1; h <= latest; h++ {
		results, err := c.rpc.BlockResults(ctx, heightPtr(int64(h)))
		if err != nil {
			return werrors.Wrap(werrors.KindTriggerConnection, "block results", err)
		}
		c.emitEvents(h, results, onEvent)

		c.mu.Lock()
		c.lastHeight = h
		c.mu.Unlock()
	}
	return nil
}

func (c *Client) emitEvents(height uint64, results *coretypes.ResultBlockResults, onEvent func(BlockEvent)) {
	for _, txResult := range results.TxsResults {
		for _, ev := range txResult.Events {
			attrs := make(map[string]string, len(ev.Attributes))
			for _, a := range ev.Attributes {
				attrs[string(a.Key)] = string(a.Value)
			}
			onEvent(BlockEvent{
				Height:     height,
				EventType:  ev.Type,
				Attributes: attrs,
			})
		}
	}
}

func heightPtr(h int64) *int64 { return &h }

// BroadcastTx submits a pre-signed transaction and waits for CheckTx
// acceptance, used by the Submission Manager's cosmos_contract path. Full
// transaction construction (account/sequence lookup, protobuf encoding,
// signing) is the caller's responsibility via a submission.CosmosTxSigner — this runtime
// does not depend on the full cosmos-sdk client stack, only cometbft's RPC.
func (c *Client) BroadcastTx(ctx context.Context, signedTx []byte) (*coretypes.ResultBroadcastTx, error) {
	res, err := c.rpc.BroadcastTxSync(ctx, signedTx)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindSubmissionNetwork, "broadcast tx", err)
	}
	return res, nil
}
