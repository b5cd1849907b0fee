// Package evm wraps go-ethereum's client for the subset of behavior the
// Trigger Manager and Submission Manager need: subscribing to contract logs
// and sending signed raw transactions. Follows infrastructure/chain/
// client.go and rpcpool.go's RPC-pool/failover shape, generalized from Neo
// N3's JSON-RPC polling to real eth_subscribe push notifications over a
// websocket endpoint.
package evm

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	werrors "github.com/wavs-network/operator/internal/errors"
)

// Client wraps an ethclient.Client with the reconnect bookkeeping the
// Trigger Manager's long-lived subscriptions need.
type Client struct {
	mu      sync.RWMutex
	wsURL   string
	httpURL string
	eth     *ethclient.Client

	backoff time.Duration
	maxBack time.Duration
}

// NewClient dials the HTTP endpoint eagerly; the websocket endpoint (used
// for subscriptions) is dialed lazily by SubscribeLogs, which also owns
// reconnection.
func NewClient(ctx context.Context, httpURL, wsURL string) (*Client, error) {
	eth, err := ethclient.DialContext(ctx, httpURL)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindTriggerConnection, "dial evm rpc", err)
	}
	return &Client{
		httpURL: httpURL,
		wsURL:   wsURL,
		eth:     eth,
		backoff: 500 * time.Millisecond,
		maxBack: 30 * time.Second,
	}, nil
}

func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.eth != nil {
		c.eth.Close()
	}
}

// BlockNumber returns the current chain head, used by the block-interval
// trigger stream.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	n, err := eth.BlockNumber(ctx)
	if err != nil {
		return 0, werrors.Wrap(werrors.KindTriggerConnection, "block number", err)
	}
	return n, nil
}

// FilterLogs runs a one-shot log query over the HTTP endpoint. The
// SubscribeLogs reconnect loop does not call it, so logs emitted while the
// subscription was down are not replayed.
func (c *Client) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	logs, err := eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindTriggerConnection, "filter logs", err)
	}
	return logs, nil
}

// SubscribeLogs opens a push subscription over the websocket endpoint,
// redialing with exponential backoff whenever the subscription's error
// channel fires, until ctx is canceled. Delivered logs are sent on out;
// callers must drain it.
func (c *Client) SubscribeLogs(ctx context.Context, q ethereum.FilterQuery, out chan<- types.Log) error {
	if c.wsURL == "" {
		return werrors.New(werrors.KindConfig, "no websocket endpoint configured for evm subscriptions")
	}
	go c.subscribeLoop(ctx, q, out)
	return nil
}

func (c *Client) subscribeLoop(ctx context.Context, q ethereum.FilterQuery, out chan<- types.Log) {
	backoff := c.backoff
	for {
		if ctx.Err() != nil {
			return
		}
		wsClient, err := ethclient.DialContext(ctx, c.wsURL)
		if err != nil {
			backoff = c.sleepBackoff(ctx, backoff)
			continue
		}

		logCh := make(chan types.Log, 256)
		sub, err := wsClient.SubscribeFilterLogs(ctx, q, logCh)
		if err != nil {
			wsClient.Close()
			backoff = c.sleepBackoff(ctx, backoff)
			continue
		}

		backoff = c.backoff // reset after a clean connect
		drained := c.drainSubscription(ctx, sub, logCh, out)
		wsClient.Close()
		if !drained {
			return
		}
	}
}

// drainSubscription forwards logs until the subscription errors or ctx is
// done; returns false if the caller should stop entirely (ctx done).
func (c *Client) drainSubscription(ctx context.Context, sub ethereum.Subscription, logCh <-chan types.Log, out chan<- types.Log) bool {
	defer sub.Unsubscribe()
	for {
		select {
		case <-ctx.Done():
			return false
		case err := <-sub.Err():
			_ = err
			return true
		case l := <-logCh:
			select {
			case out <- l:
			case <-ctx.Done():
				return false
			}
		}
	}
}

func (c *Client) sleepBackoff(ctx context.Context, backoff time.Duration) time.Duration {
	select {
	case <-ctx.Done():
	case <-time.After(backoff):
	}
	next := backoff * 2
	if next > c.maxBack {
		next = c.maxBack
	}
	return next
}

// SendRawTransaction broadcasts a signed transaction, used by the
// Submission Manager's evm_contract path.
func (c *Client) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	if err := eth.SendTransaction(ctx, tx); err != nil {
		return werrors.Wrap(werrors.KindSubmissionNetwork, "send raw transaction", err)
	}
	return nil
}

func (c *Client) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	p, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindSubmissionNetwork, "suggest gas price", err)
	}
	return p, nil
}

func (c *Client) NonceAt(ctx context.Context, addr common.Address) (uint64, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	n, err := eth.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, werrors.Wrap(werrors.KindSubmissionNetwork, "pending nonce", err)
	}
	return n, nil
}

// CallContract performs a read-only eth_call against to with calldata,
// against the latest block. Used by the Aggregator's finalization check
// (the destination service manager's validate() view function).
func (c *Client) CallContract(ctx context.Context, to common.Address, calldata []byte) ([]byte, error) {
	c.mu.RLock()
	eth := c.eth
	c.mu.RUnlock()
	out, err := eth.CallContract(ctx, ethereum.CallMsg{To: &to, Data: calldata}, nil)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindSubmissionNetwork, "call contract", err)
	}
	return out, nil
}
