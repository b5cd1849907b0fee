// Package chain holds the per-namespace chain configuration registry and
// the EVM/Cosmos client implementations the Trigger Manager and Submission
// Manager dial into. Follows infrastructure/chain/registry.go and
// chain_config.go (RWMutex-guarded config map, hot-add), here keyed by
// types.ChainKey instead of a single Neo network id.
package chain

import (
	"fmt"
	"sync"

	"github.com/wavs-network/operator/internal/types"
)

// Config describes how to reach one registered chain.
type Config struct {
	Key     types.ChainKey
	RPCURL  string // HTTP(S) JSON-RPC / REST endpoint
	WSURL   string // used by EVM for eth_subscribe; empty disables subscriptions
	ChainID uint64 // EVM numeric chain id; ignored for Cosmos
}

// Registry is the dispatcher-owned set of chains operators have configured.
// Workflow.Validate consults it via its knownChain callback.
type Registry struct {
	mu    sync.RWMutex
	chain map[types.ChainKey]Config
}

func NewRegistry() *Registry {
	return &Registry{chain: make(map[types.ChainKey]Config)}
}

// Add registers or replaces a chain's configuration. Safe to call while the
// runtime is live ("hot-add").
func (r *Registry) Add(cfg Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chain[cfg.Key] = cfg
}

func (r *Registry) Remove(key types.ChainKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.chain, key)
}

func (r *Registry) Get(key types.ChainKey) (Config, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cfg, ok := r.chain[key]
	return cfg, ok
}

// Known implements the func(types.ChainKey) bool signature Workflow.Validate
// expects.
func (r *Registry) Known(key types.ChainKey) bool {
	_, ok := r.Get(key)
	return ok
}

func (r *Registry) List() []Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Config, 0, len(r.chain))
	for _, cfg := range r.chain {
		out = append(out, cfg)
	}
	return out
}

// ErrChainNotRegistered is returned by callers that resolve a Config and
// find nothing.
func ErrChainNotRegistered(key types.ChainKey) error {
	return fmt.Errorf("chain %s not registered", key)
}
