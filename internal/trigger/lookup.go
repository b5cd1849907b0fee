// Package trigger resolves raw on-chain/scheduled events into TriggerActions
// and routes them to the Engine. Follows infrastructure/chain/registry.go's
// filtering-by-address pattern, generalized from a single Neo N3 contract
// address map to the three independent index kinds a workflow's Trigger can
// declare.
package trigger

import (
	"sync"

	"github.com/wavs-network/operator/internal/types"
)

// Entry names the (service, workflow) a matched trigger resolves to.
type Entry struct {
	Service  types.ServiceID
	Workflow types.WorkflowID
}

type contractKey struct {
	chain   types.ChainKey
	address string
	topic   string // EVM: topic0 hex; Cosmos: mapped event type
}

type intervalKey struct {
	chain types.ChainKey
}

// Lookup holds the three index maps the Trigger Manager consults when a
// stream delivers a candidate event, all behind one RWMutex.
type Lookup struct {
	mu           sync.RWMutex
	byEvmEvent   map[contractKey][]Entry
	byCosmosEvent map[contractKey][]Entry
	byInterval   map[intervalKey][]Entry
}

func NewLookup() *Lookup {
	return &Lookup{
		byEvmEvent:    make(map[contractKey][]Entry),
		byCosmosEvent: make(map[contractKey][]Entry),
		byInterval:    make(map[intervalKey][]Entry),
	}
}

// Index registers every trigger-bearing workflow of service into the
// appropriate map. Called at startup and whenever a service is hot-added.
func (l *Lookup) Index(service *types.Service) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, wf := range service.Workflows {
		entry := Entry{Service: service.ID, Workflow: wf.ID}
		switch wf.Trigger.Kind {
		case types.TriggerEvmContractEvent:
			key := contractKey{chain: wf.Trigger.Chain, address: wf.Trigger.ContractAddress, topic: wf.Trigger.EventType}
			l.byEvmEvent[key] = append(l.byEvmEvent[key], entry)
		case types.TriggerCosmosContractEvent:
			key := contractKey{chain: wf.Trigger.Chain, address: wf.Trigger.ContractAddress, topic: wf.Trigger.EventType}
			l.byCosmosEvent[key] = append(l.byCosmosEvent[key], entry)
		case types.TriggerBlockInterval:
			key := intervalKey{chain: wf.Trigger.Chain}
			l.byInterval[key] = append(l.byInterval[key], entry)
		}
	}
}

// Unindex removes every entry belonging to service, used when a service is
// removed or paused.
func (l *Lookup) Unindex(service *types.Service) {
	l.mu.Lock()
	defer l.mu.Unlock()

	remove := func(m map[contractKey][]Entry) {
		for k, entries := range m {
			filtered := entries[:0]
			for _, e := range entries {
				if e.Service != service.ID {
					filtered = append(filtered, e)
				}
			}
			if len(filtered) == 0 {
				delete(m, k)
			} else {
				m[k] = filtered
			}
		}
	}
	remove(l.byEvmEvent)
	remove(l.byCosmosEvent)

	for k, entries := range l.byInterval {
		filtered := entries[:0]
		for _, e := range entries {
			if e.Service != service.ID {
				filtered = append(filtered, e)
			}
		}
		if len(filtered) == 0 {
			delete(l.byInterval, k)
		} else {
			l.byInterval[k] = filtered
		}
	}
}

func (l *Lookup) ResolveEvmEvent(chain types.ChainKey, address, topic0 string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.byEvmEvent[contractKey{chain: chain, address: address, topic: topic0}]...)
}

func (l *Lookup) ResolveCosmosEvent(chain types.ChainKey, address, eventType string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.byCosmosEvent[contractKey{chain: chain, address: address, topic: eventType}]...)
}

func (l *Lookup) ResolveInterval(chain types.ChainKey) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]Entry(nil), l.byInterval[intervalKey{chain: chain}]...)
}
