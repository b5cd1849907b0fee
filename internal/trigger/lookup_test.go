package trigger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wavs-network/operator/internal/types"
)

func testService(id types.ServiceID, trigger types.Trigger) *types.Service {
	return &types.Service{
		ID: id,
		Workflows: map[types.WorkflowID]*types.Workflow{
			"wf1": {ID: "wf1", Trigger: trigger},
		},
	}
}

func TestLookup_IndexAndResolveEvmEvent(t *testing.T) {
	l := NewLookup()
	chainKey := types.ChainKey{Namespace: types.NamespaceEVM, ID: "1"}
	svc := testService("svc1", types.Trigger{
		Kind:            types.TriggerEvmContractEvent,
		Chain:           chainKey,
		ContractAddress: "0xabc",
		EventType:       "0xtopic0",
	})
	l.Index(svc)

	entries := l.ResolveEvmEvent(chainKey, "0xabc", "0xtopic0")
	assert.Len(t, entries, 1)
	assert.Equal(t, types.ServiceID("svc1"), entries[0].Service)

	assert.Empty(t, l.ResolveEvmEvent(chainKey, "0xabc", "0xother"))
}

func TestLookup_UnindexRemovesOnlyThatService(t *testing.T) {
	l := NewLookup()
	chainKey := types.ChainKey{Namespace: types.NamespaceCosmos, ID: "osmosis-1"}
	trig := types.Trigger{Kind: types.TriggerCosmosContractEvent, Chain: chainKey, ContractAddress: "osmo1xyz", EventType: "wasm"}
	svc1 := testService("svc1", trig)
	svc2 := testService("svc2", trig)
	l.Index(svc1)
	l.Index(svc2)

	assert.Len(t, l.ResolveCosmosEvent(chainKey, "osmo1xyz", "wasm"), 2)

	l.Unindex(svc1)
	entries := l.ResolveCosmosEvent(chainKey, "osmo1xyz", "wasm")
	assert.Len(t, entries, 1)
	assert.Equal(t, types.ServiceID("svc2"), entries[0].Service)
}

func TestLookup_ResolveInterval(t *testing.T) {
	l := NewLookup()
	chainKey := types.ChainKey{Namespace: types.NamespaceEVM, ID: "1"}
	svc := testService("svc1", types.Trigger{Kind: types.TriggerBlockInterval, Chain: chainKey, Period: 10})
	l.Index(svc)

	entries := l.ResolveInterval(chainKey)
	assert.Len(t, entries, 1)

	other := types.ChainKey{Namespace: types.NamespaceEVM, ID: "2"}
	assert.Empty(t, l.ResolveInterval(other))
}
