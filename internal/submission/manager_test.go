package submission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavs-network/operator/internal/chain"
	"github.com/wavs-network/operator/internal/signer"
	"github.com/wavs-network/operator/internal/types"
)

const testMnemonic = "test test test test test test test test test test test junk"

func testManager(t *testing.T, aggOut chan types.Packet) *Manager {
	t.Helper()
	root, err := signer.NewRootFromMnemonic(testMnemonic)
	require.NoError(t, err)
	return NewManager(root, chain.NewRegistry(), aggOut, nil, nil)
}

func TestComputeEventID_PrefersOrderingSalt(t *testing.T) {
	m := testManager(t, nil)
	req := Request{
		TriggerAction: types.TriggerAction{Data: types.TriggerData{Kind: types.TriggerDataRaw, Data: []byte("raw-salt")}},
		Response:      types.WasmResponse{OrderingSalt: []byte("component-salt")},
		Service:       &types.Service{ID: "svc1"},
		Workflow:      &types.Workflow{ID: "wf1"},
	}
	withSalt := m.computeEventID(req)

	req.Response.OrderingSalt = nil
	withoutSalt := m.computeEventID(req)

	assert.NotEqual(t, withSalt, withoutSalt)
	assert.Equal(t, types.NewEventID("svc1", "wf1", []byte("component-salt")), withSalt)
	assert.Equal(t, types.NewEventID("svc1", "wf1", []byte("raw-salt")), withoutSalt)
}

func TestHandle_SubmitNoneDropsWithoutError(t *testing.T) {
	m := testManager(t, nil)
	req := Request{
		Response: types.WasmResponse{Payload: []byte("ok")},
		Service:  &types.Service{ID: "svc1"},
		Workflow: &types.Workflow{ID: "wf1", Submit: types.Submit{Kind: types.SubmitNone}},
	}
	assert.NoError(t, m.Handle(context.Background(), req))
}

func TestHandle_SubmitAggregatorEnqueuesPacket(t *testing.T) {
	aggOut := make(chan types.Packet, 1)
	m := testManager(t, aggOut)
	req := Request{
		TriggerAction: types.TriggerAction{Data: types.TriggerData{Kind: types.TriggerDataRaw, Data: []byte("x")}},
		Response:      types.WasmResponse{Payload: []byte("payload")},
		Service:       &types.Service{ID: "svc1"},
		Workflow:      &types.Workflow{ID: "wf1", Submit: types.Submit{Kind: types.SubmitAggregator}},
	}
	require.NoError(t, m.Handle(context.Background(), req))

	select {
	case p := <-aggOut:
		assert.Equal(t, types.ServiceID("svc1"), p.Service)
		assert.Equal(t, types.WorkflowID("wf1"), p.WorkflowID)
		assert.Equal(t, []byte("payload"), p.Envelope.Payload)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for enqueued packet")
	}
}

func TestHandle_SubmitEvmWithoutRegisteredClientErrors(t *testing.T) {
	m := testManager(t, nil)
	req := Request{
		Response: types.WasmResponse{Payload: []byte("ok")},
		Service:  &types.Service{ID: "svc1"},
		Workflow: &types.Workflow{ID: "wf1", Submit: types.Submit{
			Kind:  types.SubmitEvmContract,
			Chain: types.ChainKey{Namespace: types.NamespaceEVM, ID: "1"},
		}},
	}
	err := m.Handle(context.Background(), req)
	assert.Error(t, err)
}
