package aggregator

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wavs-network/operator/internal/chain"
	"github.com/wavs-network/operator/internal/signer"
	"github.com/wavs-network/operator/internal/storage"
	"github.com/wavs-network/operator/internal/types"
)

const testMnemonic = "test test test test test test test test test test test junk"

type fakeEngine struct {
	calls   int32
	actions func(call int32) []types.AggregatorAction
}

func (f *fakeEngine) InvokeAggregator(ctx context.Context, service types.ServiceID, workflow types.WorkflowID, component types.Component, packet types.Packet) ([]types.AggregatorAction, error) {
	n := atomic.AddInt32(&f.calls, 1)
	return f.actions(n), nil
}

func testStore(t *testing.T) *storage.Store {
	t.Helper()
	st, err := storage.Open(filepath.Join(t.TempDir(), "wavs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func signedPacket(t *testing.T, root *signer.Root, service types.ServiceID, workflow types.WorkflowID, payload []byte) types.Packet {
	t.Helper()
	s, err := root.DeriveService(service)
	require.NoError(t, err)
	env := types.Envelope{EventID: types.NewEventID(service, workflow, payload), Payload: payload}
	sig, err := s.SignEnvelope(env)
	require.NoError(t, err)
	return types.Packet{Envelope: env, Service: service, WorkflowID: workflow, Signature: sig}
}

func aggregatorWorkflowService(id types.ServiceID, workflow types.WorkflowID) *types.Service {
	return &types.Service{
		ID:     id,
		Status: types.ServiceStatusActive,
		Workflows: map[types.WorkflowID]*types.Workflow{
			workflow: {
				ID:     workflow,
				Submit: types.Submit{Kind: types.SubmitAggregator},
			},
		},
	}
}

func newTestAggregator(t *testing.T, eng Engine) (*Aggregator, chan types.Packet, *signer.Root) {
	t.Helper()
	root, err := signer.NewRootFromMnemonic(testMnemonic)
	require.NoError(t, err)
	in := make(chan types.Packet, 8)
	a := New(testStore(t), chain.NewRegistry(), eng, root, NoopTransport{}, in, nil)
	return a, in, root
}

func TestHandlePacket_RejectsBadSignature(t *testing.T) {
	a, _, _ := newTestAggregator(t, &fakeEngine{actions: func(int32) []types.AggregatorAction { return nil }})
	p := types.Packet{
		Envelope:  types.Envelope{EventID: types.NewEventID("svc", "wf", []byte("x"))},
		Service:   "svc",
		WorkflowID: "wf",
		Signature: types.EnvelopeSignature{Kind: types.EnvelopeSignatureKindSecp256k1, Bytes: make([]byte, 65)},
	}
	a.handlePacket(context.Background(), p, true)
	assert.Empty(t, a.queues)
}

func TestHandlePacket_RejectsUnknownService(t *testing.T) {
	a, _, root := newTestAggregator(t, &fakeEngine{actions: func(int32) []types.AggregatorAction { return nil }})
	p := signedPacket(t, root, "unregistered", "wf", []byte("payload"))
	a.handlePacket(context.Background(), p, true)
	assert.Empty(t, a.queues)
}

func TestHandleSubmitAction_AccumulatesWithoutRegisteredClient(t *testing.T) {
	eng := &fakeEngine{actions: func(int32) []types.AggregatorAction {
		return []types.AggregatorAction{{Kind: types.AggregatorActionSubmit, ChainName: "evm:1", ContractAddress: "0x1111111111111111111111111111111111111111"}}
	}}
	a, _, root := newTestAggregator(t, eng)
	svc := aggregatorWorkflowService("svc1", "wf1")
	require.NoError(t, a.store.PutService(svc))

	p := signedPacket(t, root, "svc1", "wf1", []byte("payload"))
	a.handlePacket(context.Background(), p, true)

	require.Len(t, a.queues, 1)
	for _, q := range a.queues {
		assert.Equal(t, types.QuorumQueueActive, q.State)
		assert.Len(t, q.Packets, 1)
	}
}

func TestHandleSubmitAction_DropsWhenQueueAlreadyBurned(t *testing.T) {
	eng := &fakeEngine{actions: func(int32) []types.AggregatorAction {
		return []types.AggregatorAction{{Kind: types.AggregatorActionSubmit, ChainName: "evm:1", ContractAddress: "0x1111111111111111111111111111111111111111"}}
	}}
	a, _, root := newTestAggregator(t, eng)
	svc := aggregatorWorkflowService("svc1", "wf1")
	require.NoError(t, a.store.PutService(svc))

	p := signedPacket(t, root, "svc1", "wf1", []byte("payload"))
	qid := types.QuorumQueueID{EventID: p.Envelope.EventID, ChainName: "evm:1", ContractAddress: "0x1111111111111111111111111111111111111111"}
	a.queues[qid] = &types.QuorumQueue{ID: qid, State: types.QuorumQueueBurned}

	a.handlePacket(context.Background(), p, true)

	assert.Empty(t, a.queues[qid].Packets)
}

func TestScheduleTimer_ReplacesExistingTimer(t *testing.T) {
	a, _, root := newTestAggregator(t, &fakeEngine{actions: func(int32) []types.AggregatorAction { return nil }})
	p := signedPacket(t, root, "svc1", "wf1", []byte("payload"))

	a.scheduleTimer(p, "wf1", types.AggregatorAction{Kind: types.AggregatorActionTimer, DelaySeconds: 3600})
	require.Len(t, a.timers, 1)
	first := a.timers[timerKey{EventID: p.Envelope.EventID, Workflow: "wf1"}]

	a.scheduleTimer(p, "wf1", types.AggregatorAction{Kind: types.AggregatorActionTimer, DelaySeconds: 3600})
	second := a.timers[timerKey{EventID: p.Envelope.EventID, Workflow: "wf1"}]

	assert.NotSame(t, first, second)
	assert.Len(t, a.timers, 1)
}

func TestTimerFire_ReinvokesAggregatorComponent(t *testing.T) {
	var first int32 = 1
	eng := &fakeEngine{actions: func(call int32) []types.AggregatorAction {
		if call == first {
			return []types.AggregatorAction{{Kind: types.AggregatorActionTimer, DelaySeconds: 0}}
		}
		return nil
	}}
	a, in, root := newTestAggregator(t, eng)
	svc := aggregatorWorkflowService("svc1", "wf1")
	require.NoError(t, a.store.PutService(svc))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go a.Start(ctx)

	p := signedPacket(t, root, "svc1", "wf1", []byte("payload"))
	in <- p

	require.Eventually(t, func() bool { return atomic.LoadInt32(&eng.calls) >= 2 }, time.Second, 10*time.Millisecond)
}

func TestHandleValidateRevert_LeavesQueueActive(t *testing.T) {
	a, _, _ := newTestAggregator(t, &fakeEngine{actions: func(int32) []types.AggregatorAction { return nil }})
	queue := &types.QuorumQueue{ID: types.QuorumQueueID{EventID: types.NewEventID("s", "w", []byte("x"))}, State: types.QuorumQueueActive}

	a.handleValidateRevert(queue, errors.New("execution reverted: InsufficientQuorum"))
	assert.Equal(t, types.QuorumQueueActive, queue.State)

	a.handleValidateRevert(queue, errors.New("execution reverted: InvalidSignatureLength"))
	assert.Equal(t, types.QuorumQueueActive, queue.State)

	a.handleValidateRevert(queue, errors.New("execution reverted"))
	assert.Equal(t, types.QuorumQueueActive, queue.State)
}

func TestBuildSignatureData_SortsBySignerAscending(t *testing.T) {
	queue := &types.QuorumQueue{
		Packets: []types.QueuedPacket{
			{RecoveredSigner: "0xbbb", Packet: types.Packet{Signature: types.EnvelopeSignature{Bytes: []byte("b")}}},
			{RecoveredSigner: "0xaaa", Packet: types.Packet{Signature: types.EnvelopeSignature{Bytes: []byte("a")}}},
		},
	}
	sd := buildSignatureData(queue)
	require.Equal(t, []string{"0xaaa", "0xbbb"}, sd.Signers)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, sd.Signatures)
}

func TestOnRemotePacket_FeedsHandlePacket(t *testing.T) {
	eng := &fakeEngine{actions: func(int32) []types.AggregatorAction { return nil }}
	a, _, root := newTestAggregator(t, eng)
	svc := aggregatorWorkflowService("svc1", "wf1")
	require.NoError(t, a.store.PutService(svc))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	go a.Start(ctx)

	p := signedPacket(t, root, "svc1", "wf1", []byte("payload"))
	require.NoError(t, a.OnRemotePacket(ctx, p))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&eng.calls) >= 1 }, time.Second, 10*time.Millisecond)
}
