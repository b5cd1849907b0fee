// Package aggregator collects Packets for events a service's workflows
// route through Submit.Aggregator, invokes an aggregator WASM component to
// decide whether a quorum queue should wait, submit, or schedule a timer,
// and performs the final on-chain submission once the destination
// service-manager contract confirms quorum. Follows
// blocklessnetwork-blockless-avs-tools/aggregator/aggregator.go's
// mutex-guarded task map plus single-goroutine select loop, retargeted from
// its node-result-collection shape onto per-(EventID, AggregatorAction)
// quorum queues.
package aggregator

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/wavs-network/operator/internal/chain"
	"github.com/wavs-network/operator/internal/chain/evm"
	werrors "github.com/wavs-network/operator/internal/errors"
	"github.com/wavs-network/operator/internal/logging"
	"github.com/wavs-network/operator/internal/metrics"
	"github.com/wavs-network/operator/internal/signer"
	"github.com/wavs-network/operator/internal/storage"
	"github.com/wavs-network/operator/internal/submission"
	"github.com/wavs-network/operator/internal/types"
)

type timerKey struct {
	EventID  types.EventID
	Workflow types.WorkflowID
}

// Engine is the subset of internal/engine.Engine this package depends on:
// running a packet through a service's aggregator component. A narrow seam
// so tests can substitute a fake without standing up wasmtime.
type Engine interface {
	InvokeAggregator(ctx context.Context, service types.ServiceID, workflow types.WorkflowID, component types.Component, packet types.Packet) ([]types.AggregatorAction, error)
}

// Aggregator owns every (EventID, AggregatorAction) quorum queue this
// operator has seen, plus the per-queue timers the aggregator component
// schedules.
type Aggregator struct {
	store    *storage.Store
	registry *chain.Registry
	engine   Engine
	root     *signer.Root
	transport Transport
	logger   *logging.Logger

	evmClients map[types.ChainKey]*evm.Client

	queues map[types.QuorumQueueID]*types.QuorumQueue

	timersMu sync.Mutex
	timers   map[timerKey]*time.Timer

	in        <-chan types.Packet
	remote    chan types.Packet
	timerFire chan types.Packet
	done      chan struct{}
}

// New builds an Aggregator. in is the Submission Manager's aggregatorOut
// channel (this Aggregator's receive end of it); transport may be
// NoopTransport{} for a single-operator deployment.
func New(store *storage.Store, registry *chain.Registry, eng Engine, root *signer.Root, transport Transport, in <-chan types.Packet, logger *logging.Logger) *Aggregator {
	if transport == nil {
		transport = NoopTransport{}
	}
	return &Aggregator{
		store:      store,
		registry:   registry,
		engine:     eng,
		root:       root,
		transport:  transport,
		logger:     logger,
		evmClients: make(map[types.ChainKey]*evm.Client),
		queues:     make(map[types.QuorumQueueID]*types.QuorumQueue),
		timers:     make(map[timerKey]*time.Timer),
		in:         in,
		remote:     make(chan types.Packet, 64),
		timerFire:  make(chan types.Packet, 64),
		done:       make(chan struct{}),
	}
}

// RegisterEvmClient lets the Dispatcher share the chain client it dialed in
// RegisterEvmChain, the same one it hands to the Submission Manager.
func (a *Aggregator) RegisterEvmClient(key types.ChainKey, c *evm.Client) {
	a.evmClients[key] = c
}

// Start rehydrates active queues from storage, then runs the single
// serialization loop every packet (local, remote, or timer-replayed) goes
// through: one goroutine owns a.queues, so no lock is needed around queue
// mutation itself.
func (a *Aggregator) Start(ctx context.Context) error {
	defer close(a.done)

	active, err := a.store.ListActiveQuorumQueues()
	if err != nil {
		return werrors.Wrap(werrors.KindStorage, "load active quorum queues", err)
	}
	for _, q := range active {
		a.queues[q.ID] = q
		metrics.AggregatorQueueState.WithLabelValues(string(q.State)).Inc()
	}

	for {
		select {
		case p, ok := <-a.in:
			if !ok {
				a.in = nil
				continue
			}
			a.handlePacket(ctx, p, true)
		case p := <-a.remote:
			a.handlePacket(ctx, p, false)
		case p := <-a.timerFire:
			a.handlePacket(ctx, p, false)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// OnRemotePacket is the Transport callback for a packet received from a
// peer operator: same code path as a local packet, just not rebroadcast.
func (a *Aggregator) OnRemotePacket(ctx context.Context, p types.Packet) error {
	select {
	case a.remote <- p:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-a.done:
		return werrors.New(werrors.KindValidation, "aggregator stopped")
	}
}

func (a *Aggregator) warn(fields map[string]interface{}, msg string) {
	if a.logger == nil {
		return
	}
	a.logger.WithFields(fields).Warn(msg)
}

func (a *Aggregator) errorf(fields map[string]interface{}, msg string) {
	if a.logger == nil {
		return
	}
	a.logger.WithFields(fields).Error(msg)
}

func (a *Aggregator) info(fields map[string]interface{}, msg string) {
	if a.logger == nil {
		return
	}
	a.logger.WithFields(fields).Info(msg)
}

// handlePacket implements the per-packet protocol: recover the signer,
// invoke the aggregator component, then act on each AggregatorAction it
// returns.
func (a *Aggregator) handlePacket(ctx context.Context, p types.Packet, local bool) {
	addr, err := signer.RecoverSigner(p.Envelope, p.Signature)
	if err != nil {
		a.warn(map[string]interface{}{"event_id": p.Envelope.EventID.String(), "err": err.Error()}, "reject packet: signature recovery failed")
		return
	}

	service, ok, err := a.store.GetService(p.Service)
	if err != nil || !ok {
		a.warn(map[string]interface{}{"service": string(p.Service)}, "reject packet: unknown service")
		return
	}
	workflow, ok := service.Workflow(p.WorkflowID)
	if !ok || workflow.Submit.Kind != types.SubmitAggregator {
		a.warn(map[string]interface{}{"service": string(p.Service), "workflow": string(p.WorkflowID)}, "reject packet: workflow is not an aggregator workflow")
		return
	}

	if local {
		if err := a.transport.Broadcast(ctx, p); err != nil {
			a.warn(map[string]interface{}{"err": err.Error()}, "broadcast packet failed")
		}
	}

	component := types.Component{Source: workflow.Submit.AggregatorComponent}
	actions, err := a.engine.InvokeAggregator(ctx, service.ID, workflow.ID, component, p)
	if err != nil {
		a.errorf(map[string]interface{}{"event_id": p.Envelope.EventID.String(), "err": err.Error()}, "aggregator component invocation failed")
		return
	}

	for _, action := range actions {
		switch action.Kind {
		case types.AggregatorActionSubmit:
			a.handleSubmitAction(ctx, service, workflow, p, addr, action)
		case types.AggregatorActionTimer:
			a.scheduleTimer(p, workflow.ID, action)
		}
	}
}

func (a *Aggregator) handleSubmitAction(ctx context.Context, service *types.Service, workflow *types.Workflow, p types.Packet, recoveredSigner string, action types.AggregatorAction) {
	qid := types.QuorumQueueID{EventID: p.Envelope.EventID, ChainName: action.ChainName, ContractAddress: action.ContractAddress}

	queue, ok := a.queues[qid]
	if !ok {
		loaded, found, err := a.store.GetQuorumQueue(qid)
		if err != nil {
			a.errorf(map[string]interface{}{"queue": qid.String(), "err": err.Error()}, "load quorum queue failed")
			return
		}
		if found {
			queue = loaded
		} else {
			queue = &types.QuorumQueue{ID: qid, State: types.QuorumQueueActive}
		}
		a.queues[qid] = queue
	}

	if queue.State == types.QuorumQueueBurned {
		a.info(map[string]interface{}{"queue": qid.String(), "event_id": p.Envelope.EventID.String()}, "packet dropped: queue already burned")
		return
	}

	inserted := queue.Upsert(types.QueuedPacket{Packet: p, RecoveredSigner: strings.ToLower(recoveredSigner)})
	if !inserted {
		a.info(map[string]interface{}{"queue": qid.String()}, "packet dropped: queue burned during upsert")
		return
	}
	if err := a.store.PutQuorumQueue(queue); err != nil {
		a.errorf(map[string]interface{}{"queue": qid.String(), "err": err.Error()}, "persist quorum queue failed")
		return
	}

	a.attemptFinalize(ctx, service, queue, action)
}

func (a *Aggregator) scheduleTimer(p types.Packet, workflow types.WorkflowID, action types.AggregatorAction) {
	key := timerKey{EventID: p.Envelope.EventID, Workflow: workflow}
	delay := time.Duration(action.DelaySeconds) * time.Second

	a.timersMu.Lock()
	defer a.timersMu.Unlock()
	if existing, ok := a.timers[key]; ok {
		existing.Stop()
	}
	a.timers[key] = time.AfterFunc(delay, func() {
		select {
		case a.timerFire <- p:
		case <-a.done:
		}
	})
}

// attemptFinalize assembles SignatureData from every packet in queue,
// calls the destination service-manager's validate() read-only, and on
// success dispatches the final handleSignedEnvelope transaction and burns
// the queue.
func (a *Aggregator) attemptFinalize(ctx context.Context, service *types.Service, queue *types.QuorumQueue, action types.AggregatorAction) {
	chainKey, err := types.ParseChainKey(action.ChainName)
	if err != nil {
		a.errorf(map[string]interface{}{"chain": action.ChainName, "err": err.Error()}, "invalid aggregator action chain name")
		return
	}
	if chainKey.Namespace != types.NamespaceEVM {
		a.warn(map[string]interface{}{"chain": action.ChainName}, "finalization skipped: only evm destinations are wired")
		return
	}
	client, ok := a.evmClients[chainKey]
	if !ok {
		a.warn(map[string]interface{}{"chain": action.ChainName}, "finalization skipped: no evm client registered")
		return
	}

	sigData := buildSignatureData(queue)
	envelope := queue.Packets[0].Packet.Envelope
	refBlock, err := client.BlockNumber(ctx)
	if err != nil {
		a.warn(map[string]interface{}{"err": err.Error()}, "finalization deferred: reference block lookup failed")
		return
	}

	abiEnv := submission.ABIEnvelope{EventId: envelope.EventID, Ordering: envelope.Ordering, Payload: envelope.Payload}
	abiSig := submission.ABISignatureData{Signers: hexAddresses(sigData.Signers), Signatures: sigData.Signatures, ReferenceBlock: uint32(refBlock)}

	validateCalldata, err := submission.PackValidate(abiEnv, abiSig)
	if err != nil {
		a.errorf(map[string]interface{}{"err": err.Error()}, "pack validate call failed")
		return
	}

	out, callErr := client.CallContract(ctx, common.HexToAddress(action.ContractAddress), validateCalldata)
	if callErr != nil {
		a.handleValidateRevert(queue, callErr)
		return
	}
	ok, err = submission.UnpackValidateResult(out)
	if err != nil {
		a.errorf(map[string]interface{}{"err": err.Error()}, "decode validate result failed")
		return
	}
	if !ok {
		a.info(map[string]interface{}{"queue": queue.ID.String(), "signers": len(sigData.Signers)}, "quorum not yet reached, waiting for more signatures")
		return
	}

	a.finalizeSubmit(ctx, service, client, chainKey, queue, action, abiEnv, abiSig)
}

// handleValidateRevert maps a reverted validate() call per the chain's
// known revert reasons: InsufficientQuorum is a transient wait state, the
// InvalidSignature* family is a hard per-event error that still leaves the
// queue active for other operators' packets to resolve, and anything else
// is logged as an unrecognized revert.
func (a *Aggregator) handleValidateRevert(queue *types.QuorumQueue, callErr error) {
	msg := callErr.Error()
	switch {
	case strings.Contains(msg, "InsufficientQuorum"):
		a.info(map[string]interface{}{"queue": queue.ID.String()}, "insufficient quorum, waiting")
	case strings.Contains(msg, "InvalidSignature"):
		a.errorf(map[string]interface{}{"queue": queue.ID.String(), "err": msg}, "validate reverted: invalid signature, queue stays active")
	default:
		a.errorf(map[string]interface{}{"queue": queue.ID.String(), "err": msg}, "validate reverted: unrecognized revert")
	}
}

func (a *Aggregator) finalizeSubmit(ctx context.Context, service *types.Service, client *evm.Client, chainKey types.ChainKey, queue *types.QuorumQueue, action types.AggregatorAction, env submission.ABIEnvelope, sig submission.ABISignatureData) {
	calldata, err := submission.PackHandleSignedEnvelope(env, sig)
	if err != nil {
		a.errorf(map[string]interface{}{"queue": queue.ID.String(), "err": err.Error()}, "pack handleSignedEnvelope failed")
		return
	}

	cfg, ok := a.registry.Get(chainKey)
	if !ok {
		a.errorf(map[string]interface{}{"chain": chainKey.String()}, "chain not registered")
		return
	}

	serviceSigner, err := a.root.DeriveService(service.ID)
	if err != nil {
		a.errorf(map[string]interface{}{"err": err.Error()}, "derive finalizing signer failed")
		return
	}
	from, err := serviceSigner.Address()
	if err != nil {
		a.errorf(map[string]interface{}{"err": err.Error()}, "resolve finalizing signer address failed")
		return
	}
	priv, err := serviceSigner.ECDSA()
	if err != nil {
		a.errorf(map[string]interface{}{"err": err.Error()}, "resolve finalizing signer key failed")
		return
	}

	if err := submission.SendEvmTx(ctx, client, cfg.ChainID, common.HexToAddress(from), common.HexToAddress(action.ContractAddress), calldata, priv); err != nil {
		a.errorf(map[string]interface{}{"queue": queue.ID.String(), "err": err.Error()}, "finalizing submission failed")
		return
	}

	queue.Burn()
	if err := a.store.PutQuorumQueue(queue); err != nil {
		a.errorf(map[string]interface{}{"queue": queue.ID.String(), "err": err.Error()}, "persist burned queue failed")
	}
	metrics.AggregatorQueueState.WithLabelValues(string(types.QuorumQueueActive)).Dec()
	metrics.AggregatorQueueState.WithLabelValues(string(types.QuorumQueueBurned)).Inc()
	a.info(map[string]interface{}{"queue": queue.ID.String(), "signers": len(sig.Signers)}, "quorum reached, submission dispatched")
}

// buildSignatureData assembles a queue's packets into the on-chain-facing
// SignatureData shape, signers sorted ascending by address (the invariant
// every destination contract's validate()/handleSignedEnvelope expects).
func buildSignatureData(queue *types.QuorumQueue) types.SignatureData {
	packets := make([]types.QueuedPacket, len(queue.Packets))
	copy(packets, queue.Packets)
	sort.Slice(packets, func(i, j int) bool { return packets[i].RecoveredSigner < packets[j].RecoveredSigner })

	sd := types.SignatureData{
		Signers:    make([]string, len(packets)),
		Signatures: make([][]byte, len(packets)),
	}
	for i, qp := range packets {
		sd.Signers[i] = qp.RecoveredSigner
		sd.Signatures[i] = qp.Packet.Signature.Bytes
	}
	return sd
}

func hexAddresses(addrs []string) []common.Address {
	out := make([]common.Address, len(addrs))
	for i, a := range addrs {
		out[i] = common.HexToAddress(a)
	}
	return out
}
