// Package trigger owns the lookup table plus every event stream (EVM log
// subscriptions, Cosmos block polling, block-interval scheduling, cron, and
// manual fires) and multiplexes them into a single TriggerAction channel
// consumed by the Engine/runner layer. Grounded on
// services/automation/automation_triggers.go's RegisterChainTrigger /
// checkChainTriggers / SetupEventTriggerListener merge-everything-into-one-
// dispatch shape.
package trigger

import (
	"context"
	"sync"
	"time"

	"github.com/wavs-network/operator/internal/chain"
	"github.com/wavs-network/operator/internal/chain/cosmos"
	"github.com/wavs-network/operator/internal/chain/evm"
	"github.com/wavs-network/operator/internal/logging"
	"github.com/wavs-network/operator/internal/metrics"
	"github.com/wavs-network/operator/internal/trigger/streams/cosmosstream"
	"github.com/wavs-network/operator/internal/trigger/streams/cron"
	"github.com/wavs-network/operator/internal/trigger/streams/evmstream"
	"github.com/wavs-network/operator/internal/trigger/streams/interval"
	"github.com/wavs-network/operator/internal/types"
)

// evmClients / cosmosClients let the Manager lazily dial a chain's
// clients only once a workflow actually needs them, keyed by ChainKey.
type Manager struct {
	mu       sync.Mutex
	lookup   *Lookup
	registry *chain.Registry
	logger   *logging.Logger

	evmClients    map[types.ChainKey]*evm.Client
	cosmosClients map[types.ChainKey]*cosmos.Client

	cron  *cron.Scheduler
	local *Local

	out chan types.TriggerAction
}

func NewManager(registry *chain.Registry, logger *logging.Logger, bufferSize int) *Manager {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	out := make(chan types.TriggerAction, bufferSize)
	m := &Manager{
		lookup:        NewLookup(),
		registry:      registry,
		logger:        logger,
		evmClients:    make(map[types.ChainKey]*evm.Client),
		cosmosClients: make(map[types.ChainKey]*cosmos.Client),
		local:         NewLocal(bufferSize),
		out:           out,
	}
	cronEvents := make(chan cron.Event, bufferSize)
	m.cron = cron.New(cronEvents)
	go m.pumpCron(cronEvents)
	return m
}

// Out is the channel of fired TriggerActions the runner layer consumes.
func (m *Manager) Out() <-chan types.TriggerAction { return m.out }

// AddService indexes a service's workflows into the lookup table and starts
// any streams its triggers require that aren't already running.
func (m *Manager) AddService(ctx context.Context, service *types.Service) error {
	m.lookup.Index(service)

	for _, wf := range service.Workflows {
		if wf.Trigger.Kind == types.TriggerCron {
			if err := m.cron.Add(cron.Entry{Service: service.ID, Workflow: wf.ID, Expr: wf.Trigger.CronExpr}); err != nil {
				return err
			}
			continue
		}
		if wf.Trigger.Kind == types.TriggerEvmContractEvent || wf.Trigger.Kind == types.TriggerBlockInterval {
			if wf.Trigger.Chain.Namespace == types.NamespaceEVM {
				if err := m.ensureEvmStream(ctx, wf.Trigger.Chain); err != nil {
					return err
				}
			}
		}
		if wf.Trigger.Kind == types.TriggerCosmosContractEvent || wf.Trigger.Kind == types.TriggerBlockInterval {
			if wf.Trigger.Chain.Namespace == types.NamespaceCosmos {
				if err := m.ensureCosmosStream(ctx, wf.Trigger.Chain); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func (m *Manager) RemoveService(service *types.Service) {
	m.lookup.Unindex(service)
	for _, wf := range service.Workflows {
		if wf.Trigger.Kind == types.TriggerCron {
			m.cron.Remove(wf.ID)
		}
	}
}

// FireManual enqueues a manual trigger for immediate dispatch through the
// normal TriggerAction channel. Dispatcher.RunTrigger does not use it; it
// invokes the Engine directly.
func (m *Manager) FireManual(service types.ServiceID, workflow types.WorkflowID, data types.TriggerData) bool {
	return m.local.Fire(LocalEvent{Service: service, Workflow: workflow, Data: data})
}

func (m *Manager) ensureEvmStream(ctx context.Context, key types.ChainKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.evmClients[key]; ok {
		return nil
	}
	cfg, ok := m.registry.Get(key)
	if !ok {
		return chain.ErrChainNotRegistered(key)
	}
	client, err := evm.NewClient(ctx, cfg.RPCURL, cfg.WSURL)
	if err != nil {
		return err
	}
	m.evmClients[key] = client

	evCh := make(chan evmstream.Event, 256)
	s := evmstream.New(key, client, nil, m.logger)
	go func() {
		if err := s.Run(ctx, evCh); err != nil && m.logger != nil {
			m.logger.WithError(err).WithFields(nil).Error("evm stream stopped")
		}
	}()
	go m.pumpEvm(evCh)

	heightCh := make(chan interval.Event, 32)
	sched := interval.New(key, client.BlockNumber, 2*time.Second, 0)
	go func() {
		_ = sched.Run(ctx, heightCh)
	}()
	go m.pumpInterval(heightCh)
	return nil
}

func (m *Manager) ensureCosmosStream(ctx context.Context, key types.ChainKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.cosmosClients[key]; ok {
		return nil
	}
	cfg, ok := m.registry.Get(key)
	if !ok {
		return chain.ErrChainNotRegistered(key)
	}
	client, err := cosmos.NewClient(cfg.RPCURL, 0, 2*time.Second)
	if err != nil {
		return err
	}
	m.cosmosClients[key] = client

	evCh := make(chan cosmosstream.Event, 256)
	s := cosmosstream.New(key, client, m.logger)
	go func() {
		if err := s.Run(ctx, evCh); err != nil && m.logger != nil {
			m.logger.WithError(err).WithFields(nil).Error("cosmos stream stopped")
		}
	}()
	go m.pumpCosmos(evCh)

	heightCh := make(chan interval.Event, 32)
	sched := interval.New(key, client.LatestHeight, 2*time.Second, 0)
	go func() {
		_ = sched.Run(ctx, heightCh)
	}()
	go m.pumpInterval(heightCh)
	return nil
}

func (m *Manager) pumpEvm(in <-chan evmstream.Event) {
	for ev := range in {
		entries := m.lookup.ResolveEvmEvent(ev.Chain, evmstream.Address(ev), evmstream.Topic0(ev))
		data := evmstream.ToTriggerData(ev)
		m.emit(entries, data)
	}
}

func (m *Manager) pumpCosmos(in <-chan cosmosstream.Event) {
	for ev := range in {
		entries := m.lookup.ResolveCosmosEvent(ev.Chain, cosmosstream.ContractAddress(ev), cosmosstream.EventType(ev))
		data := cosmosstream.ToTriggerData(ev)
		m.emit(entries, data)
	}
}

func (m *Manager) pumpInterval(in <-chan interval.Event) {
	for ev := range in {
		entries := m.lookup.ResolveInterval(ev.Chain)
		for _, e := range entries {
			m.emitOne(e, types.TriggerData{Kind: types.TriggerDataBlockInterval, BlockHeight: ev.Height})
		}
	}
}

func (m *Manager) pumpCron(in <-chan cron.Event) {
	for ev := range in {
		m.emitOne(Entry{Service: ev.Service, Workflow: ev.Workflow}, types.TriggerData{
			Kind:          types.TriggerDataCron,
			ScheduledUnix: ev.ScheduledUnix,
		})
	}
}

// Run starts the cron scheduler and drains the manual-trigger channel until
// ctx is canceled; the chain streams are already pumping into m.out from
// goroutines started in ensureEvmStream/ensureCosmosStream.
func (m *Manager) Run(ctx context.Context) {
	m.cron.Start(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-m.local.C():
			m.emitOne(Entry{Service: ev.Service, Workflow: ev.Workflow}, ev.Data)
		}
	}
}

func (m *Manager) emit(entries []Entry, data types.TriggerData) {
	for _, e := range entries {
		m.emitOne(e, data)
	}
}

func (m *Manager) emitOne(e Entry, data types.TriggerData) {
	action := types.TriggerAction{Service: e.Service, Workflow: e.Workflow, Data: data}
	metrics.TriggerActionsTotal.WithLabelValues(string(data.Kind)).Inc()
	select {
	case m.out <- action:
	default:
		if m.logger != nil {
			m.logger.WithFields(nil).Warn("trigger manager output buffer full, dropping action")
		}
	}
}
