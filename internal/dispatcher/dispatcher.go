// Package dispatcher is the operator runtime's central command bus: it owns
// the service registry, the chain-config registry, and the startup/shutdown
// sequencing of the four cooperating subsystems (Trigger Manager, Engine,
// Submission Manager, Aggregator). Follows
// services/automation/automation_service.go's Start/Stop lifecycle
// (background goroutines gated on a stop channel, hydrate-from-storage on
// start), generalized from one service's scheduler to four subsystems
// wired together by channels instead of one ticker loop.
package dispatcher

import (
	"context"
	"sync"

	"github.com/wavs-network/operator/internal/aggregator"
	"github.com/wavs-network/operator/internal/chain"
	"github.com/wavs-network/operator/internal/chain/cosmos"
	"github.com/wavs-network/operator/internal/chain/evm"
	"github.com/wavs-network/operator/internal/config"
	"github.com/wavs-network/operator/internal/engine"
	"github.com/wavs-network/operator/internal/engine/runner"
	werrors "github.com/wavs-network/operator/internal/errors"
	"github.com/wavs-network/operator/internal/logging"
	"github.com/wavs-network/operator/internal/signer"
	"github.com/wavs-network/operator/internal/storage"
	"github.com/wavs-network/operator/internal/submission"
	"github.com/wavs-network/operator/internal/trigger"
	"github.com/wavs-network/operator/internal/types"
)

// Dispatcher wires the four subsystems together and exposes the admin
// operations an operator's CLI/HTTP surface calls into (the surface itself
// is an external collaborator; this package only implements the
// operations).
type Dispatcher struct {
	cfg      *config.Config
	store    *storage.Store
	registry *chain.Registry
	logger   *logging.Logger

	trig   *trigger.Manager
	eng    *engine.Engine
	runner runner.Runner
	sub    *submission.Manager
	agg    *aggregator.Aggregator

	jobs    chan runner.Job
	results chan runner.Result

	servicesMu sync.RWMutex
	services   map[types.ServiceID]*types.Service

	wg sync.WaitGroup
}

// New wires every subsystem together but does not start any of them; call
// Start to begin processing.
func New(cfg *config.Config, store *storage.Store, cosmosSigner submission.CosmosTxSigner, transport aggregator.Transport) (*Dispatcher, error) {
	registry := chain.NewRegistry()

	root, err := signer.NewRootFromMnemonic(cfg.OperatorMnemonic)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(engine.Config{
		ModuleCacheSize:         cfg.ModuleCacheSize,
		DefaultFuelLimit:        cfg.DefaultFuelLimit,
		DefaultTimeLimitSeconds: cfg.DefaultTimeLimitSeconds,
		ScratchDir:              cfg.EngineScratchDir,
	}, store)
	if err != nil {
		return nil, err
	}

	trig := trigger.NewManager(registry, logging.NewFromEnv("trigger"), cfg.Channels.Trigger)

	aggOut := make(chan types.Packet, cfg.Channels.Aggregator)
	sub := submission.NewManager(root, registry, aggOut, cosmosSigner, logging.NewFromEnv("submission"))

	agg := aggregator.New(store, registry, eng, root, transport, aggOut, logging.NewFromEnv("aggregator"))

	var rnr runner.Runner
	if cfg.RunnerMode == "single" {
		rnr = runner.NewSingle(eng, logging.NewFromEnv("engine"))
	} else {
		rnr = runner.NewMulti(eng, logging.NewFromEnv("engine"), cfg.RunnerPoolSize)
	}

	d := &Dispatcher{
		cfg:      cfg,
		store:    store,
		registry: registry,
		logger:   logging.NewFromEnv("dispatcher"),
		trig:     trig,
		eng:      eng,
		runner:   rnr,
		sub:      sub,
		agg:      agg,
		jobs:     make(chan runner.Job, cfg.Channels.Engine),
		results:  make(chan runner.Result, cfg.Channels.Engine),
		services: make(map[types.ServiceID]*types.Service),
	}
	return d, nil
}

// RegisterEvmChain dials an EVM chain and shares the client with every
// subsystem that talks to it.
func (d *Dispatcher) RegisterEvmChain(ctx context.Context, key types.ChainKey, httpURL, wsURL string, chainID uint64) error {
	client, err := evm.NewClient(ctx, httpURL, wsURL)
	if err != nil {
		return err
	}
	d.registry.Add(chain.Config{Key: key, RPCURL: httpURL, WSURL: wsURL, ChainID: chainID})
	// The Trigger Manager dials its own client lazily (ensureEvmStream) the
	// first time a workflow references this chain; Submission Manager and
	// Aggregator have no such lazy path, so they get this client directly.
	d.sub.RegisterEvmClient(key, client)
	d.agg.RegisterEvmClient(key, client)
	return nil
}

// RegisterCosmosChain dials a Cosmos chain similarly; the Aggregator does
// not get a Cosmos client since its finalization path is EVM-only today.
func (d *Dispatcher) RegisterCosmosChain(ctx context.Context, key types.ChainKey, rpcURL string, startHeight uint64) error {
	client, err := cosmos.NewClient(rpcURL, startHeight, 0)
	if err != nil {
		return err
	}
	d.registry.Add(chain.Config{Key: key, RPCURL: rpcURL})
	d.sub.RegisterCosmosClient(key, client)
	return nil
}

// Start brings up every subsystem in the order startup requires: storage is
// already open by the time New is called, so this loads persisted services,
// then starts the Trigger Manager, the job-pump loop bridging it to the
// Engine runner, the Submission Manager's result consumer, and the
// Aggregator, each on its own goroutine.
func (d *Dispatcher) Start(ctx context.Context) error {
	services, err := d.store.ListServices()
	if err != nil {
		return werrors.Wrap(werrors.KindStorage, "load persisted services", err)
	}
	for _, svc := range services {
		d.servicesMu.Lock()
		d.services[svc.ID] = svc
		d.servicesMu.Unlock()
		if err := d.trig.AddService(ctx, svc); err != nil {
			d.logger.WithError(err).Error("add service to trigger manager failed during startup")
		}
	}

	d.wg.Add(4)
	go func() { defer d.wg.Done(); d.trig.Run(ctx) }()
	go func() { defer d.wg.Done(); d.pumpTriggers(ctx) }()
	go func() { defer d.wg.Done(); d.runner.Start(ctx, d.jobs, d.results) }()
	go func() { defer d.wg.Done(); d.pumpResults(ctx) }()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.agg.Start(ctx); err != nil && ctx.Err() == nil {
			d.logger.WithError(err).Error("aggregator stopped unexpectedly")
		}
	}()

	return nil
}

// Stop waits for every subsystem goroutine to drain and exit; callers cancel
// the context passed to Start first.
func (d *Dispatcher) Stop() {
	d.wg.Wait()
}

// pumpTriggers resolves each fired TriggerAction against the service
// registry and forwards it to the Engine runner as a Job; unknown
// service/workflow pairs are logged and dropped per the trigger dispatch
// failure model.
func (d *Dispatcher) pumpTriggers(ctx context.Context) {
	out := d.trig.Out()
	for {
		select {
		case <-ctx.Done():
			return
		case action, ok := <-out:
			if !ok {
				return
			}
			d.servicesMu.RLock()
			svc := d.services[action.Service]
			d.servicesMu.RUnlock()
			if svc == nil {
				d.logger.WithFields(map[string]interface{}{"service": string(action.Service)}).Warn("trigger action for unknown service, dropped")
				continue
			}
			wf, ok := svc.Workflow(action.Workflow)
			if !ok {
				d.logger.WithFields(map[string]interface{}{"service": string(action.Service), "workflow": string(action.Workflow)}).Warn("trigger action for unknown workflow, dropped")
				continue
			}
			job := runner.Job{Action: action, Service: svc.ID, Workflow: *wf}
			select {
			case d.jobs <- job:
			case <-ctx.Done():
				return
			}
		}
	}
}

// pumpResults hands every successful Engine invocation to the Submission
// Manager; a failed invocation (trap, resource exhaustion, non-nil error)
// produces no downstream submission, only telemetry.
func (d *Dispatcher) pumpResults(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-d.results:
			if !ok {
				return
			}
			if res.Err != nil {
				continue
			}
			d.servicesMu.RLock()
			svc := d.services[res.Job.Service]
			d.servicesMu.RUnlock()
			if svc == nil {
				continue
			}
			wf, ok := svc.Workflow(res.Job.Workflow.ID)
			if !ok {
				continue
			}
			req := submission.Request{TriggerAction: res.Job.Action, Response: res.Response, Service: svc, Workflow: wf}
			if err := d.sub.Handle(ctx, req); err != nil {
				d.logger.WithError(err).Error("submission handling failed")
			}
		}
	}
}

// AddService registers a service, persists it, and starts its trigger
// streams.
func (d *Dispatcher) AddService(ctx context.Context, svc *types.Service) error {
	for _, wf := range svc.Workflows {
		if err := wf.Validate(d.registry.Known); err != nil {
			return werrors.Wrap(werrors.KindValidation, "validate workflow", err)
		}
	}
	if err := d.store.PutService(svc); err != nil {
		return err
	}
	d.servicesMu.Lock()
	d.services[svc.ID] = svc
	d.servicesMu.Unlock()
	return d.trig.AddService(ctx, svc)
}

// RemoveService stops a service's trigger streams and deletes it from
// storage.
func (d *Dispatcher) RemoveService(service *types.Service) error {
	d.trig.RemoveService(service)
	d.servicesMu.Lock()
	delete(d.services, service.ID)
	d.servicesMu.Unlock()
	return d.store.DeleteService(service.ID)
}

// ListServices returns every service the Dispatcher's cached read-through
// view currently holds.
func (d *Dispatcher) ListServices() []*types.Service {
	d.servicesMu.RLock()
	defer d.servicesMu.RUnlock()
	out := make([]*types.Service, 0, len(d.services))
	for _, svc := range d.services {
		out = append(out, svc)
	}
	return out
}

// StoreComponent content-addresses and persists a WASM blob, returning its
// digest.
func (d *Dispatcher) StoreComponent(bytecode []byte) (types.ComponentDigest, error) {
	return d.store.PutBlob(bytecode)
}

// AddChain hot-adds a chain configuration to the registry; RegisterEvmChain/
// RegisterCosmosChain are the versions that also dial a client, and are the
// ones an operator actually calls — AddChain alone is useful for a
// trigger-only or submission-only chain whose client already exists under a
// different key.
func (d *Dispatcher) AddChain(cfg chain.Config) {
	d.registry.Add(cfg)
}

// RunTrigger is the synchronous test hook the admin surface exposes:
// resolve the named service/workflow and invoke its component against data
// directly, bypassing the Trigger Manager and the Engine runner's job
// queue, returning the Engine's response (or the error the invocation
// failed with).
func (d *Dispatcher) RunTrigger(ctx context.Context, service types.ServiceID, workflow types.WorkflowID, data types.TriggerData) (types.WasmResponse, error) {
	d.servicesMu.RLock()
	svc := d.services[service]
	d.servicesMu.RUnlock()
	if svc == nil {
		return types.WasmResponse{}, werrors.New(werrors.KindValidation, "unknown service")
	}
	wf, ok := svc.Workflow(workflow)
	if !ok {
		return types.WasmResponse{}, werrors.New(werrors.KindValidation, "unknown workflow")
	}
	return d.eng.Invoke(ctx, service, workflow, wf.Component, data)
}
