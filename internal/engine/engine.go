// Package engine hosts WASM components in wasmtime, under a fuel budget and
// a wall-clock timeout, exposing the capability-gated host calls a
// component is permitted to make. Follows
// other_examples/d74c31ac_sircdd-SecretNetwork__x-compute-internal-keeper-
// keeper.go's "host embeds a WASM VM keyed by code hash, with a gas meter
// threaded through Instantiate/Execute" shape, combined with wasmtime's own
// fuel and epoch-interruption primitives for the budget/timeout enforcement.
package engine

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v25"
	"github.com/sony/gobreaker/v2"

	"github.com/wavs-network/operator/internal/engine/modulecache"
	"github.com/wavs-network/operator/internal/engine/sandbox"
	werrors "github.com/wavs-network/operator/internal/errors"
	"github.com/wavs-network/operator/internal/logging"
	"github.com/wavs-network/operator/internal/metrics"
	"github.com/wavs-network/operator/internal/storage"
	"github.com/wavs-network/operator/internal/types"
)

// Engine compiles and invokes WASM components on behalf of the Trigger
// Manager, enforcing each component's declared fuel/time limits and
// permission set.
type Engine struct {
	wasmEngine *wasmtime.Engine
	modules    *modulecache.Cache
	store      *storage.Store
	auditor    *sandbox.Auditor

	defaultFuel     uint64
	defaultTimeSecs uint32
	scratchRoot     string

	httpClient  *http.Client
	httpBreaker *gobreaker.CircuitBreaker[*hostHTTPResponse]
}

// Config configures a new Engine.
type Config struct {
	ModuleCacheSize         int
	DefaultFuelLimit        uint64
	DefaultTimeLimitSeconds uint32
	// ScratchDir is the host root under which every (service, workflow)
	// gets its own WASI-preopened subdirectory once granted Filesystem.
	// Defaults to a directory under os.TempDir() when empty.
	ScratchDir string
}

// New builds an Engine backed by store for blob/KV lookups.
func New(cfg Config, store *storage.Store) (*Engine, error) {
	wtCfg := wasmtime.NewConfig()
	wtCfg.SetConsumeFuel(true)
	wtCfg.SetEpochInterruption(true)

	wasmEngine := wasmtime.NewEngineWithConfig(wtCfg)

	modules, err := modulecache.New(cfg.ModuleCacheSize)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindEngineInstantiate, "build module cache", err)
	}

	scratchRoot := cfg.ScratchDir
	if scratchRoot == "" {
		scratchRoot = filepath.Join(os.TempDir(), "wavs-components")
	}

	breakerSettings := gobreaker.Settings{
		Name:        "wavs-component-http-fetch",
		MaxRequests: 3,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}

	e := &Engine{
		wasmEngine:      wasmEngine,
		modules:         modules,
		store:           store,
		auditor:         sandbox.NewAuditor(10_000),
		defaultFuel:     cfg.DefaultFuelLimit,
		defaultTimeSecs: cfg.DefaultTimeLimitSeconds,
		scratchRoot:     scratchRoot,
		httpClient:      &http.Client{Timeout: 15 * time.Second},
		httpBreaker:     gobreaker.NewCircuitBreaker[*hostHTTPResponse](breakerSettings),
	}

	// wasmtime's epoch clock is a monotonic counter the engine increments
	// on a fixed tick; each store sets its own deadline in ticks from "now".
	go e.tickEpoch()

	return e, nil
}

// componentScratchDir returns (creating if necessary) the host directory
// preopened as "/" for a component granted Filesystem, scoped per
// (service, workflow) so two components never share files.
func (e *Engine) componentScratchDir(service types.ServiceID, workflow types.WorkflowID) (string, error) {
	dir := filepath.Join(e.scratchRoot, string(service), string(workflow))
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", werrors.Wrap(werrors.KindEngineInstantiate, "create component scratch dir", err)
	}
	return dir, nil
}

func (e *Engine) tickEpoch() {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for range ticker.C {
		e.wasmEngine.IncrementEpoch()
	}
}

// Invoke resolves a Component's bytecode, compiles it (cache-first),
// instantiates it under the given fuel/time limits with a capability-gated
// Host, and invokes its "run" export with the trigger data.
func (e *Engine) Invoke(ctx context.Context, service types.ServiceID, workflow types.WorkflowID, component types.Component, trigger types.TriggerData) (types.WasmResponse, error) {
	logger := logging.NewComponentLogger(string(service), string(workflow), component.Source.Digest.String())
	defer logger.Sync()

	wstore, instance, err := e.instantiate(ctx, service, workflow, component)
	if err != nil {
		return types.WasmResponse{}, err
	}

	payload, err := e.runExport(wstore, instance, encodeTriggerData(trigger))
	if err != nil {
		e.classifyRunError(err)
		return types.WasmResponse{}, werrors.Wrap(werrors.KindEngineExec, "run component", err)
	}

	return types.WasmResponse{Payload: payload}, nil
}

// InvokeAggregator runs an aggregator component against one packet,
// decoding its response as the list of AggregatorActions the caller must
// act on. Grounded on the same instantiate/run shape as Invoke; aggregator
// components are JSON-in/JSON-out rather than sharing the trigger-data wire
// format, since the two component kinds have unrelated guest interfaces.
func (e *Engine) InvokeAggregator(ctx context.Context, service types.ServiceID, workflow types.WorkflowID, component types.Component, packet types.Packet) ([]types.AggregatorAction, error) {
	logger := logging.NewComponentLogger(string(service), string(workflow), component.Source.Digest.String())
	defer logger.Sync()

	wstore, instance, err := e.instantiate(ctx, service, workflow, component)
	if err != nil {
		return nil, err
	}

	packetBytes, err := encodePacket(packet)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindEngineExec, "encode packet", err)
	}

	out, err := e.runExport(wstore, instance, packetBytes)
	if err != nil {
		e.classifyRunError(err)
		return nil, werrors.Wrap(werrors.KindEngineExec, "run aggregator component", err)
	}

	actions, err := decodeAggregatorActions(out)
	if err != nil {
		return nil, werrors.Wrap(werrors.KindEngineExec, "decode aggregator actions", err)
	}
	return actions, nil
}

func (e *Engine) classifyRunError(err error) {
	if isFuelExhausted(err) {
		metrics.EngineOutOfFuel.Inc()
	}
	if isEpochInterrupted(err) {
		metrics.EngineOutOfTime.Inc()
	}
}

// instantiate resolves, compiles (cache-first), and instantiates a
// Component under its declared fuel/time limits with a capability-gated
// Host. Shared by Invoke and InvokeAggregator, which differ only in what
// bytes they pass to the guest's run export and how they decode the result.
func (e *Engine) instantiate(ctx context.Context, service types.ServiceID, workflow types.WorkflowID, component types.Component) (*wasmtime.Store, *wasmtime.Instance, error) {
	bytecode, digest, err := e.resolveBytecode(component.Source)
	if err != nil {
		return nil, nil, err
	}

	mod, err := e.modules.GetOrCompile(digest, func() (modulecache.Module, error) {
		m, err := wasmtime.NewModule(e.wasmEngine, bytecode)
		if err != nil {
			metrics.EngineInstantiateErrors.Inc()
			return nil, werrors.Wrap(werrors.KindEngineInstantiate, "compile module", err)
		}
		return m, nil
	})
	if err != nil {
		return nil, nil, err
	}
	wasmModule := mod.(*wasmtime.Module)

	host := sandbox.NewHost(service, workflow, component.Permissions, e.auditor)

	wstore := wasmtime.NewStore(e.wasmEngine)

	fuel := component.FuelLimit
	if fuel == 0 {
		fuel = e.defaultFuel
	}
	if err := wstore.SetFuel(fuel); err != nil {
		return nil, nil, werrors.Wrap(werrors.KindEngineInstantiate, "set fuel", err)
	}

	timeLimit := component.TimeLimitSeconds
	if timeLimit == 0 {
		timeLimit = e.defaultTimeSecs
	}
	wstore.SetEpochDeadline(uint64(timeLimit) * 10) // 100ms ticks

	// WASI is always configured so wasi_snapshot_preview1 imports resolve
	// for any component that links them; a component without Filesystem
	// permission gets zero preopens, so every path_open it attempts fails
	// exactly as if its filesystem were empty.
	wasiConfig := wasmtime.NewWasiConfig()
	if component.Permissions.Filesystem {
		dir, err := e.componentScratchDir(service, workflow)
		if err != nil {
			return nil, nil, err
		}
		if err := wasiConfig.PreopenDir(dir, "/", wasmtime.DirPermsReadWrite, wasmtime.FilePermsReadWrite); err != nil {
			return nil, nil, werrors.Wrap(werrors.KindEngineInstantiate, "preopen component scratch dir", err)
		}
	}
	wstore.SetWasi(wasiConfig)

	linker := wasmtime.NewLinker(e.wasmEngine)
	if err := linker.DefineWasi(); err != nil {
		return nil, nil, werrors.Wrap(werrors.KindEngineInstantiate, "define wasi imports", err)
	}
	if err := e.defineHostFunctions(ctx, linker, wstore, host, component, service, workflow); err != nil {
		return nil, nil, err
	}

	instance, err := linker.Instantiate(wstore, wasmModule)
	if err != nil {
		metrics.EngineInstantiateErrors.Inc()
		return nil, nil, werrors.Wrap(werrors.KindEngineInstantiate, "instantiate component", err)
	}
	return wstore, instance, nil
}

func (e *Engine) resolveBytecode(source types.ComponentSource) ([]byte, types.ComponentDigest, error) {
	switch source.Kind {
	case types.ComponentSourceBytecode:
		return source.Bytecode, types.DigestOf(source.Bytecode), nil
	case types.ComponentSourceDigest:
		b, err := e.store.GetBlob(source.Digest)
		if err != nil {
			return nil, types.ComponentDigest{}, err
		}
		return b, source.Digest, nil
	default:
		return nil, types.ComponentDigest{}, werrors.New(werrors.KindEngineInstantiate, "registry component sources are not resolvable offline")
	}
}

func isFuelExhausted(err error) bool {
	if trap, ok := err.(*wasmtime.Trap); ok {
		return trap.Code() != nil && *trap.Code() == wasmtime.OutOfFuel
	}
	return false
}

func isEpochInterrupted(err error) bool {
	if trap, ok := err.(*wasmtime.Trap); ok {
		return trap.Code() != nil && *trap.Code() == wasmtime.Interrupt
	}
	return false
}
