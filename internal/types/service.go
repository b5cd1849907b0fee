package types

import "fmt"

// ServiceStatus is the lifecycle state of a Service.
type ServiceStatus string

const (
	ServiceStatusActive ServiceStatus = "active"
	ServiceStatusPaused  ServiceStatus = "paused"
)

// ServiceManager references the on-chain authority that validates quorums
// for this service's aggregated submissions.
type ServiceManager struct {
	Chain   ChainKey
	Address string
}

// Service owns a set of workflows and the on-chain authority that validates
// their aggregated submissions.
type Service struct {
	ID             ServiceID
	Name           string
	Status         ServiceStatus
	Manager        ServiceManager
	Workflows      map[WorkflowID]*Workflow
}

func (s *Service) Workflow(id WorkflowID) (*Workflow, bool) {
	if s == nil || s.Workflows == nil {
		return nil, false
	}
	wf, ok := s.Workflows[id]
	return wf, ok
}

// TriggerKind enumerates the variants a Workflow's Trigger can take.
type TriggerKind string

const (
	TriggerEvmContractEvent   TriggerKind = "evm_contract_event"
	TriggerCosmosContractEvent TriggerKind = "cosmos_contract_event"
	TriggerBlockInterval      TriggerKind = "block_interval"
	TriggerCron               TriggerKind = "cron"
	TriggerManual              TriggerKind = "manual"
)

// Trigger describes the event source a workflow listens to.
type Trigger struct {
	Kind  TriggerKind
	Chain ChainKey // meaningful for EvmContractEvent/CosmosContractEvent/BlockInterval

	// EvmContractEvent / CosmosContractEvent
	ContractAddress string
	EventType       string // Cosmos: attribute-mapped event type; EVM: topic0 hex

	// BlockInterval
	Kickoff uint64
	Period  uint64
	Start   uint64
	End     uint64 // 0 means unbounded

	// Cron
	CronExpr string
}

// ComponentSource describes where a Workflow's WASM bytecode comes from.
type ComponentSourceKind string

const (
	ComponentSourceBytecode ComponentSourceKind = "bytecode"
	ComponentSourceDigest   ComponentSourceKind = "digest"
	ComponentSourceRegistry ComponentSourceKind = "registry"
)

type ComponentSource struct {
	Kind     ComponentSourceKind
	Bytecode []byte          // ComponentSourceBytecode
	Digest   ComponentDigest // ComponentSourceDigest
	Registry string          // ComponentSourceRegistry: OCI-style reference
}

// Permissions gates the host capabilities a component instance may use.
type Permissions struct {
	HTTPAllowAll   bool
	HTTPAllowHosts []string // ignored when HTTPAllowAll
	Filesystem     bool
	EnvKeys        []string // explicit allowlist; empty means no env vars exposed
}

func (p Permissions) HTTPAllowed(host string) bool {
	if p.HTTPAllowAll {
		return true
	}
	for _, h := range p.HTTPAllowHosts {
		if h == host {
			return true
		}
	}
	return false
}

func (p Permissions) EnvKeyAllowed(key string) bool {
	for _, k := range p.EnvKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Component is the WASM unit a Workflow executes on each trigger.
type Component struct {
	Source           ComponentSource
	Permissions      Permissions
	FuelLimit        uint64 // 0 means use the service-wide default cap
	TimeLimitSeconds uint32
	Config           map[string]string // component.config: string->string
}

// SubmitKind enumerates the variants a Workflow's Submit policy can take.
type SubmitKind string

const (
	SubmitNone           SubmitKind = "none"
	SubmitEvmContract    SubmitKind = "evm_contract"
	SubmitCosmosContract SubmitKind = "cosmos_contract"
	SubmitAggregator     SubmitKind = "aggregator"
)

// SignatureKind identifies the signature scheme a Packet carries.
type SignatureKind string

const SignatureKindSecp256k1 SignatureKind = "secp256k1"

// Submit is the routing policy applied to a Workflow's WasmResponse.
type Submit struct {
	Kind SubmitKind

	// EvmContract / CosmosContract
	Chain   ChainKey
	Address string

	// Aggregator
	AggregatorComponent ComponentSource
	SignatureKind       SignatureKind
}

// Workflow owns a trigger, a component, and a submission policy, grouped
// under a service.
type Workflow struct {
	ID      WorkflowID
	Trigger Trigger
	Component Component
	Submit  Submit
}

// Validate enforces the invariant that any chain a workflow's trigger or
// submit policy names must be present in the given registry, and that
// cross-chain direct submission is rejected.
func (w *Workflow) Validate(knownChain func(ChainKey) bool) error {
	switch w.Trigger.Kind {
	case TriggerEvmContractEvent, TriggerCosmosContractEvent, TriggerBlockInterval:
		if !knownChain(w.Trigger.Chain) {
			return fmt.Errorf("workflow %s: trigger chain %s not registered", w.ID, w.Trigger.Chain)
		}
	}

	switch w.Submit.Kind {
	case SubmitEvmContract, SubmitCosmosContract:
		if !knownChain(w.Submit.Chain) {
			return fmt.Errorf("workflow %s: submit chain %s not registered", w.ID, w.Submit.Chain)
		}
		if triggerChain, ok := w.triggerChain(); ok && triggerChain.Namespace != w.Submit.Chain.Namespace {
			return ErrNoCrossChainSubmissions
		}
	}
	return nil
}

func (w *Workflow) triggerChain() (ChainKey, bool) {
	switch w.Trigger.Kind {
	case TriggerEvmContractEvent, TriggerCosmosContractEvent, TriggerBlockInterval:
		return w.Trigger.Chain, true
	default:
		return ChainKey{}, false
	}
}

// ErrNoCrossChainSubmissions is returned when a workflow's trigger and direct
// submit target different chain namespaces.
var ErrNoCrossChainSubmissions = fmt.Errorf("no cross-chain submissions")
