// Package sandbox gates the host capabilities a WASM component instance may
// use during one invocation: HTTP egress, filesystem, the
// component_kv store, environment variables, chain/service metadata lookup,
// and logging. Follows system/sandbox/sandbox.go's Android-inspired
// deny-by-default capability model, narrowed down to the handful of host
// calls a sandboxed trigger-response component actually makes.
package sandbox

import (
	"fmt"
	"sync"
	"time"

	"github.com/wavs-network/operator/internal/types"
)

// Capability is one host call surface a component may be granted.
type Capability string

const (
	CapHTTP    Capability = "http"
	CapFS      Capability = "filesystem"
	CapKV      Capability = "kv"
	CapEnv     Capability = "env"
	CapConfig  Capability = "config"
	CapLogging Capability = "logging"
	CapChain   Capability = "chain_lookup"
)

// Host is the permission-checking boundary handed to one component
// invocation; every host-call implementation in the engine package consults
// it before touching the capability it gates.
type Host struct {
	permissions types.Permissions
	auditor     *Auditor
	service     types.ServiceID
	workflow    types.WorkflowID
}

// NewHost builds a Host scoped to one (service, workflow) invocation.
func NewHost(service types.ServiceID, workflow types.WorkflowID, perms types.Permissions, auditor *Auditor) *Host {
	return &Host{permissions: perms, auditor: auditor, service: service, workflow: workflow}
}

// CheckHTTP enforces the HTTP allowlist.
func (h *Host) CheckHTTP(host string) error {
	allowed := h.permissions.HTTPAllowed(host)
	h.audit(CapHTTP, host, allowed)
	if !allowed {
		return &DeniedError{Capability: CapHTTP, Resource: host}
	}
	return nil
}

// CheckFilesystem enforces the filesystem toggle.
func (h *Host) CheckFilesystem() error {
	h.audit(CapFS, "", h.permissions.Filesystem)
	if !h.permissions.Filesystem {
		return &DeniedError{Capability: CapFS}
	}
	return nil
}

// CheckEnv enforces the environment-variable allowlist.
func (h *Host) CheckEnv(key string) error {
	allowed := h.permissions.EnvKeyAllowed(key)
	h.audit(CapEnv, key, allowed)
	if !allowed {
		return &DeniedError{Capability: CapEnv, Resource: key}
	}
	return nil
}

// KV, Config, Logging, and chain lookup have no per-component toggle today
//; they still flow through Host so
// the audit trail covers every host call uniformly.
func (h *Host) AllowKV() error      { h.audit(CapKV, "", true); return nil }
func (h *Host) AllowConfig() error  { h.audit(CapConfig, "", true); return nil }
func (h *Host) AllowLogging() error { h.audit(CapLogging, "", true); return nil }
func (h *Host) AllowChain() error   { h.audit(CapChain, "", true); return nil }

func (h *Host) audit(cap Capability, resource string, allowed bool) {
	if h.auditor == nil {
		return
	}
	h.auditor.Log(AuditEvent{
		Timestamp:  time.Now(),
		Service:    h.service,
		Workflow:   h.workflow,
		Capability: cap,
		Resource:   resource,
		Allowed:    allowed,
	})
}

// DeniedError is returned when a component attempts a host call its
// Permissions don't grant.
type DeniedError struct {
	Capability Capability
	Resource   string
}

func (e *DeniedError) Error() string {
	if e.Resource == "" {
		return fmt.Sprintf("capability denied: %s", e.Capability)
	}
	return fmt.Sprintf("capability denied: %s for %q", e.Capability, e.Resource)
}

// AuditEvent records one capability check, grounded on
// system/sandbox/sandbox.go's SecurityAuditor / AuditEvent shape.
type AuditEvent struct {
	Timestamp  time.Time
	Service    types.ServiceID
	Workflow   types.WorkflowID
	Capability Capability
	Resource   string
	Allowed    bool
}

// Auditor keeps a bounded ring of recent capability checks for operators to
// inspect, dropping the oldest entry once full.
type Auditor struct {
	mu     sync.Mutex
	events []AuditEvent
	maxLen int
}

func NewAuditor(maxEvents int) *Auditor {
	if maxEvents <= 0 {
		maxEvents = 1000
	}
	return &Auditor{maxLen: maxEvents}
}

func (a *Auditor) Log(ev AuditEvent) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.events) >= a.maxLen {
		a.events = a.events[1:]
	}
	a.events = append(a.events, ev)
}

func (a *Auditor) Recent(limit int) []AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit <= 0 || limit > len(a.events) {
		limit = len(a.events)
	}
	start := len(a.events) - limit
	out := make([]AuditEvent, limit)
	copy(out, a.events[start:])
	return out
}
