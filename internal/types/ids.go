// Package types holds the data model shared by every subsystem: service and
// workflow definitions, envelopes, packets, and the identifiers that link them.
package types

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// ServiceID opaquely identifies a deployed service. Stable across restarts.
type ServiceID string

// WorkflowID identifies a workflow within a service.
type WorkflowID string

// Namespace distinguishes chain families.
type Namespace string

const (
	NamespaceEVM    Namespace = "evm"
	NamespaceCosmos Namespace = "cosmos"
)

// ChainKey is a namespace:id pair, e.g. "evm:1" or "cosmos:osmosis-1".
type ChainKey struct {
	Namespace Namespace
	ID        string
}

func (k ChainKey) String() string {
	return fmt.Sprintf("%s:%s", k.Namespace, k.ID)
}

// ParseChainKey parses a "namespace:id" string.
func ParseChainKey(s string) (ChainKey, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ChainKey{}, fmt.Errorf("invalid chain key %q: expected namespace:id", s)
	}
	ns := Namespace(parts[0])
	if ns != NamespaceEVM && ns != NamespaceCosmos {
		return ChainKey{}, fmt.Errorf("invalid chain key %q: unknown namespace %q", s, parts[0])
	}
	return ChainKey{Namespace: ns, ID: parts[1]}, nil
}

// ComponentDigest content-addresses a WASM blob: sha256 of its bytes.
type ComponentDigest [32]byte

func DigestOf(b []byte) ComponentDigest {
	return ComponentDigest(sha256.Sum256(b))
}

func (d ComponentDigest) String() string {
	return hex.EncodeToString(d[:])
}

func (d ComponentDigest) IsZero() bool {
	return d == ComponentDigest{}
}

func (d ComponentDigest) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *ComponentDigest) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*d = ComponentDigest{}
		return nil
	}
	parsed, err := ParseDigest(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func ParseDigest(s string) (ComponentDigest, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return ComponentDigest{}, fmt.Errorf("parse digest: %w", err)
	}
	if len(b) != 32 {
		return ComponentDigest{}, fmt.Errorf("parse digest: expected 32 bytes, got %d", len(b))
	}
	var d ComponentDigest
	copy(d[:], b)
	return d, nil
}

// EventID is a 20-byte deterministic identifier derived from
// (service_id, workflow_id, salt). Operators that observe the same logical
// event independently compute the same EventID.
type EventID [20]byte

// NewEventID derives an EventID. salt is either the raw trigger payload or a
// component-provided ordering salt.
func NewEventID(service ServiceID, workflow WorkflowID, salt []byte) EventID {
	h := sha256.New()
	_, _ = h.Write([]byte(service))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(workflow))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write(salt)
	sum := h.Sum(nil)
	var id EventID
	copy(id[:], sum[:20])
	return id
}

func (e EventID) String() string { return hex.EncodeToString(e[:]) }

func (e EventID) IsZero() bool { return e == EventID{} }

func (e EventID) MarshalJSON() ([]byte, error) {
	return []byte(`"` + e.String() + `"`), nil
}

func (e *EventID) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*e = EventID{}
		return nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("parse event id: %w", err)
	}
	if len(raw) != 20 {
		return fmt.Errorf("parse event id: expected 20 bytes, got %d", len(raw))
	}
	copy(e[:], raw)
	return nil
}

// EventOrder is a 12-byte ordering token: later values supersede earlier ones
// for envelopes sharing an EventID. It is treated as a big-endian unsigned
// integer for comparison purposes, but components may populate it however
// they like as long as ordering is monotonic for their own events.
type EventOrder [12]byte

// Compare returns -1, 0, or 1 as o is less than, equal to, or greater than other.
func (o EventOrder) Compare(other EventOrder) int {
	for i := range o {
		if o[i] != other[i] {
			if o[i] < other[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// EventOrderFromUint64 builds an EventOrder from a monotonic counter, placed
// in the low-order bytes (big-endian), so it compares correctly.
func EventOrderFromUint64(v uint64) EventOrder {
	var o EventOrder
	binary.BigEndian.PutUint64(o[4:], v)
	return o
}

func (o EventOrder) IsZero() bool { return o == EventOrder{} }

func (o EventOrder) MarshalJSON() ([]byte, error) {
	return []byte(`"` + hex.EncodeToString(o[:]) + `"`), nil
}

func (o *EventOrder) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" {
		*o = EventOrder{}
		return nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("parse event order: %w", err)
	}
	if len(raw) != 12 {
		return fmt.Errorf("parse event order: expected 12 bytes, got %d", len(raw))
	}
	copy(o[:], raw)
	return nil
}
