package types

import (
	"fmt"
	"sort"
)

// Envelope is the canonical signed unit carried from the Engine through to
// an on-chain destination.
type Envelope struct {
	EventID  EventID
	Ordering EventOrder
	Payload  []byte
}

// EnvelopeSignatureKind tags the signature variant carried by an
// EnvelopeSignature. Secp256k1 today; extensible to other curves later.
type EnvelopeSignatureKind string

const EnvelopeSignatureKindSecp256k1 EnvelopeSignatureKind = "secp256k1"

// EnvelopeSignature is a tagged-variant signature over an Envelope's EIP-191
// hash.
type EnvelopeSignature struct {
	Kind  EnvelopeSignatureKind
	Bytes []byte // 65 bytes for Secp256k1 (r || s || v)
}

func (s EnvelopeSignature) Validate() error {
	switch s.Kind {
	case EnvelopeSignatureKindSecp256k1:
		if len(s.Bytes) != 65 {
			return fmt.Errorf("secp256k1 signature must be 65 bytes, got %d", len(s.Bytes))
		}
	default:
		return fmt.Errorf("unknown signature kind %q", s.Kind)
	}
	return nil
}

// Packet is what operators exchange via the aggregator: an envelope plus its
// operator signature, routing metadata, and original trigger data.
type Packet struct {
	Envelope    Envelope
	WorkflowID  WorkflowID
	Service     ServiceID
	Signature   EnvelopeSignature
	TriggerData []byte
}

// TriggerDataKind tags the variant carried by TriggerAction.Data.
type TriggerDataKind string

const (
	TriggerDataEvmContractEvent   TriggerDataKind = "evm_contract_event"
	TriggerDataCosmosContractEvent TriggerDataKind = "cosmos_contract_event"
	TriggerDataBlockInterval      TriggerDataKind = "block_interval"
	TriggerDataCron               TriggerDataKind = "cron"
	TriggerDataRaw                 TriggerDataKind = "raw"
)

// TriggerData is the payload handed to the Engine for a fired trigger.
type TriggerData struct {
	Kind TriggerDataKind

	// EvmContractEvent
	BlockNumber uint64
	LogIndex    uint64
	TxHash      string
	Topics      [][]byte
	Data        []byte

	// CosmosContractEvent
	Attributes map[string]string

	// BlockInterval
	BlockHeight uint64

	// Cron
	ScheduledUnix int64
}

// Salt produces the deterministic byte string used as an EventID salt when
// a component doesn't supply its own OrderingSalt: a
// fixed-layout encoding of whichever fields identify this particular firing
// uniquely, so two operators observing the same logical event compute the
// same EventID without coordinating.
func (t TriggerData) Salt() []byte {
	switch t.Kind {
	case TriggerDataEvmContractEvent:
		buf := make([]byte, 0, 16+len(t.TxHash)+len(t.Data))
		buf = appendUint64(buf, t.BlockNumber)
		buf = appendUint64(buf, t.LogIndex)
		buf = append(buf, []byte(t.TxHash)...)
		buf = append(buf, t.Data...)
		return buf
	case TriggerDataCosmosContractEvent:
		buf := make([]byte, 0, 16+len(t.TxHash))
		buf = appendUint64(buf, t.BlockHeight)
		buf = append(buf, []byte(t.TxHash)...)
		keys := make([]string, 0, len(t.Attributes))
		for k := range t.Attributes {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			buf = append(buf, []byte(k)...)
			buf = append(buf, []byte(t.Attributes[k])...)
		}
		return buf
	case TriggerDataBlockInterval:
		buf := make([]byte, 0, 8)
		return appendUint64(buf, t.BlockHeight)
	case TriggerDataCron:
		buf := make([]byte, 0, 8)
		return appendUint64(buf, uint64(t.ScheduledUnix))
	default:
		return t.Data
	}
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return append(buf, b[:]...)
}

// TriggerAction is what the Trigger Manager emits: a fired trigger keyed by
// (service, workflow) together with the data that fired it.
type TriggerAction struct {
	Service    ServiceID
	Workflow   WorkflowID
	LookupID   LookupID
	Data       TriggerData
}

// LookupID is the index key a TriggerManager resolves a candidate source
// event to; authoritative lookup of its TriggerConfig lives in the lookup
// table.
type LookupID uint64

// WasmResponse is what the Engine returns for a successful invocation: the
// response payload, an optional ordering salt the Submission Manager uses
// to compute the EventID, and the ordering copied into Envelope.Ordering.
type WasmResponse struct {
	Payload      []byte
	OrderingSalt []byte // optional; if set, used instead of the raw trigger data
	Ordering     EventOrder
}

// Submission is the internal record handed from the Engine to the
// Submission Manager.
type Submission struct {
	TriggerAction     TriggerAction
	OperatorResponse  WasmResponse
	EventID           EventID
	Envelope          Envelope
	EnvelopeSignature EnvelopeSignature
}

// SignatureData is the on-chain-facing aggregate of signers+signatures used
// by both the solo-operator direct-submit path and the aggregator's
// finalization path.
type SignatureData struct {
	Signers        []string // hex addresses, sorted ascending
	Signatures     [][]byte // signatures[i] pairs with Signers[i]
	ReferenceBlock uint32
}
