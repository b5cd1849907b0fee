// Package submission signs engine output into Envelopes and routes it per a
// workflow's Submit policy: directly to an EVM or Cosmos destination
// contract, or onward to the Aggregator. Grounded on
// infrastructure/chain/signer_local.go (solo in-process signing key) and the
// rest of the pack's accounts/abi usage for contract call encoding.
package submission

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// handleSignedEnvelopeABI is the minimal destination-contract interface the
// Submission Manager and Aggregator both call: one function accepting the
// envelope and its accumulated signature set.
const handleSignedEnvelopeABI = `[{
  "type": "function",
  "name": "handleSignedEnvelope",
  "stateMutability": "nonpayable",
  "inputs": [
    {
      "name": "envelope",
      "type": "tuple",
      "components": [
        {"name": "eventId", "type": "bytes20"},
        {"name": "ordering", "type": "bytes12"},
        {"name": "payload", "type": "bytes"}
      ]
    },
    {
      "name": "signatureData",
      "type": "tuple",
      "components": [
        {"name": "signers", "type": "address[]"},
        {"name": "signatures", "type": "bytes[]"},
        {"name": "referenceBlock", "type": "uint32"}
      ]
    }
  ],
  "outputs": []
}]`

// validateABI is the destination service-manager's read-only quorum check
// the Aggregator calls before attempting a finalizing submission.
const validateABI = `[{
  "type": "function",
  "name": "validate",
  "stateMutability": "view",
  "inputs": [
    {
      "name": "envelope",
      "type": "tuple",
      "components": [
        {"name": "eventId", "type": "bytes20"},
        {"name": "ordering", "type": "bytes12"},
        {"name": "payload", "type": "bytes"}
      ]
    },
    {
      "name": "signatureData",
      "type": "tuple",
      "components": [
        {"name": "signers", "type": "address[]"},
        {"name": "signatures", "type": "bytes[]"},
        {"name": "referenceBlock", "type": "uint32"}
      ]
    }
  ],
  "outputs": [{"name": "ok", "type": "bool"}]
}]`

var (
	handleSignedEnvelopeParsed abi.ABI
	validateParsed             abi.ABI
)

func init() {
	var err error
	handleSignedEnvelopeParsed, err = abi.JSON(strings.NewReader(handleSignedEnvelopeABI))
	if err != nil {
		panic("submission: parse handleSignedEnvelope ABI: " + err.Error())
	}
	validateParsed, err = abi.JSON(strings.NewReader(validateABI))
	if err != nil {
		panic("submission: parse validate ABI: " + err.Error())
	}
}

// ABIEnvelope mirrors the tuple layout above; go-ethereum's abi package
// packs struct fields by name against tuple components.
type ABIEnvelope struct {
	EventId  [20]byte
	Ordering [12]byte
	Payload  []byte
}

type ABISignatureData struct {
	Signers        []common.Address
	Signatures     [][]byte
	ReferenceBlock uint32
}

// PackHandleSignedEnvelope ABI-encodes a handleSignedEnvelope call.
func PackHandleSignedEnvelope(env ABIEnvelope, sig ABISignatureData) ([]byte, error) {
	return handleSignedEnvelopeParsed.Pack("handleSignedEnvelope", env, sig)
}

// PackValidate ABI-encodes a validate call, used by the Aggregator's
// read-only quorum check.
func PackValidate(env ABIEnvelope, sig ABISignatureData) ([]byte, error) {
	return validateParsed.Pack("validate", env, sig)
}

// UnpackValidateResult decodes a validate() return value.
func UnpackValidateResult(out []byte) (bool, error) {
	vals, err := validateParsed.Unpack("validate", out)
	if err != nil {
		return false, err
	}
	if len(vals) != 1 {
		return false, nil
	}
	ok, _ := vals[0].(bool)
	return ok, nil
}
