// Package signer derives per-service secp256k1 signing keys from the
// operator's root mnemonic and produces EIP-191 envelope signatures.
// Grounded on infrastructure/chain/signer_local.go (operator key held
// in-process, never touching a remote TEE) combined with
// infrastructure/crypto/envelope.go's HMAC-subject key-derivation shape
// (there: "derive an AES key from master key + subject + info"; here:
// "derive a secp256k1 scalar from root key + service id"), since the pack
// has no BIP32 HD wallet library for secp256k1 and the derivation itself is
// a direct HMAC construction rather than anything wasmtime/go-ethereum
// provides off the shelf.
package signer

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha512"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	werrors "github.com/wavs-network/operator/internal/errors"
	"github.com/wavs-network/operator/internal/types"
	"github.com/tyler-smith/go-bip39"
)

const derivationInfo = "wavs-operator-service-key/v1"

// Root holds the operator's master signing material, derived once from its
// mnemonic at startup.
type Root struct {
	seed []byte
}

// NewRootFromMnemonic validates and seeds the operator root key. No
// passphrase support: operators are expected to hold their mnemonic in a
// process-local secret store, not type a BIP39 passphrase interactively.
func NewRootFromMnemonic(mnemonic string) (*Root, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, werrors.New(werrors.KindConfig, "invalid operator mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")
	return &Root{seed: seed}, nil
}

// ServiceSigner is a per-service secp256k1 identity, deterministically
// derived from the operator root and a ServiceID so that restarting the
// operator never changes a service's on-chain signing address.
type ServiceSigner struct {
	priv *secp256k1.PrivateKey
}

// DeriveService returns the signer WAVS uses for every Envelope signature a
// given service's workflows produce.
func (r *Root) DeriveService(service types.ServiceID) (*ServiceSigner, error) {
	mac := hmac.New(sha512.New, r.seed)
	_, _ = mac.Write([]byte(derivationInfo))
	_, _ = mac.Write([]byte{0})
	_, _ = mac.Write([]byte(service))
	digest := mac.Sum(nil) // 64 bytes

	var scalar secp256k1.ModNScalar
	// SetByteSlice reduces mod the curve order, so any 64-byte HMAC output
	// (only the low 32 bytes are used) maps onto a valid private scalar
	// without ever producing zero in practice.
	overflow := scalar.SetByteSlice(digest[:32])
	if overflow {
		// vanishingly unlikely (digest >= curve order); re-hash once more
		// rather than returning a biased key.
		mac.Reset()
		_, _ = mac.Write(digest)
		digest = mac.Sum(nil)
		scalar.SetByteSlice(digest[:32])
	}

	priv := secp256k1.NewPrivateKey(&scalar)
	return &ServiceSigner{priv: priv}, nil
}

// Address returns the signer's EVM-style address (keccak256(pubkey)[12:]).
func (s *ServiceSigner) Address() (string, error) {
	ecdsaPriv, err := ethcrypto.ToECDSA(s.priv.Serialize())
	if err != nil {
		return "", fmt.Errorf("convert derived key: %w", err)
	}
	return ethcrypto.PubkeyToAddress(ecdsaPriv.PublicKey).Hex(), nil
}

// ECDSA exposes the derived key in the form go-ethereum's transaction
// signer needs (Submission Manager's direct evm_contract path).
func (s *ServiceSigner) ECDSA() (*ecdsa.PrivateKey, error) {
	return ethcrypto.ToECDSA(s.priv.Serialize())
}

// SignEnvelope signs an Envelope's EIP-191 personal-message hash, returning
// the 65-byte (r||s||v) signature carried on every Packet.
func (s *ServiceSigner) SignEnvelope(env types.Envelope) (types.EnvelopeSignature, error) {
	hash := EIP191Hash(EncodeEnvelope(env))

	ecdsaPriv, err := ethcrypto.ToECDSA(s.priv.Serialize())
	if err != nil {
		return types.EnvelopeSignature{}, fmt.Errorf("convert derived key: %w", err)
	}

	sig, err := ethcrypto.Sign(hash, ecdsaPriv)
	if err != nil {
		return types.EnvelopeSignature{}, fmt.Errorf("sign envelope: %w", err)
	}
	// go-ethereum returns v in {0,1}; on-chain verifiers (and our own
	// RecoverSigner helper) expect the canonical {27,28} convention.
	sig[64] += 27

	return types.EnvelopeSignature{Kind: types.EnvelopeSignatureKindSecp256k1, Bytes: sig}, nil
}

// EncodeEnvelope produces the canonical byte encoding an Envelope's
// signature is computed over: event_id || ordering || payload.
func EncodeEnvelope(env types.Envelope) []byte {
	buf := make([]byte, 0, len(env.EventID)+len(env.Ordering)+len(env.Payload))
	buf = append(buf, env.EventID[:]...)
	buf = append(buf, env.Ordering[:]...)
	buf = append(buf, env.Payload...)
	return buf
}

// EIP191Hash applies the "\x19Ethereum Signed Message:\n" prefix (EIP-191)
// before hashing, matching what on-chain ecrecover-based verifiers expect.
func EIP191Hash(data []byte) []byte {
	return ethcrypto.Keccak256(append([]byte(fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(data))), data...))
}

// RecoverSigner recovers the hex address that produced sig over env,
// used by the Aggregator to validate incoming packets.
func RecoverSigner(env types.Envelope, sig types.EnvelopeSignature) (string, error) {
	if err := sig.Validate(); err != nil {
		return "", err
	}
	hash := EIP191Hash(EncodeEnvelope(env))

	raw := make([]byte, 65)
	copy(raw, sig.Bytes)
	if raw[64] >= 27 {
		raw[64] -= 27
	}

	pub, err := ethcrypto.SigToPub(hash, raw)
	if err != nil {
		return "", fmt.Errorf("recover signer: %w", err)
	}
	return ethcrypto.PubkeyToAddress(*pub).Hex(), nil
}
