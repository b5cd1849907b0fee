package submission

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"

	"github.com/wavs-network/operator/internal/chain"
	"github.com/wavs-network/operator/internal/chain/cosmos"
	"github.com/wavs-network/operator/internal/chain/evm"
	werrors "github.com/wavs-network/operator/internal/errors"
	"github.com/wavs-network/operator/internal/logging"
	"github.com/wavs-network/operator/internal/metrics"
	"github.com/wavs-network/operator/internal/signer"
	"github.com/wavs-network/operator/internal/types"
)

// Request is what the Engine/runner layer hands the Submission Manager for
// each successful component invocation.
type Request struct {
	TriggerAction types.TriggerAction
	Response      types.WasmResponse
	Service       *types.Service
	Workflow      *types.Workflow
}

// CosmosTxSigner produces a signed, broadcast-ready transaction for a
// CosmWasm execute message. Full account/sequence lookup and protobuf
// transaction construction live behind this seam rather than inside this
// package, since this runtime depends only on cometbft's RPC client, not
// the full cosmos-sdk client stack (see DESIGN.md's Open Question entry).
type CosmosTxSigner func(ctx context.Context, contractAddress string, execMsg []byte) ([]byte, error)

// Manager signs Engine output into Envelopes and routes each one per its
// workflow's Submit policy.
type Manager struct {
	root          *signer.Root
	registry      *chain.Registry
	evmClients    map[types.ChainKey]*evm.Client
	cosmosClients map[types.ChainKey]*cosmos.Client
	cosmosSigner  CosmosTxSigner
	aggregatorOut chan<- types.Packet
	logger        *logging.Logger
}

func NewManager(root *signer.Root, registry *chain.Registry, aggregatorOut chan<- types.Packet, cosmosSigner CosmosTxSigner, logger *logging.Logger) *Manager {
	return &Manager{
		root:          root,
		registry:      registry,
		evmClients:    make(map[types.ChainKey]*evm.Client),
		cosmosClients: make(map[types.ChainKey]*cosmos.Client),
		cosmosSigner:  cosmosSigner,
		aggregatorOut: aggregatorOut,
		logger:        logger,
	}
}

// RegisterEvmClient/RegisterCosmosClient let the Dispatcher hand over the
// client it dialed in RegisterEvmChain/RegisterCosmosChain. The Trigger
// Manager dials its own clients separately.
func (m *Manager) RegisterEvmClient(key types.ChainKey, c *evm.Client) {
	m.evmClients[key] = c
}

func (m *Manager) RegisterCosmosClient(key types.ChainKey, c *cosmos.Client) {
	m.cosmosClients[key] = c
}

// Handle implements the submission flow for one request: compute the
// EventID, assemble and sign the Envelope, then route per the workflow's
// Submit policy.
func (m *Manager) Handle(ctx context.Context, req Request) error {
	eventID := m.computeEventID(req)
	env := types.Envelope{EventID: eventID, Ordering: req.Response.Ordering, Payload: req.Response.Payload}

	serviceSigner, err := m.root.DeriveService(req.Service.ID)
	if err != nil {
		return werrors.Wrap(werrors.KindConfig, "derive service signer", err)
	}
	envSig, err := serviceSigner.SignEnvelope(env)
	if err != nil {
		return werrors.Wrap(werrors.KindConfig, "sign envelope", err)
	}

	switch req.Workflow.Submit.Kind {
	case types.SubmitNone:
		metrics.SubmissionsTotal.WithLabelValues(string(types.SubmitNone), "dropped").Inc()
		return nil
	case types.SubmitEvmContract:
		err = m.submitEvm(ctx, req.Workflow.Submit, env, envSig, serviceSigner)
	case types.SubmitCosmosContract:
		err = m.submitCosmos(ctx, req.Workflow.Submit, env, envSig, serviceSigner)
	case types.SubmitAggregator:
		err = m.submitAggregator(ctx, req, env, envSig)
	default:
		return werrors.New(werrors.KindValidation, "unknown submit kind")
	}
	metrics.SubmissionsTotal.WithLabelValues(string(req.Workflow.Submit.Kind), outcomeOf(err)).Inc()
	return err
}

func outcomeOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// computeEventID prefers the component-supplied ordering salt, falling back
// to a deterministic encoding of the raw trigger data.
func (m *Manager) computeEventID(req Request) types.EventID {
	salt := req.Response.OrderingSalt
	if len(salt) == 0 {
		salt = req.TriggerAction.Data.Salt()
	}
	return types.NewEventID(req.Service.ID, req.Workflow.ID, salt)
}

// submitEvm implements the solo-operator EvmContract path: a single-signer
// SignatureData, ABI-encoded and sent as a raw transaction.
func (m *Manager) submitEvm(ctx context.Context, submit types.Submit, env types.Envelope, envSig types.EnvelopeSignature, s *signer.ServiceSigner) error {
	client, ok := m.evmClients[submit.Chain]
	if !ok {
		return werrors.New(werrors.KindSubmissionNetwork, "no evm client registered for "+submit.Chain.String())
	}
	cfg, ok := m.registry.Get(submit.Chain)
	if !ok {
		return chain.ErrChainNotRegistered(submit.Chain)
	}

	addr, err := s.Address()
	if err != nil {
		return err
	}
	refBlock, err := client.BlockNumber(ctx)
	if err != nil {
		return err
	}

	calldata, err := PackHandleSignedEnvelope(
		ABIEnvelope{EventId: env.EventID, Ordering: env.Ordering, Payload: env.Payload},
		ABISignatureData{
			Signers:        []common.Address{common.HexToAddress(addr)},
			Signatures:     [][]byte{envSig.Bytes},
			ReferenceBlock: uint32(refBlock),
		},
	)
	if err != nil {
		return werrors.Wrap(werrors.KindSubmissionNetwork, "pack handleSignedEnvelope", err)
	}

	priv, err := s.ECDSA()
	if err != nil {
		return err
	}
	return SendEvmTx(ctx, client, cfg.ChainID, common.HexToAddress(addr), common.HexToAddress(submit.Address), calldata, priv)
}

// SendEvmTx builds, signs, and broadcasts a legacy EIP-155 transaction from
// priv to the given contract call. Shared by the solo-operator direct
// submit path and the Aggregator's finalizing submission, since both send
// the same shape of transaction to different addresses.
func SendEvmTx(ctx context.Context, client *evm.Client, chainID uint64, from, to common.Address, data []byte, priv *ecdsa.PrivateKey) error {
	nonce, err := client.NonceAt(ctx, from)
	if err != nil {
		return err
	}
	gasPrice, err := client.SuggestGasPrice(ctx)
	if err != nil {
		return err
	}

	tx := gethtypes.NewTx(&gethtypes.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    big.NewInt(0),
		Gas:      500_000,
		GasPrice: gasPrice,
		Data:     data,
	})

	signedTx, err := gethtypes.SignTx(tx, gethtypes.NewEIP155Signer(big.NewInt(int64(chainID))), priv)
	if err != nil {
		return werrors.Wrap(werrors.KindSubmissionNetwork, "sign transaction", err)
	}

	return client.SendRawTransaction(ctx, signedTx)
}

// submitCosmos implements the analogous CosmWasm execute path: build the
// execute message, hand it to the configured CosmosTxSigner for signing,
// then broadcast.
func (m *Manager) submitCosmos(ctx context.Context, submit types.Submit, env types.Envelope, envSig types.EnvelopeSignature, s *signer.ServiceSigner) error {
	client, ok := m.cosmosClients[submit.Chain]
	if !ok {
		return werrors.New(werrors.KindSubmissionNetwork, "no cosmos client registered for "+submit.Chain.String())
	}
	if m.cosmosSigner == nil {
		return werrors.New(werrors.KindConfig, "no cosmos tx signer configured")
	}

	addr, err := s.Address()
	if err != nil {
		return err
	}
	height, err := client.LatestHeight(ctx)
	if err != nil {
		return err
	}

	execMsg, err := json.Marshal(handleSignedEnvelopeExecMsg{
		HandleSignedEnvelope: handleSignedEnvelopePayload{
			EventID:        env.EventID.String(),
			Ordering:       hex.EncodeToString(env.Ordering[:]),
			Payload:        env.Payload,
			Signers:        []string{addr},
			Signatures:     [][]byte{envSig.Bytes},
			ReferenceBlock: height,
		},
	})
	if err != nil {
		return werrors.Wrap(werrors.KindSubmissionNetwork, "marshal exec msg", err)
	}

	signedTx, err := m.cosmosSigner(ctx, submit.Address, execMsg)
	if err != nil {
		return werrors.Wrap(werrors.KindSubmissionNetwork, "sign cosmos tx", err)
	}
	_, err = client.BroadcastTx(ctx, signedTx)
	if err != nil {
		return err
	}
	return nil
}

// handleSignedEnvelopeExecMsg mirrors a CosmWasm single-variant ExecuteMsg
// enum: `{"handle_signed_envelope": {...}}`.
type handleSignedEnvelopeExecMsg struct {
	HandleSignedEnvelope handleSignedEnvelopePayload `json:"handle_signed_envelope"`
}

type handleSignedEnvelopePayload struct {
	EventID        string   `json:"event_id"`
	Ordering       string   `json:"ordering"`
	Payload        []byte   `json:"payload"`
	Signers        []string `json:"signers"`
	Signatures     [][]byte `json:"signatures"`
	ReferenceBlock uint64   `json:"reference_block"`
}

// submitAggregator assembles a Packet and enqueues it to the Aggregator via
// the internal channel (multi-operator P2P broadcast is the Aggregator's
// responsibility once it owns the packet).
func (m *Manager) submitAggregator(ctx context.Context, req Request, env types.Envelope, envSig types.EnvelopeSignature) error {
	packet := types.Packet{
		Envelope:    env,
		WorkflowID:  req.Workflow.ID,
		Service:     req.Service.ID,
		Signature:   envSig,
		TriggerData: req.TriggerAction.Data.Salt(),
	}
	select {
	case m.aggregatorOut <- packet:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
