package signer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wavs-network/operator/internal/types"
)

const testMnemonic = "test test test test test test test test test test test junk"

func TestDeriveService_IsDeterministic(t *testing.T) {
	root, err := NewRootFromMnemonic(testMnemonic)
	require.NoError(t, err)

	a1, err := root.DeriveService("svc-a")
	require.NoError(t, err)
	a2, err := root.DeriveService("svc-a")
	require.NoError(t, err)

	addr1, err := a1.Address()
	require.NoError(t, err)
	addr2, err := a2.Address()
	require.NoError(t, err)
	assert.Equal(t, addr1, addr2)
}

func TestDeriveService_DistinctServicesDistinctKeys(t *testing.T) {
	root, err := NewRootFromMnemonic(testMnemonic)
	require.NoError(t, err)

	a, err := root.DeriveService("svc-a")
	require.NoError(t, err)
	b, err := root.DeriveService("svc-b")
	require.NoError(t, err)

	addrA, err := a.Address()
	require.NoError(t, err)
	addrB, err := b.Address()
	require.NoError(t, err)
	assert.NotEqual(t, addrA, addrB)
}

func TestSignEnvelope_RecoversToSignerAddress(t *testing.T) {
	root, err := NewRootFromMnemonic(testMnemonic)
	require.NoError(t, err)

	s, err := root.DeriveService("svc-a")
	require.NoError(t, err)

	env := types.Envelope{
		EventID:  types.NewEventID("svc-a", "wf-1", []byte("trigger payload")),
		Ordering: types.EventOrderFromUint64(1),
		Payload:  []byte("response payload"),
	}

	sig, err := s.SignEnvelope(env)
	require.NoError(t, err)
	require.NoError(t, sig.Validate())

	recovered, err := RecoverSigner(env, sig)
	require.NoError(t, err)

	addr, err := s.Address()
	require.NoError(t, err)
	assert.Equal(t, addr, recovered)
}

func TestNewRootFromMnemonic_RejectsInvalid(t *testing.T) {
	_, err := NewRootFromMnemonic("not a valid mnemonic at all")
	assert.Error(t, err)
}
