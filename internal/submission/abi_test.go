package submission

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackHandleSignedEnvelope_RoundTripsThroughABI(t *testing.T) {
	env := ABIEnvelope{Payload: []byte("hello")}
	sig := ABISignatureData{
		Signers:        []common.Address{common.HexToAddress("0x000000000000000000000000000000000000aa")},
		Signatures:     [][]byte{[]byte("sixty-five-byte-signature-placeholder-000000000000000000000000")},
		ReferenceBlock: 42,
	}
	data, err := PackHandleSignedEnvelope(env, sig)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	// first 4 bytes are the function selector
	assert.Len(t, data[:4], 4)
}

func TestUnpackValidateResult(t *testing.T) {
	packed, err := validateParsed.Methods["validate"].Outputs.Pack(true)
	require.NoError(t, err)

	ok, err := UnpackValidateResult(packed)
	require.NoError(t, err)
	assert.True(t, ok)
}
