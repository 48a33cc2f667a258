package decoder

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazysuperheroes/hedera-multisig-sub001/protocol"
	"github.com/lazysuperheroes/hedera-multisig-sub001/txcodec"
)

func frozenTransfer(t *testing.T) []byte {
	t.Helper()
	frozen, err := txcodec.Marshal(&txcodec.Envelope{
		Body: txcodec.Body{
			TransactionID: txcodec.TransactionID{
				AccountID:      "0.0.1001",
				ValidStartUnix: 1_700_000_000,
			},
			MaxFeeTinybar:        200_000_000,
			ValidDurationSeconds: 120,
			Memo:                 "settlement",
			Kind:                 txcodec.KindTransfer,
			Transfer: &txcodec.TransferBody{
				Transfers: []txcodec.TransferEntry{
					{AccountID: "0.0.1001", Amount: -10},
					{AccountID: "0.0.2002", Amount: 10},
				},
			},
		},
		NodeAccountIDs: []string{"0.0.3"},
	})
	require.NoError(t, err)
	return frozen
}

// callData builds selector-prefixed ABI call data for the given signature.
func callData(t *testing.T, signature string, values ...interface{}) []byte {
	t.Helper()
	parsed, err := parseSignature(signature)
	require.NoError(t, err)
	packed, err := parsed.inputs.Pack(values...)
	require.NoError(t, err)
	return append(append([]byte(nil), parsed.selector...), packed...)
}

func frozenContractCall(t *testing.T, parameters []byte) []byte {
	t.Helper()
	frozen, err := txcodec.Marshal(&txcodec.Envelope{
		Body: txcodec.Body{
			TransactionID: txcodec.TransactionID{
				AccountID:      "0.0.1001",
				ValidStartUnix: 1_700_000_000,
			},
			ValidDurationSeconds: 120,
			Kind:                 txcodec.KindContractCall,
			ContractCall: &txcodec.ContractCallBody{
				ContractID: "0.0.5005",
				Gas:        100_000,
				Parameters: parameters,
			},
		},
		NodeAccountIDs: []string{"0.0.3"},
	})
	require.NoError(t, err)
	return frozen
}

func TestDecodeTransfer(t *testing.T) {
	frozen := frozenTransfer(t)

	dt, err := Decode(frozen, nil)
	require.NoError(t, err)

	assert.Equal(t, "transfer", dt.Type)
	assert.Equal(t, "0.0.1001@1700000000", dt.TransactionID)
	assert.Equal(t, []string{"0.0.3"}, dt.NodeAccountIDs)
	assert.Equal(t, int64(1_700_000_120), dt.ExpiresAtUnix)
	require.Len(t, dt.Transfers, 2)
	assert.Equal(t, int64(-10), dt.Transfers[0].Amount)
	assert.Equal(t, "0.0.2002", dt.Transfers[1].AccountID)
}

func TestDecodeIsDeterministic(t *testing.T) {
	frozen := frozenTransfer(t)

	first, err := Decode(frozen, nil)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Decode(frozen, nil)
		require.NoError(t, err)
		assert.Equal(t, first.Checksum, again.Checksum)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, Checksum(frozen), first.Checksum)
	assert.Len(t, first.Checksum, 64)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("not an envelope"), nil)
	require.Error(t, err)
	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, protocol.ReasonDecodeError, de.Code)
}

func TestDecodeContractCallWithoutInterface(t *testing.T) {
	params := callData(t, "transfer(address,uint256)",
		common.HexToAddress("0x00000000000000000000000000000000000004d2"),
		big.NewInt(1000))
	frozen := frozenContractCall(t, params)

	dt, err := Decode(frozen, nil)
	require.NoError(t, err)
	require.NotNil(t, dt.ContractCall)
	assert.Equal(t, "a9059cbb", dt.ContractCall.Selector)
	assert.False(t, dt.ContractCall.SelectorVerified)
	assert.Empty(t, dt.ContractCall.FunctionName)
}

func TestDecodeContractCallWithInterface(t *testing.T) {
	params := callData(t, "transfer(address,uint256)",
		common.HexToAddress("0x00000000000000000000000000000000000004d2"),
		big.NewInt(1000))
	frozen := frozenContractCall(t, params)

	dt, err := Decode(frozen, []string{"transfer(address,uint256)", "approve(address,uint256)"})
	require.NoError(t, err)
	require.NotNil(t, dt.ContractCall)
	assert.True(t, dt.ContractCall.SelectorVerified)
	assert.Equal(t, "transfer", dt.ContractCall.FunctionName)
	require.Len(t, dt.ContractCall.FunctionParams, 2)
	assert.Contains(t, dt.ContractCall.FunctionParams[1], "1000")
}

func TestDecodeContractCallSelectorMismatch(t *testing.T) {
	params := callData(t, "transfer(address,uint256)",
		common.HexToAddress("0x00000000000000000000000000000000000004d2"),
		big.NewInt(1000))
	frozen := frozenContractCall(t, params)

	// The supplied interface claims the call is an approve; the bytes say
	// transfer. Decoding must fail loudly, not fall back to opaque view.
	_, err := Decode(frozen, []string{"approve(address,uint256)"})
	require.Error(t, err)
	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, protocol.ReasonSelectorMismatch, de.Code)
}

func TestDecodeContractCallTruncatedSelector(t *testing.T) {
	frozen := frozenContractCall(t, []byte{0xa9, 0x05})
	_, err := Decode(frozen, nil)
	require.Error(t, err)
	var de *Error
	require.ErrorAs(t, err, &de)
	assert.Equal(t, protocol.ReasonDecodeError, de.Code)
}

func TestDecodeUnknownKindFallsThrough(t *testing.T) {
	frozen, err := txcodec.Marshal(&txcodec.Envelope{
		Body: txcodec.Body{
			TransactionID:        txcodec.TransactionID{AccountID: "0.0.1", ValidStartUnix: 1},
			ValidDurationSeconds: 120,
			Kind:                 txcodec.Kind("crypto-approve-allowance"),
		},
		NodeAccountIDs: []string{"0.0.3"},
	})
	require.NoError(t, err)

	dt, err := Decode(frozen, nil)
	require.NoError(t, err)
	assert.Equal(t, "unknown", dt.Type)
	assert.NotEmpty(t, dt.Checksum)
}

func TestValidateMetadata(t *testing.T) {
	dt, err := Decode(frozenTransfer(t), nil)
	require.NoError(t, err)

	testCases := []struct {
		name           string
		metadata       map[string]string
		wantValid      bool
		wantWarnings   int
		wantMismatches int
	}{
		{
			name:      "no metadata",
			metadata:  nil,
			wantValid: true,
		},
		{
			name:      "consistent metadata",
			metadata:  map[string]string{"type": "hbar transfer", "amount": "10", "accounts": "0.0.1001,0.0.2002"},
			wantValid: true,
		},
		{
			name:      "amount with units and sign",
			metadata:  map[string]string{"amount": "-10 hbar"},
			wantValid: true,
		},
		{
			name:           "wrong type",
			metadata:       map[string]string{"type": "contract call"},
			wantValid:      false,
			wantMismatches: 1,
		},
		{
			name:           "wrong amount",
			metadata:       map[string]string{"amount": "9999"},
			wantValid:      false,
			wantMismatches: 1,
		},
		{
			name:           "unknown account",
			metadata:       map[string]string{"accounts": "0.0.1001,0.0.6666"},
			wantValid:      false,
			wantMismatches: 1,
		},
		{
			name:         "urgency language flagged",
			metadata:     map[string]string{"note": "please sign URGENT before midnight"},
			wantValid:    true,
			wantWarnings: 1,
		},
		{
			name:         "urgency inside word not flagged",
			metadata:     map[string]string{"note": "renown snowplow"},
			wantValid:    true,
			wantWarnings: 0,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mv := ValidateMetadata(dt, tc.metadata)
			assert.Equal(t, tc.wantValid, mv.Valid)
			assert.Len(t, mv.Warnings, tc.wantWarnings)
			assert.Len(t, mv.Mismatches, tc.wantMismatches)
		})
	}
}

func TestParseSignatureCanonicalizes(t *testing.T) {
	parsed, err := parseSignature("transfer(address to, uint256 amount)")
	require.NoError(t, err)
	assert.Equal(t, "transfer(address,uint256)", parsed.signature)

	_, err = parseSignature("no parens")
	assert.Error(t, err)
	_, err = parseSignature("bad(notatype)")
	assert.Error(t, err)
}
