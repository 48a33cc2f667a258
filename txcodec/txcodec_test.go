package txcodec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func transferEnvelope() *Envelope {
	return &Envelope{
		Body: Body{
			TransactionID: TransactionID{
				AccountID:      "0.0.1001",
				ValidStartUnix: 1_700_000_000,
			},
			MaxFeeTinybar:        100_000_000,
			ValidDurationSeconds: 120,
			Memo:                 "rent payment",
			Kind:                 KindTransfer,
			Transfer: &TransferBody{
				Transfers: []TransferEntry{
					{AccountID: "0.0.1001", Amount: -1_000_000_000},
					{AccountID: "0.0.2002", Amount: 1_000_000_000},
				},
			},
		},
		NodeAccountIDs: []string{"0.0.3", "0.0.4"},
	}
}

func TestMarshalIsDeterministic(t *testing.T) {
	env := transferEnvelope()

	first, err := Marshal(env)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Marshal(transferEnvelope())
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestUnmarshalRoundTrip(t *testing.T) {
	env := transferEnvelope()
	frozen, err := Marshal(env)
	require.NoError(t, err)

	parsed, err := Unmarshal(frozen)
	require.NoError(t, err)
	assert.Equal(t, env.Body.TransactionID, parsed.Body.TransactionID)
	assert.Equal(t, env.NodeAccountIDs, parsed.NodeAccountIDs)
	require.NotNil(t, parsed.Body.Transfer)
	assert.Len(t, parsed.Body.Transfer.Transfers, 2)
}

func TestUnmarshalRejectsMalformedBytes(t *testing.T) {
	testCases := []struct {
		name string
		data []byte
	}{
		{name: "not json", data: []byte("garbage")},
		{name: "no kind", data: []byte(`{"body":{},"node_account_ids":["0.0.3"]}`)},
		{name: "no nodes", data: []byte(`{"body":{"kind":"transfer"},"node_account_ids":[]}`)},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Unmarshal(tc.data)
			assert.Error(t, err)
		})
	}
}

func TestSigningBytesPerNode(t *testing.T) {
	env := transferEnvelope()

	first, err := SigningBytes(env, 0)
	require.NoError(t, err)
	second, err := SigningBytes(env, 1)
	require.NoError(t, err)

	// Each node body renders a different node account id.
	assert.NotEqual(t, first, second)
	assert.Contains(t, string(first), "0.0.3")
	assert.Contains(t, string(second), "0.0.4")

	_, err = SigningBytes(env, 2)
	assert.Error(t, err)
	_, err = SigningBytes(env, -1)
	assert.Error(t, err)
}

func TestSigningBytesStableAcrossAttach(t *testing.T) {
	frozen, err := Marshal(transferEnvelope())
	require.NoError(t, err)

	env, err := Unmarshal(frozen)
	require.NoError(t, err)
	before, err := SigningBytes(env, 0)
	require.NoError(t, err)

	signed, err := AttachSignature(frozen, "aabbcc", [][]byte{{1, 2}, {3, 4}})
	require.NoError(t, err)

	env2, err := Unmarshal(signed)
	require.NoError(t, err)
	after, err := SigningBytes(env2, 0)
	require.NoError(t, err)

	assert.Equal(t, before, after)
}

func TestAttachSignature(t *testing.T) {
	frozen, err := Marshal(transferEnvelope())
	require.NoError(t, err)

	signed, err := AttachSignature(frozen, "key-one", [][]byte{{1}, {2}})
	require.NoError(t, err)

	env, err := Unmarshal(signed)
	require.NoError(t, err)
	require.Len(t, env.SignaturePairs, 1)
	assert.Equal(t, "key-one", env.SignaturePairs[0].PublicKey)

	// Wrong signature count for the node set.
	_, err = AttachSignature(frozen, "key-two", [][]byte{{1}})
	assert.Error(t, err)

	// Same key cannot attach twice.
	_, err = AttachSignature(signed, "key-one", [][]byte{{9}, {9}})
	assert.Error(t, err)

	// A second key stacks on top.
	both, err := AttachSignature(signed, "key-two", [][]byte{{5}, {6}})
	require.NoError(t, err)
	env2, err := Unmarshal(both)
	require.NoError(t, err)
	assert.Len(t, env2.SignaturePairs, 2)
}

func TestTransactionIDString(t *testing.T) {
	id := TransactionID{AccountID: "0.0.1001", ValidStartUnix: 1_700_000_000}
	assert.Equal(t, "0.0.1001@1700000000", id.String())
}
