package localnet

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazysuperheroes/hedera-multisig-sub001/chain"
	"github.com/lazysuperheroes/hedera-multisig-sub001/txcodec"
)

func testBody(validStart int64) *txcodec.Body {
	return &txcodec.Body{
		TransactionID: txcodec.TransactionID{
			AccountID:      "0.0.1001",
			ValidStartUnix: validStart,
		},
		ValidDurationSeconds: 120,
		Kind:                 txcodec.KindTransfer,
		Transfer: &txcodec.TransferBody{
			Transfers: []txcodec.TransferEntry{
				{AccountID: "0.0.1001", Amount: -1},
				{AccountID: "0.0.2002", Amount: 1},
			},
		},
	}
}

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

func TestFreezeAndIntrospect(t *testing.T) {
	a := New(zerolog.Nop())

	frozen, err := a.Freeze(testBody(1000), []string{"0.0.3", "0.0.4"})
	require.NoError(t, err)

	n, err := a.NodeCount(frozen)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	first, err := a.SigningBytes(frozen, 0)
	require.NoError(t, err)
	second, err := a.SigningBytes(frozen, 1)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestFreezeValidation(t *testing.T) {
	a := New(zerolog.Nop())

	_, err := a.Freeze(nil, []string{"0.0.3"})
	assert.Error(t, err)

	_, err = a.Freeze(testBody(1000), nil)
	assert.Error(t, err)

	body := testBody(0)
	_, err = a.Freeze(body, []string{"0.0.3"})
	assert.Error(t, err, "unset valid start must be refused")
}

func TestSubmitHappyPathAndIdempotence(t *testing.T) {
	a := New(zerolog.Nop(), WithClock(fixedClock(1050)))

	frozen, err := a.Freeze(testBody(1000), []string{"0.0.3"})
	require.NoError(t, err)
	signed, err := a.AttachSignature(frozen, "key-1", [][]byte{{1, 2, 3}})
	require.NoError(t, err)

	receipt, err := a.Submit(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, "0.0.1001@1000", receipt.TransactionID)
	assert.Equal(t, "SUCCESS", receipt.Status)

	// Resubmitting the same transaction id returns the original receipt.
	again, err := a.Submit(context.Background(), signed)
	require.NoError(t, err)
	assert.Equal(t, receipt, again)
}

func TestSubmitValidityWindow(t *testing.T) {
	a := New(zerolog.Nop(), WithClock(fixedClock(1200)))

	frozen, err := a.Freeze(testBody(1000), []string{"0.0.3"})
	require.NoError(t, err)
	signed, err := a.AttachSignature(frozen, "key-1", [][]byte{{1}})
	require.NoError(t, err)

	_, err = a.Submit(context.Background(), signed)
	require.Error(t, err)
	assert.Equal(t, chain.ErrKindValidityWindowExpired, chain.Classify(err))
}

func TestSubmitSignatureChecks(t *testing.T) {
	a := New(zerolog.Nop(), WithClock(fixedClock(1050)), WithMinSignatures(2))

	frozen, err := a.Freeze(testBody(1000), []string{"0.0.3"})
	require.NoError(t, err)
	signed, err := a.AttachSignature(frozen, "key-1", [][]byte{{1}})
	require.NoError(t, err)

	_, err = a.Submit(context.Background(), signed)
	require.Error(t, err)
	assert.Equal(t, chain.ErrKindInsufficientSignatures, chain.Classify(err))
}

func TestSubmitCancelledContextIsTransient(t *testing.T) {
	a := New(zerolog.Nop(), WithClock(fixedClock(1050)))

	frozen, err := a.Freeze(testBody(1000), []string{"0.0.3"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = a.Submit(ctx, frozen)
	require.Error(t, err)
	assert.Equal(t, chain.ErrKindTransient, chain.Classify(err))
}

func TestSubmitMalformedBytes(t *testing.T) {
	a := New(zerolog.Nop())
	_, err := a.Submit(context.Background(), []byte("garbage"))
	require.Error(t, err)
	assert.Equal(t, chain.ErrKindOther, chain.Classify(err))
}
