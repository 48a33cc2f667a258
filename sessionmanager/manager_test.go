package sessionmanager

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazysuperheroes/hedera-multisig-sub001/chain"
	"github.com/lazysuperheroes/hedera-multisig-sub001/chain/localnet"
	"github.com/lazysuperheroes/hedera-multisig-sub001/connstring"
	"github.com/lazysuperheroes/hedera-multisig-sub001/protocol"
	"github.com/lazysuperheroes/hedera-multisig-sub001/sessionstore"
	"github.com/lazysuperheroes/hedera-multisig-sub001/sigverify"
	"github.com/lazysuperheroes/hedera-multisig-sub001/txcodec"
)

// stubSub records every frame it receives, keyed by message type.
type stubSub struct {
	mu     sync.Mutex
	frames []*protocol.Envelope
	closed bool
}

func (s *stubSub) Send(data []byte) error {
	env, err := protocol.Decode(data)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, env)
	return nil
}

func (s *stubSub) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *stubSub) types() []protocol.MsgType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.MsgType, 0, len(s.frames))
	for _, env := range s.frames {
		out = append(out, env.Type)
	}
	return out
}

func (s *stubSub) has(t protocol.MsgType) bool {
	for _, got := range s.types() {
		if got == t {
			return true
		}
	}
	return false
}

// signer is one test participant with an ed25519 key.
type signer struct {
	pub  string
	priv ed25519.PrivateKey
}

func newSigner(t *testing.T) signer {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	return signer{pub: hex.EncodeToString(pub), priv: priv}
}

func (s signer) sign(t *testing.T, adapter *localnet.Adapter, frozen []byte) []string {
	t.Helper()
	n, err := adapter.NodeCount(frozen)
	require.NoError(t, err)
	sigs := make([]string, 0, n)
	for i := 0; i < n; i++ {
		msg, err := adapter.SigningBytes(frozen, i)
		require.NoError(t, err)
		sigs = append(sigs, base64.StdEncoding.EncodeToString(ed25519.Sign(s.priv, msg)))
	}
	return sigs
}

type fixture struct {
	store   *sessionstore.Store
	adapter *localnet.Adapter
	mgr     *Manager
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := zerolog.Nop()
	store := sessionstore.New(log)
	adapter := localnet.New(log)
	verifier := sigverify.New(adapter, log)
	mgr := New(store, verifier, adapter, "ws://127.0.0.1:8443", log)
	return &fixture{store: store, adapter: adapter, mgr: mgr}
}

// freeze produces frozen transfer bytes whose validity window covers roughly
// the next two minutes of real time.
func (f *fixture) freeze(t *testing.T, validStart int64) []byte {
	t.Helper()
	frozen, err := f.adapter.Freeze(&txcodec.Body{
		TransactionID: txcodec.TransactionID{
			AccountID:      "0.0.1001",
			ValidStartUnix: validStart,
		},
		ValidDurationSeconds: 120,
		Kind:                 txcodec.KindTransfer,
		Transfer: &txcodec.TransferBody{
			Transfers: []txcodec.TransferEntry{
				{AccountID: "0.0.1001", Amount: -100},
				{AccountID: "0.0.2002", Amount: 100},
			},
		},
	}, []string{"0.0.3"})
	require.NoError(t, err)
	return frozen
}

func (f *fixture) joinReady(t *testing.T, sessionID string, s signer) (string, *stubSub) {
	t.Helper()
	sub := &stubSub{}
	pid, err := f.store.AddParticipant(sessionID, "signer", sub)
	require.NoError(t, err)
	require.NoError(t, f.mgr.OnParticipantReady(context.Background(), sessionID, pid, s.pub))
	return pid, sub
}

func TestCreateSessionReturnsJoinCoordinates(t *testing.T) {
	f := newFixture(t)

	created, err := f.mgr.CreateSession(context.Background(), protocol.CreateSessionPayload{
		Threshold:            2,
		ExpectedParticipants: 3,
	})
	require.NoError(t, err)
	assert.Len(t, created.SessionID, 32)
	assert.NotEmpty(t, created.Pin)

	cs, err := connstring.Parse(created.ConnectionString)
	require.NoError(t, err)
	assert.Equal(t, created.SessionID, cs.SessionID)
	assert.Equal(t, created.Pin, cs.Pin)
	assert.Equal(t, "ws://127.0.0.1:8443", cs.ServerURL)
}

func TestCreateSessionValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.mgr.CreateSession(context.Background(), protocol.CreateSessionPayload{Threshold: 0})
	require.Error(t, err)
	assert.Equal(t, protocol.ReasonThresholdOutOfRange, CodeOf(err))

	_, err = f.mgr.CreateSession(context.Background(), protocol.CreateSessionPayload{
		Threshold:            1,
		FrozenTransactionB64: "$$$not-base64$$$",
	})
	require.Error(t, err)
	assert.Equal(t, protocol.ReasonDecodeError, CodeOf(err))

	// Undecodable frozen bytes cancel creation entirely.
	_, err = f.mgr.CreateSession(context.Background(), protocol.CreateSessionPayload{
		Threshold:            1,
		FrozenTransactionB64: base64.StdEncoding.EncodeToString([]byte("garbage")),
	})
	require.Error(t, err)
	assert.Equal(t, protocol.ReasonDecodeError, CodeOf(err))
}

func TestTwoOfThreeHappyPath(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newSigner(t)
	bob := newSigner(t)
	carol := newSigner(t)

	created, err := f.mgr.CreateSession(ctx, protocol.CreateSessionPayload{
		Threshold:          2,
		EligiblePublicKeys: []string{alice.pub, bob.pub, carol.pub},
	})
	require.NoError(t, err)
	id := created.SessionID

	coord := &stubSub{}
	require.NoError(t, f.store.SetCoordinatorSubscription(id, coord))

	alicePid, aliceSub := f.joinReady(t, id, alice)
	bobPid, bobSub := f.joinReady(t, id, bob)

	frozen := f.freeze(t, time.Now().Unix())
	injected, err := f.mgr.InjectTransaction(ctx, protocol.InjectTransactionPayload{
		SessionID:            id,
		FrozenTransactionB64: base64.StdEncoding.EncodeToString(frozen),
		Metadata:             map[string]string{"type": "transfer", "amount": "100"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, injected.Checksum)
	assert.Empty(t, injected.Warnings)

	// Ready participants and the coordinator all saw the transaction.
	assert.True(t, aliceSub.has(protocol.MsgTransactionReceived))
	assert.True(t, bobSub.has(protocol.MsgTransactionReceived))
	assert.True(t, coord.has(protocol.MsgTransactionReceived))

	accepted, duplicate, err := f.mgr.OnSignatureSubmit(ctx, id, alicePid, alice.pub, alice.sign(t, f.adapter, frozen))
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, 1, accepted.Count)
	assert.Equal(t, 2, accepted.Threshold)

	accepted, duplicate, err = f.mgr.OnSignatureSubmit(ctx, id, bobPid, bob.pub, bob.sign(t, f.adapter, frozen))
	require.NoError(t, err)
	assert.False(t, duplicate)
	assert.Equal(t, 2, accepted.Count)

	// Threshold broadcast precedes execution, which precedes completion.
	types := coord.types()
	idxThreshold, idxExecuted := -1, -1
	for i, mt := range types {
		switch mt {
		case protocol.MsgThresholdMet:
			idxThreshold = i
		case protocol.MsgTransactionExecuted:
			idxExecuted = i
		}
	}
	require.GreaterOrEqual(t, idxThreshold, 0, "THRESHOLD_MET was not broadcast")
	require.GreaterOrEqual(t, idxExecuted, 0, "TRANSACTION_EXECUTED was not broadcast")
	assert.Less(t, idxThreshold, idxExecuted)

	snap, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, sessionstore.StatusCompleted, snap.Status)
	require.NotNil(t, snap.Result)
	assert.Equal(t, "SUCCESS", snap.Result.Receipt)
}

func TestSignatureRejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newSigner(t)
	eve := newSigner(t)

	created, err := f.mgr.CreateSession(ctx, protocol.CreateSessionPayload{
		Threshold:          1,
		EligiblePublicKeys: []string{alice.pub},
	})
	require.NoError(t, err)
	id := created.SessionID

	frozen := f.freeze(t, time.Now().Unix())
	_, err = f.mgr.InjectTransaction(ctx, protocol.InjectTransactionPayload{
		SessionID:            id,
		FrozenTransactionB64: base64.StdEncoding.EncodeToString(frozen),
	})
	require.NoError(t, err)

	pid, err := f.store.AddParticipant(id, "eve", &stubSub{})
	require.NoError(t, err)

	t.Run("no signatures", func(t *testing.T) {
		_, _, err := f.mgr.OnSignatureSubmit(ctx, id, pid, alice.pub, nil)
		require.Error(t, err)
		assert.Equal(t, protocol.ReasonMalformedSignature, CodeOf(err))
	})

	t.Run("bad base64", func(t *testing.T) {
		_, _, err := f.mgr.OnSignatureSubmit(ctx, id, pid, alice.pub, []string{"!!!"})
		require.Error(t, err)
		assert.Equal(t, protocol.ReasonMalformedSignature, CodeOf(err))
	})

	t.Run("valid signature from ineligible key", func(t *testing.T) {
		_, _, err := f.mgr.OnSignatureSubmit(ctx, id, pid, eve.pub, eve.sign(t, f.adapter, frozen))
		require.Error(t, err)
		assert.Equal(t, protocol.ReasonIneligibleKey, CodeOf(err))
	})

	t.Run("forged signature", func(t *testing.T) {
		forged := eve.sign(t, f.adapter, frozen) // eve's signature under alice's key
		_, _, err := f.mgr.OnSignatureSubmit(ctx, id, pid, alice.pub, forged)
		require.Error(t, err)
		assert.Equal(t, protocol.ReasonVerificationFailed, CodeOf(err))
	})

	t.Run("unknown session", func(t *testing.T) {
		_, _, err := f.mgr.OnSignatureSubmit(ctx, "missing", pid, alice.pub, alice.sign(t, f.adapter, frozen))
		require.Error(t, err)
		assert.Equal(t, protocol.ReasonUnknownSession, CodeOf(err))
	})
}

func TestDuplicateSubmissionIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newSigner(t)
	created, err := f.mgr.CreateSession(ctx, protocol.CreateSessionPayload{Threshold: 2})
	require.NoError(t, err)
	id := created.SessionID

	frozen := f.freeze(t, time.Now().Unix())
	_, err = f.mgr.InjectTransaction(ctx, protocol.InjectTransactionPayload{
		SessionID:            id,
		FrozenTransactionB64: base64.StdEncoding.EncodeToString(frozen),
	})
	require.NoError(t, err)

	pid, err := f.store.AddParticipant(id, "alice", &stubSub{})
	require.NoError(t, err)

	sigs := alice.sign(t, f.adapter, frozen)
	_, duplicate, err := f.mgr.OnSignatureSubmit(ctx, id, pid, alice.pub, sigs)
	require.NoError(t, err)
	assert.False(t, duplicate)

	accepted, duplicate, err := f.mgr.OnSignatureSubmit(ctx, id, pid, alice.pub, sigs)
	require.NoError(t, err)
	assert.True(t, duplicate)
	assert.Equal(t, 1, accepted.Count, "duplicate must not be re-counted")
}

func TestValidityWindowExpiryDuringExecution(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newSigner(t)
	created, err := f.mgr.CreateSession(ctx, protocol.CreateSessionPayload{Threshold: 1})
	require.NoError(t, err)
	id := created.SessionID

	// The window closed three minutes ago; the threshold path must land in
	// expired, not completed.
	frozen := f.freeze(t, time.Now().Add(-5*time.Minute).Unix())
	_, err = f.mgr.InjectTransaction(ctx, protocol.InjectTransactionPayload{
		SessionID:            id,
		FrozenTransactionB64: base64.StdEncoding.EncodeToString(frozen),
	})
	require.NoError(t, err)

	coord := &stubSub{}
	require.NoError(t, f.store.SetCoordinatorSubscription(id, coord))

	pid, err := f.store.AddParticipant(id, "alice", &stubSub{})
	require.NoError(t, err)

	_, _, err = f.mgr.OnSignatureSubmit(ctx, id, pid, alice.pub, alice.sign(t, f.adapter, frozen))
	require.NoError(t, err, "the signature itself is valid; the failure is in execution")

	snap, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, sessionstore.StatusExpired, snap.Status)
	assert.True(t, coord.has(protocol.MsgTransactionExpired))
	assert.False(t, coord.has(protocol.MsgTransactionExecuted))
}

// cancellingAdapter cancels the submitter's request context the moment Submit
// is entered, the way a socket dropping mid-submission would, then delegates.
type cancellingAdapter struct {
	*localnet.Adapter
	cancelSubmitter context.CancelFunc
}

func (a *cancellingAdapter) Submit(ctx context.Context, frozen []byte) (*chain.Receipt, error) {
	a.cancelSubmitter()
	return a.Adapter.Submit(ctx, frozen)
}

func TestExecutionSurvivesSubmitterDisconnect(t *testing.T) {
	f := newFixture(t)
	log := zerolog.Nop()

	submitCtx, cancel := context.WithCancel(context.Background())
	adapter := &cancellingAdapter{Adapter: f.adapter, cancelSubmitter: cancel}
	f.mgr = New(f.store, sigverify.New(f.adapter, log), adapter, "ws://127.0.0.1:8443", log)

	alice := newSigner(t)
	created, err := f.mgr.CreateSession(context.Background(), protocol.CreateSessionPayload{Threshold: 1})
	require.NoError(t, err)
	id := created.SessionID

	coord := &stubSub{}
	require.NoError(t, f.store.SetCoordinatorSubscription(id, coord))

	frozen := f.freeze(t, time.Now().Unix())
	_, err = f.mgr.InjectTransaction(context.Background(), protocol.InjectTransactionPayload{
		SessionID:            id,
		FrozenTransactionB64: base64.StdEncoding.EncodeToString(frozen),
	})
	require.NoError(t, err)

	pid, err := f.store.AddParticipant(id, "alice", &stubSub{})
	require.NoError(t, err)

	// The submitter's connection dies while the network submission is in
	// flight. The session still completes: only the validity window may
	// cancel an execution.
	_, _, err = f.mgr.OnSignatureSubmit(submitCtx, id, pid, alice.pub, alice.sign(t, f.adapter, frozen))
	require.NoError(t, err)

	snap, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, sessionstore.StatusCompleted, snap.Status)
	assert.True(t, coord.has(protocol.MsgTransactionExecuted))
	assert.False(t, coord.has(protocol.MsgError))
}

func TestInjectValidatesMetadata(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.mgr.CreateSession(ctx, protocol.CreateSessionPayload{Threshold: 1})
	require.NoError(t, err)

	frozen := f.freeze(t, time.Now().Unix())
	injected, err := f.mgr.InjectTransaction(ctx, protocol.InjectTransactionPayload{
		SessionID:            created.SessionID,
		FrozenTransactionB64: base64.StdEncoding.EncodeToString(frozen),
		Metadata: map[string]string{
			"type":   "contract call", // bytes say transfer
			"note":   "sign URGENT now",
			"amount": "100",
		},
	})
	require.NoError(t, err, "contradictory metadata warns, it does not block")
	assert.NotEmpty(t, injected.Warnings)
}

func TestCancelBroadcasts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.mgr.CreateSession(ctx, protocol.CreateSessionPayload{Threshold: 1})
	require.NoError(t, err)
	id := created.SessionID

	coord := &stubSub{}
	require.NoError(t, f.store.SetCoordinatorSubscription(id, coord))

	require.NoError(t, f.mgr.Cancel(ctx, id, "wrong amount"))
	assert.True(t, coord.has(protocol.MsgSessionCancelled))

	snap, err := f.store.Get(id)
	require.NoError(t, err)
	assert.Equal(t, sessionstore.StatusCancelled, snap.Status)

	// Cancelling twice is an idempotent no-op.
	assert.NoError(t, f.mgr.Cancel(ctx, id, "again"))
}

func TestParticipantRejectKeepsSessionAlive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newSigner(t)
	created, err := f.mgr.CreateSession(ctx, protocol.CreateSessionPayload{Threshold: 1})
	require.NoError(t, err)
	id := created.SessionID

	coord := &stubSub{}
	require.NoError(t, f.store.SetCoordinatorSubscription(id, coord))
	pid, _ := f.joinReady(t, id, alice)

	require.NoError(t, f.mgr.OnParticipantReject(id, pid, "amount looks wrong"))
	assert.True(t, coord.has(protocol.MsgTransactionRejected))

	snap, err := f.store.Get(id)
	require.NoError(t, err)
	assert.False(t, snap.Status.Terminal())
}

func TestDisconnectBroadcast(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newSigner(t)
	created, err := f.mgr.CreateSession(ctx, protocol.CreateSessionPayload{Threshold: 1})
	require.NoError(t, err)
	id := created.SessionID

	coord := &stubSub{}
	require.NoError(t, f.store.SetCoordinatorSubscription(id, coord))
	pid, _ := f.joinReady(t, id, alice)

	f.mgr.OnDisconnect(id, pid, protocol.RoleParticipant)
	assert.True(t, coord.has(protocol.MsgParticipantDisconnected))

	// Coordinator disconnect only detaches its subscription.
	f.mgr.OnDisconnect(id, "", protocol.RoleCoordinator)
	snap, err := f.store.Get(id)
	require.NoError(t, err)
	assert.False(t, snap.Status.Terminal())
}

func TestLateJoinerGetsTransactionDirectly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alice := newSigner(t)
	created, err := f.mgr.CreateSession(ctx, protocol.CreateSessionPayload{Threshold: 1})
	require.NoError(t, err)
	id := created.SessionID

	frozen := f.freeze(t, time.Now().Unix())
	_, err = f.mgr.InjectTransaction(ctx, protocol.InjectTransactionPayload{
		SessionID:            id,
		FrozenTransactionB64: base64.StdEncoding.EncodeToString(frozen),
	})
	require.NoError(t, err)

	// Alice becomes ready only after injection; she must still receive the
	// transaction.
	_, sub := f.joinReady(t, id, alice)
	assert.True(t, sub.has(protocol.MsgTransactionReceived))
}
