// Package sessionmanager orchestrates the signing session lifecycle: it is
// the only component that drives state transitions in the session store,
// decodes transactions, verifies signatures, and talks to the chain adapter.
package sessionmanager

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lazysuperheroes/hedera-multisig-sub001/chain"
	"github.com/lazysuperheroes/hedera-multisig-sub001/connstring"
	"github.com/lazysuperheroes/hedera-multisig-sub001/decoder"
	"github.com/lazysuperheroes/hedera-multisig-sub001/metrics"
	"github.com/lazysuperheroes/hedera-multisig-sub001/protocol"
	"github.com/lazysuperheroes/hedera-multisig-sub001/sessionstore"
	"github.com/lazysuperheroes/hedera-multisig-sub001/sigverify"
	"github.com/lazysuperheroes/hedera-multisig-sub001/txcodec"
)

// executionEpsilon is subtracted from the validity deadline so the forced
// expiry fires before the network would refuse the transaction anyway.
const executionEpsilon = 2 * time.Second

// Manager coordinates sessions end to end.
type Manager struct {
	store     *sessionstore.Store
	verifier  *sigverify.Verifier
	adapter   chain.Adapter
	serverURL string
	logger    zerolog.Logger
	now       func() time.Time
}

// Option configures the manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New creates a session manager.
func New(
	store *sessionstore.Store,
	verifier *sigverify.Verifier,
	adapter chain.Adapter,
	serverURL string,
	logger zerolog.Logger,
	opts ...Option,
) *Manager {
	m := &Manager{
		store:     store,
		verifier:  verifier,
		adapter:   adapter,
		serverURL: serverURL,
		logger:    logger.With().Str("component", "session_manager").Logger(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store exposes the session store for authentication and listing.
func (m *Manager) Store() *sessionstore.Store {
	return m.store
}

// CreateSession opens a new session and returns its join coordinates. When a
// frozen transaction is supplied it is decoded here; decode failure cancels
// creation.
func (m *Manager) CreateSession(ctx context.Context, req protocol.CreateSessionPayload) (*protocol.SessionCreatedPayload, error) {
	cfg := sessionstore.Config{
		Threshold:            req.Threshold,
		EligiblePublicKeys:   req.EligiblePublicKeys,
		ExpectedParticipants: req.ExpectedParticipants,
		Pin:                  req.Pin,
		Metadata:             req.Metadata,
	}
	if req.TimeoutMs > 0 {
		cfg.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	if req.FrozenTransactionB64 != "" {
		frozen, err := base64.StdEncoding.DecodeString(req.FrozenTransactionB64)
		if err != nil {
			return nil, opErr(protocol.ReasonDecodeError, "frozen transaction is not valid base64")
		}
		decoded, err := decoder.Decode(frozen, nil)
		if err != nil {
			return nil, decodeErr(err)
		}
		decodedJSON, err := json.Marshal(decoded)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal decoded transaction")
		}
		cfg.FrozenTransaction = frozen
		cfg.Decoded = decodedJSON
	}

	snap, err := m.store.Create(cfg)
	if err != nil {
		return nil, storeErr(err)
	}

	cs, err := connstring.Encode(connstring.ConnString{
		ServerURL: m.serverURL,
		SessionID: snap.SessionID,
		Pin:       snap.Pin,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode connection string")
	}

	metrics.SessionsCreated.Inc()

	return &protocol.SessionCreatedPayload{
		SessionID:        snap.SessionID,
		Pin:              snap.Pin,
		ConnectionString: cs,
		ExpiresAtUnix:    snap.ExpiresAt.Unix(),
	}, nil
}

func decodeErr(err error) error {
	var de *decoder.Error
	if errors.As(err, &de) {
		return opErr(de.Code, "%s", de.Message)
	}
	return opErr(protocol.ReasonDecodeError, "%v", err)
}

// InjectTransaction decodes the frozen transaction, validates the
// coordinator's metadata, installs the transaction, and fans it out to every
// ready participant. The session must be in waiting.
func (m *Manager) InjectTransaction(ctx context.Context, req protocol.InjectTransactionPayload) (*protocol.TransactionInjectedPayload, error) {
	frozen, err := base64.StdEncoding.DecodeString(req.FrozenTransactionB64)
	if err != nil {
		return nil, opErr(protocol.ReasonDecodeError, "frozen transaction is not valid base64")
	}

	decoded, err := decoder.Decode(frozen, req.ContractInterface)
	if err != nil {
		return nil, decodeErr(err)
	}
	decodedJSON, err := json.Marshal(decoded)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal decoded transaction")
	}

	validation := decoder.ValidateMetadata(decoded, req.Metadata)
	warnings := append([]string(nil), validation.Warnings...)
	for _, mm := range validation.Mismatches {
		warnings = append(warnings,
			"metadata "+mm.Field+" contradicts decoded transaction: metadata="+mm.Metadata+" actual="+mm.Actual)
	}

	if err := m.store.InjectTransaction(req.SessionID, frozen, decodedJSON, req.Metadata, req.ContractInterface); err != nil {
		return nil, storeErr(err)
	}

	m.logger.Info().
		Str("session_id", req.SessionID).
		Str("checksum", decoded.Checksum).
		Str("type", decoded.Type).
		Bool("metadata_valid", validation.Valid).
		Msg("transaction injected")

	m.broadcast(req.SessionID, sessionstore.SubscribersReady,
		protocol.MustEncode(protocol.MsgTransactionReceived, protocol.TransactionReceivedPayload{
			FrozenTransaction: protocol.FrozenTransaction{Base64: req.FrozenTransactionB64},
			TxDetails:         decodedJSON,
			Metadata:          req.Metadata,
			MetadataWarnings:  warnings,
			ContractInterface: req.ContractInterface,
		}))

	return &protocol.TransactionInjectedPayload{
		SessionID: req.SessionID,
		Checksum:  decoded.Checksum,
		Decoded:   decodedJSON,
		Warnings:  warnings,
	}, nil
}

// OnParticipantConnected announces a freshly authenticated participant.
func (m *Manager) OnParticipantConnected(sessionID, participantID, label string) {
	m.broadcast(sessionID, sessionstore.SubscribersAll,
		protocol.MustEncode(protocol.MsgParticipantConnected, protocol.ParticipantEventPayload{
			ParticipantID: participantID,
			Label:         label,
		}))
}

// OnParticipantReady validates the announced key, marks the participant
// ready, and delivers the transaction when one is already present. Only the
// participant id is broadcast, never the key.
func (m *Manager) OnParticipantReady(ctx context.Context, sessionID, participantID, publicKey string) error {
	if err := m.store.SetParticipantReady(sessionID, participantID, publicKey); err != nil {
		return storeErr(err)
	}

	m.broadcast(sessionID, sessionstore.SubscribersAll,
		protocol.MustEncode(protocol.MsgParticipantReady, protocol.ParticipantEventPayload{
			ParticipantID: participantID,
		}))

	snap, err := m.store.Get(sessionID)
	if err != nil {
		return storeErr(err)
	}
	if len(snap.FrozenTransaction) == 0 {
		return nil
	}

	// Late joiner: the transaction is already in, deliver it directly.
	sub, err := m.store.ParticipantSubscription(sessionID, participantID)
	if err != nil || sub == nil {
		return nil
	}
	frame := protocol.MustEncode(protocol.MsgTransactionReceived, protocol.TransactionReceivedPayload{
		FrozenTransaction: protocol.FrozenTransaction{
			Base64: base64.StdEncoding.EncodeToString(snap.FrozenTransaction),
		},
		TxDetails:         snap.Decoded,
		Metadata:          snap.Metadata,
		ContractInterface: snap.ContractInterface,
	})
	if err := sub.Send(frame); err != nil {
		m.logger.Warn().Err(err).
			Str("session_id", sessionID).
			Str("participant_id", participantID).
			Msg("failed to deliver transaction to late joiner")
		sub.Close()
		return nil
	}
	_ = m.store.SetParticipantReviewing(sessionID, participantID)
	return nil
}

// OnSignatureSubmit verifies and records one partial signature, then drives
// execution when the acceptance crosses the threshold. Every submission gets
// exactly one terminal response on the submitting connection: the
// SIGNATURE_ACCEPTED broadcast for fresh acceptances, a direct ack for
// idempotent duplicates (duplicate=true), or an error the transport converts
// to SIGNATURE_REJECTED.
func (m *Manager) OnSignatureSubmit(ctx context.Context, sessionID, participantID, publicKey string, sigsB64 []string) (accepted *protocol.SignatureAcceptedPayload, duplicate bool, err error) {
	if len(sigsB64) == 0 {
		return nil, false, opErr(protocol.ReasonMalformedSignature, "no signature supplied")
	}
	sigs := make([][]byte, 0, len(sigsB64))
	for _, s := range sigsB64 {
		raw, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, false, opErr(protocol.ReasonMalformedSignature, "signature is not valid base64")
		}
		sigs = append(sigs, raw)
	}

	snap, err := m.store.Get(sessionID)
	if err != nil {
		return nil, false, storeErr(err)
	}
	if snap.Status != sessionstore.StatusTransactionReceived && snap.Status != sessionstore.StatusSigning {
		switch snap.Status {
		case sessionstore.StatusExecuting:
			return nil, false, opErr(protocol.ReasonThresholdAlreadyMet, "threshold already met, execution in flight")
		case sessionstore.StatusExpired:
			return nil, false, opErr(protocol.ReasonSessionExpired, "session has expired")
		default:
			return nil, false, opErr(protocol.ReasonNotSignable, "session is not accepting signatures")
		}
	}

	if err := m.verifier.Verify(ctx, snap.FrozenTransaction, publicKey, sigs); err != nil {
		metrics.SignaturesRejected.WithLabelValues(string(CodeOf(err))).Inc()
		return nil, false, err
	}

	res, err := m.store.RecordSignature(sessionID, participantID, publicKey, sigs)
	if err != nil {
		mapped := storeErr(err)
		metrics.SignaturesRejected.WithLabelValues(string(CodeOf(mapped))).Inc()
		return nil, false, mapped
	}

	accepted = &protocol.SignatureAcceptedPayload{
		PublicKey: publicKey,
		Count:     res.Count,
		Threshold: snap.Threshold,
	}

	if res.Duplicate {
		// Idempotent resubmission: acknowledged, not re-counted, not
		// re-broadcast.
		return accepted, true, nil
	}

	metrics.SignaturesAccepted.Inc()
	m.logger.Info().
		Str("session_id", sessionID).
		Str("public_key", publicKey).
		Int("count", res.Count).
		Int("threshold", snap.Threshold).
		Msg("signature accepted")

	m.broadcast(sessionID, sessionstore.SubscribersAll,
		protocol.MustEncode(protocol.MsgSignatureAccepted, *accepted))

	if res.ThresholdMet {
		m.executeSession(sessionID, res.Count)
	}

	return accepted, false, nil
}

// executeSession runs the threshold-met path: broadcast, attach signatures,
// submit, and report. The threshold broadcast strictly precedes the
// submission attempt, which strictly precedes the completion broadcast.
// Execution is detached from the submitting connection: once the threshold is
// crossed the outcome belongs to the session, and the only thing allowed to
// cancel an in-flight submission is the validity window.
func (m *Manager) executeSession(sessionID string, count int) {
	if err := m.store.MarkExecuting(sessionID); err != nil {
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to enter executing state")
		return
	}

	m.broadcast(sessionID, sessionstore.SubscribersAll,
		protocol.MustEncode(protocol.MsgThresholdMet, protocol.ThresholdMetPayload{Count: count}))

	snap, err := m.store.Get(sessionID)
	if err != nil {
		m.failSession(sessionID, "session vanished before execution")
		return
	}
	sigs, err := m.store.Signatures(sessionID)
	if err != nil {
		m.failSession(sessionID, "signatures vanished before execution")
		return
	}

	signed := snap.FrozenTransaction
	for _, sig := range sigs {
		signed, err = m.adapter.AttachSignature(signed, sig.PublicKey, sig.Signatures)
		if err != nil {
			m.failSession(sessionID, errors.Wrap(err, "failed to attach signature").Error())
			return
		}
	}

	// A one-shot deadline at valid_start + valid_duration - epsilon cancels
	// the submission if the chain has not reported by then.
	execCtx := context.Background()
	if env, err := txcodec.Unmarshal(snap.FrozenTransaction); err == nil {
		deadline := time.Unix(env.Body.TransactionID.ValidStartUnix+env.Body.ValidDurationSeconds, 0).
			Add(-executionEpsilon)
		var cancel context.CancelFunc
		execCtx, cancel = context.WithDeadline(execCtx, deadline)
		defer cancel()
	}

	receipt, err := m.submitWithRetry(execCtx, signed)
	if err != nil {
		m.handleSubmitFailure(sessionID, err)
		return
	}

	result := sessionstore.ExecutionResult{
		TransactionID: receipt.TransactionID,
		Receipt:       receipt.Status,
	}
	if err := m.store.MarkCompleted(sessionID, result); err != nil {
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to mark session completed")
		return
	}
	metrics.SessionsTerminal.WithLabelValues(string(sessionstore.StatusCompleted)).Inc()

	m.logger.Info().
		Str("session_id", sessionID).
		Str("transaction_id", receipt.TransactionID).
		Msg("transaction executed")

	m.broadcast(sessionID, sessionstore.SubscribersAll,
		protocol.MustEncode(protocol.MsgTransactionExecuted, protocol.TransactionExecutedPayload{
			TransactionID: receipt.TransactionID,
			Receipt:       receipt.Status,
		}))
}

// submitWithRetry retries once on transient failures before surfacing.
func (m *Manager) submitWithRetry(ctx context.Context, signed []byte) (*chain.Receipt, error) {
	receipt, err := m.adapter.Submit(ctx, signed)
	if err == nil {
		return receipt, nil
	}
	if chain.Classify(err) == chain.ErrKindTransient && ctx.Err() == nil {
		m.logger.Warn().Err(err).Msg("transient submission failure, retrying once")
		return m.adapter.Submit(ctx, signed)
	}
	return nil, err
}

func (m *Manager) handleSubmitFailure(sessionID string, err error) {
	kind := chain.Classify(err)
	if errors.Is(err, context.DeadlineExceeded) {
		kind = chain.ErrKindValidityWindowExpired
	}

	switch kind {
	case chain.ErrKindValidityWindowExpired:
		if markErr := m.store.MarkExpired(sessionID, "transaction validity window elapsed"); markErr != nil {
			m.logger.Error().Err(markErr).Str("session_id", sessionID).Msg("failed to expire session")
		}
		metrics.SessionsTerminal.WithLabelValues(string(sessionstore.StatusExpired)).Inc()
		m.broadcast(sessionID, sessionstore.SubscribersAll,
			protocol.MustEncode(protocol.MsgTransactionExpired, struct{}{}))

	case chain.ErrKindInsufficientSignatures:
		// Threshold guarantees should make this unreachable.
		m.logger.Error().Err(err).
			Str("session_id", sessionID).
			Msg("invariant violation: network reported insufficient signatures after threshold was met")
		m.failSession(sessionID, err.Error())

	default:
		m.failSession(sessionID, err.Error())
	}
}

func (m *Manager) failSession(sessionID, reason string) {
	if err := m.store.MarkFailed(sessionID, reason); err != nil {
		m.logger.Error().Err(err).Str("session_id", sessionID).Msg("failed to mark session failed")
		return
	}
	metrics.SessionsTerminal.WithLabelValues(string(sessionstore.StatusFailed)).Inc()
	m.broadcast(sessionID, sessionstore.SubscribersAll,
		protocol.MustEncode(protocol.MsgError, protocol.ErrorPayload{
			Message: reason,
			Code:    protocol.ReasonChainError,
		}))
}

// OnParticipantReject records a participant's refusal and tells the rest of
// the session. The session itself continues.
func (m *Manager) OnParticipantReject(sessionID, participantID, reason string) error {
	if err := m.store.SetParticipantRejected(sessionID, participantID); err != nil {
		return storeErr(err)
	}
	m.logger.Info().
		Str("session_id", sessionID).
		Str("participant_id", participantID).
		Str("reason", reason).
		Msg("participant rejected transaction")
	m.broadcast(sessionID, sessionstore.SubscribersAll,
		protocol.MustEncode(protocol.MsgTransactionRejected, protocol.TransactionRejectedPayload{
			Reason: reason,
		}))
	return nil
}

// Cancel terminates a session on coordinator request.
func (m *Manager) Cancel(ctx context.Context, sessionID, reason string) error {
	if err := m.store.MarkCancelled(sessionID, reason); err != nil {
		return storeErr(err)
	}
	metrics.SessionsTerminal.WithLabelValues(string(sessionstore.StatusCancelled)).Inc()
	m.logger.Info().Str("session_id", sessionID).Str("reason", reason).Msg("session cancelled")
	m.broadcast(sessionID, sessionstore.SubscribersAll,
		protocol.MustEncode(protocol.MsgSessionCancelled, protocol.SessionCancelledPayload{Reason: reason}))
	return nil
}

// OnDisconnect handles a dropped connection. Recorded signatures survive.
func (m *Manager) OnDisconnect(sessionID, participantID string, role protocol.Role) {
	if role == protocol.RoleCoordinator {
		m.store.ClearCoordinatorSubscription(sessionID)
		return
	}
	if err := m.store.RemoveParticipant(sessionID, participantID); err != nil {
		return
	}
	m.broadcast(sessionID, sessionstore.SubscribersAll,
		protocol.MustEncode(protocol.MsgParticipantDisconnected, protocol.ParticipantEventPayload{
			ParticipantID: participantID,
		}))
}

// broadcast fans a frame out to the chosen subscriber set. A send failure
// disconnects that subscriber only.
func (m *Manager) broadcast(sessionID string, set sessionstore.SubscriberSet, frame []byte) {
	subs, err := m.store.Subscriptions(sessionID, set)
	if err != nil {
		return
	}
	for _, sub := range subs {
		if err := sub.Send(frame); err != nil {
			m.logger.Warn().Err(err).Str("session_id", sessionID).Msg("dropping unreachable subscriber")
			sub.Close()
		}
	}
}

// SessionInfo builds the auth acknowledgement view of a session.
func (m *Manager) SessionInfo(sessionID string) (*protocol.SessionInfo, error) {
	snap, err := m.store.Get(sessionID)
	if err != nil {
		return nil, storeErr(err)
	}
	return &protocol.SessionInfo{
		SessionID:            snap.SessionID,
		Status:               string(snap.Status),
		Threshold:            snap.Threshold,
		ExpectedParticipants: snap.ExpectedParticipants,
		SignatureCount:       snap.SignatureCount,
		ExpiresAtUnix:        snap.ExpiresAt.Unix(),
		EligiblePublicKeys:   snap.EligiblePublicKeys,
		TxDetails:            snap.Decoded,
	}, nil
}
