package sessionstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

const (
	// DefaultSessionTimeout bounds how long a session waits for its
	// transaction and signatures. Far longer than any single transaction's
	// validity window, which is the point of the two-phase protocol.
	DefaultSessionTimeout = 30 * time.Minute

	// DefaultGracePeriod is how long a terminal session stays queryable
	// before its record is reclaimed.
	DefaultGracePeriod = 5 * time.Minute
)

// Store holds all live sessions. The top-level lock covers only creation and
// lookup; every per-session mutation runs under that session's own lock.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry

	timeout     time.Duration
	gracePeriod time.Duration
	pinLength   int
	now         func() time.Time
	archiver    Archiver
	logger      zerolog.Logger
}

type sessionEntry struct {
	mu sync.Mutex
	s  session
	// expiryNotified marks that subscribers were already told about the
	// expiry, so the sweeper broadcasts exactly once.
	expiryNotified bool
}

// Option configures the store.
type Option func(*Store)

// WithTimeout sets the default session timeout.
func WithTimeout(d time.Duration) Option {
	return func(st *Store) { st.timeout = d }
}

// WithGracePeriod sets the post-terminal retention period.
func WithGracePeriod(d time.Duration) Option {
	return func(st *Store) { st.gracePeriod = d }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(st *Store) { st.now = now }
}

// WithArchiver installs the durable archive for terminal sessions.
func WithArchiver(a Archiver) Option {
	return func(st *Store) { st.archiver = a }
}

// WithPinLength sets the generated pin length.
func WithPinLength(n int) Option {
	return func(st *Store) { st.pinLength = n }
}

// New creates an empty in-memory store.
func New(logger zerolog.Logger, opts ...Option) *Store {
	st := &Store{
		sessions:    make(map[string]*sessionEntry),
		timeout:     DefaultSessionTimeout,
		gracePeriod: DefaultGracePeriod,
		pinLength:   defaultPinLength,
		now:         time.Now,
		logger:      logger.With().Str("component", "session_store").Logger(),
	}
	for _, opt := range opts {
		opt(st)
	}
	return st
}

// newSessionID renders a random 128-bit identifier as lowercase hex.
func newSessionID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// newParticipantID renders a random 64-bit identifier as lowercase hex.
func newParticipantID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:8])
}

// Create validates the config and registers a new session. The session
// starts in waiting, or transaction-received when a frozen transaction is
// supplied at creation.
func (st *Store) Create(cfg Config) (Snapshot, error) {
	if cfg.Threshold < 1 {
		return Snapshot{}, errors.Wrap(ErrBadThreshold, "threshold must be at least 1")
	}
	if len(cfg.EligiblePublicKeys) > 0 && cfg.Threshold > len(cfg.EligiblePublicKeys) {
		return Snapshot{}, errors.Wrapf(ErrBadThreshold,
			"threshold %d exceeds %d eligible keys", cfg.Threshold, len(cfg.EligiblePublicKeys))
	}
	if cfg.ExpectedParticipants > 0 && cfg.ExpectedParticipants < cfg.Threshold {
		return Snapshot{}, errors.Wrap(ErrBadThreshold, "expected participants below threshold")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = st.timeout
	}

	pin := cfg.Pin
	if pin == "" {
		var err error
		pin, err = generatePin(st.pinLength)
		if err != nil {
			return Snapshot{}, err
		}
	}

	now := st.now()
	s := session{
		id:                   newSessionID(),
		pin:                  pin,
		threshold:            cfg.Threshold,
		eligibleKeys:         append([]string(nil), cfg.EligiblePublicKeys...),
		eligibleSet:          make(map[string]bool, len(cfg.EligiblePublicKeys)),
		expectedParticipants: cfg.ExpectedParticipants,
		status:               StatusWaiting,
		metadata:             cfg.Metadata,
		contractInterface:    append([]string(nil), cfg.ContractInterface...),
		createdAt:            now,
		expiresAt:            now.Add(timeout),
		participants:         make(map[string]*Participant),
		signatures:           make(map[string]*Signature),
	}
	for _, k := range cfg.EligiblePublicKeys {
		s.eligibleSet[k] = true
	}
	if len(cfg.FrozenTransaction) > 0 {
		s.frozenTransaction = cfg.FrozenTransaction
		s.decoded = cfg.Decoded
		s.status = StatusTransactionReceived
		s.transactionReceivedAt = now
	}

	entry := &sessionEntry{s: s}

	st.mu.Lock()
	st.sessions[s.id] = entry
	st.mu.Unlock()

	st.logger.Info().
		Str("session_id", s.id).
		Int("threshold", s.threshold).
		Int("eligible_keys", len(s.eligibleKeys)).
		Time("expires_at", s.expiresAt).
		Msg("session created")

	return snapshotOf(&entry.s), nil
}

// withSession runs fn under the session lock, after lazily expiring the
// session when its deadline passed.
func (st *Store) withSession(id string, fn func(*sessionEntry) error) error {
	st.mu.RLock()
	entry, ok := st.sessions[id]
	st.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	st.lazyExpireLocked(entry)
	return fn(entry)
}

// lazyExpireLocked transitions a past-due session to expired. Caller holds
// the session lock.
func (st *Store) lazyExpireLocked(entry *sessionEntry) {
	s := &entry.s
	if s.status.Terminal() {
		return
	}
	if st.now().Before(s.expiresAt) {
		return
	}
	st.terminalLocked(entry, StatusExpired, "session timeout elapsed")
}

// terminalLocked moves the session into a terminal state, stamps the
// grace-period deletion marker, and hands the record to the archiver.
func (st *Store) terminalLocked(entry *sessionEntry, status Status, reason string) {
	s := &entry.s
	s.status = status
	s.terminalReason = reason
	s.completedAt = st.now()
	s.deleteAt = s.completedAt.Add(st.gracePeriod)

	st.logger.Info().
		Str("session_id", s.id).
		Str("status", string(status)).
		Str("reason", reason).
		Msg("session reached terminal state")

	if st.archiver != nil {
		rec := archiveRecordLocked(s)
		go func() {
			if err := st.archiver.ArchiveSession(rec); err != nil {
				st.logger.Warn().Err(err).Str("session_id", rec.SessionID).Msg("failed to archive session")
			}
		}()
	}
}

func archiveRecordLocked(s *session) ArchiveRecord {
	rec := ArchiveRecord{
		SessionID:      s.id,
		Status:         s.status,
		Threshold:      s.threshold,
		EligibleKeys:   append([]string(nil), s.eligibleKeys...),
		TerminalReason: s.terminalReason,
		CreatedAt:      s.createdAt,
		CompletedAt:    s.completedAt,
	}
	if len(s.frozenTransaction) > 0 {
		sum := sha256.Sum256(s.frozenTransaction)
		rec.Checksum = hex.EncodeToString(sum[:])
	}
	if s.result != nil {
		rec.TransactionID = s.result.TransactionID
		rec.Receipt = s.result.Receipt
	}
	for _, key := range s.signatureOrder {
		if sig := s.signatures[key]; sig != nil {
			rec.Signatures = append(rec.Signatures, *sig)
		}
	}
	return rec
}

// Get returns a consistent snapshot, lazily expiring past-due sessions.
func (st *Store) Get(id string) (Snapshot, error) {
	var snap Snapshot
	err := st.withSession(id, func(entry *sessionEntry) error {
		snap = snapshotOf(&entry.s)
		return nil
	})
	return snap, err
}

// Authenticate compares the pin in constant time. Authentication is only
// permitted while the session is in an authable state.
func (st *Store) Authenticate(id, pin string) error {
	return st.withSession(id, func(entry *sessionEntry) error {
		s := &entry.s
		if !s.status.Authable() {
			if s.status == StatusExpired {
				return ErrExpired
			}
			return ErrTerminal
		}
		if !pinEqual(s.pin, pin) {
			return ErrWrongPin
		}
		return nil
	})
}

// AddParticipant registers a connection as a session participant.
func (st *Store) AddParticipant(id, label string, sub Subscription) (string, error) {
	var pid string
	err := st.withSession(id, func(entry *sessionEntry) error {
		s := &entry.s
		if s.status.Terminal() {
			if s.status == StatusExpired {
				return ErrExpired
			}
			return ErrTerminal
		}
		now := st.now()
		pid = newParticipantID()
		s.participants[pid] = &Participant{
			ID:           pid,
			Label:        label,
			Status:       ParticipantConnected,
			Subscription: sub,
			ConnectedAt:  now,
			LastUpdate:   now,
		}
		return nil
	})
	return pid, err
}

// SetCoordinatorSubscription attaches the coordinator's message channel.
func (st *Store) SetCoordinatorSubscription(id string, sub Subscription) error {
	return st.withSession(id, func(entry *sessionEntry) error {
		if entry.s.status.Terminal() {
			return ErrTerminal
		}
		entry.s.coordinatorSub = sub
		return nil
	})
}

// SetParticipantReady records the participant's public key and readiness.
// Keys outside the eligible set (when enumerated) and keys that already
// signed are refused.
func (st *Store) SetParticipantReady(id, participantID, publicKey string) error {
	return st.withSession(id, func(entry *sessionEntry) error {
		s := &entry.s
		if s.status.Terminal() {
			if s.status == StatusExpired {
				return ErrExpired
			}
			return ErrTerminal
		}
		p, ok := s.participants[participantID]
		if !ok {
			return ErrParticipantGone
		}
		if len(s.eligibleSet) > 0 && !s.eligibleSet[publicKey] {
			return ErrIneligibleKey
		}
		if _, signed := s.signatures[publicKey]; signed {
			return ErrAlreadySignedKey
		}
		now := st.now()
		p.PublicKey = publicKey
		p.Status = ParticipantReady
		p.ReadyAt = now
		p.LastUpdate = now
		return nil
	})
}

// SetParticipantReviewing marks a participant as reviewing the delivered
// transaction.
func (st *Store) SetParticipantReviewing(id, participantID string) error {
	return st.withSession(id, func(entry *sessionEntry) error {
		p, ok := entry.s.participants[participantID]
		if !ok {
			return ErrParticipantGone
		}
		p.Status = ParticipantReviewing
		p.LastUpdate = st.now()
		return nil
	})
}

// SetParticipantRejected records a participant's refusal to sign. The
// session itself continues.
func (st *Store) SetParticipantRejected(id, participantID string) error {
	return st.withSession(id, func(entry *sessionEntry) error {
		p, ok := entry.s.participants[participantID]
		if !ok {
			return ErrParticipantGone
		}
		p.Status = ParticipantRejected
		p.LastUpdate = st.now()
		return nil
	})
}

// InjectTransaction atomically installs the frozen transaction. Legal only
// in waiting; the transaction is immutable once set.
func (st *Store) InjectTransaction(id string, frozen []byte, decoded json.RawMessage, metadata map[string]string, contractInterface []string) error {
	return st.withSession(id, func(entry *sessionEntry) error {
		s := &entry.s
		if s.status == StatusExpired {
			return ErrExpired
		}
		if s.status.Terminal() {
			return ErrTerminal
		}
		if s.status != StatusWaiting {
			return ErrNotWaiting
		}
		s.frozenTransaction = frozen
		s.decoded = decoded
		if metadata != nil {
			s.metadata = metadata
		}
		if len(contractInterface) > 0 {
			s.contractInterface = append([]string(nil), contractInterface...)
		}
		s.status = StatusTransactionReceived
		s.transactionReceivedAt = st.now()
		return nil
	})
}

// RecordSignature stores a verified signature. Duplicate byte-identical
// submissions succeed idempotently without re-counting; differing bytes for
// an already recorded key are refused. ThresholdMet fires exactly once, on
// the acceptance that brings the count to the threshold.
func (st *Store) RecordSignature(id, participantID, publicKey string, sigs [][]byte) (RecordResult, error) {
	var res RecordResult
	err := st.withSession(id, func(entry *sessionEntry) error {
		s := &entry.s
		if s.status == StatusExpired {
			return ErrExpired
		}
		if s.status.Terminal() {
			return ErrTerminal
		}
		if !s.status.signable() {
			if s.status == StatusExecuting {
				return ErrThresholdMet
			}
			return ErrNotSignable
		}
		if len(s.eligibleSet) > 0 && !s.eligibleSet[publicKey] {
			return ErrIneligibleKey
		}
		if existing, ok := s.signatures[publicKey]; ok {
			if signatureBytesEqual(existing.Signatures, sigs) {
				res = RecordResult{Count: len(s.signatureOrder), Duplicate: true}
				return nil
			}
			return ErrDuplicateKey
		}
		if len(s.signatureOrder) >= s.threshold {
			return ErrThresholdMet
		}

		s.signatures[publicKey] = &Signature{
			PublicKey:     publicKey,
			Signatures:    sigs,
			ParticipantID: participantID,
			ReceivedAt:    st.now(),
			Verified:      true,
		}
		s.signatureOrder = append(s.signatureOrder, publicKey)
		if s.status == StatusTransactionReceived {
			s.status = StatusSigning
		}
		if p, ok := s.participants[participantID]; ok {
			p.Status = ParticipantSigned
			p.LastUpdate = st.now()
		}

		res = RecordResult{
			Count:        len(s.signatureOrder),
			ThresholdMet: len(s.signatureOrder) == s.threshold,
		}
		return nil
	})
	return res, err
}

func signatureBytesEqual(a, b [][]byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !bytes.Equal(a[i], b[i]) {
			return false
		}
	}
	return true
}

// Signatures returns the recorded signatures in acceptance order.
func (st *Store) Signatures(id string) ([]Signature, error) {
	var out []Signature
	err := st.withSession(id, func(entry *sessionEntry) error {
		s := &entry.s
		for _, key := range s.signatureOrder {
			if sig := s.signatures[key]; sig != nil {
				out = append(out, *sig)
			}
		}
		return nil
	})
	return out, err
}

// MarkExecuting transitions signing -> executing.
func (st *Store) MarkExecuting(id string) error {
	return st.withSession(id, func(entry *sessionEntry) error {
		s := &entry.s
		if s.status == StatusExecuting {
			return nil
		}
		if s.status.Terminal() {
			return ErrTerminal
		}
		if s.status != StatusSigning {
			return errors.Errorf("cannot execute from status %s", s.status)
		}
		s.status = StatusExecuting
		return nil
	})
}

// MarkCompleted records the execution result and finishes the session.
func (st *Store) MarkCompleted(id string, result ExecutionResult) error {
	return st.markTerminal(id, StatusCompleted, "executed", &result)
}

// MarkFailed finishes the session with a failure reason.
func (st *Store) MarkFailed(id, reason string) error {
	return st.markTerminal(id, StatusFailed, reason, nil)
}

// MarkCancelled finishes the session on coordinator request.
func (st *Store) MarkCancelled(id, reason string) error {
	return st.markTerminal(id, StatusCancelled, reason, nil)
}

// MarkExpired forces the session into expired, regardless of the timer.
func (st *Store) MarkExpired(id, reason string) error {
	return st.markTerminal(id, StatusExpired, reason, nil)
}

// markTerminal is idempotent for repeated transitions into the same state;
// conflicting terminal transitions are refused.
func (st *Store) markTerminal(id string, status Status, reason string, result *ExecutionResult) error {
	return st.withSession(id, func(entry *sessionEntry) error {
		s := &entry.s
		if s.status == status {
			return nil
		}
		if s.status.Terminal() {
			return ErrTerminal
		}
		if result != nil {
			s.result = result
		}
		st.terminalLocked(entry, status, reason)
		return nil
	})
}

// RemoveParticipant handles a dropped connection. Participants without a
// recorded signature are removed outright; signers are kept, marked
// disconnected, with the subscription cleared.
func (st *Store) RemoveParticipant(id, participantID string) error {
	return st.withSession(id, func(entry *sessionEntry) error {
		s := &entry.s
		p, ok := s.participants[participantID]
		if !ok {
			return ErrParticipantGone
		}
		hasSignature := false
		if p.PublicKey != "" {
			_, hasSignature = s.signatures[p.PublicKey]
		}
		if !hasSignature {
			delete(s.participants, participantID)
			return nil
		}
		p.Status = ParticipantDisconnected
		p.Subscription = nil
		p.LastUpdate = st.now()
		return nil
	})
}

// ClearCoordinatorSubscription detaches a dropped coordinator connection.
func (st *Store) ClearCoordinatorSubscription(id string) {
	_ = st.withSession(id, func(entry *sessionEntry) error {
		entry.s.coordinatorSub = nil
		return nil
	})
}

// SubscriberSet selects which subscriptions a broadcast reaches.
type SubscriberSet int

const (
	// SubscribersAll is every live participant subscription plus the
	// coordinator.
	SubscribersAll SubscriberSet = iota
	// SubscribersReady is participants that are ready, reviewing, or have
	// signed, plus the coordinator.
	SubscribersReady
	// SubscribersCoordinator is the coordinator subscription only.
	SubscribersCoordinator
)

// Subscriptions returns a copy of the live subscriptions in the chosen set.
func (st *Store) Subscriptions(id string, set SubscriberSet) ([]Subscription, error) {
	var subs []Subscription
	err := st.withSession(id, func(entry *sessionEntry) error {
		subs = subscriptionsLocked(&entry.s, set)
		return nil
	})
	return subs, err
}

func subscriptionsLocked(s *session, set SubscriberSet) []Subscription {
	var subs []Subscription
	if set != SubscribersCoordinator {
		for _, p := range s.participants {
			if p.Subscription == nil {
				continue
			}
			if set == SubscribersReady {
				switch p.Status {
				case ParticipantReady, ParticipantReviewing, ParticipantSigned:
				default:
					continue
				}
			}
			subs = append(subs, p.Subscription)
		}
	}
	if s.coordinatorSub != nil {
		subs = append(subs, s.coordinatorSub)
	}
	return subs
}

// ParticipantSubscription returns one participant's live subscription.
func (st *Store) ParticipantSubscription(id, participantID string) (Subscription, error) {
	var sub Subscription
	err := st.withSession(id, func(entry *sessionEntry) error {
		p, ok := entry.s.participants[participantID]
		if !ok {
			return ErrParticipantGone
		}
		sub = p.Subscription
		return nil
	})
	return sub, err
}

// ListActive returns summaries of all non-terminal sessions.
func (st *Store) ListActive() []Summary {
	st.mu.RLock()
	entries := make([]*sessionEntry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	var out []Summary
	for _, entry := range entries {
		entry.mu.Lock()
		st.lazyExpireLocked(entry)
		s := &entry.s
		if !s.status.Terminal() {
			out = append(out, Summary{
				SessionID:        s.id,
				Status:           s.status,
				Threshold:        s.threshold,
				SignatureCount:   len(s.signatureOrder),
				ParticipantCount: len(s.participants),
				CreatedAt:        s.createdAt,
				ExpiresAt:        s.expiresAt,
			})
		}
		entry.mu.Unlock()
	}
	return out
}

// ExpiredSession is one session the sweeper must notify about.
type ExpiredSession struct {
	SessionID     string
	Subscriptions []Subscription
}

// CollectExpired transitions past-due sessions to expired and returns, once
// per session, the subscriptions that must receive the expiry broadcast.
func (st *Store) CollectExpired() []ExpiredSession {
	st.mu.RLock()
	entries := make([]*sessionEntry, 0, len(st.sessions))
	for _, e := range st.sessions {
		entries = append(entries, e)
	}
	st.mu.RUnlock()

	var out []ExpiredSession
	for _, entry := range entries {
		entry.mu.Lock()
		st.lazyExpireLocked(entry)
		s := &entry.s
		if s.status == StatusExpired && !entry.expiryNotified {
			entry.expiryNotified = true
			out = append(out, ExpiredSession{
				SessionID:     s.id,
				Subscriptions: subscriptionsLocked(s, SubscribersAll),
			})
		}
		entry.mu.Unlock()
	}
	return out
}

// ReclaimDeleted removes terminal sessions past their grace period, closing
// any residual subscriptions. Returns the reclaimed session ids.
func (st *Store) ReclaimDeleted() []string {
	now := st.now()

	st.mu.Lock()
	defer st.mu.Unlock()

	var reclaimed []string
	for id, entry := range st.sessions {
		entry.mu.Lock()
		due := !entry.s.deleteAt.IsZero() && !now.Before(entry.s.deleteAt)
		var subs []Subscription
		if due {
			subs = subscriptionsLocked(&entry.s, SubscribersAll)
		}
		entry.mu.Unlock()

		if due {
			for _, sub := range subs {
				sub.Close()
			}
			delete(st.sessions, id)
			reclaimed = append(reclaimed, id)
		}
	}
	return reclaimed
}

// Shutdown closes every subscription and drops all sessions.
func (st *Store) Shutdown() {
	st.mu.Lock()
	entries := st.sessions
	st.sessions = make(map[string]*sessionEntry)
	st.mu.Unlock()

	for _, entry := range entries {
		entry.mu.Lock()
		subs := subscriptionsLocked(&entry.s, SubscribersAll)
		entry.mu.Unlock()
		for _, sub := range subs {
			sub.Close()
		}
	}
	st.logger.Info().Int("sessions", len(entries)).Msg("session store shut down")
}

func snapshotOf(s *session) Snapshot {
	return Snapshot{
		SessionID:            s.id,
		Pin:                  s.pin,
		Status:               s.status,
		Threshold:            s.threshold,
		EligiblePublicKeys:   append([]string(nil), s.eligibleKeys...),
		ExpectedParticipants: s.expectedParticipants,
		FrozenTransaction:    s.frozenTransaction,
		Decoded:              s.decoded,
		Metadata:             s.metadata,
		ContractInterface:    append([]string(nil), s.contractInterface...),
		CreatedAt:            s.createdAt,
		ExpiresAt:            s.expiresAt,
		SignatureCount:       len(s.signatureOrder),
		ParticipantCount:     len(s.participants),
		TerminalReason:       s.terminalReason,
		Result:               s.result,
	}
}
