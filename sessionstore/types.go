// Package sessionstore owns the live state of signing sessions and their
// participants. All mutations go through the Store, which serializes them
// per session and enforces the lifecycle invariants; the session manager
// never touches session state directly.
package sessionstore

import (
	"encoding/json"
	"time"

	"github.com/pkg/errors"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusWaiting             Status = "waiting"
	StatusTransactionReceived Status = "transaction-received"
	StatusSigning             Status = "signing"
	StatusExecuting           Status = "executing"
	StatusCompleted           Status = "completed"
	StatusExpired             Status = "expired"
	StatusCancelled           Status = "cancelled"
	StatusFailed              Status = "failed"
)

// Terminal reports whether no further state mutations are allowed.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusExpired, StatusCancelled, StatusFailed:
		return true
	}
	return false
}

// Authable reports whether new connections may still authenticate.
func (s Status) Authable() bool {
	switch s {
	case StatusWaiting, StatusTransactionReceived, StatusSigning:
		return true
	}
	return false
}

// signable reports whether signatures are currently accepted.
func (s Status) signable() bool {
	return s == StatusTransactionReceived || s == StatusSigning
}

// ParticipantStatus is the participant lifecycle state.
type ParticipantStatus string

const (
	ParticipantConnected    ParticipantStatus = "connected"
	ParticipantReady        ParticipantStatus = "ready"
	ParticipantReviewing    ParticipantStatus = "reviewing"
	ParticipantSigned       ParticipantStatus = "signed"
	ParticipantRejected     ParticipantStatus = "rejected"
	ParticipantDisconnected ParticipantStatus = "disconnected"
)

// Subscription is the outbound half of a connection. Implementations must be
// safe for concurrent Send calls; a failed Send only affects that subscriber.
type Subscription interface {
	Send(data []byte) error
	Close()
}

// Sentinel errors callers branch on.
var (
	ErrNotFound         = errors.New("session not found")
	ErrWrongPin         = errors.New("wrong pin")
	ErrTerminal         = errors.New("session is in a terminal state")
	ErrExpired          = errors.New("session has expired")
	ErrNotWaiting       = errors.New("session already has a transaction")
	ErrNotSignable      = errors.New("session is not accepting signatures")
	ErrIneligibleKey    = errors.New("public key is not in the eligible set")
	ErrDuplicateKey     = errors.New("a signature for this key is already recorded")
	ErrThresholdMet     = errors.New("threshold already met")
	ErrBadThreshold     = errors.New("threshold is out of range")
	ErrParticipantGone  = errors.New("participant not found")
	ErrAlreadySignedKey = errors.New("this key already signed")
)

// Participant is one connected (or previously connected) signer.
type Participant struct {
	ID           string            `json:"participant_id"`
	Label        string            `json:"label,omitempty"`
	Status       ParticipantStatus `json:"status"`
	PublicKey    string            `json:"public_key,omitempty"`
	Subscription Subscription      `json:"-"`
	ConnectedAt  time.Time         `json:"connected_at"`
	ReadyAt      time.Time         `json:"ready_at,omitempty"`
	LastUpdate   time.Time         `json:"last_update"`
}

// Signature is a verified partial signature. Only verified signatures are
// ever stored.
type Signature struct {
	PublicKey     string    `json:"public_key"`
	Signatures    [][]byte  `json:"signatures"`
	ParticipantID string    `json:"participant_id"`
	ReceivedAt    time.Time `json:"received_at"`
	Verified      bool      `json:"verified"`
}

// session is the internal record. The store's per-session lock guards every
// field; external code only ever sees snapshots.
type session struct {
	id                    string
	pin                   string
	threshold             int
	eligibleKeys          []string
	eligibleSet           map[string]bool
	expectedParticipants  int
	status                Status
	frozenTransaction     []byte
	decoded               json.RawMessage
	metadata              map[string]string
	contractInterface     []string
	createdAt             time.Time
	expiresAt             time.Time
	transactionReceivedAt time.Time
	completedAt           time.Time
	deleteAt              time.Time // grace-period deletion marker, set on terminal transition
	participants          map[string]*Participant
	signatures            map[string]*Signature // public key -> signature
	signatureOrder        []string              // acceptance order of keys
	coordinatorSub        Subscription
	terminalReason        string
	result                *ExecutionResult
}

// ExecutionResult records the chain outcome of a completed session.
type ExecutionResult struct {
	TransactionID string `json:"transaction_id"`
	Receipt       string `json:"receipt"`
}

// Config is the session creation request.
type Config struct {
	Threshold            int
	EligiblePublicKeys   []string
	ExpectedParticipants int
	Timeout              time.Duration
	Pin                  string
	FrozenTransaction    []byte
	Decoded              json.RawMessage
	Metadata             map[string]string
	ContractInterface    []string
}

// Snapshot is a consistent copy of the fields callers read together.
type Snapshot struct {
	SessionID            string
	Pin                  string
	Status               Status
	Threshold            int
	EligiblePublicKeys   []string
	ExpectedParticipants int
	FrozenTransaction    []byte
	Decoded              json.RawMessage
	Metadata             map[string]string
	ContractInterface    []string
	CreatedAt            time.Time
	ExpiresAt            time.Time
	SignatureCount       int
	ParticipantCount     int
	TerminalReason       string
	Result               *ExecutionResult
}

// Summary is the compact listing entry for active sessions.
type Summary struct {
	SessionID        string    `json:"session_id"`
	Status           Status    `json:"status"`
	Threshold        int       `json:"threshold"`
	SignatureCount   int       `json:"signature_count"`
	ParticipantCount int       `json:"participant_count"`
	CreatedAt        time.Time `json:"created_at"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// RecordResult reports the outcome of a signature recording.
type RecordResult struct {
	Count        int
	ThresholdMet bool
	// Duplicate is true when the submission was byte-identical to an
	// already recorded signature; the count did not change.
	Duplicate bool
}

// ArchiveRecord is what the durable archive receives when a session reaches
// a terminal state.
type ArchiveRecord struct {
	SessionID      string
	Status         Status
	Threshold      int
	EligibleKeys   []string
	Checksum       string
	TerminalReason string
	TransactionID  string
	Receipt        string
	CreatedAt      time.Time
	CompletedAt    time.Time
	Signatures     []Signature
}

// Archiver persists terminal sessions. Failures are logged, never fatal.
type Archiver interface {
	ArchiveSession(rec ArchiveRecord) error
}
