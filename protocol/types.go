// Package protocol defines the wire messages exchanged between the
// coordination server and its coordinator/participant clients. Every frame is
// a single JSON object with a case-sensitive "type" and a "payload".
package protocol

import "encoding/json"

// Role identifies which side of the session a connection speaks for.
type Role string

const (
	RoleCoordinator Role = "coordinator"
	RoleParticipant Role = "participant"
)

// MsgType enumerates the message identifiers. Names are case-sensitive on the
// wire.
type MsgType string

// Client -> server messages.
const (
	MsgAuth                MsgType = "AUTH"
	MsgCreateSession       MsgType = "CREATE_SESSION"
	MsgInjectTransaction   MsgType = "INJECT_TRANSACTION"
	MsgCancelSession       MsgType = "CANCEL_SESSION"
	MsgParticipantReady    MsgType = "PARTICIPANT_READY"
	MsgSignatureSubmit     MsgType = "SIGNATURE_SUBMIT"
	MsgTransactionRejected MsgType = "TRANSACTION_REJECTED"
	MsgPing                MsgType = "PING"
)

// Server -> client messages.
const (
	MsgAuthSuccess             MsgType = "AUTH_SUCCESS"
	MsgAuthFailed              MsgType = "AUTH_FAILED"
	MsgSessionCreated          MsgType = "SESSION_CREATED"
	MsgTransactionInjected     MsgType = "TRANSACTION_INJECTED"
	MsgTransactionReceived     MsgType = "TRANSACTION_RECEIVED"
	MsgSignatureAccepted       MsgType = "SIGNATURE_ACCEPTED"
	MsgSignatureRejected       MsgType = "SIGNATURE_REJECTED"
	MsgThresholdMet            MsgType = "THRESHOLD_MET"
	MsgTransactionExecuted     MsgType = "TRANSACTION_EXECUTED"
	MsgTransactionExpired      MsgType = "TRANSACTION_EXPIRED"
	MsgParticipantConnected    MsgType = "PARTICIPANT_CONNECTED"
	MsgParticipantDisconnected MsgType = "PARTICIPANT_DISCONNECTED"
	MsgSessionExpired          MsgType = "SESSION_EXPIRED"
	MsgSessionCancelled        MsgType = "SESSION_CANCELLED"
	MsgError                   MsgType = "ERROR"
	MsgPong                    MsgType = "PONG"
)

// ReasonCode classifies a rejection or error for programmatic handling.
type ReasonCode string

const (
	ReasonMalformedFrame       ReasonCode = "malformed-frame"
	ReasonUnknownMessage       ReasonCode = "unknown-message"
	ReasonUnauthenticated      ReasonCode = "unauthenticated"
	ReasonUnknownSession       ReasonCode = "unknown-session"
	ReasonWrongPin             ReasonCode = "wrong-pin"
	ReasonRoleMismatch         ReasonCode = "role-mismatch"
	ReasonSessionTerminal      ReasonCode = "session-terminal"
	ReasonThresholdOutOfRange  ReasonCode = "threshold-out-of-range"
	ReasonIneligibleKey        ReasonCode = "ineligible-key"
	ReasonDuplicateKey         ReasonCode = "duplicate-key"
	ReasonThresholdAlreadyMet  ReasonCode = "threshold-already-met"
	ReasonDecodeError          ReasonCode = "decode-error"
	ReasonSelectorMismatch     ReasonCode = "selector-mismatch"
	ReasonMalformedKey         ReasonCode = "malformed-key"
	ReasonMalformedSignature   ReasonCode = "malformed-signature"
	ReasonWrongSignatureCount  ReasonCode = "wrong-count"
	ReasonVerificationFailed   ReasonCode = "verification-failed"
	ReasonSessionExpired       ReasonCode = "expired"
	ReasonSessionCancelled     ReasonCode = "cancelled"
	ReasonValidityWindowPassed ReasonCode = "validity-window-expired"
	ReasonNotSignable          ReasonCode = "not-signable"
	ReasonChainError           ReasonCode = "chain-error"
	ReasonFrameTooLarge        ReasonCode = "frame-too-large"
	ReasonRateExceeded         ReasonCode = "rate-exceeded"
	ReasonBackpressure         ReasonCode = "backpressure"
)

// Envelope is the outer frame: a message type plus its raw payload.
type Envelope struct {
	Type    MsgType         `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// AuthPayload must be the first message on any connection.
type AuthPayload struct {
	SessionID string `json:"session_id"`
	Pin       string `json:"pin"`
	Role      Role   `json:"role"`
	Label     string `json:"label,omitempty"`
	PublicKey string `json:"public_key,omitempty"`
}

// CreateSessionPayload asks the server to open a new signing session.
type CreateSessionPayload struct {
	Threshold            int      `json:"threshold"`
	EligiblePublicKeys   []string `json:"eligible_public_keys,omitempty"`
	ExpectedParticipants int      `json:"expected_participants"`
	TimeoutMs            int64    `json:"timeout_ms,omitempty"`
	Pin                  string   `json:"pin,omitempty"`
	// FrozenTransactionB64 optionally seeds the session with an already
	// frozen transaction, skipping the waiting phase.
	FrozenTransactionB64 string            `json:"frozen_transaction_base64,omitempty"`
	Metadata             map[string]string `json:"metadata,omitempty"`
}

// InjectTransactionPayload delivers the frozen transaction to a waiting
// session.
type InjectTransactionPayload struct {
	SessionID            string            `json:"session_id"`
	FrozenTransactionB64 string            `json:"frozen_transaction_base64"`
	Metadata             map[string]string `json:"metadata,omitempty"`
	// ContractInterface lists human-readable function signatures used to
	// decode contract call parameters, e.g. "transfer(address,uint256)".
	ContractInterface []string `json:"contract_interface,omitempty"`
}

// CancelSessionPayload terminates a session on coordinator request.
type CancelSessionPayload struct {
	SessionID string `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// ParticipantReadyPayload announces the participant's signing key.
type ParticipantReadyPayload struct {
	PublicKey string `json:"public_key"`
}

// SignatureSubmitPayload carries one partial signature. Signatures holds one
// base64 entry per node-specific transaction body; single-node transactions
// may use the scalar Signature field instead.
type SignatureSubmitPayload struct {
	PublicKey  string   `json:"public_key"`
	Signature  string   `json:"signature,omitempty"`
	Signatures []string `json:"signatures,omitempty"`
}

// SignatureList normalizes the scalar/array forms into a list.
func (p *SignatureSubmitPayload) SignatureList() []string {
	if len(p.Signatures) > 0 {
		return p.Signatures
	}
	if p.Signature != "" {
		return []string{p.Signature}
	}
	return nil
}

// TransactionRejectedPayload records a participant's refusal to sign.
type TransactionRejectedPayload struct {
	Reason string `json:"reason,omitempty"`
}

// SessionInfo summarizes a session for a freshly authenticated client.
type SessionInfo struct {
	SessionID            string          `json:"session_id"`
	Status               string          `json:"status"`
	Threshold            int             `json:"threshold"`
	ExpectedParticipants int             `json:"expected_participants"`
	SignatureCount       int             `json:"signature_count"`
	ExpiresAtUnix        int64           `json:"expires_at"`
	EligiblePublicKeys   []string        `json:"eligible_public_keys,omitempty"`
	TxDetails            json.RawMessage `json:"tx_details,omitempty"`
}

// AuthSuccessPayload acknowledges authentication.
type AuthSuccessPayload struct {
	ParticipantID string      `json:"participant_id,omitempty"`
	SessionInfo   SessionInfo `json:"session_info"`
}

// AuthFailedPayload explains a refused authentication.
type AuthFailedPayload struct {
	Message string     `json:"message"`
	Code    ReasonCode `json:"reason_code,omitempty"`
}

// SessionCreatedPayload returns the coordinates of a new session.
type SessionCreatedPayload struct {
	SessionID        string `json:"session_id"`
	Pin              string `json:"pin"`
	ConnectionString string `json:"connection_string"`
	ExpiresAtUnix    int64  `json:"expires_at"`
}

// TransactionInjectedPayload confirms injection to the coordinator.
type TransactionInjectedPayload struct {
	SessionID string          `json:"session_id"`
	Checksum  string          `json:"checksum"`
	Decoded   json.RawMessage `json:"decoded"`
	Warnings  []string        `json:"warnings,omitempty"`
}

// FrozenTransaction wraps the opaque frozen bytes for transport.
type FrozenTransaction struct {
	Base64 string `json:"base64"`
}

// TransactionReceivedPayload fans the frozen transaction out to ready
// participants. Metadata is coordinator-supplied and unverified.
type TransactionReceivedPayload struct {
	FrozenTransaction FrozenTransaction `json:"frozen_transaction"`
	TxDetails         json.RawMessage   `json:"tx_details"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	MetadataWarnings  []string          `json:"metadata_warnings,omitempty"`
	ContractInterface []string          `json:"contract_interface,omitempty"`
}

// SignatureAcceptedPayload reports a counted signature.
type SignatureAcceptedPayload struct {
	PublicKey string `json:"public_key"`
	Count     int    `json:"count"`
	Threshold int    `json:"threshold"`
}

// SignatureRejectedPayload reports a refused signature.
type SignatureRejectedPayload struct {
	Message string     `json:"message"`
	Code    ReasonCode `json:"reason_code"`
}

// ThresholdMetPayload announces that enough signatures were collected.
type ThresholdMetPayload struct {
	Count int `json:"count"`
}

// TransactionExecutedPayload reports a successful network submission.
type TransactionExecutedPayload struct {
	TransactionID string `json:"transaction_id"`
	Receipt       string `json:"receipt"`
}

// ParticipantEventPayload accompanies connect/ready/disconnect broadcasts.
// Only the participant id is shared; keys are never broadcast.
type ParticipantEventPayload struct {
	ParticipantID string `json:"participant_id"`
	Label         string `json:"label,omitempty"`
}

// SessionCancelledPayload carries the coordinator's cancellation reason.
type SessionCancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

// ErrorPayload is the generic protocol-level error.
type ErrorPayload struct {
	Message string     `json:"message"`
	Code    ReasonCode `json:"code"`
}
