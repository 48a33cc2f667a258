// Package chain defines the coordination core's only dependency on the
// blockchain network. Everything the core needs from the chain SDK, from
// freezing and per-node signing bytes to signature attachment and submission,
// goes through the Adapter interface so the network backend can be swapped
// without touching session logic.
package chain

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/lazysuperheroes/hedera-multisig-sub001/txcodec"
)

// Receipt summarizes the network's acceptance of a submitted transaction.
type Receipt struct {
	TransactionID     string `json:"transaction_id"`
	Status            string `json:"status"`
	ConsensusTimeUnix int64  `json:"consensus_time,omitempty"`
}

// ErrorKind classifies submission failures for the session manager.
type ErrorKind string

const (
	// ErrKindTransient failures may succeed on retry with a fresh client.
	ErrKindTransient ErrorKind = "transient"
	// ErrKindValidityWindowExpired means the frozen transaction's validity
	// window elapsed before the network accepted it. Terminal.
	ErrKindValidityWindowExpired ErrorKind = "validity-window-expired"
	// ErrKindInsufficientSignatures means the network rejected the
	// signature set. Threshold checks should make this unreachable.
	ErrKindInsufficientSignatures ErrorKind = "insufficient-signatures"
	// ErrKindOther is any other terminal failure.
	ErrKindOther ErrorKind = "other"
)

// SubmitError is a classified submission failure.
type SubmitError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *SubmitError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("submit failed (%s): %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("submit failed (%s): %s", e.Kind, e.Message)
}

func (e *SubmitError) Unwrap() error { return e.Cause }

// Classify extracts the error kind from a submission error. Unclassified
// errors are treated as terminal.
func Classify(err error) ErrorKind {
	var se *SubmitError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ErrKindOther
}

// Adapter is the chain capability surface used by the coordination core.
type Adapter interface {
	// Freeze fixes the canonical bytes of a transaction body for the given
	// node set. Used by coordinator-side tooling; the core itself receives
	// already frozen bytes.
	Freeze(body *txcodec.Body, nodeAccountIDs []string) ([]byte, error)

	// NodeCount reports how many node-specific bodies the frozen
	// transaction carries, and therefore how many signatures one signer
	// must supply.
	NodeCount(frozen []byte) (int, error)

	// SigningBytes returns the canonical bytes a signer signs for the
	// node at nodeIndex.
	SigningBytes(frozen []byte, nodeIndex int) ([]byte, error)

	// AttachSignature returns new frozen bytes with the signer's
	// signatures attached. The body never changes.
	AttachSignature(frozen []byte, publicKey string, sigs [][]byte) ([]byte, error)

	// Submit sends the fully signed transaction to the network. Failures
	// are *SubmitError values classified by ErrorKind.
	Submit(ctx context.Context, frozen []byte) (*Receipt, error)
}
