// Package localnet implements the chain adapter against the canonical
// txcodec envelope with no real network behind it. It enforces the validity
// window and a minimum signature count at submit time, which is enough for
// development setups and for exercising the full session lifecycle.
package localnet

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lazysuperheroes/hedera-multisig-sub001/chain"
	"github.com/lazysuperheroes/hedera-multisig-sub001/txcodec"
)

// Adapter is a self-contained chain.Adapter backed by the local envelope
// codec.
type Adapter struct {
	logger zerolog.Logger

	// now is swappable for tests.
	now func() time.Time

	// minSignatures is the signature-pair count the fake network demands.
	minSignatures int

	mu        sync.Mutex
	submitted map[string]*chain.Receipt // transaction id -> receipt, for idempotent resubmits
}

// Option configures the adapter.
type Option func(*Adapter)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Adapter) { a.now = now }
}

// WithMinSignatures sets how many signature pairs Submit requires.
func WithMinSignatures(n int) Option {
	return func(a *Adapter) { a.minSignatures = n }
}

// New creates a localnet adapter.
func New(logger zerolog.Logger, opts ...Option) *Adapter {
	a := &Adapter{
		logger:        logger.With().Str("component", "localnet_adapter").Logger(),
		now:           time.Now,
		minSignatures: 1,
		submitted:     make(map[string]*chain.Receipt),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Freeze fixes the body for the given node set and returns the canonical
// frozen bytes.
func (a *Adapter) Freeze(body *txcodec.Body, nodeAccountIDs []string) ([]byte, error) {
	if body == nil {
		return nil, errors.New("body is nil")
	}
	if len(nodeAccountIDs) == 0 {
		return nil, errors.New("at least one node account id is required")
	}
	if body.TransactionID.ValidStartUnix == 0 {
		return nil, errors.New("transaction id valid start is not set")
	}
	if body.ValidDurationSeconds <= 0 {
		body.ValidDurationSeconds = 120
	}
	env := &txcodec.Envelope{
		Body:           *body,
		NodeAccountIDs: nodeAccountIDs,
	}
	return txcodec.Marshal(env)
}

// NodeCount reports the number of node-specific bodies.
func (a *Adapter) NodeCount(frozen []byte) (int, error) {
	env, err := txcodec.Unmarshal(frozen)
	if err != nil {
		return 0, err
	}
	return len(env.NodeAccountIDs), nil
}

// SigningBytes returns the canonical signing bytes for one node body.
func (a *Adapter) SigningBytes(frozen []byte, nodeIndex int) ([]byte, error) {
	env, err := txcodec.Unmarshal(frozen)
	if err != nil {
		return nil, err
	}
	return txcodec.SigningBytes(env, nodeIndex)
}

// AttachSignature appends a signer's signatures to the frozen envelope.
func (a *Adapter) AttachSignature(frozen []byte, publicKey string, sigs [][]byte) ([]byte, error) {
	return txcodec.AttachSignature(frozen, publicKey, sigs)
}

// Submit validates the validity window and signature count, then records the
// transaction as executed. Resubmitting the same transaction id returns the
// original receipt.
func (a *Adapter) Submit(ctx context.Context, frozen []byte) (*chain.Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, &chain.SubmitError{Kind: chain.ErrKindTransient, Message: "context cancelled", Cause: err}
	}

	env, err := txcodec.Unmarshal(frozen)
	if err != nil {
		return nil, &chain.SubmitError{Kind: chain.ErrKindOther, Message: "malformed frozen bytes", Cause: err}
	}

	txID := env.Body.TransactionID.String()

	a.mu.Lock()
	defer a.mu.Unlock()
	if receipt, ok := a.submitted[txID]; ok {
		return receipt, nil
	}

	now := a.now().Unix()
	start := env.Body.TransactionID.ValidStartUnix
	end := start + env.Body.ValidDurationSeconds
	if now > end {
		return nil, &chain.SubmitError{
			Kind:    chain.ErrKindValidityWindowExpired,
			Message: "transaction validity window has elapsed",
		}
	}

	if len(env.SignaturePairs) < a.minSignatures {
		return nil, &chain.SubmitError{
			Kind:    chain.ErrKindInsufficientSignatures,
			Message: "not enough signatures attached",
		}
	}
	for _, pair := range env.SignaturePairs {
		if len(pair.Signatures) != len(env.NodeAccountIDs) {
			return nil, &chain.SubmitError{
				Kind:    chain.ErrKindInsufficientSignatures,
				Message: "signature pair does not cover all node bodies",
			}
		}
	}

	receipt := &chain.Receipt{
		TransactionID:     txID,
		Status:            "SUCCESS",
		ConsensusTimeUnix: now,
	}
	a.submitted[txID] = receipt

	a.logger.Info().
		Str("transaction_id", txID).
		Int("signatures", len(env.SignaturePairs)).
		Msg("transaction accepted by localnet")

	return receipt, nil
}
