// Package sigverify cryptographically checks candidate signatures against a
// frozen transaction before the session manager will count them. Both
// Edwards-curve (ed25519) and secp256k1 ECDSA signing schemes are supported;
// the scheme is inferred from the encoded public key.
package sigverify

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	secpecdsa "github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lazysuperheroes/hedera-multisig-sub001/protocol"
)

// DER prefixes the chain SDK puts in front of raw key bytes. Both are
// tolerated and stripped on parse.
const (
	derPrefixEd25519   = "302a300506032b6570032100"
	derPrefixSecp256k1 = "302d300706052b8104000a032200"
)

const defaultDeadline = 2 * time.Second

// SigningSource supplies the canonical per-node signing bytes. The chain
// adapter satisfies this.
type SigningSource interface {
	NodeCount(frozen []byte) (int, error)
	SigningBytes(frozen []byte, nodeIndex int) ([]byte, error)
}

// Error is a classified verification failure.
type Error struct {
	Code    protocol.ReasonCode
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func failure(code protocol.ReasonCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// KeyType is the inferred signing scheme of a public key.
type KeyType string

const (
	KeyTypeEd25519   KeyType = "ed25519"
	KeyTypeSecp256k1 KeyType = "secp256k1"
)

// Verifier validates candidate signatures. Verification runs under a soft
// deadline so a misbehaving key cannot head-of-line block a session.
type Verifier struct {
	source   SigningSource
	deadline time.Duration
	logger   zerolog.Logger
}

// Option configures the verifier.
type Option func(*Verifier)

// WithDeadline overrides the per-verification soft deadline.
func WithDeadline(d time.Duration) Option {
	return func(v *Verifier) { v.deadline = d }
}

// New creates a verifier over the given signing source.
func New(source SigningSource, logger zerolog.Logger, opts ...Option) *Verifier {
	v := &Verifier{
		source:   source,
		deadline: defaultDeadline,
		logger:   logger.With().Str("component", "sigverify").Logger(),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Verify checks every supplied signature against its node-specific signing
// bytes under the claimed public key. One signature per node body is
// required; a partial match fails. A nil return means the signature set is
// valid.
func (v *Verifier) Verify(ctx context.Context, frozen []byte, publicKey string, sigs [][]byte) error {
	ctx, cancel := context.WithTimeout(ctx, v.deadline)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- v.verify(frozen, publicKey, sigs)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		v.logger.Warn().
			Str("public_key", publicKey).
			Dur("deadline", v.deadline).
			Msg("verification deadline exceeded")
		return failure(protocol.ReasonVerificationFailed, "verification deadline exceeded")
	}
}

func (v *Verifier) verify(frozen []byte, publicKey string, sigs [][]byte) error {
	keyType, keyBytes, err := ParseKey(publicKey)
	if err != nil {
		return failure(protocol.ReasonMalformedKey, "%v", err)
	}

	nodeCount, err := v.source.NodeCount(frozen)
	if err != nil {
		return failure(protocol.ReasonVerificationFailed, "cannot determine node count: %v", err)
	}
	if len(sigs) != nodeCount {
		return failure(protocol.ReasonWrongSignatureCount,
			"have %d signatures for %d node bodies", len(sigs), nodeCount)
	}

	for i, sig := range sigs {
		if len(sig) == 0 {
			return failure(protocol.ReasonMalformedSignature, "signature %d is empty", i)
		}
		message, err := v.source.SigningBytes(frozen, i)
		if err != nil {
			return failure(protocol.ReasonVerificationFailed, "cannot derive signing bytes for node %d: %v", i, err)
		}
		if err := verifyOne(keyType, keyBytes, message, sig); err != nil {
			var ve *Error
			if errors.As(err, &ve) {
				return ve
			}
			return failure(protocol.ReasonVerificationFailed, "signature %d: %v", i, err)
		}
	}
	return nil
}

func verifyOne(keyType KeyType, keyBytes, message, sig []byte) error {
	switch keyType {
	case KeyTypeEd25519:
		if len(sig) != ed25519.SignatureSize {
			return failure(protocol.ReasonMalformedSignature,
				"ed25519 signature must be %d bytes, got %d", ed25519.SignatureSize, len(sig))
		}
		if !ed25519.Verify(ed25519.PublicKey(keyBytes), message, sig) {
			return failure(protocol.ReasonVerificationFailed, "ed25519 verification failed")
		}
		return nil

	case KeyTypeSecp256k1:
		pub, err := secp256k1.ParsePubKey(keyBytes)
		if err != nil {
			return failure(protocol.ReasonMalformedKey, "invalid secp256k1 key: %v", err)
		}
		signature, err := parseSecpSignature(sig)
		if err != nil {
			return err
		}
		digest := ethcrypto.Keccak256(message)
		if !signature.Verify(digest, pub) {
			return failure(protocol.ReasonVerificationFailed, "secp256k1 verification failed")
		}
		return nil

	default:
		return failure(protocol.ReasonMalformedKey, "unsupported key type %s", keyType)
	}
}

// parseSecpSignature accepts 64-byte compact r||s signatures and DER
// signatures.
func parseSecpSignature(sig []byte) (*secpecdsa.Signature, error) {
	if len(sig) == 64 {
		var r, s secp256k1.ModNScalar
		if overflow := r.SetByteSlice(sig[:32]); overflow {
			return nil, failure(protocol.ReasonMalformedSignature, "signature r overflows curve order")
		}
		if overflow := s.SetByteSlice(sig[32:]); overflow {
			return nil, failure(protocol.ReasonMalformedSignature, "signature s overflows curve order")
		}
		return secpecdsa.NewSignature(&r, &s), nil
	}
	signature, err := secpecdsa.ParseDERSignature(sig)
	if err != nil {
		return nil, failure(protocol.ReasonMalformedSignature, "signature is neither compact nor DER: %v", err)
	}
	return signature, nil
}

// ParseKey infers the signing scheme from a hex-encoded public key and
// returns the raw key bytes. DER-prefixed keys from the chain SDK are
// accepted alongside raw encodings.
func ParseKey(publicKey string) (KeyType, []byte, error) {
	s := strings.ToLower(strings.TrimSpace(publicKey))
	s = strings.TrimPrefix(s, "0x")

	switch {
	case strings.HasPrefix(s, derPrefixEd25519):
		s = strings.TrimPrefix(s, derPrefixEd25519)
	case strings.HasPrefix(s, derPrefixSecp256k1):
		s = strings.TrimPrefix(s, derPrefixSecp256k1)
	}

	raw, err := hex.DecodeString(s)
	if err != nil {
		return "", nil, errors.Wrap(err, "public key is not hex")
	}

	switch len(raw) {
	case ed25519.PublicKeySize:
		return KeyTypeEd25519, raw, nil
	case 33:
		if raw[0] != 0x02 && raw[0] != 0x03 {
			return "", nil, errors.Errorf("compressed secp256k1 key has invalid prefix 0x%02x", raw[0])
		}
		return KeyTypeSecp256k1, raw, nil
	case 65:
		if raw[0] != 0x04 {
			return "", nil, errors.Errorf("uncompressed secp256k1 key has invalid prefix 0x%02x", raw[0])
		}
		return KeyTypeSecp256k1, raw, nil
	default:
		return "", nil, errors.Errorf("public key has unsupported length %d", len(raw))
	}
}
