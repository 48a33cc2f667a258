package sessionmanager

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/lazysuperheroes/hedera-multisig-sub001/protocol"
	"github.com/lazysuperheroes/hedera-multisig-sub001/sessionstore"
	"github.com/lazysuperheroes/hedera-multisig-sub001/sigverify"
)

// OpError carries the protocol reason code for a refused operation so the
// transport can answer the client without inspecting error chains.
type OpError struct {
	Code    protocol.ReasonCode
	Message string
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func opErr(code protocol.ReasonCode, format string, args ...any) *OpError {
	return &OpError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// CodeOf extracts the reason code from any error produced by the manager.
func CodeOf(err error) protocol.ReasonCode {
	var oe *OpError
	if errors.As(err, &oe) {
		return oe.Code
	}
	var ve *sigverify.Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return protocol.ReasonUnknownMessage
}

// WrapStoreError maps session store sentinels onto protocol reason codes. It
// exists for callers outside the manager, the transport's auth path mostly.
func WrapStoreError(err error) error {
	return storeErr(err)
}

// storeErr maps session store sentinels onto protocol reason codes.
func storeErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sessionstore.ErrNotFound):
		return opErr(protocol.ReasonUnknownSession, "session not found")
	case errors.Is(err, sessionstore.ErrExpired):
		return opErr(protocol.ReasonSessionExpired, "session has expired")
	case errors.Is(err, sessionstore.ErrTerminal):
		return opErr(protocol.ReasonSessionTerminal, "session is in a terminal state")
	case errors.Is(err, sessionstore.ErrNotWaiting):
		return opErr(protocol.ReasonNotSignable, "session already has a transaction")
	case errors.Is(err, sessionstore.ErrNotSignable):
		return opErr(protocol.ReasonNotSignable, "session is not accepting signatures")
	case errors.Is(err, sessionstore.ErrIneligibleKey):
		return opErr(protocol.ReasonIneligibleKey, "public key is not in the eligible set")
	case errors.Is(err, sessionstore.ErrAlreadySignedKey):
		return opErr(protocol.ReasonDuplicateKey, "this key already signed")
	case errors.Is(err, sessionstore.ErrDuplicateKey):
		return opErr(protocol.ReasonDuplicateKey, "a different signature for this key is already recorded")
	case errors.Is(err, sessionstore.ErrThresholdMet):
		return opErr(protocol.ReasonThresholdAlreadyMet, "threshold already met")
	case errors.Is(err, sessionstore.ErrBadThreshold):
		return opErr(protocol.ReasonThresholdOutOfRange, "%s", err.Error())
	case errors.Is(err, sessionstore.ErrWrongPin):
		return opErr(protocol.ReasonWrongPin, "wrong pin")
	case errors.Is(err, sessionstore.ErrParticipantGone):
		return opErr(protocol.ReasonUnknownSession, "participant not found")
	default:
		return err
	}
}
