package protocol

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// Encode wraps a payload struct in an Envelope and marshals the frame.
func Encode(t MsgType, payload any) ([]byte, error) {
	env := Envelope{Type: t}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal %s payload", t)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to marshal %s envelope", t)
	}
	return data, nil
}

// MustEncode is Encode for payloads that cannot fail to marshal.
func MustEncode(t MsgType, payload any) []byte {
	data, err := Encode(t, payload)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses a raw frame into an Envelope. The payload stays raw so the
// router can unmarshal it into the type-specific struct.
func Decode(data []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal envelope")
	}
	if env.Type == "" {
		return nil, errors.New("envelope has no type")
	}
	return &env, nil
}

// DecodePayload unmarshals an envelope payload into dst.
func DecodePayload(env *Envelope, dst any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, dst); err != nil {
		return errors.Wrapf(err, "failed to unmarshal %s payload", env.Type)
	}
	return nil
}
