// Package connstring encodes and parses the "hmsc:" connection strings that
// participants paste to join a session. The payload is a base64url-encoded
// JSON object with short keys: s (server URL), i (session id), p (pin,
// optional).
package connstring

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"
)

// Scheme is the required prefix of every connection string.
const Scheme = "hmsc:"

// ConnString holds the coordinates needed to join a session.
type ConnString struct {
	ServerURL string
	SessionID string
	Pin       string
}

type payload struct {
	S string `json:"s"`
	I string `json:"i"`
	P string `json:"p,omitempty"`
}

var (
	ErrBadScheme  = errors.New("connection string must start with " + Scheme)
	ErrBadPayload = errors.New("connection string payload is malformed")
)

// Encode renders the connection string for the given coordinates.
func Encode(cs ConnString) (string, error) {
	if cs.ServerURL == "" {
		return "", errors.New("server URL is required")
	}
	if cs.SessionID == "" {
		return "", errors.New("session id is required")
	}
	raw, err := json.Marshal(payload{S: cs.ServerURL, I: cs.SessionID, P: cs.Pin})
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal connection payload")
	}
	return Scheme + base64.RawURLEncoding.EncodeToString(raw), nil
}

// Parse validates and decodes a connection string. Strings without the hmsc:
// prefix, payloads missing s or i, and payloads carrying unknown keys are all
// rejected.
func Parse(s string) (ConnString, error) {
	if !strings.HasPrefix(s, Scheme) {
		return ConnString{}, ErrBadScheme
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(s, Scheme))
	if err != nil {
		// Tolerate padded payloads from encoders that use standard
		// base64url.
		raw, err = base64.URLEncoding.DecodeString(strings.TrimPrefix(s, Scheme))
		if err != nil {
			return ConnString{}, errors.Wrap(ErrBadPayload, "payload is not base64url")
		}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var p payload
	if err := dec.Decode(&p); err != nil {
		return ConnString{}, errors.Wrap(ErrBadPayload, err.Error())
	}
	if dec.More() {
		return ConnString{}, errors.Wrap(ErrBadPayload, "trailing data after payload")
	}
	if p.S == "" || p.I == "" {
		return ConnString{}, errors.Wrap(ErrBadPayload, "payload must contain s and i")
	}
	return ConnString{ServerURL: p.S, SessionID: p.I, Pin: p.P}, nil
}
