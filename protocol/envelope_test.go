package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	frame, err := Encode(MsgAuth, AuthPayload{
		SessionID: "abc123",
		Pin:       "999111",
		Role:      RoleParticipant,
		Label:     "alice",
	})
	require.NoError(t, err)

	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, MsgAuth, env.Type)

	var payload AuthPayload
	require.NoError(t, DecodePayload(env, &payload))
	assert.Equal(t, "abc123", payload.SessionID)
	assert.Equal(t, RoleParticipant, payload.Role)
}

func TestDecodeRejectsBadFrames(t *testing.T) {
	_, err := Decode([]byte("not json"))
	assert.Error(t, err)

	_, err = Decode([]byte(`{"payload":{}}`))
	assert.Error(t, err, "missing type must be rejected")
}

func TestEncodeWithoutPayload(t *testing.T) {
	frame := MustEncode(MsgPong, nil)
	env, err := Decode(frame)
	require.NoError(t, err)
	assert.Equal(t, MsgPong, env.Type)
	assert.Empty(t, env.Payload)
}

func TestSignatureListNormalization(t *testing.T) {
	testCases := []struct {
		name    string
		payload SignatureSubmitPayload
		want    []string
	}{
		{
			name:    "scalar form",
			payload: SignatureSubmitPayload{Signature: "c2ln"},
			want:    []string{"c2ln"},
		},
		{
			name:    "array form",
			payload: SignatureSubmitPayload{Signatures: []string{"YQ==", "Yg=="}},
			want:    []string{"YQ==", "Yg=="},
		},
		{
			name: "array wins over scalar",
			payload: SignatureSubmitPayload{
				Signature:  "c2ln",
				Signatures: []string{"YQ=="},
			},
			want: []string{"YQ=="},
		},
		{
			name:    "empty",
			payload: SignatureSubmitPayload{},
			want:    nil,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.payload.SignatureList())
		})
	}
}
