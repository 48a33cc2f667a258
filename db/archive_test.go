package db

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazysuperheroes/hedera-multisig-sub001/sessionstore"
)

func newTestArchive(t *testing.T) *Archive {
	t.Helper()
	database, err := OpenInMemoryDB()
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return NewArchive(database, zerolog.Nop())
}

func TestArchiveSessionRoundTrip(t *testing.T) {
	arch := newTestArchive(t)

	started := time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)
	rec := sessionstore.ArchiveRecord{
		SessionID:      "deadbeefdeadbeefdeadbeefdeadbeef",
		Status:         sessionstore.StatusCompleted,
		Threshold:      2,
		EligibleKeys:   []string{"key-a", "key-b", "key-c"},
		Checksum:       "abc123",
		TerminalReason: "executed",
		TransactionID:  "0.0.1001@1700000000",
		Receipt:        "SUCCESS",
		CreatedAt:      started,
		CompletedAt:    started.Add(90 * time.Second),
		Signatures: []sessionstore.Signature{
			{
				PublicKey:     "key-a",
				Signatures:    [][]byte{{1, 2, 3}},
				ParticipantID: "p-1",
				ReceivedAt:    started.Add(30 * time.Second),
				Verified:      true,
			},
			{
				PublicKey:     "key-b",
				Signatures:    [][]byte{{4, 5, 6}},
				ParticipantID: "p-2",
				ReceivedAt:    started.Add(60 * time.Second),
				Verified:      true,
			},
		},
	}

	require.NoError(t, arch.ArchiveSession(rec))

	row, err := arch.GetArchivedSession(rec.SessionID)
	require.NoError(t, err)
	assert.Equal(t, string(sessionstore.StatusCompleted), row.Status)
	assert.Equal(t, 2, row.Threshold)
	assert.Equal(t, "SUCCESS", row.Receipt)
	assert.Equal(t, rec.CreatedAt.Unix(), row.SessionStarted)
	assert.Contains(t, row.EligibleKeys, "key-b")

	sigs, err := arch.GetArchivedSignatures(rec.SessionID)
	require.NoError(t, err)
	require.Len(t, sigs, 2)
	assert.Equal(t, "key-a", sigs[0].PublicKey)
	assert.Equal(t, "key-b", sigs[1].PublicKey)
	assert.Equal(t, "p-1", sigs[0].ParticipantID)
}

func TestGetArchivedSessionMissing(t *testing.T) {
	arch := newTestArchive(t)
	_, err := arch.GetArchivedSession("nope")
	assert.Error(t, err)
}

func TestArchiveImplementsArchiver(t *testing.T) {
	var _ sessionstore.Archiver = (*Archive)(nil)
}
