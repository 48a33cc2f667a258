package db

import (
	"encoding/base64"
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/lazysuperheroes/hedera-multisig-sub001/sessionstore"
	"github.com/lazysuperheroes/hedera-multisig-sub001/store"
)

// Archive persists terminal sessions. It satisfies sessionstore.Archiver.
type Archive struct {
	db     *DB
	logger zerolog.Logger
}

// NewArchive creates a session archive over the given database.
func NewArchive(database *DB, logger zerolog.Logger) *Archive {
	return &Archive{
		db:     database,
		logger: logger.With().Str("component", "session_archive").Logger(),
	}
}

// ArchiveSession writes the session row and its signature rows.
func (a *Archive) ArchiveSession(rec sessionstore.ArchiveRecord) error {
	keys, err := json.Marshal(rec.EligibleKeys)
	if err != nil {
		return errors.Wrap(err, "failed to marshal eligible keys")
	}

	row := &store.ArchivedSession{
		SessionID:      rec.SessionID,
		Status:         string(rec.Status),
		Threshold:      rec.Threshold,
		EligibleKeys:   string(keys),
		Checksum:       rec.Checksum,
		TerminalReason: rec.TerminalReason,
		TransactionID:  rec.TransactionID,
		Receipt:        rec.Receipt,
		SessionStarted: rec.CreatedAt.Unix(),
		SessionEnded:   rec.CompletedAt.Unix(),
	}
	if err := a.db.client.Create(row).Error; err != nil {
		return errors.Wrapf(err, "failed to archive session %s", rec.SessionID)
	}

	for _, sig := range rec.Signatures {
		encoded := make([]string, 0, len(sig.Signatures))
		for _, raw := range sig.Signatures {
			encoded = append(encoded, base64.StdEncoding.EncodeToString(raw))
		}
		blob, err := json.Marshal(encoded)
		if err != nil {
			return errors.Wrap(err, "failed to marshal signature bytes")
		}
		sigRow := &store.ArchivedSignature{
			SessionID:     rec.SessionID,
			PublicKey:     sig.PublicKey,
			ParticipantID: sig.ParticipantID,
			Signatures:    string(blob),
			ReceivedAt:    sig.ReceivedAt.Unix(),
		}
		if err := a.db.client.Create(sigRow).Error; err != nil {
			return errors.Wrapf(err, "failed to archive signature for key %s", sig.PublicKey)
		}
	}

	a.logger.Debug().
		Str("session_id", rec.SessionID).
		Str("status", string(rec.Status)).
		Int("signatures", len(rec.Signatures)).
		Msg("session archived")
	return nil
}

// GetArchivedSession loads one archived session row by session id.
func (a *Archive) GetArchivedSession(sessionID string) (*store.ArchivedSession, error) {
	var row store.ArchivedSession
	if err := a.db.client.Where("session_id = ?", sessionID).First(&row).Error; err != nil {
		return nil, errors.Wrapf(err, "session %s not found in archive", sessionID)
	}
	return &row, nil
}

// GetArchivedSignatures loads the signature rows of an archived session.
func (a *Archive) GetArchivedSignatures(sessionID string) ([]store.ArchivedSignature, error) {
	var rows []store.ArchivedSignature
	if err := a.db.client.Where("session_id = ?", sessionID).Order("received_at ASC").Find(&rows).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to load signatures for session %s", sessionID)
	}
	return rows, nil
}
