// Package store contains the GORM-backed SQLite models for the session
// archive. Live session state stays in memory; the archive keeps a durable
// record of every ceremony that reached a terminal state so operators can
// audit who signed what, and when.
package store

import (
	"gorm.io/gorm"
)

// ArchivedSession is the terminal record of one signing session.
type ArchivedSession struct {
	gorm.Model
	SessionID      string `gorm:"uniqueIndex;not null"` // 128-bit id, lowercase hex
	Status         string `gorm:"index;not null"`       // "completed", "expired", "cancelled", "failed"
	Threshold      int    `gorm:"not null"`
	EligibleKeys   string `gorm:"type:text"` // JSON array of eligible public keys
	Checksum       string `gorm:"index"`     // SHA-256 of the frozen transaction, empty if none was injected
	TerminalReason string `gorm:"type:text"`
	TransactionID  string // Network transaction id, empty unless executed
	Receipt        string `gorm:"type:text"` // Receipt summary, empty unless executed
	SessionStarted int64  // Unix seconds
	SessionEnded   int64  // Unix seconds
}

// TableName keeps the archive table names short.
func (ArchivedSession) TableName() string {
	return "sessions"
}

// ArchivedSignature is one verified partial signature of an archived session.
type ArchivedSignature struct {
	gorm.Model
	SessionID     string `gorm:"index;not null"`
	PublicKey     string `gorm:"index;not null"`
	ParticipantID string
	Signatures    string `gorm:"type:text"` // JSON array of base64 signature bytes, one per node body
	ReceivedAt    int64  // Unix seconds
}

// TableName specifies the table name for ArchivedSignature.
func (ArchivedSignature) TableName() string {
	return "signatures"
}
