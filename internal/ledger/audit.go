package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the well-known anchor of the audit chain. The first audit
// entry's PrevHash is this constant; an empty log's root is this constant.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// Action classifies what an accessor did. CREATE and UPDATE are appended
// automatically by the service; READ and DELETE are recorded through
// LogAccess by callers who want the access on the trail.
type Action string

const (
	ActionCreate Action = "CREATE"
	ActionRead   Action = "READ"
	ActionUpdate Action = "UPDATE"
	ActionDelete Action = "DELETE"
)

// AuditEntry is one event in the global append-only audit trail. Entries
// are hash-chained: Hash covers every field including PrevHash, so altering
// a committed entry breaks every later link.
type AuditEntry struct {
	Index      int       `json:"index"`
	PatientID  int64     `json:"patient_id"`
	Accessor   Identity  `json:"accessor"`
	Action     Action    `json:"action"`
	RecordHash Digest    `json:"record_hash"` // zero when not record-specific
	Timestamp  time.Time `json:"timestamp"`
	PrevHash   string    `json:"prev_hash"`
	Hash       string    `json:"hash"`
}

// nowUTC returns the current time truncated to microsecond precision.
// Audit timestamps are covered by chainHash, and timestamptz columns keep
// microseconds only; finer precision would not survive a storage round trip.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// chainHash computes the deterministic SHA-256 link hash over an entry's
// fields. Hash itself is excluded.
func chainHash(e *AuditEntry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%d|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.PatientID, e.Accessor, e.Action, e.RecordHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// verifyChain validates a full audit sequence against the genesis anchor.
// Shared by every Store implementation.
func verifyChain(entries []*AuditEntry) error {
	prevHash := GenesisHash
	for i, curr := range entries {
		if curr.Index != i {
			return fmt.Errorf("audit entry at position %d carries index %d", i, curr.Index)
		}
		if curr.PrevHash != prevHash {
			return fmt.Errorf("audit chain broken at index %d", curr.Index)
		}
		if curr.Hash != chainHash(curr) {
			return fmt.Errorf("audit entry %d has invalid hash", curr.Index)
		}
		prevHash = curr.Hash
	}
	return nil
}
