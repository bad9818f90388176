package ledger

import "time"

// RecordType tags the kind of medical record a commitment stands in for.
// The set is open: any non-empty tag is accepted, these are the common ones
// clients send.
type RecordType string

const (
	TypeVisit       RecordType = "VISIT"
	TypeBill        RecordType = "BILL"
	TypeReport      RecordType = "REPORT"
	TypePatientInfo RecordType = "PATIENT_INFO"
)

// RecordEntry is one commitment in a patient's version chain. Entries are
// append-only: an update flips Active to false on the superseded entry and
// appends a fresh one at the next index. Indices are stable forever.
type RecordEntry struct {
	PatientID  int64      `json:"patient_id"`
	Index      int        `json:"index"`
	DataHash   Digest     `json:"data_hash"`
	RecordType RecordType `json:"record_type"`
	CreatedBy  Identity   `json:"created_by"`
	CreatedAt  time.Time  `json:"created_at"`
	Active     bool       `json:"active"`
}
