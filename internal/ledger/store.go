package ledger

import "context"

// Store is the persistence boundary of the ledger. Implementations must make
// each mutating call atomic: either every write it names is durable, or none
// are. In particular AppendRecord and SupersedeRecord commit the record write
// and its audit entry together — a record mutation must never become visible
// without its audit trail.
//
// Stores assign indices and audit chain hashes themselves, inside their own
// critical section, and write them back onto the passed entries.
type Store interface {
	// Bootstrap sets the initial owner and grants it provider status.
	// Returns ErrAlreadyInitialized if an owner is already set.
	Bootstrap(ctx context.Context, owner Identity) error

	// Owner returns the current owner, or ErrNotInitialized.
	Owner(ctx context.Context) (Identity, error)

	// IsProvider reports membership in the authorized-provider set.
	IsProvider(ctx context.Context, id Identity) (bool, error)

	// AddProvider grants provider status. ErrAlreadyAuthorized if present.
	AddProvider(ctx context.Context, id Identity) error

	// RemoveProvider revokes provider status. ErrNotAuthorized if absent.
	RemoveProvider(ctx context.Context, id Identity) error

	// TransferOwner atomically revokes the old owner's provider flag, sets
	// the new owner, and grants it provider status.
	TransferOwner(ctx context.Context, newOwner Identity) error

	// AppendRecord appends rec to its patient's sequence and commits audit
	// in the same atomic unit. Sets rec.Index and the audit chain fields.
	AppendRecord(ctx context.Context, rec *RecordEntry, audit *AuditEntry) error

	// SupersedeRecord flips the entry at (rec.PatientID, oldIndex) to
	// inactive, appends rec, and commits audit — all atomically. Returns
	// ErrRecordNotFound or ErrInactiveRecord without mutating anything.
	SupersedeRecord(ctx context.Context, oldIndex int, rec *RecordEntry, audit *AuditEntry) error

	// Record returns the entry at index, active or not.
	// ErrRecordNotFound if index is out of range.
	Record(ctx context.Context, patientID int64, index int) (*RecordEntry, error)

	// RecordCount returns the length of a patient's sequence.
	RecordCount(ctx context.Context, patientID int64) (int, error)

	// ActiveRecords returns the active entries of a patient's sequence in
	// creation order.
	ActiveRecords(ctx context.Context, patientID int64) ([]*RecordEntry, error)

	// AppendAudit appends a standalone audit entry (LogAccess path).
	// Sets the entry's index and chain fields.
	AppendAudit(ctx context.Context, audit *AuditEntry) error

	// AuditAt returns the global audit entry at index, or ErrLogNotFound.
	AuditAt(ctx context.Context, index int) (*AuditEntry, error)

	// AuditCount returns the global audit log length.
	AuditCount(ctx context.Context) (int, error)

	// AuditForPatient filters the global log by patient, preserving global
	// append order.
	AuditForPatient(ctx context.Context, patientID int64) ([]*AuditEntry, error)

	// AuditRoot returns the chain tip hash, or GenesisHash when empty.
	AuditRoot(ctx context.Context) (string, error)

	// VerifyAudit walks the whole chain and checks hash consistency.
	VerifyAudit(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
