package ledger

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Service is the single orchestration surface of the ledger. It gates every
// operation on the authorization registry, appends the matching audit entry
// in the same atomic store operation as the mutation it describes, and
// notifies observers after commit.
//
// All mutations are serialized through one logical sequencer (s.mu): writes
// are totally ordered and never interleave partially. Reads go straight to
// the store and may run concurrently.
type Service struct {
	store     Store
	mu        sync.Mutex // write sequencer
	obsMu     sync.RWMutex
	observers []Observer
	logger    *zap.Logger
}

// NewService creates a Service on top of the given store.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Subscribe registers an observer for post-commit notifications.
func (s *Service) Subscribe(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

func (s *Service) each(fn func(Observer)) {
	s.obsMu.RLock()
	defer s.obsMu.RUnlock()
	for _, o := range s.observers {
		fn(o)
	}
}

// Initialize sets the ledger creator as owner and sole authorized provider.
// Called exactly once at ledger creation; ErrAlreadyInitialized afterwards.
func (s *Service) Initialize(ctx context.Context, creator Identity) error {
	if !creator.Valid() {
		return ErrInvalidIdentity
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Bootstrap(ctx, creator); err != nil {
		return err
	}
	s.logger.Info("ledger initialized", zap.String("owner", creator.String()))
	return nil
}

// Owner returns the current ledger owner.
func (s *Service) Owner(ctx context.Context) (Identity, error) {
	return s.store.Owner(ctx)
}

// IsAuthorized reports whether id is the owner or an authorized provider.
// Pure read, no side effects.
func (s *Service) IsAuthorized(ctx context.Context, id Identity) (bool, error) {
	if !id.Valid() {
		return false, nil
	}
	return s.store.IsProvider(ctx, id)
}

// requireAuthorized returns ErrUnauthorized unless id passes IsAuthorized.
func (s *Service) requireAuthorized(ctx context.Context, id Identity) error {
	ok, err := s.IsAuthorized(ctx, id)
	if err != nil {
		return fmt.Errorf("authorization check: %w", err)
	}
	if !ok {
		return ErrUnauthorized
	}
	return nil
}

// requireOwner returns ErrUnauthorized unless caller is the current owner.
func (s *Service) requireOwner(ctx context.Context, caller Identity) error {
	owner, err := s.store.Owner(ctx)
	if err != nil {
		return err
	}
	if caller != owner {
		return ErrUnauthorized
	}
	return nil
}

// ─── Authorization registry ──────────────────────────────────────────────────

// AuthorizeProvider adds provider to the authorized set. Owner only.
func (s *Service) AuthorizeProvider(ctx context.Context, caller, provider Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(ctx, caller); err != nil {
		return err
	}
	if !provider.Valid() {
		return ErrInvalidIdentity
	}
	if err := s.store.AddProvider(ctx, provider); err != nil {
		return err
	}

	s.logger.Info("provider authorized",
		zap.String("provider", provider.String()),
		zap.String("owner", caller.String()),
	)
	s.each(func(o Observer) { o.OnProviderAuthorized(ProviderEvent{Provider: provider, Actor: caller}) })
	return nil
}

// RevokeProvider removes provider from the authorized set. Owner only; the
// owner itself can never be revoked.
func (s *Service) RevokeProvider(ctx context.Context, caller, provider Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(ctx, caller); err != nil {
		return err
	}
	if !provider.Valid() {
		return ErrInvalidIdentity
	}
	if provider == caller {
		return ErrCannotRevokeOwner
	}
	if err := s.store.RemoveProvider(ctx, provider); err != nil {
		return err
	}

	s.logger.Info("provider revoked",
		zap.String("provider", provider.String()),
		zap.String("owner", caller.String()),
	)
	s.each(func(o Observer) { o.OnProviderRevoked(ProviderEvent{Provider: provider, Actor: caller}) })
	return nil
}

// TransferOwnership atomically moves ownership to newOwner: the old owner
// loses its provider flag, newOwner gains it. Owner only.
func (s *Service) TransferOwnership(ctx context.Context, caller, newOwner Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireOwner(ctx, caller); err != nil {
		return err
	}
	if !newOwner.Valid() {
		return ErrInvalidIdentity
	}
	if err := s.store.TransferOwner(ctx, newOwner); err != nil {
		return err
	}

	s.logger.Info("ownership transferred",
		zap.String("from", caller.String()),
		zap.String("to", newOwner.String()),
	)
	s.each(func(o Observer) {
		o.OnProviderRevoked(ProviderEvent{Provider: caller, Actor: caller})
		o.OnProviderAuthorized(ProviderEvent{Provider: newOwner, Actor: caller})
	})
	return nil
}

// ─── Record ledger ───────────────────────────────────────────────────────────

// AddRecord appends a new active commitment to the patient's sequence and
// returns the stored entry. A CREATE audit entry commits with it.
func (s *Service) AddRecord(ctx context.Context, caller Identity, patientID int64, dataHash Digest, recordType RecordType) (*RecordEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireAuthorized(ctx, caller); err != nil {
		return nil, err
	}
	if patientID <= 0 {
		return nil, ErrInvalidPatientID
	}
	if dataHash.IsZero() {
		return nil, ErrInvalidHash
	}
	if recordType == "" {
		return nil, ErrInvalidRecordType
	}

	now := nowUTC()
	rec := &RecordEntry{
		PatientID:  patientID,
		DataHash:   dataHash,
		RecordType: recordType,
		CreatedBy:  caller,
		CreatedAt:  now,
		Active:     true,
	}
	audit := &AuditEntry{
		PatientID:  patientID,
		Accessor:   caller,
		Action:     ActionCreate,
		RecordHash: dataHash,
		Timestamp:  now,
	}
	if err := s.store.AppendRecord(ctx, rec, audit); err != nil {
		return nil, fmt.Errorf("append record: %w", err)
	}

	s.logger.Debug("record added",
		zap.Int64("patient_id", patientID),
		zap.Int("index", rec.Index),
		zap.String("record_type", string(recordType)),
		zap.String("created_by", caller.String()),
	)
	s.each(func(o Observer) { o.OnRecordAdded(RecordEvent{Entry: *rec, Actor: caller}) })
	return rec, nil
}

// UpdateRecord supersedes the active entry at index with a new commitment of
// the same record type. The old entry stays retrievable, flagged inactive.
// An UPDATE audit entry commits with the mutation.
func (s *Service) UpdateRecord(ctx context.Context, caller Identity, patientID int64, index int, newHash Digest) (*RecordEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireAuthorized(ctx, caller); err != nil {
		return nil, err
	}
	if newHash.IsZero() {
		return nil, ErrInvalidHash
	}

	old, err := s.store.Record(ctx, patientID, index)
	if err != nil {
		return nil, err
	}
	if !old.Active {
		return nil, ErrInactiveRecord
	}

	now := nowUTC()
	rec := &RecordEntry{
		PatientID:  patientID,
		DataHash:   newHash,
		RecordType: old.RecordType,
		CreatedBy:  caller,
		CreatedAt:  now,
		Active:     true,
	}
	audit := &AuditEntry{
		PatientID:  patientID,
		Accessor:   caller,
		Action:     ActionUpdate,
		RecordHash: newHash,
		Timestamp:  now,
	}
	if err := s.store.SupersedeRecord(ctx, index, rec, audit); err != nil {
		return nil, err
	}

	s.logger.Debug("record updated",
		zap.Int64("patient_id", patientID),
		zap.Int("superseded", index),
		zap.Int("index", rec.Index),
	)
	old.Active = false
	s.each(func(o Observer) {
		o.OnRecordDeactivated(RecordEvent{Entry: *old, Actor: caller})
		o.OnRecordUpdated(RecordEvent{Entry: *rec, Actor: caller})
	})
	return rec, nil
}

// VerifyRecord reports whether dataHash matches the commitment stored at
// index, active or deactivated. Integrity checking is a public property of
// the ledger — no authorization required.
func (s *Service) VerifyRecord(ctx context.Context, patientID int64, index int, dataHash Digest) (bool, error) {
	rec, err := s.store.Record(ctx, patientID, index)
	if err != nil {
		return false, err
	}
	return rec.DataHash.Equal(dataHash), nil
}

// GetRecord returns the full entry at index, including deactivated ones.
func (s *Service) GetRecord(ctx context.Context, caller Identity, patientID int64, index int) (*RecordEntry, error) {
	if err := s.requireAuthorized(ctx, caller); err != nil {
		return nil, err
	}
	return s.store.Record(ctx, patientID, index)
}

// ListActiveRecords returns the patient's current-state view: active entries
// only, in original creation order.
func (s *Service) ListActiveRecords(ctx context.Context, caller Identity, patientID int64) ([]*RecordEntry, error) {
	if err := s.requireAuthorized(ctx, caller); err != nil {
		return nil, err
	}
	return s.store.ActiveRecords(ctx, patientID)
}

// RecordCount returns the total number of entries, active and inactive, in
// the patient's version chain.
func (s *Service) RecordCount(ctx context.Context, caller Identity, patientID int64) (int, error) {
	if err := s.requireAuthorized(ctx, caller); err != nil {
		return 0, err
	}
	return s.store.RecordCount(ctx, patientID)
}

// ─── Audit log ───────────────────────────────────────────────────────────────

// LogAccess records a deliberate access event — for example a READ when a
// patient views their own record. Returns the appended entry.
func (s *Service) LogAccess(ctx context.Context, caller Identity, patientID int64, action Action, recordHash Digest) (*AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireAuthorized(ctx, caller); err != nil {
		return nil, err
	}
	if action == "" {
		return nil, ErrInvalidAction
	}

	entry := &AuditEntry{
		PatientID:  patientID,
		Accessor:   caller,
		Action:     action,
		RecordHash: recordHash,
		Timestamp:  nowUTC(),
	}
	if err := s.store.AppendAudit(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}

	s.logger.Debug("access logged",
		zap.Int64("patient_id", patientID),
		zap.String("action", string(action)),
		zap.String("accessor", caller.String()),
	)
	s.each(func(o Observer) { o.OnAccessLogged(AccessEvent{Entry: *entry}) })
	return entry, nil
}

// AuditCount returns the global audit log length. Public.
func (s *Service) AuditCount(ctx context.Context) (int, error) {
	return s.store.AuditCount(ctx)
}

// AuditEntryAt returns the global audit entry at index. Reading the trail is
// itself privileged, distinct from read access to record content.
func (s *Service) AuditEntryAt(ctx context.Context, caller Identity, index int) (*AuditEntry, error) {
	if err := s.requireAuthorized(ctx, caller); err != nil {
		return nil, err
	}
	return s.store.AuditAt(ctx, index)
}

// AuditForPatient returns the audit trail filtered to one patient, in global
// append order.
func (s *Service) AuditForPatient(ctx context.Context, caller Identity, patientID int64) ([]*AuditEntry, error) {
	if err := s.requireAuthorized(ctx, caller); err != nil {
		return nil, err
	}
	return s.store.AuditForPatient(ctx, patientID)
}

// AuditRoot returns the tip hash of the audit chain. Public.
func (s *Service) AuditRoot(ctx context.Context) (string, error) {
	return s.store.AuditRoot(ctx)
}

// VerifyAuditChain walks the whole audit chain and checks hash consistency.
// Public, like VerifyRecord.
func (s *Service) VerifyAuditChain(ctx context.Context) error {
	return s.store.VerifyAudit(ctx)
}
