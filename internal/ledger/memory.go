package ledger

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store implementation. It is
// primarily useful for testing and for single-process deployments that do
// not need persistence across restarts.
type MemoryStore struct {
	mu        sync.RWMutex
	owner     Identity
	providers map[Identity]bool
	records   map[int64][]*RecordEntry
	audit     []*AuditEntry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers: make(map[Identity]bool),
		records:   make(map[int64][]*RecordEntry),
	}
}

// Bootstrap implements Store.
func (s *MemoryStore) Bootstrap(_ context.Context, owner Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner.Valid() {
		return ErrAlreadyInitialized
	}
	s.owner = owner
	s.providers[owner] = true
	return nil
}

// Owner implements Store.
func (s *MemoryStore) Owner(_ context.Context) (Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.owner.Valid() {
		return NoIdentity, ErrNotInitialized
	}
	return s.owner, nil
}

// IsProvider implements Store.
func (s *MemoryStore) IsProvider(_ context.Context, id Identity) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.providers[id], nil
}

// AddProvider implements Store.
func (s *MemoryStore) AddProvider(_ context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.providers[id] {
		return ErrAlreadyAuthorized
	}
	s.providers[id] = true
	return nil
}

// RemoveProvider implements Store.
func (s *MemoryStore) RemoveProvider(_ context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.providers[id] {
		return ErrNotAuthorized
	}
	delete(s.providers, id)
	return nil
}

// TransferOwner implements Store.
func (s *MemoryStore) TransferOwner(_ context.Context, newOwner Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.owner.Valid() {
		return ErrNotInitialized
	}
	delete(s.providers, s.owner)
	s.owner = newOwner
	s.providers[newOwner] = true
	return nil
}

// AppendRecord implements Store.
func (s *MemoryStore) AppendRecord(_ context.Context, rec *RecordEntry, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.Index = len(s.records[rec.PatientID])
	cp := *rec
	s.records[rec.PatientID] = append(s.records[rec.PatientID], &cp)
	s.appendAuditLocked(audit)
	return nil
}

// SupersedeRecord implements Store.
func (s *MemoryStore) SupersedeRecord(_ context.Context, oldIndex int, rec *RecordEntry, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := s.records[rec.PatientID]
	if oldIndex < 0 || oldIndex >= len(seq) {
		return ErrRecordNotFound
	}
	old := seq[oldIndex]
	if !old.Active {
		return ErrInactiveRecord
	}

	old.Active = false
	rec.Index = len(seq)
	cp := *rec
	s.records[rec.PatientID] = append(seq, &cp)
	s.appendAuditLocked(audit)
	return nil
}

// Record implements Store.
func (s *MemoryStore) Record(_ context.Context, patientID int64, index int) (*RecordEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seq := s.records[patientID]
	if index < 0 || index >= len(seq) {
		return nil, ErrRecordNotFound
	}
	cp := *seq[index]
	return &cp, nil
}

// RecordCount implements Store.
func (s *MemoryStore) RecordCount(_ context.Context, patientID int64) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records[patientID]), nil
}

// ActiveRecords implements Store.
func (s *MemoryStore) ActiveRecords(_ context.Context, patientID int64) ([]*RecordEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*RecordEntry
	for _, e := range s.records[patientID] {
		if e.Active {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AppendAudit implements Store.
func (s *MemoryStore) AppendAudit(_ context.Context, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendAuditLocked(audit)
	return nil
}

// appendAuditLocked chains and stores an audit entry. Caller holds s.mu.
func (s *MemoryStore) appendAuditLocked(e *AuditEntry) {
	prev := GenesisHash
	if n := len(s.audit); n > 0 {
		prev = s.audit[n-1].Hash
	}
	e.Index = len(s.audit)
	e.PrevHash = prev
	e.Hash = chainHash(e)
	cp := *e
	s.audit = append(s.audit, &cp)
}

// AuditAt implements Store.
func (s *MemoryStore) AuditAt(_ context.Context, index int) (*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if index < 0 || index >= len(s.audit) {
		return nil, ErrLogNotFound
	}
	cp := *s.audit[index]
	return &cp, nil
}

// AuditCount implements Store.
func (s *MemoryStore) AuditCount(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.audit), nil
}

// AuditForPatient implements Store.
func (s *MemoryStore) AuditForPatient(_ context.Context, patientID int64) ([]*AuditEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*AuditEntry
	for _, e := range s.audit {
		if e.PatientID == patientID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// AuditRoot implements Store.
func (s *MemoryStore) AuditRoot(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.audit) == 0 {
		return GenesisHash, nil
	}
	return s.audit[len(s.audit)-1].Hash, nil
}

// VerifyAudit implements Store.
func (s *MemoryStore) VerifyAudit(_ context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return verifyChain(s.audit)
}

// Close implements Store. It is a no-op for the memory store.
func (s *MemoryStore) Close() error { return nil }
