package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// LevelStore is a durable, embedded Store backed by LevelDB. Suited to
// single-node deployments where running PostgreSQL is overkill. A mutex
// serialises mutations; each mutation is written as one LevelDB batch, so
// the record write and its audit entry land together or not at all.
type LevelStore struct {
	mu sync.Mutex
	db *leveldb.DB
}

// Key layout. Patient ids and indices are big-endian fixed width so that
// lexicographic key order equals numeric order.
const (
	keyOwner      = "meta:owner"
	keyAuditCount = "meta:audit_count"
	prefixProv    = "prov:"
	prefixRec     = "rec:"
	prefixRecCnt  = "reccnt:"
	prefixAudit   = "audit:"
	prefixPatAud  = "paud:"
)

// OpenLevelStore opens (or creates) a LevelDB-backed store at path.
func OpenLevelStore(path string) (*LevelStore, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %s: %w", path, err)
	}
	return &LevelStore{db: db}, nil
}

func be64(v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return b[:]
}

func recKey(patientID int64, index int) []byte {
	k := append([]byte(prefixRec), be64(uint64(patientID))...)
	k = append(k, ':')
	return append(k, be64(uint64(index))...)
}

func recCountKey(patientID int64) []byte {
	return append([]byte(prefixRecCnt), be64(uint64(patientID))...)
}

func auditKey(index int) []byte {
	return append([]byte(prefixAudit), be64(uint64(index))...)
}

func patAudKey(patientID int64, index int) []byte {
	k := append([]byte(prefixPatAud), be64(uint64(patientID))...)
	k = append(k, ':')
	return append(k, be64(uint64(index))...)
}

// Bootstrap implements Store.
func (s *LevelStore) Bootstrap(_ context.Context, owner Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Get([]byte(keyOwner), nil); err == nil {
		return ErrAlreadyInitialized
	} else if !errors.Is(err, leveldb.ErrNotFound) {
		return fmt.Errorf("read owner: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put([]byte(keyOwner), []byte(owner))
	batch.Put([]byte(prefixProv+owner.String()), []byte{1})
	return s.db.Write(batch, nil)
}

// Owner implements Store.
func (s *LevelStore) Owner(_ context.Context) (Identity, error) {
	raw, err := s.db.Get([]byte(keyOwner), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return NoIdentity, ErrNotInitialized
	}
	if err != nil {
		return NoIdentity, fmt.Errorf("read owner: %w", err)
	}
	return Identity(raw), nil
}

// IsProvider implements Store.
func (s *LevelStore) IsProvider(_ context.Context, id Identity) (bool, error) {
	ok, err := s.db.Has([]byte(prefixProv+id.String()), nil)
	if err != nil {
		return false, fmt.Errorf("check provider: %w", err)
	}
	return ok, nil
}

// AddProvider implements Store.
func (s *LevelStore) AddProvider(_ context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := []byte(prefixProv + id.String())
	ok, err := s.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("check provider: %w", err)
	}
	if ok {
		return ErrAlreadyAuthorized
	}
	return s.db.Put(key, []byte{1}, nil)
}

// RemoveProvider implements Store.
func (s *LevelStore) RemoveProvider(_ context.Context, id Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := []byte(prefixProv + id.String())
	ok, err := s.db.Has(key, nil)
	if err != nil {
		return fmt.Errorf("check provider: %w", err)
	}
	if !ok {
		return ErrNotAuthorized
	}
	return s.db.Delete(key, nil)
}

// TransferOwner implements Store.
func (s *LevelStore) TransferOwner(_ context.Context, newOwner Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.db.Get([]byte(keyOwner), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return ErrNotInitialized
	}
	if err != nil {
		return fmt.Errorf("read owner: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Delete([]byte(prefixProv + string(old)))
	batch.Put([]byte(keyOwner), []byte(newOwner))
	batch.Put([]byte(prefixProv+newOwner.String()), []byte{1})
	return s.db.Write(batch, nil)
}

// AppendRecord implements Store.
func (s *LevelStore) AppendRecord(_ context.Context, rec *RecordEntry, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	count, err := s.recordCountLocked(rec.PatientID)
	if err != nil {
		return err
	}
	rec.Index = count

	batch := new(leveldb.Batch)
	if err := s.putRecord(batch, rec, count+1); err != nil {
		return err
	}
	if err := s.chainAuditLocked(batch, audit); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

// SupersedeRecord implements Store.
func (s *LevelStore) SupersedeRecord(_ context.Context, oldIndex int, rec *RecordEntry, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.recordLocked(rec.PatientID, oldIndex)
	if err != nil {
		return err
	}
	if !old.Active {
		return ErrInactiveRecord
	}

	count, err := s.recordCountLocked(rec.PatientID)
	if err != nil {
		return err
	}
	rec.Index = count

	old.Active = false
	oldRaw, err := json.Marshal(old)
	if err != nil {
		return fmt.Errorf("marshal superseded record: %w", err)
	}

	batch := new(leveldb.Batch)
	batch.Put(recKey(old.PatientID, old.Index), oldRaw)
	if err := s.putRecord(batch, rec, count+1); err != nil {
		return err
	}
	if err := s.chainAuditLocked(batch, audit); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

// putRecord stages a record write plus the new sequence length.
func (s *LevelStore) putRecord(batch *leveldb.Batch, rec *RecordEntry, newCount int) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	batch.Put(recKey(rec.PatientID, rec.Index), raw)
	batch.Put(recCountKey(rec.PatientID), be64(uint64(newCount)))
	return nil
}

// chainAuditLocked links the entry to the chain tip and stages its writes.
// Caller holds s.mu.
func (s *LevelStore) chainAuditLocked(batch *leveldb.Batch, e *AuditEntry) error {
	count, err := s.auditCountLocked()
	if err != nil {
		return err
	}
	prev := GenesisHash
	if count > 0 {
		tail, err := s.auditAtLocked(count - 1)
		if err != nil {
			return err
		}
		prev = tail.Hash
	}

	e.Index = count
	e.PrevHash = prev
	e.Hash = chainHash(e)

	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	batch.Put(auditKey(e.Index), raw)
	batch.Put(patAudKey(e.PatientID, e.Index), nil)
	batch.Put([]byte(keyAuditCount), be64(uint64(count+1)))
	return nil
}

func (s *LevelStore) recordLocked(patientID int64, index int) (*RecordEntry, error) {
	if index < 0 {
		return nil, ErrRecordNotFound
	}
	raw, err := s.db.Get(recKey(patientID, index), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read record: %w", err)
	}
	rec := &RecordEntry{}
	if err := json.Unmarshal(raw, rec); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}
	return rec, nil
}

func (s *LevelStore) recordCountLocked(patientID int64) (int, error) {
	raw, err := s.db.Get(recCountKey(patientID), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read record count: %w", err)
	}
	return int(binary.BigEndian.Uint64(raw)), nil
}

func (s *LevelStore) auditCountLocked() (int, error) {
	raw, err := s.db.Get([]byte(keyAuditCount), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read audit count: %w", err)
	}
	return int(binary.BigEndian.Uint64(raw)), nil
}

func (s *LevelStore) auditAtLocked(index int) (*AuditEntry, error) {
	raw, err := s.db.Get(auditKey(index), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read audit entry: %w", err)
	}
	e := &AuditEntry{}
	if err := json.Unmarshal(raw, e); err != nil {
		return nil, fmt.Errorf("decode audit entry: %w", err)
	}
	return e, nil
}

// Record implements Store.
func (s *LevelStore) Record(_ context.Context, patientID int64, index int) (*RecordEntry, error) {
	return s.recordLocked(patientID, index)
}

// RecordCount implements Store.
func (s *LevelStore) RecordCount(_ context.Context, patientID int64) (int, error) {
	return s.recordCountLocked(patientID)
}

// ActiveRecords implements Store.
func (s *LevelStore) ActiveRecords(_ context.Context, patientID int64) ([]*RecordEntry, error) {
	prefix := append([]byte(prefixRec), be64(uint64(patientID))...)
	prefix = append(prefix, ':')
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []*RecordEntry
	for iter.Next() {
		rec := &RecordEntry{}
		if err := json.Unmarshal(iter.Value(), rec); err != nil {
			return nil, fmt.Errorf("decode record: %w", err)
		}
		if rec.Active {
			out = append(out, rec)
		}
	}
	return out, iter.Error()
}

// AppendAudit implements Store.
func (s *LevelStore) AppendAudit(_ context.Context, audit *AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	if err := s.chainAuditLocked(batch, audit); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

// AuditAt implements Store.
func (s *LevelStore) AuditAt(_ context.Context, index int) (*AuditEntry, error) {
	if index < 0 {
		return nil, ErrLogNotFound
	}
	return s.auditAtLocked(index)
}

// AuditCount implements Store.
func (s *LevelStore) AuditCount(_ context.Context) (int, error) {
	return s.auditCountLocked()
}

// AuditForPatient implements Store.
func (s *LevelStore) AuditForPatient(_ context.Context, patientID int64) ([]*AuditEntry, error) {
	prefix := append([]byte(prefixPatAud), be64(uint64(patientID))...)
	prefix = append(prefix, ':')
	iter := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()

	var out []*AuditEntry
	for iter.Next() {
		key := iter.Key()
		idx := int(binary.BigEndian.Uint64(key[len(key)-8:]))
		e, err := s.auditAtLocked(idx)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, iter.Error()
}

// AuditRoot implements Store.
func (s *LevelStore) AuditRoot(_ context.Context) (string, error) {
	count, err := s.auditCountLocked()
	if err != nil {
		return "", err
	}
	if count == 0 {
		return GenesisHash, nil
	}
	tail, err := s.auditAtLocked(count - 1)
	if err != nil {
		return "", err
	}
	return tail.Hash, nil
}

// VerifyAudit implements Store.
func (s *LevelStore) VerifyAudit(_ context.Context) error {
	count, err := s.auditCountLocked()
	if err != nil {
		return err
	}
	entries := make([]*AuditEntry, 0, count)
	for i := 0; i < count; i++ {
		e, err := s.auditAtLocked(i)
		if err != nil {
			return err
		}
		entries = append(entries, e)
	}
	return verifyChain(entries)
}

// Close implements Store.
func (s *LevelStore) Close() error {
	return s.db.Close()
}
