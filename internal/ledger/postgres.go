package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLockKey serialises concurrent ledger mutations across all service
// instances sharing a database. The value is arbitrary but must be the same
// everywhere.
const advisoryLockKey = int64(7_240_118_332)

// PostgresStore persists the ledger to PostgreSQL. Every mutating operation
// runs inside a transaction guarded by an advisory lock, so the record write
// and its audit entry commit or roll back together.
type PostgresStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresStore creates a PostgresStore backed by the given pool.
func NewPostgresStore(pool *pgxpool.Pool, logger *zap.Logger) *PostgresStore {
	return &PostgresStore{pool: pool, logger: logger}
}

// begin opens a mutation transaction holding the ledger advisory lock.
func (s *PostgresStore) begin(ctx context.Context) (pgx.Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", advisoryLockKey); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}
	return tx, nil
}

// Bootstrap implements Store.
func (s *PostgresStore) Bootstrap(ctx context.Context, owner Identity) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var existing string
	err = tx.QueryRow(ctx, "SELECT owner_id FROM ledger_state WHERE id = 1").Scan(&existing)
	switch {
	case err == nil:
		return ErrAlreadyInitialized
	case !errors.Is(err, pgx.ErrNoRows):
		return fmt.Errorf("read ledger state: %w", err)
	}

	if _, err := tx.Exec(ctx,
		"INSERT INTO ledger_state (id, owner_id) VALUES (1, $1)", owner.String(),
	); err != nil {
		return fmt.Errorf("set owner: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"INSERT INTO providers (identity, granted_at) VALUES ($1, now())", owner.String(),
	); err != nil {
		return fmt.Errorf("grant owner provider flag: %w", err)
	}
	return tx.Commit(ctx)
}

// Owner implements Store.
func (s *PostgresStore) Owner(ctx context.Context) (Identity, error) {
	var owner string
	err := s.pool.QueryRow(ctx, "SELECT owner_id FROM ledger_state WHERE id = 1").Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return NoIdentity, ErrNotInitialized
	}
	if err != nil {
		return NoIdentity, fmt.Errorf("read owner: %w", err)
	}
	return Identity(owner), nil
}

// IsProvider implements Store.
func (s *PostgresStore) IsProvider(ctx context.Context, id Identity) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM providers WHERE identity = $1)", id.String(),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check provider: %w", err)
	}
	return ok, nil
}

// AddProvider implements Store.
func (s *PostgresStore) AddProvider(ctx context.Context, id Identity) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO providers (identity, granted_at) VALUES ($1, now())", id.String(),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyAuthorized
		}
		return fmt.Errorf("add provider: %w", err)
	}
	return nil
}

// RemoveProvider implements Store.
func (s *PostgresStore) RemoveProvider(ctx context.Context, id Identity) error {
	tag, err := s.pool.Exec(ctx, "DELETE FROM providers WHERE identity = $1", id.String())
	if err != nil {
		return fmt.Errorf("remove provider: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotAuthorized
	}
	return nil
}

// TransferOwner implements Store.
func (s *PostgresStore) TransferOwner(ctx context.Context, newOwner Identity) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var old string
	if err := tx.QueryRow(ctx, "SELECT owner_id FROM ledger_state WHERE id = 1").Scan(&old); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotInitialized
		}
		return fmt.Errorf("read owner: %w", err)
	}

	if _, err := tx.Exec(ctx, "DELETE FROM providers WHERE identity = $1", old); err != nil {
		return fmt.Errorf("revoke old owner: %w", err)
	}
	if _, err := tx.Exec(ctx,
		"UPDATE ledger_state SET owner_id = $1 WHERE id = 1", newOwner.String(),
	); err != nil {
		return fmt.Errorf("set new owner: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO providers (identity, granted_at) VALUES ($1, now())
		ON CONFLICT (identity) DO NOTHING`, newOwner.String(),
	); err != nil {
		return fmt.Errorf("grant new owner: %w", err)
	}
	return tx.Commit(ctx)
}

// AppendRecord implements Store.
func (s *PostgresStore) AppendRecord(ctx context.Context, rec *RecordEntry, audit *AuditEntry) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var count int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM patient_records WHERE patient_id = $1", rec.PatientID,
	).Scan(&count); err != nil {
		return fmt.Errorf("count patient records: %w", err)
	}
	rec.Index = count

	if err := insertRecordTx(ctx, tx, rec); err != nil {
		return err
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record append: %w", err)
	}

	s.logger.Debug("record row appended",
		zap.Int64("patient_id", rec.PatientID),
		zap.Int("idx", rec.Index),
	)
	return nil
}

// SupersedeRecord implements Store.
func (s *PostgresStore) SupersedeRecord(ctx context.Context, oldIndex int, rec *RecordEntry, audit *AuditEntry) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var active bool
	err = tx.QueryRow(ctx,
		"SELECT is_active FROM patient_records WHERE patient_id = $1 AND idx = $2",
		rec.PatientID, oldIndex,
	).Scan(&active)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrRecordNotFound
	}
	if err != nil {
		return fmt.Errorf("read record: %w", err)
	}
	if !active {
		return ErrInactiveRecord
	}

	if _, err := tx.Exec(ctx,
		"UPDATE patient_records SET is_active = false WHERE patient_id = $1 AND idx = $2",
		rec.PatientID, oldIndex,
	); err != nil {
		return fmt.Errorf("deactivate record: %w", err)
	}

	var count int
	if err := tx.QueryRow(ctx,
		"SELECT COUNT(*) FROM patient_records WHERE patient_id = $1", rec.PatientID,
	).Scan(&count); err != nil {
		return fmt.Errorf("count patient records: %w", err)
	}
	rec.Index = count

	if err := insertRecordTx(ctx, tx, rec); err != nil {
		return err
	}
	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func insertRecordTx(ctx context.Context, tx pgx.Tx, rec *RecordEntry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO patient_records (patient_id, idx, data_hash, record_type, created_by, created_at, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.PatientID, rec.Index, rec.DataHash[:], string(rec.RecordType),
		rec.CreatedBy.String(), rec.CreatedAt, rec.Active,
	)
	if err != nil {
		return fmt.Errorf("insert record: %w", err)
	}
	return nil
}

// appendAuditTx reads the chain tail, links the new entry, and inserts it.
// Must run inside an advisory-locked transaction.
func appendAuditTx(ctx context.Context, tx pgx.Tx, e *AuditEntry) error {
	prevIdx := -1
	prevHash := GenesisHash
	err := tx.QueryRow(ctx,
		"SELECT idx, hash FROM audit_log ORDER BY idx DESC LIMIT 1",
	).Scan(&prevIdx, &prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("read audit tail: %w", err)
	}

	e.Index = prevIdx + 1
	e.PrevHash = prevHash
	e.Hash = chainHash(e)

	if _, err := tx.Exec(ctx, `
		INSERT INTO audit_log (idx, patient_id, accessor, action, record_hash, ts, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Index, e.PatientID, e.Accessor.String(), string(e.Action),
		e.RecordHash[:], e.Timestamp, e.PrevHash, e.Hash,
	); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

// Record implements Store.
func (s *PostgresStore) Record(ctx context.Context, patientID int64, index int) (*RecordEntry, error) {
	rec, err := scanRecord(s.pool.QueryRow(ctx, `
		SELECT patient_id, idx, data_hash, record_type, created_by, created_at, is_active
		FROM patient_records WHERE patient_id = $1 AND idx = $2`, patientID, index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	return rec, nil
}

// RecordCount implements Store.
func (s *PostgresStore) RecordCount(ctx context.Context, patientID int64) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM patient_records WHERE patient_id = $1", patientID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// ActiveRecords implements Store.
func (s *PostgresStore) ActiveRecords(ctx context.Context, patientID int64) ([]*RecordEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT patient_id, idx, data_hash, record_type, created_by, created_at, is_active
		FROM patient_records
		WHERE patient_id = $1 AND is_active
		ORDER BY idx ASC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query active records: %w", err)
	}
	defer rows.Close()

	var out []*RecordEntry
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// AppendAudit implements Store.
func (s *PostgresStore) AppendAudit(ctx context.Context, audit *AuditEntry) error {
	tx, err := s.begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if err := appendAuditTx(ctx, tx, audit); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// AuditAt implements Store.
func (s *PostgresStore) AuditAt(ctx context.Context, index int) (*AuditEntry, error) {
	e, err := scanAudit(s.pool.QueryRow(ctx, `
		SELECT idx, patient_id, accessor, action, record_hash, ts, prev_hash, hash
		FROM audit_log WHERE idx = $1`, index))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrLogNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get audit entry %d: %w", index, err)
	}
	return e, nil
}

// AuditCount implements Store.
func (s *PostgresStore) AuditCount(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit_log").Scan(&n); err != nil {
		return 0, fmt.Errorf("count audit entries: %w", err)
	}
	return n, nil
}

// AuditForPatient implements Store.
func (s *PostgresStore) AuditForPatient(ctx context.Context, patientID int64) ([]*AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT idx, patient_id, accessor, action, record_hash, ts, prev_hash, hash
		FROM audit_log WHERE patient_id = $1 ORDER BY idx ASC`, patientID)
	if err != nil {
		return nil, fmt.Errorf("query patient audit: %w", err)
	}
	defer rows.Close()

	var out []*AuditEntry
	for rows.Next() {
		e, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AuditRoot implements Store.
func (s *PostgresStore) AuditRoot(ctx context.Context) (string, error) {
	var hash string
	err := s.pool.QueryRow(ctx, "SELECT hash FROM audit_log ORDER BY idx DESC LIMIT 1").Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return GenesisHash, nil
	}
	if err != nil {
		return "", fmt.Errorf("get audit root: %w", err)
	}
	return hash, nil
}

// VerifyAudit implements Store. Streams all rows ordered by idx and validates
// the chain. O(n) in log length.
func (s *PostgresStore) VerifyAudit(ctx context.Context) error {
	rows, err := s.pool.Query(ctx, `
		SELECT idx, patient_id, accessor, action, record_hash, ts, prev_hash, hash
		FROM audit_log ORDER BY idx ASC`)
	if err != nil {
		return fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	pos := 0
	prevHash := GenesisHash
	for rows.Next() {
		curr, err := scanAudit(rows)
		if err != nil {
			return fmt.Errorf("scan audit row: %w", err)
		}
		if curr.Index != pos {
			return fmt.Errorf("audit entry at position %d carries index %d", pos, curr.Index)
		}
		if curr.PrevHash != prevHash {
			return fmt.Errorf("audit chain broken at index %d", curr.Index)
		}
		if curr.Hash != chainHash(curr) {
			return fmt.Errorf("audit entry %d has invalid hash", curr.Index)
		}
		prevHash = curr.Hash
		pos++
	}
	return rows.Err()
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*RecordEntry, error) {
	rec := &RecordEntry{}
	var hash []byte
	var recordType, createdBy string
	if err := row.Scan(
		&rec.PatientID, &rec.Index, &hash, &recordType,
		&createdBy, &rec.CreatedAt, &rec.Active,
	); err != nil {
		return nil, err
	}
	copy(rec.DataHash[:], hash)
	rec.RecordType = RecordType(recordType)
	rec.CreatedBy = Identity(createdBy)
	return rec, nil
}

func scanAudit(row rowScanner) (*AuditEntry, error) {
	e := &AuditEntry{}
	var hash []byte
	var accessor, action string
	if err := row.Scan(
		&e.Index, &e.PatientID, &accessor, &action,
		&hash, &e.Timestamp, &e.PrevHash, &e.Hash,
	); err != nil {
		return nil, err
	}
	copy(e.RecordHash[:], hash)
	e.Accessor = Identity(accessor)
	e.Action = Action(action)
	return e, nil
}
