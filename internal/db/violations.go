package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
)

// Violation is one connection terminated for breaking the wire protocol.
type Violation struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	Remote     string    `json:"remote"`
	Device     string    `json:"device"`
	Kind       string    `json:"kind"`
	Opcode     int       `json:"opcode"`
	Detail     string    `json:"detail"`
	OccurredAt time.Time `json:"occurred_at"`
}

// ViolationStore persists violations for operators to inspect.
type ViolationStore struct {
	db *Database
}

// NewViolationStore opens the store at dbPath, creating the schema if needed.
func NewViolationStore(dbPath string) (*ViolationStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &ViolationStore{db: database}
	if err := s.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate audit database: %w", err)
	}
	return s, nil
}

func (s *ViolationStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS violations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			remote TEXT NOT NULL DEFAULT '',
			device TEXT NOT NULL DEFAULT '',
			kind TEXT NOT NULL,
			opcode INTEGER NOT NULL DEFAULT -1,
			detail TEXT NOT NULL DEFAULT '',
			occurred_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_violations_occurred_at ON violations(occurred_at);
		CREATE INDEX IF NOT EXISTS idx_violations_kind ON violations(kind);
	`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	log.Debug().Msg("audit schema migrated")
	return nil
}

// Close closes the underlying database.
func (s *ViolationStore) Close() error {
	return s.db.Close()
}

// Record stores v. A zero OccurredAt is set to now.
func (s *ViolationStore) Record(ctx context.Context, v Violation) (int64, error) {
	if v.OccurredAt.IsZero() {
		v.OccurredAt = time.Now()
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO violations (session_id, remote, device, kind, opcode, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		v.SessionID, v.Remote, v.Device, v.Kind, v.Opcode, v.Detail, v.OccurredAt.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to record violation: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit violations, newest first.
func (s *ViolationStore) Recent(ctx context.Context, limit int) ([]Violation, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, remote, device, kind, opcode, detail, occurred_at
		 FROM violations ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var out []Violation
	for rows.Next() {
		v, err := scanViolation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// CountByKind returns the number of stored violations per kind.
func (s *ViolationStore) CountByKind(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM violations GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count violations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan violation count: %w", err)
		}
		out[kind] = n
	}
	return out, rows.Err()
}

// Purge deletes violations that occurred before cutoff.
func (s *ViolationStore) Purge(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64
	err := s.db.Transaction(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM violations WHERE occurred_at < ?`, cutoff.UnixMilli())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge violations: %w", err)
	}
	if n > 0 {
		log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("purged old violations")
	}
	return n, nil
}

func scanViolation(rows *sql.Rows) (Violation, error) {
	var v Violation
	var at int64
	if err := rows.Scan(&v.ID, &v.SessionID, &v.Remote, &v.Device, &v.Kind, &v.Opcode, &v.Detail, &at); err != nil {
		return Violation{}, fmt.Errorf("failed to scan violation: %w", err)
	}
	v.OccurredAt = time.UnixMilli(at).UTC()
	return v, nil
}
