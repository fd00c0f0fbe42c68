// Package sqlite is the embedded backing store for model mappings and
// request logs.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/nextlevelbuilder/kirogate/internal/logbuf"
	"github.com/nextlevelbuilder/kirogate/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store implements store.MappingStore and store.RequestLogStore on a local
// sqlite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database and applies pending
// migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// modernc sqlite serializes writes itself; one connection avoids
	// SQLITE_BUSY churn under concurrent log appends.
	db.SetMaxOpenConns(1)

	if err := Migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Migrate applies all pending embedded migrations.
func Migrate(db *sql.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("open embedded migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// ListMappings returns all mapping rules, highest priority first.
func (s *Store) ListMappings(ctx context.Context) ([]models.Mapping, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT external_pattern, internal_id, match_type, priority, enabled
		FROM model_mappings
		ORDER BY priority DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list mappings: %w", err)
	}
	defer rows.Close()

	var out []models.Mapping
	for rows.Next() {
		var m models.Mapping
		var enabled int
		if err := rows.Scan(&m.ExternalPattern, &m.InternalID, &m.MatchType, &m.Priority, &enabled); err != nil {
			return nil, fmt.Errorf("scan mapping: %w", err)
		}
		m.Enabled = enabled != 0
		out = append(out, m)
	}
	return out, rows.Err()
}

// ReplaceMappings swaps the full rule set in one transaction.
func (s *Store) ReplaceMappings(ctx context.Context, mappings []models.Mapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace mappings: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM model_mappings`); err != nil {
		return fmt.Errorf("clear mappings: %w", err)
	}
	for _, m := range mappings {
		enabled := 0
		if m.Enabled {
			enabled = 1
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO model_mappings (external_pattern, internal_id, match_type, priority, enabled)
			VALUES (?, ?, ?, ?, ?)`,
			m.ExternalPattern, m.InternalID, string(m.MatchType), m.Priority, enabled); err != nil {
			return fmt.Errorf("insert mapping %q: %w", m.ExternalPattern, err)
		}
	}
	return tx.Commit()
}

// AppendLog records one completed request.
func (s *Store) AppendLog(ctx context.Context, rec logbuf.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO request_logs (ts, session_id, model, status_code, status_text)
		VALUES (?, ?, ?, ?, ?)`,
		rec.Timestamp.UnixMilli(), rec.SessionID, rec.Model, rec.StatusCode, rec.StatusText)
	if err != nil {
		return fmt.Errorf("append log: %w", err)
	}
	return nil
}

// ListLogs returns records newest-first with the total count.
func (s *Store) ListLogs(ctx context.Context, offset, limit int) ([]logbuf.Record, int, error) {
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 {
		limit = 50
	}
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM request_logs`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count logs: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT ts, session_id, model, status_code, status_text
		FROM request_logs
		ORDER BY id DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var out []logbuf.Record
	for rows.Next() {
		var rec logbuf.Record
		var ms int64
		if err := rows.Scan(&ms, &rec.SessionID, &rec.Model, &rec.StatusCode, &rec.StatusText); err != nil {
			return nil, 0, fmt.Errorf("scan log: %w", err)
		}
		rec.Timestamp = time.UnixMilli(ms).UTC()
		out = append(out, rec)
	}
	return out, total, rows.Err()
}
