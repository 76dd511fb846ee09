package identity

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists identity mappings across runs. It is the durable
// artifact behind a MemStore working copy: Load hydrates a run's store at
// start, Save rewrites the table at the end.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLiteStore opens (creating if needed) the state database at path and
// runs pending migrations.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state database path is required")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// Load reads every persisted mapping into a fresh in-memory working copy.
func (s *SQLiteStore) Load(ctx context.Context) (*MemStore, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, uid, id_kind, id_int, id_str
		FROM identity_mappings
		ORDER BY type, uid
	`)
	if err != nil {
		return nil, fmt.Errorf("load identity mappings: %w", err)
	}
	defer rows.Close()

	store := NewMemStore()
	for rows.Next() {
		var (
			typeName, rawUID, kind string
			idInt                  sql.NullInt64
			idStr                  sql.NullString
		)
		if err := rows.Scan(&typeName, &rawUID, &kind, &idInt, &idStr); err != nil {
			return nil, fmt.Errorf("scan identity mapping: %w", err)
		}
		uid, err := uuid.Parse(rawUID)
		if err != nil {
			return nil, fmt.Errorf("corrupt identity mapping uid %q: %w", rawUID, err)
		}
		var id BackendID
		switch IDKind(kind) {
		case IDInt:
			id = IntID(idInt.Int64)
		case IDString:
			id = StringID(idStr.String)
		default:
			return nil, fmt.Errorf("corrupt identity mapping kind %q for %s/%s", kind, typeName, uid)
		}
		store.Seed([]Entry{{Type: typeName, UID: uid, ID: id}})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identity mappings: %w", err)
	}
	return store, nil
}

// Save rewrites the persisted table from the working copy in one
// transaction, so a crash mid-save never leaves a half-written state.
func (s *SQLiteStore) Save(ctx context.Context, store *MemStore) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM identity_mappings`); err != nil {
		return fmt.Errorf("clear identity mappings: %w", err)
	}

	const insert = `
		INSERT INTO identity_mappings (type, uid, id_kind, id_int, id_str)
		VALUES (?, ?, ?, ?, ?)
	`
	for _, entry := range store.Entries() {
		var (
			idInt sql.NullInt64
			idStr sql.NullString
		)
		switch entry.ID.Kind {
		case IDInt:
			idInt = sql.NullInt64{Int64: entry.ID.Int, Valid: true}
		case IDString:
			idStr = sql.NullString{String: entry.ID.Str, Valid: true}
		}
		if _, err := tx.ExecContext(ctx, insert,
			entry.Type, entry.UID.String(), string(entry.ID.Kind), idInt, idStr,
		); err != nil {
			return fmt.Errorf("insert identity mapping %s/%s: %w", entry.Type, entry.UID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}
