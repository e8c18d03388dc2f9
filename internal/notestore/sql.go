package notestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/notesmd/notesync/internal/note"
)

const (
	sqlTableName        = "notesync_notes"
	sqlOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// sqlStore implements Store over database/sql. The postgres and sqlite
// constructors differ only in driver name, DSN handling and parameter
// placeholder style.
type sqlStore struct {
	driver      string
	dsn         string
	tableName   string
	placeholder func(n int) string
	openDB      sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

// NewPostgresStore returns a Store backed by a postgres table. The
// table is created lazily on first use.
func NewPostgresStore(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &sqlStore{
		driver:      "postgres",
		dsn:         dsn,
		tableName:   sqlTableName,
		placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
		openDB:      sql.Open,
	}, nil
}

// NewSQLiteStore returns a Store backed by a sqlite database file.
func NewSQLiteStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &sqlStore{
		driver:      "sqlite3",
		dsn:         path,
		tableName:   sqlTableName,
		placeholder: func(n int) string { return "?" },
		openDB:      sql.Open,
	}, nil
}

func (s *sqlStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB(s.driver, s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), sqlOperationTimeout)
		defer cancel()

		query := fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				entry_key TEXT PRIMARY KEY,
				payload TEXT NOT NULL
			)`, quoteIdentifier(s.tableName))
		if _, err := db.ExecContext(ctx, query); err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

func (s *sqlStore) Put(ctx context.Context, n note.Note) error {
	if err := validateNote(n); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (entry_key, payload)
		VALUES (%s, %s)
		ON CONFLICT (entry_key)
		DO UPDATE SET payload = EXCLUDED.payload`,
		quoteIdentifier(s.tableName), s.placeholder(1), s.placeholder(2))
	_, err = s.db.ExecContext(opCtx, query, Key(n.ID), string(payload))
	return err
}

func (s *sqlStore) Get(ctx context.Context, id string) (note.Note, error) {
	if err := validateID(id); err != nil {
		return note.Note{}, err
	}
	if err := s.ensureReady(); err != nil {
		return note.Note{}, err
	}
	opCtx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s WHERE entry_key = %s",
		quoteIdentifier(s.tableName), s.placeholder(1))
	var payload string
	err := s.db.QueryRowContext(opCtx, query, Key(id)).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return note.Note{}, ErrNotFound
	}
	if err != nil {
		return note.Note{}, err
	}
	var n note.Note
	if err := json.Unmarshal([]byte(payload), &n); err != nil {
		return note.Note{}, err
	}
	return n, nil
}

func (s *sqlStore) Delete(ctx context.Context, id string) error {
	if err := validateID(id); err != nil {
		return err
	}
	if err := s.ensureReady(); err != nil {
		return err
	}
	opCtx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE entry_key = %s",
		quoteIdentifier(s.tableName), s.placeholder(1))
	result, err := s.db.ExecContext(opCtx, query, Key(id))
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqlStore) List(ctx context.Context) ([]note.Note, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	opCtx, cancel := context.WithTimeout(ctx, sqlOperationTimeout)
	defer cancel()

	query := fmt.Sprintf("SELECT payload FROM %s WHERE entry_key LIKE %s",
		quoteIdentifier(s.tableName), s.placeholder(1))
	rows, err := s.db.QueryContext(opCtx, query, keyPrefix+"%")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	notes := make([]note.Note, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var n note.Note
		if err := json.Unmarshal([]byte(payload), &n); err != nil {
			continue
		}
		notes = append(notes, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	note.Sort(notes)
	return notes, nil
}

func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func quoteIdentifier(identifier string) string {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" {
		return `""`
	}
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}
