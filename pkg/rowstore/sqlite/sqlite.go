// Package sqlite implements rowstore.Store over a SQLite database
// file, following the open sequence of the teacher's
// camlistore.org/pkg/sorted/sqlite (open, then idempotent schema
// creation; no schema-version check is made) but over the pure-Go
// modernc.org/sqlite driver instead of the teacher's cgo
// mattn/go-sqlite3, so this module needs no C toolchain (see
// DESIGN.md and SPEC_FULL.md §4.D).
package sqlite

import (
	"database/sql"
	"fmt"
	"os"

	_ "modernc.org/sqlite"

	"github.com/blindsync/blindsync/pkg/rowstore"
)

const schema = `
CREATE TABLE IF NOT EXISTS files (
	path        TEXT PRIMARY KEY,
	isDir       INTEGER NOT NULL,
	size        INTEGER NOT NULL,
	modTime     INTEGER NOT NULL,
	hash        TEXT,
	remoteId    TEXT,
	remoteName  TEXT,
	status      TEXT
);`

// Store is a rowstore.Store backed by a SQLite file.
type Store struct {
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite index file at path
// and ensures its schema exists.
func Open(path string) (*Store, error) {
	_, statErr := os.Stat(path)
	freshFile := os.IsNotExist(statErr)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rowstore/sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite serializes writers anyway; avoid lock contention

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("rowstore/sqlite: init schema: %w", err)
	}
	_ = freshFile // schema creation above is idempotent either way

	return &Store{db: db}, nil
}

// LoadAll implements rowstore.Store.
func (s *Store) LoadAll() ([]rowstore.Row, error) {
	rows, err := s.db.Query(`SELECT path, isDir, size, modTime, hash, remoteId, remoteName, status FROM files`)
	if err != nil {
		return nil, fmt.Errorf("rowstore/sqlite: load all: %w", err)
	}
	defer rows.Close()

	var out []rowstore.Row
	for rows.Next() {
		var (
			r           rowstore.Row
			isDir       int
			hash        sql.NullString
			remoteID    sql.NullString
			remoteName  sql.NullString
			status      sql.NullString
		)
		if err := rows.Scan(&r.Path, &isDir, &r.Size, &r.ModTime, &hash, &remoteID, &remoteName, &status); err != nil {
			return nil, fmt.Errorf("rowstore/sqlite: scan row: %w", err)
		}
		r.IsDir = isDir != 0
		r.Hash = hash.String
		r.RemoteID = remoteID.String
		r.RemoteName = remoteName.String
		r.Status = status.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// ApplyBatch implements rowstore.Store, applying every mutation in a
// single transaction.
func (s *Store) ApplyBatch(batch []rowstore.Mutation) error {
	if len(batch) == 0 {
		return nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("rowstore/sqlite: begin transaction: %w", err)
	}
	defer tx.Rollback()

	del, err := tx.Prepare(`DELETE FROM files WHERE path = ?`)
	if err != nil {
		return err
	}
	defer del.Close()

	upsert, err := tx.Prepare(`
		INSERT INTO files (path, isDir, size, modTime, hash, remoteId, remoteName, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			isDir=excluded.isDir, size=excluded.size, modTime=excluded.modTime,
			hash=excluded.hash, remoteId=excluded.remoteId,
			remoteName=excluded.remoteName, status=excluded.status`)
	if err != nil {
		return err
	}
	defer upsert.Close()

	for _, m := range batch {
		if m.Delete {
			if _, err := del.Exec(m.Path); err != nil {
				return fmt.Errorf("rowstore/sqlite: delete %s: %w", m.Path, err)
			}
			continue
		}
		r := m.Row
		if _, err := upsert.Exec(r.Path, boolToInt(r.IsDir), r.Size, r.ModTime,
			nullableString(r.Hash), nullableString(r.RemoteID), nullableString(r.RemoteName), nullableString(r.Status)); err != nil {
			return fmt.Errorf("rowstore/sqlite: upsert %s: %w", r.Path, err)
		}
	}

	return tx.Commit()
}

// Close implements rowstore.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
