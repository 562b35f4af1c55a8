// internal/writers/sqlite.go
package writers

import (
	"database/sql"
	"errors"
	"fmt"
	"os"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver

	"ktax/core/classify"
)

const sqliteSchema = `
CREATE TABLE results (
	ord      INTEGER PRIMARY KEY,
	read_id  TEXT NOT NULL,
	status   TEXT NOT NULL,
	taxon_id INTEGER NOT NULL,
	votes    INTEGER NOT NULL,
	sampled  INTEGER NOT NULL,
	hits     INTEGER NOT NULL,
	passes   INTEGER NOT NULL,
	reason   TEXT
);
CREATE INDEX results_taxon ON results(taxon_id);
`

// rows per transaction
const sqliteChunk = 10000

type sqliteSink struct {
	db   *sql.DB
	tx   *sql.Tx
	stmt *sql.Stmt
	n    int64
}

func init() {
	Register("sqlite", openSQLite)
}

// openSQLite replaces any existing database at dst.Path.
func openSQLite(dst Destination) (Sink, error) {
	if dst.Path == "" || dst.Path == "-" {
		return nil, errors.New("sqlite output needs a file path (-o)")
	}
	if err := os.Remove(dst.Path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("replace %s: %w", dst.Path, err)
	}
	db, err := sql.Open("sqlite", dst.Path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	s := &sqliteSink{db: db}
	if err := s.begin(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *sqliteSink) begin() error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	stmt, err := tx.Prepare(`INSERT INTO results
		(ord, read_id, status, taxon_id, votes, sampled, hits, passes, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	s.tx, s.stmt = tx, stmt
	return nil
}

func (s *sqliteSink) commit() error {
	_ = s.stmt.Close()
	err := s.tx.Commit()
	s.tx, s.stmt = nil, nil
	return err
}

func (s *sqliteSink) Write(r classify.Result) error {
	var reason any
	if r.Reason != "" {
		reason = r.Reason
	}
	if _, err := s.stmt.Exec(s.n, r.ID, r.Status.String(), int64(r.Taxon),
		r.Votes, r.Sampled, r.Hits, r.Passes, reason); err != nil {
		return err
	}
	s.n++
	if s.n%sqliteChunk == 0 {
		if err := s.commit(); err != nil {
			return err
		}
		return s.begin()
	}
	return nil
}

func (s *sqliteSink) Close() error {
	var err error
	if s.tx != nil {
		err = s.commit()
	}
	if cerr := s.db.Close(); err == nil {
		err = cerr
	}
	return err
}
