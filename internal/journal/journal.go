// Package journal implements the database-backed cluster journal: an
// append-only ordered log of committed change records behind a global
// revision counter. Incrementing the counter inside a transaction is the
// cluster-wide mutual-exclusion primitive; no separate lock table exists.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/sylvadb/sylva/pkg/types"
)

// ErrJournal wraps every lock, append or constraint failure. The caller
// treats it as fatal for the current commit attempt and retries the whole
// lock, append, unlock sequence.
var ErrJournal = errors.New("sylva: journal error")

// Config carries the journal connection parameters.
type Config struct {
	// Driver is the database/sql driver name, e.g. "sqlite".
	Driver string
	// DSN is the driver-specific connection string.
	DSN string
	// SchemaObjectPrefix prefixes the backing table names. Upper-cased on
	// open, matching the identifier convention of the DDL scripts.
	SchemaObjectPrefix string
	// JournalID identifies this cluster member in appended records.
	JournalID string
	Logger    *slog.Logger
}

// Record is one immutable journal entry. Reserved revisions are strictly
// increasing across the cluster; records appended in one locked session
// share the session's revision.
type Record struct {
	Revision   int64
	JournalID  string
	ProducerID string
	Data       []byte
}

// DatabaseJournal talks to the backing relational store over a dedicated
// connection so the revision lock spans statements.
type DatabaseJournal struct {
	log       *slog.Logger
	db        *sql.DB
	conn      *sql.Conn
	prefix    string
	journalID string

	mu             sync.Mutex
	tx             *sql.Tx
	locked         bool
	lockedRevision int64
	closed         bool
}

// Open connects to the backing store and bootstraps the schema if the
// tables do not exist yet. Bootstrap is idempotent.
func Open(cfg Config) (*DatabaseJournal, error) {
	if cfg.Driver == "" {
		return nil, fmt.Errorf("%w: driver not specified", ErrJournal)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: connection DSN not specified", ErrJournal)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("%w: open connection: %v", ErrJournal, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %v", ErrJournal, err)
	}
	// the revision lock spans statements and needs a dedicated connection;
	// a second one serves reads while the lock is held
	db.SetMaxOpenConns(2)

	j := &DatabaseJournal{
		log:       cfg.Logger,
		db:        db,
		prefix:    strings.ToUpper(cfg.SchemaObjectPrefix),
		journalID: cfg.JournalID,
	}

	if err := j.checkSchema(cfg.Driver); err != nil {
		db.Close()
		return nil, err
	}

	conn, err := db.Conn(context.Background())
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: acquire connection: %v", ErrJournal, err)
	}
	j.conn = conn

	j.log.Info("database journal initialized",
		"driver", cfg.Driver, "prefix", j.prefix, "journal", j.journalID)
	return j, nil
}

func (j *DatabaseJournal) table(base string) string {
	return j.prefix + base
}

// Lock reserves the next global revision. Within one transaction the
// counter row is incremented and read back; the row lock taken by the
// update blocks concurrent lockers until Unlock.
func (j *DatabaseJournal) Lock(ctx context.Context) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("%w: journal closed", types.ErrInvalidState)
	}
	if j.locked {
		return fmt.Errorf("%w: journal already locked", types.ErrInvalidState)
	}

	tx, err := j.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin lock transaction: %v", ErrJournal, err)
	}

	succeeded := false
	defer func() {
		if !succeeded {
			if rbErr := tx.Rollback(); rbErr != nil {
				j.log.Warn("rolling back failed lock attempt", "err", rbErr)
			}
		}
	}()

	if _, err := tx.ExecContext(ctx,
		"update "+j.table("GLOBAL_REVISION")+" set revision_id = revision_id + 1"); err != nil {
		return fmt.Errorf("%w: increment global revision: %v", ErrJournal, err)
	}

	row := tx.QueryRowContext(ctx,
		"select revision_id from "+j.table("GLOBAL_REVISION"))
	if err := row.Scan(&j.lockedRevision); err != nil {
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: no revision available", ErrJournal)
		}
		return fmt.Errorf("%w: read locked revision: %v", ErrJournal, err)
	}

	succeeded = true
	j.tx = tx
	j.locked = true
	return nil
}

// JournalID returns the cluster member identity stamped on appended records.
func (j *DatabaseJournal) JournalID() string { return j.journalID }

// LockedRevision returns the revision reserved by the current lock.
func (j *DatabaseJournal) LockedRevision() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lockedRevision
}

// Append stamps the record with the revision reserved at lock time and
// inserts it into the lock transaction. A locked session may append several
// records; they all share the reserved revision and become visible together
// when Unlock commits.
func (j *DatabaseJournal) Append(ctx context.Context, producerID string, data []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.locked {
		return fmt.Errorf("%w: append without holding the journal lock", types.ErrInvalidState)
	}

	insert := "insert into " + j.table("JOURNAL") +
		" (REVISION_ID, JOURNAL_ID, PRODUCER_ID, REVISION_DATA) values (?, ?, ?, ?)"
	if _, err := j.tx.ExecContext(ctx, insert,
		j.lockedRevision, j.journalID, producerID, data); err != nil {
		return fmt.Errorf("%w: append revision %d: %v", ErrJournal, j.lockedRevision, err)
	}
	return nil
}

// Unlock ends the locked session. On success the counter increment and all
// appended records commit atomically; otherwise any partial work is rolled
// back. The connection is returned to auto-commit mode regardless of
// outcome.
func (j *DatabaseJournal) Unlock(successful bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.locked {
		j.log.Warn("unlock without a preceding lock")
		return
	}
	var err error
	if successful {
		err = j.tx.Commit()
	} else {
		err = j.tx.Rollback()
	}
	if err != nil {
		j.log.Warn("finishing lock transaction", "successful", successful, "err", err)
	}
	j.tx = nil
	j.locked = false
}

// GlobalRevision returns a read-only snapshot of the counter.
func (j *DatabaseJournal) GlobalRevision(ctx context.Context) (int64, error) {
	var rev int64
	row := j.db.QueryRowContext(ctx,
		"select revision_id from "+j.table("GLOBAL_REVISION"))
	if err := row.Scan(&rev); err != nil {
		return 0, fmt.Errorf("%w: read global revision: %v", ErrJournal, err)
	}
	return rev, nil
}

// GetRecords returns a forward iterator over all records with a revision
// greater than startRevision, in ascending order. The iterator is lazy,
// single-pass and bound to one query cursor.
func (j *DatabaseJournal) GetRecords(ctx context.Context, startRevision int64) (*RecordIterator, error) {
	rows, err := j.db.QueryContext(ctx,
		"select REVISION_ID, JOURNAL_ID, PRODUCER_ID, REVISION_DATA from "+
			j.table("JOURNAL")+" where REVISION_ID > ? order by REVISION_ID",
		startRevision)
	if err != nil {
		return nil, fmt.Errorf("%w: query records after %d: %v", ErrJournal, startRevision, err)
	}
	return &RecordIterator{rows: rows}, nil
}

// Close releases the dedicated connection and the pool. Closing twice is an
// invalid-state error.
func (j *DatabaseJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return fmt.Errorf("%w: journal already closed", types.ErrInvalidState)
	}
	j.closed = true
	if j.tx != nil {
		if err := j.tx.Rollback(); err != nil {
			j.log.Warn("rolling back open transaction on close", "err", err)
		}
		j.tx = nil
		j.locked = false
	}
	if err := j.conn.Close(); err != nil {
		j.log.Warn("closing journal connection", "err", err)
	}
	return j.db.Close()
}
