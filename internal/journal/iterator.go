package journal

import (
	"database/sql"
	"fmt"
)

// RecordIterator walks a record query result. It is single-pass and
// non-restartable; Close releases the cursor.
type RecordIterator struct {
	rows    *sql.Rows
	current Record
	err     error
}

// Next advances to the next record, returning false at the end or on error.
func (it *RecordIterator) Next() bool {
	if it.err != nil {
		return false
	}
	if !it.rows.Next() {
		it.err = it.rows.Err()
		return false
	}
	var r Record
	if err := it.rows.Scan(&r.Revision, &r.JournalID, &r.ProducerID, &r.Data); err != nil {
		it.err = fmt.Errorf("%w: scan record: %v", ErrJournal, err)
		return false
	}
	it.current = r
	return true
}

// Record returns the record Next positioned on.
func (it *RecordIterator) Record() Record { return it.current }

// Err returns the first error encountered while iterating.
func (it *RecordIterator) Err() error { return it.err }

// Close releases the underlying cursor.
func (it *RecordIterator) Close() error { return it.rows.Close() }
