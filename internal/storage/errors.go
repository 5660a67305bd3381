package storage

import "errors"

var (
	// ErrForeignKeyViolation is returned by Finalize when loaded rows reference
	// parents that were never inserted.
	ErrForeignKeyViolation = errors.New("foreign key violation")

	// ErrUnknownTable is returned when rows are written to a table that was not
	// declared through EnsureTables.
	ErrUnknownTable = errors.New("unknown table")
)
