package sqlite

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"
)

func NewTestSqliteStorage(t *testing.T) *Storage {
	db, err := sql.Open("sqlite", "file::memory:?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	// a single connection keeps the in-memory database alive across the test
	db.SetMaxOpenConns(1)

	err = MigrateUp(db)
	require.NoError(t, err)

	return NewStorage(db)
}
