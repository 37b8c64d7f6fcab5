// Package storetest opens throwaway SQLite-backed stores for tests.
package storetest

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/servicehub/orchestrator/pkg/store/postgres"
)

// New returns a migrated store backed by a fresh SQLite file that is removed
// when the test ends.
func New(t testing.TB) *postgres.Store {
	t.Helper()

	s, err := postgres.OpenSQLite(filepath.Join(t.TempDir(), "orchestrator.db"))
	require.NoError(t, err)
	require.NoError(t, s.AutoMigrate())

	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}
