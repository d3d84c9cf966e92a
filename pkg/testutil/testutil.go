// Package testutil provides test doubles and helpers shared by quarry's
// package tests.
package testutil

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	_ "modernc.org/sqlite"

	"github.com/ajitpratap0/quarry/pkg/logger"
)

// TestLogger returns a logger writing to the test output.
func TestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// TestContext returns a context that expires after 30 seconds and is
// cancelled when the test completes.
func TestContext(t *testing.T) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx, cancel
}

// UseTestLogger routes the global logger to the test output until the test
// completes.
func UseTestLogger(t *testing.T) {
	t.Helper()
	prev := logger.Get()
	logger.Set(zaptest.NewLogger(t))
	t.Cleanup(func() { logger.Set(prev) })
}

// SQLiteDB creates an on-disk SQLite database in a test scratch directory,
// runs stmts against it one at a time and returns its connection URL.
func SQLiteDB(t *testing.T, stmts ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	defer db.Close()
	for _, stmt := range stmts {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	return "sqlite://" + path
}
