// Package sqlite serves SQLite database files, and private in-memory
// databases, through the pure-Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"net/url"
	"os"
	"strings"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/sqldb"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/query"
	"github.com/ajitpratap0/quarry/pkg/types"
)

const (
	// Family is the source family name
	Family = "sqlite"
	// Driver is the modernc database/sql driver name
	Driver = "sqlite"
	// Memory is the DSN of a private in-memory database
	Memory = ":memory:"
)

// Schemes accepted besides "sqlite".
var Schemes = []string{"sqlite3"}

// Path extracts the database path from a URL. Accepted forms are
// sqlite:///abs/file.db, sqlite://rel/file.db, sqlite:file.db and
// sqlite::memory:. The URL's query string is kept as driver parameters.
func Path(u *url.URL) (string, error) {
	var p string
	switch {
	case u.Opaque != "":
		p = u.Opaque
	default:
		p = u.Host + u.Path
	}
	if p == "" {
		return "", errors.New(errors.ErrorTypeParse, "sqlite URL has no database path")
	}
	return p, nil
}

// Options returns sqldb options for the database at path.
func Options(path string, cfg *config.Config, log *zap.Logger) sqldb.Options {
	cfg = config.OrDefault(cfg)
	maxConns := cfg.Performance.MaxConnections
	if isMemory(path) {
		// every connection would otherwise see its own empty database
		maxConns = 1
	}
	return sqldb.Options{
		Family:         Family,
		Driver:         Driver,
		DSN:            path,
		Dialect:        types.SQLite,
		Style:          query.ANSI,
		MaxConns:       maxConns,
		ConnectTimeout: cfg.Timeouts.Connect,
		QueryTimeout:   cfg.Timeouts.Query,
		Logger:         log,
	}
}

// Open opens the database file at path, which must exist, or an in-memory
// database.
func Open(ctx context.Context, path string, cfg *config.Config, log *zap.Logger) (*sqldb.Builder, error) {
	if !isMemory(path) {
		file := path
		if i := strings.IndexByte(file, '?'); i >= 0 {
			file = file[:i]
		}
		if _, err := os.Stat(file); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFileNotFound, "sqlite database not found").
				WithDetail("path", file)
		}
	}
	return sqldb.Open(ctx, Options(path, cfg, log))
}

// OpenMemory opens a private in-memory database on a single connection.
func OpenMemory(ctx context.Context, log *zap.Logger) (*sqldb.Builder, error) {
	return sqldb.Open(ctx, Options(Memory, nil, log))
}

func isMemory(path string) bool {
	return path == Memory || strings.Contains(path, "mode=memory")
}

func openURL(ctx context.Context, u *url.URL, cfg *config.Config) (*sqldb.Builder, error) {
	p, err := Path(u)
	if err != nil {
		return nil, err
	}
	if u.RawQuery != "" {
		p += "?" + u.RawQuery
	}
	return Open(ctx, p, cfg, nil)
}
