// Package federated runs one query across several databases. An external
// planner rewrites the query into per-database plans plus a LOCAL
// recombination plan; each database plan runs as its own dispatcher run,
// the results are registered as tables in an in-memory SQLite database, and
// the LOCAL plan runs against them.
package federated

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/ajitpratap0/quarry/pkg/errors"
)

// Local is the target of the recombination plan.
const Local = "LOCAL"

// Plan is one rewritten query. Target is a database alias from the caller's
// map, or Local.
type Plan struct {
	Target string `json:"db_name"`
	Alias  string `json:"alias,omitempty"`
	SQL    string `json:"sql"`
}

// IsLocal reports whether p is the recombination plan.
func (p Plan) IsLocal() bool { return p.Target == Local }

func (p Plan) String() string {
	return fmt.Sprintf("%s: %s", p.Target, p.SQL)
}

// Planner rewrites a federated query into plans. Implementations are
// isolated services reached by message passing.
type Planner interface {
	Rewrite(ctx context.Context, sql string, dbMap map[string]*url.URL) ([]Plan, error)
}

// StaticPlanner returns fixed plans.
type StaticPlanner struct {
	Plans []Plan
	Err   error
}

// Rewrite returns a copy of the fixed plans.
func (s StaticPlanner) Rewrite(context.Context, string, map[string]*url.URL) ([]Plan, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return append([]Plan(nil), s.Plans...), nil
}

// DataSource describes one database to the planner as a JDBC source.
type DataSource struct {
	URL      string `json:"url"`
	Driver   string `json:"driver"`
	User     string `json:"user,omitempty"`
	Password string `json:"password,omitempty"`
}

// Request is the planner request document.
type Request struct {
	SQL       string                `json:"sql"`
	Databases map[string]DataSource `json:"databases"`
}

// Response is the planner response document.
type Response struct {
	Plans []Plan `json:"plans"`
	Error string `json:"error,omitempty"`
}

// NewRequest describes every database in dbMap to the planner.
func NewRequest(sql string, dbMap map[string]*url.URL) (*Request, error) {
	req := &Request{SQL: sql, Databases: make(map[string]DataSource, len(dbMap))}
	for alias, u := range dbMap {
		ds, err := JDBCSource(u)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfig, fmt.Sprintf("database %s", alias))
		}
		req.Databases[alias] = ds
	}
	return req, nil
}

// JDBCSource converts a connection URL into the planner's data source form.
func JDBCSource(u *url.URL) (DataSource, error) {
	var ds DataSource
	if u.User != nil {
		ds.User = u.User.Username()
		ds.Password, _ = u.User.Password()
	}

	scheme := strings.SplitN(u.Scheme, "+", 2)[0]
	switch scheme {
	case "postgres", "postgresql":
		ds.URL = fmt.Sprintf("jdbc:postgresql://%s:%s%s", hostOr(u, "localhost"), portOr(u, 5432), u.Path)
		ds.Driver = "org.postgresql.Driver"
	case "mysql", "mariadb":
		ds.URL = fmt.Sprintf("jdbc:mysql://%s:%s%s", hostOr(u, "localhost"), portOr(u, 3306), u.Path)
		ds.Driver = "com.mysql.cj.jdbc.Driver"
	case "sqlite", "sqlite3":
		p := u.Opaque
		if p == "" {
			p = u.Host + u.Path
		}
		ds.URL = "jdbc:sqlite:" + p
		ds.Driver = "org.sqlite.JDBC"
	default:
		return DataSource{}, errors.Newf(errors.ErrorTypeUnsupportedType, "federated queries do not support %s databases", u.Scheme)
	}
	return ds, nil
}

func hostOr(u *url.URL, def string) string {
	if h := u.Hostname(); h != "" {
		return h
	}
	return def
}

func portOr(u *url.URL, def int) string {
	if p := u.Port(); p != "" {
		return p
	}
	return strconv.Itoa(def)
}

// validate checks that every remote target is known and that at most one
// plan is Local.
func validate(plans []Plan, dbMap map[string]*url.URL) error {
	if len(plans) == 0 {
		return errors.New(errors.ErrorTypeQuery, "planner returned no plans")
	}
	locals := 0
	for i, p := range plans {
		if p.IsLocal() {
			locals++
			continue
		}
		if _, ok := dbMap[p.Target]; !ok {
			return errors.Newf(errors.ErrorTypeConfig, "plan %d targets unknown database %q", i, p.Target)
		}
	}
	if locals > 1 {
		return errors.Newf(errors.ErrorTypeQuery, "planner returned %d LOCAL plans", locals)
	}
	return nil
}
