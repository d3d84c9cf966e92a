// Package transport binds a source family to a destination family through a
// table of per-DataType conversions. Binding happens once, at dispatcher
// construction; afterwards each cell is converted by a direct call through
// the bound per-column slice.
package transport

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ajitpratap0/quarry/pkg/connector/core"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// Convert writes one canonical value into cell (row, col) of w.
type Convert func(w core.Writer, row, col int, v types.Value) error

// Table maps each source DataType to its conversion.
type Table map[types.DataType]Convert

// Pair identifies a (source family, destination family) combination.
type Pair struct {
	Source      string
	Destination string
}

func (p Pair) String() string { return p.Source + "->" + p.Destination }

// Transport is an immutable conversion table for one Pair. It performs no
// I/O and is shared by every worker of a run.
type Transport struct {
	pair        Pair
	conversions Table
}

// New copies table into a Transport.
func New(source, destination string, table Table) *Transport {
	conv := make(Table, len(table))
	for dt, fn := range table {
		conv[dt] = fn
	}
	return &Transport{pair: Pair{Source: source, Destination: destination}, conversions: conv}
}

// Pair returns the families this transport converts between.
func (t *Transport) Pair() Pair { return t.pair }

// Supports reports whether dt has a conversion.
func (t *Transport) Supports(dt types.DataType) bool {
	_, ok := t.conversions[dt]
	return ok
}

// Bind resolves one converter per schema column. produces lists every type
// the source may emit; a missing conversion for any of them, or for any
// schema column, is an ErrorTypeUnsupportedType error.
func (t *Transport) Bind(schema types.Schema, produces []types.DataType) ([]Convert, error) {
	for _, dt := range produces {
		if !t.Supports(dt) {
			return nil, errors.Newf(errors.ErrorTypeUnsupportedType,
				"transport %s has no conversion for source type %s", t.pair, dt)
		}
	}
	out := make([]Convert, len(schema))
	for i, c := range schema {
		fn, ok := t.conversions[c.Type]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeUnsupportedType,
				"transport %s has no conversion for column %q of type %s", t.pair, c.Name, c.Type)
		}
		out[i] = fn
	}
	return out, nil
}

var (
	mu       sync.RWMutex
	registry = map[Pair]*Transport{}
)

// Register installs table for pair, replacing any previous entry.
func Register(pair Pair, table Table) {
	mu.Lock()
	defer mu.Unlock()
	registry[pair] = New(pair.Source, pair.Destination, table)
}

// Lookup returns the transport registered for (source, destination).
func Lookup(source, destination string) (*Transport, error) {
	mu.RLock()
	defer mu.RUnlock()
	t, ok := registry[Pair{Source: source, Destination: destination}]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeUnsupportedType,
			"no transport registered from %s to %s", source, destination)
	}
	return t, nil
}

// Registered lists every registered pair, sorted.
func Registered() []Pair {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]Pair, 0, len(registry))
	for p := range registry {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Standard returns identity conversions for every DataType. Non-null types
// reject NULL values with an ErrorTypeData error.
func Standard() Table {
	t := make(Table, len(types.All))
	for _, dt := range types.All {
		t[dt] = identity(dt)
	}
	return t
}

func identity(dt types.DataType) Convert {
	var put Convert
	switch dt.Kind {
	case types.KindU64:
		put = func(w core.Writer, row, col int, v types.Value) error { return w.PutU64(row, col, v.U64) }
	case types.KindF64:
		put = func(w core.Writer, row, col int, v types.Value) error { return w.PutF64(row, col, v.F64) }
	case types.KindBool:
		put = func(w core.Writer, row, col int, v types.Value) error { return w.PutBool(row, col, v.Bool) }
	case types.KindString:
		put = func(w core.Writer, row, col int, v types.Value) error { return w.PutString(row, col, v.Str) }
	default:
		panic(fmt.Sprintf("transport: no identity conversion for %s", dt))
	}
	return func(w core.Writer, row, col int, v types.Value) error {
		if !v.Valid {
			if dt.Nullable {
				return w.PutNull(row, col)
			}
			return errors.Newf(errors.ErrorTypeData, "NULL in non-nullable %s column %d", dt, col)
		}
		if v.Kind != dt.Kind {
			return errors.Newf(errors.ErrorTypeData, "%s value in %s column %d", v.Kind, dt, col)
		}
		return put(w, row, col, v)
	}
}

// Families of the shipped sources and destinations.
var (
	SourceFamilies      = []string{"postgresql", "mysql", "sqlite", "snowflake", "bigquery"}
	DestinationFamilies = []string{"arrow", "frame"}
)

func init() {
	for _, src := range SourceFamilies {
		for _, dst := range DestinationFamilies {
			Register(Pair{Source: src, Destination: dst}, Standard())
		}
	}
}
