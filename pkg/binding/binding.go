// Package binding is the boundary used by host-language shims. Results are
// kept in a process-wide handle table and referenced by opaque integers;
// every error crossing the boundary is flattened into *Error.
package binding

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/destinations"
	"github.com/ajitpratap0/quarry/pkg/connector/destinations/frame"
	"github.com/ajitpratap0/quarry/pkg/connector/registry"
	_ "github.com/ajitpratap0/quarry/pkg/connector/sources"
	"github.com/ajitpratap0/quarry/pkg/dispatcher"
	"github.com/ajitpratap0/quarry/pkg/federated"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// Error is the only error type returned across the boundary.
type Error struct {
	Message string
}

func (e *Error) Error() string { return e.Message }

func flatten(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Message: err.Error()}
}

// Handle references a result in the handle table. Zero is never issued.
type Handle uint64

var table = struct {
	mu   sync.RWMutex
	next atomic.Uint64
	data map[Handle]any
}{data: make(map[Handle]any)}

func store(v any) Handle {
	h := Handle(table.next.Add(1))
	table.mu.Lock()
	table.data[h] = v
	table.mu.Unlock()
	return h
}

// Get returns the result behind h: a *frame.Frame for Load handles and a
// *federated.Result for Federate handles.
func Get(h Handle) (any, error) {
	table.mu.RLock()
	v, ok := table.data[h]
	table.mu.RUnlock()
	if !ok {
		return nil, &Error{Message: fmt.Sprintf("unknown handle %d", h)}
	}
	return v, nil
}

// Frame returns the frame behind a Load handle.
func Frame(h Handle) (*frame.Frame, error) {
	v, err := Get(h)
	if err != nil {
		return nil, err
	}
	f, ok := v.(*frame.Frame)
	if !ok {
		return nil, &Error{Message: fmt.Sprintf("handle %d is not a frame", h)}
	}
	return f, nil
}

// Release drops h and frees the memory it holds. Releasing an unknown
// handle is a no-op.
func Release(h Handle) {
	table.mu.Lock()
	v, ok := table.data[h]
	delete(table.data, h)
	table.mu.Unlock()
	if r, isFed := v.(*federated.Result); ok && isFed {
		r.Release()
	}
}

// Live returns the number of unreleased handles.
func Live() int {
	table.mu.RLock()
	defer table.mu.RUnlock()
	return len(table.data)
}

// Columns names n result columns positionally.
func Columns(n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("col_%d", i)
	}
	return names
}

// Load runs queries against connString into a frame. typeNames declares
// the result columns using the frame mapping names, e.g. "uint64" or "Float64".
func Load(ctx context.Context, connString string, queries []string, typeNames []string, cfg *config.Config) (Handle, error) {
	h, err := load(ctx, connString, queries, typeNames, cfg)
	return h, flatten(err)
}

func load(ctx context.Context, connString string, queries []string, typeNames []string, cfg *config.Config) (Handle, error) {
	dts, err := types.FrameMapping.ParseAll(typeNames)
	if err != nil {
		return 0, err
	}
	schema, err := types.NewSchema(Columns(len(dts)), dts)
	if err != nil {
		return 0, err
	}

	src, err := registry.OpenSource(ctx, connString, cfg)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := destinations.New(frame.Family, cfg)
	if err != nil {
		return 0, err
	}
	log := logger.Get().With(zap.String("component", "binding"))
	d, err := dispatcher.New(src, dst, queries, schema,
		dispatcher.WithConfig(cfg), dispatcher.WithLogger(log))
	if err != nil {
		return 0, err
	}
	res, err := d.RunChecked(ctx)
	if err != nil {
		return 0, err
	}
	if f, ok := res.(*frame.Frame); ok {
		log.Debug("frame loaded", zap.Int("rows", f.NumRows()), zap.Int64("bytes", f.MemoryUsage()))
	}
	return store(res), nil
}

// Federate runs a federated query and stores its record batches.
func Federate(ctx context.Context, sql string, dbMap map[string]string, bundle string, cfg *config.Config) (Handle, error) {
	r := federated.NewRunner(federated.WithConfig(cfg))
	res, err := r.Run(ctx, sql, dbMap, bundle)
	if err != nil {
		return 0, flatten(err)
	}
	return store(res), nil
}
