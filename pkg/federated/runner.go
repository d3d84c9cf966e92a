package federated

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/ajitpratap0/quarry/pkg/config"
	"github.com/ajitpratap0/quarry/pkg/connector/core"
	arrowdst "github.com/ajitpratap0/quarry/pkg/connector/destinations/arrow"
	"github.com/ajitpratap0/quarry/pkg/connector/registry"
	"github.com/ajitpratap0/quarry/pkg/connector/sources/sqlite"
	"github.com/ajitpratap0/quarry/pkg/dispatcher"
	"github.com/ajitpratap0/quarry/pkg/errors"
	"github.com/ajitpratap0/quarry/pkg/logger"
	"github.com/ajitpratap0/quarry/pkg/metrics"
	"github.com/ajitpratap0/quarry/pkg/observability"
	"github.com/ajitpratap0/quarry/pkg/types"
)

// Result is the output of a federated run. It owns its records.
type Result struct {
	Schema  types.Schema
	Records []arrow.Record
}

// NumRows returns the total row count.
func (r *Result) NumRows() int {
	n := 0
	for _, rec := range r.Records {
		n += int(rec.NumRows())
	}
	return n
}

// Release releases every record.
func (r *Result) Release() {
	for _, rec := range r.Records {
		rec.Release()
	}
	r.Records = nil
}

// Runner executes federated queries.
type Runner struct {
	planner  Planner
	registry *registry.Registry
	cfg      *config.Config
	workers  int
	alloc    memory.Allocator
	logger   *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithPlanner fixes the planner. Without it each run picks an HTTPPlanner
// when a planner URL is configured, else a ProcessPlanner over the resolved
// bundle.
func WithPlanner(p Planner) Option { return func(r *Runner) { r.planner = p } }

// WithRegistry sets the registry that opens remote sources.
func WithRegistry(reg *registry.Registry) Option { return func(r *Runner) { r.registry = reg } }

// WithConfig sets the configuration passed to sources and dispatchers.
func WithConfig(cfg *config.Config) Option { return func(r *Runner) { r.cfg = cfg } }

// WithWorkers bounds concurrently executing remote plans.
func WithWorkers(n int) Option { return func(r *Runner) { r.workers = n } }

// WithAllocator sets the arrow allocator of every result.
func WithAllocator(a memory.Allocator) Option { return func(r *Runner) { r.alloc = a } }

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option { return func(r *Runner) { r.logger = l } }

// NewRunner creates a runner.
func NewRunner(opts ...Option) *Runner {
	r := &Runner{}
	for _, opt := range opts {
		opt(r)
	}
	r.cfg = config.OrDefault(r.cfg)
	if r.registry == nil {
		r.registry = registry.GetRegistry()
	}
	if r.workers <= 0 {
		r.workers = r.cfg.Performance.FederatedWorkers
	}
	if r.alloc == nil {
		r.alloc = memory.DefaultAllocator
	}
	if r.logger == nil {
		r.logger = logger.Get()
	}
	r.logger = r.logger.With(zap.String("component", "federated"))
	return r
}

// Run rewrites sql over the databases in dbMap, runs every remote plan, and
// returns the result of the LOCAL plan. Without a LOCAL plan the remote
// results are returned in plan order.
func (r *Runner) Run(ctx context.Context, sql string, dbMap map[string]string, bundle string) (*Result, error) {
	planner, err := r.plannerFor(bundle)
	if err != nil {
		return nil, err
	}

	urls := make(map[string]*url.URL, len(dbMap))
	for alias, raw := range dbMap {
		u, err := registry.ParseURL(raw)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeParse, fmt.Sprintf("database %s", alias))
		}
		urls[alias] = u
	}

	start := time.Now()
	plans, err := planner.Rewrite(ctx, sql, urls)
	if err != nil {
		return nil, errors.Internal(err)
	}
	if err := validate(plans, urls); err != nil {
		return nil, err
	}
	r.logger.Info("query rewritten", zap.Int("plans", len(plans)), zap.Duration("duration", time.Since(start)))

	var local *Plan
	remote := make([]Plan, 0, len(plans))
	for i := range plans {
		if plans[i].IsLocal() {
			local = &plans[i]
			continue
		}
		remote = append(remote, plans[i])
	}

	results, err := r.runRemote(ctx, remote, dbMap)
	if err != nil {
		return nil, err
	}
	if local == nil {
		out := &Result{}
		for _, res := range results {
			if out.Schema == nil {
				out.Schema = res.Schema()
			}
			out.Records = append(out.Records, res.Records()...)
		}
		return out, nil
	}
	defer func() {
		for _, res := range results {
			res.Release()
		}
	}()
	return r.runLocal(ctx, *local, remote, results)
}

func (r *Runner) plannerFor(bundle string) (Planner, error) {
	if r.planner != nil {
		return r.planner, nil
	}
	if r.cfg.Federated.PlannerURL != "" {
		return NewHTTPPlanner(r.cfg.Federated.PlannerURL, r.cfg), nil
	}
	path, err := ResolveBundle(bundle, r.cfg)
	if err != nil {
		return nil, err
	}
	return NewProcessPlanner(path, r.cfg), nil
}

// runRemote runs every plan on the worker pool. The first failure cancels
// the rest; on failure every finished result is released.
func (r *Runner) runRemote(ctx context.Context, plans []Plan, dbMap map[string]string) ([]*arrowdst.Result, error) {
	results := make([]*arrowdst.Result, len(plans))
	if len(plans) == 0 {
		return results, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu       sync.Mutex
		firstErr error
		wg       sync.WaitGroup
	)
	fail := func(err error) {
		mu.Lock()
		if firstErr == nil {
			firstErr = err
			cancel()
		}
		mu.Unlock()
	}

	pool, err := ants.NewPool(r.workers, ants.WithPanicHandler(func(v any) {
		r.logger.Error("federated plan panicked", zap.Any("panic", v))
		fail(errors.Newf(errors.ErrorTypeInternal, "federated plan panicked: %v", v))
	}))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to create plan pool")
	}
	defer pool.Release()

	for i := range plans {
		i := i
		wg.Add(1)
		err := pool.Submit(func() {
			defer wg.Done()
			if ctx.Err() != nil {
				return
			}
			res, err := r.runPlan(ctx, plans[i], dbMap[plans[i].Target])
			if err != nil {
				fail(err)
				return
			}
			results[i] = res
		})
		if err != nil {
			wg.Done()
			fail(errors.Wrap(err, errors.ErrorTypeInternal, "failed to schedule plan"))
			break
		}
	}
	wg.Wait()

	if firstErr == nil && ctx.Err() != nil {
		firstErr = errors.Wrap(ctx.Err(), errors.ErrorTypeAborted, "federated run cancelled")
	}
	if firstErr != nil {
		for _, res := range results {
			if res != nil {
				res.Release()
			}
		}
		return nil, firstErr
	}
	return results, nil
}

// runPlan runs one remote plan as an independent dispatcher run.
func (r *Runner) runPlan(ctx context.Context, p Plan, rawURL string) (res *arrowdst.Result, err error) {
	ctx, span := observability.StartPlan(ctx, p.Target)
	defer func() {
		metrics.FederatedPlans.WithLabelValues("remote", metrics.Outcome(err)).Inc()
		observability.End(span, err)
	}()

	log := r.logger.With(zap.String("target", p.Target))
	src, err := r.registry.OpenSource(ctx, rawURL, r.cfg)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	out, err := r.dispatch(ctx, src, p.SQL, log)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), fmt.Sprintf("plan for %s failed", p.Target))
	}
	log.Debug("plan finished", zap.Int("rows", out.NumRows()))
	return out, nil
}

func (r *Runner) dispatch(ctx context.Context, src core.SourceBuilder, sql string, log *zap.Logger) (*arrowdst.Result, error) {
	d, err := dispatcher.New(src, arrowdst.NewArrowDestination(r.alloc), []string{sql}, nil,
		dispatcher.WithConfig(r.cfg), dispatcher.WithLogger(log))
	if err != nil {
		return nil, err
	}
	res, err := d.RunChecked(ctx)
	if err != nil {
		return nil, err
	}
	return res.(*arrowdst.Result), nil
}

// runLocal registers the remote results in an in-memory database and runs
// the recombination plan against it.
func (r *Runner) runLocal(ctx context.Context, local Plan, remote []Plan, results []*arrowdst.Result) (res *Result, err error) {
	ctx, span := observability.StartPlan(ctx, Local)
	defer func() {
		metrics.FederatedPlans.WithLabelValues("local", metrics.Outcome(err)).Inc()
		observability.End(span, err)
	}()

	mem, err := sqlite.OpenMemory(ctx, r.logger)
	if err != nil {
		return nil, err
	}
	defer mem.Close()

	c, err := mem.DB().Conn(ctx)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to open local database")
	}
	attached := make(map[string]bool)
	for i, p := range remote {
		if err := register(ctx, c, p, results[i].Schema(), results[i].Records(), attached); err != nil {
			c.Close()
			return nil, err
		}
	}
	// return the only connection to the pool for the dispatcher
	if err := c.Close(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "failed to release local connection")
	}

	out, err := r.dispatch(ctx, mem, local.SQL, r.logger.With(zap.String("target", Local)))
	if err != nil {
		return nil, err
	}
	r.logger.Info("federated query finished", zap.Int("rows", out.NumRows()), zap.Int("remote_plans", len(remote)))
	return &Result{Schema: out.Schema(), Records: out.Records()}, nil
}
