package sqlexec

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/insightflow/insightflow/cache"
	"github.com/insightflow/insightflow/source"
	"github.com/insightflow/insightflow/sqlexec/dialect"
)

// Config tunes the executor facade.
type Config struct {
	// DefaultLimit rows are injected into unlimited queries.
	DefaultLimit int

	// LRUCapacity and LRUTTL shape the in-process cache.
	LRUCapacity int
	LRUTTL      time.Duration

	// ScopedTTL is the shared-cache entry lifetime.
	ScopedTTL time.Duration

	// SampleThreshold, SampleHead and SampleTail override the default
	// head/tail sampling bounds.
	SampleThreshold int
	SampleHead      int
	SampleTail      int

	// EmbeddedMaxRows and BigDataMinRows override the engine-selection
	// row thresholds.
	EmbeddedMaxRows int64
	BigDataMinRows  int64

	Logger *slog.Logger
}

// Executor routes requests through analysis, selection, dialect rewriting,
// the two-tier cache, and finally an engine.
type Executor struct {
	engines map[Kind]Engine
	lru     *cache.LRU
	scoped  *cache.Scoped
	cfg     Config
	logger  *slog.Logger
}

// New assembles an executor over the given engines. scoped may be nil when
// no shared cache is deployed.
func New(cfg Config, scoped *cache.Scoped, engines ...Engine) *Executor {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = dialect.DefaultLimit
	}
	if cfg.ScopedTTL <= 0 {
		cfg.ScopedTTL = 30 * time.Minute
	}
	if cfg.SampleThreshold <= 0 {
		cfg.SampleThreshold = SampleThreshold
	}
	if cfg.SampleHead <= 0 {
		cfg.SampleHead = SampleHead
	}
	if cfg.SampleTail <= 0 {
		cfg.SampleTail = SampleTail
	}
	if cfg.EmbeddedMaxRows <= 0 {
		cfg.EmbeddedMaxRows = EmbeddedMaxRows
	}
	if cfg.BigDataMinRows <= 0 {
		cfg.BigDataMinRows = BigDataMinRows
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	byKind := make(map[Kind]Engine, len(engines))
	for _, e := range engines {
		byKind[e.Kind()] = e
	}
	return &Executor{
		engines: byKind,
		lru:     cache.NewLRU(cfg.LRUCapacity, cfg.LRUTTL),
		scoped:  scoped,
		cfg:     cfg,
		logger:  logger,
	}
}

// Execute runs one request end to end. The returned Result is always
// non-nil on success; classified failures come back as *Error.
func (x *Executor) Execute(ctx context.Context, req Request) (*Result, error) {
	if req.SQL == "" {
		return nil, &Error{Class: ClassSyntax, Message: "empty SQL statement"}
	}
	if req.Source == nil {
		return nil, &Error{Class: ClassPermanent, Message: "request has no data source"}
	}
	if err := CheckReadOnly(req.SQL); err != nil {
		return nil, err
	}

	analysis := Analyze(req.SQL, req.Source)
	kind := selectKind(analysis, req.Source, req.Engine, x.cfg.EmbeddedMaxRows, x.cfg.BigDataMinRows)

	rewritten := x.rewrite(kind, req)
	req.SQL = rewritten

	key := cache.Key(req.Scope, req.Source.ID, string(kind), req.Optimize, rewritten)
	if res, ok := x.lookup(ctx, key); ok {
		x.logger.Debug("query served from cache", "engine", kind, "source", req.Source.ID)
		return res, nil
	}

	eng, err := x.pick(ctx, kind, req.Source)
	if err != nil {
		return nil, err
	}

	res, err := eng.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	sampleN(res, x.cfg.SampleThreshold, x.cfg.SampleHead, x.cfg.SampleTail)
	x.store(ctx, key, res)
	return res, nil
}

// rewrite applies the dialect adapter for the engine and injects the
// default limit. The aggregation engine consumes raw SQL and converts it
// itself.
func (x *Executor) rewrite(kind Kind, req Request) string {
	if kind == KindAggregation {
		return req.SQL
	}
	adapter := adapterFor(kind, req.Source, req.Dialect)
	out := adapter.Rewrite(req.SQL)
	return dialect.InjectLimit(out, x.cfg.DefaultLimit)
}

func adapterFor(kind Kind, desc *source.Descriptor, hint string) dialect.Adapter {
	switch kind {
	case KindEmbedded, KindDataFrame:
		return dialect.Get("sqlite")
	case KindBigData:
		return dialect.Get("clickhouse")
	case KindDirectSQL:
		if desc != nil && desc.SubKind != "" {
			return dialect.Get(desc.SubKind)
		}
	}
	return dialect.Get(hint)
}

// pick resolves the engine, trying the legal fallback when the selected one
// is down.
func (x *Executor) pick(ctx context.Context, kind Kind, desc *source.Descriptor) (Engine, error) {
	eng, ok := x.engines[kind]
	if ok && eng.Available(ctx) {
		return eng, nil
	}
	fallback := Fallback(kind, desc)
	if fb, ok := x.engines[fallback]; fallback != "" && ok && fb.Available(ctx) {
		x.logger.Warn("engine unavailable, falling back", "selected", kind, "fallback", fallback)
		return fb, nil
	}
	return nil, &Error{
		Class:   ClassUnavailable,
		Engine:  kind,
		Message: "no execution engine available for this query",
	}
}

func (x *Executor) lookup(ctx context.Context, key string) (*Result, bool) {
	if payload, ok := x.scoped.Get(ctx, key); ok {
		if res := decodeResult(payload); res != nil {
			res.Cached = true
			return res, true
		}
	}
	if payload, ok := x.lru.Get(key); ok {
		if res := decodeResult(payload); res != nil {
			res.Cached = true
			return res, true
		}
	}
	return nil, false
}

func (x *Executor) store(ctx context.Context, key string, res *Result) {
	payload, err := json.Marshal(res)
	if err != nil {
		return
	}
	x.scoped.Set(ctx, key, payload, x.cfg.ScopedTTL)
	x.lru.Set(key, payload)
}

func decodeResult(payload []byte) *Result {
	var res Result
	if err := json.Unmarshal(payload, &res); err != nil {
		return nil
	}
	return &res
}

// ExecuteParallel runs requests concurrently and returns results in request
// order. A failed request yields a Result with Success false and the
// classified message; one failure never hides the others.
func (x *Executor) ExecuteParallel(ctx context.Context, reqs []Request) []*Result {
	results := make([]*Result, len(reqs))
	var wg sync.WaitGroup
	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req Request) {
			defer wg.Done()
			res, err := x.Execute(ctx, req)
			if err != nil {
				results[i] = &Result{
					Success: false,
					Engine:  req.Engine,
					Error:   err.Error(),
				}
				return
			}
			results[i] = res
		}(i, req)
	}
	wg.Wait()
	return results
}
