package visq

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/visq/visq/blobstore"
	"github.com/visq/visq/cache"
	"github.com/visq/visq/compdata"
	"github.com/visq/visq/engine"
	"github.com/visq/visq/model"
	"github.com/visq/visq/query"
	"github.com/visq/visq/results"
	"github.com/visq/visq/rpc"
)

// ErrNoEngines is returned by New when no backend engine was registered.
var ErrNoEngines = errors.New("visq: at least one engine must be configured")

// Orchestrator is the entry point of the frontend core: it deduplicates
// and dispatches queries onto a worker pool, tracks their status, and owns
// the result and artifact caches.
//
// Construct with New; all methods are safe for concurrent use.
type Orchestrator struct {
	// mu spans the lookup-and-create section of StartQuery, so two callers
	// racing on the same signature observe one worker.
	mu      sync.Mutex
	workers map[int]*Worker

	engine   *engine.Engine
	pool     *engine.WorkerPool
	results  *results.Cache
	compdata *compdata.Cache
	excludes *cache.ExcludeList

	log *Logger
}

// New creates an Orchestrator from the given options. At least one engine
// must be registered via WithEngine.
func New(opts ...Option) (*Orchestrator, error) {
	o := options{
		engines:  make(map[string]EngineConfig),
		backends: make(map[string]rpc.Backend),
		logger:   NoopLogger(),
	}
	for _, fn := range opts {
		fn(&o)
	}
	if len(o.engines) == 0 {
		return nil, ErrNoEngines
	}

	backends := make(map[string]rpc.Backend, len(o.engines))
	engineInfos := make(map[string]engine.Info, len(o.engines))
	compdataEngines := make(map[string]compdata.EngineInfo, len(o.engines))
	for name, cfg := range o.engines {
		backend, ok := o.backends[name]
		if !ok {
			backend = rpc.NewClient(rpc.Config{
				Host:        cfg.Host,
				Port:        cfg.Port,
				Timeout:     o.rpcTimeout,
				ChunkSize:   o.rpcChunkSize,
				DialLimiter: o.dialLimiter,
				Logger:      o.logger.Logger,
			})
		}
		backends[name] = backend
		engineInfos[name] = engine.Info{
			Backend:           backend,
			DownloadsDisabled: cfg.DownloadsDisabled,
		}
		pattern := cfg.ClassifierPattern
		if pattern == "" {
			pattern = "${query_strid}.clf"
		}
		compdataEngines[name] = compdata.EngineInfo{ClassifierPattern: pattern}
	}

	excludes := cache.NewExcludeList(o.excludeLifetime)

	resultStore := o.resultStore
	if resultStore == nil && o.resultsDir != "" {
		local, err := blobstore.NewLocal(o.resultsDir)
		if err != nil {
			return nil, fmt.Errorf("visq: result store: %w", err)
		}
		resultStore = local
	}

	resultCache := results.New(results.Config{
		Store:           resultStore,
		MemLimit:        o.memLimit,
		SessionLifetime: o.sessionLifetime,
		EnabledTiers:    o.enabledTiers,
		ExcludedTiers:   o.excludedTiers,
		Excludes:        excludes,
		Logger:          o.logger.Logger,
	})

	compdataCache := compdata.New(compdata.Config{
		Paths:        o.paths,
		Engines:      compdataEngines,
		Adapter:      engine.NewAdapter(backends),
		Excludes:     excludes,
		DisableCache: o.disableCache,
		Archive:      o.archive,
		Logger:       o.logger.Logger,
	})

	eng := engine.New(engine.Config{
		Engines:    engineInfos,
		CompData:   compdataCache,
		Results:    resultCache,
		Excludes:   excludes,
		Downloader: o.downloader,
		Opts:       o.processOpts,
		Logger:     o.logger.Logger,
	})

	return &Orchestrator{
		workers:  make(map[int]*Worker),
		engine:   eng,
		pool:     engine.NewWorkerPool(o.poolWorkers),
		results:  resultCache,
		compdata: compdataCache,
		excludes: excludes,
		log:      o.logger,
	}, nil
}

// StartQuery starts executing q, or returns the status of the live worker
// already executing an identical query. N concurrent starts of the same
// query produce exactly one backend execution.
//
// forceNewWorker abandons the existing worker and starts over; use it when
// a worker is presumed stuck. A backend failure while allocating the query
// id is reported as a terminal error status, not an error.
func (o *Orchestrator) StartQuery(ctx context.Context, q query.Query, userSesID string, forceNewWorker bool) (Status, error) {
	o.mu.Lock()

	sig := q.Signature()
	for qid, w := range o.workers {
		if w.signature != sig {
			continue
		}
		if !forceNewWorker {
			st := w.Status()
			o.mu.Unlock()
			return st, nil
		}
		// The old worker keeps running to completion; only its tracking
		// entry goes away.
		delete(o.workers, qid)
		break
	}

	qid, err := o.engine.GetQueryID(ctx, q.Engine, q.Dsetname)
	if err != nil {
		o.mu.Unlock()
		o.log.Warn("query id allocation failed", "engine", q.Engine, "error", err)
		return Status{
			Query:  q,
			State:  query.StateFatalError,
			ErrMsg: err.Error(),
		}, nil
	}

	worker := newWorker(qid, q)
	o.workers[qid] = worker

	// Submission can block on a saturated pool, so it happens outside the
	// lock; the worker is already registered and deduplicates racing starts.
	o.mu.Unlock()

	// Execution outlives the caller's request context.
	err = o.pool.Submit(ctx, func() {
		_ = o.engine.Process(context.Background(), q, qid, worker, userSesID)
	})
	if err != nil {
		o.mu.Lock()
		delete(o.workers, qid)
		o.mu.Unlock()
		return Status{}, err
	}

	return worker.Status(), nil
}

// Status returns the current status of the worker with the given backend
// query id. Unknown ids are an error; ids disappear once their result has
// been retrieved.
func (o *Orchestrator) Status(qid int) (Status, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	w, ok := o.workers[qid]
	if !ok {
		return Status{}, &engine.QueryIDError{Msg: fmt.Sprintf("query id %d is invalid", qid)}
	}
	return w.Status(), nil
}

// StatusFromDefinition looks up a live worker executing a query identical
// to q. The boolean is false when there is none; callers poll, so a miss
// is not an error.
func (o *Orchestrator) StatusFromDefinition(q query.Query) (Status, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	sig := q.Signature()
	for _, w := range o.workers {
		if w.signature == sig {
			return w.Status(), true
		}
	}
	return Status{}, false
}

// Result retrieves the ranked results of a finished query, stores them in
// the result cache and frees the worker. Valid only once per query id and
// only in the results-ready state; concurrent and repeated calls error
// because the worker no longer exists. A fetch failure also frees the
// worker, since its backend query id has already been released.
func (o *Orchestrator) Result(ctx context.Context, st Status, querySesID, userSesID string) ([]model.RankItem, error) {
	o.mu.Lock()
	w, ok := o.workers[st.QID]
	if !ok {
		o.mu.Unlock()
		return nil, &engine.QueryIDError{Msg: fmt.Sprintf("query id %d is invalid", st.QID)}
	}
	if current := w.Status(); current.State != query.StateResultsReady {
		o.mu.Unlock()
		return nil, fmt.Errorf("visq: results of query id %d are not ready", st.QID)
	}
	// Claiming the worker before fetching keeps retrieval single-shot even
	// under concurrent callers.
	delete(o.workers, st.QID)
	o.mu.Unlock()

	rlist, err := o.engine.ReleaseAndFetch(ctx, w.q.Engine, st.QID)
	if err != nil {
		return nil, err
	}

	o.results.Add(ctx, rlist, w.q, querySesID, userSesID)
	return rlist, nil
}

// SelfTest checks that the named backend engine is reachable.
func (o *Orchestrator) SelfTest(ctx context.Context, engineName string) error {
	return o.engine.SelfTest(ctx, engineName)
}

// Results exposes the result cache, for cache management endpoints.
func (o *Orchestrator) Results() *results.Cache { return o.results }

// CompData exposes the artifact cache, for cache management endpoints.
func (o *Orchestrator) CompData() *compdata.Cache { return o.compdata }

// Excludes exposes the per-session exclude list.
func (o *Orchestrator) Excludes() *cache.ExcludeList { return o.excludes }

// Close stops the worker pool and waits for background cache writes.
// In-flight queries finish; queued ones are dropped.
func (o *Orchestrator) Close() {
	o.pool.Close()
	o.results.Flush()
	o.compdata.Flush()
}
