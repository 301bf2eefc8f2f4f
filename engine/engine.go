// Package engine drives the execution of a single query against a backend
// engine: artifact cache probing, feature computation, classifier training
// and ranking. It reports progress through a caller-supplied Progress sink
// and leaves result retrieval to the orchestration layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/visq/visq/cache"
	"github.com/visq/visq/compdata"
	"github.com/visq/visq/model"
	"github.com/visq/visq/query"
	"github.com/visq/visq/results"
	"github.com/visq/visq/rpc"
)

// RfRankType selects how the ranking step works for refinements.
type RfRankType string

const (
	// RfRankFull re-ranks the full dataset.
	RfRankFull RfRankType = "full"

	// RfRankTopN re-ranks only the top N results of the refined query's
	// previous result list.
	RfRankTopN RfRankType = "topn"
)

// Feature detector types understood by the backend.
const (
	FeatDetectorFast     = "fast"
	FeatDetectorAccurate = "accurate"
)

// ProcessOpts tunes query execution.
type ProcessOpts struct {
	RfRankType       RfRankType // default RfRankFull
	RfRankTopN       int        // default 2000
	FeatDetectorType string     // default FeatDetectorFast

	// FeatWorkers bounds concurrent per-image feature computation calls.
	FeatWorkers int // default 4

	// NumPosTrain is how many positive training images to download for a
	// text query.
	NumPosTrain int // default 200
}

func (o *ProcessOpts) fillDefaults() {
	if o.RfRankType == "" {
		o.RfRankType = RfRankFull
	}
	if o.RfRankTopN <= 0 {
		o.RfRankTopN = 2000
	}
	if o.FeatDetectorType == "" {
		o.FeatDetectorType = FeatDetectorFast
	}
	if o.FeatWorkers <= 0 {
		o.FeatWorkers = 4
	}
	if o.NumPosTrain <= 0 {
		o.NumPosTrain = 200
	}
}

// Info describes one configured backend engine.
type Info struct {
	Backend rpc.Backend

	// DownloadsDisabled skips the training-image download step for text
	// queries on this engine.
	DownloadsDisabled bool
}

// Downloader fetches positive training images for a text query into a
// directory and returns the paths of the downloaded files.
type Downloader interface {
	Download(ctx context.Context, text, imageDir string, maxImages int) ([]string, error)
}

// Progress is the sink for worker state updates during query execution.
// Implementations must be safe for concurrent use; pollers read while the
// executing goroutine writes.
type Progress interface {
	SetState(s query.State)
	SetError(msg string)
	AddTrainingImages(paths ...string)
	AddCuratedImages(paths ...string)
	AddNegTrainingCount(n int)
	SetProcessingTime(d time.Duration)
	SetTrainingTime(d time.Duration)
	SetRankingTime(d time.Duration)
}

// Config configures an Engine.
type Config struct {
	Engines  map[string]Info
	CompData *compdata.Cache
	Results  *results.Cache

	// Excludes is the shared per-session exclude list; nil disables
	// exclusion.
	Excludes *cache.ExcludeList

	// Downloader is the text-query image source. Nil disables downloads
	// for every engine.
	Downloader Downloader

	Opts   ProcessOpts
	Logger *slog.Logger
}

// Engine executes queries against the configured backends.
type Engine struct {
	engines    map[string]Info
	compdata   *compdata.Cache
	results    *results.Cache
	excludes   *cache.ExcludeList
	downloader Downloader
	opts       ProcessOpts
	log        *slog.Logger
}

// New creates an Engine from cfg.
func New(cfg Config) *Engine {
	cfg.Opts.fillDefaults()
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		engines:    cfg.Engines,
		compdata:   cfg.CompData,
		results:    cfg.Results,
		excludes:   cfg.Excludes,
		downloader: cfg.Downloader,
		opts:       cfg.Opts,
		log:        log,
	}
}

func (e *Engine) backend(engineName string) (rpc.Backend, error) {
	info, ok := e.engines[engineName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engineName)
	}
	return info.Backend, nil
}

// SelfTest checks that the named backend engine is reachable and healthy.
func (e *Engine) SelfTest(ctx context.Context, engineName string) error {
	backend, err := e.backend(engineName)
	if err != nil {
		return err
	}
	if !backend.SelfTest(ctx) {
		return fmt.Errorf("%w: %q", ErrBackendUnreachable, engineName)
	}
	return nil
}

// GetQueryID allocates a backend query id for a query over dsetname.
func (e *Engine) GetQueryID(ctx context.Context, engineName, dsetname string) (int, error) {
	backend, err := e.backend(engineName)
	if err != nil {
		return 0, err
	}
	qid, err := backend.GetQueryID(ctx, dsetname)
	if err != nil {
		return 0, &QueryIDError{Msg: "could not get a query id from the backend: " + err.Error()}
	}
	return qid, nil
}

func (e *Engine) excluded(q query.Query, userSesID string) bool {
	return e.excludes != nil && e.excludes.Contains(q, userSesID)
}

// Process executes q end to end under the backend query id qid, reporting
// state transitions through progress. On success the worker is left in the
// results-ready state; on failure the terminal error state is set, the
// query's cached artifacts and shared result tiers are destroyed (unless
// the query is excluded) and the error is returned.
func (e *Engine) Process(ctx context.Context, q query.Query, qid int, progress Progress, userSesID string) error {
	err := e.process(ctx, q, qid, progress, userSesID)
	if err == nil {
		progress.SetState(query.StateResultsReady)
		return nil
	}

	// Excluded queries keep whatever artifacts were there before; someone
	// is relying on them. Session-tier results belong to the issuing tab
	// and are left alone either way.
	if !e.excluded(q, userSesID) {
		e.compdata.DeleteCompData(q)
		e.results.Delete(ctx, q, true, results.TierMem|results.TierDisk, "")
	}

	e.log.Error("query execution failed", "query_id", qid, "qtype", string(q.Qtype), "error", err)
	progress.SetError(err.Error())
	progress.SetState(query.StateFatalError)
	return err
}

func (e *Engine) process(ctx context.Context, q query.Query, qid int, progress Progress, userSesID string) error {
	backend, err := e.backend(q.Engine)
	if err != nil {
		return err
	}

	classifierLoaded, err := e.compdata.LoadClassifier(ctx, q, qid, userSesID)
	if err != nil {
		return err
	}

	if classifierLoaded {
		e.log.Info("loaded classifier from cache", "query_id", qid)
	} else {
		annosLoaded, err := e.compdata.LoadAnnotationsAndTrs(ctx, q, qid, userSesID)
		if err != nil {
			// A stale or unreadable annotation file is a miss, recomputed
			// below.
			e.log.Warn("annotations load failed", "query_id", qid, "error", err)
			annosLoaded = false
		}
		if !annosLoaded {
			e.log.Info("computing features", "query_id", qid, "qtype", string(q.Qtype))
			start := time.Now()
			if err := e.computeFeats(ctx, q, qid, progress, userSesID); err != nil {
				return err
			}
			progress.SetProcessingTime(time.Since(start))

			if _, err := e.compdata.SaveAnnotations(ctx, q, qid, userSesID); err != nil {
				return err
			}
		}

		e.log.Info("training classifier", "query_id", qid)
		progress.SetState(query.StateTraining)
		start := time.Now()

		// An excluded query trains from its annotation file, since its
		// training state never reached the shared caches.
		annoPath := ""
		if e.excluded(q, userSesID) {
			if annoPath, err = e.compdata.AnnotationsPath(q); err != nil {
				return err
			}
		}
		if err := backend.Train(ctx, qid, annoPath); err != nil {
			return &ClassifierTrainError{Msg: "could not train classifier: " + err.Error(), cause: err}
		}
		progress.SetTrainingTime(time.Since(start))

		if _, err := e.compdata.SaveClassifier(ctx, q, qid, userSesID); err != nil {
			return err
		}
	}

	return e.rank(ctx, backend, q, qid, progress, userSesID)
}

// rank computes the ranking for q: the full dataset, or the top N entries
// of the refined query's previous result list when configured.
func (e *Engine) rank(ctx context.Context, backend rpc.Backend, q query.Query, qid int, progress Progress, userSesID string) error {
	doRegularRank := false

	switch e.opts.RfRankType {
	case RfRankFull:
		doRegularRank = true

	case RfRankTopN:
		if q.PrevQSID == "" {
			doRegularRank = true
			break
		}
		prevRList, _, _ := e.results.GetByQuerySesID(ctx, q.PrevQSID, userSesID)
		topN := min(e.opts.RfRankTopN, len(prevRList))
		subsetIDs := make([]string, 0, topN)
		for _, item := range prevRList[:topN] {
			subsetIDs = append(subsetIDs, item.Path)
		}

		e.log.Info("re-ranking previous results", "query_id", qid, "prev_qsid", q.PrevQSID, "topn", topN)
		progress.SetState(query.StateRanking)
		start := time.Now()
		if err := backend.Rank(ctx, qid, subsetIDs); err != nil {
			return err
		}
		progress.SetRankingTime(time.Since(start))

	default:
		return fmt.Errorf("engine: unrecognised rf rank type %q", string(e.opts.RfRankType))
	}

	if doRegularRank {
		e.log.Info("computing ranking", "query_id", qid)
		progress.SetState(query.StateRanking)
		start := time.Now()
		if err := backend.Rank(ctx, qid, nil); err != nil {
			return err
		}
		progress.SetRankingTime(time.Since(start))
	}
	return nil
}

// ReleaseAndFetch reads the ranked result list of a finished query and
// releases its backend query id. The release is attempted even when the
// read fails; the id may have been reused by then, so release errors are
// only logged.
func (e *Engine) ReleaseAndFetch(ctx context.Context, engineName string, qid int) ([]model.RankItem, error) {
	backend, err := e.backend(engineName)
	if err != nil {
		return nil, err
	}

	rlist, err := backend.GetRanking(ctx, qid)
	if relErr := backend.ReleaseQueryID(ctx, qid); relErr != nil {
		e.log.Warn("query id release failed", "query_id", qid, "error", relErr)
	}
	if err != nil {
		return nil, &ResultReadError{Msg: "could not read results from the backend", cause: err}
	}
	return rlist, nil
}
