package visq

import (
	"time"

	"golang.org/x/time/rate"

	"github.com/visq/visq/blobstore"
	"github.com/visq/visq/compdata"
	"github.com/visq/visq/compress"
	"github.com/visq/visq/engine"
	"github.com/visq/visq/results"
	"github.com/visq/visq/rpc"
)

// EngineConfig describes one backend engine available to the orchestrator.
type EngineConfig struct {
	Host string
	Port int

	// ClassifierPattern names classifier files for this engine;
	// ${query_strid} is substituted. Defaults to "${query_strid}.clf".
	ClassifierPattern string

	// DownloadsDisabled skips training-image downloads for text queries on
	// this engine.
	DownloadsDisabled bool
}

type options struct {
	engines  map[string]EngineConfig
	backends map[string]rpc.Backend

	paths       compdata.Paths
	processOpts engine.ProcessOpts

	poolWorkers  int
	disableCache bool

	resultsDir      string
	resultStore     blobstore.Store
	memLimit        int
	enabledTiers    results.Tiers
	excludedTiers   results.Tiers
	sessionLifetime time.Duration
	excludeLifetime time.Duration

	archive    blobstore.Store
	downloader engine.Downloader

	rpcTimeout   time.Duration
	rpcChunkSize int
	dialLimiter  *rate.Limiter

	logger *Logger
}

// Option configures an Orchestrator.
type Option func(*options)

// WithEngine registers a backend engine under the given name. At least one
// engine is required.
func WithEngine(name string, cfg EngineConfig) Option {
	return func(o *options) {
		o.engines[name] = cfg
	}
}

// WithBackend overrides the RPC client of an engine, for custom transports
// and tests. The engine must also be registered via WithEngine.
func WithBackend(name string, backend rpc.Backend) Option {
	return func(o *options) {
		o.backends[name] = backend
	}
}

// WithPaths configures the artifact directory roots.
func WithPaths(paths compdata.Paths) Option {
	return func(o *options) {
		o.paths = paths
	}
}

// WithProcessOpts tunes query execution.
func WithProcessOpts(fn func(*engine.ProcessOpts)) Option {
	return func(o *options) {
		fn(&o.processOpts)
	}
}

// WithPoolWorkers sets the size of the query execution pool.
func WithPoolWorkers(n int) Option {
	return func(o *options) {
		o.poolWorkers = n
	}
}

// WithCacheDisabled turns off all artifact caching. Result caching is
// unaffected.
func WithCacheDisabled() Option {
	return func(o *options) {
		o.disableCache = true
	}
}

// WithResultsDir stores disk-tier result lists under dir.
func WithResultsDir(dir string) Option {
	return func(o *options) {
		o.resultsDir = dir
	}
}

// WithResultStore backs the disk result tier with an arbitrary blob store
// instead of a local directory.
func WithResultStore(store blobstore.Store) Option {
	return func(o *options) {
		o.resultStore = store
	}
}

// WithResultTiers sets the tier sets for ordinary and excluded queries.
func WithResultTiers(enabled, excluded results.Tiers) Option {
	return func(o *options) {
		o.enabledTiers = enabled
		o.excludedTiers = excluded
	}
}

// WithMemResultLimit bounds the in-memory result tier.
func WithMemResultLimit(n int) Option {
	return func(o *options) {
		o.memLimit = n
	}
}

// WithSessionLifetime sets the idle lifetime of session-tier results.
func WithSessionLifetime(d time.Duration) Option {
	return func(o *options) {
		o.sessionLifetime = d
	}
}

// WithExcludeListLifetime sets the idle lifetime of per-session exclude
// lists.
func WithExcludeListLifetime(d time.Duration) Option {
	return func(o *options) {
		o.excludeLifetime = d
	}
}

// WithArchive mirrors classifier artifacts to a remote blob store.
func WithArchive(store blobstore.Store) Option {
	return func(o *options) {
		o.archive = store
	}
}

// WithCompressedArchive mirrors classifier artifacts like WithArchive, with
// every blob compressed before upload.
func WithCompressedArchive(store blobstore.Store, comp compress.Compressor) Option {
	return func(o *options) {
		o.archive = blobstore.NewCompressed(store, comp)
	}
}

// WithDownloader supplies the training-image source for text queries.
func WithDownloader(d engine.Downloader) Option {
	return func(o *options) {
		o.downloader = d
	}
}

// WithRPCTimeout bounds each backend round trip.
func WithRPCTimeout(d time.Duration) Option {
	return func(o *options) {
		o.rpcTimeout = d
	}
}

// WithRPCChunkSize sets the socket read size of the backend client.
func WithRPCChunkSize(n int) Option {
	return func(o *options) {
		o.rpcChunkSize = n
	}
}

// WithDialRate caps backend connection attempts per second across all
// callers of one engine.
func WithDialRate(perSecond float64, burst int) Option {
	return func(o *options) {
		o.dialLimiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger configures logging. The default discards all output.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}
