// Package results implements the tiered result cache: ranked result lists
// held in a small in-memory LRU, persisted to a per-dataset blob store and
// mirrored into short-lived per-query-session storage.
//
// Which tiers a request touches depends on whether the query is on the
// exclude list: excluded queries are confined to the tiers configured for
// them (by default none but the session tier is commonly enabled). The
// session tier is keyed by query session id, so only the browser tab that
// issued an excluded query sees its results; the shared tiers stay clean.
// Result lists pass through every tier in backend order; nothing here
// re-sorts them.
package results

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/visq/visq/blobstore"
	"github.com/visq/visq/cache"
	"github.com/visq/visq/codec"
	"github.com/visq/visq/model"
	"github.com/visq/visq/query"
)

// Tiers is a bit set of cache tiers.
type Tiers uint8

const (
	TierMem Tiers = 1 << iota
	TierDisk
	TierSession
)

// Has reports whether t includes tier.
func (t Tiers) Has(tier Tiers) bool { return t&tier != 0 }

const (
	// DefaultMemLimit is the entry limit of the in-memory tier. Result
	// lists can run to the full dataset size, so the tier is deliberately
	// tiny.
	DefaultMemLimit = 5

	// DefaultSessionLifetime is the idle lifetime of the session tier.
	DefaultSessionLifetime = 15 * time.Minute

	// DefaultBackgroundWrites bounds concurrent background disk writes.
	DefaultBackgroundWrites = 4

	// DefaultTiers are the tiers used for ordinary queries.
	DefaultTiers = TierMem | TierDisk

	// DefaultExcludedTiers are the tiers used for excluded queries.
	DefaultExcludedTiers = Tiers(0)
)

const diskSuffix = ".msgpack"

// Config configures a Cache. The zero value of every field has a usable
// default, except Store which is required when the disk tier is active.
type Config struct {
	// Store backs the disk tier, one blob per (dataset, query) pair.
	Store blobstore.Store

	MemLimit        int
	SessionLifetime time.Duration

	// EnabledTiers applies to ordinary queries, ExcludedTiers to queries on
	// the exclude list.
	EnabledTiers  Tiers
	ExcludedTiers Tiers

	// Excludes is the shared per-session exclude list. Nil means no query
	// is ever excluded.
	Excludes *cache.ExcludeList

	// BackgroundWrites caps how many disk writes may run concurrently.
	BackgroundWrites int

	Logger *slog.Logger
}

// Cache is the tiered result cache. All methods are safe for concurrent
// use.
type Cache struct {
	store    blobstore.Store
	mem      *cache.MaxSize[[]model.RankItem]
	sessions *cache.Session[[]model.RankItem]

	// queries maps query session ids to the query they were issued for, so
	// results can be re-fetched from the id alone.
	queries *cache.MaxSize[query.Query]

	enabled  Tiers
	excluded Tiers
	excludes *cache.ExcludeList

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	log *slog.Logger
}

// New creates a Cache from cfg.
func New(cfg Config) *Cache {
	if cfg.MemLimit <= 0 {
		cfg.MemLimit = DefaultMemLimit
	}
	if cfg.SessionLifetime <= 0 {
		cfg.SessionLifetime = DefaultSessionLifetime
	}
	if cfg.EnabledTiers == 0 {
		cfg.EnabledTiers = DefaultTiers
	}
	if cfg.BackgroundWrites <= 0 {
		cfg.BackgroundWrites = DefaultBackgroundWrites
	}
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	return &Cache{
		store:    cfg.Store,
		mem:      cache.NewMaxSize[[]model.RankItem](cfg.MemLimit),
		sessions: cache.NewSession[[]model.RankItem](cfg.SessionLifetime),
		queries:  cache.NewMaxSize[query.Query](1000),
		enabled:  cfg.EnabledTiers,
		excluded: cfg.ExcludedTiers,
		excludes: cfg.Excludes,
		sem:      semaphore.NewWeighted(int64(cfg.BackgroundWrites)),
		log:      log,
	}
}

// resultKey keys the mem and session tiers. The dataset comes last so a
// three-component prefix matches the same query across all datasets.
func resultKey(q query.Query) cache.TupleKey {
	return cache.Key(q.DefHash(), string(q.Qtype), q.Engine, q.Dsetname)
}

func diskKey(q query.Query) string {
	return fmt.Sprintf("%s___%s%s", q.Dsetname, q.StrID(), diskSuffix)
}

// tiersFor picks the tier set for q: the excluded set when q is on the
// exclude list for the user session, the enabled set otherwise.
func (c *Cache) tiersFor(q query.Query, userSesID string) Tiers {
	if c.excludes != nil && c.excludes.Contains(q, userSesID) {
		return c.excluded
	}
	return c.enabled
}

// Get returns the cached result list for q, or nil when no active tier
// holds one. A disk hit is promoted into the faster active tiers. The
// session tier is scoped to querySesID; userSesID only selects the tier
// set via the exclude list. Cache I/O problems are logged and reported as
// misses.
func (c *Cache) Get(ctx context.Context, q query.Query, querySesID, userSesID string) []model.RankItem {
	if querySesID != "" {
		c.queries.Put(cache.Key(querySesID), q)
	}

	tiers := c.tiersFor(q, userSesID)
	key := resultKey(q)

	if tiers.Has(TierMem) {
		if rlist, ok := c.mem.Get(key); ok {
			return rlist
		}
	}

	if tiers.Has(TierDisk) && c.store != nil {
		data, err := c.store.Get(ctx, diskKey(q))
		switch {
		case err == nil:
			var rlist []model.RankItem
			if err := codec.Results.Unmarshal(data, &rlist); err != nil {
				c.log.Warn("cached result list undecodable", "key", diskKey(q), "error", err)
				break
			}
			if tiers.Has(TierMem) {
				c.mem.Put(key, rlist)
			}
			if tiers.Has(TierSession) && querySesID != "" {
				c.sessions.Put(querySesID, key, rlist)
			}
			return rlist
		case !errors.Is(err, blobstore.ErrNotFound):
			c.log.Warn("result cache read failed", "key", diskKey(q), "error", err)
		}
	}

	if tiers.Has(TierSession) && querySesID != "" {
		if rlist, ok := c.sessions.Get(querySesID, key); ok {
			return rlist
		}
	}

	return nil
}

// Add stores rlist in every active tier; the session tier write is keyed
// by querySesID. The disk write runs in the background; Flush waits for
// pending writes.
func (c *Cache) Add(ctx context.Context, rlist []model.RankItem, q query.Query, querySesID, userSesID string) {
	if querySesID != "" {
		c.queries.Put(cache.Key(querySesID), q)
	}

	tiers := c.tiersFor(q, userSesID)
	key := resultKey(q)

	if tiers.Has(TierMem) {
		c.mem.Put(key, rlist)
	}
	if tiers.Has(TierSession) && querySesID != "" {
		c.sessions.Put(querySesID, key, rlist)
	}

	if tiers.Has(TierDisk) && c.store != nil {
		data, err := codec.Results.Marshal(rlist)
		if err != nil {
			c.log.Error("result list marshal failed", "key", diskKey(q), "error", err)
			return
		}
		blobKey := diskKey(q)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			if err := c.sem.Acquire(context.Background(), 1); err != nil {
				return
			}
			defer c.sem.Release(1)
			if err := c.store.Put(context.Background(), blobKey, data); err != nil {
				c.log.Warn("result cache write failed", "key", blobKey, "error", err)
			}
		}()
	}
}

// GetByQuerySesID resolves a query session id recorded by a previous Get or
// Add and returns its cached results. The boolean reports whether the id
// was known; the result list may still be nil when every tier has since
// dropped it.
func (c *Cache) GetByQuerySesID(ctx context.Context, querySesID, userSesID string) ([]model.RankItem, query.Query, bool) {
	q, ok := c.queries.Get(cache.Key(querySesID))
	if !ok {
		return nil, query.Query{}, false
	}
	return c.Get(ctx, q, querySesID, userSesID), q, true
}

// Delete removes cached results for q from the given tiers. With
// forAllDatasets the deletion matches the query across every dataset. The
// query session id mapping, when given, is dropped as well.
func (c *Cache) Delete(ctx context.Context, q query.Query, forAllDatasets bool, tiers Tiers, querySesID string) {
	key := resultKey(q)

	if tiers.Has(TierMem) {
		if forAllDatasets {
			c.mem.DeletePrefix(key, 3)
		} else {
			c.mem.Delete(key)
		}
	}

	if tiers.Has(TierSession) {
		n := 4
		if forAllDatasets {
			n = 3
		}
		c.sessions.DeletePrefixAllSessions(key, n)
	}

	if tiers.Has(TierDisk) && c.store != nil {
		if forAllDatasets {
			// The string id may contain regexp metacharacters ('$' from
			// escaped classifier names among them), so the pattern is built
			// from quoted literals.
			re := regexp.MustCompile(`^.*___` + regexp.QuoteMeta(q.StrID()+diskSuffix) + `$`)
			keys, err := c.store.Keys(ctx)
			if err != nil {
				c.log.Warn("result cache scan failed", "error", err)
			}
			for _, k := range keys {
				if re.MatchString(k) {
					if err := c.store.Delete(ctx, k); err != nil {
						c.log.Warn("result cache delete failed", "key", k, "error", err)
					}
				}
			}
		} else if err := c.store.Delete(ctx, diskKey(q)); err != nil {
			c.log.Warn("result cache delete failed", "key", diskKey(q), "error", err)
		}
	}

	if querySesID != "" {
		c.queries.Delete(cache.Key(querySesID))
	}
}

// CachedTextQueries returns the text of every text query with a result
// list in the disk tier, across all datasets.
func (c *Cache) CachedTextQueries(ctx context.Context) []string {
	if c.store == nil {
		return nil
	}
	keys, err := c.store.Keys(ctx)
	if err != nil {
		c.log.Warn("result cache scan failed", "error", err)
		return nil
	}

	var texts []string
	for _, k := range keys {
		name, ok := strings.CutSuffix(k, diskSuffix)
		if !ok {
			continue
		}
		_, strid, ok := strings.Cut(name, "___")
		if !ok {
			continue
		}
		text, _, err := query.DecodeStrID(strid)
		if err != nil {
			// Non-text ids embed a one-way hash and are skipped.
			continue
		}
		texts = append(texts, text)
	}
	return texts
}

// ClearAll empties every tier and the query session id mappings.
func (c *Cache) ClearAll(ctx context.Context) {
	c.mem.Clear()
	c.sessions.Clear()
	c.queries.Clear()

	if c.store == nil {
		return
	}
	keys, err := c.store.Keys(ctx)
	if err != nil {
		c.log.Warn("result cache scan failed", "error", err)
		return
	}
	for _, k := range keys {
		if !strings.HasSuffix(k, diskSuffix) {
			continue
		}
		if err := c.store.Delete(ctx, k); err != nil {
			c.log.Warn("result cache delete failed", "key", k, "error", err)
		}
	}
}

// Flush blocks until all background disk writes issued so far finished.
func (c *Cache) Flush() {
	c.wg.Wait()
}

// SetClock overrides the session tier time source. Tests only.
func (c *Cache) SetClock(now func() time.Time) {
	c.sessions.SetClock(now)
}
