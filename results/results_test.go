package results

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/visq/visq/blobstore"
	"github.com/visq/visq/cache"
	"github.com/visq/visq/model"
	"github.com/visq/visq/query"
)

// countingStore wraps a Store and counts Get calls, to prove which tier
// served a lookup.
type countingStore struct {
	blobstore.Store
	mu   sync.Mutex
	gets int
}

func (s *countingStore) Get(ctx context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	s.gets++
	s.mu.Unlock()
	return s.Store.Get(ctx, key)
}

func (s *countingStore) getCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gets
}

func textQuery(t *testing.T, text, dsetname string) query.Query {
	t.Helper()
	q, err := query.New(query.Text, query.TextDef(text), dsetname, "engineA")
	require.NoError(t, err)
	return q
}

func newDiskCache(t *testing.T, cfg Config) (*Cache, *countingStore) {
	t.Helper()
	local, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	store := &countingStore{Store: local}
	cfg.Store = store
	return New(cfg), store
}

func TestGetMissThenMemHit(t *testing.T) {
	ctx := context.Background()
	c, store := newDiskCache(t, Config{})
	q := textQuery(t, "cat", "animals")

	assert.Nil(t, c.Get(ctx, q, "", ""))

	rlist := []model.RankItem{{Path: "a.jpg", Score: 0.9}}
	c.Add(ctx, rlist, q, "", "")
	c.Flush()

	before := store.getCount()
	got := c.Get(ctx, q, "", "")
	assert.Equal(t, rlist, got)
	assert.Equal(t, before, store.getCount(), "memory hit must not touch disk")
}

func TestDiskHitPromotedToMemory(t *testing.T) {
	ctx := context.Background()
	c, store := newDiskCache(t, Config{})
	q := textQuery(t, "cat", "animals")

	rlist := []model.RankItem{{Path: "a.jpg", Score: 0.9}, {Path: "b.jpg", Score: 0.4}}
	c.Add(ctx, rlist, q, "", "")
	c.Flush()

	// Drop the memory tier; the entry survives on disk.
	c.mem.Clear()

	got := c.Get(ctx, q, "", "")
	require.Equal(t, rlist, got)
	diskGets := store.getCount()

	got = c.Get(ctx, q, "", "")
	assert.Equal(t, rlist, got)
	assert.Equal(t, diskGets, store.getCount(), "promoted entry must be served from memory")
}

func TestOrderPreserved(t *testing.T) {
	ctx := context.Background()
	c, _ := newDiskCache(t, Config{})
	q := textQuery(t, "cat", "animals")

	// Deliberately not sorted by score.
	rlist := []model.RankItem{
		{Path: "b.jpg", Score: 0.5},
		{Path: "a.jpg", Score: 0.9},
		{Path: "c.jpg", Score: 0.7},
	}
	c.Add(ctx, rlist, q, "", "")
	c.Flush()
	c.mem.Clear()

	got := c.Get(ctx, q, "", "")
	assert.Equal(t, rlist, got, "tiers must not re-sort result lists")
}

func TestExcludedQueryConfinedToSessionTier(t *testing.T) {
	ctx := context.Background()
	excludes := cache.NewExcludeList(time.Hour)
	c, store := newDiskCache(t, Config{
		Excludes:      excludes,
		ExcludedTiers: TierSession,
	})

	q := textQuery(t, "cat", "animals")
	excludes.Add(q, "user1")

	rlist := []model.RankItem{{Path: "a.jpg", Score: 0.9}}
	c.Add(ctx, rlist, q, "qses1", "user1")
	c.Flush()

	// Same query session: served from the session tier.
	assert.Equal(t, rlist, c.Get(ctx, q, "qses1", "user1"))

	// Another tab of the same user, or no query session at all, sees
	// nothing: session-tier entries belong to the issuing tab.
	assert.Nil(t, c.Get(ctx, q, "qses2", "user1"))
	assert.Nil(t, c.Get(ctx, q, "", "user1"))

	// A different user is not excluded, reads the default tiers and finds
	// nothing: the write never reached memory or disk.
	assert.Nil(t, c.Get(ctx, q, "", "user2"))
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDeleteExact(t *testing.T) {
	ctx := context.Background()
	c, _ := newDiskCache(t, Config{})

	q1 := textQuery(t, "cat", "animals")
	q2 := textQuery(t, "cat", "vehicles")
	rlist := []model.RankItem{{Path: "a.jpg"}}
	c.Add(ctx, rlist, q1, "", "")
	c.Add(ctx, rlist, q2, "", "")
	c.Flush()

	c.Delete(ctx, q1, false, TierMem|TierDisk|TierSession, "")

	assert.Nil(t, c.Get(ctx, q1, "", ""))
	assert.NotNil(t, c.Get(ctx, q2, "", ""))
}

func TestDeleteForAllDatasets(t *testing.T) {
	ctx := context.Background()
	c, store := newDiskCache(t, Config{})

	// Spaces escape to '+' and the text sits between braces, so the string
	// id carries regexp metacharacters the wildcard match must treat
	// literally.
	q1 := textQuery(t, "uber classifier", "animals")
	q2 := textQuery(t, "uber classifier", "vehicles")
	other := textQuery(t, "cat", "animals")
	rlist := []model.RankItem{{Path: "a.jpg"}}
	c.Add(ctx, rlist, q1, "", "")
	c.Add(ctx, rlist, q2, "", "")
	c.Add(ctx, rlist, other, "", "")
	c.Flush()

	c.Delete(ctx, q1, true, TierMem|TierDisk|TierSession, "")

	assert.Nil(t, c.Get(ctx, q1, "", ""))
	assert.Nil(t, c.Get(ctx, q2, "", ""))
	assert.NotNil(t, c.Get(ctx, other, "", ""))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}

func TestGetByQuerySesID(t *testing.T) {
	ctx := context.Background()
	c, _ := newDiskCache(t, Config{})
	q := textQuery(t, "cat", "animals")

	rlist := []model.RankItem{{Path: "a.jpg"}}
	c.Add(ctx, rlist, q, "qses1", "")
	c.Flush()

	got, resolved, ok := c.GetByQuerySesID(ctx, "qses1", "")
	require.True(t, ok)
	assert.Equal(t, q.Signature(), resolved.Signature())
	assert.Equal(t, rlist, got)

	_, _, ok = c.GetByQuerySesID(ctx, "unknown", "")
	assert.False(t, ok)
}

func TestCachedTextQueries(t *testing.T) {
	ctx := context.Background()
	c, _ := newDiskCache(t, Config{})

	c.Add(ctx, []model.RankItem{{Path: "a.jpg"}}, textQuery(t, "cat", "animals"), "", "")
	c.Add(ctx, []model.RankItem{{Path: "b.jpg"}}, textQuery(t, "dog's dinner", "animals"), "", "")

	imgQuery, err := query.New(query.Image, query.ImageListDef{{Image: "a.jpg"}}, "animals", "engineA")
	require.NoError(t, err)
	c.Add(ctx, []model.RankItem{{Path: "c.jpg"}}, imgQuery, "", "")
	c.Flush()

	texts := c.CachedTextQueries(ctx)
	assert.ElementsMatch(t, []string{"cat", "dog's dinner"}, texts)
}

func TestClearAll(t *testing.T) {
	ctx := context.Background()
	c, store := newDiskCache(t, Config{})
	q := textQuery(t, "cat", "animals")

	c.Add(ctx, []model.RankItem{{Path: "a.jpg"}}, q, "qses1", "user1")
	c.Flush()

	c.ClearAll(ctx)

	assert.Nil(t, c.Get(ctx, q, "", "user1"))
	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestSessionTierExpires(t *testing.T) {
	ctx := context.Background()
	local, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	c := New(Config{
		Store:           local,
		EnabledTiers:    TierSession,
		SessionLifetime: 15 * time.Minute,
	})

	now := time.Now()
	c.SetClock(func() time.Time { return now })

	q := textQuery(t, "cat", "animals")
	rlist := []model.RankItem{{Path: "a.jpg"}}
	c.Add(ctx, rlist, q, "qses1", "user1")

	assert.Equal(t, rlist, c.Get(ctx, q, "qses1", "user1"))

	now = now.Add(16 * time.Minute)
	assert.Nil(t, c.Get(ctx, q, "qses1", "user1"))
}
