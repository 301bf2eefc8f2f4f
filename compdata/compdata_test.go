package compdata

import (
	"context"
	"os"
	"path/filepath"
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

// fakeAdapter records calls and materializes artifact files the way the
// backend would.
type fakeAdapter struct {
	mu     sync.Mutex
	saved  []string
	loaded []string
	annos  []model.Annotation
}

func (a *fakeAdapter) record(list *[]string, path string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	*list = append(*list, path)
}

func (a *fakeAdapter) SaveClassifier(ctx context.Context, q query.Query, backendQID int, path string) error {
	a.record(&a.saved, path)
	return os.WriteFile(path, []byte("classifier-blob"), 0o644)
}

func (a *fakeAdapter) LoadClassifier(ctx context.Context, q query.Query, backendQID int, path string) error {
	a.record(&a.loaded, path)
	return nil
}

func (a *fakeAdapter) SaveAnnotations(ctx context.Context, q query.Query, backendQID int, path string) error {
	a.record(&a.saved, path)
	return os.WriteFile(path, []byte("a.jpg 1\n"), 0o644)
}

func (a *fakeAdapter) LoadAnnotationsAndTrs(ctx context.Context, q query.Query, backendQID int, path string) error {
	a.record(&a.loaded, path)
	return nil
}

func (a *fakeAdapter) GetAnnotations(ctx context.Context, q query.Query, backendQID int, path string) ([]model.Annotation, error) {
	return a.annos, nil
}

func (a *fakeAdapter) calls(list *[]string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(*list)
}

func testPaths(t *testing.T) Paths {
	t.Helper()
	root := t.TempDir()
	return Paths{
		Classifiers:      filepath.Join(root, "classifiers"),
		PosTrainImgs:     filepath.Join(root, "postrainimgs"),
		UploadedImgs:     filepath.Join(root, "uploadedimgs"),
		CuratedTrainImgs: filepath.Join(root, "curatedtrainimgs"),
		Datasets:         filepath.Join(root, "datasets"),
		PosTrainAnno:     filepath.Join(root, "postrainanno"),
		PosTrainFeats:    filepath.Join(root, "postrainfeats"),
	}
}

func newTestCache(t *testing.T, cfg Config) (*Cache, *fakeAdapter) {
	t.Helper()
	adapter := &fakeAdapter{}
	cfg.Adapter = adapter
	if cfg.Paths == (Paths{}) {
		cfg.Paths = testPaths(t)
	}
	if cfg.Engines == nil {
		cfg.Engines = map[string]EngineInfo{
			"engineA": {ClassifierPattern: "${query_strid}.clf"},
		}
	}
	return New(cfg), adapter
}

func textQuery(t *testing.T, text string) query.Query {
	t.Helper()
	q, err := query.New(query.Text, query.TextDef(text), "animals", "engineA")
	require.NoError(t, err)
	return q
}

func TestClassifierPathExpandsPattern(t *testing.T) {
	c, _ := newTestCache(t, Config{})
	q := textQuery(t, "cat")

	path, err := c.ClassifierPath(q)
	require.NoError(t, err)
	assert.Equal(t, q.StrID()+".clf", filepath.Base(path))
	assert.Equal(t, "engineA", filepath.Base(filepath.Dir(path)))

	_, err = c.ClassifierPath(query.Query{Engine: "unknown"})
	assert.Error(t, err)
}

func TestSaveLoadClassifierRoundtrip(t *testing.T) {
	ctx := context.Background()
	c, adapter := newTestCache(t, Config{})
	q := textQuery(t, "cat")

	// Nothing saved yet: a load is a miss, not an error, and never reaches
	// the adapter.
	ok, err := c.LoadClassifier(ctx, q, 7, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, adapter.calls(&adapter.loaded))

	ok, err = c.SaveClassifier(ctx, q, 7, "")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.LoadClassifier(ctx, q, 8, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, adapter.calls(&adapter.loaded))
}

func TestDisableCacheGatesEverything(t *testing.T) {
	ctx := context.Background()
	c, adapter := newTestCache(t, Config{DisableCache: true})
	q := textQuery(t, "cat")

	ok, err := c.SaveClassifier(ctx, q, 7, "")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = c.LoadAnnotationsAndTrs(ctx, q, 7, "")
	require.NoError(t, err)
	assert.False(t, ok)

	annos, err := c.GetAnnotations(ctx, q, 7, "")
	require.NoError(t, err)
	assert.Nil(t, annos)

	assert.Zero(t, adapter.calls(&adapter.saved))
	assert.Zero(t, adapter.calls(&adapter.loaded))
}

func TestExcludeListGatesPerSession(t *testing.T) {
	ctx := context.Background()
	excludes := cache.NewExcludeList(time.Hour)
	c, adapter := newTestCache(t, Config{Excludes: excludes})
	q := textQuery(t, "cat")
	excludes.Add(q, "user1")

	ok, err := c.SaveClassifier(ctx, q, 7, "user1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, adapter.calls(&adapter.saved))

	// A different session is unaffected by user1's exclusion.
	ok, err = c.SaveClassifier(ctx, q, 7, "user2")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLoadAnnotationsMissingFileIsMiss(t *testing.T) {
	ctx := context.Background()
	c, adapter := newTestCache(t, Config{})
	q := textQuery(t, "cat")

	ok, err := c.LoadAnnotationsAndTrs(ctx, q, 7, "")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, adapter.calls(&adapter.loaded))

	ok, err = c.SaveAnnotations(ctx, q, 7, "")
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = c.LoadAnnotationsAndTrs(ctx, q, 8, "")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCuratedImageDirRequiresSubfolders(t *testing.T) {
	paths := testPaths(t)
	c, _ := newTestCache(t, Config{Paths: paths})

	q, err := query.New(query.Text, query.TextDef("#cars"), "animals", "engineA")
	require.NoError(t, err)
	require.Equal(t, query.Curated, q.Qtype)

	dir := filepath.Join(paths.CuratedTrainImgs, "engineA", q.StrID())
	require.NoError(t, os.MkdirAll(dir, 0o755))

	_, err = c.ImageDir(q)
	var cpe *CuratedPathNotFoundError
	require.ErrorAs(t, err, &cpe)
	assert.Equal(t, dir, cpe.Dir)

	require.NoError(t, os.MkdirAll(filepath.Join(dir, "positive"), 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "negative"), 0o755))

	got, err := c.ImageDir(q)
	require.NoError(t, err)
	assert.Equal(t, dir, got)
}

func TestTrainingImagesCurated(t *testing.T) {
	paths := testPaths(t)
	c, _ := newTestCache(t, Config{Paths: paths})

	q, err := query.New(query.Curated, query.TextDef("#cars"), "animals", "engineA")
	require.NoError(t, err)

	posdir := filepath.Join(paths.CuratedTrainImgs, "engineA", q.StrID(), "positive")
	require.NoError(t, os.MkdirAll(posdir, 0o755))
	require.NoError(t, os.MkdirAll(filepath.Join(paths.CuratedTrainImgs, "engineA", q.StrID(), "negative"), 0o755))
	for _, name := range []string{"a.jpg", "b.jpg"} {
		require.NoError(t, os.WriteFile(filepath.Join(posdir, name), []byte("img"), 0o644))
	}

	annos, err := c.TrainingImages(context.Background(), q, 7, "", false)
	require.NoError(t, err)
	require.Len(t, annos, 2)
	assert.Equal(t, filepath.Join("positive", "a.jpg"), annos[0].Image)
	assert.Equal(t, 1, annos[0].Anno)

	annos, err = c.TrainingImages(context.Background(), q, 7, "", true)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(posdir, "a.jpg"), annos[0].Image)
}

func TestTrainingImagesTextServerRelative(t *testing.T) {
	ctx := context.Background()
	paths := testPaths(t)
	c, adapter := newTestCache(t, Config{Paths: paths})
	q := textQuery(t, "cat")

	// The annotation file must exist for GetAnnotations to consult the
	// adapter at all.
	ok, err := c.SaveAnnotations(ctx, q, 7, "")
	require.NoError(t, err)
	require.True(t, ok)

	sep := string(os.PathSeparator)
	adapter.annos = []model.Annotation{
		{Image: filepath.Join(paths.PosTrainImgs, "engineA", q.StrID(), "img1.jpg"), Anno: 1},
		{Image: "already/relative.jpg", Anno: -1},
	}

	annos, err := c.TrainingImages(ctx, q, 7, "", false)
	require.NoError(t, err)
	require.Len(t, annos, 2)
	assert.Equal(t, "engineA/"+q.StrID()+"/img1.jpg", annos[0].Image)
	assert.NotContains(t, annos[0].Image, "postrainimgs"+sep)
	assert.Equal(t, "already/relative.jpg", annos[1].Image)
}

func TestDeleteCompDataRemovesQueryArtifacts(t *testing.T) {
	ctx := context.Background()
	paths := testPaths(t)
	c, _ := newTestCache(t, Config{Paths: paths})
	q := textQuery(t, "cat")

	_, err := c.SaveClassifier(ctx, q, 7, "")
	require.NoError(t, err)
	_, err = c.SaveAnnotations(ctx, q, 7, "")
	require.NoError(t, err)

	imgDir, err := c.ImageDir(q)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "img1.jpg"), []byte("img"), 0o644))

	featDir, err := c.FeatureDir(q)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(featDir, "img1.bin"), []byte("feat"), 0o644))

	c.DeleteCompData(q)

	clfPath, err := c.ClassifierPath(q)
	require.NoError(t, err)
	assert.NoFileExists(t, clfPath)
	annoPath, err := c.AnnotationsPath(q)
	require.NoError(t, err)
	assert.NoFileExists(t, annoPath)
	assert.NoDirExists(t, imgDir)
	assert.NoDirExists(t, featDir)
}

func TestDeleteCompDataSparesSharedRoots(t *testing.T) {
	paths := testPaths(t)
	c, _ := newTestCache(t, Config{Paths: paths})

	dsetDir := filepath.Join(paths.Datasets, "animals")
	require.NoError(t, os.MkdirAll(dsetDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dsetDir, "frame001.jpg"), []byte("img"), 0o644))

	q, err := query.New(query.DsetImage, query.ImageListDef{{Image: "animals/frame001.jpg"}}, "animals", "engineA")
	require.NoError(t, err)

	// The image dir of a dsetimage query is the dataset itself; deletion
	// must leave it intact.
	c.DeleteCompData(q)

	assert.DirExists(t, dsetDir)
	assert.FileExists(t, filepath.Join(dsetDir, "frame001.jpg"))
	// The shared per-engine feature root survives as well.
	assert.DirExists(t, filepath.Join(paths.PosTrainFeats, "engineA"))
}

func TestCleanupUnusedTrainingImages(t *testing.T) {
	paths := testPaths(t)
	c, _ := newTestCache(t, Config{Paths: paths})
	q := textQuery(t, "cat")

	imgDir, err := c.ImageDir(q)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "keep.jpg"), []byte("img"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(imgDir, "orphan.jpg"), []byte("img"), 0o644))

	annoPath, err := c.AnnotationsPath(q)
	require.NoError(t, err)
	line := filepath.ToSlash(filepath.Join("postrainimgs", "engineA", q.StrID(), "keep.jpg")) + " 1\n"
	require.NoError(t, os.WriteFile(annoPath, []byte(line), 0o644))

	c.CleanupUnusedTrainingImages(q)

	assert.FileExists(t, filepath.Join(imgDir, "keep.jpg"))
	assert.NoFileExists(t, filepath.Join(imgDir, "orphan.jpg"))
}

func TestArchiveMirrorsClassifiers(t *testing.T) {
	ctx := context.Background()
	archive, err := blobstore.NewLocal(t.TempDir())
	require.NoError(t, err)
	c, adapter := newTestCache(t, Config{Archive: archive})
	q := textQuery(t, "cat")

	ok, err := c.SaveClassifier(ctx, q, 7, "")
	require.NoError(t, err)
	require.True(t, ok)
	c.Flush()

	keys, err := archive.Keys(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	data, err := archive.Get(ctx, keys[0])
	require.NoError(t, err)
	assert.Equal(t, []byte("classifier-blob"), data)

	// Drop the local copy; a load falls back to the archive and restores it.
	path, err := c.ClassifierPath(q)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	ok, err = c.LoadClassifier(ctx, q, 8, "")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.FileExists(t, path)
	assert.Equal(t, 1, adapter.calls(&adapter.loaded))
}
