// Package compdata manages the per-query computational artifacts on disk:
// the trained classifier blob, the annotation file, downloaded training
// images and precomputed features. Reads and writes are gated on a global
// disable flag and per-session exclude-list membership; the artifact I/O
// itself is delegated to an injected Adapter, which in production forwards
// to the backend engine over RPC.
package compdata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/visq/visq/blobstore"
	"github.com/visq/visq/cache"
	"github.com/visq/visq/model"
	"github.com/visq/visq/query"
)

// Subdirectory names shared with the serving layer.
const (
	posTrainImgsDirname     = "postrainimgs"
	curatedTrainImgsDirname = "curatedtrainimgs"
	uploadedImgsDirname     = "uploadedimgs"
)

// annoFilePattern names annotation files; ${query_strid} is substituted.
const annoFilePattern = "${query_strid}.txt"

// Adapter performs the actual artifact I/O for a query at a path chosen by
// the cache. The production adapter forwards each call to the backend
// engine; tests substitute fakes.
type Adapter interface {
	SaveClassifier(ctx context.Context, q query.Query, backendQID int, path string) error
	LoadClassifier(ctx context.Context, q query.Query, backendQID int, path string) error
	SaveAnnotations(ctx context.Context, q query.Query, backendQID int, path string) error
	LoadAnnotationsAndTrs(ctx context.Context, q query.Query, backendQID int, path string) error
	GetAnnotations(ctx context.Context, q query.Query, backendQID int, path string) ([]model.Annotation, error)
}

// Paths holds the root directories of every artifact store.
type Paths struct {
	Classifiers      string
	PosTrainImgs     string
	UploadedImgs     string
	CuratedTrainImgs string
	Datasets         string
	PosTrainAnno     string
	PosTrainFeats    string
}

// EngineInfo is the per-engine artifact configuration.
type EngineInfo struct {
	// ClassifierPattern names classifier files; ${query_strid} is
	// substituted with the query string id.
	ClassifierPattern string
}

// Config configures a Cache.
type Config struct {
	Paths   Paths
	Engines map[string]EngineInfo
	Adapter Adapter

	// Excludes is the shared per-session exclude list; nil disables
	// exclusion.
	Excludes *cache.ExcludeList

	// DisableCache turns every save/load into a no-op.
	DisableCache bool

	// Archive optionally mirrors classifier blobs to remote object
	// storage: uploads happen in the background after a save, and a local
	// load miss falls back to a fetch.
	Archive blobstore.Store

	Logger *slog.Logger
}

// Cache gates and locates the computational artifacts of queries. All
// methods are safe for concurrent use; the underlying files are owned by
// one worker per query signature, which the orchestrator guarantees.
type Cache struct {
	paths    Paths
	engines  map[string]EngineInfo
	adapter  Adapter
	excludes *cache.ExcludeList
	disabled bool
	archive  blobstore.Store

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	log *slog.Logger
}

// New creates a Cache from cfg.
func New(cfg Config) *Cache {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Cache{
		paths:    cfg.Paths,
		engines:  cfg.Engines,
		adapter:  cfg.Adapter,
		excludes: cfg.Excludes,
		disabled: cfg.DisableCache,
		archive:  cfg.Archive,
		sem:      semaphore.NewWeighted(2),
		log:      log,
	}
}

// gated reports whether artifact caching is off for q: globally disabled or
// the query is excluded for the user session.
func (c *Cache) gated(q query.Query, userSesID string) bool {
	if c.disabled {
		return true
	}
	return c.excludes != nil && c.excludes.Contains(q, userSesID)
}

// SaveClassifier persists the trained classifier of q. Returns false with a
// nil error when caching is gated off for the query.
func (c *Cache) SaveClassifier(ctx context.Context, q query.Query, backendQID int, userSesID string) (bool, error) {
	if c.gated(q, userSesID) {
		return false, nil
	}
	path, err := c.ClassifierPath(q)
	if err != nil {
		return false, err
	}
	if err := c.adapter.SaveClassifier(ctx, q, backendQID, path); err != nil {
		return false, err
	}
	c.archiveUpload(q, path)
	return true, nil
}

// LoadClassifier restores a previously saved classifier for q. A missing
// file (locally and in the archive) is a miss, not an error.
func (c *Cache) LoadClassifier(ctx context.Context, q query.Query, backendQID int, userSesID string) (bool, error) {
	if c.gated(q, userSesID) {
		return false, nil
	}
	path, err := c.ClassifierPath(q)
	if err != nil {
		return false, err
	}
	if !fileExists(path) && !c.archiveFetch(ctx, q, path) {
		return false, nil
	}
	if err := c.adapter.LoadClassifier(ctx, q, backendQID, path); err != nil {
		return false, err
	}
	return true, nil
}

// SaveAnnotations persists the annotation file of q.
func (c *Cache) SaveAnnotations(ctx context.Context, q query.Query, backendQID int, userSesID string) (bool, error) {
	if c.gated(q, userSesID) {
		return false, nil
	}
	path, err := c.AnnotationsPath(q)
	if err != nil {
		return false, err
	}
	if err := c.adapter.SaveAnnotations(ctx, q, backendQID, path); err != nil {
		return false, err
	}
	return true, nil
}

// LoadAnnotationsAndTrs restores the annotation file of q together with the
// training state derived from it. A missing file is a miss, not an error.
func (c *Cache) LoadAnnotationsAndTrs(ctx context.Context, q query.Query, backendQID int, userSesID string) (bool, error) {
	if c.gated(q, userSesID) {
		return false, nil
	}
	path, err := c.AnnotationsPath(q)
	if err != nil {
		return false, err
	}
	if !fileExists(path) {
		return false, nil
	}
	if err := c.adapter.LoadAnnotationsAndTrs(ctx, q, backendQID, path); err != nil {
		return false, err
	}
	return true, nil
}

// GetAnnotations returns the parsed annotations of q, or nil when gated off
// or not yet saved.
func (c *Cache) GetAnnotations(ctx context.Context, q query.Query, backendQID int, userSesID string) ([]model.Annotation, error) {
	if c.gated(q, userSesID) {
		return nil, nil
	}
	path, err := c.AnnotationsPath(q)
	if err != nil {
		return nil, err
	}
	if !fileExists(path) {
		return nil, nil
	}
	return c.adapter.GetAnnotations(ctx, q, backendQID, path)
}

// ClassifierPath returns the classifier filename of q, creating the
// per-engine directory if needed.
func (c *Cache) ClassifierPath(q query.Query) (string, error) {
	info, ok := c.engines[q.Engine]
	if !ok {
		return "", fmt.Errorf("compdata: unknown engine %q", q.Engine)
	}
	dir := filepath.Join(c.paths.Classifiers, q.Engine)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	fname := expandStrID(info.ClassifierPattern, q.StrID())
	return filepath.Join(dir, fname), nil
}

// AnnotationsPath returns the annotation filename of q, creating the
// per-engine directory if needed.
func (c *Cache) AnnotationsPath(q query.Query) (string, error) {
	dir := filepath.Join(c.paths.PosTrainAnno, q.Engine)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return filepath.Join(dir, expandStrID(annoFilePattern, q.StrID())), nil
}

// expandStrID substitutes ${query_strid} in a filename pattern.
func expandStrID(pattern, strid string) string {
	return os.Expand(pattern, func(name string) string {
		if name == "query_strid" {
			return strid
		}
		return ""
	})
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// archiveKey flattens the per-engine classifier path into a blob key.
func archiveKey(q query.Query, path string) string {
	return q.Engine + "___" + filepath.Base(path)
}

// archiveUpload mirrors a freshly saved classifier blob to the archive in
// the background. Failures are logged; the primary path never blocks.
func (c *Cache) archiveUpload(q query.Query, path string) {
	if c.archive == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.sem.Acquire(context.Background(), 1); err != nil {
			return
		}
		defer c.sem.Release(1)

		data, err := os.ReadFile(path)
		if err != nil {
			c.log.Warn("classifier archive read failed", "path", path, "error", err)
			return
		}
		if err := c.archive.Put(context.Background(), archiveKey(q, path), data); err != nil {
			c.log.Warn("classifier archive upload failed", "path", path, "error", err)
		}
	}()
}

// archiveFetch tries to restore a classifier blob from the archive into the
// local file. Returns true when the local file exists afterwards.
func (c *Cache) archiveFetch(ctx context.Context, q query.Query, path string) bool {
	if c.archive == nil {
		return false
	}
	data, err := c.archive.Get(ctx, archiveKey(q, path))
	if err != nil {
		if !errors.Is(err, blobstore.ErrNotFound) {
			c.log.Warn("classifier archive fetch failed", "path", path, "error", err)
		}
		return false
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		c.log.Warn("classifier archive restore failed", "path", path, "error", err)
		return false
	}
	return true
}

// Flush blocks until pending archive uploads finished. Tests only.
func (c *Cache) Flush() {
	c.wg.Wait()
}
