package compdata

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/visq/visq/query"
)

// DeleteCompData removes all computational artifacts of q: classifier,
// annotation file, training-image directory and feature directory. Each
// removal is independently best-effort so one failure does not block the
// others.
//
// Shared roots are never removed, even when a query's computed path
// coincides with one: the dataset image root, the uploaded-images root,
// anything under the curated training images, and the per-engine feature
// root. This guard is a correctness invariant.
func (c *Cache) DeleteCompData(q query.Query) {
	if path, err := c.ClassifierPath(q); err == nil && fileExists(path) {
		if err := os.Remove(path); err != nil {
			c.log.Warn("classifier removal failed", "path", path, "error", err)
		} else {
			c.log.Info("removed classifier", "path", path)
		}
	}

	if path, err := c.AnnotationsPath(q); err == nil && fileExists(path) {
		if err := os.Remove(path); err != nil {
			c.log.Warn("annotations removal failed", "path", path, "error", err)
		} else {
			c.log.Info("removed annotations", "path", path)
		}
	}

	if dir, err := c.ImageDir(q); err == nil && dirExists(dir) {
		if dir != filepath.Join(c.paths.Datasets, q.Dsetname) &&
			dir != c.paths.UploadedImgs &&
			!strings.Contains(dir, c.paths.CuratedTrainImgs) {
			if err := os.RemoveAll(dir); err != nil {
				c.log.Warn("image dir removal failed", "dir", dir, "error", err)
			} else {
				c.log.Info("removed image dir", "dir", dir)
			}
		}
	}

	if dir, err := c.FeatureDir(q); err == nil && dirExists(dir) {
		if dir != filepath.Join(c.paths.PosTrainFeats, q.Engine) {
			if err := os.RemoveAll(dir); err != nil {
				c.log.Warn("feature dir removal failed", "dir", dir, "error", err)
			} else {
				c.log.Info("removed feature dir", "dir", dir)
			}
		}
	}
}

// CleanupUnusedTrainingImages deletes every file in the image directory of
// q that the query's annotation file does not reference. Reclaims orphaned
// downloads after a query's positive set shrinks.
func (c *Cache) CleanupUnusedTrainingImages(q query.Query) {
	annoPath, err := c.AnnotationsPath(q)
	if err != nil || !fileExists(annoPath) {
		return
	}

	f, err := os.Open(annoPath)
	if err != nil {
		c.log.Warn("annotations open failed", "path", annoPath, "error", err)
		return
	}
	defer f.Close()

	referenced := make(map[string]struct{})
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// The first whitespace-delimited field of each line is the path.
		path, _, _ := strings.Cut(scanner.Text(), "\t")
		path, _, _ = strings.Cut(path, " ")
		if strings.HasPrefix(path, posTrainImgsDirname) {
			path = strings.Replace(path, posTrainImgsDirname, c.paths.PosTrainImgs, 1)
		}
		referenced[path] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		c.log.Warn("annotations read failed", "path", annoPath, "error", err)
		return
	}

	imageDir, err := c.ImageDir(q)
	if err != nil {
		return
	}
	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return
	}
	for _, e := range entries {
		path := filepath.Join(imageDir, e.Name())
		if _, ok := referenced[path]; ok || e.IsDir() {
			continue
		}
		if err := os.Remove(path); err != nil {
			c.log.Warn("orphaned image removal failed", "path", path, "error", err)
		}
	}
}

// ClearFeatures empties the feature directory of every configured engine.
func (c *Cache) ClearFeatures() {
	for engine := range c.engines {
		c.clearDir(filepath.Join(c.paths.PosTrainFeats, engine))
	}
}

// ClearAnnotations empties the annotation directory of every configured
// engine.
func (c *Cache) ClearAnnotations() {
	for engine := range c.engines {
		c.clearDir(filepath.Join(c.paths.PosTrainAnno, engine))
	}
}

// ClearClassifiers empties the classifier directory of every configured
// engine.
func (c *Cache) ClearClassifiers() {
	for engine := range c.engines {
		c.clearDir(filepath.Join(c.paths.Classifiers, engine))
	}
}

// ClearTrainingImages empties the downloaded training images of every
// configured engine. Uploaded and curated images are untouched.
func (c *Cache) ClearTrainingImages() {
	for engine := range c.engines {
		c.clearDir(filepath.Join(c.paths.PosTrainImgs, engine))
	}
}

// clearDir removes the contents of dir, keeping the directory itself.
func (c *Cache) clearDir(dir string) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			c.log.Warn("cache clear failed", "path", filepath.Join(dir, e.Name()), "error", err)
		}
	}
}
