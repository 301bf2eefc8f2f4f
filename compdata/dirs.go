package compdata

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/visq/visq/model"
	"github.com/visq/visq/query"
)

// CuratedPathNotFoundError is returned when a curated query points at a
// training directory without the required positive/negative subfolders.
// This is a user-data precondition, not an internal failure.
type CuratedPathNotFoundError struct {
	Dir string
}

func (e *CuratedPathNotFoundError) Error() string {
	return "compdata: curated training directory " + e.Dir + " is missing positive/negative subfolders"
}

// ImageDir returns the directory holding the training images of q,
// creating it when the query type owns a directory of its own. Image
// queries share the uploaded-images root; dsetimage queries resolve to the
// dataset itself.
func (c *Cache) ImageDir(q query.Query) (string, error) {
	switch q.Qtype {
	case query.Text:
		dir := filepath.Join(c.paths.PosTrainImgs, q.Engine, q.StrID())
		return dir, os.MkdirAll(dir, 0o774)

	case query.Curated:
		dir := filepath.Join(c.paths.CuratedTrainImgs, q.Engine, q.StrID())
		if !dirExists(filepath.Join(dir, "positive")) || !dirExists(filepath.Join(dir, "negative")) {
			return "", &CuratedPathNotFoundError{Dir: dir}
		}
		return dir, nil

	case query.Image:
		dir := c.paths.UploadedImgs
		return dir, os.MkdirAll(dir, 0o755)

	case query.Refine:
		// A refinement over curated training images keeps reading from the
		// curated store.
		root := c.paths.PosTrainImgs
		if strings.Contains(q.DefString(), "curated__") {
			root = c.paths.CuratedTrainImgs
		}
		dir := filepath.Join(root, q.Engine)
		return dir, os.MkdirAll(dir, 0o755)

	case query.DsetImage:
		dir := filepath.Join(c.paths.Datasets, q.Dsetname)
		return dir, os.MkdirAll(dir, 0o755)
	}
	return "", &query.UnsupportedQtypeError{Qtype: q.Qtype}
}

// FeatureDir returns the directory holding the precomputed features of q,
// creating it if needed. Only text queries get a directory per query; the
// other types share the per-engine feature root. Curated queries have no
// feature directory.
func (c *Cache) FeatureDir(q query.Query) (string, error) {
	switch q.Qtype {
	case query.Text:
		dir := filepath.Join(c.paths.PosTrainFeats, q.Engine, q.StrID())
		return dir, os.MkdirAll(dir, 0o755)

	case query.Refine, query.DsetImage, query.Image:
		dir := filepath.Join(c.paths.PosTrainFeats, q.Engine)
		return dir, os.MkdirAll(dir, 0o755)
	}
	return "", &query.UnsupportedQtypeError{Qtype: q.Qtype}
}

// TrainingImages lists the training images of q with their annotations.
// For annotation-backed query types the image paths are converted to
// server-relative form; curated queries list the positive directory
// instead. fullPath switches curated listings to absolute paths.
func (c *Cache) TrainingImages(ctx context.Context, q query.Query, backendQID int, userSesID string, fullPath bool) ([]model.Annotation, error) {
	switch q.Qtype {
	case query.Text, query.Refine:
		annos, err := c.GetAnnotations(ctx, q, backendQID, userSesID)
		if err != nil {
			return nil, err
		}
		for i := range annos {
			subdir := posTrainImgsDirname
			if strings.Contains(annos[i].Image, curatedTrainImgsDirname) {
				subdir = curatedTrainImgsDirname
			}
			annos[i].Image = serverPath(annos[i].Image, subdir+string(os.PathSeparator))
		}
		return annos, nil

	case query.Curated:
		dir, err := c.ImageDir(q)
		if err != nil {
			return nil, err
		}
		posdir := filepath.Join(dir, "positive")
		matches, err := filepath.Glob(filepath.Join(posdir, "*.jpg"))
		if err != nil {
			return nil, err
		}
		annos := make([]model.Annotation, 0, len(matches))
		for _, m := range matches {
			image := filepath.Join(posdir, filepath.Base(m))
			if !fullPath {
				image = filepath.Join(filepath.Base(posdir), filepath.Base(m))
			}
			annos = append(annos, model.Annotation{Image: image, Anno: 1})
		}
		return annos, nil

	case query.Image:
		return c.serverPathAnnotations(ctx, q, backendQID, userSesID, uploadedImgsDirname+string(os.PathSeparator))

	case query.DsetImage:
		return c.serverPathAnnotations(ctx, q, backendQID, userSesID, q.Dsetname+string(os.PathSeparator))
	}
	return nil, &query.UnsupportedQtypeError{Qtype: q.Qtype}
}

func (c *Cache) serverPathAnnotations(ctx context.Context, q query.Query, backendQID int, userSesID, subdir string) ([]model.Annotation, error) {
	annos, err := c.GetAnnotations(ctx, q, backendQID, userSesID)
	if err != nil {
		return nil, err
	}
	for i := range annos {
		annos[i].Image = serverPath(annos[i].Image, subdir)
	}
	return annos, nil
}

// serverPath strips everything up to and including subdir from a system
// path and normalizes separators. Paths not containing subdir are returned
// unchanged; they may already be server-relative.
func serverPath(systemPath, subdir string) string {
	idx := strings.Index(systemPath, subdir)
	if idx < 0 {
		return systemPath
	}
	rel := strings.Replace(systemPath[idx:], subdir, "", 1)
	return strings.ReplaceAll(rel, string(os.PathSeparator), "/")
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
