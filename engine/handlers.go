package engine

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/visq/visq/query"
	"github.com/visq/visq/rpc"
)

// featSpec is one image to push through backend feature computation.
type featSpec struct {
	impath      string
	featpath    string
	anno        int
	fromDataset bool
	extraParams map[string]string
}

// computeFeats prepares the training set of q and registers every image
// with the backend, fanning the per-image calls out over a bounded group.
func (e *Engine) computeFeats(ctx context.Context, q query.Query, qid int, progress Progress, userSesID string) error {
	var (
		specs []featSpec
		err   error
	)
	switch q.Qtype {
	case query.Text:
		specs, err = e.textSpecs(ctx, q, progress)
	case query.Curated:
		specs, err = e.curatedSpecs(q, progress)
	case query.Image, query.DsetImage, query.Refine:
		specs, err = e.imageListSpecs(q)
	default:
		err = &query.UnsupportedQtypeError{Qtype: q.Qtype}
	}
	if err != nil {
		return err
	}

	backend, err := e.backend(q.Engine)
	if err != nil {
		return err
	}
	return e.runFeatSpecs(ctx, backend, qid, specs, progress)
}

// textSpecs downloads positive training images for a text query. Engines
// without a download pipeline skip feature computation entirely; their
// backends answer text queries directly.
func (e *Engine) textSpecs(ctx context.Context, q query.Query, progress Progress) ([]featSpec, error) {
	info := e.engines[q.Engine]
	if e.downloader == nil || info.DownloadsDisabled {
		return nil, nil
	}

	imageDir, err := e.compdata.ImageDir(q)
	if err != nil {
		return nil, err
	}
	featDir, err := e.compdata.FeatureDir(q)
	if err != nil {
		return nil, err
	}

	// Downloads from an earlier, larger version of this query may still be
	// lying around.
	e.compdata.CleanupUnusedTrainingImages(q)

	paths, err := e.downloader.Download(ctx, q.DefString(), imageDir, e.opts.NumPosTrain)
	if err != nil {
		return nil, err
	}

	specs := make([]featSpec, 0, len(paths))
	for _, p := range paths {
		progress.AddTrainingImages(serverRelative(p, "postrainimgs"))
		specs = append(specs, featSpec{
			impath:      p,
			featpath:    filepath.Join(featDir, featFilename(filepath.Base(p))),
			anno:        1,
			extraParams: map[string]string{"detector": e.opts.FeatDetectorType},
		})
	}
	return specs, nil
}

// curatedSpecs lists the pre-populated positive directory of a curated
// query. Features land in the directory of the query's text form, so a
// later plain-text rerun finds them.
func (e *Engine) curatedSpecs(q query.Query, progress Progress) ([]featSpec, error) {
	imageDir, err := e.compdata.ImageDir(q)
	if err != nil {
		return nil, err
	}

	textForm := q
	textForm.Qtype = query.Text
	featDir, err := e.compdata.FeatureDir(textForm)
	if err != nil {
		return nil, err
	}

	posDir := filepath.Join(imageDir, "positive")
	entries, err := os.ReadDir(posDir)
	if err != nil {
		return nil, err
	}

	specs := make([]featSpec, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		image := entry.Name()
		progress.AddCuratedImages(serverRelative(filepath.Join(posDir, image), "curatedtrainimgs"))
		specs = append(specs, featSpec{
			impath:   filepath.Join(posDir, image),
			featpath: filepath.Join(featDir, featFilename(image)),
			anno:     1,
			// Curated sets are small and hand-picked; always use the
			// accurate detector on them.
			extraParams: map[string]string{"detector": FeatDetectorAccurate},
		})
	}
	return specs, nil
}

// imageListSpecs resolves the annotated image list of an image, dsetimage
// or refine query against its source directories.
func (e *Engine) imageListSpecs(q query.Query) ([]featSpec, error) {
	def, ok := q.Def.(query.ImageListDef)
	if !ok {
		return nil, &query.UnsupportedQtypeError{Qtype: q.Qtype}
	}

	imageDir, err := e.compdata.ImageDir(q)
	if err != nil {
		return nil, err
	}
	featDir, err := e.compdata.FeatureDir(q)
	if err != nil {
		return nil, err
	}
	srvDir := srvImageDir(q)

	specs := make([]featSpec, 0, len(def))
	for _, img := range def {
		imfn := strings.Replace(img.Image, srvDir, "", 1)
		// The curated search marker arrives html-encoded from the web
		// layer.
		imfn = strings.ReplaceAll(imfn, "%23", "#")

		extra := make(map[string]string, len(img.ExtraParams)+1)
		for k, v := range img.ExtraParams {
			extra[k] = v
		}
		extra["detector"] = e.opts.FeatDetectorType

		specs = append(specs, featSpec{
			impath:      filepath.Join(imageDir, imfn),
			featpath:    filepath.Join(featDir, featFilename(imfn)),
			anno:        img.Anno,
			fromDataset: q.Qtype == query.DsetImage,
			extraParams: extra,
		})
	}
	return specs, nil
}

// srvImageDir is the server-side prefix to strip from image paths in a
// query definition.
func srvImageDir(q query.Query) string {
	switch q.Qtype {
	case query.Image:
		return "/uploadedimgs/"
	case query.DsetImage:
		return "/thumbnails/"
	case query.Refine:
		root := "postrainimgs"
		if strings.Contains(q.DefString(), "curated__") {
			root = "curatedtrainimgs"
		}
		return root + "/" + q.Engine + "/"
	}
	return ""
}

// runFeatSpecs registers every spec with the backend. Neutral images are
// skipped; negatives are counted into the progress sink.
func (e *Engine) runFeatSpecs(ctx context.Context, backend rpc.Backend, qid int, specs []featSpec, progress Progress) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.FeatWorkers)

	for _, spec := range specs {
		g.Go(func() error {
			if spec.anno == 0 {
				return nil
			}

			impath := canonicalPath(spec.impath)
			featpath := canonicalPath(spec.featpath)

			var err error
			if spec.anno > 0 {
				err = backend.AddPosTrs(ctx, qid, impath, featpath, spec.fromDataset, spec.extraParams)
			} else {
				err = backend.AddNegTrs(ctx, qid, impath, featpath, spec.fromDataset, spec.extraParams)
				if err == nil {
					progress.AddNegTrainingCount(1)
				}
			}
			if err != nil {
				return &FeatureCompError{Image: impath, cause: err}
			}
			e.log.Debug("computed features", "query_id", qid, "image", impath)
			return nil
		})
	}
	return g.Wait()
}

// canonicalPath resolves symlinks so the backend operates on real files.
// Unresolvable paths are passed through unchanged.
func canonicalPath(path string) string {
	resolved, err := filepath.EvalSymlinks(path)
	if err != nil {
		return path
	}
	return resolved
}

// featFilename swaps an image filename's extension for the feature file
// extension.
func featFilename(imageName string) string {
	return strings.TrimSuffix(imageName, filepath.Ext(imageName)) + ".bin"
}

// serverRelative truncates a system path at the named directory, yielding
// the server-visible form. Paths not containing the directory are returned
// unchanged.
func serverRelative(path, dirname string) string {
	idx := strings.Index(path, dirname)
	if idx < 0 {
		return path
	}
	return strings.ReplaceAll(path[idx:], string(os.PathSeparator), "/")
}
