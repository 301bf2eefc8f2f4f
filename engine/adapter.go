package engine

import (
	"context"
	"fmt"

	"github.com/visq/visq/compdata"
	"github.com/visq/visq/model"
	"github.com/visq/visq/query"
	"github.com/visq/visq/rpc"
)

// Adapter forwards computational-artifact I/O to the backend engines. The
// backend owns the file formats; the frontend only chooses the paths.
type Adapter struct {
	backends map[string]rpc.Backend
}

var _ compdata.Adapter = (*Adapter)(nil)

// NewAdapter creates an Adapter over the given backends, keyed by engine
// name.
func NewAdapter(backends map[string]rpc.Backend) *Adapter {
	return &Adapter{backends: backends}
}

func (a *Adapter) backend(engineName string) (rpc.Backend, error) {
	backend, ok := a.backends[engineName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, engineName)
	}
	return backend, nil
}

func (a *Adapter) SaveClassifier(ctx context.Context, q query.Query, backendQID int, path string) error {
	backend, err := a.backend(q.Engine)
	if err != nil {
		return err
	}
	if err := backend.SaveClassifier(ctx, backendQID, path); err != nil {
		return &ClassifierSaveLoadError{Path: path, cause: err}
	}
	return nil
}

func (a *Adapter) LoadClassifier(ctx context.Context, q query.Query, backendQID int, path string) error {
	backend, err := a.backend(q.Engine)
	if err != nil {
		return err
	}
	if err := backend.LoadClassifier(ctx, backendQID, path); err != nil {
		return &ClassifierSaveLoadError{Path: path, cause: err}
	}
	return nil
}

func (a *Adapter) SaveAnnotations(ctx context.Context, q query.Query, backendQID int, path string) error {
	backend, err := a.backend(q.Engine)
	if err != nil {
		return err
	}
	if err := backend.SaveAnnotations(ctx, backendQID, path); err != nil {
		return &AnnoSaveLoadError{Path: path, cause: err}
	}
	return nil
}

func (a *Adapter) LoadAnnotationsAndTrs(ctx context.Context, q query.Query, backendQID int, path string) error {
	backend, err := a.backend(q.Engine)
	if err != nil {
		return err
	}
	// Load failures here are soft; the caller recomputes from scratch.
	return backend.LoadAnnotationsAndTrs(ctx, backendQID, path)
}

func (a *Adapter) GetAnnotations(ctx context.Context, q query.Query, backendQID int, path string) ([]model.Annotation, error) {
	backend, err := a.backend(q.Engine)
	if err != nil {
		return nil, err
	}
	return backend.GetAnnotations(ctx, backendQID, path)
}
