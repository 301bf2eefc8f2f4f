package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrBackendUnreachable is returned when the backend engine does not
	// answer a self test.
	ErrBackendUnreachable = errors.New("engine: backend unreachable")

	// ErrUnknownEngine is returned for an engine name outside the
	// configured set.
	ErrUnknownEngine = errors.New("engine: unknown engine")
)

// QueryIDError indicates an invalid or unknown backend query id.
type QueryIDError struct {
	Msg string
}

func (e *QueryIDError) Error() string { return "engine: " + e.Msg }

// ClassifierTrainError indicates that classifier training failed in the
// backend.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ClassifierTrainError struct {
	Msg   string
	cause error
}

func (e *ClassifierTrainError) Error() string { return "engine: " + e.Msg }

func (e *ClassifierTrainError) Unwrap() error { return e.cause }

// ClassifierSaveLoadError indicates that a classifier file could not be
// saved or restored.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ClassifierSaveLoadError struct {
	Path  string
	cause error
}

func (e *ClassifierSaveLoadError) Error() string {
	return fmt.Sprintf("engine: could not save/load classifier at %s", e.Path)
}

func (e *ClassifierSaveLoadError) Unwrap() error { return e.cause }

// AnnoSaveLoadError indicates that an annotation file could not be saved or
// restored.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type AnnoSaveLoadError struct {
	Path  string
	cause error
}

func (e *AnnoSaveLoadError) Error() string {
	return fmt.Sprintf("engine: could not save/load annotations at %s", e.Path)
}

func (e *AnnoSaveLoadError) Unwrap() error { return e.cause }

// FeatureCompError indicates that feature computation failed for a
// training image.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type FeatureCompError struct {
	Image string
	cause error
}

func (e *FeatureCompError) Error() string {
	return fmt.Sprintf("engine: failed computing features of %s", e.Image)
}

func (e *FeatureCompError) Unwrap() error { return e.cause }

// ResultReadError indicates that a ranked result list could not be read
// back from the backend.
//
// The original underlying error (if any) can be accessed via errors.Unwrap.
type ResultReadError struct {
	Msg   string
	cause error
}

func (e *ResultReadError) Error() string { return "engine: " + e.Msg }

func (e *ResultReadError) Unwrap() error { return e.cause }
