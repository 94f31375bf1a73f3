package service

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the search service. Every failed call wraps exactly one kind.
var (
	// ErrInvalidQuery is returned for malformed requests (empty query text).
	ErrInvalidQuery = errors.New("invalid query")

	// ErrNotReady is returned when a required model has not finished loading.
	ErrNotReady = errors.New("not ready")

	// ErrServiceUnavailable is returned when a configured dependency is absent.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrIndexUnavailable is returned when the vector index cannot be reached.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrIndexQueryFailed is returned when the vector index rejected the query.
	ErrIndexQueryFailed = errors.New("index query failed")

	// ErrInferenceFailed is returned when a loaded model failed to produce output.
	ErrInferenceFailed = errors.New("inference failed")

	// ErrNotImplemented is returned by disabled optional features.
	ErrNotImplemented = errors.New("not implemented")
)

// Stage names a step of the search pipeline.
type Stage string

const (
	StageValidate Stage = "validate"
	StageEncode   Stage = "encode"
	StageSearch   Stage = "search"
	StageRerank   Stage = "rerank"
)

// StageError reports which pipeline stage failed, the error kind and the cause.
type StageError struct {
	Stage Stage
	Kind  error
	Err   error
}

func (e *StageError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Stage, e.Kind, e.Err)
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *StageError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func stageErr(stage Stage, kind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}

// KindOf returns the error kind carried by err, or nil when it has none.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrInvalidQuery,
		ErrNotReady,
		ErrServiceUnavailable,
		ErrIndexUnavailable,
		ErrIndexQueryFailed,
		ErrInferenceFailed,
		ErrNotImplemented,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
