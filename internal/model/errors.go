package model

import (
	"errors"
	"fmt"
)

// ErrClosed is returned by an engine that has been shut down.
var ErrClosed = errors.New("model server closed")

// InvalidImageError reports an upload that cannot be turned into a tensor.
type InvalidImageError struct {
	Reason string
	Err    error
}

func (e *InvalidImageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid image: %s: %v", e.Reason, e.Err)
	}
	return "invalid image: " + e.Reason
}

func (e *InvalidImageError) Unwrap() error { return e.Err }

// ShapeMismatchError means a tensor reached the classifier with the wrong
// shape. Outside of the raw tensor endpoint it indicates a preprocessing bug.
type ShapeMismatchError struct {
	Want    []int64
	Got     []int64
	DataLen int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("tensor shape mismatch: want %v, got %v with %d values", e.Want, e.Got, e.DataLen)
}

type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failed: %v", e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ModelLoadError is fatal: a process holding one must not serve requests.
type ModelLoadError struct {
	Path string
	Err  error
}

func (e *ModelLoadError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to load model: %v", e.Err)
	}
	return fmt.Sprintf("failed to load model %s: %v", e.Path, e.Err)
}

func (e *ModelLoadError) Unwrap() error { return e.Err }
