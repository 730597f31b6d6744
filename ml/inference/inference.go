// Package inference loads detection models and runs them on preprocessed tensors.
package inference

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.opencensus.io/trace"
	goutils "go.viam.com/utils"

	"go.markscan.dev/markscan/ml"
)

// ErrModelNotReady is returned when inference is requested before a model has loaded.
var ErrModelNotReady = errors.New("model is not ready")

// ModelDescriptor names the files a model is loaded from.
type ModelDescriptor struct {
	Path string
	// WeightShards are appended to the model file in order, for models split across files.
	WeightShards []string
	NumThreads   int
}

// Backend runs a loaded model. Infer never takes ownership of in; the returned buffer belongs to the
// caller, who must release it.
type Backend interface {
	Infer(ctx context.Context, in *ml.Buffer) (*ml.Buffer, error)
	Close(ctx context.Context) error
}

// Loader builds a Backend from a model descriptor.
type Loader interface {
	Load(ctx context.Context, desc ModelDescriptor) (Backend, error)
}

// LoaderFunc adapts a function to a Loader.
type LoaderFunc func(ctx context.Context, desc ModelDescriptor) (Backend, error)

// Load calls f.
func (f LoaderFunc) Load(ctx context.Context, desc ModelDescriptor) (Backend, error) {
	return f(ctx, desc)
}

// LoadError is a model that failed to load. It disables inference for the life of the process.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load model %q: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// InvocationError is a failed inference on a single input. It only affects that input.
type InvocationError struct {
	Err error
}

func (e *InvocationError) Error() string {
	return "inference failed: " + e.Err.Error()
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// Load loads a model with loader, wrapping any failure in a *LoadError.
func Load(ctx context.Context, loader Loader, desc ModelDescriptor) (Backend, error) {
	ctx, span := trace.StartSpan(ctx, "inference::Load")
	defer span.End()

	if loader == nil {
		return nil, &LoadError{Path: desc.Path, Err: errors.New("no model loader configured")}
	}
	backend, err := loader.Load(ctx, desc)
	if err != nil {
		return nil, &LoadError{Path: desc.Path, Err: err}
	}
	if backend == nil {
		return nil, &LoadError{Path: desc.Path, Err: errors.New("loader returned no model")}
	}
	return backend, nil
}

// Invoke runs backend on in. Failures come back as *InvocationError; an output buffer is only
// returned on success.
func Invoke(ctx context.Context, backend Backend, in *ml.Buffer) (*ml.Buffer, error) {
	ctx, span := trace.StartSpan(ctx, "inference::Invoke")
	defer span.End()

	if backend == nil {
		return nil, ErrModelNotReady
	}
	out, err := backend.Infer(ctx, in)
	if err != nil {
		if out != nil {
			goutils.UncheckedError(out.Release())
		}
		return nil, &InvocationError{Err: err}
	}
	if out == nil {
		return nil, &InvocationError{Err: errors.New("backend returned no output")}
	}
	return out, nil
}
