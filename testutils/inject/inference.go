package inject

import (
	"context"

	"go.markscan.dev/markscan/ml"
	"go.markscan.dev/markscan/ml/inference"
)

// Backend is an injected inference backend.
type Backend struct {
	inference.Backend
	InferFunc func(ctx context.Context, in *ml.Buffer) (*ml.Buffer, error)
	CloseFunc func(ctx context.Context) error
}

// Infer calls the injected Infer or the real version.
func (b *Backend) Infer(ctx context.Context, in *ml.Buffer) (*ml.Buffer, error) {
	if b.InferFunc == nil {
		return b.Backend.Infer(ctx, in)
	}
	return b.InferFunc(ctx, in)
}

// Close calls the injected Close or the real version.
func (b *Backend) Close(ctx context.Context) error {
	if b.CloseFunc == nil {
		if b.Backend == nil {
			return nil
		}
		return b.Backend.Close(ctx)
	}
	return b.CloseFunc(ctx)
}

// Loader is an injected model loader.
type Loader struct {
	inference.Loader
	LoadFunc func(ctx context.Context, desc inference.ModelDescriptor) (inference.Backend, error)
}

// Load calls the injected Load or the real version.
func (l *Loader) Load(ctx context.Context, desc inference.ModelDescriptor) (inference.Backend, error) {
	if l.LoadFunc == nil {
		return l.Loader.Load(ctx, desc)
	}
	return l.LoadFunc(ctx, desc)
}
