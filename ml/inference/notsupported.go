//go:build no_tflite || no_cgo

package inference

import (
	"context"

	"github.com/pkg/errors"

	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/ml"
)

// TFLiteLoader is unavailable in builds without cgo.
type TFLiteLoader struct{}

// NewTFLiteLoader always fails in this build.
func NewTFLiteLoader(_ *ml.Pool, _ logging.Logger) (*TFLiteLoader, error) {
	return nil, errors.New("tflite is not supported in this build")
}

// Load always fails in this build.
func (l *TFLiteLoader) Load(_ context.Context, _ ModelDescriptor) (Backend, error) {
	return nil, errors.New("tflite is not supported in this build")
}
