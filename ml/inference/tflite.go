//go:build !no_tflite && !no_cgo

package inference

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	tflite "github.com/mattn/go-tflite"
	"github.com/pkg/errors"
	"go.opencensus.io/trace"

	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/ml"
)

// TFLiteLoader loads tflite flatbuffers and runs them on the CPU.
type TFLiteLoader struct {
	pool   *ml.Pool
	logger logging.Logger
}

// NewTFLiteLoader returns a loader whose backends allocate their outputs from pool.
func NewTFLiteLoader(pool *ml.Pool, logger logging.Logger) (*TFLiteLoader, error) {
	if pool == nil {
		return nil, errors.New("tflite loader needs a buffer pool")
	}
	return &TFLiteLoader{pool: pool, logger: logger}, nil
}

// Load reads the model file, and any weight shards after it, and prepares an interpreter.
func (l *TFLiteLoader) Load(ctx context.Context, desc ModelDescriptor) (Backend, error) {
	_, span := trace.StartSpan(ctx, "inference::tflite::Load")
	defer span.End()

	data, err := readModelBytes(desc)
	if err != nil {
		return nil, err
	}
	model := tflite.NewModel(data)
	if model == nil {
		return nil, errors.Errorf("failed to load %s", desc.Path)
	}

	numThreads := desc.NumThreads
	if numThreads <= 0 {
		numThreads = runtime.NumCPU()
	}
	options := tflite.NewInterpreterOptions()
	if options == nil {
		model.Delete()
		return nil, errors.New("interpreter options failed to be created")
	}
	options.SetNumThread(numThreads)
	options.SetErrorReporter(func(msg string, _ interface{}) {
		l.logger.Warnw("tflite", "msg", msg)
	}, nil)

	interpreter := tflite.NewInterpreter(model, options)
	if interpreter == nil {
		options.Delete()
		model.Delete()
		return nil, errors.New("failed to create interpreter")
	}
	if status := interpreter.AllocateTensors(); status != tflite.OK {
		interpreter.Delete()
		options.Delete()
		model.Delete()
		return nil, errors.New("failed to allocate tensors")
	}

	l.logger.Infow("loaded tflite model", "path", desc.Path, "shards", len(desc.WeightShards), "threads", numThreads)
	return &tfliteBackend{
		pool:        l.pool,
		model:       model,
		options:     options,
		interpreter: interpreter,
	}, nil
}

func readModelBytes(desc ModelDescriptor) ([]byte, error) {
	var buf bytes.Buffer
	for _, p := range append([]string{desc.Path}, desc.WeightShards...) {
		data, err := os.ReadFile(filepath.Clean(p))
		if err != nil {
			return nil, errors.Wrapf(err, "file not found at %s", p)
		}
		buf.Write(data)
	}
	return buf.Bytes(), nil
}

type tfliteBackend struct {
	mu          sync.Mutex
	pool        *ml.Pool
	model       *tflite.Model
	options     *tflite.InterpreterOptions
	interpreter *tflite.Interpreter
	closed      bool
}

func (b *tfliteBackend) Infer(ctx context.Context, in *ml.Buffer) (*ml.Buffer, error) {
	_, span := trace.StartSpan(ctx, "inference::tflite::Infer")
	defer span.End()

	data := in.Data()
	if data == nil {
		return nil, ml.ErrReleased
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errors.New("model is closed")
	}

	input := b.interpreter.GetInputTensor(0)
	if status := input.CopyFromBuffer(data); status != tflite.OK {
		return nil, errors.New("copying to buffer failed")
	}
	if status := b.interpreter.Invoke(); status != tflite.OK {
		return nil, errors.New("invoke failed")
	}

	output := b.interpreter.GetOutputTensor(0)
	shape := make([]int, output.NumDims())
	for i := range shape {
		shape[i] = output.Dim(i)
	}
	var values []float32
	switch output.Type() {
	case tflite.Float32:
		values = output.Float32s()
	case tflite.UInt8:
		converted, err := ml.ConvertToFloat32Slice(output.UInt8s())
		if err != nil {
			return nil, err
		}
		values = converted
	default:
		return nil, errors.Errorf("unsupported output tensor type %s", output.Type())
	}

	out, err := b.pool.Get(shape...)
	if err != nil {
		return nil, err
	}
	copy(out.Data(), values)
	return out, nil
}

// Close should be called at the end of using the interpreter to delete the instance and related parts.
func (b *tfliteBackend) Close(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.interpreter.Delete()
	b.options.Delete()
	b.model.Delete()
	return nil
}
