package cli

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.viam.com/test"

	"go.markscan.dev/markscan/config"
	"go.markscan.dev/markscan/detector"
	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/ml"
	"go.markscan.dev/markscan/ml/inference"
	"go.markscan.dev/markscan/rimage"
	"go.markscan.dev/markscan/testutils/inject"
)

func writeFrame(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "frame.png")
	test.That(t, rimage.SaveImage(image.NewRGBA(image.Rect(0, 0, 64, 64)), path), test.ShouldBeNil)
	return path
}

func TestDetect(t *testing.T) {
	dir := t.TempDir()
	framePath := writeFrame(t, dir)
	cfg, err := config.FromReader("", strings.NewReader(fmt.Sprintf(`{
		"model": {"path": "/models/marks.tflite", "input_width": 64, "input_height": 64, "num_anchors": 2},
		"camera": {"type": "static", "path": %q},
		"http": {"address": "127.0.0.1:0"}
	}`, framePath)))
	test.That(t, err, test.ShouldBeNil)

	pool := ml.NewPool()
	backend := &inject.Backend{}
	backend.InferFunc = func(ctx context.Context, in *ml.Buffer) (*ml.Buffer, error) {
		return pool.Wrap([]float32{32, 34, 32, 32, 20, 20, 20, 20, 0.9, 0.8}, 1, 5, 2)
	}
	loader := &inject.Loader{}
	loader.LoadFunc = func(ctx context.Context, desc inference.ModelDescriptor) (inference.Backend, error) {
		return backend, nil
	}

	var out bytes.Buffer
	outputPath := filepath.Join(dir, "annotated.png")
	err = detect(context.Background(), cfg, framePath, outputPath, &out, logging.NewTestLogger(t),
		detector.WithLoader(loader))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.HTTP.Address, test.ShouldEqual, "")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	test.That(t, lines, test.ShouldHaveLength, 2)
	test.That(t, lines[0], test.ShouldContainSubstring, "Prediction: 0 0.90")
	test.That(t, lines[1], test.ShouldEqual, "0\t0.90\t22.0,22.0,42.0,42.0")

	annotated, err := rimage.ReadImageFromFile(outputPath)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, annotated.Bounds().Size(), test.ShouldResemble, image.Pt(64, 64))
	test.That(t, pool.Outstanding(), test.ShouldEqual, 0)
}

func TestDetectMissingImage(t *testing.T) {
	cfg := &config.Config{}
	err := detect(context.Background(), cfg, filepath.Join(t.TempDir(), "missing.png"), "", &bytes.Buffer{},
		logging.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDetectActionArguments(t *testing.T) {
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run([]string{"markscan", "detect", "--config", "/nonexistent.json"})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "image file is required")
}

func TestUploadAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _, err := r.FormFile("photo")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		//nolint:errcheck
		w.Write([]byte(`{"id": "abc", "image_marked": "https://marks.example/abc.png"}`))
	}))
	defer srv.Close()

	framePath := writeFrame(t, t.TempDir())
	var out, errOut bytes.Buffer
	err := NewApp(&out, &errOut).Run([]string{"markscan", "upload", "--url", srv.URL, "--field", "photo", framePath})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, out.String(), test.ShouldContainSubstring, "image_marked: https://marks.example/abc.png")

	err = NewApp(&out, &errOut).Run([]string{"markscan", "upload", "--url", srv.URL})
	test.That(t, err, test.ShouldNotBeNil)

	_, err = os.Stat(framePath)
	test.That(t, err, test.ShouldBeNil)
}
