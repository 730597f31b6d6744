package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.viam.com/test"

	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/vision/objectdetection"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "markscan.json")
	test.That(t, os.WriteFile(path, []byte(body), 0o600), test.ShouldBeNil)
	return path
}

func TestReadDefaults(t *testing.T) {
	path := writeConfig(t, `{
		"model": {"path": "model.tflite", "labels_path": "labels.txt"},
		"camera": {"path": "frames"}
	}`)
	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)

	dir := filepath.Dir(path)
	test.That(t, cfg.ConfigFilePath, test.ShouldEqual, path)
	test.That(t, cfg.Model.Path, test.ShouldEqual, filepath.Join(dir, "model.tflite"))
	test.That(t, cfg.Model.LabelsPath, test.ShouldEqual, filepath.Join(dir, "labels.txt"))
	test.That(t, cfg.Model.InputWidth, test.ShouldEqual, 640)
	test.That(t, cfg.Model.InputHeight, test.ShouldEqual, 640)
	test.That(t, cfg.Model.NumClasses, test.ShouldEqual, 1)
	test.That(t, cfg.Model.NumAnchors, test.ShouldEqual, 8400)
	test.That(t, *cfg.Model.Resize, test.ShouldBeTrue)
	test.That(t, *cfg.Detector.ConfidenceThreshold, test.ShouldEqual, 0.5)
	test.That(t, cfg.Detector.IOUThreshold, test.ShouldEqual, 0.7)
	test.That(t, cfg.Detector.Suppression, test.ShouldEqual, "class_agnostic")
	test.That(t, cfg.Camera.Type, test.ShouldEqual, CameraDirectory)
	test.That(t, cfg.Camera.Path, test.ShouldEqual, filepath.Join(dir, "frames"))
	test.That(t, cfg.Camera.RefreshHz, test.ShouldEqual, 60.0)
	test.That(t, cfg.Upload.Field, test.ShouldEqual, "file")
	test.That(t, cfg.LogLevel, test.ShouldEqual, logging.INFO)
	test.That(t, cfg.Detector.Postprocessor(), test.ShouldBeNil)

	timeout, err := cfg.Upload.TimeoutDuration()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, timeout, test.ShouldEqual, 30*time.Second)

	desc := cfg.Model.Descriptor()
	test.That(t, desc.Path, test.ShouldEqual, cfg.Model.Path)

	dec := cfg.DecoderConfig([]string{"mark"})
	test.That(t, dec.InputWidth, test.ShouldEqual, 640)
	test.That(t, dec.NumAnchors, test.ShouldEqual, 8400)
	test.That(t, dec.Labels, test.ShouldResemble, []string{"mark"})
	_, err = objectdetection.NewDecoder(dec)
	test.That(t, err, test.ShouldBeNil)
}

func TestReadExplicit(t *testing.T) {
	abs := filepath.Join(t.TempDir(), "abs.tflite")
	path := writeConfig(t, `{
		"model": {"path": "`+abs+`", "weight_shards": ["w1.bin"], "input_width": 320, "input_height": 256,
			"num_classes": 2, "num_anchors": 2100, "resize": false},
		"detector": {"confidence_threshold": 0.25, "iou_threshold": 0.45, "suppression": "per_class",
			"min_area": 10, "keep_labels": ["mark"]},
		"camera": {"type": "static", "path": "still.png", "refresh_hz": 15},
		"display": {"width": 1280, "height": 720},
		"upload": {"url": "http://localhost:9/upload", "timeout": "5s"},
		"log_level": "debug"
	}`)
	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Model.Path, test.ShouldEqual, abs)
	test.That(t, cfg.Model.WeightShards, test.ShouldResemble, []string{filepath.Join(filepath.Dir(path), "w1.bin")})
	test.That(t, *cfg.Model.Resize, test.ShouldBeFalse)
	test.That(t, cfg.Camera.Type, test.ShouldEqual, CameraStatic)
	test.That(t, cfg.LogLevel, test.ShouldEqual, logging.DEBUG)

	sup, err := cfg.Detector.Suppressor()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sup, test.ShouldNotBeNil)

	post := cfg.Detector.Postprocessor()
	test.That(t, post, test.ShouldNotBeNil)
	out := post([]objectdetection.Detection{
		{Box: objectdetection.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, Label: "mark", Confidence: 0.9},
		{Box: objectdetection.Box{X1: 0, Y1: 0, X2: 2, Y2: 2}, Label: "mark", Confidence: 0.9},
		{Box: objectdetection.Box{X1: 0, Y1: 0, X2: 10, Y2: 10}, Label: "other", Confidence: 0.9},
	})
	test.That(t, out, test.ShouldHaveLength, 1)
	test.That(t, out[0].Label, test.ShouldEqual, "mark")

	timeout, err := cfg.Upload.TimeoutDuration()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, timeout, test.ShouldEqual, 5*time.Second)
}

func TestZeroConfidenceThreshold(t *testing.T) {
	cfg, err := FromReader("", strings.NewReader(
		`{"model": {"path": "/m"}, "camera": {"path": "/f"}, "detector": {"confidence_threshold": 0}}`))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, *cfg.Detector.ConfidenceThreshold, test.ShouldEqual, 0.0)
	test.That(t, cfg.DecoderConfig(nil).ConfidenceThreshold, test.ShouldEqual, 0.0)

	dec, err := objectdetection.NewDecoder(cfg.DecoderConfig(nil))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, dec.Config().ConfidenceThreshold, test.ShouldEqual, 0.0)
}

func TestReadEnvSubstitution(t *testing.T) {
	t.Setenv("MARKSCAN_MODEL", "/opt/models/marks.tflite")
	path := writeConfig(t, `{"model": {"path": "${MARKSCAN_MODEL}"}, "camera": {"path": "/frames"}}`)
	cfg, err := Read(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, cfg.Model.Path, test.ShouldEqual, "/opt/models/marks.tflite")
}

func TestReadErrors(t *testing.T) {
	_, err := Read(filepath.Join(t.TempDir(), "missing.json"))
	test.That(t, err, test.ShouldNotBeNil)

	_, err = FromReader("", strings.NewReader("{"))
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "failed to decode Config from json")

	_, err = FromReader("", strings.NewReader(`{"modle": {}}`))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name string
		body string
		msg  string
	}{
		{"missing model path", `{"camera": {"path": "/f"}}`, `"path" is required`},
		{"missing camera path", `{"model": {"path": "/m"}}`, `error validating "camera"`},
		{"bad camera type", `{"model": {"path": "/m"}, "camera": {"type": "usb", "path": "/f"}}`, "unknown camera type"},
		{"bad confidence", `{"model": {"path": "/m"}, "camera": {"path": "/f"}, "detector": {"confidence_threshold": 1.5}}`,
			"confidence_threshold"},
		{"bad iou", `{"model": {"path": "/m"}, "camera": {"path": "/f"}, "detector": {"iou_threshold": 2}}`, "iou_threshold"},
		{"bad suppression", `{"model": {"path": "/m"}, "camera": {"path": "/f"}, "detector": {"suppression": "soft"}}`,
			`error validating "detector"`},
		{"half display", `{"model": {"path": "/m"}, "camera": {"path": "/f"}, "display": {"width": 10}}`, "display size"},
		{"bad timeout", `{"model": {"path": "/m"}, "camera": {"path": "/f"}, "upload": {"timeout": "soon"}}`, "invalid timeout"},
		{"negative threads", `{"model": {"path": "/m", "num_threads": -1}, "camera": {"path": "/f"}}`, "num_threads"},
		{"bad log level", `{"model": {"path": "/m"}, "camera": {"path": "/f"}, "log_level": "loud"}`, "unknown log level"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := FromReader("", strings.NewReader(tc.body))
			test.That(t, err, test.ShouldNotBeNil)
			test.That(t, err.Error(), test.ShouldContainSubstring, tc.msg)
		})
	}
}
