// Package config defines the JSON configuration of the markscan daemon.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/a8m/envsubst"
	"github.com/pkg/errors"

	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/ml/inference"
	"go.markscan.dev/markscan/utils"
	"go.markscan.dev/markscan/vision/objectdetection"
)

// Camera types.
const (
	CameraStatic    = "static"
	CameraDirectory = "directory"
)

// Config is the whole daemon configuration.
type Config struct {
	ConfigFilePath string `json:"-"`

	Model    ModelConfig    `json:"model"`
	Detector DetectorConfig `json:"detector"`
	Camera   CameraConfig   `json:"camera"`
	Display  DisplayConfig  `json:"display"`
	QR       QRConfig       `json:"qr"`
	Upload   UploadConfig   `json:"upload"`
	HTTP     HTTPConfig     `json:"http"`
	LogLevel logging.Level  `json:"log_level"`
}

// ModelConfig describes the detection model and its output layout.
type ModelConfig struct {
	Path         string   `json:"path"`
	WeightShards []string `json:"weight_shards,omitempty"`
	NumThreads   int      `json:"num_threads,omitempty"`
	InputWidth   int      `json:"input_width"`
	InputHeight  int      `json:"input_height"`
	NumClasses   int      `json:"num_classes"`
	NumAnchors   int      `json:"num_anchors"`
	LabelsPath   string   `json:"labels_path,omitempty"`
	// Resize frames that do not match the model input. Defaults to true.
	Resize *bool `json:"resize,omitempty"`
}

// DetectorConfig holds the decoding and suppression thresholds.
type DetectorConfig struct {
	// ConfidenceThreshold defaults to 0.5 when unset. Zero is a valid threshold.
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	IOUThreshold        float64  `json:"iou_threshold"`
	Suppression         string   `json:"suppression"`
	MinArea             float64  `json:"min_area,omitempty"`
	KeepLabels          []string `json:"keep_labels,omitempty"`
}

// CameraConfig selects the frame source.
type CameraConfig struct {
	Type      string  `json:"type"`
	Path      string  `json:"path"`
	Loop      bool    `json:"loop"`
	RefreshHz float64 `json:"refresh_hz"`
}

// DisplayConfig is the size overlays are mapped into. Zero means the frame size.
type DisplayConfig struct {
	Width  int `json:"width,omitempty"`
	Height int `json:"height,omitempty"`
}

// QRConfig turns on the QR side channel.
type QRConfig struct {
	Enabled   bool `json:"enabled"`
	TryHarder bool `json:"try_harder,omitempty"`
}

// UploadConfig is the still-capture endpoint. An empty URL disables capture.
type UploadConfig struct {
	URL     string `json:"url,omitempty"`
	Field   string `json:"field,omitempty"`
	Timeout string `json:"timeout,omitempty"`
	Quality int    `json:"quality,omitempty"`
}

// HTTPConfig is the status server. An empty address disables it.
type HTTPConfig struct {
	Address string `json:"address,omitempty"`
}

// Read reads a config from the given file, expanding environment variables first.
func Read(filePath string) (*Config, error) {
	buf, err := envsubst.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return FromReader(filePath, bytes.NewReader(buf))
}

// FromReader reads a config from the given reader and specifies
// where, if applicable, the file the reader originated from. Relative paths in the config are
// resolved against that file's directory.
func FromReader(originalPath string, r io.Reader) (*Config, error) {
	cfg := Config{ConfigFilePath: originalPath}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode Config from json")
	}
	cfg.applyDefaults()
	cfg.resolvePaths()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Model.InputWidth == 0 {
		c.Model.InputWidth = 640
	}
	if c.Model.InputHeight == 0 {
		c.Model.InputHeight = 640
	}
	if c.Model.NumClasses == 0 {
		c.Model.NumClasses = 1
	}
	if c.Model.NumAnchors == 0 {
		c.Model.NumAnchors = 8400
	}
	if c.Model.Resize == nil {
		resize := true
		c.Model.Resize = &resize
	}
	if c.Detector.ConfidenceThreshold == nil {
		threshold := objectdetection.DefaultConfidenceThreshold
		c.Detector.ConfidenceThreshold = &threshold
	}
	if c.Detector.IOUThreshold == 0 {
		c.Detector.IOUThreshold = objectdetection.DefaultIOUThreshold
	}
	if c.Detector.Suppression == "" {
		c.Detector.Suppression = objectdetection.ClassAgnostic.String()
	}
	if c.Camera.Type == "" {
		c.Camera.Type = CameraDirectory
	}
	if c.Camera.RefreshHz == 0 {
		c.Camera.RefreshHz = 60
	}
	if c.Upload.Field == "" {
		c.Upload.Field = "file"
	}
	if c.Upload.Timeout == "" {
		c.Upload.Timeout = "30s"
	}
}

func (c *Config) resolvePaths() {
	if c.ConfigFilePath == "" {
		return
	}
	dir := filepath.Dir(c.ConfigFilePath)
	resolve := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(dir, p)
	}
	c.Model.Path = resolve(c.Model.Path)
	c.Model.LabelsPath = resolve(c.Model.LabelsPath)
	for i, shard := range c.Model.WeightShards {
		c.Model.WeightShards[i] = resolve(shard)
	}
	c.Camera.Path = resolve(c.Camera.Path)
}

// Validate ensures all parts of the config are valid.
func (c *Config) Validate() error {
	if err := c.Model.Validate("model"); err != nil {
		return err
	}
	if err := c.Detector.Validate("detector"); err != nil {
		return err
	}
	if err := c.Camera.Validate("camera"); err != nil {
		return err
	}
	if err := c.Display.Validate("display"); err != nil {
		return err
	}
	return c.Upload.Validate("upload")
}

// Validate ensures all parts of the config are valid.
func (m *ModelConfig) Validate(path string) error {
	if m.Path == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "path")
	}
	if m.InputWidth < 1 || m.InputHeight < 1 {
		return utils.NewConfigValidationError(path,
			errors.Errorf("input size must be positive, got %dx%d", m.InputWidth, m.InputHeight))
	}
	if m.NumClasses < 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("num_classes must be at least 1, got %d", m.NumClasses))
	}
	if m.NumAnchors < 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("num_anchors must be at least 1, got %d", m.NumAnchors))
	}
	if m.NumThreads < 0 {
		return utils.NewConfigValidationError(path, errors.New("num_threads cannot be negative"))
	}
	return nil
}

// Descriptor is the model descriptor handed to the loader.
func (m *ModelConfig) Descriptor() inference.ModelDescriptor {
	return inference.ModelDescriptor{
		Path:         m.Path,
		WeightShards: append([]string(nil), m.WeightShards...),
		NumThreads:   m.NumThreads,
	}
}

// Validate ensures all parts of the config are valid.
func (d *DetectorConfig) Validate(path string) error {
	if d.ConfidenceThreshold == nil {
		return utils.NewConfigValidationFieldRequiredError(path, "confidence_threshold")
	}
	if threshold := *d.ConfidenceThreshold; !(threshold >= 0 && threshold <= 1) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("confidence_threshold must be in [0, 1], got %v", threshold))
	}
	if d.IOUThreshold <= 0 || d.IOUThreshold > 1 {
		return utils.NewConfigValidationError(path, errors.Errorf("iou_threshold must be in (0, 1], got %v", d.IOUThreshold))
	}
	if _, err := objectdetection.ParseSuppressionPolicy(d.Suppression); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if d.MinArea < 0 {
		return utils.NewConfigValidationError(path, errors.New("min_area cannot be negative"))
	}
	return nil
}

// Postprocessor builds the filters applied after suppression, or nil when none are configured.
func (d *DetectorConfig) Postprocessor() objectdetection.Postprocessor {
	var posts []objectdetection.Postprocessor
	if d.MinArea > 0 {
		posts = append(posts, objectdetection.NewAreaFilter(d.MinArea))
	}
	if len(d.KeepLabels) > 0 {
		posts = append(posts, objectdetection.NewLabelFilter(d.KeepLabels...))
	}
	if len(posts) == 0 {
		return nil
	}
	return objectdetection.Chain(posts...)
}

// Validate ensures all parts of the config are valid.
func (c *CameraConfig) Validate(path string) error {
	switch c.Type {
	case CameraStatic, CameraDirectory:
	default:
		return utils.NewConfigValidationError(path, errors.Errorf("unknown camera type %q", c.Type))
	}
	if c.Path == "" {
		return utils.NewConfigValidationFieldRequiredError(path, "path")
	}
	if c.RefreshHz < 0 {
		return utils.NewConfigValidationError(path, errors.Errorf("refresh_hz cannot be negative, got %v", c.RefreshHz))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (d *DisplayConfig) Validate(path string) error {
	if d.Width < 0 || d.Height < 0 || (d.Width == 0) != (d.Height == 0) {
		return utils.NewConfigValidationError(path,
			errors.Errorf("display size must be both positive or both zero, got %dx%d", d.Width, d.Height))
	}
	return nil
}

// Validate ensures all parts of the config are valid.
func (u *UploadConfig) Validate(path string) error {
	if _, err := u.TimeoutDuration(); err != nil {
		return utils.NewConfigValidationError(path, err)
	}
	if u.Quality < 0 || u.Quality > 100 {
		return utils.NewConfigValidationError(path, fmt.Errorf("quality must be in [0, 100], got %d", u.Quality))
	}
	return nil
}

// TimeoutDuration parses the upload timeout.
func (u *UploadConfig) TimeoutDuration() (time.Duration, error) {
	d, err := time.ParseDuration(u.Timeout)
	if err != nil {
		return 0, errors.Wrap(err, "invalid timeout")
	}
	if d <= 0 {
		return 0, errors.Errorf("timeout must be positive, got %v", d)
	}
	return d, nil
}

// DecoderConfig builds the decoder configuration for this model.
func (c *Config) DecoderConfig(labels []string) objectdetection.DecoderConfig {
	return objectdetection.DecoderConfig{
		InputWidth:          c.Model.InputWidth,
		InputHeight:         c.Model.InputHeight,
		NumClasses:          c.Model.NumClasses,
		NumAnchors:          c.Model.NumAnchors,
		ConfidenceThreshold: *c.Detector.ConfidenceThreshold,
		Labels:              labels,
	}
}

// Suppressor builds the non-maximum suppressor.
func (d *DetectorConfig) Suppressor() (*objectdetection.Suppressor, error) {
	policy, err := objectdetection.ParseSuppressionPolicy(d.Suppression)
	if err != nil {
		return nil, err
	}
	return objectdetection.NewSuppressor(d.IOUThreshold, policy)
}
