package objectdetection

import (
	"math"
	"strconv"

	"github.com/pkg/errors"
	"gorgonia.org/tensor"

	"go.markscan.dev/markscan/ml"
	"go.markscan.dev/markscan/utils"
)

// boxParams is the number of leading channels holding xc, yc, w, h.
const boxParams = 4

// DefaultConfidenceThreshold is the minimum class score an anchor needs to become a candidate.
const DefaultConfidenceThreshold = 0.5

// DecoderConfig describes the output layout of the model.
type DecoderConfig struct {
	// InputWidth and InputHeight are the model input size the raw boxes are expressed in.
	InputWidth, InputHeight int
	NumClasses              int
	NumAnchors              int
	ConfidenceThreshold     float64
	// Labels names the classes by index. When empty the index is used as the label.
	Labels []string
}

// Decoder turns a channel-major (4+C) x A raw output into candidates.
type Decoder struct {
	cfg DecoderConfig
}

// NewDecoder validates the config and returns a decoder.
func NewDecoder(cfg DecoderConfig) (*Decoder, error) {
	if cfg.InputWidth <= 0 || cfg.InputHeight <= 0 {
		return nil, errors.Errorf("model input size must be positive, got %dx%d", cfg.InputWidth, cfg.InputHeight)
	}
	if cfg.NumClasses < 1 {
		return nil, errors.Errorf("need at least one class, got %d", cfg.NumClasses)
	}
	if cfg.NumAnchors < 1 {
		return nil, errors.Errorf("need at least one anchor, got %d", cfg.NumAnchors)
	}
	if cfg.ConfidenceThreshold < 0 || cfg.ConfidenceThreshold > 1 {
		return nil, errors.Errorf("confidence threshold must be in [0, 1], got %v", cfg.ConfidenceThreshold)
	}
	if len(cfg.Labels) != 0 && len(cfg.Labels) != cfg.NumClasses {
		return nil, errors.Errorf("length of label list (%d) expected to be the number of classes (%d)",
			len(cfg.Labels), cfg.NumClasses)
	}
	return &Decoder{cfg: cfg}, nil
}

// Config returns the decoder's configuration.
func (d *Decoder) Config() DecoderConfig {
	return d.cfg
}

// OutputShape is the raw output shape the decoder expects, without the batch dimension.
func (d *Decoder) OutputShape() []int {
	return []int{boxParams + d.cfg.NumClasses, d.cfg.NumAnchors}
}

// CheckShape returns a *ShapeError unless shape is (4+C, A) or (1, 4+C, A) and holds n values.
func (d *Decoder) CheckShape(shape []int, n int) error {
	expected := d.OutputShape()
	dims := shape
	if len(dims) == 3 && dims[0] == 1 {
		dims = dims[1:]
	}
	if len(dims) != 2 || dims[0] != expected[0] || dims[1] != expected[1] || n != expected[0]*expected[1] {
		return &ShapeError{Expected: expected, Got: append([]int(nil), shape...), Len: n}
	}
	return nil
}

// DecodeBuffer decodes a raw output buffer. The output is transposed to anchor-major order through
// its tensor view first, so every anchor's box and scores are read from one contiguous row. The
// buffer is not released or modified.
func (d *Decoder) DecodeBuffer(raw *ml.Buffer, imgWidth, imgHeight int) ([]Candidate, error) {
	dense, err := raw.Tensor()
	if err != nil {
		return nil, err
	}
	shape := raw.Shape()
	if err := d.CheckShape(shape, dense.Len()); err != nil {
		return nil, err
	}
	axes := []int{1, 0}
	if len(shape) == 3 {
		axes = []int{0, 2, 1}
	}
	transposed, err := tensor.Transpose(dense, axes...)
	if err != nil {
		return nil, errors.Wrap(err, "cannot transpose model output")
	}
	rows, ok := transposed.Data().([]float32)
	if !ok {
		return nil, errors.Errorf("expected float32 model output, got %T", transposed.Data())
	}
	stride := boxParams + d.cfg.NumClasses
	return d.decode(func(channel, anchor int) float64 {
		return float64(rows[anchor*stride+channel])
	}, imgWidth, imgHeight), nil
}

// Decode walks every anchor of a channel-major output, keeps the ones whose best class score is at
// least the confidence threshold and rescales their boxes from model input space to
// imgWidth x imgHeight. Candidates are returned in anchor order.
func (d *Decoder) Decode(raw []float32, shape []int, imgWidth, imgHeight int) ([]Candidate, error) {
	if err := d.CheckShape(shape, len(raw)); err != nil {
		return nil, err
	}
	anchors := d.cfg.NumAnchors
	return d.decode(func(channel, anchor int) float64 {
		return float64(raw[channel*anchors+anchor])
	}, imgWidth, imgHeight), nil
}

func (d *Decoder) decode(at func(channel, anchor int) float64, imgWidth, imgHeight int) []Candidate {
	inW, inH := float64(d.cfg.InputWidth), float64(d.cfg.InputHeight)
	var candidates []Candidate
	for i := 0; i < d.cfg.NumAnchors; i++ {
		// non-finite scores never win the argmax, and NaN never passes the threshold
		classIdx, confidence := -1, 0.0
		for c := 0; c < d.cfg.NumClasses; c++ {
			score := at(boxParams+c, i)
			if !isFinite(score) {
				continue
			}
			if classIdx < 0 || score > confidence {
				classIdx, confidence = c, score
			}
		}
		if classIdx < 0 || !(confidence >= d.cfg.ConfidenceThreshold) {
			continue
		}

		box := BoxFromCenter(at(0, i), at(1, i), at(2, i), at(3, i))
		if !isFinite(box.X1) || !isFinite(box.Y1) || !isFinite(box.X2) || !isFinite(box.Y2) {
			continue
		}
		box = Box{
			X1: utils.Clamp(box.X1, 0, inW),
			Y1: utils.Clamp(box.Y1, 0, inH),
			X2: utils.Clamp(box.X2, 0, inW),
			Y2: utils.Clamp(box.Y2, 0, inH),
		}
		candidates = append(candidates, Candidate{
			Box:        box.Rescale(d.cfg.InputWidth, d.cfg.InputHeight, imgWidth, imgHeight),
			ClassIndex: classIdx,
			Label:      d.label(classIdx),
			Confidence: confidence,
		})
	}
	return candidates
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func (d *Decoder) label(classIdx int) string {
	if len(d.cfg.Labels) == 0 {
		return strconv.Itoa(classIdx)
	}
	return d.cfg.Labels[classIdx]
}
