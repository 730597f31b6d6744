package objectdetection

import (
	"testing"

	"go.viam.com/test"
)

func newTestSuppressor(t *testing.T, policy SuppressionPolicy) *Suppressor {
	t.Helper()
	s, err := NewSuppressor(DefaultIOUThreshold, policy)
	test.That(t, err, test.ShouldBeNil)
	return s
}

func TestNewSuppressorValidation(t *testing.T) {
	_, err := NewSuppressor(0, ClassAgnostic)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSuppressor(1.1, ClassAgnostic)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewSuppressor(0.5, SuppressionPolicy(7))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestParseSuppressionPolicy(t *testing.T) {
	p, err := ParseSuppressionPolicy("")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, ClassAgnostic)
	p, err = ParseSuppressionPolicy("PER_CLASS")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldEqual, PerClass)
	test.That(t, p.String(), test.ShouldEqual, "per_class")
	_, err = ParseSuppressionPolicy("greedy")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestSuppressOrdering(t *testing.T) {
	s := newTestSuppressor(t, ClassAgnostic)
	in := []Candidate{
		{Box: Box{0, 0, 10, 10}, Label: "low", Confidence: 0.6},
		{Box: Box{100, 100, 110, 110}, Label: "high", Confidence: 0.95},
		{Box: Box{200, 200, 210, 210}, Label: "tie-a", Confidence: 0.8},
		{Box: Box{300, 300, 310, 310}, Label: "tie-b", Confidence: 0.8},
	}
	out := s.Suppress(in)
	test.That(t, out, test.ShouldHaveLength, 4)
	labels := []string{out[0].Label, out[1].Label, out[2].Label, out[3].Label}
	test.That(t, labels, test.ShouldResemble, []string{"high", "tie-a", "tie-b", "low"})

	// input untouched
	test.That(t, in[0].Label, test.ShouldEqual, "low")
}

func TestSuppressThresholdIsInclusive(t *testing.T) {
	s := newTestSuppressor(t, ClassAgnostic)
	a := Candidate{Box: Box{0, 0, 10, 10}, Confidence: 0.9}
	b := Candidate{Box: Box{0, 0, 10, 7}, Confidence: 0.8}
	test.That(t, IOU(a.Box, b.Box), test.ShouldEqual, 0.7)
	test.That(t, s.Suppress([]Candidate{a, b}), test.ShouldHaveLength, 1)

	c := Candidate{Box: Box{0, 0, 10, 6.9}, Confidence: 0.8}
	test.That(t, s.Suppress([]Candidate{a, c}), test.ShouldHaveLength, 2)
}

func TestSuppressPolicies(t *testing.T) {
	mark := Candidate{Box: Box{0, 0, 100, 100}, ClassIndex: 0, Label: "mark", Confidence: 0.9}
	qr := Candidate{Box: Box{1, 1, 100, 100}, ClassIndex: 1, Label: "qr", Confidence: 0.85}

	agnostic := newTestSuppressor(t, ClassAgnostic).Suppress([]Candidate{mark, qr})
	test.That(t, agnostic, test.ShouldHaveLength, 1)
	test.That(t, agnostic[0].Label, test.ShouldEqual, "mark")

	perClass := newTestSuppressor(t, PerClass).Suppress([]Candidate{mark, qr})
	test.That(t, perClass, test.ShouldHaveLength, 2)
}

func TestSuppressIdempotent(t *testing.T) {
	s := newTestSuppressor(t, ClassAgnostic)
	in := []Candidate{
		{Box: Box{0, 0, 100, 100}, Confidence: 0.9},
		{Box: Box{5, 0, 105, 100}, Confidence: 0.7},
		{Box: Box{50, 0, 150, 100}, Confidence: 0.8},
		{Box: Box{300, 300, 350, 350}, Confidence: 0.6},
	}
	once := s.Suppress(in)
	again := make([]Candidate, len(once))
	for i, d := range once {
		again[i] = Candidate(d)
	}
	test.That(t, s.Suppress(again), test.ShouldResemble, once)
}

func TestSuppressMonotonic(t *testing.T) {
	in := []Candidate{
		{Box: Box{0, 0, 100, 100}, Confidence: 0.9},
		{Box: Box{10, 0, 110, 100}, Confidence: 0.8},
		{Box: Box{30, 0, 130, 100}, Confidence: 0.7},
		{Box: Box{60, 0, 160, 100}, Confidence: 0.6},
	}
	prev := 0
	for _, iou := range []float64{0.1, 0.3, 0.5, 0.7, 0.9, 1} {
		s, err := NewSuppressor(iou, ClassAgnostic)
		test.That(t, err, test.ShouldBeNil)
		n := len(s.Suppress(in))
		test.That(t, n, test.ShouldBeGreaterThanOrEqualTo, prev)
		test.That(t, n, test.ShouldBeLessThanOrEqualTo, len(in))
		prev = n
	}
}

func TestSuppressEmpty(t *testing.T) {
	s := newTestSuppressor(t, PerClass)
	test.That(t, s.Suppress(nil), test.ShouldBeEmpty)
}

func TestDecodeThenSuppress(t *testing.T) {
	d := newTestDecoder(t, 1, 2)
	s := newTestSuppressor(t, ClassAgnostic)

	t.Run("heavy overlap collapses", func(t *testing.T) {
		// IOU = 95/105
		raw := makeRaw([]rawAnchor{
			{100, 100, 100, 100, []float32{0.9}},
			{105, 100, 100, 100, []float32{0.8}},
		})
		cands, err := d.Decode(raw, []int{5, 2}, 640, 640)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, cands, test.ShouldHaveLength, 2)
		dets := s.Suppress(cands)
		test.That(t, dets, test.ShouldHaveLength, 1)
		test.That(t, dets[0].Confidence, test.ShouldAlmostEqual, 0.9, 1e-6)
	})

	t.Run("partial overlap survives", func(t *testing.T) {
		// IOU = 66/134
		raw := makeRaw([]rawAnchor{
			{100, 100, 100, 100, []float32{0.9}},
			{134, 100, 100, 100, []float32{0.8}},
		})
		cands, err := d.Decode(raw, []int{5, 2}, 640, 640)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, s.Suppress(cands), test.ShouldHaveLength, 2)
	})
}
