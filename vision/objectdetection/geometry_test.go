package objectdetection

import (
	"image"
	"testing"

	"go.viam.com/test"
)

func TestIOU(t *testing.T) {
	a := Box{0, 0, 10, 10}
	b := Box{5, 5, 15, 15}

	test.That(t, IOU(a, a), test.ShouldAlmostEqual, 1.0)
	test.That(t, IOU(a, b), test.ShouldAlmostEqual, 25.0/175.0)
	test.That(t, IOU(a, b), test.ShouldEqual, IOU(b, a))

	// touching edges do not overlap
	test.That(t, IOU(a, Box{10, 0, 20, 10}), test.ShouldEqual, 0.0)
	test.That(t, IOU(a, Box{100, 100, 110, 110}), test.ShouldEqual, 0.0)

	// containment
	test.That(t, IOU(a, Box{0, 0, 5, 10}), test.ShouldAlmostEqual, 0.5)
}

func TestDegenerateBoxes(t *testing.T) {
	empty := Box{3, 3, 3, 3}
	inverted := Box{10, 10, 0, 0}
	a := Box{0, 0, 10, 10}

	test.That(t, empty.Area(), test.ShouldEqual, 0.0)
	test.That(t, inverted.Area(), test.ShouldEqual, 0.0)
	test.That(t, IOU(empty, empty), test.ShouldEqual, 0.0)
	test.That(t, IOU(a, empty), test.ShouldEqual, 0.0)
	test.That(t, IOU(a, inverted), test.ShouldEqual, 0.0)
	test.That(t, IntersectionArea(inverted, inverted), test.ShouldEqual, 0.0)
}

func TestBoxConversions(t *testing.T) {
	b := BoxFromCenter(50, 40, 20, 10)
	test.That(t, b, test.ShouldResemble, Box{40, 35, 60, 45})
	cx, cy := b.Center()
	test.That(t, cx, test.ShouldEqual, 50.0)
	test.That(t, cy, test.ShouldEqual, 40.0)

	scaled := b.Rescale(100, 100, 200, 50)
	test.That(t, scaled, test.ShouldResemble, Box{80, 17.5, 120, 22.5})
	test.That(t, scaled.Rect(), test.ShouldResemble, image.Rect(80, 17, 120, 23))
}
