package pipeline

import (
	"testing"

	"go.viam.com/test"

	"go.markscan.dev/markscan/vision/objectdetection"
)

func TestState(t *testing.T) {
	s := NewState()
	test.That(t, s.ModelReady(), test.ShouldBeFalse)
	test.That(t, s.Busy(), test.ShouldBeFalse)

	test.That(t, s.TryAcquire(), test.ShouldBeTrue)
	test.That(t, s.Busy(), test.ShouldBeTrue)
	test.That(t, s.TryAcquire(), test.ShouldBeFalse)
	s.Release()
	test.That(t, s.TryAcquire(), test.ShouldBeTrue)
	s.Release()

	test.That(t, s.SetModelReady(), test.ShouldBeTrue)
	test.That(t, s.SetModelReady(), test.ShouldBeFalse)
	test.That(t, s.ModelReady(), test.ShouldBeTrue)

	// instances are independent
	other := NewState()
	test.That(t, other.ModelReady(), test.ShouldBeFalse)
}

func TestStatusString(t *testing.T) {
	test.That(t, StatusString(nil), test.ShouldEqual, "Prediction: none")
	test.That(t, StatusString([]objectdetection.Detection{
		objectdetection.NewDetection(objectdetection.Box{}, 0, "mark", 0.912),
		objectdetection.NewDetection(objectdetection.Box{}, 1, "qr", 0.8),
	}), test.ShouldEqual, "Prediction: mark 0.91, qr 0.80")
}
