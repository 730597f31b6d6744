package ml

import (
	"testing"

	"go.viam.com/test"
)

func TestPoolAccounting(t *testing.T) {
	pool := NewPool()
	in, err := pool.Get(1, 4, 4, 3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, in.Shape(), test.ShouldResemble, []int{1, 4, 4, 3})
	test.That(t, in.Data(), test.ShouldHaveLength, 48)

	out, err := pool.Wrap(make([]float32, 10), 5, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pool.Created(), test.ShouldEqual, 2)
	test.That(t, pool.Outstanding(), test.ShouldEqual, 2)

	test.That(t, in.Release(), test.ShouldBeNil)
	test.That(t, out.Release(), test.ShouldBeNil)
	test.That(t, pool.Released(), test.ShouldEqual, 2)
	test.That(t, pool.Outstanding(), test.ShouldEqual, 0)
}

func TestDoubleRelease(t *testing.T) {
	pool := NewPool()
	buf, err := pool.Get(2, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, buf.Release(), test.ShouldBeNil)
	test.That(t, buf.Release(), test.ShouldBeError, ErrReleased)
	test.That(t, buf.Released(), test.ShouldBeTrue)
	test.That(t, buf.Data(), test.ShouldBeNil)
	_, err = buf.Tensor()
	test.That(t, err, test.ShouldBeError, ErrReleased)
	test.That(t, pool.Released(), test.ShouldEqual, 1)
}

func TestBackingReuse(t *testing.T) {
	pool := NewPool()
	a, err := pool.Get(3)
	test.That(t, err, test.ShouldBeNil)
	a.Data()[0] = 7
	test.That(t, a.Release(), test.ShouldBeNil)

	b, err := pool.Get(3)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Data(), test.ShouldResemble, []float32{0, 0, 0})
	test.That(t, b.Release(), test.ShouldBeNil)
}

func TestBadShapes(t *testing.T) {
	pool := NewPool()
	_, err := pool.Get()
	test.That(t, err, test.ShouldNotBeNil)
	_, err = pool.Get(0, 3)
	test.That(t, err, test.ShouldNotBeNil)
	_, err = pool.Wrap([]float32{1, 2, 3}, 2, 2)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, pool.Created(), test.ShouldEqual, 0)
}

func TestDenseView(t *testing.T) {
	pool := NewPool()
	buf, err := pool.Wrap([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	test.That(t, err, test.ShouldBeNil)
	dense, err := buf.Tensor()
	test.That(t, err, test.ShouldBeNil)
	v, err := dense.At(1, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, v, test.ShouldEqual, float32(6))
	test.That(t, buf.Release(), test.ShouldBeNil)
}
