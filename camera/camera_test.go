package camera_test

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go.uber.org/atomic"
	"go.viam.com/test"
	"go.viam.com/utils/testutils"

	"go.markscan.dev/markscan/camera"
	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/qrcode"
	"go.markscan.dev/markscan/rimage"
	"go.markscan.dev/markscan/testutils/inject"
)

func TestStaticSource(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	src := camera.NewStaticSource(img)
	got, release, err := src.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	release()
	test.That(t, got, test.ShouldEqual, img)
	test.That(t, camera.FromImage(got), test.ShouldResemble, camera.Properties{Width: 3, Height: 2})

	_, _, err = camera.NewStaticSource(nil).Next(context.Background())
	test.That(t, err, test.ShouldBeError, camera.ErrNoFrame)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err = src.Next(ctx)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, src.Close(context.Background()), test.ShouldBeNil)
}

func writeFrames(t *testing.T, widths ...int) string {
	t.Helper()
	dir := t.TempDir()
	for i, w := range widths {
		img := image.NewNRGBA(image.Rect(0, 0, w, 4))
		img.Set(0, 0, color.White)
		name := filepath.Join(dir, string(rune('a'+i))+".png")
		test.That(t, rimage.SaveImage(img, name), test.ShouldBeNil)
	}
	test.That(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("skip me"), 0o600), test.ShouldBeNil)
	return dir
}

func TestDirectorySource(t *testing.T) {
	logger := logging.NewTestLogger(t)
	dir := writeFrames(t, 1, 2, 3)

	t.Run("once", func(t *testing.T) {
		src, err := camera.NewDirectorySource(dir, false, logger)
		test.That(t, err, test.ShouldBeNil)
		for _, w := range []int{1, 2, 3} {
			img, release, err := src.Next(context.Background())
			test.That(t, err, test.ShouldBeNil)
			test.That(t, img.Bounds().Dx(), test.ShouldEqual, w)
			release()
		}
		_, _, err = src.Next(context.Background())
		test.That(t, err, test.ShouldBeError, camera.ErrNoFrame)
	})

	t.Run("loop", func(t *testing.T) {
		src, err := camera.NewDirectorySource(dir, true, logger)
		test.That(t, err, test.ShouldBeNil)
		var widths []int
		for i := 0; i < 5; i++ {
			img, release, err := src.Next(context.Background())
			test.That(t, err, test.ShouldBeNil)
			widths = append(widths, img.Bounds().Dx())
			release()
		}
		test.That(t, widths, test.ShouldResemble, []int{1, 2, 3, 1, 2})
	})

	t.Run("empty", func(t *testing.T) {
		_, err := camera.NewDirectorySource(t.TempDir(), true, logger)
		test.That(t, err, test.ShouldNotBeNil)
		_, err = camera.NewDirectorySource(filepath.Join(dir, "missing"), true, logger)
		test.That(t, err, test.ShouldNotBeNil)
	})
}

func TestCodeTap(t *testing.T) {
	logger := logging.NewTestLogger(t)
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))

	var released atomic.Int64
	src := &inject.Source{}
	src.NextFunc = func(ctx context.Context) (image.Image, func(), error) {
		return img, func() { released.Inc() }, nil
	}
	var closed atomic.Bool
	src.CloseFunc = func(ctx context.Context) error {
		closed.Store(true)
		return nil
	}

	unblock := make(chan struct{})
	var scans atomic.Int64
	var sawOriginal atomic.Bool
	scanner := &inject.CodeScanner{}
	scanner.ScanFunc = func(frame image.Image) ([]qrcode.Code, error) {
		if frame == image.Image(img) {
			sawOriginal.Store(true)
		}
		scans.Inc()
		<-unblock
		return []qrcode.Code{{Data: "MS-1", Corners: []image.Point{image.Pt(1, 1)}}}, nil
	}

	var mu sync.Mutex
	var codes []qrcode.Code
	tap := camera.NewCodeTap(src, scanner, func(c qrcode.Code) {
		mu.Lock()
		defer mu.Unlock()
		codes = append(codes, c)
	}, logger)

	// the pipeline keeps pulling frames while the scanner is stuck on the first one
	for i := 0; i < 5; i++ {
		got, release, err := tap.Next(context.Background())
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, img)
		release()
	}
	test.That(t, released.Load(), test.ShouldEqual, 5)

	close(unblock)
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		mu.Lock()
		defer mu.Unlock()
		test.That(tb, codes, test.ShouldHaveLength, 1)
	})
	test.That(t, scans.Load(), test.ShouldEqual, 1)
	// the scanner gets its own copy of the frame
	test.That(t, sawOriginal.Load(), test.ShouldBeFalse)
	test.That(t, codes[0].Data, test.ShouldEqual, "MS-1")

	// once idle it accepts the next frame
	_, release, err := tap.Next(context.Background())
	test.That(t, err, test.ShouldBeNil)
	release()
	testutils.WaitForAssertion(t, func(tb testing.TB) {
		tb.Helper()
		test.That(tb, scans.Load(), test.ShouldEqual, 2)
	})

	test.That(t, tap.Close(context.Background()), test.ShouldBeNil)
	test.That(t, closed.Load(), test.ShouldBeTrue)
}

func TestCodeTapPassesErrors(t *testing.T) {
	src := &inject.Source{}
	src.NextFunc = func(ctx context.Context) (image.Image, func(), error) {
		return nil, nil, camera.ErrNoFrame
	}
	scanner := &inject.CodeScanner{}
	tap := camera.NewCodeTap(src, scanner, func(qrcode.Code) {}, logging.NewTestLogger(t))
	defer func() {
		test.That(t, tap.Close(context.Background()), test.ShouldBeNil)
	}()

	_, _, err := tap.Next(context.Background())
	test.That(t, err, test.ShouldBeError, camera.ErrNoFrame)
}
