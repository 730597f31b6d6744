package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"

	"go.markscan.dev/markscan/camera"
	"go.markscan.dev/markscan/config"
	"go.markscan.dev/markscan/detector"
	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/pipeline"
	"go.markscan.dev/markscan/render"
	"go.markscan.dev/markscan/rimage"
)

// DetectAction runs one detection cycle over the image named by the first argument.
func DetectAction(c *cli.Context) error {
	imagePath := c.Args().First()
	if imagePath == "" {
		return errors.New("an image file is required")
	}
	cfg, err := config.Read(c.Path(flagConfig))
	if err != nil {
		return err
	}
	return detect(c.Context, cfg, imagePath, c.Path(flagOutput), c.App.Writer, newLogger(c))
}

func detect(
	ctx context.Context,
	cfg *config.Config,
	imagePath, outputPath string,
	out io.Writer,
	logger logging.Logger,
	opts ...detector.Option,
) (err error) {
	img, err := rimage.ReadImageFromFile(imagePath)
	if err != nil {
		return err
	}
	cfg.HTTP.Address = ""

	var result *pipeline.Result
	opts = append(opts,
		detector.WithSource(camera.NewStaticSource(img)),
		detector.WithSinks(pipeline.SinkFunc(func(ctx context.Context, r pipeline.Result) {
			r.Frame = nil
			result = &r
		})))
	var imageSink *render.ImageSink
	if outputPath != "" {
		imageSink = render.NewImageSink(outputPath, logger)
		opts = append(opts, detector.WithSinks(imageSink))
	}

	d, err := detector.New(cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, d.Close(context.Background()))
	}()
	if err := d.Load(ctx); err != nil {
		return err
	}
	if err := d.Scheduler().Tick(ctx); err != nil {
		return err
	}
	if result == nil {
		return errors.New("no frame was processed")
	}
	if imageSink != nil {
		if _, err := imageSink.Written(); err != nil {
			return err
		}
	}

	printf(out, "%s (%v)", result.Status, result.Latency)
	for _, det := range result.Detections {
		printf(out, "%s\t%.2f\t%.1f,%.1f,%.1f,%.1f",
			det.Label, det.Confidence, det.Box.X1, det.Box.Y1, det.Box.X2, det.Box.Y2)
	}
	return nil
}

// printf prints a message with no prefix.
func printf(w io.Writer, format string, a ...interface{}) {
	//nolint:errcheck
	fmt.Fprintf(w, format+"\n", a...)
}
