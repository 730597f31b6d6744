// Package detector assembles a running detection loop out of a config: the frame source, the
// pipeline stages, the sinks and the optional HTTP server.
package detector

import (
	"context"
	"image"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"go.markscan.dev/markscan/camera"
	"go.markscan.dev/markscan/config"
	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/ml"
	"go.markscan.dev/markscan/ml/inference"
	"go.markscan.dev/markscan/pipeline"
	"go.markscan.dev/markscan/qrcode"
	"go.markscan.dev/markscan/render"
	"go.markscan.dev/markscan/rimage"
	"go.markscan.dev/markscan/upload"
	"go.markscan.dev/markscan/vision/objectdetection"
)

const shutdownTimeout = 5 * time.Second

type options struct {
	loader inference.Loader
	source camera.Source
	sinks  []pipeline.Sink
	clock  clock.Clock
	onCode func(qrcode.Code)
}

// Option customizes a Detector.
type Option func(*options)

// WithLoader replaces the TensorFlow Lite loader.
func WithLoader(loader inference.Loader) Option {
	return func(o *options) { o.loader = loader }
}

// WithSource replaces the source described by the camera section.
func WithSource(src camera.Source) Option {
	return func(o *options) { o.source = src }
}

// WithSinks adds sinks after the built-in ones.
func WithSinks(sinks ...pipeline.Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, sinks...) }
}

// WithClock sets the clock the scheduler ticks on.
func WithClock(clk clock.Clock) Option {
	return func(o *options) { o.clock = clk }
}

// WithCodeHandler is called for every QR code found when the qr section is enabled.
func WithCodeHandler(f func(qrcode.Code)) Option {
	return func(o *options) { o.onCode = f }
}

// Detector owns everything a config describes.
type Detector struct {
	cfg       *config.Config
	logger    logging.Logger
	loader    inference.Loader
	source    camera.Source
	pool      *ml.Pool
	scheduler *pipeline.Scheduler
	httpSink  *render.HTTPSink
	uploader  *upload.Client
}

// New builds a detector. No model is loaded and no frame is pulled until Start, Load or Run.
func New(cfg *config.Config, logger logging.Logger, opts ...Option) (_ *Detector, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	d := &Detector{cfg: cfg, logger: logger, pool: ml.NewPool()}

	var labels []string
	if cfg.Model.LabelsPath != "" {
		if labels, err = inference.ReadLabels(cfg.Model.LabelsPath); err != nil {
			return nil, err
		}
	}
	pre, err := rimage.NewPreprocessor(d.pool, cfg.Model.InputWidth, cfg.Model.InputHeight, *cfg.Model.Resize)
	if err != nil {
		return nil, err
	}
	dec, err := objectdetection.NewDecoder(cfg.DecoderConfig(labels))
	if err != nil {
		return nil, err
	}
	sup, err := cfg.Detector.Suppressor()
	if err != nil {
		return nil, err
	}
	mapper, err := objectdetection.NewMapper(cfg.Model.InputWidth, cfg.Model.InputHeight)
	if err != nil {
		return nil, err
	}

	d.loader = o.loader
	if d.loader == nil {
		if d.loader, err = inference.NewTFLiteLoader(d.pool, logger.Sublogger("tflite")); err != nil {
			return nil, err
		}
	}

	if cfg.Upload.URL != "" {
		timeout, err := cfg.Upload.TimeoutDuration()
		if err != nil {
			return nil, err
		}
		d.uploader, err = upload.NewClient(upload.Config{
			URL:     cfg.Upload.URL,
			Field:   cfg.Upload.Field,
			Timeout: timeout,
			Quality: cfg.Upload.Quality,
		}, logger.Sublogger("upload"))
		if err != nil {
			return nil, err
		}
	}

	d.source = o.source
	if d.source == nil {
		if d.source, err = newSource(cfg.Camera, logger.Sublogger("camera")); err != nil {
			return nil, err
		}
	}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, d.source.Close(context.Background()))
		}
	}()
	if cfg.QR.Enabled {
		onCode := o.onCode
		if onCode == nil {
			qrLogger := logger.Sublogger("qr")
			onCode = func(code qrcode.Code) {
				qrLogger.Infow("qr code found", "data", code.Data)
			}
		}
		d.source = camera.NewCodeTap(d.source, qrcode.NewScanner(cfg.QR.TryHarder), onCode, logger.Sublogger("qr"))
	}

	sinks := []pipeline.Sink{render.NewLogSink(logger.Sublogger("status"))}
	if cfg.HTTP.Address != "" {
		httpCfg := render.HTTPConfig{
			KeepFrames: true,
			Stats:      func() pipeline.Stats { return d.scheduler.Stats() },
		}
		if d.uploader != nil {
			httpCfg.Capture = d.Capture
		}
		d.httpSink = render.NewHTTPSink(httpCfg, logger.Sublogger("http"))
		sinks = append(sinks, d.httpSink)
	}
	sinks = append(sinks, o.sinks...)

	d.scheduler, err = pipeline.NewScheduler(pipeline.Config{
		Source:        d.source,
		Preprocessor:  pre,
		Decoder:       dec,
		Suppressor:    sup,
		Mapper:        mapper,
		Postprocessor: cfg.Detector.Postprocessor(),
		Sinks:         sinks,
		DisplayWidth:  cfg.Display.Width,
		DisplayHeight: cfg.Display.Height,
		RefreshRate:   cfg.Camera.RefreshHz,
		Clock:         o.clock,
	}, logger.Sublogger("pipeline"))
	if err != nil {
		return nil, err
	}
	return d, nil
}

func newSource(cfg config.CameraConfig, logger logging.Logger) (camera.Source, error) {
	switch cfg.Type {
	case config.CameraStatic:
		img, err := rimage.ReadImageFromFile(cfg.Path)
		if err != nil {
			return nil, err
		}
		return camera.NewStaticSource(img), nil
	case config.CameraDirectory:
		return camera.NewDirectorySource(cfg.Path, cfg.Loop, logger)
	default:
		return nil, errors.Errorf("unknown camera type %q", cfg.Type)
	}
}

// Scheduler returns the detection loop.
func (d *Detector) Scheduler() *pipeline.Scheduler {
	return d.scheduler
}

// Pool returns the tensor pool every stage allocates from.
func (d *Detector) Pool() *ml.Pool {
	return d.pool
}

// HTTPSink returns the HTTP sink, or nil when no http address is configured.
func (d *Detector) HTTPSink() *render.HTTPSink {
	return d.httpSink
}

// Start begins loading the model in the background.
func (d *Detector) Start() error {
	return d.scheduler.LoadModel(d.loader, d.cfg.Model.Descriptor())
}

// Load loads the model and waits for it.
func (d *Detector) Load(ctx context.Context) error {
	backend, err := inference.Load(ctx, d.loader, d.cfg.Model.Descriptor())
	if err != nil {
		return err
	}
	d.scheduler.UseBackend(backend)
	return nil
}

// Capture uploads a frame to the configured endpoint.
func (d *Detector) Capture(ctx context.Context, frame image.Image) (*upload.Response, error) {
	if d.uploader == nil {
		return nil, errors.New("upload is not configured")
	}
	return d.uploader.Submit(ctx, frame)
}

// Run starts the model load and serves until ctx is done or the detection loop ends. The detection
// loop and the HTTP server run side by side, and the server shuts down when the loop returns.
func (d *Detector) Run(ctx context.Context) error {
	if err := d.Start(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		defer d.scheduler.Stop()
		return d.scheduler.Run(ctx)
	})
	if d.httpSink != nil {
		srv := &http.Server{
			Addr:              d.cfg.HTTP.Address,
			Handler:           d.httpSink.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			d.logger.Infow("serving", "address", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	return g.Wait()
}

// Stop ends a Run in progress.
func (d *Detector) Stop() {
	d.scheduler.Stop()
}

// Close stops the loop, releases the model and closes the source.
func (d *Detector) Close(ctx context.Context) error {
	return multierr.Combine(d.scheduler.Close(ctx), d.source.Close(ctx))
}
