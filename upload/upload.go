// Package upload submits still captures to a remote marking service.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
	"go.uber.org/multierr"

	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/rimage"
)

// ErrBusy is returned by Submit while another upload is in flight.
var ErrBusy = errors.New("an upload is already in progress")

const (
	defaultField   = "file"
	defaultTimeout = 30 * time.Second
	defaultQuality = 90

	// maxErrorBody bounds how much of a failed response ends up in the error.
	maxErrorBody = 512
)

// Config describes the remote endpoint.
type Config struct {
	URL     string
	Field   string
	Timeout time.Duration
	Quality int
}

// Response is the remote service's answer to one capture.
type Response struct {
	ID          string                 `json:"id"`
	ImageMarked string                 `json:"image_marked"`
	Fields      map[string]interface{} `json:"fields,omitempty"`
}

// Client uploads captures one at a time.
type Client struct {
	cfg    Config
	http   *http.Client
	busy   atomic.Bool
	logger logging.Logger
}

// NewClient returns a client for cfg, filling in defaults.
func NewClient(cfg Config, logger logging.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, errors.New("upload url is required")
	}
	if cfg.Field == "" {
		cfg.Field = defaultField
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Quality <= 0 || cfg.Quality > 100 {
		cfg.Quality = defaultQuality
	}
	return &Client{cfg: cfg, http: &http.Client{Timeout: cfg.Timeout}, logger: logger}, nil
}

// Busy reports whether an upload is in flight.
func (c *Client) Busy() bool {
	return c.busy.Load()
}

// Submit encodes img as a JPEG and posts it as multipart form data.
func (c *Client) Submit(ctx context.Context, img image.Image) (resp *Response, err error) {
	if !c.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer c.busy.Store(false)

	id := uuid.NewString()
	data, err := rimage.JPEGBytes(img, c.cfg.Quality)
	if err != nil {
		return nil, errors.Wrap(err, "cannot encode capture")
	}

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	part, err := form.CreateFormFile(c.cfg.Field, id+".jpg")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := form.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, &body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set("X-Request-Id", id)

	start := time.Now()
	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "upload failed")
	}
	defer func() {
		err = multierr.Combine(err, httpResp.Body.Close())
	}()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		//nolint:errcheck
		snippet, _ := io.ReadAll(io.LimitReader(httpResp.Body, maxErrorBody))
		return nil, errors.Errorf("upload rejected with %s: %s", httpResp.Status, bytes.TrimSpace(snippet))
	}

	var fields map[string]interface{}
	if err := json.NewDecoder(httpResp.Body).Decode(&fields); err != nil {
		return nil, errors.Wrap(err, "cannot parse upload response")
	}
	marked, ok := fields["image_marked"].(string)
	if !ok {
		return nil, errors.New("upload response has no image_marked field")
	}
	c.logger.Infow("capture uploaded", "id", id, "bytes", len(data), "took", time.Since(start))
	return &Response{ID: id, ImageMarked: marked, Fields: fields}, nil
}
