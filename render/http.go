package render

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"github.com/samber/lo"

	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/pipeline"
	"go.markscan.dev/markscan/rimage"
	"go.markscan.dev/markscan/upload"
	"go.markscan.dev/markscan/vision/objectdetection"
)

// HTTPConfig configures an HTTPSink.
type HTTPConfig struct {
	// Stats backs GET /status.
	Stats func() pipeline.Stats
	// Capture backs POST /capture. It receives a copy of the latest frame.
	Capture func(ctx context.Context, frame image.Image) (*upload.Response, error)
	// KeepFrames keeps a copy of each frame for GET /frame.jpg and POST /capture.
	KeepFrames bool
}

// HTTPSink serves the latest result over HTTP.
type HTTPSink struct {
	cfg    HTTPConfig
	logger logging.Logger

	mu     sync.Mutex
	latest *pipeline.Result
}

// NewHTTPSink returns a sink whose state is served by Router.
func NewHTTPSink(cfg HTTPConfig, logger logging.Logger) *HTTPSink {
	return &HTTPSink{cfg: cfg, logger: logger}
}

// Render implements pipeline.Sink. The frame is copied when frames are kept and dropped otherwise.
func (s *HTTPSink) Render(ctx context.Context, r pipeline.Result) {
	if s.cfg.KeepFrames && r.Frame != nil {
		r.Frame = rimage.CopyImage(r.Frame)
	} else {
		r.Frame = nil
	}
	s.mu.Lock()
	s.latest = &r
	s.mu.Unlock()
}

// Latest returns the most recent result, if any.
func (s *HTTPSink) Latest() (pipeline.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return pipeline.Result{}, false
	}
	return *s.latest, true
}

type boxView struct {
	X1         int     `json:"x1"`
	Y1         int     `json:"y1"`
	X2         int     `json:"x2"`
	Y2         int     `json:"y2"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type pointView struct {
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

type detectionsView struct {
	Cycle     uint64      `json:"cycle"`
	Status    string      `json:"status"`
	Time      time.Time   `json:"time"`
	LatencyMs float64     `json:"latency_ms"`
	Width     int         `json:"width"`
	Height    int         `json:"height"`
	Boxes     []boxView   `json:"boxes"`
	Points    []pointView `json:"points"`
}

func newDetectionsView(r pipeline.Result) detectionsView {
	return detectionsView{
		Cycle:     r.Cycle,
		Status:    r.Status,
		Time:      r.Time,
		LatencyMs: float64(r.Latency) / float64(time.Millisecond),
		Width:     r.DisplayWidth,
		Height:    r.DisplayHeight,
		Boxes: lo.Map(r.Boxes, func(b objectdetection.OverlayBox, _ int) boxView {
			return boxView{
				X1: b.Rect.Min.X, Y1: b.Rect.Min.Y, X2: b.Rect.Max.X, Y2: b.Rect.Max.Y,
				Label: b.Label, Confidence: b.Confidence,
			}
		}),
		Points: lo.Map(r.Points, func(p objectdetection.OverlayPoint, _ int) pointView {
			return pointView{X: p.X, Y: p.Y, Label: p.Label, Confidence: p.Confidence}
		}),
	}
}

type statusView struct {
	Status            string  `json:"status"`
	LastStatus        string  `json:"last_status"`
	Cycles            uint64  `json:"cycles"`
	SkippedBusy       uint64  `json:"skipped_busy"`
	SkippedNotReady   uint64  `json:"skipped_not_ready"`
	FramesUnavailable uint64  `json:"frames_unavailable"`
	FrameErrors       uint64  `json:"frame_errors"`
	InvocationErrors  uint64  `json:"invocation_errors"`
	LatencyP50Ms      float64 `json:"latency_p50_ms"`
	LatencyP90Ms      float64 `json:"latency_p90_ms"`
}

// Router returns the sink's routes.
func (s *HTTPSink) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if _, err := fmt.Fprintln(w, "OK"); err != nil {
			s.logger.Debugw("cannot write health response", "error", err)
		}
	}).Methods(http.MethodGet)
	r.HandleFunc("/detections", s.handleDetections).Methods(http.MethodGet)
	r.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/frame.jpg", s.handleFrame).Methods(http.MethodGet)
	r.HandleFunc("/capture", s.handleCapture).Methods(http.MethodPost)
	return r
}

func (s *HTTPSink) handleDetections(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.Latest()
	if !ok {
		http.Error(w, errNoFrame.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, newDetectionsView(latest))
}

func (s *HTTPSink) handleStatus(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Stats == nil {
		http.Error(w, "no status available", http.StatusServiceUnavailable)
		return
	}
	st := s.cfg.Stats()
	s.writeJSON(w, http.StatusOK, statusView{
		Status:            st.Status,
		LastStatus:        st.LastStatus,
		Cycles:            st.Cycles,
		SkippedBusy:       st.SkippedBusy,
		SkippedNotReady:   st.SkippedNotReady,
		FramesUnavailable: st.FramesUnavailable,
		FrameErrors:       st.FrameErrors,
		InvocationErrors:  st.InvocationErrors,
		LatencyP50Ms:      float64(st.LatencyP50) / float64(time.Millisecond),
		LatencyP90Ms:      float64(st.LatencyP90) / float64(time.Millisecond),
	})
}

func (s *HTTPSink) handleFrame(w http.ResponseWriter, r *http.Request) {
	latest, ok := s.Latest()
	if !ok || latest.Frame == nil {
		http.Error(w, errNoFrame.Error(), http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	if err := rimage.EncodeJPEG(w, Annotate(latest), 85); err != nil {
		s.logger.Debugw("cannot write frame", "error", err)
	}
}

func (s *HTTPSink) handleCapture(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Capture == nil {
		http.Error(w, "capture is not configured", http.StatusServiceUnavailable)
		return
	}
	latest, ok := s.Latest()
	if !ok || latest.Frame == nil {
		http.Error(w, errNoFrame.Error(), http.StatusNotFound)
		return
	}
	resp, err := s.cfg.Capture(r.Context(), latest.Frame)
	switch {
	case errors.Is(err, upload.ErrBusy):
		http.Error(w, err.Error(), http.StatusConflict)
	case err != nil:
		s.logger.Warnw("capture failed", "error", err)
		http.Error(w, err.Error(), http.StatusBadGateway)
	default:
		s.writeJSON(w, http.StatusOK, resp)
	}
}

func (s *HTTPSink) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debugw("cannot write response", "error", err)
	}
}
