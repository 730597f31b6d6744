package camera

import (
	"context"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"

	"go.markscan.dev/markscan/logging"
	"go.markscan.dev/markscan/rimage"
)

var imageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

type directorySource struct {
	mu     sync.Mutex
	files  []string
	next   int
	loop   bool
	logger logging.Logger
}

// NewDirectorySource replays the image files in dir in name order. When loop is false the source
// reports ErrNoFrame once every file has been handed out.
func NewDirectorySource(dir string, loop bool, logger logging.Logger) (Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot list frames in %q", dir)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, errors.Errorf("no image files in %q", dir)
	}
	sort.Strings(files)
	logger.Debugw("replaying frames", "dir", dir, "count", len(files), "loop", loop)
	return &directorySource{files: files, loop: loop, logger: logger}, nil
}

func (s *directorySource) Next(ctx context.Context) (image.Image, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	if s.next >= len(s.files) {
		if !s.loop {
			s.mu.Unlock()
			return nil, nil, ErrNoFrame
		}
		s.next = 0
	}
	path := s.files[s.next]
	s.next++
	s.mu.Unlock()

	img, err := rimage.ReadImageFromFile(path)
	if err != nil {
		s.logger.Warnw("skipping unreadable frame", "path", path, "error", err)
		return nil, nil, ErrNoFrame
	}
	return img, func() {}, nil
}

func (s *directorySource) Close(ctx context.Context) error {
	return nil
}
