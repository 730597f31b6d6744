package inference

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// ReadLabels reads one label per line. A file holding a single line is split on commas, then on
// spaces.
func ReadLabels(path string) (labels []string, err error) {
	//nolint:gosec
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return nil, errors.Wrap(err, "cannot open label file")
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			labels = append(labels, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "cannot read label file")
	}
	if len(labels) == 1 {
		labels = splitNonEmpty(labels[0], ",")
	}
	if len(labels) == 1 {
		labels = splitNonEmpty(labels[0], " ")
	}
	if len(labels) == 0 {
		return nil, errors.Errorf("label file %q is empty", path)
	}
	return labels, nil
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, part := range strings.Split(s, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
