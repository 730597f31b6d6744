package objectdetection

import (
	"sort"
	"strings"

	"github.com/pkg/errors"
)

// DefaultIOUThreshold is the overlap at which a lower scoring candidate is suppressed.
const DefaultIOUThreshold = 0.7

// SuppressionPolicy decides which candidate pairs are compared during suppression.
type SuppressionPolicy int

const (
	// ClassAgnostic suppresses overlapping boxes regardless of their labels.
	ClassAgnostic SuppressionPolicy = iota
	// PerClass only suppresses overlapping boxes that share a class.
	PerClass
)

func (p SuppressionPolicy) String() string {
	switch p {
	case ClassAgnostic:
		return "class_agnostic"
	case PerClass:
		return "per_class"
	default:
		return "unknown"
	}
}

// ParseSuppressionPolicy parses "class_agnostic" (also the empty string) or "per_class".
func ParseSuppressionPolicy(s string) (SuppressionPolicy, error) {
	switch strings.ToLower(s) {
	case "", "class_agnostic":
		return ClassAgnostic, nil
	case "per_class":
		return PerClass, nil
	default:
		return ClassAgnostic, errors.Errorf("unknown suppression policy %q", s)
	}
}

// Suppressor performs greedy non-max suppression.
type Suppressor struct {
	iouThreshold float64
	policy       SuppressionPolicy
}

// NewSuppressor returns a suppressor that drops candidates whose IOU with an already kept
// candidate is at least iouThreshold.
func NewSuppressor(iouThreshold float64, policy SuppressionPolicy) (*Suppressor, error) {
	if iouThreshold <= 0 || iouThreshold > 1 {
		return nil, errors.Errorf("iou threshold must be in (0, 1], got %v", iouThreshold)
	}
	if policy != ClassAgnostic && policy != PerClass {
		return nil, errors.Errorf("unknown suppression policy %d", policy)
	}
	return &Suppressor{iouThreshold: iouThreshold, policy: policy}, nil
}

// Suppress sorts the candidates by descending confidence, ties keeping their input order, then
// repeatedly keeps the best remaining candidate and removes every remaining one that overlaps it.
// The input slice is not modified. The result is in keep order.
func (s *Suppressor) Suppress(candidates []Candidate) []Detection {
	if len(candidates) == 0 {
		return []Detection{}
	}
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Confidence > sorted[j].Confidence
	})

	suppressed := make([]bool, len(sorted))
	kept := make([]Detection, 0, len(sorted))
	for i := range sorted {
		if suppressed[i] {
			continue
		}
		anchor := sorted[i]
		kept = append(kept, Detection(anchor))
		for j := i + 1; j < len(sorted); j++ {
			if suppressed[j] {
				continue
			}
			if s.policy == PerClass && sorted[j].ClassIndex != anchor.ClassIndex {
				continue
			}
			if IOU(anchor.Box, sorted[j].Box) >= s.iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
