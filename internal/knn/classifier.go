// SPDX-License-Identifier: MIT
/*
Package knn implements the instance-based classifier: a labeled exemplar set
searched with K-nearest-neighbour plurality voting.

The exemplar set is the classifier's entire state. It is loaded from the
durable store at startup and grows only through Train, which persists the new
exemplar before making it visible to concurrent Classify calls; a classify
interleaved with a training command can never observe a half-written record.
*/
package knn

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"

	"elephantlog/internal/dsp"
	applog "elephantlog/internal/log"
)

// LabelUnknown is the fallback returned for an empty exemplar set. It is
// reserved: training with it is rejected so it can never shadow real data.
const LabelUnknown = "unknown"

// ErrDimensionMismatch flags a feature vector whose length disagrees with the
// configured dimensionality. On a live query this is a configuration fault;
// during store loading the offending record is skipped instead.
var ErrDimensionMismatch = errors.New("knn: feature dimension mismatch")

// Exemplar is one stored (feature vector, label) training instance.
type Exemplar struct {
	Features dsp.FeatureVector
	Label    string
}

// Result is the outcome of classifying one frame.
type Result struct {
	Label      string
	Confidence float64
	Features   dsp.FeatureVector
}

// Store is the durability boundary the classifier appends through.
type Store interface {
	// ReadAll returns every valid persisted exemplar plus the count of
	// records skipped as invalid. A missing store yields (nil, 0, nil).
	ReadAll() ([]Exemplar, int, error)
	// Append durably writes one exemplar before returning.
	Append(Exemplar) error
}

// Classifier owns the exemplar set and answers nearest-neighbour queries.
type Classifier struct {
	mu        sync.RWMutex
	exemplars []Exemplar

	k       int
	scales  []float64
	store   Store
	allowed map[string]struct{} // nil disables label validation
}

// New creates a classifier with k neighbours (odd, clipped to the set size at
// query time) and fixed per-dimension distance scales. An empty allow-list
// disables training-time label validation.
func New(k int, scales []float64, store Store, allowedLabels []string) (*Classifier, error) {
	if k <= 0 || k%2 == 0 {
		return nil, fmt.Errorf("knn: k must be a positive odd number, got %d", k)
	}
	if len(scales) != dsp.FeatureDim {
		return nil, fmt.Errorf("knn: %d distance scales configured, need %d: %w", len(scales), dsp.FeatureDim, ErrDimensionMismatch)
	}
	for i, s := range scales {
		if s <= 0 {
			return nil, fmt.Errorf("knn: distance scale %d must be positive, got %g", i, s)
		}
	}
	if store == nil {
		return nil, errors.New("knn: store must not be nil")
	}

	var allowed map[string]struct{}
	if len(allowedLabels) > 0 {
		allowed = make(map[string]struct{}, len(allowedLabels))
		for _, l := range allowedLabels {
			allowed[l] = struct{}{}
		}
	}

	return &Classifier{
		k:       k,
		scales:  append([]float64(nil), scales...),
		store:   store,
		allowed: allowed,
	}, nil
}

// Load bulk-loads the exemplar set from the store, replacing any in-memory
// state. Returns the number of exemplars loaded; a missing or empty store
// loads zero and is not an error.
func (c *Classifier) Load() (int, error) {
	exemplars, skipped, err := c.store.ReadAll()
	if err != nil {
		return 0, fmt.Errorf("knn: loading exemplar store: %w", err)
	}
	if skipped > 0 {
		applog.Warnf("knn: skipped %d invalid exemplar records during load", skipped)
	}

	c.mu.Lock()
	c.exemplars = exemplars
	c.mu.Unlock()
	return len(exemplars), nil
}

// Count returns the number of exemplars currently loaded.
func (c *Classifier) Count() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.exemplars)
}

// Labels returns the exemplar count per label.
func (c *Classifier) Labels() map[string]int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]int)
	for _, ex := range c.exemplars {
		out[ex.Label]++
	}
	return out
}

type neighbour struct {
	index    int
	distance float64
}

// Classify predicts a label and confidence for the given feature vector.
// It is a pure read of the exemplar set. An empty set yields
// (LabelUnknown, 0), a defined fallback rather than an error.
func (c *Classifier) Classify(features dsp.FeatureVector) (Result, error) {
	if len(features) != dsp.FeatureDim {
		return Result{}, fmt.Errorf("knn: query vector has %d dimensions, want %d: %w", len(features), dsp.FeatureDim, ErrDimensionMismatch)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.exemplars) == 0 {
		return Result{Label: LabelUnknown, Confidence: 0, Features: features}, nil
	}

	neighbours := make([]neighbour, len(c.exemplars))
	for i := range c.exemplars {
		neighbours[i] = neighbour{index: i, distance: c.distance(features, c.exemplars[i].Features)}
	}
	sort.Slice(neighbours, func(i, j int) bool {
		return neighbours[i].distance < neighbours[j].distance
	})

	k := c.k
	if k > len(neighbours) {
		k = len(neighbours)
	}

	// Plurality vote over the k nearest.
	votes := make(map[string]int, k)
	for _, n := range neighbours[:k] {
		votes[c.exemplars[n.index].Label]++
	}
	best := 0
	for _, count := range votes {
		if count > best {
			best = count
		}
	}
	// A vote tie goes to the label of the closest individual neighbour among
	// the tied labels. Neighbours are distance-sorted, so the first whose
	// label holds the plurality count wins both the tied and untied case.
	label := ""
	for _, n := range neighbours[:k] {
		if votes[c.exemplars[n.index].Label] == best {
			label = c.exemplars[n.index].Label
			break
		}
	}

	return Result{
		Label:      label,
		Confidence: float64(best) / float64(k),
		Features:   features,
	}, nil
}

// Train validates and appends a new labeled exemplar. The durable write
// happens first; the in-memory set is only updated after it succeeds, so a
// store failure leaves both the file and the classifier unchanged.
func (c *Classifier) Train(features dsp.FeatureVector, label string) error {
	if len(features) != dsp.FeatureDim {
		return fmt.Errorf("knn: training vector has %d dimensions, want %d: %w", len(features), dsp.FeatureDim, ErrDimensionMismatch)
	}
	if label == "" {
		return errors.New("knn: training label must not be empty")
	}
	if label == LabelUnknown {
		return fmt.Errorf("knn: %q is the reserved fallback label and cannot be trained", LabelUnknown)
	}
	if c.allowed != nil {
		if _, ok := c.allowed[label]; !ok {
			return fmt.Errorf("knn: label %q is not in the configured allow-list", label)
		}
	}

	ex := Exemplar{Features: features.Clone(), Label: label}
	if err := c.store.Append(ex); err != nil {
		return fmt.Errorf("knn: persisting exemplar: %w", err)
	}

	c.mu.Lock()
	c.exemplars = append(c.exemplars, ex)
	c.mu.Unlock()
	return nil
}

// distance is the Euclidean distance with each dimension divided by its
// configured scale, keeping amplitude-range features from dominating
// frequency-range ones.
func (c *Classifier) distance(a, b dsp.FeatureVector) float64 {
	var sum float64
	for i := range a {
		d := (a[i] - b[i]) / c.scales[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}
