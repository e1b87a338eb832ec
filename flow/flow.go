// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package flow tracks a sparse set of features across consecutive 8 bits
// frames.
//
// Features are seeded with the Shi-Tomasi "good features to track" detector
// and propagated with pyramidal Lucas-Kanade optical flow. The algorithms are
// provided by a Backend; the pure Go Native backend is always available and
// the "opencv" build tag adds one based on gocv.
package flow

import (
	"image"
	"sort"
	"sync"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// ErrAlgorithmFailure is returned when feature detection or propagation
// can't process a frame, e.g. a degenerate frame or a frame size change.
var ErrAlgorithmFailure = errors.New("tracking algorithm failure")

// Params configures detection and propagation.
type Params struct {
	// Detection.
	MaxFeatures  int     // Maximum number of features to seed; <= 0 means no limit.
	QualityLevel float64 // Minimum accepted corner score, relative to the strongest corner.
	MinDistance  float64 // Minimum distance in pixels between two seeded features.
	BlockSize    int     // Size of the neighborhood summed for the corner score.

	// Propagation.
	WindowSize      int     // Size of the search window at each pyramid level.
	MaxLevel        int     // Maximum pyramid level, 0 means no pyramid.
	MaxIterations   int     // Iterations per level.
	Epsilon         float64 // Stop iterating when the update is smaller, in pixels.
	MinEigThreshold float64 // Points with a weaker gradient matrix are lost.
}

// DefaultParams returns the parameters used unless overridden.
func DefaultParams() Params {
	return Params{
		MaxFeatures:     20,
		QualityLevel:    0.05,
		MinDistance:     5,
		BlockSize:       3,
		WindowSize:      21,
		MaxLevel:        3,
		MaxIterations:   30,
		Epsilon:         0.01,
		MinEigThreshold: 1e-4,
	}
}

// Validate returns an error if a parameter is out of range.
func (p *Params) Validate() error {
	if p.QualityLevel <= 0 || p.QualityLevel > 1 {
		return errors.Errorf("quality level %g must be in (0, 1]", p.QualityLevel)
	}
	if p.MinDistance < 0 {
		return errors.Errorf("min distance %g must be positive", p.MinDistance)
	}
	if p.BlockSize < 1 || p.BlockSize%2 == 0 {
		return errors.Errorf("block size %d must be odd", p.BlockSize)
	}
	if p.WindowSize < 3 || p.WindowSize%2 == 0 {
		return errors.Errorf("window size %d must be odd and at least 3", p.WindowSize)
	}
	if p.MaxLevel < 0 {
		return errors.Errorf("max level %d must be positive", p.MaxLevel)
	}
	if p.MaxIterations < 1 {
		return errors.Errorf("max iterations %d must be at least 1", p.MaxIterations)
	}
	if p.Epsilon <= 0 {
		return errors.Errorf("epsilon %g must be positive", p.Epsilon)
	}
	return nil
}

// Flow is the result of propagating features from one frame to the next.
//
// The three slices have the same length as the input features.
type Flow struct {
	Points []r2.Point
	Status []bool    // false when the feature was lost.
	Errors []float32 // Mean absolute intensity difference around the feature.
}

// Backend implements detection and propagation.
type Backend interface {
	// GoodFeatures returns the strongest corners, strongest first.
	GoodFeatures(img *image.Gray, p Params) ([]r2.Point, error)
	// PyrLK propagates pts from prev to next.
	PyrLK(prev, next *image.Gray, pts []r2.Point, p Params) (Flow, error)
}

var (
	mu       sync.Mutex
	backends = map[string]Backend{"native": Native{}}
)

// Register makes a backend available by name. It panics on duplicates.
func Register(name string, b Backend) {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := backends[name]; ok {
		panic("flow: backend " + name + " registered twice")
	}
	backends[name] = b
}

// Lookup returns a registered backend. The empty name is "native".
func Lookup(name string) (Backend, error) {
	if name == "" {
		name = "native"
	}
	mu.Lock()
	defer mu.Unlock()
	b, ok := backends[name]
	if !ok {
		return nil, errors.Errorf("unknown flow backend %q", name)
	}
	return b, nil
}

// Backends returns the names of the registered backends.
func Backends() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(backends))
	for k := range backends {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
