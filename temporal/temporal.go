// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package temporal implements the difference-of-differences motion signal.
//
// Every 2nd frame the delta between the current and the previous frame is
// stored as delta1; every 4th frame it is also stored as delta2. The
// combined image delta2 - delta1 is colorized instead of the raw depth, and
// the dark pixels of the result are counted as anomalies.
package temporal

import (
	"github.com/pkg/errors"

	"github.com/maruel/go-depthflow/colorize"
	"github.com/maruel/go-depthflow/depth"
)

// Period is the number of frames after which the counter wraps.
const Period = 4

// State is the state carried across frames of one channel. It must not be
// used concurrently.
type State struct {
	counter  int
	frames   int
	refresh1 int // Number of times delta1 was refreshed.
	refresh2 int
	delta1   *depth.Matrix
	delta2   *depth.Matrix
	previous *depth.Matrix // nil until the first frame.
	combined *depth.Matrix
}

// NewState returns a state for w x h frames.
func NewState(w, h int) *State {
	return &State{
		delta1:   depth.NewMatrix(w, h),
		delta2:   depth.NewMatrix(w, h),
		combined: depth.NewMatrix(w, h),
	}
}

// Reset forgets every frame seen so far.
func (s *State) Reset() {
	s.counter = 0
	s.frames = 0
	s.refresh1 = 0
	s.refresh2 = 0
	s.delta1.Fill(0)
	s.delta2.Fill(0)
	s.combined.Fill(0)
	s.previous = nil
}

// Counter returns the frame counter, in [0, Period).
func (s *State) Counter() int {
	return s.counter
}

// Frames returns the number of frames processed since the last Reset.
func (s *State) Frames() int {
	return s.frames
}

// Delta1 returns the delta refreshed every 2 frames. Do not modify.
func (s *State) Delta1() *depth.Matrix {
	return s.delta1
}

// Delta2 returns the delta refreshed every 4 frames. Do not modify.
func (s *State) Delta2() *depth.Matrix {
	return s.delta2
}

// Combined returns the last delta2 - delta1 image. Do not modify.
func (s *State) Combined() *depth.Matrix {
	return s.combined
}

// Previous returns the frame the next delta is computed against, or nil
// before the first frame. Do not modify.
func (s *State) Previous() *depth.Matrix {
	return s.previous
}

// WarmedUp returns true once both deltas were computed at least once. Before
// that the combined image is meaningless.
func (s *State) WarmedUp() bool {
	return s.refresh1 != 0 && s.refresh2 != 0
}

// Result is the outcome of processing one frame.
type Result struct {
	Anomalies       int  // Number of colorized pixels darker than the threshold.
	Counter         int  // Frame counter after this frame.
	Delta1Refreshed bool //
	Delta2Refreshed bool //
	WarmedUp        bool // Both deltas were populated at least once.
}

// Tracker processes frames against a State.
type Tracker struct {
	// Mapper colorizes the combined delta.
	Mapper colorize.Mapper
	// Threshold is the r+g+b sum under which a pixel is an anomaly. Defaults
	// to colorize.DefaultThreshold when 0.
	Threshold int
	// FrozenPrevious reproduces the legacy behavior where the previous frame
	// is captured on the first frame and never advances afterward. All deltas
	// are then computed against the first frame.
	FrozenPrevious bool
}

// Process updates s with current and colorizes the combined delta into dst.
func (t *Tracker) Process(s *State, current *depth.Matrix, dst *depth.ColorMatrix) (Result, error) {
	if t.Mapper == nil {
		return Result{}, errors.Wrap(depth.ErrInvalidArgument, "nil mapper")
	}
	if !sameSize(current, s.delta1) {
		return Result{}, errors.Wrapf(depth.ErrInvalidArgument, "frame is %dx%d, state is %dx%d", current.Width, current.Height, s.delta1.Width, s.delta1.Height)
	}
	if dst.Width != current.Width || dst.Height != current.Height {
		return Result{}, errors.Wrapf(depth.ErrInvalidArgument, "output is %dx%d, frame is %dx%d", dst.Width, dst.Height, current.Width, current.Height)
	}
	if s.previous == nil {
		s.previous = current.Clone()
	}

	res := Result{}
	s.frames++
	s.counter++
	if s.counter%2 == 0 {
		_ = depth.SubSat(current, s.previous, s.delta1)
		s.refresh1++
		res.Delta1Refreshed = true
	}
	if s.counter%Period == 0 {
		_ = depth.SubSat(current, s.previous, s.delta2)
		s.refresh2++
		res.Delta2Refreshed = true
		s.counter = 0
	}
	_ = depth.SubSat(s.delta2, s.delta1, s.combined)

	threshold := t.Threshold
	if threshold == 0 {
		threshold = colorize.DefaultThreshold
	}
	n, err := colorize.ColorizeCount(s.combined, dst, t.Mapper, threshold)
	if err != nil {
		return Result{}, err
	}
	if !t.FrozenPrevious {
		copy(s.previous.Pix, current.Pix)
	}
	res.Anomalies = n
	res.Counter = s.counter
	res.WarmedUp = s.WarmedUp()
	return res, nil
}

func sameSize(a, b *depth.Matrix) bool {
	return a.Width == b.Width && a.Height == b.Height
}
