// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package flow

import (
	"image"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
)

// TrackingState is the state carried between two Track calls on a channel.
//
// The zero value is ready to use; the first Track call seeds it.
type TrackingState struct {
	prev   *image.Gray
	points []r2.Point
}

// NewTrackingState returns an empty state.
func NewTrackingState() *TrackingState {
	return &TrackingState{}
}

// Points returns a copy of the features tracked so far.
func (s *TrackingState) Points() []r2.Point {
	return append([]r2.Point(nil), s.points...)
}

// Previous returns the last frame accepted, or nil. Do not modify.
func (s *TrackingState) Previous() *image.Gray {
	return s.prev
}

// Reset drops the features and the previous frame so the next Track call
// seeds again.
func (s *TrackingState) Reset() {
	s.prev = nil
	s.points = nil
}

func (s *TrackingState) store(frame *image.Gray, pts []r2.Point) {
	b := frame.Bounds()
	if s.prev == nil || s.prev.Bounds() != image.Rect(0, 0, b.Dx(), b.Dy()) {
		s.prev = image.NewGray(image.Rect(0, 0, b.Dx(), b.Dy()))
	}
	for y := 0; y < b.Dy(); y++ {
		copy(s.prev.Pix[y*s.prev.Stride:], frame.Pix[frame.PixOffset(b.Min.X, b.Min.Y+y):frame.PixOffset(b.Max.X, b.Min.Y+y)])
	}
	s.points = pts
}

// Update is the outcome of a Track call.
type Update struct {
	// Seeded is true when features were detected instead of propagated.
	Seeded bool
	Points []r2.Point
	Status []bool
	Errors []float32
	// Err is set when the frame couldn't be processed. The state is then left
	// as it was before the call.
	Err error
}

// Tracked returns the points with a true status.
func (u *Update) Tracked() []r2.Point {
	var out []r2.Point
	for i, p := range u.Points {
		if u.Status[i] {
			out = append(out, p)
		}
	}
	return out
}

// Tracker seeds and propagates features with a Backend.
type Tracker struct {
	backend Backend
	params  Params
	logger  golog.Logger
}

// NewTracker returns a Tracker. A nil backend uses Native and a nil logger
// uses golog.Global().
func NewTracker(b Backend, p Params, logger golog.Logger) (*Tracker, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if b == nil {
		b = Native{}
	}
	if logger == nil {
		logger = golog.Global()
	}
	return &Tracker{backend: b, params: p, logger: logger}, nil
}

// Params returns the parameters in use.
func (t *Tracker) Params() Params {
	return t.params
}

// Track processes frame against s.
//
// When s has no feature, features are detected on frame. Otherwise the
// features are propagated from the previous frame to frame. On success frame
// and the new positions, lost ones included, become the state for the next
// call. Failures are logged and reported in Update.Err without touching s.
func (t *Tracker) Track(s *TrackingState, frame *image.Gray) Update {
	if len(s.points) == 0 {
		var pts []r2.Point
		err := contain(func() (err error) {
			pts, err = t.backend.GoodFeatures(frame, t.params)
			return
		})
		if err != nil {
			t.logger.Warnw("feature detection failed", "error", err)
			return Update{Seeded: true, Err: err}
		}
		s.store(frame, pts)
		u := Update{
			Seeded: true,
			Points: s.Points(),
			Status: make([]bool, len(pts)),
			Errors: make([]float32, len(pts)),
		}
		for i := range u.Status {
			u.Status[i] = true
		}
		t.logger.Debugw("seeded features", "count", len(pts))
		return u
	}

	var f Flow
	err := contain(func() (err error) {
		f, err = t.backend.PyrLK(s.prev, frame, s.points, t.params)
		return
	})
	if err == nil && len(f.Points) != len(s.points) {
		err = errors.Wrapf(ErrAlgorithmFailure, "backend returned %d points for %d", len(f.Points), len(s.points))
	}
	if err != nil {
		t.logger.Warnw("feature propagation failed", "error", err, "features", len(s.points))
		return Update{Points: s.Points(), Status: make([]bool, len(s.points)), Errors: make([]float32, len(s.points)), Err: err}
	}
	s.store(frame, f.Points)
	return Update{Points: s.Points(), Status: f.Status, Errors: f.Errors}
}

// contain converts a backend panic into ErrAlgorithmFailure.
func contain(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Wrapf(ErrAlgorithmFailure, "panic: %v", r)
		}
	}()
	return fn()
}
