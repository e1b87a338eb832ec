// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sensor defines the boundary with depth sensors.
//
// A Source hands out raw pitched buffers exactly as the sensor SDK does;
// decoding happens in package depth.
package sensor

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/maruel/go-depthflow/depth"
)

// Source reads frames from a depth sensor. This interface can be mocked.
type Source interface {
	io.Closer

	Resolution() depth.Resolution                  // Resolution of both the depth and the color buffers.
	NextFrame(ctx context.Context, f *Frame) error // NextFrame blocks until the next frame is available.
	Stats() Stats                                  //
}

// Frame is one capture from a Source.
//
// Depth and Color are only valid until the next call to NextFrame on the
// same Frame. A Pitch of 0 means the sensor had no data for that stream.
type Frame struct {
	Depth     depth.RawFrame
	Color     depth.RawFrame
	Seq       uint32    // Frame number since the source started.
	Timestamp time.Time // Capture time, UTC.
}

// HasDepth returns true if the depth buffer holds data.
func (f *Frame) HasDepth() bool {
	return f.Depth.Pitch != 0
}

// HasColor returns true if the color buffer holds data.
func (f *Frame) HasColor() bool {
	return f.Color.Pitch != 0
}

// Clone returns a deep copy of f.
func (f *Frame) Clone() *Frame {
	return &Frame{
		Depth:     f.Depth.Clone(),
		Color:     f.Color.Clone(),
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
	}
}

// Stats are counters kept by a Source.
type Stats struct {
	LastFail    error
	GoodFrames  int // Frames with depth data.
	ColorFrames int // Frames with color data.
	EmptyFrames int // Frames where the sensor had no depth data.
	Fails       int
}

func (s *Stats) String() string {
	return fmt.Sprintf("%d frames %d color %d empty %d fail", s.GoodFrames, s.ColorFrames, s.EmptyFrames, s.Fails)
}

// Record updates the counters for f.
func (s *Stats) Record(f *Frame) {
	if f.HasDepth() {
		s.GoodFrames++
	} else {
		s.EmptyFrames++
	}
	if f.HasColor() {
		s.ColorFrames++
	}
}

// Fail records a failed read.
func (s *Stats) Fail(err error) {
	s.Fails++
	s.LastFail = err
}
