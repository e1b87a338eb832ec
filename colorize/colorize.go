// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package colorize turns depth matrices into false color images.
package colorize

import (
	"runtime"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/maruel/go-depthflow/depth"
)

// Mapper maps a valid depth sample to a color. It must be pure; it is called
// concurrently.
type Mapper func(d uint16) (r, g, b uint8)

// Valid is the alpha channel value of every colorized pixel.
const Valid = 1

// DefaultThreshold is the composite brightness under which a pixel is counted
// by ColorizeCount.
const DefaultThreshold = 127 * 3

// Colorize maps each sample of src into dst.
//
// Invalid samples are written as transparent black, everything else as the
// mapped color with the alpha channel pinned to Valid.
func Colorize(src *depth.Matrix, dst *depth.ColorMatrix, m Mapper) error {
	_, err := colorize(src, dst, m, 0)
	return err
}

// ColorizeCount is Colorize but also returns the number of valid pixels whose
// r+g+b is strictly below threshold.
func ColorizeCount(src *depth.Matrix, dst *depth.ColorMatrix, m Mapper, threshold int) (int, error) {
	return colorize(src, dst, m, threshold)
}

func colorize(src *depth.Matrix, dst *depth.ColorMatrix, m Mapper, threshold int) (int, error) {
	if m == nil {
		return 0, errors.Wrap(depth.ErrInvalidArgument, "nil mapper")
	}
	if src.Width != dst.Width || src.Height != dst.Height {
		return 0, errors.Wrapf(depth.ErrInvalidArgument, "colorize %dx%d into %dx%d", src.Width, src.Height, dst.Width, dst.Height)
	}
	var count int64
	var eg errgroup.Group
	for _, band := range bands(src.Height, runtime.GOMAXPROCS(0)) {
		start, end := band[0], band[1]
		eg.Go(func() error {
			n := 0
			for y := start; y < end; y++ {
				in := src.Pix[y*src.Width : (y+1)*src.Width]
				out := dst.Pix[4*y*dst.Width : 4*(y+1)*dst.Width]
				for x, v := range in {
					o := out[4*x : 4*x+4]
					if v == depth.Invalid {
						o[0], o[1], o[2], o[3] = 0, 0, 0, 0
						continue
					}
					r, g, b := m(v)
					o[0], o[1], o[2], o[3] = r, g, b, Valid
					if int(r)+int(g)+int(b) < threshold {
						n++
					}
				}
			}
			atomic.AddInt64(&count, int64(n))
			return nil
		})
	}
	return int(count), eg.Wait()
}

// bands splits [0, height) in at most n contiguous row ranges.
func bands(height, n int) [][2]int {
	if n < 1 {
		n = 1
	}
	if n > height {
		n = height
	}
	out := make([][2]int, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, [2]int{i * height / n, (i + 1) * height / n})
	}
	return out
}
