// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package colorize

import (
	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"

	"github.com/maruel/go-depthflow/depth"
)

// Hue returns a Mapper that spreads [near, far] over the hue wheel from
// orange (near) to blue (far). Samples outside of the range are clamped.
//
// The 64k entries table is computed once so the returned Mapper is cheap.
func Hue(near, far uint16) Mapper {
	lut := make([][3]uint8, 1<<16)
	span := float64(far) - float64(near)
	if span <= 0 {
		span = 1
	}
	for i := range lut {
		z := uint16(i)
		if z < near {
			z = near
		}
		if z > far {
			z = far
		}
		ratio := (float64(z) - float64(near)) / span
		lut[i][0], lut[i][1], lut[i][2] = colorful.Hsv(30+200*ratio, 1, 1).Clamped().RGB255()
	}
	return func(d uint16) (uint8, uint8, uint8) {
		c := lut[d]
		return c[0], c[1], c[2]
	}
}

// Intensity returns a gray Mapper where near samples are bright and far
// samples are dark, clamped to [near, far].
func Intensity(near, far uint16) Mapper {
	span := int(far) - int(near)
	if span <= 0 {
		span = 1
	}
	return func(d uint16) (uint8, uint8, uint8) {
		var v uint8
		switch {
		case d <= near:
			v = 255
		case d >= far:
			v = 0
		default:
			v = uint8(255 - (int(d-near)*255)/span)
		}
		return v, v, v
	}
}

// Gray returns the sample clamped to 255 on every channel. It is mostly
// useful for small valued images like deltas.
func Gray(d uint16) (uint8, uint8, uint8) {
	if d > 255 {
		d = 255
	}
	return uint8(d), uint8(d), uint8(d)
}

// Lookup returns the named Mapper configured for [near, far].
func Lookup(name string, near, far uint16) (Mapper, error) {
	switch name {
	case "", "hue":
		return Hue(near, far), nil
	case "intensity":
		return Intensity(near, far), nil
	case "gray":
		return Gray, nil
	default:
		return nil, errors.Wrapf(depth.ErrInvalidArgument, "unknown colormap %q", name)
	}
}
