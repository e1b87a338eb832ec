// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package depth

import (
	"image"

	"github.com/pkg/errors"
)

// ToGray casts the depth samples in [near, far] linearly down to 8 bits.
//
// Samples outside of the range are clamped; Invalid samples become 0.
func ToGray(m *Matrix, near, far uint16, dst *image.Gray) error {
	if !sameSize(m.Bounds(), dst.Bounds()) {
		return errors.Wrapf(ErrInvalidArgument, "cast %dx%d into %dx%d", m.Width, m.Height, dst.Rect.Dx(), dst.Rect.Dy())
	}
	if far <= near {
		return errors.Wrapf(ErrInvalidArgument, "empty range [%d, %d]", near, far)
	}
	span := int(far - near)
	for y := 0; y < m.Height; y++ {
		row := dst.Pix[y*dst.Stride : y*dst.Stride+m.Width]
		for x := range row {
			v := m.Pix[y*m.Width+x]
			switch {
			case v == Invalid:
				row[x] = 0
			case v <= near:
				row[x] = 0
			case v >= far:
				row[x] = 255
			default:
				row[x] = uint8(int(v-near) * 255 / span)
			}
		}
	}
	return nil
}

// AGC reduces the dynamic range of the valid samples down to 8 bits very
// naively without gamma. It returns an all black image when no sample is
// valid.
func AGC(m *Matrix) *image.Gray {
	dst := image.NewGray(m.Bounds())
	floor, ceil := m.MinMax()
	if floor == Invalid {
		return dst
	}
	if ceil == floor {
		ceil = floor + 1
	}
	// ToGray can't fail here: the dimensions match and ceil > floor.
	_ = ToGray(m, floor, ceil, dst)
	return dst
}
