// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package depth holds the dense depth and color matrices and the decoders
// that fill them from raw, pitched sensor buffers.
package depth

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
)

// Invalid is the sample value meaning "no valid depth reading".
const Invalid uint16 = 0xFFFF

var (
	// ErrNoData is returned when the source buffer isn't available yet, which
	// is signaled by a zero row pitch.
	ErrNoData = errors.New("no frame data")
	// ErrInvalidArgument is returned when a matrix or buffer doesn't have the
	// expected dimensions.
	ErrInvalidArgument = errors.New("invalid argument")
)

// Matrix is a dense row-major grid of 16 bits depth samples.
//
// It implements image.Image. It is essentially a Gray16 without the big
// endian byte packing, so arithmetic on samples is direct.
type Matrix struct {
	Pix    []uint16
	Width  int
	Height int
}

// NewMatrix returns a zeroed matrix.
func NewMatrix(w, h int) *Matrix {
	return &Matrix{Pix: make([]uint16, w*h), Width: w, Height: h}
}

// NewMatrixFor returns a zeroed matrix of the resolution's dimensions.
func NewMatrixFor(r Resolution) *Matrix {
	w, h := r.Size()
	return NewMatrix(w, h)
}

func (m *Matrix) ColorModel() color.Model {
	return color.Gray16Model
}

func (m *Matrix) Bounds() image.Rectangle {
	return image.Rect(0, 0, m.Width, m.Height)
}

func (m *Matrix) At(x, y int) color.Color {
	return color.Gray16{m.Gray16At(x, y)}
}

// Gray16At returns the raw sample. Out of bounds reads return Invalid.
func (m *Matrix) Gray16At(x, y int) uint16 {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return Invalid
	}
	return m.Pix[y*m.Width+x]
}

// Set stores a sample.
func (m *Matrix) Set(x, y int, v uint16) {
	m.Pix[y*m.Width+x] = v
}

// Fill sets every sample to v.
func (m *Matrix) Fill(v uint16) {
	for i := range m.Pix {
		m.Pix[i] = v
	}
}

// Clone returns a deep copy.
func (m *Matrix) Clone() *Matrix {
	out := &Matrix{Pix: make([]uint16, len(m.Pix)), Width: m.Width, Height: m.Height}
	copy(out.Pix, m.Pix)
	return out
}

// CopyFrom overwrites m with src. Both must have the same dimensions.
func (m *Matrix) CopyFrom(src *Matrix) error {
	if !sameSize(m.Bounds(), src.Bounds()) {
		return errors.Wrapf(ErrInvalidArgument, "copy %dx%d into %dx%d", src.Width, src.Height, m.Width, m.Height)
	}
	copy(m.Pix, src.Pix)
	return nil
}

// Equal returns true if both matrices have the same dimensions and samples.
func (m *Matrix) Equal(r *Matrix) bool {
	if !sameSize(m.Bounds(), r.Bounds()) {
		return false
	}
	for i, v := range m.Pix {
		if r.Pix[i] != v {
			return false
		}
	}
	return true
}

// MinMax returns the smallest and largest valid samples. It returns Invalid,
// 0 if no sample is valid.
func (m *Matrix) MinMax() (uint16, uint16) {
	lo := Invalid
	hi := uint16(0)
	for _, v := range m.Pix {
		if v == Invalid {
			continue
		}
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Verify returns ErrInvalidArgument if m doesn't have r's dimensions.
func (m *Matrix) Verify(r Resolution) error {
	return VerifySize(m.Bounds(), r)
}

// SubSat stores a - b in dst, clamping negative results to 0.
//
// dst may alias a or b.
func SubSat(a, b, dst *Matrix) error {
	if !sameSize(a.Bounds(), b.Bounds()) || !sameSize(a.Bounds(), dst.Bounds()) {
		return errors.Wrapf(ErrInvalidArgument, "subtract %dx%d - %dx%d into %dx%d", a.Width, a.Height, b.Width, b.Height, dst.Width, dst.Height)
	}
	for i, v := range a.Pix {
		w := b.Pix[i]
		if v > w {
			dst.Pix[i] = v - w
		} else {
			dst.Pix[i] = 0
		}
	}
	return nil
}

// ColorMatrix is a dense row-major grid of 4 channels 8 bits pixels stored in
// R, G, B, A order.
//
// The fourth channel follows the sensor SDK convention: 0 means transparent
// (no data) and 1 means valid. At() and ToNRGBA() expand any non-zero value
// to an opaque alpha so the matrix can be encoded as-is.
type ColorMatrix struct {
	Pix    []uint8
	Width  int
	Height int
}

// NewColorMatrix returns a zeroed, fully transparent matrix.
func NewColorMatrix(w, h int) *ColorMatrix {
	return &ColorMatrix{Pix: make([]uint8, 4*w*h), Width: w, Height: h}
}

// NewColorMatrixFor returns a zeroed matrix of the resolution's dimensions.
func NewColorMatrixFor(r Resolution) *ColorMatrix {
	w, h := r.Size()
	return NewColorMatrix(w, h)
}

func (c *ColorMatrix) ColorModel() color.Model {
	return color.NRGBAModel
}

func (c *ColorMatrix) Bounds() image.Rectangle {
	return image.Rect(0, 0, c.Width, c.Height)
}

func (c *ColorMatrix) At(x, y int) color.Color {
	p := c.RGBAAt(x, y)
	a := uint8(0)
	if p[3] != 0 {
		a = 0xFF
	}
	return color.NRGBA{p[0], p[1], p[2], a}
}

// RGBAAt returns the four raw channels of a pixel.
func (c *ColorMatrix) RGBAAt(x, y int) [4]uint8 {
	if x < 0 || y < 0 || x >= c.Width || y >= c.Height {
		return [4]uint8{}
	}
	i := 4 * (y*c.Width + x)
	return [4]uint8{c.Pix[i], c.Pix[i+1], c.Pix[i+2], c.Pix[i+3]}
}

// SetRGBA stores the four raw channels of a pixel.
func (c *ColorMatrix) SetRGBA(x, y int, p [4]uint8) {
	i := 4 * (y*c.Width + x)
	copy(c.Pix[i:i+4], p[:])
}

// Verify returns ErrInvalidArgument if c doesn't have r's dimensions.
func (c *ColorMatrix) Verify(r Resolution) error {
	return VerifySize(c.Bounds(), r)
}

// ToNRGBA returns a copy where the validity channel is expanded to 0 or 255.
func (c *ColorMatrix) ToNRGBA() *image.NRGBA {
	out := image.NewNRGBA(c.Bounds())
	copy(out.Pix, c.Pix)
	for i := 3; i < len(out.Pix); i += 4 {
		if out.Pix[i] != 0 {
			out.Pix[i] = 0xFF
		}
	}
	return out
}

func sameSize(a, b image.Rectangle) bool {
	return a.Dx() == b.Dx() && a.Dy() == b.Dy()
}
