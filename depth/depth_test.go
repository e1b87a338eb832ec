// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package depth

import (
	"encoding/binary"
	"image"
	"image/color"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestVerifySize(t *testing.T) {
	for _, r := range Resolutions() {
		w, h := r.Size()
		test.That(t, NewMatrix(w, h).Verify(r), test.ShouldBeNil)
		test.That(t, NewColorMatrix(w, h).Verify(r), test.ShouldBeNil)

		data := []struct {
			w, h int
		}{
			{h, w},
			{w + 1, h},
			{w - 1, h},
			{w, h + 1},
			{w, h - 1},
		}
		for _, line := range data {
			err := NewMatrix(line.w, line.h).Verify(r)
			test.That(t, errors.Is(err, ErrInvalidArgument), test.ShouldBeTrue)
		}
	}
	err := VerifySize(image.Rect(0, 0, 0, 0), ResInvalid)
	test.That(t, errors.Is(err, ErrInvalidArgument), test.ShouldBeTrue)
}

func TestResolution(t *testing.T) {
	for _, r := range Resolutions() {
		b, err := r.MarshalText()
		test.That(t, err, test.ShouldBeNil)
		var got Resolution
		test.That(t, got.UnmarshalText(b), test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, r)
	}
	test.That(t, Res640x480.String(), test.ShouldEqual, "640x480")
	_, err := ParseResolution("641x480")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, Resolution(42).Valid(), test.ShouldBeFalse)
}

func TestDecodeDepth(t *testing.T) {
	m := NewMatrixFor(Res80x60)
	for i := range m.Pix {
		m.Pix[i] = uint16(i * 7)
	}
	m.Set(3, 4, Invalid)
	// 80*2 = 160 bytes per row, padded to 192.
	raw, err := EncodeDepth(m, Res80x60, 192)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, raw.Data[160], test.ShouldEqual, 0xCD)

	got := NewMatrixFor(Res80x60)
	test.That(t, DecodeDepth(raw, got), test.ShouldBeNil)
	test.That(t, got.Equal(m), test.ShouldBeTrue)
	test.That(t, got.Gray16At(3, 4), test.ShouldEqual, Invalid)
	test.That(t, got.At(1, 0), test.ShouldResemble, color.Gray16{7})
}

func TestDecode_NoData(t *testing.T) {
	raw := RawFrame{Data: make([]byte, 80*60*4), Resolution: Res80x60}
	m := NewMatrixFor(Res80x60)
	m.Fill(1234)
	err := DecodeDepth(raw, m)
	test.That(t, err, test.ShouldEqual, ErrNoData)
	for _, v := range m.Pix {
		if v != 1234 {
			t.Fatal("depth matrix was touched")
		}
	}

	c := NewColorMatrixFor(Res80x60)
	for i := range c.Pix {
		c.Pix[i] = 42
	}
	err = DecodeColor(raw, BGRA, c)
	test.That(t, err, test.ShouldEqual, ErrNoData)
	for _, v := range c.Pix {
		if v != 42 {
			t.Fatal("color matrix was touched")
		}
	}
}

func TestDecode_Invalid(t *testing.T) {
	m := NewMatrixFor(Res80x60)
	data := []struct {
		name string
		raw  RawFrame
		dst  *Matrix
	}{
		{"short pitch", RawFrame{Data: make([]byte, 80*60*2), Pitch: 159, Resolution: Res80x60}, m},
		{"short buffer", RawFrame{Data: make([]byte, 80*60*2-1), Pitch: 160, Resolution: Res80x60}, m},
		{"resolution", RawFrame{Data: make([]byte, 80*60*2), Pitch: 160}, m},
		{"dst", RawFrame{Data: make([]byte, 80*60*2), Pitch: 160, Resolution: Res80x60}, NewMatrix(60, 80)},
	}
	for _, line := range data {
		t.Run(line.name, func(t *testing.T) {
			err := DecodeDepth(line.raw, line.dst)
			test.That(t, errors.Is(err, ErrInvalidArgument), test.ShouldBeTrue)
		})
	}
	// The last row doesn't need its padding.
	raw := RawFrame{Data: make([]byte, 192*59+160), Pitch: 192, Resolution: Res80x60}
	test.That(t, DecodeDepth(raw, m), test.ShouldBeNil)
}

func TestDecodeColor(t *testing.T) {
	w, h := Res80x60.Size()
	pitch := 4*w + 16
	raw := RawFrame{Data: make([]byte, pitch*h), Pitch: pitch, Resolution: Res80x60}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			i := y*pitch + 4*x
			raw.Data[i+0] = uint8(x)     // B
			raw.Data[i+1] = uint8(y)     // G
			raw.Data[i+2] = uint8(x + y) // R
			raw.Data[i+3] = 0xFF
		}
	}
	c := NewColorMatrixFor(Res80x60)
	test.That(t, DecodeColor(raw, BGRA, c), test.ShouldBeNil)
	test.That(t, c.RGBAAt(5, 7), test.ShouldResemble, [4]uint8{12, 7, 5, 0xFF})

	test.That(t, DecodeColor(raw, RGBA, c), test.ShouldBeNil)
	test.That(t, c.RGBAAt(5, 7), test.ShouldResemble, [4]uint8{5, 7, 12, 0xFF})

	err := DecodeColor(raw, ChannelOrder(3), c)
	test.That(t, errors.Is(err, ErrInvalidArgument), test.ShouldBeTrue)
}

func TestSubSat(t *testing.T) {
	a := NewMatrix(2, 1)
	b := NewMatrix(2, 1)
	a.Pix[0], a.Pix[1] = 100, 150
	b.Pix[0], b.Pix[1] = 150, 100
	dst := NewMatrix(2, 1)
	test.That(t, SubSat(a, b, dst), test.ShouldBeNil)
	test.That(t, dst.Pix, test.ShouldResemble, []uint16{0, 50})
	test.That(t, SubSat(a, b, a), test.ShouldBeNil)
	test.That(t, a.Pix, test.ShouldResemble, []uint16{0, 50})
	err := SubSat(a, NewMatrix(1, 2), dst)
	test.That(t, errors.Is(err, ErrInvalidArgument), test.ShouldBeTrue)
}

func TestMinMax(t *testing.T) {
	m := NewMatrix(1, 1)
	m.Pix[0] = Invalid
	lo, hi := m.MinMax()
	test.That(t, lo, test.ShouldEqual, Invalid)
	test.That(t, hi, test.ShouldEqual, 0)
	test.That(t, AGC(m).Pix, test.ShouldResemble, []uint8{0})

	m = NewMatrix(3, 1)
	copy(m.Pix, []uint16{1000, Invalid, 3000})
	lo, hi = m.MinMax()
	test.That(t, lo, test.ShouldEqual, 1000)
	test.That(t, hi, test.ShouldEqual, 3000)
	test.That(t, AGC(m).Pix, test.ShouldResemble, []uint8{0, 0, 255})
}

func TestToGray(t *testing.T) {
	m := NewMatrix(4, 1)
	copy(m.Pix, []uint16{500, 1000, 2000, Invalid})
	g := image.NewGray(m.Bounds())
	test.That(t, ToGray(m, 1000, 2020, g), test.ShouldBeNil)
	test.That(t, g.Pix, test.ShouldResemble, []uint8{0, 0, 250, 0})
	err := ToGray(m, 10, 10, g)
	test.That(t, errors.Is(err, ErrInvalidArgument), test.ShouldBeTrue)
	err = ToGray(m, 0, 10, image.NewGray(image.Rect(0, 0, 1, 1)))
	test.That(t, errors.Is(err, ErrInvalidArgument), test.ShouldBeTrue)
}

func TestColorMatrix(t *testing.T) {
	c := NewColorMatrix(2, 1)
	c.SetRGBA(0, 0, [4]uint8{1, 2, 3, 1})
	test.That(t, c.At(0, 0), test.ShouldResemble, color.NRGBA{1, 2, 3, 255})
	test.That(t, c.At(1, 0), test.ShouldResemble, color.NRGBA{})
	n := c.ToNRGBA()
	test.That(t, n.Pix, test.ShouldResemble, []uint8{1, 2, 3, 255, 0, 0, 0, 0})
	// The original is not modified.
	test.That(t, c.RGBAAt(0, 0)[3], test.ShouldEqual, 1)
}

func TestEncodeDepth(t *testing.T) {
	m := NewMatrixFor(Res80x60)
	_, err := EncodeDepth(m, Res80x60, 10)
	test.That(t, errors.Is(err, ErrInvalidArgument), test.ShouldBeTrue)
	raw, err := EncodeDepth(m, Res80x60, 160)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, binary.LittleEndian.Uint16(raw.Data), test.ShouldEqual, 0)
	clone := raw.Clone()
	clone.Data[0] = 1
	test.That(t, raw.Data[0], test.ShouldEqual, 0)
}
