// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package depth

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

// RawFrame is a read-only view of a sensor buffer.
//
// Pitch is the number of bytes per row, which may be larger than
// width*bytes-per-pixel due to alignment. A zero Pitch means that no frame is
// currently available.
type RawFrame struct {
	Data       []byte
	Pitch      int
	Resolution Resolution
}

// Clone returns a copy that doesn't alias the sensor's buffer.
func (r *RawFrame) Clone() RawFrame {
	out := *r
	out.Data = append([]byte(nil), r.Data...)
	return out
}

// ChannelOrder is the byte order of the four channels of a packed color
// pixel in a RawFrame.
type ChannelOrder int

// Valid values for ChannelOrder.
const (
	// BGRA is what most sensors produce; the fourth byte is unused padding.
	BGRA ChannelOrder = 0
	RGBA ChannelOrder = 1
)

func (c ChannelOrder) String() string {
	switch c {
	case BGRA:
		return "BGRA"
	case RGBA:
		return "RGBA"
	default:
		return "ChannelOrder(?)"
	}
}

// DecodeDepth copies a pitched little endian 16 bits buffer into dst.
//
// Returns ErrNoData without touching dst when src.Pitch is 0.
func DecodeDepth(src RawFrame, dst *Matrix) error {
	if src.Pitch == 0 {
		return ErrNoData
	}
	w, h := src.Resolution.Size()
	if err := checkRaw(src, 2, w, h); err != nil {
		return err
	}
	if err := dst.Verify(src.Resolution); err != nil {
		return err
	}
	for y := 0; y < h; y++ {
		row := src.Data[y*src.Pitch : y*src.Pitch+2*w]
		out := dst.Pix[y*w : (y+1)*w]
		for x := range out {
			out[x] = binary.LittleEndian.Uint16(row[2*x:])
		}
	}
	return nil
}

// DecodeColor copies a pitched 4 bytes per pixel buffer into dst, reordering
// the channels from order to RGBA.
//
// Returns ErrNoData without touching dst when src.Pitch is 0.
func DecodeColor(src RawFrame, order ChannelOrder, dst *ColorMatrix) error {
	if src.Pitch == 0 {
		return ErrNoData
	}
	w, h := src.Resolution.Size()
	if err := checkRaw(src, 4, w, h); err != nil {
		return err
	}
	if err := dst.Verify(src.Resolution); err != nil {
		return err
	}
	for y := 0; y < h; y++ {
		row := src.Data[y*src.Pitch : y*src.Pitch+4*w]
		out := dst.Pix[4*y*w : 4*(y+1)*w]
		switch order {
		case RGBA:
			copy(out, row)
		case BGRA:
			for i := 0; i < len(row); i += 4 {
				out[i+0] = row[i+2]
				out[i+1] = row[i+1]
				out[i+2] = row[i+0]
				out[i+3] = row[i+3]
			}
		default:
			return errors.Wrapf(ErrInvalidArgument, "channel order %d", int(order))
		}
	}
	return nil
}

// EncodeDepth is the inverse of DecodeDepth. It packs m in a buffer with the
// given pitch, which must be at least 2*m.Width. The padding bytes are
// filled with 0xCD to make misuse visible.
func EncodeDepth(m *Matrix, r Resolution, pitch int) (RawFrame, error) {
	if err := m.Verify(r); err != nil {
		return RawFrame{}, err
	}
	if pitch < 2*m.Width {
		return RawFrame{}, errors.Wrapf(ErrInvalidArgument, "pitch %d is smaller than a row", pitch)
	}
	out := RawFrame{Data: make([]byte, pitch*m.Height), Pitch: pitch, Resolution: r}
	for i := range out.Data {
		out.Data[i] = 0xCD
	}
	for y := 0; y < m.Height; y++ {
		row := out.Data[y*pitch:]
		for x := 0; x < m.Width; x++ {
			binary.LittleEndian.PutUint16(row[2*x:], m.Pix[y*m.Width+x])
		}
	}
	return out, nil
}

// checkRaw verifies that src can be read without going out of bounds.
func checkRaw(src RawFrame, bpp, w, h int) error {
	if w == 0 {
		return errors.Wrapf(ErrInvalidArgument, "unknown resolution %d", int(src.Resolution))
	}
	if src.Pitch < bpp*w {
		return errors.Wrapf(ErrInvalidArgument, "pitch %d is smaller than a %d pixels row", src.Pitch, w)
	}
	if need := src.Pitch*(h-1) + bpp*w; len(src.Data) < need {
		return errors.Wrapf(ErrInvalidArgument, "buffer is %d bytes, need %d", len(src.Data), need)
	}
	return nil
}
