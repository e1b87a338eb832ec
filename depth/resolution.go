// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package depth

import (
	"fmt"
	"image"
	"strings"

	"github.com/pkg/errors"
)

// Resolution is one of the canonical image resolutions a depth or color
// sensor produces.
type Resolution int

// Valid values for Resolution.
const (
	ResInvalid  Resolution = 0
	Res80x60    Resolution = 1
	Res320x240  Resolution = 2
	Res640x480  Resolution = 3
	Res1280x960 Resolution = 4
)

var resolutionSizes = [...]image.Point{
	ResInvalid:  {},
	Res80x60:    {80, 60},
	Res320x240:  {320, 240},
	Res640x480:  {640, 480},
	Res1280x960: {1280, 960},
}

// Resolutions returns every declared resolution, smallest first.
func Resolutions() []Resolution {
	return []Resolution{Res80x60, Res320x240, Res640x480, Res1280x960}
}

// Size returns the width and height. It returns 0, 0 for an unknown value.
func (r Resolution) Size() (int, int) {
	if r <= ResInvalid || int(r) >= len(resolutionSizes) {
		return 0, 0
	}
	p := resolutionSizes[r]
	return p.X, p.Y
}

// Bounds returns the image rectangle anchored at 0, 0.
func (r Resolution) Bounds() image.Rectangle {
	w, h := r.Size()
	return image.Rect(0, 0, w, h)
}

// Valid returns true if r is a declared resolution.
func (r Resolution) Valid() bool {
	w, _ := r.Size()
	return w != 0
}

func (r Resolution) String() string {
	if !r.Valid() {
		return fmt.Sprintf("Resolution(%d)", int(r))
	}
	w, h := r.Size()
	return fmt.Sprintf("%dx%d", w, h)
}

// MarshalText implements encoding.TextMarshaler.
func (r Resolution) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, errors.Wrapf(ErrInvalidArgument, "resolution %d", int(r))
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Resolution) UnmarshalText(b []byte) error {
	v, err := ParseResolution(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseResolution parses a "WxH" string like "640x480".
func ParseResolution(s string) (Resolution, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, r := range Resolutions() {
		if r.String() == s {
			return r, nil
		}
	}
	return ResInvalid, errors.Wrapf(ErrInvalidArgument, "unknown resolution %q", s)
}

// VerifySize returns ErrInvalidArgument if b doesn't have exactly the
// dimensions of r.
func VerifySize(b image.Rectangle, r Resolution) error {
	w, h := r.Size()
	if w == 0 {
		return errors.Wrapf(ErrInvalidArgument, "unknown resolution %d", int(r))
	}
	if b.Dx() != w || b.Dy() != h {
		return errors.Wrapf(ErrInvalidArgument, "got %dx%d, expected %s", b.Dx(), b.Dy(), r)
	}
	return nil
}
