// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sensortest implements a fake depth sensor.
package sensortest

import (
	"context"
	"encoding/binary"
	"math"
	"math/rand"
	"time"

	"github.com/pkg/errors"

	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/sensor"
)

// Background is the distance in millimeters of the fake back wall.
const Background = 2000

// Opts configures a Fake.
type Opts struct {
	Resolution depth.Resolution // Defaults to depth.Res320x240.
	Period     time.Duration    // Time between frames; 0 means as fast as possible.
	EmptyEvery int              // When > 0, every Nth frame has no data.
	Seed       int64
}

// Fake is a sensor.Source rendering blobs moving in front of a wall.
//
// Buffers are pitched with padding at the end of each row, like real
// sensors aligning rows in memory.
type Fake struct {
	opts     Opts
	noise    *noise
	m        *depth.Matrix
	depthBuf []byte
	colorBuf []byte
	seq      uint32
	stats    sensor.Stats
	start    time.Time
}

// New returns a fake sensor.
func New(o Opts) (*Fake, error) {
	if o.Resolution == depth.ResInvalid {
		o.Resolution = depth.Res320x240
	}
	if !o.Resolution.Valid() {
		return nil, errors.Wrapf(depth.ErrInvalidArgument, "resolution %d", int(o.Resolution))
	}
	w, h := o.Resolution.Size()
	return &Fake{
		opts:     o,
		noise:    makeNoise(o.Seed, w, h),
		m:        depth.NewMatrix(w, h),
		depthBuf: make([]byte, Pitch(2, w)*h),
		colorBuf: make([]byte, Pitch(4, w)*h),
		start:    time.Now().UTC(),
	}, nil
}

// Pitch returns the row size used for a w pixels wide buffer.
func Pitch(bpp, w int) int {
	// Rows are 64 bytes aligned and always have some padding.
	return (bpp*w + 64) &^ 63
}

// Resolution implements sensor.Source.
func (f *Fake) Resolution() depth.Resolution {
	return f.opts.Resolution
}

// NextFrame implements sensor.Source.
func (f *Fake) NextFrame(ctx context.Context, fr *sensor.Frame) error {
	if f.opts.Period > 0 {
		t := time.NewTimer(f.opts.Period)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	f.seq++
	fr.Seq = f.seq
	fr.Timestamp = time.Now().UTC()
	res := f.opts.Resolution
	if f.opts.EmptyEvery > 0 && int(f.seq)%f.opts.EmptyEvery == 0 {
		fr.Depth = depth.RawFrame{Resolution: res}
		fr.Color = depth.RawFrame{Resolution: res}
		f.stats.Record(fr)
		return nil
	}
	f.noise.update()
	f.noise.render(f.m)
	f.encode()
	w, _ := res.Size()
	fr.Depth = depth.RawFrame{Data: f.depthBuf, Pitch: Pitch(2, w), Resolution: res}
	fr.Color = depth.RawFrame{Data: f.colorBuf, Pitch: Pitch(4, w), Resolution: res}
	f.stats.Record(fr)
	return nil
}

// Matrix returns the depth rendered for the last frame. Do not modify.
func (f *Fake) Matrix() *depth.Matrix {
	return f.m
}

// Stats implements sensor.Source.
func (f *Fake) Stats() sensor.Stats {
	return f.stats
}

// Uptime returns the time since the fake was created.
func (f *Fake) Uptime() time.Duration {
	return time.Now().UTC().Sub(f.start)
}

// Close implements sensor.Source.
func (f *Fake) Close() error {
	return nil
}

// encode packs the depth as little endian and shades the color buffer as
// BGRA.
func (f *Fake) encode() {
	w, h := f.m.Width, f.m.Height
	dp, cp := Pitch(2, w), Pitch(4, w)
	for y := 0; y < h; y++ {
		drow := f.depthBuf[y*dp : (y+1)*dp]
		crow := f.colorBuf[y*cp : (y+1)*cp]
		for x := 0; x < w; x++ {
			v := f.m.Pix[y*w+x]
			binary.LittleEndian.PutUint16(drow[2*x:], v)
			shade := uint8(0)
			if v != depth.Invalid && v < 4*Background {
				shade = uint8(255 - int(v)*255/(4*Background))
			}
			crow[4*x+0] = shade / 2 // B
			crow[4*x+1] = shade     // G
			crow[4*x+2] = shade     // R
			crow[4*x+3] = 0xFF
		}
		for i := 2 * w; i < dp; i++ {
			drow[i] = 0xCD
		}
		for i := 4 * w; i < cp; i++ {
			crow[i] = 0xCD
		}
	}
}

//

type vector struct {
	intensity float64 // How much closer than the wall, in millimeters.
	radius    float64
	x, y      float64
	vx, vy    float64
}

// noise is cheezy but gets us going for testing without a device.
type noise struct {
	rand    *rand.Rand
	w, h    int
	vectors []vector
}

func makeNoise(seed int64, w, h int) *noise {
	n := &noise{rand: rand.New(rand.NewSource(seed)), w: w, h: h}
	n.vectors = make([]vector, 6)
	fw, fh := float64(w), float64(h)
	for i := range n.vectors {
		n.vectors[i].intensity = 400 + n.rand.Float64()*800
		n.vectors[i].radius = fw * (0.05 + n.rand.Float64()*0.08)
		n.vectors[i].x = fw * (0.2 + 0.6*n.rand.Float64())
		n.vectors[i].y = fh * (0.2 + 0.6*n.rand.Float64())
		n.vectors[i].vx = n.rand.NormFloat64() * fw / 160
		n.vectors[i].vy = n.rand.NormFloat64() * fh / 120
	}
	return n
}

func (n *noise) update() {
	fw, fh := float64(n.w), float64(n.h)
	for i := range n.vectors {
		v := &n.vectors[i]
		v.x += v.vx
		v.y += v.vy
		if v.x < 0 || v.x >= fw {
			v.vx = -v.vx
		}
		if v.y < 0 || v.y >= fh {
			v.vy = -v.vy
		}
		v.intensity += n.rand.NormFloat64() * 5
	}
}

func (n *noise) render(m *depth.Matrix) {
	for y := 0; y < n.h; y++ {
		fy := float64(y)
		for x := 0; x < n.w; x++ {
			// The leftmost columns are in the shadow of the emitter.
			if x < n.w/40 {
				m.Pix[y*n.w+x] = depth.Invalid
				continue
			}
			fx := float64(x)
			value := float64(Background)
			for _, v := range n.vectors {
				d2 := ((v.x-fx)*(v.x-fx) + (v.y-fy)*(v.y-fy)) / (v.radius * v.radius)
				value -= v.intensity * math.Exp(-d2)
			}
			if value < 300 {
				value = 300
			}
			m.Pix[y*n.w+x] = uint16(value)
		}
	}
}
