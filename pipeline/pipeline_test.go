// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pipeline

import (
	"context"
	"math"
	"testing"

	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"go.viam.com/test"
	"periph.io/x/periph/conn/physic"

	"github.com/maruel/go-depthflow/config"
	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/sensor"
	"github.com/maruel/go-depthflow/sensor/sensortest"
)

func newConfig() *config.Config {
	c := config.Default()
	c.Resolution = depth.Res80x60
	c.TrackScale = 1
	return c
}

// checkerboard returns a frame of 20 pixels squares alternating between 1m
// and 3m.
func checkerboard(t *testing.T) depth.RawFrame {
	m := depth.NewMatrixFor(depth.Res80x60)
	for y := 0; y < m.Height; y++ {
		for x := 0; x < m.Width; x++ {
			v := uint16(1000)
			if (x/20+y/20)%2 == 1 {
				v = 3000
			}
			m.Set(x, y, v)
		}
	}
	raw, err := depth.EncodeDepth(m, depth.Res80x60, sensortest.Pitch(2, m.Width))
	test.That(t, err, test.ShouldBeNil)
	return raw
}

func uniform(t *testing.T, v uint16) depth.RawFrame {
	m := depth.NewMatrixFor(depth.Res80x60)
	m.Fill(v)
	raw, err := depth.EncodeDepth(m, depth.Res80x60, 160)
	test.That(t, err, test.ShouldBeNil)
	return raw
}

func TestNew_Invalid(t *testing.T) {
	c := newConfig()
	c.Mode = "bogus"
	_, err := New(c, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)

	c = newConfig()
	c.Backend = "unknown"
	_, err = New(c, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestProcessDepth_Raw(t *testing.T) {
	c := newConfig()
	c.Colormap = "gray"
	c.Track = false
	ch, err := New(c, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	out := depth.NewColorMatrixFor(depth.Res80x60)
	res, err := ch.ProcessDepth(uniform(t, 100), out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Update, test.ShouldBeNil)
	test.That(t, res.Anomalies, test.ShouldEqual, 0)
	test.That(t, out.RGBAAt(3, 4), test.ShouldResemble, [4]uint8{100, 100, 100, 1})
	test.That(t, ch.Depth().Gray16At(3, 4), test.ShouldEqual, 100)
	test.That(t, ch.Stats().Frames, test.ShouldEqual, 1)
}

func TestProcessDepth_NoData(t *testing.T) {
	ch, err := New(newConfig(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	out := depth.NewColorMatrixFor(depth.Res80x60)
	_, err = ch.ProcessDepth(depth.RawFrame{Resolution: depth.Res80x60}, out)
	test.That(t, errors.Is(err, depth.ErrNoData), test.ShouldBeTrue)
	s := ch.Stats()
	test.That(t, s.Empty, test.ShouldEqual, 1)
	test.That(t, s.Frames, test.ShouldEqual, 0)

	// A buffer for the wrong resolution is an error too, but not empty.
	_, err = ch.ProcessDepth(uniform(t, 100), depth.NewColorMatrixFor(depth.Res320x240))
	test.That(t, err, test.ShouldNotBeNil)
}

func TestProcessDepth_Delta(t *testing.T) {
	c := newConfig()
	c.Mode = config.Delta
	c.DeltaColormap = "intensity"
	c.NearMM = 0
	c.FarMM = 60
	c.Track = false
	ch, err := New(c, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	out := depth.NewColorMatrixFor(depth.Res80x60)
	var results []Result
	for _, v := range []uint16{100, 150, 120, 180, 200, 210} {
		res, err := ch.ProcessDepth(uniform(t, v), out)
		test.That(t, err, test.ShouldBeNil)
		results = append(results, res)
	}
	for _, r := range results[:5] {
		test.That(t, r.Anomalies, test.ShouldEqual, 0)
	}
	test.That(t, results[5].Anomalies, test.ShouldEqual, 80*60)
	test.That(t, results[5].Temporal.Counter, test.ShouldEqual, 2)

	s := ch.Stats()
	test.That(t, s.Frames, test.ShouldEqual, 6)
	test.That(t, s.Anomalies.N, test.ShouldEqual, 3)
	test.That(t, s.Anomalies.Max, test.ShouldEqual, 80*60)
	test.That(t, s.Anomalies.Median, test.ShouldEqual, 0)

	ch.Reset()
	s = ch.Stats()
	test.That(t, s.Frames, test.ShouldEqual, 0)
	test.That(t, s.Anomalies.N, test.ShouldEqual, 0)
	res, err := ch.ProcessDepth(uniform(t, 100), out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Temporal.Counter, test.ShouldEqual, 1)
}

func TestProcessDepth_Track(t *testing.T) {
	ch, err := New(newConfig(), golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	out := depth.NewColorMatrixFor(depth.Res80x60)
	raw := checkerboard(t)

	res, err := ch.ProcessDepth(raw, out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res.Update, test.ShouldNotBeNil)
	test.That(t, res.Update.Seeded, test.ShouldBeTrue)
	test.That(t, len(res.Features), test.ShouldEqual, 6)
	for _, f := range res.Features {
		if f.Depth != 1000*physic.MilliMetre && f.Depth != 3000*physic.MilliMetre {
			t.Fatalf("unexpected depth %s at %v", f.Depth, f.Point)
		}
	}

	// The same frame again: the features don't move.
	res2, err := ch.ProcessDepth(raw, out)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, res2.Update.Seeded, test.ShouldBeFalse)
	test.That(t, res2.Features, test.ShouldResemble, res.Features)
	s := ch.Stats()
	test.That(t, s.Seeds, test.ShouldEqual, 1)
	test.That(t, s.TrackFailures, test.ShouldEqual, 0)
}

func TestProcessDepth_DeltaDefault(t *testing.T) {
	c := newConfig()
	c.Mode = config.Delta
	c.Track = false
	ch, err := New(c, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	out := depth.NewColorMatrixFor(depth.Res80x60)
	data := []struct {
		v         uint16
		anomalies int
	}{
		// Small combined deltas are dark.
		{100, 80 * 60},
		{150, 80 * 60},
		{120, 80 * 60},
		{180, 80 * 60},
		{200, 80 * 60},
		{210, 80 * 60},
		{400, 80 * 60},
		{1000, 80 * 60},
		{3000, 80 * 60},
		// delta2 is 600 and delta1 saturates to 0.
		{100, 0},
	}
	for i, line := range data {
		res, err := ch.ProcessDepth(uniform(t, line.v), out)
		test.That(t, err, test.ShouldBeNil)
		if res.Anomalies != line.anomalies {
			t.Fatalf("#%d: %d anomalies, expected %d", i, res.Anomalies, line.anomalies)
		}
	}
	test.That(t, out.Pix[:4], test.ShouldResemble, []uint8{255, 255, 255, 1})
	s := ch.Stats()
	// Warmed up from the 4th frame.
	test.That(t, s.Anomalies.N, test.ShouldEqual, 7)
	test.That(t, s.Anomalies.Max, test.ShouldEqual, 80*60)
	test.That(t, s.Anomalies.Mean, test.ShouldAlmostEqual, 6*80*60/7.)
}

// cornerDistance returns how far p is from the closest checkerboard corner,
// on the worst axis.
func cornerDistance(p r2.Point) float64 {
	closest := func(v float64, corners ...float64) float64 {
		d := math.Inf(1)
		for _, c := range corners {
			d = math.Min(d, math.Abs(v-c))
		}
		return d
	}
	// Corners sit between pixels 19 and 20, 39 and 40, 59 and 60.
	return math.Max(closest(p.X, 19.5, 39.5, 59.5), closest(p.Y, 19.5, 39.5))
}

func TestProcessDepth_TrackScaled(t *testing.T) {
	for _, scale := range []int{1, 2, 4} {
		c := newConfig()
		c.TrackScale = scale
		ch, err := New(c, golog.NewTestLogger(t))
		test.That(t, err, test.ShouldBeNil)
		out := depth.NewColorMatrixFor(depth.Res80x60)
		res, err := ch.ProcessDepth(checkerboard(t), out)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, len(res.Features), test.ShouldBeGreaterThan, 0)
		// Coordinates are mapped back to the full resolution frame, within
		// half a downsampled pixel of the true corner.
		for _, f := range res.Features {
			if d := cornerDistance(f.Point); d > float64(scale)/2+0.01 {
				t.Fatalf("scale %d: %v is %.2f pixels from a corner", scale, f.Point, d)
			}
		}
	}
}

func TestProcessDepth_Fake(t *testing.T) {
	f, err := sensortest.New(sensortest.Opts{Resolution: depth.Res80x60, EmptyEvery: 4})
	test.That(t, err, test.ShouldBeNil)
	defer f.Close()
	c := newConfig()
	c.Mode = config.Delta
	ch, err := New(c, golog.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	out := depth.NewColorMatrixFor(depth.Res80x60)
	color := depth.NewColorMatrixFor(depth.Res80x60)
	var fr sensor.Frame
	for i := 0; i < 12; i++ {
		test.That(t, f.NextFrame(context.Background(), &fr), test.ShouldBeNil)
		_, err := ch.ProcessDepth(fr.Depth, out)
		if !fr.HasDepth() {
			test.That(t, errors.Is(err, depth.ErrNoData), test.ShouldBeTrue)
			continue
		}
		test.That(t, err, test.ShouldBeNil)
		test.That(t, ch.ProcessColor(fr.Color, color), test.ShouldBeNil)
	}
	s := ch.Stats()
	test.That(t, s.Frames, test.ShouldEqual, 9)
	test.That(t, s.Empty, test.ShouldEqual, 3)
}

func TestSummarize(t *testing.T) {
	test.That(t, Summarize(nil), test.ShouldResemble, Summary{})
	s := Summarize([]float64{1, 2, 3, 4})
	test.That(t, s.N, test.ShouldEqual, 4)
	test.That(t, s.Mean, test.ShouldEqual, 2.5)
	test.That(t, s.Median, test.ShouldEqual, 2.5)
	test.That(t, s.Max, test.ShouldEqual, 4)
	test.That(t, s.String(), test.ShouldContainSubstring, "n=4")
}

func TestChannel_History(t *testing.T) {
	c := &Channel{}
	for i := 0; i < historySize+10; i++ {
		c.record(float64(i))
	}
	test.That(t, len(c.history), test.ShouldEqual, historySize)
	test.That(t, c.history[0], test.ShouldEqual, 10)
}
