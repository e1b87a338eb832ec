// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package pipeline wires decoding, colorization, the temporal delta and
// feature tracking for one stream of frames.
package pipeline

import (
	"image"

	"github.com/disintegration/imaging"
	"github.com/edaniels/golog"
	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"periph.io/x/periph/conn/physic"

	"github.com/maruel/go-depthflow/colorize"
	"github.com/maruel/go-depthflow/config"
	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/flow"
	"github.com/maruel/go-depthflow/temporal"
)

// Feature is a tracked feature in frame coordinates.
type Feature struct {
	Point r2.Point
	Depth physic.Distance // Distance at the feature; 0 when unknown.
}

// Result is the outcome of ProcessDepth.
type Result struct {
	Anomalies int             // Only counted in delta mode.
	Temporal  temporal.Result // Zero in raw mode.
	Update    *flow.Update    // nil when tracking is disabled.
	Features  []Feature       // Features with a valid status, in frame coordinates.
}

// Channel processes one logical stream. It must not be used concurrently.
type Channel struct {
	cfg      *config.Config
	logger   golog.Logger
	mapper   colorize.Mapper
	order    depth.ChannelOrder
	m        *depth.Matrix
	gray     *image.Gray
	small    *image.Gray
	state    *temporal.State
	delta    temporal.Tracker
	tracker  *flow.Tracker
	tracking flow.TrackingState
	stats    Stats
	history  []float64
}

// New returns a Channel for cfg, which must be valid.
func New(cfg *config.Config, logger golog.Logger) (*Channel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	mapper, err := cfg.Mapper()
	if err != nil {
		return nil, err
	}
	deltaMapper, err := cfg.DeltaMapper()
	if err != nil {
		return nil, err
	}
	order, err := cfg.Order()
	if err != nil {
		return nil, err
	}
	w, h := cfg.Resolution.Size()
	c := &Channel{
		cfg:    cfg,
		logger: logger,
		mapper: mapper,
		order:  order,
		m:      depth.NewMatrix(w, h),
		gray:   image.NewGray(image.Rect(0, 0, w, h)),
		state:  temporal.NewState(w, h),
		delta: temporal.Tracker{
			Mapper:         deltaMapper,
			Threshold:      cfg.AnomalyThreshold,
			FrozenPrevious: cfg.FrozenPrevious,
		},
	}
	if cfg.Track {
		b, err := flow.Lookup(cfg.Backend)
		if err != nil {
			return nil, err
		}
		if c.tracker, err = flow.NewTracker(b, cfg.Flow, logger); err != nil {
			return nil, err
		}
		if cfg.TrackScale > 1 {
			c.small = image.NewGray(image.Rect(0, 0, w/cfg.TrackScale, h/cfg.TrackScale))
		}
	}
	return c, nil
}

// Config returns the configuration in use.
func (c *Channel) Config() *config.Config {
	return c.cfg
}

// Depth returns the last decoded depth. Do not modify.
func (c *Channel) Depth() *depth.Matrix {
	return c.m
}

// Gray returns the last 8 bits cast of the depth used for tracking. Do not
// modify.
func (c *Channel) Gray() *image.Gray {
	return c.gray
}

// ProcessDepth decodes raw and colorizes it into out according to the mode.
//
// It returns depth.ErrNoData when the sensor had no frame; the state is then
// left untouched. A tracking failure is not an error: it is reported in
// Result.Update.Err.
func (c *Channel) ProcessDepth(raw depth.RawFrame, out *depth.ColorMatrix) (Result, error) {
	res := Result{}
	if err := depth.DecodeDepth(raw, c.m); err != nil {
		if errors.Is(err, depth.ErrNoData) {
			c.stats.Empty++
		}
		return res, err
	}
	switch c.cfg.Mode {
	case config.Delta:
		r, err := c.delta.Process(c.state, c.m, out)
		if err != nil {
			return res, err
		}
		res.Temporal = r
		res.Anomalies = r.Anomalies
		if r.WarmedUp {
			c.record(float64(r.Anomalies))
		}
	default:
		if err := colorize.Colorize(c.m, out, c.mapper); err != nil {
			return res, err
		}
	}
	c.stats.Frames++
	if c.tracker != nil {
		if err := c.track(&res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// ProcessColor decodes the color buffer raw into out.
func (c *Channel) ProcessColor(raw depth.RawFrame, out *depth.ColorMatrix) error {
	return depth.DecodeColor(raw, c.order, out)
}

// Reset forgets the temporal and tracking state.
func (c *Channel) Reset() {
	c.state.Reset()
	c.tracking.Reset()
	c.stats = Stats{}
	c.history = c.history[:0]
}

// Stats returns the counters since the last Reset.
func (c *Channel) Stats() Stats {
	s := c.stats
	s.Anomalies = Summarize(c.history)
	return s
}

func (c *Channel) track(res *Result) error {
	near, far := c.cfg.Range()
	if err := depth.ToGray(c.m, near, far, c.gray); err != nil {
		return err
	}
	frame := c.gray
	scale := float64(c.cfg.TrackScale)
	if c.small != nil {
		b := c.small.Bounds()
		toGray(imaging.Resize(c.gray, b.Dx(), b.Dy(), imaging.Box), c.small)
		frame = c.small
	}
	u := c.tracker.Track(&c.tracking, frame)
	res.Update = &u
	if u.Err != nil {
		c.stats.TrackFailures++
		return nil
	}
	if u.Seeded {
		c.stats.Seeds++
	}
	half := r2.Point{X: .5, Y: .5}
	for _, p := range u.Tracked() {
		// Pixel centers: the box filter maps small pixel x to the center of
		// the full resolution block [x*scale, (x+1)*scale).
		p = p.Add(half).Mul(scale).Sub(half)
		res.Features = append(res.Features, Feature{Point: p, Depth: c.depthAt(p)})
	}
	return nil
}

// depthAt returns the distance at p, assuming samples in millimeters.
func (c *Channel) depthAt(p r2.Point) physic.Distance {
	v := c.m.Gray16At(int(p.X+0.5), int(p.Y+0.5))
	if v == depth.Invalid {
		return 0
	}
	return physic.Distance(v) * physic.MilliMetre
}

func (c *Channel) record(v float64) {
	if len(c.history) == historySize {
		copy(c.history, c.history[1:])
		c.history = c.history[:historySize-1]
	}
	c.history = append(c.history, v)
}

// toGray copies the red channel of src into dst. Both have the same size.
func toGray(src *image.NRGBA, dst *image.Gray) {
	b := dst.Bounds()
	for y := 0; y < b.Dy(); y++ {
		s := src.Pix[y*src.Stride:]
		d := dst.Pix[y*dst.Stride : y*dst.Stride+b.Dx()]
		for x := range d {
			d[x] = s[4*x]
		}
	}
}
