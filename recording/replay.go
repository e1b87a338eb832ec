// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package recording

import (
	"context"
	"io"
	"time"

	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/sensor"
)

// Replay is a sensor.Source reading frames from a recording file.
type Replay struct {
	path   string
	loop   bool
	period time.Duration
	r      *Reader
	stats  sensor.Stats
	seq    uint32
}

// NewReplay opens the recording at path.
//
// With loop, the recording restarts from the beginning after the last
// frame instead of returning io.EOF. A non zero period paces the frames.
func NewReplay(path string, loop bool, period time.Duration) (*Replay, error) {
	r, err := Open(path)
	if err != nil {
		return nil, err
	}
	return &Replay{path: path, loop: loop, period: period, r: r}, nil
}

// Header returns the recording header.
func (p *Replay) Header() Header {
	return p.r.Header()
}

// Resolution implements sensor.Source.
func (p *Replay) Resolution() depth.Resolution {
	return p.r.Header().Resolution
}

// NextFrame implements sensor.Source.
//
// Sequence numbers are renumbered so they keep increasing across loops.
func (p *Replay) NextFrame(ctx context.Context, f *sensor.Frame) error {
	if p.period > 0 {
		t := time.NewTimer(p.period)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	err := p.r.Read(f)
	if err == io.EOF && p.loop {
		if err = p.rewind(); err == nil {
			err = p.r.Read(f)
		}
	}
	if err != nil {
		if err != io.EOF {
			p.stats.Fail(err)
		}
		return err
	}
	p.seq++
	f.Seq = p.seq
	p.stats.Record(f)
	return nil
}

// Stats implements sensor.Source.
func (p *Replay) Stats() sensor.Stats {
	return p.stats
}

// Close implements sensor.Source.
func (p *Replay) Close() error {
	return p.r.Close()
}

func (p *Replay) rewind() error {
	r, err := Open(p.path)
	if err != nil {
		return err
	}
	_ = p.r.Close()
	p.r = r
	return nil
}
