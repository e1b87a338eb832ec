// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cli contains the flags and setup shared by the commands.
package cli

import (
	"flag"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/recording"
	"github.com/maruel/go-depthflow/sensor"
	"github.com/maruel/go-depthflow/sensor/sensortest"
)

// NewLogger returns a console logger at info level, or debug level when
// verbose is set.
func NewLogger(name string, verbose bool) (golog.Logger, error) {
	c := golog.NewDevelopmentLoggerConfig()
	if verbose {
		c.Level.SetLevel(zap.DebugLevel)
	}
	l, err := c.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar().Named(name), nil
}

// SourceFlags selects the frame source.
type SourceFlags struct {
	Replay     string
	Loop       bool
	Period     time.Duration
	Seed       int64
	EmptyEvery int
}

// Register adds the flags to fs.
func (s *SourceFlags) Register(fs *flag.FlagSet) {
	fs.StringVar(&s.Replay, "replay", "", "replay a recording instead of the simulated sensor")
	fs.BoolVar(&s.Loop, "loop", false, "restart the replay at the end of the recording")
	fs.DurationVar(&s.Period, "period", 33*time.Millisecond, "delay between frames; 0 to go as fast as possible")
	fs.Int64Var(&s.Seed, "seed", 1, "seed of the simulated sensor")
	fs.IntVar(&s.EmptyEvery, "empty", 0, "simulated sensor returns no data every N frames")
}

// Open opens the selected source. res is only used by the simulated sensor;
// a replay uses the recording's resolution.
func (s *SourceFlags) Open(res depth.Resolution) (sensor.Source, error) {
	if s.Replay != "" {
		r, err := recording.NewReplay(s.Replay, s.Loop, s.Period)
		if err != nil {
			return nil, errors.Wrap(err, "failed to open the recording")
		}
		return r, nil
	}
	if s.Loop {
		return nil, errors.New("-loop requires -replay")
	}
	return sensortest.New(sensortest.Opts{
		Resolution: res,
		Period:     s.Period,
		EmptyEvery: s.EmptyEvery,
		Seed:       s.Seed,
	})
}
