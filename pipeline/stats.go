// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package pipeline

import (
	"fmt"

	"github.com/montanaflynn/stats"
)

// historySize is the number of anomaly counts kept for Stats.
const historySize = 256

// Stats are the counters of a Channel.
type Stats struct {
	Frames        int // Depth frames processed.
	Empty         int // Depth frames without data.
	Seeds         int // Times features were detected.
	TrackFailures int
	Anomalies     Summary // Over the most recent warmed up delta frames.
}

func (s *Stats) String() string {
	return fmt.Sprintf("%d frames %d empty %d seeds %d track fail; anomalies %s", s.Frames, s.Empty, s.Seeds, s.TrackFailures, &s.Anomalies)
}

// Summary describes a series of values.
type Summary struct {
	N      int
	Mean   float64
	Median float64
	P95    float64
	Max    float64
	StdDev float64
}

func (s *Summary) String() string {
	if s.N == 0 {
		return "n/a"
	}
	return fmt.Sprintf("mean %.1f median %.1f p95 %.1f max %.0f (n=%d)", s.Mean, s.Median, s.P95, s.Max, s.N)
}

// Summarize returns the summary of data. It is the zero value for empty
// data.
func Summarize(data []float64) Summary {
	if len(data) == 0 {
		return Summary{}
	}
	in := stats.LoadRawData(data)
	s := Summary{N: len(data)}
	// The errors are only returned for empty inputs.
	s.Mean, _ = in.Mean()
	s.Median, _ = in.Median()
	s.P95, _ = in.Percentile(95)
	s.Max, _ = in.Max()
	s.StdDev, _ = in.StandardDeviation()
	return s
}
