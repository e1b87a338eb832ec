// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// depthflow-inspect runs a recording through the pipeline and prints
// statistics about it.
package main

import (
	"flag"
	"fmt"
	"image/color"
	"io"
	"os"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/maruel/go-depthflow/config"
	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/internal/cli"
	"github.com/maruel/go-depthflow/pipeline"
	"github.com/maruel/go-depthflow/recording"
	"github.com/maruel/go-depthflow/sensor"
)

// series is the per frame measurements.
type series struct {
	seq       []float64
	anomalies []float64
	features  []float64
	nearest   []float64
	farthest  []float64
	empty     int
}

func inspect(r *recording.Reader, ch *pipeline.Channel, logger golog.Logger) (*series, error) {
	out := depth.NewColorMatrixFor(r.Header().Resolution)
	s := &series{}
	var f sensor.Frame
	for {
		if err := r.Read(&f); err != nil {
			if err == io.EOF {
				return s, nil
			}
			return s, err
		}
		res, err := ch.ProcessDepth(f.Depth, out)
		if errors.Is(err, depth.ErrNoData) {
			s.empty++
			continue
		}
		if err != nil {
			return s, err
		}
		if res.Update != nil && res.Update.Err != nil {
			logger.Debugw("tracking failed", "seq", f.Seq, "error", res.Update.Err)
		}
		minV, maxV := ch.Depth().MinMax()
		s.seq = append(s.seq, float64(f.Seq))
		s.anomalies = append(s.anomalies, float64(res.Anomalies))
		s.features = append(s.features, float64(len(res.Features)))
		s.nearest = append(s.nearest, float64(minV))
		s.farthest = append(s.farthest, float64(maxV))
	}
}

func line(x, y []float64, c color.Color) (*plotter.Line, error) {
	pts := make(plotter.XYs, len(x))
	for i := range x {
		pts[i] = plotter.XY{X: x[i], Y: y[i]}
	}
	l, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	l.Width = vg.Points(1)
	l.Color = c
	return l, nil
}

// savePlot draws the anomaly and feature counts over time.
func savePlot(s *series, title, path string) error {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "Count"
	a, err := line(s.seq, s.anomalies, color.RGBA{R: 0xCC, A: 0xFF})
	if err != nil {
		return err
	}
	f, err := line(s.seq, s.features, color.RGBA{G: 0x99, A: 0xFF})
	if err != nil {
		return err
	}
	p.Add(plotter.NewGrid(), a, f)
	p.Legend.Add("anomalies", a)
	p.Legend.Add("features", f)
	return p.Save(10*vg.Inch, 4*vg.Inch, path)
}

func mainImpl() error {
	configPath := flag.String("config", "", "configuration file; defaults to the built-in configuration")
	mode := flag.String("mode", "", "override the configuration mode: raw or delta")
	plotPath := flag.String("plot", "", "save a plot of the anomalies and features to this file")
	verbose := flag.Bool("v", false, "verbose mode")
	flag.Parse()

	if flag.NArg() != 1 {
		return errors.New("supply path to the recording to inspect")
	}
	logger, err := cli.NewLogger("inspect", *verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	if *mode != "" {
		cfg.Mode = config.Mode(*mode)
	}
	r, err := recording.Open(flag.Arg(0))
	if err != nil {
		return err
	}
	defer r.Close()
	hdr := r.Header()
	cfg.Resolution = hdr.Resolution
	ch, err := pipeline.New(cfg, logger)
	if err != nil {
		return err
	}

	fmt.Printf("ID:         %s\n", hdr.ID)
	fmt.Printf("Resolution: %s\n", hdr.Resolution)
	fmt.Printf("Created:    %s\n", hdr.Created)
	s, err := inspect(r, ch, logger)
	if err != nil {
		return err
	}
	fmt.Printf("Frames:     %d (%d empty)\n", len(s.seq)+s.empty, s.empty)
	stats := ch.Stats()
	fmt.Printf("Pipeline:   %s\n", &stats)
	for _, l := range []struct {
		name string
		data []float64
	}{
		{"Anomalies", s.anomalies},
		{"Features", s.features},
		{"Nearest", s.nearest},
		{"Farthest", s.farthest},
	} {
		sum := pipeline.Summarize(l.data)
		fmt.Printf("%-11s %s\n", l.name+":", &sum)
	}
	if *plotPath != "" {
		if len(s.seq) == 0 {
			return errors.New("nothing to plot")
		}
		return savePlot(s, hdr.ID.String(), *plotPath)
	}
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\ndepthflow-inspect: %s.\n", err)
		os.Exit(1)
	}
}
