// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// depthflow-grab captures a single processed image.
//
// The first frames are processed and discarded so that the temporal delta is
// warmed up and the features have been tracked at least once.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/maruel/interrupt"
	"github.com/pkg/errors"

	"github.com/maruel/go-depthflow/config"
	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/internal/cli"
	"github.com/maruel/go-depthflow/overlay"
	"github.com/maruel/go-depthflow/pipeline"
	"github.com/maruel/go-depthflow/sensor"
)

func mainImpl() error {
	configPath := flag.String("config", "", "configuration file; defaults to the built-in configuration")
	skip := flag.Int("skip", 4, "frames to process before the one saved")
	kind := flag.String("kind", "vis", "image to save: vis, depth16, agc or color")
	scale := flag.Int("scale", 1, "upscale the saved image by this factor")
	meta := flag.Bool("meta", false, "print metadata")
	verbose := flag.Bool("v", false, "verbose mode")
	var srcFlags cli.SourceFlags
	srcFlags.Register(flag.CommandLine)
	flag.Parse()

	if flag.NArg() != 1 {
		return errors.New("supply path to the image to save; the extension selects the format")
	}
	if *scale < 1 {
		return errors.New("-scale must be at least 1")
	}
	if *scale > 1 && *kind == "depth16" {
		// Resizing converts to 8 bits.
		return errors.New("-scale is not supported with -kind depth16")
	}
	logger, err := cli.NewLogger("grab", *verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()
	interrupt.HandleCtrlC()

	cfg := config.Default()
	if *configPath != "" {
		if cfg, err = config.Load(*configPath); err != nil {
			return err
		}
	}
	src, err := srcFlags.Open(cfg.Resolution)
	if err != nil {
		return err
	}
	defer src.Close()
	cfg.Resolution = src.Resolution()
	ch, err := pipeline.New(cfg, logger)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-interrupt.Channel
		cancel()
	}()
	out := depth.NewColorMatrixFor(cfg.Resolution)
	var f sensor.Frame
	var res pipeline.Result
	for done := 0; done <= *skip; {
		if err := src.NextFrame(ctx, &f); err != nil {
			return err
		}
		if res, err = ch.ProcessDepth(f.Depth, out); err != nil {
			if errors.Is(err, depth.ErrNoData) {
				logger.Debugw("no depth data", "seq", f.Seq)
				continue
			}
			return err
		}
		done++
	}
	if *meta {
		s := ch.Stats()
		minV, maxV := ch.Depth().MinMax()
		fmt.Printf("Seq:        %d\n", f.Seq)
		fmt.Printf("Timestamp:  %s\n", f.Timestamp)
		fmt.Printf("Range:      %d - %d\n", minV, maxV)
		fmt.Printf("Counter:    %d\n", res.Temporal.Counter)
		fmt.Printf("Anomalies:  %d\n", res.Anomalies)
		fmt.Printf("Features:   %d\n", len(res.Features))
		for _, ft := range res.Features {
			fmt.Printf("  (%5.1f, %5.1f) %s\n", ft.Point.X, ft.Point.Y, ft.Depth)
		}
		fmt.Printf("Pipeline:   %s\n", &s)
	}

	var img image.Image
	switch *kind {
	case "vis":
		img = overlay.Draw(out, res.Features, overlay.Label(&res), overlay.DefaultStyle())
	case "depth16":
		img = ch.Depth()
	case "agc":
		img = depth.AGC(ch.Depth())
	case "color":
		if !f.HasColor() {
			return errors.New("the frame has no color data")
		}
		c := depth.NewColorMatrixFor(cfg.Resolution)
		if err := ch.ProcessColor(f.Color, c); err != nil {
			return err
		}
		img = c.ToNRGBA()
	default:
		return errors.Errorf("unknown -kind %q", *kind)
	}
	if *scale > 1 {
		b := img.Bounds()
		img = imaging.Resize(img, b.Dx()**scale, b.Dy()**scale, imaging.NearestNeighbor)
	}
	return imaging.Save(img, flag.Arg(0))
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\ndepthflow-grab: %s.\n", err)
		os.Exit(1)
	}
}
