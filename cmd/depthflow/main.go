// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// depthflow serves the processed depth stream over HTTP.
//
// Frames come from the simulated sensor or from a recording. Each frame is
// colorized, or turned into a temporal delta when the configuration selects
// the delta mode, and the tracked features are drawn on top.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"runtime/pprof"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/maruel/interrupt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/maruel/go-depthflow/config"
	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/internal/cli"
	"github.com/maruel/go-depthflow/overlay"
	"github.com/maruel/go-depthflow/pipeline"
	"github.com/maruel/go-depthflow/recording"
	"github.com/maruel/go-depthflow/sensor"
)

// imageRing recycles frame buffers between the capture and processing loops.
type imageRing struct {
	c chan *sensor.Frame
}

func makeImageRing() *imageRing {
	return &imageRing{c: make(chan *sensor.Frame, 16)}
}

func (i *imageRing) get() *sensor.Frame {
	select {
	case f := <-i.c:
		return f
	default:
		return &sensor.Frame{}
	}
}

func (i *imageRing) done(f *sensor.Frame) {
	if len(i.c) < 8 {
		i.c <- f
	}
}

// copyFrame copies src into dst, reusing dst's buffers. Sources own the
// buffers they return until the next call.
func copyFrame(dst, src *sensor.Frame) {
	dst.Seq = src.Seq
	dst.Timestamp = src.Timestamp
	copyRaw(&dst.Depth, &src.Depth)
	copyRaw(&dst.Color, &src.Color)
}

func copyRaw(dst, src *depth.RawFrame) {
	dst.Pitch = src.Pitch
	dst.Resolution = src.Resolution
	dst.Data = append(dst.Data[:0], src.Data...)
}

// Metadata is sent along each image.
type Metadata struct {
	Seq       uint32
	Timestamp time.Time
	Min       uint16
	Max       uint16
	Anomalies int
	Counter   int
	WarmedUp  bool
	Seeded    bool
	Features  int
	Lost      int
}

type state struct {
	lock    sync.Mutex
	Img     *image.RGBA   // Visualization with the overlay.
	Depth   *depth.Matrix // Last decoded depth.
	Meta    Metadata
	Source  sensor.Stats
	Channel pipeline.Stats
}

var currentState state

// processor turns frames into visualizations.
type processor struct {
	ch     *pipeline.Channel
	out    *depth.ColorMatrix
	rec    *recording.Writer
	web    *WebServer
	style  overlay.Style
	logger golog.Logger
}

func (p *processor) process(f *sensor.Frame) error {
	if p.rec != nil {
		if err := p.rec.Write(f); err != nil {
			return err
		}
	}
	res, err := p.ch.ProcessDepth(f.Depth, p.out)
	if errors.Is(err, depth.ErrNoData) {
		p.logger.Debugw("no depth data", "seq", f.Seq)
		return nil
	}
	if err != nil {
		return err
	}
	img := overlay.Draw(p.out, res.Features, overlay.Label(&res), p.style)
	meta := Metadata{
		Seq:       f.Seq,
		Timestamp: f.Timestamp,
		Anomalies: res.Anomalies,
		Counter:   res.Temporal.Counter,
		WarmedUp:  res.Temporal.WarmedUp,
		Features:  len(res.Features),
	}
	meta.Min, meta.Max = p.ch.Depth().MinMax()
	if res.Update != nil {
		meta.Seeded = res.Update.Seeded
		meta.Lost = len(res.Update.Points) - len(res.Features)
	}
	currentState.lock.Lock()
	currentState.Img = img
	if currentState.Depth == nil {
		currentState.Depth = p.ch.Depth().Clone()
	} else {
		_ = currentState.Depth.CopyFrom(p.ch.Depth())
	}
	currentState.Meta = meta
	currentState.Channel = p.ch.Stats()
	currentState.lock.Unlock()
	p.web.AddImg(&entry{img: img, meta: meta})
	return nil
}

func mainImpl() error {
	cpuprofile := flag.String("cpuprofile", "", "dump CPU profile in file")
	port := flag.Int("port", 8010, "http port to listen on")
	configPath := flag.String("config", "", "configuration file; defaults to ~/.config/depthflow/depthflow.json")
	record := flag.String("record", "", "also record the frames in this file")
	restart := flag.Bool("restart", false, "exit when the executable or the configuration is modified")
	verbose := flag.Bool("v", false, "verbose mode")
	var srcFlags cli.SourceFlags
	srcFlags.Register(flag.CommandLine)
	flag.Parse()

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}
	logger, err := cli.NewLogger("depthflow", *verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			return err
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	interrupt.HandleCtrlC()

	if *configPath == "" {
		if *configPath, err = config.DefaultPath(); err != nil {
			return err
		}
	}
	cfg, err := config.LoadOrCreate(*configPath)
	if err != nil {
		return err
	}
	src, err := srcFlags.Open(cfg.Resolution)
	if err != nil {
		return err
	}
	defer src.Close()
	if src.Resolution() != cfg.Resolution {
		logger.Infow("using the source resolution", "config", cfg.Resolution, "source", src.Resolution())
		cfg.Resolution = src.Resolution()
	}
	ch, err := pipeline.New(cfg, logger)
	if err != nil {
		return err
	}
	p := &processor{
		ch:     ch,
		out:    depth.NewColorMatrixFor(cfg.Resolution),
		style:  overlay.DefaultStyle(),
		logger: logger,
	}
	p.style.Depths = *verbose
	if *record != "" {
		if p.rec, err = recording.Create(*record, cfg.Resolution); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-interrupt.Channel
		cancel()
	}()
	p.web = StartWebServer(*port, logger)

	eg, ctx := errgroup.WithContext(ctx)
	frames := make(chan *sensor.Frame, 16)
	ring := makeImageRing()
	eg.Go(func() error {
		// Capture in a separate loop so slow processing doesn't stall the
		// source.
		defer close(frames)
		var f sensor.Frame
		for {
			err := src.NextFrame(ctx, &f)
			// Sources are not safe for concurrent use.
			stats := src.Stats()
			currentState.lock.Lock()
			currentState.Source = stats
			currentState.lock.Unlock()
			if err != nil {
				if err == io.EOF {
					logger.Infow("end of the recording", "stats", stats.String())
					return nil
				}
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
			b := ring.get()
			copyFrame(b, &f)
			select {
			case frames <- b:
			case <-ctx.Done():
				return nil
			}
		}
	})
	eg.Go(func() error {
		for f := range frames {
			if err := p.process(f); err != nil {
				return err
			}
			ring.done(f)
		}
		return nil
	})
	if *restart {
		exe, err := os.Executable()
		if err != nil {
			return err
		}
		go func() {
			modified, err := watchFiles(exe, *configPath)
			if err != nil {
				logger.Warnw("failed to watch files", "error", err)
			} else if modified != "" {
				logger.Infow("restarting", "modified", modified)
			}
			interrupt.Set()
		}()
	}

	waited := make(chan error, 1)
	go func() {
		waited <- eg.Wait()
	}()
	for done := false; !done; {
		currentState.lock.Lock()
		stats := currentState.Source
		currentState.lock.Unlock()
		fmt.Printf("\r%s", &stats)
		select {
		case <-interrupt.Channel:
			cancel()
			err = <-waited
			done = true
		case err = <-waited:
			done = err != nil || interrupt.IsSet()
			if !done {
				// The recording ended; keep serving the last frame.
				<-interrupt.Channel
				done = true
			}
		case <-time.After(time.Second):
		}
	}
	fmt.Print("\n")
	if p.rec != nil {
		logger.Infow("recorded", "frames", p.rec.Frames(), "id", p.rec.Header().ID)
		err = multierr.Append(err, p.rec.Close())
	}
	return err
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\ndepthflow: %s.\n", err)
		os.Exit(1)
	}
}
