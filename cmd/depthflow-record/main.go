// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// depthflow-record saves raw frames to a recording that can be replayed
// with -replay.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/maruel/interrupt"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/internal/cli"
	"github.com/maruel/go-depthflow/recording"
	"github.com/maruel/go-depthflow/sensor"
)

func mainImpl() error {
	var res depth.Resolution
	flag.TextVar(&res, "res", depth.Res320x240, "resolution of the simulated sensor")
	n := flag.Int("n", 300, "number of frames to record; 0 for no limit")
	duration := flag.Duration("d", 0, "stop recording after this duration")
	verbose := flag.Bool("v", false, "verbose mode")
	var srcFlags cli.SourceFlags
	srcFlags.Register(flag.CommandLine)
	flag.Parse()

	if flag.NArg() != 1 {
		return errors.New("supply path to the recording to create")
	}
	logger, err := cli.NewLogger("record", *verbose)
	if err != nil {
		return err
	}
	defer logger.Sync()
	interrupt.HandleCtrlC()

	src, err := srcFlags.Open(res)
	if err != nil {
		return err
	}
	defer src.Close()
	w, err := recording.Create(flag.Arg(0), src.Resolution())
	if err != nil {
		return err
	}
	logger.Infow("recording", "id", w.Header().ID, "resolution", src.Resolution())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if *duration > 0 {
		ctx, cancel = context.WithTimeout(ctx, *duration)
		defer cancel()
	}
	go func() {
		<-interrupt.Channel
		cancel()
	}()
	err = record(ctx, src, w, *n)
	if err == io.EOF || ctx.Err() != nil {
		// Stopping on Ctrl-C, after -d or at the end of a replay is not an
		// error.
		err = nil
	}
	stats := src.Stats()
	fmt.Printf("%d frames; %s\n", w.Frames(), &stats)
	return multierr.Append(err, w.Close())
}

func record(ctx context.Context, src sensor.Source, w *recording.Writer, n int) error {
	var f sensor.Frame
	last := time.Now()
	for n == 0 || w.Frames() < n {
		if err := src.NextFrame(ctx, &f); err != nil {
			return err
		}
		if err := w.Write(&f); err != nil {
			return err
		}
		if time.Since(last) > time.Second {
			fmt.Printf("\r%d frames", w.Frames())
			last = time.Now()
		}
	}
	fmt.Print("\r")
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\ndepthflow-record: %s.\n", err)
		os.Exit(1)
	}
}
