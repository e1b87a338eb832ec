// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"context"
	"testing"

	"go.viam.com/test"

	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/sensor"
	"github.com/maruel/go-depthflow/sensor/sensortest"
)

func TestImageRing(t *testing.T) {
	r := makeImageRing()
	a := r.get()
	test.That(t, a, test.ShouldNotBeNil)
	r.done(a)
	test.That(t, r.get(), test.ShouldEqual, a)
	// Only 8 buffers are kept.
	for i := 0; i < 10; i++ {
		r.done(&sensor.Frame{})
	}
	test.That(t, len(r.c), test.ShouldEqual, 8)
}

func TestCopyFrame(t *testing.T) {
	src, err := sensortest.New(sensortest.Opts{Resolution: depth.Res80x60})
	test.That(t, err, test.ShouldBeNil)
	var f sensor.Frame
	test.That(t, src.NextFrame(context.Background(), &f), test.ShouldBeNil)
	var dst sensor.Frame
	copyFrame(&dst, &f)
	test.That(t, dst.Seq, test.ShouldEqual, f.Seq)
	test.That(t, dst.Depth.Data, test.ShouldResemble, f.Depth.Data)
	test.That(t, dst.Color.Pitch, test.ShouldEqual, f.Color.Pitch)

	// The copy doesn't alias the source buffers.
	before := append([]byte(nil), dst.Depth.Data...)
	test.That(t, src.NextFrame(context.Background(), &f), test.ShouldBeNil)
	test.That(t, dst.Depth.Data, test.ShouldResemble, before)
	buf := dst.Depth.Data
	copyFrame(&dst, &f)
	test.That(t, &dst.Depth.Data[0], test.ShouldEqual, &buf[0])
}
