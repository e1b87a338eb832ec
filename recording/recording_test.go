// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package recording

import (
	"bytes"
	"context"
	"io"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/sensor"
	"github.com/maruel/go-depthflow/sensor/sensortest"
)

// grab returns n frames from the fake sensor, every third one empty.
func grab(t *testing.T, n int) []*sensor.Frame {
	f, err := sensortest.New(sensortest.Opts{Resolution: depth.Res80x60, EmptyEvery: 3})
	test.That(t, err, test.ShouldBeNil)
	var out []*sensor.Frame
	for i := 0; i < n; i++ {
		var fr sensor.Frame
		test.That(t, f.NextFrame(context.Background(), &fr), test.ShouldBeNil)
		out = append(out, fr.Clone())
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	frames := grab(t, 5)
	var buf bytes.Buffer
	w, err := NewWriter(&buf, depth.Res80x60)
	test.That(t, err, test.ShouldBeNil)
	for _, f := range frames {
		test.That(t, w.Write(f), test.ShouldBeNil)
	}
	test.That(t, w.Frames(), test.ShouldEqual, 5)
	test.That(t, w.Close(), test.ShouldBeNil)

	r, err := NewReader(&buf)
	test.That(t, err, test.ShouldBeNil)
	defer r.Close()
	hdr := r.Header()
	test.That(t, hdr.ID, test.ShouldResemble, w.Header().ID)
	test.That(t, hdr.Resolution, test.ShouldEqual, depth.Res80x60)
	test.That(t, hdr.Created.Equal(w.Header().Created), test.ShouldBeTrue)

	var got sensor.Frame
	for i, expected := range frames {
		test.That(t, r.Read(&got), test.ShouldBeNil)
		test.That(t, got.Seq, test.ShouldEqual, expected.Seq)
		test.That(t, got.Timestamp.Equal(expected.Timestamp), test.ShouldBeTrue)
		test.That(t, got.Depth.Pitch, test.ShouldEqual, expected.Depth.Pitch)
		test.That(t, got.HasDepth(), test.ShouldEqual, (i+1)%3 != 0)
		if got.HasDepth() {
			if diff := cmp.Diff(expected.Depth, got.Depth); diff != "" {
				t.Fatalf("frame %d depth (-want +got):\n%s", i, diff)
			}
		}
		if got.HasColor() && !bytes.Equal(expected.Color.Data, got.Color.Data) {
			t.Fatalf("frame %d: color mismatch", i)
		}
	}
	test.That(t, r.Read(&got), test.ShouldEqual, io.EOF)
}

func TestWriter_Resolution(t *testing.T) {
	_, err := NewWriter(io.Discard, depth.ResInvalid)
	test.That(t, errors.Is(err, depth.ErrInvalidArgument), test.ShouldBeTrue)

	w, err := NewWriter(io.Discard, depth.Res320x240)
	test.That(t, err, test.ShouldBeNil)
	err = w.Write(grab(t, 1)[0])
	test.That(t, errors.Is(err, depth.ErrInvalidArgument), test.ShouldBeTrue)
	test.That(t, w.Close(), test.ShouldBeNil)
}

func compress(t *testing.T, data []byte) []byte {
	var b bytes.Buffer
	enc, err := zstd.NewWriter(&b)
	test.That(t, err, test.ShouldBeNil)
	_, err = enc.Write(data)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, enc.Close(), test.ShouldBeNil)
	return b.Bytes()
}

func TestReader_Invalid(t *testing.T) {
	hdr := append([]byte("DFLW\x01\x00"), make([]byte, 16)...)
	hdr = append(hdr, byte(depth.Res80x60))
	hdr = append(hdr, make([]byte, 8)...)
	data := []struct {
		name string
		raw  []byte
	}{
		{"not zstd", []byte("not zstd at all")},
		{"magic", compress(t, []byte("XXXX\x01\x00"))},
		{"version", compress(t, []byte("DFLW\x02\x00"))},
		{"short", compress(t, []byte("DFLW\x01\x00abc"))},
		{"resolution", compress(t, append(append([]byte("DFLW\x01\x00"), make([]byte, 16)...), make([]byte, 9)...))},
	}
	for _, line := range data {
		_, err := NewReader(bytes.NewReader(line.raw))
		if !errors.Is(err, ErrFormat) {
			t.Fatalf("%s: got %v", line.name, err)
		}
	}

	// A valid header followed by a truncated record.
	r, err := NewReader(bytes.NewReader(compress(t, append(hdr, 1, 2, 3))))
	test.That(t, err, test.ShouldBeNil)
	defer r.Close()
	var f sensor.Frame
	test.That(t, errors.Is(r.Read(&f), ErrFormat), test.ShouldBeTrue)
}

func TestReplay(t *testing.T) {
	p := filepath.Join(t.TempDir(), "rec.dfz")
	frames := grab(t, 4)
	w, err := Create(p, depth.Res80x60)
	test.That(t, err, test.ShouldBeNil)
	for _, f := range frames {
		test.That(t, w.Write(f), test.ShouldBeNil)
	}
	test.That(t, w.Close(), test.ShouldBeNil)

	r, err := NewReplay(p, false, 0)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.Resolution(), test.ShouldEqual, depth.Res80x60)
	var f sensor.Frame
	for i := 0; i < 4; i++ {
		test.That(t, r.NextFrame(context.Background(), &f), test.ShouldBeNil)
	}
	test.That(t, r.NextFrame(context.Background(), &f), test.ShouldEqual, io.EOF)
	s := r.Stats()
	test.That(t, s.GoodFrames, test.ShouldEqual, 3)
	test.That(t, s.EmptyFrames, test.ShouldEqual, 1)
	test.That(t, r.Close(), test.ShouldBeNil)

	// Looping renumbers the frames.
	r, err = NewReplay(p, true, 0)
	test.That(t, err, test.ShouldBeNil)
	defer r.Close()
	for i := 1; i <= 10; i++ {
		test.That(t, r.NextFrame(context.Background(), &f), test.ShouldBeNil)
		test.That(t, f.Seq, test.ShouldEqual, i)
	}
	m := depth.NewMatrixFor(depth.Res80x60)
	test.That(t, depth.DecodeDepth(f.Depth, m), test.ShouldBeNil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	test.That(t, errors.Is(r.NextFrame(ctx, &f), context.Canceled), test.ShouldBeTrue)
}

func TestOpen_Missing(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	test.That(t, err, test.ShouldNotBeNil)
	_, err = NewReplay(filepath.Join(t.TempDir(), "missing"), true, 0)
	test.That(t, err, test.ShouldNotBeNil)
}
