// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package recording stores raw sensor frames in a zstd compressed file so a
// session can be replayed through the pipeline.
//
// The decompressed stream is a header followed by one record per frame, all
// little endian:
//
//	header: "DFLW" | version u16 | id [16]byte | resolution u8 | created i64 (ns)
//	record: seq u32 | timestamp i64 (ns) | depth | color
//	buffer: pitch u32 | length u32 | data
package recording

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/maruel/go-depthflow/depth"
	"github.com/maruel/go-depthflow/sensor"
)

const (
	magic   = "DFLW"
	version = 1
	// maxBuffer bounds a single buffer so a corrupted length can't allocate
	// gigabytes: 1280x960 pixels, 4 bytes each, with generous padding.
	maxBuffer = 8 << 20
)

// ErrFormat is returned when a file is not a valid recording.
var ErrFormat = errors.New("invalid recording")

// Header describes a recording.
type Header struct {
	ID         uuid.UUID
	Resolution depth.Resolution
	Created    time.Time
}

// Writer appends frames to a recording.
type Writer struct {
	hdr    Header
	enc    *zstd.Encoder
	bw     *bufio.Writer
	closer io.Closer // Underlying file when created with Create.
	frames int
	buf    [8]byte
}

// NewWriter starts a recording of frames of resolution res on w.
func NewWriter(w io.Writer, res depth.Resolution) (*Writer, error) {
	if !res.Valid() {
		return nil, errors.Wrapf(depth.ErrInvalidArgument, "resolution %d", int(res))
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	out := &Writer{
		hdr: Header{ID: uuid.New(), Resolution: res, Created: time.Now().UTC()},
		enc: enc,
		bw:  bufio.NewWriter(enc),
	}
	out.bw.WriteString(magic)
	out.u16(version)
	out.bw.Write(out.hdr.ID[:])
	out.bw.WriteByte(uint8(res))
	out.u64(uint64(out.hdr.Created.UnixNano()))
	return out, nil
}

// Create creates the file at path and starts a recording in it.
func Create(path string, res depth.Resolution) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w, err := NewWriter(f, res)
	if err != nil {
		return nil, multierr.Combine(err, f.Close())
	}
	w.closer = f
	return w, nil
}

// Header returns the recording header.
func (w *Writer) Header() Header {
	return w.hdr
}

// Frames returns the number of frames written.
func (w *Writer) Frames() int {
	return w.frames
}

// Write appends f. Frames without data are recorded too so the replay keeps
// the sensor cadence.
func (w *Writer) Write(f *sensor.Frame) error {
	if f.HasDepth() && f.Depth.Resolution != w.hdr.Resolution {
		return errors.Wrapf(depth.ErrInvalidArgument, "frame is %s, recording is %s", f.Depth.Resolution, w.hdr.Resolution)
	}
	w.u32(f.Seq)
	w.u64(uint64(f.Timestamp.UnixNano()))
	w.buffer(&f.Depth)
	w.buffer(&f.Color)
	if err := w.bw.Flush(); err != nil {
		return errors.Wrap(err, "failed to write frame")
	}
	w.frames++
	return nil
}

// Close flushes the recording. It closes the file when created with Create.
func (w *Writer) Close() error {
	err := multierr.Combine(w.bw.Flush(), w.enc.Close())
	if w.closer != nil {
		err = multierr.Append(err, w.closer.Close())
	}
	return err
}

func (w *Writer) buffer(r *depth.RawFrame) {
	w.u32(uint32(r.Pitch))
	if r.Pitch == 0 {
		w.u32(0)
		return
	}
	w.u32(uint32(len(r.Data)))
	w.bw.Write(r.Data)
}

func (w *Writer) u16(v uint16) {
	binary.LittleEndian.PutUint16(w.buf[:], v)
	w.bw.Write(w.buf[:2])
}

func (w *Writer) u32(v uint32) {
	binary.LittleEndian.PutUint32(w.buf[:], v)
	w.bw.Write(w.buf[:4])
}

func (w *Writer) u64(v uint64) {
	binary.LittleEndian.PutUint64(w.buf[:], v)
	w.bw.Write(w.buf[:8])
}

// Reader reads frames from a recording.
type Reader struct {
	hdr    Header
	dec    *zstd.Decoder
	closer io.Closer
	buf    [8]byte
}

// NewReader reads the header of the recording in r.
func NewReader(r io.Reader) (*Reader, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, errors.Wrapf(ErrFormat, "%v", err)
	}
	out := &Reader{dec: dec}
	var m [4]byte
	if _, err := io.ReadFull(dec, m[:]); err != nil || string(m[:]) != magic {
		dec.Close()
		return nil, errors.Wrap(ErrFormat, "bad magic")
	}
	v, err := out.u16()
	if err != nil || v != version {
		dec.Close()
		return nil, errors.Wrapf(ErrFormat, "unsupported version %d", v)
	}
	var hdr [16 + 1 + 8]byte
	if _, err := io.ReadFull(dec, hdr[:]); err != nil {
		dec.Close()
		return nil, errors.Wrap(ErrFormat, "short header")
	}
	copy(out.hdr.ID[:], hdr[:16])
	out.hdr.Resolution = depth.Resolution(hdr[16])
	out.hdr.Created = time.Unix(0, int64(binary.LittleEndian.Uint64(hdr[17:]))).UTC()
	if !out.hdr.Resolution.Valid() {
		dec.Close()
		return nil, errors.Wrapf(ErrFormat, "resolution %d", hdr[16])
	}
	return out, nil
}

// Open opens the recording at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := NewReader(f)
	if err != nil {
		return nil, multierr.Combine(errors.Wrapf(err, "%s", path), f.Close())
	}
	r.closer = f
	return r, nil
}

// Header returns the recording header.
func (r *Reader) Header() Header {
	return r.hdr
}

// Read reads the next frame into f, reusing its buffers. It returns io.EOF
// after the last frame.
func (r *Reader) Read(f *sensor.Frame) error {
	seq, err := r.u32()
	if err == io.EOF {
		return io.EOF
	}
	if err != nil {
		return errors.Wrap(ErrFormat, "truncated record")
	}
	ts, err := r.u64()
	if err != nil {
		return errors.Wrap(ErrFormat, "truncated record")
	}
	if err := r.buffer(&f.Depth); err != nil {
		return err
	}
	if err := r.buffer(&f.Color); err != nil {
		return err
	}
	f.Seq = seq
	f.Timestamp = time.Unix(0, int64(ts)).UTC()
	return nil
}

// Close releases the decoder. It closes the file when opened with Open.
func (r *Reader) Close() error {
	r.dec.Close()
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

func (r *Reader) buffer(out *depth.RawFrame) error {
	pitch, err := r.u32()
	if err != nil {
		return errors.Wrap(ErrFormat, "truncated buffer")
	}
	n, err := r.u32()
	if err != nil {
		return errors.Wrap(ErrFormat, "truncated buffer")
	}
	if n > maxBuffer {
		return errors.Wrapf(ErrFormat, "buffer of %d bytes", n)
	}
	out.Pitch = int(pitch)
	out.Resolution = r.hdr.Resolution
	if cap(out.Data) < int(n) {
		out.Data = make([]byte, n)
	}
	out.Data = out.Data[:n]
	if _, err := io.ReadFull(r.dec, out.Data); err != nil {
		return errors.Wrap(ErrFormat, "truncated buffer")
	}
	return nil
}

func (r *Reader) u16() (uint16, error) {
	if _, err := io.ReadFull(r.dec, r.buf[:2]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(r.buf[:]), nil
}

func (r *Reader) u32() (uint32, error) {
	if _, err := io.ReadFull(r.dec, r.buf[:4]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(r.buf[:]), nil
}

func (r *Reader) u64() (uint64, error) {
	if _, err := io.ReadFull(r.dec, r.buf[:8]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(r.buf[:]), nil
}
