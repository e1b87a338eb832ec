// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build opencv

package flow

import (
	"encoding/binary"
	"image"
	"math"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// OpenCV is the Backend calling into OpenCV through gocv.
type OpenCV struct{}

func init() {
	Register("opencv", OpenCV{})
}

// GoodFeatures implements Backend.
func (OpenCV) GoodFeatures(img *image.Gray, p Params) ([]r2.Point, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(ErrAlgorithmFailure, "%v", err)
	}
	if err := checkFrame(img); err != nil {
		return nil, err
	}
	m, err := gocv.ImageGrayToMatGray(img)
	if err != nil {
		return nil, errors.Wrapf(ErrAlgorithmFailure, "%v", err)
	}
	defer m.Close()
	corners := gocv.NewMat()
	defer corners.Close()
	gocv.GoodFeaturesToTrack(m, &corners, p.MaxFeatures, p.QualityLevel, p.MinDistance)
	out := make([]r2.Point, 0, corners.Rows())
	for i := 0; i < corners.Rows(); i++ {
		v := corners.GetVecfAt(i, 0)
		out = append(out, r2.Point{X: float64(v[0]), Y: float64(v[1])})
	}
	return out, nil
}

// PyrLK implements Backend.
func (OpenCV) PyrLK(prev, next *image.Gray, pts []r2.Point, p Params) (Flow, error) {
	if err := p.Validate(); err != nil {
		return Flow{}, errors.Wrapf(ErrAlgorithmFailure, "%v", err)
	}
	if err := checkFrame(prev); err != nil {
		return Flow{}, err
	}
	if err := checkFrame(next); err != nil {
		return Flow{}, err
	}
	if pb, nb := prev.Bounds(), next.Bounds(); pb.Size() != nb.Size() {
		return Flow{}, errors.Wrapf(ErrAlgorithmFailure, "frame size changed from %s to %s", pb.Size(), nb.Size())
	}
	f := Flow{
		Points: make([]r2.Point, len(pts)),
		Status: make([]bool, len(pts)),
		Errors: make([]float32, len(pts)),
	}
	if len(pts) == 0 {
		return f, nil
	}
	pm, err := gocv.ImageGrayToMatGray(prev)
	if err != nil {
		return Flow{}, errors.Wrapf(ErrAlgorithmFailure, "%v", err)
	}
	defer pm.Close()
	nm, err := gocv.ImageGrayToMatGray(next)
	if err != nil {
		return Flow{}, errors.Wrapf(ErrAlgorithmFailure, "%v", err)
	}
	defer nm.Close()

	raw := make([]byte, 8*len(pts))
	for i, pt := range pts {
		binary.LittleEndian.PutUint32(raw[8*i:], math.Float32bits(float32(pt.X)))
		binary.LittleEndian.PutUint32(raw[8*i+4:], math.Float32bits(float32(pt.Y)))
	}
	in, err := gocv.NewMatFromBytes(len(pts), 1, gocv.MatTypeCV32FC2, raw)
	if err != nil {
		return Flow{}, errors.Wrapf(ErrAlgorithmFailure, "%v", err)
	}
	defer in.Close()
	out := gocv.NewMat()
	defer out.Close()
	status := gocv.NewMat()
	defer status.Close()
	errs := gocv.NewMat()
	defer errs.Close()

	criteria := gocv.NewTermCriteria(gocv.Count|gocv.EPS, p.MaxIterations, p.Epsilon)
	win := image.Pt(p.WindowSize, p.WindowSize)
	gocv.CalcOpticalFlowPyrLKWithParams(pm, nm, in, out, &status, &errs, win, p.MaxLevel, criteria, 0, p.MinEigThreshold)
	if out.Rows() != len(pts) {
		return Flow{}, errors.Wrapf(ErrAlgorithmFailure, "opencv returned %d points for %d", out.Rows(), len(pts))
	}
	for i := range pts {
		v := out.GetVecfAt(i, 0)
		f.Points[i] = r2.Point{X: float64(v[0]), Y: float64(v[1])}
		f.Status[i] = status.GetUCharAt(i, 0) != 0
		f.Errors[i] = errs.GetFloatAt(i, 0)
	}
	return f, nil
}
