// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package flow

import (
	"image"
	"math"
	"sort"

	"github.com/golang/geo/r2"
	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
)

// Native is the pure Go Backend.
type Native struct{}

// GoodFeatures implements Backend.
//
// The corner score is the minimal eigenvalue of the gradient structure
// tensor summed over a BlockSize window. Corners are local maxima scoring at
// least QualityLevel times the best score, sorted by decreasing score and
// spaced by at least MinDistance. A frame without any texture returns no
// feature.
func (Native) GoodFeatures(img *image.Gray, p Params) ([]r2.Point, error) {
	if err := p.Validate(); err != nil {
		return nil, errors.Wrapf(ErrAlgorithmFailure, "%v", err)
	}
	if err := checkFrame(img); err != nil {
		return nil, err
	}
	src := planeFromGray(img)
	w, h := src.w, src.h
	eig := minEigen(src, p.BlockSize)
	best := 0.
	for _, v := range eig {
		if v > best {
			best = v
		}
	}
	out := []r2.Point{}
	if best <= 0 {
		return out, nil
	}
	thresh := best * p.QualityLevel

	type candidate struct {
		x, y int
		v    float64
	}
	var cands []candidate
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			v := eig[y*w+x]
			if v < thresh || !localMax(eig, w, x, y, v) {
				continue
			}
			cands = append(cands, candidate{x, y, v})
		}
	}
	// Stable so equal scores are kept in raster order.
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].v > cands[j].v })

	min2 := p.MinDistance * p.MinDistance
	for _, c := range cands {
		pt := r2.Point{X: float64(c.x), Y: float64(c.y)}
		keep := true
		for _, o := range out {
			if d := pt.Sub(o); d.Dot(d) < min2 {
				keep = false
				break
			}
		}
		if !keep {
			continue
		}
		out = append(out, pt)
		if p.MaxFeatures > 0 && len(out) == p.MaxFeatures {
			break
		}
	}
	return out, nil
}

// PyrLK implements Backend.
//
// Each point is refined from the coarsest pyramid level to the finest one. A
// point is lost when its gradient matrix is too weak at the finest level or
// when it ends up outside of the frame.
func (Native) PyrLK(prev, next *image.Gray, pts []r2.Point, p Params) (Flow, error) {
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

	prevPyr := pyramid(planeFromGray(prev), p.MaxLevel, p.WindowSize)
	nextPyr := pyramid(planeFromGray(next), len(prevPyr)-1, 0)
	grads := make([][2]*plane, len(prevPyr))
	for l, lvl := range prevPyr {
		grads[l][0], grads[l][1] = scharr(lvl)
	}
	half := p.WindowSize / 2
	top := len(prevPyr) - 1
	w, h := float64(prevPyr[0].w-1), float64(prevPyr[0].h-1)

	for i, pt := range pts {
		f.Points[i] = pt
		if !inside(pt, 0, w, h) || math.IsNaN(pt.X) || math.IsNaN(pt.Y) {
			continue
		}
		guess := pt.Mul(math.Ldexp(1, -top))
		ok := false
		var e float32
		for l := top; l >= 0; l-- {
			lpt := pt.Mul(math.Ldexp(1, -l))
			if l != top {
				guess = guess.Mul(2)
			}
			var g r2.Point
			if g, e, ok = lkLevel(prevPyr[l], nextPyr[l], grads[l][0], grads[l][1], lpt, guess, half, p); ok {
				guess = g
			}
		}
		f.Points[i] = guess
		if ok && inside(guess, 0, w, h) {
			f.Status[i] = true
			f.Errors[i] = e
		}
	}
	return f, nil
}

func checkFrame(img *image.Gray) error {
	if img == nil {
		return errors.Wrap(ErrAlgorithmFailure, "nil frame")
	}
	if s := img.Bounds().Size(); s.X < 3 || s.Y < 3 {
		return errors.Wrapf(ErrAlgorithmFailure, "frame %s is too small", s)
	}
	return nil
}

func inside(p r2.Point, margin, w, h float64) bool {
	return p.X >= -margin && p.Y >= -margin && p.X <= w+margin && p.Y <= h+margin
}

// lkLevel refines next, the position in J of the point prev in I. ix and iy
// are the gradients of I.
func lkLevel(I, J, ix, iy *plane, prev, next r2.Point, half int, p Params) (r2.Point, float32, bool) {
	n := (2*half + 1) * (2*half + 1)
	tmpl := make([]float64, n)
	gx := make([]float64, n)
	gy := make([]float64, n)
	var a11, a12, a22 float64
	k := 0
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := prev.X+float64(dx), prev.Y+float64(dy)
			tmpl[k] = I.sample(x, y)
			gx[k] = ix.sample(x, y)
			gy[k] = iy.sample(x, y)
			a11 += gx[k] * gx[k]
			a12 += gx[k] * gy[k]
			a22 += gy[k] * gy[k]
			k++
		}
	}
	area := float64(n)
	minEig := (a11 + a22 - math.Sqrt((a11-a22)*(a11-a22)+4*a12*a12)) / (2 * area)
	if minEig < p.MinEigThreshold {
		return next, 0, false
	}
	var inv mat.Dense
	if err := inv.Inverse(mat.NewDense(2, 2, []float64{a11, a12, a12, a22})); err != nil {
		return next, 0, false
	}

	w, h := float64(J.w-1), float64(J.h-1)
	b := mat.NewVecDense(2, nil)
	var delta mat.VecDense
	for iter := 0; iter < p.MaxIterations; iter++ {
		if !inside(next, float64(half), w, h) {
			return next, 0, false
		}
		var b1, b2 float64
		k = 0
		for dy := -half; dy <= half; dy++ {
			for dx := -half; dx <= half; dx++ {
				diff := tmpl[k] - J.sample(next.X+float64(dx), next.Y+float64(dy))
				b1 += diff * gx[k]
				b2 += diff * gy[k]
				k++
			}
		}
		b.SetVec(0, b1)
		b.SetVec(1, b2)
		delta.MulVec(&inv, b)
		d := r2.Point{X: delta.AtVec(0), Y: delta.AtVec(1)}
		if math.IsNaN(d.X) || math.IsNaN(d.Y) {
			return next, 0, false
		}
		next = next.Add(d)
		if d.Norm() < p.Epsilon {
			break
		}
	}

	sum := 0.
	k = 0
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			sum += math.Abs(tmpl[k] - J.sample(next.X+float64(dx), next.Y+float64(dy)))
			k++
		}
	}
	return next, float32(sum / area), true
}

// minEigen returns the Shi-Tomasi score of every pixel.
func minEigen(p *plane, block int) []float64 {
	w, h := p.w, p.h
	dx := make([]float64, w*h)
	dy := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			tl, t, tr := p.at(x-1, y-1), p.at(x, y-1), p.at(x+1, y-1)
			l, r := p.at(x-1, y), p.at(x+1, y)
			bl, b, br := p.at(x-1, y+1), p.at(x, y+1), p.at(x+1, y+1)
			dx[y*w+x] = float64((tr + 2*r + br) - (tl + 2*l + bl))
			dy[y*w+x] = float64((bl + 2*b + br) - (tl + 2*t + tr))
		}
	}
	r := block / 2
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			var a, b, c float64
			for by := -r; by <= r; by++ {
				yy := reflect101(y+by, h) * w
				for bx := -r; bx <= r; bx++ {
					i := yy + reflect101(x+bx, w)
					a += dx[i] * dx[i]
					b += dx[i] * dy[i]
					c += dy[i] * dy[i]
				}
			}
			out[y*w+x] = (a + c - math.Sqrt((a-c)*(a-c)+4*b*b)) / 2
		}
	}
	return out
}

// localMax returns true if no 8-neighbor of (x, y) scores higher than v.
// (x, y) must not be on the border.
func localMax(eig []float64, w, x, y int, v float64) bool {
	for yy := y - 1; yy <= y+1; yy++ {
		for xx := x - 1; xx <= x+1; xx++ {
			if eig[yy*w+xx] > v {
				return false
			}
		}
	}
	return true
}

// plane is a single channel float image.
type plane struct {
	w, h int
	pix  []float32
}

func newPlane(w, h int) *plane {
	return &plane{w: w, h: h, pix: make([]float32, w*h)}
}

func planeFromGray(img *image.Gray) *plane {
	b := img.Bounds()
	p := newPlane(b.Dx(), b.Dy())
	for y := 0; y < p.h; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, b.Min.Y+y):]
		for x := 0; x < p.w; x++ {
			p.pix[y*p.w+x] = float32(row[x])
		}
	}
	return p
}

// at returns the pixel at (x, y), mirroring the border without repeating
// the edge pixel.
func (p *plane) at(x, y int) float32 {
	return p.pix[reflect101(y, p.h)*p.w+reflect101(x, p.w)]
}

func (p *plane) clamped(x, y int) float64 {
	if x < 0 {
		x = 0
	} else if x >= p.w {
		x = p.w - 1
	}
	if y < 0 {
		y = 0
	} else if y >= p.h {
		y = p.h - 1
	}
	return float64(p.pix[y*p.w+x])
}

// sample returns the bilinear interpolation at (x, y), replicating the
// border.
func (p *plane) sample(x, y float64) float64 {
	x0, y0 := math.Floor(x), math.Floor(y)
	fx, fy := x-x0, y-y0
	ix, iy := int(x0), int(y0)
	a := p.clamped(ix, iy)
	b := p.clamped(ix+1, iy)
	c := p.clamped(ix, iy+1)
	d := p.clamped(ix+1, iy+1)
	return (1-fy)*((1-fx)*a+fx*b) + fy*((1-fx)*c+fx*d)
}

func reflect101(i, n int) int {
	if n == 1 {
		return 0
	}
	for i < 0 || i >= n {
		if i < 0 {
			i = -i
		} else {
			i = 2*n - 2 - i
		}
	}
	return i
}

// pyramid returns up to maxLevel+1 levels, each half the size of the
// previous one. It stops before a level gets as small as win.
func pyramid(p *plane, maxLevel, win int) []*plane {
	out := []*plane{p}
	for l := 1; l <= maxLevel; l++ {
		last := out[l-1]
		if (last.w+1)/2 <= win || (last.h+1)/2 <= win {
			break
		}
		out = append(out, pyrDown(last))
	}
	return out
}

// pyrDown blurs with a 5 taps binomial kernel and drops every other pixel.
func pyrDown(p *plane) *plane {
	w, h := (p.w+1)/2, (p.h+1)/2
	tmp := newPlane(w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < w; x++ {
			sx := 2 * x
			tmp.pix[y*w+x] = (p.at(sx-2, y) + 4*p.at(sx-1, y) + 6*p.at(sx, y) + 4*p.at(sx+1, y) + p.at(sx+2, y)) / 16
		}
	}
	out := newPlane(w, h)
	for y := 0; y < h; y++ {
		sy := 2 * y
		for x := 0; x < w; x++ {
			out.pix[y*w+x] = (tmp.at(x, sy-2) + 4*tmp.at(x, sy-1) + 6*tmp.at(x, sy) + 4*tmp.at(x, sy+1) + tmp.at(x, sy+2)) / 16
		}
	}
	return out
}

// scharr returns the normalized horizontal and vertical gradients.
func scharr(p *plane) (*plane, *plane) {
	dx := newPlane(p.w, p.h)
	dy := newPlane(p.w, p.h)
	for y := 0; y < p.h; y++ {
		for x := 0; x < p.w; x++ {
			tl, t, tr := p.at(x-1, y-1), p.at(x, y-1), p.at(x+1, y-1)
			l, r := p.at(x-1, y), p.at(x+1, y)
			bl, b, br := p.at(x-1, y+1), p.at(x, y+1), p.at(x+1, y+1)
			dx.pix[y*p.w+x] = (3*(tr-tl) + 10*(r-l) + 3*(br-bl)) / 32
			dy.pix[y*p.w+x] = (3*(bl-tl) + 10*(b-t) + 3*(br-tr)) / 32
		}
	}
	return dx, dy
}
