// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package upsample reconstructs a smooth surface from the sensor samples and
// resamples it on a denser mesh.
//
// The samples must cover a rectilinear lattice, which is what a thermal
// sensor produces. The surface is a tensor product of natural cubic splines:
// it goes exactly through every sample and is C² between them. Values are not
// clamped; overshoot near sharp edges is expected and handled by the color
// lookup.
package upsample

import (
	"image"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/interp"

	"github.com/maruel/lepton-overlay/grid"
)

// Interpolator holds the sample lattice so it can be reused across frames.
type Interpolator struct {
	xs    []float64 // Distinct columns, ascending.
	ys    []float64 // Distinct rows, ascending.
	index []int     // index[row*len(xs)+col] is the position in the values slice.
}

// New builds the lattice from sample coordinates given as
// image.Point{X: col, Y: row}.
//
// It returns an error if points is empty, contains duplicates or does not
// cover every row × col pair.
func New(points []image.Point) (*Interpolator, error) {
	if len(points) == 0 {
		return nil, errors.New("no sample points")
	}
	xpos := map[int]int{}
	ypos := map[int]int{}
	var xs, ys []int
	for _, p := range points {
		if _, ok := xpos[p.X]; !ok {
			xpos[p.X] = 0
			xs = append(xs, p.X)
		}
		if _, ok := ypos[p.Y]; !ok {
			ypos[p.Y] = 0
			ys = append(ys, p.Y)
		}
	}
	if len(xs)*len(ys) != len(points) {
		return nil, errors.Errorf("%d points do not form a %dx%d lattice", len(points), len(xs), len(ys))
	}
	sort.Ints(xs)
	sort.Ints(ys)
	in := &Interpolator{
		xs:    make([]float64, len(xs)),
		ys:    make([]float64, len(ys)),
		index: make([]int, len(points)),
	}
	for i, x := range xs {
		xpos[x] = i
		in.xs[i] = float64(x)
	}
	for i, y := range ys {
		ypos[y] = i
		in.ys[i] = float64(y)
	}
	for i := range in.index {
		in.index[i] = -1
	}
	for i, p := range points {
		slot := ypos[p.Y]*len(xs) + xpos[p.X]
		if in.index[slot] != -1 {
			return nil, errors.Errorf("duplicate sample point %v", p)
		}
		in.index[slot] = i
	}
	return in, nil
}

// Upsample resamples values, one per point passed to New, on a shape.X ×
// shape.Y mesh spanning the lattice bounds inclusively.
func (in *Interpolator) Upsample(values []float64, shape image.Point) (*grid.Field, error) {
	if len(values) != len(in.index) {
		return nil, errors.Errorf("got %d values for %d points", len(values), len(in.index))
	}
	dst, err := grid.NewField(shape.X, shape.Y)
	if err != nil {
		return nil, err
	}
	mx := mesh(in.xs, shape.X)
	my := mesh(in.ys, shape.Y)

	// Along each sample row first, then along each mesh column.
	nx := len(in.xs)
	rows := make([][]float64, len(in.ys))
	line := make([]float64, nx)
	for r := range in.ys {
		for c := 0; c < nx; c++ {
			line[c] = values[in.index[r*nx+c]]
		}
		f, err := fit(in.xs, line)
		if err != nil {
			return nil, err
		}
		rows[r] = make([]float64, shape.X)
		for k, x := range mx {
			rows[r][k] = f.Predict(x)
		}
	}
	col := make([]float64, len(in.ys))
	for k := 0; k < shape.X; k++ {
		for r := range rows {
			col[r] = rows[r][k]
		}
		f, err := fit(in.ys, col)
		if err != nil {
			return nil, err
		}
		for m, y := range my {
			dst.Pix[m*shape.X+k] = f.Predict(y)
		}
	}
	return dst, nil
}

// Upsample is a one-shot New followed by Interpolator.Upsample.
func Upsample(points []image.Point, values []float64, shape image.Point) (*grid.Field, error) {
	if len(points) != len(values) {
		return nil, errors.Errorf("got %d values for %d points", len(values), len(points))
	}
	in, err := New(points)
	if err != nil {
		return nil, err
	}
	return in.Upsample(values, shape)
}

// Field upsamples a full w×h field, whose points are grid.Points(w, h).
func (in *Interpolator) Field(src *grid.Field, shape image.Point) (*grid.Field, error) {
	return in.Upsample(src.Pix, shape)
}

//

type predictor interface {
	Predict(x float64) float64
}

type constant float64

func (c constant) Predict(float64) float64 {
	return float64(c)
}

// clamped evaluates at the nearest lattice edge when outside of it.
type clamped struct {
	p      predictor
	lo, hi float64
}

func (c clamped) Predict(x float64) float64 {
	if x < c.lo {
		x = c.lo
	} else if x > c.hi {
		x = c.hi
	}
	return c.p.Predict(x)
}

// fit returns a natural cubic spline, degrading to linear with two samples and
// to the nearest sample with one.
func fit(xs, ys []float64) (predictor, error) {
	switch len(xs) {
	case 1:
		return constant(ys[0]), nil
	case 2:
		pl := &interp.PiecewiseLinear{}
		if err := pl.Fit(xs, ys); err != nil {
			return nil, errors.Wrap(err, "linear fit")
		}
		return clamped{pl, xs[0], xs[1]}, nil
	default:
		nc := &interp.NaturalCubic{}
		if err := nc.Fit(xs, ys); err != nil {
			return nil, errors.Wrap(err, "cubic fit")
		}
		return clamped{nc, xs[0], xs[len(xs)-1]}, nil
	}
}

// mesh returns n coordinates evenly spanning [xs[0], xs[last]].
func mesh(xs []float64, n int) []float64 {
	lo := xs[0]
	hi := xs[len(xs)-1]
	out := make([]float64, n)
	if n == 1 {
		out[0] = lo
		return out
	}
	step := (hi - lo) / float64(n-1)
	for i := range out {
		out[i] = lo + float64(i)*step
	}
	out[n-1] = hi
	return out
}
