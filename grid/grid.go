// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package grid defines the fixed-shape buffers flowing through the overlay
// pipeline.
//
// A Raw is what the sensor produces; a Field holds continuous values, either
// calibrated sensor samples or the upsampled raster derived from them. Both
// are row-major.
package grid

import (
	"image"

	"github.com/pkg/errors"
)

// Raw is a raw thermal frame as captured from the sensor.
//
// For a FLIR Lepton the samples are 14 bits significant, or centi-Kelvin when
// radiometry is enabled.
type Raw struct {
	W, H int
	Pix  []uint16
	Seq  uint32 // Sensor assigned frame counter.
}

// NewRaw returns a zeroed w×h raw frame.
func NewRaw(w, h int) (*Raw, error) {
	if w <= 0 || h <= 0 {
		return nil, errors.Errorf("invalid raw frame shape %dx%d", w, h)
	}
	return &Raw{W: w, H: h, Pix: make([]uint16, w*h)}, nil
}

// At returns the sample at column x, row y.
func (r *Raw) At(x, y int) uint16 {
	return r.Pix[y*r.W+x]
}

// Set sets the sample at column x, row y.
func (r *Raw) Set(x, y int, v uint16) {
	r.Pix[y*r.W+x] = v
}

// Bounds returns the frame rectangle.
func (r *Raw) Bounds() image.Rectangle {
	return image.Rect(0, 0, r.W, r.H)
}

// MinMax returns the smallest and largest sample.
func (r *Raw) MinMax() (uint16, uint16) {
	lo := uint16(0xffff)
	hi := uint16(0)
	for _, v := range r.Pix {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

// Field is a grid of continuous values.
type Field struct {
	W, H int
	Pix  []float64
}

// NewField returns a zeroed w×h field.
func NewField(w, h int) (*Field, error) {
	if w <= 0 || h <= 0 {
		return nil, errors.Errorf("invalid field shape %dx%d", w, h)
	}
	return &Field{W: w, H: h, Pix: make([]float64, w*h)}, nil
}

// At returns the value at column x, row y.
func (f *Field) At(x, y int) float64 {
	return f.Pix[y*f.W+x]
}

// Set sets the value at column x, row y.
func (f *Field) Set(x, y int, v float64) {
	f.Pix[y*f.W+x] = v
}

// Bounds returns the field rectangle.
func (f *Field) Bounds() image.Rectangle {
	return image.Rect(0, 0, f.W, f.H)
}

// CheckShape returns an error unless a and b have the same dimensions.
func CheckShape(a, b image.Rectangle) error {
	if a.Dx() != b.Dx() || a.Dy() != b.Dy() {
		return errors.Errorf("shape mismatch: %dx%d != %dx%d", a.Dx(), a.Dy(), b.Dx(), b.Dy())
	}
	return nil
}

// Points enumerates every (row, col) coordinate of a w×h grid in row-major
// order, as image.Point{X: col, Y: row}.
func Points(w, h int) []image.Point {
	out := make([]image.Point, 0, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out = append(out, image.Point{X: x, Y: y})
		}
	}
	return out
}
