// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package calib maps sensor readings into color ramp indexes.
//
// Two mappings are involved. ToIndex rescales a temperature from the
// calibration window onto [0, depth-1]. ColorIndex is used when painting and
// reads the ramp in reverse, with a floor of 1, so a value of 1 selects the
// last entry and anything at or above depth selects the first.
package calib

import (
	"math"

	"github.com/pkg/errors"

	"github.com/maruel/lepton-overlay/grid"
)

// Window is the calibration window in °C.
type Window struct {
	Min float64
	Max float64
}

// Validate returns an error if the window is empty or inverted.
func (w Window) Validate() error {
	if math.IsNaN(w.Min) || math.IsNaN(w.Max) || w.Max <= w.Min {
		return errors.Errorf("invalid temperature window [%g, %g]: max must be greater than min", w.Min, w.Max)
	}
	return nil
}

// ToIndex rescales value from [minTemp, maxTemp] to [0, depth-1], clamping.
//
// The result is not truncated; int(ToIndex(...)) is the bucket.
func ToIndex(value, minTemp, maxTemp float64, depth int) float64 {
	top := float64(depth - 1)
	v := (value - minTemp) * top / (maxTemp - minTemp)
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > top {
		return top
	}
	return v
}

// ColorIndex returns the ramp entry used to paint value.
//
// It is depth - clamp(int(value), 1, depth).
func ColorIndex(value float64, depth int) int {
	var i int
	switch {
	case math.IsNaN(value):
		i = 0
	case value >= float64(depth):
		i = depth
	case value <= 0:
		i = 0
	default:
		i = int(value)
	}
	if i < 1 {
		i = 1
	}
	return depth - i
}

// Normalizer converts temperatures into ramp indexes for a fixed window and
// depth.
type Normalizer struct {
	window Window
	depth  int
}

// NewNormalizer validates its arguments.
func NewNormalizer(w Window, depth int) (*Normalizer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if depth < 2 {
		return nil, errors.Errorf("color depth must be at least 2, got %d", depth)
	}
	return &Normalizer{window: w, depth: depth}, nil
}

// Window returns the calibration window.
func (n *Normalizer) Window() Window {
	return n.window
}

// Depth returns the color depth.
func (n *Normalizer) Depth() int {
	return n.depth
}

// ToIndex is ToIndex with the normalizer's window and depth.
func (n *Normalizer) ToIndex(value float64) float64 {
	return ToIndex(value, n.window.Min, n.window.Max, n.depth)
}

// Calibrate converts raw into temperatures with cal and then into indexes,
// writing into dst which must have the same shape.
func (n *Normalizer) Calibrate(raw *grid.Raw, cal Calibrator, dst *grid.Field) error {
	if err := grid.CheckShape(raw.Bounds(), dst.Bounds()); err != nil {
		return err
	}
	cal.Temperatures(raw, n.window, dst)
	for i, t := range dst.Pix {
		dst.Pix[i] = n.ToIndex(t)
	}
	return nil
}
