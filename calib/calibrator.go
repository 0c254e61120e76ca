// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package calib

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/maruel/lepton-overlay/grid"
)

// Calibrator converts raw samples into °C.
//
// dst has the same shape as raw; callers check it.
type Calibrator interface {
	Temperatures(raw *grid.Raw, w Window, dst *grid.Field)
}

// Linear is raw*Gain + Offset.
//
// It is for radiometric sources. periph's lepton driver does not enable
// radiometry, so its counts need AGC instead.
type Linear struct {
	Gain   float64
	Offset float64
}

// DefaultLinear maps centi-Kelvin, as reported by a radiometric Lepton 2.5 or
// 3.5 with TLinear enabled.
var DefaultLinear = Linear{Gain: 0.01, Offset: -273.15}

// Temperatures implements Calibrator.
func (l Linear) Temperatures(raw *grid.Raw, w Window, dst *grid.Field) {
	for i, v := range raw.Pix {
		dst.Pix[i] = float64(v)*l.Gain + l.Offset
	}
}

// AGC stretches each frame's own min/max onto the window.
//
// It is for non-radiometric sensors where raw counts only have a relative
// meaning. A flat frame maps to the bottom of the window.
type AGC struct{}

// Temperatures implements Calibrator.
func (AGC) Temperatures(raw *grid.Raw, w Window, dst *grid.Field) {
	lo, hi := raw.MinMax()
	if hi <= lo {
		for i := range dst.Pix {
			dst.Pix[i] = w.Min
		}
		return
	}
	scale := (w.Max - w.Min) / float64(hi-lo)
	for i, v := range raw.Pix {
		dst.Pix[i] = w.Min + float64(v-lo)*scale
	}
}

// ParseCalibrator returns the calibrator named "linear" or "agc". An empty
// name is "agc".
func ParseCalibrator(name string, gain, offset float64) (Calibrator, error) {
	switch strings.ToLower(name) {
	case "linear":
		if gain == 0 {
			return nil, errors.New("linear calibration requires a non-zero gain")
		}
		return Linear{Gain: gain, Offset: offset}, nil
	case "", "agc":
		return AGC{}, nil
	default:
		return nil, errors.Errorf("unknown calibration %q", name)
	}
}
