// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package ramp precomputes the color lookup table used to paint temperatures.
package ramp

import (
	"image/color"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
	"golang.org/x/image/colornames"
)

// Ramp is an immutable table of colors. It is safe for concurrent use.
type Ramp struct {
	colors []color.RGBA
}

// Build interpolates depth colors between minColor and maxColor.
//
// Colors are SVG 1.1 names like "indigo" or "red", or "#rrggbb". The gradient
// is linear in HSL space, without hue wrapping, so indigo to red walks through
// blue, green and yellow.
func Build(minColor, maxColor string, depth int) (*Ramp, error) {
	if depth < 2 {
		return nil, errors.Errorf("color depth must be at least 2, got %d", depth)
	}
	lo, err := Parse(minColor)
	if err != nil {
		return nil, err
	}
	hi, err := Parse(maxColor)
	if err != nil {
		return nil, err
	}
	h0, s0, l0 := lo.Hsl()
	h1, s1, l1 := hi.Hsl()
	steps := float64(depth - 1)
	r := &Ramp{colors: make([]color.RGBA, depth)}
	for i := range r.colors {
		t := float64(i) / steps
		c := colorful.Hsl(h0+(h1-h0)*t, s0+(s1-s0)*t, l0+(l1-l0)*t).Clamped()
		// Truncate, not round.
		r.colors[i] = color.RGBA{R: uint8(c.R * 255), G: uint8(c.G * 255), B: uint8(c.B * 255), A: 255}
	}
	return r, nil
}

// Parse resolves a color name or a "#rrggbb" hex string.
func Parse(name string) (colorful.Color, error) {
	s := strings.ToLower(strings.TrimSpace(name))
	if strings.HasPrefix(s, "#") {
		c, err := colorful.Hex(s)
		if err != nil {
			return colorful.Color{}, errors.Wrapf(err, "invalid color %q", name)
		}
		return c, nil
	}
	rgba, ok := colornames.Map[s]
	if !ok {
		return colorful.Color{}, errors.Errorf("unknown color %q", name)
	}
	c, _ := colorful.MakeColor(rgba)
	return c, nil
}

// Len returns the number of entries, the color depth.
func (r *Ramp) Len() int {
	return len(r.colors)
}

// At returns the i-th color. It panics if i is out of range.
func (r *Ramp) At(i int) color.RGBA {
	return r.colors[i]
}
