// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package overlay paints the upsampled thermal raster and blends it over a
// video frame.
//
// None of the functions mutate their inputs; each returns a fresh image.
package overlay

import (
	"image"
	"math"

	"github.com/disintegration/gift"
	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/maruel/lepton-overlay/calib"
	"github.com/maruel/lepton-overlay/grid"
	"github.com/maruel/lepton-overlay/ramp"
)

// DefaultCell is the size in pixels of one raster cell.
var DefaultCell = image.Point{X: 3, Y: 3}

// Render paints every cell of dense as a solid rectangle over a copy of base.
//
// Cell (col, row) covers [cell.X*col, cell.X*(col+1)) × [cell.Y*row,
// cell.Y*(row+1)) relative to the frame origin; whatever falls outside the
// frame is clipped and pixels not covered keep the base frame.
func Render(dense *grid.Field, r *ramp.Ramp, base *image.RGBA, cell image.Point) *image.RGBA {
	b := base.Bounds()
	out := image.NewRGBA(b)
	draw.Draw(out, b, base, b.Min, draw.Src)
	if cell.X <= 0 || cell.Y <= 0 {
		return out
	}
	depth := r.Len()
	for row := 0; row < dense.H; row++ {
		y0 := b.Min.Y + cell.Y*row
		if y0 >= b.Max.Y {
			break
		}
		y1 := y0 + cell.Y
		if y1 > b.Max.Y {
			y1 = b.Max.Y
		}
		for col := 0; col < dense.W; col++ {
			x0 := b.Min.X + cell.X*col
			if x0 >= b.Max.X {
				break
			}
			x1 := x0 + cell.X
			if x1 > b.Max.X {
				x1 = b.Max.X
			}
			c := r.At(calib.ColorIndex(dense.At(col, row), depth))
			for y := y0; y < y1; y++ {
				off := out.PixOffset(x0, y)
				for x := x0; x < x1; x++ {
					p := out.Pix[off : off+4 : off+4]
					p[0] = c.R
					p[1] = c.G
					p[2] = c.B
					p[3] = c.A
					off += 4
				}
			}
		}
	}
	return out
}

// Blend returns overlay*alpha + base*(1-alpha) per channel.
//
// Channels are rounded half away from zero and the result is opaque.
func Blend(overlay, base *image.RGBA, alpha float64) (*image.RGBA, error) {
	if !(alpha >= 0 && alpha <= 1) {
		return nil, errors.Errorf("alpha %g is outside [0, 1]", alpha)
	}
	b := base.Bounds()
	if overlay.Bounds() != b {
		return nil, errors.Errorf("overlay %v and frame %v differ", overlay.Bounds(), b)
	}
	out := image.NewRGBA(b)
	beta := 1 - alpha
	for y := b.Min.Y; y < b.Max.Y; y++ {
		oo := overlay.PixOffset(b.Min.X, y)
		bo := base.PixOffset(b.Min.X, y)
		do := out.PixOffset(b.Min.X, y)
		for x := b.Min.X; x < b.Max.X; x++ {
			for c := 0; c < 3; c++ {
				out.Pix[do+c] = mix(overlay.Pix[oo+c], base.Pix[bo+c], alpha, beta)
			}
			out.Pix[do+3] = 0xff
			oo += 4
			bo += 4
			do += 4
		}
	}
	return out, nil
}

// Mirror flips img left to right.
func Mirror(img image.Image) *image.RGBA {
	g := gift.New(gift.FlipHorizontal())
	dst := image.NewRGBA(g.Bounds(img.Bounds()))
	g.Draw(dst, img)
	return dst
}

func mix(o, b uint8, alpha, beta float64) uint8 {
	v := math.Round(float64(o)*alpha + float64(b)*beta)
	if v > 255 {
		return 255
	}
	if v < 0 {
		return 0
	}
	return uint8(v)
}
