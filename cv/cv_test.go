// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package cv

import (
	"image"
	"image/color"
	"testing"
)

func TestToRGBA(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	if toRGBA(img) != img {
		t.Fatal("a packed image must be returned as is")
	}
	img.SetRGBA(2, 2, color.RGBA{1, 2, 3, 255})
	sub := img.SubImage(image.Rect(1, 1, 3, 3))
	out := toRGBA(sub)
	if out.Bounds() != image.Rect(0, 0, 2, 2) || out.Stride != 8 {
		t.Fatal(out.Bounds(), out.Stride)
	}
	if got := out.RGBAAt(1, 1); got != (color.RGBA{1, 2, 3, 255}) {
		t.Fatal(got)
	}
	gray := image.NewGray(image.Rect(0, 0, 1, 1))
	gray.Pix[0] = 7
	if got := toRGBA(gray).RGBAAt(0, 0); got != (color.RGBA{7, 7, 7, 255}) {
		t.Fatal(got)
	}
}
