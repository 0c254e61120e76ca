// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package ramp

import (
	"image/color"
	"testing"
)

func TestBuild(t *testing.T) {
	data := []struct {
		min, max string
		depth    int
		first    color.RGBA
		last     color.RGBA
	}{
		{"indigo", "red", 1024, color.RGBA{75, 0, 130, 255}, color.RGBA{255, 0, 0, 255}},
		{"black", "white", 2, color.RGBA{0, 0, 0, 255}, color.RGBA{255, 255, 255, 255}},
		{"#0000ff", "Red", 16, color.RGBA{0, 0, 255, 255}, color.RGBA{255, 0, 0, 255}},
	}
	for i, line := range data {
		r, err := Build(line.min, line.max, line.depth)
		if err != nil {
			t.Fatalf("#%d: %v", i, err)
		}
		if r.Len() != line.depth {
			t.Fatalf("#%d: len %d", i, r.Len())
		}
		if !near(r.At(0), line.first) {
			t.Fatalf("#%d: first %v != %v", i, r.At(0), line.first)
		}
		if !near(r.At(r.Len()-1), line.last) {
			t.Fatalf("#%d: last %v != %v", i, r.At(r.Len()-1), line.last)
		}
	}
}

func TestBuild_hue(t *testing.T) {
	r, err := Build("indigo", "red", 1024)
	if err != nil {
		t.Fatal(err)
	}
	// Halfway between 275° and 0° is cyan-green; a straight RGB blend would
	// have no green at all.
	if c := r.At(512); c.G < 128 {
		t.Fatal(c)
	}
	for i := 0; i < r.Len(); i++ {
		if r.At(i).A != 255 {
			t.Fatal(i)
		}
	}
}

func TestBuild_fail(t *testing.T) {
	if _, err := Build("indigo", "red", 1); err == nil {
		t.Fatal("depth too small")
	}
	if _, err := Build("notacolor", "red", 16); err == nil {
		t.Fatal("bad min color")
	}
	if _, err := Build("indigo", "#zz0000", 16); err == nil {
		t.Fatal("bad max color")
	}
}

func near(a, b color.RGBA) bool {
	d := func(x, y uint8) bool {
		if x > y {
			return x-y <= 1
		}
		return y-x <= 1
	}
	return d(a.R, b.R) && d(a.G, b.G) && d(a.B, b.B) && a.A == b.A
}
