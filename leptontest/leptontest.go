// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package leptontest implements fake FLIR Lepton devices.
//
// They satisfy sensor.Device and are shaped like periph's lepton driver: 80×60
// frames of 14-bit counts near 8192, with no radiometry.
package leptontest

import (
	"errors"
	"image"
	"math"
	"math/rand"
	"time"

	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/devices/lepton"
	"periph.io/x/periph/devices/lepton/cci"
	"periph.io/x/periph/devices/lepton/image14bit"
)

// Frame size of the Lepton 2 that periph's driver supports.
const (
	Width  = 80
	Height = 60
)

// Gain and Offset convert the fakes' counts back to °C as
// counts*Gain + Offset. 25°C is 8192 counts, 50 counts per °C.
const (
	Gain   = 0.02
	Offset = 25 - 8192*Gain
)

// Counts converts °C to the 14-bit value the fakes report.
func Counts(celsius float64) uint16 {
	v := math.Round((celsius - Offset) / Gain)
	if v < 0 {
		return 0
	}
	if v > 16383 {
		return 16383
	}
	return uint16(v)
}

func bounds() image.Rectangle {
	return image.Rect(0, 0, Width, Height)
}

// Noise is a fake with a few drifting hot and cold spots.
type Noise struct {
	// Period is slept before each frame; the real device runs at ~9Hz.
	Period time.Duration

	bounds  image.Rectangle
	base    float64
	rand    *rand.Rand
	vectors []vector
	count   uint32
}

// NewNoise returns a fake centered around celsius.
func NewNoise(celsius float64) *Noise {
	n := &Noise{
		bounds: bounds(),
		base:   float64(Counts(celsius)),
		rand:   rand.New(rand.NewSource(0)),
	}
	w, h := n.bounds.Dx(), n.bounds.Dy()
	n.vectors = make([]vector, 10)
	for i := range n.vectors {
		n.vectors[i].intensity = n.rand.NormFloat64() * 2000
		n.vectors[i].x = n.rand.NormFloat64()*float64(w)/6 + float64(w)/2
		n.vectors[i].y = n.rand.NormFloat64()*float64(h)/6 + float64(h)/2
	}
	return n
}

// NextFrame implements sensor.Device.
func (n *Noise) NextFrame(img *lepton.Frame) error {
	if n.Period != 0 {
		time.Sleep(n.Period)
	}
	n.count++
	n.update()
	n.render(img)
	img.Metadata.FrameCount = n.count
	img.Metadata.Temp = physic.ZeroCelsius
	img.Metadata.FFCState = cci.FFCComplete
	return nil
}

// Bounds implements sensor.Device.
func (n *Noise) Bounds() image.Rectangle {
	return n.bounds
}

type vector struct {
	intensity float64
	x         float64
	y         float64
}

func (n *Noise) update() {
	for i := range n.vectors {
		n.vectors[i].intensity += n.rand.NormFloat64() * 20
		n.vectors[i].x += n.rand.NormFloat64() * 0.3
		n.vectors[i].y += n.rand.NormFloat64() * 0.3
	}
}

// render sums inverse square contributions, limited to ±8°C around the base.
func (n *Noise) render(f *lepton.Frame) {
	const dynamicRange = 8 / Gain
	for y := n.bounds.Min.Y; y < n.bounds.Max.Y; y++ {
		fy := float64(y)
		for x := n.bounds.Min.X; x < n.bounds.Max.X; x++ {
			fx := float64(x)
			value := n.base
			for _, vect := range n.vectors {
				distance := (vect.x-fx)*(vect.x-fx) + (vect.y-fy)*(vect.y-fy) + 1
				value += vect.intensity / distance
			}
			if value > n.base+dynamicRange {
				value = n.base + dynamicRange
			}
			if value < n.base-dynamicRange {
				value = n.base - dynamicRange
			}
			f.SetIntensity14(x, y, image14bit.Intensity14(value))
		}
	}
}

// Gradient is a fake whose samples ramp linearly from lo to hi °C in
// row-major order, the same every frame.
type Gradient struct {
	Period time.Duration

	bounds image.Rectangle
	lo, hi float64
	count  uint32
}

// NewGradient returns a gradient fake.
func NewGradient(lo, hi float64) *Gradient {
	return &Gradient{bounds: bounds(), lo: lo, hi: hi}
}

// NextFrame implements sensor.Device.
func (g *Gradient) NextFrame(img *lepton.Frame) error {
	if g.Period != 0 {
		time.Sleep(g.Period)
	}
	g.count++
	w := g.bounds.Dx()
	length := float64(w * g.bounds.Dy())
	for y := g.bounds.Min.Y; y < g.bounds.Max.Y; y++ {
		for x := g.bounds.Min.X; x < g.bounds.Max.X; x++ {
			i := float64((y-g.bounds.Min.Y)*w + x - g.bounds.Min.X)
			img.SetIntensity14(x, y, image14bit.Intensity14(Counts(g.lo+(g.hi-g.lo)*i/length)))
		}
	}
	img.Metadata.FrameCount = g.count
	return nil
}

// Bounds implements sensor.Device.
func (g *Gradient) Bounds() image.Rectangle {
	return g.bounds
}

// Step is one scripted frame.
type Step struct {
	Seq     uint32
	Celsius float64
	Err     error
}

// ErrScriptDone is returned once a Script runs out of steps.
var ErrScriptDone = errors.New("leptontest: script exhausted")

// Script is a fake that replays uniform frames. It is meant for tests.
type Script struct {
	Steps  []Step
	Halted int

	bounds image.Rectangle
	next   int
}

// NewScript returns a scripted fake.
func NewScript(steps ...Step) *Script {
	return &Script{Steps: steps, bounds: bounds()}
}

// NextFrame implements sensor.Device.
func (s *Script) NextFrame(img *lepton.Frame) error {
	if s.next >= len(s.Steps) {
		return ErrScriptDone
	}
	st := s.Steps[s.next]
	s.next++
	if st.Err != nil {
		return st.Err
	}
	v := image14bit.Intensity14(Counts(st.Celsius))
	for y := s.bounds.Min.Y; y < s.bounds.Max.Y; y++ {
		for x := s.bounds.Min.X; x < s.bounds.Max.X; x++ {
			img.SetIntensity14(x, y, v)
		}
	}
	img.Metadata.FrameCount = st.Seq
	return nil
}

// Bounds implements sensor.Device.
func (s *Script) Bounds() image.Rectangle {
	return s.bounds
}

// Halt records that the session released the device.
func (s *Script) Halt() error {
	s.Halted++
	return nil
}
