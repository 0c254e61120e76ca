// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package loop

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/cenkalti/backoff"
	"github.com/google/go-cmp/cmp"
	"periph.io/x/periph/devices/lepton"
	"periph.io/x/periph/devices/lepton/image14bit"

	"github.com/maruel/lepton-overlay/calib"
	"github.com/maruel/lepton-overlay/config"
	"github.com/maruel/lepton-overlay/leptontest"
	"github.com/maruel/lepton-overlay/ramp"
	"github.com/maruel/lepton-overlay/sensor"
)

func TestLoop_uniform(t *testing.T) {
	var closed []string
	cam := &fakeCamera{img: solid(320, 240, color.RGBA{A: 255}), closed: &closed}
	src := scripted(&closed, leptontest.Step{Seq: 1, Celsius: 26})
	disp := &fakeDisplay{maxShows: 1, closed: &closed}
	opts := defaultOptions(t)
	opts.Alpha = 1
	l, err := New(opts, nil, cam, src, disp)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if l.State() != Stopped {
		t.Fatal(l.State())
	}
	if len(disp.shown) != 1 {
		t.Fatal(len(disp.shown))
	}
	want := opts.Ramp.At(513)
	img := disp.shown[0]
	for y := 0; y < 240; y++ {
		for x := 0; x < 320; x++ {
			if got := img.RGBAAt(x, y); got != want {
				t.Fatalf("(%d, %d): %v != %v", x, y, got, want)
			}
		}
	}
	if diff := cmp.Diff([]string{"camera", "sensor", "display"}, closed); diff != "" {
		t.Fatalf("close order (-want +got):\n%s", diff)
	}
	if l.Latest() != img {
		t.Fatal("latest composite not published")
	}
}

func TestLoop_dedup(t *testing.T) {
	var closed []string
	cam := &fakeCamera{img: solid(64, 48, color.RGBA{40, 50, 60, 255}), closed: &closed}
	src := scripted(&closed,
		leptontest.Step{Seq: 1, Celsius: 24},
		leptontest.Step{Seq: 1, Celsius: 24},
	)
	disp := &fakeDisplay{maxShows: 2, closed: &closed}
	opts := defaultOptions(t)
	l, err := New(opts, nil, cam, src, disp)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(disp.shown) != 2 {
		t.Fatal(len(disp.shown))
	}
	if !bytes.Equal(disp.shown[0].Pix, disp.shown[1].Pix) {
		t.Fatal("a repeated sensor frame must give the same composite")
	}
	st := l.Stats()
	if st.Fresh != 1 || st.Reused != 1 || st.Presented != 2 || st.Sensor.Duplicates != 1 {
		t.Fatalf("%+v", st)
	}
}

func TestLoop_quit(t *testing.T) {
	for _, key := range []int{KeyEscape, 'q', 'Q'} {
		var closed []string
		cam := &fakeCamera{img: solid(8, 8, color.RGBA{A: 255}), closed: &closed}
		src := scripted(&closed, leptontest.Step{Seq: 1, Celsius: 24})
		disp := &fakeDisplay{keys: []int{-1, key}, maxShows: 100, closed: &closed}
		opts := defaultOptions(t)
			l, err := New(opts, nil, cam, src, disp)
		if err != nil {
			t.Fatal(err)
		}
		if err := l.Run(context.Background()); err != nil {
			t.Fatal(err)
		}
		if len(disp.shown) != 1 {
			t.Fatalf("key %d: %d", key, len(disp.shown))
		}
		if len(closed) != 3 {
			t.Fatal(closed)
		}
	}
}

func TestLoop_fullScreen(t *testing.T) {
	var closed []string
	cam := &fakeCamera{img: solid(8, 8, color.RGBA{A: 255}), closed: &closed}
	src := scripted(&closed, leptontest.Step{Seq: 1, Celsius: 24})
	disp := &fakeDisplay{keys: []int{-1, 'f', 'F'}, maxShows: 3, closed: &closed}
	opts := defaultOptions(t)
	opts.FullScreen = true
	l, err := New(opts, nil, cam, src, disp)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]bool{true, false, true}, disp.fullScreen); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if len(disp.shown) != 3 {
		t.Fatal(len(disp.shown))
	}
}

func TestLoop_canceled(t *testing.T) {
	var closed []string
	cam := &fakeCamera{img: solid(8, 8, color.RGBA{A: 255}), closed: &closed}
	src := scripted(&closed)
	disp := &fakeDisplay{maxShows: 100, closed: &closed}
	opts := defaultOptions(t)
	l, err := New(opts, nil, cam, src, disp)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Run(ctx); err != nil {
		t.Fatal(err)
	}
	if len(disp.shown) != 0 || cam.reads != 0 {
		t.Fatal("no work may happen once stopped")
	}
	if diff := cmp.Diff([]string{"camera", "sensor", "display"}, closed); diff != "" {
		t.Fatalf("close order (-want +got):\n%s", diff)
	}
}

func TestLoop_cameraFailure(t *testing.T) {
	var closed []string
	cam := &fakeCamera{
		img:    solid(8, 8, color.RGBA{A: 255}),
		errs:   []error{errors.New("no frame"), nil},
		closed: &closed,
	}
	src := scripted(&closed, leptontest.Step{Seq: 1, Celsius: 24})
	disp := &fakeDisplay{maxShows: 1, closed: &closed}
	opts := defaultOptions(t)
	l, err := New(opts, nil, cam, src, disp)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := l.Stats()
	if st.CameraFails != 1 || st.Ticks != 2 || st.Presented != 1 || st.LastError != "no frame" {
		t.Fatalf("%+v", st)
	}
}

func TestLoop_noSensor(t *testing.T) {
	var closed []string
	base := solid(8, 8, color.RGBA{9, 8, 7, 255})
	cam := &fakeCamera{img: base, closed: &closed}
	src := &recordSource{
		Source: sensor.NewFeed(func() (*sensor.Session, error) {
			return nil, errors.New("no device")
		}, &backoff.ZeroBackOff{}),
		closed: &closed,
	}
	disp := &fakeDisplay{maxShows: 2, closed: &closed}
	opts := defaultOptions(t)
	l, err := New(opts, nil, cam, src, disp)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	for i, img := range disp.shown {
		if !bytes.Equal(img.Pix, base.Pix) {
			t.Fatalf("#%d: the camera frame must be shown as is", i)
		}
	}
	if st := l.Stats(); st.Blank != 2 || st.SensorFails != 2 {
		t.Fatalf("%+v", st)
	}
}

func TestLoop_update(t *testing.T) {
	var closed []string
	base := solid(8, 8, color.RGBA{9, 8, 7, 255})
	cam := &fakeCamera{img: base, closed: &closed}
	src := scripted(&closed, leptontest.Step{Seq: 1, Celsius: 24})
	disp := &fakeDisplay{maxShows: 1, closed: &closed}
	opts := defaultOptions(t)
	l, err := New(opts, nil, cam, src, disp)
	if err != nil {
		t.Fatal(err)
	}
	l.Update(Live{Window: calib.Window{Min: 0, Max: 1}, Alpha: 0.5})
	// Only the last one is kept.
	l.Update(Live{Window: opts.Window, Alpha: 0})
	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(disp.shown[0].Pix, base.Pix) {
		t.Fatal("alpha 0 must show the camera frame")
	}
}

func TestLoop_mirror(t *testing.T) {
	var closed []string
	base := solid(4, 1, color.RGBA{A: 255})
	base.SetRGBA(0, 0, color.RGBA{R: 255, A: 255})
	cam := &fakeCamera{img: base, closed: &closed}
	src := &recordSource{
		Source: sensor.NewFeed(func() (*sensor.Session, error) {
			return nil, errors.New("no device")
		}, &backoff.ZeroBackOff{}),
		closed: &closed,
	}
	disp := &fakeDisplay{maxShows: 1, closed: &closed}
	opts := defaultOptions(t)
	opts.Mirror = true
	l, err := New(opts, nil, cam, src, disp)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := disp.shown[0].RGBAAt(3, 0); got != (color.RGBA{R: 255, A: 255}) {
		t.Fatal(got)
	}
}

func TestLoop_shapeMismatch(t *testing.T) {
	var closed []string
	cam := &fakeCamera{img: solid(8, 8, color.RGBA{A: 255}), closed: &closed}
	dev := leptontest.NewScript(leptontest.Step{Seq: 1, Celsius: 24})
	src := fromDevice(&closed, dev)
	disp := &fakeDisplay{maxShows: 100, closed: &closed}
	opts := defaultOptions(t)
	opts.Grid = image.Pt(160, 120)
	l, err := New(opts, nil, cam, src, disp)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Run(context.Background()); !errors.Is(err, sensor.ErrShape) {
		t.Fatal(err)
	}
	if len(disp.shown) != 0 || dev.Halted != 1 {
		t.Fatal(len(disp.shown), dev.Halted)
	}
	if st := l.Stats(); st.Sensor.Opens != 1 || st.SensorFails != 1 {
		t.Fatalf("%+v", st)
	}
	if diff := cmp.Diff([]string{"camera", "sensor", "display"}, closed); diff != "" {
		t.Fatalf("close order (-want +got):\n%s", diff)
	}
}

// Default settings against frames shaped like periph's lepton driver.
func TestLoop_defaultConfig(t *testing.T) {
	c := config.Default()
	if c.Source != config.SourceLepton {
		t.Fatal(c.Source)
	}
	r, err := ramp.Build(c.MinColor, c.MaxColor, c.ColorDepth)
	if err != nil {
		t.Fatal(err)
	}
	cal, err := calib.ParseCalibrator(c.Calibration, c.Gain, c.Offset)
	if err != nil {
		t.Fatal(err)
	}
	size := c.FrameSize()
	cam, err := NewBlank(size.X, size.Y)
	if err != nil {
		t.Fatal(err)
	}
	var closed []string
	disp := &fakeDisplay{maxShows: 2, closed: &closed}
	opts := Options{
		Live:       Live{Window: c.Window(), Alpha: c.EffectiveAlpha(), Mirror: c.Mirror},
		Grid:       c.Grid(),
		Cell:       c.Cell(),
		Ramp:       r,
		Calibrator: cal,
	}
	l, err := New(opts, nil, cam, fromDevice(&closed, &countsDevice{}), disp)
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	st := l.Stats()
	if st.Fresh != 2 || st.Blank != 0 || st.SensorFails != 0 || st.Presented != 2 {
		t.Fatalf("%+v", st)
	}
	// The counts are stretched across the whole window.
	lo, hi := l.cal.Pix[0], l.cal.Pix[0]
	for _, v := range l.cal.Pix {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > 1 || hi < float64(c.ColorDepth-2) {
		t.Fatal(lo, hi)
	}
	img := disp.shown[1]
	if left, right := img.RGBAAt(0, size.Y/2), img.RGBAAt(size.X-1, size.Y/2); left == right {
		t.Fatal(left, right)
	}
}

func TestNew_fail(t *testing.T) {
	var closed []string
	cam := &fakeCamera{closed: &closed}
	disp := &fakeDisplay{closed: &closed}
	src := scripted(&closed)
	data := []func(o *Options){
		func(o *Options) { o.Ramp = nil },
		func(o *Options) { o.Calibrator = nil },
		func(o *Options) { o.Cell = image.Pt(0, 3) },
		func(o *Options) { o.Alpha = 2 },
		func(o *Options) { o.FPS = -1 },
		func(o *Options) { o.Window = calib.Window{Min: 30, Max: 30} },
		func(o *Options) { o.Grid = image.Pt(0, 60) },
	}
	for i, f := range data {
		opts := defaultOptions(t)
		f(&opts)
		if _, err := New(opts, nil, cam, src, disp); err == nil {
			t.Fatalf("#%d: expected failure", i)
		}
	}
	if _, err := New(defaultOptions(t), nil, nil, src, disp); err == nil {
		t.Fatal("camera is required")
	}
}

func TestBlank(t *testing.T) {
	b, err := NewBlank(2, 2)
	if err != nil {
		t.Fatal(err)
	}
	img, err := b.Read()
	if err != nil {
		t.Fatal(err)
	}
	if got := img.RGBAAt(1, 1); got != (color.RGBA{A: 255}) {
		t.Fatal(got)
	}
	if _, err := NewBlank(0, 2); err == nil {
		t.Fatal("expected failure")
	}
}

//

func defaultOptions(t *testing.T) Options {
	r, err := ramp.Build("indigo", "red", 1024)
	if err != nil {
		t.Fatal(err)
	}
	return Options{
		Live:       Live{Window: calib.Window{Min: 22, Max: 30}, Alpha: 0.9},
		Grid:       image.Pt(leptontest.Width, leptontest.Height),
		Cell:       image.Pt(3, 3),
		Ramp:       r,
		Calibrator: calib.Linear{Gain: leptontest.Gain, Offset: leptontest.Offset},
	}
}

func scripted(closed *[]string, steps ...leptontest.Step) *recordSource {
	return fromDevice(closed, leptontest.NewScript(steps...))
}

func fromDevice(closed *[]string, dev sensor.Device) *recordSource {
	return &recordSource{
		Source: sensor.NewFeed(func() (*sensor.Session, error) {
			return sensor.NewSession(dev), nil
		}, &backoff.ZeroBackOff{}),
		closed: closed,
	}
}

// countsDevice mimics periph's lepton driver: 80×60 frames of raw counts near
// 8192, rising by one per column.
type countsDevice struct {
	count uint32
}

func (c *countsDevice) NextFrame(img *lepton.Frame) error {
	c.count++
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			img.SetIntensity14(x, y, image14bit.Intensity14(8192+x))
		}
	}
	img.Metadata.FrameCount = c.count
	return nil
}

func (c *countsDevice) Bounds() image.Rectangle {
	return image.Rect(0, 0, 80, 60)
}

type recordSource struct {
	sensor.Source
	closed *[]string
}

func (r *recordSource) Stats() sensor.Stats {
	return r.Source.(*sensor.Feed).Stats()
}

func (r *recordSource) Close() error {
	*r.closed = append(*r.closed, "sensor")
	return r.Source.Close()
}

type fakeCamera struct {
	img    *image.RGBA
	errs   []error
	reads  int
	closed *[]string
}

func (f *fakeCamera) Read() (*image.RGBA, error) {
	f.reads++
	if len(f.errs) != 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return f.img, nil
}

func (f *fakeCamera) Close() error {
	*f.closed = append(*f.closed, "camera")
	return nil
}

type fakeDisplay struct {
	keys       []int
	maxShows   int
	shown      []*image.RGBA
	fullScreen []bool
	closed     *[]string
}

func (f *fakeDisplay) Show(img *image.RGBA) error {
	f.shown = append(f.shown, img)
	return nil
}

func (f *fakeDisplay) Poll() (int, bool) {
	if len(f.shown) >= f.maxShows {
		return -1, true
	}
	if len(f.keys) != 0 {
		k := f.keys[0]
		f.keys = f.keys[1:]
		return k, false
	}
	return -1, false
}

func (f *fakeDisplay) SetFullScreen(on bool) error {
	f.fullScreen = append(f.fullScreen, on)
	return nil
}

func (f *fakeDisplay) Close() error {
	*f.closed = append(*f.closed, "display")
	return nil
}

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}
