// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package loop runs the overlay pipeline, one composite per tick.
//
// Each tick polls the display, reads a camera frame, optionally mirrors it,
// asks the sensor for a frame, calibrates and upsamples it when it is fresh,
// paints the raster over the camera frame, blends both and presents the
// result, then waits for the next tick.
package loop

import (
	"context"
	"image"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/maruel/lepton-overlay/calib"
	"github.com/maruel/lepton-overlay/grid"
	"github.com/maruel/lepton-overlay/overlay"
	"github.com/maruel/lepton-overlay/ramp"
	"github.com/maruel/lepton-overlay/sensor"
	"github.com/maruel/lepton-overlay/upsample"
)

// Camera produces the frames the overlay is painted on.
type Camera interface {
	// Read returns the next frame. It returns an error when no frame could be
	// grabbed.
	Read() (*image.RGBA, error)
	Close() error
}

// Display shows composites and reports user input.
type Display interface {
	Show(img *image.RGBA) error
	// Poll returns the key pressed since the last call, or -1, and whether the
	// window was closed.
	Poll() (key int, closed bool)
	SetFullScreen(on bool) error
	Close() error
}

// Key codes that stop the loop.
const (
	KeyEscape = 27
)

// IsQuit returns true for Escape, q and Q.
func IsQuit(key int) bool {
	return key == KeyEscape || key == 'q' || key == 'Q'
}

// IsFullScreen returns true for f and F, which toggle full screen.
func IsFullScreen(key int) bool {
	return key == 'f' || key == 'F'
}

// State is the loop state.
type State int

// Valid values for State.
const (
	Running State = 0
	Stopped State = 1 // Terminal.
)

func (s State) String() string {
	if s == Stopped {
		return "stopped"
	}
	return "running"
}

// Live is the part of the options that can change while running.
type Live struct {
	Window calib.Window
	Alpha  float64
	Mirror bool
}

// Options configures a Loop.
type Options struct {
	Live
	// Grid is the sensor frame size, e.g. 80×60.
	Grid image.Point
	// Cell is the size in pixels of one raster cell. The raster is as dense as
	// needed to cover the camera frame with cells.
	Cell       image.Point
	Ramp       *ramp.Ramp
	Calibrator calib.Calibrator
	// FPS is the target rate; 0 means as fast as possible.
	FPS        float64
	FullScreen bool
}

// Stats counts what the loop did.
type Stats struct {
	Ticks       int
	Presented   int
	CameraFails int
	SensorFails int
	Fresh       int
	Reused      int
	Blank       int
	RenderFails int
	LastError   string
	LastTick    time.Time
	Sensor      sensor.Stats
}

// Loop is the frame loop. Run must be called at most once.
type Loop struct {
	opts Options
	log  *zap.SugaredLogger
	cam  Camera
	src  sensor.Source
	disp Display

	limiter *rate.Limiter
	norm    *calib.Normalizer
	interp  *upsample.Interpolator
	raw     *grid.Raw
	cal     *grid.Field
	calOK   bool
	stale   bool
	frame   image.Rectangle
	dense   image.Point
	raster  *grid.Field
	updates chan Live
	state   State

	mu     sync.Mutex
	stats  Stats
	latest *image.RGBA
}

// New returns a Loop. It takes ownership of cam, src and disp; they are closed
// when Run returns.
func New(opts Options, log *zap.SugaredLogger, cam Camera, src sensor.Source, disp Display) (*Loop, error) {
	if cam == nil || src == nil || disp == nil {
		return nil, errors.New("camera, sensor and display are required")
	}
	if opts.Ramp == nil {
		return nil, errors.New("a color ramp is required")
	}
	if opts.Calibrator == nil {
		return nil, errors.New("a calibrator is required")
	}
	if opts.Cell.X <= 0 || opts.Cell.Y <= 0 {
		return nil, errors.Errorf("invalid cell size %s", opts.Cell)
	}
	if !(opts.Alpha >= 0 && opts.Alpha <= 1) {
		return nil, errors.Errorf("alpha %g is outside [0, 1]", opts.Alpha)
	}
	if opts.FPS < 0 {
		return nil, errors.Errorf("invalid frame rate %g", opts.FPS)
	}
	norm, err := calib.NewNormalizer(opts.Window, opts.Ramp.Len())
	if err != nil {
		return nil, err
	}
	raw, err := grid.NewRaw(opts.Grid.X, opts.Grid.Y)
	if err != nil {
		return nil, err
	}
	cal, err := grid.NewField(opts.Grid.X, opts.Grid.Y)
	if err != nil {
		return nil, err
	}
	interp, err := upsample.New(grid.Points(opts.Grid.X, opts.Grid.Y))
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	limit := rate.Inf
	if opts.FPS > 0 {
		limit = rate.Limit(opts.FPS)
	}
	return &Loop{
		opts:    opts,
		log:     log,
		cam:     cam,
		src:     src,
		disp:    disp,
		limiter: rate.NewLimiter(limit, 1),
		norm:    norm,
		interp:  interp,
		raw:     raw,
		cal:     cal,
		updates: make(chan Live, 1),
	}, nil
}

// Update queues new live settings. They are applied at the top of the next
// tick; only the most recent pending update is kept. It is safe to call from
// any goroutine.
func (l *Loop) Update(live Live) {
	for {
		select {
		case l.updates <- live:
			return
		default:
		}
		select {
		case <-l.updates:
		default:
		}
	}
}

// Stats returns a copy of the counters. It is safe to call from any goroutine.
func (l *Loop) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stats
}

// Latest returns the last presented composite, or nil. The image must not be
// modified.
func (l *Loop) Latest() *image.RGBA {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.latest
}

// State returns the loop state. It must only be called from the goroutine
// running the loop or after Run returned.
func (l *Loop) State() State {
	return l.state
}

// Run runs until the display is closed, a quit key is pressed or ctx is
// canceled. It returns an error when the sensor frame does not match Grid. The
// camera, the sensor source and the display are closed before
// it returns, in that order.
func (l *Loop) Run(ctx context.Context) (err error) {
	defer func() {
		l.state = Stopped
		if err2 := l.cam.Close(); err == nil && err2 != nil {
			err = errors.Wrap(err2, "failed to close camera")
		}
		if err2 := l.src.Close(); err == nil && err2 != nil {
			err = errors.Wrap(err2, "failed to close sensor")
		}
		if err2 := l.disp.Close(); err == nil && err2 != nil {
			err = errors.Wrap(err2, "failed to close display")
		}
	}()
	if l.opts.FullScreen {
		l.setFullScreen(true)
	}
	for l.state == Running {
		if err := l.tick(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loop) tick(ctx context.Context) error {
	key, closed := l.disp.Poll()
	if closed || IsQuit(key) {
		l.log.Debugw("stopping", "key", key, "closed", closed)
		l.state = Stopped
		return nil
	}
	if IsFullScreen(key) {
		l.setFullScreen(!l.opts.FullScreen)
	}
	if ctx.Err() != nil {
		l.state = Stopped
		return nil
	}
	l.apply()
	l.count(func(s *Stats) {
		s.Ticks++
		s.LastTick = time.Now()
	})

	if base, err := l.cam.Read(); err != nil {
		l.log.Warnw("failed to read camera frame", zap.Error(err))
		l.count(func(s *Stats) {
			s.CameraFails++
			s.LastError = err.Error()
		})
	} else {
		if l.opts.Mirror {
			base = overlay.Mirror(base)
		}
		if err := l.sense(base.Bounds()); err != nil {
			return err
		}
		composite, err := l.compose(base)
		if err != nil {
			return err
		}
		if err := l.disp.Show(composite); err != nil {
			return errors.Wrap(err, "failed to present frame")
		}
		l.mu.Lock()
		l.stats.Presented++
		l.latest = composite
		l.mu.Unlock()
	}

	if err := l.limiter.Wait(ctx); err != nil {
		// Only happens when ctx is canceled or its deadline is too short.
		l.state = Stopped
	}
	return nil
}

// apply applies the pending live settings, if any.
func (l *Loop) apply() {
	var live Live
	select {
	case live = <-l.updates:
	default:
		return
	}
	if live.Window != l.opts.Window {
		norm, err := calib.NewNormalizer(live.Window, l.opts.Ramp.Len())
		if err != nil {
			l.log.Warnw("ignoring temperature window", zap.Error(err))
		} else {
			l.norm = norm
			l.opts.Window = live.Window
			l.stale = true
		}
	}
	if live.Alpha >= 0 && live.Alpha <= 1 {
		l.opts.Alpha = live.Alpha
	} else {
		l.log.Warnw("ignoring alpha", "alpha", live.Alpha)
	}
	l.opts.Mirror = live.Mirror
	l.log.Infow("settings updated", "min", l.opts.Window.Min, "max", l.opts.Window.Max, "alpha", l.opts.Alpha, "mirror", l.opts.Mirror)
}

func (l *Loop) setFullScreen(on bool) {
	if err := l.disp.SetFullScreen(on); err != nil {
		l.log.Warnw("failed to switch full screen", "on", on, zap.Error(err))
		return
	}
	l.opts.FullScreen = on
}

// sense updates the raster from the sensor. On failure the previous raster is
// kept. Only a sensor of the wrong size is an error.
func (l *Loop) sense(frame image.Rectangle) error {
	if frame != l.frame {
		l.frame = frame
		l.dense = image.Point{
			X: (frame.Dx() + l.opts.Cell.X - 1) / l.opts.Cell.X,
			Y: (frame.Dy() + l.opts.Cell.Y - 1) / l.opts.Cell.Y,
		}
		l.raster = nil
	}
	u, err := l.src.Next(l.raw)
	if err != nil {
		l.count(func(s *Stats) {
			s.SensorFails++
			s.LastError = err.Error()
		})
		if errors.Is(err, sensor.ErrShape) {
			return err
		}
		l.log.Warnw("failed to capture thermal frame", zap.Error(err))
	}
	switch u {
	case sensor.Fresh:
		if err := l.norm.Calibrate(l.raw, l.opts.Calibrator, l.cal); err != nil {
			l.log.Warnw("failed to calibrate", zap.Error(err))
			return nil
		}
		l.calOK = true
		l.stale = false
		l.count(func(s *Stats) { s.Fresh++ })
		l.upsample()
	case sensor.Unchanged:
		// The buffer holds the same frame as before.
		if l.stale || !l.calOK {
			if err := l.norm.Calibrate(l.raw, l.opts.Calibrator, l.cal); err == nil {
				l.calOK = true
				l.stale = false
				l.raster = nil
			}
		}
		l.count(func(s *Stats) { s.Reused++ })
		if l.raster == nil {
			l.upsample()
		}
	default:
		if l.raster == nil && l.calOK {
			l.upsample()
		}
	}
	return nil
}

func (l *Loop) upsample() {
	if !l.calOK || l.dense.X <= 0 || l.dense.Y <= 0 {
		return
	}
	raster, err := l.interp.Field(l.cal, l.dense)
	if err != nil {
		l.log.Warnw("failed to upsample", zap.Error(err))
		l.count(func(s *Stats) {
			s.RenderFails++
			s.LastError = err.Error()
		})
		return
	}
	l.raster = raster
}

func (l *Loop) compose(base *image.RGBA) (*image.RGBA, error) {
	if l.raster == nil {
		l.count(func(s *Stats) { s.Blank++ })
		return base, nil
	}
	o := overlay.Render(l.raster, l.opts.Ramp, base, l.opts.Cell)
	out, err := overlay.Blend(o, base, l.opts.Alpha)
	if err != nil {
		return nil, errors.Wrap(err, "failed to blend")
	}
	return out, nil
}

func (l *Loop) count(f func(s *Stats)) {
	l.mu.Lock()
	f(&l.stats)
	if st, ok := l.src.(interface{ Stats() sensor.Stats }); ok {
		l.stats.Sensor = st.Stats()
	}
	l.mu.Unlock()
}

// Blank is a Camera returning black frames, for the standalone demo.
type Blank struct {
	img *image.RGBA
}

// NewBlank returns a Blank camera of the given size.
func NewBlank(w, h int) (*Blank, error) {
	if w <= 0 || h <= 0 {
		return nil, errors.Errorf("invalid frame size %dx%d", w, h)
	}
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	return &Blank{img: img}, nil
}

// Read implements Camera. The same frame is returned every time and must not
// be modified.
func (b *Blank) Read() (*image.RGBA, error) {
	return b.img, nil
}

// Close implements Camera.
func (b *Blank) Close() error {
	return nil
}
