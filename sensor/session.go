// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package sensor reads raw frames from a FLIR Lepton.
//
// A Session owns the device and its buses for as long as it is open. A Feed
// keeps one Session alive across ticks, reopens it with backoff after a
// failure and tells apart fresh frames from repeated ones by their frame
// counter.
package sensor

import (
	"fmt"
	"image"
	"io"

	"github.com/pkg/errors"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/devices/lepton"
	"periph.io/x/periph/devices/lepton/cci"
	"periph.io/x/periph/devices/lepton/image14bit"
	"periph.io/x/periph/host"

	"github.com/maruel/lepton-overlay/grid"
)

// Device is the part of a lepton.Dev used by a Session. It can be mocked.
type Device interface {
	NextFrame(img *lepton.Frame) error
	Bounds() image.Rectangle
}

// Status qualifies a captured frame.
type Status int

// Valid values for Status.
const (
	StatusOK          Status = 0
	StatusCalibrating Status = 1 // Flat field correction in progress; the image is frozen.
	StatusOvertemp    Status = 2 // The camera will shut itself down in about 10s.
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCalibrating:
		return "calibrating"
	case StatusOvertemp:
		return "overtemp"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Session is an open sensor. It is not safe for concurrent use.
type Session struct {
	dev     Device
	closers []io.Closer
	frame   *lepton.Frame
}

// Open opens the Lepton on the SPI port path, e.g. "/dev/spidev0.0", and the
// default I²C bus.
//
// periph's driver reads 80×60 frames of raw 14-bit counts with AGC and
// radiometry disabled; they only have a relative meaning.
//
// Every bus opened is closed again if initialization fails.
func Open(path string) (*Session, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize periph")
	}
	spiPort, err := spireg.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open SPI port %q", path)
	}
	i2cBus, err := i2creg.Open("")
	if err != nil {
		spiPort.Close()
		return nil, errors.Wrap(err, "failed to open I²C bus")
	}
	dev, err := lepton.New(spiPort, i2cBus)
	if err != nil {
		i2cBus.Close()
		spiPort.Close()
		return nil, errors.Wrapf(err, "failed to initialize lepton on %q", path)
	}
	return NewSession(dev, i2cBus, spiPort), nil
}

// NewSession wraps an already opened device. closers are closed in order by
// Close, after the device is halted.
func NewSession(dev Device, closers ...io.Closer) *Session {
	return &Session{dev: dev, closers: closers}
}

// Bounds returns the device frame size.
func (s *Session) Bounds() image.Rectangle {
	if s.dev == nil {
		return image.Rectangle{}
	}
	return s.dev.Bounds()
}

// Capture reads the next frame into dst and returns the sensor frame counter.
//
// dst must have the device's shape.
func (s *Session) Capture(dst *grid.Raw) (Status, uint32, error) {
	if s.dev == nil {
		return StatusOK, 0, errors.New("sensor session is closed")
	}
	b := s.dev.Bounds()
	if err := grid.CheckShape(b, dst.Bounds()); err != nil {
		return StatusOK, 0, errors.Wrap(ErrShape, err.Error())
	}
	if s.frame == nil || s.frame.Gray14 == nil || s.frame.Bounds() != b {
		s.frame = &lepton.Frame{Gray14: image14bit.NewGray14(b)}
	}
	if err := s.dev.NextFrame(s.frame); err != nil {
		return StatusOK, 0, errors.Wrap(err, "failed to read frame")
	}
	for y := 0; y < dst.H; y++ {
		for x := 0; x < dst.W; x++ {
			dst.Set(x, y, uint16(s.frame.Intensity14At(b.Min.X+x, b.Min.Y+y)))
		}
	}
	m := &s.frame.Metadata
	dst.Seq = m.FrameCount
	status := StatusOK
	switch {
	case m.Overtemp:
		status = StatusOvertemp
	case m.FFCState == cci.FFCInProgress:
		status = StatusCalibrating
	}
	return status, m.FrameCount, nil
}

// Metadata returns the telemetry of the last captured frame.
func (s *Session) Metadata() lepton.Metadata {
	if s.frame == nil {
		return lepton.Metadata{}
	}
	return s.frame.Metadata
}

// Close halts the device and releases the buses. It is safe to call multiple
// times.
func (s *Session) Close() error {
	if s.dev == nil {
		return nil
	}
	var err error
	if h, ok := s.dev.(interface{ Halt() error }); ok {
		err = h.Halt()
	}
	for _, c := range s.closers {
		if err2 := c.Close(); err == nil {
			err = err2
		}
	}
	s.dev = nil
	s.closers = nil
	s.frame = nil
	return err
}
