// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sensor

import (
	"image"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/maruel/lepton-overlay/grid"
)

// Update tells what Next put in the buffer.
type Update int

// Valid values for Update.
const (
	// Unavailable means no frame was read; the buffer content is undefined.
	Unavailable Update = 0
	// Fresh means the buffer holds a frame never seen before.
	Fresh Update = 1
	// Unchanged means the sensor returned the same frame counter as the
	// previous call; the caller should reuse what it derived from it.
	Unchanged Update = 2
)

func (u Update) String() string {
	switch u {
	case Fresh:
		return "fresh"
	case Unchanged:
		return "unchanged"
	default:
		return "unavailable"
	}
}

// Source produces raw thermal frames.
type Source interface {
	Next(dst *grid.Raw) (Update, error)
	Close() error
}

// ErrShape is returned by Next when the sensor frame size differs from the
// buffer. It is permanent: the sensor is not reopened.
var ErrShape = errors.New("sensor frame does not fit the buffer")

// Opener opens a new Session.
type Opener func() (*Session, error)

// Stats counts what a Feed did.
type Stats struct {
	Opens        int
	OpenFails    int
	Fresh        int
	Duplicates   int
	CaptureFails int
	Calibrating  int
	LastFail     error `json:"-"`
}

// Feed is a Source over a long lived Session.
//
// The session is opened lazily and only reopened after a failure, no sooner
// than the backoff policy allows. A Feed is not safe for concurrent use.
type Feed struct {
	open    Opener
	policy  backoff.BackOff
	now     func() time.Time
	session *Session
	retryAt time.Time
	lastSeq uint32
	seen    bool
	fatal   error
	status  Status
	stats   Stats
}

// NewFeed returns a Feed. A nil policy means exponential backoff from 200ms up
// to 5s between reopen attempts, forever.
func NewFeed(open Opener, policy backoff.BackOff) *Feed {
	if policy == nil {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = 200 * time.Millisecond
		b.MaxInterval = 5 * time.Second
		b.MaxElapsedTime = 0
		policy = b
	}
	return &Feed{open: open, policy: policy, now: time.Now}
}

// OpenDevice returns an Opener for the Lepton on the SPI port path.
func OpenDevice(path string) Opener {
	return func() (*Session, error) {
		return Open(path)
	}
}

// Next captures into dst.
//
// Capture errors are transient: the session is dropped and Next returns
// Unavailable until it can be reopened. A sensor whose frame size differs from
// dst returns an error wrapping ErrShape, on this call and every later one.
func (f *Feed) Next(dst *grid.Raw) (Update, error) {
	if f.fatal != nil {
		return Unavailable, f.fatal
	}
	if f.session == nil {
		if f.now().Before(f.retryAt) {
			return Unavailable, nil
		}
		s, err := f.open()
		if err != nil {
			f.stats.OpenFails++
			f.fail(err)
			return Unavailable, errors.Wrap(err, "failed to open sensor")
		}
		f.session = s
		f.stats.Opens++
		f.policy.Reset()
		// The frame counter restarts with the device.
		f.seen = false
	}
	if err := grid.CheckShape(f.session.Bounds(), dst.Bounds()); err != nil {
		f.session.Close()
		f.session = nil
		f.fatal = errors.Wrapf(ErrShape, "%v; set sensorWidth and sensorHeight to the sensor's size", err)
		f.stats.LastFail = f.fatal
		return Unavailable, f.fatal
	}
	status, seq, err := f.session.Capture(dst)
	if err != nil {
		f.stats.CaptureFails++
		f.session.Close()
		f.session = nil
		f.fail(err)
		return Unavailable, err
	}
	f.stats.LastFail = nil
	f.status = status
	if status == StatusCalibrating {
		f.stats.Calibrating++
	}
	if f.seen && seq == f.lastSeq {
		f.stats.Duplicates++
		return Unchanged, nil
	}
	f.seen = true
	f.lastSeq = seq
	f.stats.Fresh++
	return Fresh, nil
}

// Bounds returns the frame size of the open session, if any.
func (f *Feed) Bounds() image.Rectangle {
	if f.session == nil {
		return image.Rectangle{}
	}
	return f.session.Bounds()
}

// Status returns the status of the last captured frame.
func (f *Feed) Status() Status {
	return f.status
}

// Stats returns a copy of the counters.
func (f *Feed) Stats() Stats {
	return f.stats
}

// Close releases the session. The Feed can be reused afterward.
func (f *Feed) Close() error {
	if f.session == nil {
		return nil
	}
	err := f.session.Close()
	f.session = nil
	return err
}

func (f *Feed) fail(err error) {
	f.stats.LastFail = err
	d := f.policy.NextBackOff()
	if d == backoff.Stop {
		d = 5 * time.Second
	}
	f.retryAt = f.now().Add(d)
}
