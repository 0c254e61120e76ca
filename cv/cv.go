// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package cv implements loop.Camera and loop.Display with OpenCV.
package cv

import (
	"image"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
	"golang.org/x/image/draw"
)

// Camera is a video capture device.
type Camera struct {
	dev *gocv.VideoCapture
	mat gocv.Mat
}

// OpenCamera opens the video camera id and requests frames of w×h. The
// device may pick a different size.
func OpenCamera(id, w, h int) (*Camera, error) {
	dev, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open camera %d", id)
	}
	if !dev.IsOpened() {
		dev.Close()
		return nil, errors.Errorf("camera %d is not available", id)
	}
	if w > 0 && h > 0 {
		dev.Set(gocv.VideoCaptureFrameWidth, float64(w))
		dev.Set(gocv.VideoCaptureFrameHeight, float64(h))
	}
	return &Camera{dev: dev, mat: gocv.NewMat()}, nil
}

// Read implements loop.Camera.
func (c *Camera) Read() (*image.RGBA, error) {
	if ok := c.dev.Read(&c.mat); !ok || c.mat.Empty() {
		return nil, errors.New("no frame from camera")
	}
	img, err := c.mat.ToImage()
	if err != nil {
		return nil, errors.Wrap(err, "failed to convert camera frame")
	}
	return toRGBA(img), nil
}

// Close implements loop.Camera.
func (c *Camera) Close() error {
	c.mat.Close()
	return c.dev.Close()
}

// Display is a HighGUI window.
type Display struct {
	win *gocv.Window
}

// NewDisplay opens a window named title.
func NewDisplay(title string) *Display {
	return &Display{win: gocv.NewWindow(title)}
}

// Show implements loop.Display.
func (d *Display) Show(img *image.RGBA) error {
	b := img.Bounds()
	if img.Stride != 4*b.Dx() || b.Min != (image.Point{}) {
		img = toRGBA(img)
	}
	src, err := gocv.NewMatFromBytes(b.Dy(), b.Dx(), gocv.MatTypeCV8UC4, img.Pix)
	if err != nil {
		return errors.Wrap(err, "failed to wrap frame")
	}
	defer src.Close()
	dst := gocv.NewMat()
	defer dst.Close()
	gocv.CvtColor(src, &dst, gocv.ColorRGBAToBGR)
	d.win.IMShow(dst)
	return nil
}

// Poll implements loop.Display. It also lets HighGUI process its events.
func (d *Display) Poll() (int, bool) {
	key := d.win.WaitKey(1)
	return key, !d.win.IsOpen()
}

// SetFullScreen implements loop.Display.
func (d *Display) SetFullScreen(on bool) error {
	v := gocv.WindowNormal
	if on {
		v = gocv.WindowFullscreen
	}
	d.win.SetWindowProperty(gocv.WindowPropertyFullscreen, v)
	return nil
}

// Close implements loop.Display.
func (d *Display) Close() error {
	return d.win.Close()
}

// toRGBA returns img as a packed *image.RGBA with its origin at (0, 0).
func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) && rgba.Stride == 4*rgba.Rect.Dx() {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(out, out.Bounds(), img, b.Min, draw.Src)
	return out
}
