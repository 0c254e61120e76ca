// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package config loads the overlay configuration.
//
// Values are layered: built-in defaults, then the YAML file, then the command
// line flags that were explicitly set.
package config

import (
	"flag"
	"image"
	"io"
	"os"
	"os/user"
	"path/filepath"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/pkg/errors"
	yamlv2 "gopkg.in/yaml.v2"

	"github.com/maruel/lepton-overlay/calib"
	"github.com/maruel/lepton-overlay/leptontest"
	"github.com/maruel/lepton-overlay/ramp"
	"github.com/maruel/lepton-overlay/sensor"
)

// Modes.
const (
	ModeCamera = "camera"
	ModeDemo   = "demo"
)

// Sources.
const (
	SourceLepton   = "lepton"
	SourceNoise    = "noise"
	SourceGradient = "gradient"
)

// Config is the complete configuration.
type Config struct {
	// Mode is "camera" to paint over the video camera or "demo" to paint over
	// a black frame.
	Mode   string `koanf:"mode" yaml:"mode"`
	Source string `koanf:"source" yaml:"source"`

	CameraID   int    `koanf:"cameraId" yaml:"cameraId"`
	Device     string `koanf:"device" yaml:"device"`
	FullScreen bool   `koanf:"fullScreen" yaml:"fullScreen"`
	Mirror     bool   `koanf:"mirror" yaml:"mirror"`
	// Width and Height are the frame size; 0 means the sensor size times
	// Scale.
	Width  int `koanf:"width" yaml:"width"`
	Height int `koanf:"height" yaml:"height"`

	// SensorWidth and SensorHeight must match the device; periph's Lepton
	// driver reads 80×60 frames.
	SensorWidth  int     `koanf:"sensorWidth" yaml:"sensorWidth"`
	SensorHeight int     `koanf:"sensorHeight" yaml:"sensorHeight"`
	Calibration  string  `koanf:"calibration" yaml:"calibration"`
	Gain         float64 `koanf:"gain" yaml:"gain"`
	Offset       float64 `koanf:"offset" yaml:"offset"`

	MinTemp    float64 `koanf:"minTemp" yaml:"minTemp"`
	MaxTemp    float64 `koanf:"maxTemp" yaml:"maxTemp"`
	Alpha      float64 `koanf:"alpha" yaml:"alpha"`
	ColorDepth int     `koanf:"colorDepth" yaml:"colorDepth"`
	MinColor   string  `koanf:"minColor" yaml:"minColor"`
	MaxColor   string  `koanf:"maxColor" yaml:"maxColor"`
	Scale      int     `koanf:"scale" yaml:"scale"`
	CellWidth  int     `koanf:"cellWidth" yaml:"cellWidth"`
	CellHeight int     `koanf:"cellHeight" yaml:"cellHeight"`
	// FPS is the target frame rate; 0 means 15 in camera mode and 1 in demo
	// mode.
	FPS float64 `koanf:"fps" yaml:"fps"`

	// HTTP is the address of the diagnostics page, e.g. "localhost:8010". It is
	// disabled when empty.
	HTTP string `koanf:"http" yaml:"http"`
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Mode:         ModeCamera,
		Source:       SourceLepton,
		Device:       "/dev/spidev0.0",
		SensorWidth:  leptontest.Width,
		SensorHeight: leptontest.Height,
		Calibration:  "agc",
		Gain:         calib.DefaultLinear.Gain,
		Offset:       calib.DefaultLinear.Offset,
		MinTemp:      22,
		MaxTemp:      30,
		Alpha:        0.9,
		ColorDepth:   1024,
		MinColor:     "indigo",
		MaxColor:     "red",
		Scale:        8,
		CellWidth:    3,
		CellHeight:   3,
	}
}

// Validate returns an error describing the first invalid value.
func (c *Config) Validate() error {
	switch c.Mode {
	case ModeCamera, ModeDemo:
	default:
		return errors.Errorf("unknown mode %q", c.Mode)
	}
	switch c.Source {
	case SourceLepton:
		if c.Device == "" {
			return errors.New("device is required with the lepton source")
		}
	case SourceNoise, SourceGradient:
		if c.SensorWidth != leptontest.Width || c.SensorHeight != leptontest.Height {
			return errors.Errorf("the %s source is %dx%d, not %dx%d", c.Source, leptontest.Width, leptontest.Height, c.SensorWidth, c.SensorHeight)
		}
	default:
		return errors.Errorf("unknown source %q", c.Source)
	}
	if _, err := calib.ParseCalibrator(c.Calibration, c.Gain, c.Offset); err != nil {
		return err
	}
	if err := c.Window().Validate(); err != nil {
		return err
	}
	if !(c.Alpha >= 0 && c.Alpha <= 1) {
		return errors.Errorf("alpha %g is outside [0, 1]", c.Alpha)
	}
	if c.ColorDepth < 2 {
		return errors.Errorf("colorDepth %d must be at least 2", c.ColorDepth)
	}
	if _, err := ramp.Parse(c.MinColor); err != nil {
		return err
	}
	if _, err := ramp.Parse(c.MaxColor); err != nil {
		return err
	}
	if c.SensorWidth <= 0 || c.SensorHeight <= 0 {
		return errors.Errorf("invalid sensor size %dx%d", c.SensorWidth, c.SensorHeight)
	}
	if c.Width < 0 || c.Height < 0 {
		return errors.Errorf("invalid frame size %dx%d", c.Width, c.Height)
	}
	if c.Scale <= 0 {
		return errors.Errorf("invalid scale %d", c.Scale)
	}
	if c.CellWidth <= 0 || c.CellHeight <= 0 {
		return errors.Errorf("invalid cell size %dx%d", c.CellWidth, c.CellHeight)
	}
	if c.FPS < 0 {
		return errors.Errorf("invalid frame rate %g", c.FPS)
	}
	if c.CameraID < 0 {
		return errors.Errorf("invalid camera id %d", c.CameraID)
	}
	return nil
}

// Window returns the temperature window.
func (c *Config) Window() calib.Window {
	return calib.Window{Min: c.MinTemp, Max: c.MaxTemp}
}

// Grid returns the sensor frame size.
func (c *Config) Grid() image.Point {
	return image.Point{X: c.SensorWidth, Y: c.SensorHeight}
}

// Cell returns the size of one raster cell.
func (c *Config) Cell() image.Point {
	return image.Point{X: c.CellWidth, Y: c.CellHeight}
}

// FrameSize returns the frame size, defaulting to the sensor size times Scale.
func (c *Config) FrameSize() image.Point {
	p := image.Point{X: c.Width, Y: c.Height}
	if p.X == 0 {
		p.X = c.SensorWidth * c.Scale
	}
	if p.Y == 0 {
		p.Y = c.SensorHeight * c.Scale
	}
	return p
}

// Rate returns the target frame rate.
func (c *Config) Rate() float64 {
	if c.FPS != 0 {
		return c.FPS
	}
	if c.Mode == ModeDemo {
		return 1
	}
	return 15
}

// EffectiveAlpha returns the blend factor. The demo mode paints over black so
// the overlay is shown opaque.
func (c *Config) EffectiveAlpha() float64 {
	if c.Mode == ModeDemo {
		return 1
	}
	return c.Alpha
}

// Opener returns the Opener for the configured source. The synthetic sources
// are centered on the temperature window.
func (c *Config) Opener() sensor.Opener {
	lo, hi := c.MinTemp, c.MaxTemp
	switch c.Source {
	case SourceNoise:
		return func() (*sensor.Session, error) {
			return sensor.NewSession(leptontest.NewNoise((lo+hi)/2)), nil
		}
	case SourceGradient:
		return func() (*sensor.Session, error) {
			return sensor.NewSession(leptontest.NewGradient(lo, hi)), nil
		}
	default:
		return sensor.OpenDevice(c.Device)
	}
}

// DefaultPath returns ~/.config/lepton/overlay.yml.
func DefaultPath() string {
	usr, err := user.Current()
	if err != nil {
		return ""
	}
	return filepath.Join(usr.HomeDir, ".config", "lepton", "overlay.yml")
}

// RegisterFileFlags registers -config and -writeConfig on fs.
func RegisterFileFlags(fs *flag.FlagSet) (path *string, write *bool) {
	path = fs.String("config", "", "YAML configuration file; defaults to ~/.config/lepton/overlay.yml")
	write = fs.Bool("writeConfig", false, "write the configuration file and exit")
	return path, write
}

// RegisterFlags registers one flag per configuration key on fs.
func RegisterFlags(fs *flag.FlagSet) {
	d := Default()
	fs.String("mode", d.Mode, "camera: paint over the video camera; demo: paint over a black frame")
	fs.String("source", d.Source, "thermal source: lepton, noise or gradient")
	fs.Int("cameraId", d.CameraID, "video camera index")
	fs.String("device", d.Device, "SPI port of the Lepton")
	fs.Bool("fullScreen", d.FullScreen, "show the window full screen")
	fs.Bool("mirror", d.Mirror, "mirror the camera frame left/right")
	fs.Int("width", d.Width, "frame width; 0 means sensorWidth*scale")
	fs.Int("height", d.Height, "frame height; 0 means sensorHeight*scale")
	fs.Int("sensorWidth", d.SensorWidth, "sensor frame width; must match the device")
	fs.Int("sensorHeight", d.SensorHeight, "sensor frame height; must match the device")
	fs.String("calibration", d.Calibration, "raw to temperature conversion: agc, or linear for radiometric sources")
	fs.Float64("gain", d.Gain, "linear calibration gain, °C per raw unit")
	fs.Float64("offset", d.Offset, "linear calibration offset in °C")
	fs.Float64("minTemp", d.MinTemp, "temperature mapped to minColor, in °C")
	fs.Float64("maxTemp", d.MaxTemp, "temperature mapped to maxColor, in °C")
	fs.Float64("alpha", d.Alpha, "overlay opacity in [0, 1]")
	fs.Int("colorDepth", d.ColorDepth, "number of colors in the ramp")
	fs.String("minColor", d.MinColor, "color of the coldest temperature")
	fs.String("maxColor", d.MaxColor, "color of the hottest temperature")
	fs.Int("scale", d.Scale, "default frame size as a multiple of the sensor size")
	fs.Int("cellWidth", d.CellWidth, "width in pixels of one raster cell")
	fs.Int("cellHeight", d.CellHeight, "height in pixels of one raster cell")
	fs.Float64("fps", d.FPS, "target frame rate; 0 means 15, or 1 in demo mode")
	fs.String("http", d.HTTP, "address of the diagnostics page, e.g. localhost:8010")
}

// Loader loads the configuration from a file and command line overrides.
type Loader struct {
	// Path is the YAML file. It may be empty.
	Path string
	// Optional makes a missing file equivalent to an empty one.
	Optional  bool
	overrides map[string]interface{}
}

// NewLoader returns a Loader for path. Flags of fs that were explicitly set
// override the file content; fs must have been parsed.
func NewLoader(path string, optional bool, fs *flag.FlagSet) *Loader {
	l := &Loader{Path: path, Optional: optional, overrides: map[string]interface{}{}}
	if fs != nil {
		fs.Visit(func(f *flag.Flag) {
			if g, ok := f.Value.(flag.Getter); ok {
				l.overrides[f.Name] = g.Get()
			}
		})
	}
	return l
}

// Load loads and validates the configuration.
func (l *Loader) Load() (*Config, error) {
	k := koanf.New(".")
	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, errors.Wrap(err, "failed to load defaults")
	}
	if l.Path != "" {
		if _, err := os.Stat(l.Path); err == nil || !l.Optional {
			if err := k.Load(file.Provider(l.Path), yaml.Parser()); err != nil {
				return nil, errors.Wrapf(err, "failed to load %s", l.Path)
			}
		}
	}
	if len(l.overrides) != 0 {
		if err := k.Load(confmap.Provider(l.overrides, "."), nil); err != nil {
			return nil, errors.Wrap(err, "failed to load flags")
		}
	}
	c := &Config{}
	if err := k.Unmarshal("", c); err != nil {
		return nil, errors.Wrap(err, "failed to decode configuration")
	}
	if err := c.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	return c, nil
}

// Write writes c as YAML.
func Write(w io.Writer, c *Config) error {
	data, err := yamlv2.Marshal(c)
	if err != nil {
		return errors.Wrap(err, "failed to encode configuration")
	}
	_, err = w.Write(data)
	return err
}

// WriteFile writes c as YAML to path, creating the directory as needed.
func WriteFile(path string, c *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	if err := Write(f, c); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
