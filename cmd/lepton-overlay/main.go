// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// lepton-overlay paints the FLIR Lepton thermal image over a video camera
// feed.
//
// Use -mode demo to paint the thermal image alone, and -source noise or
// -source gradient to run without a Lepton.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/maruel/interrupt"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/maruel/lepton-overlay/calib"
	"github.com/maruel/lepton-overlay/config"
	"github.com/maruel/lepton-overlay/cv"
	"github.com/maruel/lepton-overlay/diag"
	"github.com/maruel/lepton-overlay/loop"
	"github.com/maruel/lepton-overlay/ramp"
	"github.com/maruel/lepton-overlay/sensor"
)

func newLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if !verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		cfg.Development = false
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func live(c *config.Config) loop.Live {
	return loop.Live{Window: c.Window(), Alpha: c.EffectiveAlpha(), Mirror: c.Mirror}
}

func newLoop(c *config.Config, log *zap.SugaredLogger) (*loop.Loop, error) {
	r, err := ramp.Build(c.MinColor, c.MaxColor, c.ColorDepth)
	if err != nil {
		return nil, err
	}
	cal, err := calib.ParseCalibrator(c.Calibration, c.Gain, c.Offset)
	if err != nil {
		return nil, err
	}
	size := c.FrameSize()
	var cam loop.Camera
	if c.Mode == config.ModeDemo {
		if cam, err = loop.NewBlank(size.X, size.Y); err != nil {
			return nil, err
		}
	} else {
		if cam, err = cv.OpenCamera(c.CameraID, size.X, size.Y); err != nil {
			return nil, err
		}
	}
	src := sensor.NewFeed(c.Opener(), nil)
	disp := cv.NewDisplay("lepton-overlay")
	opts := loop.Options{
		Live:       live(c),
		Grid:       c.Grid(),
		Cell:       c.Cell(),
		Ramp:       r,
		Calibrator: cal,
		FPS:        c.Rate(),
		FullScreen: c.FullScreen,
	}
	l, err := loop.New(opts, log, cam, src, disp)
	if err != nil {
		cam.Close()
		src.Close()
		disp.Close()
		return nil, err
	}
	return l, nil
}

func mainImpl() error {
	configPath, writeConfig := config.RegisterFileFlags(flag.CommandLine)
	verbose := flag.Bool("v", false, "verbose log")
	config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}
	log, err := newLogger(*verbose)
	if err != nil {
		return err
	}
	defer log.Sync()

	path := *configPath
	optional := path == ""
	if optional {
		path = config.DefaultPath()
	}
	loader := config.NewLoader(path, optional, flag.CommandLine)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}
	if *writeConfig {
		if path == "" {
			return fmt.Errorf("no configuration path; use -config")
		}
		return config.WriteFile(path, cfg)
	}

	interrupt.HandleCtrlC()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-interrupt.Channel:
			cancel()
		case <-ctx.Done():
		}
	}()

	l, err := newLoop(cfg, log)
	if err != nil {
		return err
	}
	log.Infow("starting", "mode", cfg.Mode, "source", cfg.Source, "min", cfg.MinTemp, "max", cfg.MaxTemp, "fps", cfg.Rate())
	go func() {
		if err := loader.Watch(ctx, log, func(c *config.Config) { l.Update(live(c)) }); err != nil {
			log.Warnw("configuration is not watched", zap.Error(err))
		}
	}()
	if cfg.HTTP != "" {
		go func() {
			if err := diag.Serve(ctx, cfg.HTTP, l, log); err != nil {
				log.Errorw("diagnostics stopped", zap.Error(err))
			}
		}()
	}
	err = l.Run(ctx)
	st := l.Stats()
	log.Infow("stopped", "ticks", st.Ticks, "fresh", st.Fresh, "reused", st.Reused, "cameraFails", st.CameraFails, "sensorFails", st.SensorFails)
	return err
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nlepton-overlay: %s.\n", err)
		os.Exit(1)
	}
}
