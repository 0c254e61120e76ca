// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// lepton-query captures a few frames and prints their telemetry and the
// temperature range they cover.
//
// Use it to pick -minTemp and -maxTemp before running lepton-overlay. It
// accepts the same flags and configuration file.
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/cenkalti/backoff"

	"github.com/maruel/lepton-overlay/calib"
	"github.com/maruel/lepton-overlay/config"
	"github.com/maruel/lepton-overlay/grid"
	"github.com/maruel/lepton-overlay/sensor"
)

func mainImpl() error {
	configPath, writeConfig := config.RegisterFileFlags(flag.CommandLine)
	n := flag.Int("n", 3, "number of distinct frames to capture")
	meta := flag.Bool("meta", false, "print metadata")
	config.RegisterFlags(flag.CommandLine)
	flag.Parse()

	if len(flag.Args()) != 0 {
		return fmt.Errorf("unexpected argument: %s", flag.Args())
	}
	path := *configPath
	optional := path == ""
	if optional {
		path = config.DefaultPath()
	}
	cfg, err := config.NewLoader(path, optional, flag.CommandLine).Load()
	if err != nil {
		return err
	}
	if *writeConfig {
		if path == "" {
			return fmt.Errorf("no configuration path; use -config")
		}
		return config.WriteFile(path, cfg)
	}
	cal, err := calib.ParseCalibrator(cfg.Calibration, cfg.Gain, cfg.Offset)
	if err != nil {
		return err
	}
	raw, err := grid.NewRaw(cfg.SensorWidth, cfg.SensorHeight)
	if err != nil {
		return err
	}
	temps, err := grid.NewField(cfg.SensorWidth, cfg.SensorHeight)
	if err != nil {
		return err
	}

	// No retry: a failure to open is reported right away.
	s, err := cfg.Opener()()
	if err != nil {
		return err
	}
	defer s.Close()
	feed := sensor.NewFeed(func() (*sensor.Session, error) { return s, nil }, &backoff.StopBackOff{})
	for captured := 0; captured < *n; {
		u, err := feed.Next(raw)
		if err != nil {
			return err
		}
		if u != sensor.Fresh {
			time.Sleep(10 * time.Millisecond)
			continue
		}
		captured++
		lo, hi := raw.MinMax()
		cal.Temperatures(raw, cfg.Window(), temps)
		tlo, thi := math.Inf(1), math.Inf(-1)
		for _, t := range temps.Pix {
			tlo = math.Min(tlo, t)
			thi = math.Max(thi, t)
		}
		fmt.Printf("Frame %-6d %-11s raw %5d - %5d  %6.2f°C - %6.2f°C\n", raw.Seq, feed.Status(), lo, hi, tlo, thi)
		if *meta {
			m := s.Metadata()
			fmt.Printf("  SinceStartup: %s\n", m.SinceStartup)
			fmt.Printf("  Temp:         %s\n", m.Temp)
			fmt.Printf("  TempHousing:  %s\n", m.TempHousing)
			fmt.Printf("  FFCSince:     %s\n", m.FFCSince)
			fmt.Printf("  FFCDesired:   %t\n", m.FFCDesired)
			fmt.Printf("  Overtemp:     %t\n", m.Overtemp)
		}
	}
	st := feed.Stats()
	fmt.Printf("%d frames %d duped %d calibrating\n", st.Fresh, st.Duplicates, st.Calibrating)
	return nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "\nlepton-query: %s.\n", err)
		os.Exit(1)
	}
}
