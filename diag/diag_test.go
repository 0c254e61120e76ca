// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package diag

import (
	"encoding/json"
	"errors"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/maruel/lepton-overlay/loop"
	"github.com/maruel/lepton-overlay/sensor"
)

func TestHandler(t *testing.T) {
	src := &fakeSource{stats: loop.Stats{Ticks: 12, Fresh: 3, Sensor: sensor.Stats{Opens: 1, LastFail: errors.New("busy")}}}
	h := NewHandler(src)

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/still.png", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Fatal(w.Code)
	}

	src.img = image.NewRGBA(image.Rect(0, 0, 4, 3))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/still.png", nil))
	if w.Code != http.StatusOK {
		t.Fatal(w.Code)
	}
	img, err := png.Decode(w.Body)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds() != src.img.Bounds() {
		t.Fatal(img.Bounds())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "12 ticks") {
		t.Fatal(w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/nope", nil))
	if w.Code != http.StatusNotFound {
		t.Fatal(w.Code)
	}

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/stats.json", nil))
	var got struct {
		Ticks    int
		Fresh    int
		LastFail string
	}
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Ticks != 12 || got.Fresh != 3 || got.LastFail != "busy" {
		t.Fatalf("%+v", got)
	}
}

type fakeSource struct {
	stats loop.Stats
	img   *image.RGBA
}

func (f *fakeSource) Stats() loop.Stats {
	return f.stats
}

func (f *fakeSource) Latest() *image.RGBA {
	return f.img
}
