// Copyright 2020 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package diag serves a local diagnostics page with the loop statistics and
// the last composite.
package diag

import (
	"context"
	"encoding/json"
	"html/template"
	"image"
	"image/png"
	"net"
	"net/http"
	"time"

	"github.com/maruel/serve-dir/loghttp"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/maruel/lepton-overlay/loop"
)

// Source is what the page shows. *loop.Loop implements it.
type Source interface {
	Stats() loop.Stats
	Latest() *image.RGBA
}

var rootTmpl = template.Must(template.New("name").Parse(`
	<html>
	<head>
		<title>lepton-overlay</title>
		<style>
			img.large {
				width: 640;
				height: auto;
			}
		</style>
		<script>
		function reload() {
			setTimeout(function() {
				var still = document.getElementById("still");
				still.src = "/still.png#" + new Date().getTime();
			}, 1000);
		}
		</script>
	</head>
	<body>
	Still:<br>
	<a href="/still.png"><img class="large" id="still" src="/still.png" onload="reload()"></img></a>
	<br>
	{{.Ticks}} ticks {{.Presented}} presented {{.Fresh}} fresh {{.Reused}} reused {{.Blank}} blank
	<br>
	{{.CameraFails}} camera failures {{.SensorFails}} sensor failures {{.RenderFails}} render failures
	<br>
	Sensor: {{.Sensor.Opens}} opens {{.Sensor.OpenFails}} open failures {{.Sensor.Calibrating}} calibrating
	<br>
	{{.LastError}}
	</body>
	</html>`))

// NewHandler returns the diagnostics handler.
func NewHandler(src Source) http.Handler {
	s := &server{src: src}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.root)
	mux.HandleFunc("/favicon.ico", s.still)
	mux.HandleFunc("/still.png", s.still)
	mux.HandleFunc("/stats.json", s.stats)
	return mux
}

// Serve serves the diagnostics page on addr until ctx is canceled. Requests
// are logged.
func Serve(ctx context.Context, addr string, src Source, log *zap.SugaredLogger) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	srv := &http.Server{
		Handler:           &loghttp.Handler{Handler: NewHandler(src)},
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Infow("diagnostics listening", "addr", ln.Addr().String())
	go func() {
		<-ctx.Done()
		c, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(c)
	}()
	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "diagnostics server failed")
	}
	return nil
}

type server struct {
	src Source
}

func (s *server) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if err := rootTmpl.Execute(w, s.src.Stats()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *server) still(w http.ResponseWriter, r *http.Request) {
	img := s.src.Latest()
	if img == nil {
		http.Error(w, "No frame yet", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	if err := png.Encode(w, img); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *server) stats(w http.ResponseWriter, r *http.Request) {
	st := s.src.Stats()
	out := struct {
		loop.Stats
		LastFail string `json:",omitempty"`
	}{Stats: st}
	if st.Sensor.LastFail != nil {
		out.LastFail = st.Sensor.LastFail.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(&out); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
