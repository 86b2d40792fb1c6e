// Copyright 2015 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"golang.org/x/net/websocket"

	"github.com/maruel/leptonview/lepton"
)

// camera is the part of lepton.Loop used by the status surfaces.
type camera interface {
	Config() lepton.Config
	Stats() lepton.Stats
	TriggerFFC() error
}

// status is the state shown on the status page. No pixel is served.
type status struct {
	Variant string
	Stats   lepton.Stats
	Seq     uint64 // Last frame.
	Min     uint16 // Effective scaling window of the last frame.
	Max     uint16
	Scale   float64 // Intensity steps per raw unit.
	Stale   []int
}

// WebServer serves the acquisition status.
type WebServer struct {
	cam     camera
	cond    sync.Cond
	state   status
	version int // Incremented at each update.
	done    bool
}

// NewWebServer returns a status server for cam. It is started with Serve.
func NewWebServer(cam camera) *WebServer {
	return &WebServer{
		cam:   cam,
		cond:  *sync.NewCond(&sync.Mutex{}),
		state: status{Variant: cam.Config().Variant.String()},
	}
}

// AddFrame records the last frame's metadata.
func (s *WebServer) AddFrame(f *lepton.Frame) {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.state.Seq = f.Seq
	s.state.Min = f.Window.Min
	s.state.Max = f.Window.Max
	s.state.Scale = f.Window.Scale()
	s.state.Stale = f.Stale
	s.version++
	s.cond.Broadcast()
}

// Serve listens on port until ctx is done.
func (s *WebServer) Serve(ctx context.Context, port int) error {
	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: loggingHandler{s.handler()}}
	go func() {
		// Refresh the counters even when no frame is received.
		t := time.NewTicker(time.Second)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				s.cond.L.Lock()
				s.done = true
				s.cond.Broadcast()
				s.cond.L.Unlock()
				srv.Close()
				return
			case <-t.C:
				s.cond.L.Lock()
				s.version++
				s.cond.Broadcast()
				s.cond.L.Unlock()
			}
		}
	}()
	fmt.Printf("Listening on %d\n", port)
	if err := srv.ListenAndServe(); err != http.ErrServerClosed {
		// The status page is optional; acquisition continues without it.
		fmt.Fprintf(os.Stderr, "\nstatus page disabled: %s\n", err)
	}
	return nil
}

// Private details.

func (s *WebServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.root)
	mux.HandleFunc("/stats", s.stats)
	mux.HandleFunc("/ffc", s.ffc)
	mux.Handle("/stream", websocket.Handler(s.stream))
	return mux
}

// snapshot returns the current state. The lock must be held.
func (s *WebServer) snapshot() status {
	st := s.state
	st.Stats = s.cam.Stats()
	return st
}

var rootTmpl = template.Must(template.New("name").Parse(`<!DOCTYPE html>
<html>
<head>
	<title>lepton</title>
	<script>
	window.onload = function() {
		var ws = new WebSocket("ws://" + location.host + "/stream");
		ws.onmessage = function(e) {
			document.getElementById("stats").textContent = JSON.stringify(JSON.parse(e.data), null, 2);
		};
	};
	</script>
</head>
<body>
	<h1>{{.Variant}}</h1>
	<form method="POST" action="/ffc"><input type="submit" value="Run FFC"></form>
	<pre id="stats">Frame {{.Seq}} [{{.Min}}, {{.Max}}]
{{printf "%+v" .Stats}}</pre>
</body>
</html>`))

func (s *WebServer) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	s.cond.L.Lock()
	st := s.snapshot()
	s.cond.L.Unlock()
	if err := rootTmpl.Execute(w, st); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *WebServer) stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	s.cond.L.Lock()
	st := s.snapshot()
	s.cond.L.Unlock()
	if err := json.NewEncoder(w).Encode(&st); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *WebServer) ffc(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := s.cam.TriggerFFC(); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// stream sends the status as a JSON WebSocket frame at each update.
func (s *WebServer) stream(w *websocket.Conn) {
	log.Printf("websocket from %s", w.Request().RemoteAddr)
	defer w.Close()
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	last := -1
	for !s.done {
		if last == s.version {
			s.cond.Wait()
			continue
		}
		last = s.version
		st := s.snapshot()
		s.cond.L.Unlock()
		// Do the actual I/O without the lock.
		err := websocket.JSON.Send(w, &st)
		s.cond.L.Lock()
		// To break out of the loop, the lock must be held.
		if err != nil {
			log.Printf("websocket err: %s", err)
			break
		}
	}
}

type loggingHandler struct {
	handler http.Handler
}

type loggingResponseWriter struct {
	http.ResponseWriter
	length int
	status int
}

func (l *loggingResponseWriter) Write(data []byte) (size int, err error) {
	size, err = l.ResponseWriter.Write(data)
	l.length += size
	return
}

func (l *loggingResponseWriter) WriteHeader(status int) {
	l.ResponseWriter.WriteHeader(status)
	l.status = status
}

// Hijack is needed for websocket.
func (l *loggingResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h := l.ResponseWriter.(http.Hijacker)
	return h.Hijack()
}

// ServeHTTP logs each HTTP request if -v is passed.
func (l loggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lrw := &loggingResponseWriter{ResponseWriter: w}
	l.handler.ServeHTTP(lrw, r)
	log.Printf("%s - %3d %6db %4s %s\n", r.RemoteAddr, lrw.status, lrw.length, r.Method, r.RequestURI)
}
