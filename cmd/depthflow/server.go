// Copyright 2018 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package main

import (
	"bufio"
	"bytes"
	"embed"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net"
	"net/http"
	"sync"

	"github.com/edaniels/golog"
	"github.com/maruel/interrupt"
	"golang.org/x/net/websocket"

	"github.com/maruel/go-depthflow/pipeline"
	"github.com/maruel/go-depthflow/sensor"
)

//go:embed static
var static embed.FS

func read(name string) []byte {
	b, err := static.ReadFile("static/" + name)
	if err != nil {
		panic(err)
	}
	return b
}

// entry is one processed frame.
type entry struct {
	img  *image.RGBA
	meta Metadata
}

type WebServer struct {
	logger    golog.Logger
	cond      sync.Cond
	images    [30 * 3]*entry // 3 seconds worth of images at 30fps.
	lastIndex int            // Index of the most recent image.
}

func (s *WebServer) AddImg(e *entry) {
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	s.lastIndex = (s.lastIndex + 1) % len(s.images)
	s.images[s.lastIndex] = e
	s.cond.Broadcast()
}

func StartWebServer(port int, logger golog.Logger) *WebServer {
	w := &WebServer{
		logger:    logger,
		cond:      *sync.NewCond(&sync.Mutex{}),
		lastIndex: -1,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", w.root)
	mux.HandleFunc("/favicon.ico", still)
	mux.HandleFunc("/still.png", still)
	mux.HandleFunc("/still16.png", still16)
	mux.HandleFunc("/stats", stats)
	mux.Handle("/stream", websocket.Handler(w.stream))
	logger.Infof("Listening on %d", port)
	go func() {
		if err := http.ListenAndServe(fmt.Sprintf(":%d", port), loggingHandler{mux, logger}); err != nil {
			logger.Errorw("http server stopped", "error", err)
		}
	}()
	go func() {
		<-interrupt.Channel
		w.cond.Broadcast()
	}()
	return w
}

func (s *WebServer) root(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not Found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/html")
	if _, err := w.Write(read("root.html")); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// still sends the last visualization.
func still(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	currentState.lock.Lock()
	img := currentState.Img
	currentState.lock.Unlock()
	if img == nil {
		http.Error(w, "No frame yet", http.StatusServiceUnavailable)
		return
	}
	// img is never modified once published.
	if err := png.Encode(w, img); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// still16 sends the last depth as a 16 bits PNG.
func still16(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	currentState.lock.Lock()
	defer currentState.lock.Unlock()
	if currentState.Depth == nil {
		http.Error(w, "No frame yet", http.StatusServiceUnavailable)
		return
	}
	if err := png.Encode(w, currentState.Depth); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type statsResponse struct {
	Meta     Metadata
	Source   sensor.Stats
	LastFail string
	Channel  pipeline.Stats
}

func stats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	currentState.lock.Lock()
	resp := statsResponse{
		Meta:    currentState.Meta,
		Source:  currentState.Source,
		Channel: currentState.Channel,
	}
	currentState.lock.Unlock()
	if resp.Source.LastFail != nil {
		resp.LastFail = resp.Source.LastFail.Error()
	}
	resp.Source.LastFail = nil
	if err := json.NewEncoder(w).Encode(&resp); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// stream sends all images as PNG in WebSocket frames.
func (s *WebServer) stream(w *websocket.Conn) {
	s.logger.Debugw("websocket", "remote", w.Request().RemoteAddr)
	defer w.Close()
	buf := &bytes.Buffer{}
	s.cond.L.Lock()
	defer s.cond.L.Unlock()
	lastIndex := s.lastIndex
	for !interrupt.IsSet() {
		s.cond.Wait()
		for !interrupt.IsSet() && lastIndex != s.lastIndex {
			lastIndex = (lastIndex + 1) % len(s.images)
			e := s.images[lastIndex]
			s.cond.L.Unlock()
			// Do the actual I/O without the lock.
			err := send(w, buf, e)
			s.cond.L.Lock()
			// To break out of the loop, the lock must be held.
			if err != nil {
				s.logger.Debugw("websocket closed", "error", err)
				return
			}
		}
	}
}

// send writes frame I for the image then frame M for the metadata.
func send(w *websocket.Conn, buf *bytes.Buffer, e *entry) error {
	defer buf.Reset()
	buf.WriteString("I")
	encoder := base64.NewEncoder(base64.StdEncoding, buf)
	if err := png.Encode(encoder, e.img); err != nil {
		return err
	}
	encoder.Close()
	if _, err := w.Write(buf.Bytes()); err != nil {
		return err
	}
	buf.Reset()
	buf.WriteString("M")
	if err := json.NewEncoder(buf).Encode(&e.meta); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// Private details.

type loggingHandler struct {
	handler http.Handler
	logger  golog.Logger
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

// ServeHTTP logs each HTTP request at debug level.
func (l loggingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
	l.handler.ServeHTTP(lrw, r)
	l.logger.Debugw("http", "remote", r.RemoteAddr, "status", lrw.status, "bytes", lrw.length, "method", r.Method, "uri", r.RequestURI)
}
