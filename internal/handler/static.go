// Package handler contains the HTTP request handlers of the video service.
//
// WHAT IS A HANDLER?
// In Go, an HTTP handler is anything that implements http.Handler:
//
//	type Handler interface {
//	    ServeHTTP(ResponseWriter, *Request)
//	}
//
// Most handlers here are methods with the http.HandlerFunc signature, which
// chi's router accepts directly.
//
// HANDLER RESPONSIBILITIES:
//  1. Parse the incoming HTTP request (path params, query, JSON or multipart body)
//  2. Call the service layer
//  3. Write the response: JSON envelope on success, writeError on failure
//
// Handlers hold no business rules. Every decision about accounts, videos
// and uploads is made in package service.
package handler

import (
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
)

// StaticHandler serves the browser front-end from a directory on disk.
type StaticHandler struct {
	dir    string
	files  http.Handler
	logger *slog.Logger
}

func NewStaticHandler(dir string, logger *slog.Logger) *StaticHandler {
	return &StaticHandler{
		dir:    dir,
		files:  http.StripPrefix("/static/", http.FileServer(http.Dir(dir))),
		logger: logger,
	}
}

// HandleIndex serves index.html.
//
// HTTP: GET /
func (h *StaticHandler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, "index.html")
}

// HandleUploadPage serves the upload form.
//
// HTTP: GET /upload
func (h *StaticHandler) HandleUploadPage(w http.ResponseWriter, r *http.Request) {
	h.servePage(w, r, "upload.html")
}

// HandleStatic serves everything under /static/.
//
// HTTP: GET /static/*
func (h *StaticHandler) HandleStatic(w http.ResponseWriter, r *http.Request) {
	h.files.ServeHTTP(w, r)
}

func (h *StaticHandler) servePage(w http.ResponseWriter, r *http.Request, name string) {
	path := filepath.Join(h.dir, name)
	if _, err := os.Stat(path); err != nil {
		h.logger.Warn("front-end page missing", slog.String("path", path))
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	http.ServeFile(w, r, path)
}
