/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/julienschmidt/httprouter"
)

const uploadField = "image"

type uploadResponse struct {
	Success  bool   `json:"success"`
	ImageURL string `json:"imageUrl"`
	Filename string `json:"filename"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// serveUpload stores a single multipart image and replies with the URL it
// will be served from. Lobbies learn about the image separately, through
// an uploadImage websocket message carrying that URL.
func serveUpload(cfg *Config, errs chan<- error) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Access-Control-Allow-Origin", "*")

		r.Body = http.MaxBytesReader(w, r.Body, cfg.uploadLimit)

		file, header, err := r.FormFile(uploadField)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(cfg, w, http.StatusRequestEntityTooLarge, errorResponse{Error: "Image exceeds " + humanReadableSize(cfg.uploadLimit)}, errs)
				return
			}

			writeJSON(cfg, w, http.StatusBadRequest, errorResponse{Error: "No image uploaded"}, errs)
			return
		}
		defer file.Close()

		mtype, err := mimetype.DetectReader(file)
		if err != nil || !strings.HasPrefix(mtype.String(), "image/") {
			writeJSON(cfg, w, http.StatusBadRequest, errorResponse{Error: "Only image files are allowed"}, errs)
			return
		}

		if _, err := file.Seek(0, io.SeekStart); err != nil {
			writeJSON(cfg, w, http.StatusInternalServerError, errorResponse{Error: "Upload failed"}, errs)
			errs <- err
			return
		}

		name := storedName(startTime, header.Filename, mtype)

		written, err := saveUpload(cfg.uploadDir, name, file)
		if err != nil {
			writeJSON(cfg, w, http.StatusInternalServerError, errorResponse{Error: "Upload failed"}, errs)
			errs <- err
			return
		}

		writeJSON(cfg, w, http.StatusOK, uploadResponse{
			Success:  true,
			ImageURL: uploadURL(cfg, r, name),
			Filename: name,
		}, errs)

		logf(cfg, "UPLOAD: %s (%s, %s) from %s in %s",
			name,
			mtype.String(),
			humanReadableSize(written),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func saveUpload(dir, name string, src io.Reader) (int64, error) {
	path := filepath.Join(dir, name)

	dst, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return 0, err
	}

	written, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}

	return written, nil
}

// serveUploads serves stored images from the upload directory.
func serveUploads(cfg *Config) httprouter.Handle {
	files := http.FileServer(http.Dir(cfg.uploadDir))

	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		securityHeaders(cfg, w)
		w.Header().Set("Cache-Control", "public, max-age=86400")

		path := p.ByName("filepath")
		if path == "/" {
			http.NotFound(w, r)
			return
		}

		r.URL.Path = path
		files.ServeHTTP(w, r)
	}
}

func registerUploads(cfg *Config, mux *httprouter.Router) error {
	if err := os.MkdirAll(cfg.uploadDir, 0o755); err != nil {
		return err
	}

	mux.GET(cfg.prefix+"/uploads/*filepath", serveUploads(cfg))

	return nil
}
