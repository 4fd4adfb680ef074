/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import (
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

func humanReadableSize(bytes int64) string {
	const unit int64 = 1000
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := unit, 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB",
		float64(bytes)/float64(div),
		"kMGTPE"[exp])
}

// storedName builds an upload's on-disk name: <unix millis>-<uuid><ext>.
// The extension comes from the client's filename, falling back to the one
// implied by the sniffed content.
func storedName(now time.Time, original string, mtype *mimetype.MIME) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(original)))
	if ext == "" {
		ext = mtype.Extension()
	}

	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), uuid.NewString(), ext)
}

// baseURL is the scheme and host clients should use to reach this server.
func baseURL(cfg *Config, r *http.Request) string {
	if cfg.publicURL != "" {
		return strings.TrimSuffix(cfg.publicURL, "/")
	}

	scheme := cfg.scheme()
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}

	return scheme + "://" + r.Host
}

func uploadURL(cfg *Config, r *http.Request, name string) string {
	return baseURL(cfg, r) + cfg.prefix + "/uploads/" + name
}
