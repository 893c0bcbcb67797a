// Copyright © 2025 CloudLens Authors, All Rights reserved

package server

import (
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
)

// SPAHandler serves the dashboard build output from a disk directory and
// falls back to index.html for extensionless paths that miss, so client-side
// routes keep working. Misses with an extension (.js, .css, .png) are real
// file requests and return 404 to avoid MIME-type mismatches.
type SPAHandler struct {
	fileServer http.Handler
	filesystem fs.FS
}

// NewSPAHandler creates a handler rooted at dir. The directory is read per
// request so a dashboard rebuild shows up without restarting the gateway.
func NewSPAHandler(dir string) (*SPAHandler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("static dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("static dir %q is not a directory", dir)
	}

	filesystem := os.DirFS(dir)
	return &SPAHandler{
		fileServer: http.FileServer(http.FS(filesystem)),
		filesystem: filesystem,
	}, nil
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	urlPath := r.URL.Path
	if urlPath == "/" {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	filePath := urlPath[1:]
	if _, err := fs.Stat(h.filesystem, filePath); err == nil {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	if path.Ext(urlPath) != "" {
		http.NotFound(w, r)
		return
	}

	// Serve index.html for client-side routing.
	r.URL.Path = "/"
	h.fileServer.ServeHTTP(w, r)
}
