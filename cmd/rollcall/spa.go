package main

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strings"

	rollcallui "github.com/d9705996/rollcall/ui"
)

// registerSPA mounts the embedded web shell.
// All non-API, non-metrics GET requests are served from ui/dist.
// Unknown routes fall back to index.html to support client-side routing.
func registerSPA(mux *http.ServeMux) error {
	sub, err := fs.Sub(rollcallui.FS, "dist")
	if err != nil {
		return err
	}
	mux.Handle("GET /", newSPAHandler(sub))
	return nil
}

func newSPAHandler(fsys fs.FS) spaHandler {
	return spaHandler{fsys: fsys, files: http.FileServer(http.FS(fsys))}
}

// spaHandler serves static files and falls back to index.html for unknown paths
// (enabling client-side routing in the SPA).
type spaHandler struct {
	fsys  fs.FS
	files http.Handler
}

func (s spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
	if name == "" {
		name = "."
	}
	if _, err := fs.Stat(s.fsys, name); errors.Is(err, fs.ErrNotExist) {
		http.ServeFileFS(w, r, s.fsys, "index.html")
		return
	}
	s.files.ServeHTTP(w, r)
}
