package server

import (
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"strings"
)

// newSPAHandler serves the built player frontend from dir. Paths that do not
// name a file fall back to index.html so client-side routes survive a reload.
func newSPAHandler(dir string) (http.Handler, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("web root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("web root %s is not a directory", dir)
	}
	staticFS := os.DirFS(dir)
	index, err := fs.ReadFile(staticFS, "index.html")
	if err != nil {
		return nil, fmt.Errorf("read web index: %w", err)
	}
	return spaHandler(staticFS, index, http.FileServer(http.FS(staticFS))), nil
}

func spaHandler(staticFS fs.FS, index []byte, fileServer http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			methodNotAllowedHandler(w, r)
			return
		}
		if strings.HasPrefix(r.URL.Path, "/api/") {
			notFoundHandler(w, r)
			return
		}

		requested := strings.TrimPrefix(r.URL.Path, "/")
		if requested != "" && fs.ValidPath(requested) {
			info, err := fs.Stat(staticFS, requested)
			switch {
			case err == nil && !info.IsDir():
				fileServer.ServeHTTP(w, r)
				return
			case err != nil && !errors.Is(err, fs.ErrNotExist):
				writeMiddlewareError(w, http.StatusInternalServerError, "internal server error")
				return
			}
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write(index)
	}
}
