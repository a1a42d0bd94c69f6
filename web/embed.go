// Package web embeds the chat page and puzzle images (dist/) and serves them
// as a single-page application. Puzzle placeholders are written into
// dist/puzzles by cmd/placeholders.
package web

import (
	"embed"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
)

//go:embed all:dist
var distFS embed.FS

const puzzlePrefix = "puzzles/"

// SPAHandler serves files from dist/. Unknown paths get index.html so
// client-side routes resolve, except under puzzles/ where a missing image is
// a plain 404.
func SPAHandler() http.Handler {
	subFS, err := fs.Sub(distFS, "dist")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}
	return newSPA(subFS)
}

func newSPA(root fs.FS) http.Handler {
	fileServer := http.FileServer(http.FS(root))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/")
		if path == "" {
			path = "index.html"
		}

		if exists(root, path) {
			if strings.HasPrefix(path, puzzlePrefix) {
				w.Header().Set("Cache-Control", "public, max-age=86400")
			} else {
				w.Header().Set("Cache-Control", "no-cache")
			}
			fileServer.ServeHTTP(w, r)
			return
		}

		if strings.HasPrefix(path, puzzlePrefix) {
			slog.Debug("web: missing puzzle asset", "path", path)
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Cache-Control", "no-cache")
		r.URL.Path = "/"
		fileServer.ServeHTTP(w, r)
	})
}

func exists(root fs.FS, path string) bool {
	f, err := root.Open(path)
	if err != nil {
		return false
	}
	if closeErr := f.Close(); closeErr != nil {
		slog.Debug("web: failed to close embedded file", "path", path, "error", closeErr)
	}
	return true
}
