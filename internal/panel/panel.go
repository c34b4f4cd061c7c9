package panel

import (
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web/*
var content embed.FS

// contentSecurityPolicy limits the console to its own assets, the REST API
// and the WebSocket on the same origin.
const contentSecurityPolicy = "default-src 'self'; connect-src 'self' ws: wss:; img-src 'self' data:"

// Handler returns an http.Handler that serves the operator console.
//
// When dir names an existing directory, assets are read from disk so the
// console can be edited without rebuilding. Otherwise the embedded copy is
// served. Paths without a file extension fall back to index.html; missing
// assets return 404.
//
// The handler expects to be mounted with the mount prefix already stripped.
// Panics if the embedded assets cannot be loaded (build error).
func Handler(dir string) http.Handler {
	assets := assetFS(dir)
	fileServer := http.FileServerFS(assets)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Cache-Control", "no-cache, must-revalidate")
		h.Set("Content-Security-Policy", contentSecurityPolicy)
		h.Set("X-Content-Type-Options", "nosniff")

		name := strings.TrimPrefix(path.Clean("/"+r.URL.Path), "/")
		if name == "" {
			fileServer.ServeHTTP(w, r)
			return
		}

		if _, err := fs.Stat(assets, name); err != nil {
			if path.Ext(name) != "" {
				http.NotFound(w, r)
				return
			}
			// Console views have no extension; all render from index.html.
			r = r.Clone(r.Context())
			r.URL.Path = "/"
		}
		fileServer.ServeHTTP(w, r)
	})
}

func assetFS(dir string) fs.FS {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return os.DirFS(dir)
		}
	}

	sub, err := fs.Sub(content, "web")
	if err != nil {
		panic(fmt.Sprintf("panel: failed to load embedded web assets: %v", err))
	}
	return sub
}
