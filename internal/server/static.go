package server

import (
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// wpGarbageRe matches scanner probes for CMS paths that have nothing to
// do with this service.
var wpGarbageRe = regexp.MustCompile(`(?i)^/(wp-|wp/|wordpress/|blog/|cms/|site/|wp-includes/|wp-admin/|wp-content/|xmlrpc\.php|.*wlwmanifest\.xml)`)

// handleStatic serves the built web client with SPA index fallback.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if wpGarbageRe.MatchString(r.URL.Path) {
		w.WriteHeader(http.StatusGone)
		return
	}
	if strings.HasPrefix(r.URL.Path, "/api") {
		s.respondWithError(w, r, http.StatusNotFound, "Not found", nil)
		return
	}

	staticDir := s.cfg.Server.StaticDir
	requested := filepath.Join(staticDir, filepath.Clean("/"+r.URL.Path))
	if info, err := os.Stat(requested); err == nil && !info.IsDir() {
		http.ServeFile(w, r, requested)
		return
	}
	index := filepath.Join(staticDir, "index.html")
	if _, err := os.Stat(index); err != nil {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, index)
}
