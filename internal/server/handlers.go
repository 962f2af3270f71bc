package server

import (
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/conneroisu/servedir/internal/fstree"
)

// handleFile answers GET and HEAD for any path in the tree
func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx := r.Context()
	node, err := s.tree.Traverse(strings.TrimPrefix(r.URL.Path, "/"))
	if err != nil {
		s.logger.Warn(ctx, err, "404 "+r.URL.Path)
		http.NotFound(w, r)
		return
	}

	// Listings link to their entries relatively
	if _, ok := node.(*fstree.Directory); ok && !strings.HasSuffix(r.URL.Path, "/") {
		target := r.URL.EscapedPath() + "/"
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusMovedPermanently)
		return
	}

	src := fstree.Resolve(ctx, node, s.tree.Plugins())
	etag := src.ETag()

	header := w.Header()
	header.Set("Content-Type", src.Type())
	header.Set("ETag", etag)
	header.Set("Cache-Control", "no-cache")
	if match := r.Header.Get("If-None-Match"); match != "" && etagMatches(match, etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	header.Set("Content-Length", strconv.FormatInt(src.Length(), 10))
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}
	if _, err := io.Copy(w, src.Raw()); err != nil {
		s.logger.Debug(ctx, "Client went away", "path", r.URL.Path, "error", err)
	}
}

// etagMatches evaluates an If-None-Match header against etag
func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// urlPath maps an absolute filesystem path below root to the URL serving it
func urlPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "/"
	}
	if rel == "." {
		return "/"
	}
	return "/" + filepath.ToSlash(rel)
}

const reloadScript = `(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var socket = new WebSocket(proto + location.host + "/_servedir/ws");
  socket.onmessage = function (event) {
    var msg = JSON.parse(event.data);
    if (msg.type !== "reload") return;
    var here = decodeURIComponent(location.pathname);
    if (!msg.path || here === msg.path || here.replace(/\/$/, "") === msg.path.replace(/\/[^\/]*$/, "")) {
      location.reload();
    }
  };
})();
`

// handleReloadScript serves a client that reloads the page when the file
// it shows, or the directory it lists, changes
func (s *Server) handleReloadScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Content-Length", strconv.Itoa(len(reloadScript)))
	if r.Method == http.MethodHead {
		return
	}
	io.WriteString(w, reloadScript)
}
