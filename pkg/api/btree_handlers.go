package api

import (
	"net/http"

	"github.com/coldtree/coldtree/pkg/btree"
)

// SetFilesystem wires the update engine's context object into the server
// so the admin/introspection routes can read its state. It's optional:
// a Server with no filesystem set (e.g. in tests that only exercise the
// KV routes) serves handleBtreeStats as a 404 rather than panicking.
func (s *Server) SetFilesystem(fs *btree.Filesystem) {
	s.fs = fs
}

// handleBtreeStats godoc
//
//	@Summary		Btree engine stats
//	@Description	Get a point-in-time snapshot of the update engine's state: registered roots, in-flight updates, and unwritten nodes
//	@Tags			diagnostics
//	@Produce		json
//	@Success		200	{object}	map[string]string
//	@Failure		404	{object}	map[string]string
//	@Security		ApiKeyAuth
//	@Router			/btree/stats [get]
func (s *Server) handleBtreeStats(w http.ResponseWriter, r *http.Request) {
	if s.fs == nil {
		sendError(w, "btree engine not wired into this server", http.StatusNotFound)
		return
	}
	sendSuccess(w, s.fs.Stat())
}
