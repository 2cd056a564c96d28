// Package statusz exposes a small stdlib net/http status endpoint — the
// teacher's Gin-based /health handler adapted onto the standard library,
// since this service's client-facing protocol is raw framed TCP rather
// than HTTP and doesn't warrant pulling in a web framework.
package statusz

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/relaychat/coordinator/internal/cluster"
)

type statusResponse struct {
	Role      string `json:"role"`
	Term      uint64 `json:"term"`
	PrimaryID string `json:"primary_id"`
	ServerID  string `json:"server_id"`
}

// NewServer builds an *http.Server exposing GET /status on addr, reporting
// r's current role/term/primary so an operator or load balancer can check
// cluster health without speaking the chat wire protocol.
func NewServer(addr string, r *cluster.Replicator) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, req *http.Request) {
		role, term, primaryID, serverID := r.Status()
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(statusResponse{
			Role:      role,
			Term:      term,
			PrimaryID: primaryID,
			ServerID:  serverID,
		})
	})
	return &http.Server{
		Addr:              addr,
		Handler:           logRequests(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// logRequests is the middleware.Logger pattern carried over from the
// teacher's Gin middleware, reimplemented for stdlib http.Handler.
func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("statusz: %s %s %s", r.Method, r.URL.Path, time.Since(start))
	})
}
