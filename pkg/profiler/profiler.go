package profiler

import (
	"net/http/pprof"

	"net/http"
)

// DefaultDebugAddress is the local-only address fleetd's debug/stats+pprof
// server binds to.
const DefaultDebugAddress = "localhost:19841"

// RegisterPprof attaches the standard pprof handlers to mux so a single
// debug server can serve profiling alongside application-specific debug
// routes (stats, health) instead of pprof claiming its own listener.
func RegisterPprof(mux *http.ServeMux) {
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
}
