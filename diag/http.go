// Package diag exposes the allocator's statistics over HTTP: a JSON debug
// server for inspection and a plain-text metrics endpoint for scrapers. Both
// servers are diagnostics bolted onto the side of the bridge; nothing in the
// allocation path depends on them.
package diag

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"time"

	"github.com/orizon-lang/tiermem/bridge"
)

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func debugMux(b *bridge.Bridge) *http.ServeMux {
	mux := http.NewServeMux()

	// Pool counters
	mux.HandleFunc("/memory/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := b.Statistics()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, stats)
	})

	// Ledger counters, including per-tag totals
	mux.HandleFunc("/memory/tracker", func(w http.ResponseWriter, r *http.Request) {
		stats, err := b.TrackerStatistics()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, stats)
	})

	// Leak check; also dumps live allocations to the log when any exist
	mux.HandleFunc("/memory/leaks", func(w http.ResponseWriter, r *http.Request) {
		ts, err := b.TrackerStatistics()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		leaking := b.DetectLeaks()
		writeJSON(w, map[string]interface{}{
			"leaks":      leaking,
			"live":       ts.TotalAllocations - ts.TotalDeallocations,
			"bytes_live": ts.CurrentAllocated,
			"by_tag":     ts.AllocationsByTag,
		})
	})

	// Full state dump to the log
	mux.HandleFunc("/memory/dump", func(w http.ResponseWriter, r *http.Request) {
		if err := b.DumpState(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		writeJSON(w, map[string]string{"status": "dumped"})
	})

	// Human-readable text report
	mux.HandleFunc("/memory/report", func(w http.ResponseWriter, r *http.Request) {
		stats, err := b.Statistics()
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte(stats.DetailedReport()))
		_, _ = w.Write([]byte("\n"))
		_, _ = w.Write([]byte(b.AllocatorStats()))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]interface{}{
			"status":      "ok",
			"initialized": b.Initialized(),
		})
	})

	return mux
}

// StartDebugHTTP serves the debug endpoints for b on addr:
//
//	GET /memory/stats    -> pool statistics as JSON
//	GET /memory/tracker  -> ledger statistics as JSON
//	GET /memory/leaks    -> leak summary as JSON
//	GET /memory/dump     -> dumps pool and ledger state to the log
//	GET /memory/report   -> plain-text statistics report
//	GET /healthz         -> liveness and initialization state
//
// It returns a shutdown function compatible with http.Server.Shutdown.
func StartDebugHTTP(b *bridge.Bridge, addr string) (func(ctx context.Context) error, error) {
	server := &http.Server{Addr: addr, Handler: debugMux(b), ReadHeaderTimeout: 3 * time.Second}
	go func() { _ = server.ListenAndServe() }()
	return server.Shutdown, nil
}

// StartDebugHTTPOn is StartDebugHTTP on an explicit listener, returning the
// bound address as well; useful when addr ends in :0.
func StartDebugHTTPOn(b *bridge.Bridge, addr string) (shutdown func(ctx context.Context) error, boundAddr string, err error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, "", err
	}
	server := &http.Server{Handler: debugMux(b), ReadHeaderTimeout: 3 * time.Second}
	go func() { _ = server.Serve(ln) }()
	return server.Shutdown, ln.Addr().String(), nil
}
