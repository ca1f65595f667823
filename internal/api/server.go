// Package api exposes the packing station over HTTP. The handlers hold no
// state of their own: scans go through the engine's queue and everything
// else reads the ledger.
package api

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/kitoko/packline/internal/engine"
	"github.com/kitoko/packline/internal/ledger"
	"github.com/kitoko/packline/internal/order"
	"github.com/kitoko/packline/internal/report"
)

// maxBodyBytes bounds request bodies. Scans are small; imports carry a full
// history snapshot and get more headroom.
const (
	maxScanBody   = 8 << 10
	maxImportBody = 8 << 20
)

// Server wires the HTTP facade to the engine and the ledger.
type Server struct {
	engine *engine.Engine
	ledger *ledger.Ledger
}

func NewServer(e *engine.Engine, l *ledger.Ledger) *Server {
	return &Server{engine: e, ledger: l}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	r.HandleFunc("/state", s.handleState).Methods(http.MethodGet)
	r.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
	r.HandleFunc("/history.csv", s.handleHistoryCSV).Methods(http.MethodGet)
	r.HandleFunc("/history/import", s.handleImport).Methods(http.MethodPost)
	r.HandleFunc("/history", s.handleClear).Methods(http.MethodDelete)
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type scanRequest struct {
	Raw string `json:"raw"`
}

// handleScan enqueues a raw scan. 202 means accepted for processing, not
// processed: the outcome arrives through the engine's event stream.
func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	var req scanRequest
	body := http.MaxBytesReader(w, r.Body, maxScanBody)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid scan request body")
		return
	}
	if req.Raw == "" {
		writeError(w, http.StatusBadRequest, "raw payload required")
		return
	}

	if !s.engine.Scan(req.Raw) {
		writeError(w, http.StatusServiceUnavailable, "engine stopped")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]int{"queued": s.engine.QueueLen()})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.ledger.Snapshot(r.Context())
	if err != nil {
		slog.Error("history read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if history == nil {
		history = []order.PackedOrder{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleHistoryCSV(w http.ResponseWriter, r *http.Request) {
	history, err := s.ledger.Snapshot(r.Context())
	if err != nil {
		slog.Error("history read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="packed_orders.csv"`)
	io.WriteString(w, report.BuildCSV(history))
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	var orders []order.PackedOrder
	body := http.MaxBytesReader(w, r.Body, maxImportBody)
	if err := json.NewDecoder(body).Decode(&orders); err != nil {
		writeError(w, http.StatusBadRequest, "invalid import body")
		return
	}
	if err := s.ledger.Import(r.Context(), orders); err != nil {
		slog.Error("history import failed", "error", err)
		writeError(w, http.StatusInternalServerError, "import failed")
		return
	}
	slog.Info("history imported", "orders", len(orders))
	writeJSON(w, http.StatusOK, map[string]int{"imported": len(orders)})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.ledger.Clear(r.Context()); err != nil {
		slog.Error("history clear failed", "error", err)
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	slog.Info("history cleared")
	w.WriteHeader(http.StatusNoContent)
}

// Serve runs the HTTP facade until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router()}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	slog.Info("http facade listening", "addr", addr)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
