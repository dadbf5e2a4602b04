package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/capture"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/payload"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/scanner"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/service"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/store"
	"github.com/BrandonDHaskell/Rollcall/server/internal/rollcall/types"
)

const (
	xlsxContentType     = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	defaultSessionLimit = 20
)

// Scanner is the part of scanner.Loop the API drives.
type Scanner interface {
	Start(ctx context.Context) error
	Stop() error
	Status() types.ScannerStatus
}

type Dependencies struct {
	Logger      *slog.Logger
	Addr        string
	Book        *service.Book
	ScanService *service.ScanService
	Exporter    *service.Exporter

	// Scanner and Sessions are optional. Without a scanner the
	// /v1/scanner endpoints answer 503.
	Scanner  Scanner
	Sessions store.SessionStore
}

type Server struct {
	httpServer  *http.Server
	logger      *slog.Logger
	router      *mux.Router
	book        *service.Book
	scanService *service.ScanService
	exporter    *service.Exporter
	scanner     Scanner
	sessions    store.SessionStore
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	router := mux.NewRouter()

	s := &Server{
		logger:      logger,
		router:      router,
		book:        d.Book,
		scanService: d.ScanService,
		exporter:    d.Exporter,
		scanner:     d.Scanner,
		sessions:    d.Sessions,
	}

	router.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	v1.HandleFunc("/attendance", s.handleList).Methods(http.MethodGet)
	v1.HandleFunc("/attendance", s.handleClear).Methods(http.MethodDelete)
	v1.HandleFunc("/attendance/export", s.handleExport).Methods(http.MethodGet)
	v1.HandleFunc("/scanner/start", s.handleScannerStart).Methods(http.MethodPost)
	v1.HandleFunc("/scanner/stop", s.handleScannerStop).Methods(http.MethodPost)
	v1.HandleFunc("/scanner/status", s.handleScannerStatus).Methods(http.MethodGet)
	v1.HandleFunc("/scanner/sessions", s.handleScannerSessions).Methods(http.MethodGet)

	// Subrouters do not inherit these from the root router.
	for _, rt := range []*mux.Router{router, v1} {
		rt.NotFoundHandler = http.HandlerFunc(handleNotFound)
		rt.MethodNotAllowedHandler = http.HandlerFunc(handleMethodNotAllowed)
	}

	handler := requestIDMiddleware(loggingMiddleware(logger, router))

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusNotFound, "not_found", "no such route")
}

func handleMethodNotAllowed(w http.ResponseWriter, r *http.Request) {
	writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", r.Method+" not allowed on "+r.URL.Path)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ── Scans ────────────────────────────────────────────────────────────────────

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	asProto := isProtobuf(r)

	var req types.ScanRequest
	if asProto {
		var msg wrapperspb.StringValue
		if err := readProto(r, &msg); err != nil {
			writeError(w, http.StatusBadRequest, "bad_protobuf", "invalid protobuf body")
			return
		}
		req = scanRequestFromProto(&msg)
	} else {
		dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
		dec.DisallowUnknownFields()

		if err := dec.Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "bad_json", "invalid JSON body")
			return
		}
	}

	resp, err := s.scanService.Process(r.Context(), req.Payload)
	status := http.StatusCreated
	if err != nil {
		switch {
		case errors.Is(err, payload.ErrMalformed):
			status = http.StatusBadRequest
		case errors.Is(err, service.ErrDuplicate):
			status = http.StatusConflict
		default:
			s.logError(r, "scan error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
	}

	if asProto {
		msg, err := scanResponseToProto(resp)
		if err != nil {
			s.logError(r, "scan response encode error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		writeProto(w, status, msg)
		return
	}
	writeJSON(w, status, resp)
}

// ── Attendance ───────────────────────────────────────────────────────────────

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	today, _ := strconv.ParseBool(r.URL.Query().Get("today"))

	var records []types.AttendanceRecord
	if today {
		records = s.book.Today()
	} else {
		records = s.book.List()
	}
	if records == nil {
		records = []types.AttendanceRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	confirmed, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))

	removed, err := s.book.Clear(r.Context(), confirmed)
	if err != nil {
		if errors.Is(err, service.ErrNotConfirmed) {
			writeError(w, http.StatusBadRequest, "confirmation_required",
				"clearing all attendance records requires confirm=true")
			return
		}
		s.logError(r, "clear error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "removed": removed})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if _, err := s.exporter.Write(r.Context(), &buf); err != nil {
		if errors.Is(err, service.ErrNoRecords) {
			writeError(w, http.StatusNotFound, "no_records", "No attendance data to export.")
			return
		}
		s.logError(r, "export error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		return
	}

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", s.exporter.FileName()))
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// ── Scanner ──────────────────────────────────────────────────────────────────

func (s *Server) handleScannerStart(w http.ResponseWriter, r *http.Request) {
	if !s.requireScanner(w) {
		return
	}

	if err := s.scanner.Start(r.Context()); err != nil {
		switch {
		case errors.Is(err, scanner.ErrAlreadyRunning):
			writeError(w, http.StatusConflict, "already_running", err.Error())
		case errors.Is(err, capture.ErrDeviceUnavailable):
			writeError(w, http.StatusServiceUnavailable, "device_unavailable", err.Error())
		default:
			s.logError(r, "scanner start error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
		}
		return
	}

	writeJSON(w, http.StatusOK, s.scanner.Status())
}

func (s *Server) handleScannerStop(w http.ResponseWriter, r *http.Request) {
	if !s.requireScanner(w) {
		return
	}

	if err := s.scanner.Stop(); err != nil {
		// The loop is stopped even when releasing the device fails.
		s.logger.WarnContext(r.Context(), "scanner stop", "error", err, "request_id", requestIDFrom(r.Context()))
	}
	writeJSON(w, http.StatusOK, s.scanner.Status())
}

func (s *Server) handleScannerStatus(w http.ResponseWriter, r *http.Request) {
	if !s.requireScanner(w) {
		return
	}
	writeJSON(w, http.StatusOK, s.scanner.Status())
}

func (s *Server) handleScannerSessions(w http.ResponseWriter, r *http.Request) {
	limit := defaultSessionLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a positive integer")
			return
		}
		limit = n
	}

	sessions := []store.SessionRecord{}
	if s.sessions != nil {
		got, err := s.sessions.RecentSessions(r.Context(), limit)
		if err != nil {
			s.logError(r, "sessions error", err)
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected server error")
			return
		}
		if got != nil {
			sessions = got
		}
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) requireScanner(w http.ResponseWriter) bool {
	if s.scanner == nil {
		writeError(w, http.StatusServiceUnavailable, "scanner_disabled", "no scanner configured")
		return false
	}
	return true
}

func (s *Server) logError(r *http.Request, msg string, err error) {
	s.logger.ErrorContext(r.Context(), msg, "error", err, "request_id", requestIDFrom(r.Context()))
}
