package distribution

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"

	"github.com/zsiec/marquee/internal/arbiter"
	"github.com/zsiec/marquee/internal/certs"
	textingest "github.com/zsiec/marquee/internal/ingest/text"
	"github.com/zsiec/marquee/internal/live"
	"github.com/zsiec/marquee/internal/media"
	"github.com/zsiec/marquee/internal/queue"
)

// maxBodySize bounds POST /api/messages request bodies.
const maxBodySize = 4096

// MessageQueue is the subset of queue.Queue the API needs.
type MessageQueue interface {
	Enqueue(text, origin string) (*queue.Entry, error)
	Pending() []queue.EntryInfo
}

// ArbiterStats is implemented by arbiter.Arbiter.
type ArbiterStats interface {
	Stats() arbiter.Stats
}

// LiveStats is implemented by live.Source.
type LiveStats interface {
	Stats() live.Stats
}

// IngestStats is implemented by the text ingestion server.
type IngestStats interface {
	Stats() textingest.Stats
}

// Status is the JSON response for GET /api/status.
type Status struct {
	Version  string            `json:"version,omitempty"`
	Geometry string            `json:"geometry"`
	UptimeMs int64             `json:"uptimeMs"`
	Arbiter  arbiter.Stats     `json:"arbiter"`
	Queue    []queue.EntryInfo `json:"queue"`
	Live     live.Stats        `json:"live"`
	Ingest   *textingest.Stats `json:"ingest,omitempty"`
	Relay    RelayStats        `json:"relay"`
}

// MessageRequest is the body of POST /api/messages.
type MessageRequest struct {
	Text string `json:"text"`
}

// MessageResponse is returned for an accepted message. Response carries the
// same verdict the TCP boundary sends.
type MessageResponse struct {
	ID       string `json:"id"`
	Frames   int    `json:"frames"`
	Position int    `json:"position"`
	Response string `json:"response"`
}

// ServerConfig holds the configuration for the API Server.
type ServerConfig struct {
	Addr     string
	Cert     *certs.CertInfo
	Geometry media.Geometry
	Version  string

	// H3 enables StartH3 and the Alt-Svc header on HTTPS responses.
	H3 bool

	Relay   *Relay
	Queue   MessageQueue
	Arbiter ArbiterStats
	Live    LiveStats
	Ingest  IngestStats // optional

	Log *slog.Logger
}

// Server serves the status and submission API over HTTPS and, optionally,
// HTTP/3 on the same port number.
type Server struct {
	config   ServerConfig
	log      *slog.Logger
	started  time.Time
	upgrader websocket.Upgrader

	h3 *http3.Server
}

// NewServer creates an API Server. It returns an error if required fields
// are missing.
func NewServer(config ServerConfig) (*Server, error) {
	switch {
	case config.Cert == nil:
		return nil, errors.New("distribution: Cert is required")
	case config.Addr == "":
		return nil, errors.New("distribution: Addr is required")
	case config.Relay == nil:
		return nil, errors.New("distribution: Relay is required")
	case config.Queue == nil:
		return nil, errors.New("distribution: Queue is required")
	case config.Arbiter == nil:
		return nil, errors.New("distribution: Arbiter is required")
	case config.Live == nil:
		return nil, errors.New("distribution: Live is required")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		config:  config,
		log:     log.With("component", "api"),
		started: time.Now(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  512,
			WriteBufferSize: 4096,
			// Preview is read-only and meant for the local network.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	if config.H3 {
		mux := http.NewServeMux()
		s.registerAPIRoutes(mux, false)
		s.h3 = &http3.Server{
			Addr:      config.Addr,
			Handler:   corsMiddleware(mux),
			TLSConfig: s.tlsConfig(),
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
			},
		}
	}
	return s, nil
}

// registerAPIRoutes registers the REST endpoints. The websocket preview needs
// a hijackable connection and is only served over HTTP/1.1.
func (s *Server) registerAPIRoutes(mux *http.ServeMux, preview bool) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("POST /api/messages", s.handlePostMessage)
	mux.HandleFunc("GET /api/messages", s.handleListMessages)
	mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	if preview {
		mux.HandleFunc("GET /api/preview", s.handlePreview)
	}
}

// APIHandler returns the http.Handler for the HTTPS API.
func (s *Server) APIHandler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux, true)
	return corsMiddleware(s.altSvcMiddleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// altSvcMiddleware advertises HTTP/3 when it is enabled.
func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.h3 != nil {
			_ = s.h3.SetQUICHeaders(w.Header())
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// Status assembles the current status snapshot.
func (s *Server) Status() Status {
	st := Status{
		Version:  s.config.Version,
		Geometry: s.config.Geometry.String(),
		UptimeMs: time.Since(s.started).Milliseconds(),
		Arbiter:  s.config.Arbiter.Stats(),
		Queue:    s.config.Queue.Pending(),
		Live:     s.config.Live.Stats(),
		Relay:    s.config.Relay.Stats(),
	}
	if s.config.Ingest != nil {
		in := s.config.Ingest.Stats()
		st.Ingest = &in
	}
	return st
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Status())
}

func (s *Server) handleListMessages(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.config.Queue.Pending())
}

func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	text := strings.TrimSpace(req.Text)
	origin := remoteHost(r.RemoteAddr)
	entry, err := s.config.Queue.Enqueue(text, origin)
	switch {
	case errors.Is(err, queue.ErrMessageTooLong):
		s.log.Warn("rejecting message", "remote", origin, "chars", utf8.RuneCountInString(text), "error", err)
		writeError(w, http.StatusRequestEntityTooLarge, strings.TrimSpace(textingest.ResponseTooLong))
		return
	case err != nil:
		s.log.Warn("dropping message", "remote", origin, "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, MessageResponse{
		ID:       entry.ID.String(),
		Frames:   entry.Animation.Len(),
		Position: len(s.config.Queue.Pending()),
		Response: strings.TrimSpace(textingest.ResponseAccepted),
	})
}

type certHashResponse struct {
	Hash     string    `json:"hash"`
	NotAfter time.Time `json:"notAfter"`
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash:     s.config.Cert.FingerprintHex(),
		NotAfter: s.config.Cert.NotAfter,
	})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("preview upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	v := newWSViewer(conn, s.log)
	s.config.Relay.AddViewer(v)
	defer s.config.Relay.RemoveViewer(v.ID())

	v.run(r.Context())
}

func (s *Server) tlsConfig() *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{s.config.Cert.TLSCert},
	}
}

// Start serves the HTTPS API and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.APIHandler(),
		TLSConfig:         s.tlsConfig(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
	defer stop()

	s.log.Info("HTTPS API server listening", "addr", s.config.Addr)
	if err := srv.ListenAndServeTLS("", ""); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("API server: %w", err)
	}
	return nil
}

// StartH3 serves the API over HTTP/3 on the same address and blocks until
// ctx is cancelled or the listener fails. The websocket preview is not
// available over HTTP/3.
func (s *Server) StartH3(ctx context.Context) error {
	if s.h3 == nil {
		return errors.New("distribution: HTTP/3 is not enabled")
	}
	s.log.Info("HTTP/3 API server listening", "addr", s.config.Addr)

	stop := context.AfterFunc(ctx, func() { s.h3.Close() })
	defer stop()

	err := s.h3.ListenAndServe()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func remoteHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
