// Package server exposes a player engine over HTTP: a control API, the
// owned audio blobs behind its object URLs, and a websocket event stream.
package server

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/bosley/callplay/fieldmap"
	"github.com/bosley/callplay/player"
	"github.com/bosley/callplay/resolver"
	"github.com/bosley/callplay/transcript"
)

const maxBodyBytes = 64 << 20

// Config for the HTTP server.
type Config struct {
	// HTTP server address
	Addr string

	// Certificate files for TLS; plain HTTP when empty
	CertFile string
	KeyFile  string

	// Token, when set, is required as a bearer token on /api and /ws.
	Token string
}

// Server serves one engine.
type Server struct {
	config   Config
	engine   *player.Engine
	hub      *Hub
	router   *mux.Router
	server   *http.Server
	upgrader websocket.Upgrader
}

// New wires routes for engine. hub must be the engine's emitter for /ws to
// carry its events.
func New(cfg Config, engine *player.Engine, hub *Hub) *Server {
	s := &Server{
		config: cfg,
		engine: engine,
		hub:    hub,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	router := mux.NewRouter()

	api := router.PathPrefix("/api").Subrouter()
	api.Use(s.authenticate)
	api.HandleFunc("/state", s.handleState).Methods("GET")
	api.HandleFunc("/segments", s.handleSegments).Methods("GET")
	api.HandleFunc("/segments/active", s.handleActiveSegment).Methods("GET")
	api.HandleFunc("/source", s.handleSource).Methods("POST")
	api.HandleFunc("/transcript", s.handleTranscript).Methods("PUT")
	api.HandleFunc("/mapping", s.handleMapping).Methods("PUT")
	api.HandleFunc("/play", s.handlePlay).Methods("POST")
	api.HandleFunc("/pause", s.handlePause).Methods("POST")
	api.HandleFunc("/seek/{index:[0-9]+}", s.handleSeek).Methods("POST")
	api.HandleFunc("/speed", s.handleSpeed).Methods("POST")
	api.HandleFunc("/transcript/visible", s.handleVisible).Methods("POST")
	api.HandleFunc("/tick", s.handleTick).Methods("POST")
	api.HandleFunc("/ended", s.handleEnded).Methods("POST")
	api.HandleFunc("/media-error", s.handleMediaError).Methods("POST")

	router.Handle("/ws", s.authenticate(http.HandlerFunc(s.handleWebSocket)))
	router.HandleFunc("/blob/{id}", s.handleBlob).Methods("GET", "HEAD")

	s.router = router
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if s.config.CertFile != "" && s.config.KeyFile != "" {
			err = s.server.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
		} else {
			slog.Warn("Serving without TLS", "addr", s.config.Addr)
			err = s.server.ListenAndServe()
		}
		if err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("HTTP server listening", "addr", s.config.Addr)

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.hub.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.Token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got := r.Header.Get("Authorization")
		if got == "" {
			// Browsers cannot set headers on websocket upgrades.
			got = "Bearer " + r.URL.Query().Get("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte("Bearer "+s.config.Token)) != 1 {
			slog.Warn("Invalid token received", "remoteAddr", r.RemoteAddr, "path", r.URL.Path)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type sourceRequest struct {
	AudioURL          string `json:"audioUrl"`
	AudioBinaryString string `json:"audioBinaryString"`
	MIMEType          string `json:"mimeType"`
}

type mappingRequest struct {
	Time     string `json:"time"`
	Duration string `json:"duration"`
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
}

type speedRequest struct {
	Speed float64 `json:"speed"`
}

type visibleRequest struct {
	IsVisible bool `json:"isVisible"`
}

type tickRequest struct {
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
}

type mediaErrorRequest struct {
	Message string `json:"message"`
}

type segmentView struct {
	transcript.Segment
	Index int    `json:"index"`
	Label string `json:"label"`
	Role  string `json:"role"`
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleSegments(w http.ResponseWriter, r *http.Request) {
	segments := s.engine.Segments()
	views := make([]segmentView, len(segments))
	for i, seg := range segments {
		views[i] = viewOf(i, seg)
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleActiveSegment(w http.ResponseWriter, r *http.Request) {
	snap := s.engine.Snapshot()
	seg, ok := s.engine.ActiveSegment()
	if !ok || snap.ActiveSegment == nil {
		http.Error(w, "No active segment", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(*snap.ActiveSegment, seg))
}

func viewOf(i int, seg transcript.Segment) segmentView {
	return segmentView{Segment: seg, Index: i, Label: seg.Label(), Role: seg.Role()}
}

func (s *Server) handleSource(w http.ResponseWriter, r *http.Request) {
	var req sourceRequest
	if !readJSON(w, r, &req) {
		return
	}
	err := s.engine.SetSource(r.Context(), req.AudioURL, req.AudioBinaryString, req.MIMEType)
	switch {
	case errors.Is(err, resolver.ErrSuperseded):
		http.Error(w, err.Error(), http.StatusConflict)
		return
	case err != nil:
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	var items []fieldmap.Item
	if !readJSON(w, r, &items) {
		return
	}
	s.engine.SetTranscript(items)
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleMapping(w http.ResponseWriter, r *http.Request) {
	var req mappingRequest
	if !readJSON(w, r, &req) {
		return
	}
	m, err := fieldmap.FromExpressions(fieldmap.Expressions{
		fieldmap.Time:     req.Time,
		fieldmap.Duration: req.Duration,
		fieldmap.Speaker:  req.Speaker,
		fieldmap.Text:     req.Text,
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.engine.SetMapping(m)
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.engine.Play())
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.command(w, s.engine.Pause())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(mux.Vars(r)["index"])
	if err != nil {
		http.Error(w, "Invalid segment index", http.StatusBadRequest)
		return
	}
	s.command(w, s.engine.SeekTo(index))
}

func (s *Server) handleSpeed(w http.ResponseWriter, r *http.Request) {
	var req speedRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.engine.SetSpeed(req.Speed)
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleVisible(w http.ResponseWriter, r *http.Request) {
	var req visibleRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.engine.SetTranscriptVisible(req.IsVisible)
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req tickRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.engine.Tick(req.CurrentTime, req.Duration)
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleEnded(w http.ResponseWriter, r *http.Request) {
	s.engine.MediaEnded()
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) handleMediaError(w http.ResponseWriter, r *http.Request) {
	var req mediaErrorRequest
	if !readJSON(w, r, &req) {
		return
	}
	s.engine.MediaError(errors.New(req.Message))
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

func (s *Server) command(w http.ResponseWriter, err error) {
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.engine.Snapshot())
}

// handleBlob serves the bytes behind an owned object URL until it is
// revoked.
func (s *Server) handleBlob(w http.ResponseWriter, r *http.Request) {
	blob, ok := s.engine.Resolver().Blobs().Lookup(mux.Vars(r)["id"])
	if !ok {
		http.Error(w, "Blob not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", blob.MIME)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Length", strconv.Itoa(len(blob.Data)))
	if r.Method == http.MethodHead {
		return
	}
	w.Write(blob.Data)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed", "error", err)
		return
	}
	s.hub.attach(conn)
}

func readJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, player.ErrNoSegment):
		status = http.StatusNotFound
	case errors.Is(err, player.ErrControlsDisabled),
		errors.Is(err, player.ErrNoSource),
		errors.Is(err, player.ErrEnded),
		errors.Is(err, player.ErrClosed):
		status = http.StatusConflict
	case errors.Is(err, resolver.ErrSourceInvalid),
		errors.Is(err, resolver.ErrDecode):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, resolver.ErrNetworkFetch):
		status = http.StatusBadGateway
	}
	http.Error(w, err.Error(), status)
}
