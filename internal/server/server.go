// Package server exposes the CityDNA feature calls over HTTP.
//
// Every feature endpoint returns a JSON envelope {"data": ..., "degraded":
// bool}. A degraded response carries fallback data with the exact shape of a
// live one and still returns 200; a hard failure returns 502 with an error
// body so the client can offer a manual retry.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lokalos/citydna/internal/dna"
	"github.com/lokalos/citydna/internal/health"
	"github.com/lokalos/citydna/internal/observe"
)

// maxBodyBytes bounds request bodies. Lens and transcribe payloads carry
// base64 media, so the ceiling is generous.
const maxBodyBytes = 16 << 20

// Option is a functional option for configuring a Server.
type Option func(*Server)

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithMetrics overrides the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server is the CityDNA HTTP API.
type Server struct {
	svc     *dna.Service
	health  *health.Handler
	metrics *observe.Metrics
	log     *slog.Logger

	httpSrv *http.Server
}

// New creates a Server over the given feature service and health handler.
func New(svc *dna.Service, healthHandler *health.Handler, opts ...Option) *Server {
	s := &Server{
		svc:     svc,
		health:  healthHandler,
		metrics: observe.DefaultMetrics(),
		log:     slog.Default(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Handler returns the full route tree wrapped in the observability middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/city", s.handleCity)
	mux.HandleFunc("POST /api/pulse", s.handlePulse)
	mux.HandleFunc("POST /api/compare", s.handleCompare)
	mux.HandleFunc("POST /api/explore", s.handleExplore)
	mux.HandleFunc("POST /api/place", s.handlePlace)
	mux.HandleFunc("POST /api/lens", s.handleLens)
	mux.HandleFunc("POST /api/transcribe", s.handleTranscribe)
	mux.HandleFunc("POST /api/geocode", s.handleGeocode)
	mux.HandleFunc("GET /api/skyline", s.handleSkyline)

	mux.Handle("GET /metrics", promhttp.Handler())
	s.health.Register(mux)

	return observe.Middleware(s.metrics)(mux)
}

// ListenAndServe starts the HTTP server on addr and blocks until it stops.
// When certFile and keyFile are both set the server terminates TLS itself.
func (s *Server) ListenAndServe(addr, certFile, keyFile string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if certFile != "" && keyFile != "" {
		return s.httpSrv.ListenAndServeTLS(certFile, keyFile)
	}
	return s.httpSrv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// ── Request/response shapes ────────────────────────────────────────────────────

type coordsRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type cityCoordsRequest struct {
	City string  `json:"city"`
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
}

type queryCityRequest struct {
	Query string `json:"query"`
	City  string `json:"city"`
}

type queryCoordsRequest struct {
	Query string  `json:"query"`
	Lat   float64 `json:"lat"`
	Lng   float64 `json:"lng"`
}

type lensRequest struct {
	Image    string `json:"image"` // base64
	MIMEType string `json:"mime_type"`
	Prompt   string `json:"prompt"`
}

type transcribeRequest struct {
	Audio    string `json:"audio"` // base64
	MIMEType string `json:"mime_type"`
}

type envelope struct {
	Data     any  `json:"data"`
	Degraded bool `json:"degraded"`
}

type errorBody struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// ── Handlers ───────────────────────────────────────────────────────────────────

func (s *Server) handleCity(w http.ResponseWriter, r *http.Request) {
	var req coordsRequest
	if !s.decode(w, r, &req) {
		return
	}
	data, degraded, err := s.svc.CityLookup(r.Context(), req.Lat, req.Lng)
	s.respond(w, data, degraded, err)
}

func (s *Server) handlePulse(w http.ResponseWriter, r *http.Request) {
	var req cityCoordsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.City == "" {
		s.writeError(w, http.StatusBadRequest, "city is required", false)
		return
	}
	data, degraded, err := s.svc.Pulse(r.Context(), req.City, req.Lat, req.Lng)
	s.respond(w, data, degraded, err)
}

func (s *Server) handleCompare(w http.ResponseWriter, r *http.Request) {
	var req queryCityRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required", false)
		return
	}
	data, degraded, err := s.svc.PriceComparison(r.Context(), req.Query, req.City)
	s.respond(w, data, degraded, err)
}

func (s *Server) handleExplore(w http.ResponseWriter, r *http.Request) {
	var req cityCoordsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.City == "" {
		s.writeError(w, http.StatusBadRequest, "city is required", false)
		return
	}
	data, degraded, err := s.svc.Explore(r.Context(), req.City, req.Lat, req.Lng)
	s.respond(w, data, degraded, err)
}

func (s *Server) handlePlace(w http.ResponseWriter, r *http.Request) {
	var req queryCoordsRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required", false)
		return
	}
	data, degraded, err := s.svc.PlaceIntel(r.Context(), req.Query, req.Lat, req.Lng)
	s.respond(w, data, degraded, err)
}

func (s *Server) handleLens(w http.ResponseWriter, r *http.Request) {
	var req lensRequest
	if !s.decode(w, r, &req) {
		return
	}
	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil || len(image) == 0 {
		s.writeError(w, http.StatusBadRequest, "image must be non-empty base64", false)
		return
	}
	text, degraded, err := s.svc.AnalyzeImage(r.Context(), image, req.MIMEType, req.Prompt)
	s.respond(w, map[string]string{"text": text}, degraded, err)
}

func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	var req transcribeRequest
	if !s.decode(w, r, &req) {
		return
	}
	audio, err := base64.StdEncoding.DecodeString(req.Audio)
	if err != nil || len(audio) == 0 {
		s.writeError(w, http.StatusBadRequest, "audio must be non-empty base64", false)
		return
	}
	text, degraded, err := s.svc.Transcribe(r.Context(), audio, req.MIMEType)
	s.respond(w, map[string]string{"text": text}, degraded, err)
}

func (s *Server) handleGeocode(w http.ResponseWriter, r *http.Request) {
	var req queryCityRequest
	if !s.decode(w, r, &req) {
		return
	}
	if req.Query == "" {
		s.writeError(w, http.StatusBadRequest, "query is required", false)
		return
	}
	data, degraded, err := s.svc.ResolveLocation(r.Context(), req.Query, req.City)
	s.respond(w, data, degraded, err)
}

// handleSkyline streams the generated image directly; a failed or timed-out
// generation yields 204 since the image is decorative.
func (s *Server) handleSkyline(w http.ResponseWriter, r *http.Request) {
	city := r.URL.Query().Get("city")
	if city == "" {
		s.writeError(w, http.StatusBadRequest, "city query parameter is required", false)
		return
	}

	data, mimeType := s.svc.Skyline(r.Context(), city)
	if len(data) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if mimeType == "" {
		mimeType = "image/png"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	if _, err := w.Write(data); err != nil {
		s.log.Debug("skyline write aborted", "error", err)
	}
}

// ── Helpers ────────────────────────────────────────────────────────────────────

// decode reads a JSON request body into v, writing a 400 on failure.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), false)
		return false
	}
	return true
}

// respond writes the standard feature-call envelope, or a 502 for hard
// failures. Degraded fallbacks are a normal 200: the data is safe to render.
func (s *Server) respond(w http.ResponseWriter, data any, degraded bool, err error) {
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error(), true)
		return
	}
	s.writeJSON(w, http.StatusOK, envelope{Data: data, Degraded: degraded})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string, retryable bool) {
	s.writeJSON(w, status, errorBody{Error: msg, Retryable: retryable})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Warn("response encode failed", "error", err)
	}
}
