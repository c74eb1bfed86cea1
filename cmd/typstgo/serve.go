package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/go-playground/validator/v10"
	"github.com/goodguyjay/typstgo/compiler"
	"github.com/goodguyjay/typstgo/engine"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start HTTP render service",
	Long: `Start an HTTP server that compiles and renders documents.

Endpoints:
  POST   /render                 Compile and render (stateless)
  POST   /sessions               Create session, returns {"session_id":"..."}
  POST   /sessions/{id}/render   Update source and render in session
  DELETE /sessions/{id}          Close session
  GET    /live                   WebSocket live preview (source in, pages out)
  GET    /health                 Health check
  GET    /metrics                Prometheus metrics

Configuration comes from flags, a YAML config file (--config), and a .env
file, in that order of precedence. Idle sessions expire after the TTL;
--evict-schedule runs engine cache eviction on a cron spec.`,
	Run: runServe,
}

func init() {
	serveCmd.Flags().IntP("port", "p", 8080, "Port to listen on")
	serveCmd.Flags().String("config", "", "YAML config file path")
	serveCmd.Flags().String("root", "", "Workspace root for renders (default: fresh temp dir per request)")
	serveCmd.Flags().String("package-path", "", "Package repository root")
	serveCmd.Flags().StringSlice("font-path", nil, "Extra font directory (repeatable)")
	serveCmd.Flags().Duration("session-ttl", 15*time.Minute, "Idle session expiry")
	serveCmd.Flags().String("evict-schedule", "", "Cron spec for cache eviction (e.g. \"0 * * * *\")")
	serveCmd.Flags().Duration("evict-max-age", time.Hour, "Max age of cached engine state kept on eviction")
	rootCmd.AddCommand(serveCmd)
}

// serveConfig is the YAML-file shape. Durations are second counts so the
// file stays plain scalars; accessor methods apply defaults.
type serveConfig struct {
	Port            int      `yaml:"port" validate:"gte=0,lte=65535"`
	Root            string   `yaml:"root"`
	PackagePath     string   `yaml:"package_path"`
	FontPaths       []string `yaml:"font_paths"`
	SystemFonts     bool     `yaml:"system_fonts"`
	SessionTTLSecs  int      `yaml:"session_ttl_secs" validate:"gte=0"`
	EvictSchedule   string   `yaml:"evict_schedule"`
	EvictMaxAgeSecs int      `yaml:"evict_max_age_secs" validate:"gte=0"`
}

func defaultServeConfig() serveConfig {
	return serveConfig{
		Port:            8080,
		SystemFonts:     true,
		SessionTTLSecs:  15 * 60,
		EvictMaxAgeSecs: 60 * 60,
	}
}

func (c serveConfig) SessionTTL() time.Duration {
	if c.SessionTTLSecs <= 0 {
		return 15 * time.Minute
	}
	return time.Duration(c.SessionTTLSecs) * time.Second
}

func (c serveConfig) EvictMaxAge() time.Duration {
	return time.Duration(c.EvictMaxAgeSecs) * time.Second
}

var validate = validator.New()

// loadServeConfig layers defaults, the optional YAML file, and environment
// variables (a .env file is honored), then validates the result.
func loadServeConfig(path string) (serveConfig, error) {
	_ = godotenv.Load()

	cfg := defaultServeConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := os.Getenv("TYPSTGO_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid TYPSTGO_PORT %q: %w", v, err)
		}
		cfg.Port = port
	}
	if v := os.Getenv("TYPSTGO_ROOT"); v != "" {
		cfg.Root = v
	}
	if v := os.Getenv("TYPSTGO_PACKAGE_PATH"); v != "" {
		cfg.PackagePath = v
	}

	if err := validate.Struct(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

type serverSession struct {
	mu       sync.Mutex
	comp     *compiler.Compiler
	cleanup  func()
	lastUsed time.Time
}

type sessionManager struct {
	mu       sync.Mutex
	sessions map[string]*serverSession
	ttl      time.Duration
	active   prometheus.Gauge
	stop     chan struct{}
}

func newSessionManager(ttl time.Duration, active prometheus.Gauge) *sessionManager {
	sm := &sessionManager{
		sessions: make(map[string]*serverSession),
		ttl:      ttl,
		active:   active,
		stop:     make(chan struct{}),
	}
	go sm.cleanupLoop()
	return sm
}

func (sm *sessionManager) add(comp *compiler.Compiler, cleanup func()) string {
	id := uuid.NewString()
	sm.mu.Lock()
	sm.sessions[id] = &serverSession{comp: comp, cleanup: cleanup, lastUsed: time.Now()}
	sm.mu.Unlock()
	sm.active.Inc()
	return id
}

func (sm *sessionManager) get(id string) (*serverSession, bool) {
	sm.mu.Lock()
	ss, ok := sm.sessions[id]
	if ok {
		ss.lastUsed = time.Now()
	}
	sm.mu.Unlock()
	return ss, ok
}

func (sm *sessionManager) close(id string) bool {
	sm.mu.Lock()
	ss, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	if !ok {
		return false
	}
	sm.release(ss)
	return true
}

// sweep closes sessions idle past the TTL and reports how many went.
func (sm *sessionManager) sweep(now time.Time) int {
	var expired []*serverSession
	sm.mu.Lock()
	for id, ss := range sm.sessions {
		if now.Sub(ss.lastUsed) > sm.ttl {
			expired = append(expired, ss)
			delete(sm.sessions, id)
		}
	}
	sm.mu.Unlock()
	for _, ss := range expired {
		sm.release(ss)
	}
	return len(expired)
}

func (sm *sessionManager) release(ss *serverSession) {
	ss.mu.Lock()
	ss.comp.Close()
	if ss.cleanup != nil {
		ss.cleanup()
	}
	ss.mu.Unlock()
	sm.active.Dec()
}

func (sm *sessionManager) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			sm.sweep(time.Now())
		case <-sm.stop:
			return
		}
	}
}

func (sm *sessionManager) closeAll() {
	close(sm.stop)
	sm.mu.Lock()
	all := make([]*serverSession, 0, len(sm.sessions))
	for id, ss := range sm.sessions {
		all = append(all, ss)
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()
	for _, ss := range all {
		sm.release(ss)
	}
}

type renderRequest struct {
	Source string            `json:"source"`
	Format string            `json:"format,omitempty"` // svg (default) or pdf
	Inputs map[string]string `json:"inputs,omitempty"`
}

type diagnosticJSON struct {
	Severity string `json:"severity"`
	Message  string `json:"message"`
	File     string `json:"file,omitempty"`
	Line     uint32 `json:"line,omitempty"`
	Column   uint32 `json:"column,omitempty"`
}

type renderResponse struct {
	Success     bool             `json:"success"`
	PageCount   int              `json:"page_count,omitempty"`
	Pages       []string         `json:"pages,omitempty"`
	PDF         []byte           `json:"pdf,omitempty"`
	Diagnostics []diagnosticJSON `json:"diagnostics,omitempty"`
	DurationMs  int64            `json:"duration_ms"`
	Error       string           `json:"error,omitempty"`
}

type createSessionRequest struct {
	Source string            `json:"source,omitempty"`
	Inputs map[string]string `json:"inputs,omitempty"`
}

type createSessionResponse struct {
	SessionID string `json:"session_id"`
}

type server struct {
	eng      *engine.Engine
	cfg      serveConfig
	sessions *sessionManager
	metrics  *serverMetrics
	logger   *slog.Logger
}

func newServer(eng *engine.Engine, cfg serveConfig, logger *slog.Logger) *server {
	metrics := newServerMetrics()
	return &server{
		eng:      eng,
		cfg:      cfg,
		sessions: newSessionManager(cfg.SessionTTL(), metrics.ActiveSessions),
		metrics:  metrics,
		logger:   logger,
	}
}

func (s *server) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /render", s.handleRender)
	mux.HandleFunc("POST /sessions", s.handleSessionCreate)
	mux.HandleFunc("POST /sessions/{id}/render", s.handleSessionRender)
	mux.HandleFunc("DELETE /sessions/{id}", s.handleSessionDelete)
	mux.HandleFunc("GET /live", s.handleLive)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.metrics.registry, promhttp.HandlerOpts{}))
	return mux
}

// newCompiler builds a session for one request. With no configured root
// every session gets a private temp workspace; cleanup removes it.
func (s *server) newCompiler(source string, inputs map[string]string) (*compiler.Compiler, func(), error) {
	root := s.cfg.Root
	cleanup := func() {}
	if root == "" {
		tmp, err := os.MkdirTemp("", "typstgo-render-")
		if err != nil {
			return nil, nil, err
		}
		root = tmp
		cleanup = func() { os.RemoveAll(tmp) }
	}

	opts := []compiler.Option{
		compiler.WithEngine(s.eng),
		compiler.WithSource(source),
		compiler.WithSystemFonts(s.cfg.SystemFonts),
		compiler.WithLogger(s.logger),
	}
	if len(s.cfg.FontPaths) > 0 {
		opts = append(opts, compiler.WithFontPaths(s.cfg.FontPaths...))
	}
	if s.cfg.PackagePath != "" {
		opts = append(opts, compiler.WithPackagePath(s.cfg.PackagePath))
	}
	if len(inputs) > 0 {
		raw, err := json.Marshal(inputs)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		opts = append(opts, compiler.WithInputsJSON(raw))
	}

	comp, err := compiler.New(root, opts...)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return comp, cleanup, nil
}

func diagnosticsJSON(diags []compiler.Diagnostic) []diagnosticJSON {
	out := make([]diagnosticJSON, 0, len(diags))
	for _, d := range diags {
		out = append(out, diagnosticJSON{
			Severity: d.Severity.String(),
			Message:  d.Message,
			File:     d.File,
			Line:     d.Location.Line,
			Column:   d.Location.Column,
		})
	}
	return out
}

// compileAndRender runs one compile and renders per format. Compile
// failures come back as a response with Success false, not an error.
func (s *server) compileAndRender(ctx context.Context, comp *compiler.Compiler, format string) renderResponse {
	res := comp.Compile(ctx)
	s.metrics.observeCompile(res)

	resp := renderResponse{
		Success:     res.Success,
		Diagnostics: diagnosticsJSON(res.Diagnostics),
		DurationMs:  res.Duration.Milliseconds(),
	}
	if res.Error != nil {
		resp.Error = res.Error.Error()
		return resp
	}
	if !res.Success {
		return resp
	}
	defer res.Document.Close()
	resp.PageCount = res.Document.PageCount()

	switch format {
	case "pdf":
		data, err := res.Document.RenderPDF(ctx)
		if err != nil {
			resp.Success = false
			resp.Error = err.Error()
			return resp
		}
		resp.PDF = data
	default:
		if resp.PageCount > 0 {
			pages, err := res.Document.RenderSVGAll(ctx)
			if err != nil {
				resp.Success = false
				resp.Error = err.Error()
				return resp
			}
			for _, p := range pages {
				resp.Pages = append(resp.Pages, string(p))
			}
		}
	}
	s.metrics.RendersTotal.WithLabelValues(format).Inc()
	return resp
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func validFormat(format string) (string, bool) {
	switch format {
	case "":
		return "svg", true
	case "svg", "pdf":
		return format, true
	default:
		return "", false
	}
}

func (s *server) handleRender(w http.ResponseWriter, r *http.Request) {
	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Source == "" {
		http.Error(w, "source required", http.StatusBadRequest)
		return
	}
	format, ok := validFormat(req.Format)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown format %q", req.Format), http.StatusBadRequest)
		return
	}

	comp, cleanup, err := s.newCompiler(req.Source, req.Inputs)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create session: %v", err), http.StatusInternalServerError)
		return
	}
	defer cleanup()
	defer comp.Close()

	writeJSON(w, s.compileAndRender(r.Context(), comp, format))
}

func (s *server) handleSessionCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	comp, cleanup, err := s.newCompiler(req.Source, req.Inputs)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to create session: %v", err), http.StatusInternalServerError)
		return
	}

	id := s.sessions.add(comp, cleanup)
	s.logger.Debug("session created", "session_id", id)
	writeJSON(w, createSessionResponse{SessionID: id})
}

func (s *server) handleSessionRender(w http.ResponseWriter, r *http.Request) {
	ss, ok := s.sessions.get(r.PathValue("id"))
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	var req renderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	format, ok := validFormat(req.Format)
	if !ok {
		http.Error(w, fmt.Sprintf("unknown format %q", req.Format), http.StatusBadRequest)
		return
	}

	ss.mu.Lock()
	if req.Source != "" {
		ss.comp.UpdateSource(req.Source)
	}
	resp := s.compileAndRender(r.Context(), ss.comp, format)
	ss.mu.Unlock()

	writeJSON(w, resp)
}

func (s *server) handleSessionDelete(w http.ResponseWriter, r *http.Request) {
	if s.sessions.close(r.PathValue("id")) {
		w.WriteHeader(http.StatusNoContent)
	} else {
		http.Error(w, "session not found", http.StatusNotFound)
	}
}

// handleLive upgrades to WebSocket: each text message replaces the source
// and triggers a recompile; the response carries rendered pages and
// diagnostics. One compiler session per connection.
func (s *server) handleLive(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "connection closed")

	comp, cleanup, err := s.newCompiler("", nil)
	if err != nil {
		conn.Close(websocket.StatusInternalError, "session setup failed")
		return
	}
	defer cleanup()
	defer comp.Close()

	ctx := r.Context()
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return
			}
			s.logger.Debug("live connection closed", "error", err)
			return
		}

		comp.UpdateSource(string(data))
		resp := s.compileAndRender(ctx, comp, "svg")
		payload, err := json.Marshal(resp)
		if err != nil {
			s.logger.Error("marshal live response", "error", err)
			return
		}
		if err := conn.Write(ctx, websocket.MessageText, payload); err != nil {
			return
		}
	}
}

func runServe(cmd *cobra.Command, args []string) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := loadServeConfig(configPath)
	if err != nil {
		fatalf("Error: %v", err)
	}

	// Flags override the file and environment.
	if cmd.Flags().Changed("port") {
		cfg.Port, _ = cmd.Flags().GetInt("port")
	}
	if cmd.Flags().Changed("root") {
		cfg.Root, _ = cmd.Flags().GetString("root")
	}
	if cmd.Flags().Changed("package-path") {
		cfg.PackagePath, _ = cmd.Flags().GetString("package-path")
	}
	if cmd.Flags().Changed("font-path") {
		cfg.FontPaths, _ = cmd.Flags().GetStringSlice("font-path")
	}
	if cmd.Flags().Changed("session-ttl") {
		ttl, _ := cmd.Flags().GetDuration("session-ttl")
		cfg.SessionTTLSecs = int(ttl / time.Second)
	}
	if cmd.Flags().Changed("evict-schedule") {
		cfg.EvictSchedule, _ = cmd.Flags().GetString("evict-schedule")
	}
	if cmd.Flags().Changed("evict-max-age") {
		age, _ := cmd.Flags().GetDuration("evict-max-age")
		cfg.EvictMaxAgeSecs = int(age / time.Second)
	}

	eng, err := newEngine(cmd)
	if err != nil {
		fatalf("Error: %v", err)
	}
	defer eng.Close()

	logger := slog.Default()
	srv := newServer(eng, cfg, logger)
	defer srv.sessions.closeAll()

	if cfg.EvictSchedule != "" {
		c := cron.New()
		_, err := c.AddFunc(cfg.EvictSchedule, func() {
			if err := eng.CacheEvict(context.Background(), cfg.EvictMaxAge()); err != nil {
				logger.Warn("cache eviction failed", "error", err)
				return
			}
			logger.Info("cache evicted", "max_age", cfg.EvictMaxAge())
		})
		if err != nil {
			fatalf("Error: invalid evict schedule %q: %v", cfg.EvictSchedule, err)
		}
		c.Start()
		defer c.Stop()
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	fmt.Fprintf(os.Stderr, "typstgo server listening on %s\n", addr)
	if err := http.ListenAndServe(addr, srv.routes()); err != nil {
		fatalf("Error: %v", err)
	}
}
