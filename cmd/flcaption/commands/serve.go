package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xkeyC/fl-caption/pkg/asr"
	"github.com/xkeyC/fl-caption/pkg/audio/capture"
	"github.com/xkeyC/fl-caption/pkg/emitter"
	"github.com/xkeyC/fl-caption/pkg/engine"
	"github.com/xkeyC/fl-caption/pkg/scope"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const defaultListen = "127.0.0.1:8765"

var (
	serveFlags     engineFlags
	serveListen    string
	serveAutostart bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve captions over HTTP and websocket",
	Long: `Run caption sessions behind an HTTP API.

Endpoints:
  GET    /ws                 caption stream (?format=json or msgpack)
  GET    /sessions           running sessions
  POST   /sessions           start a session; the JSON body may override
                             device, direction, language and task
  DELETE /sessions/{handle}  stop a session
  GET    /metrics            Prometheus metrics
  GET    /healthz            liveness

Examples:
  flcaption serve
  flcaption serve --listen :8765 --autostart=false`,
	RunE: runServe,
}

func init() {
	serveFlags.register(serveCmd)
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "listen address (default: profile listen or "+defaultListen+")")
	serveCmd.Flags().BoolVar(&serveAutostart, "autostart", true, "start a session at startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	base, err := loadEngineConfig(serveFlags)
	if err != nil {
		return err
	}
	if err := base.Validate(); err != nil {
		return err
	}
	host, release, err := openHost(hostName)
	if err != nil {
		return err
	}
	defer release()

	listen := serveListen
	if listen == "" {
		if ctx, err := getContext(); err == nil && ctx.Listen != "" {
			listen = ctx.Listen
		} else {
			listen = defaultListen
		}
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	s := newServer(base, engine.Env{Host: host, Metrics: engine.NewMetrics(reg), Logger: slog.Default()}, reg)
	defer s.hub.Close()

	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: s.routes(), ReadHeaderTimeout: 10 * time.Second}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	slog.Info("serving captions", "addr", ln.Addr().String(), "host", host.Name())

	if serveAutostart {
		h, err := s.mgr.Start(base, s.hub)
		if err != nil {
			srv.Close()
			return err
		}
		slog.Info("session started", "handle", h)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	select {
	case <-ctx.Done():
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	}

	shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.mgr.Shutdown(shutdown); err != nil {
		slog.Warn("session shutdown", "error", err)
	}
	s.hub.Close()
	return srv.Shutdown(shutdown)
}

// server exposes a Manager over HTTP. Every session emits to the hub.
type server struct {
	base   engine.Config
	mgr    *engine.Manager
	hub    *emitter.Hub
	reg    *prometheus.Registry
	logger *slog.Logger
}

func newServer(base engine.Config, env engine.Env, reg *prometheus.Registry) *server {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}
	return &server{
		base:   base,
		mgr:    engine.NewManager(env),
		hub:    emitter.NewHub(env.Logger),
		reg:    reg,
		logger: env.Logger.With("component", "serve"),
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", s.hub)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "clients": s.hub.Clients()})
	})
	mux.HandleFunc("GET /sessions", s.listSessions)
	mux.HandleFunc("POST /sessions", s.startSession)
	mux.HandleFunc("DELETE /sessions/{handle}", s.stopSession)
	return mux
}

// startRequest overrides fields of the base engine config.
type startRequest struct {
	Device    string `json:"device,omitempty"`
	Direction string `json:"direction,omitempty"`
	Language  string `json:"language,omitempty"`
	Task      string `json:"task,omitempty"`
}

func (s *server) listSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.mgr.Sessions())
}

func (s *server) startSession(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("decode request: %w", err))
			return
		}
	}
	cfg := s.base
	err := applyOverrides(&cfg, engineFlags{
		device:    req.Device,
		direction: req.Direction,
		language:  req.Language,
		task:      req.Task,
	})
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	h, err := s.mgr.Start(cfg, s.hub)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, capture.ErrDevice) || errors.Is(err, asr.ErrUnsupportedLanguage) {
			status = http.StatusUnprocessableEntity
		}
		writeError(w, status, err)
		return
	}
	s.logger.Info("session started", "handle", h)
	writeJSON(w, http.StatusCreated, map[string]scope.Handle{"handle": h})
}

func (s *server) stopSession(w http.ResponseWriter, r *http.Request) {
	h := scope.Handle(r.PathValue("handle"))
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()
	if err := s.mgr.Stop(ctx, h); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scope.ErrUnknownHandle) {
			status = http.StatusNotFound
		}
		writeError(w, status, err)
		return
	}
	s.logger.Info("session stopped", "handle", h)
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
