// Package dashboard implements the runtime's HTTP façade: a REST
// surface over fasthttp (grounded in the teacher's pkg/web/fast_router.go
// and pkg/web/fasthttp_server.go) plus a WebSocket stream of live engine
// events (grounded in pkg/core/eventbus_ws.go, which the teacher also
// keeps on net/http rather than fasthttp — the same split this package
// makes). Read-only by default; an optional JWT bearer secret gates the
// two mutating routes.
package dashboard

import (
	"context"
	"encoding/json"

	"github.com/valyala/fasthttp"

	"github.com/fluxorio/flowmesh/internal/corelog"
	"github.com/fluxorio/flowmesh/internal/engine"
	"github.com/fluxorio/flowmesh/internal/registry"
	"github.com/fluxorio/flowmesh/internal/types"
)

// Config configures the dashboard's two listeners.
type Config struct {
	// BindAddr serves the REST surface over fasthttp.
	BindAddr string
	// StreamAddr serves the /api/stream WebSocket endpoint over
	// net/http. Left empty, the stream is not started.
	StreamAddr string
	// JWTSecret, when non-empty, requires a valid HS256 bearer token
	// on every mutating route.
	JWTSecret string
	Mode      string
}

// Server is the dashboard's fasthttp REST server plus (optionally) its
// WebSocket stream server.
type Server struct {
	cfg    Config
	reg    *registry.Registry
	logger corelog.Logger

	router *router
	http   *fasthttp.Server
	stream *streamServer
}

// New builds a Server reading from reg. Call Start to begin serving.
func New(cfg Config, reg *registry.Registry, logger corelog.Logger) *Server {
	if logger == nil {
		logger = corelog.NewDefault()
	}
	s := &Server{cfg: cfg, reg: reg, logger: logger, router: newRouter()}
	s.registerRoutes()
	s.http = &fasthttp.Server{
		Handler:               s.router.serve,
		NoDefaultServerHeader: true,
	}
	if cfg.StreamAddr != "" {
		s.stream = newStreamServer(reg, logger)
		reg.OnRegister(func(name string, e *engine.Engine) {
			s.stream.attachEngine(name, e.SubscribeEngineEvents)
		})
	}
	return s
}

// Start begins serving the REST API (blocking) and, if configured, the
// WebSocket stream on its own goroutine. Returns when the REST listener
// stops or fails to start.
func (s *Server) Start() error {
	if s.stream != nil {
		go func() {
			if err := s.stream.listenAndServe(s.cfg.StreamAddr); err != nil {
				s.logger.Errorf("dashboard: stream server stopped: %v", err)
			}
		}()
	}
	return s.http.ListenAndServe(s.cfg.BindAddr)
}

// Stop shuts both listeners down.
func (s *Server) Stop(ctx context.Context) error {
	if s.stream != nil {
		s.stream.shutdown(ctx)
	}
	return s.http.ShutdownWithContext(ctx)
}

func (s *Server) registerRoutes() {
	var mutating []Middleware
	if s.cfg.JWTSecret != "" {
		mutating = []Middleware{jwtMiddleware(s.cfg.JWTSecret)}
	}

	s.router.handle("GET", "/health", s.handleHealth)
	s.router.handle("GET", "/api/components", s.handleListComponents)
	s.router.handle("GET", "/api/components/:name", s.handleGetComponent)
	s.router.handle("GET", "/api/components/:name/instances", s.handleListInstances)
	s.router.handle("POST", "/api/components/:name/instances", s.handleCreateInstance, mutating...)
	s.router.handle("POST", "/api/components/:name/instances/:id/events", s.handleSendEvent, mutating...)
	s.router.handle("GET", "/api/components/:name/machines", s.handleListMachines)
	s.router.handle("GET", "/api/runtimes", s.handleListRuntimes)
	s.router.handle("GET", "/api/instances", s.handleAllInstances)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v interface{}) {
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	body, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
		ctx.SetBodyString(`{"error":"internal","message":"failed to encode response"}`)
		return
	}
	ctx.SetBody(body)
}

func writeError(ctx *fasthttp.RequestCtx, status int, code, message string) {
	writeJSON(ctx, status, map[string]string{"error": code, "message": message})
}

func (s *Server) handleHealth(ctx *fasthttp.RequestCtx, _ map[string]string) {
	writeJSON(ctx, fasthttp.StatusOK, map[string]interface{}{
		"status":            "ok",
		"mode":              s.cfg.Mode,
		"connectedRuntimes": len(s.reg.Names()),
	})
}

func (s *Server) handleListComponents(ctx *fasthttp.RequestCtx, _ map[string]string) {
	names := s.reg.Names()
	out := make([]types.Component, 0, len(names))
	for _, name := range names {
		c, ok := s.reg.Component(name)
		if ok {
			out = append(out, c)
		}
	}
	writeJSON(ctx, fasthttp.StatusOK, out)
}

func (s *Server) handleGetComponent(ctx *fasthttp.RequestCtx, params map[string]string) {
	c, ok := s.reg.Component(params["name"])
	if !ok {
		writeError(ctx, fasthttp.StatusNotFound, "component_not_found", "component "+params["name"]+" not found")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, c)
}

func (s *Server) handleListMachines(ctx *fasthttp.RequestCtx, params map[string]string) {
	c, ok := s.reg.Component(params["name"])
	if !ok {
		writeError(ctx, fasthttp.StatusNotFound, "component_not_found", "component "+params["name"]+" not found")
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, c.StateMachines)
}

func (s *Server) handleListInstances(ctx *fasthttp.RequestCtx, params map[string]string) {
	insts, err := s.reg.Instances(params["name"])
	if err != nil {
		writeError(ctx, fasthttp.StatusNotFound, "component_not_found", err.Error())
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, insts)
}

type createInstanceRequest struct {
	MachineName string                 `json:"machineName"`
	Context     map[string]interface{} `json:"context"`
}

func (s *Server) handleCreateInstance(ctx *fasthttp.RequestCtx, params map[string]string) {
	var req createInstanceRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	if req.MachineName == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "missing_machine_name", "machineName is required")
		return
	}
	id, err := s.reg.CreateInstance(context.Background(), params["name"], req.MachineName, req.Context)
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "create_failed", err.Error())
		return
	}
	writeJSON(ctx, fasthttp.StatusCreated, map[string]string{"id": id})
}

type sendEventRequest struct {
	Event   string                 `json:"event"`
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
}

func (s *Server) handleSendEvent(ctx *fasthttp.RequestCtx, params map[string]string) {
	var req sendEventRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "invalid_body", err.Error())
		return
	}
	name := req.Event
	if name == "" {
		name = req.Type
	}
	if name == "" {
		writeError(ctx, fasthttp.StatusBadRequest, "missing_event", "either event or type must be present")
		return
	}
	err := s.reg.SendEvent(context.Background(), params["name"], params["id"], types.Event{Name: name, Payload: req.Payload})
	if err != nil {
		writeError(ctx, fasthttp.StatusBadRequest, "send_failed", err.Error())
		return
	}
	writeJSON(ctx, fasthttp.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListRuntimes(ctx *fasthttp.RequestCtx, _ map[string]string) {
	writeJSON(ctx, fasthttp.StatusOK, s.reg.Names())
}

func (s *Server) handleAllInstances(ctx *fasthttp.RequestCtx, _ map[string]string) {
	writeJSON(ctx, fasthttp.StatusOK, s.reg.AllInstances())
}
