package dashboard

import (
	"strings"
	"sync"

	"github.com/valyala/fasthttp"
)

// Handler handles one matched route.
type Handler func(ctx *fasthttp.RequestCtx, params map[string]string)

// Middleware wraps a Handler with cross-cutting behavior (auth, logging).
type Middleware func(next Handler) Handler

type route struct {
	method     string
	path       string
	handler    Handler
	middleware []Middleware
}

// router is a minimal path-pattern matcher over fasthttp, adapted from
// the teacher's fastRouter: ":name" path segments bind params, route and
// global middleware compose with route middleware innermost.
type router struct {
	mu         sync.RWMutex
	routes     []*route
	middleware []Middleware
}

func newRouter() *router {
	return &router{}
}

func (r *router) use(mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.middleware = append(r.middleware, mw...)
}

func (r *router) handle(method, path string, h Handler, mw ...Middleware) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, &route{method: method, path: path, handler: h, middleware: mw})
}

func (r *router) serve(ctx *fasthttp.RequestCtx) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	method := string(ctx.Method())
	path := string(ctx.Path())

	for _, rt := range r.routes {
		if rt.method != method {
			continue
		}
		params, ok := matchPath(rt.path, path)
		if !ok {
			continue
		}

		handler := rt.handler
		for i := len(rt.middleware) - 1; i >= 0; i-- {
			handler = rt.middleware[i](handler)
		}
		for i := len(r.middleware) - 1; i >= 0; i-- {
			handler = r.middleware[i](handler)
		}
		handler(ctx, params)
		return
	}

	ctx.Error(`{"error":"not_found"}`, fasthttp.StatusNotFound)
}

func matchPath(pattern, path string) (map[string]string, bool) {
	patternParts := strings.Split(strings.Trim(pattern, "/"), "/")
	pathParts := strings.Split(strings.Trim(path, "/"), "/")
	if len(patternParts) != len(pathParts) {
		return nil, false
	}

	params := make(map[string]string)
	for i, part := range patternParts {
		if strings.HasPrefix(part, ":") {
			params[strings.TrimPrefix(part, ":")] = pathParts[i]
			continue
		}
		if part != pathParts[i] {
			return nil, false
		}
	}
	return params, true
}
