package dashboard

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/valyala/fasthttp"

	"github.com/fluxorio/flowmesh/internal/engine"
	"github.com/fluxorio/flowmesh/internal/registry"
	"github.com/fluxorio/flowmesh/internal/types"
)

func testComponent() types.Component {
	return types.Component{
		Name: "orders",
		StateMachines: []types.StateMachine{
			{
				Name:         "order",
				InitialState: "pending",
				States: []types.State{
					{Name: "pending", Kind: types.StateEntry},
					{Name: "confirmed", Kind: types.StateRegular},
				},
				Transitions: []types.Transition{
					{Name: "confirm", From: "pending", To: "confirmed", Event: "confirm"},
				},
			},
		},
	}
}

func newTestServer(t *testing.T) (*Server, *registry.Registry, string) {
	t.Helper()
	reg := registry.New(nil)
	e, err := engine.New(testComponent())
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	if err := reg.Register(e); err != nil {
		t.Fatalf("Register: %v", err)
	}
	id, err := e.CreateInstance(context.Background(), "order", nil)
	if err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}
	s := New(Config{}, reg, nil)
	return s, reg, id
}

func doRequest(s *Server, method, path string, body []byte) *fasthttp.RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod(method)
	ctx.Request.SetRequestURI(path)
	if body != nil {
		ctx.Request.SetBody(body)
	}
	s.router.serve(ctx)
	return ctx
}

func TestHandleHealth(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := doRequest(s, "GET", "/health", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, want 200", ctx.Response.StatusCode())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(ctx.Response.Body(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status field = %v, want ok", body["status"])
	}
}

func TestHandleListComponents(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := doRequest(s, "GET", "/api/components", nil)
	var comps []types.Component
	if err := json.Unmarshal(ctx.Response.Body(), &comps); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(comps) != 1 || comps[0].Name != "orders" {
		t.Fatalf("components = %+v", comps)
	}
}

func TestHandleGetComponent_NotFound(t *testing.T) {
	s, _, _ := newTestServer(t)
	ctx := doRequest(s, "GET", "/api/components/missing", nil)
	if ctx.Response.StatusCode() != fasthttp.StatusNotFound {
		t.Fatalf("status = %d, want 404", ctx.Response.StatusCode())
	}
}

func TestHandleCreateInstance(t *testing.T) {
	s, _, _ := newTestServer(t)
	body, _ := json.Marshal(createInstanceRequest{MachineName: "order"})
	ctx := doRequest(s, "POST", "/api/components/orders/instances", body)
	if ctx.Response.StatusCode() != fasthttp.StatusCreated {
		t.Fatalf("status = %d, want 201, body=%s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
}

func TestHandleSendEvent(t *testing.T) {
	s, _, id := newTestServer(t)
	body, _ := json.Marshal(sendEventRequest{Event: "confirm"})
	ctx := doRequest(s, "POST", "/api/components/orders/instances/"+id+"/events", body)
	if ctx.Response.StatusCode() != fasthttp.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", ctx.Response.StatusCode(), ctx.Response.Body())
	}
}

func TestHandleSendEvent_MissingEventIsBadRequest(t *testing.T) {
	s, _, id := newTestServer(t)
	body, _ := json.Marshal(sendEventRequest{})
	ctx := doRequest(s, "POST", "/api/components/orders/instances/"+id+"/events", body)
	if ctx.Response.StatusCode() != fasthttp.StatusBadRequest {
		t.Fatalf("status = %d, want 400", ctx.Response.StatusCode())
	}
}

func TestJWTMiddleware_RejectsMissingToken(t *testing.T) {
	reg := registry.New(nil)
	e, _ := engine.New(testComponent())
	_ = reg.Register(e)
	s := New(Config{JWTSecret: "sekret"}, reg, nil)

	body, _ := json.Marshal(createInstanceRequest{MachineName: "order"})
	ctx := doRequest(s, "POST", "/api/components/orders/instances", body)
	if ctx.Response.StatusCode() != fasthttp.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", ctx.Response.StatusCode())
	}
}
