package dashboard

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/fluxorio/flowmesh/internal/corelog"
	"github.com/fluxorio/flowmesh/internal/registry"
)

// streamMessage is one engine event pushed to a connected dashboard.
type streamMessage struct {
	Topic      string                 `json:"topic"`
	Component  string                 `json:"component"`
	Machine    string                 `json:"machine"`
	InstanceID string                 `json:"instanceId"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
}

// streamServer pushes state_change/instance_created/instance_disposed
// engine events to connected WebSocket clients. Grounded on the
// teacher's pkg/core/eventbus_ws.go WebSocketEventBusBridge, narrowed
// from its bidirectional publish/send/request/subscribe protocol to a
// one-way push feed — a dashboard watches, it does not dispatch.
type streamServer struct {
	reg      *registry.Registry
	logger   corelog.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]chan streamMessage

	http *http.Server
}

func newStreamServer(reg *registry.Registry, logger corelog.Logger) *streamServer {
	s := &streamServer{
		reg:     reg,
		logger:  logger,
		clients: make(map[*websocket.Conn]chan streamMessage),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/stream", s.handleUpgrade)
	s.http = &http.Server{Handler: mux}
	return s
}

func (s *streamServer) listenAndServe(addr string) error {
	s.http.Addr = addr
	return s.http.ListenAndServe()
}

func (s *streamServer) shutdown(ctx context.Context) {
	s.mu.Lock()
	for conn, ch := range s.clients {
		close(ch)
		conn.Close()
	}
	s.clients = make(map[*websocket.Conn]chan streamMessage)
	s.mu.Unlock()
	_ = s.http.Shutdown(ctx)
}

func (s *streamServer) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Errorf("dashboard stream: upgrade failed: %v", err)
		return
	}

	ch := make(chan streamMessage, 64)
	s.mu.Lock()
	s.clients[conn] = ch
	s.mu.Unlock()

	go s.writeLoop(conn, ch)
	go s.readLoop(conn)
}

// readLoop discards inbound frames but detects disconnects; the stream
// is push-only, so any message from the client beyond a close frame is
// ignored.
func (s *streamServer) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *streamServer) writeLoop(conn *websocket.Conn, ch chan streamMessage) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.removeClient(conn)
				return
			}
		case <-ticker.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.removeClient(conn)
				return
			}
		}
	}
}

func (s *streamServer) removeClient(conn *websocket.Conn) {
	s.mu.Lock()
	ch, ok := s.clients[conn]
	delete(s.clients, conn)
	s.mu.Unlock()
	if ok {
		close(ch)
	}
	conn.Close()
}

// broadcast fans one engine event out to every connected client,
// dropping it for any client whose outbound buffer is full rather than
// blocking the publisher.
func (s *streamServer) broadcast(msg streamMessage) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

// attachEngine wires an engine's SubscribeEngineEvents feed into the
// stream, so every connected dashboard sees its events live.
func (s *streamServer) attachEngine(component string, subscribe func(func(topic, machine, instanceID string, payload map[string]interface{}))) {
	subscribe(func(topic, machine, instanceID string, payload map[string]interface{}) {
		s.broadcast(streamMessage{Topic: topic, Component: component, Machine: machine, InstanceID: instanceID, Payload: payload})
	})
}
