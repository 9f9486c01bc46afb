// Package announce implements an optional observability server that pushes
// hart state transitions to a connected UI over a websocket, the same
// push-on-state-change shape as arl-nestor's emu/debugger reactDebugger.Ws()
// driver/server pair — one first message, then one pushed event per state
// change, no request/response cycle.
package announce

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"rvdbg/internal/logging"
)

var log = logging.For("announce")

// Event is one pushed state-change notification (the emulator->debugger
// WSResponse shape in arl-nestor's emu/debugger/driver.go).
type Event struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

// Server accepts websocket connections on /ws and fans out every Push to
// every currently-connected client. It implements hart.Announcer via
// TargetHalted.
type Server struct {
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}
}

// New builds an announce server with no clients connected yet.
func New() *Server {
	return &Server{
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		clients:  make(map[*websocket.Conn]struct{}),
	}
}

// ListenAndServe starts the websocket endpoint in a background goroutine,
// mirroring arl-nestor's runServer: bind first so the caller learns about a
// bad address synchronously, then serve in the background.
func (s *Server) ListenAndServe(hostport string) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebsocket)

	ln, err := net.Listen("tcp", hostport)
	if err != nil {
		return err
	}

	server := &http.Server{Addr: hostport, Handler: mux}
	go func() {
		log.WithField("addr", hostport).Info("announce server listening")
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.WithField("err", err).Error("announce server stopped")
		}
	}()
	return nil
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("err", err).Error("websocket handshake failed")
		return
	}

	s.mu.Lock()
	s.clients[conn] = struct{}{}
	s.mu.Unlock()

	log.Debug("announce client connected")

	// The only traffic on this connection is server->client pushes; read
	// just to detect client disconnects and drop the conn on EOF.
	go func() {
		defer s.drop(conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) drop(conn *websocket.Conn) {
	s.mu.Lock()
	delete(s.clients, conn)
	s.mu.Unlock()
	conn.Close()
}

// Push broadcasts one event to every connected client, dropping any client
// whose write fails rather than letting one stuck connection block the
// others.
func (s *Server) Push(event string, data any) {
	msg := Event{Event: event, Data: data}
	buf, err := json.Marshal(msg)
	if err != nil {
		log.WithField("err", err).Error("failed to marshal announce event")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.clients {
		if err := conn.WriteMessage(websocket.TextMessage, buf); err != nil {
			delete(s.clients, conn)
			conn.Close()
		}
	}
}

// TargetHalted implements hart.Announcer (spec.md §4.8 "Fire
// TARGET_EVENT_HALTED if announce"): pushes the halted event with no
// payload, the caller's next arch_state call carries the detail.
func (s *Server) TargetHalted() {
	s.Push("TARGET_EVENT_HALTED", nil)
}
