// Package realtime exposes the execution engine over WebSocket and REST.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/OpenInterpreter/open-interpreter-sub000/internal/interpreter"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/protocol"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/session"
	"github.com/OpenInterpreter/open-interpreter-sub000/internal/watcher"
)

const (
	pingInterval    = 30 * time.Second
	readDeadline    = 60 * time.Second
	writeDeadline   = 10 * time.Second
	historyCapacity = 512
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow localhost origins for dev.
	},
}

// pendingExecution is a request waiting for operator approval.
type pendingExecution struct {
	language string
	code     string
}

// Server manages WebSocket connections and routes messages between clients,
// the interpreter, and the workspace watcher. Chunks are broadcast to every
// connected client and recorded so late subscribers can replay them.
type Server struct {
	interp  *interpreter.Interpreter
	watch   *watcher.Watcher
	autoRun bool
	log     *slog.Logger

	history *History

	clientsMu sync.RWMutex
	clients   map[*client]bool

	execMu  sync.Mutex
	pending map[string]pendingExecution
	running map[string]context.CancelFunc
}

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	server *Server
}

// New creates a realtime server. watch may be nil when the workspace watcher
// is disabled; autoRun skips the confirmation round-trip.
func New(interp *interpreter.Interpreter, watch *watcher.Watcher, autoRun bool, log *slog.Logger) *Server {
	return &Server{
		interp:  interp,
		watch:   watch,
		autoRun: autoRun,
		log:     log,
		history: NewHistory(historyCapacity),
		clients: make(map[*client]bool),
		pending: make(map[string]pendingExecution),
		running: make(map[string]context.CancelFunc),
	}
}

// Handler returns an http.Handler with all routes configured.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// WebSocket endpoint.
	mux.HandleFunc("/ws", s.handleWebSocket)

	// REST API endpoints.
	mux.HandleFunc("POST /execute", s.handleExecute)
	mux.HandleFunc("GET /languages", s.handleLanguages)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("GET /files/tree", s.handleFilesTree)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Shutdown cancels all running executions.
func (s *Server) Shutdown() {
	s.execMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(s.running))
	for _, cancel := range s.running {
		cancels = append(cancels, cancel)
	}
	s.running = make(map[string]context.CancelFunc)
	s.pending = make(map[string]pendingExecution)
	s.execMu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
}

// handleWebSocket upgrades an HTTP connection to WebSocket.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{
		conn:   conn,
		send:   make(chan []byte, 256),
		server: s,
	}

	s.clientsMu.Lock()
	s.clients[c] = true
	s.clientsMu.Unlock()

	// Catch the new client up on recent chunks, then the language list.
	for _, msg := range s.history.ReadAll() {
		s.sendMessage(c, msg)
	}
	s.sendLanguages(c)

	go c.writePump()
	go c.readPump()
}

// readPump reads messages from the WebSocket connection.
func (c *client) readPump() {
	defer func() {
		c.server.removeClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadDeadline(time.Now().Add(readDeadline))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Debug("websocket read error", "error", err)
			}
			return
		}

		c.server.handleMessage(c, message)
	}
}

// writePump writes messages to the WebSocket connection.
func (c *client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeClient cleans up a disconnected client.
func (s *Server) removeClient(c *client) {
	s.clientsMu.Lock()
	delete(s.clients, c)
	s.clientsMu.Unlock()
	close(c.send)
}

// handleMessage processes a validated client message.
func (s *Server) handleMessage(c *client, raw []byte) {
	msg, err := protocol.ValidateClientMessage(raw)
	if err != nil {
		s.sendError(c, protocol.ErrInvalidMessage, err.Error(), "")
		return
	}

	switch msg.Type {
	case protocol.TypeExecuteRequest:
		s.handleWSExecute(c, msg)
	case protocol.TypeExecuteApprove:
		s.handleWSApprove(c, msg)
	case protocol.TypeExecuteCancel:
		s.handleWSCancel(c, msg)
	case protocol.TypeEngineReset:
		s.handleWSReset(c, msg)
	case protocol.TypeLanguagesRequest:
		s.sendLanguages(c)
	case protocol.TypeFilesRequestTree:
		s.handleWSFilesTree(c)
	}
}

func (s *Server) handleWSExecute(c *client, msg *protocol.Message) {
	var payload protocol.ExecuteRequestPayload
	json.Unmarshal(msg.Payload, &payload)

	executionID := uuid.NewString()

	if s.autoRun {
		s.startExecution(c, executionID, payload.Language, payload.Code)
		return
	}

	s.execMu.Lock()
	s.pending[executionID] = pendingExecution{language: payload.Language, code: payload.Code}
	s.execMu.Unlock()

	confirm, err := protocol.NewMessage(protocol.TypeExecuteChunk, protocol.ChunkPayload{
		ExecutionID: executionID,
		Chunk:       protocol.ConfirmationChunk(payload.Language, payload.Code),
	})
	if err != nil {
		return
	}
	s.broadcast(confirm)
}

func (s *Server) handleWSApprove(c *client, msg *protocol.Message) {
	var payload protocol.ApprovePayload
	json.Unmarshal(msg.Payload, &payload)

	s.execMu.Lock()
	p, ok := s.pending[payload.ExecutionID]
	delete(s.pending, payload.ExecutionID)
	s.execMu.Unlock()

	if !ok {
		s.sendError(c, protocol.ErrExecutionNotFound, "no pending execution "+payload.ExecutionID, payload.ExecutionID)
		return
	}
	if !payload.Approved {
		s.log.Debug("execution declined", "executionId", payload.ExecutionID)
		return
	}

	s.startExecution(c, payload.ExecutionID, p.language, p.code)
}

func (s *Server) handleWSCancel(c *client, msg *protocol.Message) {
	var payload protocol.CancelPayload
	json.Unmarshal(msg.Payload, &payload)

	s.execMu.Lock()
	cancel, running := s.running[payload.ExecutionID]
	_, pending := s.pending[payload.ExecutionID]
	delete(s.pending, payload.ExecutionID)
	s.execMu.Unlock()

	if running {
		cancel()
		return
	}
	if !pending {
		s.sendError(c, protocol.ErrExecutionNotFound, "no execution "+payload.ExecutionID, payload.ExecutionID)
	}
}

func (s *Server) handleWSReset(c *client, msg *protocol.Message) {
	var payload protocol.ResetPayload
	json.Unmarshal(msg.Payload, &payload)

	if payload.Language == "" {
		s.interp.Registry().ResetAll()
	} else {
		s.interp.Registry().Reset(payload.Language)
	}
	s.sendLanguages(c)
}

func (s *Server) handleWSFilesTree(c *client) {
	var tree []protocol.FileNode
	if s.watch != nil {
		tree = s.watch.Tree()
	}
	resp, err := protocol.NewMessage(protocol.TypeFilesTree, protocol.FilesTreePayload{Tree: tree})
	if err != nil {
		return
	}
	s.sendMessage(c, resp)
}

// startExecution runs one block of code and broadcasts its chunk stream.
func (s *Server) startExecution(c *client, executionID, language, code string) {
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.interp.Run(ctx, language, code)
	if err != nil {
		cancel()
		errCode := protocol.ErrSpawnFailed
		if !errors.Is(err, session.ErrSpawnFailed) {
			errCode = protocol.ErrInvalidMessage
		}
		s.sendError(c, errCode, err.Error(), executionID)
		return
	}

	s.execMu.Lock()
	s.running[executionID] = cancel
	s.execMu.Unlock()

	started, _ := protocol.NewMessage(protocol.TypeExecuteStarted, protocol.ExecutionPayload{
		ExecutionID: executionID,
		Language:    language,
	})
	s.record(started)

	go func() {
		defer cancel()

		for chunk := range ch {
			msg, err := protocol.NewMessage(protocol.TypeExecuteChunk, protocol.ChunkPayload{
				ExecutionID: executionID,
				Chunk:       chunk,
			})
			if err != nil {
				continue
			}
			s.record(msg)
		}

		s.execMu.Lock()
		delete(s.running, executionID)
		s.execMu.Unlock()

		finished, _ := protocol.NewMessage(protocol.TypeExecuteFinished, protocol.ExecutionPayload{
			ExecutionID: executionID,
			Language:    language,
		})
		s.record(finished)
	}()
}

// sendLanguages sends the language catalog to one client.
func (s *Server) sendLanguages(c *client) {
	msg, err := protocol.NewMessage(protocol.TypeLanguages, s.languagesPayload())
	if err != nil {
		return
	}
	s.sendMessage(c, msg)
}

func (s *Server) languagesPayload() protocol.LanguagesPayload {
	reg := s.interp.Registry()
	var infos []protocol.LanguageInfo
	for _, name := range reg.Languages() {
		infos = append(infos, protocol.LanguageInfo{
			Name:      name,
			Strategy:  reg.Strategy(name),
			Available: reg.Available(name),
		})
	}
	return protocol.LanguagesPayload{Languages: infos}
}

// record broadcasts a message and stores it for replay.
func (s *Server) record(msg *protocol.Message) {
	s.history.Record(msg)
	s.broadcast(msg)
}

// broadcast sends a message to all connected clients.
func (s *Server) broadcast(msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			// Client buffer full, skip.
		}
	}
}

func (s *Server) sendMessage(c *client, msg *protocol.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (s *Server) sendError(c *client, code, message, executionID string) {
	msg, err := protocol.NewMessage(protocol.TypeError, protocol.ErrorPayload{
		Code:        code,
		Message:     message,
		ExecutionID: executionID,
	})
	if err != nil {
		return
	}
	s.sendMessage(c, msg)
}

// OnFilesUpdate is the workspace watcher callback; it broadcasts the change
// summary to every client.
func (s *Server) OnFilesUpdate(p protocol.FilesUpdatePayload) {
	msg, err := protocol.NewMessage(protocol.TypeFilesUpdate, p)
	if err != nil {
		return
	}
	s.broadcast(msg)
}
