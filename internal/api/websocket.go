package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/placedotfun/server/internal/config"
	"github.com/placedotfun/server/internal/performance"
	"github.com/placedotfun/server/internal/streaming"
	"github.com/placedotfun/server/internal/world"
)

const (
	// Supported WebSocket protocol versions
	ProtocolVersion1 = "placedotfun-v1"

	// Default ping interval (30 seconds)
	defaultPingInterval = 30 * time.Second

	// Pong wait timeout (60 seconds)
	pongWait = 60 * time.Second

	// Write timeout (10 seconds)
	writeTimeout = 10 * time.Second
)

// WebSocketConnection represents an active WebSocket connection. Each
// connection is a viewer identified by a server-assigned id.
type WebSocketConnection struct {
	conn     *websocket.Conn
	viewerID string
	version  string
	send     chan []byte
	hub      *WebSocketHub
}

// WebSocketHub manages all active WebSocket connections.
type WebSocketHub struct {
	connections map[*WebSocketConnection]bool
	broadcast   chan []byte
	register    chan *WebSocketConnection
	unregister  chan *WebSocketConnection
	mu          sync.RWMutex
}

// WebSocketMessage represents a WebSocket message envelope.
type WebSocketMessage struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// WebSocketError represents an error message sent over WebSocket.
type WebSocketError struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// NewWebSocketHub creates a new WebSocket hub.
func NewWebSocketHub() *WebSocketHub {
	return &WebSocketHub{
		connections: make(map[*WebSocketConnection]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *WebSocketConnection),
		unregister:  make(chan *WebSocketConnection),
	}
}

// Run starts the hub's main loop.
func (h *WebSocketHub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			h.mu.Unlock()
			log.Printf("WebSocket connection registered: viewer=%s, version=%s", conn.viewerID, conn.version)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.send)
			}
			h.mu.Unlock()
			log.Printf("WebSocket connection unregistered: viewer=%s", conn.viewerID)

		case message := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.connections {
				select {
				case conn.send <- message:
				default:
					close(conn.send)
					delete(h.connections, conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to all connected viewers.
func (h *WebSocketHub) Broadcast(message []byte) {
	h.broadcast <- message
}

// SendToViewer sends a message to a specific viewer's connection.
func (h *WebSocketHub) SendToViewer(viewerID string, message []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for conn := range h.connections {
		if conn.viewerID == viewerID {
			select {
			case conn.send <- message:
			default:
				close(conn.send)
				delete(h.connections, conn)
			}
		}
	}
}

// WebSocketHandlers handles WebSocket connections and world streaming.
type WebSocketHandlers struct {
	hub           *WebSocketHub
	config        *config.Config
	service       *world.ChunkService
	streamManager *streaming.Manager
	profiler      *performance.Profiler
	upgrader      websocket.Upgrader
}

// NewWebSocketHandlers creates a new WebSocket handlers instance. The hub
// loop must be started separately with Run.
func NewWebSocketHandlers(service *world.ChunkService, cfg *config.Config, profiler *performance.Profiler) *WebSocketHandlers {
	allowedOrigins := cfg.Server.AllowedOrigins

	return &WebSocketHandlers{
		hub:           NewWebSocketHub(),
		config:        cfg,
		service:       service,
		streamManager: streaming.NewManager(cfg.World.MaxRadius),
		profiler:      profiler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser clients send no Origin header.
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// Run starts the hub loop. Intended to run in its own goroutine.
func (h *WebSocketHandlers) Run() {
	h.hub.Run()
}

// HandleWebSocket handles WebSocket connection upgrades.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Negotiate protocol version
	requestedVersions := r.Header.Get("Sec-WebSocket-Protocol")
	selectedVersion := h.negotiateVersion(requestedVersions)
	if selectedVersion == "" {
		log.Printf("WebSocket version negotiation failed: requested=%s", requestedVersions)
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}

	responseHeaders := http.Header{}
	responseHeaders.Set("Sec-WebSocket-Protocol", selectedVersion)

	conn, err := h.upgrader.Upgrade(w, r, responseHeaders)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := &WebSocketConnection{
		conn:     conn,
		viewerID: uuid.NewString(),
		version:  selectedVersion,
		send:     make(chan []byte, 256),
		hub:      h.hub,
	}

	h.hub.register <- wsConn

	go wsConn.writePump()
	go wsConn.readPump(h)

	wsConn.sendMessage("connected", "", connectedPayload{
		ViewerID: wsConn.viewerID,
		Version:  selectedVersion,
	})
}

// negotiateVersion selects the highest supported protocol version.
func (h *WebSocketHandlers) negotiateVersion(requested string) string {
	if requested == "" {
		// Default to v1 if no version specified
		return ProtocolVersion1
	}

	requestedVersions := strings.Split(requested, ",")
	for i := range requestedVersions {
		requestedVersions[i] = strings.TrimSpace(requestedVersions[i])
	}

	// Supported versions in order (highest first)
	supportedVersions := []string{ProtocolVersion1}

	for _, supported := range supportedVersions {
		for _, req := range requestedVersions {
			if req == supported {
				return supported
			}
		}
	}

	return ""
}

// readPump handles incoming messages from the WebSocket connection.
func (c *WebSocketConnection) readPump(handlers *WebSocketHandlers) {
	defer func() {
		dropped := handlers.streamManager.Drop(c.viewerID)
		if dropped > 0 {
			log.Printf("Dropped %d subscription(s) for viewer %s", dropped, c.viewerID)
		}
		c.hub.unregister <- c
		if err := c.conn.Close(); err != nil {
			log.Printf("Failed to close connection: %v", err)
		}
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
			log.Printf("Failed to set read deadline in pong handler: %v", err)
			return err
		}
		return nil
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg WebSocketMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.sendError("invalid_message", "Invalid message format", "InvalidMessageFormat")
			continue
		}

		handlers.handleMessage(c, &msg)
	}
}

// writePump handles outgoing messages to the WebSocket connection.
func (c *WebSocketConnection) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			log.Printf("Failed to close connection: %v", err)
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Printf("Failed to set write deadline: %v", err)
				return
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					log.Printf("Failed to write close message: %v", err)
				}
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			if _, err := w.Write(message); err != nil {
				if closeErr := w.Close(); closeErr != nil {
					log.Printf("Failed to close writer after write error: %v", closeErr)
				}
				return
			}

			// Send queued messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				if _, err := w.Write([]byte{'\n'}); err != nil {
					if closeErr := w.Close(); closeErr != nil {
						log.Printf("Failed to close writer after write error: %v", closeErr)
					}
					return
				}
				if _, err := w.Write(<-c.send); err != nil {
					if closeErr := w.Close(); closeErr != nil {
						log.Printf("Failed to close writer after write error: %v", closeErr)
					}
					return
				}
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Printf("Failed to set write deadline for ping: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage marshals and queues a typed message for the client.
func (c *WebSocketConnection) sendMessage(msgType, id string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("Failed to marshal %s payload: %v", msgType, err)
		return
	}

	messageBytes, err := json.Marshal(WebSocketMessage{Type: msgType, ID: id, Data: data})
	if err != nil {
		log.Printf("Failed to marshal %s message: %v", msgType, err)
		return
	}

	select {
	case c.send <- messageBytes:
	default:
		log.Printf("Failed to send %s message: channel full", msgType)
	}
}

// sendError sends an error message to the client.
func (c *WebSocketConnection) sendError(id, errorMsg, code string) {
	errorResp := WebSocketError{
		Type:    "error",
		ID:      id,
		Error:   errorMsg,
		Message: errorMsg,
		Code:    code,
	}

	messageBytes, err := json.Marshal(errorResp)
	if err != nil {
		log.Printf("Failed to marshal error message: %v", err)
		return
	}

	select {
	case c.send <- messageBytes:
	default:
		log.Printf("Failed to send error message: channel full")
	}
}

// connectedPayload is sent once after a successful upgrade.
type connectedPayload struct {
	ViewerID string `json:"viewer_id"`
	Version  string `json:"version"`
}

// wsCenter is a chunk position on the wire.
type wsCenter struct {
	X int `json:"x"`
	Z int `json:"z"`
}

// worldSubscribeRequest asks for a streamed window around a center.
type worldSubscribeRequest struct {
	Center wsCenter `json:"center"`
	Radius int      `json:"radius"`
}

// worldAckPayload confirms a subscription and lists the covered positions.
type worldAckPayload struct {
	SubscriptionID string   `json:"subscription_id"`
	Positions      []string `json:"positions"`
}

// worldMoveRequest recenters an existing subscription window.
type worldMoveRequest struct {
	SubscriptionID string   `json:"subscription_id"`
	Center         wsCenter `json:"center"`
}

// worldDeltaPayload carries chunks entering the window and position keys
// leaving it.
type worldDeltaPayload struct {
	SubscriptionID string            `json:"subscription_id"`
	Added          []*world.ChunkDTO `json:"added"`
	Removed        []string          `json:"removed"`
}

// handleMessage routes messages to appropriate handlers.
func (h *WebSocketHandlers) handleMessage(conn *WebSocketConnection, msg *WebSocketMessage) {
	switch msg.Type {
	case "ping":
		h.handlePing(conn, msg)
	case "world_subscribe":
		h.handleWorldSubscribe(conn, msg)
	case "world_move":
		h.handleWorldMove(conn, msg)
	default:
		conn.sendError(msg.ID, "Unknown message type", "UnknownMessageType")
	}
}

// handlePing responds to ping messages.
func (h *WebSocketHandlers) handlePing(conn *WebSocketConnection, msg *WebSocketMessage) {
	response := WebSocketMessage{
		Type: "pong",
		ID:   msg.ID,
	}

	responseBytes, err := json.Marshal(response)
	if err != nil {
		log.Printf("Failed to marshal pong response: %v", err)
		return
	}

	select {
	case conn.send <- responseBytes:
	default:
		log.Printf("Failed to send pong: channel full")
	}
}

// handleWorldSubscribe registers a window subscription for the viewer and
// sends the acknowledgement followed by an initial delta with every chunk
// already stored inside the window.
func (h *WebSocketHandlers) handleWorldSubscribe(conn *WebSocketConnection, msg *WebSocketMessage) {
	defer h.profiler.Track("ws.subscribe")()

	var req worldSubscribeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		conn.sendError(msg.ID, "Invalid world_subscribe payload", "InvalidPayload")
		return
	}

	center := world.ChunkPosition{X: req.Center.X, Z: req.Center.Z}
	plan, err := h.streamManager.Subscribe(conn.viewerID, center, req.Radius)
	if err != nil {
		conn.sendError(msg.ID, err.Error(), "SubscribeFailed")
		return
	}

	keys := make([]string, len(plan.Positions))
	for i, pos := range plan.Positions {
		keys[i] = pos.Key()
	}
	conn.sendMessage("world_ack", msg.ID, worldAckPayload{
		SubscriptionID: plan.SubscriptionID,
		Positions:      keys,
	})

	chunks, err := h.service.ChunksInRadius(center, req.Radius)
	if err != nil {
		log.Printf("Failed to load chunks for subscription %s: %v", plan.SubscriptionID, err)
		conn.sendError(msg.ID, "Failed to load chunks for subscription", "ChunkLoadFailed")
		return
	}

	conn.sendMessage("world_delta", msg.ID, worldDeltaPayload{
		SubscriptionID: plan.SubscriptionID,
		Added:          world.ToDTOs(chunks),
		Removed:        []string{},
	})
}

// handleWorldMove recenters a subscription and sends the resulting delta.
// Chunks are only loaded for positions that entered the window.
func (h *WebSocketHandlers) handleWorldMove(conn *WebSocketConnection, msg *WebSocketMessage) {
	defer h.profiler.Track("ws.move")()

	var req worldMoveRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		conn.sendError(msg.ID, "Invalid world_move payload", "InvalidPayload")
		return
	}

	center := world.ChunkPosition{X: req.Center.X, Z: req.Center.Z}
	delta, err := h.streamManager.Move(conn.viewerID, req.SubscriptionID, center)
	if err != nil {
		conn.sendError(msg.ID, err.Error(), "MoveFailed")
		return
	}

	added, err := h.chunksAt(center, delta)
	if err != nil {
		log.Printf("Failed to load chunks for subscription %s: %v", req.SubscriptionID, err)
		conn.sendError(msg.ID, "Failed to load chunks for subscription", "ChunkLoadFailed")
		return
	}

	removed := make([]string, len(delta.Removed))
	for i, pos := range delta.Removed {
		removed[i] = pos.Key()
	}

	conn.sendMessage("world_delta", msg.ID, worldDeltaPayload{
		SubscriptionID: delta.SubscriptionID,
		Added:          added,
		Removed:        removed,
	})
}

// chunksAt resolves the added window positions of a delta to stored chunks
// with a single radius query around the new center.
func (h *WebSocketHandlers) chunksAt(center world.ChunkPosition, delta *streaming.Delta) ([]*world.ChunkDTO, error) {
	if len(delta.Added) == 0 {
		return []*world.ChunkDTO{}, nil
	}

	sub, err := h.streamManager.Get(delta.SubscriptionID)
	if err != nil {
		return nil, err
	}

	chunks, err := h.service.ChunksInRadius(center, sub.Radius)
	if err != nil {
		return nil, err
	}

	addedSet := make(map[world.ChunkPosition]bool, len(delta.Added))
	for _, pos := range delta.Added {
		addedSet[pos] = true
	}

	added := []*world.ChunkDTO{}
	for _, chunk := range chunks {
		if addedSet[chunk.Position] {
			added = append(added, world.ToDTO(chunk))
		}
	}
	return added, nil
}

// NotifyChunkSaved fans a saved chunk out to every subscription whose
// window contains its position. Satisfies the ChunkNotifier interface used
// by the REST save handler.
func (h *WebSocketHandlers) NotifyChunkSaved(chunk *world.Chunk, created bool) {
	subIDs := h.streamManager.SubscriptionsContaining(chunk.Position)
	if len(subIDs) == 0 {
		return
	}

	dto := world.ToDTO(chunk)
	for _, subID := range subIDs {
		sub, err := h.streamManager.Get(subID)
		if err != nil {
			continue
		}

		payload := worldDeltaPayload{
			SubscriptionID: subID,
			Added:          []*world.ChunkDTO{dto},
			Removed:        []string{},
		}
		data, err := json.Marshal(payload)
		if err != nil {
			log.Printf("Failed to marshal world_delta payload: %v", err)
			continue
		}
		messageBytes, err := json.Marshal(WebSocketMessage{Type: "world_delta", Data: data})
		if err != nil {
			log.Printf("Failed to marshal world_delta message: %v", err)
			continue
		}

		h.hub.SendToViewer(sub.ViewerID, messageBytes)
	}

	log.Printf("Streamed chunk %s to %d subscription(s)", chunk.Position.Key(), len(subIDs))
}

// ConnectionCount reports the number of registered connections.
func (h *WebSocketHandlers) ConnectionCount() int {
	h.hub.mu.RLock()
	defer h.hub.mu.RUnlock()
	return len(h.hub.connections)
}
