package websocket

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/resonira/voiceagent/domain"
	"github.com/resonira/voiceagent/domain/repositories"
	"github.com/resonira/voiceagent/internal/auth"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512 * 1024 // base64 audio chunks

	sendBufferSize = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 1024,
}

// Hub tracks the open transcription relay connections.
type Hub struct {
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	done       chan struct{}

	mu sync.RWMutex

	stt      repositories.StreamingSpeechToText
	auth     *auth.Authenticator
	defaults repositories.AudioConfig

	logger *zap.Logger
}

// NewHub creates a hub that relays audio to stt. defaults fill in whatever the
// client's config leaves out.
func NewHub(stt repositories.StreamingSpeechToText, authenticator *auth.Authenticator, defaults repositories.AudioConfig, logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		stt:        stt,
		auth:       authenticator,
		defaults:   defaults,
		logger:     logger,
	}
}

// Run serves register and unregister requests until ctx is done, then closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			clients := make([]*Client, 0, len(h.clients))
			for id, client := range h.clients {
				clients = append(clients, client)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			for _, client := range clients {
				client.close()
			}
			h.logger.Info("Relay hub stopped", zap.Int("closedClients", len(clients)))
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			h.mu.Unlock()
			h.logger.Info("Client registered",
				zap.String("connectionID", client.id),
				zap.String("clientID", client.clientID))

		case client := <-h.unregister:
			h.mu.Lock()
			delete(h.clients, client.id)
			h.mu.Unlock()
			h.logger.Info("Client unregistered", zap.String("connectionID", client.id))
		}
	}
}

// Count returns the number of registered clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// CloseIdle closes clients that have sent nothing for longer than timeout.
func (h *Hub) CloseIdle(now time.Time, timeout time.Duration) int {
	h.mu.RLock()
	var idle []*Client
	for _, client := range h.clients {
		if now.Sub(client.lastActive()) > timeout {
			idle = append(idle, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range idle {
		client.logger.Info("Closing idle client", zap.Duration("idleTimeout", timeout))
		client.enqueue(errorMessage("idle timeout"))
		client.close()
	}
	return len(idle)
}

// ServeWS upgrades the request and starts relaying. claims is nil when the
// request carried no token; the client must then authenticate in its config
// message.
func (h *Hub) ServeWS(c echo.Context, claims *auth.ClientClaims) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := newClient(h, conn, claims)
	select {
	case h.register <- client:
	case <-h.done:
		client.enqueue(errorMessage("relay shutting down"))
		client.close()
	}

	go client.writePump()
	go client.readPump()
	return nil
}

// Client is one relay connection and its recognition stream.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	id            string
	clientID      string
	authenticated bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	logger    *zap.Logger

	mu         sync.Mutex
	stream     repositories.SpeechToTextStreaming
	chunkCount int
	lastSeen   time.Time
}

func newClient(hub *Hub, conn *websocket.Conn, claims *auth.ClientClaims) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	client := &Client{
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		id:            id,
		authenticated: hub.auth == nil || !hub.auth.Enabled(),
		ctx:           ctx,
		cancel:        cancel,
		lastSeen:      time.Now(),
	}
	if claims != nil {
		client.clientID = claims.ClientID
		client.authenticated = true
	}
	client.logger = hub.logger.With(zap.String("connectionID", id))
	return client
}

// readPump pumps messages from the websocket connection to the recognition stream.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err))
			}
			return
		}
		c.touch()

		switch messageType {
		case websocket.TextMessage:
			c.processMessage(message)
		case websocket.BinaryMessage:
			c.forwardAudio(message)
		default:
			c.logger.Warn("Received unknown message type", zap.Int("type", messageType))
		}
	}
}

// writePump pumps queued messages to the websocket connection. On close it
// flushes what is already queued.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			for {
				select {
				case payload := <-c.send:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}

		case payload := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.logger.Warn("Failed to write message", zap.Error(err))
				c.close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

func (c *Client) processMessage(message []byte) {
	msg, err := ParseClientMessage(message)
	if err != nil {
		c.logger.Warn("Rejected client message", zap.Error(err))
		c.enqueue(errorMessage(err.Error()))
		return
	}

	switch msg.Type {
	case domain.StreamMessageConfig:
		c.handleConfig(msg)
	case domain.StreamMessageAudio:
		audio, err := DecodeAudio(msg)
		if err != nil {
			c.enqueue(errorMessage(err.Error()))
			return
		}
		c.forwardAudio(audio)
	}
}

// handleConfig authenticates the client if needed and opens a recognition stream.
func (c *Client) handleConfig(msg domain.StreamClientMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.authenticated {
		claims, err := c.hub.auth.ValidateToken(msg.Token)
		if err != nil {
			c.logger.Warn("Relay client rejected", zap.Error(err))
			c.enqueue(errorMessage("unauthorized"))
			go c.close()
			return
		}
		c.authenticated = true
		c.clientID = claims.ClientID
	}

	if c.stream != nil {
		c.stream.Close()
		c.stream = nil
	}

	audioConfig := AudioConfigFromStream(msg.Config, c.hub.defaults)
	stream, err := c.hub.stt.InitTranscribeStreaming(c.ctx, audioConfig)
	if err != nil {
		c.logger.Error("Failed to initialize streaming transcription", zap.Error(err))
		c.enqueue(errorMessage("failed to start transcription"))
		return
	}

	c.stream = stream
	c.chunkCount = 0
	go c.forwardTranscripts(stream)

	c.logger.Info("Streaming transcription started",
		zap.String("clientID", c.clientID),
		zap.String("encoding", audioConfig.Encoding),
		zap.Int("sampleRate", audioConfig.SampleRate),
		zap.String("language", audioConfig.Language))
}

func (c *Client) forwardAudio(audio []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		c.enqueue(errorMessage("stream not configured"))
		return
	}

	c.chunkCount++
	if err := c.stream.Stream(audio); err != nil {
		c.logger.Warn("Failed to stream audio", zap.Int("chunk", c.chunkCount), zap.Error(err))
		c.enqueue(errorMessage("failed to stream audio"))
		return
	}
	c.logger.Debug("Forwarded audio chunk",
		zap.Int("bytes", len(audio)),
		zap.Int("totalChunks", c.chunkCount))
}

// forwardTranscripts relays deltas until the stream ends.
func (c *Client) forwardTranscripts(stream repositories.SpeechToTextStreaming) {
	for delta := range stream.Deltas() {
		c.enqueue(transcriptMessage(delta))
	}

	if err := stream.Err(); err != nil && !domain.IsStopped(err) {
		c.logger.Warn("Recognition stream failed", zap.Error(err))
		c.enqueue(errorMessage(err.Error()))
	}

	c.mu.Lock()
	if c.stream == stream {
		c.stream = nil
	}
	c.mu.Unlock()
	stream.Close()
}

func (c *Client) enqueue(payload []byte) {
	select {
	case c.send <- payload:
	default:
		c.logger.Warn("Send buffer full, closing client")
		go c.close()
	}
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastSeen = time.Now()
	c.mu.Unlock()
}

func (c *Client) lastActive() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeen
}

// close cancels the stream; writePump then flushes and closes the connection.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.mu.Lock()
		stream := c.stream
		c.stream = nil
		c.mu.Unlock()
		if stream != nil {
			stream.Close()
		}
	})
}
