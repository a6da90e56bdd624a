package realtime

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/SheetWithoutShit/sws-collector/internal/auth"
	"github.com/SheetWithoutShit/sws-collector/models"
)

const (
	subscribeEvent      = "subscribe"
	subscribedEvent     = "subscribed"
	newTransactionEvent = "new transaction"

	writeTimeout   = 10 * time.Second
	sendBufferSize = 256
)

type inboundMessage struct {
	Event string `json:"event"`
	Token string `json:"token"`
}

type outboundMessage struct {
	Event   string      `json:"event"`
	Success bool        `json:"success,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// Client is one websocket subscriber admitted to a per-user room.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	userID int64
}

// Hub tracks live subscribers per user and pushes accepted transactions to
// them. Rooms are keyed by user id; one user may hold several connections.
type Hub struct {
	secret     []byte
	rooms      map[int64]map[*Client]bool
	register   chan *Client
	unregister chan *Client
	mu         sync.Mutex
	log        zerolog.Logger
}

// NewHub creates a hub verifying subscription tokens against secret.
func NewHub(secret []byte, log zerolog.Logger) *Hub {
	return &Hub{
		secret:     secret,
		rooms:      make(map[int64]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		log:        log,
	}
}

// Run processes room membership changes. It must be running before any
// connection is handled.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			room, ok := h.rooms[client.userID]
			if !ok {
				room = make(map[*Client]bool)
				h.rooms[client.userID] = room
			}
			room[client] = true
			h.mu.Unlock()
			h.log.Info().Int64("user_id", client.userID).Msg("client subscribed")

		case client := <-h.unregister:
			h.mu.Lock()
			if room, ok := h.rooms[client.userID]; ok && room[client] {
				delete(room, client)
				if len(room) == 0 {
					delete(h.rooms, client.userID)
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.log.Info().Int64("user_id", client.userID).Msg("client unsubscribed")
		}
	}
}

// PublishTransaction emits a "new transaction" event carrying the raw
// statement to every client in the user's room. Clients that cannot keep up
// are dropped rather than slowing the publish down.
func (h *Hub) PublishTransaction(userID int64, stmt models.Statement) {
	message, err := json.Marshal(outboundMessage{
		Event: newTransactionEvent,
		Data:  map[string]interface{}{"transaction": stmt},
	})
	if err != nil {
		h.log.Error().Err(err).Int64("user_id", userID).Msg("failed to marshal transaction event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.rooms[userID] {
		select {
		case client.send <- message:
		default:
			close(client.send)
			delete(h.rooms[userID], client)
		}
	}
}

// HandleConn adopts an upgraded websocket connection and starts its pumps.
// The connection stays roomless until the client presents a valid token in a
// subscribe message.
func (h *Hub) HandleConn(conn *websocket.Conn) {
	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
	}
	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		if c.userID != 0 {
			c.hub.unregister <- c
		} else {
			close(c.send)
		}
		c.conn.Close()
	}()
	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Warn().Err(err).Msg("unexpected websocket close")
			}
			return
		}

		var msg inboundMessage
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.hub.log.Warn().Err(err).Msg("malformed websocket message")
			continue
		}
		if msg.Event != subscribeEvent || c.userID != 0 {
			continue
		}

		token := strings.TrimPrefix(msg.Token, "Bearer ")
		userID, err := auth.Decode(token, c.hub.secret)
		if err != nil {
			c.hub.log.Warn().Err(err).Msg("websocket subscribe rejected")
			return
		}

		c.userID = userID
		c.hub.register <- c

		ack, _ := json.Marshal(outboundMessage{Event: subscribedEvent, Success: true})
		select {
		case c.send <- ack:
		default:
		}
	}
}

func (c *Client) writePump() {
	defer c.conn.Close()
	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			c.hub.log.Warn().Err(err).Msg("websocket write failed")
			return
		}
	}
}
