package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Subscribe upgrades the connection and hands it to the hub. Authentication
// happens on the socket itself: the client must present its signed token in a
// subscribe message before it is admitted to a room.
func (h *Collector) Subscribe(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("failed to upgrade connection to websocket")
		return
	}
	h.hub.HandleConn(conn)
}
