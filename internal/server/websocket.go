package server

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleWebSocket upgrades to WebSocket and streams parsed entries to
// the client as JSON, one object per message.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	entries := s.hub.Subscribe()

	// Read pump — detect client disconnect.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				conn.Close()
				return
			}
		}
	}()

	// Write pump — the entry struct's JSON tags already produce the
	// reference serialization (null timestamp, fields object).
	for entry := range entries {
		if entry.Fields == nil {
			entry.Fields = map[string]string{}
		}
		if err := conn.WriteJSON(entry); err != nil {
			log.Printf("websocket write failed: %v", err)
			return
		}
	}
}
