package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/weftworks/weft/pkg/api"
	"github.com/weftworks/weft/pkg/log"
)

type (
	// Client represents a WebSocket client connection for event streaming
	Client struct {
		server    *Server
		conn      *websocket.Conn
		send      chan *api.Event
		filter    EventFilter
		done      chan struct{}
		closeOnce sync.Once
	}

	// EventFilter reports whether a client should receive an event
	EventFilter func(*api.Event) bool
)

const (
	writeWait          = 10 * time.Second
	pongWait           = 60 * time.Second
	pingPeriod         = (pongWait * 9) / 10
	maxMessageSize     = 4096
	wsBufferSize       = 1024
	sendBufferSize     = 64
	incomingBufferSize = 16
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsBufferSize,
	WriteBufferSize: wsBufferSize,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket upgrades an HTTP connection to WebSocket and starts
// streaming run events based on the client's subscription
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		slog.Error("WebSocket upgrade failed",
			log.Error(err))
		return
	}

	client := &Client{
		server: s,
		conn:   conn,
		send:   make(chan *api.Event, sendBufferSize),
		filter: matchAll,
		done:   make(chan struct{}),
	}
	s.registerWebSocket(client)

	go client.run()
}

// offer queues an event for delivery without blocking; a slow client
// misses events instead of stalling the run. Filtering happens in the
// client's own loop, which is the only goroutine touching the filter
func (c *Client) offer(ev *api.Event) {
	select {
	case c.send <- ev:
	default:
	}
}

// Close tears down the connection and unblocks the client's run loop. Safe
// to call from both the run loop's defer and a server-wide shutdown
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
	_ = c.conn.Close()
}

func (c *Client) run() {
	defer func() {
		c.server.unregisterWebSocket(c)
		c.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	incoming := make(chan []byte, incomingBufferSize)
	go c.readMessages(incoming)

	for {
		select {
		case <-c.done:
			return

		case message, ok := <-incoming:
			if !ok {
				return
			}
			c.handleSubscribe(message)

		case event := <-c.send:
			if !c.filter(event) {
				continue
			}
			if !c.writeEvent(event) {
				return
			}

		case <-ticker.C:
			if !c.sendPing() {
				return
			}
		}
	}
}

func (c *Client) readMessages(incoming chan []byte) {
	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			close(incoming)
			return
		}
		incoming <- message
	}
}

func (c *Client) handleSubscribe(message []byte) {
	var sub api.SubscribeRequest
	if err := json.Unmarshal(message, &sub); err != nil {
		slog.Error("Failed to parse WebSocket message",
			log.Error(err))
		return
	}

	if sub.Type != "subscribe" {
		return
	}
	c.filter = BuildFilter(&sub.Data)
}

func (c *Client) writeEvent(ev *api.Event) bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(ev); err != nil {
		slog.Error("WebSocket write failed",
			log.Error(err))
		return false
	}
	return true
}

func (c *Client) sendPing() bool {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	err := c.conn.WriteMessage(websocket.PingMessage, nil)
	return err == nil
}

// BuildFilter creates an event filter from a client's subscription. Empty
// subscription fields match every event
func BuildFilter(sub *api.ClientSubscription) EventFilter {
	if sub.RunID == "" && len(sub.EventTypes) == 0 {
		return matchAll
	}

	types := make(map[api.EventType]bool, len(sub.EventTypes))
	for _, t := range sub.EventTypes {
		types[t] = true
	}

	return func(ev *api.Event) bool {
		if sub.RunID != "" && ev.RunID != sub.RunID {
			return false
		}
		if len(types) > 0 && !types[ev.Type] {
			return false
		}
		return true
	}
}

func matchAll(*api.Event) bool {
	return true
}
