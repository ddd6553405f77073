package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teranos/recwake/logger"
	"github.com/teranos/recwake/pulse/schedule"
)

// WebSocket timeouts, following the gorilla chat example
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second // must be less than pongWait
	maxMessageSize = 4096             // subscribers only send control frames
)

// wsClient is one job update subscriber.
type wsClient struct {
	server    *Server
	conn      *websocket.Conn
	send      chan []byte
	id        string
	closeOnce sync.Once
}

func (s *Server) upgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  2048,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
}

// handleWebSocket upgrades the connection, sends the current job and then
// streams every transition.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	full := len(s.clients) >= MaxClients
	closing := s.shutdown
	s.mu.RUnlock()
	if closing {
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	if full {
		http.Error(w, "too many subscribers", http.StatusServiceUnavailable)
		return
	}

	up := s.upgrader()
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error
		s.logger.Debugw("WebSocket upgrade failed", logger.FieldError, err)
		return
	}

	c := &wsClient{
		server: s,
		conn:   conn,
		send:   make(chan []byte, MaxClientMessageQueueSize),
		id:     uuid.NewString(),
	}

	// Snapshot first, so a subscriber never has to poll GET /api/job
	job, err := s.ctrl.Status(r.Context())
	if err != nil {
		s.logger.Warnw("Failed to load job for new subscriber", logger.FieldError, err)
	}
	if msg, err := encodeJobUpdate(job); err == nil {
		c.send <- msg
	}

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	s.logger.Debugw("Subscriber connected", "client_id", c.id)

	go c.writePump()
	go c.readPump()
}

func encodeJobUpdate(job *schedule.Job) ([]byte, error) {
	return json.Marshal(JobUpdateMessage{
		Type:      messageTypeJobUpdate,
		Job:       job,
		Timestamp: time.Now().Unix(),
	})
}

// broadcastJob fans a transition out to every subscriber without blocking
// the controller: a full queue drops the message for that client.
func (s *Server) broadcastJob(job *schedule.Job) {
	msg, err := encodeJobUpdate(job)
	if err != nil {
		s.logger.Errorw("Failed to encode job update", logger.FieldError, err)
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	for c := range s.clients {
		select {
		case c.send <- msg:
		default:
			s.logger.Warnw("Subscriber queue full, dropping job update",
				"client_id", c.id, logger.FieldJobID, job.ID)
		}
	}
}

// unregister removes c; the send channel is closed under the lock so a
// concurrent broadcast never sends on a closed channel.
func (s *Server) unregister(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[c] {
		delete(s.clients, c)
		close(c.send)
		s.logger.Debugw("Subscriber disconnected", "client_id", c.id)
	}
}

// readPump discards inbound messages and keeps the read deadline fresh.
func (c *wsClient) readPump() {
	defer func() {
		c.server.unregister(c)
		c.close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.logger.Debugw("Subscriber read error", "client_id", c.id, logger.FieldError, err)
			}
			return
		}
	}
}

// writePump writes queued updates and pings until send is closed.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		_ = c.conn.Close()
	})
}
