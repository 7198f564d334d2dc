// Copyright 2025 CanvasFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package stream pushes canvas change events to browsers over WebSocket.
//
// A Hub is a canvas.Publisher: every event is encoded once and queued to
// each connection watching the event's canvas. Slow clients never block
// the command that produced the event; when a client's queue is full the
// event is dropped for that client and counted.
package stream

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"canvasflow/platform/orchestrator/canvas"
	"canvasflow/platform/shared/logger"
)

const (
	// DefaultQueueSize is the per-connection event buffer.
	DefaultQueueSize = 64

	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

type conn struct {
	ws       *websocket.Conn
	canvasID string
	send     chan []byte
	once     sync.Once
}

func (c *conn) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// Hub tracks WebSocket connections per canvas.
type Hub struct {
	upgrader  websocket.Upgrader
	queueSize int
	log       *logger.Logger

	mu     sync.RWMutex
	conns  map[string]map[*conn]struct{}
	closed bool
	wg     sync.WaitGroup

	delivered atomic.Int64
	dropped   atomic.Int64
}

// Option configures a Hub.
type Option func(*Hub)

// WithQueueSize overrides DefaultQueueSize.
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.queueSize = n
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(l *logger.Logger) Option {
	return func(h *Hub) { h.log = l }
}

// WithCheckOrigin restricts which origins may connect. The default accepts
// any origin.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		queueSize: DefaultQueueSize,
		log:       logger.New("stream"),
		conns:     make(map[string]map[*conn]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Serve upgrades the request and streams events for canvasID until the
// client disconnects or the hub is closed.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, canvasID string) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn(canvasID, "", "WebSocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}

	c := &conn{ws: ws, canvasID: canvasID, send: make(chan []byte, h.queueSize)}
	if !h.add(c) {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
		ws.Close()
		return
	}
	h.log.Info(canvasID, "", "Stream client connected", map[string]interface{}{"clients": h.Clients(canvasID)})

	h.wg.Add(2)
	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) add(c *conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.conns[c.canvasID]
	if !ok {
		set = make(map[*conn]struct{})
		h.conns[c.canvasID] = set
	}
	set[c] = struct{}{}
	return true
}

func (h *Hub) remove(c *conn) {
	h.mu.Lock()
	if set, ok := h.conns[c.canvasID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, c.canvasID)
		}
	}
	h.mu.Unlock()
	c.close()
}

// readLoop discards client messages; it exists to process control frames
// and notice disconnects.
func (h *Hub) readLoop(c *conn) {
	defer h.wg.Done()
	defer h.remove(c)

	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug(c.canvasID, "", "Stream read error", map[string]interface{}{"error": err.Error()})
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *conn) {
	defer h.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.log.Debug(c.canvasID, "", "Stream write failed", map[string]interface{}{"error": err.Error()})
				return
			}
			h.delivered.Add(1)
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish implements canvas.Publisher.
func (h *Hub) Publish(ctx context.Context, event canvas.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	set := h.conns[event.CanvasID]
	if len(set) == 0 {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Error(event.CanvasID, event.RequestID, "Failed to encode event", map[string]interface{}{"error": err.Error()})
		return
	}
	for c := range set {
		select {
		case c.send <- data:
		default:
			h.dropped.Add(1)
			h.log.Warn(event.CanvasID, event.RequestID, "Stream client too slow, event dropped", map[string]interface{}{
				"event": event.Type,
			})
		}
	}
}

// Clients returns the number of connections watching canvasID.
func (h *Hub) Clients(canvasID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns[canvasID])
}

// Stats reports delivered and dropped event counts.
func (h *Hub) Stats() (delivered, dropped int64) {
	return h.delivered.Load(), h.dropped.Load()
}

// Close disconnects every client and waits for their goroutines.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	var all []*conn
	for _, set := range h.conns {
		for c := range set {
			all = append(all, c)
		}
	}
	h.conns = make(map[string]map[*conn]struct{})
	h.mu.Unlock()

	for _, c := range all {
		c.close()
	}
	h.wg.Wait()
	return nil
}
