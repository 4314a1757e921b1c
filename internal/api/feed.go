package api

import (
	"context"
	"log"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/goccy/go-json"

	"github.com/elasticmodels/elastic/internal/events"
)

// MessageConnected is sent to a client right after it joins the feed.
const MessageConnected events.Type = "connected"

// Feed pushes registry and store events to websocket clients.
// It implements events.Notifier; Notify never blocks.
type Feed struct {
	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan events.Event
	running   atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// NewFeed creates a feed. Call Start before clients connect.
func NewFeed(logger *log.Logger) *Feed {
	ctx, cancel := context.WithCancel(context.Background())
	return &Feed{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan events.Event, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start runs the broadcast loop.
func (f *Feed) Start() {
	f.running.Store(true)
	f.wg.Add(1)
	go f.broadcastLoop()
}

// Stop disconnects every client and waits for the loop to exit.
func (f *Feed) Stop() {
	f.running.Store(false)
	f.cancel()

	f.clientsMu.Lock()
	for conn := range f.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(f.clients, conn)
	}
	f.clientsMu.Unlock()

	f.wg.Wait()
}

// Notify queues e for every connected client. Events are dropped when the
// feed is not running or its queue is full.
func (f *Feed) Notify(e events.Event) {
	if !f.running.Load() {
		return
	}
	select {
	case f.broadcast <- e:
	case <-f.ctx.Done():
	default:
		f.logger.Println("Warning: feed queue full, dropping event")
	}
}

// ClientCount returns the number of connected clients.
func (f *Feed) ClientCount() int {
	f.clientsMu.RLock()
	defer f.clientsMu.RUnlock()
	return len(f.clients)
}

func (f *Feed) broadcastLoop() {
	defer f.wg.Done()

	for {
		select {
		case <-f.ctx.Done():
			return

		case e := <-f.broadcast:
			if e.Timestamp.IsZero() {
				e.Timestamp = time.Now().UTC()
			}
			data, err := json.Marshal(e)
			if err != nil {
				f.logger.Printf("Failed to marshal event: %v", err)
				continue
			}

			f.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(f.clients))
			for conn := range f.clients {
				clients = append(clients, conn)
			}
			f.clientsMu.RUnlock()

			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(f.ctx, 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()
				if err != nil {
					f.logger.Printf("Failed to send to client: %v", err)
					f.removeClient(conn)
				}
			}
		}
	}
}

// ServeHTTP upgrades the request to a websocket and registers the client.
func (f *Feed) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		f.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	f.clientsMu.Lock()
	f.clients[conn] = true
	count := len(f.clients)
	f.clientsMu.Unlock()

	f.logger.Printf("Client connected (total: %d)", count)

	hello, _ := json.Marshal(events.Event{Type: MessageConnected, Timestamp: time.Now().UTC()})
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	_ = conn.Write(ctx, websocket.MessageText, hello)
	cancel()

	f.readLoop(conn)
}

// readLoop blocks until the client goes away. Client messages are ignored.
func (f *Feed) readLoop(conn *websocket.Conn) {
	defer f.removeClient(conn)

	for {
		if _, _, err := conn.Read(f.ctx); err != nil {
			return
		}
	}
}

func (f *Feed) removeClient(conn *websocket.Conn) {
	f.clientsMu.Lock()
	if _, ok := f.clients[conn]; !ok {
		f.clientsMu.Unlock()
		return
	}
	delete(f.clients, conn)
	count := len(f.clients)
	f.clientsMu.Unlock()

	_ = conn.Close(websocket.StatusNormalClosure, "")
	f.logger.Printf("Client disconnected (total: %d)", count)
}
