package server

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/ayusman/aicam/internal/detection"
	"github.com/ayusman/aicam/internal/labels"
	"github.com/cyclopcam/logs"
	"github.com/gorilla/websocket"
)

// LiveInterval is the time between two pushes of the detection list (~15 fps).
const LiveInterval = 66 * time.Millisecond

const writeWait = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow local connections
	},
}

type detectionMessage struct {
	detection.Detection
	Label string `json:"label"`
}

// MarshalJSON adds the label to the detection's own encoding.
func (m detectionMessage) MarshalJSON() ([]byte, error) {
	b := m.Box()
	return json.Marshal(struct {
		Box      [4]int  `json:"box"`
		Category int     `json:"category"`
		Conf     float64 `json:"conf"`
		Label    string  `json:"label"`
	}{
		Box:      [4]int{b.X, b.Y, b.Width, b.Height},
		Category: m.Category(),
		Conf:     float64(m.Confidence()),
		Label:    m.Label,
	})
}

type detectionsMessage struct {
	Detections []detectionMessage `json:"detections"`
	Timestamp  int64              `json:"timestamp"`
}

func newDetectionsMessage(cat *labels.Catalog, dets []detection.Detection) detectionsMessage {
	msg := detectionsMessage{
		Detections: make([]detectionMessage, 0, len(dets)),
		Timestamp:  time.Now().UnixMilli(),
	}
	for _, d := range dets {
		msg.Detections = append(msg.Detections, detectionMessage{Detection: d, Label: cat.Label(d.Category())})
	}
	return msg
}

// LiveHandler pushes the latest detections to every connected WebSocket client.
type LiveHandler struct {
	log     logs.Log
	labels  *labels.Catalog
	latest  *detection.Latest
	clients map[*websocket.Conn]bool
	mu      sync.RWMutex
	stop    chan struct{}
	once    sync.Once
}

// NewLiveHandler creates a LiveHandler and starts broadcasting. Call Close to stop it.
func NewLiveHandler(log logs.Log, cat *labels.Catalog, latest *detection.Latest) *LiveHandler {
	h := &LiveHandler{
		log:     log,
		labels:  cat,
		latest:  latest,
		clients: make(map[*websocket.Conn]bool),
		stop:    make(chan struct{}),
	}
	go h.broadcast()
	return h
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *LiveHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if h.log != nil {
			h.log.Warnf("websocket upgrade error: %v", err)
		}
		return
	}
	defer conn.Close()

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
	}()

	// Keep connection alive by reading messages
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}

// Clients returns the number of connected clients.
func (h *LiveHandler) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close stops broadcasting and disconnects every client.
func (h *LiveHandler) Close() {
	h.once.Do(func() {
		close(h.stop)
		h.mu.Lock()
		defer h.mu.Unlock()
		for conn := range h.clients {
			conn.Close()
		}
	})
}

// broadcast sends the detection list to all connected clients.
func (h *LiveHandler) broadcast() {
	ticker := time.NewTicker(LiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
		}

		h.mu.RLock()
		if len(h.clients) == 0 {
			h.mu.RUnlock()
			continue
		}
		h.mu.RUnlock()

		msg, err := json.Marshal(newDetectionsMessage(h.labels, h.latest.Load()))
		if err != nil {
			continue
		}

		h.mu.RLock()
		for conn := range h.clients {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.TextMessage, msg)
		}
		h.mu.RUnlock()
	}
}
