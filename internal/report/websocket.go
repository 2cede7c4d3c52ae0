package report

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"elephantlog/internal/dsp"
	"elephantlog/internal/knn"
	applog "elephantlog/internal/log"
)

// wsMessage is the JSON envelope pushed to connected host GUIs.
type wsMessage struct {
	Type       string    `json:"type"` // "features", "result" or "status"
	RMS        float64   `json:"rms,omitempty"`
	DominantHz float64   `json:"dominant_hz,omitempty"`
	BandRatio  float64   `json:"band_ratio,omitempty"`
	ZCR        float64   `json:"zcr,omitempty"`
	Label      string    `json:"label,omitempty"`
	Confidence float64   `json:"confidence,omitempty"`
	Status     *Status   `json:"status,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// WebsocketReporter serves a /ws endpoint and broadcasts pipeline output as
// JSON to every connected client. Slow clients are disconnected rather than
// allowed to back-pressure the pipeline.
type WebsocketReporter struct {
	addr      string
	upgrader  websocket.Upgrader
	clients   map[*websocket.Conn]bool
	clientsMu sync.Mutex
	broadcast chan wsMessage
	server    *http.Server
	done      chan struct{}
}

// NewWebsocketReporter starts an HTTP server on addr with a /ws endpoint.
func NewWebsocketReporter(addr string) *WebsocketReporter {
	r := &WebsocketReporter{
		addr: addr,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The device has no origin policy to enforce on a field link.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan wsMessage, 256),
		done:      make(chan struct{}),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", r.handleWebsocket)
	r.server = &http.Server{Addr: addr, Handler: mux}

	go func() {
		applog.Infof("report: websocket server listening on %s", addr)
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			applog.Errorf("report: websocket server error: %v", err)
		}
	}()
	go r.handleBroadcasts()

	return r
}

func (r *WebsocketReporter) handleWebsocket(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		applog.Errorf("report: websocket upgrade error: %v", err)
		return
	}

	r.clientsMu.Lock()
	r.clients[conn] = true
	total := len(r.clients)
	r.clientsMu.Unlock()
	applog.Infof("report: websocket client connected, total: %d", total)

	// Drain the read side until the peer goes away.
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				r.removeClient(conn)
				return
			}
		}
	}()
}

func (r *WebsocketReporter) removeClient(conn *websocket.Conn) {
	r.clientsMu.Lock()
	if r.clients[conn] {
		delete(r.clients, conn)
		conn.Close()
	}
	total := len(r.clients)
	r.clientsMu.Unlock()
	applog.Infof("report: websocket client disconnected, total: %d", total)
}

func (r *WebsocketReporter) handleBroadcasts() {
	for {
		select {
		case msg := <-r.broadcast:
			r.clientsMu.Lock()
			for conn := range r.clients {
				conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := conn.WriteJSON(msg); err != nil {
					delete(r.clients, conn)
					conn.Close()
				}
			}
			r.clientsMu.Unlock()
		case <-r.done:
			return
		}
	}
}

// enqueue never blocks the pipeline: when the broadcast buffer is full the
// message is dropped, matching the lossy semantics of the serial link it
// replaces.
func (r *WebsocketReporter) enqueue(msg wsMessage) error {
	select {
	case r.broadcast <- msg:
	default:
		applog.Debugf("report: websocket broadcast buffer full, dropping %s message", msg.Type)
	}
	return nil
}

func (r *WebsocketReporter) Features(fv dsp.FeatureVector) error {
	return r.enqueue(wsMessage{
		Type:       "features",
		RMS:        fv[dsp.FeatRMS],
		DominantHz: fv[dsp.FeatDominantHz],
		BandRatio:  fv[dsp.FeatBandRatio],
		ZCR:        fv[dsp.FeatZCR],
		Timestamp:  time.Now(),
	})
}

func (r *WebsocketReporter) Result(res knn.Result) error {
	return r.enqueue(wsMessage{
		Type:       "result",
		RMS:        res.Features[dsp.FeatRMS],
		DominantHz: res.Features[dsp.FeatDominantHz],
		BandRatio:  res.Features[dsp.FeatBandRatio],
		ZCR:        res.Features[dsp.FeatZCR],
		Label:      res.Label,
		Confidence: res.Confidence,
		Timestamp:  time.Now(),
	})
}

func (r *WebsocketReporter) Status(st Status) error {
	s := st
	return r.enqueue(wsMessage{Type: "status", Status: &s, Timestamp: time.Now()})
}

// Close stops the broadcast loop, disconnects clients and shuts the server.
func (r *WebsocketReporter) Close() error {
	close(r.done)

	r.clientsMu.Lock()
	for conn := range r.clients {
		conn.Close()
	}
	r.clients = make(map[*websocket.Conn]bool)
	r.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	return r.server.Shutdown(ctx)
}

var _ Reporter = (*WebsocketReporter)(nil)
