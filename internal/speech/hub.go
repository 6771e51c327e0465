package speech

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Event types sent to websocket listeners.
const (
	// EventSpeak asks the listener to cancel current playback and speak the text.
	EventSpeak = "speak"
	// EventAudio announces that a server-side clip is ready for the utterance.
	EventAudio = "audio"
)

// Websocket timing and buffering
const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
	maxReadBytes  = 512
	subscriberBuf = 16
)

// Event is the JSON frame pushed to listeners.
type Event struct {
	Type      string    `json:"type"`
	Utterance Utterance `json:"utterance"`
}

type subscriber struct {
	send chan Event
}

// Hub fans utterances out to websocket listeners grouped by channel.
type Hub struct {
	upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[string]map[*subscriber]struct{}
}

// NewHub creates a Hub. checkOrigin may be nil to accept any origin.
func NewHub(checkOrigin func(r *http.Request) bool) *Hub {
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			CheckOrigin:     checkOrigin,
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		subs: make(map[string]map[*subscriber]struct{}),
	}
}

// Subscribers returns the number of listeners on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[channel])
}

// Publish delivers ev to every listener on channel without blocking. A
// listener whose buffer is full misses the event. Returns the number of
// listeners that received it.
func (h *Hub) Publish(channel string, ev Event) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	delivered := 0
	for sub := range h.subs[channel] {
		select {
		case sub.send <- ev:
			delivered++
		default:
			slog.Warn("Hub.Publish: listener buffer full, dropping event", "channel", channel, "type", ev.Type)
		}
	}
	return delivered
}

// CloseChannel disconnects every listener on channel.
func (h *Hub) CloseChannel(channel string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs[channel] {
		close(sub.send)
	}
	delete(h.subs, channel)
}

// ServeWS upgrades the request and streams channel events until the client
// disconnects or the channel is closed.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, channel string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("Hub.ServeWS: websocket upgrade failed", "error", err, "channel", channel)
		return
	}
	defer conn.Close()

	sub := &subscriber{send: make(chan Event, subscriberBuf)}
	h.add(channel, sub)
	defer h.remove(channel, sub)
	slog.Debug("Hub.ServeWS: listener connected", "channel", channel)

	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		conn.SetReadLimit(maxReadBytes)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case ev, ok := <-sub.send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"))
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				slog.Debug("Hub.ServeWS: write failed", "error", err, "channel", channel)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-readerDone:
			slog.Debug("Hub.ServeWS: listener disconnected", "channel", channel)
			return
		}
	}
}

func (h *Hub) add(channel string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[channel] == nil {
		h.subs[channel] = make(map[*subscriber]struct{})
	}
	h.subs[channel][sub] = struct{}{}
}

// remove drops sub if CloseChannel has not already done so.
func (h *Hub) remove(channel string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.subs[channel]
	if _, ok := set[sub]; !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(h.subs, channel)
	}
}
