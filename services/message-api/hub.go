package main

import (
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const subscriberBuffer = 64

// Hub rozesílá záznamy ze sběrnice všem připojeným WebSocket klientům.
// Pomalý klient o zprávy přijde, ostatní nečekají.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[chan StreamEvent]struct{}
	dropped     int64
	closed      bool
	logger      *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subscribers: make(map[chan StreamEvent]struct{}),
		logger:      logger,
	}
}

// Subscribe vrátí kanál s událostmi a funkci pro odhlášení.
// Po Close hubu je kanál rovnou zavřený.
func (h *Hub) Subscribe() (<-chan StreamEvent, func()) {
	ch := make(chan StreamEvent, subscriberBuffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch, func() {}
	}
	h.subscribers[ch] = struct{}{}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if _, ok := h.subscribers[ch]; ok {
				delete(h.subscribers, ch)
				close(ch)
			}
		})
	}
}

// Broadcast pošle událost všem odběratelům bez blokování.
func (h *Hub) Broadcast(ev StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for ch := range h.subscribers {
		select {
		case ch <- ev:
		default:
			h.dropped++
			h.logger.Debug("Pomalý klient streamu, událost zahozena", "dropped_total", h.dropped)
		}
	}
}

// Subscribers vrací počet připojených klientů.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Dropped vrací počet zahozených událostí kvůli pomalým klientům.
func (h *Hub) Dropped() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.dropped
}

// Close zavře všechny kanály, WebSocket smyčky tím skončí.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subscribers {
		close(ch)
	}
	h.subscribers = nil
}

// HandleMQTT je callback pro paho: "<prefix>/<type>" -> StreamEvent.
func (h *Hub) HandleMQTT(_ mqtt.Client, msg mqtt.Message) {
	topic := msg.Topic()
	recordType := topic
	if i := strings.LastIndexByte(topic, '/'); i >= 0 {
		recordType = topic[i+1:]
	}

	if !json.Valid(msg.Payload()) {
		h.logger.Warn("Záznam ze sběrnice není JSON", "topic", topic)
		return
	}
	// Payload je sdílený bufferem paho, kopírujeme
	payload := append([]byte(nil), msg.Payload()...)
	h.Broadcast(StreamEvent{Type: recordType, Topic: topic, Record: payload})
}
