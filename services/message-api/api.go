package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultMessageLimit = 50
	maxMessageLimit     = 500
	defaultNodeLimit    = 100
	maxNodeLimit        = 1000

	streamWriteTimeout = 5 * time.Second
	streamPingInterval = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Stejná politika jako CorsMiddleware
	CheckOrigin: func(r *http.Request) bool { return true },
}

// APIHandler sdružuje metody pro obsluhu HTTP požadavků.
type APIHandler struct {
	store  MessageReader
	hub    *Hub // nil = stream vypnutý
	logger *slog.Logger
}

// NewAPIHandler vytváří novou instanci handleru.
func NewAPIHandler(store MessageReader, hub *Hub, logger *slog.Logger) *APIHandler {
	return &APIHandler{store: store, hub: hub, logger: logger}
}

// RegisterRoutes mapuje URL cesty na handlery (router Go 1.22+).
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/messages", h.handleListMessages)
	mux.HandleFunc("GET /api/nodes", h.handleListNodes)
	mux.HandleFunc("GET /api/stream", h.handleStream)
}

// handleListMessages: GET /api/messages?type=msg&source=OE1ABC&limit=50
func (h *APIHandler) handleListMessages(w http.ResponseWriter, r *http.Request) {
	q, err := parseMessageQuery(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	messages, err := h.store.ListMessages(r.Context(), q)
	if err != nil {
		h.logger.Error("Chyba při získávání zpráv", "error", err)
		http.Error(w, "Interní chyba serveru", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, messages)
}

// handleListNodes: GET /api/nodes?limit=100
func (h *APIHandler) handleListNodes(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), defaultNodeLimit, maxNodeLimit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	nodes, err := h.store.ListNodes(r.Context(), limit)
	if errors.Is(err, ErrNodesUnavailable) {
		http.Error(w, "Cache stanic není nakonfigurovaná", http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		h.logger.Error("Chyba při získávání stanic", "error", err)
		http.Error(w, "Interní chyba serveru", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, nodes)
}

// handleStream: GET /api/stream (WebSocket), živé záznamy ze sběrnice.
// Volitelný ?type= omezí stream na jeden typ.
func (h *APIHandler) handleStream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		http.Error(w, "Stream není nakonfigurovaný", http.StatusServiceUnavailable)
		return
	}
	typeFilter := r.URL.Query().Get("type")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrader už odpověděl klientovi
		h.logger.Warn("WebSocket upgrade selhal", "error", err)
		return
	}
	defer conn.Close()

	events, unsubscribe := h.hub.Subscribe()
	defer unsubscribe()
	h.logger.Debug("Klient streamu připojen", "remote", r.RemoteAddr, "type", typeFilter)

	// Čtecí smyčka jen hlídá odpojení klienta
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout)); err != nil {
				return
			}
		case ev, ok := <-events:
			if !ok {
				// Hub se zavírá (shutdown)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(streamWriteTimeout))
				return
			}
			if typeFilter != "" && ev.Type != typeFilter {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("Zápis do streamu selhal", "error", err)
				return
			}
		}
	}
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("Chyba při zápisu JSON odpovědi", "error", err)
	}
}

// parseMessageQuery přečte filtry z URL. Limit nad maximum se ořízne.
func parseMessageQuery(r *http.Request) (MessageQuery, error) {
	values := r.URL.Query()
	limit, err := parseLimit(values.Get("limit"), defaultMessageLimit, maxMessageLimit)
	if err != nil {
		return MessageQuery{}, err
	}
	return MessageQuery{
		Type:   values.Get("type"),
		Source: values.Get("source"),
		Limit:  limit,
	}, nil
}

func parseLimit(raw string, fallback, upper int) (int, error) {
	if raw == "" {
		return fallback, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, errors.New("limit musí být kladné celé číslo")
	}
	return min(limit, upper), nil
}

// CorsMiddleware přidává hlavičky, které povolí volání API z prohlížeče
// běžícího na jiném portu/doméně.
func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		// Preflight request odbavíme rovnou
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
