// Package stream is the HTTP edge for the one-way push channel: the SSE
// event stream plus the subscription and query endpoints around it.
package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"market-stream/internal/hub"
	"market-stream/internal/market"
	"market-stream/internal/models"
	"market-stream/internal/ratelimit"
)

type Handler struct {
	hub     *hub.Hub
	sim     *market.Simulator
	logger  *zap.Logger
	limiter ratelimit.Limiter
}

func NewHandler(h *hub.Hub, sim *market.Simulator, logger *zap.Logger, limiter ratelimit.Limiter) *Handler {
	return &Handler{hub: h, sim: sim, logger: logger, limiter: limiter}
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /sse/stream/{clientId}", ratelimit.Guard(h.limiter, h.logger, h.Stream))
	mux.HandleFunc("POST /sse/subscribe/{clientId}", h.Subscribe)
	mux.HandleFunc("POST /sse/unsubscribe/{clientId}", h.Unsubscribe)
	mux.HandleFunc("POST /sse/heartbeat/{clientId}", h.Heartbeat)
	mux.HandleFunc("GET /sse/stocks", h.Symbols)
	mux.HandleFunc("GET /sse/stocks/data", h.StockData)
	mux.HandleFunc("GET /sse/stocks/data/{symbols}", h.StockData)
	mux.HandleFunc("GET /sse/stats", h.Stats)
	mux.HandleFunc("GET /sse/clients", h.Clients)
	mux.HandleFunc("GET /sse/health", h.Health)
}

type subscriptionRequest struct {
	Symbols []string `json:"symbols"`
}

type actionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type connectionEstablished struct {
	Type      string    `json:"type"`
	ClientID  string    `json:"clientId"`
	Timestamp time.Time `json:"timestamp"`
}

// Stream registers the client and serves its event stream until either side
// closes. Client close unregisters immediately; a closed frame channel means
// the hub already unregistered us (idle reaping).
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientId")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sub, err := h.hub.Register(clientID)
	if err != nil {
		if errors.Is(err, hub.ErrDuplicateClient) {
			writeJSON(w, http.StatusConflict, actionResponse{Success: false, Message: "Client id already connected"})
			return
		}
		http.Error(w, "registration failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	writeFrame(w, connectionEstablished{Type: "connection_established", ClientID: clientID, Timestamp: time.Now()})
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			h.hub.Unregister(clientID)
			return
		case event, open := <-sub.Frames():
			if !open {
				return
			}
			writeFrame(w, event)
			flusher.Flush()
		}
	}
}

func (h *Handler) Subscribe(w http.ResponseWriter, r *http.Request) {
	h.mutateSubscription(w, r, h.hub.Subscribe, "subscribed to")
}

func (h *Handler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	h.mutateSubscription(w, r, h.hub.Unsubscribe, "unsubscribed from")
}

func (h *Handler) mutateSubscription(w http.ResponseWriter, r *http.Request, op func(string, []string) bool, verb string) {
	clientID := r.PathValue("clientId")

	var req subscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, actionResponse{Success: false, Message: "Invalid JSON body"})
		return
	}

	if op(clientID, req.Symbols) {
		writeJSON(w, http.StatusOK, actionResponse{
			Success: true,
			Message: fmt.Sprintf("Successfully %s %s", verb, strings.Join(req.Symbols, ", ")),
		})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: false, Message: "Client not found or connection inactive"})
}

func (h *Handler) Heartbeat(w http.ResponseWriter, r *http.Request) {
	clientID := r.PathValue("clientId")
	if h.hub.Heartbeat(clientID) {
		writeJSON(w, http.StatusOK, actionResponse{Success: true, Message: "Heartbeat recorded"})
		return
	}
	writeJSON(w, http.StatusOK, actionResponse{Success: false, Message: "Client not found or connection inactive"})
}

func (h *Handler) Symbols(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"symbols": h.sim.Symbols()})
}

// StockData returns the current snapshot, optionally narrowed to the
// comma-separated symbols path segment.
func (h *Handler) StockData(w http.ResponseWriter, r *http.Request) {
	var symbols []string
	if raw := r.PathValue("symbols"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			symbols = append(symbols, strings.ToUpper(strings.TrimSpace(s)))
		}
	}
	writeJSON(w, http.StatusOK, map[string][]models.Quote{"stocks": h.sim.Snapshot(symbols)})
}

type statsResponse struct {
	models.Stats
	SubscribedStocks []string `json:"subscribedStocks"`
}

func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{Stats: h.hub.Stats(), SubscribedStocks: h.sim.Symbols()})
}

func (h *Handler) Clients(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]models.ClientInfo{"clients": h.hub.Clients()})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "healthy", "timestamp": time.Now()})
}

// writeFrame emits one self-delimited SSE envelope: data: <json>\n\n.
func writeFrame(w http.ResponseWriter, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", payload)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
