package chat

import (
	"encoding/json"
	"net/http"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"market-stream/internal/auth"
	"market-stream/internal/models"
	"market-stream/internal/ratelimit"
)

// API exposes the bidirectional channel's HTTP surface: login, the
// websocket upgrade, and the guarded history query.
type API struct {
	gateway *Gateway
	store   *Store
	auth    *auth.Service
	logger  *zap.Logger
	limiter ratelimit.Limiter
}

func NewAPI(gateway *Gateway, store *Store, authSvc *auth.Service, logger *zap.Logger, limiter ratelimit.Limiter) *API {
	return &API{gateway: gateway, store: store, auth: authSvc, logger: logger, limiter: limiter}
}

func (a *API) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /auth/login", a.Login)
	mux.HandleFunc("GET /chat/history", a.History)
	mux.HandleFunc("GET /ws", ratelimit.Guard(a.limiter, a.logger, a.Connect))
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	token, err := a.auth.Login(req.Email, req.Password)
	if err != nil {
		http.Error(w, "invalid credentials", http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"token": token})
}

// History returns the persisted conversation between user1 and user2,
// normalized by the sorted-pair key regardless of argument order.
func (a *API) History(w http.ResponseWriter, r *http.Request) {
	if _, err := a.auth.Verify(auth.BearerToken(r)); err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	user1 := r.URL.Query().Get("user1")
	user2 := r.URL.Query().Get("user2")

	history, err := a.store.History(user1, user2)
	if err != nil {
		a.logger.Error("Failed to read chat history",
			zap.String("user1", user1), zap.String("user2", user2), zap.Error(err))
		history = []models.ChatMessage{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(history)
}

// Connect authenticates the handshake and upgrades. A missing or invalid
// token is a hard reject before the upgrade; no connection state is created.
func (a *API) Connect(w http.ResponseWriter, r *http.Request) {
	identity, err := a.auth.Verify(auth.BearerToken(r))
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		a.logger.Warn("Websocket upgrade failed", zap.Error(err))
		return
	}

	peer := NewClient(conn, identity, a.gateway, a.logger)
	a.gateway.Join(peer)
	peer.Start()
}
