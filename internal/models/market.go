package models

import "time"

// Update event kinds pushed over the SSE stream.
const (
	UpdatePrice       = "price_update"
	UpdateVolume      = "volume_update"
	UpdateMarketOpen  = "market_open"
	UpdateMarketClose = "market_close"
)

// Quote is the current market state for a single symbol.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"changePercent"`
	Volume        int64     `json:"volume"`
	High          float64   `json:"high"`
	Low           float64   `json:"low"`
	Open          float64   `json:"open"`
	PreviousClose float64   `json:"previousClose"`
	Timestamp     time.Time `json:"timestamp"`
}

// UpdateEvent is one immutable, timestamped notification fanned out to
// subscribers. Data always carries full quotes; per-client filtering
// happens at broadcast time.
type UpdateEvent struct {
	Type      string    `json:"type"`
	Data      []Quote   `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Stats reports aggregate delivery counters for the push channel.
// Uptime and AverageLatency are in milliseconds.
type Stats struct {
	TotalConnections  int64   `json:"totalConnections"`
	ActiveConnections int     `json:"activeConnections"`
	TotalMessagesSent int64   `json:"totalMessagesSent"`
	AverageLatency    float64 `json:"averageLatency"`
	Uptime            int64   `json:"uptime"`
}

// ClientInfo is the read-only view of a registered subscriber returned by
// the clients listing endpoint.
type ClientInfo struct {
	ID            string    `json:"id"`
	ConnectedAt   time.Time `json:"connectedAt"`
	LastActivity  time.Time `json:"lastActivity"`
	Subscriptions []string  `json:"subscriptions"`
	IsActive      bool      `json:"isActive"`
}
