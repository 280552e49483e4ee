package stream_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"market-stream/internal/hub"
	"market-stream/internal/market"
	"market-stream/internal/models"
	"market-stream/internal/stream"
)

func startServer(t *testing.T) (*httptest.Server, *hub.Hub) {
	t.Helper()

	sim := market.NewSimulator(market.RealRand{Rand: rand.New(rand.NewSource(1))}, market.RealClock{})
	h := hub.NewHub(16, zap.NewNop())

	mux := http.NewServeMux()
	stream.NewHandler(h, sim, zap.NewNop(), nil).RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, h
}

// readFrame reads one "data: <json>\n\n" envelope off the SSE stream.
func readFrame(t *testing.T, r *bufio.Reader) []byte {
	t.Helper()

	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("Reading SSE frame: %v", err)
	}
	if !strings.HasPrefix(line, "data: ") {
		t.Fatalf("Malformed SSE line: %q", line)
	}
	if blank, err := r.ReadString('\n'); err != nil || strings.TrimSpace(blank) != "" {
		t.Fatalf("Frame not terminated by blank line: %q %v", blank, err)
	}
	return []byte(strings.TrimSuffix(strings.TrimPrefix(line, "data: "), "\n"))
}

func openStream(t *testing.T, serverURL, clientID string) (*http.Response, *bufio.Reader) {
	t.Helper()

	resp, err := http.Get(fmt.Sprintf("%s/sse/stream/%s", serverURL, clientID))
	if err != nil {
		t.Fatalf("Stream request failed: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp, bufio.NewReader(resp.Body)
}

func postJSON(t *testing.T, url string, body string) map[string]interface{} {
	t.Helper()

	resp, err := http.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	var decoded map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("Decoding response: %v", err)
	}
	return decoded
}

func TestStream_ConnectionEstablishedFirst(t *testing.T) {
	server, _ := startServer(t)

	resp, reader := openStream(t, server.URL, "c1")
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	var envelope struct {
		Type     string `json:"type"`
		ClientID string `json:"clientId"`
	}
	if err := json.Unmarshal(readFrame(t, reader), &envelope); err != nil {
		t.Fatalf("Bad first frame: %v", err)
	}
	if envelope.Type != "connection_established" || envelope.ClientID != "c1" {
		t.Errorf("Unexpected first frame: %+v", envelope)
	}
}

func TestStream_FilteredDeliveryScenario(t *testing.T) {
	server, h := startServer(t)

	_, reader := openStream(t, server.URL, "c1")
	readFrame(t, reader) // connection_established

	res := postJSON(t, server.URL+"/sse/subscribe/c1", `{"symbols":["AAPL"]}`)
	if res["success"] != true {
		t.Fatalf("Subscribe failed: %v", res)
	}

	h.Publish(models.UpdateEvent{
		Type: models.UpdatePrice,
		Data: []models.Quote{
			{Symbol: "AAPL", Price: 150.25},
			{Symbol: "GOOGL", Price: 2800.5},
		},
		Timestamp: time.Now(),
	})

	var event models.UpdateEvent
	if err := json.Unmarshal(readFrame(t, reader), &event); err != nil {
		t.Fatalf("Bad update frame: %v", err)
	}
	if len(event.Data) != 1 || event.Data[0].Symbol != "AAPL" {
		t.Fatalf("Expected only AAPL, got %+v", event.Data)
	}

	// After unsubscribing nothing matches, but the frame still arrives.
	res = postJSON(t, server.URL+"/sse/unsubscribe/c1", `{"symbols":["AAPL"]}`)
	if res["success"] != true {
		t.Fatalf("Unsubscribe failed: %v", res)
	}
	postJSON(t, server.URL+"/sse/subscribe/c1", `{"symbols":["TSLA"]}`)

	h.Publish(models.UpdateEvent{
		Type:      models.UpdatePrice,
		Data:      []models.Quote{{Symbol: "AAPL", Price: 151}},
		Timestamp: time.Now(),
	})

	if err := json.Unmarshal(readFrame(t, reader), &event); err != nil {
		t.Fatalf("Bad update frame: %v", err)
	}
	if len(event.Data) != 0 {
		t.Fatalf("Expected empty payload, got %+v", event.Data)
	}
}

func TestStream_DuplicateClientIDConflicts(t *testing.T) {
	server, _ := startServer(t)

	_, reader := openStream(t, server.URL, "c1")
	readFrame(t, reader)

	resp, err := http.Get(server.URL + "/sse/stream/c1")
	if err != nil {
		t.Fatalf("Second stream request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Duplicate id: status %d, want 409", resp.StatusCode)
	}
}

func TestSubscribe_UnknownClient(t *testing.T) {
	server, _ := startServer(t)

	res := postJSON(t, server.URL+"/sse/subscribe/ghost", `{"symbols":["AAPL"]}`)
	if res["success"] != false {
		t.Fatalf("Expected failure for unknown client, got %v", res)
	}
	if !strings.Contains(res["message"].(string), "not found") {
		t.Errorf("Unexpected message: %v", res["message"])
	}
}

func TestHeartbeat(t *testing.T) {
	server, _ := startServer(t)

	_, reader := openStream(t, server.URL, "c1")
	readFrame(t, reader)

	res := postJSON(t, server.URL+"/sse/heartbeat/c1", `{}`)
	if res["success"] != true {
		t.Fatalf("Heartbeat failed: %v", res)
	}
}

func TestSymbolsEndpoint(t *testing.T) {
	server, _ := startServer(t)

	resp, err := http.Get(server.URL + "/sse/stocks")
	if err != nil {
		t.Fatalf("GET /sse/stocks failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Symbols []string `json:"symbols"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decoding: %v", err)
	}
	if len(body.Symbols) != 16 {
		t.Errorf("Got %d symbols, want 16", len(body.Symbols))
	}
}

func TestStockDataEndpoint(t *testing.T) {
	server, _ := startServer(t)

	resp, err := http.Get(server.URL + "/sse/stocks/data/aapl,%20googl")
	if err != nil {
		t.Fatalf("GET stock data failed: %v", err)
	}
	defer resp.Body.Close()

	var body struct {
		Stocks []models.Quote `json:"stocks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Decoding: %v", err)
	}
	if len(body.Stocks) != 2 {
		t.Fatalf("Got %d quotes, want 2 (symbols should be upcased and trimmed)", len(body.Stocks))
	}
}

func TestStatsEndpoint(t *testing.T) {
	server, h := startServer(t)

	_, reader := openStream(t, server.URL, "c1")
	readFrame(t, reader)
	h.Publish(models.UpdateEvent{Type: models.UpdatePrice, Timestamp: time.Now()})

	resp, err := http.Get(server.URL + "/sse/stats")
	if err != nil {
		t.Fatalf("GET /sse/stats failed: %v", err)
	}
	defer resp.Body.Close()

	var stats struct {
		TotalConnections  int64    `json:"totalConnections"`
		ActiveConnections int      `json:"activeConnections"`
		TotalMessagesSent int64    `json:"totalMessagesSent"`
		SubscribedStocks  []string `json:"subscribedStocks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("Decoding: %v", err)
	}
	if stats.ActiveConnections != 1 || stats.TotalConnections != 1 {
		t.Errorf("Connection counters wrong: %+v", stats)
	}
	if stats.TotalMessagesSent != 1 {
		t.Errorf("TotalMessagesSent = %d, want 1", stats.TotalMessagesSent)
	}
	if len(stats.SubscribedStocks) != 16 {
		t.Errorf("subscribedStocks has %d entries, want 16", len(stats.SubscribedStocks))
	}
}

func TestClientCloseUnregistersImmediately(t *testing.T) {
	server, h := startServer(t)

	resp, err := http.Get(server.URL + "/sse/stream/c1")
	if err != nil {
		t.Fatalf("Stream request failed: %v", err)
	}
	reader := bufio.NewReader(resp.Body)
	readFrame(t, reader)
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if h.Stats().ActiveConnections == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("Client close did not unregister the subscriber")
}
