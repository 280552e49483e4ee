package market

import (
	"math"
	"sort"
	"sync"
	"time"

	"market-stream/internal/models"
)

const (
	tickVolatility = 0.02 // +/-1% per tick
	openVolatility = 0.01 // +/-0.5% at the opening bell
	minVolume      = 100000
	volumeSwing    = 100000
)

var basePrices = map[string]float64{
	"AAPL": 150, "GOOGL": 2800, "MSFT": 300, "AMZN": 3300,
	"TSLA": 800, "META": 350, "NVDA": 500, "NFLX": 600,
	"AMD": 100, "INTC": 50, "CRM": 200, "ORCL": 80,
	"ADBE": 500, "PYPL": 250, "UBER": 40, "LYFT": 30,
}

// Simulator owns the authoritative quote state for every tracked symbol.
// It is the single writer; everything else reads copied snapshots.
type Simulator struct {
	mu      sync.RWMutex
	rnd     Rand
	clock   Clock
	symbols []string
	quotes  map[string]*models.Quote
}

func NewSimulator(rnd Rand, clock Clock) *Simulator {
	s := &Simulator{
		rnd:    rnd,
		clock:  clock,
		quotes: make(map[string]*models.Quote, len(basePrices)),
	}

	for symbol := range basePrices {
		s.symbols = append(s.symbols, symbol)
	}
	sort.Strings(s.symbols)

	now := clock.Now()
	for _, symbol := range s.symbols {
		base := basePrices[symbol]
		s.quotes[symbol] = &models.Quote{
			Symbol:        symbol,
			Price:         round2(base),
			Volume:        int64(rnd.Intn(1000000)) + minVolume,
			High:          round2(base * 1.05),
			Low:           round2(base * 0.95),
			Open:          round2(base),
			PreviousClose: round2(base),
			Timestamp:     now,
		}
	}
	return s
}

// Symbols returns all tracked symbols in sorted order.
func (s *Simulator) Symbols() []string {
	out := make([]string, len(s.symbols))
	copy(out, s.symbols)
	return out
}

// Snapshot returns copies of the current quotes. A nil or empty symbol list
// means all symbols; unknown symbols are skipped.
func (s *Simulator) Snapshot(symbols []string) []models.Quote {
	s.mu.RLock()
	defer s.mu.RUnlock()

	target := symbols
	if len(target) == 0 {
		target = s.symbols
	}

	out := make([]models.Quote, 0, len(target))
	for _, symbol := range target {
		if q, ok := s.quotes[symbol]; ok {
			out = append(out, *q)
		}
	}
	return out
}

// Tick advances every symbol by one bounded random-walk step and returns a
// price_update event carrying the full updated set.
func (s *Simulator) Tick() models.UpdateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for _, symbol := range s.symbols {
		q := s.quotes[symbol]

		newPrice := q.Price * (1 + (s.rnd.Float64()-0.5)*tickVolatility)
		change := newPrice - q.PreviousClose

		q.High = round2(math.Max(q.High, newPrice))
		q.Low = round2(math.Min(q.Low, newPrice))
		q.Price = round2(newPrice)
		q.Change = round2(change)
		q.ChangePercent = round2(change / q.PreviousClose * 100)
		q.Volume = perturbVolume(q.Volume, s.rnd)
		q.Timestamp = now
	}

	return s.event(models.UpdatePrice, now)
}

// VolumeTick perturbs traded volumes without touching prices and returns a
// volume_update event.
func (s *Simulator) VolumeTick() models.UpdateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for _, symbol := range s.symbols {
		q := s.quotes[symbol]
		q.Volume = perturbVolume(q.Volume, s.rnd)
		q.Timestamp = now
	}

	return s.event(models.UpdateVolume, now)
}

// OpeningBell reopens the market: price gaps to previousClose +/-0.5%, the
// session high/low reset to the new opening price.
func (s *Simulator) OpeningBell() models.UpdateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	for _, symbol := range s.symbols {
		q := s.quotes[symbol]

		open := round2(q.PreviousClose * (1 + (s.rnd.Float64()-0.5)*openVolatility))
		q.Price = open
		q.Open = open
		q.Change = round2(open - q.PreviousClose)
		q.ChangePercent = round2((open - q.PreviousClose) / q.PreviousClose * 100)
		q.High = open
		q.Low = open
		q.Timestamp = now
	}

	return s.event(models.UpdateMarketOpen, now)
}

// ClosingBell emits a market_close event with the current set, unchanged.
func (s *Simulator) ClosingBell() models.UpdateEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.event(models.UpdateMarketClose, s.clock.Now())
}

// event snapshots all quotes into an immutable update. Callers must hold mu.
func (s *Simulator) event(kind string, now time.Time) models.UpdateEvent {
	data := make([]models.Quote, 0, len(s.symbols))
	for _, symbol := range s.symbols {
		data = append(data, *s.quotes[symbol])
	}
	return models.UpdateEvent{Type: kind, Data: data, Timestamp: now}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func perturbVolume(volume int64, rnd Rand) int64 {
	delta := int64(math.Floor((rnd.Float64() - 0.5) * volumeSwing))
	if v := volume + delta; v > minVolume {
		return v
	}
	return minVolume
}
