package sources

import (
	"context"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"marketwatch/internal/domain/market"
)

// Synthetic generates deterministic, gently oscillating quotes.
// It stands in for any asset class without a configured vendor.
type Synthetic struct {
	tick atomic.Int64
	now  func() time.Time
}

// NewSynthetic creates a synthetic source starting at tick 0
func NewSynthetic() *Synthetic {
	return &Synthetic{now: time.Now}
}

// Name identifies the source
func (s *Synthetic) Name() market.Source {
	return market.SourceSynthetic
}

// GetQuotes advances the tick and prices every symbol; it never fails
func (s *Synthetic) GetQuotes(_ context.Context, symbols []string) ([]market.UniversalQuote, error) {
	tick := s.tick.Add(1)
	now := s.now()

	quotes := make([]market.UniversalQuote, 0, len(symbols))
	for _, symbol := range symbols {
		q := SyntheticQuote(symbol, tick)
		q.Ts = now
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// Search has no catalogue to search
func (s *Synthetic) Search(context.Context, string) ([]market.SearchResult, error) {
	return nil, nil
}

// History has no past to replay
func (s *Synthetic) History(context.Context, string, string) ([]market.Candle, error) {
	return nil, nil
}

// SyntheticQuote prices symbol at tick: a base in 80..299 derived from the symbol hash,
// plus two sine waves. Price and change are rounded to cents.
func SyntheticQuote(symbol string, tick int64) market.UniversalQuote {
	upper := strings.ToUpper(symbol)
	h := symbolHash(upper)
	base := float64(80 + h%220)
	wave1 := math.Sin((float64(tick)+float64(h%10))/3) * 2.0
	wave2 := math.Sin(float64(tick)/1.7+float64(h%100)) * 0.6
	price := math.Max(1, base+wave1+wave2)
	change := (price - base) / base * 100

	return market.UniversalQuote{
		Symbol:    upper,
		Price:     round2(price),
		ChangePct: round2(change),
		Source:    market.SourceSynthetic,
		Type:      market.Classify(upper),
	}
}

// symbolHash is the 32-bit h*31+c string hash, made non-negative
func symbolHash(s string) int64 {
	var h int32
	for _, c := range []byte(s) {
		h = h*31 + int32(c)
	}
	v := int64(h)
	if v < 0 {
		v = -v
	}
	return v
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
