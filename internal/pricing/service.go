package pricing

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/shopspring/decimal"
)

var (
	// ErrSymbolNotFound means the provider has no instrument for the symbol.
	ErrSymbolNotFound = errors.New("symbol not found")
	// ErrQuoteUnavailable means the provider failed or timed out.
	ErrQuoteUnavailable = errors.New("quote unavailable")
)

// Service exposes price lookup behaviour.
//
//go:generate mockgen -destination=mock_pricing.go -package=pricing . Service
type Service interface {
	Lookup(ctx context.Context, symbol string) (models.Quote, error)
}

// NormalizeSymbol trims and upper-cases a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

var tickerPattern = regexp.MustCompile(`^[A-Z]{1,5}$`)

// RandomPriceService mocks a market data provider with deterministic pseudo-random quotes.
type RandomPriceService struct {
	mu      sync.Mutex
	cache   map[string]models.Quote
	unknown map[string]struct{}
	ttl     time.Duration
	nowFunc func() time.Time
}

// NewRandomPriceService builds a generator. Symbols listed in unknown are
// reported as not found, as are symbols that do not look like a ticker.
func NewRandomPriceService(ttl time.Duration, unknown ...string) *RandomPriceService {
	s := &RandomPriceService{
		cache:   make(map[string]models.Quote),
		unknown: make(map[string]struct{}),
		ttl:     ttl,
		nowFunc: time.Now,
	}
	for _, sym := range unknown {
		s.unknown[NormalizeSymbol(sym)] = struct{}{}
	}
	return s
}

func (s *RandomPriceService) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return models.Quote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	symbol = NormalizeSymbol(symbol)
	if _, ok := s.unknown[symbol]; ok || !tickerPattern.MatchString(symbol) {
		return models.Quote{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.nowFunc()
	if quote, ok := s.cache[symbol]; ok && now.Sub(quote.Timestamp) < s.ttl {
		return quote, nil
	}
	quote := models.Quote{
		Symbol:    symbol,
		Name:      symbol + " Inc.",
		Price:     s.generatePrice(symbol, now),
		Timestamp: now,
	}
	s.cache[symbol] = quote
	return quote, nil
}

func (s *RandomPriceService) generatePrice(symbol string, t time.Time) decimal.Decimal {
	h := fnv.New64a()
	_, _ = h.Write([]byte(fmt.Sprintf("%s-%d-%d", symbol, t.YearDay(), t.Hour())))
	seed := int64(h.Sum64())
	r := rand.New(rand.NewSource(seed))
	// Price range between 5 and 500 to mimic liquid US stocks.
	price := 5 + r.Float64()*495
	return decimal.NewFromFloat(price).Round(2)
}
