package pricing

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"golang.org/x/sync/singleflight"
)

// CachedService keeps successful quotes for ttl and collapses concurrent
// lookups of the same symbol into one upstream call. Failures are not cached.
type CachedService struct {
	next    Service
	ttl     time.Duration
	nowFunc func() time.Time
	group   singleflight.Group

	mu    sync.RWMutex
	cache map[string]cachedQuote
}

type cachedQuote struct {
	quote   models.Quote
	fetched time.Time
}

func NewCachedService(next Service, ttl time.Duration) *CachedService {
	return &CachedService{
		next:    next,
		ttl:     ttl,
		nowFunc: time.Now,
		cache:   make(map[string]cachedQuote),
	}
}

func (c *CachedService) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	symbol = NormalizeSymbol(symbol)

	c.mu.RLock()
	if hit, ok := c.cache[symbol]; ok && c.nowFunc().Sub(hit.fetched) < c.ttl {
		c.mu.RUnlock()
		return hit.quote, nil
	}
	c.mu.RUnlock()

	// The flight outlives any one caller. A wrapped TimeoutService bounds it.
	flight := context.WithoutCancel(ctx)
	ch := c.group.DoChan(symbol, func() (interface{}, error) {
		q, err := c.next.Lookup(flight, symbol)
		if err != nil {
			return models.Quote{}, err
		}
		c.mu.Lock()
		c.cache[symbol] = cachedQuote{quote: q, fetched: c.nowFunc()}
		c.mu.Unlock()
		return q, nil
	})
	select {
	case <-ctx.Done():
		return models.Quote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return models.Quote{}, res.Err
		}
		return res.Val.(models.Quote), nil
	}
}

// TimeoutService bounds every lookup with a deadline. Deadline and
// cancellation errors surface as ErrQuoteUnavailable.
type TimeoutService struct {
	next    Service
	timeout time.Duration
}

func WithTimeout(next Service, timeout time.Duration) *TimeoutService {
	return &TimeoutService{next: next, timeout: timeout}
}

func (t *TimeoutService) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	if t.timeout <= 0 {
		return t.next.Lookup(ctx, symbol)
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		quote models.Quote
		err   error
	}
	done := make(chan result, 1)
	go func() {
		q, err := t.next.Lookup(ctx, symbol)
		done <- result{quote: q, err: err}
	}()

	select {
	case <-ctx.Done():
		return models.Quote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, ctx.Err())
	case res := <-done:
		if res.err != nil && !errors.Is(res.err, ErrQuoteUnavailable) &&
			(errors.Is(res.err, context.DeadlineExceeded) || errors.Is(res.err, context.Canceled)) {
			return models.Quote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, res.err)
		}
		return res.quote, res.err
	}
}
