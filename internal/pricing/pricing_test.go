package pricing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/shopspring/decimal"
	"go.uber.org/mock/gomock"
)

func TestRandomPriceService_Lookup(t *testing.T) {
	svc := NewRandomPriceService(time.Hour, "ZZZZ")
	ctx := context.Background()

	q, err := svc.Lookup(ctx, " aapl ")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if q.Symbol != "AAPL" {
		t.Errorf("Symbol = %q, want AAPL", q.Symbol)
	}
	if !q.Price.IsPositive() {
		t.Errorf("Price = %s, want positive", q.Price)
	}
	again, _ := svc.Lookup(ctx, "AAPL")
	if !again.Price.Equal(q.Price) {
		t.Errorf("cached Price = %s, want %s", again.Price, q.Price)
	}

	for _, sym := range []string{"ZZZZ", "", "TOOLONG", "A1"} {
		if _, err := svc.Lookup(ctx, sym); !errors.Is(err, ErrSymbolNotFound) {
			t.Errorf("Lookup(%q) error = %v, want ErrSymbolNotFound", sym, err)
		}
	}
}

func TestYahooProvider_Lookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v8/finance/chart/AAPL":
			_, _ = w.Write([]byte(`{"chart":{"result":[{"meta":{"symbol":"AAPL","longName":"Apple Inc.","regularMarketPrice":150.25,"regularMarketTime":1700000000}}],"error":null}}`))
		case "/v8/finance/chart/ZZZZ":
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	p := NewYahooProvider(2 * time.Second).WithBaseURL(srv.URL)
	ctx := context.Background()

	q, err := p.Lookup(ctx, "aapl")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if q.Name != "Apple Inc." {
		t.Errorf("Name = %q, want Apple Inc.", q.Name)
	}
	if !q.Price.Equal(decimal.RequireFromString("150.25")) {
		t.Errorf("Price = %s, want 150.25", q.Price)
	}

	if _, err := p.Lookup(ctx, "ZZZZ"); !errors.Is(err, ErrSymbolNotFound) {
		t.Errorf("Lookup(ZZZZ) error = %v, want ErrSymbolNotFound", err)
	}
	if _, err := p.Lookup(ctx, "MSFT"); !errors.Is(err, ErrQuoteUnavailable) {
		t.Errorf("Lookup(MSFT) error = %v, want ErrQuoteUnavailable", err)
	}
}

func TestCachedService_CollapsesAndCaches(t *testing.T) {
	var calls atomic.Int32
	release := make(chan struct{})
	upstream := serviceFunc(func(ctx context.Context, symbol string) (models.Quote, error) {
		calls.Add(1)
		<-release
		return models.Quote{Symbol: symbol, Price: decimal.NewFromInt(10)}, nil
	})
	c := NewCachedService(upstream, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Lookup(context.Background(), "IBM"); err != nil {
				t.Errorf("Lookup() error = %v", err)
			}
		}()
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if _, err := c.Lookup(context.Background(), "ibm"); err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestCachedService_DoesNotCacheFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	upstream := NewMockService(ctrl)
	gomock.InOrder(
		upstream.EXPECT().Lookup(gomock.Any(), "IBM").Return(models.Quote{}, ErrQuoteUnavailable),
		upstream.EXPECT().Lookup(gomock.Any(), "IBM").Return(models.Quote{Symbol: "IBM", Price: decimal.NewFromInt(7)}, nil),
	)
	c := NewCachedService(upstream, time.Minute)

	if _, err := c.Lookup(context.Background(), "IBM"); !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("first Lookup() error = %v, want ErrQuoteUnavailable", err)
	}
	q, err := c.Lookup(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("second Lookup() error = %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(7)) {
		t.Errorf("Price = %s, want 7", q.Price)
	}
}

func TestCachedService_CallerCancelDoesNotFailFlight(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	upstream := serviceFunc(func(ctx context.Context, symbol string) (models.Quote, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return models.Quote{}, err
		}
		return models.Quote{Symbol: symbol, Price: decimal.NewFromInt(42)}, nil
	})
	c := NewCachedService(upstream, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := c.Lookup(ctx, "IBM")
		errc <- err
	}()
	<-started
	cancel()
	if err := <-errc; !errors.Is(err, ErrQuoteUnavailable) {
		t.Fatalf("cancelled Lookup() error = %v, want ErrQuoteUnavailable", err)
	}

	close(release)
	q, err := c.Lookup(context.Background(), "IBM")
	if err != nil {
		t.Fatalf("Lookup() error = %v", err)
	}
	if !q.Price.Equal(decimal.NewFromInt(42)) {
		t.Errorf("Price = %s, want 42", q.Price)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("upstream calls = %d, want 1", got)
	}
}

func TestWithTimeout_SlowProvider(t *testing.T) {
	slow := serviceFunc(func(ctx context.Context, symbol string) (models.Quote, error) {
		select {
		case <-time.After(time.Second):
			return models.Quote{Symbol: symbol, Price: decimal.NewFromInt(1)}, nil
		case <-ctx.Done():
			return models.Quote{}, ctx.Err()
		}
	})
	svc := WithTimeout(slow, 10*time.Millisecond)
	if _, err := svc.Lookup(context.Background(), "AAPL"); !errors.Is(err, ErrQuoteUnavailable) {
		t.Errorf("Lookup() error = %v, want ErrQuoteUnavailable", err)
	}
}

type serviceFunc func(ctx context.Context, symbol string) (models.Quote, error)

func (f serviceFunc) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	return f(ctx, symbol)
}
