package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/GooferByte/finance-ledger/internal/models"
	"github.com/shopspring/decimal"
)

const defaultYahooURL = "https://query2.finance.yahoo.com"

// YahooProvider reads the last regular market price from the v8 chart API.
type YahooProvider struct {
	cli     *http.Client
	baseURL string
}

func NewYahooProvider(timeout time.Duration) *YahooProvider {
	return &YahooProvider{
		cli:     &http.Client{Timeout: timeout},
		baseURL: defaultYahooURL,
	}
}

// WithBaseURL points the provider at another host, mostly for tests.
func (p *YahooProvider) WithBaseURL(u string) *YahooProvider {
	p.baseURL = u
	return p
}

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol             string  `json:"symbol"`
				LongName           string  `json:"longName"`
				ShortName          string  `json:"shortName"`
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
			} `json:"meta"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func (p *YahooProvider) Lookup(ctx context.Context, symbol string) (models.Quote, error) {
	symbol = NormalizeSymbol(symbol)
	if symbol == "" {
		return models.Quote{}, ErrSymbolNotFound
	}

	endpoint := fmt.Sprintf("%s/v8/finance/chart/%s?interval=1d&range=1d", p.baseURL, url.PathEscape(symbol))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Quote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	req.Header.Set("User-Agent", "finance-ledger/1.0")

	resp, err := p.cli.Do(req)
	if err != nil {
		return models.Quote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return models.Quote{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	case resp.StatusCode != http.StatusOK:
		return models.Quote{}, fmt.Errorf("%w: yahoo http %d", ErrQuoteUnavailable, resp.StatusCode)
	}

	var raw yahooChart
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return models.Quote{}, fmt.Errorf("%w: %v", ErrQuoteUnavailable, err)
	}
	if raw.Chart.Error != nil || len(raw.Chart.Result) == 0 {
		return models.Quote{}, fmt.Errorf("%w: %s", ErrSymbolNotFound, symbol)
	}

	meta := raw.Chart.Result[0].Meta
	if meta.RegularMarketPrice <= 0 {
		return models.Quote{}, fmt.Errorf("%w: %s has no price", ErrSymbolNotFound, symbol)
	}
	name := meta.LongName
	if name == "" {
		name = meta.ShortName
	}
	if name == "" {
		name = symbol
	}
	if meta.Symbol != "" {
		symbol = NormalizeSymbol(meta.Symbol)
	}
	asOf := time.Unix(meta.RegularMarketTime, 0).UTC()
	if meta.RegularMarketTime == 0 {
		asOf = time.Now().UTC()
	}
	return models.Quote{
		Symbol:    symbol,
		Name:      name,
		Price:     decimal.NewFromFloat(meta.RegularMarketPrice).Round(4),
		Timestamp: asOf,
	}, nil
}
