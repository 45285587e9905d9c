package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/dense-analysis/papertrade/internal/model"
)

// HTTPProvider reads quotes from an IEX style JSON endpoint:
//
//	GET {base}/stock/{symbol}/quote?token={token}
type HTTPProvider struct {
	baseURL string
	token   string
	timeout time.Duration
	client  *http.Client
}

func NewHTTPProvider(baseURL, token string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		client:  &http.Client{},
	}
}

type quoteResult struct {
	Symbol      string      `json:"symbol"`
	CompanyName string      `json:"companyName"`
	LatestPrice json.Number `json:"latestPrice"`
}

func (provider *HTTPProvider) Lookup(ctx context.Context, symbol string) (model.Quote, error) {
	symbol = Normalize(symbol)

	if symbol == "" {
		return model.Quote{}, ErrUnknownSymbol
	}

	if provider.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, provider.timeout)
		defer cancel()
	}

	address := fmt.Sprintf(
		"%s/stock/%s/quote?token=%s",
		provider.baseURL,
		url.PathEscape(symbol),
		url.QueryEscape(provider.token),
	)
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, address, nil)

	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	response, err := provider.client.Do(request)

	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	defer response.Body.Close()

	log.Debug().Str("symbol", symbol).Int("status", response.StatusCode).Msg("quote lookup")

	switch {
	case response.StatusCode == http.StatusNotFound:
		return model.Quote{}, ErrUnknownSymbol
	case response.StatusCode >= 500 || response.StatusCode == http.StatusTooManyRequests:
		return model.Quote{}, fmt.Errorf("%w: status %s", ErrUnavailable, response.Status)
	case response.StatusCode >= 300:
		// The upstream answers 400 for malformed tickers.
		return model.Quote{}, ErrUnknownSymbol
	}

	content, err := io.ReadAll(response.Body)

	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	var result quoteResult

	if err := json.Unmarshal(content, &result); err != nil {
		return model.Quote{}, ErrUnknownSymbol
	}

	price, err := decimal.NewFromString(result.LatestPrice.String())

	if err != nil || !price.IsPositive() {
		return model.Quote{}, ErrUnknownSymbol
	}

	quote := model.Quote{
		Symbol: Normalize(result.Symbol),
		Name:   result.CompanyName,
		Price:  price,
	}

	if quote.Symbol == "" {
		quote.Symbol = symbol
	}

	if quote.Name == "" {
		quote.Name = quote.Symbol
	}

	return quote, nil
}
