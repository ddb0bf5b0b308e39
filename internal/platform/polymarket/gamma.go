package polymarket

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/arenalabs/agentarena/internal/domain"
)

// GammaClient is the REST client for the Polymarket Gamma API. All requests
// pass through a client-side rate limiter so scrape loops and the tracker's
// cache-miss fallback cannot hammer the upstream.
type GammaClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGammaClient creates a Gamma client.
//
// baseURL is the API root, e.g. "https://gamma-api.polymarket.com".
// rps caps outgoing requests per second; zero or negative means 5.
func NewGammaClient(baseURL string, rps float64) *GammaClient {
	if rps <= 0 {
		rps = 5
	}
	return &GammaClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)+1),
	}
}

// ListMarkets returns a page of markets.
func (g *GammaClient) ListMarkets(ctx context.Context, limit, offset int) ([]*domain.Market, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	params.Set("offset", strconv.Itoa(offset))

	body, err := g.doGet(ctx, "/markets?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: list markets: %w", err)
	}

	var apiMarkets []APIMarket
	if err := json.Unmarshal(body, &apiMarkets); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode markets: %w", err)
	}

	markets := make([]*domain.Market, 0, len(apiMarkets))
	for i := range apiMarkets {
		markets = append(markets, apiMarkets[i].ToDomainMarket())
	}
	return markets, nil
}

// GetMarket returns a single market by id.
func (g *GammaClient) GetMarket(ctx context.Context, id string) (*domain.Market, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return nil, fmt.Errorf("polymarket/gamma: get market %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return nil, fmt.Errorf("polymarket/gamma: decode market: %w", err)
	}
	return apiMarket.ToDomainMarket(), nil
}

// GetQuote fetches the current yes/no prices for one market.
func (g *GammaClient) GetQuote(ctx context.Context, id string) (domain.PriceQuote, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return domain.PriceQuote{}, fmt.Errorf("polymarket/gamma: get quote %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return domain.PriceQuote{}, fmt.Errorf("polymarket/gamma: decode quote: %w", err)
	}

	yes, no := apiMarket.Prices()
	return domain.PriceQuote{
		MarketID:  id,
		Yes:       yes,
		No:        no,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// GetResolution returns the settlement-relevant state of a market. A 404
// maps to domain.ErrNotFound so the tracker can void markets deleted
// upstream.
func (g *GammaClient) GetResolution(ctx context.Context, id string) (Resolution, error) {
	body, err := g.doGet(ctx, "/markets/"+url.PathEscape(id))
	if err != nil {
		return Resolution{}, fmt.Errorf("polymarket/gamma: get resolution %s: %w", id, err)
	}

	var apiMarket APIMarket
	if err := json.Unmarshal(body, &apiMarket); err != nil {
		return Resolution{}, fmt.Errorf("polymarket/gamma: decode resolution: %w", err)
	}

	res := Resolution{Closed: apiMarket.Closed}
	if winner, ok := apiMarket.winner(); ok && apiMarket.Closed {
		res.Resolved = true
		res.Winner = winner
	}
	return res, nil
}

// doGet sends an unauthenticated GET request, honoring the rate limiter.
func (g *GammaClient) doGet(ctx context.Context, path string) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, domain.ErrNotFound
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.ErrRateLimited
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("status %d: %s", resp.StatusCode, truncate(body, 200))
	}

	return body, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
