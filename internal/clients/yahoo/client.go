// Package yahoo fetches daily price histories from the Yahoo Finance chart API.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aristath/frontier/internal/domain"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultBaseURL is the public chart API host
	DefaultBaseURL = "https://query1.finance.yahoo.com"

	// Yahoo rejects requests without a browser-like user agent
	userAgent = "Mozilla/5.0 (compatible; FrontierEngine/1.0)"
)

// Client is a Yahoo Finance chart API client
type Client struct {
	baseURL string
	client  *http.Client
	workers int
	log     zerolog.Logger
}

// NewClient creates a new Yahoo Finance client.
// workers bounds the number of symbols fetched concurrently.
func NewClient(baseURL string, timeout time.Duration, workers int, log zerolog.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if workers <= 0 {
		workers = 4
	}
	return &Client{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
		workers: workers,
		log:     log.With().Str("client", "yahoo").Logger(),
	}
}

// Name identifies the provider in errors and logs
func (c *Client) Name() string {
	return "yahoo"
}

// chartResponse is the subset of /v8/finance/chart used here.
// Closes are pointers because Yahoo emits null for missing sessions.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				GMTOffset int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Close []*float64 `json:"close"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchPrices downloads daily adjusted closes for every asset concurrently.
// Unknown symbols and empty windows are reported as missing; any other failure
// fails the whole request.
func (c *Client) FetchPrices(ctx context.Context, assets []string, lookback domain.Lookback) (*domain.PriceHistory, error) {
	type fetched struct {
		series  domain.PriceSeries
		missing string
	}
	results := make([]fetched, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.workers)
	for i, asset := range assets {
		g.Go(func() error {
			series, missing, err := c.fetchSeries(gctx, asset, lookback)
			if err != nil {
				return fmt.Errorf("fetch %s: %w", asset, err)
			}
			results[i] = fetched{series: series, missing: missing}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	history := domain.NewPriceHistory()
	for i, asset := range assets {
		if results[i].missing != "" {
			history.MarkMissing(asset, results[i].missing)
			continue
		}
		history.Add(asset, results[i].series)
	}

	c.log.Debug().
		Strs("assets", assets).
		Str("lookback", lookback.Key()).
		Int("missing", len(history.Missing)).
		Msg("Fetched price histories")

	return history, nil
}

// fetchSeries returns the series for one symbol, or a non-empty reason when the
// symbol has no data.
func (c *Client) fetchSeries(ctx context.Context, symbol string, lookback domain.Lookback) (domain.PriceSeries, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.chartURL(symbol, lookback), nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		c.log.Debug().Str("symbol", symbol).Msg("Symbol not found")
		return nil, "unknown symbol", nil
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, "", fmt.Errorf("API returned status %d: %s", resp.StatusCode, string(body))
	}

	var cr chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, "", fmt.Errorf("failed to parse response: %w", err)
	}

	if cr.Chart.Error != nil {
		if cr.Chart.Error.Code == "Not Found" {
			return nil, "unknown symbol", nil
		}
		return nil, "", fmt.Errorf("API error %s: %s", cr.Chart.Error.Code, cr.Chart.Error.Description)
	}
	if len(cr.Chart.Result) == 0 {
		return nil, "no data in range", nil
	}

	result := cr.Chart.Result[0]

	// Prefer split/dividend adjusted closes
	var closes []*float64
	if len(result.Indicators.AdjClose) > 0 && len(result.Indicators.AdjClose[0].AdjClose) > 0 {
		closes = result.Indicators.AdjClose[0].AdjClose
	} else if len(result.Indicators.Quote) > 0 {
		closes = result.Indicators.Quote[0].Close
	}

	series := make(domain.PriceSeries, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(closes) || closes[i] == nil {
			continue
		}
		price := *closes[i]
		if !(price > 0) || math.IsInf(price, 0) {
			continue
		}
		series = append(series, domain.PricePoint{
			Date:  sessionDate(ts, result.Meta.GMTOffset),
			Price: price,
		})
	}

	if len(series) == 0 {
		return nil, "no data in range", nil
	}
	return series.Sort(), "", nil
}

// chartURL builds the chart request. Open-ended windows use Yahoo's range vocabulary;
// windows with a fixed end use explicit period bounds.
func (c *Client) chartURL(symbol string, lookback domain.Lookback) string {
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("events", "div,splits")
	if lookback.End.IsZero() {
		q.Set("range", lookback.Range)
	} else {
		start, end := lookback.Window(time.Now())
		q.Set("period1", strconv.FormatInt(start.Unix(), 10))
		q.Set("period2", strconv.FormatInt(end.Add(24*time.Hour).Unix(), 10))
	}
	return fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), q.Encode())
}

// sessionDate maps a session timestamp to its calendar date on the exchange
func sessionDate(ts, gmtOffset int64) time.Time {
	local := time.Unix(ts+gmtOffset, 0).UTC()
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}
