// Package yahoo provides a client for the Yahoo Finance chart API. It is
// the fallback source for international symbols that the CN providers do
// not carry.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/normalize"
	"github.com/loongquant/loong/internal/providers"
)

const (
	Name = "yahoo"

	DefaultBaseURL   = "https://query1.finance.yahoo.com"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 2 // requests per second

	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
)

// Client implements interfaces.Provider over the v8 chart endpoint.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithLogger sets the logger
func WithLogger(logger *common.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new Yahoo Finance client. No credentials are
// required.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		logger:  common.NewSilentLogger(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

func (c *Client) Name() string { return Name }
func (c *Client) Type() string { return "us-equity" }

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string  `json:"symbol"`
		Currency           string  `json:"currency"`
		RegularMarketPrice float64 `json:"regularMarketPrice"`
		PreviousClose      float64 `json:"chartPreviousClose"`
		RegularMarketTime  int64   `json:"regularMarketTime"`
		ExchangeTZName     string  `json:"exchangeTimezoneName"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*int64   `json:"volume"`
		} `json:"quote"`
	} `json:"indicators"`
}

// chart performs one rate-limited chart request for symbol.
func (c *Client) chart(ctx context.Context, symbol string, params url.Values) (*chartResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, providers.Transient(Name, "chart", err)
	}

	reqURL := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(symbol), params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, providers.Permanent(Name, "chart", err)
	}
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug().Str("symbol", symbol).Msg("Yahoo chart request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, providers.Transient(Name, "chart", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, providers.RateLimited(Name, "chart", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		return nil, providers.NotFound(Name, "chart")
	case resp.StatusCode >= 500:
		return nil, providers.Transient(Name, "chart", fmt.Errorf("status %d", resp.StatusCode))
	case resp.StatusCode != http.StatusOK:
		raw, _ := io.ReadAll(resp.Body)
		return nil, providers.Permanent(Name, "chart", fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}

	var decoded chartResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, providers.Transient(Name, "chart", fmt.Errorf("decode response: %w", err))
	}
	if decoded.Chart.Error != nil {
		if decoded.Chart.Error.Code == "Not Found" {
			return nil, providers.NotFound(Name, "chart")
		}
		return nil, providers.Permanent(Name, "chart", fmt.Errorf("%s: %s", decoded.Chart.Error.Code, decoded.Chart.Error.Description))
	}
	if len(decoded.Chart.Result) == 0 {
		return nil, providers.NotFound(Name, "chart")
	}
	return &decoded.Chart.Result[0], nil
}

// GetQuote fetches the latest quote from the one-day chart metadata.
func (c *Client) GetQuote(ctx context.Context, code string) (*models.Quote, error) {
	params := url.Values{}
	params.Set("range", "1d")
	params.Set("interval", "1d")

	result, err := c.chart(ctx, yahooSymbol(code), params)
	if err != nil {
		return nil, err
	}

	meta := result.Meta
	quote := &models.Quote{
		Code:      code,
		Price:     meta.RegularMarketPrice,
		PreClose:  meta.PreviousClose,
		TradeDate: common.TradeDate(time.Unix(meta.RegularMarketTime, 0)),
		Source:    Name,
	}
	if len(result.Timestamp) > 0 && len(result.Indicators.Quote) > 0 {
		last := len(result.Timestamp) - 1
		q := result.Indicators.Quote[0]
		quote.Open = deref(q.Open, last)
		quote.High = deref(q.High, last)
		quote.Low = deref(q.Low, last)
		quote.Volume = derefInt(q.Volume, last)
	}
	return normalize.Quote(quote), nil
}

// GetQuoteBatch issues one chart request per symbol. The chart endpoint
// has no multi-symbol form.
func (c *Client) GetQuoteBatch(ctx context.Context, codes []string) (map[string]*models.Quote, error) {
	quotes := make(map[string]*models.Quote, len(codes))
	for _, code := range codes {
		quote, err := c.GetQuote(ctx, code)
		if err != nil {
			if providers.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		quotes[quote.Code] = quote
	}
	return quotes, nil
}

// GetHistoricalBars fetches OHLCV bars between start and end.
func (c *Client) GetHistoricalBars(ctx context.Context, code string, start, end time.Time, period string) ([]*models.DailyBar, error) {
	var interval string
	switch period {
	case models.PeriodDaily:
		interval = "1d"
	case models.PeriodWeekly:
		interval = "1wk"
	case models.PeriodMonthly:
		interval = "1mo"
	default:
		return nil, providers.Permanent(Name, "GetHistoricalBars", fmt.Errorf("unknown period %q", period))
	}

	params := url.Values{}
	params.Set("period1", fmt.Sprintf("%d", start.Unix()))
	params.Set("period2", fmt.Sprintf("%d", end.Add(24*time.Hour).Unix()))
	params.Set("interval", interval)
	params.Set("events", "div,splits")

	result, err := c.chart(ctx, yahooSymbol(code), params)
	if err != nil {
		return nil, err
	}
	if len(result.Indicators.Quote) == 0 {
		return nil, providers.NotFound(Name, "GetHistoricalBars")
	}

	q := result.Indicators.Quote[0]
	bars := make([]*models.DailyBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		closePrice := deref(q.Close, i)
		if closePrice == 0 {
			// Null rows appear for halted sessions.
			continue
		}
		bars = append(bars, &models.DailyBar{
			TradeDate: time.Unix(ts, 0).UTC().Format("2006-01-02"),
			Open:      deref(q.Open, i),
			High:      deref(q.High, i),
			Low:       deref(q.Low, i),
			Close:     closePrice,
			Volume:    derefInt(q.Volume, i),
		})
	}
	return normalize.Bars(bars, code, Name, period), nil
}

// ListAllSymbols is not carried by the chart API.
func (c *Client) ListAllSymbols(_ context.Context) ([]*models.StockBasicInfo, error) {
	return nil, providers.Unsupported(Name, "ListAllSymbols")
}

// GetBasicInfo is served from the chart metadata.
func (c *Client) GetBasicInfo(ctx context.Context, code string) (*models.StockBasicInfo, error) {
	params := url.Values{}
	params.Set("range", "1d")
	params.Set("interval", "1d")

	result, err := c.chart(ctx, yahooSymbol(code), params)
	if err != nil {
		return nil, err
	}
	return normalize.BasicInfo(&models.StockBasicInfo{
		Code:       code,
		FullSymbol: result.Meta.Symbol,
		Source:     Name,
	}), nil
}

// GetFinancials is not carried by the chart API.
func (c *Client) GetFinancials(_ context.Context, _ string) ([]*models.FinancialRecord, error) {
	return nil, providers.Unsupported(Name, "GetFinancials")
}

// GetNews is not carried by the chart API.
func (c *Client) GetNews(_ context.Context, _ string, _ int) ([]*models.NewsItem, error) {
	return nil, providers.Unsupported(Name, "GetNews")
}

// LatestTradeDate reads the regular market time off the S&P 500 index.
func (c *Client) LatestTradeDate(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("range", "1d")
	params.Set("interval", "1d")

	result, err := c.chart(ctx, "^GSPC", params)
	if err != nil {
		return "", err
	}
	return time.Unix(result.Meta.RegularMarketTime, 0).UTC().Format("2006-01-02"), nil
}

// DailyBasicSnapshot is not carried by the chart API.
func (c *Client) DailyBasicSnapshot(_ context.Context, _ string) (map[string]map[string]float64, error) {
	return nil, providers.Unsupported(Name, "DailyBasicSnapshot")
}

// yahooSymbol maps a canonical CN code to its Yahoo suffix form.
// International symbols pass through unchanged.
func yahooSymbol(code string) string {
	if strings.Contains(code, ".") || strings.HasPrefix(code, "^") {
		return code
	}
	return normalize.FullSymbol(normalize.Code(code))
}

func deref(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}

func derefInt(vals []*int64, i int) int64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}

// Compile-time check
var _ interfaces.Provider = (*Client)(nil)
