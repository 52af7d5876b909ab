// Package sina provides a client for the Sina hq quote feed.
package sina

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"
	"golang.org/x/time/rate"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/normalize"
	"github.com/loongquant/loong/internal/providers"
)

const (
	Name = "sina"

	DefaultBaseURL   = "https://hq.sinajs.cn"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 5 // requests per second

	// referer is required by the feed since 2021; requests without it
	// receive an empty body.
	referer = "https://finance.sina.com.cn"

	// minSpacing is the minimum gap between requests to the same host,
	// enforced in addition to the limiter. Sina blacklists aggressively.
	minSpacing = 500 * time.Millisecond

	// maxBatchCodes is the feed's per-request symbol cap.
	maxBatchCodes = 80
)

// Client implements interfaces.Provider over the Sina hq text feed. The
// feed serves realtime quotes only; historical bars and financials are
// unsupported.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter

	mu          sync.Mutex
	lastRequest time.Time
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

// NewClient creates a new Sina client. No credentials are required.
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
func (c *Client) Type() string { return "cn-equity" }

// fetch performs one rate-limited list request and returns the decoded
// response body. The feed is GBK-encoded.
func (c *Client) fetch(ctx context.Context, symbols []string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", providers.Transient(Name, "fetch", err)
	}

	c.mu.Lock()
	if wait := minSpacing - time.Since(c.lastRequest); wait > 0 {
		c.mu.Unlock()
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return "", providers.Transient(Name, "fetch", ctx.Err())
		}
		c.mu.Lock()
	}
	c.lastRequest = time.Now()
	c.mu.Unlock()

	reqURL := fmt.Sprintf("%s/list=%s", c.baseURL, strings.Join(symbols, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return "", providers.Permanent(Name, "fetch", err)
	}
	req.Header.Set("Referer", referer)

	c.logger.Debug().Int("symbols", len(symbols)).Msg("Sina hq request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", providers.Transient(Name, "fetch", err)
	}
	defer resp.Body.Close()

	// 456 is Sina's blacklist response.
	if resp.StatusCode == http.StatusForbidden || resp.StatusCode == 456 {
		return "", providers.RateLimited(Name, "fetch", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return "", providers.Transient(Name, "fetch", fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		return "", providers.Permanent(Name, "fetch", fmt.Errorf("status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return "", providers.Transient(Name, "fetch", fmt.Errorf("decode body: %w", err))
	}
	return string(body), nil
}

// parseLine parses one `var hq_str_sh600000="..."` line. Field layout:
// 0 name, 1 open, 2 preclose, 3 price, 4 high, 5 low, 8 volume (shares),
// 9 amount (yuan), 30 date, 31 time.
func parseLine(line string) (*models.Quote, bool) {
	start := strings.Index(line, `="`)
	if start < 0 {
		return nil, false
	}
	prefix := strings.Index(line, "hq_str_")
	if prefix < 0 {
		return nil, false
	}
	symbol := line[prefix+len("hq_str_") : start]

	payload := line[start+2:]
	if end := strings.Index(payload, `"`); end >= 0 {
		payload = payload[:end]
	}
	fields := strings.Split(payload, ",")
	if len(fields) < 32 {
		// Unknown symbols come back as an empty payload.
		return nil, false
	}

	return &models.Quote{
		Code:      symbol,
		Name:      fields[0],
		Open:      parseFloat(fields[1]),
		PreClose:  parseFloat(fields[2]),
		Price:     parseFloat(fields[3]),
		High:      parseFloat(fields[4]),
		Low:       parseFloat(fields[5]),
		Volume:    int64(parseFloat(fields[8])),
		Amount:    parseFloat(fields[9]),
		TradeDate: fields[30],
		Source:    Name,
	}, true
}

// GetQuote fetches one symbol's realtime quote.
func (c *Client) GetQuote(ctx context.Context, code string) (*models.Quote, error) {
	quotes, err := c.GetQuoteBatch(ctx, []string{code})
	if err != nil {
		return nil, err
	}
	quote, ok := quotes[normalize.Code(code)]
	if !ok {
		return nil, providers.NotFound(Name, "GetQuote")
	}
	return quote, nil
}

// GetQuoteBatch fetches quotes in chunks of up to 80 symbols per request.
func (c *Client) GetQuoteBatch(ctx context.Context, codes []string) (map[string]*models.Quote, error) {
	if len(codes) == 0 {
		return nil, providers.Unsupported(Name, "GetQuoteBatch")
	}

	symbols := make([]string, 0, len(codes))
	for _, code := range codes {
		symbols = append(symbols, hqSymbol(code))
	}

	quotes := make(map[string]*models.Quote, len(codes))
	for offset := 0; offset < len(symbols); offset += maxBatchCodes {
		end := offset + maxBatchCodes
		if end > len(symbols) {
			end = len(symbols)
		}

		body, err := c.fetch(ctx, symbols[offset:end])
		if err != nil {
			return nil, err
		}
		for _, line := range strings.Split(body, "\n") {
			quote, ok := parseLine(line)
			if !ok {
				continue
			}
			quote = normalize.Quote(quote)
			quotes[quote.Code] = quote
		}
	}
	return quotes, nil
}

// ListAllSymbols is not carried by the hq feed.
func (c *Client) ListAllSymbols(_ context.Context) ([]*models.StockBasicInfo, error) {
	return nil, providers.Unsupported(Name, "ListAllSymbols")
}

// GetBasicInfo is served from the quote line for the symbol.
func (c *Client) GetBasicInfo(ctx context.Context, code string) (*models.StockBasicInfo, error) {
	quote, err := c.GetQuote(ctx, code)
	if err != nil {
		return nil, err
	}
	return normalize.BasicInfo(&models.StockBasicInfo{
		Code:   quote.Code,
		Name:   quote.Name,
		Source: Name,
	}), nil
}

// GetHistoricalBars is not carried by the hq feed.
func (c *Client) GetHistoricalBars(_ context.Context, _ string, _, _ time.Time, _ string) ([]*models.DailyBar, error) {
	return nil, providers.Unsupported(Name, "GetHistoricalBars")
}

// GetFinancials is not carried by the hq feed.
func (c *Client) GetFinancials(_ context.Context, _ string) ([]*models.FinancialRecord, error) {
	return nil, providers.Unsupported(Name, "GetFinancials")
}

// GetNews is not carried by the hq feed.
func (c *Client) GetNews(_ context.Context, _ string, _ int) ([]*models.NewsItem, error) {
	return nil, providers.Unsupported(Name, "GetNews")
}

// LatestTradeDate reads the date off the SSE composite index quote line.
func (c *Client) LatestTradeDate(ctx context.Context) (string, error) {
	body, err := c.fetch(ctx, []string{"sh000001"})
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(body, "\n") {
		quote, ok := parseLine(line)
		if !ok {
			continue
		}
		return quote.TradeDate, nil
	}
	return "", providers.NotFound(Name, "LatestTradeDate")
}

// DailyBasicSnapshot is not carried by the hq feed.
func (c *Client) DailyBasicSnapshot(_ context.Context, _ string) (map[string]map[string]float64, error) {
	return nil, providers.Unsupported(Name, "DailyBasicSnapshot")
}

// hqSymbol builds the exchange-prefixed hq identifier, e.g. sh600000.
func hqSymbol(code string) string {
	code = normalize.Code(code)
	switch {
	case strings.HasPrefix(code, "6"), strings.HasPrefix(code, "9"):
		return "sh" + code
	case strings.HasPrefix(code, "8"), strings.HasPrefix(code, "4"):
		return "bj" + code
	default:
		return "sz" + code
	}
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// Compile-time check
var _ interfaces.Provider = (*Client)(nil)
