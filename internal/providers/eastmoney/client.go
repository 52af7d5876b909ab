// Package eastmoney provides a client for the Eastmoney push2 quote API
package eastmoney

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
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
	Name = "eastmoney"

	DefaultBaseURL   = "https://push2.eastmoney.com"
	DefaultHisURL    = "https://push2his.eastmoney.com"
	DefaultTimeout   = 60 * time.Second
	DefaultRateLimit = 10 // requests per second

	// fs filter selecting all A-share boards on the clist endpoint.
	allABoards = "m:0+t:6,m:0+t:80,m:1+t:2,m:1+t:23,m:0+t:81+s:2048"
)

// flexFloat handles push2 values that are numbers normally but "-" for
// suspended stocks.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	var num float64
	if err := json.Unmarshal(data, &num); err == nil {
		*f = flexFloat(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" || s == "-" {
			*f = 0
			return nil
		}
		num, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*f = 0
			return nil
		}
		*f = flexFloat(num)
		return nil
	}
	return fmt.Errorf("cannot unmarshal %s into float64", string(data))
}

// Client implements interfaces.Provider over the Eastmoney push2 endpoints.
// Its strength is the single full-market snapshot call; historical bars
// come from the push2his kline endpoint.
type Client struct {
	baseURL    string
	hisURL     string
	httpClient *http.Client
	logger     *common.Logger
	limiter    *rate.Limiter
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL for quote endpoints
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHistoryURL sets the base URL for the kline endpoint
func WithHistoryURL(hisURL string) ClientOption {
	return func(c *Client) {
		c.hisURL = hisURL
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

// NewClient creates a new Eastmoney client. No credentials are required.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		hisURL:  DefaultHisURL,
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

// get performs a rate-limited GET and decodes the JSON body into result.
func (c *Client) get(ctx context.Context, base, path string, params url.Values, result any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return providers.Transient(Name, path, err)
	}

	reqURL := fmt.Sprintf("%s%s?%s", base, path, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return providers.Permanent(Name, path, err)
	}

	c.logger.Debug().Str("url", base+path).Msg("Eastmoney API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return providers.Transient(Name, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return providers.RateLimited(Name, path, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return providers.Transient(Name, path, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return providers.Permanent(Name, path, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return providers.Transient(Name, path, fmt.Errorf("decode response: %w", err))
	}
	return nil
}

// snapshotRow is one entry of the clist diff array.
type snapshotRow struct {
	Price        flexFloat `json:"f2"`
	PctChg       flexFloat `json:"f3"`
	Change       flexFloat `json:"f4"`
	Volume       flexFloat `json:"f5"` // lots of 100 shares
	Amount       flexFloat `json:"f6"` // yuan
	TurnoverRate flexFloat `json:"f8"`
	PE           flexFloat `json:"f9"`
	Code         string    `json:"f12"`
	Name         string    `json:"f14"`
	High         flexFloat `json:"f15"`
	Low          flexFloat `json:"f16"`
	Open         flexFloat `json:"f17"`
	PreClose     flexFloat `json:"f18"`
	TotalMV      flexFloat `json:"f20"` // yuan
	CircMV       flexFloat `json:"f21"` // yuan
	PB           flexFloat `json:"f23"`
}

type snapshotResponse struct {
	Data *struct {
		Total int           `json:"total"`
		Diff  []snapshotRow `json:"diff"`
	} `json:"data"`
}

// fetchSnapshot pulls the full A-share market in one call.
func (c *Client) fetchSnapshot(ctx context.Context) ([]snapshotRow, error) {
	params := url.Values{}
	params.Set("pn", "1")
	params.Set("pz", "10000")
	params.Set("po", "1")
	params.Set("np", "1")
	params.Set("fltt", "2")
	params.Set("invt", "2")
	params.Set("fid", "f3")
	params.Set("fs", allABoards)
	params.Set("fields", "f2,f3,f4,f5,f6,f8,f9,f12,f14,f15,f16,f17,f18,f20,f21,f23")

	var resp snapshotResponse
	if err := c.get(ctx, c.baseURL, "/api/qt/clist/get", params, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil || len(resp.Data.Diff) == 0 {
		return nil, providers.Transient(Name, "clist", fmt.Errorf("empty snapshot"))
	}
	return resp.Data.Diff, nil
}

// ListAllSymbols derives the roster from a full-market snapshot. Listing
// metadata beyond code and name is not carried by push2.
func (c *Client) ListAllSymbols(ctx context.Context) ([]*models.StockBasicInfo, error) {
	rows, err := c.fetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]*models.StockBasicInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, normalize.BasicInfo(&models.StockBasicInfo{
			Code:   row.Code,
			Name:   row.Name,
			Source: Name,
		}))
	}
	return infos, nil
}

// GetBasicInfo is served from the snapshot row for the symbol.
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

type stockGetResponse struct {
	Data *struct {
		Price    flexFloat `json:"f43"`
		High     flexFloat `json:"f44"`
		Low      flexFloat `json:"f45"`
		Open     flexFloat `json:"f46"`
		Volume   flexFloat `json:"f47"` // lots of 100 shares
		Amount   flexFloat `json:"f48"` // yuan
		Code     string    `json:"f57"`
		Name     string    `json:"f58"`
		PreClose flexFloat `json:"f60"`
		Change   flexFloat `json:"f169"`
		PctChg   flexFloat `json:"f170"`
	} `json:"data"`
}

// GetQuote fetches one symbol's realtime quote.
func (c *Client) GetQuote(ctx context.Context, code string) (*models.Quote, error) {
	params := url.Values{}
	params.Set("secid", secid(code))
	params.Set("fltt", "2")
	params.Set("invt", "2")
	params.Set("fields", "f43,f44,f45,f46,f47,f48,f57,f58,f60,f169,f170")

	var resp stockGetResponse
	if err := c.get(ctx, c.baseURL, "/api/qt/stock/get", params, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil || resp.Data.Code == "" {
		return nil, providers.NotFound(Name, "GetQuote")
	}

	d := resp.Data
	return normalize.Quote(&models.Quote{
		Code:          d.Code,
		Name:          d.Name,
		Price:         float64(d.Price),
		Open:          float64(d.Open),
		High:          float64(d.High),
		Low:           float64(d.Low),
		PreClose:      float64(d.PreClose),
		Change:        float64(d.Change),
		ChangePercent: float64(d.PctChg),
		Volume:        int64(float64(d.Volume) * 100),
		Amount:        float64(d.Amount),
		TradeDate:     common.TradeDate(time.Now()),
		Source:        Name,
	}), nil
}

// GetQuoteBatch fetches one full-market snapshot and filters it. Passing
// no codes returns the entire market.
func (c *Client) GetQuoteBatch(ctx context.Context, codes []string) (map[string]*models.Quote, error) {
	rows, err := c.fetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(codes))
	for _, code := range codes {
		want[normalize.Code(code)] = true
	}

	tradeDate := common.TradeDate(time.Now())
	quotes := make(map[string]*models.Quote)
	for _, row := range rows {
		code := normalize.Code(row.Code)
		if len(want) > 0 && !want[code] {
			continue
		}
		quotes[code] = normalize.Quote(&models.Quote{
			Code:          code,
			Name:          row.Name,
			Price:         float64(row.Price),
			Open:          float64(row.Open),
			High:          float64(row.High),
			Low:           float64(row.Low),
			PreClose:      float64(row.PreClose),
			Change:        float64(row.Change),
			ChangePercent: float64(row.PctChg),
			Volume:        int64(float64(row.Volume) * 100),
			Amount:        float64(row.Amount),
			TradeDate:     tradeDate,
			Source:        Name,
		})
	}
	return quotes, nil
}

type klineResponse struct {
	Data *struct {
		Code   string   `json:"code"`
		Klines []string `json:"klines"`
	} `json:"data"`
}

// GetHistoricalBars fetches forward-adjusted kline bars. Each kline entry
// is a comma-joined string: date,open,close,high,low,volume,amount,
// amplitude,pct_chg,change,turnover.
func (c *Client) GetHistoricalBars(ctx context.Context, code string, start, end time.Time, period string) ([]*models.DailyBar, error) {
	var klt string
	switch period {
	case models.PeriodDaily:
		klt = "101"
	case models.PeriodWeekly:
		klt = "102"
	case models.PeriodMonthly:
		klt = "103"
	default:
		return nil, providers.Permanent(Name, "GetHistoricalBars", fmt.Errorf("unknown period %q", period))
	}

	params := url.Values{}
	params.Set("secid", secid(code))
	params.Set("klt", klt)
	params.Set("fqt", "1")
	params.Set("beg", start.Format("20060102"))
	params.Set("end", end.Format("20060102"))
	params.Set("fields1", "f1,f2,f3,f4,f5,f6")
	params.Set("fields2", "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61")

	var resp klineResponse
	if err := c.get(ctx, c.hisURL, "/api/qt/stock/kline/get", params, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, providers.NotFound(Name, "GetHistoricalBars")
	}

	bars := make([]*models.DailyBar, 0, len(resp.Data.Klines))
	for _, line := range resp.Data.Klines {
		parts := strings.Split(line, ",")
		if len(parts) < 11 {
			continue
		}
		bars = append(bars, &models.DailyBar{
			Code:          normalize.Code(code),
			Source:        Name,
			TradeDate:     parts[0],
			Period:        period,
			Open:          parseFloat(parts[1]),
			Close:         parseFloat(parts[2]),
			High:          parseFloat(parts[3]),
			Low:           parseFloat(parts[4]),
			Volume:        int64(parseFloat(parts[5]) * 100),
			Amount:        parseFloat(parts[6]),
			ChangePercent: parseFloat(parts[8]),
			Turnover:      parseFloat(parts[10]),
		})
	}
	return bars, nil
}

// GetFinancials is not carried by push2.
func (c *Client) GetFinancials(_ context.Context, _ string) ([]*models.FinancialRecord, error) {
	return nil, providers.Unsupported(Name, "GetFinancials")
}

// GetNews is not carried by push2.
func (c *Client) GetNews(_ context.Context, _ string, _ int) ([]*models.NewsItem, error) {
	return nil, providers.Unsupported(Name, "GetNews")
}

// LatestTradeDate reads the date off the SSE composite index's newest
// daily bar.
func (c *Client) LatestTradeDate(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("secid", "1.000001")
	params.Set("klt", "101")
	params.Set("fqt", "1")
	params.Set("beg", time.Now().AddDate(0, 0, -14).Format("20060102"))
	params.Set("end", time.Now().Format("20060102"))
	params.Set("fields1", "f1,f2,f3,f4,f5,f6")
	params.Set("fields2", "f51,f52,f53,f54,f55,f56,f57,f58,f59,f60,f61")

	var resp klineResponse
	if err := c.get(ctx, c.hisURL, "/api/qt/stock/kline/get", params, &resp); err != nil {
		return "", err
	}
	if resp.Data == nil || len(resp.Data.Klines) == 0 {
		return "", providers.NotFound(Name, "LatestTradeDate")
	}

	last := resp.Data.Klines[len(resp.Data.Klines)-1]
	return strings.SplitN(last, ",", 2)[0], nil
}

// DailyBasicSnapshot derives valuation metrics from the full-market
// snapshot. Market caps arrive in yuan and are converted to 亿元.
func (c *Client) DailyBasicSnapshot(ctx context.Context, _ string) (map[string]map[string]float64, error) {
	rows, err := c.fetchSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]map[string]float64, len(rows))
	for _, row := range rows {
		code := normalize.Code(row.Code)
		snapshot[code] = map[string]float64{
			"pe":            float64(row.PE),
			"pb":            float64(row.PB),
			"total_mv":      normalize.YuanToYi(float64(row.TotalMV)),
			"circ_mv":       normalize.YuanToYi(float64(row.CircMV)),
			"turnover_rate": float64(row.TurnoverRate),
		}
	}
	return snapshot, nil
}

// secid builds the push2 market-prefixed identifier.
func secid(code string) string {
	code = normalize.Code(code)
	if strings.HasPrefix(code, "6") || strings.HasPrefix(code, "9") {
		return "1." + code
	}
	return "0." + code
}

func parseFloat(s string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return f
}

// Compile-time check
var _ interfaces.Provider = (*Client)(nil)
