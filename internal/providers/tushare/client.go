// Package tushare provides a client for the Tushare Pro API
package tushare

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
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
	Name = "tushare"

	DefaultBaseURL   = "http://api.tushare.pro"
	DefaultTimeout   = 60 * time.Second
	DefaultRateLimit = 5 // requests per second
)

// Client implements interfaces.Provider over the Tushare Pro JSON API.
// All Pro endpoints share one POST surface keyed by api_name.
type Client struct {
	baseURL    string
	token      string
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

// NewClient creates a new Tushare client
func NewClient(token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		token:   token,
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

type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields,omitempty"`
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// call performs a rate-limited POST against one Pro endpoint and returns
// the rows keyed by field name.
func (c *Client) call(ctx context.Context, apiName string, params map[string]string, fields string) ([]map[string]any, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, providers.Transient(Name, apiName, err)
	}

	body, err := json.Marshal(apiRequest{APIName: apiName, Token: c.token, Params: params, Fields: fields})
	if err != nil {
		return nil, providers.Permanent(Name, apiName, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, providers.Permanent(Name, apiName, err)
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Debug().Str("api", apiName).Msg("Tushare API request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, providers.Transient(Name, apiName, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, providers.RateLimited(Name, apiName, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode >= 500 {
		return nil, providers.Transient(Name, apiName, fmt.Errorf("status %d", resp.StatusCode))
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, providers.Permanent(Name, apiName, fmt.Errorf("status %d: %s", resp.StatusCode, string(raw)))
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, providers.Transient(Name, apiName, fmt.Errorf("decode response: %w", err))
	}

	if parsed.Code != 0 {
		// Tushare signals throttling through the message text.
		if strings.Contains(parsed.Msg, "每分钟") || strings.Contains(parsed.Msg, "频率") {
			return nil, providers.RateLimited(Name, apiName, fmt.Errorf("code %d: %s", parsed.Code, parsed.Msg))
		}
		return nil, providers.Permanent(Name, apiName, fmt.Errorf("code %d: %s", parsed.Code, parsed.Msg))
	}

	rows := make([]map[string]any, 0, len(parsed.Data.Items))
	for _, item := range parsed.Data.Items {
		row := make(map[string]any, len(parsed.Data.Fields))
		for i, field := range parsed.Data.Fields {
			if i < len(item) {
				row[field] = item[i]
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// ListAllSymbols fetches the full listed-stock roster.
func (c *Client) ListAllSymbols(ctx context.Context) ([]*models.StockBasicInfo, error) {
	rows, err := c.call(ctx, "stock_basic",
		map[string]string{"list_status": "L"},
		"ts_code,symbol,name,area,industry,market,list_date")
	if err != nil {
		return nil, err
	}

	infos := make([]*models.StockBasicInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, basicInfoFromRow(row))
	}
	return infos, nil
}

// GetBasicInfo fetches one symbol's listing record.
func (c *Client) GetBasicInfo(ctx context.Context, code string) (*models.StockBasicInfo, error) {
	rows, err := c.call(ctx, "stock_basic",
		map[string]string{"ts_code": tsCode(code)},
		"ts_code,symbol,name,area,industry,market,list_date")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, providers.NotFound(Name, "GetBasicInfo")
	}
	return basicInfoFromRow(rows[0]), nil
}

// GetQuote is not available: the Pro API has no per-symbol realtime
// endpoint, only full-market snapshots from other vendors.
func (c *Client) GetQuote(_ context.Context, _ string) (*models.Quote, error) {
	return nil, providers.Unsupported(Name, "GetQuote")
}

// GetQuoteBatch is not available for realtime data.
func (c *Client) GetQuoteBatch(_ context.Context, _ []string) (map[string]*models.Quote, error) {
	return nil, providers.Unsupported(Name, "GetQuoteBatch")
}

// GetHistoricalBars fetches OHLCV bars for one symbol and period.
// Tushare reports volume in lots of 100 shares and amount in k-yuan; both
// are normalized here.
func (c *Client) GetHistoricalBars(ctx context.Context, code string, start, end time.Time, period string) ([]*models.DailyBar, error) {
	var apiName string
	switch period {
	case models.PeriodDaily:
		apiName = "daily"
	case models.PeriodWeekly:
		apiName = "weekly"
	case models.PeriodMonthly:
		apiName = "monthly"
	default:
		return nil, providers.Permanent(Name, "GetHistoricalBars", fmt.Errorf("unknown period %q", period))
	}

	rows, err := c.call(ctx, apiName,
		map[string]string{
			"ts_code":    tsCode(code),
			"start_date": start.Format("20060102"),
			"end_date":   end.Format("20060102"),
		},
		"ts_code,trade_date,open,high,low,close,pre_close,pct_chg,vol,amount")
	if err != nil {
		return nil, err
	}

	bars := make([]*models.DailyBar, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, &models.DailyBar{
			Code:          normalize.Code(asString(row["ts_code"])),
			Source:        Name,
			TradeDate:     isoDate(asString(row["trade_date"])),
			Period:        period,
			Open:          asFloat(row["open"]),
			High:          asFloat(row["high"]),
			Low:           asFloat(row["low"]),
			Close:         asFloat(row["close"]),
			PreClose:      asFloat(row["pre_close"]),
			ChangePercent: asFloat(row["pct_chg"]),
			Volume:        int64(asFloat(row["vol"]) * 100),
			Amount:        asFloat(row["amount"]) * 1000,
		})
	}
	return bars, nil
}

// GetFinancials fetches per-period financial indicators, newest first.
func (c *Client) GetFinancials(ctx context.Context, code string) ([]*models.FinancialRecord, error) {
	rows, err := c.call(ctx, "fina_indicator",
		map[string]string{"ts_code": tsCode(code)},
		"ts_code,end_date,eps,roe,debt_to_assets,netprofit_margin,or_yoy")
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, providers.NotFound(Name, "GetFinancials")
	}

	records := make([]*models.FinancialRecord, 0, len(rows))
	for _, row := range rows {
		records = append(records, &models.FinancialRecord{
			Symbol:       normalize.Code(asString(row["ts_code"])),
			ReportPeriod: asString(row["end_date"]),
			Source:       Name,
			EPS:          asFloat(row["eps"]),
			ROE:          asFloat(row["roe"]),
			DebtToAssets: asFloat(row["debt_to_assets"]),
			Statements:   map[string]any{"fina_indicator": row},
		})
	}
	return records, nil
}

// GetNews is not part of the subscribed Pro surface.
func (c *Client) GetNews(_ context.Context, _ string, _ int) ([]*models.NewsItem, error) {
	return nil, providers.Unsupported(Name, "GetNews")
}

// LatestTradeDate returns the most recent open trading day per the
// exchange calendar.
func (c *Client) LatestTradeDate(ctx context.Context) (string, error) {
	now := time.Now()
	rows, err := c.call(ctx, "trade_cal",
		map[string]string{
			"exchange":   "SSE",
			"is_open":    "1",
			"start_date": now.AddDate(0, 0, -14).Format("20060102"),
			"end_date":   now.Format("20060102"),
		},
		"cal_date")
	if err != nil {
		return "", err
	}

	latest := ""
	for _, row := range rows {
		if d := asString(row["cal_date"]); d > latest {
			latest = d
		}
	}
	if latest == "" {
		return "", providers.NotFound(Name, "LatestTradeDate")
	}
	return isoDate(latest), nil
}

// DailyBasicSnapshot fetches full-market valuation metrics for one trade
// date. Market caps arrive in 10k-yuan and are converted to 亿元.
func (c *Client) DailyBasicSnapshot(ctx context.Context, tradeDate string) (map[string]map[string]float64, error) {
	rows, err := c.call(ctx, "daily_basic",
		map[string]string{"trade_date": compactDate(tradeDate)},
		"ts_code,pe,pe_ttm,pb,ps,total_mv,circ_mv,turnover_rate,volume_ratio,total_share,float_share")
	if err != nil {
		return nil, err
	}

	snapshot := make(map[string]map[string]float64, len(rows))
	for _, row := range rows {
		code := normalize.Code(asString(row["ts_code"]))
		snapshot[code] = map[string]float64{
			"pe":            asFloat(row["pe"]),
			"pe_ttm":        asFloat(row["pe_ttm"]),
			"pb":            asFloat(row["pb"]),
			"ps":            asFloat(row["ps"]),
			"total_mv":      normalize.WanToYi(asFloat(row["total_mv"])),
			"circ_mv":       normalize.WanToYi(asFloat(row["circ_mv"])),
			"turnover_rate": asFloat(row["turnover_rate"]),
			"volume_ratio":  asFloat(row["volume_ratio"]),
			"total_share":   asFloat(row["total_share"]),
			"float_share":   asFloat(row["float_share"]),
		}
	}
	return snapshot, nil
}

// basicInfoFromRow maps one stock_basic row into the canonical record.
func basicInfoFromRow(row map[string]any) *models.StockBasicInfo {
	code := normalize.Code(asString(row["ts_code"]))
	return normalize.BasicInfo(&models.StockBasicInfo{
		Code:     code,
		Name:     asString(row["name"]),
		Area:     asString(row["area"]),
		Industry: asString(row["industry"]),
		Market:   asString(row["market"]),
		ListDate: isoDate(asString(row["list_date"])),
		Source:   Name,
	})
}

// tsCode converts a canonical 6-char code into Tushare's suffixed form.
func tsCode(code string) string {
	code = normalize.Code(code)
	switch {
	case strings.HasPrefix(code, "6"), strings.HasPrefix(code, "9"):
		return code + ".SH"
	case strings.HasPrefix(code, "8"), strings.HasPrefix(code, "4"):
		return code + ".BJ"
	default:
		return code + ".SZ"
	}
}

// isoDate converts YYYYMMDD to YYYY-MM-DD; other shapes pass through.
func isoDate(d string) string {
	if len(d) != 8 {
		return d
	}
	return d[:4] + "-" + d[4:6] + "-" + d[6:]
}

// compactDate converts YYYY-MM-DD to YYYYMMDD.
func compactDate(d string) string {
	return strings.ReplaceAll(d, "-", "")
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	case json.Number:
		f, _ := n.Float64()
		return f
	default:
		return 0
	}
}

// Compile-time check
var _ interfaces.Provider = (*Client)(nil)
