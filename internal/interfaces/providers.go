// Package interfaces defines the contracts between Loong components.
package interfaces

import (
	"context"
	"time"

	"github.com/loongquant/loong/internal/models"
)

// Provider is the uniform capability surface over one upstream data source.
// Adapters that lack a capability return a provider error of kind
// "unsupported" rather than fabricating data.
type Provider interface {
	Name() string
	Type() string

	ListAllSymbols(ctx context.Context) ([]*models.StockBasicInfo, error)
	GetBasicInfo(ctx context.Context, code string) (*models.StockBasicInfo, error)
	GetQuote(ctx context.Context, code string) (*models.Quote, error)
	GetQuoteBatch(ctx context.Context, codes []string) (map[string]*models.Quote, error)
	GetHistoricalBars(ctx context.Context, code string, start, end time.Time, period string) ([]*models.DailyBar, error)
	GetFinancials(ctx context.Context, code string) ([]*models.FinancialRecord, error)
	GetNews(ctx context.Context, code string, limit int) ([]*models.NewsItem, error)
	LatestTradeDate(ctx context.Context) (string, error)
	DailyBasicSnapshot(ctx context.Context, tradeDate string) (map[string]map[string]float64, error)
}

// HealthMonitor tracks per-provider liveness and latency.
type HealthMonitor interface {
	Status(provider string) string
	Unhealthy() []string
	Report() []*models.HealthMetrics
	RecordSuccess(provider string, elapsed time.Duration)
	RecordFailure(provider string, err error)
}

// SourceRouter resolves an ordered list of providers for a request class.
type SourceRouter interface {
	Order(dataClass string, strict bool) []Provider
	Get(name string) (Provider, bool)
	Providers() []Provider
}

// LLMClient is the analysis model collaborator.
type LLMClient interface {
	Generate(ctx context.Context, model, prompt string) (*LLMResponse, error)
}

// LLMResponse carries one model completion plus its token accounting.
type LLMResponse struct {
	Text      string
	TokensIn  int
	TokensOut int
	Elapsed   time.Duration
}
