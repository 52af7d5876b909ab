package syncsvc

import (
	"context"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/providers"
)

// SyncQuotes refreshes realtime quotes. Outside CN trading hours the run
// is skipped unless forced. A provider that serves full-market snapshots
// is preferred; otherwise symbols are fetched in batches down the chain.
func (s *Service) SyncQuotes(ctx context.Context, opts interfaces.SyncOptions) (*models.SyncStatus, error) {
	return s.run(ctx, "quotes_sync", models.DataClassQuotes, func(ctx context.Context, state *runState) error {
		if !opts.Force && !common.IsTradingTime(s.now()) {
			state.message = "outside trading hours, skipped"
			return nil
		}

		order := s.router.Order(models.DataClassQuotes, false)
		if len(order) == 0 {
			return common.NewAppError(common.CodeProviderExhausted, "no providers serve quotes")
		}

		quotes, winner, err := providers.Call(ctx, order, s.health, "quotes",
			func(ctx context.Context, p interfaces.Provider) (map[string]*models.Quote, error) {
				return p.GetQuoteBatch(ctx, opts.Symbols)
			})
		if err != nil {
			return common.WrapAppError(common.CodeProviderExhausted, err, "failed to fetch quotes from any provider")
		}
		state.addSource("quotes", winner)
		state.counters.Total = len(quotes)

		for _, quote := range quotes {
			written, err := s.storage.StockStore().UpsertQuote(ctx, quote)
			if err != nil {
				s.logger.Warn().Err(err).Str("symbol", quote.Code).Msg("Quote persist failed")
				state.counters.Errors++
				continue
			}
			if written {
				state.counters.Updated++
			}
			// A refused write means the stored quote was newer; not an error.
		}

		s.cache.InvalidatePrefix(ctx, "stock_quotes")
		return nil
	})
}
