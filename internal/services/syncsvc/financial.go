package syncsvc

import (
	"context"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/normalize"
	"github.com/loongquant/loong/internal/providers"
)

// SyncFinancial ingests per-period financial statements for each symbol.
func (s *Service) SyncFinancial(ctx context.Context, opts interfaces.SyncOptions) (*models.SyncStatus, error) {
	return s.run(ctx, "financial_sync", models.DataClassFinancial, func(ctx context.Context, state *runState) error {
		symbols := opts.Symbols
		var err error
		if len(symbols) == 0 {
			symbols, err = s.storage.StockStore().ListSymbols(ctx)
			if err != nil {
				return common.WrapAppError(common.CodeStoreUnavailable, err, "failed to list symbols")
			}
		}
		if len(symbols) == 0 {
			state.message = "no symbols to sync"
			return nil
		}

		order := s.selectSources(models.DataClassFinancial, opts.Sources)
		if len(order) == 0 {
			return common.NewAppError(common.CodeProviderExhausted, "no providers serve financials")
		}

		chunk := s.chunkSize(models.DataClassFinancial, 50)
		for offset := 0; offset < len(symbols); offset += chunk {
			if err := ctx.Err(); err != nil {
				return common.WrapAppError(common.CodeCancelled, err, "sync cancelled")
			}
			limit := offset + chunk
			if limit > len(symbols) {
				limit = len(symbols)
			}
			for _, symbol := range symbols[offset:limit] {
				s.syncSymbolFinancials(ctx, order, symbol, state)
			}
		}
		return nil
	})
}

func (s *Service) syncSymbolFinancials(ctx context.Context, order []interfaces.Provider, symbol string, state *runState) {
	code := normalize.Code(symbol)

	records, winner, err := providers.Call(ctx, order, s.health, "financials",
		func(ctx context.Context, p interfaces.Provider) ([]*models.FinancialRecord, error) {
			return p.GetFinancials(ctx, code)
		})
	if err != nil {
		if providers.IsNotFound(err) {
			return
		}
		s.logger.Warn().Err(err).Str("symbol", code).Msg("Financials fetch failed")
		state.counters.Errors++
		return
	}
	if len(records) == 0 {
		return
	}

	normalize.Financials(records, code, winner)
	state.counters.Total += len(records)
	state.addSource("financials", winner)

	result, err := s.storage.StockStore().UpsertFinancials(ctx, records)
	if err != nil {
		s.logger.Error().Err(err).Str("symbol", code).Msg("Financials persist failed")
		state.counters.Errors += len(records)
		return
	}
	state.counters.Inserted += result.Inserted
	state.counters.Updated += result.Updated
	state.counters.Errors += result.Errors
}
