package syncsvc

import (
	"context"
	"time"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/normalize"
	"github.com/loongquant/loong/internal/providers"
)

// SyncHistorical ingests OHLCV bars per (symbol, source, period). The
// default run is incremental from each pair's stored max trade date;
// AllHistory restarts from 1990-01-01.
func (s *Service) SyncHistorical(ctx context.Context, opts interfaces.SyncOptions) (*models.SyncStatus, error) {
	return s.run(ctx, "historical_sync", models.DataClassHistorical, func(ctx context.Context, state *runState) error {
		start, end, err := resolveDateRange(opts)
		if err != nil {
			return err
		}

		symbols := opts.Symbols
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

		periods := opts.Periods
		if len(periods) == 0 {
			periods = []string{models.PeriodDaily}
		}
		for _, period := range periods {
			if !models.ValidPeriod(period) {
				return common.NewAppError(common.CodeBadRequest, "unknown period %q", period)
			}
		}

		order := s.selectSources(models.DataClassHistorical, opts.Sources)
		if len(order) == 0 {
			return common.NewAppError(common.CodeProviderExhausted, "no providers serve historical bars")
		}

		chunk := s.chunkSize(models.DataClassHistorical, 50)
		for offset := 0; offset < len(symbols); offset += chunk {
			if err := ctx.Err(); err != nil {
				return common.WrapAppError(common.CodeCancelled, err, "sync cancelled")
			}
			limit := offset + chunk
			if limit > len(symbols) {
				limit = len(symbols)
			}
			for _, symbol := range symbols[offset:limit] {
				s.syncSymbolBars(ctx, order, symbol, periods, start, end, opts, state)
			}
		}

		s.cache.InvalidatePrefix(ctx, "market_data")
		return nil
	})
}

// resolveDateRange validates the requested window. AllHistory wins over an
// explicit start.
func resolveDateRange(opts interfaces.SyncOptions) (time.Time, time.Time, error) {
	end := time.Now()
	if opts.EndDate != "" {
		parsed, err := time.Parse("2006-01-02", opts.EndDate)
		if err != nil {
			return time.Time{}, time.Time{}, common.NewAppError(common.CodeBadRequest, "invalid end_date %q", opts.EndDate)
		}
		end = parsed
	}

	start := end.AddDate(-1, 0, 0)
	if opts.AllHistory {
		start, _ = time.Parse("2006-01-02", common.FullHistoryStart)
	} else if opts.StartDate != "" {
		parsed, err := time.Parse("2006-01-02", opts.StartDate)
		if err != nil {
			return time.Time{}, time.Time{}, common.NewAppError(common.CodeBadRequest, "invalid start_date %q", opts.StartDate)
		}
		start = parsed
	}

	if start.After(end) {
		return time.Time{}, time.Time{}, common.NewAppError(common.CodeBadRequest, "start_date %s is after end_date %s",
			start.Format("2006-01-02"), end.Format("2006-01-02"))
	}
	return start, end, nil
}

// selectSources resolves the provider order, optionally restricted to an
// explicit source list.
func (s *Service) selectSources(dataClass string, requested []string) []interfaces.Provider {
	order := s.router.Order(dataClass, false)
	if len(requested) == 0 {
		return order
	}

	want := make(map[string]bool, len(requested))
	for _, name := range requested {
		want[name] = true
	}
	filtered := make([]interfaces.Provider, 0, len(order))
	for _, p := range order {
		if want[p.Name()] {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// syncSymbolBars walks every (source, period) pair for one symbol. Each
// source keeps its own bars; readers choose by source priority.
func (s *Service) syncSymbolBars(ctx context.Context, order []interfaces.Provider, symbol string, periods []string, start, end time.Time, opts interfaces.SyncOptions, state *runState) {
	code := normalize.Code(symbol)

	for _, p := range order {
		for _, period := range periods {
			from := start
			if opts.Incremental && !opts.AllHistory {
				maxDate, err := s.storage.StockStore().MaxTradeDate(ctx, code, p.Name(), period)
				if err != nil {
					s.logger.Warn().Err(err).Str("symbol", code).Msg("Max trade date lookup failed")
				} else if maxDate != "" {
					if parsed, perr := time.Parse("2006-01-02", maxDate); perr == nil {
						from = parsed.AddDate(0, 0, 1)
					}
				}
				if from.After(end) {
					continue
				}
			}

			var bars []*models.DailyBar
			err := providers.WithRetry(ctx, 3, func() error {
				fetched, ferr := p.GetHistoricalBars(ctx, code, from, end, period)
				if ferr != nil {
					return ferr
				}
				bars = fetched
				return nil
			})
			if err != nil {
				if providers.IsUnsupported(err) || providers.IsNotFound(err) {
					continue
				}
				s.logger.Warn().Err(err).Str("symbol", code).Str("source", p.Name()).Str("period", period).Msg("Bar fetch failed")
				state.counters.Errors++
				continue
			}
			if len(bars) == 0 {
				continue
			}

			normalize.Bars(bars, code, p.Name(), period)
			state.counters.Total += len(bars)
			state.addSource("historical", p.Name())

			result, err := s.storage.StockStore().UpsertDailyBars(ctx, bars)
			if err != nil {
				s.logger.Error().Err(err).Str("symbol", code).Msg("Bar persist failed")
				state.counters.Errors += len(bars)
				continue
			}
			state.counters.Inserted += result.Inserted
			state.counters.Updated += result.Updated
			state.counters.Errors += result.Errors

			if period == models.PeriodDaily {
				s.projectQuoteFromBars(ctx, code, bars, p.Name(), state)
			}
		}
	}
}

// projectQuoteFromBars refreshes the latest-quote document from the newest
// ingested daily bar, but only when it is strictly newer than the stored
// quote.
func (s *Service) projectQuoteFromBars(ctx context.Context, code string, bars []*models.DailyBar, source string, state *runState) {
	var latest *models.DailyBar
	for _, bar := range bars {
		if latest == nil || bar.TradeDate > latest.TradeDate {
			latest = bar
		}
	}
	if latest == nil {
		return
	}

	stored, err := s.storage.StockStore().GetQuote(ctx, code)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", code).Msg("Stored quote lookup failed")
		return
	}
	if stored != nil && stored.TradeDate >= latest.TradeDate {
		return
	}

	quote := normalize.Quote(&models.Quote{
		Code:          code,
		Price:         latest.Close,
		Open:          latest.Open,
		High:          latest.High,
		Low:           latest.Low,
		PreClose:      latest.PreClose,
		ChangePercent: latest.ChangePercent,
		Volume:        latest.Volume,
		Amount:        latest.Amount,
		TradeDate:     latest.TradeDate,
		Source:        source,
	})
	written, err := s.storage.StockStore().UpsertQuote(ctx, quote)
	if err != nil {
		s.logger.Warn().Err(err).Str("symbol", code).Msg("Quote projection failed")
		return
	}
	if written {
		state.addSource("quote_projection", source)
	}
}
