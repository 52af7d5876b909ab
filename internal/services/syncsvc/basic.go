package syncsvc

import (
	"context"
	"sync"

	"github.com/loongquant/loong/internal/common"
	"github.com/loongquant/loong/internal/consistency"
	"github.com/loongquant/loong/internal/interfaces"
	"github.com/loongquant/loong/internal/models"
	"github.com/loongquant/loong/internal/providers"
)

// SyncBasicInfo refreshes the stock roster. The full-market path pulls the
// roster from the primary source and enriches it with the daily valuation
// snapshot; a symbol-scoped run fetches each symbol directly.
func (s *Service) SyncBasicInfo(ctx context.Context, opts interfaces.SyncOptions) (*models.SyncStatus, error) {
	return s.run(ctx, "basic_sync", models.DataClassBasic, func(ctx context.Context, state *runState) error {
		order := s.router.Order(models.DataClassBasic, false)
		if len(order) == 0 {
			return common.NewAppError(common.CodeProviderExhausted, "no providers serve basic info")
		}

		var infos []*models.StockBasicInfo
		var err error
		if len(opts.Symbols) > 0 {
			infos, err = s.fetchBasicInfoForSymbols(ctx, order, opts.Symbols, state)
		} else {
			infos, err = s.fetchFullRoster(ctx, order, state)
		}
		if err != nil {
			return err
		}
		state.counters.Total = len(infos)

		s.enrichWithSnapshot(ctx, order, infos, state)
		s.sampleConsistency(ctx, order, infos)

		result, err := s.storage.StockStore().UpsertBasicInfo(ctx, infos)
		if err != nil {
			return common.WrapAppError(common.CodeStoreUnavailable, err, "failed to persist basic info")
		}
		state.counters.Inserted = result.Inserted
		state.counters.Updated = result.Updated
		state.counters.Errors += result.Errors

		s.cache.InvalidatePrefix(ctx, "stock_info")
		return nil
	})
}

func (s *Service) fetchFullRoster(ctx context.Context, order []interfaces.Provider, state *runState) ([]*models.StockBasicInfo, error) {
	infos, winner, err := providers.Call(ctx, order, s.health, "stock_list",
		func(ctx context.Context, p interfaces.Provider) ([]*models.StockBasicInfo, error) {
			return p.ListAllSymbols(ctx)
		})
	if err != nil {
		return nil, common.WrapAppError(common.CodeProviderExhausted, err, "failed to list symbols from any provider")
	}
	state.addSource("stock_list", winner)
	return infos, nil
}

// fetchBasicInfoForSymbols resolves a symbol subset with bounded
// concurrency. Individual failures count as errors without aborting the
// run.
func (s *Service) fetchBasicInfoForSymbols(ctx context.Context, order []interfaces.Provider, symbols []string, state *runState) ([]*models.StockBasicInfo, error) {
	type fetchResult struct {
		info   *models.StockBasicInfo
		winner string
		err    error
	}

	sem := make(chan struct{}, enrichConcurrency)
	results := make([]fetchResult, len(symbols))
	var wg sync.WaitGroup

	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			info, winner, err := providers.Call(ctx, order, s.health, "basic_info",
				func(ctx context.Context, p interfaces.Provider) (*models.StockBasicInfo, error) {
					return p.GetBasicInfo(ctx, symbol)
				})
			results[i] = fetchResult{info: info, winner: winner, err: err}
		}(i, symbol)
	}
	wg.Wait()

	infos := make([]*models.StockBasicInfo, 0, len(symbols))
	for i, r := range results {
		if r.err != nil {
			if providers.IsNotFound(r.err) {
				s.logger.Debug().Str("symbol", symbols[i]).Msg("Symbol unknown to all providers")
			} else {
				s.logger.Warn().Err(r.err).Str("symbol", symbols[i]).Msg("Basic info fetch failed")
			}
			state.counters.Errors++
			continue
		}
		state.addSource("basic_info", r.winner)
		infos = append(infos, r.info)
	}
	return infos, nil
}

// enrichWithSnapshot merges the daily valuation snapshot into the roster's
// financial_snapshot field. Enrichment failure degrades, never aborts.
func (s *Service) enrichWithSnapshot(ctx context.Context, order []interfaces.Provider, infos []*models.StockBasicInfo, state *runState) {
	tradeDate, winner, err := providers.Call(ctx, order, s.health, "latest_trade_date",
		func(ctx context.Context, p interfaces.Provider) (string, error) {
			return p.LatestTradeDate(ctx)
		})
	if err != nil {
		s.logger.Warn().Err(err).Msg("No trade date available, skipping snapshot enrichment")
		return
	}
	state.addSource("trade_cal", winner)

	snapshot, winner, err := providers.Call(ctx, order, s.health, "daily_basic",
		func(ctx context.Context, p interfaces.Provider) (map[string]map[string]float64, error) {
			return p.DailyBasicSnapshot(ctx, tradeDate)
		})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Snapshot enrichment unavailable")
		return
	}
	state.addSource("daily_basic", winner)

	enriched := 0
	for _, info := range infos {
		if metrics, ok := snapshot[info.Code]; ok {
			info.FinancialSnapshot = metrics
			enriched++
		}
	}
	s.logger.Debug().Int("enriched", enriched).Str("trade_date", tradeDate).Msg("Roster enriched with valuation snapshot")
}

// sampleConsistency cross-checks a sample of symbols between the primary
// and secondary snapshot sources. Low-confidence results are logged, not
// fatal.
func (s *Service) sampleConsistency(ctx context.Context, order []interfaces.Provider, infos []*models.StockBasicInfo) {
	if len(order) < 2 || len(infos) == 0 {
		return
	}
	primary, secondary := order[0], order[1]

	tradeDate, err := primary.LatestTradeDate(ctx)
	if err != nil {
		return
	}
	primarySnap, err := primary.DailyBasicSnapshot(ctx, tradeDate)
	if err != nil {
		return
	}
	secondarySnap, err := secondary.DailyBasicSnapshot(ctx, tradeDate)
	if err != nil {
		return
	}

	checked, flagged := 0, 0
	for _, info := range infos {
		if checked >= consistencySampleSize {
			break
		}
		a, okA := primarySnap[info.Code]
		b, okB := secondarySnap[info.Code]
		if !okA || !okB {
			continue
		}
		checked++

		report := s.checker.Check(info.Code, primary.Name(), secondary.Name(), a, b)
		if report.Directive != consistency.DirectiveUseEither {
			flagged++
		}
	}
	if checked > 0 {
		s.logger.Info().
			Int("checked", checked).
			Int("flagged", flagged).
			Str("primary", primary.Name()).
			Str("secondary", secondary.Name()).
			Msg("Cross-source consistency sample")
	}
}
