package maintenance

import "sort"

const nsPerDay = 24 * 60 * 60 * 1_000_000_000

// runWorkerPayroll implements spec.md §4.G. It pays ranked active workers
// from budget and returns the unused remainder, which re-enters the reserve.
func runWorkerPayroll(store Store, now int64, lastBudgetTime int64, budget uint64) (uint64, error) {
	workers, err := store.WorkersByID()
	if err != nil {
		return 0, err
	}

	candidates := make([]*Worker, 0, len(workers))
	for _, w := range workers {
		if w.ActiveAt(now) && w.CachedVotes > 0 {
			candidates = append(candidates, w)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].CachedVotes != candidates[j].CachedVotes {
			return candidates[i].CachedVotes > candidates[j].CachedVotes
		}
		return candidates[i].ID < candidates[j].ID
	})

	elapsedNs := (now - lastBudgetTime) * 1_000_000_000
	if elapsedNs < 0 {
		elapsedNs = 0
	}

	for _, w := range candidates {
		if budget == 0 {
			break
		}
		prorated, err := mulDivFloor(w.DailyPay, uint64(elapsedNs), nsPerDay)
		if err != nil {
			return 0, err
		}
		pay := prorated
		if pay > budget {
			pay = budget
		}
		if pay == 0 {
			continue
		}
		if err := applyWorkerPayout(store, w, pay); err != nil {
			return 0, err
		}
		budget -= pay
	}
	return budget, nil
}

// applyWorkerPayout dispatches pay through the worker's polymorphic payout
// strategy (spec.md §9's tagged-sum re-expression of the original variant
// visitor).
func applyWorkerPayout(store Store, w *Worker, pay uint64) error {
	switch w.Payout.Kind {
	case PayoutRefundToReserve:
		dgp, err := store.DynamicGlobalProperties()
		if err != nil {
			return err
		}
		dgp.CoreReserved += pay
		return store.PutDynamicGlobalProperties(dgp)

	case PayoutVestingUnlock:
		stats, ok, err := store.AccountStats(w.Account)
		if err != nil {
			return err
		}
		if !ok {
			stats = &AccountStatistics{AccountID: w.Account}
		}
		stats.VestingCashback += pay
		return store.PutAccountStats(stats)

	case PayoutBurnIntoFund:
		bitasset, ok, err := store.BitassetData(w.Payout.FundAsset)
		if err != nil {
			return err
		}
		if !ok {
			return invariant("worker-burn-fund-missing", "payout fund asset has no bitasset data")
		}
		bitasset.SettlementFund += pay
		return store.PutBitassetData(bitasset)

	default:
		return ErrUnknownPayoutStrategy
	}
}
