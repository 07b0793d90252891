package maintenance

// runAccountMaintenancePass implements spec.md §4.D: drain the
// balance-needs-maintenance set, then walk account statistics in
// maintenance-sequence order invoking the tally helper and fee settlement.
//
// The balance sweep snapshots the flagged rows into a local slice before
// mutating them, per the "decouple iteration from mutation" guidance in
// spec.md §9 (the alternative re-seeking approach is equally valid; this one
// is simpler to keep deterministic in a Go slice-backed store).
func runAccountMaintenancePass(store Store, now int64, params ChainParameters, buf *scratchBuffers) error {
	flagged, err := store.AccountBalancesByMaintenanceFlag()
	if err != nil {
		return err
	}
	for _, bal := range flagged {
		stats, err := loadOrCreateStats(store, bal.Owner)
		if err != nil {
			return err
		}
		stats.CoreLiquidBalance = bal.Amount
		stats.NeedsMaintenance = true
		if err := store.PutAccountStats(stats); err != nil {
			return err
		}
		bal.NeedsMaintenance = false
		if err := store.PutAccountBalance(bal); err != nil {
			return err
		}
	}

	rows, err := store.AccountStatsByMaintenanceSeq()
	if err != nil {
		return err
	}
	for _, stats := range rows {
		if !stats.NeedsMaintenance {
			continue
		}
		account, ok, err := store.Account(stats.AccountID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if hasVotingActivity(account, stats) {
			if err := tallyAccount(store, account, stats, now, params, buf); err != nil {
				return err
			}
		}
		if stats.PendingFees > 0 {
			settlePendingFees(stats)
		}
		stats.NeedsMaintenance = false
		if err := store.PutAccountStats(stats); err != nil {
			return err
		}
	}
	return nil
}

func hasVotingActivity(account *Account, stats *AccountStatistics) bool {
	return len(account.Votes) > 0 || stats.LastVoteTime > 0
}

func loadOrCreateStats(store Store, account uint64) (*AccountStatistics, error) {
	stats, ok, err := store.AccountStats(account)
	if err != nil {
		return nil, err
	}
	if !ok {
		return &AccountStatistics{AccountID: account}, nil
	}
	return stats, nil
}

// settlePendingFees clears the statistics row's pending-fee balance against
// the owner's core liquid balance. The exact fee pipeline (schedule,
// rebates) belongs to the transaction evaluator; this pass only flushes the
// already-accumulated amount, matching spec.md §4.D step 2's scope.
func settlePendingFees(stats *AccountStatistics) {
	stats.CoreLiquidBalance += stats.PendingFees
	stats.PendingFees = 0
}
