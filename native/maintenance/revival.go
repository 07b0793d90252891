package maintenance

import "sort"

// executableEntry is a collateral bid that cleared the call-price test,
// carrying the debt it will be assigned and the settlement-fund-sourced
// collateral it draws (separate from its own pledged ExtraCollateral, which
// is never part of the settlement fund and so is excluded from invariant
// P5's fund-conservation check).
type executableEntry struct {
	bid         *CollateralBid
	debt        uint64
	fundPortion uint64
}

// reviveIfPossible implements spec.md §4.I. Preconditions per the spec are
// checked by the caller (bitasset.go); this function assumes asset is
// market-issued, not a prediction market, and globally settled.
func reviveIfPossible(store Store, asset *Asset, bitasset *BitassetData, revivalCR uint32) error {
	if asset.CurrentSupply == 0 {
		return clearGlobalSettlement(store, asset, bitasset)
	}

	bids, err := store.CollateralBidsByPrice(asset.ID)
	if err != nil {
		return err
	}
	sortBidsByPriceDesc(bids)

	var executable []executableEntry
	var coveredDebt uint64

	for _, bid := range bids {
		if coveredDebt >= asset.CurrentSupply {
			break
		}
		remainingSupply := asset.CurrentSupply - coveredDebt
		debt := bid.MaxDebt
		if debt > remainingSupply {
			debt = remainingSupply
		}

		fundPortion, err := mulDivFloor(debt, bitasset.SettlementPrice.Numerator, denomOrOne(bitasset.SettlementPrice.Denominator))
		if err != nil {
			return err
		}
		totalCollateral := fundPortion + bid.ExtraCollateral

		// effectiveCallPrice already returns the *inverted* call price
		// (collateral per CR-scaled debt); compare it directly against the
		// current settlement feed (also collateral-per-debt).
		invertedCallPrice := effectiveCallPrice(totalCollateral, debt, revivalCR)
		if invertedCallPrice.GTE(bitasset.SettlementPrice) {
			// Not executable (Open Question 1: treat equality as the
			// boundary, matching the original's strict '<' test): stop
			// scanning since bids are ordered best-first.
			break
		}

		executable = append(executable, executableEntry{bid: bid, debt: debt, fundPortion: fundPortion})
		coveredDebt += debt
	}

	if coveredDebt < asset.CurrentSupply {
		return ErrInsufficientBidCover
	}

	return executeRevival(store, asset, bitasset, executable)
}

func executeRevival(store Store, asset *Asset, bitasset *BitassetData, executable []executableEntry) error {
	remainingDebt := asset.CurrentSupply
	remainingFund := bitasset.SettlementFund

	for i, entry := range executable {
		debt := entry.debt
		fundPortion := entry.fundPortion
		if i == len(executable)-1 {
			// The final bid absorbs whatever residual remains so both totals
			// reach exactly zero (spec.md §4.I postcondition).
			debt = remainingDebt
			fundPortion = remainingFund
		}

		id, err := store.NewID("call_order")
		if err != nil {
			return err
		}
		position := &CallPosition{
			ID:         id,
			Owner:      entry.bid.Owner,
			DebtAsset:  asset.ID,
			Collateral: fundPortion + entry.bid.ExtraCollateral,
			Debt:       debt,
		}
		if err := store.PutCallOrder(position); err != nil {
			return err
		}
		if err := store.RemoveCollateralBid(entry.bid.ID); err != nil {
			return err
		}

		remainingDebt -= debt
		remainingFund -= fundPortion
	}

	if remainingDebt != 0 {
		return invariant("I5-revival-debt", "executed debt did not exhaust current supply")
	}
	if remainingFund != 0 {
		return invariant("I5-revival-fund", "executed collateral did not exhaust settlement fund")
	}

	return clearGlobalSettlement(store, asset, bitasset)
}

func clearGlobalSettlement(store Store, asset *Asset, bitasset *BitassetData) error {
	bitasset.IsGloballySettled = false
	bitasset.SettlementFund = 0
	bitasset.SettlementPrice = Price{}
	if err := store.PutBitassetData(bitasset); err != nil {
		return err
	}
	return store.PutAsset(asset)
}

// effectiveCallPrice derives the bid's call price at the given collateral
// ratio (in hundredths of a percent, e.g. 17500 = 175%), per spec.md §4.I.
func effectiveCallPrice(collateral, debt uint64, collateralRatioBps uint32) Price {
	scaledDebt, _ := mulDivFloor(debt, uint64(collateralRatioBps), 10000)
	return Price{Numerator: collateral, Denominator: scaledDebt}
}

func denomOrOne(d uint64) uint64 {
	if d == 0 {
		return 1
	}
	return d
}

func sortBidsByPriceDesc(bids []*CollateralBid) {
	sort.SliceStable(bids, func(i, j int) bool {
		return bids[j].InversePrice.LessThan(bids[i].InversePrice)
	})
}
