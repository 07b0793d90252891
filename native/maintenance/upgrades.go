package maintenance

// runUpgradeTransforms implements spec.md §4.N: a fixed, strictly ordered
// vector of one-time transforms, each gated on the maintenance driver's
// boundary crossing of its own activation timestamp. prevTime is the next-
// maintenance time before this run's advance; now is the value after it, so
// a transform with activation in (prevTime, now] fires exactly once, on the
// run that straddles it.
func runUpgradeTransforms(store Store, eval Evaluator, emitter eventEmitter, prevTime, now int64, params ChainParameters) error {
	up := params.Upgrades

	if crossed(prevTime, now, up.AnnualMemberDeprecation) {
		if err := deprecateAnnualMembers(store); err != nil {
			return err
		}
	}
	if crossed(prevTime, now, up.CallPriceRepricingA) {
		if err := repriceCallOrdersFromCollateral(store, params); err != nil {
			return err
		}
		if err := forceRematch(store, eval); err != nil {
			return err
		}
	}
	if crossed(prevTime, now, up.FeedCleanupB) {
		if err := cleanupMismatchedFeeds(store); err != nil {
			return err
		}
	}
	if crossed(prevTime, now, up.CallPriceRepricingC) {
		if err := freezeCallPricesAtParity(store); err != nil {
			return err
		}
		if err := forceRematch(store, eval); err != nil {
			return err
		}
	}
	if crossed(prevTime, now, up.MaxSupplyClamp) {
		if err := clampMaxSupply(store); err != nil {
			return err
		}
	}
	if crossed(prevTime, now, up.SpecificBalanceFix) {
		if err := fixSpecificBalance(store, params.SpecificBalanceFixTarget); err != nil {
			return err
		}
	}
	if crossed(prevTime, now, up.LiquidTicketZeroing) {
		if err := zeroLiquidTicketValues(store); err != nil {
			return err
		}
	}
	if crossed(prevTime, now, up.CancelDisabledBids) {
		if err := cancelBidsOnDisabledCollateral(store); err != nil {
			return err
		}
	}
	if crossed(prevTime, now, up.ForceRematch) {
		if err := forceRematch(store, eval); err != nil {
			return err
		}
	}

	if emitter != nil {
		emitter.emit(VirtualOp{Kind: EventUpgradeApplied, Payload: map[string]any{"next_maintenance_time": now}})
	}
	return nil
}

func crossed(prevTime, now, activation int64) bool {
	return activation > 0 && prevTime < activation && now >= activation
}

func deprecateAnnualMembers(store Store) error {
	accounts, err := store.AccountsByID()
	if err != nil {
		return err
	}
	for _, a := range accounts {
		if a.IsLifetimeMember || a.MembershipExpiration == 0 {
			continue
		}
		a.IsLifetimeMember = true
		a.MembershipExpiration = 0
		if err := store.PutAccount(a); err != nil {
			return err
		}
	}
	return nil
}

func repriceCallOrdersFromCollateral(store Store, params ChainParameters) error {
	return forEachCallPosition(store, func(pos *CallPosition, bitasset *BitassetData) error {
		if pos.CallPriceFrozen {
			return nil
		}
		cr := bitasset.CurrentFeed.MaintenanceCR
		pos.CallPrice = effectiveCallPrice(pos.Collateral, pos.Debt, cr)
		return store.PutCallOrder(pos)
	})
}

func freezeCallPricesAtParity(store Store) error {
	return forEachCallPosition(store, func(pos *CallPosition, _ *BitassetData) error {
		pos.CallPrice = Price{Numerator: 1, Denominator: 1}
		pos.CallPriceFrozen = true
		return store.PutCallOrder(pos)
	})
}

func forEachCallPosition(store Store, fn func(*CallPosition, *BitassetData) error) error {
	assets, err := store.MarketIssuedAssets()
	if err != nil {
		return err
	}
	for _, asset := range assets {
		bitasset, ok, err := store.BitassetData(asset.ID)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		positions, err := store.CallOrdersByCollateral(asset.ID)
		if err != nil {
			return err
		}
		for _, pos := range positions {
			if err := fn(pos, bitasset); err != nil {
				return err
			}
		}
	}
	return nil
}

// cleanupMismatchedFeeds implements spec.md §4.N variant B. This package's
// Price type is always expressed in the bitasset's own (collateral, debt)
// pair by construction (see store.go's Price doc comment), so there is no
// representable "wrong quote asset" feed to erase here; the transform still
// runs its activation check so a future Store implementation that relaxes
// that invariant has a place to plug real cleanup in.
func cleanupMismatchedFeeds(store Store) error {
	return nil
}

func clampMaxSupply(store Store) error {
	assets, err := store.MarketIssuedAssets()
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if asset.CurrentSupply > asset.MaxSupply {
			asset.MaxSupply = asset.CurrentSupply
			if err := store.PutAsset(asset); err != nil {
				return err
			}
		}
	}
	return nil
}

func fixSpecificBalance(store Store, target SpecificBalanceFix) error {
	if target.Owner == 0 && target.Asset == 0 {
		return nil
	}
	balances, err := store.AccountBalancesByAssetDesc(target.Asset)
	if err != nil {
		return err
	}
	for _, bal := range balances {
		if bal.Owner != target.Owner {
			continue
		}
		bal.Amount = 0
		if err := store.PutAccountBalance(bal); err != nil {
			return err
		}
		break
	}

	asset, ok, err := assetByID(store, target.Asset)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	asset.CurrentSupply = addSigned(asset.CurrentSupply, -int64(target.Debt))
	return store.PutAsset(asset)
}

func assetByID(store Store, id uint64) (*Asset, bool, error) {
	assets, err := store.MarketIssuedAssets()
	if err != nil {
		return nil, false, err
	}
	for _, asset := range assets {
		if asset.ID == id {
			return asset, true, nil
		}
	}
	return nil, false, nil
}

func zeroLiquidTicketValues(store Store) error {
	tickets, err := store.Tickets()
	if err != nil {
		return err
	}
	for _, t := range tickets {
		if t.Kind != TicketLiquid || t.DeclaredValue == 0 {
			continue
		}
		stats, ok, err := store.AccountStats(t.Owner)
		if err != nil {
			return err
		}
		if ok {
			stats.PoLValue = addSigned(stats.PoLValue, -int64(t.DeclaredValue))
			if err := store.PutAccountStats(stats); err != nil {
				return err
			}
		}
		t.DeclaredValue = 0
		if err := store.PutTicket(t); err != nil {
			return err
		}
	}
	return nil
}

func cancelBidsOnDisabledCollateral(store Store) error {
	assets, err := store.MarketIssuedAssets()
	if err != nil {
		return err
	}
	for _, asset := range assets {
		bitasset, ok, err := store.BitassetData(asset.ID)
		if err != nil {
			return err
		}
		if !ok || !bitasset.CollateralBiddingDisabled {
			continue
		}
		bids, err := store.CollateralBidsByPrice(asset.ID)
		if err != nil {
			return err
		}
		for _, bid := range bids {
			if err := store.RemoveCollateralBid(bid.ID); err != nil {
				return err
			}
		}
	}
	return nil
}

// forceRematch hands control orders for every market-issued asset back to
// the host's order-matching evaluator. The matching engine itself (limit
// order book, margin calls) lives outside this package's scope the same way
// the buyback cycle delegates order placement to Evaluator; when eval is
// nil this is a no-op, matching a headless/test Store with no live market.
func forceRematch(store Store, eval Evaluator) error {
	if eval == nil {
		return nil
	}
	assets, err := store.MarketIssuedAssets()
	if err != nil {
		return err
	}
	for _, asset := range assets {
		if !asset.MarketIssued {
			continue
		}
		if _, err := eval.ApplyRestricted(VirtualOp{
			Kind:    "call_order_rematch",
			Payload: map[string]any{"asset": asset.ID},
		}, true); err != nil {
			return err
		}
	}
	return nil
}
