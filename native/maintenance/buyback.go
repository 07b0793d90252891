package maintenance

// runBuybackCycle implements spec.md §4.L: for every buyback-configured
// asset with a non-null allowed-assets filter, post-and-cancel a zero-fee,
// no-expiration limit order against every allowed non-target balance the
// buyback account holds, so the matching engine fills whatever it can at
// market and the remainder stays liquid.
func runBuybackCycle(store Store, eval Evaluator, logger runLogger) error {
	if eval == nil {
		return nil
	}
	configs, err := store.Buybacks()
	if err != nil {
		return err
	}
	for _, cfg := range configs {
		if cfg.AllowedAssets == nil {
			continue
		}
		if err := cycleBuybackAccount(store, eval, logger, cfg); err != nil {
			return err
		}
	}
	return nil
}

func cycleBuybackAccount(store Store, eval Evaluator, logger runLogger, cfg *BuybackConfig) error {
	for asset, allowed := range cfg.AllowedAssets {
		if !allowed || asset == cfg.AssetID {
			continue
		}
		balances, err := store.AccountBalancesByAssetDesc(asset)
		if err != nil {
			return err
		}
		for _, bal := range balances {
			if bal.Owner != cfg.BuybackAccount || bal.Amount == 0 {
				continue
			}
			if err := postAndCancelBuybackOrder(eval, cfg, asset, bal.Amount); err != nil {
				// A per-balance failure (e.g. the account's whitelist rejects
				// the buyback account) is caught, logged, and skipped —
				// spec.md §4.L — it never aborts the cycle.
				logger.skippedParticipant("buyback_cycle", participantErr(cfg.BuybackAccount, err))
				continue
			}
		}
	}
	return nil
}

func postAndCancelBuybackOrder(eval Evaluator, cfg *BuybackConfig, sellAsset uint64, amount uint64) error {
	orderID, err := eval.ApplyRestricted(VirtualOp{
		Kind: "limit_order_create",
		Payload: map[string]any{
			"seller":        cfg.BuybackAccount,
			"sell_asset":    sellAsset,
			"amount":        amount,
			"receive_asset": cfg.AssetID,
			"min_to_receive": uint64(1),
			"expiration":    int64(0),
		},
	}, true)
	if err != nil {
		return err
	}
	_, err = eval.ApplyRestricted(VirtualOp{
		Kind:    "limit_order_cancel",
		Payload: map[string]any{"order": orderID, "seller": cfg.BuybackAccount},
	}, true)
	return err
}
