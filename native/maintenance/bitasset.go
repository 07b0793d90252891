package maintenance

// runBitassetHousekeeping implements spec.md §4.J: reset per-period force-
// settled volume, expire stale feeds on oracle-fed assets, and invoke
// revival (§4.I) on assets that are globally settled.
func runBitassetHousekeeping(store Store, now int64, params ChainParameters) error {
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

		bitasset.ForceSettledVolume = 0

		if (bitasset.WitnessFed || bitasset.CommitteeFed) && bitasset.FeedLifetime > 0 {
			cutoff := now - bitasset.FeedLifetime
			expireStaleFeeds(bitasset, cutoff)
		}

		if err := store.PutBitassetData(bitasset); err != nil {
			return err
		}

		if bitasset.IsGloballySettled {
			revivalCR := bitasset.MaintenanceCRForRevival(params)
			if err := reviveIfPossible(store, asset, bitasset, revivalCR); err != nil && err != ErrInsufficientBidCover {
				return err
			}
		}
	}
	return nil
}

func expireStaleFeeds(bitasset *BitassetData, cutoff int64) {
	if bitasset.Feeds == nil {
		return
	}
	for publisher, feed := range bitasset.Feeds {
		if feed.Expiration < cutoff {
			delete(bitasset.Feeds, publisher)
		}
	}
	// The median-feed refresh (current_feed) is deferred to whichever step
	// next requires it (e.g. revival, or the next price-dependent
	// operation), per spec.md §4.J.
}

// MaintenanceCRForRevival picks ICR once the relevant activation has passed,
// else MCR, matching spec.md §4.I.
func (b *BitassetData) MaintenanceCRForRevival(params ChainParameters) uint32 {
	if params.ICRActive {
		return b.CurrentFeed.InitialCR
	}
	return b.CurrentFeed.MaintenanceCR
}
