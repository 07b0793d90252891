package maintenance

import "sort"

// runTopNAuthorityRefresh implements spec.md §4.O: for every account with a
// top-holders(asset, N) special authority on its owner or active slot,
// rebuild that slot's weighted authority from the current top N balance
// holders of the named asset.
func runTopNAuthorityRefresh(store Store, emitter eventEmitter) error {
	accounts, err := store.SpecialAuthorityAccounts()
	if err != nil {
		return err
	}
	for _, id := range accounts {
		account, ok, err := store.Account(id)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		changed := false

		if account.ActiveSpecialAuthority.Kind == SpecialAuthorityTopHolders {
			authority, err := topHoldersAuthority(store, account.ID, account.ActiveSpecialAuthority)
			if err != nil {
				return err
			}
			account.Active = authority
			account.ActiveTopNControlled = true
			changed = true
		}
		if account.OwnerSpecialAuthority.Kind == SpecialAuthorityTopHolders {
			authority, err := topHoldersAuthority(store, account.ID, account.OwnerSpecialAuthority)
			if err != nil {
				return err
			}
			account.Owner = authority
			account.OwnerTopNControlled = true
			changed = true
		}
		if !changed {
			continue
		}
		if err := store.PutAccount(account); err != nil {
			return err
		}
		if emitter != nil {
			emitter.emit(VirtualOp{Kind: EventTopNAuthorityRefreshed, Payload: map[string]any{"account": account.ID}})
		}
	}
	return nil
}

// topHoldersAuthority enumerates the top N balance rows of sa.Asset,
// excluding the controlled account itself, and feeds them into a
// weighted-authority builder keyed by balance (spec.md §4.C/§4.O).
func topHoldersAuthority(store Store, controlledAccount uint64, sa SpecialAuthority) (WeightedAuthority, error) {
	balances, err := store.AccountBalancesByAssetDesc(sa.Asset)
	if err != nil {
		return WeightedAuthority{}, err
	}
	sort.SliceStable(balances, func(i, j int) bool {
		if balances[i].Amount != balances[j].Amount {
			return balances[i].Amount > balances[j].Amount
		}
		return balances[i].Owner < balances[j].Owner
	})

	builder := newAuthorityBuilder()
	taken := uint32(0)
	for _, bal := range balances {
		if taken >= sa.N {
			break
		}
		if bal.Owner == controlledAccount || bal.Amount == 0 {
			continue
		}
		builder.add(bal.Owner, bal.Amount)
		taken++
	}
	return builder.buildCurrent()
}
