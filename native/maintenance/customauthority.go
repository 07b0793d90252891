package maintenance

// runCustomAuthorityExpiry implements spec.md §4.M: walk the by_valid_to
// index and remove every custom authority whose window has closed. Unlike
// the buyback and upgrade loops this one is fail-fast — a malformed index
// entry is a store bug, not a misbehaving participant.
func runCustomAuthorityExpiry(store Store, now int64, emitter eventEmitter) error {
	expired, err := store.CustomAuthoritiesExpiredBy(now)
	if err != nil {
		return err
	}
	for _, ca := range expired {
		if err := store.RemoveCustomAuthority(ca.ID); err != nil {
			return err
		}
		if emitter != nil {
			emitter.emit(VirtualOp{Kind: EventCustomAuthorityExpired, Payload: map[string]any{
				"id":      ca.ID,
				"account": ca.Account,
			}})
		}
	}
	return nil
}
