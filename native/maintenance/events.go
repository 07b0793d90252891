package maintenance

import "nhbchain/core/events"

// Event types emitted as virtual operations (spec.md §6 "Outputs"). These
// are observable via chain replay the same way native/governance's
// gov.* events are.
const (
	EventFBADistributed        = "maintenance.fba_distributed"
	EventFBABurned             = "maintenance.fba_burned"
	EventBudgetSettled         = "maintenance.budget_settled"
	EventProducerSetSelected   = "maintenance.producer_set_selected"
	EventCommitteeSetSelected  = "maintenance.committee_set_selected"
	EventAssetRevived          = "maintenance.asset_revived"
	EventBuybackCycled         = "maintenance.buyback_cycled"
	EventCustomAuthorityExpired = "maintenance.custom_authority_expired"
	EventUpgradeApplied        = "maintenance.upgrade_applied"
	EventTopNAuthorityRefreshed = "maintenance.topn_authority_refreshed"
)

// runEvent adapts a VirtualOp to the core/events.Event interface so the
// engine can optionally fan its stream out through the same
// events.Emitter callers already use for gov.*/potso.* events, in addition
// to appending it to the block's applied-operations list via Store.
type runEvent struct {
	kind    string
	payload map[string]any
}

func (e runEvent) EventType() string { return e.kind }

func emitOp(store Store, emitter events.Emitter, op VirtualOp) {
	store.AppendVirtualOp(op)
	if emitter != nil {
		emitter.Emit(runEvent{kind: op.Kind, payload: op.Payload})
	}
}
