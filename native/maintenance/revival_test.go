package maintenance

import "testing"

// TestReviveIfPossibleFullCoverage mirrors spec.md seed scenario S3: two
// bids fully cover current supply at a collateral ratio that prices below
// the settlement feed, so revival executes and the settlement fund and
// global-settlement flag both clear.
func TestReviveIfPossibleFullCoverage(t *testing.T) {
	store := NewMemStore(&GlobalProperties{}, &DynamicGlobalProperties{})

	asset := &Asset{ID: 100, MarketIssued: true, CurrentSupply: 1000}
	bitasset := &BitassetData{
		AssetID:           100,
		SettlementFund:    200,
		SettlementPrice:   Price{Numerator: 1, Denominator: 5},
		IsGloballySettled: true,
	}
	store.PutAsset(asset)
	store.PutBitassetData(bitasset)

	b1 := &CollateralBid{ID: 1, DebtAsset: 100, Owner: 1, MaxDebt: 600, InversePrice: Price{Numerator: 1, Denominator: 1}, ExtraCollateral: 40}
	b2 := &CollateralBid{ID: 2, DebtAsset: 100, Owner: 2, MaxDebt: 400, InversePrice: Price{Numerator: 1, Denominator: 2}, ExtraCollateral: 40}
	store.PutCollateralBid(b1)
	store.PutCollateralBid(b2)

	const revivalCR = 20000 // 200.00%
	if err := reviveIfPossible(store, asset, bitasset, revivalCR); err != nil {
		t.Fatalf("reviveIfPossible: %v", err)
	}

	updated, ok, err := store.BitassetData(100)
	if err != nil || !ok {
		t.Fatalf("expected bitasset row: ok=%v err=%v", ok, err)
	}
	if updated.SettlementFund != 0 {
		t.Fatalf("settlement fund = %d, want 0", updated.SettlementFund)
	}
	if updated.IsGloballySettled {
		t.Fatal("globally-settled flag should be cleared")
	}

	bids, err := store.CollateralBidsByPrice(100)
	if err != nil {
		t.Fatalf("CollateralBidsByPrice: %v", err)
	}
	if len(bids) != 0 {
		t.Fatalf("executed bids should be removed, got %d remaining", len(bids))
	}

	orders, err := store.CallOrdersByCollateral(100)
	if err != nil {
		t.Fatalf("CallOrdersByCollateral: %v", err)
	}
	var totalDebt, totalCollateral uint64
	for _, o := range orders {
		totalDebt += o.Debt
		totalCollateral += o.Collateral
	}
	if totalDebt != 1000 {
		t.Fatalf("total revived debt = %d, want 1000", totalDebt)
	}
	if totalCollateral != 360 {
		t.Fatalf("total revived collateral = %d, want 360 (200 fund + 80 extra + 80 extra)", totalCollateral)
	}
}

func TestReviveIfPossibleInsufficientCover(t *testing.T) {
	store := NewMemStore(&GlobalProperties{}, &DynamicGlobalProperties{})

	asset := &Asset{ID: 200, MarketIssued: true, CurrentSupply: 1000}
	bitasset := &BitassetData{
		AssetID:           200,
		SettlementFund:    50,
		SettlementPrice:   Price{Numerator: 1, Denominator: 5},
		IsGloballySettled: true,
	}
	store.PutAsset(asset)
	store.PutBitassetData(bitasset)

	bid := &CollateralBid{ID: 1, DebtAsset: 200, Owner: 1, MaxDebt: 100, InversePrice: Price{Numerator: 1, Denominator: 1}, ExtraCollateral: 10}
	store.PutCollateralBid(bid)

	err := reviveIfPossible(store, asset, bitasset, 20000)
	if err != ErrInsufficientBidCover {
		t.Fatalf("err = %v, want ErrInsufficientBidCover", err)
	}
	if !bitasset.IsGloballySettled {
		t.Fatal("globally-settled flag should remain set when cover is insufficient")
	}
}

func TestReviveIfPossibleZeroSupplyClearsImmediately(t *testing.T) {
	store := NewMemStore(&GlobalProperties{}, &DynamicGlobalProperties{})

	asset := &Asset{ID: 300, MarketIssued: true, CurrentSupply: 0}
	bitasset := &BitassetData{AssetID: 300, SettlementFund: 75, IsGloballySettled: true}
	store.PutAsset(asset)
	store.PutBitassetData(bitasset)

	if err := reviveIfPossible(store, asset, bitasset, 20000); err != nil {
		t.Fatalf("reviveIfPossible: %v", err)
	}
	updated, _, err := store.BitassetData(300)
	if err != nil {
		t.Fatalf("BitassetData: %v", err)
	}
	if updated.IsGloballySettled || updated.SettlementFund != 0 {
		t.Fatal("zero-supply revival must clear settlement unconditionally")
	}
}
