package maintenance

import "testing"

// TestTopHoldersAuthority mirrors spec.md seed scenario S6: asset Y has
// three holders (1000, 500, 250); top-holders(Y, 2) must select only the
// two largest, excluding the controlled account itself and zero balances.
func TestTopHoldersAuthority(t *testing.T) {
	store := NewMemStore(&GlobalProperties{}, &DynamicGlobalProperties{})
	store.PutAccountBalance(&AccountBalance{Owner: 1, Asset: 500, Amount: 1000})
	store.PutAccountBalance(&AccountBalance{Owner: 2, Asset: 500, Amount: 500})
	store.PutAccountBalance(&AccountBalance{Owner: 3, Asset: 500, Amount: 250})
	store.PutAccountBalance(&AccountBalance{Owner: 0, Asset: 500, Amount: 9000}) // the controlled account itself

	sa := SpecialAuthority{Kind: SpecialAuthorityTopHolders, Asset: 500, N: 2}
	auth, err := topHoldersAuthority(store, 0, sa)
	if err != nil {
		t.Fatalf("topHoldersAuthority: %v", err)
	}
	if len(auth.Signers) != 2 {
		t.Fatalf("want 2 signers, got %d: %+v", len(auth.Signers), auth.Signers)
	}
	for _, s := range auth.Signers {
		if s.Account != 1 && s.Account != 2 {
			t.Fatalf("unexpected signer %d, want only acc1/acc2", s.Account)
		}
		if s.Weight == 0 {
			t.Fatalf("signer %d has zero weight", s.Account)
		}
	}
	assertThresholdSane(t, auth)

	var weightOf2 uint64
	for _, s := range auth.Signers {
		if s.Account == 2 {
			weightOf2 = uint64(s.Weight)
		}
	}
	if uint64(auth.Threshold) <= weightOf2 {
		t.Fatalf("threshold %d must exceed acc2's weight %d", auth.Threshold, weightOf2)
	}
}

func TestRunTopNAuthorityRefreshPublishesAuthority(t *testing.T) {
	store := NewMemStore(&GlobalProperties{}, &DynamicGlobalProperties{})
	store.PutAccountBalance(&AccountBalance{Owner: 1, Asset: 500, Amount: 1000})
	store.PutAccountBalance(&AccountBalance{Owner: 2, Asset: 500, Amount: 500})
	store.PutAccount(&Account{ID: 0, ActiveSpecialAuthority: SpecialAuthority{Kind: SpecialAuthorityTopHolders, Asset: 500, N: 2}})

	if err := runTopNAuthorityRefresh(store, nil); err != nil {
		t.Fatalf("runTopNAuthorityRefresh: %v", err)
	}

	account, ok, err := store.Account(0)
	if err != nil || !ok {
		t.Fatalf("expected account row: ok=%v err=%v", ok, err)
	}
	if !account.ActiveTopNControlled {
		t.Fatal("ActiveTopNControlled should be set")
	}
	if len(account.Active.Signers) != 2 {
		t.Fatalf("want 2 signers, got %d", len(account.Active.Signers))
	}
}
