package maintenance

import "testing"

func TestComputeRawStakePoBInactive(t *testing.T) {
	params := ChainParameters{PoBActive: false}
	stats := &AccountStatistics{CoreLiquidBalance: 1000, CoreInOrders: 200, VestingCashback: 50}
	got, err := computeRawStake(stats, params)
	if err != nil {
		t.Fatalf("computeRawStake: %v", err)
	}
	if got != 1250 {
		t.Fatalf("raw stake = %d, want 1250", got)
	}
}

func TestComputeRawStakePoBZero(t *testing.T) {
	params := ChainParameters{PoBActive: true}
	stats := &AccountStatistics{CoreLiquidBalance: 1000, PoLValue: 300}
	got, err := computeRawStake(stats, params)
	if err != nil {
		t.Fatalf("computeRawStake: %v", err)
	}
	if got != 1300 {
		t.Fatalf("PoB=0 branch: got %d, want 1300", got)
	}
}

func TestComputeRawStakePoLZeroPoBUnderV(t *testing.T) {
	params := ChainParameters{PoBActive: true}
	stats := &AccountStatistics{CoreLiquidBalance: 1000, PoBAmount: 100, PoBValue: 150}
	got, err := computeRawStake(stats, params)
	if err != nil {
		t.Fatalf("computeRawStake: %v", err)
	}
	// V + (PoB_val - PoB_amt) = 1000 + (150-100) = 1050
	if got != 1050 {
		t.Fatalf("PoL=0,PoB<=V branch: got %d, want 1050", got)
	}
}

func TestComputeRawStakePoLZeroPoBOverV(t *testing.T) {
	params := ChainParameters{PoBActive: true}
	stats := &AccountStatistics{CoreLiquidBalance: 100, PoBAmount: 1000, PoBValue: 2000}
	got, err := computeRawStake(stats, params)
	if err != nil {
		t.Fatalf("computeRawStake: %v", err)
	}
	// (V*PoB_val)/PoB_amt = (100*2000)/1000 = 200
	if got != 200 {
		t.Fatalf("PoL=0,PoB>V branch: got %d, want 200", got)
	}
}

func TestTallyAccountSingleVoterIntoProducerOffset(t *testing.T) {
	store := NewMemStore(&GlobalProperties{}, &DynamicGlobalProperties{})
	voter := &Account{ID: 1, Votes: []VoteChoice{{Category: CategoryProducer, Offset: 7}}}
	stats := &AccountStatistics{AccountID: 1, CoreLiquidBalance: 1000}
	store.PutAccount(voter)
	store.PutAccountStats(stats)
	store.PutDynamicGlobalProperties(&DynamicGlobalProperties{})

	params := ChainParameters{CountNonMemberVotes: true, MaxProducerCandidates: 1000, MaxCommitteeCandidates: 1000}
	buf := newScratchBuffers()

	if err := tallyAccount(store, voter, stats, 100, params, buf); err != nil {
		t.Fatalf("tallyAccount: %v", err)
	}
	if buf.tally[7] != 1000 {
		t.Fatalf("tally[7] = %d, want 1000", buf.tally[7])
	}
	// voter.NumProducer defaults to 0, so the histogram's "no opinion"
	// bucket absorbs the full stake (spec.md S1).
	if buf.producerHistogram[0] != 1000 {
		t.Fatalf("producerHistogram[0] = %d, want 1000", buf.producerHistogram[0])
	}
	if buf.totalVotingStake[CategoryProducer] != 1000 {
		t.Fatalf("totalVotingStake[producer] = %d, want 1000", buf.totalVotingStake[CategoryProducer])
	}
}

func TestTallyAccountMembershipGateSkips(t *testing.T) {
	store := NewMemStore(&GlobalProperties{}, &DynamicGlobalProperties{})
	voter := &Account{ID: 1, Votes: []VoteChoice{{Category: CategoryProducer, Offset: 1}}, MembershipExpiration: 0}
	stats := &AccountStatistics{AccountID: 1, CoreLiquidBalance: 1000}
	store.PutAccountStats(stats)
	store.PutDynamicGlobalProperties(&DynamicGlobalProperties{})

	params := ChainParameters{CountNonMemberVotes: false}
	buf := newScratchBuffers()
	if err := tallyAccount(store, voter, stats, 100, params, buf); err != nil {
		t.Fatalf("tallyAccount: %v", err)
	}
	if len(buf.tally) != 0 {
		t.Fatalf("non-member vote should be skipped, got tally %v", buf.tally)
	}
}

func TestTallyAccountDelegation(t *testing.T) {
	store := NewMemStore(&GlobalProperties{}, &DynamicGlobalProperties{})
	target := &Account{ID: 2, Votes: []VoteChoice{{Category: CategoryProducer, Offset: 3}}}
	targetStats := &AccountStatistics{AccountID: 2}
	delegator := &Account{ID: 1, VotingTarget: 2}
	delegatorStats := &AccountStatistics{AccountID: 1, CoreLiquidBalance: 500}

	store.PutAccount(target)
	store.PutAccountStats(targetStats)
	store.PutAccountStats(delegatorStats)
	store.PutDynamicGlobalProperties(&DynamicGlobalProperties{})

	params := ChainParameters{CountNonMemberVotes: true, MaxProducerCandidates: 1000, MaxCommitteeCandidates: 1000}
	buf := newScratchBuffers()
	if err := tallyAccount(store, delegator, delegatorStats, 100, params, buf); err != nil {
		t.Fatalf("tallyAccount: %v", err)
	}
	if buf.tally[3] != 500 {
		t.Fatalf("delegated stake should land on target's opinion offset: tally[3] = %d, want 500", buf.tally[3])
	}
}
