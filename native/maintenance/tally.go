package maintenance

// scratchBuffers are the three per-run vote-tally vectors (spec.md §3
// "mutable scratch buffers"). They are sized at the start of the tally pass
// and must be cleared on every exit path, including error propagation — see
// driver.go's defer-based teardown guard.
type scratchBuffers struct {
	tally               map[uint32]uint64 // vote-choice offset -> weighted stake
	producerHistogram   map[uint32]uint64 // num_producer/2 -> weighted stake
	committeeHistogram  map[uint32]uint64
	totalVotingStake    map[VoteCategory]uint64
}

func newScratchBuffers() *scratchBuffers {
	return &scratchBuffers{
		tally:              make(map[uint32]uint64),
		producerHistogram:  make(map[uint32]uint64),
		committeeHistogram: make(map[uint32]uint64),
		totalVotingStake:   make(map[VoteCategory]uint64),
	}
}

// reset zero-sizes every buffer. Called unconditionally by the driver's
// teardown guard (spec.md §5).
func (b *scratchBuffers) reset() {
	b.tally = make(map[uint32]uint64)
	b.producerHistogram = make(map[uint32]uint64)
	b.committeeHistogram = make(map[uint32]uint64)
	b.totalVotingStake = make(map[VoteCategory]uint64)
}

// tallyAccount implements spec.md §4.E, the hot loop. It mutates buf in
// place and may publish a voting-power snapshot onto the opinion account's
// statistics row.
func tallyAccount(store Store, account *Account, stats *AccountStatistics, now int64, params ChainParameters, buf *scratchBuffers) error {
	// Step 1: proof-of-burn gate.
	dgp, err := store.DynamicGlobalProperties()
	if err != nil {
		return err
	}
	if dgp.PoBAggregate != 0 && stats.PoBAmount == 0 && stats.PoLAmount == 0 {
		return nil
	}

	// Step 2: membership gate.
	if !params.CountNonMemberVotes && !account.IsPayingMember(now) {
		return nil
	}

	// Step 3: opinion account.
	opinionAccount := account
	opinionStats := stats
	if account.VotingTarget != 0 && account.VotingTarget != account.ID {
		target, ok, err := store.Account(account.VotingTarget)
		if err != nil {
			return err
		}
		if !ok {
			return nil // missing target -> skip
		}
		targetStats, ok, err := store.AccountStats(account.VotingTarget)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		opinionAccount, opinionStats = target, targetStats
	}

	// Step 4: raw worker-category stake V.
	v, err := computeRawStake(stats, params)
	if err != nil {
		return err
	}
	if v == 0 {
		return nil
	}

	// Step 5: per-category stakes.
	delegates := account.VotingTarget != 0 && account.VotingTarget != account.ID
	vProducer, vCommitteePreDivision, vCommittee, vWorker, err := computeCategoryStakes(
		v, stats, opinionStats, now, params, opinionAccount, delegates,
	)
	if err != nil {
		return err
	}

	// Step 6: publish the period's voting-power snapshot into the opinion
	// account's statistics (assign-then-add-same-tick, spec.md P7).
	if opinionStats.SnapshotStartedTick != now {
		opinionStats.SnapshotStartedTick = now
		opinionStats.VotingPowerProducer = vProducer
		opinionStats.VotingPowerCommittee = vCommittee
		opinionStats.VotingPowerWorker = vWorker
	} else {
		opinionStats.VotingPowerProducer += vProducer
		opinionStats.VotingPowerCommittee += vCommittee
		opinionStats.VotingPowerWorker += vWorker
	}
	if err := store.PutAccountStats(opinionStats); err != nil {
		return err
	}

	// Step 7: apply opinions.
	for _, choice := range opinionAccount.Votes {
		category := choice.Category
		if category > CategoryWorker {
			category = CategoryWorker
		}
		stake := categoryStake(category, vProducer, vCommittee, vWorker)
		if int(choice.Offset) < maxTallyOffset {
			buf.tally[choice.Offset] += stake
		}
	}

	// Step 8: histogram opinions.
	if opinionAccount.NumProducer <= params.MaxProducerCandidates && vProducer > 0 {
		buf.producerHistogram[opinionAccount.NumProducer/2] += vProducer
	}
	if opinionAccount.NumCommittee <= params.MaxCommitteeCandidates && vCommitteePreDivision > 0 {
		buf.committeeHistogram[opinionAccount.NumCommittee/2] += vCommitteePreDivision
	}

	// Step 9: accumulate global totals.
	buf.totalVotingStake[CategoryProducer] += vProducer
	buf.totalVotingStake[CategoryCommittee] += vCommitteePreDivision

	return nil
}

// maxTallyOffset is a generous bound on vote-choice offsets; a real store
// would size the tally vector to the largest live producer/committee/worker
// id at the start of the pass; the map-backed buffer here needs no upper
// bound, but the check is kept to document the invariant spec.md names.
const maxTallyOffset = 1 << 32

func categoryStake(category VoteCategory, vProducer, vCommittee, vWorker uint64) uint64 {
	switch category {
	case CategoryProducer:
		return vProducer
	case CategoryCommittee:
		return vCommittee
	default:
		return vWorker
	}
}

// computeRawStake implements spec.md §4.E step 4's PoL/PoB blending table.
// All six branches use 256-bit-safe intermediates via uint256 so that
// PoB_val*PoL_val-class products never overflow a uint64.
func computeRawStake(stats *AccountStatistics, params ChainParameters) (uint64, error) {
	base := stats.CoreInOrders + stats.VestingCashback + stats.CoreLiquidBalance
	if !params.PoBActive {
		return base, nil
	}

	v := base
	pol, polVal := stats.PoLAmount, stats.PoLValue
	pob, pobVal := stats.PoBAmount, stats.PoBValue

	switch {
	case pob == 0:
		return v + polVal, nil

	case pol == 0 && pob <= v:
		return v + (pobVal - pob), nil

	case pol == 0 && pob > v:
		return mulDivFloor(v, pobVal, pob)

	case pob > 0 && pob <= pol:
		term1, err := mulDivFloor(pobVal, polVal, pol)
		if err != nil {
			return 0, err
		}
		term2, err := mulDivFloor(pob, polVal, pol)
		if err != nil {
			return 0, err
		}
		return v + term1 + (polVal - term2), nil

	case pob > pol && pol > 0:
		diff := pob - pol
		term1, err := mulDivFloor(polVal, pobVal, pob)
		if err != nil {
			return 0, err
		}
		term2, err := mulDivFloor(pol, pobVal, pob)
		if err != nil {
			return 0, err
		}
		remainder := v + term1 + (pobVal - term2)
		if diff <= v {
			if remainder < diff {
				return 0, invariant("pol-pob-blend-underflow", "diff exceeds v+blended value")
			}
			return remainder - diff, nil
		}
		term3, err := mulDivFloor(v, pobVal, pob)
		if err != nil {
			return 0, err
		}
		return term1 + term3, nil

	default:
		return v, nil
	}
}

// computeCategoryStakes implements spec.md §4.E step 5.
func computeCategoryStakes(v uint64, stats, opinionStats *AccountStatistics, now int64, params ChainParameters, opinionAccount *Account, delegates bool) (vProducer, vCommitteePreDivision, vCommittee, vWorker uint64, err error) {
	if !params.DecayScheduleActive {
		return v, v, v, v, nil
	}

	delegated := v
	if delegates {
		delegated, err = params.DelegatorSchedule.DecayedStake(v, stats.LastVoteTime, now)
		if err != nil {
			return 0, 0, 0, 0, err
		}
	}

	vProducer, err = params.ProducerSchedule.DecayedStake(delegated, opinionStats.LastVoteTime, now)
	if err != nil {
		return 0, 0, 0, 0, err
	}

	vCommitteePreDivision, err = params.CommitteeSchedule.DecayedStake(delegated, opinionStats.LastVoteTime, now)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	divisor := opinionAccount.NumCommitteeVoted
	if divisor == 0 {
		divisor = 1
	}
	vCommittee = vCommitteePreDivision / uint64(divisor)

	vWorker, err = params.WorkerSchedule.DecayedStake(delegated, opinionStats.LastVoteTime, now)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return vProducer, vCommitteePreDivision, vCommittee, vWorker, nil
}
