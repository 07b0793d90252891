package maintenance

import "sort"

// selectCount implements the shared median-voter recipe from spec.md §4.F:
// walk the histogram from index 1 upward until the running sum strictly
// exceeds half of (total stake minus the "no opinion" bucket), then derive
// an odd chosen_count no smaller than the immutable floor.
func selectCount(histogram map[uint32]uint64, totalStake uint64, immutableMin uint32) uint32 {
	noOpinion := histogram[0]
	var target uint64
	if totalStake > noOpinion {
		target = (totalStake - noOpinion) / 2
	}

	maxBucket := uint32(0)
	for bucket := range histogram {
		if bucket > maxBucket {
			maxBucket = bucket
		}
	}

	var running uint64
	k := uint32(0)
	for bucket := uint32(1); bucket <= maxBucket; bucket++ {
		running += histogram[bucket]
		if running > target {
			k = bucket
			break
		}
	}

	chosen := 2*k + 1
	if chosen < immutableMin {
		chosen = immutableMin
	}
	return chosen
}

// selectProducers implements spec.md §4.F for the producer set.
func selectProducers(store Store, params ChainParameters, buf *scratchBuffers, emitter eventEmitter) ([]uint64, error) {
	count := selectCount(buf.producerHistogram, buf.totalVotingStake[CategoryProducer], params.MinProducerCount)

	producers, err := store.ProducersByID()
	if err != nil {
		return nil, err
	}
	for _, p := range producers {
		p.TotalVotes = buf.tally[p.VoteOffset]
	}
	sort.SliceStable(producers, func(i, j int) bool {
		if producers[i].TotalVotes != producers[j].TotalVotes {
			return producers[i].TotalVotes > producers[j].TotalVotes
		}
		return producers[i].ID < producers[j].ID
	})

	if int(count) > len(producers) {
		count = uint32(len(producers))
	}
	chosen := producers[:count]

	for i, p := range producers {
		if uint32(i) < count || params.TrackStandbyVotes {
			if err := store.PutProducer(p); err != nil {
				return nil, err
			}
		}
	}

	builder := newAuthorityBuilder()
	ids := make([]uint64, 0, len(chosen))
	for _, p := range chosen {
		builder.add(p.Account, p.TotalVotes)
		ids = append(ids, p.Account)
	}
	if len(chosen) > 0 {
		authority, err := builder.buildCurrent()
		if err != nil {
			return nil, err
		}
		if err := publishReservedAuthority(store, reservedProducerAuthorityAccount, authority); err != nil {
			return nil, err
		}
	}
	if emitter != nil {
		emitter.emit(VirtualOp{Kind: EventProducerSetSelected, Payload: map[string]any{"count": len(ids)}})
	}
	return ids, nil
}

// selectCommittee implements spec.md §4.F for the committee set, mirroring
// the relaxed-committee authority.
func selectCommittee(store Store, params ChainParameters, buf *scratchBuffers, emitter eventEmitter) ([]uint64, error) {
	count := selectCount(buf.committeeHistogram, buf.totalVotingStake[CategoryCommittee], params.MinCommitteeCount)

	members, err := store.CommitteeByID()
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		m.TotalVotes = buf.tally[m.VoteOffset]
	}
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].TotalVotes != members[j].TotalVotes {
			return members[i].TotalVotes > members[j].TotalVotes
		}
		return members[i].ID < members[j].ID
	})

	if int(count) > len(members) {
		count = uint32(len(members))
	}
	chosen := members[:count]

	for i, m := range members {
		if uint32(i) < count || params.TrackStandbyVotes {
			if err := store.PutCommitteeMember(m); err != nil {
				return nil, err
			}
		}
	}

	builder := newAuthorityBuilder()
	ids := make([]uint64, 0, len(chosen))
	for _, m := range chosen {
		builder.add(m.Account, m.TotalVotes)
		ids = append(ids, m.Account)
	}
	if len(chosen) > 0 {
		authority, err := builder.buildCurrent()
		if err != nil {
			return nil, err
		}
		if err := publishReservedAuthority(store, reservedCommitteeAuthorityAccount, authority); err != nil {
			return nil, err
		}
		if err := publishReservedAuthority(store, reservedRelaxedCommitteeAuthorityAccount, authority); err != nil {
			return nil, err
		}
	}
	if emitter != nil {
		emitter.emit(VirtualOp{Kind: EventCommitteeSetSelected, Payload: map[string]any{"count": len(ids)}})
	}
	return ids, nil
}

// Well-known reserved account ids whose active authority the selectors
// rebuild. A production embedder maps these to the chain's actual reserved
// account numbering; the values here only need to be stable within a run.
const (
	reservedProducerAuthorityAccount        uint64 = 1
	reservedCommitteeAuthorityAccount       uint64 = 2
	reservedRelaxedCommitteeAuthorityAccount uint64 = 3
)

func publishReservedAuthority(store Store, accountID uint64, authority WeightedAuthority) error {
	account, ok, err := store.Account(accountID)
	if err != nil {
		return err
	}
	if !ok {
		account = &Account{ID: accountID}
	}
	account.Active = authority
	return store.PutAccount(account)
}

// refreshWorkerVotes implements spec.md §4.F's worker cached_votes derivation.
func refreshWorkerVotes(store Store, params ChainParameters, buf *scratchBuffers) error {
	workers, err := store.WorkersByID()
	if err != nil {
		return err
	}
	for _, w := range workers {
		votesFor := int64(buf.tally[w.VoteOffset])
		votesAgainst := int64(0)
		if params.NegativeWorkerVotesEnabled {
			votesAgainst = int64(buf.tally[w.VoteAgainstOffset])
		}
		w.CachedVotes = votesFor - votesAgainst
		if err := store.PutWorker(w); err != nil {
			return err
		}
	}
	return nil
}

// eventEmitter is the narrow virtual-op sink the selectors use; driver.go
// supplies the concrete implementation bound to Store.AppendVirtualOp plus
// an optional events.Emitter.
type eventEmitter interface {
	emit(VirtualOp)
}
