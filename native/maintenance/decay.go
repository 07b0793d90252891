package maintenance

// DecaySchedule is the staircase configuration for one voting category
// (producer, committee, worker, delegator). It mirrors spec.md §4.B.
type DecaySchedule struct {
	// FullPowerSeconds is how long after a vote the full raw stake still
	// counts; decay starts after this window.
	FullPowerSeconds int64
	// RecallSteps (>=1) is the number of discrete decay steps.
	RecallSteps uint32
	// SecondsPerStep is the staircase step width.
	SecondsPerStep int64

	// derived once in Precompute.
	totalRecalcSeconds int64
	subtractPercent    []uint64 // subtractPercent[i], i in [1, RecallSteps)
}

// Precompute derives the schedule's internal lookup table. Must be called
// once before DecayedStake is used; Config.Validate calls it for every
// configured schedule.
func (s *DecaySchedule) Precompute() {
	if s.RecallSteps == 0 {
		s.RecallSteps = 1
	}
	s.totalRecalcSeconds = int64(s.RecallSteps-1) * s.SecondsPerStep
	s.subtractPercent = make([]uint64, s.RecallSteps)
	for i := uint32(1); i < s.RecallSteps; i++ {
		s.subtractPercent[i] = (100 * uint64(i)) / uint64(s.RecallSteps)
	}
}

// Active reports whether the schedule has a non-zero shape, i.e. is
// configured at all. An unconfigured (zero-value) schedule disables decay:
// callers should treat it as "decay schedule not yet active" per spec.md §4.E
// step 5.
func (s *DecaySchedule) Active() bool {
	return s != nil && (s.FullPowerSeconds != 0 || s.RecallSteps > 1 || s.SecondsPerStep != 0)
}

// DecayedStake implements spec.md §4.B: a deterministic staircase that
// reduces raw stake as a function of time since the account's last vote.
// Range is always [0, raw].
func (s *DecaySchedule) DecayedStake(raw uint64, lastVoteT, now int64) (uint64, error) {
	if raw == 0 {
		return 0, nil
	}
	fullT := now - s.FullPowerSeconds
	zeroT := fullT - s.totalRecalcSeconds

	if lastVoteT > fullT {
		return raw, nil
	}
	if lastVoteT <= zeroT {
		return 0, nil
	}

	step := uint64(0)
	if s.SecondsPerStep > 0 {
		step = uint64((fullT - lastVoteT) / s.SecondsPerStep)
	}
	if step >= uint64(s.RecallSteps) {
		step = uint64(s.RecallSteps) - 1
	}
	subtractPct := s.subtractPercent[step]
	reduction, err := percentOf(raw, subtractPct)
	if err != nil {
		return 0, err
	}
	return raw - reduction, nil
}
