package maintenance

import (
	"sort"

	"github.com/holiman/uint256"
)

// Signer is one entry of a weighted multi-sig authority: a 16-bit weight
// assigned to an account.
type Signer struct {
	Account uint64
	Weight  uint16
}

// WeightedAuthority is a weighted signer set plus a signing threshold,
// spec.md §3's "weighted authority". Invariant I2 requires
// 0 < Threshold <= sum(weights).
type WeightedAuthority struct {
	Signers   []Signer
	Threshold uint16
}

// authorityBuilder accumulates (account, raw-weight) insertions and produces
// a WeightedAuthority per spec.md §4.C. Insertion order is preserved for
// deterministic tie handling; a given account may be inserted more than once,
// in which case its raw weight accumulates.
type authorityBuilder struct {
	order   []uint64
	weights map[uint64]*uint256.Int
}

func newAuthorityBuilder() *authorityBuilder {
	return &authorityBuilder{weights: make(map[uint64]*uint256.Int)}
}

// add inserts or accumulates a raw weight for account.
func (b *authorityBuilder) add(account uint64, rawWeight uint64) {
	if rawWeight == 0 {
		return
	}
	if existing, ok := b.weights[account]; ok {
		existing.AddUint64(existing, rawWeight)
		return
	}
	b.order = append(b.order, account)
	b.weights[account] = uint256.NewInt(rawWeight)
}

// buildCurrent applies the current (post "HF-533") weighted-authority rule:
// each signer's 16-bit weight is max(1, raw >> drop), where drop keeps the
// sum of raw weights representable in 15 significant bits headroom.
func (b *authorityBuilder) buildCurrent() (WeightedAuthority, error) {
	return b.build(false)
}

// buildLegacy applies the pre-"HF-533" rule. The source notes the shape is
// identical; it exists so the historical activation crossing in upgrades.go
// can reproduce byte-identical results for blocks validated before the fork.
func (b *authorityBuilder) buildLegacy() (WeightedAuthority, error) {
	return b.build(true)
}

func (b *authorityBuilder) build(legacy bool) (WeightedAuthority, error) {
	_ = legacy // the current and legacy rules share the exact same arithmetic shape
	if len(b.order) == 0 {
		return WeightedAuthority{}, invariant("authority-empty-signer-set", "no signers inserted")
	}

	sum := new(uint256.Int)
	for _, acct := range b.order {
		sum.Add(sum, b.weights[acct])
	}

	drop := 0
	if msb := sum.BitLen(); msb > 16 {
		drop = msb - 1 - 15
	}

	authority := WeightedAuthority{Signers: make([]Signer, 0, len(b.order))}
	var weightSum uint64
	for _, acct := range b.order {
		shifted := new(uint256.Int).Rsh(b.weights[acct], uint(drop))
		w := shifted.Uint64()
		if w > 0xffff {
			w = 0xffff
		}
		if w == 0 {
			w = 1
		}
		authority.Signers = append(authority.Signers, Signer{Account: acct, Weight: uint16(w)})
		weightSum += uint64(w)
	}

	sort.SliceStable(authority.Signers, func(i, j int) bool {
		return authority.Signers[i].Account < authority.Signers[j].Account
	})

	authority.Threshold = uint16(weightSum/2 + 1)
	return authority, nil
}
