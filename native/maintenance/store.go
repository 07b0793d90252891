// Package maintenance implements the periodic chain-maintenance engine: the
// deterministic state transition that runs once per maintenance interval to
// recompute governance sets, settle budgets and payroll, distribute
// fee-backed-asset pools, run buyback cycles, revive globally-settled
// collateralized assets, and sweep ancillary housekeeping.
//
// The engine itself never touches a wire format or a database. It is handed
// a Store, a narrow interface naming exactly the typed iteration and
// mutation operations it needs (the object-store secondary indices are an
// external collaborator, per design). Production callers wire Store to
// core/state.Manager-backed indices; memstore.go ships a deterministic
// in-memory reference implementation for tests and simple embedders.
package maintenance

import "math/big"

// VoteCategory is the target of a vote choice: committee, producer, or
// worker. Order matters: spec.md's tally step clamps a choice's category to
// at most Worker.
type VoteCategory int

const (
	CategoryCommittee VoteCategory = iota
	CategoryProducer
	CategoryWorker
)

// VoteChoice is one entry of an account's ordered opinion list.
type VoteChoice struct {
	Category VoteCategory
	Offset   uint32
}

// SpecialAuthorityKind tags the polymorphic special-authority directive.
type SpecialAuthorityKind int

const (
	SpecialAuthorityNone SpecialAuthorityKind = iota
	SpecialAuthorityTopHolders
)

// SpecialAuthority is the tagged sum "none | top-holders-of-asset(A, N)"
// from spec.md §3/§9.
type SpecialAuthority struct {
	Kind  SpecialAuthorityKind
	Asset uint64
	N     uint32
}

// Account is the permanent actor entity from spec.md §3.
type Account struct {
	ID   uint64
	Name string

	Active WeightedAuthority
	Owner  WeightedAuthority

	VotingTarget    uint64 // self-reference when the account does not delegate
	NumProducer     uint32 // desired size of the producer set
	NumCommittee    uint32 // desired size of the committee set
	NumCommitteeVoted uint32
	Votes           []VoteChoice

	ActiveSpecialAuthority SpecialAuthority
	OwnerSpecialAuthority  SpecialAuthority
	ActiveTopNControlled   bool
	OwnerTopNControlled    bool

	MembershipExpiration int64 // unix seconds; 0 = not a paying member
	IsLifetimeMember     bool
}

// IsPayingMember reports whether the account currently has standing
// membership (paying or lifetime), per spec.md §4.E step 2.
func (a *Account) IsPayingMember(now int64) bool {
	return a.IsLifetimeMember || a.MembershipExpiration > now
}

// AccountStatistics is the mutable per-account counter bundle from spec.md
// §3.
type AccountStatistics struct {
	AccountID uint64

	CoreLiquidBalance  uint64
	CoreInOrders       uint64
	VestingCashback    uint64

	PoLAmount uint64
	PoLValue  uint64
	PoBAmount uint64
	PoBValue  uint64

	LastVoteTime  int64
	LastTallyTime int64

	VotingPowerProducer  uint64
	VotingPowerCommittee uint64
	VotingPowerWorker    uint64
	SnapshotStartedTick  int64 // the "now" at which the current snapshot began; 0 = not started

	PendingFees uint64

	MaintenanceSeq   uint64 // ordering key for account_stats_by_maintenance_seq
	NeedsMaintenance bool
}

// AccountBalance is the (owner, asset) -> amount row from spec.md §3.
type AccountBalance struct {
	Owner             uint64
	Asset             uint64
	Amount            uint64
	NeedsMaintenance  bool // set when the core-asset balance changed since the last sweep
}

// Producer is a block-producer governance object.
type Producer struct {
	ID           uint64
	Account      uint64
	VoteOffset   uint32
	TotalVotes   uint64
}

// CommitteeMember is a committee governance object.
type CommitteeMember struct {
	ID         uint64
	Account    uint64
	VoteOffset uint32
	TotalVotes uint64
}

// WorkerPayoutKind tags the polymorphic worker payout strategy from spec.md
// §4.G / §9.
type WorkerPayoutKind int

const (
	PayoutRefundToReserve WorkerPayoutKind = iota
	PayoutVestingUnlock
	PayoutBurnIntoFund
)

// WorkerPayout carries the parameters for a worker's payout strategy.
type WorkerPayout struct {
	Kind WorkerPayoutKind
	// VestingSeconds applies to PayoutVestingUnlock.
	VestingSeconds int64
	// FundAsset applies to PayoutBurnIntoFund (the bitasset whose
	// settlement fund receives the burn).
	FundAsset uint64
}

// Worker is a funded proposal governance object.
type Worker struct {
	ID               uint64
	Account          uint64
	VoteOffset       uint32 // "vote for"
	VoteAgainstOffset uint32
	CachedVotes      int64

	DailyPay     uint64
	WindowBegin  int64
	WindowEnd    int64
	Payout       WorkerPayout
}

// ActiveAt reports whether now falls within the worker's active window
// (spec.md invariant I7).
func (w *Worker) ActiveAt(now int64) bool {
	return now >= w.WindowBegin && now < w.WindowEnd
}

// PriceFeed is a (asset, publisher) -> (price, ratios, expiration) row.
type PriceFeed struct {
	Publisher        uint64
	SettlementPrice  Price
	MaintenanceCR    uint32 // MCR, in hundredths of a percent (e.g. 17500 = 175%)
	InitialCR        uint32 // ICR
	MaxShortSqueezeR uint32 // MSSR
	Expiration       int64
}

// Price is a ratio of (numerator asset amount) : (denominator asset amount).
// By construction every Price in this package is always expressed in the
// same (collateral-asset, debt-asset) pair for a given bitasset, so the
// "mixed base" ambiguity spec.md's Open Question 1 raises about the original
// C++ source cannot arise here.
type Price struct {
	Numerator   uint64
	Denominator uint64
}

// Invert returns the reciprocal price. Division by zero yields the zero
// price, which callers treat as "not comparable" (never executable).
func (p Price) Invert() Price {
	return Price{Numerator: p.Denominator, Denominator: p.Numerator}
}

// LessThan compares a/b < c/d using cross multiplication, avoiding floating
// point and avoiding truncation from integer division.
func (p Price) LessThan(o Price) bool {
	if p.Denominator == 0 || o.Denominator == 0 {
		return false
	}
	lhs := new(big.Int).Mul(big.NewInt(int64(p.Numerator)), big.NewInt(int64(o.Denominator)))
	rhs := new(big.Int).Mul(big.NewInt(int64(o.Numerator)), big.NewInt(int64(p.Denominator)))
	return lhs.Cmp(rhs) < 0
}

// GTE reports p >= o.
func (p Price) GTE(o Price) bool {
	return !p.LessThan(o)
}

// CallPosition is a (owner, debt asset) call/debt position.
type CallPosition struct {
	ID             uint64
	Owner          uint64
	DebtAsset      uint64
	Collateral     uint64
	Debt           uint64
	CallPriceFrozen bool // frozen at 1/1 after "HF-1270"
	CallPrice      Price
}

// CollateralBid is a bid to revive a globally-settled asset. MaxDebt is the
// amount of outstanding debt this specific bid offers to cover; InversePrice
// is the collateral:debt ratio used both to order bids best-first and to
// test executability against the current settlement feed. A bid's required
// collateral is derived from the asset's settlement price at execution
// time, not from InversePrice directly (spec.md §4.I), plus ExtraCollateral
// the bidder pledges on top.
type CollateralBid struct {
	ID              uint64
	DebtAsset       uint64
	Owner           uint64
	MaxDebt         uint64
	InversePrice    Price // collateral per debt, for ordering/executability
	ExtraCollateral uint64
}

// BlackSwanResponse selects how a bitasset responds to a margin call it
// cannot cover.
type BlackSwanResponse int

const (
	BlackSwanGlobal BlackSwanResponse = iota
	BlackSwanNoSettle
	BlackSwanIndividualToFund
	BlackSwanIndividualToOrder
)

// BitassetData is the per-market-issued-asset governance object.
type BitassetData struct {
	AssetID uint64

	ShortBackingAsset uint64
	FeedLifetime      int64
	MinimumFeeds      uint32
	WitnessFed        bool
	CommitteeFed      bool

	CurrentFeed        PriceFeed
	Feeds              map[uint64]PriceFeed // publisher -> feed

	SettlementFund     uint64
	SettlementPrice    Price
	IsGloballySettled  bool
	ForceSettledVolume uint64

	PredictionMarket           bool
	CollateralBiddingDisabled  bool
	BlackSwanResponseOnMargin  BlackSwanResponse
}

// Asset is the minimal asset entity the engine needs: current/max supply and
// the market-issued flag.
type Asset struct {
	ID            uint64
	Symbol        string
	MarketIssued  bool
	CurrentSupply uint64
	MaxSupply     uint64
}

// FBAAccumulator is a fee-backed-asset accumulator.
type FBAAccumulator struct {
	ID              uint64
	AccumulatedFees uint64
	DesignatedAsset uint64 // 0 = unconfigured: burn the whole pool
	NetworkBps      uint64 // hundredths of a percent; Network+Buyback+Issuer == 10000
	BuybackBps      uint64
	IssuerBps       uint64
	BuybackAccount  uint64
	IssuerAccount   uint64
}

// BuybackConfig marks an asset for buyback-account order cycling.
type BuybackConfig struct {
	AssetID        uint64
	BuybackAccount uint64
	// AllowedAssets is nil when the filter is unset (buyback cycle skips the
	// account entirely, per spec.md §4.L).
	AllowedAssets map[uint64]bool
}

// CustomAuthority is a (account, restricted-op, validity window, authority)
// row.
type CustomAuthority struct {
	ID        uint64
	Account   uint64
	Operation string
	ValidFrom int64
	ValidTo   int64
	Authority WeightedAuthority
}

// TicketKind distinguishes liquid tickets from locked ones for the
// liquid-ticket-value-zeroing upgrade transform (spec.md §4.N).
type TicketKind int

const (
	TicketLiquid TicketKind = iota
	TicketLocked
)

// Ticket is a proof-of-lock ticket.
type Ticket struct {
	ID            uint64
	Owner         uint64
	Kind          TicketKind
	DeclaredValue uint64
}

// ChainParameters is the subset of governance-controlled parameters the
// engine reads or mutates.
type ChainParameters struct {
	BlockIntervalSeconds      int64
	MaintenanceIntervalSecs   int64
	MinProducerCount          uint32
	MinCommitteeCount         uint32
	MaxProducerCandidates     uint32
	MaxCommitteeCandidates    uint32
	TrackStandbyVotes         bool
	CountNonMemberVotes       bool
	NegativeWorkerVotesEnabled bool

	ProducerPayPerBlock    uint64
	WorkerBudgetPerDay     uint64

	AccountFeeScaleBitshifts uint32
	AccountsPerFeeScale      uint64

	ProducerSchedule   DecaySchedule
	CommitteeSchedule  DecaySchedule
	WorkerSchedule     DecaySchedule
	DelegatorSchedule  DecaySchedule

	DecayScheduleActive bool // spec.md §4.E step 5 "when the decay schedule is active"
	PoBActive           bool // spec.md §4.E step 4 "after activation of PoB"
	ICRActive           bool // revival collateral ratio uses ICR instead of MCR

	Upgrades              UpgradeActivations
	SpecificBalanceFixTarget SpecificBalanceFix
}

// UpgradeActivations carries the activation unix-second timestamp of each
// one-time transform in spec.md §4.N, in the order they must run. Zero means
// the transform never activates.
type UpgradeActivations struct {
	AnnualMemberDeprecation int64
	CallPriceRepricingA     int64
	FeedCleanupB            int64
	CallPriceRepricingC     int64
	MaxSupplyClamp          int64
	SpecificBalanceFix      int64
	LiquidTicketZeroing     int64
	CancelDisabledBids      int64
	ForceRematch            int64
}

// SpecificBalanceFix names the single known (owner, asset) balance row the
// spec.md §4.N "specific-balance supply fix" transform corrects.
type SpecificBalanceFix struct {
	Owner uint64
	Asset uint64
	Debt  uint64
}

// GlobalProperties is the process-wide governance state mutated only by the
// maintenance driver (spec.md §3).
type GlobalProperties struct {
	ActiveProducers  []uint64 // insertion order preserved: witness schedule relies on it
	ActiveCommittee  []uint64

	Parameters        ChainParameters
	PendingParameters *ChainParameters // nil when there is nothing queued

	AccountsRegisteredThisInterval uint64
}

// DynamicGlobalProperties is the frequently-mutated companion to
// GlobalProperties.
type DynamicGlobalProperties struct {
	HeadBlockTime        int64
	NextMaintenanceTime  int64
	LastBudgetTime       int64
	UnusedProducerBudget uint64

	CoreReserved        uint64
	CoreAccumulatedFees uint64
	CoreCurrentSupply   uint64

	PoLAggregate uint64
	PoBAggregate uint64

	// CurrentAccountCreationFeeShift is the account-creation basic-fee
	// right-shift amount re-derived each run from AccountsRegisteredThisInterval
	// (spec.md Open Question 3). Reproduced verbatim from the original
	// source despite its own "remove scaling" doc comment disagreeing with
	// the arithmetic it actually performs.
	CurrentAccountCreationFeeShift uint32
}

// BudgetRecord is the permanent, per-run object spec.md §4.H emits.
type BudgetRecord struct {
	ID                       uint64
	Time                     int64
	TimeToNextMaintenance    int64
	FromAccumulatedFees      uint64
	FromUnusedProducerBudget uint64
	TotalBudget              uint64
	ProducerBudget           uint64
	WorkerBudgetRequested    uint64
	WorkerBudgetDisbursed    uint64
	Leftover                 uint64
	SupplyDelta              int64
}

// VirtualOp is a synthetic, replayable operation record appended to the
// block's applied-operations stream (spec.md §6 "Outputs").
type VirtualOp struct {
	Kind    string
	Payload map[string]any
}

// Evaluator applies a transaction-subsystem operation in a restricted
// context on behalf of the buyback and annual-member-conversion paths. A
// real embedder wires this to its fee-schedule-aware evaluator; BypassFee
// lets the maintenance engine skip the normal fee check for these
// internally-generated operations (spec.md §6).
type Evaluator interface {
	ApplyRestricted(op VirtualOp, bypassFee bool) (createdID uint64, err error)
}

// Store is the full set of typed, index-backed views the engine consumes.
// It is the Go expression of spec.md §6's external-interface list: one
// method per secondary index named there, narrowed to exactly what this
// package needs (mirroring native/governance's hand-written proposalState
// interface rather than exposing a whole generic Manager).
type Store interface {
	Account(id uint64) (*Account, bool, error)
	PutAccount(*Account) error
	AccountsByID() ([]*Account, error)
	AccountStatsByMaintenanceSeq() ([]*AccountStatistics, error)
	AccountStats(accountID uint64) (*AccountStatistics, bool, error)
	PutAccountStats(*AccountStatistics) error

	AccountBalancesByMaintenanceFlag() ([]*AccountBalance, error)
	PutAccountBalance(*AccountBalance) error
	AccountBalancesByAssetDesc(asset uint64) ([]*AccountBalance, error)

	ProducersByID() ([]*Producer, error)
	PutProducer(*Producer) error
	CommitteeByID() ([]*CommitteeMember, error)
	PutCommitteeMember(*CommitteeMember) error
	WorkersByID() ([]*Worker, error)
	PutWorker(*Worker) error

	CallOrdersByCollateral(debtAsset uint64) ([]*CallPosition, error)
	PutCallOrder(*CallPosition) error
	RemoveCallOrder(id uint64) error

	CollateralBidsByPrice(debtAsset uint64) ([]*CollateralBid, error)
	RemoveCollateralBid(id uint64) error

	MarketIssuedAssets() ([]*Asset, error)
	PutAsset(*Asset) error
	BitassetData(assetID uint64) (*BitassetData, bool, error)
	PutBitassetData(*BitassetData) error

	CustomAuthoritiesExpiredBy(now int64) ([]*CustomAuthority, error)
	RemoveCustomAuthority(id uint64) error

	Tickets() ([]*Ticket, error)
	PutTicket(*Ticket) error

	Buybacks() ([]*BuybackConfig, error)
	FBAAccumulators() ([]*FBAAccumulator, error)
	PutFBAAccumulator(*FBAAccumulator) error
	SpecialAuthorityAccounts() ([]uint64, error)

	GlobalProperties() (*GlobalProperties, error)
	PutGlobalProperties(*GlobalProperties) error
	DynamicGlobalProperties() (*DynamicGlobalProperties, error)
	PutDynamicGlobalProperties(*DynamicGlobalProperties) error

	NewID(kind string) (uint64, error)
	PutBudgetRecord(*BudgetRecord) error

	AppendVirtualOp(VirtualOp)
}
