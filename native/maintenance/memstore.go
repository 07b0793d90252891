package maintenance

import "sort"

// MemStore is a deterministic, map-backed reference implementation of Store.
// It exists for tests and for embedders small enough not to need a
// trie/LevelDB-backed index set; production callers wire Store to
// core/state.Manager-backed secondary indices instead (see the package doc
// comment in store.go). Every iteration method returns entries sorted by id
// so MemStore never introduces the nondeterministic map-iteration order
// spec.md §5 forbids.
type MemStore struct {
	accounts      map[uint64]*Account
	accountStats  map[uint64]*AccountStatistics
	balances      map[uint64]*AccountBalance // keyed by a synthetic (owner,asset) id
	nextBalanceID uint64

	producers  map[uint64]*Producer
	committee  map[uint64]*CommitteeMember
	workers    map[uint64]*Worker

	callOrders map[uint64]*CallPosition
	bids       map[uint64]*CollateralBid

	assets     map[uint64]*Asset
	bitassets  map[uint64]*BitassetData

	customAuthorities map[uint64]*CustomAuthority
	tickets           map[uint64]*Ticket

	buybacks           map[uint64]*BuybackConfig
	fbaAccumulators    map[uint64]*FBAAccumulator
	specialAuthorities map[uint64]bool

	globalProps  *GlobalProperties
	dynamicProps *DynamicGlobalProperties

	budgetRecords []*BudgetRecord
	virtualOps    []VirtualOp

	idSeq map[string]uint64
}

// NewMemStore returns an empty MemStore with its global/dynamic-global
// property objects initialized to the given values.
func NewMemStore(gp *GlobalProperties, dgp *DynamicGlobalProperties) *MemStore {
	return &MemStore{
		accounts:           make(map[uint64]*Account),
		accountStats:       make(map[uint64]*AccountStatistics),
		balances:           make(map[uint64]*AccountBalance),
		producers:          make(map[uint64]*Producer),
		committee:          make(map[uint64]*CommitteeMember),
		workers:            make(map[uint64]*Worker),
		callOrders:         make(map[uint64]*CallPosition),
		bids:               make(map[uint64]*CollateralBid),
		assets:             make(map[uint64]*Asset),
		bitassets:          make(map[uint64]*BitassetData),
		customAuthorities:  make(map[uint64]*CustomAuthority),
		tickets:            make(map[uint64]*Ticket),
		buybacks:           make(map[uint64]*BuybackConfig),
		fbaAccumulators:    make(map[uint64]*FBAAccumulator),
		specialAuthorities: make(map[uint64]bool),
		globalProps:        gp,
		dynamicProps:       dgp,
		idSeq:              make(map[string]uint64),
	}
}

func (m *MemStore) Account(id uint64) (*Account, bool, error) {
	a, ok := m.accounts[id]
	return a, ok, nil
}

func (m *MemStore) PutAccount(a *Account) error {
	m.accounts[a.ID] = a
	if a.ActiveSpecialAuthority.Kind != SpecialAuthorityNone || a.OwnerSpecialAuthority.Kind != SpecialAuthorityNone {
		m.specialAuthorities[a.ID] = true
	}
	return nil
}

func (m *MemStore) AccountsByID() ([]*Account, error) {
	out := make([]*Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) AccountStatsByMaintenanceSeq() ([]*AccountStatistics, error) {
	out := make([]*AccountStatistics, 0, len(m.accountStats))
	for _, s := range m.accountStats {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MaintenanceSeq != out[j].MaintenanceSeq {
			return out[i].MaintenanceSeq < out[j].MaintenanceSeq
		}
		return out[i].AccountID < out[j].AccountID
	})
	return out, nil
}

func (m *MemStore) AccountStats(accountID uint64) (*AccountStatistics, bool, error) {
	s, ok := m.accountStats[accountID]
	return s, ok, nil
}

func (m *MemStore) PutAccountStats(s *AccountStatistics) error {
	m.accountStats[s.AccountID] = s
	return nil
}

func (m *MemStore) AccountBalancesByMaintenanceFlag() ([]*AccountBalance, error) {
	out := make([]*AccountBalance, 0)
	for _, b := range m.balances {
		if b.NeedsMaintenance {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Asset < out[j].Asset
	})
	return out, nil
}

func (m *MemStore) PutAccountBalance(b *AccountBalance) error {
	for _, existing := range m.balances {
		if existing.Owner == b.Owner && existing.Asset == b.Asset {
			*existing = *b
			return nil
		}
	}
	m.nextBalanceID++
	cp := *b
	m.balances[m.nextBalanceID] = &cp
	return nil
}

func (m *MemStore) AccountBalancesByAssetDesc(asset uint64) ([]*AccountBalance, error) {
	out := make([]*AccountBalance, 0)
	for _, b := range m.balances {
		if b.Asset == asset {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Amount != out[j].Amount {
			return out[i].Amount > out[j].Amount
		}
		return out[i].Owner < out[j].Owner
	})
	return out, nil
}

func (m *MemStore) ProducersByID() ([]*Producer, error) {
	out := make([]*Producer, 0, len(m.producers))
	for _, p := range m.producers {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) PutProducer(p *Producer) error {
	m.producers[p.ID] = p
	return nil
}

func (m *MemStore) CommitteeByID() ([]*CommitteeMember, error) {
	out := make([]*CommitteeMember, 0, len(m.committee))
	for _, c := range m.committee {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) PutCommitteeMember(c *CommitteeMember) error {
	m.committee[c.ID] = c
	return nil
}

func (m *MemStore) WorkersByID() ([]*Worker, error) {
	out := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) PutWorker(w *Worker) error {
	m.workers[w.ID] = w
	return nil
}

func (m *MemStore) CallOrdersByCollateral(debtAsset uint64) ([]*CallPosition, error) {
	out := make([]*CallPosition, 0)
	for _, c := range m.callOrders {
		if c.DebtAsset == debtAsset {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) PutCallOrder(c *CallPosition) error {
	m.callOrders[c.ID] = c
	return nil
}

func (m *MemStore) RemoveCallOrder(id uint64) error {
	delete(m.callOrders, id)
	return nil
}

func (m *MemStore) CollateralBidsByPrice(debtAsset uint64) ([]*CollateralBid, error) {
	out := make([]*CollateralBid, 0)
	for _, b := range m.bids {
		if b.DebtAsset == debtAsset {
			out = append(out, b)
		}
	}
	sortBidsByPriceDesc(out)
	return out, nil
}

func (m *MemStore) PutCollateralBid(b *CollateralBid) error {
	m.bids[b.ID] = b
	return nil
}

func (m *MemStore) RemoveCollateralBid(id uint64) error {
	delete(m.bids, id)
	return nil
}

func (m *MemStore) MarketIssuedAssets() ([]*Asset, error) {
	out := make([]*Asset, 0)
	for _, a := range m.assets {
		if a.MarketIssued {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) PutAsset(a *Asset) error {
	m.assets[a.ID] = a
	return nil
}

func (m *MemStore) BitassetData(assetID uint64) (*BitassetData, bool, error) {
	b, ok := m.bitassets[assetID]
	return b, ok, nil
}

func (m *MemStore) PutBitassetData(b *BitassetData) error {
	m.bitassets[b.AssetID] = b
	return nil
}

func (m *MemStore) CustomAuthoritiesExpiredBy(now int64) ([]*CustomAuthority, error) {
	out := make([]*CustomAuthority, 0)
	for _, ca := range m.customAuthorities {
		if ca.ValidTo < now {
			out = append(out, ca)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) PutCustomAuthority(ca *CustomAuthority) error {
	m.customAuthorities[ca.ID] = ca
	return nil
}

func (m *MemStore) RemoveCustomAuthority(id uint64) error {
	delete(m.customAuthorities, id)
	return nil
}

func (m *MemStore) Tickets() ([]*Ticket, error) {
	out := make([]*Ticket, 0, len(m.tickets))
	for _, t := range m.tickets {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) PutTicket(t *Ticket) error {
	m.tickets[t.ID] = t
	return nil
}

func (m *MemStore) Buybacks() ([]*BuybackConfig, error) {
	out := make([]*BuybackConfig, 0, len(m.buybacks))
	for _, b := range m.buybacks {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out, nil
}

func (m *MemStore) PutBuyback(b *BuybackConfig) error {
	m.buybacks[b.AssetID] = b
	return nil
}

func (m *MemStore) FBAAccumulators() ([]*FBAAccumulator, error) {
	out := make([]*FBAAccumulator, 0, len(m.fbaAccumulators))
	for _, f := range m.fbaAccumulators {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemStore) PutFBAAccumulator(f *FBAAccumulator) error {
	m.fbaAccumulators[f.ID] = f
	return nil
}

func (m *MemStore) SpecialAuthorityAccounts() ([]uint64, error) {
	out := make([]uint64, 0, len(m.specialAuthorities))
	for id := range m.specialAuthorities {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (m *MemStore) GlobalProperties() (*GlobalProperties, error) {
	return m.globalProps, nil
}

func (m *MemStore) PutGlobalProperties(gp *GlobalProperties) error {
	m.globalProps = gp
	return nil
}

func (m *MemStore) DynamicGlobalProperties() (*DynamicGlobalProperties, error) {
	return m.dynamicProps, nil
}

func (m *MemStore) PutDynamicGlobalProperties(dgp *DynamicGlobalProperties) error {
	m.dynamicProps = dgp
	return nil
}

// NewID hands out a monotonically increasing id per kind. Real embedders
// back this with the object store's own id allocator; MemStore's sequence
// is local and resets with the store.
func (m *MemStore) NewID(kind string) (uint64, error) {
	m.idSeq[kind]++
	return m.idSeq[kind], nil
}

func (m *MemStore) PutBudgetRecord(r *BudgetRecord) error {
	m.budgetRecords = append(m.budgetRecords, r)
	return nil
}

func (m *MemStore) AppendVirtualOp(op VirtualOp) {
	m.virtualOps = append(m.virtualOps, op)
}

// VirtualOps returns every virtual operation appended so far, in emission
// order, for test assertions.
func (m *MemStore) VirtualOps() []VirtualOp {
	return m.virtualOps
}

// BudgetRecords returns every budget record emitted so far, in run order.
func (m *MemStore) BudgetRecords() []*BudgetRecord {
	return m.budgetRecords
}
