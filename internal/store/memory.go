package store

import (
	"CustodyLedger/internal/event"
	"CustodyLedger/internal/ledger"
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store. Units of work are serialized by a
// single mutex and staged in an overlay that is merged on success, so a
// failed unit leaves no trace. Used by tests and the "memory" driver.
type MemoryStore struct {
	mu sync.RWMutex

	wallets      map[ledger.WalletKey]ledger.Wallet
	pools        map[ledger.Asset]ledger.PoolWallet
	settlements  map[uuid.UUID]*ledger.SettlementRequest
	settleOrder  []uuid.UUID
	reservations map[uuid.UUID]*ledger.Reservation
	bots         map[uuid.UUID]*ledger.BotPosition
	botOrder     []uuid.UUID
	orders       map[uuid.UUID]*ledger.Order
	journal      []ledger.Journal
	outbox       []event.Envelope
	published    map[int64]bool
	processed    map[string]bool
	seq          int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		wallets:      make(map[ledger.WalletKey]ledger.Wallet),
		pools:        make(map[ledger.Asset]ledger.PoolWallet),
		settlements:  make(map[uuid.UUID]*ledger.SettlementRequest),
		reservations: make(map[uuid.UUID]*ledger.Reservation),
		bots:         make(map[uuid.UUID]*ledger.BotPosition),
		orders:       make(map[uuid.UUID]*ledger.Order),
		published:    make(map[int64]bool),
		processed:    make(map[string]bool),
	}
}

func (m *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := newMemTx(m)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// --- Reader ---

func (m *MemoryStore) ListWallets(ctx context.Context, accountID uuid.UUID) ([]ledger.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.Wallet
	for k, w := range m.wallets {
		if k.AccountID == accountID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (m *MemoryStore) ListAllWallets(ctx context.Context) ([]ledger.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AccountID != out[j].AccountID {
			return out[i].AccountID.String() < out[j].AccountID.String()
		}
		return out[i].Asset < out[j].Asset
	})
	return out, nil
}

func (m *MemoryStore) ListPools(ctx context.Context) ([]ledger.PoolWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]ledger.PoolWallet, 0, len(m.pools))
	for _, p := range m.pools {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Asset < out[j].Asset })
	return out, nil
}

func (m *MemoryStore) FindSettlement(ctx context.Context, id uuid.UUID) (*ledger.SettlementRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.settlements[id]
	if !ok {
		return nil, ledger.NotFoundf("settlement %s", id)
	}
	return r.Clone(), nil
}

func (m *MemoryStore) ListSettlements(ctx context.Context, filter SettlementFilter) ([]ledger.SettlementRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.SettlementRequest
	for _, id := range m.settleOrder {
		r := m.settlements[id]
		if !filter.Match(r) {
			continue
		}
		out = append(out, *r.Clone())
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) ListBotPositions(ctx context.Context, accountID uuid.UUID) ([]ledger.BotPosition, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ledger.BotPosition
	for _, id := range m.botOrder {
		if p := m.bots[id]; p.AccountID == accountID {
			out = append(out, *p.Clone())
		}
	}
	return out, nil
}

func (m *MemoryStore) FindOrder(ctx context.Context, id uuid.UUID) (*ledger.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	o, ok := m.orders[id]
	if !ok {
		return nil, ledger.NotFoundf("order %s", id)
	}
	return o.Clone(), nil
}

func (m *MemoryStore) ScanJournal(ctx context.Context, fn func(ledger.Journal) error) error {
	m.mu.RLock()
	entries := make([]ledger.Journal, len(m.journal))
	copy(entries, m.journal)
	m.mu.RUnlock()

	for _, j := range entries {
		if err := fn(j); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) IsProcessed(ctx context.Context, key string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.processed[key], nil
}

// --- Outbox ---

func (m *MemoryStore) FetchUnpublished(ctx context.Context, limit int) ([]event.Envelope, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []event.Envelope
	for _, env := range m.outbox {
		if m.published[env.Sequence] {
			continue
		}
		out = append(out, env)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) MarkPublished(ctx context.Context, sequences []int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range sequences {
		m.published[s] = true
	}
	return nil
}

// ============================================================================
// Unit of work
// ============================================================================

type memTx struct {
	m *MemoryStore

	wallets      map[ledger.WalletKey]ledger.Wallet
	pools        map[ledger.Asset]ledger.PoolWallet
	settlements  map[uuid.UUID]*ledger.SettlementRequest
	newSettles   []uuid.UUID
	reservations map[uuid.UUID]*ledger.Reservation
	bots         map[uuid.UUID]*ledger.BotPosition
	newBots      []uuid.UUID
	orders       map[uuid.UUID]*ledger.Order
	journal      []ledger.Journal
	outbox       []event.Envelope
	processed    map[string]bool
}

func newMemTx(m *MemoryStore) *memTx {
	return &memTx{
		m:            m,
		wallets:      make(map[ledger.WalletKey]ledger.Wallet),
		pools:        make(map[ledger.Asset]ledger.PoolWallet),
		settlements:  make(map[uuid.UUID]*ledger.SettlementRequest),
		reservations: make(map[uuid.UUID]*ledger.Reservation),
		bots:         make(map[uuid.UUID]*ledger.BotPosition),
		orders:       make(map[uuid.UUID]*ledger.Order),
		processed:    make(map[string]bool),
	}
}

func (t *memTx) commit() {
	m := t.m
	for k, w := range t.wallets {
		m.wallets[k] = w
	}
	for k, p := range t.pools {
		m.pools[k] = p
	}
	for k, r := range t.settlements {
		m.settlements[k] = r
	}
	m.settleOrder = append(m.settleOrder, t.newSettles...)
	for k, r := range t.reservations {
		m.reservations[k] = r
	}
	for k, p := range t.bots {
		m.bots[k] = p
	}
	m.botOrder = append(m.botOrder, t.newBots...)
	for k, o := range t.orders {
		m.orders[k] = o
	}
	m.journal = append(m.journal, t.journal...)
	for _, env := range t.outbox {
		m.seq++
		env.Sequence = m.seq
		m.outbox = append(m.outbox, env)
	}
	for k := range t.processed {
		m.processed[k] = true
	}
}

func (t *memTx) wallet(key ledger.WalletKey) (ledger.Wallet, bool) {
	if w, ok := t.wallets[key]; ok {
		return w, true
	}
	w, ok := t.m.wallets[key]
	return w, ok
}

func (t *memTx) GetWallet(ctx context.Context, accountID uuid.UUID, asset ledger.Asset) (*ledger.Wallet, error) {
	if w, ok := t.wallet(ledger.WalletKey{AccountID: accountID, Asset: asset}); ok {
		return &w, nil
	}
	return ledger.NewWallet(accountID, asset), nil
}

func (t *memTx) PutWallet(ctx context.Context, w *ledger.Wallet) error {
	key := w.Key()
	var current int64
	if existing, ok := t.wallet(key); ok {
		current = existing.Version
	}
	if current != w.Version {
		return ledger.Conflictf("wallet %s/%s version %d, have %d", w.AccountID, w.Asset, current, w.Version)
	}
	w.Version++
	t.wallets[key] = *w
	return nil
}

func (t *memTx) pool(asset ledger.Asset) (ledger.PoolWallet, bool) {
	if p, ok := t.pools[asset]; ok {
		return p, true
	}
	p, ok := t.m.pools[asset]
	return p, ok
}

func (t *memTx) GetPool(ctx context.Context, asset ledger.Asset) (*ledger.PoolWallet, error) {
	if p, ok := t.pool(asset); ok {
		return &p, nil
	}
	return ledger.NewPoolWallet(asset), nil
}

func (t *memTx) PutPool(ctx context.Context, p *ledger.PoolWallet) error {
	var current int64
	if existing, ok := t.pool(p.Asset); ok {
		current = existing.Version
	}
	if current != p.Version {
		return ledger.Conflictf("pool %s version %d, have %d", p.Asset, current, p.Version)
	}
	p.Version++
	t.pools[p.Asset] = *p
	return nil
}

func (t *memTx) settlement(id uuid.UUID) (*ledger.SettlementRequest, bool) {
	if r, ok := t.settlements[id]; ok {
		return r, true
	}
	r, ok := t.m.settlements[id]
	return r, ok
}

func (t *memTx) InsertSettlement(ctx context.Context, r *ledger.SettlementRequest) error {
	if _, exists := t.settlement(r.ID); exists {
		return ledger.Conflictf("settlement %s already exists", r.ID)
	}
	t.settlements[r.ID] = r.Clone()
	t.newSettles = append(t.newSettles, r.ID)
	return nil
}

func (t *memTx) GetSettlement(ctx context.Context, id uuid.UUID) (*ledger.SettlementRequest, error) {
	r, ok := t.settlement(id)
	if !ok {
		return nil, ledger.NotFoundf("settlement %s", id)
	}
	return r.Clone(), nil
}

func (t *memTx) TransitionSettlement(ctx context.Context, r *ledger.SettlementRequest, from ledger.SettlementStatus) error {
	current, ok := t.settlement(r.ID)
	if !ok {
		return ledger.NotFoundf("settlement %s", r.ID)
	}
	if current.Status != from {
		return ledger.AlreadyProcessedf("settlement %s is %s", r.ID, current.Status)
	}
	t.settlements[r.ID] = r.Clone()
	return nil
}

func (t *memTx) reservation(id uuid.UUID) (*ledger.Reservation, bool) {
	if r, ok := t.reservations[id]; ok {
		return r, true
	}
	r, ok := t.m.reservations[id]
	return r, ok
}

func (t *memTx) InsertReservation(ctx context.Context, r *ledger.Reservation) error {
	if _, exists := t.reservation(r.ID); exists {
		return ledger.Conflictf("reservation %s already exists", r.ID)
	}
	t.reservations[r.ID] = r.Clone()
	return nil
}

func (t *memTx) GetReservation(ctx context.Context, id uuid.UUID) (*ledger.Reservation, error) {
	r, ok := t.reservation(id)
	if !ok {
		return nil, ledger.NotFoundf("reservation %s", id)
	}
	return r.Clone(), nil
}

func (t *memTx) TransitionReservation(ctx context.Context, r *ledger.Reservation, from ledger.ReservationStatus) error {
	current, ok := t.reservation(r.ID)
	if !ok {
		return ledger.NotFoundf("reservation %s", r.ID)
	}
	if current.Status != from {
		return ledger.AlreadyProcessedf("reservation %s is %s", r.ID, current.Status)
	}
	t.reservations[r.ID] = r.Clone()
	return nil
}

func (t *memTx) bot(id uuid.UUID) (*ledger.BotPosition, bool) {
	if p, ok := t.bots[id]; ok {
		return p, true
	}
	p, ok := t.m.bots[id]
	return p, ok
}

func (t *memTx) InsertBotPosition(ctx context.Context, p *ledger.BotPosition) error {
	if _, exists := t.bot(p.ID); exists {
		return ledger.Conflictf("bot position %s already exists", p.ID)
	}
	p.Version = 1
	t.bots[p.ID] = p.Clone()
	t.newBots = append(t.newBots, p.ID)
	return nil
}

func (t *memTx) GetBotPosition(ctx context.Context, id uuid.UUID) (*ledger.BotPosition, error) {
	p, ok := t.bot(id)
	if !ok {
		return nil, ledger.NotFoundf("bot position %s", id)
	}
	return p.Clone(), nil
}

func (t *memTx) UpdateBotPosition(ctx context.Context, p *ledger.BotPosition) error {
	current, ok := t.bot(p.ID)
	if !ok {
		return ledger.NotFoundf("bot position %s", p.ID)
	}
	if current.Version != p.Version {
		return ledger.Conflictf("bot position %s version %d, have %d", p.ID, current.Version, p.Version)
	}
	p.Version++
	t.bots[p.ID] = p.Clone()
	return nil
}

func (t *memTx) order(id uuid.UUID) (*ledger.Order, bool) {
	if o, ok := t.orders[id]; ok {
		return o, true
	}
	o, ok := t.m.orders[id]
	return o, ok
}

func (t *memTx) InsertOrder(ctx context.Context, o *ledger.Order) error {
	if _, exists := t.order(o.ID); exists {
		return ledger.Conflictf("order %s already exists", o.ID)
	}
	o.Version = 1
	t.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) GetOrder(ctx context.Context, id uuid.UUID) (*ledger.Order, error) {
	o, ok := t.order(id)
	if !ok {
		return nil, ledger.NotFoundf("order %s", id)
	}
	return o.Clone(), nil
}

func (t *memTx) UpdateOrder(ctx context.Context, o *ledger.Order) error {
	current, ok := t.order(o.ID)
	if !ok {
		return ledger.NotFoundf("order %s", o.ID)
	}
	if current.Version != o.Version {
		return ledger.Conflictf("order %s version %d, have %d", o.ID, current.Version, o.Version)
	}
	o.Version++
	t.orders[o.ID] = o.Clone()
	return nil
}

func (t *memTx) AppendJournal(ctx context.Context, batch *ledger.Batch) error {
	if err := batch.Validate(); err != nil {
		return err
	}
	t.journal = append(t.journal, batch.Journals...)
	return nil
}

func (t *memTx) AppendOutbox(ctx context.Context, env event.Envelope) error {
	t.outbox = append(t.outbox, env)
	return nil
}

func (t *memTx) MarkProcessed(ctx context.Context, key string) error {
	if t.processed[key] || t.m.processed[key] {
		return ledger.AlreadyProcessedf("message %s", key)
	}
	t.processed[key] = true
	return nil
}
