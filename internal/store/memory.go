package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/punchamoorthee/tenmo-ledger/internal/domain"
	"github.com/shopspring/decimal"
)

// Memory is an in-process Store. Writes are staged on the transaction and
// published under the write lock at commit, so readers only ever see
// committed state. Account locks are capacity-1 channels so acquisition can
// be bounded by a timeout.
type Memory struct {
	mu           sync.RWMutex
	accounts     map[int64]domain.Account
	byOwner      map[int64]int64
	transfers    map[int64]domain.Transfer
	nextAccount  int64
	nextTransfer int64

	locksMu     sync.Mutex
	locks       map[int64]chan struct{}
	lockTimeout time.Duration

	now func() time.Time
}

func NewMemory(lockTimeout time.Duration) *Memory {
	return &Memory{
		accounts:    make(map[int64]domain.Account),
		byOwner:     make(map[int64]int64),
		transfers:   make(map[int64]domain.Transfer),
		locks:       make(map[int64]chan struct{}),
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (m *Memory) Ping(context.Context) error { return nil }

func (m *Memory) Close() {}

func (m *Memory) CreateAccount(_ context.Context, userID int64, opening decimal.Decimal) (domain.Account, error) {
	if opening.IsNegative() {
		return domain.Account{}, domain.ErrInvalidAmount
	}
	if err := domain.ValidateMoney(opening); err != nil {
		return domain.Account{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byOwner[userID]; ok {
		return domain.Account{}, domain.ErrAccountExists
	}
	m.nextAccount++
	acc := domain.Account{
		ID:        m.nextAccount,
		UserID:    userID,
		Balance:   opening,
		CreatedAt: m.now(),
	}
	m.accounts[acc.ID] = acc
	m.byOwner[userID] = acc.ID
	return acc, nil
}

func (m *Memory) Account(_ context.Context, id int64) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acc, ok := m.accounts[id]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return acc, nil
}

func (m *Memory) AccountByOwner(_ context.Context, userID int64) (domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byOwner[userID]
	if !ok {
		return domain.Account{}, domain.ErrAccountNotFound
	}
	return m.accounts[id], nil
}

func (m *Memory) Accounts(context.Context) ([]domain.Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]domain.Account, 0, len(m.accounts))
	for _, acc := range m.accounts {
		out = append(out, acc)
	}
	slices.SortFunc(out, func(a, b domain.Account) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (m *Memory) Transfer(_ context.Context, id int64) (domain.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transfers[id]
	if !ok {
		return domain.Transfer{}, domain.ErrTransferNotFound
	}
	return t, nil
}

func (m *Memory) TransfersByAccount(_ context.Context, accountID int64) ([]domain.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterTransfers(m.transfers, nil, nil, func(t domain.Transfer) bool {
		return t.Involves(accountID)
	}), nil
}

func (m *Memory) PendingByAccount(_ context.Context, accountID int64) ([]domain.Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return filterTransfers(m.transfers, nil, nil, isPendingFor(accountID)), nil
}

func (m *Memory) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		m:        m,
		held:     make(map[int64]bool),
		balances: make(map[int64]decimal.Decimal),
		created:  make(map[int64]domain.Transfer),
		statuses: make(map[int64]domain.TransferStatus),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (m *Memory) lockChan(id int64) chan struct{} {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()

	ch, ok := m.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[id] = ch
	}
	return ch
}

type memTx struct {
	m        *Memory
	held     map[int64]bool
	order    []int64
	balances map[int64]decimal.Decimal
	created  map[int64]domain.Transfer
	statuses map[int64]domain.TransferStatus
}

func (tx *memTx) LockAccounts(ctx context.Context, ids ...int64) error {
	var timer *time.Timer
	for _, id := range SortedUnique(ids) {
		if tx.held[id] {
			continue
		}
		if _, err := tx.m.Account(ctx, id); err != nil {
			return err
		}
		if timer == nil {
			timer = time.NewTimer(tx.m.lockTimeout)
			defer timer.Stop()
		}
		select {
		case tx.m.lockChan(id) <- struct{}{}:
			tx.held[id] = true
			tx.order = append(tx.order, id)
		case <-timer.C:
			return fmt.Errorf("%w: account %d", domain.ErrLockTimeout, id)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (tx *memTx) release() {
	for _, id := range tx.order {
		<-tx.m.lockChan(id)
	}
	tx.order = nil
	clear(tx.held)
}

func (tx *memTx) Account(ctx context.Context, id int64) (domain.Account, error) {
	acc, err := tx.m.Account(ctx, id)
	if err != nil {
		return domain.Account{}, err
	}
	return tx.overlayAccount(acc), nil
}

func (tx *memTx) AccountByOwner(ctx context.Context, userID int64) (domain.Account, error) {
	acc, err := tx.m.AccountByOwner(ctx, userID)
	if err != nil {
		return domain.Account{}, err
	}
	return tx.overlayAccount(acc), nil
}

func (tx *memTx) Accounts(ctx context.Context) ([]domain.Account, error) {
	accounts, err := tx.m.Accounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		accounts[i] = tx.overlayAccount(accounts[i])
	}
	return accounts, nil
}

func (tx *memTx) overlayAccount(acc domain.Account) domain.Account {
	if bal, ok := tx.balances[acc.ID]; ok {
		acc.Balance = bal
	}
	return acc
}

func (tx *memTx) AdjustBalance(ctx context.Context, accountID int64, delta decimal.Decimal) (domain.Account, error) {
	if err := domain.ValidateMoney(delta); err != nil {
		return domain.Account{}, err
	}
	// Writing implies holding the row, as an UPDATE would in Postgres.
	if err := tx.LockAccounts(ctx, accountID); err != nil {
		return domain.Account{}, err
	}
	acc, err := tx.Account(ctx, accountID)
	if err != nil {
		return domain.Account{}, err
	}
	next := acc.Balance.Add(delta)
	if next.IsNegative() {
		return domain.Account{}, domain.ErrInsufficientFunds
	}
	if err := domain.ValidateMoney(next); err != nil {
		return domain.Account{}, fmt.Errorf("balance of account %d: %w", accountID, err)
	}
	tx.balances[accountID] = next
	acc.Balance = next
	return acc, nil
}

func (tx *memTx) Transfer(_ context.Context, id int64) (domain.Transfer, error) {
	if t, ok := tx.created[id]; ok {
		return t, nil
	}
	tx.m.mu.RLock()
	t, ok := tx.m.transfers[id]
	tx.m.mu.RUnlock()
	if !ok {
		return domain.Transfer{}, domain.ErrTransferNotFound
	}
	if status, ok := tx.statuses[id]; ok {
		t.Status = status
	}
	return t, nil
}

func (tx *memTx) TransfersByAccount(_ context.Context, accountID int64) ([]domain.Transfer, error) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	return filterTransfers(tx.m.transfers, tx.created, tx.statuses, func(t domain.Transfer) bool {
		return t.Involves(accountID)
	}), nil
}

func (tx *memTx) PendingByAccount(_ context.Context, accountID int64) ([]domain.Transfer, error) {
	tx.m.mu.RLock()
	defer tx.m.mu.RUnlock()
	return filterTransfers(tx.m.transfers, tx.created, tx.statuses, isPendingFor(accountID)), nil
}

func (tx *memTx) CreateTransfer(ctx context.Context, t domain.Transfer) (int64, error) {
	if err := t.Validate(); err != nil {
		return 0, err
	}
	for _, id := range []int64{t.FromAccountID, t.ToAccountID} {
		if _, err := tx.m.Account(ctx, id); err != nil {
			return 0, err
		}
	}

	tx.m.mu.Lock()
	tx.m.nextTransfer++
	t.ID = tx.m.nextTransfer
	tx.m.mu.Unlock()

	now := tx.m.now()
	t.CreatedAt, t.UpdatedAt = now, now
	tx.created[t.ID] = t
	return t.ID, nil
}

func (tx *memTx) SetTransferStatus(ctx context.Context, id int64, status domain.TransferStatus) error {
	cur, err := tx.Transfer(ctx, id)
	if err != nil {
		return err
	}
	if !domain.CanTransition(cur.Status, status) {
		return fmt.Errorf("%w: %s to %s", domain.ErrInvalidState, cur.Status, status)
	}
	if t, ok := tx.created[id]; ok {
		t.Status = status
		tx.created[id] = t
		return nil
	}
	tx.statuses[id] = status
	return nil
}

func (tx *memTx) commit() error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	// A status change staged here may have lost a race with another
	// transaction that committed first.
	for id, status := range tx.statuses {
		if !domain.CanTransition(m.transfers[id].Status, status) {
			return fmt.Errorf("%w: transfer %d already %s", domain.ErrInvalidState, id, m.transfers[id].Status)
		}
	}

	now := m.now()
	for id, bal := range tx.balances {
		acc := m.accounts[id]
		acc.Balance = bal
		m.accounts[id] = acc
	}
	for id, t := range tx.created {
		m.transfers[id] = t
	}
	for id, status := range tx.statuses {
		t := m.transfers[id]
		t.Status = status
		t.UpdatedAt = now
		m.transfers[id] = t
	}
	return nil
}

func isPendingFor(accountID int64) func(domain.Transfer) bool {
	return func(t domain.Transfer) bool {
		return t.Status == domain.StatusPending && t.FromAccountID == accountID
	}
}

func filterTransfers(
	committed map[int64]domain.Transfer,
	created map[int64]domain.Transfer,
	statuses map[int64]domain.TransferStatus,
	keep func(domain.Transfer) bool,
) []domain.Transfer {
	out := make([]domain.Transfer, 0)
	for id, t := range committed {
		if status, ok := statuses[id]; ok {
			t.Status = status
		}
		if keep(t) {
			out = append(out, t)
		}
	}
	for _, t := range created {
		if keep(t) {
			out = append(out, t)
		}
	}
	slices.SortFunc(out, func(a, b domain.Transfer) int { return cmp.Compare(b.ID, a.ID) })
	return out
}
