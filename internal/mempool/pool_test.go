package mempool

import (
	"errors"
	"testing"

	"github.com/cadcoin/cadcoind/internal/ledger"
	"github.com/cadcoin/cadcoind/internal/storage"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

func newTestPool(t *testing.T, maxPending int) (*Pool, *ledger.Store) {
	t.Helper()
	store := ledger.NewStore(storage.NewMemory())
	if _, err := ledger.EnsureGenesis(store, 4, 50); err != nil {
		t.Fatal(err)
	}
	return New(store, Config{MaxPending: maxPending, MinFee: 0.001}), store
}

func fund(t *testing.T, store *ledger.Store, address string, amount float64) {
	t.Helper()
	err := store.Update(func(tn *ledger.Tx) error {
		return tn.AddBalance(address, ledger.NativeCoin, amount)
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSubmitTransferDefaultFee(t *testing.T) {
	pool, store := newTestPool(t, 10)
	fund(t, store, "alice", 50)

	txn, err := pool.SubmitTransfer("alice", "bob", 10, ledger.NativeCoin, -1)
	if err != nil {
		t.Fatalf("SubmitTransfer() = %v", err)
	}
	if txn.Fee != 0.01 {
		t.Errorf("fee = %v, want default 0.01", txn.Fee)
	}

	count, _ := pool.Count()
	if count != 1 {
		t.Errorf("Count() = %d, want 1", count)
	}
}

func TestSubmitTransferSmallAmountFloorFee(t *testing.T) {
	pool, store := newTestPool(t, 10)
	fund(t, store, "alice", 1)

	txn, err := pool.SubmitTransfer("alice", "bob", 0.5, ledger.NativeCoin, -1)
	if err != nil {
		t.Fatalf("SubmitTransfer() = %v", err)
	}
	if txn.Fee != 0.001 {
		t.Errorf("fee = %v, want floor 0.001", txn.Fee)
	}
}

func TestSubmitTransferInsufficientBalance(t *testing.T) {
	pool, store := newTestPool(t, 10)
	fund(t, store, "alice", 39.99)

	_, err := pool.SubmitTransfer("alice", "bob", 40, ledger.NativeCoin, -1)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("SubmitTransfer() = %v, want ErrInsufficientBalance", err)
	}
}

func TestSubmitTransferCountsPendingDebits(t *testing.T) {
	pool, store := newTestPool(t, 10)
	fund(t, store, "alice", 50)

	// First transfer passes, spending most of the balance.
	if _, err := pool.SubmitTransfer("alice", "bob", 40, ledger.NativeCoin, -1); err != nil {
		t.Fatalf("first transfer: %v", err)
	}
	// Second would fit the committed balance but not the effective one.
	_, err := pool.SubmitTransfer("alice", "carol", 15, ledger.NativeCoin, -1)
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("second transfer: %v, want ErrInsufficientBalance", err)
	}
}

func TestSubmitTransferValidation(t *testing.T) {
	pool, store := newTestPool(t, 10)
	fund(t, store, "alice", 50)

	if _, err := pool.SubmitTransfer("alice", "bob", 0, ledger.NativeCoin, -1); !errors.Is(err, tx.ErrAmountNotPositive) {
		t.Errorf("zero amount: %v", err)
	}
	if _, err := pool.SubmitTransfer("alice", "alice", 1, ledger.NativeCoin, -1); !errors.Is(err, tx.ErrSelfTransfer) {
		t.Errorf("self transfer: %v", err)
	}
	if _, err := pool.SubmitTransfer("alice", "bob", 1, ledger.NativeCoin, 0.0001); !errors.Is(err, ErrFeeTooLow) {
		t.Errorf("low fee: %v", err)
	}
	if _, err := pool.SubmitTransfer("alice", "bob", 1, "NOPE", -1); !errors.Is(err, ErrUnknownCoin) {
		t.Errorf("unknown coin: %v", err)
	}
}

func TestSubmitTransferPoolFull(t *testing.T) {
	pool, store := newTestPool(t, 2)
	fund(t, store, "alice", 1000)

	for i := 0; i < 2; i++ {
		if _, err := pool.SubmitTransfer("alice", "bob", 1, ledger.NativeCoin, -1); err != nil {
			t.Fatalf("transfer %d: %v", i, err)
		}
	}
	_, err := pool.SubmitTransfer("alice", "bob", 1, ledger.NativeCoin, -1)
	if !errors.Is(err, ErrPoolFull) {
		t.Fatalf("SubmitTransfer() = %v, want ErrPoolFull", err)
	}
}

func TestSelectPriorityOrder(t *testing.T) {
	pool, store := newTestPool(t, 10)
	fund(t, store, "alice", 1000)

	low, err := pool.SubmitTransfer("alice", "bob", 10, ledger.NativeCoin, 0.01)
	if err != nil {
		t.Fatal(err)
	}
	high, err := pool.SubmitTransfer("alice", "carol", 10, ledger.NativeCoin, 5)
	if err != nil {
		t.Fatal(err)
	}
	mid, err := pool.SubmitTransfer("alice", "dave", 10, ledger.NativeCoin, 1)
	if err != nil {
		t.Fatal(err)
	}

	rows, err := pool.Select(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 3 {
		t.Fatalf("Select() returned %d rows", len(rows))
	}
	wantOrder := []string{high.ID, mid.ID, low.ID}
	for i, want := range wantOrder {
		if rows[i].TxID != want {
			t.Errorf("rows[%d] = %s, want %s", i, rows[i].TxID, want)
		}
	}

	limited, _ := pool.Select(2)
	if len(limited) != 2 || limited[0].TxID != high.ID {
		t.Errorf("Select(2) = %d rows, first %s", len(limited), limited[0].TxID)
	}
}

func TestAgeBoostsPriority(t *testing.T) {
	now := 1_000_000.0
	rows := []ledger.PendingTx{
		{TxID: "fresh-high", Fee: 1, Timestamp: now, CreatedAt: now},
		{TxID: "stale-low", Fee: 0.5, Timestamp: now - 3600, CreatedAt: now - 3600},
	}
	SortByPriority(rows, now)
	// 0.5 fee + 1.0 age beats 1.0 fee + 0 age.
	if rows[0].TxID != "stale-low" {
		t.Errorf("first = %s, want stale-low", rows[0].TxID)
	}
}

func TestTieBreakByCreation(t *testing.T) {
	now := 1_000_000.0
	rows := []ledger.PendingTx{
		{TxID: "second", Fee: 1, Timestamp: now, CreatedAt: now + 1},
		{TxID: "first", Fee: 1, Timestamp: now, CreatedAt: now},
	}
	SortByPriority(rows, now)
	if rows[0].TxID != "first" {
		t.Errorf("first = %s, want first", rows[0].TxID)
	}
}

func TestPriorityScoreFromFee(t *testing.T) {
	txn := tx.New("alice", "bob", 10, ledger.NativeCoin)
	txn.Fee = 0.25
	p := ledger.NewPending(txn)
	if p.PriorityScore != 250 {
		t.Errorf("PriorityScore = %d, want 250", p.PriorityScore)
	}
}
