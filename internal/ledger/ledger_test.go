package ledger

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"github.com/cadcoin/cadcoind/internal/storage"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

// approx compares floats within rounding noise.
func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(storage.NewMemory())
	if _, err := EnsureGenesis(store, 4, 50); err != nil {
		t.Fatalf("EnsureGenesis() = %v", err)
	}
	return store
}

// appendBlock commits a minimal block on the current tip.
func appendBlock(t *testing.T, store *Store, miner string, rows []TxRecord) BlockRecord {
	t.Helper()
	var rec BlockRecord
	err := store.Update(func(tn *Tx) error {
		tip, err := tn.Tip()
		if err != nil {
			return err
		}
		rec = BlockRecord{
			Index:            tip.Index + 1,
			Hash:             fmt.Sprintf("hash-%s-%d", miner, tip.Index+1),
			PreviousHash:     tip.Hash,
			Miner:            miner,
			Difficulty:       4,
			Timestamp:        tx.Now(),
			MiningTime:       1,
			BlockSize:        len(rows),
			ValidationStatus: "validated",
		}
		for i := range rows {
			rows[i].BlockIndex = rec.Index
		}
		if err := tn.PutBlock(rec, rows); err != nil {
			return err
		}
		return ApplyTransactions(tn, rows)
	})
	if err != nil {
		t.Fatalf("appendBlock: %v", err)
	}
	return rec
}

func TestEnsureGenesis(t *testing.T) {
	store := NewStore(storage.NewMemory())
	created, err := EnsureGenesis(store, 4, 50)
	if err != nil || !created {
		t.Fatalf("EnsureGenesis() = %v, %v; want true, nil", created, err)
	}

	// Idempotent on an initialized store.
	created, err = EnsureGenesis(store, 4, 50)
	if err != nil || created {
		t.Fatalf("second EnsureGenesis() = %v, %v; want false, nil", created, err)
	}

	store.View(func(tn *Tx) error {
		tip, err := tn.Tip()
		if err != nil {
			t.Fatalf("Tip() = %v", err)
		}
		if tip.Index != 0 || tip.PreviousHash != "0" || tip.Miner != GenesisMiner {
			t.Errorf("unexpected genesis: %+v", tip)
		}
		if tip.Hash != GenesisHash() {
			t.Errorf("genesis hash = %s", tip.Hash)
		}
		length, _ := tn.ChainLength()
		if length != 1 {
			t.Errorf("ChainLength() = %d, want 1", length)
		}
		st, err := tn.Stats(0)
		if err != nil {
			t.Fatalf("Stats(0) = %v", err)
		}
		if st.CurrentDifficulty != 4 || st.CurrentReward != 50 {
			t.Errorf("genesis stats = %+v", st)
		}
		if ok, _ := tn.HasCoin(NativeCoin); !ok {
			t.Error("native coin not seeded")
		}
		return nil
	})
}

func TestPutBlockRejectsDuplicates(t *testing.T) {
	store := newTestStore(t)
	blk := appendBlock(t, store, "alice", nil)

	err := store.Update(func(tn *Tx) error {
		return tn.PutBlock(BlockRecord{Index: blk.Index, Hash: "other"}, nil)
	})
	if !errors.Is(err, ErrBlockExists) {
		t.Errorf("duplicate index: %v, want ErrBlockExists", err)
	}

	err = store.Update(func(tn *Tx) error {
		return tn.PutBlock(BlockRecord{Index: blk.Index + 1, Hash: blk.Hash}, nil)
	})
	if !errors.Is(err, ErrBlockExists) {
		t.Errorf("duplicate hash: %v, want ErrBlockExists", err)
	}
}

func TestApplyTransactions(t *testing.T) {
	store := newTestStore(t)

	// Fund alice via a reward, then transfer to bob with a fee.
	appendBlock(t, store, "alice", []TxRecord{{
		TxID: "r1", Sender: tx.RewardSender, Receiver: "alice",
		Amount: 50, CoinType: NativeCoin, TransactionType: tx.TypeMiningReward,
	}})
	appendBlock(t, store, "bob", []TxRecord{
		{
			TxID: "t1", Sender: "alice", Receiver: "bob",
			Amount: 10, Fee: 0.01, CoinType: NativeCoin, TransactionType: tx.TypeTransfer,
		},
		{
			TxID: "r2", Sender: tx.RewardSender, Receiver: "bob",
			Amount: 50.01, CoinType: NativeCoin, TransactionType: tx.TypeMiningReward,
		},
	})

	store.View(func(tn *Tx) error {
		alice, _ := tn.Balance("alice", NativeCoin)
		if !approx(alice, 39.99) {
			t.Errorf("alice = %v, want 39.99", alice)
		}
		bob, _ := tn.Balance("bob", NativeCoin)
		if !approx(bob, 60.01) {
			t.Errorf("bob = %v, want 60.01", bob)
		}
		return nil
	})
}

func TestApplyMintGrowsSupply(t *testing.T) {
	store := newTestStore(t)
	store.Update(func(tn *Tx) error {
		return tn.PutCoin(Coin{Symbol: "USDC", Name: "USD Coin"})
	})

	appendBlock(t, store, "alice", []TxRecord{{
		TxID: "m1", Sender: tx.MintSender, Receiver: "carol",
		Amount: 1000, CoinType: "USDC", TransactionType: tx.TypeMintStable,
	}})

	store.View(func(tn *Tx) error {
		carol, _ := tn.Balance("carol", "USDC")
		if carol != 1000 {
			t.Errorf("carol = %v, want 1000", carol)
		}
		coin, err := tn.Coin("USDC")
		if err != nil {
			t.Fatalf("Coin() = %v", err)
		}
		if coin.TotalSupply != 1000 {
			t.Errorf("TotalSupply = %v, want 1000", coin.TotalSupply)
		}
		return nil
	})
}

func TestValidateChain(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		appendBlock(t, store, "alice", nil)
	}

	if valid, msg := store.ValidateChain(5); !valid {
		t.Fatalf("ValidateChain() = false: %s", msg)
	}

	// Corrupt a link.
	store.Update(func(tn *Tx) error {
		blk, err := tn.Block(2)
		if err != nil {
			return err
		}
		blk.PreviousHash = "forged"
		return putJSON(tn.kv, blockKey(2), blk)
	})

	valid, msg := store.ValidateChain(5)
	if valid {
		t.Fatal("ValidateChain() = true on corrupted chain")
	}
	if msg != "Chain integrity violation at block 2" {
		t.Errorf("message = %q", msg)
	}
}

func TestValidateChainWindowEdge(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 4; i++ {
		appendBlock(t, store, "alice", nil)
	}
	// Depth 2 forces a previous-block fetch outside the window.
	if valid, msg := store.ValidateChain(2); !valid {
		t.Errorf("ValidateChain(2) = false: %s", msg)
	}
}

func TestPendingAccounting(t *testing.T) {
	store := newTestStore(t)
	txn1 := tx.New("alice", "bob", 10, NativeCoin)
	txn1.Fee = 0.01
	txn2 := tx.New("alice", "carol", 5, NativeCoin)
	txn2.Fee = 0.005
	mint := tx.New(tx.MintSender, "dave", 100, "USDC")
	mint.Type = tx.TypeMintStable

	store.Update(func(tn *Tx) error {
		for _, txn := range []*tx.Transaction{txn1, txn2, mint} {
			if err := tn.PutPending(NewPending(txn)); err != nil {
				return err
			}
		}
		return nil
	})

	store.View(func(tn *Tx) error {
		debits, _ := tn.PendingDebits("alice", NativeCoin)
		if !approx(debits, 15.015) {
			t.Errorf("PendingDebits = %v, want 15.015", debits)
		}
		minted, _ := tn.PendingMintTotal("USDC")
		if minted != 100 {
			t.Errorf("PendingMintTotal = %v, want 100", minted)
		}
		count, _ := tn.PendingCount()
		if count != 3 {
			t.Errorf("PendingCount = %d, want 3", count)
		}
		return nil
	})

	store.Update(func(tn *Tx) error {
		return tn.DeletePending(txn1.ID)
	})
	store.View(func(tn *Tx) error {
		count, _ := tn.PendingCount()
		if count != 2 {
			t.Errorf("PendingCount after delete = %d, want 2", count)
		}
		return nil
	})
}

func TestRecentBlocksTipFirst(t *testing.T) {
	store := newTestStore(t)
	for i := 0; i < 3; i++ {
		appendBlock(t, store, "alice", nil)
	}

	store.View(func(tn *Tx) error {
		recent, err := tn.RecentBlocks(2)
		if err != nil {
			t.Fatalf("RecentBlocks() = %v", err)
		}
		if len(recent) != 2 || recent[0].Index != 3 || recent[1].Index != 2 {
			t.Errorf("unexpected window: %+v", recent)
		}

		page, err := tn.BlocksPage(2, 2)
		if err != nil {
			t.Fatalf("BlocksPage() = %v", err)
		}
		if len(page) != 2 || page[0].Index != 1 || page[1].Index != 0 {
			t.Errorf("unexpected page: %+v", page)
		}
		return nil
	})
}

func TestMinterRegistry(t *testing.T) {
	store := newTestStore(t)
	store.Update(func(tn *Tx) error {
		return tn.PutMinter(Minter{CoinSymbol: "USDC", MinterAddress: "alice", Authorizer: "system"})
	})
	store.View(func(tn *Tx) error {
		if ok, _ := tn.HasMinter("USDC", "alice"); !ok {
			t.Error("HasMinter() = false after PutMinter")
		}
		if ok, _ := tn.HasMinter("USDC", "bob"); ok {
			t.Error("HasMinter() = true for unknown minter")
		}
		return nil
	})
}
