package miner

import (
	"context"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/cadcoin/cadcoind/internal/cache"
	"github.com/cadcoin/cadcoind/internal/consensus"
	"github.com/cadcoin/cadcoind/internal/ledger"
	"github.com/cadcoin/cadcoind/internal/mempool"
	"github.com/cadcoin/cadcoind/internal/stablecoin"
	"github.com/cadcoin/cadcoind/internal/storage"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

// Low difficulty keeps the PoW search fast in tests.
const testDifficulty = 1

type fixture struct {
	store *ledger.Store
	pool  *mempool.Pool
	reg   *stablecoin.Registry
	miner *Miner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := ledger.NewStore(storage.NewMemory())
	if _, err := ledger.EnsureGenesis(store, testDifficulty, 50); err != nil {
		t.Fatal(err)
	}
	hot, err := cache.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(hot.Close)

	engine := consensus.NewEngine(consensus.Params{
		BaseMiningReward:   50,
		BaseDifficulty:     testDifficulty,
		MaxDifficulty:      20,
		AdjustmentInterval: 10,
		HalvingInterval:    100,
		TargetBlockTime:    10,
	})
	pool := mempool.New(store, mempool.Config{MaxPending: 100, MinFee: 0.001})
	reg := stablecoin.New(store, stablecoin.Config{MinFee: 0.001, MaxPending: 100})
	m := New(store, pool, engine, hot, Config{
		MaxBlockSize:       100,
		Timeout:            time.Minute,
		AdjustmentInterval: 10,
	})
	return &fixture{store: store, pool: pool, reg: reg, miner: m}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func (f *fixture) balance(t *testing.T, address, coin string) float64 {
	t.Helper()
	var b float64
	err := f.store.View(func(tn *ledger.Tx) error {
		var err error
		b, err = tn.Balance(address, coin)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestMineEmptyMempool(t *testing.T) {
	f := newFixture(t)

	res, err := f.miner.Mine(context.Background(), "alice")
	if err != nil {
		t.Fatalf("Mine() = %v", err)
	}
	if res.BlockIndex != 1 {
		t.Errorf("BlockIndex = %d, want 1", res.BlockIndex)
	}
	if !strings.HasPrefix(res.BlockHash, strings.Repeat("0", testDifficulty)) {
		t.Errorf("hash %q lacks difficulty prefix", res.BlockHash)
	}
	if res.Reward != 50 {
		t.Errorf("Reward = %v, want 50", res.Reward)
	}
	if res.TxCount != 1 {
		t.Errorf("TxCount = %d, want only the reward tx", res.TxCount)
	}
	if got := f.balance(t, "alice", ledger.NativeCoin); got != 50 {
		t.Errorf("alice = %v, want 50", got)
	}

	f.store.View(func(tn *ledger.Tx) error {
		blk, err := tn.Block(1)
		if err != nil {
			t.Fatalf("Block(1) = %v", err)
		}
		if blk.PreviousHash != ledger.GenesisHash() {
			t.Error("block 1 does not link to genesis")
		}
		rows, _ := tn.BlockTransactions(1)
		if len(rows) != 1 || rows[0].TransactionType != tx.TypeMiningReward {
			t.Errorf("block txs = %+v", rows)
		}
		attempt, err := tn.Attempt(1, "alice")
		if err != nil {
			t.Fatalf("Attempt() = %v", err)
		}
		if !attempt.Success {
			t.Error("attempt not marked successful")
		}
		st, err := tn.Stats(1)
		if err != nil {
			t.Fatalf("Stats(1) = %v", err)
		}
		if st.CurrentReward != 50 {
			t.Errorf("stats reward = %v", st.CurrentReward)
		}
		return nil
	})
}

func TestMineTransferFlow(t *testing.T) {
	f := newFixture(t)

	// alice earns 50.
	if _, err := f.miner.Mine(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	// alice pays bob 10 with the default fee.
	if _, err := f.pool.SubmitTransfer("alice", "bob", 10, ledger.NativeCoin, -1); err != nil {
		t.Fatal(err)
	}
	// bob mines the block containing the transfer.
	res, err := f.miner.Mine(context.Background(), "bob")
	if err != nil {
		t.Fatal(err)
	}
	if res.TxCount != 2 {
		t.Errorf("TxCount = %d, want 2", res.TxCount)
	}
	if !approx(res.Reward, 50.01) {
		t.Errorf("Reward = %v, want 50.01 (base + fee)", res.Reward)
	}

	if got := f.balance(t, "alice", ledger.NativeCoin); !approx(got, 39.99) {
		t.Errorf("alice = %v, want 39.99", got)
	}
	if got := f.balance(t, "bob", ledger.NativeCoin); !approx(got, 60.01) {
		t.Errorf("bob = %v, want 60.01 (10 + reward + fee)", got)
	}

	// Mempool drained.
	count, _ := f.pool.Count()
	if count != 0 {
		t.Errorf("pending after mine = %d, want 0", count)
	}
}

func TestMineCommitsPendingMint(t *testing.T) {
	f := newFixture(t)
	if err := f.reg.Create("USD Coin", "USDC", 1.0, "USD", nil); err != nil {
		t.Fatal(err)
	}
	if _, err := f.reg.Mint("USDC", stablecoin.SystemAuthority, "carol", 250); err != nil {
		t.Fatal(err)
	}

	if _, err := f.miner.Mine(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}

	if got := f.balance(t, "carol", "USDC"); got != 250 {
		t.Errorf("carol = %v, want 250", got)
	}
	f.store.View(func(tn *ledger.Tx) error {
		coin, _ := tn.Coin("USDC")
		if coin.TotalSupply != 250 {
			t.Errorf("TotalSupply = %v, want 250 after commit", coin.TotalSupply)
		}
		return nil
	})
}

func TestMonetaryConservation(t *testing.T) {
	f := newFixture(t)

	if _, err := f.miner.Mine(context.Background(), "alice"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.pool.SubmitTransfer("alice", "bob", 7, ledger.NativeCoin, 0.5); err != nil {
		t.Fatal(err)
	}
	if _, err := f.miner.Mine(context.Background(), "bob"); err != nil {
		t.Fatal(err)
	}

	// Total native supply equals the sum of issued rewards.
	var total float64
	f.store.View(func(tn *ledger.Tx) error {
		for _, addr := range []string{"alice", "bob"} {
			b, _ := tn.Balance(addr, ledger.NativeCoin)
			total += b
		}
		return nil
	})
	if want := 50.0 + 50.5; !approx(total, want) {
		t.Errorf("total supply = %v, want %v", total, want)
	}
}

func TestRewardHalvingAcrossBlocks(t *testing.T) {
	f := newFixture(t)
	// Chain height is 0; block 1 pays the full base reward. The halving
	// law itself is covered in the consensus package; here we check the
	// miner asks for the reward at the next index.
	res, err := f.miner.Mine(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	if res.Reward != 50 {
		t.Errorf("Reward = %v, want 50", res.Reward)
	}
}

func TestMineTimeoutRecordsFailedAttempt(t *testing.T) {
	// High base difficulty with a tiny timeout forces the PoW search to
	// give up on its first deadline check.
	store := ledger.NewStore(storage.NewMemory())
	if _, err := ledger.EnsureGenesis(store, 16, 50); err != nil {
		t.Fatal(err)
	}
	hot, err := cache.New()
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(hot.Close)
	engine := consensus.NewEngine(consensus.Params{
		BaseMiningReward:   50,
		BaseDifficulty:     16,
		MaxDifficulty:      20,
		AdjustmentInterval: 10,
		HalvingInterval:    100,
		TargetBlockTime:    10,
	})
	pool := mempool.New(store, mempool.Config{MaxPending: 100, MinFee: 0.001})
	slow := New(store, pool, engine, hot, Config{
		MaxBlockSize:       100,
		Timeout:            time.Millisecond,
		AdjustmentInterval: 10,
	})

	if _, err := slow.Mine(context.Background(), "alice"); err == nil {
		t.Fatal("Mine() succeeded at difficulty 16 in 1ms")
	}

	store.View(func(tn *ledger.Tx) error {
		attempt, err := tn.Attempt(1, "alice")
		if err != nil {
			t.Fatalf("Attempt() = %v", err)
		}
		if attempt.Success {
			t.Error("failed attempt marked successful")
		}
		if attempt.EndTime == 0 {
			t.Error("attempt end time not recorded")
		}
		return nil
	})

	// The failed round left no chain state behind.
	store.View(func(tn *ledger.Tx) error {
		length, _ := tn.ChainLength()
		if length != 1 {
			t.Errorf("ChainLength = %d after failed mine, want 1", length)
		}
		return nil
	})
}
