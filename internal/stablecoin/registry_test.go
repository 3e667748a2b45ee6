package stablecoin

import (
	"errors"
	"testing"

	"github.com/cadcoin/cadcoind/internal/ledger"
	"github.com/cadcoin/cadcoind/internal/storage"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

func newTestRegistry(t *testing.T) (*Registry, *ledger.Store) {
	t.Helper()
	store := ledger.NewStore(storage.NewMemory())
	if _, err := ledger.EnsureGenesis(store, 4, 50); err != nil {
		t.Fatal(err)
	}
	return New(store, Config{MinFee: 0.001, MaxPending: 100}), store
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

func TestCreate(t *testing.T) {
	reg, store := newTestRegistry(t)

	cap := 10_000.0
	if err := reg.Create("USD Coin", "usdc", 1.0, "USD", &cap); err != nil {
		t.Fatalf("Create() = %v", err)
	}

	store.View(func(tn *ledger.Tx) error {
		coin, err := tn.Coin("USDC")
		if err != nil {
			t.Fatalf("symbol not uppercased: %v", err)
		}
		if coin.MaxSupply == nil || *coin.MaxSupply != cap {
			t.Errorf("MaxSupply = %v", coin.MaxSupply)
		}
		return nil
	})

	if err := reg.Create("Other", "USDC", 1.0, "USD", nil); !errors.Is(err, ErrCoinExists) {
		t.Errorf("duplicate Create() = %v, want ErrCoinExists", err)
	}
}

func TestAuthorizeMinter(t *testing.T) {
	reg, store := newTestRegistry(t)
	if err := reg.Create("USD Coin", "USDC", 1.0, "USD", nil); err != nil {
		t.Fatal(err)
	}

	if err := reg.AuthorizeMinter("NOPE", "alice", SystemAuthority); !errors.Is(err, ErrCoinNotFound) {
		t.Errorf("unknown coin: %v", err)
	}

	// Poor authorizer lacks the stake.
	if err := reg.AuthorizeMinter("USDC", "alice", "pauper"); !errors.Is(err, ErrWeakAuthorizer) {
		t.Errorf("weak authorizer: %v", err)
	}

	// System authority needs no stake.
	if err := reg.AuthorizeMinter("USDC", "alice", SystemAuthority); err != nil {
		t.Fatalf("system authorize: %v", err)
	}

	// Staked account can authorize.
	fund(t, store, "whale", 100)
	if err := reg.AuthorizeMinter("USDC", "bob", "whale"); err != nil {
		t.Fatalf("staked authorize: %v", err)
	}

	ok, err := reg.IsAuthorized("USDC", "alice")
	if err != nil || !ok {
		t.Errorf("IsAuthorized(alice) = %v, %v", ok, err)
	}
	if ok, _ := reg.IsAuthorized("USDC", "mallory"); ok {
		t.Error("IsAuthorized(mallory) = true")
	}
	if ok, _ := reg.IsAuthorized("USDC", SystemAuthority); !ok {
		t.Error("system authority not authorized")
	}
}

func TestAuthorizeMinterIdempotent(t *testing.T) {
	reg, store := newTestRegistry(t)
	reg.Create("USD Coin", "USDC", 1.0, "USD", nil)

	if err := reg.AuthorizeMinter("USDC", "alice", SystemAuthority); err != nil {
		t.Fatal(err)
	}
	if err := reg.AuthorizeMinter("USDC", "alice", SystemAuthority); err != nil {
		t.Fatalf("second authorize: %v", err)
	}

	store.View(func(tn *ledger.Tx) error {
		minters, err := tn.Minters("USDC")
		if err != nil {
			return err
		}
		if len(minters) != 1 {
			t.Errorf("minters = %d rows, want 1", len(minters))
		}
		// The original grant survives.
		if minters[0].Authorizer != SystemAuthority {
			t.Errorf("authorizer = %s", minters[0].Authorizer)
		}
		return nil
	})
}

func TestMint(t *testing.T) {
	reg, store := newTestRegistry(t)
	reg.Create("USD Coin", "USDC", 1.0, "USD", nil)
	reg.AuthorizeMinter("USDC", "alice", SystemAuthority)

	txn, err := reg.Mint("USDC", "alice", "carol", 500)
	if err != nil {
		t.Fatalf("Mint() = %v", err)
	}
	if txn.Type != tx.TypeMintStable || txn.Sender != tx.MintSender {
		t.Errorf("unexpected mint tx: %+v", txn)
	}
	if txn.Metadata["minter"] != "alice" || txn.Metadata["stable_coin"] != "USDC" {
		t.Errorf("metadata = %v", txn.Metadata)
	}
	if txn.Fee != 0.5 {
		t.Errorf("fee = %v, want 0.5", txn.Fee)
	}

	store.View(func(tn *ledger.Tx) error {
		// Supply is untouched until the mint commits in a block.
		coin, _ := tn.Coin("USDC")
		if coin.TotalSupply != 0 {
			t.Errorf("TotalSupply = %v before commit, want 0", coin.TotalSupply)
		}
		count, _ := tn.PendingCount()
		if count != 1 {
			t.Errorf("PendingCount = %d, want 1", count)
		}
		return nil
	})
}

func TestMintRejections(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Create("USD Coin", "USDC", 1.0, "USD", nil)

	if _, err := reg.Mint("NOPE", SystemAuthority, "carol", 1); !errors.Is(err, ErrCoinNotFound) {
		t.Errorf("unknown coin: %v", err)
	}
	if _, err := reg.Mint("USDC", "mallory", "carol", 1); !errors.Is(err, ErrNotAuthorized) {
		t.Errorf("unauthorized: %v", err)
	}
	if _, err := reg.Mint("USDC", SystemAuthority, "carol", 0); !errors.Is(err, tx.ErrAmountNotPositive) {
		t.Errorf("zero amount: %v", err)
	}
	if _, err := reg.Mint("USDC", SystemAuthority, "carol", -3); !errors.Is(err, tx.ErrAmountNotPositive) {
		t.Errorf("negative amount: %v", err)
	}
}

func TestMintSupplyCapCountsPending(t *testing.T) {
	reg, _ := newTestRegistry(t)
	cap := 1000.0
	reg.Create("USD Coin", "USDC", 1.0, "USD", &cap)

	if _, err := reg.Mint("USDC", SystemAuthority, "carol", 600); err != nil {
		t.Fatalf("first mint: %v", err)
	}
	// Committed supply is still zero, but the queued 600 counts.
	if _, err := reg.Mint("USDC", SystemAuthority, "carol", 500); !errors.Is(err, ErrExceedsMaxSupply) {
		t.Fatalf("second mint: %v, want ErrExceedsMaxSupply", err)
	}
	// Exactly filling the cap is allowed.
	if _, err := reg.Mint("USDC", SystemAuthority, "carol", 400); err != nil {
		t.Fatalf("third mint: %v", err)
	}
}

func TestSystemCanMintUnregisteredAuthority(t *testing.T) {
	reg, _ := newTestRegistry(t)
	reg.Create("USD Coin", "USDC", 1.0, "USD", nil)

	if _, err := reg.Mint("USDC", SystemAuthority, "carol", 10); err != nil {
		t.Fatalf("system mint: %v", err)
	}
}
