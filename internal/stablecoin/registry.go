// Package stablecoin implements the stablecoin registry: coin creation,
// minter authorization and supply-capped mint issuance.
package stablecoin

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cadcoin/cadcoind/internal/ledger"
	"github.com/cadcoin/cadcoind/internal/log"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

// Registry errors.
var (
	// ErrCoinExists is returned when creating a symbol that is taken.
	ErrCoinExists = errors.New("stablecoin already exists")
	// ErrCoinNotFound is returned for operations on an unknown symbol.
	ErrCoinNotFound = errors.New("stablecoin does not exist")
	// ErrNotAuthorized is returned when the minter is not on the coin's
	// authorized list.
	ErrNotAuthorized = errors.New("minter not authorized")
	// ErrExceedsMaxSupply is returned when a mint would push the supply
	// past the coin's cap.
	ErrExceedsMaxSupply = errors.New("exceeds max supply")
	// ErrWeakAuthorizer is returned when the authorizer does not hold the
	// required stake.
	ErrWeakAuthorizer = errors.New("insufficient authorization")
	// ErrPoolFull mirrors the mempool limit for enqueued mints.
	ErrPoolFull = errors.New("too many pending transactions")
)

// SystemAuthority is the address exempt from authorization checks.
const SystemAuthority = "system"

// authorizerStake is the CAD-COIN balance an authorizer must hold.
const authorizerStake = 100.0

// Config carries registry policy.
type Config struct {
	MinFee     float64
	MaxPending int
}

// Registry manages stablecoins over the ledger store. All mutations run in
// single store transactions; the supply cap check counts pending mints so
// concurrent enqueues cannot overshoot the cap together.
type Registry struct {
	store *ledger.Store
	cfg   Config
}

// New creates a registry.
func New(store *ledger.Store, cfg Config) *Registry {
	return &Registry{store: store, cfg: cfg}
}

// Create registers a new stablecoin. The symbol is uppercased; a nil
// maxSupply leaves the coin unbounded.
func (r *Registry) Create(name, symbol string, collateralRatio float64, backedBy string, maxSupply *float64) error {
	symbol = strings.ToUpper(symbol)
	err := r.store.Update(func(t *ledger.Tx) error {
		if ok, err := t.HasCoin(symbol); err != nil {
			return err
		} else if ok {
			return ErrCoinExists
		}
		return t.PutCoin(ledger.Coin{
			Symbol:          symbol,
			Name:            name,
			CollateralRatio: collateralRatio,
			BackedBy:        backedBy,
			MaxSupply:       maxSupply,
			CreationDate:    tx.Now(),
		})
	})
	if err != nil {
		return err
	}
	log.Chain.Info().Str("symbol", symbol).Str("name", name).Msg("stablecoin created")
	return nil
}

// AuthorizeMinter grants minting rights on a coin. The authorizer, unless
// the system authority, must hold the required CAD-COIN stake. Authorizing
// an already authorized pair is a no-op.
func (r *Registry) AuthorizeMinter(symbol, minter, authorizer string) error {
	symbol = strings.ToUpper(symbol)
	err := r.store.Update(func(t *ledger.Tx) error {
		if ok, err := t.HasCoin(symbol); err != nil {
			return err
		} else if !ok {
			return ErrCoinNotFound
		}
		if authorizer != SystemAuthority {
			stake, err := t.Balance(authorizer, ledger.NativeCoin)
			if err != nil {
				return err
			}
			if stake < authorizerStake {
				return ErrWeakAuthorizer
			}
		}
		if ok, err := t.HasMinter(symbol, minter); err != nil {
			return err
		} else if ok {
			return nil
		}
		return t.PutMinter(ledger.Minter{
			CoinSymbol:    symbol,
			MinterAddress: minter,
			Authorizer:    authorizer,
			CreatedAt:     tx.Now(),
		})
	})
	if err != nil {
		return err
	}
	log.Chain.Info().Str("symbol", symbol).Str("minter", minter).Str("authorizer", authorizer).Msg("minter authorized")
	return nil
}

// IsAuthorized reports whether minter may mint the coin. The system
// authority is always authorized.
func (r *Registry) IsAuthorized(symbol, minter string) (bool, error) {
	if minter == SystemAuthority {
		return true, nil
	}
	var ok bool
	err := r.store.View(func(t *ledger.Tx) error {
		var err error
		ok, err = t.HasMinter(strings.ToUpper(symbol), minter)
		return err
	})
	return ok, err
}

// Mint enqueues a mint of amount coins to recipient as a pending
// transaction. The supply counted against the cap includes mints already
// in the pool; the supply row itself only moves when the mint commits in a
// block. Returns the queued transaction.
func (r *Registry) Mint(symbol, minter, recipient string, amount float64) (*tx.Transaction, error) {
	symbol = strings.ToUpper(symbol)
	if amount <= 0 {
		return nil, tx.ErrAmountNotPositive
	}

	fee := tx.DefaultFee(amount, r.cfg.MinFee)
	txn := tx.New(tx.MintSender, recipient, amount, symbol)
	txn.Type = tx.TypeMintStable
	txn.Fee = fee
	txn.Metadata = map[string]string{
		"minter":      minter,
		"stable_coin": symbol,
	}
	if err := txn.Validate(); err != nil {
		return nil, err
	}

	err := r.store.Update(func(t *ledger.Tx) error {
		coin, err := t.Coin(symbol)
		if err == ledger.ErrNotFound {
			return ErrCoinNotFound
		}
		if err != nil {
			return err
		}

		if minter != SystemAuthority {
			if ok, err := t.HasMinter(symbol, minter); err != nil {
				return err
			} else if !ok {
				return ErrNotAuthorized
			}
		}

		if coin.MaxSupply != nil {
			queued, err := t.PendingMintTotal(symbol)
			if err != nil {
				return err
			}
			if coin.TotalSupply+queued+amount > *coin.MaxSupply {
				return fmt.Errorf("%w: supply %.8f + queued %.8f + %.8f > cap %.8f",
					ErrExceedsMaxSupply, coin.TotalSupply, queued, amount, *coin.MaxSupply)
			}
		}

		count, err := t.PendingCount()
		if err != nil {
			return err
		}
		if count >= r.cfg.MaxPending {
			return ErrPoolFull
		}
		return t.PutPending(ledger.NewPending(txn))
	})
	if err != nil {
		return nil, err
	}

	log.Chain.Info().
		Str("symbol", symbol).
		Str("minter", minter).
		Str("recipient", recipient).
		Float64("amount", amount).
		Float64("fee", fee).
		Msg("mint queued")
	return txn, nil
}

// Coins returns the full registry keyed by symbol.
func (r *Registry) Coins() (map[string]ledger.Coin, error) {
	var coins map[string]ledger.Coin
	err := r.store.View(func(t *ledger.Tx) error {
		var err error
		coins, err = t.Coins()
		return err
	})
	return coins, err
}
