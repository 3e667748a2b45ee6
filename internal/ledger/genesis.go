package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/cadcoin/cadcoind/internal/storage"
	"github.com/cadcoin/cadcoind/pkg/tx"
)

// NativeCoin is the seeded base currency symbol.
const NativeCoin = "CAD-COIN"

// GenesisMiner is the synthetic miner address on the genesis block.
const GenesisMiner = "genesis"

// genesisSeed is hashed to produce the genesis block hash. Changing it
// changes the chain identity.
const genesisSeed = "genesis_block_cad_coin_ultra_robust"

// GenesisHash returns the fixed genesis block hash.
func GenesisHash() string {
	sum := sha256.Sum256([]byte(genesisSeed))
	return hex.EncodeToString(sum[:])
}

// EnsureGenesis seeds a fresh store with the genesis block, its stats row
// and the native coin. Safe to call on every startup; an initialized store
// is left untouched. Reports whether the genesis was created by this call.
func EnsureGenesis(store *Store, baseDifficulty int, baseReward float64) (bool, error) {
	created := false
	err := store.Update(func(t *Tx) error {
		_, err := t.Tip()
		if err == nil {
			return nil
		}
		if err != storage.ErrNotFound {
			return err
		}

		genesis := BlockRecord{
			Index:            0,
			Hash:             GenesisHash(),
			PreviousHash:     "0",
			Miner:            GenesisMiner,
			Nonce:            0,
			Difficulty:       baseDifficulty,
			Timestamp:        tx.Now(),
			ValidationStatus: "validated",
		}
		if err := t.PutBlock(genesis, nil); err != nil {
			return fmt.Errorf("genesis block: %w", err)
		}
		if err := t.PutStats(ChainStats{
			BlockIndex:        0,
			CurrentDifficulty: baseDifficulty,
			CurrentReward:     baseReward,
		}); err != nil {
			return fmt.Errorf("genesis stats: %w", err)
		}

		if ok, err := t.HasCoin(NativeCoin); err != nil {
			return err
		} else if !ok {
			if err := t.PutCoin(Coin{
				Symbol:          NativeCoin,
				Name:            NativeCoin,
				CollateralRatio: 1.0,
				BackedBy:        "CAD",
				CreationDate:    tx.Now(),
			}); err != nil {
				return fmt.Errorf("seed native coin: %w", err)
			}
		}
		created = true
		return nil
	})
	return created, err
}
