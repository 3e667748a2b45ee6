package ledger

import (
	"fmt"

	"github.com/cadcoin/cadcoind/internal/log"
	"github.com/cadcoin/cadcoind/internal/storage"
)

// ValidateChain verifies hash linkage over the last depth blocks, tip
// first. For each non-genesis block in the window the previous block is
// looked up (inside or outside the window) and its hash compared against
// the block's previous_hash. Genesis is trusted. Returns validity and a
// human-readable message.
func (s *Store) ValidateChain(depth int) (bool, string) {
	valid := true
	message := "Chain integrity validated"

	err := s.View(func(t *Tx) error {
		blocks, err := t.RecentBlocks(depth)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			message = "No blocks to validate"
			return nil
		}

		byIndex := make(map[uint64]BlockRecord, len(blocks))
		for _, b := range blocks {
			byIndex[b.Index] = b
		}

		for _, b := range blocks {
			if b.Index == 0 {
				continue
			}
			prev, ok := byIndex[b.Index-1]
			if !ok {
				prev, err = t.Block(b.Index - 1)
				if err == storage.ErrNotFound {
					valid = false
					message = fmt.Sprintf("Missing previous block for block %d", b.Index)
					return nil
				}
				if err != nil {
					return err
				}
			}
			if b.PreviousHash != prev.Hash {
				valid = false
				message = fmt.Sprintf("Chain integrity violation at block %d", b.Index)
				return nil
			}
		}
		return nil
	})
	if err != nil {
		log.Chain.Error().Err(err).Msg("chain validation failed")
		return false, fmt.Sprintf("Validation error: %v", err)
	}
	if !valid {
		log.Chain.Warn().Str("message", message).Msg("chain integrity check failed")
	}
	return valid, message
}
