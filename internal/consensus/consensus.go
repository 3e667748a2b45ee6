// Package consensus implements the adaptive difficulty retarget and the
// halving reward schedule. Both are pure functions of chain history so the
// miner and the query surface compute identical values.
package consensus

import (
	"math"

	"github.com/cadcoin/cadcoind/internal/log"
)

// minReward is the floor the halving schedule never drops below.
const minReward = 0.1

// Params are the consensus constants. They are part of chain identity and
// must not change on an existing data directory.
type Params struct {
	BaseMiningReward   float64
	BaseDifficulty     int
	MaxDifficulty      int
	AdjustmentInterval int
	HalvingInterval    int
	TargetBlockTime    float64 // seconds
}

// Sample is the slice of a block header the retarget reads.
type Sample struct {
	Timestamp  float64
	Difficulty int
}

// Engine computes difficulty and reward for the next block.
type Engine struct {
	params Params
}

// NewEngine creates a consensus engine with the given parameters.
func NewEngine(params Params) *Engine {
	return &Engine{params: params}
}

// NextDifficulty derives the difficulty for the next block from recent
// headers ordered tip first. With fewer than AdjustmentInterval blocks the
// base difficulty applies. Otherwise the average spacing over the window is
// compared against the target block time and the tip difficulty stepped by
// at most 2, clamped to [base, max].
func (e *Engine) NextDifficulty(recent []Sample) int {
	p := e.params
	if len(recent) < p.AdjustmentInterval {
		return p.BaseDifficulty
	}
	if len(recent) > p.AdjustmentInterval+1 {
		recent = recent[:p.AdjustmentInterval+1]
	}

	first := recent[0]
	last := recent[len(recent)-1]
	avgTime := (first.Timestamp - last.Timestamp) / float64(len(recent))
	target := p.TargetBlockTime

	current := first.Difficulty
	next := current
	switch {
	case avgTime < target*0.5:
		next = min(current+2, p.MaxDifficulty)
	case avgTime < target*0.8:
		next = min(current+1, p.MaxDifficulty)
	case avgTime > target*2.0:
		next = max(current-2, p.BaseDifficulty)
	case avgTime > target*1.5:
		next = max(current-1, p.BaseDifficulty)
	}

	if next != current {
		log.Chain.Info().
			Float64("avg_block_time", avgTime).
			Float64("target", target).
			Int("current", current).
			Int("next", next).
			Msg("difficulty retarget")
	}
	return next
}

// Reward returns the mining reward for a block at the given index. The
// base reward halves every HalvingInterval blocks and never drops below
// the minimum floor.
func (e *Engine) Reward(index uint64) float64 {
	halvings := index / uint64(e.params.HalvingInterval)
	reward := e.params.BaseMiningReward / math.Pow(2, float64(halvings))
	return math.Max(reward, minReward)
}
