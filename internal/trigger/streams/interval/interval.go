// Package interval polls a chain's current height and emits one event per
// newly observed block, used by both the block-interval and the per-entry
// Kickoff/Period filtering the Trigger Manager applies downstream. Follows
// infrastructure/chain/listener_core.go's ticker+cursor poll loop,
// generalized across chain families via the HeightFunc seam instead of
// being written directly against Neo N3's RPC client.
package interval

import (
	"context"
	"time"

	"github.com/wavs-network/operator/internal/types"
)

// HeightFunc returns a chain's current height. Both evm.Client.BlockNumber
// and cosmos.Client.LatestHeight satisfy this shape.
type HeightFunc func(ctx context.Context) (uint64, error)

// Event is one newly observed height on chain.
type Event struct {
	Chain  types.ChainKey
	Height uint64
}

// Scheduler polls height() at a fixed cadence and emits an Event for every
// new height crossed (catching up in a burst if more than one block elapsed
// between polls).
type Scheduler struct {
	chain        types.ChainKey
	height       HeightFunc
	pollInterval time.Duration
	lastHeight   uint64
}

func New(chain types.ChainKey, height HeightFunc, pollInterval time.Duration, startHeight uint64) *Scheduler {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Scheduler{chain: chain, height: height, pollInterval: pollInterval, lastHeight: startHeight}
}

// Run polls until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context, out chan<- Event) error {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			latest, err := s.height(ctx)
			if err != nil {
				continue // transient; supervisor decides on repeated failure
			}
			for h := s.lastHeight + 1; h <= latest; h++ {
				select {
				case out <- Event{Chain: s.chain, Height: h}:
				case <-ctx.Done():
					return nil
				}
			}
			if latest > s.lastHeight {
				s.lastHeight = latest
			}
		}
	}
}

// Matches reports whether height satisfies a BlockInterval trigger's
// Kickoff/Period/Start/End bounds.
func Matches(t types.Trigger, height uint64) bool {
	if height < t.Start {
		return false
	}
	if t.End != 0 && height > t.End {
		return false
	}
	if t.Period == 0 {
		return height == t.Start
	}
	offset := height - t.Start
	return offset%t.Period == t.Kickoff%t.Period
}
