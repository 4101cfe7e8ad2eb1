// Package scheduler fans block-level work for a single piece out to
// whichever peer sessions are participating in it, and assembles the
// completed blocks back into one contiguous piece buffer.
package scheduler

import (
	"context"
	"fmt"

	"github.com/lvbealr/leech/internal/piece"
	"github.com/lvbealr/leech/internal/wire"
)

// block is a completed block delivered by a peer session.
type block struct {
	index int
	data  []byte
}

// Scheduler coordinates the download of one piece across however many
// peers currently participate in it. Its three channels are the sole
// synchronization primitive between peer goroutines — no piece state
// is ever shared via a lock.
type Scheduler struct {
	plan      piece.Plan
	work      chan int
	requeue   chan int
	completed chan block
}

// New creates a Scheduler for plan and pre-loads its work queue with
// every block index in ascending order.
func New(plan piece.Plan) *Scheduler {
	s := &Scheduler{
		plan:      plan,
		work:      make(chan int, plan.NBlocks),
		requeue:   make(chan int, plan.NBlocks),
		completed: make(chan block, plan.NBlocks),
	}
	for i := 0; i < plan.NBlocks; i++ {
		s.work <- i
	}
	return s
}

// Work returns the channel peer sessions pull pending block indices
// from. It is closed once the piece is fully assembled.
func (s *Scheduler) Work() <-chan int { return s.work }

// Requeue returns the channel a peer session pushes a block index
// into when it can no longer service that block (e.g. it was
// choked mid-request).
func (s *Scheduler) Requeue() chan<- int { return s.requeue }

// Submit delivers a completed block's bytes to the scheduler.
func (s *Scheduler) Submit(index int, data []byte) {
	s.completed <- block{index: index, data: data}
}

// Run drives the scheduler until every block has arrived, forwarding
// requeued indices back onto the work queue, then assembles and
// returns the piece bytes in block-index order. Run owns closing the
// work channel; callers must not close it themselves.
func (s *Scheduler) Run(ctx context.Context) ([]byte, error) {
	buf := make([]byte, s.plan.Size)
	received := make(map[int]bool, s.plan.NBlocks)

	for len(received) < s.plan.NBlocks {
		select {
		case <-ctx.Done():
			close(s.work)
			return nil, fmt.Errorf("scheduler: piece %d: %w", s.plan.Index, ctx.Err())

		case idx := <-s.requeue:
			// work is buffered to NBlocks and at most NBlocks block
			// indices ever circulate, so this send never blocks.
			s.work <- idx

		case b := <-s.completed:
			if received[b.index] {
				continue
			}
			received[b.index] = true
			begin := b.index * wire.BlockMax
			copy(buf[begin:], b.data)
		}
	}

	close(s.work)
	return buf, nil
}
