package scheduler

import (
	"context"
	"crypto/sha1"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvbealr/leech/internal/piece"
)

func TestTwoPeersOnePieceAssemblesInOrder(t *testing.T) {
	full := make([]byte, 32768*2)
	for i := range full {
		full[i] = byte(i)
	}
	hash := sha1.Sum(full)
	plan := piece.NewPlan(0, len(full), len(full), hash)

	s := New(plan)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// peer A takes blocks {0,1}, peer B takes blocks {2,3}, delivered
	// out of order to exercise reassembly by index.
	go func() {
		for _, idx := range []int{1, 0} {
			blockBegin := idx * 16384
			s.Submit(idx, full[blockBegin:blockBegin+16384])
		}
	}()
	go func() {
		for _, idx := range []int{3, 2} {
			blockBegin := idx * 16384
			s.Submit(idx, full[blockBegin:blockBegin+16384])
		}
	}()

	got, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, full, got)
	assert.Equal(t, hash, sha1.Sum(got))
}

func TestChokeMidRequestRequeuesToOtherPeer(t *testing.T) {
	full := make([]byte, 16384*4)
	for i := range full {
		full[i] = byte(i % 251)
	}
	plan := piece.NewPlan(0, len(full), len(full), sha1.Sum(full))

	s := New(plan)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	// Peer A pulls a block, gets choked before finishing the request,
	// and pushes the same block back onto the requeue channel.
	go func() {
		idx := <-s.Work()
		s.Requeue() <- idx
	}()

	// Peer B drains whatever is offered, including the requeued block.
	go func() {
		done := map[int]bool{}
		for len(done) < plan.NBlocks {
			select {
			case idx, ok := <-s.Work():
				if !ok {
					return
				}
				if done[idx] {
					continue
				}
				done[idx] = true
				begin := idx * 16384
				s.Submit(idx, full[begin:begin+16384])
			case <-ctx.Done():
				return
			}
		}
	}()

	got, err := s.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, full, got)
}

func TestRunRespectsContextCancellation(t *testing.T) {
	plan := piece.NewPlan(0, 16384, 16384, [20]byte{})
	s := New(plan)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Run(ctx)
	assert.Error(t, err)
}
