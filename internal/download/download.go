// Package download drives a whole-torrent leech: it opens peer
// sessions concurrently, then walks the piece list sequentially,
// handing each piece's block schedule to whichever open sessions
// claim to have it.
package download

import (
	"bytes"
	"context"
	"crypto/sha1"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lvbealr/leech/internal/metainfo"
	"github.com/lvbealr/leech/internal/peer"
	"github.com/lvbealr/leech/internal/piece"
	"github.com/lvbealr/leech/internal/scheduler"
	"github.com/lvbealr/leech/internal/tracker"
)

// ErrPieceHashMismatch is returned when an assembled piece's SHA-1
// doesn't match the torrent's advertised hash.
type ErrPieceHashMismatch struct {
	Index int
}

func (e *ErrPieceHashMismatch) Error() string {
	return fmt.Sprintf("download: piece %d: hash mismatch", e.Index)
}

// ErrNoPeerForPiece is returned when no open session claims to have
// a given piece.
type ErrNoPeerForPiece struct {
	Index int
}

func (e *ErrNoPeerForPiece) Error() string {
	return fmt.Sprintf("download: piece %d: no connected peer has it", e.Index)
}

// ProgressFunc is invoked after each piece is verified and written.
type ProgressFunc func(piecesDone, piecesTotal int, bytesDone, bytesTotal int64)

// Options tunes a Download run. The zero value is usable; Concurrency
// and BlockDeadline fall back to sane defaults.
type Options struct {
	Concurrency   int
	BlockDeadline time.Duration
	Progress      ProgressFunc
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 10
	}
	if o.BlockDeadline <= 0 {
		o.BlockDeadline = peer.DefaultBlockDeadline
	}
	return o
}

// Downloaded is the fully-assembled payload of a completed download.
type Downloaded struct {
	descriptor *metainfo.Descriptor
	data       []byte
}

// Bytes returns the flat, concatenated payload across every piece.
func (d *Downloaded) Bytes() []byte { return d.data }

// WriteFiles splits the flat payload across the torrent's file list
// (or writes it as a single file named after the torrent) under dir.
func (d *Downloaded) WriteFiles(dir string) error {
	if len(d.descriptor.Files) == 0 {
		path := filepath.Join(dir, d.descriptor.Name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("download: mkdir %s: %w", filepath.Dir(path), err)
		}
		return os.WriteFile(path, d.data, 0o644)
	}

	for _, f := range d.descriptor.Files {
		path := filepath.Join(dir, f.Path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("download: mkdir %s: %w", filepath.Dir(path), err)
		}
		chunk := d.data[f.Offset : f.Offset+f.Length]
		if err := os.WriteFile(path, chunk, 0o644); err != nil {
			return fmt.Errorf("download: write %s: %w", path, err)
		}
	}
	return nil
}

// Download opens sessions to the given peer addresses, then
// downloads and verifies every piece of desc, returning the
// assembled payload. It stops at the first piece it cannot complete.
func Download(ctx context.Context, desc *metainfo.Descriptor, peerAddrs []tracker.PeerAddr, peerID [20]byte, opts Options) (*Downloaded, error) {
	opts = opts.withDefaults()

	sessions := openSessions(ctx, desc.InfoHash, peerID, peerAddrs, opts.Concurrency)
	defer func() {
		for _, s := range sessions {
			s.Close()
		}
	}()
	if len(sessions) == 0 {
		return nil, fmt.Errorf("download: %s: no peer sessions could be opened", desc.Name)
	}
	log.Printf("[INFO]\tconnected to %d/%d peers\n", len(sessions), len(peerAddrs))

	payload := make([]byte, desc.TotalLength)

	for i, hash := range desc.Pieces {
		plan := piece.NewPlan(i, desc.PieceLength, int(desc.TotalLength), hash)

		eligible := eligiblePeers(sessions, i)
		if len(eligible) == 0 {
			return nil, &ErrNoPeerForPiece{Index: i}
		}

		data, err := downloadPiece(ctx, plan, eligible, opts.BlockDeadline)
		if err != nil {
			return nil, err
		}

		sum := sha1.Sum(data)
		if !bytes.Equal(sum[:], hash[:]) {
			return nil, &ErrPieceHashMismatch{Index: i}
		}

		copy(payload[int64(i)*int64(desc.PieceLength):], data)

		if opts.Progress != nil {
			bytesDone := int64(i+1) * int64(desc.PieceLength)
			if bytesDone > desc.TotalLength {
				bytesDone = desc.TotalLength
			}
			opts.Progress(i+1, len(desc.Pieces), bytesDone, desc.TotalLength)
		}
	}

	return &Downloaded{descriptor: desc, data: payload}, nil
}

// openSessions dials every peer address concurrently, bounded by
// concurrency, and returns whichever sessions succeeded.
func openSessions(ctx context.Context, infoHash, peerID [20]byte, addrs []tracker.PeerAddr, concurrency int) []*peer.Session {
	sem := make(chan struct{}, concurrency)
	var mu sync.Mutex
	var sessions []*peer.Session
	var wg sync.WaitGroup

	for _, a := range addrs {
		wg.Add(1)
		sem <- struct{}{}
		go func(addr string) {
			defer wg.Done()
			defer func() { <-sem }()

			sess, err := peer.Open(ctx, addr, infoHash, peerID)
			if err != nil {
				log.Printf("[FAIL]\tpeer %s: %v\n", addr, err)
				return
			}
			mu.Lock()
			sessions = append(sessions, sess)
			mu.Unlock()
		}(a.String())
	}

	wg.Wait()
	return sessions
}

func eligiblePeers(sessions []*peer.Session, pieceIndex int) []*peer.Session {
	var out []*peer.Session
	for _, s := range sessions {
		if s.HasPiece(pieceIndex) {
			out = append(out, s)
		}
	}
	return out
}

// downloadPiece spawns a scheduler for plan and lets every eligible
// session participate in filling it concurrently.
func downloadPiece(ctx context.Context, plan piece.Plan, sessions []*peer.Session, blockDeadline time.Duration) ([]byte, error) {
	sched := scheduler.New(plan)

	pctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *peer.Session) {
			defer wg.Done()
			if err := s.Participate(pctx, plan, sched); err != nil {
				log.Printf("[FAIL]\tpeer %s: piece %d: %v\n", s.Addr, plan.Index, err)
			}
		}(s)
	}

	// If every participating session exits (all choked/disconnected)
	// before the piece is complete, cancel so Run doesn't block
	// forever waiting on blocks nobody will ever deliver.
	go func() {
		wg.Wait()
		cancel()
	}()

	data, err := sched.Run(pctx)
	cancel()
	wg.Wait()
	return data, err
}
