// Package peer drives a single peer TCP connection through the
// BitTorrent wire protocol: handshake, choke/unchoke state, and
// block request/response against a scheduler's work queue.
package peer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/lvbealr/leech/internal/piece"
	"github.com/lvbealr/leech/internal/scheduler"
	"github.com/lvbealr/leech/internal/wire"
)

// ErrChoked is returned internally by fetchBlock when the peer chokes
// mid-request; Participate treats it as recoverable.
var ErrChoked = errors.New("peer: choked")

// ErrConnect marks a failure to establish the TCP connection itself.
var ErrConnect = errors.New("peer: connect error")

// ErrHandshake marks a failure during the handshake exchange: a
// malformed response, or an info-hash that doesn't match ours.
var ErrHandshake = errors.New("peer: handshake error")

// DefaultBlockDeadline bounds how long each read of a message from
// the peer may take before the session gives up on the peer.
const DefaultBlockDeadline = 30 * time.Second

// Session is one open, handshaken connection to a remote peer.
type Session struct {
	Addr   string
	PeerID [20]byte

	conn          net.Conn
	bitfield      wire.Bitfield
	choked        bool
	blockDeadline time.Duration
}

// Open dials addr, performs the BitTorrent handshake, verifies the
// remote's info-hash matches ours, and requires the peer's first
// message to be a Bitfield (peers that send anything else first are
// rejected rather than guessed about).
func Open(ctx context.Context, addr string, infoHash, peerID [20]byte) (*Session, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("peer: dial %s: %w: %v", addr, ErrConnect, err)
	}

	s := &Session{
		Addr:          addr,
		conn:          conn,
		choked:        true,
		blockDeadline: DefaultBlockDeadline,
	}

	if err := s.handshake(infoHash, peerID); err != nil {
		conn.Close()
		return nil, err
	}

	if err := s.readBitfield(); err != nil {
		conn.Close()
		return nil, err
	}

	return s, nil
}

func (s *Session) handshake(infoHash, peerID [20]byte) error {
	s.conn.SetDeadline(time.Now().Add(5 * time.Second))
	defer s.conn.SetDeadline(time.Time{})

	if err := wire.WriteHandshake(s.conn, infoHash, peerID); err != nil {
		return fmt.Errorf("peer: %s: %w: send handshake: %v", s.Addr, ErrHandshake, err)
	}

	hs, err := wire.ReadHandshake(s.conn)
	if err != nil {
		return fmt.Errorf("peer: %s: %w: read handshake: %v", s.Addr, ErrHandshake, err)
	}
	if !bytes.Equal(hs.InfoHash[:], infoHash[:]) {
		return fmt.Errorf("peer: %s: %w: info-hash mismatch", s.Addr, ErrHandshake)
	}

	s.PeerID = hs.PeerID
	return nil
}

func (s *Session) readBitfield() error {
	s.conn.SetReadDeadline(time.Now().Add(s.blockDeadline))
	defer s.conn.SetReadDeadline(time.Time{})

	m, err := wire.Read(s.conn)
	if err != nil {
		return fmt.Errorf("peer: %s: %w: read bitfield: %v", s.Addr, ErrHandshake, err)
	}
	if m == nil || m.Tag != wire.Bitfield {
		return fmt.Errorf("peer: %s: %w: expected Bitfield as first message", s.Addr, ErrHandshake)
	}

	s.bitfield = wire.Bitfield(m.Payload)
	return nil
}

// HasPiece reports whether the peer's announced bitfield claims
// piece i.
func (s *Session) HasPiece(i int) bool {
	return s.bitfield.HasPiece(i)
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}

func (s *Session) sendInterested() error {
	return wire.Write(s.conn, &wire.Message{Tag: wire.Interested})
}

// awaitUnchoke reads messages until the peer unchokes us, tracking
// Have updates along the way. A Bitfield this late is a protocol
// violation — it's only valid as the very first post-handshake
// message, which readBitfield already consumed.
func (s *Session) awaitUnchoke(ctx context.Context) error {
	for s.choked {
		if err := ctx.Err(); err != nil {
			return err
		}
		m, err := s.readMessage()
		if err != nil {
			return err
		}
		if m != nil && m.Tag == wire.Bitfield {
			return fmt.Errorf("peer: %s: %w: bitfield sent after handshake", s.Addr, wire.ErrProtocol)
		}
		s.applyMessage(m)
	}
	return nil
}

func (s *Session) readMessage() (*wire.Message, error) {
	s.conn.SetReadDeadline(time.Now().Add(s.blockDeadline))
	m, err := wire.Read(s.conn)
	if err != nil {
		return nil, fmt.Errorf("peer: %s: read message: %w", s.Addr, err)
	}
	return m, nil
}

// applyMessage updates choke/Have state from an incoming message; it
// ignores message types irrelevant to that state.
func (s *Session) applyMessage(m *wire.Message) {
	if m == nil {
		return
	}
	switch m.Tag {
	case wire.Choke:
		s.choked = true
	case wire.Unchoke:
		s.choked = false
	case wire.Have:
		if idx, err := wire.ParseHave(m); err == nil {
			s.bitfield.SetPiece(idx)
		}
	}
}

// Participate services a single piece's scheduler for as long as
// this session can: pulling block indices from the work queue,
// requesting and reading them, and submitting completed blocks back.
// It returns nil when the work queue closes (the piece is fully
// assembled, possibly by other peers) or a non-nil error when the
// connection itself fails.
func (s *Session) Participate(ctx context.Context, plan piece.Plan, sched *scheduler.Scheduler) error {
	if err := s.sendInterested(); err != nil {
		return fmt.Errorf("peer: %s: %w", s.Addr, err)
	}
	if err := s.awaitUnchoke(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case idx, ok := <-sched.Work():
			if !ok {
				return nil
			}

			data, err := s.fetchBlock(ctx, plan, idx)
			if err != nil {
				sched.Requeue() <- idx
				if errors.Is(err, ErrChoked) {
					if err := s.awaitUnchoke(ctx); err != nil {
						return err
					}
					continue
				}
				return err
			}

			sched.Submit(idx, data)
		}
	}
}

// fetchBlock requests one block of plan's piece and waits for its
// Piece response, tolerating interleaved Have/keep-alive messages.
func (s *Session) fetchBlock(ctx context.Context, plan piece.Plan, blockI int) ([]byte, error) {
	begin := blockI * wire.BlockMax
	length := plan.BlockSize(blockI)

	if err := wire.Write(s.conn, wire.NewRequest(plan.Index, begin, length)); err != nil {
		return nil, fmt.Errorf("peer: %s: send request: %w", s.Addr, err)
	}

	buf := make([]byte, length)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		m, err := s.readMessage()
		if err != nil {
			return nil, err
		}
		if m == nil {
			continue // keep-alive
		}

		switch m.Tag {
		case wire.Piece:
			idx, pbegin, perr := wire.PieceBegin(m)
			if perr == nil && idx == plan.Index && pbegin == begin {
				block := m.Payload[8:]
				if len(block) != length {
					return nil, fmt.Errorf("peer: %s: %w: block %d of piece %d: got %d bytes, want %d",
						s.Addr, wire.ErrProtocol, blockI, plan.Index, len(block), length)
				}
				copy(buf, block)
				return buf, nil
			}
			// stale response for a block we no longer own; keep waiting.
		case wire.Choke:
			s.choked = true
			return nil, ErrChoked
		case wire.Bitfield:
			return nil, fmt.Errorf("peer: %s: %w: bitfield sent after handshake", s.Addr, wire.ErrProtocol)
		default:
			s.applyMessage(m)
		}
	}
}
