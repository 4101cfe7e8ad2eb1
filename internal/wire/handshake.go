// Package wire implements the BitTorrent peer wire protocol: the
// 68-byte handshake and the length-prefixed message stream that
// follows it.
package wire

import (
	"errors"
	"fmt"
	"io"
)

// ErrProtocol marks a malformed frame, unknown tag, oversize frame, or
// any other violation of the wire protocol's byte layout.
var ErrProtocol = errors.New("wire: protocol error")

const protocolName = "BitTorrent protocol"

// Handshake is the fixed 68-byte opening exchange a peer session sends
// and expects back before any framed message is read.
type Handshake struct {
	InfoHash [20]byte
	PeerID   [20]byte
}

// WriteHandshake serializes and writes the handshake in the exact
// byte layout BEP-3 specifies:
//
//	[1 byte pstrlen=19][19 bytes pstr][8 reserved][20 info_hash][20 peer_id]
func WriteHandshake(w io.Writer, infoHash, peerID [20]byte) error {
	buf := make([]byte, 49+len(protocolName))
	buf[0] = byte(len(protocolName))
	cursor := 1
	cursor += copy(buf[cursor:], protocolName)
	cursor += 8 // reserved bytes stay zero
	cursor += copy(buf[cursor:], infoHash[:])
	copy(buf[cursor:], peerID[:])

	_, err := w.Write(buf)
	if err != nil {
		return fmt.Errorf("wire: write handshake: %w", err)
	}
	return nil
}

// ReadHandshake reads and validates a handshake frame from r.
// ErrProtocol is returned if the protocol-name length or bytes don't
// match BEP-3's "BitTorrent protocol" literal.
func ReadHandshake(r io.Reader) (*Handshake, error) {
	var lengthByte [1]byte
	if _, err := io.ReadFull(r, lengthByte[:]); err != nil {
		return nil, fmt.Errorf("wire: read handshake length: %w", err)
	}
	pstrlen := int(lengthByte[0])
	if pstrlen != len(protocolName) {
		return nil, fmt.Errorf("%w: unexpected pstrlen %d", ErrProtocol, pstrlen)
	}

	rest := make([]byte, 48+pstrlen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, fmt.Errorf("wire: read handshake body: %w", err)
	}

	if string(rest[:pstrlen]) != protocolName {
		return nil, fmt.Errorf("%w: unexpected protocol name %q", ErrProtocol, rest[:pstrlen])
	}

	var hs Handshake
	cursor := pstrlen + 8
	copy(hs.InfoHash[:], rest[cursor:cursor+20])
	cursor += 20
	copy(hs.PeerID[:], rest[cursor:cursor+20])

	return &hs, nil
}
