package peer

import (
	"strings"

	"github.com/google/uuid"
)

const peerIDLength = 20

// NewPeerID generates an Azureus-style 20-byte peer-id: a fixed
// client prefix followed by a random suffix (the hex digits of a new
// UUID), cut or zero-padded to 20 bytes. Each call returns a fresh
// id, unlike the fixed literal peer-id some tutorial clients
// hardcode.
func NewPeerID(prefix string) [20]byte {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	raw := prefix + suffix
	if len(raw) > peerIDLength {
		raw = raw[:peerIDLength]
	}
	for len(raw) < peerIDLength {
		raw += "0"
	}

	var id [20]byte
	copy(id[:], raw)
	return id
}
