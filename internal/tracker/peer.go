package tracker

import (
	"encoding/binary"
	"fmt"
	"net"
	"strconv"
)

// PeerAddr is a tracker-reported peer endpoint.
type PeerAddr struct {
	IP   net.IP
	Port uint16
}

func (p PeerAddr) String() string {
	return net.JoinHostPort(p.IP.String(), strconv.Itoa(int(p.Port)))
}

const compactPeerSize = 6 // 4 bytes IPv4 + 2 bytes port

// decodeCompactPeers parses the BEP-23 compact peer-list encoding:
// 6 bytes per peer, big-endian port.
func decodeCompactPeers(raw []byte) ([]PeerAddr, error) {
	if len(raw)%compactPeerSize != 0 {
		return nil, fmt.Errorf("tracker: malformed compact peer list (%d bytes)", len(raw))
	}
	n := len(raw) / compactPeerSize
	peers := make([]PeerAddr, n)
	for i := 0; i < n; i++ {
		off := i * compactPeerSize
		peers[i] = PeerAddr{
			IP:   net.IP(raw[off : off+4]),
			Port: binary.BigEndian.Uint16(raw[off+4 : off+6]),
		}
	}
	return peers, nil
}

// encodeCompactPeers is the inverse of decodeCompactPeers; peers
// without an IPv4 address are skipped.
func encodeCompactPeers(peers []PeerAddr) []byte {
	out := make([]byte, 0, len(peers)*compactPeerSize)
	for _, p := range peers {
		ip4 := p.IP.To4()
		if ip4 == nil {
			continue
		}
		out = append(out, ip4...)
		var portBuf [2]byte
		binary.BigEndian.PutUint16(portBuf[:], p.Port)
		out = append(out, portBuf[:]...)
	}
	return out
}
