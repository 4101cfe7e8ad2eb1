package tracker

import (
	"encoding/binary"
	"fmt"
	"log"
	"math/rand"
	"net"
	"net/url"
	"time"
)

const protocolID uint64 = 0x41727101980

const (
	actionConnect  uint32 = 0
	actionAnnounce uint32 = 1
	actionError    uint32 = 3
)

// announceUDP performs a BEP-15 connect+announce exchange against a
// UDP tracker, retrying the connect step with increasing deadlines.
func announceUDP(announceURL string, infoHash, peerID [20]byte, port uint16, left int64) (*Response, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: parse announce url: %w", err)
	}

	addr, err := net.ResolveUDPAddr("udp", u.Host)
	if err != nil {
		return nil, fmt.Errorf("tracker: resolve udp addr: %w", err)
	}

	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("tracker: dial udp: %w", err)
	}
	defer conn.Close()

	transactionID := rand.Uint32()

	var connectReq [16]byte
	binary.BigEndian.PutUint64(connectReq[0:8], protocolID)
	binary.BigEndian.PutUint32(connectReq[8:12], actionConnect)
	binary.BigEndian.PutUint32(connectReq[12:16], transactionID)

	log.Printf("[INFO]\tudp connect to %s, transaction %d\n", addr, transactionID)

	var connectionID uint64
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		conn.SetDeadline(time.Now().Add(time.Duration(5+attempt*2) * time.Second))

		if _, err := conn.Write(connectReq[:]); err != nil {
			lastErr = fmt.Errorf("tracker: send connect: %w", err)
			continue
		}

		resp := make([]byte, 16)
		n, err := conn.Read(resp)
		if err != nil {
			lastErr = fmt.Errorf("tracker: read connect response: %w", err)
			continue
		}
		if n < 16 {
			lastErr = fmt.Errorf("tracker: short connect response (%d bytes)", n)
			continue
		}
		if action := binary.BigEndian.Uint32(resp[0:4]); action != actionConnect {
			return nil, fmt.Errorf("tracker: unexpected connect action %d", action)
		}
		if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
			return nil, fmt.Errorf("tracker: connect transaction id mismatch")
		}

		connectionID = binary.BigEndian.Uint64(resp[8:16])
		lastErr = nil
		break
	}
	if lastErr != nil {
		return nil, fmt.Errorf("tracker: connect failed after 3 attempts: %w", lastErr)
	}

	announceReq := buildAnnounceRequest(connectionID, transactionID, infoHash, peerID, left, port)

	conn.SetDeadline(time.Now().Add(5 * time.Second))
	if _, err := conn.Write(announceReq); err != nil {
		return nil, fmt.Errorf("tracker: send announce: %w", err)
	}

	resp := make([]byte, 1024)
	n, err := conn.Read(resp)
	if err != nil {
		return nil, fmt.Errorf("tracker: read announce response: %w", err)
	}
	if n < 20 {
		return nil, fmt.Errorf("tracker: short announce response (%d bytes)", n)
	}

	action := binary.BigEndian.Uint32(resp[0:4])
	if action == actionError {
		return nil, fmt.Errorf("tracker: %s", string(resp[8:n]))
	}
	if action != actionAnnounce {
		return nil, fmt.Errorf("tracker: unexpected announce action %d", action)
	}
	if binary.BigEndian.Uint32(resp[4:8]) != transactionID {
		return nil, fmt.Errorf("tracker: announce transaction id mismatch")
	}

	interval := int(binary.BigEndian.Uint32(resp[8:12]))
	peerBytes := resp[20:n]

	peers, err := decodeCompactPeers(peerBytes)
	if err != nil {
		return nil, err
	}

	return &Response{Peers: peers, Interval: interval}, nil
}

// buildAnnounceRequest lays out the 98-byte BEP-15 announce request.
func buildAnnounceRequest(connectionID uint64, transactionID uint32, infoHash, peerID [20]byte, left int64, port uint16) []byte {
	const (
		eventStarted = 2
		numWant      = -1
	)

	req := make([]byte, 98)
	binary.BigEndian.PutUint64(req[0:8], connectionID)
	binary.BigEndian.PutUint32(req[8:12], actionAnnounce)
	binary.BigEndian.PutUint32(req[12:16], transactionID)
	copy(req[16:36], infoHash[:])
	copy(req[36:56], peerID[:])
	binary.BigEndian.PutUint64(req[56:64], 0) // downloaded
	binary.BigEndian.PutUint64(req[64:72], uint64(left))
	binary.BigEndian.PutUint64(req[72:80], 0) // uploaded
	binary.BigEndian.PutUint32(req[80:84], eventStarted)
	binary.BigEndian.PutUint32(req[84:88], 0) // IP, 0 = default
	binary.BigEndian.PutUint32(req[88:92], rand.Uint32())
	binary.BigEndian.PutUint32(req[92:96], uint32(numWant))
	binary.BigEndian.PutUint16(req[96:98], port)
	return req
}
