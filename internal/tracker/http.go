package tracker

import (
	"fmt"
	"log"
	"net/http"
	"net/url"
	"time"

	"github.com/lvbealr/leech/internal/bencode"
)

// Response is a tracker's announce reply, normalized across the HTTP
// and UDP wire formats.
type Response struct {
	Peers    []PeerAddr
	Interval int
}

// announceHTTP performs a single compact-peers HTTP tracker announce.
func announceHTTP(announceURL string, infoHash, peerID [20]byte, port uint16, left int64) (*Response, error) {
	u, err := url.Parse(announceURL)
	if err != nil {
		return nil, fmt.Errorf("tracker: parse announce url: %w", err)
	}

	params := url.Values{}
	params.Set("info_hash", string(infoHash[:]))
	params.Set("peer_id", string(peerID[:]))
	params.Set("port", fmt.Sprintf("%d", port))
	params.Set("uploaded", "0")
	params.Set("downloaded", "0")
	params.Set("left", fmt.Sprintf("%d", left))
	params.Set("compact", "1")
	params.Set("event", "started")
	u.RawQuery = params.Encode()

	client := &http.Client{Timeout: 15 * time.Second}

	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("tracker: build http request: %w", err)
	}
	req.Header.Set("User-Agent", "leech/1.0")

	log.Printf("[INFO]\tannouncing to %s\n", u.Host)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tracker: http announce: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tracker: http announce: unexpected status %d", resp.StatusCode)
	}

	reply, err := bencode.DecodeTrackerReply(resp.Body)
	if err != nil {
		return nil, err
	}
	if reply.Failure != "" {
		return nil, fmt.Errorf("tracker: %s: %s", announceURL, reply.Failure)
	}

	peers, err := decodeCompactPeers([]byte(reply.Peers))
	if err != nil {
		return nil, err
	}

	return &Response{Peers: peers, Interval: reply.Interval}, nil
}
