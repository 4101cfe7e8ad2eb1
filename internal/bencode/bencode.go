// Package bencode wraps github.com/jackpal/bencode-go with the
// handful of torrent-specific decode operations this module needs:
// the root torrent dictionary and the tracker's announce reply.
package bencode

import (
	"bytes"
	"fmt"
	"io"

	"github.com/jackpal/bencode-go"
)

// RawInfo mirrors the bencoded "info" dictionary of a .torrent file.
// Files is populated only for multi-file torrents; Length only for
// single-file ones — BEP-3 requires exactly one of the two.
type RawInfo struct {
	Name        string     `bencode:"name"`
	PieceLength int64      `bencode:"piece length"`
	Pieces      string     `bencode:"pieces"`
	Length      int64      `bencode:"length"`
	Files       []RawEntry `bencode:"files"`
}

// RawEntry is one file of a multi-file torrent's "files" list.
type RawEntry struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// RawTorrent mirrors the root dictionary of a .torrent file.
type RawTorrent struct {
	Announce     string     `bencode:"announce"`
	AnnounceList [][]string `bencode:"announce-list"`
	Info         RawInfo    `bencode:"info"`
}

// DecodeTorrent reads and bencode-decodes a .torrent file, also
// returning the raw, untouched bytes of its "info" dictionary — the
// exact span that must be SHA-1'd to reproduce the torrent's
// info-hash without relying on re-marshaling to match byte-for-byte.
func DecodeTorrent(r io.Reader) (*RawTorrent, []byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("bencode: read torrent: %w", err)
	}

	var raw RawTorrent
	if err := bencode.Unmarshal(bytes.NewReader(data), &raw); err != nil {
		return nil, nil, fmt.Errorf("bencode: decode torrent: %w", err)
	}

	infoBytes, err := extractInfoSpan(data)
	if err != nil {
		return nil, nil, fmt.Errorf("bencode: extract info dict: %w", err)
	}

	return &raw, infoBytes, nil
}

// extractInfoSpan hand-walks the bencode grammar to find the exact
// byte span of the "4:info" dictionary value, rather than
// re-marshaling the decoded struct — re-marshaling can reorder or
// reformat fields the original encoder didn't, which would silently
// break info-hash stability.
func extractInfoSpan(data []byte) ([]byte, error) {
	idx := bytes.Index(data, []byte("4:info"))
	if idx < 0 {
		return nil, fmt.Errorf("no \"4:info\" key found")
	}
	start := idx + len("4:info")

	depth := 0
	for i := start; i < len(data); i++ {
		switch b := data[i]; {
		case b == 'd' || b == 'l':
			depth++
		case b == 'e':
			depth--
			if depth == 0 {
				return data[start : i+1], nil
			}
		case b == 'i':
			j := i + 1
			for ; j < len(data) && data[j] != 'e'; j++ {
			}
			if j >= len(data) {
				return nil, fmt.Errorf("unterminated integer at offset %d", i)
			}
			i = j
		case b >= '0' && b <= '9':
			j := i
			for ; j < len(data) && data[j] >= '0' && data[j] <= '9'; j++ {
			}
			if j < len(data) && data[j] == ':' {
				length := 0
				for _, c := range data[i:j] {
					length = length*10 + int(c-'0')
				}
				j++
				i = j + length - 1
			}
		}
	}

	return nil, fmt.Errorf("unterminated info dictionary")
}

// TrackerReply mirrors a compact-peers HTTP tracker response.
type TrackerReply struct {
	Interval int    `bencode:"interval"`
	Peers    string `bencode:"peers"`
	Failure  string `bencode:"failure reason"`
}

// DecodeTrackerReply bencode-decodes an HTTP tracker's response body.
func DecodeTrackerReply(r io.Reader) (*TrackerReply, error) {
	var reply TrackerReply
	if err := bencode.Unmarshal(r, &reply); err != nil {
		return nil, fmt.Errorf("bencode: decode tracker reply: %w", err)
	}
	return &reply, nil
}
