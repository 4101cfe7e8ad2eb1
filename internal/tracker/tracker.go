// Package tracker announces to HTTP and UDP BitTorrent trackers and
// aggregates their peer lists.
package tracker

import (
	"fmt"
	"log"
	"strings"
)

// AnnounceInput is everything a tracker announce needs out of a
// torrent descriptor, decoupled from the metainfo package so this
// package stays testable without it.
type AnnounceInput struct {
	Announce     string
	AnnounceList [][]string
	InfoHash     [20]byte
	PeerID       [20]byte
	Port         uint16
	Left         int64
}

var publicTrackers = []string{
	"udp://tracker.opentrackr.org:1337/announce",
	"udp://tracker.torrent.eu.org:451/announce",
	"udp://open.tracker.cl:1337/announce",
	"udp://open.stealth.si:80/announce",
	"udp://tracker.tiny-vps.com:6969/announce",
}

// Announce contacts every tracker the torrent names, plus a small set
// of well-known public UDP trackers that are always added, and merges
// their peer lists. It succeeds as long as at least one tracker
// responds.
func Announce(in AnnounceInput) (*Response, error) {
	trackerSet := make(map[string]struct{})
	if in.Announce != "" {
		trackerSet[in.Announce] = struct{}{}
	}
	for _, tier := range in.AnnounceList {
		for _, a := range tier {
			if a != "" {
				trackerSet[a] = struct{}{}
			}
		}
	}
	for _, t := range publicTrackers {
		trackerSet[t] = struct{}{}
	}

	var udpTrackers, httpTrackers []string
	for t := range trackerSet {
		switch {
		case strings.HasPrefix(t, "udp://"):
			udpTrackers = append(udpTrackers, t)
		case strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://"):
			httpTrackers = append(httpTrackers, t)
		}
	}

	peerSet := make(map[string]PeerAddr)
	var interval int
	var successes int

	collect := func(name string, resp *Response, err error) {
		if err != nil {
			log.Printf("[FAIL]\ttracker %s: %v\n", name, err)
			return
		}
		successes++
		log.Printf("[INFO]\ttracker %s: %d peers, interval %ds\n", name, len(resp.Peers), resp.Interval)
		for _, p := range resp.Peers {
			peerSet[p.String()] = p
		}
		if interval == 0 || resp.Interval < interval {
			interval = resp.Interval
		}
	}

	for _, t := range udpTrackers {
		resp, err := announceUDP(t, in.InfoHash, in.PeerID, in.Port, in.Left)
		collect(t, resp, err)
	}
	for _, t := range httpTrackers {
		resp, err := announceHTTP(t, in.InfoHash, in.PeerID, in.Port, in.Left)
		collect(t, resp, err)
	}

	if successes == 0 {
		return nil, fmt.Errorf("tracker: no tracker responded out of %d", len(trackerSet))
	}

	peers := make([]PeerAddr, 0, len(peerSet))
	for _, p := range peerSet {
		peers = append(peers, p)
	}

	return &Response{Peers: peers, Interval: interval}, nil
}
