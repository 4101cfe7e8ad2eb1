// Package metainfo turns a decoded .torrent file into the typed,
// validated descriptor the download engine consumes.
package metainfo

import (
	"crypto/sha1"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/lvbealr/leech/internal/bencode"
)

// ErrUnsupported marks a descriptor shape the caller asked the engine
// to reject — in this module that is single-file-only callers being
// handed a multi-file torrent (see Descriptor.Files for the
// multi-file path this module actually supports).
var ErrUnsupported = errors.New("metainfo: unsupported torrent shape")

// FileEntry is one file of a multi-file torrent, with its byte offset
// within the flat, concatenated payload.
type FileEntry struct {
	Path   string
	Length int64
	Offset int64
}

// Descriptor is the torrent's immutable, typed metadata for a
// download session.
type Descriptor struct {
	Announce     string
	AnnounceList [][]string
	Name         string
	InfoHash     [20]byte
	PieceLength  int
	Pieces       [][20]byte
	TotalLength  int64
	Files        []FileEntry // nil for single-file torrents
}

// Load decodes a .torrent file from r into a Descriptor, deriving the
// info-hash from the raw bencoded "info" span (not a re-marshal) so
// it matches byte-for-byte what every tracker and peer expects.
func Load(r io.Reader) (*Descriptor, error) {
	raw, infoBytes, err := bencode.DecodeTorrent(r)
	if err != nil {
		return nil, err
	}

	pieces, err := splitPieceHashes(raw.Info.Pieces)
	if err != nil {
		return nil, err
	}

	d := &Descriptor{
		Announce:     raw.Announce,
		AnnounceList: raw.AnnounceList,
		Name:         raw.Info.Name,
		InfoHash:     sha1.Sum(infoBytes),
		PieceLength:  int(raw.Info.PieceLength),
		Pieces:       pieces,
	}

	if len(raw.Info.Files) == 0 {
		d.TotalLength = raw.Info.Length
	} else {
		var offset int64
		for _, f := range raw.Info.Files {
			path := filepath.Join(f.Path...)
			d.Files = append(d.Files, FileEntry{Path: path, Length: f.Length, Offset: offset})
			offset += f.Length
		}
		d.TotalLength = offset
	}

	if expected := (d.TotalLength + int64(d.PieceLength) - 1) / int64(d.PieceLength); expected != int64(len(d.Pieces)) {
		return nil, fmt.Errorf("metainfo: piece count mismatch: total_length/piece_length implies %d, pieces list has %d", expected, len(d.Pieces))
	}

	return d, nil
}

// RequireSingleFile returns ErrUnsupported if d describes a
// multi-file torrent — for callers whose output path is the flat
// Bytes() accumulator rather than WriteFiles.
func (d *Descriptor) RequireSingleFile() error {
	if len(d.Files) > 0 {
		return fmt.Errorf("%w: multi-file torrent %q", ErrUnsupported, d.Name)
	}
	return nil
}

func splitPieceHashes(pieces string) ([][20]byte, error) {
	if len(pieces)%20 != 0 {
		return nil, fmt.Errorf("metainfo: pieces string length %d not a multiple of 20", len(pieces))
	}
	n := len(pieces) / 20
	hashes := make([][20]byte, n)
	for i := 0; i < n; i++ {
		copy(hashes[i][:], pieces[i*20:(i+1)*20])
	}
	return hashes, nil
}
