// Package piece describes the pure, stateless layout of a single
// torrent piece: its byte size, how many blocks it splits into, and
// the size of each block.
package piece

import "github.com/lvbealr/leech/internal/wire"

// Plan is the per-piece layout the scheduler and peer sessions consult
// to turn a piece index into concrete block requests.
type Plan struct {
	Index   int
	Size    int
	NBlocks int
	Hash    [20]byte
}

// NewPlan derives the Plan for piece index, given the torrent's
// nominal piece length and total length (used to compute the final,
// possibly-truncated piece's size) and that piece's expected hash.
func NewPlan(index, pieceLength, totalLength int, hash [20]byte) Plan {
	size := pieceSize(index, pieceLength, totalLength)
	nblocks := (size + wire.BlockMax - 1) / wire.BlockMax
	if nblocks == 0 {
		nblocks = 1
	}
	return Plan{Index: index, Size: size, NBlocks: nblocks, Hash: hash}
}

func pieceSize(index, pieceLength, totalLength int) int {
	begin := index * pieceLength
	end := begin + pieceLength
	if end > totalLength {
		end = totalLength
	}
	return end - begin
}

// BlockSize returns the byte size of block blockI within the piece:
// wire.BlockMax for every block except the last, which is the
// remainder (or a full wire.BlockMax when the piece size divides
// evenly).
func (p Plan) BlockSize(blockI int) int {
	if blockI != p.NBlocks-1 {
		return wire.BlockMax
	}
	last := p.Size - (p.NBlocks-1)*wire.BlockMax
	if last == 0 {
		return wire.BlockMax
	}
	return last
}
