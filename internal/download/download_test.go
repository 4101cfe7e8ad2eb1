package download

import (
	"context"
	"crypto/sha1"
	"net"
	"testing"
	"time"

	"github.com/lvbealr/leech/internal/metainfo"
	"github.com/lvbealr/leech/internal/tracker"
	"github.com/lvbealr/leech/internal/wire"
	"github.com/stretchr/testify/require"
)

// serveOnePiece plays a minimal peer: handshake, a full bitfield, and
// answers every Request for the given piece with its block data.
func serveOnePiece(t *testing.T, conn net.Conn, infoHash, peerID [20]byte, pieceData []byte) {
	t.Helper()
	defer conn.Close()

	hs, err := wire.ReadHandshake(conn)
	require.NoError(t, err)
	require.Equal(t, infoHash, hs.InfoHash)
	require.NoError(t, wire.WriteHandshake(conn, infoHash, peerID))

	var bf wire.Bitfield
	bf.SetPiece(0)
	require.NoError(t, wire.Write(conn, &wire.Message{Tag: wire.Bitfield, Payload: bf}))

	_, err = wire.Read(conn) // Interested
	require.NoError(t, err)
	require.NoError(t, wire.Write(conn, &wire.Message{Tag: wire.Unchoke}))

	for {
		m, err := wire.Read(conn)
		if err != nil {
			return
		}
		if m.Tag != wire.Request {
			continue
		}
		idx, begin, err := wire.PieceBegin(m)
		require.NoError(t, err)

		end := begin + wire.BlockMax
		if end > len(pieceData) {
			end = len(pieceData)
		}
		block := pieceData[begin:end]

		payload := make([]byte, 8+len(block))
		payload[0], payload[1], payload[2], payload[3] = byte(idx>>24), byte(idx>>16), byte(idx>>8), byte(idx)
		payload[4], payload[5], payload[6], payload[7] = byte(begin>>24), byte(begin>>16), byte(begin>>8), byte(begin)
		copy(payload[8:], block)

		if err := wire.Write(conn, &wire.Message{Tag: wire.Piece, Payload: payload}); err != nil {
			return
		}
	}
}

func TestDownloadSinglePieceFromOnePeer(t *testing.T) {
	pieceLen := 2 * wire.BlockMax
	data := make([]byte, pieceLen)
	for i := range data {
		data[i] = byte(i)
	}
	hash := sha1.Sum(data)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var infoHash, remoteID, localID [20]byte
	infoHash[0] = 0x11

	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		serveOnePiece(t, conn, infoHash, remoteID, data)
	}()

	desc := &metainfo.Descriptor{
		Name:        "test",
		InfoHash:    infoHash,
		PieceLength: pieceLen,
		Pieces:      [][20]byte{hash},
		TotalLength: int64(pieceLen),
	}

	tcpAddr := ln.Addr().(*net.TCPAddr)
	peers := []tracker.PeerAddr{{IP: tcpAddr.IP, Port: uint16(tcpAddr.Port)}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	result, err := Download(ctx, desc, peers, localID, Options{BlockDeadline: 2 * time.Second})
	require.NoError(t, err)
	require.Equal(t, data, result.Bytes())

	<-acceptDone
}

func TestDownloadFailsWithNoPeers(t *testing.T) {
	desc := &metainfo.Descriptor{
		Name:        "test",
		PieceLength: wire.BlockMax,
		Pieces:      [][20]byte{{}},
		TotalLength: int64(wire.BlockMax),
	}
	var localID [20]byte

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := Download(ctx, desc, nil, localID, Options{})
	require.Error(t, err)
}
