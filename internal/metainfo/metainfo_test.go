package metainfo

import (
	"bytes"
	"crypto/sha1"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSingleFileTorrent hand-assembles a minimal bencoded .torrent
// file so the test doesn't depend on the bencode encoder producing
// byte-identical output to a reference implementation.
func buildSingleFileTorrent(t *testing.T, pieceLength, length int, pieceHashes string) []byte {
	t.Helper()
	info := []byte(
		"d" +
			"6:lengthi" + itoa(length) + "e" +
			"4:name4:test" +
			"12:piece lengthi" + itoa(pieceLength) + "e" +
			"6:pieces20:" + pieceHashes +
			"e",
	)
	var buf bytes.Buffer
	buf.WriteString("d8:announce15:http://x.test/a4:info")
	buf.Write(info)
	buf.WriteString("e")
	return buf.Bytes()
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func TestLoadSingleFileTorrent(t *testing.T) {
	hash := string(make([]byte, 20))
	data := buildSingleFileTorrent(t, 100, 100, hash)

	d, err := Load(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "http://x.test/a", d.Announce)
	assert.Equal(t, "test", d.Name)
	assert.Equal(t, 100, d.PieceLength)
	assert.Equal(t, int64(100), d.TotalLength)
	require.Len(t, d.Pieces, 1)
	assert.NoError(t, d.RequireSingleFile())
}

func TestInfoHashMatchesRawSpan(t *testing.T) {
	hash := string(make([]byte, 20))
	data := buildSingleFileTorrent(t, 100, 100, hash)

	d, err := Load(bytes.NewReader(data))
	require.NoError(t, err)

	idx := bytes.Index(data, []byte("4:info"))
	infoSpan := data[idx+len("4:info") : len(data)-1]
	assert.Equal(t, sha1.Sum(infoSpan), d.InfoHash)
}

// buildMultiFileTorrent hand-assembles a two-file multi-file torrent,
// one of whose files nests three path components deep.
func buildMultiFileTorrent(t *testing.T, pieceLength int, pieceHashes string) []byte {
	t.Helper()
	files := "l" +
		"d6:lengthi50e4:pathl1:a1:b5:c.txtee" +
		"d6:lengthi50e4:pathl5:d.txtee" +
		"e"
	info := []byte(
		"d" +
			"5:files" + files +
			"4:name4:test" +
			"12:piece lengthi" + itoa(pieceLength) + "e" +
			"6:pieces20:" + pieceHashes +
			"e",
	)
	var buf bytes.Buffer
	buf.WriteString("d8:announce15:http://x.test/a4:info")
	buf.Write(info)
	buf.WriteString("e")
	return buf.Bytes()
}

func TestLoadMultiFileTorrentPreservesPathOrder(t *testing.T) {
	hash := string(make([]byte, 20))
	data := buildMultiFileTorrent(t, 100, hash)

	d, err := Load(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, d.Files, 2)

	assert.Equal(t, filepath.Join("a", "b", "c.txt"), d.Files[0].Path)
	assert.Equal(t, int64(0), d.Files[0].Offset)
	assert.Equal(t, "d.txt", d.Files[1].Path)
	assert.Equal(t, int64(50), d.Files[1].Offset)
	assert.Error(t, d.RequireSingleFile())
}

func TestPieceCountMismatchRejected(t *testing.T) {
	// total_length/piece_length implies 2 pieces, but only 1 hash given.
	hash := string(make([]byte, 20))
	data := buildSingleFileTorrent(t, 100, 150, hash)

	_, err := Load(bytes.NewReader(data))
	assert.Error(t, err)
}
