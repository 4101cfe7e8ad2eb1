// Command leech downloads the payload of a single .torrent file from
// the swarm and writes it to disk.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mitchellh/colorstring"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/lvbealr/leech/internal/download"
	"github.com/lvbealr/leech/internal/metainfo"
	"github.com/lvbealr/leech/internal/peer"
	"github.com/lvbealr/leech/internal/tracker"
)

func main() {
	var (
		outDir       = flag.String("out", ".", "directory to write the downloaded payload into")
		peerIDPrefix = flag.String("peer-id-prefix", "-LE0001-", "Azureus-style peer-id prefix")
		port         = flag.Uint("port", 6881, "local port advertised to trackers")
		concurrency  = flag.Int("concurrency", 10, "max concurrent peer connection attempts")
		blockTimeout = flag.Duration("block-timeout", peer.DefaultBlockDeadline, "per-block read deadline")
	)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [flags] <path-to-torrent-file>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, runOptions{
		torrentPath:  flag.Arg(0),
		outDir:       *outDir,
		peerIDPrefix: *peerIDPrefix,
		port:         uint16(*port),
		concurrency:  *concurrency,
		blockTimeout: *blockTimeout,
	}); err != nil {
		logFail("%v", err)
		os.Exit(1)
	}
}

type runOptions struct {
	torrentPath  string
	outDir       string
	peerIDPrefix string
	port         uint16
	concurrency  int
	blockTimeout time.Duration
}

func run(ctx context.Context, opts runOptions) error {
	f, err := os.Open(opts.torrentPath)
	if err != nil {
		return fmt.Errorf("leech: open %s: %w", opts.torrentPath, err)
	}
	defer f.Close()

	desc, err := metainfo.Load(f)
	if err != nil {
		return fmt.Errorf("leech: load torrent: %w", err)
	}
	logInfo("loaded %q: %d pieces, %d bytes", desc.Name, len(desc.Pieces), desc.TotalLength)

	peerID := peer.NewPeerID(opts.peerIDPrefix)

	resp, err := tracker.Announce(tracker.AnnounceInput{
		Announce:     desc.Announce,
		AnnounceList: desc.AnnounceList,
		InfoHash:     desc.InfoHash,
		PeerID:       peerID,
		Port:         opts.port,
		Left:         desc.TotalLength,
	})
	if err != nil {
		return fmt.Errorf("leech: announce: %w", err)
	}
	logInfo("tracker returned %d peers", len(resp.Peers))

	bar := newProgressBar(len(desc.Pieces))

	result, err := download.Download(ctx, desc, resp.Peers, peerID, download.Options{
		Concurrency:   opts.concurrency,
		BlockDeadline: opts.blockTimeout,
		Progress: func(piecesDone, piecesTotal int, bytesDone, bytesTotal int64) {
			if bar != nil {
				bar.Set(piecesDone)
			}
		},
	})
	if err != nil {
		return fmt.Errorf("leech: download: %w", err)
	}

	if err := result.WriteFiles(opts.outDir); err != nil {
		return fmt.Errorf("leech: write output: %w", err)
	}

	logInfo("done: wrote %q into %s", desc.Name, opts.outDir)
	return nil
}

// newProgressBar renders a live bar only when stdout is an
// interactive terminal; otherwise it returns nil and no per-piece
// progress is shown, only the logInfo lines.
func newProgressBar(total int) *progressbar.ProgressBar {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return nil
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription("downloading"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
	)
}

func logInfo(format string, args ...any) {
	log.Println(colorstring.Color("[green][INFO][reset]\t" + fmt.Sprintf(format, args...)))
}

func logFail(format string, args ...any) {
	log.Println(colorstring.Color("[red][FAIL][reset]\t" + fmt.Sprintf(format, args...)))
}
