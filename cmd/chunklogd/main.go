// Command chunklogd runs a chunklog store directory: serve keeps a
// writer open and evaluating retention until interrupted; inspect
// prints a read-only summary of a log directory's segments.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"chunklog/internal/logformat"
	"chunklog/internal/logging"
	"chunklog/internal/retentiondispatch"
	"chunklog/internal/segment"
	"chunklog/internal/store"
)

func main() {
	base := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})
	filter := logging.NewComponentFilterHandler(base, slog.LevelInfo)
	logger := slog.New(filter)

	rootCmd := &cobra.Command{
		Use:   "chunklogd",
		Short: "chunklog storage engine daemon",
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "open a log directory for append and evaluate retention until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			name, _ := cmd.Flags().GetString("name")
			epoch, _ := cmd.Flags().GetUint64("epoch")
			maxBytes, _ := cmd.Flags().GetInt64("max-segment-bytes")
			maxChunks, _ := cmd.Flags().GetInt64("max-segment-chunks")
			filterSize, _ := cmd.Flags().GetInt("filter-size")
			retentionMaxBytes, _ := cmd.Flags().GetInt64("retention-max-bytes")
			retentionMaxAge, _ := cmd.Flags().GetDuration("retention-max-age")
			debugComponents, _ := cmd.Flags().GetStringSlice("debug-component")

			for _, c := range debugComponents {
				filter.SetLevel(c, slog.LevelDebug)
			}

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
			defer cancel()

			return serve(ctx, logger, serveOptions{
				dir:               dir,
				name:              name,
				epoch:             epoch,
				maxSegmentBytes:   maxBytes,
				maxSegmentChunks:  maxChunks,
				filterSize:        filterSize,
				retentionMaxBytes: retentionMaxBytes,
				retentionMaxAge:   retentionMaxAge,
			})
		},
	}
	serveCmd.Flags().String("dir", "", "log directory (required)")
	serveCmd.Flags().String("name", "chunklog", "log name")
	serveCmd.Flags().Uint64("epoch", 1, "writer epoch")
	serveCmd.Flags().Int64("max-segment-bytes", 0, "rollover threshold in bytes (default 500MB)")
	serveCmd.Flags().Int64("max-segment-chunks", 0, "rollover threshold in chunks (default 256000)")
	serveCmd.Flags().Int("filter-size", 0, "Bloom filter size in bytes (default 16)")
	serveCmd.Flags().Int64("retention-max-bytes", 0, "evict oldest segments once cumulative size exceeds this many bytes (0 disables)")
	serveCmd.Flags().Duration("retention-max-age", 0, "evict segments older than this duration (0 disables)")
	serveCmd.Flags().StringSlice("debug-component", nil, "enable debug logging for these components only (e.g. writer,acceptor)")
	serveCmd.MarkFlagRequired("dir")

	inspectCmd := &cobra.Command{
		Use:   "inspect",
		Short: "print a read-only summary of a log directory's segments",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")
			return inspect(dir, os.Stdout)
		},
	}
	inspectCmd.Flags().String("dir", "", "log directory (required)")
	inspectCmd.MarkFlagRequired("dir")

	rootCmd.AddCommand(serveCmd, inspectCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

type serveOptions struct {
	dir               string
	name              string
	epoch             uint64
	maxSegmentBytes   int64
	maxSegmentChunks  int64
	filterSize        int
	retentionMaxBytes int64
	retentionMaxAge   time.Duration
}

func serve(ctx context.Context, logger *slog.Logger, opts serveOptions) error {
	var specs []retentiondispatch.Spec
	if opts.retentionMaxBytes > 0 {
		specs = append(specs, retentiondispatch.Spec{Kind: retentiondispatch.KindMaxBytes, Bytes: opts.retentionMaxBytes})
	}
	if opts.retentionMaxAge > 0 {
		specs = append(specs, retentiondispatch.Spec{Kind: retentiondispatch.KindMaxAge, MaxAge: opts.retentionMaxAge})
	}

	l, err := store.Open(store.Config{
		Dir:                  opts.dir,
		Name:                 opts.name,
		Epoch:                opts.epoch,
		MaxSegmentSizeBytes:  opts.maxSegmentBytes,
		MaxSegmentSizeChunks: opts.maxSegmentChunks,
		FilterSize:           opts.filterSize,
		Retention:            specs,
		Logger:               logger,
	})
	if err != nil {
		return fmt.Errorf("open log: %w", err)
	}

	logger.Info("log open", "dir", opts.dir, "name", opts.name)
	<-ctx.Done()

	logger.Info("shutting down")
	return l.Close()
}

func inspect(dir string, out io.Writer) error {
	segIDs, err := segment.List(dir)
	if err != nil {
		return fmt.Errorf("list %s: %w", dir, err)
	}
	fmt.Fprintf(out, "segments: %d\n", len(segIDs))

	for _, id := range segIDs {
		p, err := segment.OpenForRead(dir, id, nil)
		if err != nil {
			return fmt.Errorf("open segment %d: %w", id, err)
		}

		segSize, sizeErr := p.SegmentSize()
		count, countErr := p.ChunkCount()
		first, hasFirst, firstErr := p.FirstIndexRecord()
		last, hasLast, lastErr := p.LastIndexRecord()
		p.Close()

		for _, e := range []error{sizeErr, countErr, firstErr, lastErr} {
			if e != nil {
				return e
			}
		}

		fmt.Fprintf(out, "  %020d: bytes=%d chunks=%d", id, segSize, count)
		if hasFirst {
			fmt.Fprintf(out, " first_chunk_id=%d first_ts=%d", first.ChunkID, first.TimestampMs)
		}
		if hasLast {
			fmt.Fprintf(out, " last_chunk_id=%d last_ts=%d last_type=%s", last.ChunkID, last.TimestampMs, chunkTypeName(last.Type))
		}
		fmt.Fprintln(out)
	}
	return nil
}

func chunkTypeName(t logformat.ChunkType) string {
	switch t {
	case logformat.ChunkUser:
		return "user"
	case logformat.ChunkTrkDelta:
		return "trk_delta"
	case logformat.ChunkTrkSnapshot:
		return "trk_snapshot"
	default:
		return "unknown"
	}
}
