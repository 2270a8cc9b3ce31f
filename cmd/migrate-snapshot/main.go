// Command migrate-snapshot copies the feed snapshot from one backend to another,
// e.g. from a state file into redis or postgres when changing FEED_STORE.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/tripph/promptfeed/internal/adapter/filestore"
	"github.com/tripph/promptfeed/internal/adapter/postgres"
	"github.com/tripph/promptfeed/internal/adapter/redis"
	"github.com/tripph/promptfeed/internal/domain"
)

const defaultRedisKey = "promptfeed:feed"

func main() {
	var (
		from     = flag.String("from", os.Getenv("STATE_FILE"), "Source: state file path, redis:// URL or postgres:// URL")
		to       = flag.String("to", "", "Destination: state file path, redis:// URL or postgres:// URL")
		redisKey = flag.String("redis-key", defaultRedisKey, "Snapshot key for redis backends")
		keepFail = flag.Bool("keep-failed", false, "Copy failed entries too (they are never replayed)")
		dryRun   = flag.Bool("dry-run", false, "Dry run mode (don't write the destination)")
		verbose  = flag.Bool("verbose", false, "Verbose logging")
	)
	flag.Parse()

	if *from == "" || *to == "" {
		log.Fatal("Both --from and --to are required")
	}

	logLevel := slog.LevelInfo
	if *verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	slog.SetDefault(slog.New(handler))

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	src, closeSrc, err := openBackend(ctx, *from, *redisKey)
	if err != nil {
		log.Fatalf("Failed to open source: %v", err)
	}
	defer closeSrc()

	dst, closeDst, err := openBackend(ctx, *to, *redisKey)
	if err != nil {
		log.Fatalf("Failed to open destination: %v", err)
	}
	defer closeDst()

	slog.Info("Starting snapshot copy", "from", sanitizeURL(*from), "to", sanitizeURL(*to), "dry_run", *dryRun)

	summary, err := copySnapshot(ctx, src, dst, copyOptions{keepFailed: *keepFail, dryRun: *dryRun})
	if err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	slog.Info("Migration complete", "read", summary.read, "written", summary.written, "skipped_failed", summary.skipped)
}

// openBackend picks a snapshot backend from the shape of target.
func openBackend(ctx context.Context, target, redisKey string) (domain.SnapshotStore, func(), error) {
	switch {
	case strings.HasPrefix(target, "redis://"), strings.HasPrefix(target, "rediss://"):
		client, err := redis.NewClient(ctx, target)
		if err != nil {
			return nil, nil, err
		}
		return redis.NewSnapshotStore(client, redisKey), func() { _ = client.Close() }, nil

	case strings.HasPrefix(target, "postgres://"), strings.HasPrefix(target, "postgresql://"):
		pool, err := postgres.Connect(ctx, target, nil)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.RunMigrationsWithLock(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.NewSnapshotStore(pool), pool.Close, nil

	default:
		return filestore.New(target), func() {}, nil
	}
}

type copyOptions struct {
	keepFailed bool
	dryRun     bool
}

type copySummary struct {
	read    int
	written int
	skipped int
}

func copySnapshot(ctx context.Context, src, dst domain.SnapshotStore, opts copyOptions) (copySummary, error) {
	var summary copySummary

	data, err := src.Load(ctx)
	if errors.Is(err, domain.ErrNoSnapshot) {
		slog.Warn("Source has no snapshot, nothing to copy")
		return summary, nil
	}
	if err != nil {
		return summary, fmt.Errorf("failed to load source: %w", err)
	}

	var entries []domain.FeedEntry
	if len(data) > 0 {
		if err := json.Unmarshal(data, &entries); err != nil {
			return summary, fmt.Errorf("source snapshot is not a feed document: %w", err)
		}
	}
	summary.read = len(entries)

	kept := make([]domain.FeedEntry, 0, len(entries))
	for _, e := range entries {
		if !opts.keepFailed && !e.Succeeded() {
			slog.Debug("Skipping failed entry", "prompt", e.Prompt, "ts", e.Timestamp)
			summary.skipped++
			continue
		}
		if e.Images == nil {
			e.Images = []string{}
		}
		kept = append(kept, e)
	}

	out, err := json.Marshal(kept)
	if err != nil {
		return summary, fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if opts.dryRun {
		slog.Info("Dry run, destination untouched", "would_write", len(kept), "bytes", len(out))
		return summary, nil
	}

	if err := dst.Save(ctx, out); err != nil {
		return summary, fmt.Errorf("failed to save destination: %w", err)
	}
	summary.written = len(kept)

	// Verify the destination reads back
	check, err := dst.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("verification load failed: %w", err)
	}
	var verify []domain.FeedEntry
	if err := json.Unmarshal(check, &verify); err != nil {
		return summary, fmt.Errorf("verification decode failed: %w", err)
	}
	if len(verify) != len(kept) {
		slog.Warn("Destination entry count mismatch", "expected", len(kept), "actual", len(verify))
	}

	return summary, nil
}

// sanitizeURL hides the password in a connection URL for logging.
func sanitizeURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) == 2 {
			credParts := strings.Split(parts[0], ":")
			if len(credParts) >= 3 {
				return credParts[0] + ":" + credParts[1] + ":***@" + parts[1]
			}
		}
	}
	return url
}
