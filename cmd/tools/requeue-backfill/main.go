// Command requeue-backfill clears last_synced_at for the given fids and
// enqueues a fresh backfill job for each, for operators repairing a target
// whose history diverged (a hub prune races that slipped past a
// dynamic-expansion window, a message kind added after the target was
// originally synced, etc).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/jackc/pgx/v5/pgxpool"

	"hubindexer/internal/queue"
)

func main() {
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal("DB_URL is required")
	}
	if len(os.Args) < 2 {
		log.Fatalf("usage: %s <fid> [fid...]", os.Args[0])
	}

	fids := make([]uint64, 0, len(os.Args)-1)
	for _, arg := range os.Args[1:] {
		fid, err := strconv.ParseUint(arg, 10, 64)
		if err != nil {
			log.Fatalf("invalid fid %q: %v", arg, err)
		}
		fids = append(fids, fid)
	}

	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		log.Fatalf("unable to parse DB_URL: %v", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		log.Fatalf("unable to connect to database: %v", err)
	}
	defer pool.Close()

	q := queue.New(pool)
	ctx := context.Background()

	for _, fid := range fids {
		var isRoot bool
		err := pool.QueryRow(ctx, `SELECT is_root FROM targets WHERE fid = $1`, fid).Scan(&isRoot)
		if err != nil {
			log.Printf("fid %d: not a tracked target, skipping: %v", fid, err)
			continue
		}

		if _, err := pool.Exec(ctx, `UPDATE targets SET last_synced_at = NULL WHERE fid = $1`, fid); err != nil {
			log.Printf("fid %d: failed to clear last_synced_at: %v", fid, err)
			continue
		}

		if err := q.EnqueueBackfill(ctx, fid, isRoot); err != nil {
			log.Printf("fid %d: failed to enqueue backfill: %v", fid, err)
			continue
		}
		fmt.Printf("requeued backfill for fid %d (root=%v)\n", fid, isRoot)
	}
}
