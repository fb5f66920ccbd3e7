// Command reset-cursor deletes the realtime worker's sync_state row so the
// worker resumes from last_event_id=0 (or the hub's earliest retained
// event, whichever the hub serves first) the next time the process starts.
// A worker that is already running keeps its in-memory cursor and writes it
// back on its next tick.
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"hubindexer/internal/realtime"
)

func main() {
	dbURL := os.Getenv("DB_URL")
	if dbURL == "" {
		log.Fatal("DB_URL is required")
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

	ctx := context.Background()
	cmdTag, err := pool.Exec(ctx, `DELETE FROM sync_state WHERE name = $1`, realtime.SyncStateName)
	if err != nil {
		log.Fatalf("failed to delete sync state: %v", err)
	}

	if cmdTag.RowsAffected() == 0 {
		fmt.Println("no cursor found; the realtime worker will start from event 0 on next run")
	} else {
		fmt.Println("cursor reset; the realtime worker will resume from event 0 on next run")
	}
}
