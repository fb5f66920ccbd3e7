package main

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"hubindexer/internal/backfill"
	"hubindexer/internal/config"
	"hubindexer/internal/eventbus"
	"hubindexer/internal/hub"
	"hubindexer/internal/processor"
	"hubindexer/internal/queue"
	"hubindexer/internal/realtime"
	"hubindexer/internal/registry"
	"hubindexer/internal/repository"
)

// BuildCommit is set at build time via -ldflags.
var BuildCommit = "dev"

func main() {
	// 1. Config
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	log.Println("Initializing hub indexer...")
	log.Printf("Build: %s", BuildCommit)
	log.Printf("DB: %s", redactDatabaseURL(cfg.DatabaseURL))
	log.Printf("Hubs: %d configured", len(cfg.Hubs))
	log.Printf("Concurrency: backfill=%d realtime=%d", cfg.Concurrency.Backfill, cfg.Concurrency.Realtime)

	// 2. Dependencies
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repo, err := repository.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer repo.Close()

	if os.Getenv("SKIP_MIGRATION") == "true" {
		log.Println("Database migration SKIPPED (SKIP_MIGRATION=true)")
	} else {
		log.Println("Running database migration...")
		if err := repo.Migrate(ctx); err != nil {
			log.Fatalf("Migration failed: %v", err)
		}
		log.Println("Database migration complete.")
	}

	q := queue.New(repo.Pool())
	bus := eventbus.New()
	reg := registry.New(repo, q, bus, registry.NewMemorySetCache(), registry.NewMemorySetCache(), registry.NewMemorySetCache())

	log.Println("Bootstrapping target registry from SQL...")
	if err := reg.Bootstrap(ctx); err != nil {
		log.Fatalf("Registry bootstrap failed: %v", err)
	}

	seedTargets(ctx, reg, cfg)

	hubClient, err := buildHubClient(cfg)
	if err != nil {
		log.Fatalf("Failed to build hub client: %v", err)
	}

	var wg sync.WaitGroup

	// 3. Backfill worker pool (concurrency.backfill, default 5)
	backfillWorker := backfill.New(hubClient, repo, reg)
	for i := 0; i < cfg.Concurrency.Backfill; i++ {
		workerName := uuid.NewString()
		wg.Add(1)
		go runBackfillLoop(ctx, &wg, q, backfillWorker, workerName)
	}

	// 4. Realtime worker (concurrency must be exactly 1 — a single cursor owner)
	rtWorker := realtime.New(hubClient, reg, repo, q, repo, cfg.Strategy.EnableClientDiscovery)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := rtWorker.Run(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[realtime] worker stopped: %v", err)
		}
	}()

	// 5. Event processor pool, draining the process-event queue
	batchTimeout := time.Duration(cfg.BatchTimeoutMS) * time.Millisecond
	processorCount := cfg.Concurrency.Backfill
	for i := 0; i < processorCount; i++ {
		workerName := uuid.NewString()
		p := processor.New(repo, cfg.BatchSize, batchTimeout)
		wg.Add(1)
		go runProcessorLoop(ctx, &wg, q, p, workerName)
	}

	// 6. Health endpoint
	healthPort := os.Getenv("PORT")
	if healthPort == "" {
		healthPort = "8080"
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	httpServer := &http.Server{Addr: ":" + healthPort, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("health server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	log.Println("Shutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	httpServer.Shutdown(shutdownCtx)
	shutdownCancel()
	cancel()
	wg.Wait()
}

// seedTargets ensures the strategy-configured root targets and client-discovery
// targets exist, tolerating ErrAlreadyExists on every restart.
func seedTargets(ctx context.Context, reg *registry.Registry, cfg *config.Config) {
	for _, fid := range cfg.Strategy.RootTargets {
		if err := reg.EnsureTarget(ctx, fid, true); err != nil {
			log.Printf("[seed] ensure root target %d: %v", fid, err)
		}
	}
	if !cfg.Strategy.EnableClientDiscovery {
		return
	}
	for _, fid := range cfg.Strategy.TargetClients {
		if err := reg.AddClientTarget(ctx, fid); err != nil && err != registry.ErrAlreadyExists {
			log.Printf("[seed] add client target %d: %v", fid, err)
		}
	}
}

func buildHubClient(cfg *config.Config) (*hub.Client, error) {
	endpoints := make([]hub.Endpoint, len(cfg.Hubs))
	for i, h := range cfg.Hubs {
		h := h
		endpoints[i] = hub.Endpoint{
			URL: h.URL,
			Transform: func(req *http.Request) {
				if name, value, ok := h.AuthHeaderValue(); ok {
					req.Header.Set(name, value)
				}
			},
		}
	}
	return hub.NewClient(endpoints, hub.Config{
		RequestTimeout:   time.Duration(cfg.RequestTimeoutMS) * time.Millisecond,
		MinSpacing:       time.Duration(cfg.RateLimitDelayMS) * time.Millisecond,
		MaxRetries:       cfg.MaxRetries,
	})
}

// runBackfillLoop leases and runs backfill jobs until ctx is cancelled,
// backing off briefly when the queue is empty rather than busy-polling SQL.
func runBackfillLoop(ctx context.Context, wg *sync.WaitGroup, q *queue.Queue, w *backfill.Worker, workerName string) {
	defer wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := q.Lease(ctx, queue.Backfill, workerName)
		if err == queue.ErrNotFound {
			if !sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}
		if err != nil {
			log.Printf("[backfill] lease: %v", err)
			if !sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		var payload struct {
			FID    uint64 `json:"fid"`
			IsRoot bool   `json:"is_root"`
		}
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			log.Printf("[backfill] bad payload for job %s: %v", job.ID, err)
			q.Fail(ctx, job.ID, job.MaxRetries, err)
			continue
		}

		if err := w.Run(ctx, backfill.Job{FID: payload.FID, IsRoot: payload.IsRoot}); err != nil {
			log.Printf("[backfill] job %s (fid %d) failed: %v", job.ID, payload.FID, err)
			if ferr := q.Fail(ctx, job.ID, job.MaxRetries, err); ferr != nil {
				log.Printf("[backfill] record failure for job %s: %v", job.ID, ferr)
			}
			continue
		}
		if err := q.Complete(ctx, job.ID); err != nil {
			log.Printf("[backfill] complete job %s: %v", job.ID, err)
		}
	}
}

// runProcessorLoop drains the process-event queue through a single Processor
// instance, flushing on batch-size or on its idle timer — whichever comes
// first — matching the event processor's batching contract.
func runProcessorLoop(ctx context.Context, wg *sync.WaitGroup, q *queue.Queue, p *processor.Processor, workerName string) {
	defer wg.Done()
	defer func() {
		if err := p.Flush(context.Background()); err != nil {
			log.Printf("[process-event] final flush: %v", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.Due():
			if err := p.Flush(ctx); err != nil {
				log.Printf("[process-event] timed flush: %v", err)
			}
			continue
		default:
		}

		job, err := q.Lease(ctx, queue.ProcessEvent, workerName)
		if err == queue.ErrNotFound {
			if !sleepOrDone(ctx, 200*time.Millisecond) {
				return
			}
			continue
		}
		if err != nil {
			log.Printf("[process-event] lease: %v", err)
			if !sleepOrDone(ctx, time.Second) {
				return
			}
			continue
		}

		var payload struct {
			Event json.RawMessage `json:"event"`
		}
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			log.Printf("[process-event] bad payload for job %s: %v", job.ID, err)
			q.Fail(ctx, job.ID, job.MaxRetries, err)
			continue
		}

		if err := p.Handle(ctx, payload.Event); err != nil {
			log.Printf("[process-event] job %s failed: %v", job.ID, err)
			if ferr := q.Fail(ctx, job.ID, job.MaxRetries, err); ferr != nil {
				log.Printf("[process-event] record failure for job %s: %v", job.ID, ferr)
			}
			continue
		}
		if err := q.Complete(ctx, job.ID); err != nil {
			log.Printf("[process-event] complete job %s: %v", job.ID, err)
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func redactDatabaseURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	u, err := url.Parse(raw)
	if err == nil && u.Scheme != "" {
		if u.User != nil {
			user := u.User.Username()
			if user == "" {
				user = "user"
			}
			u.User = url.UserPassword(user, "****")
		}
		u.RawQuery = ""
		return u.String()
	}

	re := regexp.MustCompile(`(?i)(postgres(?:ql)?://[^:/?#]+):([^@]+)@`)
	if re.MatchString(raw) {
		return re.ReplaceAllString(raw, `$1:****@`)
	}
	re = regexp.MustCompile(`(?i)(password=)([^\s]+)`)
	return re.ReplaceAllString(raw, `$1****`)
}
