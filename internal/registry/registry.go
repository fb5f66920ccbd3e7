// Package registry implements the target registry: the SQL-backed set of
// tracked fids, mirrored into a shared in-memory set cache so the realtime
// worker's relevance filter never has to hit SQL on its hot path.
package registry

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"hubindexer/internal/eventbus"
	"hubindexer/internal/models"
)

// ErrAlreadyExists is returned by Add when the fid is already a Target.
var ErrAlreadyExists = errors.New("registry: target already exists")

// SetCache is the shared set used for O(1) membership checks. A real
// deployment backs this with an external cache so every process shares one
// view; MemorySetCache below is the in-process fallback used when there is
// only ever one registry instance, or in tests.
type SetCache interface {
	Add(fid uint64)
	Remove(fid uint64)
	Contains(fid uint64) bool
	Size() int
	Members() []uint64
}

// MemorySetCache is a sync.RWMutex-guarded set, the same concurrency shape
// eventbus.Bus uses for its subscriber map: no external dependency, safe for
// concurrent use, rebuilt wholesale on bootstrap.
type MemorySetCache struct {
	mu  sync.RWMutex
	set map[uint64]struct{}
}

// NewMemorySetCache returns an empty cache.
func NewMemorySetCache() *MemorySetCache {
	return &MemorySetCache{set: make(map[uint64]struct{})}
}

func (c *MemorySetCache) Add(fid uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set[fid] = struct{}{}
}

func (c *MemorySetCache) Remove(fid uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.set, fid)
}

func (c *MemorySetCache) Contains(fid uint64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.set[fid]
	return ok
}

func (c *MemorySetCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.set)
}

func (c *MemorySetCache) Members() []uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]uint64, 0, len(c.set))
	for fid := range c.set {
		out = append(out, fid)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Replace atomically swaps the cache contents, used by bootstrap reload.
func (c *MemorySetCache) Replace(fids []uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.set = make(map[uint64]struct{}, len(fids))
	for _, fid := range fids {
		c.set[fid] = struct{}{}
	}
}

// ListParams controls Registry.List's SQL-side pagination and filtering.
type ListParams struct {
	Limit      int
	Offset     int
	Search     *string
	IsRoot     *bool
	SyncStatus *string // "synced" | "unsynced" | "waiting"
	DateFrom   *time.Time
	DateTo     *time.Time
	SortBy     string
	SortOrder  string
}

// ListResult is a page of Targets plus the aggregate counts the admin UI's
// overview cards need.
type ListResult struct {
	Targets  []models.Target
	Total    int
	Synced   int
	Unsynced int
	Waiting  int
	Root     int
}

// Repository is the SQL surface the registry needs. internal/repository
// implements this against Postgres.
type Repository interface {
	InsertTargetIfAbsent(ctx context.Context, fid uint64, isRoot bool) (inserted bool, err error)
	DeleteTarget(ctx context.Context, fid uint64) error
	UpdateTarget(ctx context.Context, fid uint64, isRoot *bool) error
	ListTargets(ctx context.Context, params ListParams) ([]models.Target, int, error)
	AllTargetFIDs(ctx context.Context) ([]uint64, error)

	InsertClientTargetIfAbsent(ctx context.Context, fid uint64) (inserted bool, err error)
	DeleteClientTarget(ctx context.Context, fid uint64) error
	AllClientTargetFIDs(ctx context.Context) ([]uint64, error)

	AllRootTargetFIDs(ctx context.Context) ([]uint64, error)
}

// Enqueuer is the subset of the queue layer the registry drives: every
// insert that creates a new Target enqueues a backfill, and List needs job
// status to compute the "waiting" aggregate.
type Enqueuer interface {
	EnqueueBackfill(ctx context.Context, fid uint64, isRoot bool) error
	StatusForFIDs(ctx context.Context, fids []uint64) (map[uint64]string, error)
}

// Registry ties the SQL-backed Target/ClientTarget rows to the shared
// caches and the queue layer's backfill side-effect.
type Registry struct {
	repo   Repository
	queue  Enqueuer
	bus    *eventbus.Bus
	cache  SetCache
	client SetCache
	root   SetCache
}

// New builds a Registry. cache, clientCache and rootCache may be the same
// MemorySetCache type but must be distinct instances: Targets, ClientTargets
// and root Targets are independently-mirrored sets (root is a subset of
// Targets, tracked separately so the realtime worker's relevance/expansion
// checks never need a SQL round trip).
func New(repo Repository, queue Enqueuer, bus *eventbus.Bus, cache, clientCache, rootCache SetCache) *Registry {
	return &Registry{repo: repo, queue: queue, bus: bus, cache: cache, client: clientCache, root: rootCache}
}

// Bootstrap reloads all three caches (Target, ClientTarget, root Target)
// wholesale from SQL. Workers must not dequeue
// until this returns: it is the reconciliation step after any crash between
// a SQL write and its cache mirror (§4.3/§9 of the design notes).
func (r *Registry) Bootstrap(ctx context.Context) error {
	fids, err := r.repo.AllTargetFIDs(ctx)
	if err != nil {
		return err
	}
	if replacer, ok := r.cache.(interface{ Replace([]uint64) }); ok {
		replacer.Replace(fids)
	} else {
		for _, fid := range fids {
			r.cache.Add(fid)
		}
	}

	clientFIDs, err := r.repo.AllClientTargetFIDs(ctx)
	if err != nil {
		return err
	}
	if replacer, ok := r.client.(interface{ Replace([]uint64) }); ok {
		replacer.Replace(clientFIDs)
	} else {
		for _, fid := range clientFIDs {
			r.client.Add(fid)
		}
	}

	rootFIDs, err := r.repo.AllRootTargetFIDs(ctx)
	if err != nil {
		return err
	}
	if replacer, ok := r.root.(interface{ Replace([]uint64) }); ok {
		replacer.Replace(rootFIDs)
	} else {
		for _, fid := range rootFIDs {
			r.root.Add(fid)
		}
	}
	return nil
}

// Add inserts a new root or non-root Target. On insert it mirrors the cache
// and enqueues a backfill; per the design notes' ensure-target routine, the
// SQL insert happens first, the cache add second, the job enqueue last, and
// none of the side effects run if the row already existed.
func (r *Registry) Add(ctx context.Context, fid uint64, isRoot bool) error {
	inserted, err := r.repo.InsertTargetIfAbsent(ctx, fid, isRoot)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrAlreadyExists
	}
	r.cache.Add(fid)
	if isRoot {
		r.root.Add(fid)
	}
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TargetAdded, FID: fid, IsRoot: isRoot, Timestamp: time.Now()})
	}
	return r.queue.EnqueueBackfill(ctx, fid, isRoot)
}

// EnsureTarget is Add without the AlreadyExists error: used by graph
// expansion and dynamic-expansion paths that only care whether the fid ends
// up tracked, not whether they were the one to insert it.
func (r *Registry) EnsureTarget(ctx context.Context, fid uint64, isRoot bool) error {
	err := r.Add(ctx, fid, isRoot)
	if errors.Is(err, ErrAlreadyExists) {
		return nil
	}
	return err
}

// PromoteToRoot upgrades an existing non-root Target to root, or inserts it
// as root (with a backfill enqueued) if absent. Used by SIGNER_ADD dynamic
// expansion (§4.5.2).
func (r *Registry) PromoteToRoot(ctx context.Context, fid uint64) error {
	if !r.cache.Contains(fid) {
		return r.EnsureTarget(ctx, fid, true)
	}
	isRoot := true
	if err := r.repo.UpdateTarget(ctx, fid, &isRoot); err != nil {
		return err
	}
	r.root.Add(fid)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TargetPromoted, FID: fid, IsRoot: true, Timestamp: time.Now()})
	}
	return nil
}

// Remove deletes a Target row and drops it from the cache. It does not
// cascade-delete historical messages; that cleanup is a separate operator
// job by design.
func (r *Registry) Remove(ctx context.Context, fid uint64) error {
	if err := r.repo.DeleteTarget(ctx, fid); err != nil {
		return err
	}
	r.cache.Remove(fid)
	r.root.Remove(fid)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.TargetRemoved, FID: fid, Timestamp: time.Now()})
	}
	return nil
}

// Update sets Target flags. Membership is unchanged so no cache mutation is
// needed.
func (r *Registry) Update(ctx context.Context, fid uint64, isRoot *bool) error {
	return r.repo.UpdateTarget(ctx, fid, isRoot)
}

// IsTarget reports membership via the shared cache, not SQL.
func (r *Registry) IsTarget(fid uint64) bool { return r.cache.Contains(fid) }

// IsClientTarget reports membership in the client-discovery sub-registry.
func (r *Registry) IsClientTarget(fid uint64) bool { return r.client.Contains(fid) }

// IsRootTarget reports whether fid is a root Target, via the mirrored root
// cache (no SQL round trip on the realtime worker's hot path).
func (r *Registry) IsRootTarget(fid uint64) bool { return r.root.Contains(fid) }

// RemainingRootFollower is the unfollow-pruning surface: does any root
// Target other than excludeFID still follow targetFID. Backed by SQL since
// the join isn't something the in-process caches can answer.
type RootFollowerChecker interface {
	RemainingRootFollower(ctx context.Context, targetFID, excludeFID uint64) (bool, error)
}

// AddClientTarget inserts a ClientTarget row if absent, mirroring the client
// cache.
func (r *Registry) AddClientTarget(ctx context.Context, fid uint64) error {
	inserted, err := r.repo.InsertClientTargetIfAbsent(ctx, fid)
	if err != nil {
		return err
	}
	if !inserted {
		return ErrAlreadyExists
	}
	r.client.Add(fid)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.ClientTargetAdded, FID: fid, Timestamp: time.Now()})
	}
	return nil
}

// RemoveClientTarget deletes a ClientTarget row and its cache entry.
func (r *Registry) RemoveClientTarget(ctx context.Context, fid uint64) error {
	if err := r.repo.DeleteClientTarget(ctx, fid); err != nil {
		return err
	}
	r.client.Remove(fid)
	if r.bus != nil {
		r.bus.Publish(eventbus.Event{Type: eventbus.ClientTargetRemoved, FID: fid, Timestamp: time.Now()})
	}
	return nil
}

// List returns a page of Targets with the aggregate counts the admin
// overview needs. Waiting is computed by asking the queue layer for the
// backfill status of the unsynced fids on this page (spec.md's sync-status
// semantics operate per-listed-row, not over the whole table).
func (r *Registry) List(ctx context.Context, params ListParams) (ListResult, error) {
	targets, total, err := r.repo.ListTargets(ctx, params)
	if err != nil {
		return ListResult{}, err
	}

	fids := make([]uint64, 0, len(targets))
	for _, t := range targets {
		if t.LastSyncedAt == nil {
			fids = append(fids, t.FID)
		}
	}
	statuses, err := r.queue.StatusForFIDs(ctx, fids)
	if err != nil {
		return ListResult{}, err
	}

	res := ListResult{Targets: targets, Total: total}
	for _, t := range targets {
		if t.IsRoot {
			res.Root++
		}
		switch {
		case t.LastSyncedAt != nil:
			res.Synced++
		case statuses[t.FID] == "pending" || statuses[t.FID] == "active":
			res.Waiting++
		default:
			res.Unsynced++
		}
	}
	return res, nil
}
