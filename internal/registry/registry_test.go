package registry

import (
	"context"
	"testing"

	"hubindexer/internal/eventbus"
	"hubindexer/internal/models"
)

type fakeRepo struct {
	targets       map[uint64]models.Target
	clientTargets map[uint64]struct{}
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{targets: map[uint64]models.Target{}, clientTargets: map[uint64]struct{}{}}
}

func (f *fakeRepo) InsertTargetIfAbsent(ctx context.Context, fid uint64, isRoot bool) (bool, error) {
	if _, ok := f.targets[fid]; ok {
		return false, nil
	}
	f.targets[fid] = models.Target{FID: fid, IsRoot: isRoot}
	return true, nil
}

func (f *fakeRepo) DeleteTarget(ctx context.Context, fid uint64) error {
	delete(f.targets, fid)
	return nil
}

func (f *fakeRepo) UpdateTarget(ctx context.Context, fid uint64, isRoot *bool) error {
	t, ok := f.targets[fid]
	if !ok {
		return nil
	}
	if isRoot != nil {
		t.IsRoot = *isRoot
	}
	f.targets[fid] = t
	return nil
}

func (f *fakeRepo) ListTargets(ctx context.Context, params ListParams) ([]models.Target, int, error) {
	var out []models.Target
	for _, t := range f.targets {
		out = append(out, t)
	}
	return out, len(out), nil
}

func (f *fakeRepo) AllTargetFIDs(ctx context.Context) ([]uint64, error) {
	var out []uint64
	for fid := range f.targets {
		out = append(out, fid)
	}
	return out, nil
}

func (f *fakeRepo) InsertClientTargetIfAbsent(ctx context.Context, fid uint64) (bool, error) {
	if _, ok := f.clientTargets[fid]; ok {
		return false, nil
	}
	f.clientTargets[fid] = struct{}{}
	return true, nil
}

func (f *fakeRepo) DeleteClientTarget(ctx context.Context, fid uint64) error {
	delete(f.clientTargets, fid)
	return nil
}

func (f *fakeRepo) AllClientTargetFIDs(ctx context.Context) ([]uint64, error) {
	var out []uint64
	for fid := range f.clientTargets {
		out = append(out, fid)
	}
	return out, nil
}

func (f *fakeRepo) AllRootTargetFIDs(ctx context.Context) ([]uint64, error) {
	var out []uint64
	for fid, t := range f.targets {
		if t.IsRoot {
			out = append(out, fid)
		}
	}
	return out, nil
}

type fakeQueue struct {
	backfills map[uint64]bool
}

func newFakeQueue() *fakeQueue { return &fakeQueue{backfills: map[uint64]bool{}} }

func (q *fakeQueue) EnqueueBackfill(ctx context.Context, fid uint64, isRoot bool) error {
	q.backfills[fid] = true
	return nil
}

func (q *fakeQueue) StatusForFIDs(ctx context.Context, fids []uint64) (map[uint64]string, error) {
	out := make(map[uint64]string, len(fids))
	for _, fid := range fids {
		if q.backfills[fid] {
			out[fid] = "pending"
		} else {
			out[fid] = "absent"
		}
	}
	return out, nil
}

func newTestRegistry() (*Registry, *fakeRepo, *fakeQueue) {
	repo := newFakeRepo()
	queue := newFakeQueue()
	reg := New(repo, queue, eventbus.New(), NewMemorySetCache(), NewMemorySetCache(), NewMemorySetCache())
	return reg, repo, queue
}

func TestAdd_InsertsCacheAndEnqueuesBackfill(t *testing.T) {
	reg, _, queue := newTestRegistry()
	ctx := context.Background()

	if err := reg.Add(ctx, 1, true); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if !reg.IsTarget(1) {
		t.Fatal("expected fid 1 in cache")
	}
	if !queue.backfills[1] {
		t.Fatal("expected backfill:1 enqueued")
	}
}

func TestAdd_AlreadyExists(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	if err := reg.Add(ctx, 1, true); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := reg.Add(ctx, 1, true); err != ErrAlreadyExists {
		t.Fatalf("second Add err = %v, want ErrAlreadyExists", err)
	}
}

func TestEnsureTarget_IdempotentNoError(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	if err := reg.EnsureTarget(ctx, 2, false); err != nil {
		t.Fatalf("first EnsureTarget: %v", err)
	}
	if err := reg.EnsureTarget(ctx, 2, false); err != nil {
		t.Fatalf("second EnsureTarget should not error: %v", err)
	}
	if !reg.IsTarget(2) {
		t.Fatal("expected fid 2 tracked")
	}
}

func TestRemove_DropsFromCache(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	reg.Add(ctx, 1, true)
	if err := reg.Remove(ctx, 1); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if reg.IsTarget(1) {
		t.Fatal("expected fid 1 removed from cache")
	}
}

func TestBootstrap_ReloadsCacheFromSQL(t *testing.T) {
	repo := newFakeRepo()
	repo.targets[5] = models.Target{FID: 5, IsRoot: true}
	repo.clientTargets[9] = struct{}{}
	queue := newFakeQueue()
	reg := New(repo, queue, eventbus.New(), NewMemorySetCache(), NewMemorySetCache(), NewMemorySetCache())

	if err := reg.Bootstrap(context.Background()); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}
	if !reg.IsTarget(5) {
		t.Fatal("expected fid 5 loaded into cache")
	}
	if !reg.IsClientTarget(9) {
		t.Fatal("expected fid 9 loaded into client cache")
	}
}

func TestPromoteToRoot_UpgradesExistingNonRoot(t *testing.T) {
	reg, repo, _ := newTestRegistry()
	ctx := context.Background()
	reg.Add(ctx, 7, false)

	if err := reg.PromoteToRoot(ctx, 7); err != nil {
		t.Fatalf("PromoteToRoot: %v", err)
	}
	if !repo.targets[7].IsRoot {
		t.Fatal("expected fid 7 promoted to root")
	}
}

func TestPromoteToRoot_InsertsAbsentAsRoot(t *testing.T) {
	reg, repo, queue := newTestRegistry()
	ctx := context.Background()

	if err := reg.PromoteToRoot(ctx, 11); err != nil {
		t.Fatalf("PromoteToRoot: %v", err)
	}
	if !repo.targets[11].IsRoot {
		t.Fatal("expected fid 11 inserted as root")
	}
	if !queue.backfills[11] {
		t.Fatal("expected root backfill enqueued for fid 11")
	}
}

func TestIsRootTarget_TracksPromotionAndRemoval(t *testing.T) {
	reg, _, _ := newTestRegistry()
	ctx := context.Background()

	reg.Add(ctx, 3, false)
	if reg.IsRootTarget(3) {
		t.Fatal("fid 3 should not be root yet")
	}
	if err := reg.PromoteToRoot(ctx, 3); err != nil {
		t.Fatalf("PromoteToRoot: %v", err)
	}
	if !reg.IsRootTarget(3) {
		t.Fatal("expected fid 3 to be root after promotion")
	}
	if err := reg.Remove(ctx, 3); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if reg.IsRootTarget(3) {
		t.Fatal("expected fid 3 dropped from root cache after Remove")
	}
}

func TestMemorySetCache_ReplaceIsAtomicSwap(t *testing.T) {
	c := NewMemorySetCache()
	c.Add(1)
	c.Add(2)
	c.Replace([]uint64{3, 4})
	if c.Contains(1) || c.Contains(2) {
		t.Fatal("expected old members gone after Replace")
	}
	if !c.Contains(3) || !c.Contains(4) {
		t.Fatal("expected new members present after Replace")
	}
}
