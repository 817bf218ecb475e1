package anr

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/danr/processor/internal/errorutil"
)

// Repository persists ANRs and groups. Lookups of unknown records return an
// error wrapping errorutil.ErrNotFound.
type Repository interface {
	ANR(ctx context.Context, id string) (ANR, error)
	ANRByHash(ctx context.Context, hash string) (ANR, error)
	ANRs(ctx context.Context, f Filter) ([]ANR, error)
	InsertANR(ctx context.Context, a ANR) error
	UpdateANR(ctx context.Context, a ANR) error
	DeleteANR(ctx context.Context, id string) error

	Group(ctx context.Context, id string) (Group, error)
	GroupByHash(ctx context.Context, hash string) (Group, error)
	// Groups returns every group in creation order.
	Groups(ctx context.Context) ([]Group, error)
	InsertGroup(ctx context.Context, g Group) error
	UpdateGroup(ctx context.Context, g Group) error
	DeleteGroup(ctx context.Context, id string) error
}

// MemoryRepository keeps everything in process memory.
type MemoryRepository struct {
	anrs      *xsync.MapOf[string, ANR]
	anrHashes *xsync.MapOf[string, string]

	groups      *xsync.MapOf[string, Group]
	groupHashes *xsync.MapOf[string, string]

	mu         sync.Mutex
	groupOrder []string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		anrs:        xsync.NewMapOf[string, ANR](),
		anrHashes:   xsync.NewMapOf[string, string](),
		groups:      xsync.NewMapOf[string, Group](),
		groupHashes: xsync.NewMapOf[string, string](),
	}
}

func notFound(kind, key string) error {
	return fmt.Errorf("anr: %w: %s %s", errorutil.ErrNotFound, kind, key)
}

func copyANR(a ANR) ANR {
	a.AllThreads = append([]ThreadInfo(nil), a.AllThreads...)
	a.MainThread.StackTrace = append([]string(nil), a.MainThread.StackTrace...)
	return a
}

func copyGroup(g Group) Group {
	g.ANRIDs = append([]string(nil), g.ANRIDs...)
	return g
}

func (r *MemoryRepository) ANR(_ context.Context, id string) (ANR, error) {
	a, ok := r.anrs.Load(id)
	if !ok {
		return ANR{}, notFound("anr", id)
	}
	return copyANR(a), nil
}

func (r *MemoryRepository) ANRByHash(ctx context.Context, hash string) (ANR, error) {
	id, ok := r.anrHashes.Load(hash)
	if !ok {
		return ANR{}, notFound("anr with hash", hash)
	}
	return r.ANR(ctx, id)
}

func (r *MemoryRepository) ANRs(_ context.Context, f Filter) ([]ANR, error) {
	anrs := make([]ANR, 0, r.anrs.Size())
	r.anrs.Range(func(_ string, a ANR) bool {
		if f.Match(a) {
			anrs = append(anrs, copyANR(a))
		}
		return true
	})
	sort.SliceStable(anrs, func(i, j int) bool {
		return anrs[i].LastOccurrence.After(anrs[j].LastOccurrence)
	})
	return anrs, nil
}

func (r *MemoryRepository) InsertANR(_ context.Context, a ANR) error {
	if _, loaded := r.anrs.LoadOrStore(a.ID, copyANR(a)); loaded {
		return fmt.Errorf("anr: %w: anr %s already exists", errorutil.ErrDataIntegrity, a.ID)
	}
	r.anrHashes.Store(a.StackTraceHash, a.ID)
	return nil
}

func (r *MemoryRepository) UpdateANR(_ context.Context, a ANR) error {
	if _, ok := r.anrs.Load(a.ID); !ok {
		return notFound("anr", a.ID)
	}
	r.anrs.Store(a.ID, copyANR(a))
	return nil
}

func (r *MemoryRepository) DeleteANR(_ context.Context, id string) error {
	a, ok := r.anrs.LoadAndDelete(id)
	if !ok {
		return notFound("anr", id)
	}
	r.anrHashes.Compute(a.StackTraceHash, func(current string, loaded bool) (string, bool) {
		// only drop the index entry if it still points to the deleted ANR
		return current, !loaded || current == id
	})
	return nil
}

func (r *MemoryRepository) Group(_ context.Context, id string) (Group, error) {
	g, ok := r.groups.Load(id)
	if !ok {
		return Group{}, notFound("group", id)
	}
	return copyGroup(g), nil
}

func (r *MemoryRepository) GroupByHash(ctx context.Context, hash string) (Group, error) {
	id, ok := r.groupHashes.Load(hash)
	if !ok {
		return Group{}, notFound("group with hash", hash)
	}
	return r.Group(ctx, id)
}

func (r *MemoryRepository) Groups(_ context.Context) ([]Group, error) {
	r.mu.Lock()
	order := append([]string(nil), r.groupOrder...)
	r.mu.Unlock()

	groups := make([]Group, 0, len(order))
	for _, id := range order {
		if g, ok := r.groups.Load(id); ok {
			groups = append(groups, copyGroup(g))
		}
	}
	return groups, nil
}

func (r *MemoryRepository) InsertGroup(_ context.Context, g Group) error {
	if _, loaded := r.groups.LoadOrStore(g.ID, copyGroup(g)); loaded {
		return fmt.Errorf("anr: %w: group %s already exists", errorutil.ErrDataIntegrity, g.ID)
	}
	r.groupHashes.LoadOrStore(g.StackTraceHash, g.ID)
	r.mu.Lock()
	r.groupOrder = append(r.groupOrder, g.ID)
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) UpdateGroup(_ context.Context, g Group) error {
	if _, ok := r.groups.Load(g.ID); !ok {
		return notFound("group", g.ID)
	}
	r.groups.Store(g.ID, copyGroup(g))
	return nil
}

func (r *MemoryRepository) DeleteGroup(_ context.Context, id string) error {
	g, ok := r.groups.LoadAndDelete(id)
	if !ok {
		return notFound("group", id)
	}
	r.groupHashes.Compute(g.StackTraceHash, func(current string, loaded bool) (string, bool) {
		return current, !loaded || current == id
	})
	r.mu.Lock()
	for i, gid := range r.groupOrder {
		if gid == id {
			r.groupOrder = append(r.groupOrder[:i], r.groupOrder[i+1:]...)
			break
		}
	}
	r.mu.Unlock()
	return nil
}
