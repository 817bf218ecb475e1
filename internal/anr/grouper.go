package anr

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/danr/processor/internal/errorutil"
	"github.com/danr/processor/internal/stacktrace"
)

type (
	// Result describes what happened to a processed report.
	Result struct {
		ANR          ANR   `json:"anr"`
		Duplicate    bool  `json:"duplicate"`
		Group        Group `json:"group"`
		GroupCreated bool  `json:"groupCreated"`
	}

	// Notifier is told about group changes once they are persisted.
	Notifier interface {
		GroupCreated(ctx context.Context, g Group, a ANR) error
		ANRAttached(ctx context.Context, g Group, a ANR, similarity float64) error
	}

	Grouper struct {
		repo     Repository
		notifier Notifier
		now      func() time.Time

		// mu serializes the find-or-create sequence so two new ANRs with the
		// same trace can't create two groups.
		mu sync.Mutex
	}

	Option func(*Grouper)
)

func WithNotifier(n Notifier) Option {
	return func(g *Grouper) {
		g.notifier = n
	}
}

func WithClock(now func() time.Time) Option {
	return func(g *Grouper) {
		g.now = now
	}
}

func NewGrouper(repo Repository, opts ...Option) *Grouper {
	g := &Grouper{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

func newID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// Process deduplicates a report against known ANRs and assigns new ones to a group.
func (g *Grouper) Process(ctx context.Context, r Report) (Result, error) {
	if r.MainThread == nil || len(r.MainThread.StackTrace) == 0 {
		return Result{}, fmt.Errorf("anr: %w: main thread data is required", errorutil.ErrValidation)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	hash := stacktrace.Hash(r.MainThread.StackTrace)
	at := r.occurredAt(g.now())

	existing, err := g.repo.ANRByHash(ctx, hash)
	switch {
	case err == nil:
		return g.recordOccurrence(ctx, existing, at)
	case !errors.Is(err, errorutil.ErrNotFound):
		return Result{}, err
	}

	a := ANR{
		AllThreads:      r.AllThreads,
		AppInfo:         r.AppInfo,
		DeviceInfo:      r.DeviceInfo,
		Duration:        r.Duration,
		FirstOccurrence: at,
		ID:              newID(),
		LastOccurrence:  at,
		MainThread:      *r.MainThread,
		OccurrenceCount: 1,
		StackTraceHash:  hash,
		Timestamp:       r.Timestamp,
	}
	if err := g.repo.InsertANR(ctx, a); err != nil {
		return Result{}, err
	}
	return g.assign(ctx, a, at)
}

func (g *Grouper) recordOccurrence(ctx context.Context, a ANR, at time.Time) (Result, error) {
	a.OccurrenceCount++
	if at.After(a.LastOccurrence) {
		a.LastOccurrence = at
	}
	if err := g.repo.UpdateANR(ctx, a); err != nil {
		return Result{}, err
	}
	res := Result{ANR: a, Duplicate: true}
	if a.GroupID != "" {
		group, err := g.repo.Group(ctx, a.GroupID)
		if err != nil && !errors.Is(err, errorutil.ErrNotFound) {
			return Result{}, err
		}
		res.Group = group
	}
	return res, nil
}

func (g *Grouper) assign(ctx context.Context, a ANR, at time.Time) (Result, error) {
	group, similarity, err := g.findGroup(ctx, a)
	if err != nil {
		return Result{}, err
	}

	if group == nil {
		created := Group{
			ANRIDs:            []string{a.ID},
			Count:             1,
			FirstSeen:         at,
			ID:                newID(),
			LastSeen:          at,
			Similarity:        100,
			StackTraceHash:    a.StackTraceHash,
			StackTracePattern: stacktrace.ExtractPattern(a.MainThread.StackTrace),
		}
		if err := g.repo.InsertGroup(ctx, created); err != nil {
			return Result{}, err
		}
		a.GroupID = created.ID
		if err := g.repo.UpdateANR(ctx, a); err != nil {
			return Result{}, err
		}
		if g.notifier != nil {
			g.notificationFailed(ctx, created, g.notifier.GroupCreated(ctx, created, a))
		}
		return Result{ANR: a, Group: created, GroupCreated: true}, nil
	}

	group.addMember(a.ID, at)
	if err := g.repo.UpdateGroup(ctx, *group); err != nil {
		return Result{}, err
	}
	a.GroupID = group.ID
	if err := g.repo.UpdateANR(ctx, a); err != nil {
		return Result{}, err
	}
	if g.notifier != nil {
		g.notificationFailed(ctx, *group, g.notifier.ANRAttached(ctx, *group, a, similarity))
	}
	return Result{ANR: a, Group: *group}, nil
}

// notificationFailed reports a notifier error. The ANR and its group are
// already stored at this point, so the report itself still succeeds.
func (g *Grouper) notificationFailed(ctx context.Context, group Group, err error) {
	if err == nil {
		return
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
	}
	log.Error().Err(err).Str("group_id", group.ID).Msg("anr: can't notify group change")
}

// findGroup returns the group whose representative hash matches, or else the
// first group in creation order whose representative is similar enough.
func (g *Grouper) findGroup(ctx context.Context, a ANR) (*Group, float64, error) {
	group, err := g.repo.GroupByHash(ctx, a.StackTraceHash)
	if err == nil {
		return &group, 100, nil
	}
	if !errors.Is(err, errorutil.ErrNotFound) {
		return nil, 0, err
	}

	groups, err := g.repo.Groups(ctx)
	if err != nil {
		return nil, 0, err
	}
	for i := range groups {
		if len(groups[i].ANRIDs) == 0 {
			continue
		}
		representative, err := g.repo.ANR(ctx, groups[i].ANRIDs[0])
		if err != nil {
			if errors.Is(err, errorutil.ErrNotFound) {
				continue
			}
			return nil, 0, err
		}
		similarity := stacktrace.JaccardSimilarity(a.MainThread.StackTrace, representative.MainThread.StackTrace)
		if similarity >= stacktrace.SimilarityThreshold {
			return &groups[i], similarity, nil
		}
	}
	return nil, 0, nil
}

// Delete removes an ANR and drops its group once the group has no members left.
func (g *Grouper) Delete(ctx context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	a, err := g.repo.ANR(ctx, id)
	if err != nil {
		return err
	}
	if err := g.repo.DeleteANR(ctx, id); err != nil {
		return err
	}
	if a.GroupID == "" {
		return nil
	}
	group, err := g.repo.Group(ctx, a.GroupID)
	if err != nil {
		if errors.Is(err, errorutil.ErrNotFound) {
			return nil
		}
		return err
	}
	group.removeMember(id)
	if group.Count == 0 {
		return g.repo.DeleteGroup(ctx, group.ID)
	}
	return g.repo.UpdateGroup(ctx, group)
}

func (g *Grouper) ANR(ctx context.Context, id string) (ANR, error) {
	return g.repo.ANR(ctx, id)
}

func (g *Grouper) ANRs(ctx context.Context, f Filter) ([]ANR, error) {
	return g.repo.ANRs(ctx, f)
}

func (g *Grouper) Groups(ctx context.Context) ([]Group, error) {
	return g.repo.Groups(ctx)
}

// GroupMembers returns the group and its ANRs in membership order.
func (g *Grouper) GroupMembers(ctx context.Context, groupID string) (Group, []ANR, error) {
	group, err := g.repo.Group(ctx, groupID)
	if err != nil {
		return Group{}, nil, err
	}
	members := make([]ANR, 0, len(group.ANRIDs))
	for _, id := range group.ANRIDs {
		a, err := g.repo.ANR(ctx, id)
		if err != nil {
			if errors.Is(err, errorutil.ErrNotFound) {
				continue
			}
			return Group{}, nil, err
		}
		members = append(members, a)
	}
	return group, members, nil
}
