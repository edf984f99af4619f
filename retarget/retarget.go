// Package retarget declares existing mod versions compatible with further
// game versions, one at a time or in bulk.
package retarget

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"modcatalog/cache"
	"modcatalog/catalog"
	"modcatalog/db"
	"modcatalog/identity"
	"modcatalog/proposals"
)

// Service moves mod versions between game versions of one game.
type Service struct {
	store       *catalog.Store
	queue       *proposals.Queue
	cache       cache.Refresher
	log         *zap.SugaredLogger
	concurrency int
}

// New builds the service. concurrency bounds LinkGameVersions workers.
func New(store *catalog.Store, queue *proposals.Queue, refresher cache.Refresher, log *zap.SugaredLogger, concurrency int) *Service {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Service{store: store, queue: queue, cache: refresher, log: log, concurrency: concurrency}
}

func (s *Service) sameGame(ctx context.Context, actor identity.Actor, a, b uint) (*db.GameVersion, *db.GameVersion, error) {
	ga, err := s.store.GameVersion(ctx, a)
	if err != nil {
		return nil, nil, err
	}
	gb, err := s.store.GameVersion(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	if ga.GameName != gb.GameName {
		return nil, nil, fmt.Errorf("%w: game versions %d and %d belong to different games", catalog.ErrValidation, a, b)
	}
	if err := identity.Require(actor, identity.Approve(ga.GameName), identity.Admin()); err != nil {
		return nil, nil, err
	}
	return ga, gb, nil
}

// LinkGameVersions declares a and b mutually compatible: every version
// supporting exactly one of them gains the other. Returns the ids of the
// versions that changed.
func (s *Service) LinkGameVersions(ctx context.Context, actor identity.Actor, a, b uint) ([]uint, error) {
	if a == b {
		return nil, nil
	}
	if _, _, err := s.sameGame(ctx, actor, a, b); err != nil {
		return nil, err
	}

	var updated []uint
	err := s.store.Transaction(ctx, func(tx *catalog.Store) error {
		for _, pair := range [][2]uint{{a, b}, {b, a}} {
			have, missing := pair[0], pair[1]
			versions, err := tx.VersionsSupporting(ctx, have)
			if err != nil {
				return err
			}
			for i := range versions {
				v := &versions[i]
				if v.Supports(missing) {
					continue
				}
				v.SupportedGameVersionIDs = append(v.SupportedGameVersionIDs, missing)
				if err := tx.SaveModVersion(ctx, v); err != nil {
					return err
				}
				updated = append(updated, v.ID)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if len(updated) > 0 {
		s.cache.Refresh(cache.ModVersions)
	}
	s.log.Infow("Game versions linked", zap.Uint("a", a), zap.Uint("b", b), zap.Int("updated", len(updated)))
	return updated, nil
}

// AddGameVersionID adds gameVersionID to a version's supported list. Verified
// versions get a proposal instead of a direct write. A version that already
// supports it comes back as Applied with nothing written.
func (s *Service) AddGameVersionID(ctx context.Context, actor identity.Actor, versionID, gameVersionID uint) (proposals.Change, error) {
	v, err := s.store.ModVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	target := catalog.VersionTarget(versionID)
	if v.Supports(gameVersionID) {
		return proposals.Applied{Target: target, Version: v}, nil
	}
	ids := append(slices.Clone([]uint(v.SupportedGameVersionIDs)), gameVersionID)
	return s.queue.Edit(ctx, actor, target, catalog.VersionPatch{
		SupportedGameVersionIDs: catalog.Some(ids),
	})
}

// Result reports a bulk re-target per version id.
type Result struct {
	Applied  []uint
	Proposed map[uint]uint // version id -> proposal id
	Failed   map[uint]error
}

// ExcludeAndRetarget picks, per mod, the highest verified version supporting
// src that is not in exclude, and adds dst to each of them. Items fail
// independently.
func (s *Service) ExcludeAndRetarget(ctx context.Context, actor identity.Actor, src, dst uint, exclude []uint) (Result, error) {
	if _, _, err := s.sameGame(ctx, actor, src, dst); err != nil {
		return Result{}, err
	}
	candidates, err := s.store.VersionsSupporting(ctx, src, db.StatusVerified)
	if err != nil {
		return Result{}, err
	}
	survivors := Survivors(candidates, exclude)

	res := Result{Proposed: make(map[uint]uint), Failed: make(map[uint]error)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, v := range survivors {
		g.Go(func() error {
			change, err := s.AddGameVersionID(gctx, actor, v.ID, dst)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				res.Failed[v.ID] = err
				return nil
			}
			switch c := change.(type) {
			case proposals.Applied:
				res.Applied = append(res.Applied, v.ID)
			case proposals.Proposed:
				res.Proposed[v.ID] = c.Proposal.ID
			}
			return nil
		})
	}
	_ = g.Wait()
	slices.Sort(res.Applied)

	s.log.Infow("Bulk re-target finished",
		zap.Uint("src", src), zap.Uint("dst", dst),
		zap.Int("applied", len(res.Applied)), zap.Int("proposed", len(res.Proposed)), zap.Int("failed", len(res.Failed)))
	return res, nil
}

// Survivors keeps one version per mod, the one with the highest semantic
// version (ties go to the newer row), skipping excluded ids. The result is
// ordered by mod id.
func Survivors(versions []db.ModVersion, exclude []uint) []db.ModVersion {
	best := make(map[uint]db.ModVersion)
	for _, v := range versions {
		if slices.Contains(exclude, v.ID) {
			continue
		}
		cur, ok := best[v.ModID]
		if !ok {
			best[v.ModID] = v
			continue
		}
		c := catalog.CompareSemver(v.SemanticVersion, cur.SemanticVersion)
		if c > 0 || (c == 0 && v.ID > cur.ID) {
			best[v.ModID] = v
		}
	}
	out := make([]db.ModVersion, 0, len(best))
	for _, v := range best {
		out = append(out, v)
	}
	slices.SortFunc(out, func(a, b db.ModVersion) int { return cmp.Compare(a.ModID, b.ModID) })
	return out
}
