// Package resolver maps a mod version's pinned dependencies onto concrete
// versions usable with a given game version.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"modcatalog/catalog"
	"modcatalog/db"
)

// ErrUnresolved is matched by every UnresolvedError.
var ErrUnresolved = errors.New("unresolved dependency")

// UnresolvedError names the dependency slot that has no usable version.
type UnresolvedError struct {
	VersionID     uint
	DependencyID  uint
	GameVersionID uint
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("mod version %d: dependency %d has no acceptable release for game version %d",
		e.VersionID, e.DependencyID, e.GameVersionID)
}

func (e *UnresolvedError) Unwrap() error { return ErrUnresolved }

// Source is what the resolver reads. catalog.Store satisfies it for write
// paths, cache.Cache for read paths.
type Source interface {
	ModVersion(ctx context.Context, id uint) (*db.ModVersion, error)
	VersionsOfMod(ctx context.Context, modID uint) ([]db.ModVersion, error)
	Mod(ctx context.Context, id uint) (*db.Mod, error)
	DefaultGameVersion(ctx context.Context, game string) (*db.GameVersion, error)
}

// StatusSet is the set of statuses a resolved dependency may have.
type StatusSet []db.Status

var (
	// VerifiedOnly is used when checking whether a version may be verified.
	VerifiedOnly = StatusSet{db.StatusVerified}
	// Listed also accepts versions still waiting for review.
	Listed = StatusSet{db.StatusVerified, db.StatusUnverified}
)

// Has reports whether st is acceptable.
func (s StatusSet) Has(st db.Status) bool {
	return slices.Contains(s, st)
}

// Resolver resolves one level of dependencies.
type Resolver struct {
	src Source
}

// New builds a resolver reading from src.
func New(src Source) *Resolver {
	return &Resolver{src: src}
}

// Resolve returns, for each dependency slot of v in order, the pinned version
// or its newest caret-compatible successor that supports target and has an
// acceptable status. Any slot without a candidate fails the whole resolution
// with an *UnresolvedError.
func (r *Resolver) Resolve(ctx context.Context, v *db.ModVersion, target uint, acceptable StatusSet) ([]db.ModVersion, error) {
	out := make([]db.ModVersion, 0, len(v.DependencyIDs))
	for _, depID := range v.DependencyIDs {
		dep, err := r.resolveSlot(ctx, depID, target, acceptable)
		if err != nil {
			return nil, err
		}
		if dep == nil {
			return nil, &UnresolvedError{VersionID: v.ID, DependencyID: depID, GameVersionID: target}
		}
		out = append(out, *dep)
	}
	return out, nil
}

func (r *Resolver) resolveSlot(ctx context.Context, depID, target uint, acceptable StatusSet) (*db.ModVersion, error) {
	dep, err := r.src.ModVersion(ctx, depID)
	if errors.Is(err, catalog.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if dep.Supports(target) && acceptable.Has(dep.Status) {
		return dep, nil
	}

	siblings, err := r.src.VersionsOfMod(ctx, dep.ModID)
	if err != nil {
		return nil, err
	}
	var best *db.ModVersion
	for i := range siblings {
		s := &siblings[i]
		if s.ID == dep.ID || !s.Supports(target) || !acceptable.Has(s.Status) {
			continue
		}
		if !catalog.CaretMatch(dep.SemanticVersion, s.SemanticVersion) {
			continue
		}
		if best == nil || catalog.CompareSemver(s.SemanticVersion, best.SemanticVersion) > 0 {
			best = s
		}
	}
	if best == nil {
		return nil, nil
	}
	found := *best
	return &found, nil
}

// ResolveDefault resolves against the default game version of v's game and
// returns that game version's id alongside the dependencies.
func (r *Resolver) ResolveDefault(ctx context.Context, v *db.ModVersion, acceptable StatusSet) (uint, []db.ModVersion, error) {
	mod, err := r.src.Mod(ctx, v.ModID)
	if err != nil {
		return 0, nil, err
	}
	gv, err := r.src.DefaultGameVersion(ctx, mod.GameName)
	if err != nil {
		return 0, nil, err
	}
	deps, err := r.Resolve(ctx, v, gv.ID, acceptable)
	return gv.ID, deps, err
}

// CheckVerifiable fails unless every dependency of v resolves to a verified
// version for every game version v supports.
func (r *Resolver) CheckVerifiable(ctx context.Context, v *db.ModVersion) error {
	for _, gvID := range v.SupportedGameVersionIDs {
		if _, err := r.Resolve(ctx, v, gvID, VerifiedOnly); err != nil {
			return err
		}
	}
	return nil
}
