// Package revocation withdraws verification from a mod version and from
// everything that transitively depends on it.
package revocation

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"modcatalog/cache"
	"modcatalog/catalog"
	"modcatalog/db"
	"modcatalog/identity"
	"modcatalog/notify"
)

// ErrCascadeLimit aborts a cascade that visits more versions than allowed.
var ErrCascadeLimit = errors.New("revocation cascade limit exceeded")

// DefaultLimit bounds the worklist when no limit is configured.
const DefaultLimit = 10000

// Cascade runs revocations.
type Cascade struct {
	store  *catalog.Store
	cache  cache.Refresher
	events notify.Publisher
	log    *zap.SugaredLogger
	limit  int
}

// New builds a cascade; limit <= 0 selects DefaultLimit.
func New(store *catalog.Store, refresher cache.Refresher, events notify.Publisher, log *zap.SugaredLogger, limit int) *Cascade {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &Cascade{store: store, cache: refresher, events: events, log: log, limit: limit}
}

// Revoke flips id and every transitive dependant from verified to unverified
// and returns the ids it changed. Revoking a version that is not verified
// changes nothing and returns an empty set.
func (c *Cascade) Revoke(ctx context.Context, actor identity.Actor, id uint) ([]uint, error) {
	return c.revoke(ctx, actor, id, true)
}

// RevokeGated is the guarded entry point: when the version has verified
// direct dependants and allowCascade is false it fails with a
// *catalog.CascadeBlockedError carrying the dependant count.
func (c *Cascade) RevokeGated(ctx context.Context, actor identity.Actor, id uint, allowCascade bool) ([]uint, error) {
	return c.revoke(ctx, actor, id, allowCascade)
}

func (c *Cascade) revoke(ctx context.Context, actor identity.Actor, id uint, allowCascade bool) ([]uint, error) {
	if err := c.authorize(ctx, actor, id); err != nil {
		return nil, err
	}

	var revoked []uint
	err := c.store.Transaction(ctx, func(tx *catalog.Store) error {
		if !allowCascade {
			if err := Gate(ctx, tx, id); err != nil {
				return err
			}
		}
		var err error
		revoked, err = c.Run(ctx, tx, actor.ID, id)
		return err
	})
	if err != nil {
		return nil, err
	}

	c.Announce(actor.ID, revoked)
	return revoked, nil
}

func (c *Cascade) authorize(ctx context.Context, actor identity.Actor, id uint) error {
	v, err := c.store.ModVersion(ctx, id)
	if err != nil {
		return err
	}
	mod, err := c.store.Mod(ctx, v.ModID)
	if err != nil {
		return err
	}
	return identity.Require(actor, identity.Approve(mod.GameName), identity.Admin())
}

// Gate fails with a *catalog.CascadeBlockedError when id is verified and has
// verified direct dependants.
func Gate(ctx context.Context, tx *catalog.Store, id uint) error {
	v, err := tx.ModVersion(ctx, id)
	if err != nil {
		return err
	}
	if v.Status != db.StatusVerified {
		return nil
	}
	n, err := liveDependants(ctx, tx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return &catalog.CascadeBlockedError{VersionID: id, DependantCount: n}
	}
	return nil
}

func liveDependants(ctx context.Context, tx *catalog.Store, id uint) (int, error) {
	deps, err := tx.Dependants(ctx, id)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, d := range deps {
		if d.Status == db.StatusVerified {
			n++
		}
	}
	return n, nil
}

// Run performs the cascade inside tx without notifying anyone. Each version
// is flipped with a conditional update, so only versions that were still
// verified are reported and explored further; the visited set keeps a
// dependency cycle from being walked twice.
func (c *Cascade) Run(ctx context.Context, tx *catalog.Store, actorID, id uint) ([]uint, error) {
	queue := []uint{id}
	visited := map[uint]bool{id: true}
	var revoked []uint
	steps := 0

	for len(queue) > 0 {
		if steps >= c.limit {
			return nil, fmt.Errorf("%w: visited %d versions from %d", ErrCascadeLimit, steps, id)
		}
		steps++
		cur := queue[0]
		queue = queue[1:]

		changed, err := tx.TransitionStatus(ctx, db.TableModVersions, cur,
			[]db.Status{db.StatusVerified}, db.StatusUnverified, &actorID)
		if err != nil {
			return nil, err
		}
		if !changed {
			continue
		}
		revoked = append(revoked, cur)

		dependants, err := tx.Dependants(ctx, cur)
		if err != nil {
			return nil, err
		}
		for _, d := range dependants {
			if !visited[d.ID] {
				visited[d.ID] = true
				queue = append(queue, d.ID)
			}
		}
	}
	return revoked, nil
}

// Announce refreshes the cache and publishes one Revoked event per id. Call
// it after the transaction that ran the cascade has committed.
func (c *Cascade) Announce(actorID uint, revoked []uint) {
	if len(revoked) == 0 {
		return
	}
	c.cache.Refresh(cache.ModVersions)
	for _, id := range revoked {
		c.events.Publish(notify.Event{
			Kind:      notify.KindModVersion,
			Action:    notify.ActionRevoked,
			ActorID:   actorID,
			SubjectID: id,
		})
	}
	c.log.Infow("Revoked mod versions", zap.Uint("actor_id", actorID), zap.Uints("ids", revoked))
}

// Dependants lists the direct dependants of id.
func (c *Cascade) Dependants(ctx context.Context, id uint) ([]db.ModVersion, error) {
	if _, err := c.store.ModVersion(ctx, id); err != nil {
		return nil, err
	}
	return c.store.Dependants(ctx, id)
}
