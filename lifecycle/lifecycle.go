// Package lifecycle moves mods and mod versions between the private,
// unverified, verified and removed states.
//
//	private ──submit──▶ unverified ──approve──▶ verified
//	                        │  ▲                    │
//	                        │  └──────revoke────────┘
//	                        └──remove──▶ removed ◀──remove──┘
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"modcatalog/artifacts"
	"modcatalog/cache"
	"modcatalog/catalog"
	"modcatalog/db"
	"modcatalog/identity"
	"modcatalog/notify"
	"modcatalog/resolver"
	"modcatalog/revocation"
)

// Machine performs lifecycle transitions.
type Machine struct {
	store     *catalog.Store
	cache     cache.Refresher
	events    notify.Publisher
	cascade   *revocation.Cascade
	artifacts artifacts.Storer
	log       *zap.SugaredLogger
}

// New builds a lifecycle machine. storer may be nil when archives are not accepted.
func New(store *catalog.Store, refresher cache.Refresher, events notify.Publisher, cascade *revocation.Cascade, storer artifacts.Storer, log *zap.SugaredLogger) *Machine {
	return &Machine{
		store:     store,
		cache:     refresher,
		events:    events,
		cascade:   cascade,
		artifacts: storer,
		log:       log,
	}
}

// CreateMod stores a new private mod authored by actor.
func (m *Machine) CreateMod(ctx context.Context, actor identity.Actor, mod *db.Mod) error {
	if err := identity.Require(actor, identity.Post(mod.GameName), identity.Admin()); err != nil {
		return err
	}
	if !slices.Contains(mod.AuthorIDs, actor.ID) {
		mod.AuthorIDs = append(mod.AuthorIDs, actor.ID)
	}
	mod.Status = db.StatusPrivate
	if err := m.store.CreateMod(ctx, mod); err != nil {
		return err
	}
	m.cache.Refresh(cache.Mods)
	m.log.Infow("Mod created", zap.Uint("mod_id", mod.ID), zap.String("name", mod.Name), zap.Uint("actor_id", actor.ID))
	return nil
}

// CreateVersion stores a new private version. When archive is not nil it is
// handed to the artifact store and the returned descriptor is recorded.
func (m *Machine) CreateVersion(ctx context.Context, actor identity.Actor, v *db.ModVersion, archive io.Reader) error {
	mod, err := m.store.Mod(ctx, v.ModID)
	if err != nil {
		return err
	}
	if err := requireAuthor(actor, mod); err != nil {
		return err
	}
	if mod.Status == db.StatusRemoved {
		return fmt.Errorf("%w: mod %d is removed", catalog.ErrInvalidTransition, mod.ID)
	}
	v.AuthorID = actor.ID
	v.Status = db.StatusPrivate
	// Reject a bad row before the archive lands on disk.
	if err := m.store.ValidateModVersion(ctx, v); err != nil {
		return err
	}
	if archive != nil {
		if m.artifacts == nil {
			return fmt.Errorf("%w: no artifact store configured", catalog.ErrValidation)
		}
		desc, err := m.artifacts.StoreArchive(ctx, archive)
		if err != nil {
			return fmt.Errorf("storing archive: %w", err)
		}
		v.Content = datatypes.NewJSONType(desc.Content)
		v.FileSize = desc.SizeBytes
	}
	if err := m.store.CreateModVersion(ctx, v); err != nil {
		return err
	}
	m.cache.Refresh(cache.ModVersions)
	m.log.Infow("Mod version created",
		zap.Uint("version_id", v.ID), zap.Uint("mod_id", v.ModID),
		zap.String("version", v.SemanticVersion), zap.Uint("actor_id", actor.ID))
	return nil
}

// Submit sends a private entity to review.
func (m *Machine) Submit(ctx context.Context, actor identity.Actor, target catalog.Target) error {
	owner, err := m.store.Owner(ctx, target)
	if err != nil {
		return err
	}
	if err := requireAuthor(actor, owner); err != nil {
		return err
	}
	changed, err := m.store.TransitionStatus(ctx, target.Table, target.ID,
		[]db.Status{db.StatusPrivate}, db.StatusUnverified, nil)
	if err != nil {
		return err
	}
	if !changed {
		return invalid(ctx, m.store, target, "submit")
	}
	m.cache.Refresh(cache.KeyForTable(target.Table))
	m.publish(target, notify.ActionNew, actor.ID)
	return nil
}

// SetStatus is the approval path. Only a freshly pending (unverified) entity
// may be verified or removed here; requesting unverified is refused because
// revocation has its own entry point.
func (m *Machine) SetStatus(ctx context.Context, actor identity.Actor, target catalog.Target, status db.Status) error {
	switch status {
	case db.StatusVerified, db.StatusRemoved:
	case db.StatusUnverified:
		return fmt.Errorf("%w: use revoke to unverify %s", catalog.ErrInvalidTransition, target)
	default:
		return fmt.Errorf("%w: cannot set %s to %q through approval", catalog.ErrInvalidTransition, target, status)
	}
	if err := m.requireModerator(ctx, actor, target); err != nil {
		return err
	}

	err := m.store.Transaction(ctx, func(tx *catalog.Store) error {
		if status == db.StatusVerified && target.Table == db.TableModVersions {
			if err := verifiable(ctx, tx, target.ID); err != nil {
				return err
			}
		}
		changed, err := tx.TransitionStatus(ctx, target.Table, target.ID,
			[]db.Status{db.StatusUnverified}, status, &actor.ID)
		if err != nil {
			return err
		}
		if !changed {
			return invalid(ctx, tx, target, "set "+string(status))
		}
		return nil
	})
	if err != nil {
		return err
	}

	m.cache.Refresh(cache.KeyForTable(target.Table))
	action := notify.ActionApproved
	if status == db.StatusRemoved {
		action = notify.ActionRejected
	}
	m.publish(target, action, actor.ID)
	m.log.Infow("Status changed", zap.Stringer("target", target), zap.String("status", string(status)), zap.Uint("actor_id", actor.ID))
	return nil
}

// verifiable checks inside tx that a version awaiting verification has every
// dependency verified for every game version it supports.
func verifiable(ctx context.Context, tx *catalog.Store, id uint) error {
	v, err := tx.ModVersion(ctx, id)
	if err != nil {
		return err
	}
	if v.Status != db.StatusUnverified {
		return fmt.Errorf("%w: mod version %d is %s, not unverified", catalog.ErrInvalidTransition, id, v.Status)
	}
	if err := resolver.New(tx).CheckVerifiable(ctx, v); err != nil {
		if errors.Is(err, resolver.ErrUnresolved) {
			return fmt.Errorf("%w: %w", catalog.ErrInvalidTransition, err)
		}
		return err
	}
	return nil
}

// Remove takes a verified or unverified entity out of the catalog. Removing a
// verified version first revokes it together with its dependants, which
// needs allowCascade when any dependant is verified.
func (m *Machine) Remove(ctx context.Context, actor identity.Actor, target catalog.Target, allowCascade bool) ([]uint, error) {
	if err := m.requireModerator(ctx, actor, target); err != nil {
		return nil, err
	}

	var revoked []uint
	err := m.store.Transaction(ctx, func(tx *catalog.Store) error {
		if target.Table == db.TableModVersions {
			if !allowCascade {
				if err := revocation.Gate(ctx, tx, target.ID); err != nil {
					return err
				}
			}
			var err error
			revoked, err = m.cascade.Run(ctx, tx, actor.ID, target.ID)
			if err != nil {
				return err
			}
		}
		changed, err := tx.TransitionStatus(ctx, target.Table, target.ID,
			[]db.Status{db.StatusUnverified, db.StatusVerified}, db.StatusRemoved, &actor.ID)
		if err != nil {
			return err
		}
		if !changed {
			return invalid(ctx, tx, target, "remove")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	m.cascade.Announce(actor.ID, revoked)
	m.cache.Refresh(cache.KeyForTable(target.Table))
	m.publish(target, notify.ActionRejected, actor.ID)
	return revoked, nil
}

func (m *Machine) requireModerator(ctx context.Context, actor identity.Actor, target catalog.Target) error {
	owner, err := m.store.Owner(ctx, target)
	if err != nil {
		return err
	}
	return identity.Require(actor, identity.Approve(owner.GameName), identity.Admin())
}

func requireAuthor(actor identity.Actor, mod *db.Mod) error {
	if mod.HasAuthor(actor.ID) || actor.IsAdmin() {
		return nil
	}
	return fmt.Errorf("%w: user %d is not an author of mod %d", catalog.ErrUnauthorized, actor.ID, mod.ID)
}

// invalid builds the InvalidTransition error for a refused conditional update,
// naming the status the entity actually had.
func invalid(ctx context.Context, store *catalog.Store, target catalog.Target, op string) error {
	status, err := store.Status(ctx, target)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot %s %s while %s", catalog.ErrInvalidTransition, op, target, status)
}

func (m *Machine) publish(target catalog.Target, action notify.Action, actorID uint) {
	kind := notify.KindModVersion
	if target.Table == db.TableMods {
		kind = notify.KindMod
	}
	m.events.Publish(notify.Event{Kind: kind, Action: action, ActorID: actorID, SubjectID: target.ID})
}
