// Package proposals gates edits to catalog entities behind moderator review.
// A proposal is applied at most once: its pending state is claimed with a
// conditional update in the same transaction that merges the fields.
package proposals

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/datatypes"

	"modcatalog/cache"
	"modcatalog/catalog"
	"modcatalog/db"
	"modcatalog/identity"
	"modcatalog/notify"
	"modcatalog/resolver"
)

// Reader serves the read side of the queue, usually the cache.
type Reader interface {
	Proposal(ctx context.Context, id uint) (*db.EditProposal, error)
	PendingProposals(ctx context.Context, limit int) ([]db.EditProposal, error)
}

// Queue owns edit proposals.
type Queue struct {
	store       *catalog.Store
	reads       Reader
	cache       cache.Refresher
	events      notify.Publisher
	log         *zap.SugaredLogger
	concurrency int
}

// New builds a queue. reads may be nil to read straight from the store.
// concurrency bounds the workers of bulk operations.
func New(store *catalog.Store, reads Reader, refresher cache.Refresher, events notify.Publisher, log *zap.SugaredLogger, concurrency int) *Queue {
	if reads == nil {
		reads = store
	}
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Queue{
		store:       store,
		reads:       reads,
		cache:       refresher,
		events:      events,
		log:         log,
		concurrency: concurrency,
	}
}

func checkPatch(target catalog.Target, patch catalog.Patch) error {
	if patch == nil || patch.Empty() {
		return fmt.Errorf("%w: no fields to change on %s", catalog.ErrValidation, target)
	}
	if patch.Table() != target.Table {
		return fmt.Errorf("%w: %s patch cannot target %s", catalog.ErrValidation, patch.Table(), target)
	}
	return nil
}

// Propose queues patch against target on behalf of submitter.
func (q *Queue) Propose(ctx context.Context, submitter identity.Actor, target catalog.Target, patch catalog.Patch) (*db.EditProposal, error) {
	if err := checkPatch(target, patch); err != nil {
		return nil, err
	}
	owner, err := q.store.Owner(ctx, target)
	if err != nil {
		return nil, err
	}
	if !owner.HasAuthor(submitter.ID) {
		if err := identity.Require(submitter, identity.Approve(owner.GameName), identity.Admin()); err != nil {
			return nil, err
		}
	}
	// A patch the target could never hold would only wait to be denied.
	if err := q.store.CheckPatch(ctx, target, patch); err != nil {
		return nil, err
	}
	raw, err := catalog.EncodePatch(patch)
	if err != nil {
		return nil, err
	}

	p := &db.EditProposal{
		SubmitterID:    submitter.ID,
		TargetTable:    target.Table,
		TargetID:       target.ID,
		ProposedFields: datatypes.JSON(raw),
	}
	if err := q.store.CreateProposal(ctx, p); err != nil {
		return nil, err
	}

	q.cache.Refresh(cache.EditProposals)
	q.events.Publish(notify.Event{Kind: notify.KindEditProposal, Action: notify.ActionNew, ActorID: submitter.ID, SubjectID: p.ID})
	q.log.Infow("Edit proposed", zap.Uint("proposal_id", p.ID), zap.Stringer("target", target), zap.Uint("submitter_id", submitter.ID))
	return p, nil
}

// Approve applies a pending proposal: its fields overwrite the target's
// current values, the target becomes verified and the proposal is marked
// approved by approver. Fails with catalog.ErrAlreadyResolved when the
// proposal was resolved before, including by a concurrent call.
func (q *Queue) Approve(ctx context.Context, approver identity.Actor, id uint) (*db.EditProposal, error) {
	p, target, patch, err := q.prepare(ctx, approver, id)
	if err != nil {
		return nil, err
	}

	err = q.store.Transaction(ctx, func(tx *catalog.Store) error {
		claimed, err := tx.ResolveProposal(ctx, id, true, approver.ID)
		if err != nil {
			return err
		}
		if !claimed {
			return fmt.Errorf("%w: edit proposal %d", catalog.ErrAlreadyResolved, id)
		}
		_, err = applyPatch(ctx, tx, target, patch, &approver.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	q.cache.Refresh(cache.EditProposals, cache.KeyForTable(target.Table))
	q.events.Publish(notify.Event{Kind: notify.KindEditProposal, Action: notify.ActionApproved, ActorID: approver.ID, SubjectID: id})
	q.log.Infow("Edit approved", zap.Uint("proposal_id", id), zap.Stringer("target", target), zap.Uint("approver_id", approver.ID))
	return q.resolved(ctx, p, true, approver.ID), nil
}

// Deny marks a pending proposal rejected and leaves the target untouched.
func (q *Queue) Deny(ctx context.Context, approver identity.Actor, id uint) (*db.EditProposal, error) {
	p, target, _, err := q.prepare(ctx, approver, id)
	if err != nil {
		return nil, err
	}
	claimed, err := q.store.ResolveProposal(ctx, id, false, approver.ID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		return nil, fmt.Errorf("%w: edit proposal %d", catalog.ErrAlreadyResolved, id)
	}

	q.cache.Refresh(cache.EditProposals)
	q.events.Publish(notify.Event{Kind: notify.KindEditProposal, Action: notify.ActionRejected, ActorID: approver.ID, SubjectID: id})
	q.log.Infow("Edit denied", zap.Uint("proposal_id", id), zap.Stringer("target", target), zap.Uint("approver_id", approver.ID))
	return q.resolved(ctx, p, false, approver.ID), nil
}

// prepare loads the proposal, rejects already resolved ones early and checks
// that approver moderates the target's game. The authoritative pending check
// is the conditional update done afterwards.
func (q *Queue) prepare(ctx context.Context, approver identity.Actor, id uint) (*db.EditProposal, catalog.Target, catalog.Patch, error) {
	p, err := q.store.Proposal(ctx, id)
	if err != nil {
		return nil, catalog.Target{}, nil, err
	}
	target := catalog.Target{Table: p.TargetTable, ID: p.TargetID}
	if !p.IsPending() {
		return nil, target, nil, fmt.Errorf("%w: edit proposal %d", catalog.ErrAlreadyResolved, id)
	}
	owner, err := q.store.Owner(ctx, target)
	if err != nil {
		return nil, target, nil, err
	}
	if err := identity.Require(approver, identity.Approve(owner.GameName), identity.Admin()); err != nil {
		return nil, target, nil, err
	}
	patch, err := catalog.DecodePatch(p)
	if err != nil {
		return nil, target, nil, err
	}
	return p, target, patch, nil
}

func (q *Queue) resolved(ctx context.Context, p *db.EditProposal, approved bool, approverID uint) *db.EditProposal {
	if fresh, err := q.store.Proposal(ctx, p.ID); err == nil {
		return fresh
	}
	p.Approved = &approved
	p.ApproverID = &approverID
	return p
}

// Edit applies patch directly when target is not verified and actor may
// write it (an author, or a moderator of the mod's game); otherwise it queues
// a proposal. Callers learn which happened from the returned Change.
func (q *Queue) Edit(ctx context.Context, actor identity.Actor, target catalog.Target, patch catalog.Patch) (Change, error) {
	if err := checkPatch(target, patch); err != nil {
		return nil, err
	}
	owner, err := q.store.Owner(ctx, target)
	if err != nil {
		return nil, err
	}
	canWrite := owner.HasAuthor(actor.ID) || actor.Can(identity.Approve(owner.GameName))

	var applied *Applied
	if canWrite {
		err = q.store.Transaction(ctx, func(tx *catalog.Store) error {
			status, err := tx.Status(ctx, target)
			if err != nil {
				return err
			}
			switch status {
			case db.StatusVerified:
				return nil
			case db.StatusRemoved:
				return fmt.Errorf("%w: %s is removed", catalog.ErrInvalidTransition, target)
			}
			a, err := applyPatch(ctx, tx, target, patch, nil)
			if err != nil {
				return err
			}
			applied = &a
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	if applied != nil {
		q.cache.Refresh(cache.KeyForTable(target.Table))
		q.log.Infow("Edit applied directly", zap.Stringer("target", target), zap.Uint("actor_id", actor.ID))
		return *applied, nil
	}

	p, err := q.Propose(ctx, actor, target, patch)
	if err != nil {
		return nil, err
	}
	return Proposed{Proposal: p}, nil
}

// applyPatch merges patch onto the current target row inside tx. With a
// non-nil approverID the row also becomes verified, which for a mod version
// requires its dependencies to be verified and its verified dependants to
// keep resolving.
func applyPatch(ctx context.Context, tx *catalog.Store, target catalog.Target, patch catalog.Patch, approverID *uint) (Applied, error) {
	switch p := patch.(type) {
	case catalog.ModPatch:
		m, err := tx.Mod(ctx, target.ID)
		if err != nil {
			return Applied{}, err
		}
		if approverID != nil {
			if m.Status == db.StatusRemoved {
				return Applied{}, fmt.Errorf("%w: %s is removed", catalog.ErrInvalidTransition, target)
			}
			m.Status = db.StatusVerified
			m.LastApprovedBy = approverID
		}
		p.ApplyTo(m)
		if err := tx.SaveMod(ctx, m); err != nil {
			return Applied{}, err
		}
		return Applied{Target: target, Mod: m}, nil

	case catalog.VersionPatch:
		v, err := tx.ModVersion(ctx, target.ID)
		if err != nil {
			return Applied{}, err
		}
		p.ApplyTo(v)
		if approverID != nil {
			if v.Status == db.StatusRemoved {
				return Applied{}, fmt.Errorf("%w: %s is removed", catalog.ErrInvalidTransition, target)
			}
			v.Status = db.StatusVerified
			v.LastApprovedBy = approverID
			if err := resolver.New(tx).CheckVerifiable(ctx, v); err != nil {
				if errors.Is(err, resolver.ErrUnresolved) {
					return Applied{}, fmt.Errorf("%w: %w", catalog.ErrValidation, err)
				}
				return Applied{}, err
			}
		}
		if err := tx.SaveModVersion(ctx, v); err != nil {
			return Applied{}, err
		}
		if approverID != nil {
			if err := checkDependants(ctx, tx, v); err != nil {
				return Applied{}, err
			}
		}
		return Applied{Target: target, Version: v}, nil

	default:
		return Applied{}, fmt.Errorf("%w: unsupported patch %T", catalog.ErrValidation, patch)
	}
}

// checkDependants fails with catalog.ErrInvalidTransition when the saved v
// leaves verified versions whose dependencies no longer resolve. Dependants
// can reach v as a successor of any release of its mod, so the dependants of
// every sibling are checked.
func checkDependants(ctx context.Context, tx *catalog.Store, v *db.ModVersion) error {
	siblings, err := tx.VersionsOfMod(ctx, v.ModID)
	if err != nil {
		return err
	}
	r := resolver.New(tx)
	checked := map[uint]bool{}
	broken := 0
	for _, s := range siblings {
		dependants, err := tx.Dependants(ctx, s.ID)
		if err != nil {
			return err
		}
		for _, d := range dependants {
			if checked[d.ID] || d.Status != db.StatusVerified {
				continue
			}
			checked[d.ID] = true
			if err := r.CheckVerifiable(ctx, &d); err != nil {
				if !errors.Is(err, resolver.ErrUnresolved) {
					return err
				}
				broken++
			}
		}
	}
	if broken > 0 {
		return fmt.Errorf("%w: %s would leave %d verified dependants unresolved",
			catalog.ErrInvalidTransition, catalog.VersionTarget(v.ID), broken)
	}
	return nil
}

// Get returns a proposal from the read side.
func (q *Queue) Get(ctx context.Context, id uint) (*db.EditProposal, error) {
	return q.reads.Proposal(ctx, id)
}

// Pending lists unresolved proposals oldest first.
func (q *Queue) Pending(ctx context.Context, limit int) ([]db.EditProposal, error) {
	return q.reads.PendingProposals(ctx, limit)
}
