package proposals

import (
	"context"
	"slices"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"modcatalog/identity"
)

// Action is what a bulk call does to each proposal.
type Action int

const (
	ActionApprove Action = iota
	ActionDeny
)

func (a Action) String() string {
	if a == ActionDeny {
		return "deny"
	}
	return "approve"
}

// BulkResult reports per-proposal outcomes. Both id lists are sorted.
type BulkResult struct {
	Succeeded []uint
	Failed    []uint
	Failures  map[uint]error
}

// Bulk resolves every id with action. One proposal failing never stops the
// others; its error is recorded in the result instead.
func (q *Queue) Bulk(ctx context.Context, approver identity.Actor, ids []uint, action Action) BulkResult {
	return q.BulkWithProgress(ctx, approver, ids, action, nil)
}

// BulkWithProgress is Bulk calling progress after each item. Calls to
// progress are serialized.
func (q *Queue) BulkWithProgress(ctx context.Context, approver identity.Actor, ids []uint, action Action, progress func(id uint, err error)) BulkResult {
	res := BulkResult{Failures: make(map[uint]error)}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(q.concurrency)
	for _, id := range ids {
		g.Go(func() error {
			var err error
			if action == ActionDeny {
				_, err = q.Deny(ctx, approver, id)
			} else {
				_, err = q.Approve(ctx, approver, id)
			}

			mu.Lock()
			defer mu.Unlock()
			if progress != nil {
				progress(id, err)
			}
			if err != nil {
				res.Failed = append(res.Failed, id)
				res.Failures[id] = err
				return nil
			}
			res.Succeeded = append(res.Succeeded, id)
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(res.Succeeded)
	slices.Sort(res.Failed)
	q.log.Infow("Bulk resolution finished",
		zap.Stringer("action", action),
		zap.Int("succeeded", len(res.Succeeded)),
		zap.Int("failed", len(res.Failed)))
	return res
}
