package proposals

import (
	"modcatalog/catalog"
	"modcatalog/db"
)

// Change is the outcome of a mutate-or-propose call: either Applied (the
// change is live) or Proposed (it waits for a moderator).
type Change interface {
	change()
}

// Applied carries the row as it is after the change. Exactly one of Mod and
// Version is set, matching Target.Table.
type Applied struct {
	Target  catalog.Target
	Mod     *db.Mod
	Version *db.ModVersion
}

// Proposed carries the proposal that was queued instead.
type Proposed struct {
	Proposal *db.EditProposal
}

func (Applied) change()  {}
func (Proposed) change() {}

// Match calls exactly one of the handlers for c. It panics on a nil Change.
func Match[T any](c Change, applied func(Applied) T, proposed func(Proposed) T) T {
	switch c := c.(type) {
	case Applied:
		return applied(c)
	case Proposed:
		return proposed(c)
	default:
		panic("proposals: unknown change type")
	}
}
