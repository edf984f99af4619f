package proposals_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"

	"go.uber.org/zap"

	"modcatalog/cache"
	"modcatalog/catalog"
	"modcatalog/catalog/catalogtest"
	"modcatalog/db"
	"modcatalog/identity"
	"modcatalog/notify"
	"modcatalog/proposals"
)

type env struct {
	f      *catalogtest.Fixture
	queue  *proposals.Queue
	events *notify.Recorder
	author identity.Actor
	mod    identity.Actor
	mod2   identity.Actor
	gv     *db.GameVersion
}

func newEnv(t *testing.T) *env {
	f := catalogtest.New(t)
	log := zap.NewNop().Sugar()
	c := cache.New(f.Store, 32, log)
	events := &notify.Recorder{}
	return &env{
		f:      f,
		queue:  proposals.New(f.Store, c, c, events, log, 4),
		events: events,
		author: f.User("author", "post:mc"),
		mod:    f.User("moderator", "approve:mc"),
		mod2:   f.User("moderator2", "approve:mc"),
		gv:     f.GameVersion("mc", "1.20", true),
	}
}

func rename(name string) catalog.ModPatch {
	return catalog.ModPatch{Name: catalog.Some(name)}
}

func TestApplyChangesFieldsAndVerifies(t *testing.T) {
	e := newEnv(t)
	m := e.f.Mod("old", "mc", e.author, db.StatusUnverified)
	m.Summary = "kept"
	if err := e.f.Store.SaveMod(e.f.Ctx, m); err != nil {
		t.Fatal(err)
	}

	p, err := e.queue.Propose(e.f.Ctx, e.author, catalog.ModTarget(m.ID), rename("new"))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if !p.IsPending() {
		t.Fatal("new proposal is not pending")
	}
	interim := e.f.ReloadMod(m)
	if interim.Name != "old" {
		t.Errorf("Propose() changed the target: name = %q", interim.Name)
	}
	interim.Description = "edited meanwhile"
	if err := e.f.Store.SaveMod(e.f.Ctx, interim); err != nil {
		t.Fatal(err)
	}

	resolved, err := e.queue.Approve(e.f.Ctx, e.mod, p.ID)
	if err != nil {
		t.Fatalf("Approve() error = %v", err)
	}
	if resolved.Approved == nil || !*resolved.Approved || resolved.ApproverID == nil || *resolved.ApproverID != e.mod.ID {
		t.Errorf("resolved proposal = %+v", resolved)
	}

	fresh := e.f.ReloadMod(m)
	if fresh.Name != "new" || fresh.Summary != "kept" || fresh.Description != "edited meanwhile" {
		t.Errorf("mod = %q/%q/%q, want only the name replaced", fresh.Name, fresh.Summary, fresh.Description)
	}
	if fresh.Status != db.StatusVerified || fresh.LastApprovedBy == nil || *fresh.LastApprovedBy != e.mod.ID {
		t.Errorf("mod status = %s by %v, want verified by %d", fresh.Status, fresh.LastApprovedBy, e.mod.ID)
	}

	pending, err := e.queue.Pending(e.f.Ctx, 0)
	if err != nil || len(pending) != 0 {
		t.Errorf("Pending() = %v, %v, want empty", pending, err)
	}

	var actions []notify.Action
	for _, ev := range e.events.Events() {
		actions = append(actions, ev.Action)
	}
	if !slices.Equal(actions, []notify.Action{notify.ActionNew, notify.ActionApproved}) {
		t.Errorf("event actions = %v", actions)
	}
}

func TestDenyLeavesTargetUntouched(t *testing.T) {
	e := newEnv(t)
	m := e.f.Mod("old", "mc", e.author, db.StatusVerified)
	p, err := e.queue.Propose(e.f.Ctx, e.author, catalog.ModTarget(m.ID), rename("new"))
	if err != nil {
		t.Fatalf("Propose() error = %v", err)
	}
	if _, err := e.queue.Deny(e.f.Ctx, e.author, p.ID); !errors.Is(err, catalog.ErrUnauthorized) {
		t.Errorf("Deny(author) error = %v, want ErrUnauthorized", err)
	}
	resolved, err := e.queue.Deny(e.f.Ctx, e.mod, p.ID)
	if err != nil {
		t.Fatalf("Deny() error = %v", err)
	}
	if resolved.Approved == nil || *resolved.Approved {
		t.Errorf("resolved.Approved = %v, want false", resolved.Approved)
	}
	if got := e.f.ReloadMod(m).Name; got != "old" {
		t.Errorf("name = %q, want old", got)
	}
	if _, err := e.queue.Approve(e.f.Ctx, e.mod, p.ID); !errors.Is(err, catalog.ErrAlreadyResolved) {
		t.Errorf("Approve(denied) error = %v, want ErrAlreadyResolved", err)
	}
}

func TestConcurrentResolution(t *testing.T) {
	type call func(e *env, id uint) error
	approve := func(who func(*env) identity.Actor) call {
		return func(e *env, id uint) error {
			_, err := e.queue.Approve(context.Background(), who(e), id)
			return err
		}
	}
	deny := func(who func(*env) identity.Actor) call {
		return func(e *env, id uint) error {
			_, err := e.queue.Deny(context.Background(), who(e), id)
			return err
		}
	}
	first := func(e *env) identity.Actor { return e.mod }
	second := func(e *env) identity.Actor { return e.mod2 }

	tests := []struct {
		name string
		a, b call
	}{
		{"approve/approve", approve(first), approve(second)},
		{"approve/deny", approve(first), deny(second)},
		{"deny/deny", deny(first), deny(second)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			m := e.f.Mod("old", "mc", e.author, db.StatusVerified)
			for round := range 25 {
				p, err := e.queue.Propose(e.f.Ctx, e.author, catalog.ModTarget(m.ID), rename("new"))
				if err != nil {
					t.Fatalf("Propose() error = %v", err)
				}

				// Released together, both callers usually pass the early
				// pending check; the conditional update picks the winner.
				var ready, wg sync.WaitGroup
				ready.Add(2)
				start := make(chan struct{})
				errs := make([]error, 2)
				for i, c := range []call{tt.a, tt.b} {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ready.Done()
						<-start
						errs[i] = c(e, p.ID)
					}()
				}
				ready.Wait()
				close(start)
				wg.Wait()

				ok, lost := 0, 0
				for _, err := range errs {
					switch {
					case err == nil:
						ok++
					case errors.Is(err, catalog.ErrAlreadyResolved):
						lost++
					default:
						t.Errorf("round %d: unexpected error %v", round, err)
					}
				}
				if ok != 1 || lost != 1 {
					t.Fatalf("round %d: errors = %v, want one success and one ErrAlreadyResolved", round, errs)
				}
			}
		})
	}
}

func TestApproveRollsBackOnUnresolvedDependency(t *testing.T) {
	e := newEnv(t)
	g2 := e.f.GameVersion("mc", "1.21", false)
	lib := e.f.Mod("lib", "mc", e.author, db.StatusVerified)
	dep := e.f.Version(lib, "1.0.0", db.StatusVerified, catalogtest.IDs(e.gv.ID))
	app := e.f.Mod("app", "mc", e.author, db.StatusVerified)
	v := e.f.Version(app, "1.0.0", db.StatusVerified, catalogtest.IDs(e.gv.ID), dep.ID)

	patch := catalog.VersionPatch{SupportedGameVersionIDs: catalog.Some([]uint{e.gv.ID, g2.ID})}
	change, err := e.queue.Edit(e.f.Ctx, e.author, catalog.VersionTarget(v.ID), patch)
	if err != nil {
		t.Fatalf("Edit() error = %v", err)
	}
	proposed, ok := change.(proposals.Proposed)
	if !ok {
		t.Fatalf("Edit(verified) = %T, want Proposed", change)
	}

	_, err = e.queue.Approve(e.f.Ctx, e.mod, proposed.Proposal.ID)
	if !errors.Is(err, catalog.ErrValidation) {
		t.Fatalf("Approve() error = %v, want ErrValidation", err)
	}
	p, err := e.f.Store.Proposal(e.f.Ctx, proposed.Proposal.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !p.IsPending() {
		t.Error("failed approval resolved the proposal")
	}
	if got := e.f.Reload(v).SupportedGameVersionIDs; len(got) != 1 {
		t.Errorf("SupportedGameVersionIDs = %v, want unchanged", got)
	}
}

func TestApproveKeepsVerifiedDependantsResolvable(t *testing.T) {
	tests := []struct {
		name         string
		viaSuccessor bool
		patch        func(g1, g2 uint) catalog.VersionPatch
		wantErr      error
	}{
		{
			name: "pinned release drops the dependant's game version",
			patch: func(_, g2 uint) catalog.VersionPatch {
				return catalog.VersionPatch{SupportedGameVersionIDs: catalog.Some([]uint{g2})}
			},
			wantErr: catalog.ErrInvalidTransition,
		},
		{
			name:         "successor leaves the caret range",
			viaSuccessor: true,
			patch: func(uint, uint) catalog.VersionPatch {
				return catalog.VersionPatch{SemanticVersion: catalog.Some("2.0.0")}
			},
			wantErr: catalog.ErrInvalidTransition,
		},
		{
			name: "widening support",
			patch: func(g1, g2 uint) catalog.VersionPatch {
				return catalog.VersionPatch{SupportedGameVersionIDs: catalog.Some([]uint{g1, g2})}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			g2 := e.f.GameVersion("mc", "1.21", false)
			lib := e.f.Mod("lib", "mc", e.author, db.StatusVerified)
			pinnedStatus, successorStatus := db.StatusVerified, db.StatusUnverified
			if tt.viaSuccessor {
				pinnedStatus, successorStatus = db.StatusUnverified, db.StatusVerified
			}
			pinned := e.f.Version(lib, "1.0.0", pinnedStatus, catalogtest.IDs(e.gv.ID))
			successor := e.f.Version(lib, "1.2.0", successorStatus, catalogtest.IDs(e.gv.ID))
			app := e.f.Mod("app", "mc", e.author, db.StatusVerified)
			dependant := e.f.Version(app, "1.0.0", db.StatusVerified, catalogtest.IDs(e.gv.ID), pinned.ID)

			target := pinned
			if tt.viaSuccessor {
				target = successor
			}
			p, err := e.queue.Propose(e.f.Ctx, e.author, catalog.VersionTarget(target.ID), tt.patch(e.gv.ID, g2.ID))
			if err != nil {
				t.Fatalf("Propose() error = %v", err)
			}
			_, err = e.queue.Approve(e.f.Ctx, e.mod, p.ID)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("Approve() error = %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Approve() error = %v, want %v", err, tt.wantErr)
			}

			stored, err := e.f.Store.Proposal(e.f.Ctx, p.ID)
			if err != nil {
				t.Fatal(err)
			}
			if !stored.IsPending() {
				t.Error("refused approval resolved the proposal")
			}
			if got := e.f.Reload(target); got.SemanticVersion != target.SemanticVersion || !slices.Equal(got.SupportedGameVersionIDs, target.SupportedGameVersionIDs) {
				t.Errorf("target = %s %v, want unchanged", got.SemanticVersion, got.SupportedGameVersionIDs)
			}
			if got := e.f.Reload(dependant).Status; got != db.StatusVerified {
				t.Errorf("dependant status = %s, want verified", got)
			}
		})
	}
}

func TestProposeRejectsUnsaveableRows(t *testing.T) {
	e := newEnv(t)
	other := e.f.GameVersion("other", "1.0", true)
	m := e.f.Mod("lib", "mc", e.author, db.StatusVerified)
	v := e.f.Version(m, "1.0.0", db.StatusVerified, catalogtest.IDs(e.gv.ID))

	tests := []struct {
		name   string
		target catalog.Target
		patch  catalog.Patch
	}{
		{"no authors", catalog.ModTarget(m.ID), catalog.ModPatch{AuthorIDs: catalog.Some([]uint{})}},
		{"empty name", catalog.ModTarget(m.ID), catalog.ModPatch{Name: catalog.Some("")}},
		{"unknown author", catalog.ModTarget(m.ID), catalog.ModPatch{AuthorIDs: catalog.Some([]uint{9999})}},
		{"bad semver", catalog.VersionTarget(v.ID), catalog.VersionPatch{SemanticVersion: catalog.Some("latest")}},
		{"foreign game version", catalog.VersionTarget(v.ID), catalog.VersionPatch{SupportedGameVersionIDs: catalog.Some([]uint{other.ID})}},
		{"self dependency", catalog.VersionTarget(v.ID), catalog.VersionPatch{DependencyIDs: catalog.Some([]uint{v.ID})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := e.queue.Propose(e.f.Ctx, e.author, tt.target, tt.patch); !errors.Is(err, catalog.ErrValidation) {
				t.Errorf("Propose() error = %v, want ErrValidation", err)
			}
		})
	}

	pending, err := e.queue.Pending(e.f.Ctx, 0)
	if err != nil || len(pending) != 0 {
		t.Errorf("Pending() = %d, %v, want nothing queued", len(pending), err)
	}
}

func TestEdit(t *testing.T) {
	e := newEnv(t)
	outsider := e.f.User("outsider", "post:mc")
	draft := e.f.Mod("draft", "mc", e.author, db.StatusPrivate)
	live := e.f.Mod("live", "mc", e.author, db.StatusVerified)
	gone := e.f.Mod("gone", "mc", e.author, db.StatusRemoved)

	describe := func(c proposals.Change) string {
		return proposals.Match(c,
			func(proposals.Applied) string { return "applied" },
			func(proposals.Proposed) string { return "proposed" })
	}

	tests := []struct {
		name    string
		actor   identity.Actor
		mod     *db.Mod
		want    string
		wantErr error
	}{
		{"author edits draft", e.author, draft, "applied", nil},
		{"moderator edits draft", e.mod, draft, "applied", nil},
		{"author edits verified", e.author, live, "proposed", nil},
		{"moderator edits verified", e.mod, live, "proposed", nil},
		{"outsider", outsider, draft, "", catalog.ErrUnauthorized},
		{"removed", e.author, gone, "", catalog.ErrInvalidTransition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			change, err := e.queue.Edit(e.f.Ctx, tt.actor, catalog.ModTarget(tt.mod.ID), rename(tt.name))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Edit() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Edit() error = %v", err)
			}
			if got := describe(change); got != tt.want {
				t.Errorf("Edit() = %s, want %s", got, tt.want)
			}
		})
	}

	if got := e.f.ReloadMod(live).Name; got != "live" {
		t.Errorf("verified mod renamed to %q without approval", got)
	}
	if got := e.f.ReloadMod(draft).Status; got != db.StatusPrivate {
		t.Errorf("direct edit changed status to %s", got)
	}

	t.Run("empty patch", func(t *testing.T) {
		_, err := e.queue.Edit(e.f.Ctx, e.author, catalog.ModTarget(draft.ID), catalog.ModPatch{})
		if !errors.Is(err, catalog.ErrValidation) {
			t.Errorf("Edit(empty) error = %v, want ErrValidation", err)
		}
	})

	t.Run("mismatched table", func(t *testing.T) {
		_, err := e.queue.Edit(e.f.Ctx, e.author, catalog.VersionTarget(draft.ID), rename("x"))
		if !errors.Is(err, catalog.ErrValidation) {
			t.Errorf("Edit(mod patch on version) error = %v, want ErrValidation", err)
		}
	})
}

func TestBulk(t *testing.T) {
	e := newEnv(t)
	var ids []uint
	for _, name := range []string{"a", "b", "c"} {
		m := e.f.Mod(name, "mc", e.author, db.StatusVerified)
		p, err := e.queue.Propose(e.f.Ctx, e.author, catalog.ModTarget(m.ID), rename(name+"2"))
		if err != nil {
			t.Fatalf("Propose() error = %v", err)
		}
		ids = append(ids, p.ID)
	}
	if _, err := e.queue.Deny(e.f.Ctx, e.mod, ids[1]); err != nil {
		t.Fatal(err)
	}
	ids = append(ids, 9999)

	var mu sync.Mutex
	seen := 0
	res := e.queue.BulkWithProgress(e.f.Ctx, e.mod, ids, proposals.ActionApprove, func(uint, error) {
		mu.Lock()
		seen++
		mu.Unlock()
	})

	if !slices.Equal(res.Succeeded, []uint{ids[0], ids[2]}) {
		t.Errorf("Succeeded = %v, want [%d %d]", res.Succeeded, ids[0], ids[2])
	}
	if !slices.Equal(res.Failed, []uint{ids[1], 9999}) {
		t.Errorf("Failed = %v, want [%d 9999]", res.Failed, ids[1])
	}
	if !errors.Is(res.Failures[ids[1]], catalog.ErrAlreadyResolved) {
		t.Errorf("Failures[%d] = %v, want ErrAlreadyResolved", ids[1], res.Failures[ids[1]])
	}
	if !errors.Is(res.Failures[9999], catalog.ErrNotFound) {
		t.Errorf("Failures[9999] = %v, want ErrNotFound", res.Failures[9999])
	}
	if seen != len(ids) {
		t.Errorf("progress called %d times, want %d", seen, len(ids))
	}
}
