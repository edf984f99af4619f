package revocation_test

import (
	"errors"
	"slices"
	"testing"

	"go.uber.org/zap"

	"modcatalog/cache"
	"modcatalog/catalog"
	"modcatalog/catalog/catalogtest"
	"modcatalog/db"
	"modcatalog/identity"
	"modcatalog/notify"
	"modcatalog/revocation"
)

type setup struct {
	f       *catalogtest.Fixture
	mod     identity.Actor
	author  identity.Actor
	gv      *db.GameVersion
	events  *notify.Recorder
	cascade *revocation.Cascade
	n       int
}

func newSetup(t *testing.T, limit int) *setup {
	f := catalogtest.New(t)
	s := &setup{
		f:      f,
		mod:    f.User("mod", "approve:mc"),
		author: f.User("author", "post:mc"),
		gv:     f.GameVersion("mc", "1.20", true),
		events: &notify.Recorder{},
	}
	s.cascade = revocation.New(f.Store, cache.Nop{}, s.events, zap.NewNop().Sugar(), limit)
	return s
}

// version adds a verified version of a new mod depending on deps.
func (s *setup) version(status db.Status, deps ...uint) *db.ModVersion {
	s.n++
	m := s.f.Mod("m"+string(rune('a'+s.n)), "mc", s.author, db.StatusVerified)
	return s.f.Version(m, "1.0.0", status, catalogtest.IDs(s.gv.ID), deps...)
}

func TestRevokeChain(t *testing.T) {
	s := newSetup(t, 0)
	a := s.version(db.StatusVerified)
	b := s.version(db.StatusVerified, a.ID)
	c := s.version(db.StatusVerified, b.ID)
	unrelated := s.version(db.StatusVerified)

	revoked, err := s.cascade.Revoke(s.f.Ctx, s.mod, a.ID)
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if !slices.Equal(revoked, []uint{a.ID, b.ID, c.ID}) {
		t.Errorf("Revoke() = %v, want [%d %d %d]", revoked, a.ID, b.ID, c.ID)
	}
	for _, v := range []*db.ModVersion{a, b, c} {
		fresh := s.f.Reload(v)
		if fresh.Status != db.StatusUnverified {
			t.Errorf("version %d status = %s, want unverified", v.ID, fresh.Status)
		}
		if fresh.LastApprovedBy == nil || *fresh.LastApprovedBy != s.mod.ID {
			t.Errorf("version %d LastApprovedBy = %v, want %d", v.ID, fresh.LastApprovedBy, s.mod.ID)
		}
	}
	if s.f.Reload(unrelated).Status != db.StatusVerified {
		t.Error("unrelated version was revoked")
	}
	if got := len(s.events.Events()); got != 3 {
		t.Errorf("published %d events, want 3", got)
	}

	t.Run("idempotent", func(t *testing.T) {
		again, err := s.cascade.Revoke(s.f.Ctx, s.mod, a.ID)
		if err != nil {
			t.Fatalf("Revoke() error = %v", err)
		}
		if len(again) != 0 {
			t.Errorf("second Revoke() = %v, want empty", again)
		}
	})
}

func TestRevokeSkipsUnverifiedDependants(t *testing.T) {
	s := newSetup(t, 0)
	a := s.version(db.StatusVerified)
	pending := s.version(db.StatusUnverified, a.ID)
	s.version(db.StatusVerified, pending.ID)

	revoked, err := s.cascade.Revoke(s.f.Ctx, s.mod, a.ID)
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if !slices.Equal(revoked, []uint{a.ID}) {
		t.Errorf("Revoke() = %v, want only %d", revoked, a.ID)
	}
}

func TestRevokeGated(t *testing.T) {
	s := newSetup(t, 0)
	a := s.version(db.StatusVerified)
	for range 3 {
		s.version(db.StatusVerified, a.ID)
	}
	s.version(db.StatusUnverified, a.ID)

	_, err := s.cascade.RevokeGated(s.f.Ctx, s.mod, a.ID, false)
	var blocked *catalog.CascadeBlockedError
	if !errors.As(err, &blocked) {
		t.Fatalf("RevokeGated() error = %v, want *CascadeBlockedError", err)
	}
	if blocked.DependantCount != 3 {
		t.Errorf("DependantCount = %d, want 3", blocked.DependantCount)
	}
	if !errors.Is(err, catalog.ErrCascadeBlocked) {
		t.Error("error does not match ErrCascadeBlocked")
	}
	if s.f.Reload(a).Status != db.StatusVerified {
		t.Error("blocked revocation changed the target")
	}

	revoked, err := s.cascade.RevokeGated(s.f.Ctx, s.mod, a.ID, true)
	if err != nil {
		t.Fatalf("RevokeGated(allow) error = %v", err)
	}
	if len(revoked) != 4 {
		t.Errorf("RevokeGated(allow) revoked %d, want 4", len(revoked))
	}
}

func TestRevokeCycleTerminates(t *testing.T) {
	s := newSetup(t, 0)
	a := s.version(db.StatusVerified)
	b := s.version(db.StatusVerified, a.ID)
	a.DependencyIDs = []uint{b.ID}
	if err := s.f.Store.SaveModVersion(s.f.Ctx, a); err != nil {
		t.Fatalf("SaveModVersion() error = %v", err)
	}

	revoked, err := s.cascade.Revoke(s.f.Ctx, s.mod, a.ID)
	if err != nil {
		t.Fatalf("Revoke() error = %v", err)
	}
	if !slices.Equal(revoked, []uint{a.ID, b.ID}) {
		t.Errorf("Revoke() = %v, want [%d %d]", revoked, a.ID, b.ID)
	}
}

func TestRevokeLimitRollsBack(t *testing.T) {
	s := newSetup(t, 2)
	a := s.version(db.StatusVerified)
	b := s.version(db.StatusVerified, a.ID)
	s.version(db.StatusVerified, b.ID)

	_, err := s.cascade.Revoke(s.f.Ctx, s.mod, a.ID)
	if !errors.Is(err, revocation.ErrCascadeLimit) {
		t.Fatalf("Revoke() error = %v, want ErrCascadeLimit", err)
	}
	if s.f.Reload(a).Status != db.StatusVerified {
		t.Error("aborted cascade was not rolled back")
	}
	if len(s.events.Events()) != 0 {
		t.Error("aborted cascade published events")
	}
}

func TestRevokeRequiresModerator(t *testing.T) {
	s := newSetup(t, 0)
	a := s.version(db.StatusVerified)
	if _, err := s.cascade.Revoke(s.f.Ctx, s.author, a.ID); !errors.Is(err, catalog.ErrUnauthorized) {
		t.Errorf("Revoke(author) error = %v, want ErrUnauthorized", err)
	}
	other := s.f.User("other-mod", "approve:terraria")
	if _, err := s.cascade.Revoke(s.f.Ctx, other, a.ID); !errors.Is(err, catalog.ErrUnauthorized) {
		t.Errorf("Revoke(other game's moderator) error = %v, want ErrUnauthorized", err)
	}
}
