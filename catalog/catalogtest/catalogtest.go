// Package catalogtest builds throwaway catalogs for tests: a fresh SQLite file
// per test and helpers that insert rows in any status.
package catalogtest

import (
	"context"
	"path/filepath"
	"testing"

	"modcatalog/catalog"
	"modcatalog/db"
	"modcatalog/identity"
)

// Fixture is a catalog on disk plus helpers to populate it.
type Fixture struct {
	T     testing.TB
	Ctx   context.Context
	Store *catalog.Store
}

// New opens an empty catalog in t's temp directory.
func New(t testing.TB) *Fixture {
	t.Helper()
	conn, err := db.InitDatabase(filepath.Join(t.TempDir(), "catalog.db"))
	if err != nil {
		t.Fatalf("InitDatabase() error = %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := conn.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return &Fixture{T: t, Ctx: context.Background(), Store: catalog.NewStore(conn)}
}

// User registers a user and returns it as an actor.
func (f *Fixture) User(name string, perms ...string) identity.Actor {
	f.T.Helper()
	u := &db.User{Name: name, Permissions: perms}
	if err := f.Store.CreateUser(f.Ctx, u); err != nil {
		f.T.Fatalf("CreateUser(%s) error = %v", name, err)
	}
	a, err := identity.FromUser(u)
	if err != nil {
		f.T.Fatalf("FromUser(%s) error = %v", name, err)
	}
	return a
}

// GameVersion registers game/version, optionally as the game's default.
func (f *Fixture) GameVersion(game, version string, isDefault bool) *db.GameVersion {
	f.T.Helper()
	gv := &db.GameVersion{GameName: game, VersionString: version}
	if err := f.Store.CreateGameVersion(f.Ctx, gv); err != nil {
		f.T.Fatalf("CreateGameVersion(%s %s) error = %v", game, version, err)
	}
	if isDefault {
		marked, err := f.Store.MarkDefault(f.Ctx, gv.ID)
		if err != nil {
			f.T.Fatalf("MarkDefault(%d) error = %v", gv.ID, err)
		}
		gv = marked
	}
	return gv
}

// Mod inserts a mod authored by author.
func (f *Fixture) Mod(name, game string, author identity.Actor, status db.Status) *db.Mod {
	f.T.Helper()
	m := &db.Mod{Name: name, GameName: game, AuthorIDs: []uint{author.ID}, Status: status}
	if err := f.Store.CreateMod(f.Ctx, m); err != nil {
		f.T.Fatalf("CreateMod(%s) error = %v", name, err)
	}
	return m
}

// Version inserts a version of mod supporting gameVersions and depending on deps.
func (f *Fixture) Version(mod *db.Mod, semver string, status db.Status, gameVersions []uint, deps ...uint) *db.ModVersion {
	f.T.Helper()
	v := &db.ModVersion{
		ModID:                   mod.ID,
		AuthorID:                mod.AuthorIDs[0],
		SemanticVersion:         semver,
		Status:                  status,
		SupportedGameVersionIDs: gameVersions,
		DependencyIDs:           deps,
	}
	if err := f.Store.CreateModVersion(f.Ctx, v); err != nil {
		f.T.Fatalf("CreateModVersion(%s %s) error = %v", mod.Name, semver, err)
	}
	return v
}

// Reload fetches the current row of a version.
func (f *Fixture) Reload(v *db.ModVersion) *db.ModVersion {
	f.T.Helper()
	fresh, err := f.Store.ModVersion(f.Ctx, v.ID)
	if err != nil {
		f.T.Fatalf("ModVersion(%d) error = %v", v.ID, err)
	}
	return fresh
}

// ReloadMod fetches the current row of a mod.
func (f *Fixture) ReloadMod(m *db.Mod) *db.Mod {
	f.T.Helper()
	fresh, err := f.Store.Mod(f.Ctx, m.ID)
	if err != nil {
		f.T.Fatalf("Mod(%d) error = %v", m.ID, err)
	}
	return fresh
}

// IDs is shorthand for a list of ids.
func IDs(ids ...uint) []uint { return ids }
