package gameversions_test

import (
	"errors"
	"testing"

	"go.uber.org/zap"

	"modcatalog/cache"
	"modcatalog/catalog"
	"modcatalog/catalog/catalogtest"
	"modcatalog/db"
	"modcatalog/gameversions"
)

func TestRegistry(t *testing.T) {
	f := catalogtest.New(t)
	log := zap.NewNop().Sugar()
	c := cache.New(f.Store, 16, log)
	r := gameversions.New(f.Store, c, c, log)
	mod := f.User("moderator", "approve:mc")
	author := f.User("author", "post:mc")

	if _, err := r.Create(f.Ctx, author, "mc", "1.20", true); !errors.Is(err, catalog.ErrUnauthorized) {
		t.Errorf("Create(author) error = %v, want ErrUnauthorized", err)
	}

	g1, err := r.Create(f.Ctx, mod, "mc", "1.20", true)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if !g1.IsDefault {
		t.Error("Create(makeDefault) did not mark the default")
	}
	g2, err := r.Create(f.Ctx, mod, "mc", "1.21", false)
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if _, err := r.Create(f.Ctx, mod, "mc", "1.21", false); !errors.Is(err, catalog.ErrValidation) {
		t.Errorf("Create(duplicate) error = %v, want ErrValidation", err)
	}

	def, err := r.Default(f.Ctx, "mc")
	if err != nil || def.ID != g1.ID {
		t.Fatalf("Default() = %v, %v, want %d", def, err, g1.ID)
	}

	if _, err := r.SetDefault(f.Ctx, mod, g2.ID); err != nil {
		t.Fatalf("SetDefault() error = %v", err)
	}
	def, err = r.Default(f.Ctx, "mc")
	if err != nil || def.ID != g2.ID {
		t.Errorf("Default() after SetDefault = %v, %v, want %d", def, err, g2.ID)
	}
	old, err := r.Get(f.Ctx, g1.ID)
	if err != nil || old.IsDefault {
		t.Errorf("Get(old default) = %+v, %v, want not default", old, err)
	}

	list, err := r.List(f.Ctx, "mc")
	if err != nil || len(list) != 2 {
		t.Errorf("List() = %v, %v, want 2 versions", list, err)
	}

	m := f.Mod("m", "mc", author, db.StatusPrivate)
	f.Version(m, "1.0.0", db.StatusPrivate, catalogtest.IDs(g1.ID))
	if err := r.Delete(f.Ctx, mod, g1.ID); !errors.Is(err, catalog.ErrValidation) {
		t.Errorf("Delete(referenced) error = %v, want ErrValidation", err)
	}
	if err := r.Delete(f.Ctx, mod, g2.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := r.Get(f.Ctx, g2.ID); !errors.Is(err, catalog.ErrNotFound) {
		t.Errorf("Get(deleted) error = %v, want ErrNotFound", err)
	}
	if _, err := r.Create(f.Ctx, mod, "mc", "1.21", false); err != nil {
		t.Errorf("re-Create(deleted) error = %v", err)
	}
}
