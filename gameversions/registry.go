// Package gameversions keeps the registry of game releases mods can target,
// including the single default release per game.
package gameversions

import (
	"context"

	"go.uber.org/zap"

	"modcatalog/cache"
	"modcatalog/catalog"
	"modcatalog/db"
	"modcatalog/identity"
)

// Reader is the cached read side.
type Reader interface {
	GameVersion(ctx context.Context, id uint) (*db.GameVersion, error)
	DefaultGameVersion(ctx context.Context, game string) (*db.GameVersion, error)
}

// Registry manages the game versions of every game.
type Registry struct {
	store *catalog.Store
	reads Reader
	cache cache.Refresher
	log   *zap.SugaredLogger
}

// New builds a registry; reads may be nil to read from the store.
func New(store *catalog.Store, reads Reader, refresher cache.Refresher, log *zap.SugaredLogger) *Registry {
	if reads == nil {
		reads = store
	}
	return &Registry{store: store, reads: reads, cache: refresher, log: log}
}

// Create registers versionString for game. With makeDefault the new row also
// takes over the game's default marker.
func (r *Registry) Create(ctx context.Context, actor identity.Actor, game, versionString string, makeDefault bool) (*db.GameVersion, error) {
	if err := identity.Require(actor, identity.Approve(game), identity.Admin()); err != nil {
		return nil, err
	}
	gv := &db.GameVersion{GameName: game, VersionString: versionString}
	err := r.store.Transaction(ctx, func(tx *catalog.Store) error {
		if err := tx.CreateGameVersion(ctx, gv); err != nil {
			return err
		}
		if !makeDefault {
			return nil
		}
		marked, err := tx.MarkDefault(ctx, gv.ID)
		if err != nil {
			return err
		}
		gv = marked
		return nil
	})
	if err != nil {
		return nil, err
	}
	r.cache.Refresh(cache.GameVersions)
	r.log.Infow("Game version registered",
		zap.Uint("game_version_id", gv.ID), zap.String("game", game),
		zap.String("version", versionString), zap.Bool("default", gv.IsDefault))
	return gv, nil
}

// SetDefault moves the default marker of id's game to id.
func (r *Registry) SetDefault(ctx context.Context, actor identity.Actor, id uint) (*db.GameVersion, error) {
	gv, err := r.store.GameVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := identity.Require(actor, identity.Approve(gv.GameName), identity.Admin()); err != nil {
		return nil, err
	}
	err = r.store.Transaction(ctx, func(tx *catalog.Store) error {
		gv, err = tx.MarkDefault(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	r.cache.Refresh(cache.GameVersions)
	r.log.Infow("Default game version changed", zap.String("game", gv.GameName), zap.Uint("game_version_id", id))
	return gv, nil
}

// Default returns the default game version of game.
func (r *Registry) Default(ctx context.Context, game string) (*db.GameVersion, error) {
	return r.reads.DefaultGameVersion(ctx, game)
}

// Get loads a game version by id.
func (r *Registry) Get(ctx context.Context, id uint) (*db.GameVersion, error) {
	return r.reads.GameVersion(ctx, id)
}

// List returns a game's versions in release order. An empty game lists all.
func (r *Registry) List(ctx context.Context, game string) ([]db.GameVersion, error) {
	return r.store.GameVersions(ctx, game)
}

// Delete removes a game version nothing references.
func (r *Registry) Delete(ctx context.Context, actor identity.Actor, id uint) error {
	gv, err := r.store.GameVersion(ctx, id)
	if err != nil {
		return err
	}
	if err := identity.Require(actor, identity.Approve(gv.GameName), identity.Admin()); err != nil {
		return err
	}
	err = r.store.Transaction(ctx, func(tx *catalog.Store) error {
		return tx.DeleteGameVersion(ctx, id)
	})
	if err != nil {
		return err
	}
	r.cache.Refresh(cache.GameVersions)
	r.log.Infow("Game version deleted", zap.Uint("game_version_id", id), zap.String("game", gv.GameName))
	return nil
}
