package catalog

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"gorm.io/gorm"

	"modcatalog/db"
)

// Store is the store of record for the catalog. It owns row-level invariant
// checks; higher level components decide who may call what.
type Store struct {
	db *gorm.DB
}

// NewStore wraps an open database.
func NewStore(conn *gorm.DB) *Store {
	return &Store{db: conn}
}

// DB exposes the underlying handle, bound to the current transaction when the
// store was obtained from Transaction.
func (s *Store) DB(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// Transaction runs fn against a store bound to a single transaction.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&Store{db: tx})
	})
}

func first[T any](ctx context.Context, conn *gorm.DB, kind string, id uint) (*T, error) {
	var row T
	if err := conn.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("%s %d", kind, id)
		}
		return nil, fmt.Errorf("loading %s %d: %w", kind, id, err)
	}
	return &row, nil
}

// --- users ---

// User loads a user by id.
func (s *Store) User(ctx context.Context, id uint) (*db.User, error) {
	return first[db.User](ctx, s.db, "user", id)
}

// UserByName loads a user by unique name.
func (s *Store) UserByName(ctx context.Context, name string) (*db.User, error) {
	var u db.User
	if err := s.DB(ctx).Where("name = ?", name).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("user %q", name)
		}
		return nil, fmt.Errorf("loading user %q: %w", name, err)
	}
	return &u, nil
}

// CreateUser inserts u.
func (s *Store) CreateUser(ctx context.Context, u *db.User) error {
	if u.Name == "" {
		return validationf("user name is required")
	}
	if err := s.DB(ctx).Create(u).Error; err != nil {
		return fmt.Errorf("creating user %q: %w", u.Name, err)
	}
	return nil
}

// UserCount counts registered users.
func (s *Store) UserCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB(ctx).Model(&db.User{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("counting users: %w", err)
	}
	return n, nil
}

// --- game versions ---

// GameVersion loads a game version by id.
func (s *Store) GameVersion(ctx context.Context, id uint) (*db.GameVersion, error) {
	return first[db.GameVersion](ctx, s.db, "game version", id)
}

// GameVersions lists a game's versions in release (id) order. An empty game
// lists every game.
func (s *Store) GameVersions(ctx context.Context, game string) ([]db.GameVersion, error) {
	var out []db.GameVersion
	q := s.DB(ctx).Order("id")
	if game != "" {
		q = q.Where("game_name = ?", game)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing game versions: %w", err)
	}
	return out, nil
}

// DefaultGameVersion returns the game's default version marker.
func (s *Store) DefaultGameVersion(ctx context.Context, game string) (*db.GameVersion, error) {
	var gv db.GameVersion
	err := s.DB(ctx).Where("game_name = ? AND is_default = ?", game, true).First(&gv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, notFoundf("default game version for %q", game)
		}
		return nil, fmt.Errorf("loading default game version for %q: %w", game, err)
	}
	return &gv, nil
}

// GameVersionReferenced reports whether any ModVersion supports id.
func (s *Store) GameVersionReferenced(ctx context.Context, id uint) (bool, error) {
	var n int64
	err := s.DB(ctx).Model(&db.ModVersion{}).
		Where("EXISTS (SELECT 1 FROM json_each(mod_versions.supported_game_version_ids) WHERE json_each.value = ?)", id).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("checking references to game version %d: %w", id, err)
	}
	return n > 0, nil
}

// CreateGameVersion inserts gv, rejecting a duplicate version string per game.
func (s *Store) CreateGameVersion(ctx context.Context, gv *db.GameVersion) error {
	if gv.GameName == "" || gv.VersionString == "" {
		return validationf("game name and version string are required")
	}
	var n int64
	err := s.DB(ctx).Model(&db.GameVersion{}).
		Where("game_name = ? AND version_string = ?", gv.GameName, gv.VersionString).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("checking game version %s %s: %w", gv.GameName, gv.VersionString, err)
	}
	if n > 0 {
		return validationf("game version %s %s already exists", gv.GameName, gv.VersionString)
	}
	if err := s.DB(ctx).Create(gv).Error; err != nil {
		return fmt.Errorf("creating game version %s %s: %w", gv.GameName, gv.VersionString, err)
	}
	return nil
}

// MarkDefault makes id its game's only default version. Call it inside a
// transaction so readers never see zero or two defaults.
func (s *Store) MarkDefault(ctx context.Context, id uint) (*db.GameVersion, error) {
	gv, err := s.GameVersion(ctx, id)
	if err != nil {
		return nil, err
	}
	err = s.DB(ctx).Model(&db.GameVersion{}).
		Where("game_name = ? AND is_default = ? AND id <> ?", gv.GameName, true, id).
		Update("is_default", false).Error
	if err != nil {
		return nil, fmt.Errorf("clearing default for %q: %w", gv.GameName, err)
	}
	if err := s.DB(ctx).Model(gv).Update("is_default", true).Error; err != nil {
		return nil, fmt.Errorf("marking game version %d default: %w", id, err)
	}
	gv.IsDefault = true
	return gv, nil
}

// DeleteGameVersion removes an unreferenced game version.
func (s *Store) DeleteGameVersion(ctx context.Context, id uint) error {
	if _, err := s.GameVersion(ctx, id); err != nil {
		return err
	}
	referenced, err := s.GameVersionReferenced(ctx, id)
	if err != nil {
		return err
	}
	if referenced {
		return validationf("game version %d is still referenced by mod versions", id)
	}
	if err := s.DB(ctx).Unscoped().Delete(&db.GameVersion{}, id).Error; err != nil {
		return fmt.Errorf("deleting game version %d: %w", id, err)
	}
	return nil
}

// --- mods ---

// Mod loads a mod by id.
func (s *Store) Mod(ctx context.Context, id uint) (*db.Mod, error) {
	return first[db.Mod](ctx, s.db, "mod", id)
}

// Mods lists mods, optionally restricted to one game.
func (s *Store) Mods(ctx context.Context, game string) ([]db.Mod, error) {
	var out []db.Mod
	q := s.DB(ctx).Order("id")
	if game != "" {
		q = q.Where("game_name = ?", game)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing mods: %w", err)
	}
	return out, nil
}

// CreateMod validates and inserts m as private unless a status is set.
func (s *Store) CreateMod(ctx context.Context, m *db.Mod) error {
	if err := s.validateMod(ctx, m); err != nil {
		return err
	}
	if m.Status == "" {
		m.Status = db.StatusPrivate
	}
	if err := s.DB(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("creating mod %q: %w", m.Name, err)
	}
	return nil
}

// SaveMod validates and persists every column of m.
func (s *Store) SaveMod(ctx context.Context, m *db.Mod) error {
	if err := s.validateMod(ctx, m); err != nil {
		return err
	}
	if err := s.DB(ctx).Save(m).Error; err != nil {
		return fmt.Errorf("saving mod %d: %w", m.ID, err)
	}
	return nil
}

func (s *Store) validateMod(ctx context.Context, m *db.Mod) error {
	if m.Name == "" {
		return validationf("mod name is required")
	}
	if m.GameName == "" {
		return validationf("mod game is required")
	}
	if len(m.AuthorIDs) == 0 {
		return validationf("mod %q needs at least one author", m.Name)
	}
	if !m.Status.Valid() && m.Status != "" {
		return validationf("unknown status %q", m.Status)
	}
	return s.ValidateReferences(ctx, References{AuthorIDs: m.AuthorIDs})
}

// --- mod versions ---

// ModVersion loads a mod version by id.
func (s *Store) ModVersion(ctx context.Context, id uint) (*db.ModVersion, error) {
	return first[db.ModVersion](ctx, s.db, "mod version", id)
}

// VersionsOfMod lists every version of a mod in id order.
func (s *Store) VersionsOfMod(ctx context.Context, modID uint) ([]db.ModVersion, error) {
	var out []db.ModVersion
	if err := s.DB(ctx).Where("mod_id = ?", modID).Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing versions of mod %d: %w", modID, err)
	}
	return out, nil
}

// Dependants lists versions whose DependencyIDs contain id.
func (s *Store) Dependants(ctx context.Context, id uint) ([]db.ModVersion, error) {
	var out []db.ModVersion
	err := s.DB(ctx).
		Where("EXISTS (SELECT 1 FROM json_each(mod_versions.dependency_ids) WHERE json_each.value = ?)", id).
		Order("id").Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("listing dependants of %d: %w", id, err)
	}
	return out, nil
}

// VersionsSupporting lists versions declaring support for gameVersionID,
// restricted to the given statuses when any are passed.
func (s *Store) VersionsSupporting(ctx context.Context, gameVersionID uint, statuses ...db.Status) ([]db.ModVersion, error) {
	var out []db.ModVersion
	q := s.DB(ctx).
		Where("EXISTS (SELECT 1 FROM json_each(mod_versions.supported_game_version_ids) WHERE json_each.value = ?)", gameVersionID)
	if len(statuses) > 0 {
		q = q.Where("status IN ?", statuses)
	}
	if err := q.Order("id").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing versions supporting %d: %w", gameVersionID, err)
	}
	return out, nil
}

// CreateModVersion validates and inserts v as private unless a status is set.
func (s *Store) CreateModVersion(ctx context.Context, v *db.ModVersion) error {
	if v.Status == "" {
		v.Status = db.StatusPrivate
	}
	if err := s.validateModVersion(ctx, v); err != nil {
		return err
	}
	if err := s.DB(ctx).Create(v).Error; err != nil {
		return fmt.Errorf("creating version %s of mod %d: %w", v.SemanticVersion, v.ModID, err)
	}
	return nil
}

// SaveModVersion validates and persists every column of v.
func (s *Store) SaveModVersion(ctx context.Context, v *db.ModVersion) error {
	if err := s.validateModVersion(ctx, v); err != nil {
		return err
	}
	if err := s.DB(ctx).Save(v).Error; err != nil {
		return fmt.Errorf("saving mod version %d: %w", v.ID, err)
	}
	return nil
}

// ValidateModVersion runs the row checks of CreateModVersion without writing.
func (s *Store) ValidateModVersion(ctx context.Context, v *db.ModVersion) error {
	return s.validateModVersion(ctx, v)
}

func (s *Store) validateModVersion(ctx context.Context, v *db.ModVersion) error {
	if !ValidSemver(v.SemanticVersion) {
		return validationf("%q is not a semantic version", v.SemanticVersion)
	}
	if !v.Status.Valid() {
		return validationf("unknown status %q", v.Status)
	}
	mod, err := s.Mod(ctx, v.ModID)
	if err != nil {
		return err
	}
	if len(v.SupportedGameVersionIDs) == 0 {
		return validationf("version %s supports no game version", v.SemanticVersion)
	}
	refs := References{DependencyIDs: v.DependencyIDs, GameVersionIDs: v.SupportedGameVersionIDs}
	if v.AuthorID != 0 {
		refs.AuthorIDs = []uint{v.AuthorID}
	}
	if err := s.ValidateReferences(ctx, refs); err != nil {
		return err
	}
	for _, gvID := range v.SupportedGameVersionIDs {
		gv, err := s.GameVersion(ctx, gvID)
		if err != nil {
			return err
		}
		if gv.GameName != mod.GameName {
			return validationf("game version %d belongs to %q, not %q", gvID, gv.GameName, mod.GameName)
		}
	}
	for _, depID := range v.DependencyIDs {
		if v.ID != 0 && depID == v.ID {
			return validationf("mod version %d cannot depend on itself", depID)
		}
		dep, err := s.ModVersion(ctx, depID)
		if err != nil {
			return err
		}
		if dep.ModID == v.ModID {
			return validationf("dependency %d is a version of the same mod", depID)
		}
		depMod, err := s.Mod(ctx, dep.ModID)
		if err != nil {
			return err
		}
		if depMod.GameName != mod.GameName {
			return validationf("dependency %d targets %q, not %q", depID, depMod.GameName, mod.GameName)
		}
	}
	return nil
}

// ValidateReferences checks that every foreign key in refs names an existing row.
func (s *Store) ValidateReferences(ctx context.Context, refs References) error {
	checks := []struct {
		model any
		kind  string
		ids   []uint
	}{
		{&db.User{}, "user", refs.AuthorIDs},
		{&db.ModVersion{}, "mod version", refs.DependencyIDs},
		{&db.GameVersion{}, "game version", refs.GameVersionIDs},
	}
	for _, c := range checks {
		ids := uniq(c.ids)
		if len(ids) == 0 {
			continue
		}
		var found []uint
		if err := s.DB(ctx).Model(c.model).Where("id IN ?", ids).Pluck("id", &found).Error; err != nil {
			return fmt.Errorf("checking %s references: %w", c.kind, err)
		}
		for _, id := range ids {
			if !slices.Contains(found, id) {
				return validationf("unknown %s %d", c.kind, id)
			}
		}
	}
	return nil
}

// TransitionStatus moves a Mod or ModVersion row to `to` only if its current
// status is one of from. It reports whether the row was changed.
func (s *Store) TransitionStatus(ctx context.Context, table string, id uint, from []db.Status, to db.Status, actorID *uint) (bool, error) {
	var model any
	switch table {
	case db.TableMods:
		model = &db.Mod{}
	case db.TableModVersions:
		model = &db.ModVersion{}
	default:
		return false, validationf("unknown table %q", table)
	}
	updates := map[string]any{"status": to}
	if actorID != nil {
		updates["last_approved_by"] = *actorID
	}
	res := s.DB(ctx).Model(model).Where("id = ? AND status IN ?", id, from).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("updating status of %s %d: %w", table, id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

// --- edit proposals ---

// Proposal loads an edit proposal by id.
func (s *Store) Proposal(ctx context.Context, id uint) (*db.EditProposal, error) {
	return first[db.EditProposal](ctx, s.db, "edit proposal", id)
}

// PendingProposals lists unresolved proposals oldest first. limit <= 0 means
// no limit.
func (s *Store) PendingProposals(ctx context.Context, limit int) ([]db.EditProposal, error) {
	var out []db.EditProposal
	q := s.DB(ctx).Where("approved IS NULL").Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("listing pending proposals: %w", err)
	}
	return out, nil
}

// CreateProposal inserts a pending proposal.
func (s *Store) CreateProposal(ctx context.Context, p *db.EditProposal) error {
	if err := s.DB(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("creating edit proposal for %s %d: %w", p.TargetTable, p.TargetID, err)
	}
	return nil
}

// ResolveProposal is the compare-and-set gate on a proposal: it writes the
// decision only while the proposal is still pending. Returns false when
// somebody else resolved it first.
func (s *Store) ResolveProposal(ctx context.Context, id uint, approved bool, approverID uint) (bool, error) {
	res := s.DB(ctx).Model(&db.EditProposal{}).
		Where("id = ? AND approved IS NULL", id).
		Updates(map[string]any{"approved": approved, "approver_id": approverID})
	if res.Error != nil {
		return false, fmt.Errorf("resolving edit proposal %d: %w", id, res.Error)
	}
	return res.RowsAffected == 1, nil
}

func uniq(ids []uint) []uint {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}

// Owner loads the mod that target belongs to, which decides the game and the
// authors for permission checks.
func (s *Store) Owner(ctx context.Context, target Target) (*db.Mod, error) {
	switch target.Table {
	case db.TableMods:
		return s.Mod(ctx, target.ID)
	case db.TableModVersions:
		v, err := s.ModVersion(ctx, target.ID)
		if err != nil {
			return nil, err
		}
		return s.Mod(ctx, v.ModID)
	default:
		return nil, validationf("unknown target table %q", target.Table)
	}
}

// Status returns the current status of target.
func (s *Store) Status(ctx context.Context, target Target) (db.Status, error) {
	switch target.Table {
	case db.TableMods:
		m, err := s.Mod(ctx, target.ID)
		if err != nil {
			return "", err
		}
		return m.Status, nil
	case db.TableModVersions:
		v, err := s.ModVersion(ctx, target.ID)
		if err != nil {
			return "", err
		}
		return v.Status, nil
	default:
		return "", validationf("unknown target table %q", target.Table)
	}
}

// CheckPatch applies patch to a copy of target and runs the row checks a save
// would run. Nothing is written.
func (s *Store) CheckPatch(ctx context.Context, target Target, patch Patch) error {
	switch p := patch.(type) {
	case ModPatch:
		m, err := s.Mod(ctx, target.ID)
		if err != nil {
			return err
		}
		p.ApplyTo(m)
		return s.validateMod(ctx, m)
	case VersionPatch:
		v, err := s.ModVersion(ctx, target.ID)
		if err != nil {
			return err
		}
		p.ApplyTo(v)
		return s.validateModVersion(ctx, v)
	default:
		return validationf("unsupported patch %T", patch)
	}
}
