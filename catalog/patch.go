package catalog

import (
	"encoding/json"
	"fmt"

	"modcatalog/db"
)

// Patch is a partial update against one catalog table.
type Patch interface {
	// Table is the db table the patch targets.
	Table() string
	// Empty reports whether no field was provided.
	Empty() bool
	// References lists foreign keys named by the patch.
	References() References
}

// References groups the foreign-key-shaped values of a patch or a row.
type References struct {
	AuthorIDs      []uint
	DependencyIDs  []uint
	GameVersionIDs []uint
}

// ModPatch is a partial update of a Mod.
type ModPatch struct {
	Name        Optional[string] `json:"name,omitzero"`
	Summary     Optional[string] `json:"summary,omitzero"`
	Description Optional[string] `json:"description,omitzero"`
	Category    Optional[string] `json:"category,omitzero"`
	AuthorIDs   Optional[[]uint] `json:"author_ids,omitzero"`
	GitURL      Optional[string] `json:"git_url,omitzero"`
	IconRef     Optional[string] `json:"icon_ref,omitzero"`
}

func (p ModPatch) Table() string { return db.TableMods }

func (p ModPatch) Empty() bool {
	return !p.Name.IsSet() && !p.Summary.IsSet() && !p.Description.IsSet() &&
		!p.Category.IsSet() && !p.AuthorIDs.IsSet() && !p.GitURL.IsSet() && !p.IconRef.IsSet()
}

func (p ModPatch) References() References {
	ids, _ := p.AuthorIDs.Get()
	return References{AuthorIDs: ids}
}

// ApplyTo overwrites every provided field of m.
func (p ModPatch) ApplyTo(m *db.Mod) {
	p.Name.Apply(&m.Name)
	p.Summary.Apply(&m.Summary)
	p.Description.Apply(&m.Description)
	p.Category.Apply(&m.Category)
	if ids, ok := p.AuthorIDs.Get(); ok {
		m.AuthorIDs = append([]uint(nil), ids...)
	}
	p.GitURL.Apply(&m.GitURL)
	p.IconRef.Apply(&m.IconRef)
}

// VersionPatch is a partial update of a ModVersion.
type VersionPatch struct {
	SemanticVersion         Optional[string] `json:"semantic_version,omitzero"`
	SupportedGameVersionIDs Optional[[]uint] `json:"supported_game_version_ids,omitzero"`
	DependencyIDs           Optional[[]uint] `json:"dependency_ids,omitzero"`
	Platform                Optional[string] `json:"platform,omitzero"`
}

func (p VersionPatch) Table() string { return db.TableModVersions }

func (p VersionPatch) Empty() bool {
	return !p.SemanticVersion.IsSet() && !p.SupportedGameVersionIDs.IsSet() &&
		!p.DependencyIDs.IsSet() && !p.Platform.IsSet()
}

func (p VersionPatch) References() References {
	deps, _ := p.DependencyIDs.Get()
	gvs, _ := p.SupportedGameVersionIDs.Get()
	return References{DependencyIDs: deps, GameVersionIDs: gvs}
}

// ApplyTo overwrites every provided field of v.
func (p VersionPatch) ApplyTo(v *db.ModVersion) {
	p.SemanticVersion.Apply(&v.SemanticVersion)
	if ids, ok := p.SupportedGameVersionIDs.Get(); ok {
		v.SupportedGameVersionIDs = append([]uint(nil), ids...)
	}
	if ids, ok := p.DependencyIDs.Get(); ok {
		v.DependencyIDs = append([]uint(nil), ids...)
	}
	p.Platform.Apply(&v.Platform)
}

// EncodePatch serializes a patch for EditProposal.ProposedFields.
func EncodePatch(p Patch) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding %s patch: %w", p.Table(), err)
	}
	return b, nil
}

// DecodePatch restores the patch stored on a proposal.
func DecodePatch(proposal *db.EditProposal) (Patch, error) {
	switch proposal.TargetTable {
	case db.TableMods:
		var p ModPatch
		if err := proposal.DecodeFields(&p); err != nil {
			return nil, fmt.Errorf("decoding proposal %d: %w", proposal.ID, err)
		}
		return p, nil
	case db.TableModVersions:
		var p VersionPatch
		if err := proposal.DecodeFields(&p); err != nil {
			return nil, fmt.Errorf("decoding proposal %d: %w", proposal.ID, err)
		}
		return p, nil
	default:
		return nil, validationf("unknown target table %q", proposal.TargetTable)
	}
}

// Target identifies one Mod or ModVersion row.
type Target struct {
	Table string
	ID    uint
}

// ModTarget targets the mod with the given id.
func ModTarget(id uint) Target { return Target{Table: db.TableMods, ID: id} }

// VersionTarget targets the mod version with the given id.
func VersionTarget(id uint) Target { return Target{Table: db.TableModVersions, ID: id} }

func (t Target) String() string {
	if t.Table == db.TableMods {
		return fmt.Sprintf("mod %d", t.ID)
	}
	return fmt.Sprintf("mod version %d", t.ID)
}

// ParseTable accepts the user-facing spellings of the two target tables.
func ParseTable(s string) (string, error) {
	switch s {
	case "mod", "mods":
		return db.TableMods, nil
	case "version", "mod_version", "mod_versions", "modVersions":
		return db.TableModVersions, nil
	}
	return "", validationf("unknown target table %q", s)
}
