package db

import (
	"encoding/json"
	"slices"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Status is the moderation state shared by Mod and ModVersion rows.
type Status string

const (
	StatusPrivate    Status = "private"
	StatusUnverified Status = "unverified"
	StatusVerified   Status = "verified"
	StatusRemoved    Status = "removed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPrivate, StatusUnverified, StatusVerified, StatusRemoved:
		return true
	}
	return false
}

// Table names used by EditProposal.TargetTable and by cache partitions.
const (
	TableMods        = "mods"
	TableModVersions = "mod_versions"
)

// User is a catalog identity. Permissions are stored as strings such as
// "admin", "approve:<game>" or "post:<game>".
type User struct {
	gorm.Model
	Name        string `gorm:"uniqueIndex"`
	Permissions datatypes.JSONSlice[string]
}

// GameVersion is an immutable (game, version string) pair. Only IsDefault may
// change once a ModVersion references it.
type GameVersion struct {
	gorm.Model
	GameName      string `gorm:"uniqueIndex:idx_game_version"`
	VersionString string `gorm:"uniqueIndex:idx_game_version"`
	IsDefault     bool   `gorm:"index"`
}

// Mod is a cataloged package targeting one game.
type Mod struct {
	gorm.Model
	Name           string `gorm:"index"`
	Summary        string
	Description    string `gorm:"type:text"`
	Category       string
	GameName       string                    `gorm:"index"`
	AuthorIDs      datatypes.JSONSlice[uint] `gorm:"column:author_ids"`
	GitURL         string
	IconRef        string
	Status         Status `gorm:"index;default:private"`
	LastApprovedBy *uint
}

// HasAuthor reports whether userID is one of the mod's authors.
func (m *Mod) HasAuthor(userID uint) bool {
	return slices.Contains(m.AuthorIDs, userID)
}

// ContentDescriptor records what the artifact store extracted from an
// uploaded archive.
type ContentDescriptor struct {
	ArchiveHash string            `json:"archive_hash"`
	FileHashes  map[string]string `json:"file_hashes,omitempty"`
}

// ModVersion is one concrete release of a Mod. DependencyIDs pin other
// ModVersions, never Mods.
type ModVersion struct {
	gorm.Model
	ModID                   uint `gorm:"index;uniqueIndex:idx_mod_release"`
	AuthorID                uint
	SemanticVersion         string                    `gorm:"uniqueIndex:idx_mod_release"`
	SupportedGameVersionIDs datatypes.JSONSlice[uint] `gorm:"column:supported_game_version_ids"`
	DependencyIDs           datatypes.JSONSlice[uint] `gorm:"column:dependency_ids"`
	Platform                string                    `gorm:"uniqueIndex:idx_mod_release"`
	Status                  Status                    `gorm:"index;default:private"`
	Content                 datatypes.JSONType[ContentDescriptor]
	FileSize                int64
	DownloadCount           int64
	LastApprovedBy          *uint
}

// Supports reports whether the version declares support for gameVersionID.
func (v *ModVersion) Supports(gameVersionID uint) bool {
	return slices.Contains(v.SupportedGameVersionIDs, gameVersionID)
}

// DependsOn reports whether the version pins versionID as a dependency.
func (v *ModVersion) DependsOn(versionID uint) bool {
	return slices.Contains(v.DependencyIDs, versionID)
}

// EditProposal is a single-application change request against a Mod or a
// ModVersion. Approved is write-once: nil while pending.
type EditProposal struct {
	gorm.Model
	SubmitterID    uint   `gorm:"index"`
	TargetTable    string `gorm:"index:idx_proposal_target"`
	TargetID       uint   `gorm:"index:idx_proposal_target"`
	ProposedFields datatypes.JSON
	ApproverID     *uint
	Approved       *bool `gorm:"index"`
}

// Decision is the resolved-or-not state of a proposal. The concrete types are
// Pending, Approved and Denied.
type Decision interface {
	decision()
}

// Pending means nobody has resolved the proposal yet.
type Pending struct{}

// Approved means the proposal was applied by By.
type Approved struct{ By uint }

// Denied means the proposal was rejected by By.
type Denied struct{ By uint }

func (Pending) decision()  {}
func (Approved) decision() {}
func (Denied) decision()   {}

// Decision converts the nullable columns into a Decision.
func (p *EditProposal) Decision() Decision {
	if p.Approved == nil {
		return Pending{}
	}
	var by uint
	if p.ApproverID != nil {
		by = *p.ApproverID
	}
	if *p.Approved {
		return Approved{By: by}
	}
	return Denied{By: by}
}

// IsPending reports whether the proposal can still be resolved.
func (p *EditProposal) IsPending() bool {
	return p.Approved == nil
}

// DecodeFields unmarshals the proposed fields into dst.
func (p *EditProposal) DecodeFields(dst any) error {
	return json.Unmarshal(p.ProposedFields, dst)
}
