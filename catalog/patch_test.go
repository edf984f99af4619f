package catalog

import (
	"errors"
	"testing"

	"gorm.io/datatypes"

	"modcatalog/db"
)

func TestOptionalDistinguishesClearFromAbsent(t *testing.T) {
	var p ModPatch
	p.Summary = Some("")

	raw, err := EncodePatch(p)
	if err != nil {
		t.Fatalf("EncodePatch() error = %v", err)
	}
	if string(raw) != `{"summary":""}` {
		t.Fatalf("EncodePatch() = %s, want only the provided field", raw)
	}

	decoded, err := DecodePatch(&db.EditProposal{TargetTable: db.TableMods, ProposedFields: datatypes.JSON(raw)})
	if err != nil {
		t.Fatalf("DecodePatch() error = %v", err)
	}
	m := &db.Mod{Name: "keep", Summary: "old"}
	decoded.(ModPatch).ApplyTo(m)
	if m.Summary != "" {
		t.Errorf("Summary = %q, want cleared", m.Summary)
	}
	if m.Name != "keep" {
		t.Errorf("Name = %q, want untouched", m.Name)
	}
}

func TestVersionPatchApplyTo(t *testing.T) {
	v := &db.ModVersion{
		SemanticVersion:         "1.0.0",
		SupportedGameVersionIDs: []uint{1},
		DependencyIDs:           []uint{7},
		Platform:                "fabric",
	}
	p := VersionPatch{
		SupportedGameVersionIDs: Some([]uint{1, 2}),
		DependencyIDs:           Some([]uint{}),
	}
	if p.Empty() {
		t.Fatal("Empty() = true for a patch with fields")
	}
	p.ApplyTo(v)

	if len(v.SupportedGameVersionIDs) != 2 || v.SupportedGameVersionIDs[1] != 2 {
		t.Errorf("SupportedGameVersionIDs = %v, want [1 2]", v.SupportedGameVersionIDs)
	}
	if len(v.DependencyIDs) != 0 {
		t.Errorf("DependencyIDs = %v, want cleared", v.DependencyIDs)
	}
	if v.SemanticVersion != "1.0.0" || v.Platform != "fabric" {
		t.Errorf("absent fields changed: %+v", v)
	}
	refs := p.References()
	if len(refs.GameVersionIDs) != 2 || len(refs.DependencyIDs) != 0 {
		t.Errorf("References() = %+v", refs)
	}
}

func TestDecodePatchUnknownTable(t *testing.T) {
	_, err := DecodePatch(&db.EditProposal{TargetTable: "users", ProposedFields: datatypes.JSON(`{}`)})
	if !errors.Is(err, ErrValidation) {
		t.Errorf("DecodePatch() error = %v, want ErrValidation", err)
	}
}

func TestParseTable(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"mod", db.TableMods, true},
		{"version", db.TableModVersions, true},
		{"modVersions", db.TableModVersions, true},
		{"users", "", false},
	}
	for _, tt := range tests {
		got, err := ParseTable(tt.in)
		if (err == nil) != tt.ok || got != tt.want {
			t.Errorf("ParseTable(%q) = %q, %v", tt.in, got, err)
		}
	}
}
