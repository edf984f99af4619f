package catalog

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

// canonical prefixes the "v" that x/mod/semver expects.
func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}

// ValidSemver reports whether v is a full major.minor.patch semantic version.
func ValidSemver(v string) bool {
	c := canonical(v)
	if !semver.IsValid(c) {
		return false
	}
	core := strings.TrimPrefix(c, "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	return strings.Count(core, ".") == 2
}

// CompareSemver orders two versions by semantic-versioning precedence.
func CompareSemver(a, b string) int {
	return semver.Compare(canonical(a), canonical(b))
}

// CaretMatch reports whether v satisfies ^base: at least base, and no change
// to the left-most non-zero component of base.
func CaretMatch(base, v string) bool {
	cb, cv := canonical(base), canonical(v)
	if !semver.IsValid(cb) || !semver.IsValid(cv) {
		return false
	}
	if semver.Compare(cv, cb) < 0 {
		return false
	}
	bMaj, bMin, bPat := parts(cb)
	vMaj, vMin, vPat := parts(cv)
	switch {
	case bMaj != 0:
		return vMaj == bMaj
	case bMin != 0:
		return vMaj == 0 && vMin == bMin
	default:
		return vMaj == 0 && vMin == 0 && vPat == bPat
	}
}

func parts(c string) (major, minor, patch int) {
	core := strings.TrimPrefix(semver.Canonical(c), "v")
	if i := strings.IndexAny(core, "-+"); i >= 0 {
		core = core[:i]
	}
	fields := strings.SplitN(core, ".", 3)
	nums := make([]int, 3)
	for i, f := range fields {
		nums[i], _ = strconv.Atoi(f)
	}
	return nums[0], nums[1], nums[2]
}
