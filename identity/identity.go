// Package identity turns catalog users into actors with named permissions.
// Session and credential handling live outside this module; callers arrive
// here already knowing who they are.
package identity

import (
	"context"
	"fmt"
	"strings"

	"modcatalog/catalog"
	"modcatalog/db"
)

// Verb is the kind of a permission.
type Verb string

const (
	VerbAdmin   Verb = "admin"
	VerbApprove Verb = "approve"
	VerbPost    Verb = "post"
)

// Permission is a verb optionally scoped to one game.
type Permission struct {
	Verb Verb
	Game string
}

// Admin grants every permission.
func Admin() Permission { return Permission{Verb: VerbAdmin} }

// Approve lets a moderator resolve reviews for game.
func Approve(game string) Permission { return Permission{Verb: VerbApprove, Game: game} }

// Post lets a user publish mods for game.
func Post(game string) Permission { return Permission{Verb: VerbPost, Game: game} }

func (p Permission) String() string {
	if p.Game == "" {
		return string(p.Verb)
	}
	return string(p.Verb) + ":" + p.Game
}

// ParsePermission reads the "verb" or "verb:game" form stored on users.
func ParsePermission(s string) (Permission, error) {
	verb, game, _ := strings.Cut(strings.TrimSpace(s), ":")
	switch Verb(verb) {
	case VerbAdmin:
		return Admin(), nil
	case VerbApprove, VerbPost:
		if game == "" {
			return Permission{}, fmt.Errorf("%w: permission %q needs a game", catalog.ErrValidation, s)
		}
		return Permission{Verb: Verb(verb), Game: game}, nil
	default:
		return Permission{}, fmt.Errorf("%w: unknown permission %q", catalog.ErrValidation, s)
	}
}

// Actor is the caller of a core operation.
type Actor struct {
	ID          uint
	Name        string
	Permissions []Permission
}

// Can reports whether the actor holds p, admins holding everything.
func (a Actor) Can(p Permission) bool {
	for _, have := range a.Permissions {
		if have.Verb == VerbAdmin || have == p {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the actor holds Admin.
func (a Actor) IsAdmin() bool {
	return a.Can(Admin())
}

// Require fails with catalog.ErrUnauthorized unless the actor holds one of perms.
func Require(a Actor, perms ...Permission) error {
	for _, p := range perms {
		if a.Can(p) {
			return nil
		}
	}
	names := make([]string, len(perms))
	for i, p := range perms {
		names[i] = p.String()
	}
	return fmt.Errorf("%w: user %d lacks %s", catalog.ErrUnauthorized, a.ID, strings.Join(names, " or "))
}

// FromUser builds an Actor from a user row.
func FromUser(u *db.User) (Actor, error) {
	a := Actor{ID: u.ID, Name: u.Name}
	for _, raw := range u.Permissions {
		p, err := ParsePermission(raw)
		if err != nil {
			return Actor{}, err
		}
		a.Permissions = append(a.Permissions, p)
	}
	return a, nil
}

// Provider yields the actor behind the current call.
type Provider interface {
	CurrentActor(ctx context.Context) (Actor, error)
}

// StoreProvider resolves a fixed user name against the users table.
type StoreProvider struct {
	Store *catalog.Store
	Name  string
}

func (p StoreProvider) CurrentActor(ctx context.Context) (Actor, error) {
	if p.Name == "" {
		return Actor{}, fmt.Errorf("%w: no acting user configured", catalog.ErrUnauthorized)
	}
	u, err := p.Store.UserByName(ctx, p.Name)
	if err != nil {
		return Actor{}, err
	}
	return FromUser(u)
}
