// Package group keeps invite-coded private channels and each session's memberships.
// Registry is not safe for concurrent use.
package group

import (
	"errors"
	mrand "math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/townhall/internal/model"
)

var (
	ErrEmptyName   = errors.New("group name is required")
	ErrInvalidCode = errors.New("invalid access code")
	ErrNotMember   = errors.New("not a member of this group")
)

const codeAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

type Registry struct {
	groups []*model.Group
	byID   map[string]*model.Group
	joined map[string][]string // session -> group ids in join order
	active map[string]string
	newID  func() string
	code   func() string
}

func NewRegistry() *Registry {
	return &Registry{
		byID:   make(map[string]*model.Group),
		joined: make(map[string][]string),
		active: make(map[string]string),
		newID:  uuid.NewString,
		code:   InviteCode,
	}
}

// InviteCode returns 6 random uppercase alphanumerics. Collisions are not checked.
func InviteCode() string {
	b := make([]byte, model.InviteCodeLength)
	for i := range b {
		b[i] = codeAlphabet[mrand.IntN(len(codeAlphabet))]
	}
	return string(b)
}

// Load restores previously persisted groups. Memberships are not restored.
func (r *Registry) Load(groups []model.Group) {
	for i := range groups {
		if _, ok := r.byID[groups[i].ID]; ok {
			continue
		}
		g := groups[i]
		r.groups = append(r.groups, &g)
		r.byID[g.ID] = &g
	}
}

// Create registers a group, joins its creator and makes it the creator's active group.
func (r *Registry) Create(name, creatorHash, session string, now time.Time) (model.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return model.Group{}, ErrEmptyName
	}
	g := &model.Group{
		ID:          r.newID(),
		Name:        name,
		CreatorHash: creatorHash,
		InviteCode:  r.code(),
		CreatedAt:   now,
	}
	r.groups = append(r.groups, g)
	r.byID[g.ID] = g
	r.join(session, g.ID)
	return *g, nil
}

// Join looks the code up case-insensitively, joins and activates the group.
func (r *Registry) Join(code, session string) (model.Group, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return model.Group{}, ErrInvalidCode
	}
	for _, g := range r.groups {
		if g.InviteCode == code {
			r.join(session, g.ID)
			return *g, nil
		}
	}
	return model.Group{}, ErrInvalidCode
}

func (r *Registry) join(session, id string) {
	if !r.IsMember(session, id) {
		r.joined[session] = append(r.joined[session], id)
	}
	r.active[session] = id
}

func (r *Registry) IsMember(session, id string) bool {
	for _, j := range r.joined[session] {
		if j == id {
			return true
		}
	}
	return false
}

// Joined lists the session's groups in join order.
func (r *Registry) Joined(session string) []model.Group {
	ids := r.joined[session]
	out := make([]model.Group, 0, len(ids))
	for _, id := range ids {
		if g, ok := r.byID[id]; ok {
			out = append(out, *g)
		}
	}
	return out
}

func (r *Registry) Active(session string) (model.Group, bool) {
	g, ok := r.byID[r.active[session]]
	if !ok {
		return model.Group{}, false
	}
	return *g, true
}

// SetActive switches the session to a group it already joined.
func (r *Registry) SetActive(session, id string) error {
	if !r.IsMember(session, id) {
		return ErrNotMember
	}
	r.active[session] = id
	return nil
}

// View hides the invite code from everyone but the creator.
func View(g model.Group, viewerHash string) model.Group {
	if g.CreatorHash != viewerHash {
		g.InviteCode = ""
	}
	return g
}
