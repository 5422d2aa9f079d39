package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/d60-Lab/townhall/internal/group"
	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/pkg/logger"
)

// GroupList is what a session sees of its groups.
type GroupList struct {
	Groups   []model.Group `json:"groups"`
	ActiveID string        `json:"activeId,omitempty"`
}

// CreateGroup registers a group; the creator joins it and sees the invite code.
func (t *Townhall) CreateGroup(ctx context.Context, session, name string) (model.Group, error) {
	u, err := t.identities.GetOrCreate(ctx, session)
	if err != nil {
		return model.Group{}, err
	}
	var (
		g    model.Group
		gerr error
	)
	if err := t.do(ctx, func() { g, gerr = t.groups.Create(name, u.SessionHash, session, t.now()) }); err != nil {
		return model.Group{}, err
	}
	if gerr != nil {
		return model.Group{}, gerr
	}
	if t.archiver != nil {
		t.archiver.EnqueueGroup(g)
	}
	logger.Info("group created", zap.String("id", g.ID), zap.String("name", g.Name))
	return group.View(g, u.SessionHash), nil
}

// JoinGroup joins by invite code and switches the session to the group.
func (t *Townhall) JoinGroup(ctx context.Context, session, code string) (model.Group, error) {
	u, err := t.identities.GetOrCreate(ctx, session)
	if err != nil {
		return model.Group{}, err
	}
	var (
		g    model.Group
		gerr error
	)
	if err := t.do(ctx, func() { g, gerr = t.groups.Join(code, session) }); err != nil {
		return model.Group{}, err
	}
	if gerr != nil {
		return model.Group{}, gerr
	}
	return group.View(g, u.SessionHash), nil
}

// Groups lists the session's joined groups in join order.
func (t *Townhall) Groups(ctx context.Context, session string) (GroupList, error) {
	u, err := t.identities.GetOrCreate(ctx, session)
	if err != nil {
		return GroupList{}, err
	}
	var list GroupList
	err = t.do(ctx, func() {
		joined := t.groups.Joined(session)
		list.Groups = make([]model.Group, 0, len(joined))
		for _, g := range joined {
			list.Groups = append(list.Groups, group.View(g, u.SessionHash))
		}
		if g, ok := t.groups.Active(session); ok {
			list.ActiveID = g.ID
		}
	})
	return list, err
}
