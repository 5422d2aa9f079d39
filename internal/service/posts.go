package service

import (
	"context"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/d60-Lab/townhall/internal/feed"
	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/pkg/logger"
)

func validateContent(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyContent
	}
	if utf8.RuneCountInString(text) > model.MaxContentLength {
		return ErrContentTooLong
	}
	return nil
}

func authorOf(u *model.UserIdentity) feed.Author {
	return feed.Author{Codename: u.Codename, Kind: u.Kind}
}

// Post classifies text and files it under the session's current channel. The classifier
// runs on the caller's goroutine; only one Post per session may be in flight.
func (t *Townhall) Post(ctx context.Context, session, text string, req ViewRequest) (*model.Post, error) {
	if err := validateContent(text); err != nil {
		return nil, err
	}
	if !t.acquireComposer(session) {
		return nil, ErrComposerBusy
	}
	defer t.releaseComposer(session)

	author, err := t.identities.GetOrCreate(ctx, session)
	if err != nil {
		return nil, err
	}

	var (
		v    feed.Viewer
		rerr error
	)
	if err := t.do(ctx, func() { v, rerr = t.resolve(session, req) }); err != nil {
		return nil, err
	}
	if rerr != nil {
		return nil, rerr
	}
	switch v.Channel {
	case model.ChannelLocal:
		if v.Location == nil {
			return nil, ErrLocationRequired
		}
	case model.ChannelGroup:
		if v.GroupID == "" {
			return nil, ErrNoActiveGroup
		}
	}

	tags := t.tagger.Classify(ctx, text)

	var p *model.Post
	err = t.do(ctx, func() {
		p = t.posts.Create(feed.Draft{
			Content:  text,
			Author:   authorOf(author),
			Channel:  v.Channel,
			Location: v.Location,
			GroupID:  v.GroupID,
			Tags:     tags,
		}, t.now())
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("post created", zap.String("id", p.ID), zap.String("channel", string(p.Channel)), zap.Strings("tags", p.Tags))
	t.metrics.PostCreated(string(p.Channel))
	t.publish(Event{Type: EventPost, PostID: p.ID, Channel: p.Channel})
	return p, nil
}

// Reply attaches text under parentID. A vanished parent yields (nil, nil).
func (t *Townhall) Reply(ctx context.Context, session, parentID, text string) (*model.Post, error) {
	if err := validateContent(text); err != nil {
		return nil, err
	}
	author, err := t.identities.GetOrCreate(ctx, session)
	if err != nil {
		return nil, err
	}
	var r *model.Post
	err = t.do(ctx, func() {
		r = t.posts.Reply(parentID, feed.Draft{Content: text, Author: authorOf(author)}, t.now())
	})
	if err != nil || r == nil {
		return nil, err
	}
	t.metrics.PostCreated(string(r.Channel))
	t.publish(Event{Type: EventReply, PostID: parentID, Channel: r.Channel})
	return r, nil
}

// Vote applies ±1. Unknown ids yield (nil, nil).
func (t *Townhall) Vote(ctx context.Context, postID string, delta int) (*model.Post, error) {
	var (
		p    *model.Post
		verr error
	)
	if err := t.do(ctx, func() { p, verr = t.posts.Vote(postID, delta) }); err != nil {
		return nil, err
	}
	if verr != nil || p == nil {
		return nil, verr
	}
	t.metrics.Voted(delta)
	t.publish(Event{Type: EventVote, PostID: p.ID, Channel: p.Channel})
	return p, nil
}

// Keep exempts a post from expiry. Unknown ids yield (nil, nil).
func (t *Townhall) Keep(ctx context.Context, postID string) (*model.Post, error) {
	var p *model.Post
	if err := t.do(ctx, func() { p = t.posts.Keep(postID) }); err != nil {
		return nil, err
	}
	if p != nil {
		t.publish(Event{Type: EventKeep, PostID: p.ID, Channel: p.Channel})
	}
	return p, nil
}
