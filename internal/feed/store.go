// Package feed holds the in-memory post collection, its expiry sweep and the channel
// visibility rules. Store is not safe for concurrent use; one goroutine owns it.
package feed

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/d60-Lab/townhall/internal/model"
)

var ErrInvalidVote = errors.New("vote delta must be +1 or -1")

const (
	WelcomePostID  = "sys-init"
	welcomeVotes   = 999
	welcomeMessage = "Secure connection established. The Gavel is active. Identity masked. Speak your truth."
)

// Author is the identity snapshot stamped on a post.
type Author struct {
	Codename string
	Kind     model.AuthorKind
}

// Draft is a validated submission waiting to become a post.
type Draft struct {
	Content  string
	Author   Author
	Channel  model.Channel
	Location *model.Location
	GroupID  string
	Tags     []string
}

// CampaignDraft is a paid promotion, already charged.
type CampaignDraft struct {
	Content      string
	Author       Author
	Duration     time.Duration
	Interests    []string
	Demographics string
	Cost         int64
}

// Store is the ordered post collection, newest first.
type Store struct {
	posts    []*model.Post
	lifetime time.Duration
	newID    func() string
}

func NewStore() *Store {
	return &Store{lifetime: model.PostLifetime, newID: uuid.NewString}
}

// Seed inserts the system welcome post.
func (s *Store) Seed(now time.Time) {
	s.posts = append(s.posts, &model.Post{
		ID:             WelcomePostID,
		Content:        welcomeMessage,
		AuthorCodename: "SYSTEM",
		AuthorKind:     model.AuthorStandard,
		Timestamp:      now,
		Votes:          welcomeVotes,
		Status:         model.StatusForVotes(welcomeVotes),
		Tags:           []string{"#SECURE"},
		Channel:        model.ChannelGlobal,
	})
}

// Create stores a standard or group post expiring after the fixed lifetime.
func (s *Store) Create(d Draft, now time.Time) *model.Post {
	channel := d.Channel
	if channel == model.ChannelBusiness {
		channel = model.ChannelGlobal
	}
	groupID := ""
	if channel == model.ChannelGroup {
		groupID = d.GroupID
	}
	tags := d.Tags
	if tags == nil {
		tags = []string{}
	}
	p := s.newPost(d.Content, d.Author, channel, now)
	p.Tags = append([]string(nil), tags...)
	p.GroupID = groupID
	if d.Location != nil {
		loc := *d.Location
		p.Location = &loc
	}
	s.posts = append([]*model.Post{p}, s.posts...)
	out := p.Clone()
	return &out
}

// AddCampaign stores a business post that expires when the paid duration elapses.
func (s *Store) AddCampaign(d CampaignDraft, now time.Time) *model.Post {
	interests := append([]string(nil), d.Interests...)
	if len(interests) == 0 {
		interests = []string{"General"}
	}
	demographics := d.Demographics
	if demographics == "" {
		demographics = model.DefaultDemographic
	}
	p := s.newPost(d.Content, Author{Codename: d.Author.Codename, Kind: model.AuthorBusiness}, model.ChannelGlobal, now)
	exp := now.Add(d.Duration)
	p.ExpiresAt = &exp
	p.Tags = []string{"#PROMOTED"}
	p.Campaign = &model.Campaign{
		Config:  model.CampaignConfig{Interests: interests, Demographics: demographics},
		Metrics: model.CampaignMetrics{Cost: d.Cost},
	}
	s.posts = append([]*model.Post{p}, s.posts...)
	out := p.Clone()
	return &out
}

func (s *Store) newPost(content string, a Author, channel model.Channel, now time.Time) *model.Post {
	exp := now.Add(s.lifetime)
	p := &model.Post{
		ID:             s.newID(),
		Content:        content,
		AuthorCodename: a.Codename,
		AuthorKind:     a.Kind,
		Timestamp:      now,
		ExpiresAt:      &exp,
		Status:         model.StatusActive,
		Channel:        channel,
	}
	if p.IsBusiness() {
		// unpaid business posts still carry the campaign payload, at zero cost
		p.Campaign = &model.Campaign{Config: model.CampaignConfig{Interests: []string{"General"}, Demographics: model.DefaultDemographic}}
	}
	return p
}

// Vote applies delta and re-derives status. Unknown ids are ignored.
func (s *Store) Vote(id string, delta int) (*model.Post, error) {
	if delta != 1 && delta != -1 {
		return nil, ErrInvalidVote
	}
	p := s.find(id)
	if p == nil {
		return nil, nil
	}
	p.Votes += delta
	p.Status = model.StatusForVotes(p.Votes)
	out := p.Clone()
	return &out, nil
}

// Keep exempts a post from expiry. Idempotent; unknown ids are ignored.
func (s *Store) Keep(id string) *model.Post {
	p := s.find(id)
	if p == nil {
		return nil
	}
	p.IsKept = true
	out := p.Clone()
	return &out
}

// Reply appends a one-level child to parentID. Returns nil when the parent is gone.
func (s *Store) Reply(parentID string, d Draft, now time.Time) *model.Post {
	parent := s.find(parentID)
	if parent == nil {
		return nil
	}
	r := s.newPost(d.Content, d.Author, parent.Channel, now)
	r.Tags = []string{}
	parent.Replies = append(parent.Replies, *r)
	out := r.Clone()
	return &out
}

// Get returns a copy of the post with id.
func (s *Store) Get(id string) (model.Post, bool) {
	p := s.find(id)
	if p == nil {
		return model.Post{}, false
	}
	return p.Clone(), true
}

// Len is the number of top-level posts.
func (s *Store) Len() int { return len(s.posts) }

// Snapshot deep-copies the collection for readers.
func (s *Store) Snapshot() []model.Post {
	out := make([]model.Post, len(s.posts))
	for i, p := range s.posts {
		out[i] = p.Clone()
	}
	return out
}

func (s *Store) find(id string) *model.Post {
	for _, p := range s.posts {
		if p.ID == id {
			return p
		}
	}
	return nil
}
