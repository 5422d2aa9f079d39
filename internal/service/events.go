package service

import (
	"time"

	"github.com/d60-Lab/townhall/internal/model"
)

type EventType string

const (
	EventTick     EventType = "tick"
	EventPost     EventType = "post"
	EventReply    EventType = "reply"
	EventVote     EventType = "vote"
	EventKeep     EventType = "keep"
	EventCampaign EventType = "campaign"
)

// Event announces a change. Post content is never included; clients refetch their feed.
type Event struct {
	Type     EventType     `json:"type"`
	PostID   string        `json:"postId,omitempty"`
	Channel  model.Channel `json:"channel,omitempty"`
	Removed  int           `json:"removed,omitempty"`
	Archived int           `json:"archived,omitempty"`
	At       time.Time     `json:"at"`
}

// Subscribe registers a listener. Slow listeners miss events rather than stall the loop.
// The channel is closed by cancel or when the Townhall stops.
func (t *Townhall) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	t.subMu.Lock()
	t.subs[ch] = struct{}{}
	t.subMu.Unlock()

	return ch, func() {
		t.subMu.Lock()
		defer t.subMu.Unlock()
		if _, ok := t.subs[ch]; ok {
			delete(t.subs, ch)
			close(ch)
		}
	}
}

func (t *Townhall) publish(e Event) {
	if e.At.IsZero() {
		e.At = t.now()
	}
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for ch := range t.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

func (t *Townhall) closeSubscribers() {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for ch := range t.subs {
		delete(t.subs, ch)
		close(ch)
	}
}
