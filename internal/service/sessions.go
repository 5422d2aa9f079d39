package service

import (
	"github.com/d60-Lab/townhall/internal/feed"
	"github.com/d60-Lab/townhall/internal/model"
)

// ViewRequest carries what a client says about where it is looking. Zero fields fall back
// to the session's previous choice.
type ViewRequest struct {
	Channel  model.Channel
	Location *model.Location
	GroupID  string
}

type viewerState struct {
	channel  model.Channel
	location *model.Location
}

// Sessions remembers each session's active channel and last known location.
// Owned by the Townhall loop.
type Sessions struct {
	m map[string]*viewerState
}

func NewSessions() *Sessions { return &Sessions{m: make(map[string]*viewerState)} }

// Apply merges req into the stored state and returns the resulting viewer, without a group.
func (s *Sessions) Apply(session string, req ViewRequest) feed.Viewer {
	st, ok := s.m[session]
	if !ok {
		st = &viewerState{channel: model.ChannelGlobal}
		s.m[session] = st
	}
	if req.Channel != "" {
		st.channel = req.Channel
	}
	if req.Location != nil {
		loc := *req.Location
		st.location = &loc
	}
	v := feed.Viewer{Channel: st.channel}
	if st.location != nil {
		loc := *st.location
		v.Location = &loc
	}
	return v
}

func (s *Sessions) Len() int { return len(s.m) }
