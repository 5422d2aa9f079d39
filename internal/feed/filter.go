package feed

import (
	"github.com/d60-Lab/townhall/internal/geo"
	"github.com/d60-Lab/townhall/internal/model"
)

// Viewer is the reading context of one session.
type Viewer struct {
	Channel  model.Channel
	Location *model.Location
	GroupID  string
}

// IsVisible decides whether p shows up in the viewer's feed.
// Campaign targeting is recorded on the post but not matched against the viewer.
func IsVisible(p *model.Post, v Viewer) bool {
	if p.IsBusiness() {
		return true
	}
	switch v.Channel {
	case model.ChannelGlobal:
		return p.Channel == model.ChannelGlobal
	case model.ChannelLocal:
		if p.Channel != model.ChannelLocal || v.Location == nil || p.Location == nil {
			return false
		}
		return geo.Within(*v.Location, *p.Location, model.LocalRadiusKm)
	case model.ChannelGroup:
		return v.GroupID != "" && p.Channel == model.ChannelGroup && p.GroupID == v.GroupID
	default:
		// home and business render no feed
		return false
	}
}

// Filter keeps the visible posts, preserving order.
func Filter(posts []model.Post, v Viewer) []model.Post {
	out := make([]model.Post, 0, len(posts))
	for i := range posts {
		if IsVisible(&posts[i], v) {
			out = append(out, posts[i])
		}
	}
	return out
}
