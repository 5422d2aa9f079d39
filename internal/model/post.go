package model

import "time"

// Channel 频道
type Channel string

const (
	ChannelHome     Channel = "home"
	ChannelLocal    Channel = "local"
	ChannelGroup    Channel = "group"
	ChannelGlobal   Channel = "global"
	ChannelBusiness Channel = "business"
)

// Valid reports whether c is one of the known channels.
func (c Channel) Valid() bool {
	switch c {
	case ChannelHome, ChannelLocal, ChannelGroup, ChannelGlobal, ChannelBusiness:
		return true
	}
	return false
}

// AuthorKind 作者类型，同时作为帖子变体的标签
type AuthorKind string

const (
	AuthorStandard AuthorKind = "standard"
	AuthorBusiness AuthorKind = "business"
)

// Status 由票数推导出的可见状态
type Status string

const (
	StatusActive    Status = "active"
	StatusAmplified Status = "amplified"
	StatusSilenced  Status = "silenced"
)

const (
	PostLifetime        = 100_000 * time.Millisecond
	LocalRadiusKm       = 32.0
	SilenceThreshold    = -3
	AmplifyThreshold    = 5
	MaxContentLength    = 280
	CampaignRatePerHour = 200
	MaxCampaignHours    = 24 * 365
	InviteCodeLength    = 6
)

// StatusForVotes 票数 -> 状态（<= -3 静默，>= 5 放大）
func StatusForVotes(votes int) Status {
	switch {
	case votes <= SilenceThreshold:
		return StatusSilenced
	case votes >= AmplifyThreshold:
		return StatusAmplified
	default:
		return StatusActive
	}
}

// Location 经纬度
type Location struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Post 帖子。AuthorKind 为 business 时 Campaign 非空，否则为空
type Post struct {
	ID             string     `json:"id"`
	Content        string     `json:"content"`
	AuthorCodename string     `json:"authorCodename"`
	AuthorKind     AuthorKind `json:"authorType"`
	Timestamp      time.Time  `json:"timestamp"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	Votes          int        `json:"votes"`
	Status         Status     `json:"status"`
	Tags           []string   `json:"tags"`
	Channel        Channel    `json:"channel"`
	Location       *Location  `json:"location,omitempty"`
	GroupID        string     `json:"groupId,omitempty"`
	IsKept         bool       `json:"isKept,omitempty"`
	Replies        []Post     `json:"replies,omitempty"`
	Campaign       *Campaign  `json:"campaign,omitempty"`
}

// Campaign 商业帖子的推广负载
type Campaign struct {
	Config  CampaignConfig  `json:"config"`
	Metrics CampaignMetrics `json:"metrics"`
}

type CampaignConfig struct {
	Interests    []string `json:"interests"`
	Demographics string   `json:"demographics"`
}

// DefaultDemographic 未指定人群时的投放对象
const DefaultDemographic = "All Demographics"

// Demographics 可选的投放人群
var Demographics = []string{"Gen Z (18-24)", "Millennials (25-40)", "Gen X (41-56)", DefaultDemographic}

// ValidDemographic reports whether d is one of Demographics.
func ValidDemographic(d string) bool {
	for _, v := range Demographics {
		if v == d {
			return true
		}
	}
	return false
}

type CampaignMetrics struct {
	Views  int64 `json:"views"`
	Clicks int64 `json:"clicks"`
	Cost   int64 `json:"cost"`
}

func (p *Post) IsBusiness() bool { return p.AuthorKind == AuthorBusiness }

// Expired reports whether now is past ExpiresAt. Posts without expiry never expire.
func (p *Post) Expired(now time.Time) bool {
	return p.ExpiresAt != nil && now.After(*p.ExpiresAt)
}

// Clone 深拷贝，供快照读取
func (p *Post) Clone() Post {
	out := *p
	if p.ExpiresAt != nil {
		t := *p.ExpiresAt
		out.ExpiresAt = &t
	}
	if p.Location != nil {
		loc := *p.Location
		out.Location = &loc
	}
	out.Tags = append([]string(nil), p.Tags...)
	if p.Replies != nil {
		out.Replies = make([]Post, len(p.Replies))
		for i := range p.Replies {
			out.Replies[i] = p.Replies[i].Clone()
		}
	}
	if p.Campaign != nil {
		c := *p.Campaign
		c.Config.Interests = append([]string(nil), p.Campaign.Config.Interests...)
		out.Campaign = &c
	}
	return out
}
