package model

import (
	"strings"
	"time"
)

// CampaignRecord 过期推广活动的归档行（从内存集合移出后落库）
type CampaignRecord struct {
	ID             string    `gorm:"primaryKey;type:varchar(36)"`
	AuthorCodename string    `gorm:"type:varchar(128);index:idx_campaign_author;not null"`
	Content        string    `gorm:"type:text"`
	Interests      string    `gorm:"type:text"` // 逗号分隔
	Demographics   string    `gorm:"type:varchar(64)"`
	Views          int64
	Clicks         int64
	Cost           int64
	Votes          int
	StartedAt      time.Time
	ExpiredAt      time.Time `gorm:"index"`
	ArchivedAt     time.Time
}

func (CampaignRecord) TableName() string { return "campaign_records" }

// NewCampaignRecord 将商业帖子转换为归档行；非商业帖子返回 nil
func NewCampaignRecord(p *Post, archivedAt time.Time) *CampaignRecord {
	if !p.IsBusiness() || p.Campaign == nil {
		return nil
	}
	rec := &CampaignRecord{
		ID:             p.ID,
		AuthorCodename: p.AuthorCodename,
		Content:        p.Content,
		Interests:      strings.Join(p.Campaign.Config.Interests, ","),
		Demographics:   p.Campaign.Config.Demographics,
		Views:          p.Campaign.Metrics.Views,
		Clicks:         p.Campaign.Metrics.Clicks,
		Cost:           p.Campaign.Metrics.Cost,
		Votes:          p.Votes,
		StartedAt:      p.Timestamp,
		ArchivedAt:     archivedAt,
	}
	if p.ExpiresAt != nil {
		rec.ExpiredAt = *p.ExpiresAt
	}
	return rec
}

// ToPost 还原为（已过期的）商业帖子视图
func (r *CampaignRecord) ToPost() Post {
	expires := r.ExpiredAt
	var interests []string
	if r.Interests != "" {
		interests = strings.Split(r.Interests, ",")
	}
	return Post{
		ID:             r.ID,
		Content:        r.Content,
		AuthorCodename: r.AuthorCodename,
		AuthorKind:     AuthorBusiness,
		Timestamp:      r.StartedAt,
		ExpiresAt:      &expires,
		Votes:          r.Votes,
		Status:         StatusForVotes(r.Votes),
		Tags:           []string{"#PROMOTED"},
		Channel:        ChannelGlobal,
		Campaign: &Campaign{
			Config:  CampaignConfig{Interests: interests, Demographics: r.Demographics},
			Metrics: CampaignMetrics{Views: r.Views, Clicks: r.Clicks, Cost: r.Cost},
		},
	}
}
