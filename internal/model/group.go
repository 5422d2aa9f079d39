package model

import "time"

// Group 私有频道，邀请码仅创建者可见
type Group struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	CreatorHash string    `json:"creatorHash"`
	InviteCode  string    `json:"inviteCode,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// GroupRecord 群组持久化行
type GroupRecord struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)"`
	Name        string    `gorm:"type:varchar(128);not null"`
	CreatorHash string    `gorm:"type:varchar(32);index:idx_group_creator;not null"`
	InviteCode  string    `gorm:"type:varchar(8);index:idx_group_invite;not null"`
	CreatedAt   time.Time
}

func (GroupRecord) TableName() string { return "group_records" }

func (r *GroupRecord) ToGroup() Group {
	return Group{ID: r.ID, Name: r.Name, CreatorHash: r.CreatorHash, InviteCode: r.InviteCode, CreatedAt: r.CreatedAt}
}

func NewGroupRecord(g Group) *GroupRecord {
	return &GroupRecord{ID: g.ID, Name: g.Name, CreatorHash: g.CreatorHash, InviteCode: g.InviteCode, CreatedAt: g.CreatedAt}
}
