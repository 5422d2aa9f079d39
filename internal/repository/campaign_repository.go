package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/townhall/internal/model"
)

// CampaignRepository 过期推广活动归档仓储
type CampaignRepository interface {
	// Create 归档一条活动，重复归档不报错
	Create(ctx context.Context, rec *model.CampaignRecord) error
	// CreateBatch 批量归档
	CreateBatch(ctx context.Context, recs []*model.CampaignRecord) error
	// ListByAuthor 按商家名查询归档，最近过期的在前
	ListByAuthor(ctx context.Context, codename string, limit int) ([]*model.CampaignRecord, error)
	// Count 统计归档数量
	Count(ctx context.Context) (int64, error)
}

type campaignRepository struct{ db *gorm.DB }

func NewCampaignRepository(db *gorm.DB) CampaignRepository { return &campaignRepository{db: db} }

func (r *campaignRepository) Create(ctx context.Context, rec *model.CampaignRecord) error {
	// 幂等：同一活动只归档一次
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(rec).Error
}

func (r *campaignRepository) CreateBatch(ctx context.Context, recs []*model.CampaignRecord) error {
	if len(recs) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(recs, 100).Error
}

func (r *campaignRepository) ListByAuthor(ctx context.Context, codename string, limit int) ([]*model.CampaignRecord, error) {
	var res []*model.CampaignRecord
	err := r.db.WithContext(ctx).
		Where("author_codename = ?", codename).
		Order("expired_at DESC").
		Limit(limit).
		Find(&res).Error
	return res, err
}

func (r *campaignRepository) Count(ctx context.Context) (int64, error) {
	var cnt int64
	err := r.db.WithContext(ctx).Model(&model.CampaignRecord{}).Count(&cnt).Error
	return cnt, err
}
