package repository

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/d60-Lab/townhall/internal/model"
)

// GroupRepository 群组持久化仓储，成员关系不落库
type GroupRepository interface {
	Create(ctx context.Context, g model.Group) error
	// List 按创建时间升序返回全部群组，用于启动时恢复
	List(ctx context.Context) ([]model.Group, error)
}

type groupRepository struct {
	db *gorm.DB
}

func NewGroupRepository(db *gorm.DB) GroupRepository { return &groupRepository{db: db} }

func (r *groupRepository) Create(ctx context.Context, g model.Group) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(model.NewGroupRecord(g)).Error
}

func (r *groupRepository) List(ctx context.Context) ([]model.Group, error) {
	var recs []*model.GroupRecord
	if err := r.db.WithContext(ctx).Order("created_at ASC").Find(&recs).Error; err != nil {
		return nil, err
	}
	out := make([]model.Group, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.ToGroup())
	}
	return out, nil
}
