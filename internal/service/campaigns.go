package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/townhall/internal/feed"
	"github.com/d60-Lab/townhall/internal/identity"
	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/pkg/logger"
)

const archivedListLimit = 50

// PromoteRequest is a paid campaign order.
type PromoteRequest struct {
	Content       string
	DurationHours int
	Interests     []string
	Demographics  string
}

// CampaignView is one dashboard row.
type CampaignView struct {
	model.Post
	Active   bool `json:"active"`
	Archived bool `json:"archived"`
}

// Promote charges DurationHours × 200 and starts a campaign lasting that long.
// Nothing changes when the balance is short.
func (t *Townhall) Promote(ctx context.Context, session string, req PromoteRequest) (*model.Post, *model.UserIdentity, error) {
	if err := validateContent(req.Content); err != nil {
		return nil, nil, err
	}
	u, err := t.identities.Get(ctx, session)
	if err != nil {
		return nil, nil, err
	}
	if !u.IsBusiness() {
		return nil, nil, identity.ErrNotBusiness
	}
	if req.DurationHours < 1 || req.DurationHours > model.MaxCampaignHours {
		return nil, nil, ErrInvalidDuration
	}
	if req.Demographics != "" && !model.ValidDemographic(req.Demographics) {
		return nil, nil, ErrInvalidAudience
	}

	cost := int64(req.DurationHours) * model.CampaignRatePerHour
	u, err = t.identities.DeductFunds(ctx, session, cost)
	if err != nil {
		return nil, nil, err
	}

	var p *model.Post
	err = t.do(ctx, func() {
		p = t.posts.AddCampaign(feed.CampaignDraft{
			Content:      req.Content,
			Author:       authorOf(u),
			Duration:     time.Duration(req.DurationHours) * time.Hour,
			Interests:    req.Interests,
			Demographics: req.Demographics,
			Cost:         cost,
		}, t.now())
	})
	if err != nil {
		// the campaign never started, give the money back
		if u2, rerr := t.identities.AddFunds(context.WithoutCancel(ctx), session, cost); rerr == nil {
			u = u2
		} else {
			logger.Error("campaign refund failed", zap.String("codename", u.Codename), zap.Int64("cost", cost), zap.Error(rerr))
		}
		return nil, u, err
	}

	logger.Info("campaign started",
		zap.String("codename", u.Codename),
		zap.Int("hours", req.DurationHours),
		zap.Int64("cost", cost),
		zap.Int64("balance", u.Balance))
	t.metrics.CampaignStarted()
	t.publish(Event{Type: EventCampaign, PostID: p.ID, Channel: p.Channel})
	return p, u, nil
}

// Campaigns lists the business identity's posts, live ones first, then archived rows.
func (t *Townhall) Campaigns(ctx context.Context, session string) ([]CampaignView, error) {
	u, err := t.identities.Get(ctx, session)
	if err != nil {
		return nil, err
	}
	if !u.IsBusiness() {
		return nil, identity.ErrNotBusiness
	}

	var (
		snap []model.Post
		now  time.Time
	)
	if err := t.do(ctx, func() {
		snap = t.posts.Snapshot()
		now = t.now()
	}); err != nil {
		return nil, err
	}

	out := make([]CampaignView, 0)
	for _, p := range snap {
		if !p.IsBusiness() || p.AuthorCodename != u.Codename {
			continue
		}
		out = append(out, CampaignView{Post: p, Active: !p.Expired(now)})
	}

	if t.campaigns != nil {
		recs, err := t.campaigns.ListByAuthor(ctx, u.Codename, archivedListLimit)
		if err != nil {
			// live rows are still useful without the archive
			logger.Warn("list archived campaigns", zap.String("codename", u.Codename), zap.Error(err))
			return out, nil
		}
		for _, rec := range recs {
			out = append(out, CampaignView{Post: rec.ToPost(), Archived: true})
		}
	}
	return out, nil
}
