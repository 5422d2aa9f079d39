package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/townhall/internal/metrics"
	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/internal/repository"
	"github.com/d60-Lab/townhall/pkg/logger"
)

type archiveAction int

const (
	actionCampaign archiveAction = iota + 1
	actionGroup
)

func (a archiveAction) String() string {
	if a == actionGroup {
		return "group"
	}
	return "campaign"
}

type archiveJob struct {
	action   archiveAction
	campaign *model.CampaignRecord
	group    model.Group
	enqAt    time.Time
}

// Archiver 异步落库执行器：过期活动归档与群组持久化，队列满时丢弃并告警
type Archiver struct {
	campaigns repository.CampaignRepository
	groups    repository.GroupRepository
	metrics   *metrics.Metrics
	ch        chan archiveJob
	metricsCh chan time.Duration
}

func NewArchiver(campaigns repository.CampaignRepository, groups repository.GroupRepository, queueSize int, m *metrics.Metrics) *Archiver {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &Archiver{
		campaigns: campaigns,
		groups:    groups,
		metrics:   m,
		ch:        make(chan archiveJob, queueSize),
		metricsCh: make(chan time.Duration, 4096),
	}
}

// Start 启动 worker 并返回停止函数；停止时最多等待 2s 排空队列，剩余活动批量写入
func (a *Archiver) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 1
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-a.ch:
					a.handle(job)
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		// workers are gone; drain what is left on the caller's goroutine, campaigns in one batch
		var backlog []archiveJob
		defer func() { a.flush(backlog) }()
		timeout := time.After(2 * time.Second)
		for {
			select {
			case job := <-a.ch:
				if job.action == actionCampaign {
					backlog = append(backlog, job)
					continue
				}
				a.handle(job)
			case <-timeout:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			default:
				return nil
			}
		}
	}
}

func (a *Archiver) handle(job archiveJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	switch job.action {
	case actionCampaign:
		if a.campaigns != nil {
			err = a.campaigns.Create(ctx, job.campaign)
		}
	case actionGroup:
		if a.groups != nil {
			err = a.groups.Create(ctx, job.group)
		}
	}
	if err != nil {
		logger.Warn("archive write failed", zap.Stringer("kind", job.action), zap.Error(err))
		return
	}

	a.done(job)
}

// flush writes drained campaign jobs with a single CreateBatch.
func (a *Archiver) flush(jobs []archiveJob) {
	if len(jobs) == 0 || a.campaigns == nil {
		return
	}
	recs := make([]*model.CampaignRecord, len(jobs))
	for i, job := range jobs {
		recs[i] = job.campaign
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.campaigns.CreateBatch(ctx, recs); err != nil {
		logger.Warn("archive batch write failed", zap.Int("count", len(recs)), zap.Error(err))
		return
	}
	for _, job := range jobs {
		a.done(job)
	}
}

func (a *Archiver) done(job archiveJob) {
	took := time.Since(job.enqAt)
	if job.action == actionCampaign {
		a.metrics.CampaignArchived(took)
	}
	select {
	case a.metricsCh <- took:
	default:
	}
}

// EnqueueCampaign 归档一条已移出内存的商业帖子
func (a *Archiver) EnqueueCampaign(p model.Post, now time.Time) {
	rec := model.NewCampaignRecord(&p, now)
	if rec == nil {
		return
	}
	a.enqueue(archiveJob{action: actionCampaign, campaign: rec, enqAt: time.Now()}, zap.String("post", p.ID))
}

// EnqueueGroup 持久化新建群组
func (a *Archiver) EnqueueGroup(g model.Group) {
	a.enqueue(archiveJob{action: actionGroup, group: g, enqAt: time.Now()}, zap.String("group", g.ID))
}

func (a *Archiver) enqueue(job archiveJob, field zap.Field) {
	select {
	case a.ch <- job:
	default:
		a.metrics.ArchiveDropped(job.action.String())
		logger.Warn("archive queue full, drop", zap.Stringer("kind", job.action), field)
	}
}

// Metrics 返回落库耗时的只读通道（每处理一条发送一次 duration）
func (a *Archiver) Metrics() <-chan time.Duration { return a.metricsCh }

// QueueLen 返回当前队列长度（采样值）
func (a *Archiver) QueueLen() int { return len(a.ch) }
