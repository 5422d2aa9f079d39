// Package service runs the feed. Townhall owns the post collection, the group registry and
// the per-session view state on a single goroutine; every mutation is a closure executed by
// that goroutine, and the expiry ticker shares its select loop.
package service

import (
	"context"
	"errors"
	mrand "math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/townhall/config"
	"github.com/d60-Lab/townhall/internal/classifier"
	"github.com/d60-Lab/townhall/internal/feed"
	"github.com/d60-Lab/townhall/internal/group"
	"github.com/d60-Lab/townhall/internal/identity"
	"github.com/d60-Lab/townhall/internal/metrics"
	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/internal/repository"
	"github.com/d60-Lab/townhall/pkg/logger"
)

var (
	ErrEmptyContent     = errors.New("content is empty")
	ErrContentTooLong   = errors.New("content exceeds 280 characters")
	ErrInvalidChannel   = errors.New("unknown channel")
	ErrLocationRequired = errors.New("location is required on the local channel")
	ErrNoActiveGroup    = errors.New("no active group")
	ErrComposerBusy     = errors.New("previous post is still being processed")
	ErrInvalidDuration  = errors.New("campaign duration must be between 1 and 8760 hours")
	ErrInvalidAudience  = errors.New("unknown demographic")
	ErrStopped          = errors.New("townhall is stopped")
)

type Townhall struct {
	posts    *feed.Store
	groups   *group.Registry
	sessions *Sessions

	identities *identity.Store
	tagger     classifier.Tagger
	archiver   *Archiver
	campaigns  repository.CampaignRepository
	metrics    *metrics.Metrics

	tickInterval   time.Duration
	retention      time.Duration
	archiveWorkers int
	now            func() time.Time
	rng            feed.Rand

	cmds chan func()
	done chan struct{}

	composing sync.Map // session -> struct{}

	subMu sync.Mutex
	subs  map[chan Event]struct{}
}

type Option func(*Townhall)

// WithClock replaces time.Now for post timestamps and the sweep.
func WithClock(now func() time.Time) Option { return func(t *Townhall) { t.now = now } }

// WithRand replaces the metrics simulation source.
func WithRand(r feed.Rand) Option { return func(t *Townhall) { t.rng = r } }

func WithMetrics(m *metrics.Metrics) Option { return func(t *Townhall) { t.metrics = m } }

// WithArchive enables campaign retention. Expired campaigns older than the configured window
// leave memory through a and are read back from campaigns on the dashboard.
func WithArchive(a *Archiver, campaigns repository.CampaignRepository) Option {
	return func(t *Townhall) {
		t.archiver = a
		t.campaigns = campaigns
	}
}

// WithGroups restores previously persisted groups.
func WithGroups(groups []model.Group) Option {
	return func(t *Townhall) { t.groups.Load(groups) }
}

func New(identities *identity.Store, tagger classifier.Tagger, cfg config.FeedConfig, opts ...Option) *Townhall {
	t := &Townhall{
		posts:          feed.NewStore(),
		groups:         group.NewRegistry(),
		sessions:       NewSessions(),
		identities:     identities,
		tagger:         tagger,
		tickInterval:   cfg.TickInterval,
		retention:      cfg.CampaignRetention,
		archiveWorkers: cfg.ArchiveWorkers,
		now:            time.Now,
		rng:            mrand.New(mrand.NewPCG(uint64(time.Now().UnixNano()), mrand.Uint64())),
		cmds:           make(chan func()),
		done:           make(chan struct{}),
		subs:           make(map[chan Event]struct{}),
	}
	if t.tickInterval <= 0 {
		t.tickInterval = time.Second
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.archiver == nil {
		t.retention = 0
	}
	t.posts.Seed(t.now())
	return t
}

// Start runs the owner loop (and the archiver, when configured) and returns the stop function.
func (t *Townhall) Start() func(context.Context) error {
	stop := make(chan struct{})
	var stopArchiver func(context.Context) error
	if t.archiver != nil {
		stopArchiver = t.archiver.Start(t.archiveWorkers)
	}
	go t.loop(stop)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
		t.closeSubscribers()
		if stopArchiver != nil {
			return stopArchiver(ctx)
		}
		return nil
	}
}

func (t *Townhall) loop(stop <-chan struct{}) {
	defer close(t.done)
	ticker := time.NewTicker(t.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case fn := <-t.cmds:
			fn()
		case <-ticker.C:
			t.sweep()
		}
	}
}

// do runs fn on the owner goroutine and waits for it.
func (t *Townhall) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case t.cmds <- func() { fn(); close(finished) }:
	case <-t.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick forces one sweep outside the ticker schedule.
func (t *Townhall) Tick(ctx context.Context) error { return t.do(ctx, t.sweep) }

func (t *Townhall) sweep() {
	start := time.Now()
	now := t.now()
	res := t.posts.Sweep(now, t.rng, t.retention)
	for _, p := range res.Archived {
		t.archiver.EnqueueCampaign(p, now)
	}
	if len(res.Archived) > 0 {
		logger.Info("campaigns archived", zap.Int("count", len(res.Archived)))
	}
	t.metrics.Swept(res.Removed, t.posts.Len(), time.Since(start))
	t.metrics.Sessions(t.sessions.Len())
	t.publish(Event{Type: EventTick, Removed: res.Removed, Archived: len(res.Archived), At: now})
}

// resolve applies req to the session's view state. Runs on the owner goroutine.
func (t *Townhall) resolve(session string, req ViewRequest) (feed.Viewer, error) {
	if req.Channel != "" && !req.Channel.Valid() {
		return feed.Viewer{}, ErrInvalidChannel
	}
	if req.GroupID != "" {
		if err := t.groups.SetActive(session, req.GroupID); err != nil {
			return feed.Viewer{}, err
		}
	}
	v := t.sessions.Apply(session, req)
	if g, ok := t.groups.Active(session); ok {
		v.GroupID = g.ID
	}
	return v, nil
}

// Feed returns the posts visible to the session after applying req, newest first.
func (t *Townhall) Feed(ctx context.Context, session string, req ViewRequest) ([]model.Post, feed.Viewer, error) {
	var (
		v    feed.Viewer
		snap []model.Post
		rerr error
	)
	err := t.do(ctx, func() {
		if v, rerr = t.resolve(session, req); rerr == nil {
			snap = t.posts.Snapshot()
		}
	})
	if err != nil {
		return nil, feed.Viewer{}, err
	}
	if rerr != nil {
		return nil, feed.Viewer{}, rerr
	}
	return feed.Filter(snap, v), v, nil
}

// StatusLine passes through to the classifier.
func (t *Townhall) StatusLine(ctx context.Context) string { return t.tagger.StatusLine(ctx) }

func (t *Townhall) acquireComposer(session string) bool {
	_, busy := t.composing.LoadOrStore(session, struct{}{})
	return !busy
}

func (t *Townhall) releaseComposer(session string) { t.composing.Delete(session) }
