package service

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/d60-Lab/townhall/config"
	"github.com/d60-Lab/townhall/internal/classifier"
	"github.com/d60-Lab/townhall/internal/feed"
	"github.com/d60-Lab/townhall/internal/group"
	"github.com/d60-Lab/townhall/internal/identity"
	"github.com/d60-Lab/townhall/internal/metrics"
	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/internal/repository"
)

var (
	lagos   = model.Location{Lat: 6.5244, Lng: 3.3792}
	ikeja   = model.Location{Lat: 6.6018, Lng: 3.3515} // ~9 km
	ibadan  = model.Location{Lat: 7.3775, Lng: 3.9470} // ~113 km
	testCfg = config.FeedConfig{TickInterval: time.Hour, CampaignRetention: 24 * time.Hour, ArchiveQueue: 16, ArchiveWorkers: 1}
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	th    *Townhall
	ids   *identity.Store
	clock *fakeClock
}

func newFixture(t *testing.T, tagger classifier.Tagger, opts ...Option) *fixture {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)}
	ids := identity.NewStore(identity.NewMemoryKV(), identity.WithClock(clock.Now))
	if tagger == nil {
		tagger = classifier.Static{Tags: []string{"#SIGNAL", "#NOISE"}}
	}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	th := New(ids, tagger, testCfg, opts...)
	stop := th.Start()
	t.Cleanup(func() { _ = stop(context.Background()) })
	return &fixture{th: th, ids: ids, clock: clock}
}

func postIDs(posts []model.Post) []string {
	out := make([]string, len(posts))
	for i, p := range posts {
		out[i] = p.ID
	}
	return out
}

func TestFeed_SeedsWelcomePost(t *testing.T) {
	f := newFixture(t, nil)
	posts, v, err := f.th.Feed(context.Background(), "s1", ViewRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelGlobal, v.Channel)
	require.Len(t, posts, 1)
	assert.Equal(t, feed.WelcomePostID, posts[0].ID)
	assert.Equal(t, model.StatusForVotes(posts[0].Votes), posts[0].Status)
}

func TestPost_GlobalTaggedAndVisible(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.th.Post(ctx, "s1", "the grid is down again", ViewRequest{Channel: model.ChannelGlobal})
	require.NoError(t, err)
	assert.Equal(t, []string{"#SIGNAL", "#NOISE"}, p.Tags)
	assert.Equal(t, model.ChannelGlobal, p.Channel)

	me, err := f.ids.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, me.Codename, p.AuthorCodename)

	posts, _, err := f.th.Feed(ctx, "s2", ViewRequest{Channel: model.ChannelGlobal})
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID, feed.WelcomePostID}, postIDs(posts))

	local, _, err := f.th.Feed(ctx, "s2", ViewRequest{Channel: model.ChannelLocal, Location: &lagos})
	require.NoError(t, err)
	assert.Empty(t, local)
}

func TestPost_Validation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.th.Post(ctx, "s1", "   \n", ViewRequest{})
	assert.ErrorIs(t, err, ErrEmptyContent)

	long := make([]rune, model.MaxContentLength+1)
	for i := range long {
		long[i] = 'é'
	}
	_, err = f.th.Post(ctx, "s1", string(long), ViewRequest{})
	assert.ErrorIs(t, err, ErrContentTooLong)
	_, err = f.th.Post(ctx, "s1", string(long[:model.MaxContentLength]), ViewRequest{})
	assert.NoError(t, err)

	_, err = f.th.Post(ctx, "s1", "x", ViewRequest{Channel: "mars"})
	assert.ErrorIs(t, err, ErrInvalidChannel)
}

func TestPost_LocalNeedsLocationAndRespectsRadius(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.th.Post(ctx, "s1", "anyone near?", ViewRequest{Channel: model.ChannelLocal})
	assert.ErrorIs(t, err, ErrLocationRequired)

	p, err := f.th.Post(ctx, "s1", "anyone near?", ViewRequest{Channel: model.ChannelLocal, Location: &lagos})
	require.NoError(t, err)
	require.NotNil(t, p.Location)

	near, _, err := f.th.Feed(ctx, "s2", ViewRequest{Channel: model.ChannelLocal, Location: &ikeja})
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, postIDs(near))

	far, _, err := f.th.Feed(ctx, "s3", ViewRequest{Channel: model.ChannelLocal, Location: &ibadan})
	require.NoError(t, err)
	assert.Empty(t, far)

	// the session remembers its channel and location
	again, v, err := f.th.Feed(ctx, "s2", ViewRequest{})
	require.NoError(t, err)
	assert.Equal(t, model.ChannelLocal, v.Channel)
	assert.Equal(t, []string{p.ID}, postIDs(again))
}

func TestGroupFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.th.Post(ctx, "s1", "hello group", ViewRequest{Channel: model.ChannelGroup})
	assert.ErrorIs(t, err, ErrNoActiveGroup)

	g, err := f.th.CreateGroup(ctx, "s1", "Night Shift")
	require.NoError(t, err)
	require.Len(t, g.InviteCode, model.InviteCodeLength)

	joined, err := f.th.JoinGroup(ctx, "s2", " "+g.InviteCode+" ")
	require.NoError(t, err)
	assert.Equal(t, g.ID, joined.ID)
	assert.Empty(t, joined.InviteCode, "only the creator sees the code")

	_, err = f.th.JoinGroup(ctx, "s3", "ZZZZZZ")
	assert.ErrorIs(t, err, group.ErrInvalidCode)

	p, err := f.th.Post(ctx, "s1", "hello group", ViewRequest{Channel: model.ChannelGroup})
	require.NoError(t, err)
	assert.Equal(t, g.ID, p.GroupID)

	member, _, err := f.th.Feed(ctx, "s2", ViewRequest{Channel: model.ChannelGroup})
	require.NoError(t, err)
	assert.Equal(t, []string{p.ID}, postIDs(member))

	outsider, _, err := f.th.Feed(ctx, "s3", ViewRequest{Channel: model.ChannelGroup})
	require.NoError(t, err)
	assert.Empty(t, outsider)

	_, _, err = f.th.Feed(ctx, "s3", ViewRequest{Channel: model.ChannelGroup, GroupID: g.ID})
	assert.ErrorIs(t, err, group.ErrNotMember)

	list, err := f.th.Groups(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, list.Groups, 1)
	assert.Equal(t, g.InviteCode, list.Groups[0].InviteCode)
	assert.Equal(t, g.ID, list.ActiveID)

	list, err = f.th.Groups(ctx, "s2")
	require.NoError(t, err)
	require.Len(t, list.Groups, 1)
	assert.Empty(t, list.Groups[0].InviteCode)
}

func TestVoteKeepReply(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	p, err := f.th.Post(ctx, "s1", "vote on me", ViewRequest{})
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err = f.th.Vote(ctx, p.ID, -1)
		require.NoError(t, err)
	}
	got, err := f.th.Vote(ctx, p.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, -3, got.Votes)
	assert.Equal(t, model.StatusSilenced, got.Status)

	_, err = f.th.Vote(ctx, p.ID, 2)
	assert.ErrorIs(t, err, feed.ErrInvalidVote)

	missing, err := f.th.Vote(ctx, "nope", 1)
	assert.NoError(t, err)
	assert.Nil(t, missing)

	kept, err := f.th.Keep(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, kept.IsKept)

	r, err := f.th.Reply(ctx, "s2", p.ID, "agreed")
	require.NoError(t, err)
	assert.Empty(t, r.Tags)

	orphan, err := f.th.Reply(ctx, "s2", "nope", "agreed")
	assert.NoError(t, err)
	assert.Nil(t, orphan)
}

func TestTick_ExpiresPostsAndPublishes(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	events, cancel := f.th.Subscribe(8)
	defer cancel()

	p, err := f.th.Post(ctx, "s1", "short lived", ViewRequest{})
	require.NoError(t, err)
	assert.Equal(t, EventPost, (<-events).Type)

	f.clock.Advance(model.PostLifetime - time.Millisecond)
	require.NoError(t, f.th.Tick(ctx))
	e := <-events
	assert.Equal(t, EventTick, e.Type)
	assert.Zero(t, e.Removed)

	f.clock.Advance(2 * time.Millisecond)
	require.NoError(t, f.th.Tick(ctx))
	e = <-events
	assert.Equal(t, 1, e.Removed)

	posts, _, err := f.th.Feed(ctx, "s1", ViewRequest{})
	require.NoError(t, err)
	assert.NotContains(t, postIDs(posts), p.ID)
	assert.Contains(t, postIDs(posts), feed.WelcomePostID, "the welcome post never expires")
}

func TestTick_ReportsSessions(t *testing.T) {
	m := metrics.New()
	f := newFixture(t, nil, WithMetrics(m))
	ctx := context.Background()

	for _, session := range []string{"a", "b"} {
		_, _, err := f.th.Feed(ctx, session, ViewRequest{})
		require.NoError(t, err)
	}
	require.NoError(t, f.th.Tick(ctx))

	err := testutil.GatherAndCompare(m.Gatherer(), strings.NewReader(`
# HELP townhall_sessions Sessions with remembered view state.
# TYPE townhall_sessions gauge
townhall_sessions 2
`), "townhall_sessions")
	assert.NoError(t, err)
}

// blockingTagger holds Classify until released.
type blockingTagger struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingTagger) Classify(context.Context, string) []string {
	b.started <- struct{}{}
	<-b.release
	return []string{"#SLOW"}
}

func (b *blockingTagger) StatusLine(context.Context) string { return "" }

func TestPost_ComposerBusy(t *testing.T) {
	bt := &blockingTagger{started: make(chan struct{}), release: make(chan struct{})}
	f := newFixture(t, bt)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() {
		_, err := f.th.Post(ctx, "s1", "first", ViewRequest{})
		first <- err
	}()
	<-bt.started

	_, err := f.th.Post(ctx, "s1", "second", ViewRequest{})
	assert.ErrorIs(t, err, ErrComposerBusy)

	// the rest of the app stays responsive while classification is pending
	posts, _, err := f.th.Feed(ctx, "s1", ViewRequest{})
	require.NoError(t, err)
	_, err = f.th.Vote(ctx, posts[0].ID, 1)
	require.NoError(t, err)

	close(bt.release)
	require.NoError(t, <-first)

	go func() { <-bt.started }()
	_, err = f.th.Post(ctx, "s1", "third", ViewRequest{})
	assert.NoError(t, err)
}

func loginBusiness(t *testing.T, f *fixture, session string, funds int64) {
	t.Helper()
	ctx := context.Background()
	_, err := f.ids.LoginAsBusiness(ctx, session, "Acme Corp")
	require.NoError(t, err)
	if funds > 0 {
		_, err = f.ids.AddFunds(ctx, session, funds)
		require.NoError(t, err)
	}
}

func TestPromote(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	loginBusiness(t, f, "biz", 1000)
	start := f.clock.Now()

	p, u, err := f.th.Promote(ctx, "biz", PromoteRequest{Content: "50% off neural implants", DurationHours: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 400, u.Balance)
	assert.Equal(t, model.AuthorBusiness, p.AuthorKind)
	assert.Equal(t, []string{"#PROMOTED"}, p.Tags)
	assert.Equal(t, start.Add(3*time.Hour), *p.ExpiresAt)
	require.NotNil(t, p.Campaign)
	assert.Equal(t, model.CampaignMetrics{Views: 0, Clicks: 0, Cost: 600}, p.Campaign.Metrics)
	assert.Equal(t, []string{"General"}, p.Campaign.Config.Interests)
	assert.Equal(t, model.DefaultDemographic, p.Campaign.Config.Demographics)

	// promoted posts reach every feed
	for _, req := range []ViewRequest{
		{Channel: model.ChannelGlobal},
		{Channel: model.ChannelLocal, Location: &ibadan},
		{Channel: model.ChannelGroup},
	} {
		posts, _, err := f.th.Feed(ctx, "viewer", req)
		require.NoError(t, err)
		assert.Contains(t, postIDs(posts), p.ID, req.Channel)
	}
}

func TestPromote_Rejections(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, _, err := f.th.Promote(ctx, "nobody", PromoteRequest{Content: "x", DurationHours: 1})
	assert.ErrorIs(t, err, identity.ErrNoIdentity)

	_, err = f.ids.GetOrCreate(ctx, "std")
	require.NoError(t, err)
	_, _, err = f.th.Promote(ctx, "std", PromoteRequest{Content: "x", DurationHours: 1})
	assert.ErrorIs(t, err, identity.ErrNotBusiness)

	loginBusiness(t, f, "biz", 500)
	_, _, err = f.th.Promote(ctx, "biz", PromoteRequest{Content: "x", DurationHours: 0})
	assert.ErrorIs(t, err, ErrInvalidDuration)

	for _, hours := range []int{model.MaxCampaignHours + 1, 1<<61 + 1, -5} {
		_, _, err = f.th.Promote(ctx, "biz", PromoteRequest{Content: "x", DurationHours: hours})
		assert.ErrorIs(t, err, ErrInvalidDuration, hours)
	}

	_, _, err = f.th.Promote(ctx, "biz", PromoteRequest{Content: "x", DurationHours: 1, Demographics: "Boomers"})
	assert.ErrorIs(t, err, ErrInvalidAudience)

	_, _, err = f.th.Promote(ctx, "biz", PromoteRequest{Content: "x", DurationHours: 3})
	assert.ErrorIs(t, err, identity.ErrInsufficientFunds)

	u, err := f.ids.Get(ctx, "biz")
	require.NoError(t, err)
	assert.EqualValues(t, 500, u.Balance)

	views, err := f.th.Campaigns(ctx, "biz")
	require.NoError(t, err)
	assert.Empty(t, views)
}

func TestCampaigns_ActiveThenExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	loginBusiness(t, f, "biz", 200)

	p, _, err := f.th.Promote(ctx, "biz", PromoteRequest{Content: "one hour only", DurationHours: 1})
	require.NoError(t, err)

	views, err := f.th.Campaigns(ctx, "biz")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].Active)

	f.clock.Advance(time.Hour + time.Second)
	require.NoError(t, f.th.Tick(ctx))

	views, err = f.th.Campaigns(ctx, "biz")
	require.NoError(t, err)
	require.Len(t, views, 1, "without an archive expired campaigns stay live")
	assert.Equal(t, p.ID, views[0].ID)
	assert.False(t, views[0].Active)

	_, err = f.ids.GetOrCreate(ctx, "std")
	require.NoError(t, err)
	_, err = f.th.Campaigns(ctx, "std")
	assert.ErrorIs(t, err, identity.ErrNotBusiness)
}

func TestCampaigns_ArchivedAfterRetention(t *testing.T) {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: gormlogger.Discard})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&model.CampaignRecord{}, &model.GroupRecord{}))
	campaigns := repository.NewCampaignRepository(db)
	groups := repository.NewGroupRepository(db)

	archiver := NewArchiver(campaigns, groups, 16, nil)
	f := newFixture(t, nil, WithArchive(archiver, campaigns))
	ctx := context.Background()
	loginBusiness(t, f, "biz", 200)

	p, _, err := f.th.Promote(ctx, "biz", PromoteRequest{Content: "flash sale", DurationHours: 1, Interests: []string{"Tech"}})
	require.NoError(t, err)
	_, err = f.th.CreateGroup(ctx, "biz", "Suppliers")
	require.NoError(t, err)

	f.clock.Advance(time.Hour + 24*time.Hour + time.Second)
	require.NoError(t, f.th.Tick(ctx))

	require.Eventually(t, func() bool {
		n, err := campaigns.Count(ctx)
		return err == nil && n == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		gs, err := groups.List(ctx)
		return err == nil && len(gs) == 1
	}, 2*time.Second, 10*time.Millisecond)

	posts, _, err := f.th.Feed(ctx, "viewer", ViewRequest{})
	require.NoError(t, err)
	assert.NotContains(t, postIDs(posts), p.ID)

	views, err := f.th.Campaigns(ctx, "biz")
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, p.ID, views[0].ID)
	assert.True(t, views[0].Archived)
	assert.Equal(t, []string{"Tech"}, views[0].Campaign.Config.Interests)
}

func TestWithGroups_RestoresInviteCodes(t *testing.T) {
	restored := []model.Group{{ID: "g1", Name: "Old Crew", CreatorHash: "ABCDEF123456", InviteCode: "OLD123"}}
	f := newFixture(t, nil, WithGroups(restored))

	g, err := f.th.JoinGroup(context.Background(), "s1", "old123")
	require.NoError(t, err)
	assert.Equal(t, "g1", g.ID)
}

func TestStop(t *testing.T) {
	ids := identity.NewStore(identity.NewMemoryKV())
	th := New(ids, classifier.Static{}, testCfg)
	events, _ := th.Subscribe(1)
	stop := th.Start()
	require.NoError(t, stop(context.Background()))
	require.NoError(t, stop(context.Background()))

	_, ok := <-events
	assert.False(t, ok, "subscribers are closed on stop")

	_, _, err := th.Feed(context.Background(), "s1", ViewRequest{})
	assert.ErrorIs(t, err, ErrStopped)
}
