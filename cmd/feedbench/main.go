package main

import (
	"context"
	"fmt"
	"math"
	mrand "math/rand/v2"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/d60-Lab/townhall/config"
	"github.com/d60-Lab/townhall/internal/feed"
	"github.com/d60-Lab/townhall/internal/metrics"
	"github.com/d60-Lab/townhall/internal/model"
	"github.com/d60-Lab/townhall/internal/repository"
	"github.com/d60-Lab/townhall/internal/service"
	"github.com/d60-Lab/townhall/pkg/database"
)

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}

func pct(vs []time.Duration, p float64) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	xs := append([]time.Duration(nil), vs...)
	sort.Slice(xs, func(i, j int) bool { return xs[i] < xs[j] })
	k := int(math.Ceil(p*float64(len(xs)))) - 1
	if k < 0 {
		k = 0
	}
	if k >= len(xs) {
		k = len(xs) - 1
	}
	return xs[k]
}

func avg(vs []time.Duration) time.Duration {
	if len(vs) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range vs {
		sum += d
	}
	return sum / time.Duration(len(vs))
}

func envInt(name string, def int) int {
	if s := os.Getenv(name); s != "" {
		if v, e := strconv.Atoi(s); e == nil && v > 0 {
			return v
		}
	}
	return def
}

func main() {
	// params
	N := envInt("N", 20000)               // live posts
	SWEEPS := envInt("SWEEPS", 200)       // ticks to time
	CAMPAIGNS := envInt("CAMPAIGNS", 500) // campaigns past retention
	WORKERS := envInt("WORKERS", 4)       // archive workers

	rng := mrand.New(mrand.NewPCG(1, 2))
	base := time.Now()
	store := feed.NewStore()
	store.Seed(base)

	// seed: mostly global, a share local around a fixed point, some kept
	home := model.Location{Lat: 40.7128, Lng: -74.0060}
	author := feed.Author{Codename: "Bench Node", Kind: model.AuthorStandard}
	for i := 0; i < N; i++ {
		d := feed.Draft{Content: fmt.Sprintf("post %d", i), Author: author, Channel: model.ChannelGlobal}
		if i%4 == 0 {
			loc := model.Location{Lat: home.Lat + (rng.Float64()-0.5)*0.5, Lng: home.Lng + (rng.Float64()-0.5)*0.5}
			d.Channel = model.ChannelLocal
			d.Location = &loc
		}
		p := store.Create(d, base.Add(-time.Duration(rng.IntN(int(model.PostLifetime/time.Millisecond)))*time.Millisecond))
		if i%10 == 0 {
			store.Keep(p.ID)
		}
	}
	biz := feed.Author{Codename: "Acme", Kind: model.AuthorBusiness}
	for i := 0; i < CAMPAIGNS; i++ {
		store.AddCampaign(feed.CampaignDraft{Content: fmt.Sprintf("ad %d", i), Author: biz, Duration: time.Hour, Cost: 200}, base.Add(-26*time.Hour))
	}

	// filter cost for a local viewer
	viewer := feed.Viewer{Channel: model.ChannelLocal, Location: &home}
	filters := make([]time.Duration, 0, 50)
	visible := 0
	for i := 0; i < 50; i++ {
		st := time.Now()
		visible = len(feed.Filter(store.Snapshot(), viewer))
		filters = append(filters, time.Since(st))
	}

	// sweeps without retention, one simulated second apart
	sweeps := make([]time.Duration, 0, SWEEPS)
	removed := 0
	for i := 1; i <= SWEEPS; i++ {
		st := time.Now()
		res := store.Sweep(base.Add(time.Duration(i)*time.Second), rng, 0)
		sweeps = append(sweeps, time.Since(st))
		removed += res.Removed
	}

	// archive: one sweep with retention, rows land in sqlite through the archiver
	cfg := config.Default()
	cfg.Server.Mode = "release"
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file:feedbench?mode=memory&cache=shared"
	cfg.Database.MaxOpenConns = 1
	if dsn := os.Getenv("PG_DSN"); dsn != "" {
		cfg.Database.Driver = "postgres"
		cfg.Database.DSN = dsn
		cfg.Database.MaxOpenConns = WORKERS * 2
	}
	db := must(database.InitDB(cfg))
	defer func() { _ = database.Close(db) }()
	campaignRepo := repository.NewCampaignRepository(db)
	archiver := service.NewArchiver(campaignRepo, repository.NewGroupRepository(db), CAMPAIGNS+1, metrics.New())
	stop := archiver.Start(WORKERS)

	now := base.Add(time.Duration(SWEEPS+1) * time.Second)
	res := store.Sweep(now, rng, 24*time.Hour)
	for _, p := range res.Archived {
		archiver.EnqueueCampaign(p, now)
	}

	land := make([]time.Duration, 0, len(res.Archived))
	timeout := time.After(2 * time.Minute)
collect:
	for len(land) < len(res.Archived) {
		select {
		case d := <-archiver.Metrics():
			land = append(land, d)
		case <-timeout:
			fmt.Printf("timeout while waiting for archive metrics: got=%d want=%d\n", len(land), len(res.Archived))
			break collect
		}
	}
	_ = stop(context.Background())

	// output
	fmt.Printf("N=%d SWEEPS=%d CAMPAIGNS=%d WORKERS=%d\n", N, SWEEPS, CAMPAIGNS, WORKERS)
	fmt.Printf("Local filter: visible=%d avg=%v p95=%v p99=%v\n", visible, avg(filters), pct(filters, 0.95), pct(filters, 0.99))
	fmt.Printf("Sweep: removed=%d live=%d avg=%v p95=%v p99=%v\n", removed, store.Len(), avg(sweeps), pct(sweeps, 0.95), pct(sweeps, 0.99))
	fmt.Printf("Archive landing (enqueue->row): samples=%d avg=%v p95=%v p99=%v\n", len(land), avg(land), pct(land, 0.95), pct(land, 0.99))
}
