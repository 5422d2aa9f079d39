package feed

import (
	"time"

	"github.com/d60-Lab/townhall/internal/model"
)

// Rand is the subset of *rand.Rand (math/rand/v2) the metrics simulation needs.
type Rand interface {
	IntN(n int) int
	Float64() float64
}

// SweepResult summarises one tick.
type SweepResult struct {
	Removed  int          // standard posts and replies that expired
	Archived []model.Post // campaigns older than the retention window
	Ticked   int          // campaigns whose metrics were advanced
}

// Sweep drops expired posts, ages out old campaigns when retention > 0 and advances the
// simulated campaign metrics. The collection is replaced in a single step.
func (s *Store) Sweep(now time.Time, rng Rand, retention time.Duration) SweepResult {
	var res SweepResult
	alive := make([]*model.Post, 0, len(s.posts))

	for _, p := range s.posts {
		if p.IsBusiness() {
			if retention > 0 && p.ExpiresAt != nil && now.Sub(*p.ExpiresAt) > retention {
				res.Archived = append(res.Archived, p.Clone())
				continue
			}
		} else if p.Expired(now) && !p.IsKept {
			res.Removed++
			continue
		}
		res.Removed += sweepReplies(p, now)
		alive = append(alive, p)
	}

	for _, p := range alive {
		if !p.IsBusiness() || p.Status != model.StatusActive || p.Campaign == nil {
			continue
		}
		inc := rng.IntN(3)
		p.Campaign.Metrics.Views += int64(inc)
		if inc > 0 && rng.Float64() >= 0.9 {
			p.Campaign.Metrics.Clicks++
		}
		res.Ticked++
	}

	s.posts = alive
	return res
}

func sweepReplies(p *model.Post, now time.Time) int {
	if len(p.Replies) == 0 {
		return 0
	}
	kept := p.Replies[:0]
	removed := 0
	for _, r := range p.Replies {
		if r.Expired(now) && !r.IsKept && !r.IsBusiness() {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	p.Replies = kept
	return removed
}
