// Package selector ranks eligible articles. Orderings are total so the same
// pool always yields the same pick regardless of storage iteration order.
package selector

import (
	"bytes"
	"sort"
	"time"

	"content-pilot/internal/model"
	"content-pilot/internal/policy"
)

// Predicate decides whether an article belongs in the pool.
type Predicate func(a model.Article) policy.Decision

// Filter keeps articles the predicate accepts, preserving input order.
func Filter(pool []model.Article, keep Predicate) []model.Article {
	out := make([]model.Article, 0, len(pool))
	for _, a := range pool {
		if keep(a).Eligible {
			out = append(out, a)
		}
	}
	return out
}

// BestForPublish picks the auto-publish winner: most rewrites first, then the
// oldest created, then id as a final tiebreak. ok is false for an empty pool.
func BestForPublish(pool []model.Article) (model.Article, bool) {
	candidates := Filter(pool, policy.AutoPublish)
	if len(candidates) == 0 {
		return model.Article{}, false
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.RewriteCount != b.RewriteCount {
			return a.RewriteCount > b.RewriteCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	return candidates[0], true
}

// WeakestFirst filters pool with keep and returns up to limit articles by
// ascending view count, ties broken by oldest created then id. limit <= 0
// returns every eligible article.
func WeakestFirst(pool []model.Article, keep Predicate, limit int) []model.Article {
	candidates := Filter(pool, keep)
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.ViewCount != b.ViewCount {
			return a.ViewCount < b.ViewCount
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}

// CTRBatch selects the weakest CTR-eligible articles.
func CTRBatch(pool []model.Article, th policy.Thresholds, now time.Time, limit int) []model.Article {
	return WeakestFirst(pool, func(a model.Article) policy.Decision {
		return th.CTRRewrite(a, now)
	}, limit)
}

// RefreshBatch selects the weakest refresh-eligible articles.
func RefreshBatch(pool []model.Article, th policy.Thresholds, now time.Time, limit int) []model.Article {
	return WeakestFirst(pool, func(a model.Article) policy.Decision {
		return th.ContentRefresh(a, now)
	}, limit)
}
