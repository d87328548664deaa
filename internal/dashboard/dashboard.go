// Package dashboard answers read-only questions about the article catalogue.
package dashboard

import (
	"context"
	"math"
	"sort"
	"time"

	"content-pilot/internal/clock"
	"content-pilot/internal/model"
	"content-pilot/internal/store"

	"github.com/google/uuid"
)

const DefaultLimit = 5

type Reader interface {
	List(ctx context.Context, filter store.Filter) ([]model.Article, error)
	ListTopics(ctx context.Context, limit int) ([]model.TopicUsage, error)
}

type Overview struct {
	Total      int                         `json:"total_articles"`
	ByStatus   map[model.ArticleStatus]int `json:"by_status"`
	TotalViews int                         `json:"total_views"`
}

type ArticleStat struct {
	ID            uuid.UUID `json:"id"`
	Title         string    `json:"title"`
	Views         int       `json:"views"`
	ViewsPerDay   float64   `json:"views_per_day"`
	RewriteCount  int       `json:"rewrite_count"`
	PredictedWeek int       `json:"predicted_next_7_days,omitempty"`
}

type Service struct {
	store Reader
	clock clock.Clock
}

func New(st Reader, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.System{}
	}
	return &Service{store: st, clock: clk}
}

func (s *Service) Overview(ctx context.Context) (Overview, error) {
	articles, err := s.store.List(ctx, store.Filter{})
	if err != nil {
		return Overview{}, err
	}
	ov := Overview{
		Total: len(articles),
		ByStatus: map[model.ArticleStatus]int{
			model.StatusDraft:     0,
			model.StatusApproved:  0,
			model.StatusPublished: 0,
			model.StatusDeleted:   0,
		},
	}
	for _, a := range articles {
		ov.ByStatus[a.Status]++
		ov.TotalViews += a.ViewCount
	}
	return ov, nil
}

// LowView lists published articles with the fewest views first.
func (s *Service) LowView(ctx context.Context, limit int) ([]ArticleStat, error) {
	return s.ranked(ctx, limit, func(a, b model.Article) bool { return a.ViewCount < b.ViewCount }, false)
}

// Top lists published articles with the most views first, with a naive
// seven day projection from the current velocity.
func (s *Service) Top(ctx context.Context, limit int) ([]ArticleStat, error) {
	return s.ranked(ctx, limit, func(a, b model.Article) bool { return a.ViewCount > b.ViewCount }, true)
}

func (s *Service) Topics(ctx context.Context, limit int) ([]model.TopicUsage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return s.store.ListTopics(ctx, limit)
}

func (s *Service) ranked(ctx context.Context, limit int, less func(a, b model.Article) bool, predict bool) ([]ArticleStat, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	articles, err := s.store.List(ctx, store.Filter{Statuses: []model.ArticleStatus{model.StatusPublished}})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(articles, func(i, j int) bool { return less(articles[i], articles[j]) })
	if len(articles) > limit {
		articles = articles[:limit]
	}

	now := s.clock.Now()
	out := make([]ArticleStat, 0, len(articles))
	for _, a := range articles {
		v := Velocity(a, now)
		stat := ArticleStat{
			ID:           a.ID,
			Title:        a.Title,
			Views:        a.ViewCount,
			ViewsPerDay:  v,
			RewriteCount: a.RewriteCount,
		}
		if predict {
			stat.PredictedWeek = int(v * 7)
		}
		out = append(out, stat)
	}
	return out, nil
}

// Velocity is views per whole day since publication, rounded to two decimals.
// Articles younger than a day, or never published, count as one day old.
func Velocity(a model.Article, now time.Time) float64 {
	days := 1
	if a.PublishedAt != nil {
		if d := int(now.Sub(*a.PublishedAt) / (24 * time.Hour)); d > 1 {
			days = d
		}
	}
	return math.Round(float64(a.ViewCount)/float64(days)*100) / 100
}
