package selector

import (
	"testing"
	"time"

	"content-pilot/internal/model"
	"content-pilot/internal/policy"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	day1 = time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)
	day2 = day1.Add(24 * time.Hour)
	now  = day1.Add(60 * 24 * time.Hour)
)

func approved(title string, rewrites int, created time.Time) model.Article {
	a := model.NewArticle(title, "", created)
	a.Status = model.StatusApproved
	a.AutoPublish = true
	a.RewriteCount = rewrites
	return a
}

func published(title string, views int) model.Article {
	a := model.NewArticle(title, "", day1)
	a.Status = model.StatusPublished
	a.PublishedAt = model.TimePtr(day2)
	a.ViewCount = views
	return a
}

func TestBestForPublish_TieBreaksOnCreatedAt(t *testing.T) {
	a := approved("A", 2, day1)
	b := approved("B", 2, day2)

	got, ok := BestForPublish([]model.Article{b, a})
	require.True(t, ok)
	assert.Equal(t, "A", got.Title)

	got, ok = BestForPublish([]model.Article{a, b})
	require.True(t, ok)
	assert.Equal(t, "A", got.Title)
}

func TestBestForPublish_PrefersMoreRewrites(t *testing.T) {
	old := approved("old", 0, day1)
	reworked := approved("reworked", 1, day2)

	got, ok := BestForPublish([]model.Article{old, reworked})
	require.True(t, ok)
	assert.Equal(t, "reworked", got.Title)
}

func TestBestForPublish_SkipsIneligible(t *testing.T) {
	off := approved("off", 5, day1)
	off.AutoPublish = false
	deleted := approved("deleted", 5, day1)
	deleted.Status = model.StatusDeleted
	draft := approved("draft", 5, day1)
	draft.Status = model.StatusDraft

	_, ok := BestForPublish([]model.Article{off, deleted, draft})
	assert.False(t, ok)

	_, ok = BestForPublish(nil)
	assert.False(t, ok)
}

func TestCTRBatch_LimitAndOrder(t *testing.T) {
	pool := []model.Article{
		published("v40", 40),
		published("v10", 10),
		published("v30", 30),
		published("v0", 0),
		published("v20", 20),
	}

	got := CTRBatch(pool, policy.DefaultThresholds(), now, 3)
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 10, 20}, views(got))
}

func TestCTRBatch_ExcludesIneligible(t *testing.T) {
	strong := published("strong", 500)
	maxed := published("maxed", 1)
	maxed.RewriteCount = 2
	weak := published("weak", 3)

	got := CTRBatch([]model.Article{strong, maxed, weak}, policy.DefaultThresholds(), now, 10)
	require.Len(t, got, 1)
	assert.Equal(t, "weak", got[0].Title)
}

func TestRefreshBatch_NoLimitReturnsAll(t *testing.T) {
	pool := []model.Article{published("b", 90), published("a", 5)}

	got := RefreshBatch(pool, policy.DefaultThresholds(), now, 0)
	assert.Equal(t, []int{5, 90}, views(got))
}

func TestWeakestFirst_Deterministic(t *testing.T) {
	x := published("x", 7)
	y := published("y", 7)
	y.CreatedAt = day1.Add(-time.Hour)

	keepAll := func(model.Article) policy.Decision { return policy.Decision{Eligible: true} }
	first := WeakestFirst([]model.Article{x, y}, keepAll, 0)
	second := WeakestFirst([]model.Article{y, x}, keepAll, 0)
	assert.Equal(t, first, second)
	assert.Equal(t, "y", first[0].Title)
}

func views(articles []model.Article) []int {
	out := make([]int, len(articles))
	for i, a := range articles {
		out[i] = a.ViewCount
	}
	return out
}
