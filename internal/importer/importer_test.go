package importer

import (
	"context"
	"fmt"
	"testing"
	"time"

	"content-pilot/internal/clock"
	"content-pilot/internal/model"
	"content-pilot/internal/store"

	"github.com/go-shiori/go-readability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type MockScraper struct {
	MockTitle   string
	MockContent string
	ShouldFail  bool
	LastURL     string
}

func (m *MockScraper) Scrape(url string, timeout time.Duration) (*readability.Article, error) {
	m.LastURL = url
	if m.ShouldFail {
		return nil, fmt.Errorf("simulated 404 error")
	}
	return &readability.Article{
		Title:   m.MockTitle,
		Content: m.MockContent,
		Excerpt: "A short summary",
	}, nil
}

func newImporter(t *testing.T, scraper Scraper) (*Importer, store.Store) {
	t.Helper()
	st, err := store.NewSQLStore("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	clk := clock.NewFake(time.Date(2025, time.May, 2, 0, 0, 0, 0, time.UTC))
	return New(st, scraper, clk, nil), st
}

func TestImport_CreatesDraft(t *testing.T) {
	scraper := &MockScraper{MockTitle: "Mocked Title", MockContent: "<p>This is fake content</p>"}
	imp, st := newImporter(t, scraper)

	article, err := imp.Import(context.Background(), " https://example.com/post ")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/post", scraper.LastURL)

	stored, err := st.Get(context.Background(), article.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusDraft, stored.Status)
	assert.Equal(t, "Mocked Title", stored.Title)
	assert.Equal(t, "<p>This is fake content</p>", stored.Content)
	assert.Equal(t, "A short summary", stored.Excerpt)
	assert.False(t, stored.AutoPublish)
}

func TestImport_ScrapeFailureStoresNothing(t *testing.T) {
	imp, st := newImporter(t, &MockScraper{ShouldFail: true})

	_, err := imp.Import(context.Background(), "http://bad-url.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "simulated 404 error")

	all, err := st.List(context.Background(), store.Filter{})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestImport_EmptyPage(t *testing.T) {
	imp, _ := newImporter(t, &MockScraper{MockTitle: "Blank"})
	_, err := imp.Import(context.Background(), "https://example.com/blank")
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate("https://example.com/a"))
	for _, raw := range []string{"", "example.com", "ftp://example.com/x", "https://"} {
		assert.ErrorIs(t, Validate(raw), ErrInvalidURL, raw)
	}
}
