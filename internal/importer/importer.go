// Package importer creates draft articles from existing web pages.
package importer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"content-pilot/internal/clock"
	"content-pilot/internal/metrics"
	"content-pilot/internal/model"
	"content-pilot/internal/store"

	"github.com/go-shiori/go-readability"
	"go.uber.org/zap"
)

var ErrInvalidURL = errors.New("import url must be absolute http(s)")

// Scraper downloads and cleans a web page. Tests swap it for a fake.
type Scraper interface {
	Scrape(url string, timeout time.Duration) (*readability.Article, error)
}

// DefaultScraper fetches over the network with readability.
type DefaultScraper struct{}

func (s *DefaultScraper) Scrape(url string, timeout time.Duration) (*readability.Article, error) {
	art, err := readability.FromURL(url, timeout)
	return &art, err
}

type Importer struct {
	store   store.Store
	scraper Scraper
	clock   clock.Clock
	logger  *zap.Logger
	timeout time.Duration
}

func New(st store.Store, scraper Scraper, clk clock.Clock, logger *zap.Logger) *Importer {
	if scraper == nil {
		scraper = &DefaultScraper{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{store: st, scraper: scraper, clock: clk, logger: logger, timeout: 30 * time.Second}
}

// Validate rejects anything that is not an absolute http(s) URL.
func Validate(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%w: %q", ErrInvalidURL, raw)
	}
	return nil
}

// Import scrapes rawURL and stores the result as a draft for review.
func (i *Importer) Import(ctx context.Context, rawURL string) (*model.Article, error) {
	if err := Validate(rawURL); err != nil {
		return nil, err
	}
	logger := i.logger.With(zap.String("url", rawURL))
	logger.Info("Downloading")

	started := time.Now()
	parsed, err := i.scraper.Scrape(strings.TrimSpace(rawURL), i.timeout)
	metrics.CollaboratorDuration.WithLabelValues("scraper", metrics.Status(err)).Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, fmt.Errorf("scrape %s: %w", rawURL, err)
	}
	if parsed == nil || strings.TrimSpace(parsed.Content) == "" {
		return nil, fmt.Errorf("scrape %s: page has no readable content", rawURL)
	}

	title := strings.TrimSpace(parsed.Title)
	if title == "" {
		title = rawURL
	}
	article := model.NewArticle(title, parsed.Content, i.clock.Now())
	article.Excerpt = strings.TrimSpace(parsed.Excerpt)

	if err := i.store.Create(ctx, &article); err != nil {
		return nil, fmt.Errorf("save imported article: %w", err)
	}
	logger.Info("Import complete", zap.String("article_id", article.ID.String()), zap.String("title", title))
	return &article, nil
}
