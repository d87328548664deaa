// Package trends suggests topics from the newest items of RSS/Atom feeds.
package trends

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"content-pilot/internal/ports"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"
)

// FeedSuggester treats recent feed headlines as trending topics.
type FeedSuggester struct {
	feeds  []string
	parser *gofeed.Parser
	logger *zap.Logger
	// maxAge drops stale items; zero keeps everything.
	maxAge time.Duration
	now    func() time.Time
}

var _ ports.TopicSuggester = (*FeedSuggester)(nil)

func NewFeedSuggester(feeds []string, logger *zap.Logger) *FeedSuggester {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FeedSuggester{
		feeds:  feeds,
		parser: gofeed.NewParser(),
		logger: logger,
		maxAge: 72 * time.Hour,
		now:    time.Now,
	}
}

type headline struct {
	title     string
	published time.Time
}

// SuggestTopics returns up to limit headlines, newest first. Region is only
// logged; feeds are expected to be chosen per region in configuration. A feed
// that fails is skipped as long as another one answers.
func (f *FeedSuggester) SuggestTopics(ctx context.Context, region string, limit int) ([]string, error) {
	var (
		items   []headline
		lastErr error
		okFeeds int
	)
	for _, url := range f.feeds {
		parsed, err := f.parser.ParseURLWithContext(url, ctx)
		if err != nil {
			f.logger.Warn("Feed fetch failed", zap.String("feed", url), zap.Error(err))
			lastErr = err
			continue
		}
		okFeeds++
		for _, item := range parsed.Items {
			title := strings.Join(strings.Fields(item.Title), " ")
			if title == "" {
				continue
			}
			var published time.Time
			if item.PublishedParsed != nil {
				published = *item.PublishedParsed
			} else if item.UpdatedParsed != nil {
				published = *item.UpdatedParsed
			}
			if f.maxAge > 0 && !published.IsZero() && f.now().Sub(published) > f.maxAge {
				continue
			}
			items = append(items, headline{title: title, published: published})
		}
	}
	if okFeeds == 0 && lastErr != nil {
		return nil, fmt.Errorf("no feed reachable: %w", lastErr)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].published.After(items[j].published)
	})

	seen := make(map[string]struct{}, len(items))
	topics := make([]string, 0, limit)
	for _, it := range items {
		key := strings.ToLower(it.title)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		topics = append(topics, it.title)
		if limit > 0 && len(topics) == limit {
			break
		}
	}
	f.logger.Debug("Feed topics suggested", zap.String("region", region), zap.Int("count", len(topics)))
	return topics, nil
}
