// Package compose turns a topic into a stored, approved article: pick a topic
// the memory allows, generate the body, derive title and SEO fields, persist,
// then record the topic usage.
package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"content-pilot/internal/clock"
	"content-pilot/internal/lifecycle"
	"content-pilot/internal/metrics"
	"content-pilot/internal/model"
	"content-pilot/internal/ports"
	"content-pilot/internal/store"
	"content-pilot/internal/topics"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

var (
	ErrNoAllowedTopic = errors.New("no trending topic passes the reuse cooldown")
	ErrTopicOnHold    = errors.New("topic is on cooldown or over its usage quota")
)

const (
	excerptChars = 200

	articlePromptFormat = `You are a senior tech blog writer.

Write a complete, original blog article about the topic below.

Rules:
- Output HTML only: one <h1> title followed by <h2> sections and <p> paragraphs
- 4 to 6 sections, clear and simple English
- No markdown, no scripts, no inline styles

Topic:
%s
`
)

// Options shape generated articles.
type Options struct {
	Region       string
	SuggestLimit int
	Platform     string
	// Instructions is prepended to every article prompt when set.
	Instructions string
	Timeout      time.Duration
}

type Deps struct {
	Store     store.Store
	Tracker   *topics.Tracker
	Suggester ports.TopicSuggester
	Generator ports.ContentGenerator
	Clock     clock.Clock
	Logger    *zap.Logger
	Options   Options
}

type Composer struct {
	store     store.Store
	tracker   *topics.Tracker
	suggester ports.TopicSuggester
	generator ports.ContentGenerator
	clock     clock.Clock
	logger    *zap.Logger
	opts      Options
}

func New(deps Deps) *Composer {
	c := &Composer{
		store:     deps.Store,
		tracker:   deps.Tracker,
		suggester: deps.Suggester,
		generator: deps.Generator,
		clock:     deps.Clock,
		logger:    deps.Logger,
		opts:      deps.Options,
	}
	if c.clock == nil {
		c.clock = clock.System{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	if c.opts.SuggestLimit <= 0 {
		c.opts.SuggestLimit = 5
	}
	if c.opts.Region == "" {
		c.opts.Region = "global"
	}
	if c.opts.Timeout <= 0 {
		c.opts.Timeout = 90 * time.Second
	}
	return c
}

// FromTrending composes an article about the first suggested topic the topic
// memory still allows.
func (c *Composer) FromTrending(ctx context.Context) (*model.Article, error) {
	if c.suggester == nil {
		return nil, errors.New("no topic suggester configured")
	}
	suggested, err := c.suggester.SuggestTopics(ctx, c.opts.Region, c.opts.SuggestLimit)
	if err != nil {
		return nil, fmt.Errorf("suggest topics: %w", err)
	}

	for _, topic := range suggested {
		ok, err := c.tracker.IsAllowed(ctx, topic)
		if errors.Is(err, topics.ErrEmptyTopic) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !ok {
			c.logger.Debug("Topic on hold", zap.String("topic", topic))
			continue
		}
		return c.compose(ctx, topic)
	}
	c.logger.Info("No allowed topic among suggestions", zap.Int("suggested", len(suggested)))
	return nil, ErrNoAllowedTopic
}

// FromTopic composes an article for an explicit topic. The topic memory
// applies here too.
func (c *Composer) FromTopic(ctx context.Context, topic string) (*model.Article, error) {
	ok, err := c.tracker.IsAllowed(ctx, topic)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTopicOnHold, topic)
	}
	return c.compose(ctx, topic)
}

func (c *Composer) compose(ctx context.Context, topic string) (*model.Article, error) {
	logger := c.logger.With(zap.String("topic", topic))

	prompt := fmt.Sprintf(articlePromptFormat, topic)
	if c.opts.Instructions != "" {
		prompt = c.opts.Instructions + "\n\n" + prompt
	}
	raw, err := c.generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("generate article: %w", err)
	}

	draft, err := Extract(raw, topic)
	if err != nil {
		return nil, fmt.Errorf("extract article: %w", err)
	}

	article := model.NewArticle(draft.Title, draft.HTML, c.clock.Now())
	article.Excerpt = draft.Excerpt
	article.Status = model.StatusApproved
	article.AutoPublish = true
	article.Platform = c.opts.Platform

	seo, err := c.seo(ctx, draft)
	if err != nil {
		// The article is still publishable with plain fallbacks.
		logger.Warn("SEO generation failed, using fallback", zap.Error(err))
		seo = lifecycle.SEOFields{SEOTitle: lifecycle.Truncate(draft.Title, 60), MetaDescription: draft.Excerpt}
	}
	article.SEOTitle = seo.SEOTitle
	article.MetaDescription = seo.MetaDescription
	article.SEOTags = seo.Keywords

	if err := c.store.Create(ctx, &article); err != nil {
		return nil, fmt.Errorf("save article: %w", err)
	}
	if _, err := c.tracker.RecordUsage(ctx, topic); err != nil {
		logger.Error("Article saved but topic usage not recorded", zap.String("article_id", article.ID.String()), zap.Error(err))
		return &article, err
	}

	logger.Info("Article composed", zap.String("article_id", article.ID.String()), zap.String("title", article.Title))
	return &article, nil
}

func (c *Composer) seo(ctx context.Context, draft Draft) (lifecycle.SEOFields, error) {
	raw, err := c.generate(ctx, lifecycle.SEOPrompt(draft.Title, draft.Text))
	if err != nil {
		return lifecycle.SEOFields{}, err
	}
	return lifecycle.ParseSEO(raw)
}

func (c *Composer) generate(ctx context.Context, prompt string) (string, error) {
	if c.generator == nil {
		return "", errors.New("no content generator configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	started := time.Now()
	out, err := c.generator.Generate(callCtx, prompt)
	if err == nil && strings.TrimSpace(out) == "" {
		err = ports.ErrEmptyOutput
	}
	metrics.CollaboratorDuration.WithLabelValues("generator", metrics.Status(err)).Observe(time.Since(started).Seconds())
	return out, err
}

// Draft is a generated article split into its parts.
type Draft struct {
	Title   string
	Excerpt string
	// HTML is the body without the title heading.
	HTML string
	// Text is the visible text of the body.
	Text string
}

// Extract parses generated HTML. The first <h1> becomes the title, falling
// back to the topic; the first non-empty paragraph becomes the excerpt.
func Extract(raw, topic string) (Draft, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(lifecycle.StripFences(raw)))
	if err != nil {
		return Draft{}, err
	}

	body := doc.Find("body")
	var d Draft
	if h1 := body.Find("h1").First(); h1.Length() > 0 {
		d.Title = collapse(h1.Text())
		h1.Remove()
	}
	if d.Title == "" {
		d.Title = titleCase(collapse(topic))
	}

	body.Find("script, style").Remove()
	body.Find("p").EachWithBreak(func(_ int, p *goquery.Selection) bool {
		d.Excerpt = collapse(p.Text())
		return d.Excerpt == ""
	})

	d.Text = collapse(body.Text())
	if d.Text == "" {
		return Draft{}, ports.ErrEmptyOutput
	}
	if d.Excerpt == "" {
		d.Excerpt = d.Text
	}
	d.Excerpt = lifecycle.Truncate(d.Excerpt, excerptChars)

	html, err := body.Html()
	if err != nil {
		return Draft{}, err
	}
	d.HTML = strings.TrimSpace(html)
	return d, nil
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		r := []rune(w)
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}
