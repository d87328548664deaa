package lifecycle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"content-pilot/internal/metrics"
	"content-pilot/internal/model"
	"content-pilot/internal/ports"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Mode selects what a re-optimization regenerates.
type Mode string

const (
	// ModeCTR rewrites the SEO title, meta description and tags only.
	ModeCTR Mode = "ctr"
	// ModeRefresh rewrites the body and then the SEO fields.
	ModeRefresh Mode = "refresh"
)

func (m Mode) Valid() bool { return m == ModeCTR || m == ModeRefresh }

const (
	seoExcerptChars     = 1500
	maxSEOTitleChars    = 60
	maxMetaDescChars    = 155
	maxSEOTags          = 5
	refreshPromptFormat = `Rewrite the following blog article to improve clarity, freshness and readability.

Rules:
- Keep the original meaning and topic
- No keyword stuffing
- Professional tone
- Plain text only, no HTML or markdown

Title:
%s

Content:
%s
`
	seoPromptFormat = `You are a senior SEO strategist. Improve click-through rate for the article below.

Output ONLY valid JSON, no explanations, no markdown:
{"seo_title": "... (max 60 chars)", "meta_description": "... (max 155 chars)", "keywords": ["k1", "k2", "k3"]}

Article Title:
%s

Article Content:
%s
`
)

// SEOFields is the generator's structured answer.
type SEOFields struct {
	SEOTitle        string   `json:"seo_title"`
	MetaDescription string   `json:"meta_description"`
	Keywords        []string `json:"keywords"`
}

// SEOPrompt asks for SEO fields as JSON for the given article text.
func SEOPrompt(title, content string) string {
	return fmt.Sprintf(seoPromptFormat, title, Truncate(content, seoExcerptChars))
}

// ParseSEO decodes a generator reply, tolerating code fences around the JSON.
func ParseSEO(raw string) (SEOFields, error) {
	body := StripFences(raw)
	if start, end := strings.Index(body, "{"), strings.LastIndex(body, "}"); start >= 0 && end > start {
		body = body[start : end+1]
	}
	var out SEOFields
	if err := json.Unmarshal([]byte(body), &out); err != nil {
		return SEOFields{}, fmt.Errorf("invalid seo json: %w", err)
	}
	out.SEOTitle = Truncate(strings.TrimSpace(out.SEOTitle), maxSEOTitleChars)
	out.MetaDescription = Truncate(strings.TrimSpace(out.MetaDescription), maxMetaDescChars)
	if out.SEOTitle == "" || out.MetaDescription == "" {
		return SEOFields{}, ports.ErrEmptyOutput
	}
	keywords := make([]string, 0, len(out.Keywords))
	for _, k := range out.Keywords {
		if k = strings.TrimSpace(k); k != "" && len(keywords) < maxSEOTags {
			keywords = append(keywords, k)
		}
	}
	out.Keywords = keywords
	return out, nil
}

// Reoptimize regenerates an article through the content generator and commits
// the result as a rewrite. The generator runs outside the store update; the
// commit is rejected if the article moved on while the generator was working.
func (c *Controller) Reoptimize(ctx context.Context, id uuid.UUID, mode Mode, guard Guard) (*model.Article, error) {
	if !mode.Valid() {
		return nil, c.fail(OpReoptimize, id, violation(OpReoptimize, id, "unknown mode "+string(mode)))
	}
	logger := c.logger.With(zap.String("article_id", id.String()), zap.String("op", OpReoptimize), zap.String("mode", string(mode)))

	snapshot, err := c.store.Get(ctx, id)
	if err != nil {
		return nil, c.fail(OpReoptimize, id, err)
	}
	if snapshot.IsDeleted() {
		return nil, c.fail(OpReoptimize, id, violation(OpReoptimize, id, ReasonDeleted))
	}
	if err := checkGuard(OpReoptimize, guard, *snapshot, c.clock.Now()); err != nil {
		return nil, c.fail(OpReoptimize, id, err)
	}

	content := snapshot.Content
	if mode == ModeRefresh {
		content, err = c.generate(ctx, fmt.Sprintf(refreshPromptFormat, snapshot.Title, snapshot.Content))
		if err != nil {
			logger.Warn("Content refresh generation failed", zap.Error(err))
			return nil, c.fail(OpReoptimize, id, collaboratorErr(id, "content generation failed", err))
		}
	}

	raw, err := c.generate(ctx, SEOPrompt(snapshot.Title, content))
	if err != nil {
		logger.Warn("SEO generation failed", zap.Error(err))
		return nil, c.fail(OpReoptimize, id, collaboratorErr(id, "seo generation failed", err))
	}
	seo, err := ParseSEO(raw)
	if err != nil {
		logger.Warn("SEO reply unusable", zap.Error(err))
		return nil, c.fail(OpReoptimize, id, collaboratorErr(id, "seo reply unusable", err))
	}

	baseRewrites := snapshot.RewriteCount
	updated, err := c.store.Update(ctx, id, func(a *model.Article) error {
		now := c.clock.Now()
		if a.IsDeleted() {
			return violation(OpReoptimize, id, ReasonDeleted)
		}
		if a.RewriteCount != baseRewrites || a.LeaseActive(now) {
			return violation(OpReoptimize, id, ReasonChangedMeanwhile)
		}
		if err := checkGuard(OpReoptimize, guard, *a, now); err != nil {
			return err
		}
		if mode == ModeRefresh {
			a.Content = content
		}
		a.SEOTitle = seo.SEOTitle
		a.MetaDescription = seo.MetaDescription
		a.SEOTags = seo.Keywords
		a.Status = model.StatusApproved
		a.RewriteCount++
		a.LastOptimizedAt = &now
		return nil
	})
	if err != nil {
		return nil, c.fail(OpReoptimize, id, err)
	}

	c.committed(ctx, OpReoptimize, "article.reoptimized", *updated)
	logger.Info("Article re-optimized", zap.Int("rewrite_count", updated.RewriteCount))
	return updated, nil
}

func (c *Controller) generate(ctx context.Context, prompt string) (string, error) {
	if c.generator == nil {
		return "", errors.New("no content generator configured")
	}
	callCtx, cancel := context.WithTimeout(ctx, c.opts.CollaboratorTimeout)
	defer cancel()

	started := time.Now()
	out, err := c.generator.Generate(callCtx, prompt)
	if err == nil && strings.TrimSpace(out) == "" {
		err = ports.ErrEmptyOutput
	}
	metrics.CollaboratorDuration.WithLabelValues("generator", metrics.Status(err)).Observe(time.Since(started).Seconds())
	return strings.TrimSpace(out), err
}

func collaboratorErr(id uuid.UUID, reason string, err error) *Error {
	return &Error{Kind: KindCollaborator, Op: OpReoptimize, ArticleID: id, Reason: reason, Err: err}
}

// StripFences removes a markdown code fence wrapped around model output.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
