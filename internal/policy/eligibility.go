// Package policy holds the pure eligibility predicates the scheduler consults
// before acting on an article. Nothing here touches storage or the clock; the
// caller passes the snapshot and "now".
package policy

import (
	"time"

	"content-pilot/internal/model"
)

// ReasonCode explains a decision. It is for logs and metrics only.
type ReasonCode string

const (
	ReasonEligible       ReasonCode = "eligible"
	ReasonNotPublished   ReasonCode = "not-published"
	ReasonNeverPublished ReasonCode = "never-published"
	ReasonInGracePeriod  ReasonCode = "grace-period"
	ReasonTooYoung       ReasonCode = "too-young"
	ReasonEnoughViews    ReasonCode = "enough-views"
	ReasonRewriteLimit   ReasonCode = "rewrite-limit"
	ReasonNotApproved    ReasonCode = "not-approved"
	ReasonDeleted        ReasonCode = "deleted"
	ReasonAutoPublishOff ReasonCode = "auto-publish-off"
)

// Decision is the outcome of one policy evaluation.
type Decision struct {
	Eligible bool
	Reason   ReasonCode
}

func eligible() Decision { return Decision{Eligible: true, Reason: ReasonEligible} }
func reject(r ReasonCode) Decision { return Decision{Reason: r} }

// Thresholds configures the CTR and refresh policies.
type Thresholds struct {
	GracePeriod       time.Duration `yaml:"grace_period"`
	WeakViewThreshold int           `yaml:"weak_view_threshold"`
	MaxRewriteLimit   int           `yaml:"max_rewrite_limit"`
	RefreshMinAge     time.Duration `yaml:"refresh_min_age"`
	LowViewThreshold  int           `yaml:"low_view_threshold"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		GracePeriod:       24 * time.Hour,
		WeakViewThreshold: 50,
		MaxRewriteLimit:   2,
		RefreshMinAge:     30 * 24 * time.Hour,
		LowViewThreshold:  100,
	}
}

// CTRRewrite: published, out of the grace period, under the weak view
// threshold and under the rewrite limit.
func (t Thresholds) CTRRewrite(a model.Article, now time.Time) Decision {
	if a.Status != model.StatusPublished {
		return reject(ReasonNotPublished)
	}
	if a.PublishedAt == nil {
		return reject(ReasonNeverPublished)
	}
	if now.Sub(*a.PublishedAt) < t.GracePeriod {
		return reject(ReasonInGracePeriod)
	}
	if a.ViewCount >= t.WeakViewThreshold {
		return reject(ReasonEnoughViews)
	}
	if a.RewriteCount >= t.MaxRewriteLimit {
		return reject(ReasonRewriteLimit)
	}
	return eligible()
}

// ContentRefresh: stale content that was published long enough ago and still
// draws few views.
func (t Thresholds) ContentRefresh(a model.Article, now time.Time) Decision {
	if a.RewriteCount >= t.MaxRewriteLimit {
		return reject(ReasonRewriteLimit)
	}
	if a.ViewCount >= t.LowViewThreshold {
		return reject(ReasonEnoughViews)
	}
	if a.PublishedAt == nil {
		return reject(ReasonNeverPublished)
	}
	if now.Sub(*a.PublishedAt) < t.RefreshMinAge {
		return reject(ReasonTooYoung)
	}
	return eligible()
}

// AutoPublish filters the pool the daily publish job draws from.
func AutoPublish(a model.Article) Decision {
	if a.IsDeleted() {
		return reject(ReasonDeleted)
	}
	if a.Status != model.StatusApproved {
		return reject(ReasonNotApproved)
	}
	if !a.AutoPublish {
		return reject(ReasonAutoPublishOff)
	}
	return eligible()
}
