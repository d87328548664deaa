package publisher

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"content-pilot/internal/config"
	"content-pilot/internal/model"
	"content-pilot/internal/ports"
)

// WordPress publishes through the WordPress REST API using an application password.
type WordPress struct {
	baseURL     string
	user        string
	appPassword string
	status      string
	httpClient  *http.Client
}

var _ ports.Publisher = (*WordPress)(nil)

func NewWordPress(cfg config.PublisherConfig) *WordPress {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	status := cfg.Status
	if status == "" {
		status = "publish"
	}
	return &WordPress{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		user:        cfg.User,
		appPassword: cfg.AppPassword,
		status:      status,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

type wpPost struct {
	Title   string            `json:"title"`
	Content string            `json:"content"`
	Excerpt string            `json:"excerpt,omitempty"`
	Status  string            `json:"status"`
	Meta    map[string]string `json:"meta,omitempty"`
}

type wpCreated struct {
	ID   int64  `json:"id"`
	Link string `json:"link"`
}

// Publish creates the post, or updates it when the article already carries an
// external id from an earlier publication.
func (w *WordPress) Publish(ctx context.Context, article model.Article) (ports.PublishResult, error) {
	if w.baseURL == "" || w.user == "" || w.appPassword == "" {
		return ports.PublishResult{}, fmt.Errorf("wordpress publisher misconfigured")
	}

	post := wpPost{
		Title:   article.Title,
		Content: article.Content,
		Excerpt: article.MetaDescription,
		Status:  w.status,
	}
	if article.SEOTitle != "" || article.MetaDescription != "" {
		post.Meta = map[string]string{
			"seo_title":        article.SEOTitle,
			"meta_description": article.MetaDescription,
		}
	}
	body, err := json.Marshal(post)
	if err != nil {
		return ports.PublishResult{}, fmt.Errorf("marshal wordpress post: %w", err)
	}

	endpoint := w.baseURL + "/wp-json/wp/v2/posts"
	if article.ExternalID != "" {
		endpoint += "/" + article.ExternalID
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return ports.PublishResult{}, fmt.Errorf("new request: %w", err)
	}
	req.SetBasicAuth(w.user, w.appPassword)
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return ports.PublishResult{}, fmt.Errorf("send post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return ports.PublishResult{}, fmt.Errorf("wordpress error %s: %s", resp.Status, strings.TrimSpace(string(payload)))
	}

	var created wpCreated
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return ports.PublishResult{}, fmt.Errorf("decode wordpress response: %w", err)
	}
	if created.ID == 0 {
		return ports.PublishResult{}, fmt.Errorf("wordpress response carries no post id")
	}
	return ports.PublishResult{ExternalID: strconv.FormatInt(created.ID, 10), URL: created.Link}, nil
}
