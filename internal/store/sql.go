package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"content-pilot/internal/model"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// SQLStore keeps articles in one relational row each, guarded by a version
// column for compare-and-swap updates. Works on SQLite and PostgreSQL.
type SQLStore struct {
	db      *sql.DB
	driver  string
	builder sq.StatementBuilderType
}

var _ Store = (*SQLStore)(nil)

var articleColumns = []string{
	"id", "title", "excerpt", "content", "status", "platform",
	"seo_title", "meta_description", "seo_tags",
	"auto_publish", "ads_enabled", "view_count", "rewrite_count",
	"external_id", "url",
	"created_at", "published_at", "deleted_at", "last_optimized_at", "publish_lease_until",
	"version",
}

// NewSQLStore opens driver ("sqlite" or "postgres") and migrates the schema.
func NewSQLStore(driver, dsn string) (*SQLStore, error) {
	var placeholder sq.PlaceholderFormat
	switch driver {
	case "sqlite":
		placeholder = sq.Question
	case "postgres":
		placeholder = sq.Dollar
	default:
		return nil, fmt.Errorf("unsupported sql driver %q", driver)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}

	if driver == "sqlite" {
		// One writer; also keeps ":memory:" databases on a single connection.
		conn.SetMaxOpenConns(1)
		if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set wal mode: %w", err)
		}
	} else {
		conn.SetMaxOpenConns(25)
		conn.SetMaxIdleConns(5)
		conn.SetConnMaxLifetime(5 * time.Minute)
	}

	s := &SQLStore{
		db:      conn,
		driver:  driver,
		builder: sq.StatementBuilder.PlaceholderFormat(placeholder),
	}
	if err := s.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS articles (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			excerpt TEXT NOT NULL DEFAULT '',
			content TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL,
			platform TEXT NOT NULL DEFAULT '',
			seo_title TEXT NOT NULL DEFAULT '',
			meta_description TEXT NOT NULL DEFAULT '',
			seo_tags TEXT NOT NULL DEFAULT '[]',
			auto_publish INTEGER NOT NULL DEFAULT 0,
			ads_enabled INTEGER NOT NULL DEFAULT 0,
			view_count INTEGER NOT NULL DEFAULT 0,
			rewrite_count INTEGER NOT NULL DEFAULT 0,
			external_id TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			published_at BIGINT,
			deleted_at BIGINT,
			last_optimized_at BIGINT,
			publish_lease_until BIGINT,
			version BIGINT NOT NULL DEFAULT 1
		)`,
		`CREATE INDEX IF NOT EXISTS idx_articles_status ON articles (status)`,
		`CREATE TABLE IF NOT EXISTS topics (
			topic TEXT PRIMARY KEY,
			times_used INTEGER NOT NULL DEFAULT 1,
			last_used_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) Create(ctx context.Context, article *model.Article) error {
	vals, err := articleValues(*article)
	if err != nil {
		return err
	}
	query, args, err := s.builder.Insert("articles").
		Columns(articleColumns...).
		Values(append(vals, int64(1))...).
		ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		if _, getErr := s.Get(ctx, article.ID); getErr == nil {
			return ErrExists
		}
		return fmt.Errorf("insert article: %w", err)
	}
	return nil
}

func (s *SQLStore) Get(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	a, _, err := s.getVersioned(ctx, id)
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLStore) getVersioned(ctx context.Context, id uuid.UUID) (model.Article, int64, error) {
	query, args, err := s.builder.Select(articleColumns...).
		From("articles").
		Where(sq.Eq{"id": id.String()}).
		ToSql()
	if err != nil {
		return model.Article{}, 0, err
	}
	a, version, err := scanArticle(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Article{}, 0, ErrNotFound
	}
	return a, version, err
}

// List returns metadata only; the content column is left empty.
func (s *SQLStore) List(ctx context.Context, filter Filter) ([]model.Article, error) {
	q := s.builder.Select(articleColumns...).From("articles").OrderBy("created_at ASC", "id ASC")
	if len(filter.Statuses) > 0 {
		statuses := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			statuses[i] = string(st)
		}
		q = q.Where(sq.Eq{"status": statuses})
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	var articles []model.Article
	for rows.Next() {
		a, _, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		a.Content = ""
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

// Update reads the row, applies fn and writes back only if the version is unchanged.
func (s *SQLStore) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*model.Article, error) {
	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		current, version, err := s.getVersioned(ctx, id)
		if err != nil {
			return nil, err
		}

		next := current.Clone()
		if err := fn(&next); err != nil {
			return nil, err
		}
		next.ID = current.ID
		next.CreatedAt = current.CreatedAt

		vals, err := articleValues(next)
		if err != nil {
			return nil, err
		}
		set := make(map[string]interface{}, len(articleColumns))
		for i, col := range articleColumns[1 : len(articleColumns)-1] {
			set[col] = vals[i+1]
		}
		set["version"] = version + 1

		query, args, err := s.builder.Update("articles").
			SetMap(set).
			Where(sq.Eq{"id": id.String(), "version": version}).
			ToSql()
		if err != nil {
			return nil, err
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("update article: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, err
		}
		if affected == 1 {
			return &next, nil
		}
	}
	return nil, ErrConflict
}

func (s *SQLStore) GetTopic(ctx context.Context, key string) (*model.TopicUsage, error) {
	query, args, err := s.builder.Select("topic", "times_used", "last_used_at").
		From("topics").
		Where(sq.Eq{"topic": key}).
		ToSql()
	if err != nil {
		return nil, err
	}
	rec, err := scanTopic(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrTopicNotFound
	}
	return rec, err
}

// RecordTopic upserts in a single statement so concurrent first uses cannot collide.
func (s *SQLStore) RecordTopic(ctx context.Context, key string, at time.Time) (*model.TopicUsage, error) {
	query, args, err := s.builder.Insert("topics").
		Columns("topic", "times_used", "last_used_at").
		Values(key, 1, at.UnixNano()).
		Suffix("ON CONFLICT (topic) DO UPDATE SET times_used = topics.times_used + 1, last_used_at = excluded.last_used_at").
		ToSql()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return nil, fmt.Errorf("upsert topic: %w", err)
	}
	return s.GetTopic(ctx, key)
}

func (s *SQLStore) ListTopics(ctx context.Context, limit int) ([]model.TopicUsage, error) {
	q := s.builder.Select("topic", "times_used", "last_used_at").
		From("topics").
		OrderBy("times_used DESC", "topic ASC")
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	var topics []model.TopicUsage
	for rows.Next() {
		rec, err := scanTopic(rows)
		if err != nil {
			return nil, err
		}
		topics = append(topics, *rec)
	}
	return topics, rows.Err()
}

func (s *SQLStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	query, args, err := s.builder.Select("value").From("settings").Where(sq.Eq{"name": key}).ToSql()
	if err != nil {
		return "", false, err
	}
	var value string
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

func (s *SQLStore) SetSetting(ctx context.Context, key, value string) error {
	query, args, err := s.builder.Insert("settings").
		Columns("name", "value").
		Values(key, value).
		Suffix("ON CONFLICT (name) DO UPDATE SET value = excluded.value").
		ToSql()
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, query, args...)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

// articleValues lists column values in articleColumns order, without version.
func articleValues(a model.Article) ([]interface{}, error) {
	tags, err := json.Marshal(a.SEOTags)
	if err != nil {
		return nil, err
	}
	if a.SEOTags == nil {
		tags = []byte("[]")
	}
	return []interface{}{
		a.ID.String(), a.Title, a.Excerpt, a.Content, string(a.Status), a.Platform,
		a.SEOTitle, a.MetaDescription, string(tags),
		boolInt(a.AutoPublish), boolInt(a.AdsEnabled), a.ViewCount, a.RewriteCount,
		a.ExternalID, a.URL,
		a.CreatedAt.UnixNano(), nullTime(a.PublishedAt), nullTime(a.DeletedAt),
		nullTime(a.LastOptimizedAt), nullTime(a.PublishLeaseUntil),
	}, nil
}

func scanArticle(row rowScanner) (model.Article, int64, error) {
	var (
		a                                     model.Article
		id, status, tags                      string
		autoPublish, ads                      int
		createdAt, version                    int64
		publishedAt, deletedAt, optimized, ls sql.NullInt64
	)
	err := row.Scan(
		&id, &a.Title, &a.Excerpt, &a.Content, &status, &a.Platform,
		&a.SEOTitle, &a.MetaDescription, &tags,
		&autoPublish, &ads, &a.ViewCount, &a.RewriteCount,
		&a.ExternalID, &a.URL,
		&createdAt, &publishedAt, &deletedAt, &optimized, &ls,
		&version,
	)
	if err != nil {
		return model.Article{}, 0, err
	}

	a.ID, err = uuid.Parse(id)
	if err != nil {
		return model.Article{}, 0, fmt.Errorf("parse article id: %w", err)
	}
	if err := json.Unmarshal([]byte(tags), &a.SEOTags); err != nil {
		return model.Article{}, 0, fmt.Errorf("decode seo tags: %w", err)
	}
	if len(a.SEOTags) == 0 {
		a.SEOTags = nil
	}
	a.Status = model.ArticleStatus(status)
	a.AutoPublish = autoPublish != 0
	a.AdsEnabled = ads != 0
	a.CreatedAt = time.Unix(0, createdAt).UTC()
	a.PublishedAt = timeFromNull(publishedAt)
	a.DeletedAt = timeFromNull(deletedAt)
	a.LastOptimizedAt = timeFromNull(optimized)
	a.PublishLeaseUntil = timeFromNull(ls)
	return a, version, nil
}

func scanTopic(row rowScanner) (*model.TopicUsage, error) {
	var (
		rec  model.TopicUsage
		last int64
	)
	if err := row.Scan(&rec.Topic, &rec.TimesUsed, &last); err != nil {
		return nil, err
	}
	rec.LastUsedAt = time.Unix(0, last).UTC()
	return &rec, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func timeFromNull(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}
