package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"content-pilot/internal/model"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	articleIndexKey = "articles:index"
	topicIndexKey   = "topics:usage"
	importQueueKey  = "queue:import"

	importPollInterval = 5 * time.Second
)

// HybridStore combines Redis (metadata, CAS, topic memory) and Badger (canonical content).
//
// Content is written under a revisioned key before the Redis transaction that
// points at it commits, so readers only ever see a complete article.
type HybridStore struct {
	rdb *redis.Client
	db  *badger.DB
}

var _ Store = (*HybridStore)(nil)
var _ ImportQueue = (*HybridStore)(nil)

// record is the Redis representation: metadata plus the live content revision.
type record struct {
	model.Article
	ContentRev int64 `json:"content_rev"`
}

// NewHybridStore initializes databases.
// Pass badgerPath="" to run in "Redis-Only" mode (for CLI tools).
func NewHybridStore(redisAddr string, badgerPath string) (*HybridStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	var db *badger.DB
	if badgerPath != "" {
		opts := badger.DefaultOptions(badgerPath)
		opts.Logger = nil
		var err error
		db, err = badger.Open(opts)
		if err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to open badger: %w", err)
		}
	}

	return &HybridStore{rdb: rdb, db: db}, nil
}

// RunValueLogGC reclaims Badger value log space every interval until ctx is
// done. Each round repeats while Badger still finds a file worth rewriting.
func (s *HybridStore) RunValueLogGC(ctx context.Context, interval time.Duration, onErr func(error)) {
	if s.db == nil {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			err := s.db.RunValueLogGC(0.7)
			if err == nil {
				continue
			}
			if errors.Is(err, badger.ErrGCInMemoryMode) {
				return
			}
			if !errors.Is(err, badger.ErrNoRewrite) && !errors.Is(err, badger.ErrRejected) && onErr != nil {
				onErr(err)
			}
			break
		}
	}
}

// Close cleans up connections
func (s *HybridStore) Close() error {
	var errs []error
	if s.rdb != nil {
		errs = append(errs, s.rdb.Close())
	}
	if s.db != nil {
		errs = append(errs, s.db.Close())
	}
	return errors.Join(errs...)
}

func articleKey(id uuid.UUID) string { return fmt.Sprintf("article:%s", id) }
func topicKey(key string) string     { return "topic:" + key }
func settingKey(key string) string   { return "setting:" + key }

func contentRevKey(id uuid.UUID) string { return fmt.Sprintf("content_rev:%s", id) }

func contentKey(id uuid.UUID, rev int64) []byte {
	return []byte(fmt.Sprintf("content:%s:%d", id, rev))
}

func encodeRecord(rec record) ([]byte, error) {
	rec.Content = ""
	return json.Marshal(rec)
}

// Create stores a new article: content to Badger, metadata and index to Redis.
func (s *HybridStore) Create(ctx context.Context, article *model.Article) error {
	rec := record{Article: article.Clone()}
	if article.Content != "" {
		rev, err := s.nextContentRev(ctx, article.ID)
		if err != nil {
			return err
		}
		if err := s.putContent(article.ID, rev, article.Content); err != nil {
			return err
		}
		rec.ContentRev = rev
	}

	data, err := encodeRecord(rec)
	if err != nil {
		return err
	}

	var created *redis.BoolCmd
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		created = pipe.SetNX(ctx, articleKey(article.ID), data, 0)
		pipe.ZAdd(ctx, articleIndexKey, redis.Z{
			Score:  float64(article.CreatedAt.UnixNano()),
			Member: article.ID.String(),
		})
		return nil
	})
	if err != nil || !created.Val() {
		s.dropContent(article.ID, rec.ContentRev)
	}
	if err != nil {
		return err
	}
	if !created.Val() {
		return ErrExists
	}
	return nil
}

// Get combines data: Metadata from Redis + Content from Badger
func (s *HybridStore) Get(ctx context.Context, id uuid.UUID) (*model.Article, error) {
	rec, err := s.loadRecord(ctx, s.rdb, id)
	if err != nil {
		return nil, err
	}
	content, err := s.getContent(id, rec.ContentRev)
	if err != nil {
		return nil, err
	}
	article := rec.Article
	article.Content = content
	return &article, nil
}

// List fetches article metadata from Redis in creation order.
func (s *HybridStore) List(ctx context.Context, filter Filter) ([]model.Article, error) {
	ids, err := s.rdb.ZRange(ctx, articleIndexKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = "article:" + id
	}
	vals, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	articles := make([]model.Article, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode article: %w", err)
		}
		if filter.match(rec.Article) {
			articles = append(articles, rec.Article)
		}
	}
	sort.SliceStable(articles, func(i, j int) bool {
		return articles[i].CreatedAt.Before(articles[j].CreatedAt)
	})
	return articles, nil
}

// Update applies fn under WATCH/MULTI and retries when another writer got in first.
func (s *HybridStore) Update(ctx context.Context, id uuid.UUID, fn UpdateFunc) (*model.Article, error) {
	key := articleKey(id)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var (
			updated  model.Article
			prevRev  int64
			wroteRev int64
		)

		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			rec, err := s.loadRecord(ctx, tx, id)
			if err != nil {
				return err
			}
			content, err := s.getContent(id, rec.ContentRev)
			if err != nil {
				return err
			}
			current := rec.Article
			current.Content = content

			next := current.Clone()
			if err := fn(&next); err != nil {
				return err
			}
			next.ID = current.ID
			next.CreatedAt = current.CreatedAt

			nextRec := record{Article: next, ContentRev: rec.ContentRev}
			if next.Content != current.Content {
				rev, err := s.nextContentRev(ctx, id)
				if err != nil {
					return err
				}
				if err := s.putContent(id, rev, next.Content); err != nil {
					return err
				}
				nextRec.ContentRev = rev
				prevRev, wroteRev = rec.ContentRev, rev
			}

			data, err := encodeRecord(nextRec)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, data, 0)
				return nil
			})
			updated = next
			return err
		}, key)

		if err == nil {
			if wroteRev > 0 && prevRev > 0 {
				s.dropContent(id, prevRev)
			}
			return &updated, nil
		}
		if wroteRev > 0 {
			s.dropContent(id, wroteRev)
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

func (s *HybridStore) GetTopic(ctx context.Context, key string) (*model.TopicUsage, error) {
	val, err := s.rdb.Get(ctx, topicKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrTopicNotFound
	} else if err != nil {
		return nil, err
	}
	var rec model.TopicUsage
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// RecordTopic increments a topic's usage atomically, creating it on first use.
func (s *HybridStore) RecordTopic(ctx context.Context, key string, at time.Time) (*model.TopicUsage, error) {
	rkey := topicKey(key)

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var next model.TopicUsage
		err := s.rdb.Watch(ctx, func(tx *redis.Tx) error {
			var current *model.TopicUsage
			val, err := tx.Get(ctx, rkey).Bytes()
			switch {
			case err == redis.Nil:
			case err != nil:
				return err
			default:
				current = &model.TopicUsage{}
				if err := json.Unmarshal(val, current); err != nil {
					return err
				}
			}

			next = applyTopicUse(current, key, at)
			data, err := json.Marshal(next)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, rkey, data, 0)
				pipe.ZAdd(ctx, topicIndexKey, redis.Z{Score: float64(next.TimesUsed), Member: key})
				return nil
			})
			return err
		}, rkey)

		if err == nil {
			return &next, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return nil, err
	}
	return nil, ErrConflict
}

// ListTopics returns the most used topics first.
func (s *HybridStore) ListTopics(ctx context.Context, limit int) ([]model.TopicUsage, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	keys, err := s.rdb.ZRevRange(ctx, topicIndexKey, 0, stop).Result()
	if err != nil {
		return nil, err
	}

	topics := make([]model.TopicUsage, 0, len(keys))
	for _, k := range keys {
		rec, err := s.GetTopic(ctx, k)
		if errors.Is(err, ErrTopicNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		topics = append(topics, *rec)
	}
	return topics, nil
}

func (s *HybridStore) GetSetting(ctx context.Context, key string) (string, bool, error) {
	val, err := s.rdb.Get(ctx, settingKey(key)).Result()
	if err == redis.Nil {
		return "", false, nil
	} else if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *HybridStore) SetSetting(ctx context.Context, key, value string) error {
	return s.rdb.Set(ctx, settingKey(key), value, 0).Err()
}

// EnqueueImport pushes a URL for the background importer.
func (s *HybridStore) EnqueueImport(ctx context.Context, url string) error {
	return s.rdb.LPush(ctx, importQueueKey, url).Err()
}

// PopImport waits for a URL in the Redis queue (Blocking). BRPOP is re-issued
// in short rounds so a cancelled ctx is noticed.
func (s *HybridStore) PopImport(ctx context.Context) (string, error) {
	for {
		result, err := s.rdb.BRPop(ctx, importPollInterval, importQueueKey).Result()
		if err == redis.Nil {
			if ctx.Err() != nil {
				return "", ctx.Err()
			}
			continue
		}
		if err != nil {
			return "", err
		}
		return result[1], nil
	}
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *HybridStore) loadRecord(ctx context.Context, c stringGetter, id uuid.UUID) (record, error) {
	val, err := c.Get(ctx, articleKey(id)).Bytes()
	if err == redis.Nil {
		return record{}, ErrNotFound
	} else if err != nil {
		return record{}, err
	}
	var rec record
	if err := json.Unmarshal(val, &rec); err != nil {
		return record{}, err
	}
	return rec, nil
}

// nextContentRev hands out a revision no other writer will get, so a failed
// attempt only ever drops content it wrote itself.
func (s *HybridStore) nextContentRev(ctx context.Context, id uuid.UUID) (int64, error) {
	rev, err := s.rdb.Incr(ctx, contentRevKey(id)).Result()
	if err != nil {
		return 0, fmt.Errorf("allocate content revision: %w", err)
	}
	return rev, nil
}

func (s *HybridStore) putContent(id uuid.UUID, rev int64, content string) error {
	if s.db == nil {
		return fmt.Errorf("cannot save content: badgerdb is not initialized")
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(contentKey(id, rev), []byte(content))
	})
}

func (s *HybridStore) getContent(id uuid.UUID, rev int64) (string, error) {
	if rev == 0 || s.db == nil {
		return "", nil
	}
	var content string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(contentKey(id, rev))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			content = string(val)
			return nil
		})
	})
	if err != nil && err != badger.ErrKeyNotFound {
		return "", err
	}
	return content, nil
}

// dropContent removes an unreferenced revision. Failures only leak an orphan key.
func (s *HybridStore) dropContent(id uuid.UUID, rev int64) {
	if s.db == nil || rev == 0 {
		return
	}
	_ = s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(contentKey(id, rev))
	})
}
