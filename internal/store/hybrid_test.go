package store

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"content-pilot/internal/model"

	"github.com/alicebob/miniredis/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var day1 = time.Date(2025, time.March, 1, 9, 0, 0, 0, time.UTC)

func newTestHybridStore(t *testing.T) (*HybridStore, *miniredis.Miniredis, *badger.DB) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	badgerDB, err := badger.Open(opts)
	require.NoError(t, err)

	// Wire private fields directly to avoid temp files for Badger.
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	st := &HybridStore{rdb: rdb, db: badgerDB}
	t.Cleanup(func() { st.Close() })
	return st, mr, badgerDB
}

func TestHybridStore_Create_And_Get(t *testing.T) {
	st, mr, badgerDB := newTestHybridStore(t)
	ctx := context.Background()

	article := model.NewArticle("Test Article", "<h1>Big Content</h1>", day1)
	require.NoError(t, st.Create(ctx, &article))

	// Metadata lives in Redis without the heavy content.
	val, err := mr.Get("article:" + article.ID.String())
	require.NoError(t, err)
	var meta record
	require.NoError(t, json.Unmarshal([]byte(val), &meta))
	assert.Equal(t, "Test Article", meta.Title)
	assert.Empty(t, meta.Content, "Redis should NOT store the heavy content")
	assert.Equal(t, int64(1), meta.ContentRev)

	// Content lives in Badger under the revisioned key.
	err = badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get(contentKey(article.ID, 1))
		if err != nil {
			return err
		}
		raw, _ := item.ValueCopy(nil)
		assert.Equal(t, article.Content, string(raw))
		return nil
	})
	require.NoError(t, err)

	got, err := st.Get(ctx, article.ID)
	require.NoError(t, err)
	assert.Equal(t, article.Content, got.Content)
	assert.Equal(t, model.StatusDraft, got.Status)

	dup := article.Clone()
	dup.Content = "<p>impostor</p>"
	assert.ErrorIs(t, st.Create(ctx, &dup), ErrExists)

	got, err = st.Get(ctx, article.ID)
	require.NoError(t, err)
	assert.Equal(t, article.Content, got.Content, "a rejected create must not touch stored content")
}

func TestHybridStore_Get_NotFound(t *testing.T) {
	st, _, _ := newTestHybridStore(t)
	article := model.NewArticle("missing", "", day1)

	_, err := st.Get(context.Background(), article.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = st.Update(context.Background(), article.ID, func(a *model.Article) error { return nil })
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHybridStore_Update_RevisesContent(t *testing.T) {
	st, _, badgerDB := newTestHybridStore(t)
	ctx := context.Background()

	article := model.NewArticle("Title", "v1", day1)
	require.NoError(t, st.Create(ctx, &article))

	updated, err := st.Update(ctx, article.ID, func(a *model.Article) error {
		a.Content = "v2"
		a.Status = model.StatusApproved
		a.CreatedAt = day1.Add(time.Hour) // immutable, must be ignored
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "v2", updated.Content)
	assert.True(t, updated.CreatedAt.Equal(day1))

	got, err := st.Get(ctx, article.ID)
	require.NoError(t, err)
	assert.Equal(t, "v2", got.Content)
	assert.Equal(t, model.StatusApproved, got.Status)

	// The superseded revision is removed.
	err = badgerDB.View(func(txn *badger.Txn) error {
		_, err := txn.Get(contentKey(article.ID, 1))
		return err
	})
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)
}

func TestHybridStore_Update_AbortWritesNothing(t *testing.T) {
	st, _, _ := newTestHybridStore(t)
	ctx := context.Background()

	article := model.NewArticle("Title", "body", day1)
	require.NoError(t, st.Create(ctx, &article))

	boom := errors.New("boom")
	_, err := st.Update(ctx, article.ID, func(a *model.Article) error {
		a.Content = "half written"
		a.RewriteCount = 9
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := st.Get(ctx, article.ID)
	require.NoError(t, err)
	assert.Equal(t, "body", got.Content)
	assert.Equal(t, 0, got.RewriteCount)
}

func TestHybridStore_List_FiltersAndOrders(t *testing.T) {
	st, _, _ := newTestHybridStore(t)
	ctx := context.Background()

	older := model.NewArticle("older", "a", day1)
	older.Status = model.StatusApproved
	newer := model.NewArticle("newer", "b", day1.Add(24*time.Hour))
	newer.Status = model.StatusApproved
	draft := model.NewArticle("draft", "c", day1.Add(time.Hour))

	require.NoError(t, st.Create(ctx, &newer))
	require.NoError(t, st.Create(ctx, &draft))
	require.NoError(t, st.Create(ctx, &older))

	all, err := st.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"older", "draft", "newer"}, titles(all))

	approved, err := st.List(ctx, Filter{Statuses: []model.ArticleStatus{model.StatusApproved}})
	require.NoError(t, err)
	assert.Equal(t, []string{"older", "newer"}, titles(approved))
	assert.Empty(t, approved[0].Content, "List should not load content")
}

func TestHybridStore_TopicMemory(t *testing.T) {
	st, _, _ := newTestHybridStore(t)
	ctx := context.Background()

	_, err := st.GetTopic(ctx, "go generics")
	assert.ErrorIs(t, err, ErrTopicNotFound)

	rec, err := st.RecordTopic(ctx, "go generics", day1)
	require.NoError(t, err)
	assert.Equal(t, 1, rec.TimesUsed)

	later := day1.Add(48 * time.Hour)
	rec, err = st.RecordTopic(ctx, "go generics", later)
	require.NoError(t, err)
	assert.Equal(t, 2, rec.TimesUsed)
	assert.True(t, rec.LastUsedAt.Equal(later))

	_, err = st.RecordTopic(ctx, "rust async", day1)
	require.NoError(t, err)

	topics, err := st.ListTopics(ctx, 10)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	assert.Equal(t, "go generics", topics[0].Topic)
}

func TestHybridStore_Settings(t *testing.T) {
	st, _, _ := newTestHybridStore(t)
	ctx := context.Background()

	_, found, err := st.GetSetting(ctx, "auto_publish_enabled")
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, st.SetSetting(ctx, "auto_publish_enabled", "false"))
	val, found, err := st.GetSetting(ctx, "auto_publish_enabled")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "false", val)
}

func TestHybridStore_ImportQueue(t *testing.T) {
	st, mr, _ := newTestHybridStore(t)
	ctx := context.Background()

	require.NoError(t, st.EnqueueImport(ctx, "https://example.com/a"))
	queue, _ := mr.List(importQueueKey)
	assert.Equal(t, []string{"https://example.com/a"}, queue)

	url, err := st.PopImport(ctx)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a", url)
}

func TestHybridStore_ClientMode_NoBadger(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	// Empty badger path, as the CLI tools open it.
	st, err := NewHybridStore(mr.Addr(), "")
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()

	meta := model.NewArticle("metadata only", "", day1)
	assert.NoError(t, st.Create(ctx, &meta), "Saving metadata in client mode should work")
	assert.True(t, mr.Exists("article:"+meta.ID.String()))

	heavy := model.NewArticle("heavy", "<h1>Heavy HTML</h1>", day1)
	err = st.Create(ctx, &heavy)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "badgerdb is not initialized")
}

func titles(articles []model.Article) []string {
	out := make([]string, len(articles))
	for i, a := range articles {
		out[i] = a.Title
	}
	return out
}

func TestHybridStore_RunValueLogGC_StopsOnCancel(t *testing.T) {
	st, _, _ := newTestHybridStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		st.RunValueLogGC(ctx, 10*time.Millisecond, func(err error) { t.Errorf("unexpected gc error: %v", err) })
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("gc loop did not stop")
	}

	// Client mode has no Badger and returns immediately.
	(&HybridStore{}).RunValueLogGC(context.Background(), time.Millisecond, nil)
}

func TestHybridStore_ConcurrentUpdatesDoNotLoseWrites(t *testing.T) {
	st, _, _ := newTestHybridStore(t)
	ctx := context.Background()

	article := model.NewArticle("Counter", "body", day1)
	require.NoError(t, st.Create(ctx, &article))

	// Each writer can lose WATCH at most once per rival, so six fit the retry budget.
	const writers = 6
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Update(ctx, article.ID, func(a *model.Article) error {
				a.ViewCount++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := st.Get(ctx, article.ID)
	require.NoError(t, err)
	assert.Equal(t, writers, got.ViewCount)
	assert.Equal(t, "body", got.Content)
}

func TestHybridStore_RacingContentWritesKeepCommittedContent(t *testing.T) {
	st, _, badgerDB := newTestHybridStore(t)
	ctx := context.Background()

	article := model.NewArticle("Title", "original body", day1)
	require.NoError(t, st.Create(ctx, &article))

	errRewritten := errors.New("already rewritten")
	read := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once

	// The slow writer reads revision 1, then stalls until the fast writer commits.
	slowErr := make(chan error, 1)
	go func() {
		_, err := st.Update(ctx, article.ID, func(a *model.Article) error {
			if a.RewriteCount > 0 {
				return errRewritten
			}
			once.Do(func() {
				close(read)
				<-release
			})
			a.Content = "stale rewrite"
			a.RewriteCount++
			return nil
		})
		slowErr <- err
	}()

	<-read
	_, err := st.Update(ctx, article.ID, func(a *model.Article) error {
		a.Content = "edited body"
		a.RewriteCount++
		return nil
	})
	require.NoError(t, err)
	close(release)

	assert.ErrorIs(t, <-slowErr, errRewritten)

	got, err := st.Get(ctx, article.ID)
	require.NoError(t, err)
	assert.Equal(t, "edited body", got.Content)
	assert.Equal(t, 1, got.RewriteCount)

	// Only the committed revision is left in Badger.
	var keys []string
	err = badgerDB.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("content:" + article.ID.String() + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, string(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Len(t, keys, 1)
}
