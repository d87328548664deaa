package worker

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"content-pilot/internal/model"
	"content-pilot/internal/store"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type MockImporter struct {
	mu         sync.Mutex
	urls       []string
	ShouldFail bool
}

func (m *MockImporter) Import(_ context.Context, url string) (*model.Article, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.urls = append(m.urls, url)
	if m.ShouldFail {
		return nil, fmt.Errorf("simulated 404 error")
	}
	a := model.NewArticle("Imported", "<p>body</p>", time.Now())
	return &a, nil
}

func (m *MockImporter) URLs() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.urls...)
}

func newHybrid(t *testing.T) *store.HybridStore {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	st, err := store.NewHybridStore(mr.Addr(), t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// TestWorker_DrainsImportQueue checks that queued URLs reach the importer in order.
func TestWorker_DrainsImportQueue(t *testing.T) {
	st := newHybrid(t)
	imp := &MockImporter{}
	w := NewWorker(st, imp, zap.NewNop())

	ctx := context.Background()
	require.NoError(t, st.EnqueueImport(ctx, "http://fake-url.com/1"))
	require.NoError(t, st.EnqueueImport(ctx, "http://fake-url.com/2"))

	// The loop notices cancellation at its next poll round.
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go w.Start(runCtx)

	assert.Eventually(t, func() bool { return len(imp.URLs()) == 2 }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, []string{"http://fake-url.com/1", "http://fake-url.com/2"}, imp.URLs())
}

// TestWorker_SurvivesImportFailure checks a failing import does not stop the loop.
func TestWorker_SurvivesImportFailure(t *testing.T) {
	st := newHybrid(t)
	imp := &MockImporter{ShouldFail: true}
	w := NewWorker(st, imp, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Start(ctx)

	require.NoError(t, st.EnqueueImport(ctx, "http://bad-url.com"))
	require.NoError(t, st.EnqueueImport(ctx, "http://bad-url.com/again"))

	assert.Eventually(t, func() bool { return len(imp.URLs()) == 2 }, 2*time.Second, 10*time.Millisecond)
}
