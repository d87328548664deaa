package trends

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const feedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Tech</title>
<item><title>Older story</title><pubDate>Mon, 02 Jun 2025 08:00:00 GMT</pubDate></item>
<item><title>Newest   story</title><pubDate>Tue, 03 Jun 2025 08:00:00 GMT</pubDate></item>
<item><title>Ancient story</title><pubDate>Mon, 05 May 2025 08:00:00 GMT</pubDate></item>
<item><title></title><pubDate>Tue, 03 Jun 2025 09:00:00 GMT</pubDate></item>
</channel></rss>`

const otherXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Other</title>
<item><title>newest story</title><pubDate>Tue, 03 Jun 2025 07:00:00 GMT</pubDate></item>
<item><title>Middle story</title><pubDate>Mon, 02 Jun 2025 12:00:00 GMT</pubDate></item>
</channel></rss>`

func serveFeeds(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/tech.xml", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(feedXML)) })
	mux.HandleFunc("/other.xml", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(otherXML)) })
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestSuggestTopics_NewestFirstDeduplicated(t *testing.T) {
	srv := serveFeeds(t)
	s := NewFeedSuggester([]string{srv.URL + "/tech.xml", srv.URL + "/other.xml", srv.URL + "/missing.xml"}, nil)
	s.now = func() time.Time { return time.Date(2025, time.June, 3, 12, 0, 0, 0, time.UTC) }

	topics, err := s.SuggestTopics(context.Background(), "global", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Newest story", "Middle story", "Older story"}, topics)

	topics, err = s.SuggestTopics(context.Background(), "global", 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"Newest story"}, topics)
}

func TestSuggestTopics_AllFeedsDown(t *testing.T) {
	srv := serveFeeds(t)
	s := NewFeedSuggester([]string{srv.URL + "/missing.xml"}, nil)

	_, err := s.SuggestTopics(context.Background(), "global", 3)
	assert.Error(t, err)
}
