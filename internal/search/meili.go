// Package search keeps a Meilisearch index of live pages. Indexing is
// best-effort: the relational store is the source of truth and the index can
// always be rebuilt from it.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	meili "github.com/meilisearch/meilisearch-go"
	"github.com/rs/zerolog"
)

const idxPages = "pages"

// Document is the indexed projection of a page.
type Document struct {
	ID     string   `json:"id"`
	WikiID int64    `json:"wikiId"`
	Slug   string   `json:"slug"`
	Title  string   `json:"title"`
	Tags   []string `json:"tags"`
	Text   string   `json:"text"`
}

// Result is one search hit.
type Result struct {
	PageID  int64
	Slug    string
	Title   string
	Snippet string
}

// Meili indexes pages in Meilisearch.
type Meili struct {
	client  meili.ServiceManager
	healthy atomic.Bool
	done    chan struct{}
	log     zerolog.Logger
}

// NewMeili creates the client and configures the pages index. An unreachable
// server is tolerated: the health loop reconfigures when it comes back.
func NewMeili(url, apiKey string, log zerolog.Logger) *Meili {
	client := meili.New(url, meili.WithAPIKey(apiKey))

	m := &Meili{
		client: client,
		done:   make(chan struct{}),
		log:    log,
	}

	if _, err := client.Health(); err != nil {
		log.Warn().Err(err).Str("url", url).Msg("meilisearch unavailable")
		m.healthy.Store(false)
	} else {
		m.healthy.Store(true)
		m.configureIndex()
	}

	go m.healthLoop()
	return m
}

func (m *Meili) configureIndex() {
	if _, err := m.client.CreateIndex(&meili.IndexConfig{
		Uid:        idxPages,
		PrimaryKey: "id",
	}); err != nil {
		m.log.Debug().Err(err).Msg("create pages index (may already exist)")
	}

	index := m.client.Index(idxPages)
	filterable := []interface{}{"wikiId", "tags"}
	if _, err := index.UpdateFilterableAttributes(&filterable); err != nil {
		m.log.Warn().Err(err).Msg("update filterable attributes")
	}
	searchable := []string{"title", "slug", "text", "tags"}
	if _, err := index.UpdateSearchableAttributes(&searchable); err != nil {
		m.log.Warn().Err(err).Msg("update searchable attributes")
	}
}

func (m *Meili) healthLoop() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			_, err := m.client.Health()
			wasHealthy := m.healthy.Load()
			m.healthy.Store(err == nil)
			if err == nil && !wasHealthy {
				m.log.Info().Msg("meilisearch recovered, reconfiguring index")
				m.configureIndex()
			}
		}
	}
}

// Close stops the background health monitor.
func (m *Meili) Close() {
	close(m.done)
}

// Healthy reports whether Meilisearch is reachable.
func (m *Meili) Healthy() bool {
	return m.healthy.Load()
}

// IndexPage upserts a page document. A nil indexer ignores the call.
func (m *Meili) IndexPage(ctx context.Context, doc Document) error {
	if m == nil {
		return nil
	}
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	if _, err := m.client.Index(idxPages).AddDocumentsWithContext(ctx, []Document{doc}, nil); err != nil {
		m.healthy.Store(false)
		return fmt.Errorf("index page: %w", err)
	}
	return nil
}

// DeletePage removes a page document after a delete commit.
func (m *Meili) DeletePage(ctx context.Context, pageID int64) error {
	if m == nil {
		return nil
	}
	if !m.healthy.Load() {
		return fmt.Errorf("meilisearch unhealthy")
	}
	id := strconv.FormatInt(pageID, 10)
	if _, err := m.client.Index(idxPages).DeleteDocumentWithContext(ctx, id, nil); err != nil {
		m.healthy.Store(false)
		return fmt.Errorf("delete page from index: %w", err)
	}
	return nil
}

// Search queries a wiki's pages.
func (m *Meili) Search(ctx context.Context, wikiID int64, query string, limit int) ([]Result, error) {
	if m == nil {
		return nil, fmt.Errorf("search disabled")
	}
	if !m.healthy.Load() {
		return nil, fmt.Errorf("meilisearch unhealthy")
	}
	if limit <= 0 {
		limit = 20
	}

	resp, err := m.client.Index(idxPages).SearchWithContext(ctx, query, &meili.SearchRequest{
		Limit:                 int64(limit),
		Filter:                fmt.Sprintf("wikiId = %d", wikiID),
		AttributesToHighlight: []string{"*"},
		HighlightPreTag:       "<mark>",
		HighlightPostTag:      "</mark>",
	})
	if err != nil {
		m.healthy.Store(false)
		return nil, fmt.Errorf("search pages: %w", err)
	}

	results := make([]Result, 0, len(resp.Hits))
	for _, hit := range resp.Hits {
		results = append(results, hitToResult(hit))
	}
	return results, nil
}

func hitToResult(hit meili.Hit) Result {
	var r Result
	if id, err := strconv.ParseInt(decodeString(hit, "id"), 10, 64); err == nil {
		r.PageID = id
	}
	r.Slug = decodeString(hit, "slug")
	r.Title = decodeString(hit, "title")
	r.Snippet = decodeFormattedString(hit, "text")
	return r
}

func decodeString(hit meili.Hit, key string) string {
	raw, ok := hit[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// Numeric ids come back as JSON numbers.
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(int64(n), 10)
	}
	return ""
}

func decodeFormattedString(hit meili.Hit, key string) string {
	raw, ok := hit["_formatted"]
	if !ok {
		return ""
	}
	var formatted map[string]json.RawMessage
	if err := json.Unmarshal(raw, &formatted); err != nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(formatted[key], &s); err != nil {
		return ""
	}
	return s
}
