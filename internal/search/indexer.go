// Package search keeps a full-text index of applications in Elasticsearch
// so staff can find candidates by name, character or answer.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"whitelist-bot/internal/application"
	"whitelist-bot/internal/common/logger"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/elastic/go-elasticsearch/v8/esapi"
)

const (
	defaultSize = 20
	maxSize     = 100
)

const indexMapping = `{
  "mappings": {
    "properties": {
      "candidateId":   {"type": "keyword"},
      "displayName":   {"type": "text"},
      "status":        {"type": "keyword"},
      "score":         {"type": "integer"},
      "character":     {"type": "text"},
      "answers":       {"type": "object", "dynamic": true},
      "submittedAt":   {"type": "date"},
      "updatedAt":     {"type": "date"}
    }
  }
}`

// Document is the indexed projection of an application.
type Document struct {
	CandidateID string            `json:"candidateId"`
	DisplayName string            `json:"displayName"`
	Status      string            `json:"status"`
	Score       int               `json:"score"`
	Character   string            `json:"character,omitempty"`
	Answers     map[string]string `json:"answers,omitempty"`
	SubmittedAt *time.Time        `json:"submittedAt,omitempty"`
	UpdatedAt   time.Time         `json:"updatedAt"`
}

// NewDocument projects app as it stands at now.
func NewDocument(app *application.Application, now time.Time) Document {
	answers := make(map[string]string, len(app.FormFields))
	for key := range app.FormFields {
		if v := app.Field(key); v != "" {
			answers[key] = v
		}
	}
	return Document{
		CandidateID: app.CandidateID,
		DisplayName: app.Profile.DisplayName,
		Status:      string(app.Status(now)),
		Score:       app.Score,
		Character:   app.CharacterName(),
		Answers:     answers,
		SubmittedAt: app.SubmittedAt,
		UpdatedAt:   app.UpdatedAt,
	}
}

// Hit is one search result.
type Hit struct {
	Score    float64  `json:"score"`
	Document Document `json:"document"`
}

// Result is a page of hits.
type Result struct {
	Total int64 `json:"total"`
	Took  int64 `json:"tookMs"`
	Hits  []Hit `json:"hits"`
}

// Indexer writes and queries the application index.
type Indexer struct {
	client *elasticsearch.Client
	index  string
	now    func() time.Time
	logger logger.Logger
}

func NewIndexer(client *elasticsearch.Client, index string, log logger.Logger) *Indexer {
	return &Indexer{
		client: client,
		index:  index,
		now:    time.Now,
		logger: logger.Component(log, "search"),
	}
}

// EnsureIndex creates the index with its mapping when it does not exist.
func (i *Indexer) EnsureIndex(ctx context.Context) error {
	res, err := i.client.Indices.Exists([]string{i.index}, i.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("check index %s: %w", i.index, err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = i.client.Indices.Create(i.index,
		i.client.Indices.Create.WithContext(ctx),
		i.client.Indices.Create.WithBody(strings.NewReader(indexMapping)),
	)
	if err != nil {
		return fmt.Errorf("create index %s: %w", i.index, err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("create index %s: %s", i.index, res.String())
	}

	i.logger.Info("search index created", map[string]interface{}{"index": i.index})
	return nil
}

// Index upserts the document of app, keyed by candidate id.
func (i *Indexer) Index(ctx context.Context, app *application.Application) error {
	body, err := json.Marshal(NewDocument(app, i.now()))
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}

	req := esapi.IndexRequest{
		Index:      i.index,
		DocumentID: app.CandidateID,
		Body:       bytes.NewReader(body),
	}
	res, err := req.Do(ctx, i.client)
	if err != nil {
		return fmt.Errorf("index %s: %w", app.CandidateID, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return fmt.Errorf("index %s: %s", app.CandidateID, res.String())
	}
	return nil
}

type searchResponse struct {
	Took int64 `json:"took"`
	Hits struct {
		Total struct {
			Value int64 `json:"value"`
		} `json:"total"`
		Hits []struct {
			Score  float64  `json:"_score"`
			Source Document `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Search runs a fuzzy multi-field query. size is clamped to [1, 100].
func (i *Indexer) Search(ctx context.Context, query string, size int) (*Result, error) {
	if size < 1 {
		size = defaultSize
	}
	if size > maxSize {
		size = maxSize
	}

	q := map[string]interface{}{
		"size": size,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     query,
				"fields":    []string{"displayName^3", "character^2", "candidateId", "answers.*"},
				"fuzziness": "AUTO",
			},
		},
		"sort": []interface{}{"_score", map[string]interface{}{"updatedAt": "desc"}},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(q); err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}

	res, err := i.client.Search(
		i.client.Search.WithContext(ctx),
		i.client.Search.WithIndex(i.index),
		i.client.Search.WithBody(&buf),
	)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("search query failed: %s", res.String())
	}

	var r searchResponse
	if err := json.NewDecoder(res.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	out := &Result{Total: r.Hits.Total.Value, Took: r.Took, Hits: make([]Hit, 0, len(r.Hits.Hits))}
	for _, h := range r.Hits.Hits {
		out.Hits = append(out.Hits, Hit{Score: h.Score, Document: h.Source})
	}
	return out, nil
}
