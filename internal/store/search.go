package store

import (
	"fmt"
	"os"

	"github.com/blevesearch/bleve"

	"github.com/errandhq/errand/internal/orchestration"
)

// SearchIndex is a BM25 index over archived runs so operators can find past
// tasks by request text or final answer.
type SearchIndex struct {
	index bleve.Index
}

// runDoc is the indexed view of a run.
type runDoc struct {
	SessionID   string `json:"session_id"`
	RequestText string `json:"request_text"`
	Message     string `json:"message"`
	Status      string `json:"status"`
}

// OpenSearchIndex opens or creates the index at path. An empty path yields a
// memory-only index.
func OpenSearchIndex(path string) (*SearchIndex, error) {
	if path == "" {
		index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating in-memory index: %w", err)
		}
		return &SearchIndex{index: index}, nil
	}
	index, err := bleve.Open(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			return nil, fmt.Errorf("opening index %s: %w", path, err)
		}
		index, err = bleve.New(path, bleve.NewIndexMapping())
		if err != nil {
			return nil, fmt.Errorf("creating index %s: %w", path, err)
		}
	}
	return &SearchIndex{index: index}, nil
}

// IndexRun adds one sealed run to the index, keyed by trace ID.
func (s *SearchIndex) IndexRun(task orchestration.Task, result orchestration.RunResult) error {
	return s.index.Index(task.TraceID, runDoc{
		SessionID:   task.SessionID,
		RequestText: task.RequestText,
		Message:     result.Message,
		Status:      string(task.Status),
	})
}

// SearchHit is one matched run.
type SearchHit struct {
	TraceID string  `json:"trace_id"`
	Score   float64 `json:"score"`
}

// Search runs a query-string search and returns up to k trace IDs by score.
func (s *SearchIndex) Search(q string, k int) ([]SearchHit, error) {
	if k <= 0 {
		k = 10
	}
	query := bleve.NewQueryStringQuery(q)
	searchReq := bleve.NewSearchRequestOptions(query, k, 0, false)
	res, err := s.index.Search(searchReq)
	if err != nil {
		return nil, fmt.Errorf("searching %q: %w", q, err)
	}
	hits := make([]SearchHit, 0, len(res.Hits))
	for _, hit := range res.Hits {
		hits = append(hits, SearchHit{TraceID: hit.ID, Score: hit.Score})
	}
	return hits, nil
}

// Close flushes and closes the index.
func (s *SearchIndex) Close() error {
	if s == nil || s.index == nil {
		return nil
	}
	return s.index.Close()
}
