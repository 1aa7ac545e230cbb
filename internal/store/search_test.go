package store

import (
	"testing"

	"github.com/errandhq/errand/internal/orchestration"
)

func TestSearchIndexFindsRunsByText(t *testing.T) {
	idx, err := OpenSearchIndex("")
	if err != nil {
		t.Fatalf("OpenSearchIndex: %v", err)
	}
	defer idx.Close()

	runs := []struct {
		trace, request, message string
	}{
		{"trace-1", "summarize the quarterly budget mail", "three budget threads found"},
		{"trace-2", "schedule a design review", "event created for Friday"},
	}
	for _, r := range runs {
		task := orchestration.Task{TraceID: r.trace, SessionID: "sess-a", RequestText: r.request, Status: orchestration.TaskSuccess}
		result := orchestration.RunResult{Success: true, Status: orchestration.TaskSuccess, Message: r.message, TraceID: r.trace}
		if err := idx.IndexRun(task, result); err != nil {
			t.Fatalf("IndexRun %s: %v", r.trace, err)
		}
	}

	hits, err := idx.Search("budget", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].TraceID != "trace-1" || hits[0].Score <= 0 {
		t.Fatalf("hits = %+v", hits)
	}

	hits, err = idx.Search("design review", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) == 0 || hits[0].TraceID != "trace-2" {
		t.Fatalf("hits = %+v", hits)
	}

	hits, err = idx.Search("kubernetes", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Fatalf("expected no hits, got %+v", hits)
	}
}

func TestOpenSearchIndexOnDisk(t *testing.T) {
	path := t.TempDir() + "/history.bleve"
	idx, err := OpenSearchIndex(path)
	if err != nil {
		t.Fatalf("creating: %v", err)
	}
	task := orchestration.Task{TraceID: "trace-1", RequestText: "add 2 and 3", Status: orchestration.TaskSuccess}
	if err := idx.IndexRun(task, orchestration.RunResult{Message: "2 + 3 = 5"}); err != nil {
		t.Fatalf("IndexRun: %v", err)
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := OpenSearchIndex(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer reopened.Close()
	hits, err := reopened.Search("add", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].TraceID != "trace-1" {
		t.Fatalf("hits = %+v", hits)
	}
}
