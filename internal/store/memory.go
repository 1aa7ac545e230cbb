package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/errandhq/errand/internal/orchestration"
)

// MemoryStore keeps runs in process memory. It backs development setups and
// tests where Postgres is not available.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]RunRecord)}
}

func (m *MemoryStore) SaveRun(ctx context.Context, task orchestration.Task, history []orchestration.Entry, result orchestration.RunResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[task.TraceID]; exists {
		return nil
	}
	h := make([]orchestration.Entry, len(history))
	copy(h, history)
	m.runs[task.TraceID] = RunRecord{
		Task:      task,
		History:   h,
		Result:    result,
		CreatedAt: time.Now(),
	}
	return nil
}

func (m *MemoryStore) GetRun(ctx context.Context, traceID string) (RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.runs[traceID]
	if !ok {
		return RunRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) ListRuns(ctx context.Context, sessionID string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []RunRecord
	for _, rec := range m.runs {
		if sessionID != "" && rec.Task.SessionID != sessionID {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
