package vector

import (
	"context"
	"sort"
	"sync"

	"companion-calls/internal/analysis"
)

// Memory ranks documents by topic overlap. Used in tests and local runs
// without an index deployment.
type Memory struct {
	mu   sync.Mutex
	docs []analysis.ConversationDoc
}

func NewMemory() *Memory { return &Memory{} }

func (m *Memory) Index(ctx context.Context, doc analysis.ConversationDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs = append(m.docs, doc)
	return nil
}

func (m *Memory) QuerySimilar(ctx context.Context, topics []string, limit int) ([]analysis.ConversationDoc, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 3
	}

	want := map[string]bool{}
	for _, t := range topics {
		want[t] = true
	}

	m.mu.Lock()
	type scored struct {
		doc   analysis.ConversationDoc
		score int
	}
	var matches []scored
	for _, d := range m.docs {
		n := 0
		for _, t := range d.Topics {
			if want[t] {
				n++
			}
		}
		if n > 0 {
			matches = append(matches, scored{d, n})
		}
	}
	m.mu.Unlock()

	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })
	if len(matches) > limit {
		matches = matches[:limit]
	}
	out := make([]analysis.ConversationDoc, len(matches))
	for i, s := range matches {
		out[i] = s.doc
	}
	return out, nil
}

// Docs returns the stored documents for assertions in tests.
func (m *Memory) Docs() []analysis.ConversationDoc {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]analysis.ConversationDoc, len(m.docs))
	copy(out, m.docs)
	return out
}

var _ Index = (*Memory)(nil)
