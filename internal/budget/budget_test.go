package budget

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_FractionUsedBoundaries(t *testing.T) {
	tr := New(100000, 1.0)
	tr.Record(Record{Tool: "search", PromptTokens: 84900})
	assert.InDelta(t, 0.849, tr.FractionUsed(), 1e-9)

	tr2 := New(100000, 1.0)
	tr2.Record(Record{Tool: "search", PromptTokens: 85000})
	assert.InDelta(t, 0.85, tr2.FractionUsed(), 1e-9)
}

func TestTracker_ByToolBreakdown(t *testing.T) {
	tr := New(1000, 1.0)
	tr.Record(Record{Tool: "search", PromptTokens: 10, CompletionTokens: 5})
	tr.Record(Record{Tool: "llm", PromptTokens: 20, CompletionTokens: 5})
	tr.Record(Record{Tool: "search", PromptTokens: 1, CompletionTokens: 1})

	byTool := tr.ByTool()
	assert.Equal(t, 17, byTool["search"])
	assert.Equal(t, 25, byTool["llm"])
	assert.Equal(t, 42, tr.Total())
}

func TestTracker_EmitsOnEveryRecord(t *testing.T) {
	tr := New(1000, 1.0)
	var mu sync.Mutex
	var seen []Record
	tr.OnRecord(func(r Record) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, r)
	})

	tr.Record(Record{Tool: "llm", PromptTokens: 3})
	tr.Record(Record{Tool: "embed", PromptTokens: 4})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 2)
	assert.Equal(t, "llm", seen[0].Tool)
	assert.Equal(t, "embed", seen[1].Tool)
}

func TestTracker_ZeroBudgetForcesFullFraction(t *testing.T) {
	tr := New(0, 1.0)
	assert.Equal(t, 1.0, tr.FractionUsed())
}

func TestTracker_ConcurrentRecordsAreConsistent(t *testing.T) {
	tr := New(1_000_000, 1.0)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(Record{Tool: "search", PromptTokens: 10})
		}()
	}
	wg.Wait()
	assert.Equal(t, 1000, tr.Total())
}
