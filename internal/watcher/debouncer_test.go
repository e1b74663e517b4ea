package watcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func receive(t *testing.T, d *Debouncer) []FileEvent {
	t.Helper()
	select {
	case batch := <-d.Output():
		return batch
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for debounced batch")
		return nil
	}
}

func TestDebouncer_Coalescing(t *testing.T) {
	tests := []struct {
		name string
		ops  []Operation
		want []Operation
	}{
		{"single create", []Operation{OpCreate}, []Operation{OpCreate}},
		{"repeated writes", []Operation{OpModify, OpModify, OpModify}, []Operation{OpModify}},
		{"create then modify", []Operation{OpCreate, OpModify}, []Operation{OpCreate}},
		{"modify then delete", []Operation{OpModify, OpDelete}, []Operation{OpDelete}},
		{"delete then create", []Operation{OpDelete, OpCreate}, []Operation{OpModify}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Given: a debouncer with a short window
			d := NewDebouncer(20*time.Millisecond, 4, nil)
			defer d.Stop()

			// When: the operations arrive for one file
			for _, op := range tt.ops {
				d.Add(FileEvent{Path: "/data/reach.jsonl", Operation: op, Timestamp: time.Now()})
			}

			// Then: one merged event comes out
			batch := receive(t, d)
			got := make([]Operation, len(batch))
			for i, e := range batch {
				got[i] = e.Operation
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDebouncer_CreateThenDelete_CancelsOut(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 4, nil)
	defer d.Stop()

	d.Add(FileEvent{Path: "/data/tmp.jsonl", Operation: OpCreate})
	d.Add(FileEvent{Path: "/data/tmp.jsonl", Operation: OpDelete})

	select {
	case batch := <-d.Output():
		t.Fatalf("unexpected batch: %v", batch)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestDebouncer_BatchSortedByPath(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 4, nil)
	defer d.Stop()

	d.Add(FileEvent{Path: "/data/c.jsonl", Operation: OpDelete})
	d.Add(FileEvent{Path: "/data/a.jsonl", Operation: OpCreate})
	d.Add(FileEvent{Path: "/data/b.jsonl", Operation: OpModify})

	batch := receive(t, d)
	require.Len(t, batch, 3)
	assert.Equal(t, "/data/a.jsonl", batch[0].Path)
	assert.Equal(t, "/data/b.jsonl", batch[1].Path)
	assert.Equal(t, "/data/c.jsonl", batch[2].Path)
}

func TestDebouncer_Stop_ClosesOutput(t *testing.T) {
	d := NewDebouncer(20*time.Millisecond, 1, nil)
	d.Add(FileEvent{Path: "/data/a.jsonl", Operation: OpCreate})

	d.Stop()
	d.Stop()

	_, ok := <-d.Output()
	assert.False(t, ok, "channel should be closed")

	// Adding after stop is a no-op
	d.Add(FileEvent{Path: "/data/b.jsonl", Operation: OpCreate})
}
