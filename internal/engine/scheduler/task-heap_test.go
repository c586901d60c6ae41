package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTaskHeapOrdersByTime(t *testing.T) {
	h := NewTaskHeap()
	base := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)

	h.Insert(&Task{Func: noop, At: base.Add(3 * time.Second)})
	h.Insert(&Task{Func: noop, At: base.Add(time.Second)})
	h.Insert(&Task{Func: noop, At: base.Add(2 * time.Second)})

	assert.Equal(t, base.Add(time.Second), h.PopTask().At)
	assert.Equal(t, base.Add(2*time.Second), h.PopTask().At)
	assert.Equal(t, base.Add(3*time.Second), h.PopTask().At)
	assert.Nil(t, h.PopTask())
}

func TestTaskHeapIgnoresInvalid(t *testing.T) {
	h := NewTaskHeap()
	h.Insert(nil)
	h.Insert(&Task{Func: nil, At: time.Now()})
	h.Insert(&Task{Func: noop})
	assert.Equal(t, 0, h.Len())
}

func TestTaskHeapReplaceByPath(t *testing.T) {
	h := NewTaskHeap()
	base := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)
	path := []string{"wf", "one", "sleep"}

	h.Insert(&Task{Func: noop, At: base.Add(time.Hour), Path: path})
	h.Insert(&Task{Func: noop, At: base.Add(time.Minute), Path: path})

	assert.Equal(t, 1, h.Len())
	assert.Equal(t, base.Add(time.Minute), h.Peek().At)
}

func TestTaskHeapCancel(t *testing.T) {
	h := NewTaskHeap()
	base := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)

	h.Insert(&Task{
		Func: noop, At: base, Path: []string{"wf", "one", "timeout"},
	})
	h.Insert(&Task{
		Func: noop, At: base, Path: []string{"wf", "two", "timeout"},
	})

	h.Cancel([]string{"wf", "one", "timeout"})
	assert.Equal(t, 1, h.Len())

	h.Cancel([]string{"wf", "missing"})
	assert.Equal(t, 1, h.Len())
}

func TestTaskHeapCancelPrefix(t *testing.T) {
	h := NewTaskHeap()
	base := time.Date(2026, 2, 27, 12, 0, 0, 0, time.UTC)

	h.Insert(&Task{
		Func: noop, At: base, Path: []string{"wf", "one", "sleep"},
	})
	h.Insert(&Task{
		Func: noop, At: base, Path: []string{"wf", "one", "timeout"},
	})
	h.Insert(&Task{
		Func: noop, At: base, Path: []string{"wf", "two", "sleep"},
	})

	h.CancelPrefix([]string{"wf", "one"})
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, taskPath{"wf", "two", "sleep"}, h.Peek().Path)
}

func noop() error { return nil }
