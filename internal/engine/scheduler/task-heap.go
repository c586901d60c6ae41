package scheduler

import (
	"container/heap"
	"time"

	"github.com/perdura/perdura/pkg/util"
)

type (
	// Task describes a scheduled function and its execution metadata. A
	// non-empty Path keys the task for replacement and cancellation
	Task struct {
		Func  TaskFunc
		At    time.Time
		Path  taskPath
		index int
	}

	// TaskHeap stores scheduled tasks ordered by execution time, with a
	// path index for keyed replacement and prefix cancellation
	TaskHeap struct {
		ordered taskOrder
		keyed   *util.PathTree[*Task]
	}

	taskOrder []*Task

	taskPath []string
)

// NewTaskHeap creates an empty task heap
func NewTaskHeap() *TaskHeap {
	return &TaskHeap{
		keyed: util.NewPathTree[*Task](),
	}
}

// Insert adds a task. Inserting at an existing path reschedules the
// previous task instead of adding a second one
func (h *TaskHeap) Insert(t *Task) {
	if t == nil || t.Func == nil || t.At.IsZero() {
		return
	}
	if len(t.Path) > 0 {
		if prev, ok := h.keyed.Get(t.Path); ok {
			prev.Func = t.Func
			prev.At = t.At
			heap.Fix(&h.ordered, prev.index)
			return
		}
		h.keyed.Insert(t.Path, t)
	}
	heap.Push(&h.ordered, t)
}

// PopTask removes and returns the next scheduled task
func (h *TaskHeap) PopTask() *Task {
	if len(h.ordered) == 0 {
		return nil
	}
	t := heap.Pop(&h.ordered).(*Task)
	if len(t.Path) > 0 {
		h.keyed.Remove(t.Path)
	}
	return t
}

// Peek returns the next scheduled task without removing it
func (h *TaskHeap) Peek() *Task {
	if len(h.ordered) == 0 {
		return nil
	}
	return h.ordered[0]
}

// Cancel removes the keyed task at the exact path
func (h *TaskHeap) Cancel(path []string) {
	t, ok := h.keyed.Get(path)
	if !ok {
		return
	}
	h.keyed.Remove(path)
	heap.Remove(&h.ordered, t.index)
}

// CancelPrefix removes all keyed tasks under the path prefix
func (h *TaskHeap) CancelPrefix(prefix []string) {
	if len(prefix) == 0 {
		return
	}
	h.keyed.DetachWith(prefix, func(t *Task) {
		heap.Remove(&h.ordered, t.index)
	})
}

// Len returns the number of scheduled tasks
func (h *TaskHeap) Len() int {
	return len(h.ordered)
}

func (o taskOrder) Len() int { return len(o) }

func (o taskOrder) Less(i, j int) bool {
	return o[i].At.Before(o[j].At)
}

func (o taskOrder) Swap(i, j int) {
	o[i], o[j] = o[j], o[i]
	o[i].index = i
	o[j].index = j
}

func (o *taskOrder) Push(x any) {
	t := x.(*Task)
	t.index = len(*o)
	*o = append(*o, t)
}

func (o *taskOrder) Pop() any {
	old := *o
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*o = old[:n-1]
	t.index = -1
	return t
}
