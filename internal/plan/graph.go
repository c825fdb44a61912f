package plan

import (
	"container/heap"
	"errors"
	"fmt"
)

var (
	ErrCycle             = errors.New("dependency cycle")
	ErrMissingDependency = errors.New("dependency references unknown step")
	ErrDuplicateStep     = errors.New("duplicate step id")
	ErrNoSteps           = errors.New("plan has no steps")
	ErrForwardDependency = errors.New("dependency on a later step")
)

// Validate checks that step ids are unique, the dependency graph is a DAG
// over the declared ids, and every step depends only on steps listed
// before it.
func Validate(steps []Step) error {
	if _, err := Order(steps); err != nil {
		return err
	}
	pos := make(map[int]int, len(steps))
	for i, s := range steps {
		pos[s.ID] = i
	}
	for i, s := range steps {
		for _, dep := range s.DependsOn {
			if pos[dep] > i {
				return fmt.Errorf("step %d depends on %d: %w", s.ID, dep, ErrForwardDependency)
			}
		}
	}
	return nil
}

// Order returns the indexes of steps in execution order: a topological
// order of DependsOn where, among steps that are ready at the same time,
// the lowest id goes first.
func Order(steps []Step) ([]int, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}

	index := make(map[int]int, len(steps))
	for i, s := range steps {
		if _, dup := index[s.ID]; dup {
			return nil, fmt.Errorf("step %d: %w", s.ID, ErrDuplicateStep)
		}
		index[s.ID] = i
	}

	indegree := make([]int, len(steps))
	next := make([][]int, len(steps))
	for i, s := range steps {
		seen := make(map[int]bool, len(s.DependsOn))
		for _, dep := range s.DependsOn {
			if seen[dep] {
				continue
			}
			seen[dep] = true
			j, ok := index[dep]
			if !ok {
				return nil, fmt.Errorf("step %d depends on %d: %w", s.ID, dep, ErrMissingDependency)
			}
			indegree[i]++
			next[j] = append(next[j], i)
		}
	}

	ready := &readyQueue{steps: steps}
	for i := range steps {
		if indegree[i] == 0 {
			heap.Push(ready, i)
		}
	}

	order := make([]int, 0, len(steps))
	for ready.Len() > 0 {
		i := heap.Pop(ready).(int)
		order = append(order, i)
		for _, j := range next[i] {
			indegree[j]--
			if indegree[j] == 0 {
				heap.Push(ready, j)
			}
		}
	}

	if len(order) != len(steps) {
		return nil, ErrCycle
	}
	return order, nil
}

// readyQueue is a min-heap of step indexes keyed by step id.
type readyQueue struct {
	steps []Step
	items []int
}

func (q *readyQueue) Len() int           { return len(q.items) }
func (q *readyQueue) Less(a, b int) bool { return q.steps[q.items[a]].ID < q.steps[q.items[b]].ID }
func (q *readyQueue) Swap(a, b int)      { q.items[a], q.items[b] = q.items[b], q.items[a] }
func (q *readyQueue) Push(x any)         { q.items = append(q.items, x.(int)) }

func (q *readyQueue) Pop() any {
	n := len(q.items)
	x := q.items[n-1]
	q.items = q.items[:n-1]
	return x
}
