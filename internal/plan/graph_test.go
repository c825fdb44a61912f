package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ids(steps []Step, order []int) []int {
	out := make([]int, len(order))
	for i, idx := range order {
		out[i] = steps[idx].ID
	}
	return out
}

func TestOrder_AscendingIDTieBreak(t *testing.T) {
	steps := []Step{
		{ID: 5},
		{ID: 3, DependsOn: []int{5}},
		{ID: 1},
		{ID: 4, DependsOn: []int{1, 3}},
		{ID: 2, DependsOn: []int{1}},
	}
	order, err := Order(steps)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 5, 3, 4}, ids(steps, order))
}

func TestOrder_Deterministic(t *testing.T) {
	steps := []Step{
		{ID: 10}, {ID: 7}, {ID: 8, DependsOn: []int{7}}, {ID: 9, DependsOn: []int{7, 7}}, {ID: 1, DependsOn: []int{10}},
	}
	first, err := Order(steps)
	require.NoError(t, err)
	for i := 0; i < 50; i++ {
		again, err := Order(steps)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
	assert.Equal(t, []int{7, 8, 9, 10, 1}, ids(steps, first))
}

func TestOrder_Errors(t *testing.T) {
	_, err := Order(nil)
	assert.ErrorIs(t, err, ErrNoSteps)

	_, err = Order([]Step{{ID: 1}, {ID: 1}})
	assert.ErrorIs(t, err, ErrDuplicateStep)

	_, err = Order([]Step{{ID: 1, DependsOn: []int{2}}})
	assert.ErrorIs(t, err, ErrMissingDependency)

	_, err = Order([]Step{{ID: 1}, {ID: 2, DependsOn: []int{3}}, {ID: 3, DependsOn: []int{2}}})
	assert.ErrorIs(t, err, ErrCycle)
}
