package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueEnqueueDequeueBasic(t *testing.T) {
	q := NewQueue(5, 2, 10, 4)
	n1, err := q.Enqueue(0, 7)
	require.NoError(t, err)
	n2, err := q.Enqueue(n1, 9)
	require.NoError(t, err)

	assert.EqualValues(t, 7, q.Row(n1))
	assert.EqualValues(t, 9, q.Row(n2))
	assert.Equal(t, NodeIndex(0), q.Parent(n1))
	assert.Equal(t, n1, q.Parent(n2))
	assert.Equal(t, 1, q.CurrentDepth(n1))
	assert.Equal(t, 2, q.CurrentDepth(n2))

	got1, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, n1, got1)
	got2, ok := q.Dequeue()
	require.True(t, ok)
	assert.Equal(t, n2, got2)
	_, ok = q.Dequeue()
	assert.False(t, ok)
}

func TestQueueParentInvariantHoldsBeforeCompaction(t *testing.T) {
	q := NewQueue(4, 2, 12, 3)
	prev := NodeIndex(0)
	for i := 0; i < 50; i++ {
		n, err := q.Enqueue(prev, Row(i%16))
		require.NoError(t, err)
		if n != 0 {
			assert.Less(t, int(q.Parent(n)), int(n))
		}
		prev = n
	}
}

func TestQueuePeekPhaseMatchesDepthModPeriod(t *testing.T) {
	period := 4
	q := NewQueue(4, 2, 12, period)
	prev := NodeIndex(0)
	var nodes []NodeIndex
	for i := 0; i < 20; i++ {
		n, err := q.Enqueue(prev, Row(i%16))
		require.NoError(t, err)
		nodes = append(nodes, n)
		prev = n
	}
	for _, n := range nodes {
		assert.Equal(t, q.CurrentDepth(n)%period, q.PeekPhase(n))
	}
}

func TestQueueFullIsRecoverable(t *testing.T) {
	q := NewQueue(4, 2, 2, 4) // QSIZE=4
	prev := NodeIndex(0)
	var err error
	for i := 0; i < 10; i++ {
		prev, err = q.Enqueue(prev, Row(i%16))
		if err != nil {
			break
		}
	}
	assert.ErrorIs(t, err, ErrQueueFull)
}

func TestRephaseReproducesIncrementalDepths(t *testing.T) {
	period := 3
	q := NewQueue(4, 2, 12, period)
	prev := NodeIndex(0)
	for i := 0; i < 30; i++ {
		n, err := q.Enqueue(prev, Row(i%16))
		require.NoError(t, err)
		prev = n
	}
	want := append([]int32{}, q.depths...)
	for i := range q.depths {
		q.depths[i] = 0
	}
	q.Rephase(0)
	assert.Equal(t, want, q.depths)
}
