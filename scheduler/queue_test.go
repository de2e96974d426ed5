package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tim42/tools-sub000/task"
)

func TestTaskQueue_FIFO(t *testing.T) {
	var q taskQueue
	a := &task.Task{}
	b := &task.Task{}

	_, ok := q.tryPop()
	assert.False(t, ok)

	q.push(a)
	q.push(b)
	assert.Equal(t, 2, q.len())

	got1, ok := q.tryPop()
	assert.True(t, ok)
	assert.Same(t, a, got1)

	got2, ok := q.tryPop()
	assert.True(t, ok)
	assert.Same(t, b, got2)

	_, ok = q.tryPop()
	assert.False(t, ok)
}
