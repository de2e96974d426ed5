package task

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestMarker_WaitBlocksUntilSignal(t *testing.T) {
	m := NewMarker()
	defer m.Put()

	done := make(chan struct{})
	go func() {
		m.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("Wait returned before signal")
	case <-time.After(10 * time.Millisecond):
	}

	m.signal()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after signal")
	}
}

func TestMarker_DoubleSignalDoesNotPanic(t *testing.T) {
	m := NewMarker()
	defer m.Put()
	m.signal()
	assert.NotPanics(t, func() { m.signal() })
}

func TestMarker_ReusedFromPoolStartsUnsignaled(t *testing.T) {
	m1 := NewMarker()
	m1.signal()
	m1.Put()

	m2 := NewMarker()
	defer m2.Put()
	assert.False(t, m2.IsSignaled())
}

func TestMarker_PutWithoutSignalPanics(t *testing.T) {
	m := NewMarker()
	assert.PanicsWithValue(t, "task: destroying an incomplete marker", func() { m.Put() })
}
