package dispatch

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueRunsInOrder(t *testing.T) {
	q := NewQueue()

	var got []int
	for i := 0; i < 1000; i++ {
		q.Dispatch(func() {
			got = append(got, i)
		})
	}
	q.Close()

	assert.Len(t, got, 1000)
	for i, v := range got {
		if v != i {
			t.Fatalf("expected %d at position %d, got %d", i, i, v)
		}
	}
}

func TestQueueDispatchFromManyGoroutines(t *testing.T) {
	q := NewQueue()

	var count int
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				// count is only touched by the queue goroutine.
				q.Dispatch(func() { count++ })
			}
		}()
	}
	wg.Wait()
	q.Close()

	assert.Equal(t, 1000, count)
}

func TestQueueDispatchFromQueue(t *testing.T) {
	q := NewQueue()

	done := make(chan []string, 1)
	q.Dispatch(func() {
		var order []string
		q.Dispatch(func() {
			order = append(order, "nested")
			done <- order
		})
		order = append(order, "outer")
	})

	assert.Equal(t, []string{"outer", "nested"}, <-done)
	q.Close()
}

func TestQueueDropsAfterClose(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Close()

	ran := false
	q.Dispatch(func() { ran = true })

	assert.False(t, ran)
}

func TestFunc(t *testing.T) {
	ran := false
	var d Dispatcher = Func(func(fn func()) { fn() })
	d.Dispatch(func() { ran = true })

	assert.True(t, ran)
}
