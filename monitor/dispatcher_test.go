package monitor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDispatcherAppliesInOrder(t *testing.T) {
	d := NewDispatcher(8)
	defer d.Close()

	var mu sync.Mutex
	var got []int
	done := make(chan struct{})

	for i := 0; i < 5; i++ {
		ok := d.Invoke(func(arg interface{}) {
			mu.Lock()
			got = append(got, arg.(int))
			if len(got) == 5 {
				close(done)
			}
			mu.Unlock()
		}, i)
		require.True(t, ok)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not apply queued invocations")
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestDispatcherSingleConsumer(t *testing.T) {
	d := NewDispatcher(64)
	defer d.Close()

	// Concurrent producers, but a plain counter: safe only if all
	// invocations run on one goroutine.
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				d.Invoke(func(interface{}) { counter++ }, nil)
			}
		}()
	}
	wg.Wait()
	d.Close()

	assert.Equal(t, 800, counter)
}

func TestDispatcherCloseDrainsQueue(t *testing.T) {
	d := NewDispatcher(8)

	applied := 0
	for i := 0; i < 5; i++ {
		d.Invoke(func(interface{}) { applied++ }, nil)
	}
	d.Close()

	assert.Equal(t, 5, applied)
	assert.True(t, d.Closed())
}

func TestDispatcherInvokeAfterClose(t *testing.T) {
	d := NewDispatcher(1)
	d.Close()

	ok := d.Invoke(func(interface{}) { t.Fatal("must not run") }, nil)
	assert.False(t, ok)
}

func TestDispatcherCloseIdempotent(t *testing.T) {
	d := NewDispatcher(1)
	d.Close()
	d.Close()
}
