package monitor

import (
	"sync"
)

// invocation is one queued callback application.
type invocation struct {
	fn  func(interface{})
	arg interface{}
}

// Dispatcher is the delivery context: exactly one goroutine drains the
// queue and applies callbacks, so every mutation routed through a
// Dispatcher happens on one logical thread.
type Dispatcher struct {
	queue  chan invocation
	done   chan struct{}
	mu     sync.Mutex
	closed bool
}

// NewDispatcher creates a dispatcher and starts its single consumer
// goroutine. The buffer bounds how far producers can run ahead of the
// consumer before Invoke blocks.
func NewDispatcher(buffer int) *Dispatcher {
	if buffer <= 0 {
		buffer = 64
	}
	d := &Dispatcher{
		queue: make(chan invocation, buffer),
		done:  make(chan struct{}),
	}
	go func() {
		defer close(d.done)
		for inv := range d.queue {
			inv.fn(inv.arg)
		}
	}()
	return d
}

// Invoke queues fn(arg) for execution on the dispatcher goroutine.
// Invocations from a single producer are applied in order. Returns false
// when the dispatcher has been torn down.
func (d *Dispatcher) Invoke(fn func(interface{}), arg interface{}) bool {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return false
	}
	// Send under the lock so Close cannot close the channel mid-send.
	d.queue <- invocation{fn: fn, arg: arg}
	d.mu.Unlock()
	return true
}

// Close tears the dispatcher down after draining already-queued work. It is
// idempotent and safe to call from any goroutine except the dispatcher's
// own.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()
	<-d.done
}

// Closed reports whether the dispatcher has been torn down.
func (d *Dispatcher) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}
