package runner

import (
	"sync"
	"sync/atomic"
)

// DefaultChannelCapacity is the number of records buffered before pushes
// start to block on a slow consumer.
const DefaultChannelCapacity = 65536

// ResultChannel is the multi-producer, single-consumer stream shared by
// every worker of every group. Pushes block when the buffer is full; records
// are never dropped. Records from one producer arrive in push order.
type ResultChannel struct {
	mu     sync.RWMutex
	closed bool
	ch     chan ResultRecord
	pushed atomic.Int64
}

// NewResultChannel creates a channel buffering up to capacity records.
func NewResultChannel(capacity int) *ResultChannel {
	if capacity <= 0 {
		capacity = DefaultChannelCapacity
	}
	return &ResultChannel{ch: make(chan ResultRecord, capacity)}
}

// Push hands rec to the consumer, blocking while the buffer is full.
func (c *ResultChannel) Push(rec ResultRecord) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrChannelClosed
	}
	c.ch <- rec
	c.pushed.Add(1)
	return nil
}

// Records returns the consumer end. It is closed after Close once every
// buffered record has been received.
func (c *ResultChannel) Records() <-chan ResultRecord {
	return c.ch
}

// Close signals end of stream. It waits for in-flight pushes to complete,
// so it must only be called after all producers have finished.
func (c *ResultChannel) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.ch)
}

// Pushed returns the number of records accepted so far.
func (c *ResultChannel) Pushed() int64 {
	return c.pushed.Load()
}
