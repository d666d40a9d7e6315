package capture

import (
	"sync"
	"sync/atomic"
)

// callbackQueue implements the callback-with-buffer delivery contract shared
// by all sources
type callbackQueue struct {
	mu     sync.Mutex
	cb     FrameCallback
	bufs   [][]byte
	closed bool

	delivered uint64
	starved   uint64
}

func (q *callbackQueue) setCallback(cb FrameCallback) {
	q.mu.Lock()
	q.cb = cb
	q.mu.Unlock()
}

func (q *callbackQueue) add(buf []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || buf == nil {
		return
	}
	q.bufs = append(q.bufs, buf)
}

// deliver copies src into the next queued buffer and invokes the callback.
// It returns false when the frame was dropped.
func (q *callbackQueue) deliver(src []byte) bool {
	q.mu.Lock()
	cb := q.cb
	if q.closed || cb == nil {
		q.mu.Unlock()
		return false
	}
	if len(q.bufs) == 0 {
		q.mu.Unlock()
		atomic.AddUint64(&q.starved, 1)
		return false
	}
	buf := q.bufs[0]
	q.bufs[0] = nil
	q.bufs = q.bufs[1:]
	q.mu.Unlock()

	copy(buf, src)

	// Callback runs without the queue lock so it can re-arm
	cb(buf)
	atomic.AddUint64(&q.delivered, 1)
	return true
}

// open re-enables a queue after close
func (q *callbackQueue) open() {
	q.mu.Lock()
	q.closed = false
	q.mu.Unlock()
}

// close drops queued buffers and the callback; later adds are ignored
func (q *callbackQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cb = nil
	q.bufs = nil
	q.mu.Unlock()
}

func (q *callbackQueue) pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.bufs)
}

func (q *callbackQueue) stats() Stats {
	return Stats{
		Delivered: atomic.LoadUint64(&q.delivered),
		Starved:   atomic.LoadUint64(&q.starved),
	}
}
