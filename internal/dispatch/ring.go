package dispatch

import "github.com/fyrsmithlabs/logsieve/internal/record"

// ring is a fixed-capacity FIFO of records. It is not safe for concurrent
// use; the dispatcher guards it.
type ring struct {
	buf  []record.Record
	head int
	size int
}

func newRing(capacity int) *ring {
	return &ring{buf: make([]record.Record, capacity)}
}

func (r *ring) len() int { return r.size }

// push appends rec, overwriting the oldest record when full. It reports
// whether a record was overwritten.
func (r *ring) push(rec record.Record) bool {
	tail := (r.head + r.size) % len(r.buf)
	r.buf[tail] = rec
	if r.size < len(r.buf) {
		r.size++
		return false
	}
	r.head = (r.head + 1) % len(r.buf)
	return true
}

// pop appends up to n of the oldest records to dst.
func (r *ring) pop(dst []record.Record, n int) []record.Record {
	for ; n > 0 && r.size > 0; n-- {
		dst = append(dst, r.buf[r.head])
		r.buf[r.head] = record.Record{}
		r.head = (r.head + 1) % len(r.buf)
		r.size--
	}
	return dst
}

// reset empties the ring and returns how many records it held.
func (r *ring) reset() int {
	n := r.size
	clear(r.buf)
	r.head, r.size = 0, 0
	return n
}
