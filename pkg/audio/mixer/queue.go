// Package mixer provides the [audio.Mixer] implementations that splice
// advertisement breaks in a live stream: [AdsMixer] replaces them with a
// looping ad track, [SilenceMixer] fades them out to silence, and
// [Passthrough] only re-stamps frames.
package mixer

import "github.com/MrWong99/restreamer/pkg/audio"

// frameQueue is a growable FIFO ring buffer of frames used as the lookahead
// buffer of [AdsMixer].
type frameQueue struct {
	buf  []audio.Frame
	head int // index of the oldest element
	n    int // number of queued elements
}

func (q *frameQueue) Len() int { return q.n }

// PushBack appends fr at the tail, growing the ring when full.
func (q *frameQueue) PushBack(fr audio.Frame) {
	if q.n == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.n)%len(q.buf)] = fr
	q.n++
}

// PopFront removes and returns the oldest frame. ok is false when the queue
// is empty.
func (q *frameQueue) PopFront() (fr audio.Frame, ok bool) {
	if q.n == 0 {
		return audio.Frame{}, false
	}
	fr = q.buf[q.head]
	q.buf[q.head] = audio.Frame{} // release planes for GC
	q.head = (q.head + 1) % len(q.buf)
	q.n--
	return fr, true
}

func (q *frameQueue) grow() {
	size := max(2*len(q.buf), 16)
	buf := make([]audio.Frame, size)
	for i := range q.n {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}
