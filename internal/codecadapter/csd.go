package codecadapter

import (
	"math/rand"
	"time"

	"github.com/oklog/ulid/v2"
)

// CSDBlob is one pre-stream configuration blob (SPS, PPS,
// AudioSpecificConfig,...) produced at configure time and injected before
// any source payload. ID is a
// diagnostics-only label so log lines can say "which blob"; it is never
// part of the data submitted to the backend.
type CSDBlob struct {
	ID   ulid.ULID
	Data []byte
}

// csdQueue is the append-only sequence of CSDBlob with a monotonic
// next_to_emit cursor.
type csdQueue struct {
	entropy    *ulid.MonotonicEntropy
	blobs      []CSDBlob
	nextToEmit int
}

func newCSDQueue() *csdQueue {
	return &csdQueue{entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0)}
}

func (q *csdQueue) append(data []byte) {
	blob := make([]byte, len(data))
	copy(blob, data)
	q.blobs = append(q.blobs, CSDBlob{ID: ulid.MustNew(ulid.Timestamp(time.Now()), q.entropy), Data: blob})
}

func (q *csdQueue) remaining() bool { return q.nextToEmit < len(q.blobs) }

func (q *csdQueue) next() (CSDBlob, bool) {
	if !q.remaining() {
		return CSDBlob{}, false
	}
	b := q.blobs[q.nextToEmit]
	q.nextToEmit++
	return b, true
}

// exhausted reports whether the cursor equals the queue length, the
// invariant that must hold before any non-config input submission.
func (q *csdQueue) exhausted() bool { return q.nextToEmit == len(q.blobs) }

func (q *csdQueue) reset() { q.nextToEmit = 0 }
