package media

import "github.com/lvieira/chime/internal/wire"

// candidateBuffer queues remote ICE candidates that arrive before the
// remote session description. Candidates are flushed in arrival order;
// teardown discards the queue explicitly so none linger.
type candidateBuffer struct {
	queue []wire.ICECandidate
}

func (b *candidateBuffer) push(c wire.ICECandidate) {
	b.queue = append(b.queue, c)
}

// drain returns the queued candidates in order and empties the buffer.
func (b *candidateBuffer) drain() []wire.ICECandidate {
	out := b.queue
	b.queue = nil
	return out
}

func (b *candidateBuffer) len() int {
	return len(b.queue)
}
