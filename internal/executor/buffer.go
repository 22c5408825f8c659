package executor

import "bytes"

// cappedBuffer retains at most max bytes and silently drops the rest, so an
// executor that floods its streams cannot exhaust server memory.
type cappedBuffer struct {
	buf     bytes.Buffer
	max     int
	dropped int64
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

// Write always reports the full length as consumed so the child process
// never sees a short write; bytes past the cap are counted and discarded.
func (b *cappedBuffer) Write(p []byte) (int, error) {
	total := len(p)
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.dropped += int64(total)
		return total, nil
	}
	if total > room {
		b.dropped += int64(total - room)
		p = p[:room]
	}
	if _, err := b.buf.Write(p); err != nil {
		return 0, err
	}
	return total, nil
}

func (b *cappedBuffer) Bytes() []byte {
	return b.buf.Bytes()
}

// Dropped reports how many bytes were discarded past the cap.
func (b *cappedBuffer) Dropped() int64 {
	return b.dropped
}
