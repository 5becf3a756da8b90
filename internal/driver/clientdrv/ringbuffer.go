package clientdrv

import "errors"

// errRingFull reports an outbound ring with not enough space for a message.
var errRingFull = errors.New("outbound ring buffer full")

// ring is a fixed-capacity byte ring for outbound wire data, one per output
// port. Writes come from the sending goroutine, reads from whoever drains
// the port; the owning outPort serializes both under its mutex.
type ring struct {
	buf  []byte
	head int // read position
	tail int // write position
	used int
}

func newRing(size int) *ring {
	if size <= 0 {
		size = defaultRingSize
	}
	return &ring{buf: make([]byte, size)}
}

func (r *ring) free() int {
	return len(r.buf) - r.used
}

func (r *ring) length() int {
	return r.used
}

// write copies p into the ring, wrapping at the end. Fails without a partial
// write when the ring lacks space.
func (r *ring) write(p []byte) error {
	if len(p) > r.free() {
		return errRingFull
	}
	n := copy(r.buf[r.tail:], p)
	if n < len(p) {
		copy(r.buf, p[n:])
	}
	r.tail = (r.tail + len(p)) % len(r.buf)
	r.used += len(p)
	return nil
}

// read moves up to len(p) bytes out of the ring and returns the count.
func (r *ring) read(p []byte) int {
	want := len(p)
	if want > r.used {
		want = r.used
	}
	n := copy(p[:want], r.buf[r.head:])
	if n < want {
		copy(p[n:want], r.buf)
	}
	r.head = (r.head + want) % len(r.buf)
	r.used -= want
	return want
}
