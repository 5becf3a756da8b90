package contracts

import "time"

// Tempo is the backend's native tempo record for the shared queue. SetPPQN
// and SetBPM read the current record, change one field and write it back, so
// backend-side state not modeled here survives a tempo change.
type Tempo struct {
	PPQN             int // pulses per quarter note
	MicrosPerQuarter int // microseconds per quarter note (tempo)
}

// RawKind classifies a raw backend event before decoding.
type RawKind int

const (
	// RawData is ordinary MIDI wire data.
	RawData RawKind = iota
	// RawPortStart announces a port that appeared on the transport.
	RawPortStart
	// RawPortExit announces a port that disappeared from the transport.
	RawPortExit
	// RawPortChange announces a port whose attributes changed.
	RawPortChange
)

// RawEvent is one undecoded event as produced by a backend driver. Lifecycle
// notifications carry only the transport identity; data events carry the wire
// bytes and the queue tick they were stamped with.
type RawEvent struct {
	Kind   RawKind
	Client int
	Port   int
	Tick   uint64
	Data   []byte
}

// Driver is the capability set every backend transport must provide. Two
// structurally different models implement it: the centralized-queue model
// (one process-wide handle owning a scheduling queue) and the per-client
// model (one transport client and outbound ring buffer per port). Both must
// expose identical externally observable semantics.
//
// Receive and Poll must only be called from a single poller goroutine; Send
// may be called from a different goroutine and preserves per-port ordering.
type Driver interface {
	// Open creates the backend handle. Failure is fatal for the fabric.
	Open() error
	// Close destroys the backend handle; an in-flight Poll returns after it.
	Close() error

	// ClientID returns this process's own transport client id, used to
	// exclude self-originated ports from discovery and hot-plug.
	ClientID() int
	// Scan lists the remote endpoints currently visible on the transport.
	Scan() ([]Endpoint, error)
	// Describe queries identity, names and capability for one endpoint.
	Describe(client, port int) (Endpoint, error)
	// Announce returns the endpoint lifecycle notifications are attributed to.
	Announce() Endpoint
	// CreateVirtual creates a process-owned port with no backing client.
	CreateVirtual(d Direction, slot int, name string) (Endpoint, error)
	// Subscribe connects the endpoint so it can be sent to or received from.
	Subscribe(d Direction, ep Endpoint) error

	// Tempo reads the backend's native tempo record for the shared queue.
	Tempo() (Tempo, error)
	// SetTempo writes a tempo record previously read with Tempo.
	SetTempo(t Tempo) error
	// StartClock starts the shared queue timer.
	StartClock() error
	// ContinueClock resumes the queue timer from the given tick.
	ContinueClock(tick uint64) error
	// StopClock drains and synchronizes pending output, then halts the timer.
	StopClock() error
	// Flush pushes locally buffered outbound events into the backend.
	Flush() error

	// Send schedules wire bytes on the endpoint at the given tick.
	Send(ep Endpoint, data []byte, tick uint64) error
	// Receive returns the next raw event without blocking; ok is false when
	// nothing is available.
	Receive() (ev RawEvent, ok bool)
	// Pending reports whether Receive would return an event right now.
	Pending() bool
	// Poll waits up to timeout for input readiness and returns the number of
	// ready descriptors; zero on timeout is not an error.
	Poll(timeout time.Duration) (int, error)
	// RebuildPollSet re-derives the readiness-descriptor set after the
	// backend's port set changed. Stale sets must never be polled.
	RebuildPollSet() error
}
