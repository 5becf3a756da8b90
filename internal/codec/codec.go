// Package codec translates between a backend's wire representation of MIDI
// events and the fabric's internal event model, including reassembly of
// multi-packet system-exclusive messages.
package codec

import "github.com/leandrodaf/midifabric/sdk/contracts"

// Decode normalizes one raw wire packet into an Event. The second return is
// false when the packet produced nothing usable: empty payload, a byte
// sequence that does not start with a status byte, or a sysex start (which
// must go through an Accumulator instead). Decode failures are not errors;
// transports legitimately emit empty decode attempts during startup.
//
// A Note-On with velocity 0 is rewritten to a Note-Off with the channel
// nibble preserved before it reaches the caller. Some keyboards use that
// encoding for note release.
func Decode(data []byte, tick uint64) (contracts.Event, bool) {
	if len(data) == 0 {
		return contracts.Event{}, false
	}
	status := data[0]
	if status < 0x80 || status == contracts.StatusSysex {
		return contracts.Event{}, false
	}

	ev := contracts.Event{Tick: tick, Status: status}
	need := contracts.VoiceLength(status)
	if need == 0 || len(data) < need {
		return contracts.Event{}, false
	}
	if need > 1 {
		ev.Data[0] = data[1]
	}
	if need > 2 {
		ev.Data[1] = data[2]
	}
	if ev.Kind() == contracts.StatusNoteOn && ev.Data[1] == 0 {
		ev.Status = contracts.StatusNoteOff | ev.Channel()
	}
	return ev, true
}

// Encode renders an Event back into wire bytes for the output direction.
// Sysex events return their payload unchanged; callers chunk it with
// SysexChunks when the backend bounds packet sizes.
func Encode(ev contracts.Event) []byte {
	if ev.IsSysex() {
		return ev.Sysex
	}
	switch contracts.VoiceLength(ev.Status) {
	case 1:
		return []byte{ev.Status}
	case 2:
		return []byte{ev.Status, ev.Data[0]}
	default:
		return []byte{ev.Status, ev.Data[0], ev.Data[1]}
	}
}

// SysexChunks splits a sysex payload into packets no larger than size, in
// order, without altering any bytes.
func SysexChunks(payload []byte, size int) [][]byte {
	if size <= 0 || len(payload) == 0 {
		return nil
	}
	chunks := make([][]byte, 0, (len(payload)+size-1)/size)
	for len(payload) > size {
		chunks = append(chunks, payload[:size])
		payload = payload[size:]
	}
	return append(chunks, payload)
}

// Accumulator concatenates successive backend packets of one in-flight
// system-exclusive message. It is transient: deliver the event once Complete
// reports true, then discard the accumulator.
type Accumulator struct {
	tick uint64
	buf  []byte
	done bool
}

// NewAccumulator starts reassembly from the packet carrying the sysex start
// byte. The packet may already contain the terminator.
func NewAccumulator(first []byte, tick uint64) *Accumulator {
	a := &Accumulator{tick: tick}
	a.Append(first)
	return a
}

// Append adds one packet to the in-flight message. An empty packet is the
// termination signal, not an error; it marks the accumulator complete so the
// bytes gathered so far are delivered.
func (a *Accumulator) Append(pkt []byte) {
	if a.done {
		return
	}
	if len(pkt) == 0 {
		a.done = true
		return
	}
	a.buf = append(a.buf, pkt...)
	if pkt[len(pkt)-1] == contracts.StatusSysexEnd {
		a.done = true
	}
}

// Complete reports whether the message can be delivered.
func (a *Accumulator) Complete() bool {
	return a.done
}

// Len returns the number of payload bytes gathered so far.
func (a *Accumulator) Len() int {
	return len(a.buf)
}

// Event returns the reassembled message as a single sysex event.
func (a *Accumulator) Event() contracts.Event {
	return contracts.Event{
		Tick:   a.tick,
		Status: contracts.StatusSysex,
		Sysex:  a.buf,
	}
}
