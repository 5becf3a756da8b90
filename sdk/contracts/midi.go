package contracts

// MIDI status bytes for channel-voice messages (channel nibble zero) and the
// system-exclusive framing bytes.
const (
	StatusNoteOff         byte = 0x80
	StatusNoteOn          byte = 0x90
	StatusAftertouch      byte = 0xA0
	StatusControlChange   byte = 0xB0
	StatusProgramChange   byte = 0xC0
	StatusChannelPressure byte = 0xD0
	StatusPitchBend       byte = 0xE0
	StatusSysex           byte = 0xF0
	StatusSysexEnd        byte = 0xF7
)

// Event is a decoded MIDI message in the application's internal model.
// Channel-voice messages carry their channel in the low nibble of Status and
// up to two data bytes; system-exclusive messages carry the full payload,
// including the 0xF0/0xF7 framing, in Sysex.
type Event struct {
	Tick   uint64  // Tick counts pulses since the queue was started.
	Status byte    // Status is the status byte, channel nibble preserved.
	Data   [2]byte // Data holds the data bytes for channel-voice messages.
	Sysex  []byte  // Sysex holds the payload of a system-exclusive message.
	Bus    int     // Bus is the bus index the event arrived on or is sent to; -1 when the inbound endpoint is not a registered bus.
}

// Channel returns the channel nibble of a channel-voice event.
func (e Event) Channel() byte {
	return e.Status & 0x0F
}

// Kind returns the status byte with the channel nibble cleared.
func (e Event) Kind() byte {
	if e.Status >= 0xF0 {
		return e.Status
	}
	return e.Status & 0xF0
}

// IsSysex reports whether the event carries a system-exclusive payload.
func (e Event) IsSysex() bool {
	return e.Status == StatusSysex
}

// VoiceLength returns the total byte length of a channel-voice or system
// common message for the given status byte, or 0 when the length is variable
// or the status is not a valid message start.
func VoiceLength(status byte) int {
	switch status & 0xF0 {
	case StatusNoteOff, StatusNoteOn, StatusAftertouch, StatusControlChange, StatusPitchBend:
		return 3
	case StatusProgramChange, StatusChannelPressure:
		return 2
	case 0xF0:
		switch status {
		case 0xF1, 0xF3: // time code, song select
			return 2
		case 0xF2: // song position pointer
			return 3
		case 0xF6, 0xF8, 0xFA, 0xFB, 0xFC, 0xFE, 0xFF:
			return 1
		}
	}
	return 0
}
