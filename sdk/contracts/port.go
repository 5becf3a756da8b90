package contracts

// Direction distinguishes the two bus tables of the fabric.
type Direction int

const (
	// Input marks a bus the fabric receives events from.
	Input Direction = iota
	// Output marks a bus the fabric sends events to.
	Output
)

// String returns the direction name used in logs.
func (d Direction) String() string {
	if d == Input {
		return "input"
	}
	return "output"
}

// Capability describes what a remote port allows, modeled after the ALSA
// capability bits: Read/Write are the base bits, SubsRead/SubsWrite the
// subscription bits.
type Capability struct {
	Read      bool
	Write     bool
	SubsRead  bool
	SubsWrite bool
}

// FullRead reports whether both the read and read-subscription bits are set.
func (c Capability) FullRead() bool {
	return c.Read && c.SubsRead
}

// FullWrite reports whether both the write and write-subscription bits are set.
func (c Capability) FullWrite() bool {
	return c.Write && c.SubsWrite
}

// Endpoint identifies one remote (or virtual) port at the transport level.
// Client and Port together form the transport identity used to correlate
// hot-plug notifications with registered buses; they are opaque to callers.
type Endpoint struct {
	Client     int
	Port       int
	ClientName string
	PortName   string
	Caps       Capability
}

// Match reports whether the endpoint has the given transport identity.
func (e Endpoint) Match(client, port int) bool {
	return e.Client == client && e.Port == port
}

// PortInfo is the registry's view of one bus: the endpoint identity plus the
// stable bus index and lifecycle flags. Higher layers reference ports only by
// the Bus index; the index never changes for the life of the slot.
type PortInfo struct {
	Endpoint

	Bus         int
	Direction   Direction
	Virtual     bool // created by this process, no backing remote client
	Active      bool // currently usable
	Initialized bool // setup attempted at least once
	ClockOut    bool // send clock ticks to this bus
	InputEnable bool // record events arriving on this bus
}
