// Package registry is the single source of truth for which buses exist,
// their transport identity and their activity. It keeps two fixed-capacity
// tables (inputs and outputs) indexed by bus index plus one designated
// announce slot for transport lifecycle notifications.
//
// Concurrency contract: every access goes through one mutex. Mutations
// arrive from the poller goroutine (hot-plug), reads from any goroutine
// listing or addressing ports.
package registry

import (
	"fmt"
	"sync"

	"github.com/leandrodaf/midifabric/sdk/contracts"
)

// Table holds the two bus tables. Bus indices are assigned in registration
// order and never reassigned to a semantically different slot; a slot is only
// reused when a port with the same transport identity reconnects while the
// previous occupant is inactive.
type Table struct {
	mu       sync.Mutex
	inputs   []*contracts.PortInfo
	outputs  []*contracts.PortInfo
	inCap    int
	outCap   int
	announce *contracts.PortInfo
}

// New returns an empty table bounded by the given capacities, substituting
// the defaults for non-positive values.
func New(inputs, outputs int) *Table {
	if inputs <= 0 {
		inputs = contracts.DefaultInputCapacity
	}
	if outputs <= 0 {
		outputs = contracts.DefaultOutputCapacity
	}
	return &Table{
		inputs:  make([]*contracts.PortInfo, 0, inputs),
		outputs: make([]*contracts.PortInfo, 0, outputs),
		inCap:   inputs,
		outCap:  outputs,
	}
}

func (t *Table) table(d contracts.Direction) (*[]*contracts.PortInfo, int) {
	if d == contracts.Input {
		return &t.inputs, t.inCap
	}
	return &t.outputs, t.outCap
}

// Register assigns a bus index to the endpoint. A slot whose recorded
// identity matches and which is currently inactive is reused (replacement
// reuse); otherwise the next free index is appended. Returns
// contracts.ErrCapacityExceeded when neither is possible; the table is left
// untouched in that case.
func (t *Table) Register(d contracts.Direction, ep contracts.Endpoint, virtual bool) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slots, capacity := t.table(d)
	for _, s := range *slots {
		if s.Match(ep.Client, ep.Port) && !s.Active {
			s.Endpoint = ep
			s.Virtual = virtual
			s.Active = true
			s.Initialized = true
			return s.Bus, nil
		}
	}
	if len(*slots) >= capacity {
		return -1, fmt.Errorf("%w: %s table full at %d", contracts.ErrCapacityExceeded, d, capacity)
	}
	info := &contracts.PortInfo{
		Endpoint:    ep,
		Bus:         len(*slots),
		Direction:   d,
		Virtual:     virtual,
		Active:      true,
		Initialized: true,
	}
	*slots = append(*slots, info)
	return info.Bus, nil
}

// Deactivate clears the active flag of the bus. The slot is not removed: bus
// indices already handed to callers stay valid references.
func (t *Table) Deactivate(d contracts.Direction, bus int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	slots, _ := t.table(d)
	if bus < 0 || bus >= len(*slots) {
		return fmt.Errorf("%w: %s bus %d", contracts.ErrInvalidBus, d, bus)
	}
	(*slots)[bus].Active = false
	return nil
}

// Lookup correlates a transport identity with an existing bus index.
func (t *Table) Lookup(d contracts.Direction, client, port int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slots, _ := t.table(d)
	for _, s := range *slots {
		if s.Match(client, port) {
			return s.Bus, true
		}
	}
	return -1, false
}

// Count returns how many bus indices are populated for the direction,
// active or not.
func (t *Table) Count(d contracts.Direction) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	slots, _ := t.table(d)
	return len(*slots)
}

// Info returns a copy of the slot at the bus index.
func (t *Table) Info(d contracts.Direction, bus int) (contracts.PortInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	slots, _ := t.table(d)
	if bus < 0 || bus >= len(*slots) {
		return contracts.PortInfo{}, fmt.Errorf("%w: %s bus %d", contracts.ErrInvalidBus, d, bus)
	}
	return *(*slots)[bus], nil
}

// SetFlags applies the per-bus clock and input enable flags.
func (t *Table) SetFlags(d contracts.Direction, bus int, clockOut, inputEnable bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	slots, _ := t.table(d)
	if bus < 0 || bus >= len(*slots) {
		return fmt.Errorf("%w: %s bus %d", contracts.ErrInvalidBus, d, bus)
	}
	(*slots)[bus].ClockOut = clockOut
	(*slots)[bus].InputEnable = inputEnable
	return nil
}

// SetAnnounce records the endpoint lifecycle notifications arrive on. It
// lives outside both tables and consumes no bus index.
func (t *Table) SetAnnounce(ep contracts.Endpoint) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.announce = &contracts.PortInfo{
		Endpoint:    ep,
		Bus:         -1,
		Direction:   contracts.Input,
		Active:      true,
		Initialized: true,
		InputEnable: true,
	}
}

// Announce returns the announce slot, if one was recorded.
func (t *Table) Announce() (contracts.PortInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.announce == nil {
		return contracts.PortInfo{}, false
	}
	return *t.announce, true
}
