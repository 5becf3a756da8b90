// Package queuedrv implements the fabric's centralized-queue transport model
// on github.com/rakyll/portmidi. One process-wide handle owns the scheduling
// queue: the global device table, the shared millisecond timebase and one
// native tempo record. Ports are addressed through per-device streams that
// all schedule against that timebase.
package queuedrv

import (
	"fmt"
	"sync"
	"time"

	"github.com/rakyll/portmidi"

	"github.com/leandrodaf/midifabric/internal/clock"
	"github.com/leandrodaf/midifabric/sdk/contracts"
)

const (
	streamBufferSize = 512
	pollSleep        = 10 * time.Millisecond
	rescanInterval   = time.Second
)

// Driver is the centralized-queue backend. Receive, Pending and Poll must
// only be called from the poller goroutine; Send may run on another
// goroutine and schedules against the shared timebase.
type Driver struct {
	logger contracts.Logger

	mu      sync.Mutex
	opened  bool
	closed  bool
	ins     map[int]*portmidi.Stream // keyed by device id
	outs    map[int]*portmidi.Stream
	pollSet []int // device ids of the input streams the poller watches
	known   map[int]contracts.Endpoint
	scanned bool

	tempo    contracts.Tempo // the queue's native tempo record
	running  bool
	base     portmidi.Timestamp
	baseTick uint64

	pending  []contracts.RawEvent
	lastScan time.Time
}

// New returns an unopened centralized-queue driver.
func New(opts *contracts.FabricOptions) *Driver {
	return &Driver{
		logger: opts.Logger,
		ins:    make(map[int]*portmidi.Stream),
		outs:   make(map[int]*portmidi.Stream),
		known:  make(map[int]contracts.Endpoint),
		tempo: contracts.Tempo{
			PPQN:             opts.PPQN,
			MicrosPerQuarter: clock.MicrosPerQuarter(opts.BPM),
		},
	}
}

// Open creates the process-wide backend handle.
func (d *Driver) Open() error {
	if err := portmidi.Initialize(); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrTransportOpen, err)
	}
	d.mu.Lock()
	d.opened = true
	d.mu.Unlock()
	d.logger.Info("centralized-queue MIDI transport opened",
		d.logger.Field().Int("devices", portmidi.CountDevices()))
	return nil
}

// Close stops the queue, closes every stream and destroys the handle. An
// in-flight Poll observes the closed flag and returns.
func (d *Driver) Close() error {
	d.mu.Lock()
	if !d.opened || d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.running = false
	for _, s := range d.ins {
		s.Close()
	}
	for _, s := range d.outs {
		s.Close()
	}
	d.ins = make(map[int]*portmidi.Stream)
	d.outs = make(map[int]*portmidi.Stream)
	d.pollSet = nil
	d.mu.Unlock()
	return portmidi.Terminate()
}

// ClientID returns the transport identity of this process. The portmidi
// device table never lists our own streams, so no visible device matches.
func (d *Driver) ClientID() int {
	return -1
}

// Scan walks the global device table.
func (d *Driver) Scan() ([]contracts.Endpoint, error) {
	count := portmidi.CountDevices()
	eps := make([]contracts.Endpoint, 0, count)
	for id := 0; id < count; id++ {
		info := portmidi.Info(portmidi.DeviceID(id))
		if info == nil {
			continue
		}
		eps = append(eps, endpointFrom(id, info))
	}
	return eps, nil
}

func endpointFrom(id int, info *portmidi.DeviceInfo) contracts.Endpoint {
	ep := contracts.Endpoint{
		Client:     id,
		Port:       0,
		ClientName: info.Interf,
		PortName:   info.Name,
	}
	if info.IsInputAvailable {
		ep.Caps.Read = true
		ep.Caps.SubsRead = true
	}
	if info.IsOutputAvailable {
		ep.Caps.Write = true
		ep.Caps.SubsWrite = true
	}
	return ep
}

// Describe queries one entry of the device table.
func (d *Driver) Describe(client, port int) (contracts.Endpoint, error) {
	info := portmidi.Info(portmidi.DeviceID(client))
	if info == nil {
		return contracts.Endpoint{}, fmt.Errorf("device %d not visible", client)
	}
	_ = port // portmidi devices are single-port
	return endpointFrom(client, info), nil
}

// Announce returns the endpoint lifecycle notifications are attributed to.
func (d *Driver) Announce() contracts.Endpoint {
	return contracts.Endpoint{
		Client:     -1,
		Port:       -1,
		ClientName: "system",
		PortName:   "announce",
		Caps:       contracts.Capability{Read: true, SubsRead: true},
	}
}

// CreateVirtual is not supported by the centralized-queue backend; manual
// port mode requires the per-client transport.
func (d *Driver) CreateVirtual(dir contracts.Direction, slot int, name string) (contracts.Endpoint, error) {
	return contracts.Endpoint{}, fmt.Errorf("%w: portmidi queue", contracts.ErrVirtualUnsupported)
}

// Subscribe opens a stream on the shared handle for the endpoint.
func (d *Driver) Subscribe(dir contracts.Direction, ep contracts.Endpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dir == contracts.Input {
		if _, ok := d.ins[ep.Client]; ok {
			return nil
		}
		s, err := portmidi.NewInputStream(portmidi.DeviceID(ep.Client), streamBufferSize)
		if err != nil {
			return err
		}
		d.ins[ep.Client] = s
		return nil
	}

	if _, ok := d.outs[ep.Client]; ok {
		return nil
	}
	s, err := portmidi.NewOutputStream(portmidi.DeviceID(ep.Client), streamBufferSize, 0)
	if err != nil {
		return err
	}
	d.outs[ep.Client] = s
	return nil
}

// Tempo reads the queue's native tempo record.
func (d *Driver) Tempo() (contracts.Tempo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tempo, nil
}

// SetTempo writes a tempo record previously read with Tempo, preserving the
// field the caller did not change.
func (d *Driver) SetTempo(t contracts.Tempo) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if t.PPQN > 0 {
		d.tempo.PPQN = t.PPQN
	}
	if t.MicrosPerQuarter > 0 {
		d.tempo.MicrosPerQuarter = t.MicrosPerQuarter
	}
	return nil
}

// StartClock starts the shared queue timer. The backend timer has no stored
// position of its own; position lives in event timestamps.
func (d *Driver) StartClock() error {
	return d.ContinueClock(0)
}

// ContinueClock resumes the queue timer from the given tick.
func (d *Driver) ContinueClock(tick uint64) error {
	d.mu.Lock()
	d.running = true
	d.base = portmidi.Time()
	d.baseTick = tick
	d.mu.Unlock()
	return nil
}

// StopClock flushes pending output and halts the queue timer.
func (d *Driver) StopClock() error {
	if err := d.Flush(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.running {
		d.baseTick += d.ticksFromMillis(int64(portmidi.Time() - d.base))
		d.running = false
	}
	d.mu.Unlock()
	return nil
}

// Flush is a no-op: writes on the shared handle reach the backend queue
// immediately, nothing is buffered on this side.
func (d *Driver) Flush() error {
	return nil
}

// millisFromTicks converts queue ticks to the backend's millisecond
// timebase using the current tempo record. Callers hold d.mu.
func (d *Driver) millisFromTicks(ticks uint64) int64 {
	return int64(ticks) * int64(d.tempo.MicrosPerQuarter) / int64(d.tempo.PPQN) / 1000
}

func (d *Driver) ticksFromMillis(ms int64) uint64 {
	if ms <= 0 {
		return 0
	}
	return uint64(ms*1000) * uint64(d.tempo.PPQN) / uint64(d.tempo.MicrosPerQuarter)
}

// Send schedules wire bytes on the endpoint's stream at the queue time the
// tick maps to. Fire-and-forget; portmidi preserves per-stream ordering.
func (d *Driver) Send(ep contracts.Endpoint, data []byte, tick uint64) error {
	if len(data) == 0 {
		return nil
	}
	d.mu.Lock()
	s, ok := d.outs[ep.Client]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: not subscribed to device %d", contracts.ErrInvalidBus, ep.Client)
	}
	rel := uint64(0)
	if tick > d.baseTick {
		rel = tick - d.baseTick
	}
	when := d.base + portmidi.Timestamp(d.millisFromTicks(rel))
	d.mu.Unlock()

	if data[0] == contracts.StatusSysex {
		return s.WriteSysExBytes(when, data)
	}
	ev := portmidi.Event{Timestamp: when, Status: int64(data[0])}
	if len(data) > 1 {
		ev.Data1 = int64(data[1])
	}
	if len(data) > 2 {
		ev.Data2 = int64(data[2])
	}
	return s.Write([]portmidi.Event{ev})
}

// Receive drains one raw event from the shared handle without blocking.
// Lifecycle notifications synthesized by the rescan sit ahead of wire data.
func (d *Driver) Receive() (contracts.RawEvent, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.receiveLocked()
}

func (d *Driver) receiveLocked() (contracts.RawEvent, bool) {
	if len(d.pending) > 0 {
		raw := d.pending[0]
		d.pending = d.pending[1:]
		return raw, true
	}
	for _, id := range d.pollSet {
		s, ok := d.ins[id]
		if !ok {
			continue
		}
		ready, err := s.Poll()
		if err != nil || !ready {
			continue
		}
		events, err := s.Read(1)
		if err != nil || len(events) == 0 {
			continue
		}
		return d.rawFrom(id, events[0]), true
	}
	return contracts.RawEvent{}, false
}

func (d *Driver) rawFrom(id int, ev portmidi.Event) contracts.RawEvent {
	raw := contracts.RawEvent{
		Kind:   contracts.RawData,
		Client: id,
		Port:   0,
		Tick:   d.baseTick + d.ticksFromMillis(int64(ev.Timestamp-d.base)),
	}
	if len(ev.SysEx) > 0 {
		raw.Data = append([]byte(nil), ev.SysEx...)
		return raw
	}
	status := byte(ev.Status)
	switch contracts.VoiceLength(status) {
	case 1:
		raw.Data = []byte{status}
	case 2:
		raw.Data = []byte{status, byte(ev.Data1)}
	default:
		raw.Data = []byte{status, byte(ev.Data1), byte(ev.Data2)}
	}
	return raw
}

// Pending reports whether Receive would return an event right now.
func (d *Driver) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.pending) > 0 {
		return true
	}
	for _, id := range d.pollSet {
		if s, ok := d.ins[id]; ok {
			if ready, err := s.Poll(); err == nil && ready {
				return true
			}
		}
	}
	return false
}

// Poll performs the bounded readiness wait over the current poll set,
// retrying in short sleeps until the deadline. Zero on timeout is not an
// error. The periodic rescan that feeds hot-plug notifications runs here,
// on the poller goroutine.
func (d *Driver) Poll(timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		d.mu.Lock()
		if d.closed {
			d.mu.Unlock()
			return 0, nil
		}
		d.rescanLocked()
		n := 0
		if len(d.pending) > 0 {
			n = len(d.pending)
		}
		for _, id := range d.pollSet {
			if s, ok := d.ins[id]; ok {
				if ready, err := s.Poll(); err == nil && ready {
					n++
				}
			}
		}
		d.mu.Unlock()
		if n > 0 {
			return n, nil
		}
		if !time.Now().Before(deadline) {
			return 0, nil
		}
		time.Sleep(pollSleep)
	}
}

// RebuildPollSet reallocates the readiness set from the currently subscribed
// input streams. Called after the port set changes; the stale set is never
// polled again.
func (d *Driver) RebuildPollSet() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.pollSet = make([]int, 0, len(d.ins))
	for id := range d.ins {
		d.pollSet = append(d.pollSet, id)
	}
	return nil
}

// rescanLocked diffs the device table against the last scan and synthesizes
// port-start/port-exit notifications, the queue backend's announce feed.
func (d *Driver) rescanLocked() {
	if time.Since(d.lastScan) < rescanInterval {
		return
	}
	d.lastScan = time.Now()

	count := portmidi.CountDevices()
	seen := make(map[int]contracts.Endpoint, count)
	for id := 0; id < count; id++ {
		info := portmidi.Info(portmidi.DeviceID(id))
		if info == nil {
			continue
		}
		seen[id] = endpointFrom(id, info)
	}

	if !d.scanned {
		d.scanned = true
		d.known = seen
		return
	}
	for id := range seen {
		if _, ok := d.known[id]; !ok {
			d.pending = append(d.pending, contracts.RawEvent{
				Kind: contracts.RawPortStart, Client: id,
			})
		}
	}
	for id := range d.known {
		if _, ok := seen[id]; !ok {
			d.pending = append(d.pending, contracts.RawEvent{
				Kind: contracts.RawPortExit, Client: id,
			})
		}
	}
	d.known = seen
}
