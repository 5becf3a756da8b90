// Package clientdrv implements the fabric's per-client transport model on
// gitlab.com/gomidi/midi/v2 drivers. Each logical port owns its own backend
// client: inputs listen through a driver callback feeding one inbound queue,
// outputs buffer wire bytes in a per-port ring buffer that is drained in
// send order. Timing is tracked locally and translated to backend
// milliseconds at send time.
package clientdrv

import (
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/leandrodaf/midifabric/internal/clock"
	"github.com/leandrodaf/midifabric/internal/codec"
	"github.com/leandrodaf/midifabric/sdk/contracts"
)

const (
	defaultRingSize = 4096
	ringChunkSize   = 256
	inboxSize       = 256
	scanInterval    = time.Second
)

// virtualOpener is satisfied by drivers that can create process-owned ports,
// such as rtmididrv.Driver.
type virtualOpener interface {
	OpenVirtualIn(name string) (drivers.In, error)
	OpenVirtualOut(name string) (drivers.Out, error)
}

type inPort struct {
	ep   contracts.Endpoint
	in   drivers.In
	stop func()
}

type outPort struct {
	mu   sync.Mutex
	ep   contracts.Endpoint
	out  drivers.Out
	ring *ring
}

// Driver is the per-client backend. Receive, Pending and Poll must only be
// called from the poller goroutine; Send may run on another goroutine.
type Driver struct {
	logger     contracts.Logger
	drv        drivers.Driver
	clientName string

	clk *clock.Clock

	mu      sync.Mutex
	ins     map[int]*inPort
	outs    map[int]*outPort
	known   map[int]contracts.Endpoint // last scan, for hot-plug diffing
	running bool
	base    time.Time
	tick    uint64

	inbox   chan contracts.RawEvent
	pending *contracts.RawEvent
	done    chan struct{}
	once    sync.Once
}

// New wraps the given gomidi driver. The fabric injects rtmididrv in
// production; tests inject the in-memory test driver.
func New(drv drivers.Driver, opts *contracts.FabricOptions) *Driver {
	return &Driver{
		logger:     opts.Logger,
		drv:        drv,
		clientName: opts.ClientName,
		clk:        clock.New(opts.PPQN, opts.BPM),
		ins:        make(map[int]*inPort),
		outs:       make(map[int]*outPort),
		known:      make(map[int]contracts.Endpoint),
		inbox:      make(chan contracts.RawEvent, inboxSize),
		done:       make(chan struct{}),
	}
}

// Open verifies the backend is reachable and starts the hot-plug scanner.
func (d *Driver) Open() error {
	if d.drv == nil {
		return fmt.Errorf("%w: no MIDI driver registered", contracts.ErrTransportOpen)
	}
	if _, err := d.drv.Ins(); err != nil {
		return fmt.Errorf("%w: %v", contracts.ErrTransportOpen, err)
	}
	go d.scanLoop()
	d.logger.Info("per-client MIDI transport opened",
		d.logger.Field().String("driver", d.drv.String()))
	return nil
}

// Close stops all listeners, drops buffered output and destroys the backend
// clients. An in-flight Poll observes the closed state and returns.
func (d *Driver) Close() error {
	d.once.Do(func() { close(d.done) })

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, p := range d.ins {
		if p.stop != nil {
			p.stop()
		}
		p.in.Close()
	}
	for _, p := range d.outs {
		p.out.Close()
	}
	d.ins = make(map[int]*inPort)
	d.outs = make(map[int]*outPort)
	return d.drv.Close()
}

// ClientID returns a synthetic id; per-client backends have no process-wide
// client, so self ports are excluded by name instead.
func (d *Driver) ClientID() int {
	return endpointID(d.clientName)
}

// endpointID derives a stable transport identity from a port name. Backend
// port numbers shift when devices come and go, names do not.
func endpointID(name string) int {
	h := fnv.New32a()
	h.Write([]byte(name))
	return int(h.Sum32())
}

// Scan lists the endpoints currently visible through the backend driver.
func (d *Driver) Scan() ([]contracts.Endpoint, error) {
	ins, err := d.drv.Ins()
	if err != nil {
		return nil, err
	}
	outs, err := d.drv.Outs()
	if err != nil {
		return nil, err
	}

	byID := make(map[int]contracts.Endpoint)
	order := make([]int, 0, len(ins)+len(outs))
	for _, in := range ins {
		ep := endpointFor(in.String())
		ep.Caps.Read = true
		ep.Caps.SubsRead = true
		byID[ep.Client] = ep
		order = append(order, ep.Client)
	}
	for _, out := range outs {
		id := endpointID(out.String())
		if ep, ok := byID[id]; ok {
			ep.Caps.Write = true
			ep.Caps.SubsWrite = true
			byID[id] = ep
			continue
		}
		ep := endpointFor(out.String())
		ep.Caps.Write = true
		ep.Caps.SubsWrite = true
		byID[id] = ep
		order = append(order, id)
	}

	eps := make([]contracts.Endpoint, 0, len(order))
	for _, id := range order {
		eps = append(eps, byID[id])
	}
	return eps, nil
}

func endpointFor(name string) contracts.Endpoint {
	return contracts.Endpoint{
		Client:     endpointID(name),
		Port:       0,
		ClientName: name,
		PortName:   name,
	}
}

// Describe resolves a transport identity back to a scanned endpoint.
func (d *Driver) Describe(client, port int) (contracts.Endpoint, error) {
	eps, err := d.Scan()
	if err != nil {
		return contracts.Endpoint{}, err
	}
	for _, ep := range eps {
		if ep.Match(client, port) {
			return ep, nil
		}
	}
	return contracts.Endpoint{}, fmt.Errorf("endpoint %d:%d not visible", client, port)
}

// Announce returns the synthetic endpoint scan-diff notifications are
// attributed to; per-client backends have no system announce port.
func (d *Driver) Announce() contracts.Endpoint {
	return contracts.Endpoint{
		Client:     -1,
		Port:       -1,
		ClientName: "system",
		PortName:   "announce",
		Caps:       contracts.Capability{Read: true, SubsRead: true},
	}
}

// CreateVirtual creates a process-owned port when the backend supports it.
func (d *Driver) CreateVirtual(dir contracts.Direction, slot int, name string) (contracts.Endpoint, error) {
	vo, ok := d.drv.(virtualOpener)
	if !ok {
		return contracts.Endpoint{}, fmt.Errorf("%w: %s", contracts.ErrVirtualUnsupported, d.drv.String())
	}

	portName := name
	if portName == "" {
		portName = fmt.Sprintf("%s %s %d", d.clientName, dir, slot)
	}
	ep := endpointFor(portName)
	ep.ClientName = d.clientName

	d.mu.Lock()
	defer d.mu.Unlock()
	if dir == contracts.Input {
		in, err := vo.OpenVirtualIn(portName)
		if err != nil {
			return contracts.Endpoint{}, err
		}
		ep.Caps = contracts.Capability{Read: true, SubsRead: true}
		p := &inPort{ep: ep, in: in}
		if err := d.listenLocked(p); err != nil {
			in.Close()
			return contracts.Endpoint{}, err
		}
		d.ins[ep.Client] = p
		return ep, nil
	}

	out, err := vo.OpenVirtualOut(portName)
	if err != nil {
		return contracts.Endpoint{}, err
	}
	ep.Caps = contracts.Capability{Write: true, SubsWrite: true}
	d.outs[ep.Client] = &outPort{ep: ep, out: out, ring: newRing(defaultRingSize)}
	return ep, nil
}

// Subscribe opens a backend client for the endpoint and, for inputs, starts
// the listener feeding the inbound queue.
func (d *Driver) Subscribe(dir contracts.Direction, ep contracts.Endpoint) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if dir == contracts.Input {
		if _, ok := d.ins[ep.Client]; ok {
			return nil
		}
		in, err := d.findIn(ep.PortName)
		if err != nil {
			return err
		}
		if err := in.Open(); err != nil {
			return err
		}
		p := &inPort{ep: ep, in: in}
		if err := d.listenLocked(p); err != nil {
			in.Close()
			return err
		}
		d.ins[ep.Client] = p
		return nil
	}

	if _, ok := d.outs[ep.Client]; ok {
		return nil
	}
	out, err := d.findOut(ep.PortName)
	if err != nil {
		return err
	}
	if err := out.Open(); err != nil {
		return err
	}
	d.outs[ep.Client] = &outPort{ep: ep, out: out, ring: newRing(defaultRingSize)}
	return nil
}

func (d *Driver) findIn(name string) (drivers.In, error) {
	ins, err := d.drv.Ins()
	if err != nil {
		return nil, err
	}
	for _, in := range ins {
		if in.String() == name {
			return in, nil
		}
	}
	return nil, fmt.Errorf("input port %q not found", name)
}

func (d *Driver) findOut(name string) (drivers.Out, error) {
	outs, err := d.drv.Outs()
	if err != nil {
		return nil, err
	}
	for _, out := range outs {
		if out.String() == name {
			return out, nil
		}
	}
	return nil, fmt.Errorf("output port %q not found", name)
}

func (d *Driver) listenLocked(p *inPort) error {
	ep := p.ep
	stop, err := p.in.Listen(func(msg []byte, _ int32) {
		raw := contracts.RawEvent{
			Kind:   contracts.RawData,
			Client: ep.Client,
			Port:   ep.Port,
			Tick:   d.currentTick(),
			Data:   append([]byte(nil), msg...),
		}
		select {
		case d.inbox <- raw:
		default:
			d.logger.Warn("inbound queue full, dropping event",
				d.logger.Field().String("port", ep.PortName))
		}
	}, drivers.ListenConfig{SysEx: true})
	if err != nil {
		return err
	}
	p.stop = stop
	return nil
}

// currentTick stamps inbound events with the queue position.
func (d *Driver) currentTick() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.running {
		return d.tick
	}
	return d.tick + d.clk.TicksFor(time.Since(d.base))
}

// Tempo returns the locally tracked tempo record.
func (d *Driver) Tempo() (contracts.Tempo, error) {
	return contracts.Tempo{
		PPQN:             d.clk.PPQN(),
		MicrosPerQuarter: clock.MicrosPerQuarter(d.clk.BPM()),
	}, nil
}

// SetTempo applies a tempo record previously read with Tempo.
func (d *Driver) SetTempo(t contracts.Tempo) error {
	d.clk.SetPPQN(t.PPQN)
	d.clk.SetBPM(clock.BPMFromMicros(t.MicrosPerQuarter))
	return nil
}

// StartClock starts local musical time from tick zero.
func (d *Driver) StartClock() error {
	return d.ContinueClock(0)
}

// ContinueClock resumes local musical time from the given tick.
func (d *Driver) ContinueClock(tick uint64) error {
	d.mu.Lock()
	d.running = true
	d.base = time.Now()
	d.tick = tick
	d.mu.Unlock()
	return nil
}

// StopClock flushes every outbound ring and halts local time, so nothing is
// stranded mid-send when playback stops.
func (d *Driver) StopClock() error {
	if err := d.Flush(); err != nil {
		return err
	}
	d.mu.Lock()
	if d.running {
		d.tick += d.clk.TicksFor(time.Since(d.base))
		d.running = false
	}
	d.mu.Unlock()
	return nil
}

// Flush drains all per-port rings into the backend in send order.
func (d *Driver) Flush() error {
	d.mu.Lock()
	outs := make([]*outPort, 0, len(d.outs))
	for _, p := range d.outs {
		outs = append(outs, p)
	}
	d.mu.Unlock()

	var firstErr error
	for _, p := range outs {
		if err := p.drain(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// maxFrameSize is the largest message one ring frame can describe; the frame
// header carries the length in 16 bits.
const maxFrameSize = 0xFFFF

// Send frames the wire bytes into the port's ring buffer and drains it.
// Fire-and-forget from the caller's perspective; per-port ordering follows
// from the ring and the port mutex. The header and payload are reserved as
// one unit: a message that does not fit leaves the ring untouched, so a
// rejected send can never desync the framing of later ones.
func (d *Driver) Send(ep contracts.Endpoint, data []byte, tick uint64) error {
	if len(data) > maxFrameSize {
		return fmt.Errorf("message of %d bytes exceeds the %d byte frame limit", len(data), maxFrameSize)
	}
	d.mu.Lock()
	p, ok := d.outs[ep.Client]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: not subscribed to %q", contracts.ErrInvalidBus, ep.PortName)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	header := []byte{byte(len(data) >> 8), byte(len(data))}
	if len(header)+len(data) > p.ring.free() {
		return errRingFull
	}
	if err := p.ring.write(header); err != nil {
		return err
	}
	for _, chunk := range codec.SysexChunks(data, ringChunkSize) {
		if err := p.ring.write(chunk); err != nil {
			return err
		}
	}
	return p.drainLocked()
}

func (p *outPort) drain() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.drainLocked()
}

func (p *outPort) drainLocked() error {
	var header [2]byte
	for p.ring.length() >= len(header) {
		p.ring.read(header[:])
		size := int(header[0])<<8 | int(header[1])
		msg := make([]byte, size)
		p.ring.read(msg)
		if err := p.out.Send(msg); err != nil {
			return err
		}
	}
	return nil
}

// Receive returns the next queued raw event without blocking.
func (d *Driver) Receive() (contracts.RawEvent, bool) {
	if d.pending != nil {
		raw := *d.pending
		d.pending = nil
		return raw, true
	}
	select {
	case raw := <-d.inbox:
		return raw, true
	default:
		return contracts.RawEvent{}, false
	}
}

// Pending reports whether Receive would return an event right now.
func (d *Driver) Pending() bool {
	return d.pending != nil || len(d.inbox) > 0
}

// Poll performs the bounded readiness wait of one poller cycle. It returns
// zero on timeout, which is not an error, and returns promptly once Close
// has torn the backend down.
func (d *Driver) Poll(timeout time.Duration) (int, error) {
	if d.Pending() {
		return 1, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case raw := <-d.inbox:
		d.pending = &raw
		return 1, nil
	case <-timer.C:
		return 0, nil
	case <-d.done:
		return 0, nil
	}
}

// RebuildPollSet re-derives the set of listeners the poller observes. The
// inbound queue already aggregates every open listener, so rebuilding only
// prunes listeners whose port has been closed.
func (d *Driver) RebuildPollSet() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for id, p := range d.ins {
		if !p.in.IsOpen() {
			if p.stop != nil {
				p.stop()
			}
			delete(d.ins, id)
		}
	}
	return nil
}

// scanLoop diffs the visible port set once a second and synthesizes
// port-start/port-exit notifications, the per-client stand-in for a system
// announce port.
func (d *Driver) scanLoop() {
	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	d.rememberScan(false)
	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.rememberScan(true)
		}
	}
}

func (d *Driver) rememberScan(notify bool) {
	eps, err := d.Scan()
	if err != nil {
		d.logger.Debug("port scan failed", d.logger.Field().Error("error", err))
		return
	}

	seen := make(map[int]contracts.Endpoint, len(eps))
	for _, ep := range eps {
		seen[ep.Client] = ep
	}

	d.mu.Lock()
	known := d.known
	d.known = seen
	d.mu.Unlock()

	if !notify {
		return
	}
	for id, ep := range seen {
		if _, ok := known[id]; !ok {
			d.notifyLifecycle(contracts.RawPortStart, ep)
		}
	}
	for id, ep := range known {
		if _, ok := seen[id]; !ok {
			d.notifyLifecycle(contracts.RawPortExit, ep)
		}
	}
}

func (d *Driver) notifyLifecycle(kind contracts.RawKind, ep contracts.Endpoint) {
	raw := contracts.RawEvent{Kind: kind, Client: ep.Client, Port: ep.Port}
	select {
	case d.inbox <- raw:
	default:
		d.logger.Warn("inbound queue full, dropping lifecycle notification",
			d.logger.Field().String("port", ep.PortName))
	}
}
