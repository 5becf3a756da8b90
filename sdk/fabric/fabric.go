// Package fabric is the real-time MIDI transport core of the sequencer: it
// discovers and multiplexes MIDI endpoints across backend transports, keeps
// the shared PPQN/BPM queue, and translates between the backend's wire
// representation and the application's event model.
//
// Scheduling contract: one dedicated poller goroutine calls PollForMIDI,
// IsMoreInput and GetNextEvent; outbound Send calls may originate on a
// different goroutine. Hot-plug mutation happens on the poller goroutine and
// shares the registry lock with any reader listing ports.
package fabric

import (
	"fmt"
	"sync"

	"github.com/leandrodaf/midifabric/internal/clock"
	"github.com/leandrodaf/midifabric/internal/codec"
	"github.com/leandrodaf/midifabric/internal/registry"
	"github.com/leandrodaf/midifabric/sdk/contracts"
)

// Fabric owns the bus tables, the shared clock and one backend driver.
//
// Locking: the bus tables carry their own mutex inside registry.Table, taken
// by hot-plug mutation and by every reader listing or addressing ports; mu
// below guards only poller-side state (the pending-input query and the decode
// counters). The two are never held together.
type Fabric struct {
	logger  contracts.Logger
	options contracts.FabricOptions
	driver  contracts.Driver
	buses   *registry.Table
	clk     *clock.Clock

	mu sync.Mutex // poller-side state: pending-input query and decode counters

	emptyDecodes uint64 // benign empty decode attempts (startup noise)
	badDecodes   uint64 // genuinely malformed payloads
}

// New creates a fabric with the specified options and opens the backend
// transport. Failure to open is fatal for MIDI I/O; the caller decides
// whether to terminate.
func New(opts ...contracts.Option) (*Fabric, error) {
	options, err := applyDefaultOptions(opts...)
	if err != nil {
		return nil, err
	}

	drv, err := newDriver(&options)
	if err != nil {
		return nil, err
	}
	if err := drv.Open(); err != nil {
		return nil, err
	}

	return &Fabric{
		logger:  options.Logger,
		options: options,
		driver:  drv,
		buses:   registry.New(options.InputCapacity, options.OutputCapacity),
		clk:     clock.New(options.PPQN, options.BPM),
	}, nil
}

// Initialize populates the bus tables and programs the queue tempo. In
// manual-port mode the configured number of virtual ports is created
// directly and no discovery is performed; otherwise every visible remote
// endpoint with a matching subscription capability is registered.
// Non-positive ppqn or bpm fall back to the configured initial values.
func (f *Fabric) Initialize(ppqn, bpm int) error {
	if ppqn <= 0 {
		ppqn = f.options.PPQN
	}
	if bpm <= 0 {
		bpm = f.options.BPM
	}

	if f.options.ManualPorts {
		if err := f.initManual(); err != nil {
			return err
		}
	} else {
		if err := f.initDiscovery(); err != nil {
			return err
		}
	}

	if err := f.SetBPM(bpm); err != nil {
		return err
	}
	if err := f.SetPPQN(ppqn); err != nil {
		return err
	}

	f.buses.SetAnnounce(f.driver.Announce())
	if err := f.driver.RebuildPollSet(); err != nil {
		return err
	}
	f.applyPortFlags()

	f.logger.Info("fabric initialized",
		f.logger.Field().String("transport", string(f.options.Transport)),
		f.logger.Field().Bool("manual", f.options.ManualPorts),
		f.logger.Field().Int("inputs", f.buses.Count(contracts.Input)),
		f.logger.Field().Int("outputs", f.buses.Count(contracts.Output)))
	return nil
}

func (f *Fabric) initManual() error {
	for i := 0; i < f.options.VirtualOutputs; i++ {
		ep, err := f.driver.CreateVirtual(contracts.Output, i, "")
		if err != nil {
			return err
		}
		if _, err := f.buses.Register(contracts.Output, ep, true); err != nil {
			return err
		}
	}
	for i := 0; i < f.options.VirtualInputs; i++ {
		ep, err := f.driver.CreateVirtual(contracts.Input, i, "")
		if err != nil {
			return err
		}
		if _, err := f.buses.Register(contracts.Input, ep, true); err != nil {
			return err
		}
	}
	return nil
}

// initDiscovery registers every visible endpoint. Discovery keys on the
// subscription bit alone; hot-plug registration later requires the full
// capability pair. A port exposing both capabilities lands in both tables.
func (f *Fabric) initDiscovery() error {
	eps, err := f.driver.Scan()
	if err != nil {
		return err
	}
	for _, ep := range eps {
		if ep.Client == f.driver.ClientID() {
			continue // never connect the fabric to itself
		}
		if ep.Caps.SubsWrite {
			f.registerAndSubscribe(contracts.Output, ep)
		}
		if ep.Caps.SubsRead {
			f.registerAndSubscribe(contracts.Input, ep)
		}
	}
	return nil
}

// registerAndSubscribe adds one endpoint to a bus table. Capacity overflow
// is a no-op reported in the log; existing ports remain usable.
func (f *Fabric) registerAndSubscribe(d contracts.Direction, ep contracts.Endpoint) {
	bus, err := f.buses.Register(d, ep, false)
	if err != nil {
		f.logger.Warn("bus not registered",
			f.logger.Field().String("direction", d.String()),
			f.logger.Field().String("port", ep.PortName),
			f.logger.Field().Error("error", err))
		return
	}
	if err := f.driver.Subscribe(d, ep); err != nil {
		f.logger.Warn("bus subscription failed",
			f.logger.Field().String("port", ep.PortName),
			f.logger.Field().Error("error", err))
		return
	}
	f.logger.Debug("bus registered",
		f.logger.Field().String("direction", d.String()),
		f.logger.Field().Int("bus", bus),
		f.logger.Field().String("client", ep.ClientName),
		f.logger.Field().String("port", ep.PortName))
}

func (f *Fabric) applyPortFlags() {
	for bus, on := range f.options.ClockOut {
		if info, err := f.buses.Info(contracts.Output, bus); err == nil {
			f.buses.SetFlags(contracts.Output, bus, on, info.InputEnable)
		}
	}
	for bus, on := range f.options.InputEnable {
		if info, err := f.buses.Info(contracts.Input, bus); err == nil {
			f.buses.SetFlags(contracts.Input, bus, info.ClockOut, on)
		}
	}
}

// Start starts the shared queue timer.
func (f *Fabric) Start() error {
	return f.driver.StartClock()
}

// ContinueFrom resumes the queue timer from the given tick.
func (f *Fabric) ContinueFrom(tick uint64) error {
	return f.driver.ContinueClock(tick)
}

// Stop drains and synchronizes all pending outbound events, then halts the
// queue timer, so no event is stranded mid-send when playback stops.
func (f *Fabric) Stop() error {
	return f.driver.StopClock()
}

// Flush pushes locally buffered outbound events into the backend.
func (f *Fabric) Flush() error {
	return f.driver.Flush()
}

// SetPPQN reprograms the queue resolution. The backend's tempo record is
// read, the PPQN field changed and the record written back, so the tempo
// field and any backend-side state survive. Elapsed position is not reset.
func (f *Fabric) SetPPQN(p int) error {
	t, err := f.driver.Tempo()
	if err != nil {
		return err
	}
	t.PPQN = p
	if err := f.driver.SetTempo(t); err != nil {
		return err
	}
	f.clk.SetPPQN(p)
	return nil
}

// SetBPM reprograms the queue tempo, preserving the resolution field the
// same way SetPPQN preserves tempo.
func (f *Fabric) SetBPM(b int) error {
	t, err := f.driver.Tempo()
	if err != nil {
		return err
	}
	t.MicrosPerQuarter = clock.MicrosPerQuarter(b)
	if err := f.driver.SetTempo(t); err != nil {
		return err
	}
	f.clk.SetBPM(b)
	return nil
}

// PPQN returns the current queue resolution.
func (f *Fabric) PPQN() int {
	return f.clk.PPQN()
}

// BPM returns the current queue tempo.
func (f *Fabric) BPM() int {
	return f.clk.BPM()
}

// PollForMIDI performs one bounded readiness wait and reports whether at
// least one event is ready. A timeout is not an error; the poller simply
// retries.
func (f *Fabric) PollForMIDI() bool {
	n, err := f.driver.Poll(f.options.PollTimeout)
	if err != nil {
		f.logger.Debug("poll failed", f.logger.Field().Error("error", err))
		return false
	}
	return n > 0
}

// IsMoreInput reports whether another receive attempt would yield an event.
func (f *Fabric) IsMoreInput() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.driver.Pending()
}

// GetNextEvent drains one raw backend event and normalizes it. The second
// return is false when no musical event was produced: nothing pending, a
// lifecycle notification consumed by the hot-plug handler, or a payload
// that decoded to nothing. Decode failures are never surfaced as errors;
// the poller catches everything locally and continues.
func (f *Fabric) GetNextEvent() (contracts.Event, bool) {
	raw, ok := f.driver.Receive()
	if !ok {
		return contracts.Event{}, false
	}

	if raw.Kind != contracts.RawData {
		if !f.options.ManualPorts {
			f.handleLifecycle(raw)
		}
		return contracts.Event{}, false
	}

	if len(raw.Data) == 0 {
		// Backends emit empty decode attempts during startup; benign.
		f.mu.Lock()
		f.emptyDecodes++
		f.mu.Unlock()
		return contracts.Event{}, false
	}

	bus, known := f.buses.Lookup(contracts.Input, raw.Client, raw.Port)
	if !known {
		// Delivered with Bus == -1: the bytes are real, the provenance is not.
		f.logger.Debug("event from unregistered endpoint",
			f.logger.Field().Int("client", raw.Client),
			f.logger.Field().Int("port", raw.Port))
	}

	if raw.Data[0] == contracts.StatusSysex {
		ev := f.reassembleSysex(raw)
		ev.Bus = bus
		return ev, true
	}

	ev, ok := codec.Decode(raw.Data, raw.Tick)
	if !ok {
		f.mu.Lock()
		f.badDecodes++
		f.mu.Unlock()
		f.logger.Debug("dropping undecodable event",
			f.logger.Field().Int("client", raw.Client),
			f.logger.Field().Int("bytes", len(raw.Data)))
		return contracts.Event{}, false
	}
	ev.Bus = bus
	return ev, true
}

// reassembleSysex polls the backend in a tight loop, appending packets until
// the accumulator reports complete or a receive yields zero bytes (the
// termination signal, not an error).
func (f *Fabric) reassembleSysex(first contracts.RawEvent) contracts.Event {
	acc := codec.NewAccumulator(first.Data, first.Tick)
	for !acc.Complete() {
		raw, ok := f.driver.Receive()
		if !ok || raw.Kind != contracts.RawData || len(raw.Data) == 0 {
			break
		}
		acc.Append(raw.Data)
	}
	f.logger.Debug("sysex reassembled", f.logger.Field().Int("bytes", acc.Len()))
	return acc.Event()
}

// Send encodes the event and schedules it on the output bus named by
// ev.Bus at ev.Tick. Addressing a bus outside the valid range returns
// contracts.ErrInvalidBus without any mutation; an inactive bus drops the
// event silently.
func (f *Fabric) Send(ev contracts.Event) error {
	info, err := f.buses.Info(contracts.Output, ev.Bus)
	if err != nil {
		return err
	}
	if !info.Active {
		return nil
	}
	data := codec.Encode(ev)
	if len(data) == 0 {
		return nil
	}
	return f.driver.Send(info.Endpoint, data, ev.Tick)
}

// PortCount returns how many bus indices are populated for the direction.
func (f *Fabric) PortCount(d contracts.Direction) int {
	return f.buses.Count(d)
}

// PortInfo returns the bus at the index, active or not.
func (f *Fabric) PortInfo(d contracts.Direction, index int) (contracts.PortInfo, error) {
	return f.buses.Info(d, index)
}

// DecodeNoOps returns how many receive attempts produced nothing, split into
// benign empty decodes and genuinely malformed payloads.
func (f *Fabric) DecodeNoOps() (empty, malformed uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.emptyDecodes, f.badDecodes
}

// Close destroys the backend handle. Any in-flight bounded wait returns and
// the poller observes a terminal condition.
func (f *Fabric) Close() error {
	if err := f.driver.Close(); err != nil {
		return fmt.Errorf("closing transport: %w", err)
	}
	return nil
}
