package clientdrv

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gitlab.com/gomidi/midi/v2/drivers"

	"github.com/leandrodaf/midifabric/internal/logger"
	"github.com/leandrodaf/midifabric/sdk/contracts"
)

// fakePort, fakeIn and fakeOut implement the gomidi driver interfaces in
// memory so the per-client backend can be exercised without hardware.
type fakePort struct {
	name   string
	number int
	open   bool
}

func (p *fakePort) Number() int             { return p.number }
func (p *fakePort) String() string          { return p.name }
func (p *fakePort) Underlying() interface{} { return nil }
func (p *fakePort) Open() error             { p.open = true; return nil }
func (p *fakePort) Close() error            { p.open = false; return nil }
func (p *fakePort) IsOpen() bool            { return p.open }

type fakeIn struct {
	fakePort
	mu    sync.Mutex
	onMsg func(msg []byte, ms int32)
}

func (p *fakeIn) Listen(onMsg func(msg []byte, ms int32), _ drivers.ListenConfig) (func(), error) {
	p.mu.Lock()
	p.onMsg = onMsg
	p.mu.Unlock()
	return func() {
		p.mu.Lock()
		p.onMsg = nil
		p.mu.Unlock()
	}, nil
}

func (p *fakeIn) inject(msg []byte) {
	p.mu.Lock()
	cb := p.onMsg
	p.mu.Unlock()
	if cb != nil {
		cb(msg, 0)
	}
}

type fakeOut struct {
	fakePort
	mu   sync.Mutex
	sent [][]byte
}

func (p *fakeOut) Send(data []byte) error {
	p.mu.Lock()
	p.sent = append(p.sent, append([]byte(nil), data...))
	p.mu.Unlock()
	return nil
}

func (p *fakeOut) sentMessages() [][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]byte(nil), p.sent...)
}

type fakeGomidiDriver struct {
	mu     sync.Mutex
	ins    []drivers.In
	outs   []drivers.Out
	closed bool
}

func (d *fakeGomidiDriver) Ins() ([]drivers.In, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]drivers.In(nil), d.ins...), nil
}

func (d *fakeGomidiDriver) Outs() ([]drivers.Out, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]drivers.Out(nil), d.outs...), nil
}

func (d *fakeGomidiDriver) String() string { return "fake gomidi driver" }
func (d *fakeGomidiDriver) Close() error   { d.closed = true; return nil }

func (d *fakeGomidiDriver) OpenVirtualIn(name string) (drivers.In, error) {
	in := &fakeIn{fakePort: fakePort{name: name, open: true}}
	d.mu.Lock()
	d.ins = append(d.ins, in)
	d.mu.Unlock()
	return in, nil
}

func (d *fakeGomidiDriver) OpenVirtualOut(name string) (drivers.Out, error) {
	out := &fakeOut{fakePort: fakePort{name: name, open: true}}
	d.mu.Lock()
	d.outs = append(d.outs, out)
	d.mu.Unlock()
	return out, nil
}

func newTestDriver(gd *fakeGomidiDriver) *Driver {
	return New(gd, &contracts.FabricOptions{
		Logger:     logger.NewNop(),
		ClientName: "fabric under test",
		PPQN:       contracts.DefaultPPQN,
		BPM:        contracts.DefaultBPM,
	})
}

func TestScanMergesDirectionCapabilities(t *testing.T) {
	gd := &fakeGomidiDriver{
		ins:  []drivers.In{&fakeIn{fakePort: fakePort{name: "Synth A"}}},
		outs: []drivers.Out{&fakeOut{fakePort: fakePort{name: "Synth A"}}, &fakeOut{fakePort: fakePort{name: "Sampler B", number: 1}}},
	}
	d := newTestDriver(gd)

	eps, err := d.Scan()
	require.NoError(t, err)
	require.Len(t, eps, 2)

	byName := map[string]contracts.Endpoint{}
	for _, ep := range eps {
		byName[ep.PortName] = ep
	}
	assert.True(t, byName["Synth A"].Caps.FullRead())
	assert.True(t, byName["Synth A"].Caps.FullWrite())
	assert.False(t, byName["Sampler B"].Caps.FullRead())
	assert.True(t, byName["Sampler B"].Caps.FullWrite())

	// Identity is derived from the name, so it survives rescans.
	again, err := d.Scan()
	require.NoError(t, err)
	assert.Equal(t, byName["Synth A"].Client, again[0].Client)
}

func TestSendDrainsRingInOrder(t *testing.T) {
	out := &fakeOut{fakePort: fakePort{name: "Synth A"}}
	gd := &fakeGomidiDriver{outs: []drivers.Out{out}}
	d := newTestDriver(gd)

	eps, err := d.Scan()
	require.NoError(t, err)
	ep := eps[0]
	require.NoError(t, d.Subscribe(contracts.Output, ep))

	msgs := [][]byte{
		{0x90, 60, 100},
		{0x80, 60, 0},
		{0xB0, 7, 127},
	}
	for _, m := range msgs {
		require.NoError(t, d.Send(ep, m, 0))
	}
	assert.Equal(t, msgs, out.sentMessages())
}

func TestSendLargeSysexSurvivesChunking(t *testing.T) {
	out := &fakeOut{fakePort: fakePort{name: "Synth A"}}
	gd := &fakeGomidiDriver{outs: []drivers.Out{out}}
	d := newTestDriver(gd)

	eps, _ := d.Scan()
	require.NoError(t, d.Subscribe(contracts.Output, eps[0]))

	payload := append([]byte{0xF0}, bytes.Repeat([]byte{0x33}, 600)...)
	payload = append(payload, 0xF7)
	require.NoError(t, d.Send(eps[0], payload, 0))

	sent := out.sentMessages()
	require.Len(t, sent, 1)
	assert.True(t, bytes.Equal(payload, sent[0]))
}

func TestSendRejectedOversizeLeavesFramingIntact(t *testing.T) {
	out := &fakeOut{fakePort: fakePort{name: "Synth A"}}
	gd := &fakeGomidiDriver{outs: []drivers.Out{out}}
	d := newTestDriver(gd)

	eps, _ := d.Scan()
	require.NoError(t, d.Subscribe(contracts.Output, eps[0]))

	// Larger than the ring itself; the whole reservation must be refused.
	huge := append([]byte{0xF0}, bytes.Repeat([]byte{0x11}, 4999)...)
	huge = append(huge, 0xF7)
	require.ErrorIs(t, d.Send(eps[0], huge, 0), errRingFull)
	assert.Empty(t, out.sentMessages())

	// The next message must come through byte-exact, not swallowed into a
	// stale frame left behind by the rejected send.
	note := []byte{0x90, 0x3C, 0x64}
	require.NoError(t, d.Send(eps[0], note, 0))
	assert.Equal(t, [][]byte{note}, out.sentMessages())
}

func TestSendRejectsMessagesBeyondFrameLimit(t *testing.T) {
	out := &fakeOut{fakePort: fakePort{name: "Synth A"}}
	gd := &fakeGomidiDriver{outs: []drivers.Out{out}}
	d := newTestDriver(gd)

	eps, _ := d.Scan()
	require.NoError(t, d.Subscribe(contracts.Output, eps[0]))

	tooBig := make([]byte, maxFrameSize+1)
	assert.Error(t, d.Send(eps[0], tooBig, 0))
	assert.Empty(t, out.sentMessages())
}

func TestListenFeedsReceive(t *testing.T) {
	in := &fakeIn{fakePort: fakePort{name: "Keys"}}
	gd := &fakeGomidiDriver{ins: []drivers.In{in}}
	d := newTestDriver(gd)

	eps, _ := d.Scan()
	require.NoError(t, d.Subscribe(contracts.Input, eps[0]))

	in.inject([]byte{0x90, 64, 90})

	n, err := d.Poll(100 * time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	raw, ok := d.Receive()
	require.True(t, ok)
	assert.Equal(t, contracts.RawData, raw.Kind)
	assert.Equal(t, eps[0].Client, raw.Client)
	assert.Equal(t, []byte{0x90, 64, 90}, raw.Data)

	assert.False(t, d.Pending())
	_, ok = d.Receive()
	assert.False(t, ok)
}

func TestPollTimesOutWithoutHanging(t *testing.T) {
	d := newTestDriver(&fakeGomidiDriver{})

	start := time.Now()
	n, err := d.Poll(30 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestPollReturnsAfterClose(t *testing.T) {
	d := newTestDriver(&fakeGomidiDriver{})
	require.NoError(t, d.Close())

	done := make(chan struct{})
	go func() {
		d.Poll(10 * time.Second)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("poll did not return after close")
	}
}

func TestCreateVirtualPorts(t *testing.T) {
	gd := &fakeGomidiDriver{}
	d := newTestDriver(gd)

	ep, err := d.CreateVirtual(contracts.Output, 0, "")
	require.NoError(t, err)
	assert.True(t, ep.Caps.FullWrite())
	assert.Equal(t, "fabric under test", ep.ClientName)

	require.NoError(t, d.Send(ep, []byte{0xC0, 5}, 0))
	out := gd.outs[0].(*fakeOut)
	assert.Equal(t, [][]byte{{0xC0, 5}}, out.sentMessages())

	inEp, err := d.CreateVirtual(contracts.Input, 0, "custom in")
	require.NoError(t, err)
	assert.Equal(t, "custom in", inEp.PortName)
	assert.True(t, inEp.Caps.FullRead())
}

func TestTempoReadModifyWrite(t *testing.T) {
	d := newTestDriver(&fakeGomidiDriver{})

	tempo, err := d.Tempo()
	require.NoError(t, err)
	assert.Equal(t, contracts.DefaultPPQN, tempo.PPQN)
	origMicros := tempo.MicrosPerQuarter

	tempo.PPQN = 96
	require.NoError(t, d.SetTempo(tempo))

	got, err := d.Tempo()
	require.NoError(t, err)
	assert.Equal(t, 96, got.PPQN)
	assert.Equal(t, origMicros, got.MicrosPerQuarter)
}

func TestClockTickStamping(t *testing.T) {
	in := &fakeIn{fakePort: fakePort{name: "Keys"}}
	gd := &fakeGomidiDriver{ins: []drivers.In{in}}
	d := newTestDriver(gd)

	eps, _ := d.Scan()
	require.NoError(t, d.Subscribe(contracts.Input, eps[0]))
	require.NoError(t, d.ContinueClock(1000))

	in.inject([]byte{0x90, 60, 1})
	raw, ok := d.Receive()
	require.True(t, ok)
	assert.GreaterOrEqual(t, raw.Tick, uint64(1000))

	require.NoError(t, d.StopClock())
	stoppedAt := func() uint64 {
		in.inject([]byte{0x90, 61, 1})
		r, ok := d.Receive()
		require.True(t, ok)
		return r.Tick
	}()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stoppedAt, func() uint64 {
		in.inject([]byte{0x90, 62, 1})
		r, ok := d.Receive()
		require.True(t, ok)
		return r.Tick
	}())
}

func TestScanDiffSynthesizesLifecycleEvents(t *testing.T) {
	gd := &fakeGomidiDriver{}
	d := newTestDriver(gd)

	d.rememberScan(false) // baseline: empty

	gd.mu.Lock()
	gd.outs = append(gd.outs, &fakeOut{fakePort: fakePort{name: "Late Synth"}})
	gd.mu.Unlock()
	d.rememberScan(true)

	raw, ok := d.Receive()
	require.True(t, ok)
	assert.Equal(t, contracts.RawPortStart, raw.Kind)
	assert.Equal(t, endpointID("Late Synth"), raw.Client)

	gd.mu.Lock()
	gd.outs = nil
	gd.mu.Unlock()
	d.rememberScan(true)

	raw, ok = d.Receive()
	require.True(t, ok)
	assert.Equal(t, contracts.RawPortExit, raw.Kind)
	assert.Equal(t, endpointID("Late Synth"), raw.Client)
}

func TestDescribe(t *testing.T) {
	gd := &fakeGomidiDriver{outs: []drivers.Out{&fakeOut{fakePort: fakePort{name: "Synth A"}}}}
	d := newTestDriver(gd)

	ep, err := d.Describe(endpointID("Synth A"), 0)
	require.NoError(t, err)
	assert.Equal(t, "Synth A", ep.PortName)

	_, err = d.Describe(12345, 0)
	assert.Error(t, err)
}
