package contracts

import "time"

// Transport selects which backend driver model the fabric runs on.
type Transport string

const (
	// TransportQueue is the centralized-queue model: one process-wide handle
	// owns the scheduling queue and all ports share it.
	TransportQueue Transport = "queue"
	// TransportClient is the per-client model: each port owns its own
	// transport client and outbound ring buffer.
	TransportClient Transport = "client"
)

// Default musical and capacity constants. The output capacity of 16 is the
// historical virtual-port count of the sequencer this fabric serves.
const (
	DefaultPPQN           = 192
	DefaultBPM            = 120
	DefaultOutputCapacity = 16
	DefaultInputCapacity  = 4
	DefaultVirtualInputs  = 1
	DefaultPollTimeout    = time.Second
)

// FabricOptions defines the configuration of the fabric. It is an explicit
// value handed over at construction; the fabric reads no ambient globals.
type FabricOptions struct {
	Logger   Logger
	LogLevel LogLevel

	Transport  Transport // backend driver model
	ClientName string    // name the fabric's transport client registers under

	ManualPorts    bool // skip discovery, create virtual ports directly
	VirtualOutputs int  // virtual output count in manual mode
	VirtualInputs  int  // virtual input count in manual mode
	OutputCapacity int  // output bus table capacity
	InputCapacity  int  // input bus table capacity

	PPQN int
	BPM  int

	PollTimeout time.Duration // bounded wait of one poll cycle

	ClockOut    map[int]bool // per-bus initial clock enable, by bus index
	InputEnable map[int]bool // per-bus initial input enable, by bus index
}

// Option is a function that modifies FabricOptions.
type Option func(*FabricOptions)

// WithLogger sets the logger for the fabric.
func WithLogger(l Logger) Option {
	return func(opts *FabricOptions) {
		opts.Logger = l
	}
}

// WithLogLevel sets the logging level for the fabric.
func WithLogLevel(level LogLevel) Option {
	return func(opts *FabricOptions) {
		opts.LogLevel = level
	}
}

// WithTransport selects the backend driver model.
func WithTransport(t Transport) Option {
	return func(opts *FabricOptions) {
		opts.Transport = t
	}
}

// WithClientName sets the name the fabric registers with the transport.
func WithClientName(name string) Option {
	return func(opts *FabricOptions) {
		opts.ClientName = name
	}
}

// WithManualPorts enables manual-port mode with the given virtual output
// count. Discovery is skipped entirely in this mode.
func WithManualPorts(outputs int) Option {
	return func(opts *FabricOptions) {
		opts.ManualPorts = true
		opts.VirtualOutputs = outputs
	}
}

// WithCapacity bounds the two bus tables.
func WithCapacity(inputs, outputs int) Option {
	return func(opts *FabricOptions) {
		opts.InputCapacity = inputs
		opts.OutputCapacity = outputs
	}
}

// WithTempo sets the initial PPQN and BPM of the shared clock.
func WithTempo(ppqn, bpm int) Option {
	return func(opts *FabricOptions) {
		opts.PPQN = ppqn
		opts.BPM = bpm
	}
}

// WithPollTimeout bounds the readiness wait of one poll cycle.
func WithPollTimeout(d time.Duration) Option {
	return func(opts *FabricOptions) {
		opts.PollTimeout = d
	}
}

// WithPortFlags supplies the per-bus initial clock and input enable flags.
func WithPortFlags(clockOut, inputEnable map[int]bool) Option {
	return func(opts *FabricOptions) {
		opts.ClockOut = clockOut
		opts.InputEnable = inputEnable
	}
}
