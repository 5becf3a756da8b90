package fabric

import (
	"github.com/leandrodaf/midifabric/internal/logger"
	"github.com/leandrodaf/midifabric/sdk/contracts"
)

// applyDefaultOptions sets default values for FabricOptions if not
// explicitly provided.
func applyDefaultOptions(opts ...contracts.Option) (contracts.FabricOptions, error) {
	options := &contracts.FabricOptions{}
	for _, opt := range opts {
		opt(options)
	}

	if options.Logger == nil {
		options.Logger = logger.NewZapLogger()
	}
	if options.LogLevel == 0 {
		options.LogLevel = contracts.InfoLevel
	}
	if options.Transport == "" {
		options.Transport = contracts.TransportClient
	}
	if options.ClientName == "" {
		options.ClientName = "midifabric"
	}
	if options.VirtualOutputs <= 0 {
		options.VirtualOutputs = contracts.DefaultOutputCapacity
	}
	if options.VirtualInputs <= 0 {
		options.VirtualInputs = contracts.DefaultVirtualInputs
	}
	if options.OutputCapacity <= 0 {
		options.OutputCapacity = contracts.DefaultOutputCapacity
	}
	if options.InputCapacity <= 0 {
		options.InputCapacity = contracts.DefaultInputCapacity
	}
	if options.PPQN <= 0 {
		options.PPQN = contracts.DefaultPPQN
	}
	if options.BPM <= 0 {
		options.BPM = contracts.DefaultBPM
	}
	if options.PollTimeout <= 0 {
		options.PollTimeout = contracts.DefaultPollTimeout
	}
	if options.ManualPorts && options.VirtualOutputs > options.OutputCapacity {
		options.VirtualOutputs = options.OutputCapacity
	}

	options.Logger.SetLevel(options.LogLevel)
	return *options, nil
}
