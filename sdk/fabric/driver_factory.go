package fabric

import (
	"fmt"

	"gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/leandrodaf/midifabric/internal/driver/clientdrv"
	"github.com/leandrodaf/midifabric/internal/driver/queuedrv"
	"github.com/leandrodaf/midifabric/sdk/contracts"
)

// driverInitializers maps transport kinds to backend driver constructors.
var driverInitializers = map[contracts.Transport]func(*contracts.FabricOptions) (contracts.Driver, error){
	contracts.TransportQueue:  newQueueDriver,
	contracts.TransportClient: newClientDriver,
}

// newDriver selects the backend driver model for the configured transport,
// returning contracts.ErrUnsupportedTransport for unknown kinds.
func newDriver(opts *contracts.FabricOptions) (contracts.Driver, error) {
	if initializer, exists := driverInitializers[opts.Transport]; exists {
		return initializer(opts)
	}
	return nil, fmt.Errorf("%w: %q", contracts.ErrUnsupportedTransport, opts.Transport)
}

func newQueueDriver(opts *contracts.FabricOptions) (contracts.Driver, error) {
	return queuedrv.New(opts), nil
}

func newClientDriver(opts *contracts.FabricOptions) (contracts.Driver, error) {
	drv, err := rtmididrv.New()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", contracts.ErrTransportOpen, err)
	}
	return clientdrv.New(drv, opts), nil
}
