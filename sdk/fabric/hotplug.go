package fabric

import "github.com/leandrodaf/midifabric/sdk/contracts"

// handleLifecycle is the hot-plug state machine. It runs on the poller
// goroutine; every registry mutation below takes the same lock as any reader
// listing ports.
func (f *Fabric) handleLifecycle(raw contracts.RawEvent) {
	switch raw.Kind {
	case contracts.RawPortStart:
		f.portStart(raw.Client, raw.Port)
	case contracts.RawPortExit:
		f.portExit(raw.Client, raw.Port)
	case contracts.RawPortChange:
		// Acknowledged, no state mutation.
		f.logger.Debug("port change",
			f.logger.Field().Int("client", raw.Client),
			f.logger.Field().Int("port", raw.Port))
	}
}

// portStart queries the announced port and registers it. Registration here
// requires both the base and subscription capability bits, unlike initial
// discovery. A port granting both pairs lands in both tables. Slot
// assignment prefers a replacement slot whose recorded identity matches and
// which is inactive; otherwise a new slot is appended.
func (f *Fabric) portStart(client, port int) {
	if client == f.driver.ClientID() {
		return // self-originated port, never connect the fabric to itself
	}
	ep, err := f.driver.Describe(client, port)
	if err != nil {
		f.logger.Debug("announced port vanished before query",
			f.logger.Field().Int("client", client),
			f.logger.Field().Int("port", port))
		return
	}

	if ep.Caps.FullWrite() {
		f.registerAndSubscribe(contracts.Output, ep)
	}
	if ep.Caps.FullRead() {
		f.registerAndSubscribe(contracts.Input, ep)
	}

	// The backend's readiness-notification set changed with the port set.
	if err := f.driver.RebuildPollSet(); err != nil {
		f.logger.Warn("poll set rebuild failed",
			f.logger.Field().Error("error", err))
	}

	f.logger.Info("port started",
		f.logger.Field().String("client", ep.ClientName),
		f.logger.Field().String("port", ep.PortName))
}

// portExit deactivates the matching slot in both tables. The slots are not
// removed; bus indices already handed to callers stay valid references.
func (f *Fabric) portExit(client, port int) {
	for _, d := range []contracts.Direction{contracts.Input, contracts.Output} {
		if bus, ok := f.buses.Lookup(d, client, port); ok {
			if err := f.buses.Deactivate(d, bus); err == nil {
				f.logger.Info("port exited",
					f.logger.Field().String("direction", d.String()),
					f.logger.Field().Int("bus", bus))
			}
		}
	}
}
