package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/leandrodaf/midifabric/internal/logger"
	"github.com/leandrodaf/midifabric/sdk/contracts"
	"github.com/leandrodaf/midifabric/sdk/fabric"
)

func main() {
	log := logger.NewZapLogger()

	fab, err := fabric.New(
		contracts.WithLogger(log),
		contracts.WithLogLevel(contracts.InfoLevel),
		contracts.WithTransport(contracts.TransportClient),
		contracts.WithClientName("midifabric demo"),
		contracts.WithTempo(contracts.DefaultPPQN, 120),
	)
	if err != nil {
		// No MIDI I/O can proceed without a transport handle.
		log.Fatal("failed to open MIDI transport", log.Field().Error("error", err))
	}
	defer fab.Close()

	if err := fab.Initialize(0, 0); err != nil {
		log.Fatal("failed to initialize fabric", log.Field().Error("error", err))
	}

	for _, d := range []contracts.Direction{contracts.Input, contracts.Output} {
		for i := 0; i < fab.PortCount(d); i++ {
			info, _ := fab.PortInfo(d, i)
			fmt.Printf("%s %d: %s / %s (active=%v)\n",
				d, info.Bus, info.ClientName, info.PortName, info.Active)
		}
	}

	if err := fab.Start(); err != nil {
		log.Fatal("failed to start clock", log.Field().Error("error", err))
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		for {
			if !fab.PollForMIDI() {
				continue // bounded wait timed out, retry
			}
			for fab.IsMoreInput() {
				ev, ok := fab.GetNextEvent()
				if !ok {
					continue
				}
				log.Info("MIDI event",
					log.Field().Int("bus", ev.Bus),
					log.Field().Uint64("tick", ev.Tick),
					log.Field().Uint8("status", ev.Status),
					log.Field().Uint8("data1", ev.Data[0]),
					log.Field().Uint8("data2", ev.Data[1]))
			}
		}
	}()

	fmt.Println("Listening for MIDI events... Press Ctrl+C to exit.")
	<-done
	fab.Stop()
}
