package registry

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leandrodaf/midifabric/sdk/contracts"
)

func endpoint(client, port int) contracts.Endpoint {
	return contracts.Endpoint{
		Client:     client,
		Port:       port,
		ClientName: fmt.Sprintf("client %d", client),
		PortName:   fmt.Sprintf("port %d:%d", client, port),
	}
}

func TestRegisterAssignsStableSequentialIndices(t *testing.T) {
	tbl := New(4, 16)
	for i := 0; i < 3; i++ {
		bus, err := tbl.Register(contracts.Output, endpoint(20+i, 0), false)
		require.NoError(t, err)
		assert.Equal(t, i, bus)
	}
	assert.Equal(t, 3, tbl.Count(contracts.Output))
	assert.Equal(t, 0, tbl.Count(contracts.Input))

	info, err := tbl.Info(contracts.Output, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, info.Bus)
	assert.Equal(t, "client 21", info.ClientName)
	assert.True(t, info.Active)
	assert.True(t, info.Initialized)
}

func TestReplacementReuseReturnsSameIndex(t *testing.T) {
	tbl := New(4, 16)
	bus, err := tbl.Register(contracts.Input, endpoint(24, 0), false)
	require.NoError(t, err)

	require.NoError(t, tbl.Deactivate(contracts.Input, bus))
	info, err := tbl.Info(contracts.Input, bus)
	require.NoError(t, err)
	assert.False(t, info.Active)

	// Same transport identity reconnecting must land on the same slot,
	// never a higher one.
	again, err := tbl.Register(contracts.Input, endpoint(24, 0), false)
	require.NoError(t, err)
	assert.Equal(t, bus, again)
	assert.Equal(t, 1, tbl.Count(contracts.Input))

	info, err = tbl.Info(contracts.Input, bus)
	require.NoError(t, err)
	assert.True(t, info.Active)
}

func TestActiveSlotIsNotReused(t *testing.T) {
	tbl := New(4, 16)
	first, err := tbl.Register(contracts.Output, endpoint(24, 0), false)
	require.NoError(t, err)

	second, err := tbl.Register(contracts.Output, endpoint(24, 0), false)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestCapacityExceeded(t *testing.T) {
	tbl := New(1, 2)
	_, err := tbl.Register(contracts.Output, endpoint(1, 0), false)
	require.NoError(t, err)
	_, err = tbl.Register(contracts.Output, endpoint(2, 0), false)
	require.NoError(t, err)

	_, err = tbl.Register(contracts.Output, endpoint(3, 0), false)
	require.ErrorIs(t, err, contracts.ErrCapacityExceeded)
	// The failed registration is a no-op; existing ports remain usable.
	assert.Equal(t, 2, tbl.Count(contracts.Output))

	// A reusable slot still works at full capacity.
	require.NoError(t, tbl.Deactivate(contracts.Output, 0))
	bus, err := tbl.Register(contracts.Output, endpoint(1, 0), false)
	require.NoError(t, err)
	assert.Equal(t, 0, bus)
}

func TestDeactivateKeepsIdentityQueryable(t *testing.T) {
	tbl := New(4, 16)
	bus, err := tbl.Register(contracts.Input, endpoint(30, 2), false)
	require.NoError(t, err)

	require.NoError(t, tbl.Deactivate(contracts.Input, bus))
	assert.Equal(t, 1, tbl.Count(contracts.Input))

	info, err := tbl.Info(contracts.Input, bus)
	require.NoError(t, err)
	assert.False(t, info.Active)
	assert.Equal(t, "port 30:2", info.PortName)

	found, ok := tbl.Lookup(contracts.Input, 30, 2)
	require.True(t, ok)
	assert.Equal(t, bus, found)
}

func TestInvalidIndex(t *testing.T) {
	tbl := New(4, 16)
	_, err := tbl.Info(contracts.Output, 0)
	assert.ErrorIs(t, err, contracts.ErrInvalidBus)
	assert.ErrorIs(t, tbl.Deactivate(contracts.Output, -1), contracts.ErrInvalidBus)
	assert.ErrorIs(t, tbl.SetFlags(contracts.Input, 5, true, true), contracts.ErrInvalidBus)
}

func TestDirectionsAreIndependent(t *testing.T) {
	tbl := New(4, 16)
	in, err := tbl.Register(contracts.Input, endpoint(40, 0), false)
	require.NoError(t, err)
	out, err := tbl.Register(contracts.Output, endpoint(40, 0), false)
	require.NoError(t, err)
	assert.Equal(t, 0, in)
	assert.Equal(t, 0, out)

	_, ok := tbl.Lookup(contracts.Output, 40, 0)
	assert.True(t, ok)
}

func TestAnnounceSlot(t *testing.T) {
	tbl := New(4, 16)
	_, ok := tbl.Announce()
	assert.False(t, ok)

	tbl.SetAnnounce(contracts.Endpoint{Client: -1, ClientName: "system", PortName: "announce"})
	info, ok := tbl.Announce()
	require.True(t, ok)
	assert.Equal(t, "announce", info.PortName)
	assert.Equal(t, -1, info.Bus) // consumes no bus index
	assert.Equal(t, 0, tbl.Count(contracts.Input))
}
