package ndi

import (
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/require"
)

func TestCollectEntries(t *testing.T) {
	entries := make(chan *zeroconf.ServiceEntry)
	done := collectEntries(entries)

	entries <- &zeroconf.ServiceEntry{
		ServiceRecord: zeroconf.ServiceRecord{Instance: "STUDIO (CAM1)"},
		Port:          5961,
		AddrIPv4:      []net.IP{net.IPv4(10, 0, 0, 5)},
	}
	close(entries)

	sources := <-done
	require.Equal(t, 1, len(sources))
	require.Equal(t, "STUDIO (CAM1)", sources[0].ID)
	require.Equal(t, "10.0.0.5:5961", sources[0].Address)
}

func TestCollectEntriesTerminatesOnClose(t *testing.T) {
	// when the browse fails before producing anything, the entries
	// channel is closed by the caller; the collector must still
	// deliver and terminate instead of blocking forever.
	entries := make(chan *zeroconf.ServiceEntry)
	done := collectEntries(entries)
	close(entries)

	select {
	case sources := <-done:
		require.Nil(t, sources)
	case <-time.After(2 * time.Second):
		t.Error("collector did not terminate")
	}
}
