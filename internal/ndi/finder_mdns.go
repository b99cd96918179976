package ndi

import (
	"context"
	"strconv"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsService = "_ndi._tcp"
	mdnsDomain  = "local."
)

// MDNSFinder is a Finder that browses for NDI sources via mDNS.
// It does not require the native SDK.
type MDNSFinder struct{}

// NewMDNSFinder allocates a MDNSFinder.
func NewMDNSFinder() *MDNSFinder {
	return &MDNSFinder{}
}

// Close implements Finder.
func (f *MDNSFinder) Close() {
}

// Find implements Finder.
func (f *MDNSFinder) Find(ctx context.Context) ([]Source, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, err
	}

	entries := make(chan *zeroconf.ServiceEntry)
	done := collectEntries(entries)

	err = resolver.Browse(ctx, mdnsService, mdnsDomain, entries)
	if err != nil {
		// the resolver never took ownership of entries; close it
		// ourselves so the collector terminates.
		close(entries)
		<-done
		return nil, err
	}

	<-ctx.Done()

	return <-done, nil
}

// collectEntries consumes discovered entries until the channel is
// closed, then delivers the accumulated sources. The returned channel
// is buffered so the collector always terminates even when nobody
// reads the result.
func collectEntries(entries <-chan *zeroconf.ServiceEntry) <-chan []Source {
	done := make(chan []Source, 1)

	go func() {
		var sources []Source
		now := time.Now()

		for entry := range entries {
			src := Source{
				ID:       entry.Instance,
				Name:     entry.Instance,
				LastSeen: now,
			}

			if len(entry.AddrIPv4) > 0 {
				src.Address = entry.AddrIPv4[0].String() + ":" + strconv.Itoa(entry.Port)
			}

			sources = append(sources, src)
		}

		done <- sources
	}()

	return done
}
