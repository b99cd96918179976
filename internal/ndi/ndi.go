// Package ndi provides access to NDI source discovery and stream routing.
package ndi

import (
	"context"
	"errors"
	"time"
)

// ErrSDKUnavailable is returned when the native NDI SDK
// is not compiled in.
var ErrSDKUnavailable = errors.New("NDI SDK support is not compiled in")

// Source is a video source visible on the network.
type Source struct {
	// stable identifier (the full NDI name).
	ID string

	// display name.
	Name string

	// network address (host:port).
	Address string

	// time of the last discovery that included the source.
	LastSeen time.Time
}

// Finder discovers sources on the network.
// Find blocks for at most the duration of the passed context
// and returns the sources currently visible.
type Finder interface {
	Find(ctx context.Context) ([]Source, error)
	Close()
}

// Router rebinds the stream behind an output to a source.
// A nil source clears the output.
// Route may block and must be called off latency-sensitive paths.
type Router interface {
	Route(output int, source *Source) error
	Close()
}
