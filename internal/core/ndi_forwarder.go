package core

import (
	"context"
	"errors"
	"time"

	"github.com/moschopsuk/ndi-router/internal/logger"
	"github.com/moschopsuk/ndi-router/internal/ndi"
	"github.com/moschopsuk/ndi-router/internal/routing"
)

const (
	forwarderRetryInitial = 500 * time.Millisecond
	forwarderRetryMax     = 30 * time.Second
	forwarderQueueSize    = 1024
)

type ndiForwarderParent interface {
	Log(logger.Level, string, ...interface{})
}

// ndiForwarder keeps the stream forwarding aligned with the routing table.
// It runs off the session executors: the routing calls may block without
// delaying protocol responsiveness, and they hold no table lock while in
// flight. Failures are retried with exponential backoff and never touch
// the table's own state.
type ndiForwarder struct {
	router   ndi.Router
	table    *routing.Table
	registry *routing.Registry
	parent   ndiForwarderParent

	ctx       context.Context
	ctxCancel func()
	done      chan struct{}

	// last applied source per output, "" when cleared.
	// keyed comparison makes event re-delivery idempotent.
	lastApplied map[int]string

	backoff map[int]time.Duration
	retryAt map[int]time.Time
}

func newNDIForwarder(
	parentCtx context.Context,
	deviceName string,
	groups string,
	table *routing.Table,
	registry *routing.Registry,
	parent ndiForwarderParent,
) (*ndiForwarder, error) {
	// leave the interface nil when the SDK is absent, a typed nil
	// pointer would defeat the router == nil checks below.
	var router ndi.Router
	nativeRouter, err := ndi.NewNativeRouter(deviceName, groups)
	switch {
	case err == nil:
		router = nativeRouter
	case !errors.Is(err, ndi.ErrSDKUnavailable):
		return nil, err
	}

	ctx, ctxCancel := context.WithCancel(parentCtx)

	fw := &ndiForwarder{
		router:      router,
		table:       table,
		registry:    registry,
		parent:      parent,
		ctx:         ctx,
		ctxCancel:   ctxCancel,
		done:        make(chan struct{}),
		lastApplied: make(map[int]string),
		backoff:     make(map[int]time.Duration),
		retryAt:     make(map[int]time.Time),
	}

	if router == nil {
		fw.Log(logger.Info, "SDK not available, forwarding is disabled")
	}

	go fw.run()

	return fw, nil
}

func (fw *ndiForwarder) Log(level logger.Level, format string, args ...interface{}) {
	fw.parent.Log(level, "[forwarder] "+format, args...)
}

func (fw *ndiForwarder) close() {
	fw.ctxCancel()
	<-fw.done
	if fw.router != nil {
		fw.router.Close()
	}
}

func (fw *ndiForwarder) run() {
	defer close(fw.done)

	tableSub := fw.table.Subscribe(forwarderQueueSize)
	registrySub := fw.registry.Subscribe(forwarderQueueSize)

	fw.resync()

	retryTicker := time.NewTicker(forwarderRetryInitial)
	defer retryTicker.Stop()

outer:
	for {
		select {
		case ev, ok := <-tableSub.C:
			if !ok {
				tableSub = fw.table.Subscribe(forwarderQueueSize)
				fw.resync()
				continue
			}

			if v, ok := ev.(routing.EventRouting); ok {
				fw.apply(v.Output)
			}

		case ev, ok := <-registrySub.C:
			if !ok {
				registrySub = fw.registry.Subscribe(forwarderQueueSize)
				fw.resync()
				continue
			}

			if v, ok := ev.(routing.EventSource); ok {
				// a slot changed hands; every output routed to it
				// must be re-applied.
				fw.applySlot(v.Input)
			}

		case <-retryTicker.C:
			now := time.Now()
			for output, at := range fw.retryAt {
				if now.After(at) {
					delete(fw.retryAt, output)
					fw.apply(output)
				}
			}

		case <-fw.ctx.Done():
			break outer
		}
	}

	fw.table.Unsubscribe(tableSub)
	fw.registry.Unsubscribe(registrySub)
}

// resync re-applies the whole table.
func (fw *ndiForwarder) resync() {
	_, outputs := fw.table.Snapshot()
	for i := range outputs {
		fw.apply(i)
	}
}

func (fw *ndiForwarder) applySlot(input int) {
	_, outputs := fw.table.Snapshot()
	for i, out := range outputs {
		if out.Input == input {
			fw.apply(i)
		}
	}
}

// apply drives the external routing capability towards the current
// table state of one output. Re-applying an already realized state
// performs no work.
func (fw *ndiForwarder) apply(output int) {
	_, outputs := fw.table.Snapshot()
	if output < 0 || output >= len(outputs) {
		return
	}

	var source *ndi.Source
	if in := outputs[output].Input; in != routing.Unrouted {
		source = fw.registry.Resolve(in)
	}

	want := ""
	if source != nil {
		want = source.ID
	}

	if applied, ok := fw.lastApplied[output]; ok && applied == want {
		return
	}

	if fw.router == nil {
		fw.lastApplied[output] = want
		return
	}

	err := fw.router.Route(output, source)
	if err != nil {
		backoff := fw.backoff[output]
		if backoff == 0 {
			backoff = forwarderRetryInitial
		} else {
			backoff *= 2
			if backoff > forwarderRetryMax {
				backoff = forwarderRetryMax
			}
		}
		fw.backoff[output] = backoff
		fw.retryAt[output] = time.Now().Add(backoff)

		fw.Log(logger.Warn, "cannot route output %d: %s (retrying in %v)", output, err, backoff)
		return
	}

	delete(fw.backoff, output)
	delete(fw.retryAt, output)
	fw.lastApplied[output] = want

	if source != nil {
		fw.Log(logger.Info, "output %d routed to '%s'", output, source.ID)
	} else {
		fw.Log(logger.Info, "output %d cleared", output)
	}
}
