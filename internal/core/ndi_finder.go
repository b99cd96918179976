package core

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/moschopsuk/ndi-router/internal/logger"
	"github.com/moschopsuk/ndi-router/internal/ndi"
	"github.com/moschopsuk/ndi-router/internal/routing"
)

type ndiFinderParent interface {
	Log(logger.Level, string, ...interface{})
}

// ndiFinder periodically discovers sources and reconciles the registry.
// It prefers the native SDK and falls back to mDNS browsing.
type ndiFinder struct {
	interval time.Duration
	finder   ndi.Finder
	registry *routing.Registry
	parent   ndiFinderParent

	ctx       context.Context
	ctxCancel func()
	done      chan struct{}

	// discovery failures repeat every cycle; rate-limit the warnings.
	failLogger logger.Writer
}

func newNDIFinder(
	parentCtx context.Context,
	interval time.Duration,
	groups string,
	extraIPs []string,
	registry *routing.Registry,
	parent ndiFinderParent,
) (*ndiFinder, error) {
	var finder ndi.Finder
	finder, err := ndi.NewNativeFinder(groups, strings.Join(extraIPs, ","))
	if err != nil {
		if !errors.Is(err, ndi.ErrSDKUnavailable) {
			return nil, err
		}
		finder = ndi.NewMDNSFinder()
	}

	ctx, ctxCancel := context.WithCancel(parentCtx)

	f := &ndiFinder{
		interval:  interval,
		finder:    finder,
		registry:  registry,
		parent:    parent,
		ctx:       ctx,
		ctxCancel: ctxCancel,
		done:      make(chan struct{}),
	}
	f.failLogger = logger.NewLimitedLogger(f)

	if err != nil {
		f.Log(logger.Info, "SDK not available, using mDNS discovery")
	}

	go f.run()

	return f, nil
}

func (f *ndiFinder) Log(level logger.Level, format string, args ...interface{}) {
	f.parent.Log(level, "[NDI] "+format, args...)
}

func (f *ndiFinder) close() {
	f.ctxCancel()
	<-f.done
	f.finder.Close()
}

func (f *ndiFinder) run() {
	defer close(f.done)

	for {
		cycleCtx, cycleCancel := context.WithTimeout(f.ctx, f.interval)
		sources, err := f.finder.Find(cycleCtx)
		cycleCancel()

		select {
		case <-f.ctx.Done():
			return
		default:
		}

		if err != nil {
			// discovery failures are never fatal; keep trying.
			f.failLogger.Log(logger.Warn, "discovery failed: %s", err)

			select {
			case <-time.After(f.interval):
				continue
			case <-f.ctx.Done():
				return
			}
		}

		f.registry.Sync(sources)
	}
}
