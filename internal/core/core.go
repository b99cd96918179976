// Package core contains the main struct of the software.
package core

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"

	"github.com/alecthomas/kong"
	"github.com/gin-gonic/gin"

	"github.com/moschopsuk/ndi-router/internal/conf"
	"github.com/moschopsuk/ndi-router/internal/confwatcher"
	"github.com/moschopsuk/ndi-router/internal/logger"
	"github.com/moschopsuk/ndi-router/internal/routing"
)

var version = "v0.0.0"

var cli struct {
	Version  bool   `help:"print version"`
	Confpath string `arg:"" default:"ndi-router.yml"`
}

// Core is an instance of ndi-router.
type Core struct {
	ctx            context.Context
	ctxCancel      func()
	confPath       string
	conf           *conf.Conf
	confFound      bool
	logger         *logger.Logger
	table          *routing.Table
	registry       *routing.Registry
	finder         *ndiFinder
	forwarder      *ndiForwarder
	videohubServer *videohubServer
	api            *api
	metrics        *metrics
	pprof          *pprof
	confWatcher    *confwatcher.ConfWatcher

	// out
	done chan struct{}
}

// New allocates a Core.
func New(args []string) (*Core, bool) {
	parser, err := kong.New(&cli,
		kong.Description("ndi-router "+version),
		kong.UsageOnError(),
		kong.ValueFormatter(func(value *kong.Value) string {
			switch value.Name {
			case "confpath":
				return "path to a config file. The default is ndi-router.yml."

			default:
				return kong.DefaultHelpValueFormatter(value)
			}
		}))
	if err != nil {
		panic(err)
	}

	_, err = parser.Parse(args)
	parser.FatalIfErrorf(err)

	if cli.Version {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, ctxCancel := context.WithCancel(context.Background())

	p := &Core{
		ctx:       ctx,
		ctxCancel: ctxCancel,
		confPath:  cli.Confpath,
		done:      make(chan struct{}),
	}

	p.conf, p.confFound, err = conf.Load(p.confPath)
	if err != nil {
		fmt.Printf("ERR: %s\n", err)
		return nil, false
	}

	err = p.createResources(true)
	if err != nil {
		if p.logger != nil {
			p.Log(logger.Error, "%s", err)
		} else {
			fmt.Printf("ERR: %s\n", err)
		}
		p.closeResources(nil)
		return nil, false
	}

	go p.run()

	return p, true
}

// Close closes Core and waits for all goroutines to return.
func (p *Core) Close() {
	p.ctxCancel()
	<-p.done
}

// Wait waits for the Core to exit.
func (p *Core) Wait() {
	<-p.done
}

// Log is the main logging function.
func (p *Core) Log(level logger.Level, format string, args ...interface{}) {
	p.logger.Log(level, format, args...)
}

func (p *Core) run() {
	defer close(p.done)

	confChanged := func() chan struct{} {
		if p.confWatcher != nil {
			return p.confWatcher.Watch()
		}
		return make(chan struct{})
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

outer:
	for {
		select {
		case <-confChanged:
			p.Log(logger.Info, "reloading configuration (file changed)")

			newConf, _, err := conf.Load(p.confPath)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				break outer
			}

			err = p.reloadConf(newConf)
			if err != nil {
				p.Log(logger.Error, "%s", err)
				break outer
			}

		case <-interrupt:
			p.Log(logger.Info, "shutting down gracefully")
			break outer

		case <-p.ctx.Done():
			break outer
		}
	}

	p.ctxCancel()

	p.closeResources(nil)

	if p.confWatcher != nil {
		p.confWatcher.Close()
		p.confWatcher = nil
	}
}

func (p *Core) createResources(initial bool) error {
	var err error

	if p.logger == nil {
		p.logger, err = logger.New(
			logger.Level(p.conf.LogLevel),
			p.conf.LogDestinations,
			p.conf.LogFile)
		if err != nil {
			return err
		}
	}

	if initial {
		p.Log(logger.Info, "ndi-router %s", version)

		if !p.confFound {
			p.Log(logger.Warn, "configuration file not found, using the default one")
		}

		gin.SetMode(gin.ReleaseMode)
	}

	if p.table == nil {
		p.table = routing.NewTable(p.conf.VideoOutputs, p.conf.VideoInputs)
	}

	if p.registry == nil {
		p.registry = routing.NewRegistry(p.conf.VideoInputs)
	}

	if p.finder == nil {
		p.finder, err = newNDIFinder(
			p.ctx,
			p.conf.DiscoveryInterval,
			p.conf.NDIGroups,
			p.conf.NDIExtraIPs,
			p.registry,
			p)
		if err != nil {
			return err
		}
	}

	if p.forwarder == nil {
		p.forwarder, err = newNDIForwarder(
			p.ctx,
			p.conf.DeviceName,
			p.conf.NDIGroups,
			p.table,
			p.registry,
			p)
		if err != nil {
			return err
		}
	}

	if p.videohubServer == nil {
		p.videohubServer, err = newVideohubServer(
			p.ctx,
			p.conf.ListenAddress,
			p.conf.DeviceName,
			p.conf.WriteQueueSize,
			p.table,
			p.registry,
			p)
		if err != nil {
			return err
		}
	}

	if p.conf.API && p.api == nil {
		p.api, err = newAPI(
			p.conf.APIAddress,
			p.table,
			p.registry,
			p.videohubServer,
			p)
		if err != nil {
			return err
		}
	}

	if p.conf.Metrics && p.metrics == nil {
		p.metrics, err = newMetrics(
			p.conf.MetricsAddress,
			p.table,
			p.registry,
			p.videohubServer,
			p)
		if err != nil {
			return err
		}
	}

	if p.conf.PPROF && p.pprof == nil {
		p.pprof, err = newPPROF(
			p.conf.PPROFAddress,
			p)
		if err != nil {
			return err
		}
	}

	if initial && p.confFound {
		p.confWatcher, err = confwatcher.New(p.confPath)
		if err != nil {
			return err
		}
	}

	return nil
}

func (p *Core) closeResources(newConf *conf.Conf) {
	closeLogger := newConf == nil ||
		newConf.LogLevel != p.conf.LogLevel ||
		!reflect.DeepEqual(newConf.LogDestinations, p.conf.LogDestinations) ||
		newConf.LogFile != p.conf.LogFile

	closeTable := newConf == nil ||
		newConf.VideoOutputs != p.conf.VideoOutputs ||
		newConf.VideoInputs != p.conf.VideoInputs

	closeFinder := closeTable ||
		newConf.DiscoveryInterval != p.conf.DiscoveryInterval ||
		newConf.NDIGroups != p.conf.NDIGroups ||
		!reflect.DeepEqual(newConf.NDIExtraIPs, p.conf.NDIExtraIPs)

	closeForwarder := closeTable ||
		newConf.DeviceName != p.conf.DeviceName ||
		newConf.NDIGroups != p.conf.NDIGroups

	closeVideohubServer := closeTable ||
		newConf.ListenAddress != p.conf.ListenAddress ||
		newConf.DeviceName != p.conf.DeviceName ||
		newConf.WriteQueueSize != p.conf.WriteQueueSize

	closeAPI := closeTable || closeVideohubServer ||
		newConf.API != p.conf.API ||
		newConf.APIAddress != p.conf.APIAddress

	closeMetrics := closeTable || closeVideohubServer ||
		newConf.Metrics != p.conf.Metrics ||
		newConf.MetricsAddress != p.conf.MetricsAddress

	closePPROF := newConf == nil ||
		newConf.PPROF != p.conf.PPROF ||
		newConf.PPROFAddress != p.conf.PPROFAddress

	if closePPROF && p.pprof != nil {
		p.pprof.close()
		p.pprof = nil
	}

	if closeMetrics && p.metrics != nil {
		p.metrics.close()
		p.metrics = nil
	}

	if closeAPI && p.api != nil {
		p.api.close()
		p.api = nil
	}

	if closeVideohubServer && p.videohubServer != nil {
		p.videohubServer.close()
		p.videohubServer = nil
	}

	if closeForwarder && p.forwarder != nil {
		p.forwarder.close()
		p.forwarder = nil
	}

	if closeFinder && p.finder != nil {
		p.finder.close()
		p.finder = nil
	}

	if closeTable && p.registry != nil {
		p.registry.Close()
		p.registry = nil
	}

	if closeTable && p.table != nil {
		p.table.Close()
		p.table = nil
	}

	if closeLogger && p.logger != nil {
		p.logger.Close()
		p.logger = nil
	}
}

func (p *Core) reloadConf(newConf *conf.Conf) error {
	p.closeResources(newConf)
	p.conf = newConf
	return p.createResources(false)
}
