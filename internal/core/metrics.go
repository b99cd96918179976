package core

import (
	"context"
	"io"
	"net"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/moschopsuk/ndi-router/internal/logger"
	"github.com/moschopsuk/ndi-router/internal/routing"
)

func metric(key string, value int64) string {
	return key + " " + strconv.FormatInt(value, 10) + "\n"
}

type metricsVideohubServer interface {
	onAPISessionsList(req videohubServerAPISessionsListReq) videohubServerAPISessionsListRes
}

type metricsParent interface {
	Log(logger.Level, string, ...interface{})
}

type metrics struct {
	table          *routing.Table
	registry       *routing.Registry
	videohubServer metricsVideohubServer
	parent         metricsParent

	ln     net.Listener
	server *http.Server
}

func newMetrics(
	address string,
	table *routing.Table,
	registry *routing.Registry,
	videohubServer metricsVideohubServer,
	parent metricsParent,
) (*metrics, error) {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	m := &metrics{
		table:          table,
		registry:       registry,
		videohubServer: videohubServer,
		parent:         parent,
		ln:             ln,
	}

	router := gin.New()
	router.SetTrustedProxies(nil) //nolint:errcheck
	router.GET("/metrics", m.onMetrics)

	m.server = &http.Server{Handler: router}

	m.log(logger.Info, "listener opened on "+address)

	go m.run()

	return m, nil
}

func (m *metrics) close() {
	m.server.Shutdown(context.Background()) //nolint:errcheck
	m.ln.Close()
}

func (m *metrics) log(level logger.Level, format string, args ...interface{}) {
	m.parent.Log(level, "[metrics] "+format, args...)
}

func (m *metrics) run() {
	err := m.server.Serve(m.ln)
	if err != http.ErrServerClosed {
		panic(err)
	}
}

func (m *metrics) onMetrics(ctx *gin.Context) {
	out := ""

	generation, outputs := m.table.Snapshot()

	routed := int64(0)
	locked := int64(0)
	for _, o := range outputs {
		if o.Input != routing.Unrouted {
			routed++
		}
		if o.LockOwner != uuid.Nil {
			locked++
		}
	}

	out += metric("routing_generation", int64(generation))
	out += metric("outputs_routed", routed)
	out += metric("outputs_locked", locked)

	sources := int64(0)
	for _, in := range m.registry.Snapshot() {
		if in.Source != nil {
			sources++
		}
	}
	out += metric("sources", sources)

	res := m.videohubServer.onAPISessionsList(videohubServerAPISessionsListReq{})
	if res.err == nil {
		out += metric("sessions", int64(len(res.sessions)))
	}

	ctx.Writer.WriteHeader(http.StatusOK)
	io.WriteString(ctx.Writer, out) //nolint:errcheck
}
