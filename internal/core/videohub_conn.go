package core

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gortsplib/v4/pkg/ringbuffer"
	"github.com/google/uuid"

	"github.com/moschopsuk/ndi-router/internal/logger"
	"github.com/moschopsuk/ndi-router/internal/routing"
)

const (
	videohubConnWriteTimeout = 10 * time.Second
)

type videohubConnState int

const (
	videohubConnStateGreeting videohubConnState = iota
	videohubConnStateEstablished
	videohubConnStateClosed
)

type videohubConnParent interface {
	log(logger.Level, string, ...interface{})
	connClose(*videohubConn)
}

// videohubConn is a single control session. The read loop parses command
// blocks and applies them to the table; a separate write loop drains the
// bounded outbound queue. The session never answers its own requests:
// clients observe changes only through the broadcast mechanism.
type videohubConn struct {
	deviceName string
	table      *routing.Table
	registry   *routing.Registry
	wg         *sync.WaitGroup
	nconn      net.Conn
	parent     videohubConnParent

	ctx        context.Context
	ctxCancel  func()
	uuid       uuid.UUID
	created    time.Time
	state      videohubConnState
	stateMutex sync.Mutex

	// outbound queue. Items are either preformatted strings or
	// routing.EventLock values, rendered per session by the write loop.
	queue *ringbuffer.RingBuffer
}

func newVideohubConn(
	parentCtx context.Context,
	deviceName string,
	queueSize int,
	table *routing.Table,
	registry *routing.Registry,
	wg *sync.WaitGroup,
	nconn net.Conn,
	parent videohubConnParent,
) *videohubConn {
	ctx, ctxCancel := context.WithCancel(parentCtx)

	queue, _ := ringbuffer.New(uint64(queueSize))

	c := &videohubConn{
		deviceName: deviceName,
		table:      table,
		registry:   registry,
		wg:         wg,
		nconn:      nconn,
		parent:     parent,
		ctx:        ctx,
		ctxCancel:  ctxCancel,
		uuid:       uuid.New(),
		created:    time.Now(),
		state:      videohubConnStateGreeting,
		queue:      queue,
	}

	c.log(logger.Info, "opened")

	// the greeting dump is enqueued before the server starts
	// broadcasting to this session, so the first bytes on the wire
	// always describe a complete table generation.
	c.enqueueDump()

	c.wg.Add(1)
	go c.run()

	return c
}

func (c *videohubConn) close() {
	c.ctxCancel()
}

func (c *videohubConn) remoteAddr() net.Addr {
	return c.nconn.RemoteAddr()
}

func (c *videohubConn) log(level logger.Level, format string, args ...interface{}) {
	c.parent.log(level, "[conn %v] "+format, append([]interface{}{c.nconn.RemoteAddr()}, args...)...)
}

func (c *videohubConn) safeState() videohubConnState {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	return c.state
}

func (c *videohubConn) setState(s videohubConnState) {
	c.stateMutex.Lock()
	defer c.stateMutex.Unlock()
	c.state = s
}

func (c *videohubConn) run() {
	defer c.wg.Done()

	err := c.runInner()

	c.ctxCancel()
	c.queue.Close()
	c.nconn.Close()

	c.setState(videohubConnStateClosed)

	// locks must be released before the session is discarded,
	// otherwise a disconnect would leave outputs permanently locked.
	c.table.ReleaseAll(c.uuid)

	c.parent.connClose(c)

	c.log(logger.Info, "closed (%v)", err)
}

func (c *videohubConn) runInner() error {
	writeErr := make(chan error)
	go func() {
		writeErr <- c.runWriter()
	}()

	readErr := make(chan error)
	go func() {
		readErr <- c.runReader()
	}()

	var err error
	select {
	case err = <-writeErr:
		c.nconn.Close()
		<-readErr

	case err = <-readErr:
		c.queue.Close()
		<-writeErr

	case <-c.ctx.Done():
		c.nconn.Close()
		c.queue.Close()
		<-readErr
		<-writeErr
		err = errTerminated
	}

	return err
}

// runWriter drains the outbound queue.
// It blocks only on this session's own socket, never on the table.
func (c *videohubConn) runWriter() error {
	for {
		item, ok := c.queue.Pull()
		if !ok {
			return errTerminated
		}

		var payload string
		switch v := item.(type) {
		case string:
			payload = v

		case routing.EventLock:
			payload = fragmentLock(v.Output, v.Owner, c.uuid)
		}

		c.nconn.SetWriteDeadline(time.Now().Add(videohubConnWriteTimeout)) //nolint:errcheck
		_, err := c.nconn.Write([]byte(payload))
		if err != nil {
			return err
		}
	}
}

func (c *videohubConn) runReader() error {
	br := bufio.NewReader(c.nconn)

	var header string
	var body []string
	inBlock := false

	for {
		// no length limit on purpose: an oversized garbage line is
		// skipped by the parser like any other malformed line,
		// it must not terminate the session.
		line, err := br.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		if !inBlock {
			if strings.HasSuffix(line, ":") {
				header = line
				body = nil
				inBlock = true
			}
			// anything outside a block is noise
			continue
		}

		if line != "" {
			body = append(body, line)
			continue
		}

		c.handleBlock(header, body)
		inBlock = false
	}
}

// handleBlock applies one command block. Each body line is applied
// independently: malformed lines, out-of-range indices and lock
// conflicts are skipped without terminating the session. There is no
// acknowledgment; clients observe the effect through broadcasts.
func (c *videohubConn) handleBlock(header string, body []string) {
	if c.safeState() == videohubConnStateGreeting {
		c.setState(videohubConnStateEstablished)
	}

	switch header {
	case "PING:":
		// keepalive, nothing to do

	case "VIDEO OUTPUT ROUTING:":
		for _, line := range body {
			output, input, ok := parseIndexPair(line)
			if !ok {
				continue
			}
			c.table.Assign(output, input, c.uuid) //nolint:errcheck
		}

	case "VIDEO OUTPUT LOCKS:":
		for _, line := range body {
			output, state, ok := parseIndexText(line)
			if !ok {
				continue
			}

			switch state {
			case lockCharOwned:
				c.table.Lock(output, c.uuid) //nolint:errcheck
			case lockCharUnlocked:
				c.table.Unlock(output, c.uuid) //nolint:errcheck
			case lockCharForce:
				c.table.ForceUnlock(output) //nolint:errcheck
			}
		}

	case "OUTPUT LABELS:":
		for _, line := range body {
			output, label, ok := parseIndexText(line)
			if !ok || label == "" {
				continue
			}
			c.table.SetOutputLabel(output, label) //nolint:errcheck
		}

	case "INPUT LABELS:":
		for _, line := range body {
			input, label, ok := parseIndexText(line)
			if !ok || label == "" {
				continue
			}
			c.registry.SetLabel(input, label) //nolint:errcheck
		}

	default:
		c.log(logger.Debug, "ignoring unknown block '%s'", header)
	}
}

func parseIndexPair(line string) (int, int, bool) {
	a, rest, ok := parseIndexText(line)
	if !ok {
		return 0, 0, false
	}

	b, err := strconv.Atoi(rest)
	if err != nil {
		return 0, 0, false
	}

	return a, b, true
}

func parseIndexText(line string) (int, string, bool) {
	parts := strings.SplitN(line, " ", 2)
	if len(parts) != 2 {
		return 0, "", false
	}

	i, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, "", false
	}

	return i, parts[1], true
}

// enqueueDump pushes a full state dump onto the outbound queue.
func (c *videohubConn) enqueueDump() {
	inputs := c.registry.Snapshot()
	_, outputs := c.table.Snapshot()

	var b strings.Builder
	b.WriteString(blockPreamble())
	b.WriteString(blockDevice(c.deviceName, len(inputs), len(outputs)))
	b.WriteString(blockInputLabels(inputs))
	b.WriteString(blockOutputLabels(outputs))
	b.WriteString(blockLocks(outputs, c.uuid))
	b.WriteString(blockRouting(outputs))

	c.enqueue(b.String())
}

// enqueue pushes an item onto the outbound queue. On overflow the
// session is disconnected rather than stalling the broadcaster.
func (c *videohubConn) enqueue(item interface{}) {
	ok := c.queue.Push(item)
	if !ok {
		c.log(logger.Warn, "write queue is full, closing session")
		c.ctxCancel()
	}
}
