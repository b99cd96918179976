package core

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/moschopsuk/ndi-router/internal/logger"
	"github.com/moschopsuk/ndi-router/internal/routing"
)

var errTerminated = errors.New("terminated")

// errSessionNotFound is returned when a session id is unknown.
var errSessionNotFound = errors.New("session not found")

type videohubServerParent interface {
	Log(logger.Level, string, ...interface{})
}

type apiVideohubSession struct {
	ID         uuid.UUID `json:"id"`
	RemoteAddr string    `json:"remoteAddr"`
	Created    time.Time `json:"created"`
}

type videohubServerAPISessionsListReq struct {
	res chan videohubServerAPISessionsListRes
}

type videohubServerAPISessionsListRes struct {
	sessions []apiVideohubSession
	err      error
}

type videohubServerAPISessionsKickReq struct {
	id  uuid.UUID
	res chan videohubServerAPISessionsKickRes
}

type videohubServerAPISessionsKickRes struct {
	err error
}

// videohubServer accepts control connections and fans table and registry
// events out to every session, including the one that originated a change.
type videohubServer struct {
	deviceName string
	queueSize  int
	table      *routing.Table
	registry   *routing.Registry
	parent     videohubServerParent

	ctx       context.Context
	ctxCancel func()
	wg        sync.WaitGroup
	l         net.Listener
	conns     map[*videohubConn]struct{}

	// in
	chConnClose       chan *videohubConn
	chAPISessionsList chan videohubServerAPISessionsListReq
	chAPISessionsKick chan videohubServerAPISessionsKickReq
}

func newVideohubServer(
	parentCtx context.Context,
	address string,
	deviceName string,
	queueSize int,
	table *routing.Table,
	registry *routing.Registry,
	parent videohubServerParent,
) (*videohubServer, error) {
	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, err
	}

	ctx, ctxCancel := context.WithCancel(parentCtx)

	s := &videohubServer{
		deviceName:        deviceName,
		queueSize:         queueSize,
		table:             table,
		registry:          registry,
		parent:            parent,
		ctx:               ctx,
		ctxCancel:         ctxCancel,
		l:                 l,
		conns:             make(map[*videohubConn]struct{}),
		chConnClose:       make(chan *videohubConn),
		chAPISessionsList: make(chan videohubServerAPISessionsListReq),
		chAPISessionsKick: make(chan videohubServerAPISessionsKickReq),
	}

	s.Log(logger.Info, "listener opened on %s", address)

	s.wg.Add(1)
	go s.run()

	return s, nil
}

func (s *videohubServer) Log(level logger.Level, format string, args ...interface{}) {
	s.parent.Log(level, "[videohub] "+format, args...)
}

// log implements videohubConnParent.
func (s *videohubServer) log(level logger.Level, format string, args ...interface{}) {
	s.Log(level, format, args...)
}

func (s *videohubServer) close() {
	s.ctxCancel()
	s.wg.Wait()
}

func (s *videohubServer) run() {
	defer s.wg.Done()

	s.wg.Add(1)
	connNew := make(chan net.Conn)
	acceptErr := make(chan error)
	go func() {
		defer s.wg.Done()
		err := func() error {
			for {
				conn, err := s.l.Accept()
				if err != nil {
					return err
				}

				select {
				case connNew <- conn:
				case <-s.ctx.Done():
					conn.Close()
				}
			}
		}()

		select {
		case acceptErr <- err:
		case <-s.ctx.Done():
		}
	}()

	tableSub := s.table.Subscribe(s.queueSize)
	registrySub := s.registry.Subscribe(s.queueSize)

outer:
	for {
		select {
		case err := <-acceptErr:
			s.Log(logger.Warn, "ERR: %s", err)
			break outer

		case nconn := <-connNew:
			c := newVideohubConn(
				s.ctx,
				s.deviceName,
				s.queueSize,
				s.table,
				s.registry,
				&s.wg,
				nconn,
				s)
			s.conns[c] = struct{}{}

		case c := <-s.chConnClose:
			delete(s.conns, c)

		case req := <-s.chAPISessionsList:
			sessions := make([]apiVideohubSession, 0, len(s.conns))
			for c := range s.conns {
				sessions = append(sessions, apiVideohubSession{
					ID:         c.uuid,
					RemoteAddr: c.remoteAddr().String(),
					Created:    c.created,
				})
			}
			req.res <- videohubServerAPISessionsListRes{sessions: sessions}

		case req := <-s.chAPISessionsKick:
			res := videohubServerAPISessionsKickRes{err: errSessionNotFound}
			for c := range s.conns {
				if c.uuid == req.id {
					c.close()
					res.err = nil
					break
				}
			}
			req.res <- res

		case ev, ok := <-tableSub.C:
			if !ok {
				// the broadcaster fell behind; resync every session
				// with a fresh dump from the current generation.
				tableSub = s.table.Subscribe(s.queueSize)
				s.redumpAll()
				continue
			}
			s.handleTableEvent(ev)

		case ev, ok := <-registrySub.C:
			if !ok {
				registrySub = s.registry.Subscribe(s.queueSize)
				s.redumpAll()
				continue
			}
			s.handleRegistryEvent(ev)

		case <-s.ctx.Done():
			break outer
		}
	}

	s.ctxCancel()

	s.l.Close()
	s.table.Unsubscribe(tableSub)
	s.registry.Unsubscribe(registrySub)

	for c := range s.conns {
		c.close()
	}
}

func (s *videohubServer) handleTableEvent(ev routing.Event) {
	switch v := ev.(type) {
	case routing.EventRouting:
		if v.Input == routing.Unrouted {
			// clears have no wire representation
			return
		}
		s.broadcast(fragmentRouting(v.Output, v.Input))

	case routing.EventLock:
		// owned/locked depends on the observer; every session
		// renders the fragment itself.
		for c := range s.conns {
			c.enqueue(v)
		}

	case routing.EventOutputLabel:
		s.broadcast(fragmentOutputLabel(v.Output, v.Label))
	}
}

func (s *videohubServer) handleRegistryEvent(ev routing.Event) {
	switch v := ev.(type) {
	case routing.EventInputLabel:
		s.broadcast(fragmentInputLabel(v.Input, v.Label))
	}
}

// broadcast formats a change once and enqueues it onto every session.
func (s *videohubServer) broadcast(fragment string) {
	for c := range s.conns {
		c.enqueue(fragment)
	}
}

func (s *videohubServer) redumpAll() {
	for c := range s.conns {
		c.enqueueDump()
	}
}

// connClose implements videohubConnParent.
func (s *videohubServer) connClose(c *videohubConn) {
	select {
	case s.chConnClose <- c:
	case <-s.ctx.Done():
	}
}

// onAPISessionsList is called by api and metrics.
func (s *videohubServer) onAPISessionsList(req videohubServerAPISessionsListReq) videohubServerAPISessionsListRes {
	req.res = make(chan videohubServerAPISessionsListRes)
	select {
	case s.chAPISessionsList <- req:
		return <-req.res

	case <-s.ctx.Done():
		return videohubServerAPISessionsListRes{err: errTerminated}
	}
}

// onAPISessionsKick is called by api.
func (s *videohubServer) onAPISessionsKick(req videohubServerAPISessionsKickReq) videohubServerAPISessionsKickRes {
	req.res = make(chan videohubServerAPISessionsKickRes)
	select {
	case s.chAPISessionsKick <- req:
		return <-req.res

	case <-s.ctx.Done():
		return videohubServerAPISessionsKickRes{err: errTerminated}
	}
}
