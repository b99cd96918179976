package core

import (
	"context"
	"io"
	"net"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/moschopsuk/ndi-router/internal/logger"
	"github.com/moschopsuk/ndi-router/internal/routing"
)

type testConnParent struct {
	closed chan *videohubConn
}

func (p *testConnParent) log(_ logger.Level, _ string, _ ...interface{}) {}

func (p *testConnParent) connClose(c *videohubConn) {
	p.closed <- c
}

func TestConnOverflowDisconnects(t *testing.T) {
	table := routing.NewTable(8, 8)
	defer table.Close()
	registry := routing.NewRegistry(8)
	defer registry.Close()

	var wg sync.WaitGroup
	parent := &testConnParent{closed: make(chan *videohubConn, 2)}

	// the slow client never reads, so the write loop blocks on the
	// greeting and the queue backs up behind it.
	slowRemote, slowLocal := net.Pipe()
	defer slowLocal.Close()
	slow := newVideohubConn(context.Background(), "test", 2, table, registry, &wg, slowRemote, parent)

	require.NoError(t, table.Lock(1, slow.uuid))

	// the fast client drains everything it is sent.
	fastRemote, fastLocal := net.Pipe()
	defer fastLocal.Close()
	fast := newVideohubConn(context.Background(), "test", 128, table, registry, &wg, fastRemote, parent)
	go io.Copy(io.Discard, fastLocal) //nolint:errcheck

	// broadcast a burst of changes onto both sessions
	for i := 0; i < 8; i++ {
		frag := fragmentRouting(0, i)
		slow.enqueue(frag)
		fast.enqueue(frag)
	}

	// only the slow session is torn down, and its locks are released
	// before the teardown completes.
	c := <-parent.closed
	require.Equal(t, slow, c)

	_, outputs := table.Snapshot()
	require.Equal(t, uuid.Nil, outputs[1].LockOwner)

	select {
	case <-fast.ctx.Done():
		t.Error("fast session was disconnected")
	default:
	}

	fast.close()
	wg.Wait()
}
