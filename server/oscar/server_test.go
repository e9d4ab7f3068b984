package oscar

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ServeAndShutdown(t *testing.T) {
	handled := make(chan struct{}, 1)
	srv := NewServer("127.0.0.1:0", "test", func(ctx context.Context, conn net.Conn) {
		handled <- struct{}{}
		// hold the connection open until shutdown
		<-ctx.Done()
	}, testLogger())

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.ListenAndServe() }()

	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = srv.Addr()
		return addr != nil
	}, 5*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()

	select {
	case <-handled:
	case <-time.After(5 * time.Second):
		t.Fatal("connection never handled")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Shutdown(ctx))
	require.NoError(t, <-serveErr)

	// the connection was torn down with the server
	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, err = conn.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestServer_ShutdownTimeoutForcesClose(t *testing.T) {
	block := make(chan struct{})
	srv := NewServer("127.0.0.1:0", "test", func(ctx context.Context, conn net.Conn) {
		<-block // ignores shutdown on purpose
	}, testLogger())

	go srv.ListenAndServe()
	var addr net.Addr
	require.Eventually(t, func() bool {
		addr = srv.Addr()
		return addr != nil
	}, 5*time.Second, 10*time.Millisecond)

	conn, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	defer conn.Close()
	// let the handler pick the connection up
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = srv.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	close(block)
}
