package wire

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/akiban/pgwire/buffer"
	"github.com/akiban/pgwire/codes"
	pgerror "github.com/akiban/pgwire/errors"
	"github.com/akiban/pgwire/types"
	"github.com/jackc/pgtype"
)

// connState represents the coarse-grained state of a Connection's state
// machine. The extended sub-protocol's skip-until-sync recovery is modeled
// as a scratch bool (ignoreUntilSync), not as a distinct state, mirroring
// the source's own shape.
type connState int32

const (
	stateStartup connState = iota
	stateAuthenticating
	stateIdle
	stateClosed
)

// errorMode is computed fresh for every dispatched frame; it is never
// persisted on the Connection. It decides how the dispatcher reacts to a
// handler-raised error.
type errorMode int

const (
	errorModeNone errorMode = iota
	errorModeSimple
	errorModeExtended
)

// Connection represents a single accepted Postgres client socket and the
// state private to it: its framer, its prepared-statement and portal
// registries, and its session/parser/compiler triple. All of this state is
// owned exclusively by the goroutine running serve(); the only field
// touched from another goroutine is cancel.
type Connection struct {
	srv    *Server
	logger *slog.Logger
	conn   net.Conn
	reader *buffer.Reader
	writer *buffer.Writer

	pid    int32
	secret int32

	session  Session
	parser   Parser
	compiler Compiler

	preparedStatements map[string]*preparedStatement
	boundPortals       map[string]*boundPortal

	state           atomic.Int32
	ignoreUntilSync bool
	cancel          atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
}

// PID returns the backend process id presented to the client as backend key
// data; it is also the key used by CancelRequest lookups.
func (c *Connection) PID() int32 { return c.pid }

// RemoteAddr returns the remote network address of the underlying socket.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }

func (c *Connection) setState(s connState) { c.state.Store(int32(s)) }
func (c *Connection) getState() connState  { return connState(c.state.Load()) }

// requestCancel sets the advisory cancel flag; it is observed by the owning
// goroutine at the next frame boundary. This is the only method on
// Connection that is safe to call from another goroutine.
func (c *Connection) requestCancel() { c.cancel.Store(true) }

// checkCancel returns a QueryCanceled-shaped error and clears the flag if
// cancellation was requested since the last check.
func (c *Connection) checkCancel() error {
	if c.cancel.CompareAndSwap(true, false) {
		return errQueryCanceled
	}

	return nil
}

// errQueryCanceled is surfaced through the normal ErrorResponse path when a
// cancellation is observed at a frame boundary.
var errQueryCanceled = pgerror.WithCode(errors.New("query cancelled"), codes.QueryCanceled)

// stop closes the connection's socket to unblock any pending read and waits
// up to 500ms for the owning goroutine to notice and exit, mirroring the
// bounded Thread.join(500) of the source this protocol is modeled on. If the
// goroutine has not exited by then it is abandoned; it will unblock on the
// next I/O error regardless.
func (c *Connection) stop() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})

	select {
	case <-c.done:
	case <-time.After(500 * time.Millisecond):
	}
}

// serve drives one accepted connection through handshake, authentication,
// and the simple/extended query dispatch loop until it is closed.
func (srv *Server) serve(ctx context.Context, conn net.Conn) (err error) {
	logger := srv.logger

	c := &Connection{
		srv:                srv,
		logger:             logger,
		conn:               conn,
		preparedStatements: make(map[string]*preparedStatement),
		boundPortals:       make(map[string]*boundPortal),
		done:               make(chan struct{}),
	}
	c.pid, c.secret = srv.allocate(c)
	c.setState(stateStartup)

	ctx = setConnection(ctx, c)

	defer func() {
		srv.removeConnection(c.pid)
		conn.Close()
		close(c.done)
	}()

	c.reader = buffer.NewReader(logger, conn, srv.BufferedMsgSize)
	c.writer = buffer.NewWriter(logger, conn)

	version, err := c.readVersion()
	if err != nil {
		return err
	}

	switch version {
	case types.VersionCancel:
		return srv.handleCancelRequest(c.reader)
	case types.VersionSSLRequest:
		version, err = c.rejectSSL()
		if err != nil {
			return err
		}
	}

	if version != types.Version30 {
		return errors.New("pgwire: unsupported protocol version")
	}

	ctx, err = c.handleStartup(ctx)
	if err != nil {
		return err
	}

	ci := pgtype.NewConnInfo()
	if srv.typeExtender != nil {
		srv.typeExtender(ci)
	}
	ctx = setTypeInfo(ctx, ci)

	c.setState(stateAuthenticating)
	ctx, err = srv.handleAuth(ctx, c.reader, c.writer)
	if err != nil {
		return err
	}

	ctx, err = srv.writeParameters(ctx, c.writer, nil)
	if err != nil {
		return err
	}

	if err = writeBackendKeyData(c.writer, c.pid, c.secret); err != nil {
		return err
	}

	if err = readyForQuery(c.writer, types.ServerIdle); err != nil {
		return err
	}

	c.setState(stateIdle)
	logger.Info("connection ready", slog.Int("pid", int(c.pid)))

	err = c.dispatchLoop(ctx)
	c.setState(stateClosed)

	if errors.Is(err, io.EOF) {
		return nil
	}

	return err
}
