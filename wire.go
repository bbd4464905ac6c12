// Package wire implements a Postgres v3 frontend/backend wire-protocol
// server. It accepts TCP connections from Postgres clients (psql, JDBC,
// libpq), negotiates the startup/authentication handshake, and services
// both the simple query and the extended query (parse/bind/describe/
// execute/close/sync) sub-protocols against SQL parsing, compilation, and
// execution collaborators supplied by the embedding application.
package wire

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgtype"
)

// ErrServerClosed indicates that the given server has been closed.
var ErrServerClosed = errors.New("pgwire: server closed")

// ListenAndServe opens a new Postgres server on the given address using a
// default configuration. Convenience wrapper around NewServer for simple
// use cases and tests.
func ListenAndServe(address string, factory SessionFactory, options ...OptionFn) error {
	srv, err := NewServer(factory, options...)
	if err != nil {
		return err
	}

	return srv.ListenAndServe(address)
}

// NewServer constructs a new Postgres server using the given session
// factory and options.
func NewServer(factory SessionFactory, options ...OptionFn) (*Server, error) {
	if factory == nil {
		return nil, errors.New("pgwire: a SessionFactory is required")
	}

	srv := &Server{
		logger:          slog.Default(),
		Factory:         factory,
		BufferedMsgSize: 0,
		connections:     make(map[int32]*Connection),
		closer:          make(chan struct{}),
	}

	for _, option := range options {
		option(srv)
	}

	return srv, nil
}

// Server listens for Postgres client connections and dispatches each
// accepted connection to its own goroutine and its own Connection state
// machine.
type Server struct {
	logger          *slog.Logger
	Factory         SessionFactory
	Auth            AuthStrategy
	BackendKeyData  BackendKeyDataFunc
	BufferedMsgSize int
	typeExtender    func(*pgtype.ConnInfo)

	closer      chan struct{}
	closeMu     sync.Mutex
	closed      bool
	nextPID     atomic.Int32
	mu          sync.Mutex
	connections map[int32]*Connection
}

// ListenAndServe opens a listener on the given address and starts accepting
// connections.
func (srv *Server) ListenAndServe(address string) error {
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}

	return srv.Serve(listener)
}

// Serve accepts and serves incoming Postgres client connections using the
// given listener until the server is closed.
func (srv *Server) Serve(listener net.Listener) error {
	defer listener.Close()
	defer srv.logger.Info("closing server")

	srv.logger.Info("serving incoming connections", slog.String("addr", listener.Addr().String()))

	for {
		select {
		case <-srv.closer:
			return ErrServerClosed
		default:
		}

		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-srv.closer:
				return ErrServerClosed
			default:
				return err
			}
		}

		go func() {
			ctx := context.Background()
			if err := srv.serve(ctx, conn); err != nil && !errors.Is(err, io.EOF) {
				srv.logger.Error("connection terminated with an error", slog.Any("error", err))
			}
		}()
	}
}

// Close gracefully closes the server: the listener stops accepting new
// connections and every live connection is asked to stop.
func (srv *Server) Close() error {
	srv.closeMu.Lock()
	defer srv.closeMu.Unlock()

	if srv.closed {
		return nil
	}
	srv.closed = true
	close(srv.closer)

	srv.mu.Lock()
	conns := make([]*Connection, 0, len(srv.connections))
	for _, c := range srv.connections {
		conns = append(conns, c)
	}
	srv.mu.Unlock()

	for _, c := range conns {
		c.stop()
	}

	return nil
}

// allocate reserves a new unique pid and an unpredictable secret, and
// registers the given connection under that pid.
func (srv *Server) allocate(conn *Connection) (pid, secret int32) {
	if srv.BackendKeyData != nil {
		pid, secret = srv.BackendKeyData(context.Background())
	} else {
		pid = srv.nextPID.Add(1)
		secret = randomInt32()
	}

	srv.mu.Lock()
	srv.connections[pid] = conn
	srv.mu.Unlock()

	return pid, secret
}

// getConnection returns the live connection registered under pid, or nil.
func (srv *Server) getConnection(pid int32) *Connection {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	return srv.connections[pid]
}

// removeConnection unregisters the connection with the given pid. Called
// exactly once, at the end of a connection's life.
func (srv *Server) removeConnection(pid int32) {
	srv.mu.Lock()
	defer srv.mu.Unlock()
	delete(srv.connections, pid)
}

// randomInt32 returns an unpredictable, non-zero int32 suitable for use as a
// cancellation secret.
func randomInt32() int32 {
	var buf [4]byte
	for {
		if _, err := rand.Read(buf[:]); err != nil {
			// crypto/rand failing is exceptional; fall back to a
			// time-derived value rather than panic the accept loop.
			return int32(uint32(time.Now().UnixNano()) | 1)
		}

		v := int32(binary.BigEndian.Uint32(buf[:]))
		if v != 0 {
			return v
		}
	}
}
