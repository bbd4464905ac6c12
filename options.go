package wire

import (
	"log/slog"

	"github.com/jackc/pgtype"
)

// OptionFn is the functional options pattern used to configure a Server at
// construction time.
type OptionFn func(*Server)

// Logger overrides the structured logger used by the server and every
// connection it accepts. The default is slog.Default().
func Logger(logger *slog.Logger) OptionFn {
	return func(srv *Server) {
		srv.logger = logger
	}
}

// BufferedMsgSize overrides the maximum buffered message size (and initial
// buffer capacity) used by each connection's framer.
func BufferedMsgSize(size int) OptionFn {
	return func(srv *Server) {
		srv.BufferedMsgSize = size
	}
}

// Auth overrides the authentication strategy used to authenticate incoming
// connections. When unset, connections go through ClearTextPassword, which
// accepts any password.
func Auth(strategy AuthStrategy) OptionFn {
	return func(srv *Server) {
		srv.Auth = strategy
	}
}

// ExtendTypes registers additional Postgres data types (such as NUMERIC via
// github.com/shopspring/decimal) onto the pgtype.ConnInfo built for every
// connection. fn is called once per connection, against a fresh ConnInfo
// seeded with pgtype's built-in defaults.
func ExtendTypes(fn func(*pgtype.ConnInfo)) OptionFn {
	return func(srv *Server) {
		srv.typeExtender = fn
	}
}

// WithBackendKeyData overrides how (pid, secret) pairs are generated for
// backend key data. When unset the server's own monotonic pid counter and
// crypto/rand-derived secret are used.
func WithBackendKeyData(fn BackendKeyDataFunc) OptionFn {
	return func(srv *Server) {
		srv.BackendKeyData = fn
	}
}
