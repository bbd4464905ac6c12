package wire

import (
	"context"

	"github.com/lib/pq/oid"
)

// Session is an opaque handle to the query-execution context created for a
// connection at startup. Its shape is entirely owned by the embedding
// application; the protocol core only threads it through Statement.Execute.
type Session interface{}

// StatementNode is a single parsed statement out of a (possibly
// multi-statement) SQL string. IsSelect distinguishes cursor nodes, the
// only statement shape this core knows how to execute.
type StatementNode interface {
	IsSelect() bool
}

// Parser turns SQL text into zero or more parsed statement nodes.
type Parser interface {
	Parse(ctx context.Context, sql string) ([]StatementNode, error)
}

// Compiler compiles a single parsed statement node into an executable
// Statement. paramOIDs carries the client's type hints from a Parse frame
// (nil/empty when unspecified).
type Compiler interface {
	Compile(ctx context.Context, node StatementNode, paramOIDs []oid.Oid) (Statement, error)
}

// Statement is an opaque compiled query. It can describe its own result
// columns, execute against a session bounded by a row limit, and produce a
// bound portal (itself a Statement) from parameter values and result
// formats — collapsing the source's PreparedStatement/BoundPortal split
// into a single small interface.
type Statement interface {
	// Columns describes the result columns this statement produces.
	Columns() Columns
	// Execute runs the statement against session, writing rows to w. A
	// negative maxRows means unbounded; the dispatcher passes -1 both for
	// simple queries and for an Execute frame whose maxRows is 0. It returns
	// the number of rows written.
	Execute(ctx context.Context, session Session, w DataWriter, maxRows int) (int, error)
	// Bind produces a new Statement (a portal) with parameters and result
	// formats applied. defaultBinary is true when the last entry of
	// resultFormats is BinaryFormat (false when resultFormats is empty) and
	// applies to result columns beyond the end of resultFormats.
	Bind(ctx context.Context, params []Parameter, resultFormats []FormatCode, defaultBinary bool) (Statement, error)
}

// Parameter is a single Bind-time argument. A nil Value represents SQL
// NULL. Binary-encoded parameters are rejected before a Parameter is ever
// constructed (see command.go), so Value is always the text encoding.
type Parameter struct {
	Value []byte
	OID   oid.Oid
}

// TransactionService manages the transaction lifecycle bracketing statement
// execution. The dispatch loop in this package does not call it: every
// statement runs outside of an explicit transaction block, matching the
// source's autocommit behavior.
type TransactionService interface {
	Begin(ctx context.Context, session Session) error
	Commit(ctx context.Context, session Session) error
	Rollback(ctx context.Context, session Session) error
}

// SchemaProvider resolves catalog/schema information for a database name.
// The returned value is opaque to the protocol core; it exists purely as a
// collaborator seam for Parser/Compiler implementations.
type SchemaProvider interface {
	Schema(ctx context.Context, database string) (any, error)
}

// SessionFactory constructs the session, parser, and compiler for a newly
// started connection, given the database and username presented in its
// startup properties.
type SessionFactory interface {
	NewSession(ctx context.Context, database, username string) (Session, Parser, Compiler, error)
}
