// Command pgwire-demo runs a minimal Postgres wire-protocol server backed
// by an in-memory parser/compiler pair that only understands a single
// literal SELECT shape, enough to exercise the whole protocol core end to
// end with psql or any Postgres client library.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	wire "github.com/akiban/pgwire"
	"github.com/akiban/pgwire/types"
	"github.com/lib/pq/oid"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	srv, err := wire.NewServer(
		demoSessionFactory{},
		wire.Logger(logger),
		wire.ExtendTypes(types.RegisterNumeric),
	)
	if err != nil {
		log.Fatal(err)
	}

	logger.Info("pgwire demo server listening", slog.String("addr", "127.0.0.1:5432"))
	if err := srv.ListenAndServe("127.0.0.1:5432"); err != nil {
		log.Fatal(err)
	}
}

// demoSessionFactory hands every connection the same stateless parser and
// compiler; a real embedder would build a session-scoped catalog here.
type demoSessionFactory struct{}

func (demoSessionFactory) NewSession(ctx context.Context, database, username string) (wire.Session, wire.Parser, wire.Compiler, error) {
	return demoSession{database: database, username: username}, demoParser{}, demoCompiler{}, nil
}

type demoSession struct {
	database string
	username string
}

// demoNode wraps the literal integer a "SELECT <n>" statement asked for.
type demoNode struct {
	value int64
}

func (demoNode) IsSelect() bool { return true }

// demoParser recognizes exactly one statement shape: "SELECT <integer>".
// Anything else is rejected with a syntax error, matching this core's
// narrow supported SQL surface.
type demoParser struct{}

func (demoParser) Parse(ctx context.Context, sql string) ([]wire.StatementNode, error) {
	trimmed := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(sql), ";"))
	upper := strings.ToUpper(trimmed)

	if !strings.HasPrefix(upper, "SELECT ") {
		return nil, errUnsupportedStatement(sql)
	}

	value, err := strconv.ParseInt(strings.TrimSpace(trimmed[len("SELECT "):]), 10, 64)
	if err != nil {
		return nil, errUnsupportedStatement(sql)
	}

	return []wire.StatementNode{demoNode{value: value}}, nil
}

func errUnsupportedStatement(sql string) error {
	return &unsupportedStatementError{sql: sql}
}

type unsupportedStatementError struct{ sql string }

func (e *unsupportedStatementError) Error() string {
	return "pgwire-demo: only \"SELECT <integer>\" is understood, got: " + e.sql
}

// demoCompiler compiles a demoNode into a demoStatement that always returns
// a single row with a single "int8" column carrying the literal value.
type demoCompiler struct{}

func (demoCompiler) Compile(ctx context.Context, node wire.StatementNode, paramOIDs []oid.Oid) (wire.Statement, error) {
	n, ok := node.(demoNode)
	if !ok {
		return nil, errUnsupportedStatement("")
	}

	return demoStatement{value: n.value}, nil
}

type demoStatement struct {
	value int64
}

func (s demoStatement) Columns() wire.Columns {
	return wire.Columns{
		{Name: "?column?", Oid: oid.T_int8, Width: 8, Format: wire.TextFormat},
	}
}

func (s demoStatement) Execute(ctx context.Context, session wire.Session, w wire.DataWriter, maxRows int) (int, error) {
	if maxRows == 0 {
		return 0, nil
	}

	if err := w.Row([]any{s.value}); err != nil {
		return 0, err
	}

	return 1, nil
}

func (s demoStatement) Bind(ctx context.Context, params []wire.Parameter, resultFormats []wire.FormatCode, defaultBinary bool) (wire.Statement, error) {
	return s, nil
}
