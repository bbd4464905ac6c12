package wire

import (
	"context"
	"encoding/binary"
	"net"
	"testing"
	"time"

	"github.com/akiban/pgwire/mock"
	"github.com/akiban/pgwire/types"
	"github.com/lib/pq/oid"
	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"
)

// testNode is the only statement shape the fixtures below understand: it
// always reports itself as a SELECT so the dispatcher's cursor-node check
// passes.
type testNode struct {
	sql string
}

func (testNode) IsSelect() bool { return true }

// testStatement returns a single row containing a fixed int4 value; it
// exists purely to give the dispatch loop something to Execute and
// Describe against.
type testStatement struct{}

func (testStatement) Columns() Columns {
	return Columns{{Name: "one", Oid: oid.T_int4, Width: 4, Format: TextFormat}}
}

func (testStatement) Execute(ctx context.Context, session Session, w DataWriter, maxRows int) (int, error) {
	if maxRows == 0 {
		return 0, nil
	}

	if err := w.Row([]any{int32(1)}); err != nil {
		return 0, err
	}

	return 1, nil
}

func (s testStatement) Bind(ctx context.Context, params []Parameter, resultFormats []FormatCode, defaultBinary bool) (Statement, error) {
	return s, nil
}

type testParser struct {
	// rejectSQL, if non-empty, causes Parse to fail for any input equal to it.
	rejectSQL string
}

func (p testParser) Parse(ctx context.Context, sql string) ([]StatementNode, error) {
	if p.rejectSQL != "" && sql == p.rejectSQL {
		return nil, errTestParse
	}

	return []StatementNode{testNode{sql: sql}}, nil
}

var errTestParse = &testParseError{}

type testParseError struct{}

func (*testParseError) Error() string { return "syntax error" }

type testCompiler struct{}

func (testCompiler) Compile(ctx context.Context, node StatementNode, paramOIDs []oid.Oid) (Statement, error) {
	return testStatement{}, nil
}

type testFactory struct {
	parser testParser
}

func (f testFactory) NewSession(ctx context.Context, database, username string) (Session, Parser, Compiler, error) {
	return nil, f.parser, testCompiler{}, nil
}

// startTestServer launches a Server on a loopback port and returns its
// address; the server is closed automatically at test cleanup.
func startTestServer(t *testing.T, factory SessionFactory, opts ...OptionFn) string {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	options := append([]OptionFn{Logger(slogt.New(t))}, opts...)
	srv, err := NewServer(factory, options...)
	require.NoError(t, err)

	go srv.Serve(listener)
	t.Cleanup(func() { srv.Close() })

	return listener.Addr().String()
}

// dialAndHandshake connects to addr and drives it through startup,
// cleartext authentication, and the initial ReadyForQuery.
func dialAndHandshake(t *testing.T, addr string) *mock.Client {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client := mock.NewClient(t, conn)
	client.Handshake(t, map[string]string{
		"user":            "alice",
		"database":        "test",
		"client_encoding": "UNICODE",
	})
	client.Authenticate(t, "any-password-is-accepted")
	client.ReadyForQuery(t)

	return client
}

func TestStartupAndAuthentication(t *testing.T) {
	addr := startTestServer(t, testFactory{})
	dialAndHandshake(t, addr)
}

func TestSimpleQuerySelect(t *testing.T) {
	addr := startTestServer(t, testFactory{})
	client := dialAndHandshake(t, addr)

	client.Writer.Start(types.ServerMessage(types.ClientSimpleQuery))
	client.Writer.AddString("SELECT 1")
	client.Writer.AddNullTerminate()
	require.NoError(t, client.Writer.End())

	typed, _, err := client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerRowDescription, types.ServerMessage(typed))

	typed, _, err = client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerDataRow, types.ServerMessage(typed))

	typed, _, err = client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerCommandComplete, types.ServerMessage(typed))

	client.ReadyForQuery(t)
}

func TestODBCProbeShortCircuits(t *testing.T) {
	addr := startTestServer(t, testFactory{})
	client := dialAndHandshake(t, addr)

	client.Writer.Start(types.ServerMessage(types.ClientSimpleQuery))
	client.Writer.AddString(odbcProbeQuery)
	client.Writer.AddNullTerminate()
	require.NoError(t, client.Writer.End())

	typed, _, err := client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerCommandComplete, types.ServerMessage(typed))

	client.ReadyForQuery(t)
}

func TestEmptySimpleQuery(t *testing.T) {
	addr := startTestServer(t, testFactory{})
	client := dialAndHandshake(t, addr)

	client.Writer.Start(types.ServerMessage(types.ClientSimpleQuery))
	client.Writer.AddString("   ")
	client.Writer.AddNullTerminate()
	require.NoError(t, client.Writer.End())

	typed, _, err := client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerEmptyQuery, types.ServerMessage(typed))

	client.ReadyForQuery(t)
}

func TestExtendedHappyPath(t *testing.T) {
	addr := startTestServer(t, testFactory{})
	client := dialAndHandshake(t, addr)

	// Parse
	client.Writer.Start(types.ServerMessage(types.ClientParse))
	client.Writer.AddString("")
	client.Writer.AddNullTerminate()
	client.Writer.AddString("SELECT 1")
	client.Writer.AddNullTerminate()
	client.Writer.AddInt16(0)
	require.NoError(t, client.Writer.End())

	typed, _, err := client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerParseComplete, types.ServerMessage(typed))

	// Bind
	client.Writer.Start(types.ServerMessage(types.ClientBind))
	client.Writer.AddString("")
	client.Writer.AddNullTerminate()
	client.Writer.AddString("")
	client.Writer.AddNullTerminate()
	client.Writer.AddInt16(0)
	client.Writer.AddInt16(0)
	client.Writer.AddInt16(0)
	require.NoError(t, client.Writer.End())

	typed, _, err = client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerBindComplete, types.ServerMessage(typed))

	// Describe (portal)
	client.Writer.Start(types.ServerMessage(types.ClientDescribe))
	client.Writer.AddByte(byte(types.DescribePortal))
	client.Writer.AddString("")
	client.Writer.AddNullTerminate()
	require.NoError(t, client.Writer.End())

	typed, _, err = client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerRowDescription, types.ServerMessage(typed))

	// Execute
	client.Writer.Start(types.ServerMessage(types.ClientExecute))
	client.Writer.AddString("")
	client.Writer.AddNullTerminate()
	client.Writer.AddInt32(0)
	require.NoError(t, client.Writer.End())

	typed, _, err = client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerDataRow, types.ServerMessage(typed))

	typed, _, err = client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerCommandComplete, types.ServerMessage(typed))

	// Sync
	client.Writer.Start(types.ServerMessage(types.ClientSync))
	require.NoError(t, client.Writer.End())

	client.ReadyForQuery(t)
}

func TestExtendedErrorSkipsUntilSync(t *testing.T) {
	addr := startTestServer(t, testFactory{parser: testParser{rejectSQL: "NOT SQL"}})
	client := dialAndHandshake(t, addr)

	client.Writer.Start(types.ServerMessage(types.ClientParse))
	client.Writer.AddString("")
	client.Writer.AddNullTerminate()
	client.Writer.AddString("NOT SQL")
	client.Writer.AddNullTerminate()
	client.Writer.AddInt16(0)
	require.NoError(t, client.Writer.End())

	client.Error(t)

	// This Describe should be discarded silently: no response is expected
	// for it before Sync.
	client.Writer.Start(types.ServerMessage(types.ClientDescribe))
	client.Writer.AddByte(byte(types.DescribeStatement))
	client.Writer.AddString("")
	client.Writer.AddNullTerminate()
	require.NoError(t, client.Writer.End())

	client.Writer.Start(types.ServerMessage(types.ClientSync))
	require.NoError(t, client.Writer.End())

	client.ReadyForQuery(t)
}

func TestBinaryParameterRejected(t *testing.T) {
	addr := startTestServer(t, testFactory{})
	client := dialAndHandshake(t, addr)

	client.Writer.Start(types.ServerMessage(types.ClientParse))
	client.Writer.AddString("")
	client.Writer.AddNullTerminate()
	client.Writer.AddString("SELECT $1")
	client.Writer.AddNullTerminate()
	client.Writer.AddInt16(1)
	client.Writer.AddInt32(int32(oid.T_int4))
	require.NoError(t, client.Writer.End())

	typed, _, err := client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerParseComplete, types.ServerMessage(typed))

	client.Writer.Start(types.ServerMessage(types.ClientBind))
	client.Writer.AddString("")
	client.Writer.AddNullTerminate()
	client.Writer.AddString("")
	client.Writer.AddNullTerminate()
	client.Writer.AddInt16(1) // one param format code
	client.Writer.AddInt16(int16(BinaryFormat))
	client.Writer.AddInt16(1) // one param value
	client.Writer.AddInt32(4)
	client.Writer.AddBytes([]byte{0, 0, 0, 1})
	client.Writer.AddInt16(0)
	require.NoError(t, client.Writer.End())

	client.Error(t)

	client.Writer.Start(types.ServerMessage(types.ClientSync))
	require.NoError(t, client.Writer.End())

	client.ReadyForQuery(t)
}

func TestCloseAbsentNameIsNoop(t *testing.T) {
	addr := startTestServer(t, testFactory{})
	client := dialAndHandshake(t, addr)

	client.Writer.Start(types.ServerMessage(types.ClientClose))
	client.Writer.AddByte(byte(types.DescribeStatement))
	client.Writer.AddString("does-not-exist")
	client.Writer.AddNullTerminate()
	require.NoError(t, client.Writer.End())

	typed, _, err := client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerCloseComplete, types.ServerMessage(typed))
}

// dialAndCaptureKeyData behaves like dialAndHandshake but also returns the
// backend pid/secret pair the server assigned the connection.
func dialAndCaptureKeyData(t *testing.T, addr string) (client *mock.Client, pid, secret int32) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	client = mock.NewClient(t, conn)
	client.Handshake(t, map[string]string{
		"user":            "alice",
		"database":        "test",
		"client_encoding": "UNICODE",
	})
	client.Authenticate(t, "any-password-is-accepted")

	for {
		typed, _, err := client.Reader.ReadTypedMsg()
		require.NoError(t, err)

		switch types.ServerMessage(typed) {
		case types.ServerParameterStatus:
			continue
		case types.ServerBackendKeyData:
			pid, err = client.Reader.GetInt32()
			require.NoError(t, err)
			secret, err = client.Reader.GetInt32()
			require.NoError(t, err)
		case types.ServerReady:
			_, err := client.Reader.GetBytes(1)
			require.NoError(t, err)
			return client, pid, secret
		default:
			t.Fatalf("unexpected message type %v while awaiting backend key data", typed)
		}
	}
}

// sendCancelRequest dials a fresh connection and sends the untyped
// CancelRequest frame: a length-prefixed (version, pid, secret) triple with
// no leading message-type byte.
func sendCancelRequest(t *testing.T, addr string, pid, secret int32) {
	t.Helper()

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	payload := make([]byte, 16)
	binary.BigEndian.PutUint32(payload[0:4], 16)
	binary.BigEndian.PutUint32(payload[4:8], uint32(types.VersionCancel))
	binary.BigEndian.PutUint32(payload[8:12], uint32(pid))
	binary.BigEndian.PutUint32(payload[12:16], uint32(secret))

	_, err = conn.Write(payload)
	require.NoError(t, err)
}

func TestCancelRequestInterruptsQuery(t *testing.T) {
	addr := startTestServer(t, blockingFactory{release: make(chan struct{})})

	client, pid, secret := dialAndCaptureKeyData(t, addr)

	client.Writer.Start(types.ServerMessage(types.ClientSimpleQuery))
	client.Writer.AddString("SELECT 1")
	client.Writer.AddNullTerminate()
	require.NoError(t, client.Writer.End())

	go func() {
		time.Sleep(50 * time.Millisecond)
		sendCancelRequest(t, addr, pid, secret)
	}()

	typed, _, err := client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerRowDescription, types.ServerMessage(typed))

	client.Error(t)
	client.ReadyForQuery(t)
}

func TestCancelRequestWrongSecretIsIgnored(t *testing.T) {
	release := make(chan struct{})
	addr := startTestServer(t, blockingFactory{release: release})

	client, pid, _ := dialAndCaptureKeyData(t, addr)

	client.Writer.Start(types.ServerMessage(types.ClientSimpleQuery))
	client.Writer.AddString("SELECT 1")
	client.Writer.AddNullTerminate()
	require.NoError(t, client.Writer.End())

	const wrongSecret int32 = -1
	sendCancelRequest(t, addr, pid, wrongSecret)

	// The mismatched cancel must not affect this connection; releasing the
	// blocking gate is what allows the query to finish normally.
	close(release)

	typed, _, err := client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerRowDescription, types.ServerMessage(typed))

	typed, _, err = client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerDataRow, types.ServerMessage(typed))

	typed, _, err = client.Reader.ReadTypedMsg()
	require.NoError(t, err)
	require.Equal(t, types.ServerCommandComplete, types.ServerMessage(typed))

	client.ReadyForQuery(t)
}

// blockingFactory hands out a statement whose Execute polls the
// connection's cancel flag instead of returning immediately, so
// cancellation timing can be exercised deterministically.
type blockingFactory struct {
	release chan struct{}
}

func (f blockingFactory) NewSession(ctx context.Context, database, username string) (Session, Parser, Compiler, error) {
	return nil, testParser{}, blockingCompiler{release: f.release}, nil
}

type blockingCompiler struct {
	release chan struct{}
}

func (c blockingCompiler) Compile(ctx context.Context, node StatementNode, paramOIDs []oid.Oid) (Statement, error) {
	return blockingStatement{release: c.release}, nil
}

type blockingStatement struct {
	release chan struct{}
}

func (blockingStatement) Columns() Columns {
	return Columns{{Name: "one", Oid: oid.T_int4, Width: 4, Format: TextFormat}}
}

func (s blockingStatement) Execute(ctx context.Context, session Session, w DataWriter, maxRows int) (int, error) {
	conn := ConnectionFromContext(ctx)
	if conn == nil {
		return 0, nil
	}

	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-s.release:
			if err := w.Row([]any{int32(1)}); err != nil {
				return 0, err
			}
			return 1, nil
		case <-ticker.C:
			if err := conn.checkCancel(); err != nil {
				return 0, err
			}
		}
	}
}

func (s blockingStatement) Bind(ctx context.Context, params []Parameter, resultFormats []FormatCode, defaultBinary bool) (Statement, error) {
	return s, nil
}
