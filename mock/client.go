package mock

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/akiban/pgwire/buffer"
	"github.com/akiban/pgwire/types"
)

// NewClient wraps conn with the framing helpers needed to drive a server
// through its handshake, authentication, and query dispatch by hand.
func NewClient(t *testing.T, conn net.Conn) *Client {
	return &Client{
		conn:   conn,
		Writer: NewWriter(t, conn),
		Reader: NewReader(t, conn),
	}
}

// Client is a minimal hand-rolled Postgres frontend used to exercise a
// server without depending on a real driver.
type Client struct {
	conn net.Conn
	*buffer.Writer
	*buffer.Reader
}

// Handshake sends a startup message advertising protocol version 3.0 and
// the given startup properties (e.g. user, database, client_encoding).
func (c *Client) Handshake(t *testing.T, properties map[string]string) {
	t.Helper()

	version := make([]byte, 4)
	binary.BigEndian.PutUint32(version, uint32(types.Version30))

	nul := []byte{0}
	var params []byte
	for k, v := range properties {
		params = append(params, append([]byte(k), nul...)...)
		params = append(params, append([]byte(v), nul...)...)
	}
	params = append(params, nul...)

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(version)+len(params)+len(header)))

	if _, err := c.conn.Write(append(header, append(version, params...)...)); err != nil {
		t.Fatal(err)
	}
}

// Authenticate expects AuthenticationCleartextPassword, sends the given
// password, and expects AuthenticationOk in reply.
func (c *Client) Authenticate(t *testing.T, password string) {
	t.Helper()

	typed, _, err := c.Reader.ReadTypedMsg()
	if err != nil {
		t.Fatal(err)
	}

	if types.ServerMessage(typed) != types.ServerAuth {
		t.Fatalf("unexpected message type %v, expected auth", typed)
	}

	status, err := c.Reader.GetUint32()
	if err != nil {
		t.Fatal(err)
	}

	if status != 3 {
		t.Fatalf("unexpected auth status %d, expected cleartext password request", status)
	}

	c.Writer.Start(types.ServerMessage(types.ClientPassword))
	c.Writer.AddString(password)
	c.Writer.AddNullTerminate()
	if err := c.Writer.End(); err != nil {
		t.Fatal(err)
	}

	typed, _, err = c.Reader.ReadTypedMsg()
	if err != nil {
		t.Fatal(err)
	}

	if types.ServerMessage(typed) != types.ServerAuth {
		t.Fatalf("unexpected message type %v, expected auth", typed)
	}

	status, err = c.Reader.GetUint32()
	if err != nil {
		t.Fatal(err)
	}

	if status != 0 {
		t.Fatalf("unexpected auth status %d, expected auth ok", status)
	}
}

// ReadyForQuery consumes ParameterStatus/BackendKeyData messages until it
// reaches ReadyForQuery, and asserts the connection reports idle status.
func (c *Client) ReadyForQuery(t *testing.T) {
	t.Helper()

	for {
		typed, _, err := c.Reader.ReadTypedMsg()
		if err != nil {
			t.Fatal(err)
		}

		switch types.ServerMessage(typed) {
		case types.ServerParameterStatus, types.ServerBackendKeyData:
			continue
		case types.ServerReady:
			bb, err := c.Reader.GetBytes(1)
			if err != nil {
				t.Fatal(err)
			}

			if types.ServerStatus(bb[0]) != types.ServerIdle {
				t.Fatalf("unexpected ready for query status %v, expected idle", bb)
			}

			return
		default:
			t.Fatalf("unexpected message type %v while awaiting ready for query", typed)
		}
	}
}

// Error asserts that the next frame is an ErrorResponse.
func (c *Client) Error(t *testing.T) {
	t.Helper()

	typed, _, err := c.Reader.ReadTypedMsg()
	if err != nil {
		t.Fatal(err)
	}

	if types.ServerMessage(typed) != types.ServerErrorResponse {
		t.Fatalf("unexpected message type %v, expected error response", typed)
	}
}

// Close sends a Terminate frame and closes the underlying socket.
func (c *Client) Close(t *testing.T) {
	t.Helper()

	c.Writer.Start(types.ServerMessage(types.ClientTerminate))
	if err := c.Writer.End(); err != nil {
		t.Fatal(err)
	}

	c.conn.Close()
}
