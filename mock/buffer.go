// Package mock provides small helpers for constructing Postgres wire
// protocol messages and driving a server end to end in tests, without
// pulling in a real client driver.
package mock

import (
	"bytes"
	"io"
	"testing"

	"github.com/akiban/pgwire/buffer"
	"github.com/akiban/pgwire/types"
	"github.com/neilotoole/slogt"
)

// NewWriter constructs a writer that logs through the test's t.Log.
func NewWriter(t *testing.T, writer io.Writer) *buffer.Writer {
	return buffer.NewWriter(slogt.New(t), writer)
}

// NewReader constructs a reader that logs through the test's t.Log.
func NewReader(t *testing.T, reader io.Reader) *buffer.Reader {
	return buffer.NewReader(slogt.New(t), reader, buffer.DefaultBufferSize)
}

// NewParseReader builds a buffer.Reader already positioned past the type
// byte of a Parse message with no parameter OID hints.
func NewParseReader(t *testing.T, name, query string) *buffer.Reader {
	t.Helper()

	out := &bytes.Buffer{}
	w := NewWriter(t, out)
	w.Start(types.ServerMessage(types.ClientParse))
	w.AddString(name)
	w.AddNullTerminate()
	w.AddString(query)
	w.AddNullTerminate()
	w.AddInt16(0)
	if err := w.End(); err != nil {
		t.Fatalf("failed to write parse message: %v", err)
	}

	r := NewReader(t, out)
	if _, _, err := r.ReadTypedMsg(); err != nil {
		t.Fatalf("failed to read parse message: %v", err)
	}

	return r
}

// NewBindReader builds a buffer.Reader positioned past the type byte of a
// Bind message with no parameters and all-default (text) result formats.
func NewBindReader(t *testing.T, portal, statement string) *buffer.Reader {
	t.Helper()

	out := &bytes.Buffer{}
	w := NewWriter(t, out)
	w.Start(types.ServerMessage(types.ClientBind))
	w.AddString(portal)
	w.AddNullTerminate()
	w.AddString(statement)
	w.AddNullTerminate()
	w.AddInt16(0) // param format codes
	w.AddInt16(0) // param values
	w.AddInt16(0) // result format codes
	if err := w.End(); err != nil {
		t.Fatalf("failed to write bind message: %v", err)
	}

	r := NewReader(t, out)
	if _, _, err := r.ReadTypedMsg(); err != nil {
		t.Fatalf("failed to read bind message: %v", err)
	}

	return r
}

// NewDescribeReader builds a buffer.Reader positioned past the type byte of
// a Describe message.
func NewDescribeReader(t *testing.T, source types.DescribeMessage, name string) *buffer.Reader {
	t.Helper()

	out := &bytes.Buffer{}
	w := NewWriter(t, out)
	w.Start(types.ServerMessage(types.ClientDescribe))
	w.AddByte(byte(source))
	w.AddString(name)
	w.AddNullTerminate()
	if err := w.End(); err != nil {
		t.Fatalf("failed to write describe message: %v", err)
	}

	r := NewReader(t, out)
	if _, _, err := r.ReadTypedMsg(); err != nil {
		t.Fatalf("failed to read describe message: %v", err)
	}

	return r
}

// NewExecuteReader builds a buffer.Reader positioned past the type byte of
// an Execute message.
func NewExecuteReader(t *testing.T, portal string, maxRows int32) *buffer.Reader {
	t.Helper()

	out := &bytes.Buffer{}
	w := NewWriter(t, out)
	w.Start(types.ServerMessage(types.ClientExecute))
	w.AddString(portal)
	w.AddNullTerminate()
	w.AddInt32(maxRows)
	if err := w.End(); err != nil {
		t.Fatalf("failed to write execute message: %v", err)
	}

	r := NewReader(t, out)
	if _, _, err := r.ReadTypedMsg(); err != nil {
		t.Fatalf("failed to read execute message: %v", err)
	}

	return r
}

// NewCloseReader builds a buffer.Reader positioned past the type byte of a
// Close message.
func NewCloseReader(t *testing.T, source types.DescribeMessage, name string) *buffer.Reader {
	t.Helper()

	out := &bytes.Buffer{}
	w := NewWriter(t, out)
	w.Start(types.ServerMessage(types.ClientClose))
	w.AddByte(byte(source))
	w.AddString(name)
	w.AddNullTerminate()
	if err := w.End(); err != nil {
		t.Fatalf("failed to write close message: %v", err)
	}

	r := NewReader(t, out)
	if _, _, err := r.ReadTypedMsg(); err != nil {
		t.Fatalf("failed to read close message: %v", err)
	}

	return r
}
