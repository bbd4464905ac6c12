package wire

import (
	"fmt"

	"github.com/akiban/pgwire/buffer"
	"github.com/akiban/pgwire/codes"
	pgerror "github.com/akiban/pgwire/errors"
	"github.com/akiban/pgwire/types"
)

// errFieldType represents a single field tag inside an ErrorResponse frame.
// http://www.postgresql.org/docs/current/static/protocol-error-fields.html
type errFieldType byte

const (
	errFieldSeverity   errFieldType = 'S'
	errFieldMsgPrimary errFieldType = 'M'
)

// ErrorCode writes an ErrorResponse frame for err. Only the severity (S) and
// message (M) fields are emitted; no SQLSTATE (C) field is written, matching
// the observed behavior of the system this protocol core fronts (see
// DESIGN.md for the open-question decision).
func ErrorCode(writer *buffer.Writer, err error) error {
	desc := pgerror.Flatten(err)

	writer.Start(types.ServerErrorResponse)

	writer.AddByte(byte(errFieldSeverity))
	writer.AddString(string(desc.Severity))
	writer.AddNullTerminate()

	writer.AddByte(byte(errFieldMsgPrimary))
	writer.AddString(desc.Message)
	writer.AddNullTerminate()

	writer.AddNullTerminate()
	return writer.End()
}

// NewErrUnimplementedMessageType is raised when a client sends a frame type
// this core does not implement.
func NewErrUnimplementedMessageType(t types.ClientMessage) error {
	err := fmt.Errorf("unimplemented client message type: %s", t)
	return pgerror.WithSeverity(pgerror.WithCode(err, codes.ConnectionDoesNotExist), pgerror.LevelFatal)
}

// writeCommandComplete writes a CommandComplete frame carrying the given
// command tag (e.g. "SELECT").
func writeCommandComplete(writer *buffer.Writer, description string) error {
	writer.Start(types.ServerCommandComplete)
	writer.AddString(description)
	writer.AddNullTerminate()
	return writer.End()
}
