package wire

import (
	"context"
	"errors"

	"github.com/akiban/pgwire/buffer"
	"github.com/akiban/pgwire/types"
)

// DataWriter is the interface a Statement uses to stream its result set
// back to the client: column headers once, then zero or more data rows,
// then exactly one of Empty or Complete.
type DataWriter interface {
	// Define writes the RowDescription frame. Must be called at most once,
	// before any call to Row.
	Define(Columns) error
	// Row writes a single DataRow frame. len(values) must equal the column
	// count passed to Define. A nil entry encodes SQL NULL.
	Row(values []interface{}) error
	// Empty announces that the statement produced no rows and none should
	// be expected; closes the writer.
	Empty() error
	// Complete announces that the statement finished successfully; closes
	// the writer. description is the command tag (e.g. "SELECT").
	Complete(description string) error
}

// ErrColumnsDefined is returned by Define when columns were already defined.
var ErrColumnsDefined = errors.New("pgwire: columns have already been defined")

// ErrUndefinedColumns is returned by Row when Define has not been called.
var ErrUndefinedColumns = errors.New("pgwire: columns have not been defined")

// ErrClosedWriter is returned by any method called after the writer has
// been closed by Empty or Complete.
var ErrClosedWriter = errors.New("pgwire: writer is closed")

// NewDataWriter constructs a DataWriter that writes frames directly to the
// given buffer.Writer.
func NewDataWriter(ctx context.Context, writer *buffer.Writer) DataWriter {
	return &dataWriter{ctx: ctx, client: writer}
}

type dataWriter struct {
	columns Columns
	defined bool
	ctx     context.Context
	client  *buffer.Writer
	closed  bool
}

func (w *dataWriter) Define(columns Columns) error {
	if w.closed {
		return ErrClosedWriter
	}

	if w.defined {
		return ErrColumnsDefined
	}

	w.columns = columns
	w.defined = true
	return w.columns.Define(w.ctx, w.client)
}

func (w *dataWriter) Row(values []interface{}) error {
	if w.closed {
		return ErrClosedWriter
	}

	if !w.defined {
		return ErrUndefinedColumns
	}

	return w.columns.Write(w.ctx, w.client, values)
}

func (w *dataWriter) Empty() error {
	if w.closed {
		return ErrClosedWriter
	}

	defer w.close()

	w.client.Start(types.ServerEmptyQuery)
	return w.client.End()
}

func (w *dataWriter) Complete(description string) error {
	if w.closed {
		return ErrClosedWriter
	}

	defer w.close()
	return writeCommandComplete(w.client, description)
}

func (w *dataWriter) close() {
	w.closed = true
}
