package wire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/akiban/pgwire/codes"
	pgerror "github.com/akiban/pgwire/errors"
	"github.com/akiban/pgwire/types"
	"github.com/lib/pq/oid"
)

// odbcProbeQuery is the fixed probe string ODBC drivers send to discover
// the large-object pseudo-type; recognizing it lets the dispatcher answer
// without a real parse/compile round trip.
const odbcProbeQuery = `select oid, typbasetype from pg_type where typname = 'lo'`

// dispatchLoop reads and handles frames until the connection is closed,
// implementing the Idle/SimpleQuery/ExtendedQuery/SkipUntilSync states of
// the state machine described in the component design.
func (c *Connection) dispatchLoop(ctx context.Context) error {
	for {
		// A cancellation observed before the read is raised in place of the
		// frame read next, under that frame's error mode.
		canceled := c.checkCancel()

		t, _, err := c.reader.ReadTypedMsg()
		if err != nil {
			return err
		}

		if c.ignoreUntilSync {
			if t == types.ClientSync {
				c.ignoreUntilSync = false
				if err := readyForQuery(c.writer, types.ServerIdle); err != nil {
					return err
				}
			}

			continue
		}

		if canceled != nil {
			stop, err := c.handleQueryError(errorModeFor(t), canceled)
			if stop || err != nil {
				return err
			}

			continue
		}

		stop, err := c.handleFrame(ctx, t)
		if stop || errors.Is(err, io.EOF) {
			return err
		}

		if err != nil {
			return err
		}
	}
}

// handleFrame dispatches a single typed frame and applies the error-mode
// rule: a query-level error raised by a handler is caught here and turned
// into an ErrorResponse, rather than tearing the connection down, provided
// the frame's error mode is Simple or Extended.
func (c *Connection) handleFrame(ctx context.Context, t types.ClientMessage) (stop bool, err error) {
	mode := errorModeFor(t)

	switch t {
	case types.ClientSimpleQuery:
		err = c.handleSimpleQuery(ctx)
	case types.ClientParse:
		err = c.handleParse(ctx)
	case types.ClientBind:
		err = c.handleBind(ctx)
	case types.ClientDescribe:
		err = c.handleDescribe(ctx)
	case types.ClientExecute:
		err = c.handleExecute(ctx)
	case types.ClientClose:
		err = c.handleClose(ctx)
	case types.ClientSync:
		err = readyForQuery(c.writer, types.ServerIdle)
	case types.ClientTerminate:
		return true, io.EOF
	default:
		return true, NewErrUnimplementedMessageType(t)
	}

	if err == nil {
		return false, nil
	}

	return c.handleQueryError(mode, err)
}

// errorModeFor returns the error mode a frame's handler runs under, per the
// dispatch table in the component design.
func errorModeFor(t types.ClientMessage) errorMode {
	switch t {
	case types.ClientSimpleQuery:
		return errorModeSimple
	case types.ClientParse, types.ClientBind, types.ClientDescribe, types.ClientExecute:
		return errorModeExtended
	default:
		return errorModeNone
	}
}

// handleQueryError writes the ErrorResponse frame for a handler-raised
// error and reacts according to the frame's error mode. The ErrorResponse
// frame itself carries only severity and message (see ErrorCode); the
// richer diagnostic fields a decorated error may carry (detail, hint,
// constraint name) are logged server-side instead of sent to the client.
func (c *Connection) handleQueryError(mode errorMode, cause error) (stop bool, err error) {
	desc := pgerror.Flatten(cause)
	c.logger.Debug("query error",
		slog.String("code", string(desc.Code)),
		slog.String("message", desc.Message),
		slog.String("detail", desc.Detail),
		slog.String("hint", desc.Hint),
		slog.String("constraint", desc.ConstraintName))

	if werr := ErrorCode(c.writer, cause); werr != nil {
		return true, werr
	}

	switch mode {
	case errorModeSimple:
		return false, readyForQuery(c.writer, types.ServerIdle)
	case errorModeExtended:
		c.ignoreUntilSync = true
		return false, nil
	default:
		return true, cause
	}
}

// handleSimpleQuery implements the `Q` simple-query sub-protocol.
func (c *Connection) handleSimpleQuery(ctx context.Context) error {
	query, err := c.reader.GetString()
	if err != nil {
		return err
	}

	c.logger.Debug("simple query", slog.String("sql", query))

	if strings.TrimSpace(query) == "" {
		c.writer.Start(types.ServerEmptyQuery)
		if err := c.writer.End(); err != nil {
			return err
		}

		return readyForQuery(c.writer, types.ServerIdle)
	}

	if strings.TrimSpace(query) == odbcProbeQuery {
		if err := writeCommandComplete(c.writer, "SELECT"); err != nil {
			return err
		}

		return readyForQuery(c.writer, types.ServerIdle)
	}

	if c.parser == nil {
		return errors.New("pgwire: no parser configured for this session")
	}

	nodes, err := c.parser.Parse(ctx, query)
	if err != nil {
		return err
	}

	for _, node := range nodes {
		if !node.IsSelect() {
			return errNotASelect
		}

		stmt, err := c.compiler.Compile(ctx, node, nil)
		if err != nil {
			return err
		}

		w := NewDataWriter(ctx, c.writer)
		if err := w.Define(stmt.Columns()); err != nil {
			return err
		}

		n, err := stmt.Execute(ctx, c.session, w, -1)
		if err != nil {
			return err
		}

		c.logger.Debug("simple query executed", slog.Int("rows", n))

		if err := w.Complete("SELECT"); err != nil {
			return err
		}
	}

	return readyForQuery(c.writer, types.ServerIdle)
}

// errNotASelect is raised when a simple-query statement is not a cursor
// (SELECT) node; this core only executes result-returning statements. The
// message text is preserved verbatim to match observed source behavior.
var errNotASelect = pgerror.WithHint(
	pgerror.WithSeverity(pgerror.WithCode(errors.New("Not a SELECT"), codes.FeatureNotSupported), pgerror.LevelError),
	"only SELECT-shaped statements can be executed through this protocol core",
)

// handleParse implements the `P` parse message.
func (c *Connection) handleParse(ctx context.Context) error {
	name, err := c.reader.GetString()
	if err != nil {
		return err
	}

	query, err := c.reader.GetString()
	if err != nil {
		return err
	}

	nparams, err := c.reader.GetUint16()
	if err != nil {
		return err
	}

	oids := make([]oid.Oid, nparams)
	for i := range oids {
		v, err := c.reader.GetUint32()
		if err != nil {
			return err
		}

		oids[i] = oid.Oid(v)
	}

	if c.parser == nil {
		return errors.New("pgwire: no parser configured for this session")
	}

	nodes, err := c.parser.Parse(ctx, query)
	if err != nil {
		return err
	}

	if len(nodes) != 1 {
		return errors.New("pgwire: Parse requires exactly one statement")
	}

	if !nodes[0].IsSelect() {
		return errNotASelect
	}

	stmt, err := c.compiler.Compile(ctx, nodes[0], oids)
	if err != nil {
		return err
	}

	c.setPreparedStatement(name, stmt, oids)

	c.writer.Start(types.ServerParseComplete)
	return c.writer.End()
}

// handleBind implements the `B` bind message.
func (c *Connection) handleBind(ctx context.Context) error {
	portalName, err := c.reader.GetString()
	if err != nil {
		return err
	}

	stmtName, err := c.reader.GetString()
	if err != nil {
		return err
	}

	paramFormats, err := c.readFormatCodes()
	if err != nil {
		return err
	}

	nparams, err := c.reader.GetUint16()
	if err != nil {
		return err
	}

	params := make([]Parameter, nparams)
	for i := range params {
		format := paramFormatAt(paramFormats, i)

		length, err := c.reader.GetInt32()
		if err != nil {
			return err
		}

		value, err := c.reader.GetBytes(int(length))
		if err != nil {
			return err
		}

		if length >= 0 && format == BinaryFormat {
			return errBinaryParameter
		}

		params[i] = Parameter{Value: value}
	}

	resultFormats, err := c.readFormatCodes()
	if err != nil {
		return err
	}

	entry, ok := c.getPreparedStatement(stmtName)
	if !ok {
		return NewErrUnkownStatement(stmtName)
	}

	defaultBinary := defaultBinaryFormat(resultFormats)

	for i, p := range params {
		if p.OID == 0 && i < len(entry.params) {
			params[i].OID = entry.params[i].OID
		}
	}

	portal, err := entry.stmt.Bind(ctx, params, resultFormats, defaultBinary)
	if err != nil {
		return err
	}

	c.setPortal(portalName, portal)

	c.writer.Start(types.ServerBindComplete)
	return c.writer.End()
}

// errBinaryParameter is raised when a Bind parameter is presented in the
// binary wire format; this core only decodes text parameters. The message
// text is preserved verbatim to match observed source behavior.
var errBinaryParameter = pgerror.WithHint(
	pgerror.WithSeverity(pgerror.WithCode(errors.New("Don't know how to parse binary format."), codes.FeatureNotSupported), pgerror.LevelError),
	"send this parameter in the text wire format instead",
)

// readFormatCodes reads a Postgres format-code array as sent in Bind: a
// uint16 count followed by that many int16 format codes.
func (c *Connection) readFormatCodes() ([]FormatCode, error) {
	n, err := c.reader.GetUint16()
	if err != nil {
		return nil, err
	}

	codes := make([]FormatCode, n)
	for i := range codes {
		v, err := c.reader.GetUint16()
		if err != nil {
			return nil, err
		}

		codes[i] = FormatCode(v)
	}

	return codes, nil
}

// paramFormatAt resolves the format code for parameter i per Bind's rule:
// zero entries means all-text, one entry applies to every parameter, and
// otherwise entries are indexed positionally.
func paramFormatAt(formats []FormatCode, i int) FormatCode {
	switch len(formats) {
	case 0:
		return TextFormat
	case 1:
		return formats[0]
	default:
		return formats[i]
	}
}

// defaultBinaryFormat derives the format applied to result columns beyond
// the end of an explicit result-format array: when more than one format
// code is sent, the last entry is the default for the remaining columns.
func defaultBinaryFormat(formats []FormatCode) bool {
	return len(formats) > 0 && formats[len(formats)-1] == BinaryFormat
}

// handleDescribe implements the `D` describe message.
func (c *Connection) handleDescribe(ctx context.Context) error {
	source, err := c.reader.GetByte()
	if err != nil {
		return err
	}

	name, err := c.reader.GetString()
	if err != nil {
		return err
	}

	var columns Columns

	switch types.DescribeMessage(source) {
	case types.DescribeStatement:
		entry, ok := c.getPreparedStatement(name)
		if !ok {
			return NewErrUnkownStatement(name)
		}
		columns = entry.stmt.Columns()
	case types.DescribePortal:
		entry, ok := c.getPortal(name)
		if !ok {
			return NewErrUnkownStatement(name)
		}
		columns = entry.stmt.Columns()
	default:
		return errors.New("pgwire: unknown describe source")
	}

	return columns.Define(ctx, c.writer)
}

// handleExecute implements the `E` execute message.
func (c *Connection) handleExecute(ctx context.Context) error {
	name, err := c.reader.GetString()
	if err != nil {
		return err
	}

	maxRows, err := c.reader.GetUint32()
	if err != nil {
		return err
	}

	entry, ok := c.getPortal(name)
	if !ok {
		return NewErrUnkownStatement(name)
	}

	limit := int(maxRows)
	if limit == 0 {
		limit = -1
	}

	// The portal's RowDescription is sent by Describe, not here, so the
	// writer starts with the portal's columns already defined.
	w := &dataWriter{ctx: ctx, client: c.writer, columns: entry.stmt.Columns(), defined: true}
	if _, err := entry.stmt.Execute(ctx, c.session, w, limit); err != nil {
		return err
	}

	return writeCommandComplete(c.writer, "SELECT")
}

// handleClose implements the `C` close message.
func (c *Connection) handleClose(ctx context.Context) error {
	source, err := c.reader.GetByte()
	if err != nil {
		return err
	}

	name, err := c.reader.GetString()
	if err != nil {
		return err
	}

	switch types.DescribeMessage(source) {
	case types.DescribeStatement:
		c.closePreparedStatement(name)
	case types.DescribePortal:
		c.closePortal(name)
	default:
		return errors.New("pgwire: unknown close source")
	}

	c.writer.Start(types.ServerCloseComplete)
	return c.writer.End()
}

// NewErrUnkownStatement is returned when Describe/Bind/Execute reference a
// statement or portal name with no registered entry.
func NewErrUnkownStatement(name string) error {
	err := fmt.Errorf("unknown statement or portal: %q", name)
	return pgerror.WithDetail(
		pgerror.WithSeverity(pgerror.WithCode(err, codes.InvalidPreparedStatementDefinition), pgerror.LevelError),
		"the name was never registered by Parse/Bind on this connection, or was since closed",
	)
}
