package wire

import (
	"context"
	"log/slog"

	"github.com/akiban/pgwire/buffer"
	"github.com/akiban/pgwire/types"
)

// readVersion reads the leading untyped frame of a new connection and
// returns the version/request code carried in its first four bytes: a
// protocol version, VersionCancel, or VersionSSLRequest.
func (c *Connection) readVersion() (types.Version, error) {
	if _, err := c.reader.ReadUntypedMsg(); err != nil {
		return 0, err
	}

	v, err := c.reader.GetUint32()
	if err != nil {
		return 0, err
	}

	return types.Version(v), nil
}

// rejectSSL politely refuses a client's SSLRequest by responding with a
// single 'N' byte, per the Non-goal of not negotiating TLS, and then reads
// the frame the client sends next (ordinarily a plain startup message).
func (c *Connection) rejectSSL() (types.Version, error) {
	if _, err := c.conn.Write(sslUnsupported); err != nil {
		return 0, err
	}

	return c.readVersion()
}

// handleStartup reads the startup message's key/value properties, applies
// client_encoding, and constructs the connection's session, parser, and
// compiler via the server's SessionFactory using the database property.
func (c *Connection) handleStartup(ctx context.Context) (context.Context, error) {
	params := make(Parameters)

	for {
		key, err := c.reader.GetString()
		if err != nil {
			return ctx, err
		}

		if len(key) == 0 {
			break
		}

		value, err := c.reader.GetString()
		if err != nil {
			return ctx, err
		}

		params[ParameterStatus(key)] = value
	}

	encoding := c.reader.SetEncoding(params[ParamClientEncoding])
	c.writer.SetEncoding(params[ParamClientEncoding])
	params[ParamClientEncoding] = encoding

	c.logger.Debug("startup properties",
		slog.String("user", params[ParamUsername]),
		slog.String("database", params[ParamDatabase]),
		slog.String("client_encoding", encoding))

	session, parser, compiler, err := c.srv.Factory.NewSession(ctx, params[ParamDatabase], params[ParamUsername])
	if err != nil {
		return ctx, err
	}

	c.session = session
	c.parser = parser
	c.compiler = compiler

	return setClientParameters(ctx, params), nil
}

// serverVersion is reported verbatim to match the observable behavior of
// the system this protocol core fronts.
const serverVersion = "8.4.7"

// writeParameters writes the fixed set of ParameterStatus messages the
// source announces after authentication succeeds: client_encoding,
// server_encoding, server_version, and session_authorization, in that
// order. A client_encoding entry in overrides replaces the value taken from
// the client's startup parameters.
func (srv *Server) writeParameters(ctx context.Context, writer *buffer.Writer, overrides Parameters) (context.Context, error) {
	clientEncoding := "UTF8"
	if clientParams := ClientParameters(ctx); clientParams != nil {
		if v, ok := clientParams[ParamClientEncoding]; ok {
			clientEncoding = v
		}
	}

	if overrides != nil {
		if v, ok := overrides[ParamClientEncoding]; ok {
			clientEncoding = v
		}
	}

	params := Parameters{
		ParamClientEncoding:       clientEncoding,
		ParamServerEncoding:       writer.GetEncoding(),
		ParamServerVersion:        serverVersion,
		ParamSessionAuthorization: AuthenticatedUsername(ctx),
	}

	ordered := []ParameterStatus{ParamClientEncoding, ParamServerEncoding, ParamServerVersion, ParamSessionAuthorization}

	for _, key := range ordered {
		writer.Start(types.ServerParameterStatus)
		writer.AddString(string(key))
		writer.AddNullTerminate()
		writer.AddString(params[key])
		writer.AddNullTerminate()
		if err := writer.End(); err != nil {
			return ctx, err
		}
	}

	return setServerParameters(ctx, params), nil
}

// readyForQuery indicates that the server is ready to receive queries.
// The given server status is included inside the message to indicate the server status.
func readyForQuery(writer *buffer.Writer, status types.ServerStatus) error {
	writer.Start(types.ServerReady)
	writer.AddByte(byte(status))
	return writer.End()
}
