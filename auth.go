package wire

import (
	"context"

	"github.com/akiban/pgwire/buffer"
	"github.com/akiban/pgwire/types"
)

// authType represents the manner in which a client is able to authenticate.
type authType int32

const (
	// authOK indicates that the connection has been authenticated and the
	// client is allowed to proceed.
	authOK authType = 0
	// authClearTextPassword tells the client to identify itself by sending
	// the password in clear text to the server.
	authClearTextPassword authType = 3
)

// AuthStrategy negotiates authentication for a newly started connection.
type AuthStrategy func(ctx context.Context, writer *buffer.Writer, reader *buffer.Reader) (context.Context, error)

// BackendKeyDataFunc generates the (pid, secret) pair announced to a client
// as backend key data, later presented back on a CancelRequest.
type BackendKeyDataFunc func(ctx context.Context) (processID int32, secretKey int32)

// handleAuth negotiates the connection's authentication strategy. Password
// is never validated, matching the source system's own observable
// behavior: any client presenting AuthenticationCleartextPassword is
// accepted regardless of what it sends.
func (srv *Server) handleAuth(ctx context.Context, reader *buffer.Reader, writer *buffer.Writer) (context.Context, error) {
	if srv.Auth != nil {
		return srv.Auth(ctx, writer, reader)
	}

	return ClearTextPassword(ctx, writer, reader)
}

// ClearTextPassword announces AuthenticationCleartextPassword, reads the
// password the client sends back, and unconditionally accepts it.
func ClearTextPassword(ctx context.Context, writer *buffer.Writer, reader *buffer.Reader) (context.Context, error) {
	if err := writeAuthType(writer, authClearTextPassword); err != nil {
		return ctx, err
	}

	t, _, err := reader.ReadTypedMsg()
	if err != nil {
		return ctx, err
	}

	if t != types.ClientPassword {
		return ctx, NewErrUnimplementedMessageType(t)
	}

	// the password itself is intentionally discarded: this core accepts any
	// password, matching observable source behavior.
	if _, err := reader.GetString(); err != nil {
		return ctx, err
	}

	return ctx, writeAuthType(writer, authOK)
}

// writeAuthType writes the auth type to the client informing the client about the
// authentication status and the expected data to be received.
func writeAuthType(writer *buffer.Writer, status authType) error {
	writer.Start(types.ServerAuth)
	writer.AddInt32(int32(status))
	return writer.End()
}

// writeBackendKeyData writes the backend key data to the client. This message contains
// cancellation key data that the frontend must save if it wishes to be able to issue
// CancelRequest messages later.
func writeBackendKeyData(writer *buffer.Writer, processID int32, secretKey int32) error {
	writer.Start(types.ServerBackendKeyData)
	writer.AddInt32(processID)
	writer.AddInt32(secretKey)
	return writer.End()
}

// AuthenticatedUsername returns the username presented during startup for
// the given connection context.
func AuthenticatedUsername(ctx context.Context) string {
	return ClientParameters(ctx)[ParamUsername]
}
