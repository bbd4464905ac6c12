package wire

import "github.com/akiban/pgwire/buffer"

// handleCancelRequest reads the (pid, secret) pair carried by a
// CancelRequest frame and, if it matches a live connection, sets that
// connection's cancel flag. This is fire-and-forget: the requesting
// connection is always closed afterward regardless of whether a match was
// found, and no confirmation is ever sent back to it.
func (srv *Server) handleCancelRequest(reader *buffer.Reader) error {
	pid, err := reader.GetInt32()
	if err != nil {
		return err
	}

	secret, err := reader.GetInt32()
	if err != nil {
		return err
	}

	target := srv.getConnection(pid)
	if target != nil && target.secret == secret {
		target.requestCancel()
	}

	return nil
}
