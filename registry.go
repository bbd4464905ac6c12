package wire

import "github.com/lib/pq/oid"

// preparedStatement is a compiled query registered under a name by a Parse
// frame. It records the parameter OIDs the client hinted at Parse time so
// Bind can attach them to the parameter values it reads.
type preparedStatement struct {
	stmt   Statement
	params []Parameter
}

// boundPortal is a preparedStatement with parameters and result formats
// applied via Bind, ready for Execute.
type boundPortal struct {
	stmt Statement
}

// setPreparedStatement registers stmt under name, replacing any statement
// previously registered under the same name. name == "" addresses the
// unnamed statement.
func (c *Connection) setPreparedStatement(name string, stmt Statement, paramOIDs []oid.Oid) {
	c.preparedStatements[name] = &preparedStatement{stmt: stmt, params: paramsFromOIDs(paramOIDs)}
}

// getPreparedStatement looks up a prepared statement by name.
func (c *Connection) getPreparedStatement(name string) (*preparedStatement, bool) {
	p, ok := c.preparedStatements[name]
	return p, ok
}

// closePreparedStatement removes a prepared statement by name. Absent names
// are a silent no-op, per invariant 4 of the data model.
func (c *Connection) closePreparedStatement(name string) {
	delete(c.preparedStatements, name)
}

// setPortal registers a bound portal under name, replacing any portal
// previously registered under the same name.
func (c *Connection) setPortal(name string, stmt Statement) {
	c.boundPortals[name] = &boundPortal{stmt: stmt}
}

// getPortal looks up a bound portal by name.
func (c *Connection) getPortal(name string) (*boundPortal, bool) {
	p, ok := c.boundPortals[name]
	return p, ok
}

// closePortal removes a portal by name. Absent names are a silent no-op.
func (c *Connection) closePortal(name string) {
	delete(c.boundPortals, name)
}

func paramsFromOIDs(oids []oid.Oid) []Parameter {
	if len(oids) == 0 {
		return nil
	}

	params := make([]Parameter, len(oids))
	for i, o := range oids {
		params[i] = Parameter{OID: o}
	}

	return params
}
