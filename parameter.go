package wire

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// defaultTypeMap is shared by every connection for decoding bound
// parameters into Go values on behalf of Compiler/Statement
// implementations; it is stateless and safe for concurrent use.
var defaultTypeMap = pgtype.NewMap()

// DecodeParameter decodes a single text-encoded Bind parameter into a Go
// value appropriate for its OID, using pgx's type map. Binary parameters
// are never passed here: they are rejected by the dispatcher before a
// Parameter value is ever constructed (see command.go).
func DecodeParameter(p Parameter) (any, error) {
	if p.Value == nil {
		return nil, nil
	}

	t, ok := defaultTypeMap.TypeForOID(uint32(p.OID))
	if !ok {
		return string(p.Value), nil
	}

	return t.Codec.DecodeValue(defaultTypeMap, uint32(p.OID), pgtype.TextFormatCode, p.Value)
}
