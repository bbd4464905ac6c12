package wire

import (
	"fmt"

	"github.com/jackc/pgtype"
)

// FormatCode represents the wire encoding format requested for a column.
type FormatCode int16

const (
	// TextFormat is the default, human-readable text encoding.
	TextFormat FormatCode = 0
	// BinaryFormat is the binary wire encoding.
	BinaryFormat FormatCode = 1
)

// encode renders value (already Set on the pgtype.Value for typed.Oid)
// using the format requested for this column, dispatching to the
// pgtype.TextEncoder/BinaryEncoder implemented by typed.Value.
func (format FormatCode) encode(ci *pgtype.ConnInfo, typed pgtype.DataType) ([]byte, error) {
	switch format {
	case BinaryFormat:
		enc, ok := typed.Value.(pgtype.BinaryEncoder)
		if !ok {
			return nil, fmt.Errorf("pgwire: %T has no binary encoding", typed.Value)
		}
		return enc.EncodeBinary(ci, nil)
	default:
		enc, ok := typed.Value.(pgtype.TextEncoder)
		if !ok {
			return nil, fmt.Errorf("pgwire: %T has no text encoding", typed.Value)
		}
		return enc.EncodeText(ci, nil)
	}
}
