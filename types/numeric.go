package types

import (
	"github.com/jackc/pgtype"
	shopspring "github.com/jackc/pgtype/ext/shopspring-numeric"
	"github.com/shopspring/decimal"
)

// RegisterNumeric registers Postgres's NUMERIC type against
// github.com/shopspring/decimal.Decimal, so Column values of oid.T_numeric
// can be set directly from a decimal.Decimal. Intended for use with
// wire.ExtendTypes:
//
//	srv, err := wire.NewServer(factory, wire.ExtendTypes(types.RegisterNumeric))
func RegisterNumeric(info *pgtype.ConnInfo) {
	info.RegisterDataType(pgtype.DataType{
		Value: &shopspring.Numeric{},
		Name:  "numeric",
		OID:   pgtype.NumericOID,
	})
}

// ParseNumeric parses a NUMERIC literal into a decimal.Decimal, for
// Compiler/Statement implementations that produce NUMERIC column values
// from literal SQL text.
func ParseNumeric(literal string) (decimal.Decimal, error) {
	return decimal.NewFromString(literal)
}
