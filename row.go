package wire

import (
	"context"
	"errors"
	"fmt"

	"github.com/akiban/pgwire/buffer"
	"github.com/akiban/pgwire/types"
	"github.com/lib/pq/oid"
)

// Columns describes the result columns of a Statement, in order.
type Columns []Column

// Define writes the RowDescription frame for the given columns, or a NoData
// frame when there are none. Called before any DataRow frames for the same
// result set.
func (columns Columns) Define(ctx context.Context, writer *buffer.Writer) error {
	if len(columns) == 0 {
		writer.Start(types.ServerNoData)
		return writer.End()
	}

	writer.Start(types.ServerRowDescription)
	writer.AddInt16(int16(len(columns)))

	for _, column := range columns {
		column.define(writer)
	}

	return writer.End()
}

// Write encodes a single DataRow frame from srcs using this column set's
// type definitions and format codes.
func (columns Columns) Write(ctx context.Context, writer *buffer.Writer, srcs []interface{}) error {
	if len(srcs) != len(columns) {
		return fmt.Errorf("pgwire: %d columns defined but %d values given", len(columns), len(srcs))
	}

	writer.Start(types.ServerDataRow)
	writer.AddInt16(int16(len(columns)))

	for index, column := range columns {
		if err := column.write(ctx, writer, srcs[index]); err != nil {
			return err
		}
	}

	return writer.End()
}

// Column describes a single result column and its wire encoding.
// https://www.postgresql.org/docs/8.3/catalog-pg-attribute.html
type Column struct {
	Table        int32 // source table oid, 0 when not applicable
	Name         string
	AttrNo       int16
	Oid          oid.Oid
	Width        int16
	TypeModifier int32
	Format       FormatCode
}

func (column Column) define(writer *buffer.Writer) {
	writer.AddString(column.Name)
	writer.AddNullTerminate()
	writer.AddInt32(column.Table)
	writer.AddInt16(column.AttrNo)
	writer.AddInt32(int32(column.Oid))
	writer.AddInt16(column.Width)
	writer.AddInt32(column.TypeModifier)
	writer.AddInt16(int16(column.Format))
}

func (column Column) write(ctx context.Context, writer *buffer.Writer, src interface{}) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if src == nil {
		writer.AddInt32(-1)
		return nil
	}

	ci := TypeInfo(ctx)
	if ci == nil {
		return errors.New("pgwire: no type connection info set on context")
	}

	typed, has := ci.DataTypeForOID(uint32(column.Oid))
	if !has {
		return fmt.Errorf("pgwire: unknown data type oid: %d", column.Oid)
	}

	if err := typed.Value.Set(src); err != nil {
		return err
	}

	bb, err := column.Format.encode(ci, *typed)
	if err != nil {
		return err
	}

	writer.AddInt32(int32(len(bb)))
	writer.AddBytes(bb)
	return nil
}
