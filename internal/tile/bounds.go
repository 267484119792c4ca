package tile

import (
	"math"

	"github.com/samber/lo"
)

// Bounds is an inclusive row/column range at one level.
type Bounds struct {
	Level  int
	MinRow int
	MaxRow int
	MinCol int
	MaxCol int
}

// Cols returns the number of columns in the bounds.
func (b Bounds) Cols() int {
	return b.MaxCol - b.MinCol + 1
}

// Rows returns the number of rows in the bounds.
func (b Bounds) Rows() int {
	return b.MaxRow - b.MinRow + 1
}

// Addresses lists the addresses in the bounds, row by row from the south,
// west to east within a row.
func (b Bounds) Addresses() []Address {
	if b.Rows() <= 0 || b.Cols() <= 0 {
		return nil
	}
	return lo.FlatMap(lo.RangeFrom(b.MinRow, b.Rows()), func(row int, _ int) []Address {
		return lo.Map(lo.RangeFrom(b.MinCol, b.Cols()), func(col int, _ int) Address {
			return Address{Level: b.Level, Row: row, Column: col}
		})
	})
}

// ComputeRow returns the row containing a latitude for a tile delta.
func ComputeRow(delta, lat float64) int {
	return int(math.Floor((lat + 90) / delta))
}

// ComputeColumn returns the column containing a longitude for a tile delta.
func ComputeColumn(delta, lon float64) int {
	return int(math.Floor((lon + 180) / delta))
}

// lastIndex maps the upper edge of a range to the last cell it covers. An
// edge lying exactly on a grid line belongs to the cell below it so that
// adjacent ranges never overlap.
func lastIndex(delta, origin, maxEdge float64, first int) int {
	idx := int(math.Floor((maxEdge - origin) / delta))
	if idx > first && origin+float64(idx)*delta == maxEdge {
		idx--
	}
	return idx
}
